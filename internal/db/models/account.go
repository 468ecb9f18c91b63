package models

import "time"

// Provider identifiers for the supported identity systems.
const (
	ProviderPTC = "ptc"
	ProviderNK  = "nk"
)

// Account stores the cached credential set for one (username, provider) pair.
type Account struct {
	ID                   string `gorm:"primaryKey"` // UUID
	Username             string `gorm:"uniqueIndex:idx_username_provider"`
	Provider             string `gorm:"uniqueIndex:idx_username_provider"` // "ptc" or "nk"
	AccessToken          string
	AccessTokenExpiresAt int64  // unix seconds, 0 when no token
	RefreshToken         string // "" when revoked or never issued
	LastRefreshedAt      int64  // unix seconds of last refresh-token write, 0 when never
	CreatedAt            time.Time
	UpdatedAt            time.Time
}
