package db

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/pogodev/tokenbroker/internal/db/models"
	"gorm.io/gorm"
)

// Store is the persistence gateway over the accounts table. Every write is a
// lookup-then-insert-or-update on the (username, provider) key and touches only
// the columns the operation computed.
type Store struct {
	db *gorm.DB
}

// NewStore wraps an initialized gorm connection.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// GetAccount fetches the account row for (username, provider). Returns
// (nil, nil) when no row exists.
func (s *Store) GetAccount(username, provider string) (*models.Account, error) {
	var acc models.Account
	err := s.db.Where("username = ? AND provider = ?", username, provider).First(&acc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get account %s/%s: %w", username, provider, err)
	}
	return &acc, nil
}

// UpsertAccessToken writes a new access token and its expiry for the account,
// inserting the row if it does not exist yet.
func (s *Store) UpsertAccessToken(username, provider, token string, expiresAt int64) error {
	acc, err := s.GetAccount(username, provider)
	if err != nil {
		return err
	}
	if acc == nil {
		return s.create(&models.Account{
			Username:             username,
			Provider:             provider,
			AccessToken:          token,
			AccessTokenExpiresAt: expiresAt,
		})
	}
	err = s.db.Model(&models.Account{}).Where("id = ?", acc.ID).Updates(map[string]any{
		"access_token":            token,
		"access_token_expires_at": expiresAt,
	}).Error
	if err != nil {
		return fmt.Errorf("update access token %s/%s: %w", username, provider, err)
	}
	return nil
}

// UpsertRefreshToken writes a new refresh token and its refresh timestamp for
// the account, inserting the row if it does not exist yet.
func (s *Store) UpsertRefreshToken(username, provider, token string, refreshedAt int64) error {
	acc, err := s.GetAccount(username, provider)
	if err != nil {
		return err
	}
	if acc == nil {
		return s.create(&models.Account{
			Username:        username,
			Provider:        provider,
			RefreshToken:    token,
			LastRefreshedAt: refreshedAt,
		})
	}
	err = s.db.Model(&models.Account{}).Where("id = ?", acc.ID).Updates(map[string]any{
		"refresh_token":     token,
		"last_refreshed_at": refreshedAt,
	}).Error
	if err != nil {
		return fmt.Errorf("update refresh token %s/%s: %w", username, provider, err)
	}
	return nil
}

// ClearRefreshToken marks the account's refresh token as dead. The row is kept
// so the cached access token stays usable; a missing row is a no-op.
func (s *Store) ClearRefreshToken(username, provider string) error {
	err := s.db.Model(&models.Account{}).
		Where("username = ? AND provider = ?", username, provider).
		Updates(map[string]any{
			"refresh_token":     "",
			"last_refreshed_at": 0,
		}).Error
	if err != nil {
		return fmt.Errorf("clear refresh token %s/%s: %w", username, provider, err)
	}
	return nil
}

// ListStaleAccounts returns up to limit refreshable accounts ordered oldest
// refresh first. Accounts that never had a refresh token written and providers
// without a refresh flow are excluded.
func (s *Store) ListStaleAccounts(limit int) ([]models.Account, error) {
	var accounts []models.Account
	err := s.db.
		Where("last_refreshed_at != 0 AND provider != ?", models.ProviderNK).
		Order("last_refreshed_at ASC").
		Limit(limit).
		Find(&accounts).Error
	if err != nil {
		return nil, fmt.Errorf("list stale accounts: %w", err)
	}
	return accounts, nil
}

func (s *Store) create(acc *models.Account) error {
	acc.ID = uuid.NewString()
	if err := s.db.Create(acc).Error; err != nil {
		return fmt.Errorf("create account %s/%s: %w", acc.Username, acc.Provider, err)
	}
	return nil
}
