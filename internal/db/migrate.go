package db

import (
	"errors"
	"fmt"
	"log"

	"github.com/glebarez/sqlite"
	"github.com/pogodev/tokenbroker/internal/db/models"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SchemaVersion is a single-row table tracking which migrations have run.
type SchemaVersion struct {
	ID      uint `gorm:"primaryKey"`
	Version int
}

// migrations holds the ordered schema steps. Index i applies version i+1.
var migrations = []func(*gorm.DB) error{
	func(db *gorm.DB) error {
		return db.AutoMigrate(&models.Account{})
	},
}

// InitDB opens the SQLite database and brings the schema up to date. A failed
// migration is returned to the caller, which treats it as fatal.
func InitDB(dbPath string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dbPath, err)
	}
	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// CurrentVersion returns the applied schema version, 0 for a fresh database.
func CurrentVersion(db *gorm.DB) (int, error) {
	if err := db.AutoMigrate(&SchemaVersion{}); err != nil {
		return 0, fmt.Errorf("migrate schema_versions: %w", err)
	}
	var row SchemaVersion
	err := db.First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return row.Version, nil
}

// ApplyMigration runs migration step n and records it as the current version.
// Steps must be applied in order.
func ApplyMigration(db *gorm.DB, n int) error {
	if n < 1 || n > len(migrations) {
		return fmt.Errorf("unknown migration %d", n)
	}
	current, err := CurrentVersion(db)
	if err != nil {
		return err
	}
	if n != current+1 {
		return fmt.Errorf("migration %d applied out of order (current %d)", n, current)
	}
	if err := migrations[n-1](db); err != nil {
		return fmt.Errorf("apply migration %d: %w", n, err)
	}
	if current == 0 {
		if err := db.Create(&SchemaVersion{Version: n}).Error; err != nil {
			return fmt.Errorf("record migration %d: %w", n, err)
		}
		return nil
	}
	if err := db.Model(&SchemaVersion{}).Where("version = ?", current).Update("version", n).Error; err != nil {
		return fmt.Errorf("record migration %d: %w", n, err)
	}
	return nil
}

// Migrate applies all pending migrations.
func Migrate(db *gorm.DB) error {
	current, err := CurrentVersion(db)
	if err != nil {
		return err
	}
	for n := current + 1; n <= len(migrations); n++ {
		log.Printf("🗄️ Applying schema migration %d", n)
		if err := ApplyMigration(db, n); err != nil {
			return err
		}
	}
	return nil
}
