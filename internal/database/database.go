package database

import (
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tradepulse/tradepulse-api/internal/database/migrations"
	"github.com/tradepulse/tradepulse-api/internal/types"
)

// NewDatabase initializes and returns a new GORM DB connection
func NewDatabase(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	err = db.AutoMigrate(
		&types.Instrument{},
		&types.Trade{},
		&types.TradeHistory{},
		&types.Analysis{},
		&types.Insight{},
		&types.Subscription{},
		&types.Notification{},
	)
	if err != nil {
		return nil, err
	}

	// Query-path indexes beyond what the struct tags declare
	if err := migrations.AddQueryIndexes(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db, nil
}

// NewTestDatabase opens an isolated in-memory database for tests.
func NewTestDatabase() (*gorm.DB, error) {
	return NewDatabase("file::memory:?cache=private")
}
