package database

import (
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/meridianex/exchange-core/internal/database/migrations"
	"github.com/meridianex/exchange-core/internal/types"
)

// NewDatabase initializes and returns a new GORM DB connection
func NewDatabase(path string) (*gorm.DB, error) {
	if path == "" {
		path = "exchange.db"
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	err = db.AutoMigrate(
		&types.Instrument{},
		&types.Broker{},
		&types.CashPosition{},
		&types.SecurityPosition{},
		&types.Order{},
		&types.Trade{},
		&types.Settlement{},
		&types.PositionLimit{},
		&types.MarginRequirement{},
		&types.OrderAudit{},
	)
	if err != nil {
		return nil, err
	}

	if err := migrations.AddOrderBookIndexes(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	if err := migrations.AddSettlementIndexes(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db, nil
}
