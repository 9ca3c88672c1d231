package migrations

import (
	"gorm.io/gorm"
)

// AddSettlementIndexes adds the indexes the settlement processor uses to
// find due settlements.
func AddSettlementIndexes(db *gorm.DB) error {
	indexes := []string{
		// Composite index for the due-settlement sweep
		`CREATE INDEX IF NOT EXISTS idx_settlements_due
		 ON settlements(status, settlement_date)`,

		`CREATE INDEX IF NOT EXISTS idx_settlements_trade_id
		 ON settlements(trade_id)`,

		`CREATE INDEX IF NOT EXISTS idx_trades_status
		 ON trades(status)`,
	}

	for _, idx := range indexes {
		if err := db.Exec(idx).Error; err != nil {
			return err
		}
	}

	return nil
}
