package migrations

import (
	"gorm.io/gorm"
)

// AddOrderBookIndexes creates the indexes the matching engine relies on
// for book recovery and order lookups.
func AddOrderBookIndexes(db *gorm.DB) error {
	// Using raw SQL for index creation to have more control over index types
	indexes := []string{
		// Composite index for the open-order recovery scan
		`CREATE INDEX IF NOT EXISTS idx_orders_open
		 ON orders(symbol, status, sequence)`,

		// Index for broker order lookups
		`CREATE INDEX IF NOT EXISTS idx_orders_broker
		 ON orders(broker_id)`,

		// Index for audit trail queries by order
		`CREATE INDEX IF NOT EXISTS idx_order_audits_order_id
		 ON order_audits(order_id)`,

		// Index for trade lookups by either side of the match
		`CREATE INDEX IF NOT EXISTS idx_trades_buy_order
		 ON trades(buyer_order_id)`,

		`CREATE INDEX IF NOT EXISTS idx_trades_sell_order
		 ON trades(seller_order_id)`,
	}

	for _, idx := range indexes {
		if err := db.Exec(idx).Error; err != nil {
			return err
		}
	}

	return nil
}
