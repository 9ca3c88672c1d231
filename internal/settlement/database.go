package settlement

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/meridianex/exchange-core/internal/types"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) GetSettlementByTradeID(tradeID string) (*types.Settlement, error) {
	var settlement types.Settlement
	if err := d.db.Where("trade_id = ?", tradeID).First(&settlement).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &settlement, nil
}

func (d *Database) GetTrade(tradeID string) (*types.Trade, error) {
	var trade types.Trade
	if err := d.db.Where("trade_id = ?", tradeID).First(&trade).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &trade, nil
}

func (d *Database) GetBroker(brokerID string) (*types.Broker, error) {
	var broker types.Broker
	if err := d.db.Where("broker_id = ?", brokerID).First(&broker).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &broker, nil
}

// Finalize persists the settlement and trade outcome as one unit.
func (d *Database) Finalize(settlement *types.Settlement, trade *types.Trade) error {
	return d.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(settlement).Error; err != nil {
			return err
		}
		return tx.Save(trade).Error
	})
}

// ListDue returns PENDING settlements whose settlement date has been
// reached, oldest first.
func (d *Database) ListDue(now time.Time) ([]types.Settlement, error) {
	var settlements []types.Settlement
	err := d.db.
		Where("status = ? AND settlement_date <= ?", types.SettlementPending, now).
		Order("settlement_date ASC").
		Find(&settlements).Error
	if err != nil {
		return nil, err
	}
	return settlements, nil
}
