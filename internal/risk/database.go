package risk

import (
	"errors"

	"gorm.io/gorm"

	"github.com/meridianex/exchange-core/internal/types"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) GetInstrument(symbol string) (*types.Instrument, error) {
	var instrument types.Instrument
	if err := d.db.Where("symbol = ?", symbol).First(&instrument).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &instrument, nil
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

// GetPositionLimit returns the instrument-specific limit for the broker,
// falling back to the blanket limit (empty symbol) when absent. Nil when
// neither exists.
func (d *Database) GetPositionLimit(brokerID, symbol string) (*types.PositionLimit, error) {
	var limit types.PositionLimit
	err := d.db.Where("broker_id = ? AND symbol = ?", brokerID, symbol).First(&limit).Error
	if err == nil {
		return &limit, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	err = d.db.Where("broker_id = ? AND symbol = ?", brokerID, "").First(&limit).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &limit, nil
}

func (d *Database) GetMarginRequirement(instrumentType types.InstrumentType) (*types.MarginRequirement, error) {
	var req types.MarginRequirement
	if err := d.db.Where("instrument_type = ?", instrumentType).First(&req).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &req, nil
}
