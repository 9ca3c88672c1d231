package ledger

import (
	"errors"

	"github.com/meridianex/exchange-core/internal/types"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// DB exposes the underlying connection for transactional scopes.
func (d *Database) DB() *gorm.DB {
	return d.db
}

// getOrCreateCash loads the (broker, currency) cash row inside tx,
// creating a zero-balance row on first use.
func (d *Database) getOrCreateCash(tx *gorm.DB, brokerID, currency string) (*types.CashPosition, error) {
	var pos types.CashPosition
	err := tx.Where("broker_id = ? AND currency = ?", brokerID, currency).First(&pos).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		pos = types.CashPosition{
			BrokerID:      brokerID,
			Currency:      currency,
			TotalBalance:  decimal.Zero,
			LockedBalance: decimal.Zero,
		}
		if err := tx.Create(&pos).Error; err != nil {
			return nil, err
		}
		return &pos, nil
	}
	if err != nil {
		return nil, err
	}
	return &pos, nil
}

// getOrCreateSecurity loads the (broker, symbol) security row inside tx,
// creating a zero-quantity row on first use.
func (d *Database) getOrCreateSecurity(tx *gorm.DB, brokerID, symbol string) (*types.SecurityPosition, error) {
	var pos types.SecurityPosition
	err := tx.Where("broker_id = ? AND symbol = ?", brokerID, symbol).First(&pos).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		pos = types.SecurityPosition{
			BrokerID:       brokerID,
			Symbol:         symbol,
			TotalQuantity:  decimal.Zero,
			LockedQuantity: decimal.Zero,
		}
		if err := tx.Create(&pos).Error; err != nil {
			return nil, err
		}
		return &pos, nil
	}
	if err != nil {
		return nil, err
	}
	return &pos, nil
}

// GetCashPosition returns the (broker, currency) cash row, or a zero
// snapshot when no row exists yet.
func (d *Database) GetCashPosition(brokerID, currency string) (*types.CashPosition, error) {
	var pos types.CashPosition
	err := d.db.Where("broker_id = ? AND currency = ?", brokerID, currency).First(&pos).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &types.CashPosition{
			BrokerID:      brokerID,
			Currency:      currency,
			TotalBalance:  decimal.Zero,
			LockedBalance: decimal.Zero,
		}, nil
	}
	if err != nil {
		return nil, err
	}
	return &pos, nil
}

// GetSecurityPosition returns the (broker, symbol) security row, or a
// zero snapshot when no row exists yet.
func (d *Database) GetSecurityPosition(brokerID, symbol string) (*types.SecurityPosition, error) {
	var pos types.SecurityPosition
	err := d.db.Where("broker_id = ? AND symbol = ?", brokerID, symbol).First(&pos).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &types.SecurityPosition{
			BrokerID:       brokerID,
			Symbol:         symbol,
			TotalQuantity:  decimal.Zero,
			LockedQuantity: decimal.Zero,
		}, nil
	}
	if err != nil {
		return nil, err
	}
	return &pos, nil
}
