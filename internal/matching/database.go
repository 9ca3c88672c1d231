package matching

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

func (d *Database) CreateOrder(order *types.Order) error {
	return d.db.Create(order).Error
}

func (d *Database) UpdateOrder(order *types.Order) error {
	return d.db.Save(order).Error
}

func (d *Database) GetOrder(orderID string) (*types.Order, error) {
	var order types.Order
	if err := d.db.Where("order_id = ?", orderID).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

func (d *Database) GetOrderByClientOrderID(brokerID, clientOrderID string) (*types.Order, error) {
	var order types.Order
	err := d.db.Where("broker_id = ? AND client_order_id = ?", brokerID, clientOrderID).First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

// RecordFill persists one fill as a unit: both order snapshots, the
// trade, and its pending settlement row commit or roll back together.
func (d *Database) RecordFill(incoming, resting *types.Order, trade *types.Trade, settlement *types.Settlement) error {
	return d.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(incoming).Error; err != nil {
			return err
		}
		if err := tx.Save(resting).Error; err != nil {
			return err
		}
		if err := tx.Create(trade).Error; err != nil {
			return err
		}
		return tx.Create(settlement).Error
	})
}

// ListOpenLimitOrders returns all LIMIT orders that should rest on a
// book: PENDING or PARTIAL with remaining quantity. Used to rebuild the
// in-memory books on startup, in arrival-sequence order.
func (d *Database) ListOpenLimitOrders() ([]types.Order, error) {
	var orders []types.Order
	err := d.db.
		Where("order_type = ? AND status IN ? AND remaining_quantity > 0",
			types.OrderTypeLimit,
			[]types.OrderStatus{types.OrderPending, types.OrderPartial}).
		Order("sequence ASC").
		Find(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}

// ListOpenChildOrders returns the non-terminal orders naming parentID
// as their OCO partner.
func (d *Database) ListOpenChildOrders(parentID string) ([]types.Order, error) {
	var orders []types.Order
	err := d.db.
		Where("parent_order_id = ? AND status IN ?", parentID,
			[]types.OrderStatus{types.OrderPending, types.OrderPartial}).
		Find(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}

// MaxSequence returns the highest arrival sequence ever assigned.
func (d *Database) MaxSequence() (uint64, error) {
	var seq *uint64
	if err := d.db.Model(&types.Order{}).Select("MAX(sequence)").Scan(&seq).Error; err != nil {
		return 0, err
	}
	if seq == nil {
		return 0, nil
	}
	return *seq, nil
}

// ListOpenOrders returns every order still able to trade or be
// cancelled, in arrival-sequence order.
func (d *Database) ListOpenOrders() ([]types.Order, error) {
	var orders []types.Order
	err := d.db.
		Where("status IN ?", []types.OrderStatus{types.OrderPending, types.OrderPartial}).
		Order("sequence ASC").
		Find(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}

// ListPendingSettlementTrades returns trades awaiting settlement.
func (d *Database) ListPendingSettlementTrades() ([]types.Trade, error) {
	var trades []types.Trade
	err := d.db.
		Where("status = ?", types.TradePendingSettlement).
		Order("id ASC").
		Find(&trades).Error
	if err != nil {
		return nil, err
	}
	return trades, nil
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

// ListTradesByOrder returns all trades an order participated in.
func (d *Database) ListTradesByOrder(orderID string) ([]types.Trade, error) {
	var trades []types.Trade
	err := d.db.
		Where("buyer_order_id = ? OR seller_order_id = ?", orderID, orderID).
		Order("id ASC").
		Find(&trades).Error
	if err != nil {
		return nil, err
	}
	return trades, nil
}
