package types

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type InstrumentType string

const (
	InstrumentStock     InstrumentType = "STOCK"
	InstrumentETF       InstrumentType = "ETF"
	InstrumentBond      InstrumentType = "BOND"
	InstrumentCommodity InstrumentType = "COMMODITY"
)

type InstrumentStatus string

const (
	InstrumentActive    InstrumentStatus = "ACTIVE"
	InstrumentSuspended InstrumentStatus = "SUSPENDED"
	InstrumentDelisted  InstrumentStatus = "DELISTED"
)

type BrokerStatus string

const (
	BrokerActive     BrokerStatus = "ACTIVE"
	BrokerSuspended  BrokerStatus = "SUSPENDED"
	BrokerTerminated BrokerStatus = "TERMINATED"
)

type OrderType string

const (
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeMarket OrderType = "MARKET"
)

type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

type TimeInForce string

const (
	TIFGoodTillCancelled TimeInForce = "GTC"
	TIFImmediateOrCancel TimeInForce = "IOC"
	TIFFillOrKill        TimeInForce = "FOK"
)

type OrderStatus string

const (
	OrderPending   OrderStatus = "PENDING"
	OrderPartial   OrderStatus = "PARTIAL"
	OrderFilled    OrderStatus = "FILLED"
	OrderCancelled OrderStatus = "CANCELLED"
	OrderRejected  OrderStatus = "REJECTED"
)

// Terminal reports whether the status admits no further transitions.
func (s OrderStatus) Terminal() bool {
	return s == OrderFilled || s == OrderCancelled || s == OrderRejected
}

type TradeStatus string

const (
	TradePendingSettlement TradeStatus = "PENDING_SETTLEMENT"
	TradeSettled           TradeStatus = "SETTLED"
	TradeFailed            TradeStatus = "FAILED"
)

type SettlementType string

const (
	SettlementT1   SettlementType = "T+1"
	SettlementT2   SettlementType = "T+2"
	SettlementCash SettlementType = "CASH"
)

type SettlementStatus string

const (
	SettlementPending   SettlementStatus = "PENDING"
	SettlementCompleted SettlementStatus = "COMPLETED"
	SettlementFailed    SettlementStatus = "FAILED"
)

// Instrument is a tradable security. Identity (symbol) is immutable;
// status is mutated by administrative action only.
type Instrument struct {
	gorm.Model `json:"-"`
	Symbol     string           `gorm:"uniqueIndex" json:"symbol"`
	Name       string           `json:"name"`
	Type       InstrumentType   `json:"type"`
	Status     InstrumentStatus `json:"status"`
	Currency   string           `json:"currency"`
	LotSize    int64            `json:"lot_size"`
	TickSize   decimal.Decimal  `gorm:"type:decimal(10,4)" json:"tick_size"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

// Broker is a trading participant. Orders from non-ACTIVE brokers are rejected.
type Broker struct {
	gorm.Model `json:"-"`
	BrokerID   string       `gorm:"uniqueIndex" json:"broker_id"`
	Name       string       `json:"name"`
	Status     BrokerStatus `json:"status"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

// CashPosition holds a broker's balance in one currency. Available
// balance is TotalBalance minus LockedBalance; both are non-negative and
// locked never exceeds total. Rows are created lazily on the first
// balance-affecting event.
type CashPosition struct {
	gorm.Model    `json:"-"`
	BrokerID      string          `gorm:"uniqueIndex:idx_cash_broker_currency" json:"broker_id"`
	Currency      string          `gorm:"uniqueIndex:idx_cash_broker_currency" json:"currency"`
	TotalBalance  decimal.Decimal `gorm:"type:decimal(20,4)" json:"total_balance"`
	LockedBalance decimal.Decimal `gorm:"type:decimal(20,4)" json:"locked_balance"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Available returns the unlocked portion of the balance.
func (p *CashPosition) Available() decimal.Decimal {
	return p.TotalBalance.Sub(p.LockedBalance)
}

// SecurityPosition holds a broker's position in one instrument, in units
// of the instrument. Same total/locked/available shape as CashPosition.
type SecurityPosition struct {
	gorm.Model     `json:"-"`
	BrokerID       string          `gorm:"uniqueIndex:idx_sec_broker_symbol" json:"broker_id"`
	Symbol         string          `gorm:"uniqueIndex:idx_sec_broker_symbol" json:"symbol"`
	TotalQuantity  decimal.Decimal `gorm:"type:decimal(20,4)" json:"total_quantity"`
	LockedQuantity decimal.Decimal `gorm:"type:decimal(20,4)" json:"locked_quantity"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Available returns the unlocked quantity.
func (p *SecurityPosition) Available() decimal.Decimal {
	return p.TotalQuantity.Sub(p.LockedQuantity)
}

// Order is a broker's instruction. Price is required and positive for
// LIMIT orders and must be absent (zero) for MARKET orders. Sequence is
// the arrival sequence assigned by the matching engine and is the
// time-priority tiebreaker within a price level. ParentOrderID is the
// OCO back-reference by identifier only; neither order owns the other.
type Order struct {
	gorm.Model        `json:"-"`
	OrderID           string          `gorm:"uniqueIndex" json:"order_id"`
	ClientOrderID     string          `gorm:"index" json:"client_order_id,omitempty"`
	ParentOrderID     string          `gorm:"index" json:"parent_order_id,omitempty"`
	BrokerID          string          `gorm:"index" json:"broker_id"`
	Symbol            string          `gorm:"index:idx_orders_symbol_status" json:"symbol"`
	Type              OrderType       `gorm:"column:order_type" json:"order_type"`
	Side              OrderSide       `json:"side"`
	TimeInForce       TimeInForce     `json:"time_in_force"`
	Status            OrderStatus     `gorm:"index:idx_orders_symbol_status" json:"status"`
	Price             decimal.Decimal `gorm:"type:decimal(20,4)" json:"price"`
	OriginalQuantity  decimal.Decimal `gorm:"type:decimal(20,4)" json:"original_quantity"`
	RemainingQuantity decimal.Decimal `gorm:"type:decimal(20,4)" json:"remaining_quantity"`
	Sequence          uint64          `json:"sequence"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// Trade is the immutable execution record pairing a buyer order and a
// seller order on the same instrument. Fees default to zero.
type Trade struct {
	gorm.Model     `json:"-"`
	TradeID        string          `gorm:"uniqueIndex" json:"trade_id"`
	Symbol         string          `gorm:"index" json:"symbol"`
	Currency       string          `json:"currency"`
	BuyerOrderID   string          `gorm:"index" json:"buyer_order_id"`
	SellerOrderID  string          `gorm:"index" json:"seller_order_id"`
	BuyerBrokerID  string          `json:"buyer_broker_id"`
	SellerBrokerID string          `json:"seller_broker_id"`
	Price          decimal.Decimal `gorm:"type:decimal(20,4)" json:"price"`
	Quantity       decimal.Decimal `gorm:"type:decimal(20,4)" json:"quantity"`
	BuyerFee       decimal.Decimal `gorm:"type:decimal(20,4)" json:"buyer_fee"`
	SellerFee      decimal.Decimal `gorm:"type:decimal(20,4)" json:"seller_fee"`
	ExchangeFee    decimal.Decimal `gorm:"type:decimal(20,4)" json:"exchange_fee"`
	ClearingFee    decimal.Decimal `gorm:"type:decimal(20,4)" json:"clearing_fee"`
	ExecutionTime  time.Time       `json:"execution_time"`
	Status         TradeStatus     `gorm:"index" json:"status"`
	SettlementTime *time.Time      `json:"settlement_time,omitempty"`
}

// TotalFees returns the sum of all four fee components.
func (t *Trade) TotalFees() decimal.Decimal {
	return t.BuyerFee.Add(t.SellerFee).Add(t.ExchangeFee).Add(t.ClearingFee)
}

// Settlement tracks one trade from pending to completed or failed. One
// row per trade, created when the trade is recorded and finalized
// asynchronously by the settlement processor.
type Settlement struct {
	gorm.Model     `json:"-"`
	SettlementID   string           `gorm:"uniqueIndex" json:"settlement_id"`
	TradeID        string           `gorm:"uniqueIndex" json:"trade_id"`
	Type           SettlementType   `json:"settlement_type"`
	Status         SettlementStatus `gorm:"index" json:"status"`
	NetAmount      decimal.Decimal  `gorm:"type:decimal(20,4)" json:"net_amount"`
	Currency       string           `json:"currency"`
	SettlementDate time.Time        `gorm:"index" json:"settlement_date"`
	FailureReason  string           `json:"failure_reason,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// PositionLimit caps a broker's position and single-order value for one
// instrument, or for all instruments when Symbol is empty (blanket limit).
type PositionLimit struct {
	gorm.Model    `json:"-"`
	BrokerID      string          `gorm:"uniqueIndex:idx_limit_broker_symbol" json:"broker_id"`
	Symbol        string          `gorm:"uniqueIndex:idx_limit_broker_symbol" json:"symbol,omitempty"`
	MaxPosition   decimal.Decimal `gorm:"type:decimal(20,4)" json:"max_position"`
	MaxOrderValue decimal.Decimal `gorm:"type:decimal(20,4)" json:"max_order_value"`
	Currency      string          `json:"currency"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// MarginRequirement holds initial and maintenance margin percentages per
// instrument type.
type MarginRequirement struct {
	gorm.Model        `json:"-"`
	InstrumentType    InstrumentType  `gorm:"uniqueIndex" json:"instrument_type"`
	InitialMarginPct  decimal.Decimal `gorm:"type:decimal(10,4)" json:"initial_margin_pct"`
	MaintenancePct    decimal.Decimal `gorm:"type:decimal(10,4)" json:"maintenance_margin_pct"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// OrderAudit is an append-only record of one order status transition.
// Rows are never mutated or deleted.
type OrderAudit struct {
	gorm.Model `json:"-"`
	AuditID    string      `gorm:"uniqueIndex" json:"audit_id"`
	OrderID    string      `gorm:"index" json:"order_id"`
	OldStatus  OrderStatus `json:"old_status"`
	NewStatus  OrderStatus `json:"new_status"`
	Actor      string      `json:"actor"`
	Reason     string      `json:"reason,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
}
