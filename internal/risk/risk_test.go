package risk

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/meridianex/exchange-core/internal/database"
	"github.com/meridianex/exchange-core/internal/ledger"
	"github.com/meridianex/exchange-core/internal/types"
)

func newTestService(t *testing.T) (*Service, *ledger.Service, *gorm.DB) {
	t.Helper()
	db, err := database.NewDatabase("file:" + uuid.NewString() + "?mode=memory&cache=shared")
	require.NoError(t, err)
	ledgerService := ledger.NewService(db)
	return NewService(db, ledgerService), ledgerService, db
}

func seedInstrument(t *testing.T, db *gorm.DB, symbol string) {
	t.Helper()
	require.NoError(t, db.Create(&types.Instrument{
		Symbol:   symbol,
		Name:     symbol,
		Type:     types.InstrumentStock,
		Status:   types.InstrumentActive,
		Currency: "USD",
		LotSize:  1,
		TickSize: decimal.RequireFromString("0.01"),
	}).Error)
}

func seedBroker(t *testing.T, db *gorm.DB, brokerID string) {
	t.Helper()
	require.NoError(t, db.Create(&types.Broker{
		BrokerID: brokerID,
		Name:     brokerID,
		Status:   types.BrokerActive,
	}).Error)
}

func buyOrder(brokerID, symbol string, price string, qty int64) *types.Order {
	return &types.Order{
		OrderID:           "ORD_test",
		BrokerID:          brokerID,
		Symbol:            symbol,
		Type:              types.OrderTypeLimit,
		Side:              types.SideBuy,
		TimeInForce:       types.TIFGoodTillCancelled,
		Price:             decimal.RequireFromString(price),
		OriginalQuantity:  decimal.NewFromInt(qty),
		RemainingQuantity: decimal.NewFromInt(qty),
		Status:            types.OrderPending,
	}
}

func TestValidateShape(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*types.Order)
		reason string
	}{
		{"missing broker", func(o *types.Order) { o.BrokerID = "" }, "broker_id is required"},
		{"missing symbol", func(o *types.Order) { o.Symbol = "" }, "symbol is required"},
		{"bad side", func(o *types.Order) { o.Side = "HOLD" }, "side must be BUY or SELL"},
		{"limit without price", func(o *types.Order) { o.Price = decimal.Zero }, "limit orders require a positive price"},
		{"market with price", func(o *types.Order) { o.Type = types.OrderTypeMarket }, "market orders must not carry a price"},
		{"bad type", func(o *types.Order) { o.Type = "STOP" }, "order type must be LIMIT or MARKET"},
		{"bad tif", func(o *types.Order) { o.TimeInForce = "GTD" }, "time in force must be GTC, IOC or FOK"},
		{"zero quantity", func(o *types.Order) { o.OriginalQuantity = decimal.Zero }, "quantity must be positive"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			order := buyOrder("BRK_A", "AAPL", "10.00", 5)
			tc.mutate(order)
			verr := ValidateShape(order)
			require.NotNil(t, verr)
			assert.Equal(t, tc.reason, verr.Reason)
		})
	}

	assert.Nil(t, ValidateShape(buyOrder("BRK_A", "AAPL", "10.00", 5)))
}

func TestValidateRejectsUnknownInstrument(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Validate(buyOrder("BRK_A", "GONE", "10.00", 5), decimal.Zero)
	var rejection *types.RiskRejectionError
	require.ErrorAs(t, err, &rejection)
	assert.Equal(t, ReasonInstrumentNotFound, rejection.Reason)
}

func TestValidateRejectsSuspendedInstrument(t *testing.T) {
	svc, _, db := newTestService(t)
	require.NoError(t, db.Create(&types.Instrument{
		Symbol:   "HALT",
		Type:     types.InstrumentStock,
		Status:   types.InstrumentSuspended,
		Currency: "USD",
		LotSize:  1,
	}).Error)

	_, err := svc.Validate(buyOrder("BRK_A", "HALT", "10.00", 5), decimal.Zero)
	var rejection *types.RiskRejectionError
	require.ErrorAs(t, err, &rejection)
	assert.Equal(t, ReasonInstrumentNotActive, rejection.Reason)
}

func TestValidateRejectsInactiveBroker(t *testing.T) {
	svc, _, db := newTestService(t)
	seedInstrument(t, db, "AAPL")

	_, err := svc.Validate(buyOrder("BRK_GONE", "AAPL", "10.00", 5), decimal.Zero)
	var rejection *types.RiskRejectionError
	require.ErrorAs(t, err, &rejection)
	assert.Equal(t, ReasonBrokerNotFound, rejection.Reason)

	require.NoError(t, db.Create(&types.Broker{
		BrokerID: "BRK_SUS",
		Status:   types.BrokerSuspended,
	}).Error)
	_, err = svc.Validate(buyOrder("BRK_SUS", "AAPL", "10.00", 5), decimal.Zero)
	require.ErrorAs(t, err, &rejection)
	assert.Equal(t, ReasonBrokerNotActive, rejection.Reason)
}

func TestValidateTickAndLotSize(t *testing.T) {
	svc, _, db := newTestService(t)
	seedBroker(t, db, "BRK_A")
	require.NoError(t, db.Create(&types.Instrument{
		Symbol:   "ODD",
		Type:     types.InstrumentStock,
		Status:   types.InstrumentActive,
		Currency: "USD",
		LotSize:  100,
		TickSize: decimal.RequireFromString("0.05"),
	}).Error)

	var rejection *types.RiskRejectionError

	_, err := svc.Validate(buyOrder("BRK_A", "ODD", "10.02", 100), decimal.Zero)
	require.ErrorAs(t, err, &rejection)
	assert.Equal(t, ReasonTickSize, rejection.Reason)

	_, err = svc.Validate(buyOrder("BRK_A", "ODD", "10.05", 150), decimal.Zero)
	require.ErrorAs(t, err, &rejection)
	assert.Equal(t, ReasonLotSize, rejection.Reason)

	instrument, err := svc.Validate(buyOrder("BRK_A", "ODD", "10.05", 200), decimal.Zero)
	require.NoError(t, err)
	assert.Equal(t, "ODD", instrument.Symbol)
}

func TestValidatePositionLimit(t *testing.T) {
	svc, ledgerService, db := newTestService(t)
	seedInstrument(t, db, "AAPL")
	seedBroker(t, db, "BRK_A")
	require.NoError(t, ledgerService.DepositSecurities("BRK_A", "AAPL", decimal.NewFromInt(90)))
	require.NoError(t, db.Create(&types.PositionLimit{
		BrokerID:    "BRK_A",
		Symbol:      "AAPL",
		MaxPosition: decimal.NewFromInt(100),
	}).Error)

	_, err := svc.Validate(buyOrder("BRK_A", "AAPL", "10.00", 11), decimal.Zero)
	var rejection *types.RiskRejectionError
	require.ErrorAs(t, err, &rejection)
	assert.Equal(t, ReasonPositionLimit, rejection.Reason)

	_, err = svc.Validate(buyOrder("BRK_A", "AAPL", "10.00", 10), decimal.Zero)
	assert.NoError(t, err)

	// Sells are not capped by the position limit.
	sell := buyOrder("BRK_A", "AAPL", "10.00", 500)
	sell.Side = types.SideSell
	_, err = svc.Validate(sell, decimal.Zero)
	assert.NoError(t, err)
}

func TestValidateBlanketLimitFallback(t *testing.T) {
	svc, _, db := newTestService(t)
	seedInstrument(t, db, "AAPL")
	seedBroker(t, db, "BRK_A")
	require.NoError(t, db.Create(&types.PositionLimit{
		BrokerID:      "BRK_A",
		Symbol:        "",
		MaxOrderValue: decimal.NewFromInt(500),
	}).Error)

	_, err := svc.Validate(buyOrder("BRK_A", "AAPL", "10.00", 51), decimal.Zero)
	var rejection *types.RiskRejectionError
	require.ErrorAs(t, err, &rejection)
	assert.Equal(t, ReasonOrderValueLimit, rejection.Reason)
}

func TestValidateMarginRequirement(t *testing.T) {
	svc, ledgerService, db := newTestService(t)
	seedInstrument(t, db, "AAPL")
	seedBroker(t, db, "BRK_A")
	require.NoError(t, db.Create(&types.MarginRequirement{
		InstrumentType:   types.InstrumentStock,
		InitialMarginPct: decimal.NewFromInt(50),
	}).Error)

	// Notional 1000, required margin 500, available 499.
	require.NoError(t, ledgerService.Deposit("BRK_A", "USD", decimal.NewFromInt(499)))
	_, err := svc.Validate(buyOrder("BRK_A", "AAPL", "10.00", 100), decimal.Zero)
	var rejection *types.RiskRejectionError
	require.ErrorAs(t, err, &rejection)
	assert.Equal(t, ReasonMarginExceeded, rejection.Reason)

	require.NoError(t, ledgerService.Deposit("BRK_A", "USD", decimal.NewFromInt(1)))
	_, err = svc.Validate(buyOrder("BRK_A", "AAPL", "10.00", 100), decimal.Zero)
	assert.NoError(t, err)
}

func TestValidateMarketOrderUsesReferencePrice(t *testing.T) {
	svc, _, db := newTestService(t)
	seedInstrument(t, db, "AAPL")
	seedBroker(t, db, "BRK_A")
	require.NoError(t, db.Create(&types.PositionLimit{
		BrokerID:      "BRK_A",
		Symbol:        "AAPL",
		MaxOrderValue: decimal.NewFromInt(500),
	}).Error)

	order := buyOrder("BRK_A", "AAPL", "0", 100)
	order.Type = types.OrderTypeMarket
	order.Price = decimal.Zero

	// 100 shares at a 10.00 reference exceeds the 500 value cap.
	_, err := svc.Validate(order, decimal.RequireFromString("10.00"))
	var rejection *types.RiskRejectionError
	require.ErrorAs(t, err, &rejection)
	assert.Equal(t, ReasonOrderValueLimit, rejection.Reason)

	// An empty book means zero notional; the match loop handles the
	// no-liquidity cancel.
	_, err = svc.Validate(order, decimal.Zero)
	assert.NoError(t, err)
}
