package settlement

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/meridianex/exchange-core/internal/database"
	"github.com/meridianex/exchange-core/internal/fees"
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

func seedBroker(t *testing.T, db *gorm.DB, brokerID string, status types.BrokerStatus) {
	t.Helper()
	require.NoError(t, db.Create(&types.Broker{
		BrokerID: brokerID,
		Name:     brokerID,
		Status:   status,
	}).Error)
}

// seedExecutedTrade writes the rows and ledger state a fill leaves
// behind: a PENDING_SETTLEMENT trade, its PENDING settlement, the cash
// already with the seller and the securities already with the buyer.
func seedExecutedTrade(t *testing.T, db *gorm.DB, ledgerService *ledger.Service, tradeID string) *types.Trade {
	t.Helper()

	price := decimal.RequireFromString("10.00")
	quantity := decimal.NewFromInt(100)
	notional := price.Mul(quantity)
	schedule := fees.DefaultSchedule()

	trade := &types.Trade{
		TradeID:        tradeID,
		Symbol:         "AAPL",
		Currency:       "USD",
		BuyerOrderID:   "ORD_buy",
		SellerOrderID:  "ORD_sell",
		BuyerBrokerID:  "BRK_BUY",
		SellerBrokerID: "BRK_SELL",
		Price:          price,
		Quantity:       quantity,
		BuyerFee:       schedule.BuyerFee(notional),
		SellerFee:      schedule.SellerFee(notional),
		ExchangeFee:    schedule.ExchangeFee(notional),
		ClearingFee:    schedule.ClearingFee(notional),
		ExecutionTime:  time.Now(),
		Status:         types.TradePendingSettlement,
	}
	require.NoError(t, db.Create(trade).Error)

	settlementType, settlementDate := CycleFor(types.InstrumentStock, trade.ExecutionTime)
	require.NoError(t, db.Create(&types.Settlement{
		SettlementID:   "STL_" + tradeID,
		TradeID:        tradeID,
		Type:           settlementType,
		Status:         types.SettlementPending,
		Currency:       "USD",
		SettlementDate: settlementDate,
	}).Error)

	require.NoError(t, ledgerService.Deposit("BRK_SELL", "USD", notional))
	require.NoError(t, ledgerService.DepositSecurities("BRK_BUY", "AAPL", quantity))

	return trade
}

func TestSettleTradeCompletes(t *testing.T) {
	svc, ledgerService, db := newTestService(t)
	seedBroker(t, db, "BRK_BUY", types.BrokerActive)
	seedBroker(t, db, "BRK_SELL", types.BrokerActive)
	trade := seedExecutedTrade(t, db, ledgerService, "TRD_1")

	settlement, err := svc.SettleTrade("TRD_1")
	require.NoError(t, err)
	assert.Equal(t, types.SettlementCompleted, settlement.Status)

	// Net amount is notional minus the full fee stack: 1000 - 2.8.
	assert.True(t, settlement.NetAmount.Equal(decimal.RequireFromString("997.2")),
		"net amount %s", settlement.NetAmount)

	stored, err := svc.DB().GetTrade(trade.TradeID)
	require.NoError(t, err)
	assert.Equal(t, types.TradeSettled, stored.Status)
	require.NotNil(t, stored.SettlementTime)

	// Completion confirms the provisional transfer; balances do not move.
	sellerCash, err := ledgerService.CashPosition("BRK_SELL", "USD")
	require.NoError(t, err)
	assert.True(t, sellerCash.TotalBalance.Equal(decimal.NewFromInt(1000)))
	buyerSec, err := ledgerService.SecurityPosition("BRK_BUY", "AAPL")
	require.NoError(t, err)
	assert.True(t, buyerSec.TotalQuantity.Equal(decimal.NewFromInt(100)))
}

func TestSettleTradeIsIdempotent(t *testing.T) {
	svc, ledgerService, db := newTestService(t)
	seedBroker(t, db, "BRK_BUY", types.BrokerActive)
	seedBroker(t, db, "BRK_SELL", types.BrokerActive)
	seedExecutedTrade(t, db, ledgerService, "TRD_1")

	first, err := svc.SettleTrade("TRD_1")
	require.NoError(t, err)

	second, err := svc.SettleTrade("TRD_1")
	require.NoError(t, err)
	assert.Equal(t, first.SettlementID, second.SettlementID)
	assert.Equal(t, types.SettlementCompleted, second.Status)

	sellerCash, err := ledgerService.CashPosition("BRK_SELL", "USD")
	require.NoError(t, err)
	assert.True(t, sellerCash.TotalBalance.Equal(decimal.NewFromInt(1000)))
}

func TestSettleTradeFailsOnSuspendedCounterparty(t *testing.T) {
	svc, ledgerService, db := newTestService(t)
	seedBroker(t, db, "BRK_BUY", types.BrokerActive)
	seedBroker(t, db, "BRK_SELL", types.BrokerSuspended)
	trade := seedExecutedTrade(t, db, ledgerService, "TRD_1")

	settlement, err := svc.SettleTrade("TRD_1")
	var failed *types.SettlementFailedError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, "TRD_1", failed.TradeID)
	assert.Equal(t, ReasonCounterpartyDefault, failed.Reason)

	require.NotNil(t, settlement)
	assert.Equal(t, types.SettlementFailed, settlement.Status)
	assert.Equal(t, ReasonCounterpartyDefault, settlement.FailureReason)

	stored, err := svc.DB().GetTrade(trade.TradeID)
	require.NoError(t, err)
	assert.Equal(t, types.TradeFailed, stored.Status)

	// Reversal restores both legs as available balance.
	buyerCash, err := ledgerService.CashPosition("BRK_BUY", "USD")
	require.NoError(t, err)
	assert.True(t, buyerCash.TotalBalance.Equal(decimal.NewFromInt(1000)))
	assert.True(t, buyerCash.LockedBalance.IsZero())

	sellerSec, err := ledgerService.SecurityPosition("BRK_SELL", "AAPL")
	require.NoError(t, err)
	assert.True(t, sellerSec.TotalQuantity.Equal(decimal.NewFromInt(100)))
	assert.True(t, sellerSec.LockedQuantity.IsZero())

	sellerCash, err := ledgerService.CashPosition("BRK_SELL", "USD")
	require.NoError(t, err)
	assert.True(t, sellerCash.TotalBalance.IsZero())
}

func TestSettleTradeFailureIsTerminal(t *testing.T) {
	svc, ledgerService, db := newTestService(t)
	seedBroker(t, db, "BRK_BUY", types.BrokerActive)
	seedBroker(t, db, "BRK_SELL", types.BrokerSuspended)
	seedExecutedTrade(t, db, ledgerService, "TRD_1")

	_, err := svc.SettleTrade("TRD_1")
	var failed *types.SettlementFailedError
	require.ErrorAs(t, err, &failed)

	// Reinstating the broker does not resurrect the settlement, and the
	// reversal is not applied twice.
	require.NoError(t, db.Model(&types.Broker{}).
		Where("broker_id = ?", "BRK_SELL").
		Update("status", types.BrokerActive).Error)

	settlement, err := svc.SettleTrade("TRD_1")
	require.NoError(t, err)
	assert.Equal(t, types.SettlementFailed, settlement.Status)

	buyerCash, err := ledgerService.CashPosition("BRK_BUY", "USD")
	require.NoError(t, err)
	assert.True(t, buyerCash.TotalBalance.Equal(decimal.NewFromInt(1000)))
}

func TestSettleTradeUnknownTrade(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.SettleTrade("TRD_missing")
	assert.ErrorIs(t, err, types.ErrTradeNotFound)
}

func TestCycleFor(t *testing.T) {
	execution := time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC)

	cycle, date := CycleFor(types.InstrumentCommodity, execution)
	assert.Equal(t, types.SettlementCash, cycle)
	assert.Equal(t, execution, date)

	cycle, date = CycleFor(types.InstrumentBond, execution)
	assert.Equal(t, types.SettlementT1, cycle)
	assert.Equal(t, execution.Add(24*time.Hour), date)

	cycle, date = CycleFor(types.InstrumentStock, execution)
	assert.Equal(t, types.SettlementT2, cycle)
	assert.Equal(t, execution.Add(48*time.Hour), date)

	cycle, _ = CycleFor(types.InstrumentETF, execution)
	assert.Equal(t, types.SettlementT2, cycle)
}

func TestProcessorSettlesOnlyDue(t *testing.T) {
	svc, ledgerService, db := newTestService(t)
	seedBroker(t, db, "BRK_BUY", types.BrokerActive)
	seedBroker(t, db, "BRK_SELL", types.BrokerActive)

	seedExecutedTrade(t, db, ledgerService, "TRD_due")
	seedExecutedTrade(t, db, ledgerService, "TRD_future")

	// Pull TRD_due's date into the past; TRD_future stays at T+2.
	require.NoError(t, db.Model(&types.Settlement{}).
		Where("trade_id = ?", "TRD_due").
		Update("settlement_date", time.Now().Add(-time.Hour)).Error)

	processor := NewProcessor(svc, time.Minute)
	require.NoError(t, processor.ProcessDue(time.Now()))

	due, err := svc.GetByTradeID("TRD_due")
	require.NoError(t, err)
	assert.Equal(t, types.SettlementCompleted, due.Status)

	future, err := svc.GetByTradeID("TRD_future")
	require.NoError(t, err)
	assert.Equal(t, types.SettlementPending, future.Status)
}

func TestProcessorSweepContinuesPastFailures(t *testing.T) {
	svc, ledgerService, db := newTestService(t)
	seedBroker(t, db, "BRK_BUY", types.BrokerActive)
	seedBroker(t, db, "BRK_SELL", types.BrokerSuspended)

	seedExecutedTrade(t, db, ledgerService, "TRD_1")
	seedExecutedTrade(t, db, ledgerService, "TRD_2")

	require.NoError(t, db.Model(&types.Settlement{}).
		Where("trade_id IN ?", []string{"TRD_1", "TRD_2"}).
		Update("settlement_date", time.Now().Add(-time.Hour)).Error)

	require.NoError(t, NewProcessor(svc, time.Minute).ProcessDue(time.Now()))

	for _, tradeID := range []string{"TRD_1", "TRD_2"} {
		settlement, err := svc.GetByTradeID(tradeID)
		require.NoError(t, err)
		assert.Equal(t, types.SettlementFailed, settlement.Status)
	}
}
