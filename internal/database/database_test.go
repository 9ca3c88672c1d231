package database

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianex/exchange-core/internal/types"
)

func TestNewDatabaseBootstraps(t *testing.T) {
	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := NewDatabase(dsn)
	require.NoError(t, err)

	// The index migrations must agree with the model columns.
	require.NoError(t, db.Create(&types.Trade{
		TradeID:       "TRD_1",
		Symbol:        "AAPL",
		Currency:      "USD",
		BuyerOrderID:  "ORD_b",
		SellerOrderID: "ORD_s",
		Price:         decimal.NewFromInt(10),
		Quantity:      decimal.NewFromInt(1),
		Status:        types.TradePendingSettlement,
	}).Error)

	var trades []types.Trade
	require.NoError(t, db.Where("buyer_order_id = ?", "ORD_b").Find(&trades).Error)
	assert.Len(t, trades, 1)
	require.NoError(t, db.Where("seller_order_id = ?", "ORD_s").Find(&trades).Error)
	assert.Len(t, trades, 1)

	// Reopening over the same storage reruns the migrations; they must
	// be idempotent.
	_, err = NewDatabase(dsn)
	require.NoError(t, err)
}
