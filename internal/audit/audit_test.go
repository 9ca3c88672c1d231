package audit

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianex/exchange-core/internal/database"
	"github.com/meridianex/exchange-core/internal/types"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	db, err := database.NewDatabase("file:" + uuid.NewString() + "?mode=memory&cache=shared")
	require.NoError(t, err)
	return NewService(db)
}

func TestRecordAndListInOrder(t *testing.T) {
	svc := newTestService(t)

	svc.Record("ORD_1", "", types.OrderPending, ActorMatchingEngine, "order accepted")
	svc.Record("ORD_1", types.OrderPending, types.OrderPartial, ActorMatchingEngine, "partial fill")
	svc.Record("ORD_1", types.OrderPartial, types.OrderFilled, ActorMatchingEngine, "order fully filled")
	svc.Record("ORD_2", "", types.OrderRejected, ActorRiskEngine, "broker not active")

	entries, err := svc.ListByOrder("ORD_1")
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, types.OrderStatus(""), entries[0].OldStatus)
	assert.Equal(t, types.OrderPending, entries[0].NewStatus)
	assert.Equal(t, types.OrderFilled, entries[2].NewStatus)
	for _, entry := range entries {
		assert.Equal(t, "ORD_1", entry.OrderID)
		assert.Equal(t, ActorMatchingEngine, entry.Actor)
		assert.NotEmpty(t, entry.AuditID)
	}

	other, err := svc.ListByOrder("ORD_2")
	require.NoError(t, err)
	require.Len(t, other, 1)
	assert.Equal(t, ActorRiskEngine, other[0].Actor)
}

func TestListUnknownOrderIsEmpty(t *testing.T) {
	svc := newTestService(t)

	entries, err := svc.ListByOrder("ORD_missing")
	require.NoError(t, err)
	assert.Empty(t, entries)
}
