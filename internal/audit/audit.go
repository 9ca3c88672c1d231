package audit

import (
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/meridianex/exchange-core/internal/types"
)

// Actor values recorded on audit entries.
const (
	ActorMatchingEngine = "matching_engine"
	ActorRiskEngine     = "risk_engine"
	ActorSettlement     = "settlement"
)

// Service appends order status transitions to the audit trail. Writes
// are best effort: a transient failure is logged and swallowed, never
// propagated to fail the triggering operation.
type Service struct {
	db *gorm.DB
}

func NewService(gormDB *gorm.DB) *Service {
	return &Service{db: gormDB}
}

// Record appends one transition. Fire and forget.
func (s *Service) Record(orderID string, oldStatus, newStatus types.OrderStatus, actor, reason string) {
	entry := &types.OrderAudit{
		AuditID:   "AUD_" + uuid.New().String(),
		OrderID:   orderID,
		OldStatus: oldStatus,
		NewStatus: newStatus,
		Actor:     actor,
		Reason:    reason,
	}

	if err := s.db.Create(entry).Error; err != nil {
		log.Error().
			Err(err).
			Str("order_id", orderID).
			Str("old_status", string(oldStatus)).
			Str("new_status", string(newStatus)).
			Str("actor", actor).
			Msg("failed to write order audit entry")
	}
}

// ListByOrder returns the audit trail for an order in insertion order.
func (s *Service) ListByOrder(orderID string) ([]types.OrderAudit, error) {
	var entries []types.OrderAudit
	if err := s.db.Where("order_id = ?", orderID).Order("id ASC").Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}
