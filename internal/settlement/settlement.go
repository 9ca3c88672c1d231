package settlement

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/meridianex/exchange-core/internal/ledger"
	"github.com/meridianex/exchange-core/internal/types"
)

// Failure reasons recorded on failed settlements.
const (
	ReasonCounterpartyDefault = "counterparty default"
	ReasonReversalFailed      = "ledger reversal failed"
)

// Service advances each trade's settlement from PENDING to COMPLETED or
// FAILED. The provisional ledger transfer already happened at execution
// time; completion here is the authoritative confirmation, and failure
// reverses the transfer, restoring both brokers' balances. A failed
// settlement is never retried automatically.
type Service struct {
	db     *Database
	ledger *ledger.Service

	// Serializes finalization so a scheduler tick racing a manual
	// trigger cannot double-apply a reversal.
	mu sync.Mutex
}

func NewService(gormDB *gorm.DB, ledgerService *ledger.Service) *Service {
	return &Service{
		db:     NewDatabase(gormDB),
		ledger: ledgerService,
	}
}

// SettleTrade finalizes the settlement for a trade. It is idempotent:
// a trade already COMPLETED or FAILED returns its recorded outcome with
// no further ledger movement.
func (s *Service) SettleTrade(tradeID string) (*types.Settlement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	logger := log.With().
		Str("service", "settlement").
		Str("trade_id", tradeID).
		Logger()

	settlement, err := s.db.GetSettlementByTradeID(tradeID)
	if err != nil {
		return nil, err
	}
	if settlement == nil {
		return nil, types.ErrTradeNotFound
	}
	if settlement.Status != types.SettlementPending {
		logger.Debug().
			Str("status", string(settlement.Status)).
			Msg("settlement already finalized, returning recorded outcome")
		return settlement, nil
	}

	trade, err := s.db.GetTrade(tradeID)
	if err != nil {
		return nil, err
	}
	if trade == nil {
		return nil, types.ErrTradeNotFound
	}

	if reason := s.verify(trade); reason != "" {
		return s.fail(settlement, trade, reason)
	}

	// Confirmation: totals moved at execution time, so completion only
	// computes the net amount and flips both statuses.
	settlement.NetAmount = trade.Quantity.Mul(trade.Price).Sub(trade.TotalFees())
	settlement.Status = types.SettlementCompleted
	now := time.Now()
	trade.Status = types.TradeSettled
	trade.SettlementTime = &now

	if err := s.db.Finalize(settlement, trade); err != nil {
		return nil, err
	}

	logger.Info().
		Str("settlement_id", settlement.SettlementID).
		Str("net_amount", settlement.NetAmount.String()).
		Msg("settlement completed")
	return settlement, nil
}

// verify runs the pre-completion checks. An empty string means the
// settlement may complete; otherwise the returned reason fails it.
func (s *Service) verify(trade *types.Trade) string {
	for _, brokerID := range []string{trade.BuyerBrokerID, trade.SellerBrokerID} {
		broker, err := s.db.GetBroker(brokerID)
		if err != nil || broker == nil {
			return ReasonCounterpartyDefault
		}
		if broker.Status != types.BrokerActive {
			return ReasonCounterpartyDefault
		}
	}
	return ""
}

// fail marks the settlement FAILED and reverses the provisional
// transfer: cash returns from seller to buyer, securities from buyer to
// seller, both as available balance.
func (s *Service) fail(settlement *types.Settlement, trade *types.Trade, reason string) (*types.Settlement, error) {
	logger := log.With().
		Str("service", "settlement").
		Str("trade_id", trade.TradeID).
		Str("reason", reason).
		Logger()

	cost := trade.Price.Mul(trade.Quantity)
	if err := s.ledger.ReverseCashTransfer(trade.BuyerBrokerID, trade.SellerBrokerID, trade.Currency, cost); err != nil {
		logger.Error().Err(err).Msg("cash reversal failed, settlement left pending for manual remediation")
		return nil, err
	}
	if err := s.ledger.ReverseSecuritiesTransfer(trade.SellerBrokerID, trade.BuyerBrokerID, trade.Symbol, trade.Quantity); err != nil {
		logger.Error().Err(err).Msg("security reversal failed, settlement left pending for manual remediation")
		return nil, err
	}

	settlement.Status = types.SettlementFailed
	settlement.FailureReason = reason
	trade.Status = types.TradeFailed

	if err := s.db.Finalize(settlement, trade); err != nil {
		return nil, err
	}

	logger.Warn().
		Str("settlement_id", settlement.SettlementID).
		Msg("settlement failed and provisional transfer reversed")

	return settlement, &types.SettlementFailedError{TradeID: trade.TradeID, Reason: reason}
}

// GetByTradeID returns the settlement row for a trade.
func (s *Service) GetByTradeID(tradeID string) (*types.Settlement, error) {
	settlement, err := s.db.GetSettlementByTradeID(tradeID)
	if err != nil {
		return nil, err
	}
	if settlement == nil {
		return nil, types.ErrTradeNotFound
	}
	return settlement, nil
}

// DB exposes the settlement database for the processor.
func (s *Service) DB() *Database {
	return s.db
}
