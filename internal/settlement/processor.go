package settlement

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/meridianex/exchange-core/internal/types"
)

// Processor is the scheduler driving due settlements through the state
// machine. It runs until its context is cancelled.
type Processor struct {
	service      *Service
	processDelay time.Duration
}

func NewProcessor(service *Service, processDelay time.Duration) *Processor {
	if processDelay <= 0 {
		processDelay = time.Minute
	}
	return &Processor{
		service:      service,
		processDelay: processDelay,
	}
}

// Start begins the settlement processing loop.
func (p *Processor) Start(ctx context.Context) {
	logger := log.With().Str("component", "settlement_processor").Logger()
	logger.Info().Dur("interval", p.processDelay).Msg("starting settlement processor")

	ticker := time.NewTicker(p.processDelay)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down settlement processor")
			return
		case <-ticker.C:
			if err := p.ProcessDue(time.Now()); err != nil {
				logger.Error().Err(err).Msg("failed to process due settlements")
			}
		}
	}
}

// ProcessDue finalizes every PENDING settlement whose date has arrived.
// Individual failures are terminal for that trade only and never stop
// the sweep.
func (p *Processor) ProcessDue(now time.Time) error {
	logger := log.With().Str("component", "settlement_processor").Logger()

	due, err := p.service.DB().ListDue(now)
	if err != nil {
		return err
	}
	if len(due) == 0 {
		return nil
	}
	logger.Info().Int("due_count", len(due)).Msg("processing due settlements")

	for _, settlement := range due {
		_, err := p.service.SettleTrade(settlement.TradeID)
		if err != nil {
			var failed *types.SettlementFailedError
			if errors.As(err, &failed) {
				// Already recorded; surfaced for manual remediation.
				continue
			}
			logger.Error().
				Err(err).
				Str("trade_id", settlement.TradeID).
				Msg("settlement finalization error")
		}
	}
	return nil
}
