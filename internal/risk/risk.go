package risk

import (
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/meridianex/exchange-core/internal/ledger"
	"github.com/meridianex/exchange-core/internal/types"
)

// Rejection reasons recorded on the audit trail.
const (
	ReasonInstrumentNotFound  = "instrument not found"
	ReasonInstrumentNotActive = "instrument not active"
	ReasonBrokerNotFound      = "broker not found"
	ReasonBrokerNotActive     = "broker not active"
	ReasonTickSize            = "price not a multiple of tick size"
	ReasonLotSize             = "quantity not a multiple of lot size"
	ReasonPositionLimit       = "projected position exceeds limit"
	ReasonOrderValueLimit     = "order value exceeds limit"
	ReasonMarginExceeded      = "required margin exceeds available cash"
)

// Service validates an incoming order against instrument and broker
// status, position limits, order value limits, and margin requirements
// before it may enter the book. The first failing check produces the
// rejection reason.
type Service struct {
	db     *Database
	ledger *ledger.Service
}

func NewService(gormDB *gorm.DB, ledgerService *ledger.Service) *Service {
	return &Service{
		db:     NewDatabase(gormDB),
		ledger: ledgerService,
	}
}

// Instrument returns the instrument row for a symbol, or nil when it
// does not exist.
func (s *Service) Instrument(symbol string) (*types.Instrument, error) {
	return s.db.GetInstrument(symbol)
}

// ValidateShape checks the order's schema-level shape. A failure here
// means the order is malformed and is never created.
func ValidateShape(order *types.Order) *types.ValidationError {
	if order.BrokerID == "" {
		return &types.ValidationError{Reason: "broker_id is required"}
	}
	if order.Symbol == "" {
		return &types.ValidationError{Reason: "symbol is required"}
	}
	switch order.Side {
	case types.SideBuy, types.SideSell:
	default:
		return &types.ValidationError{Reason: "side must be BUY or SELL"}
	}
	switch order.Type {
	case types.OrderTypeLimit:
		if !order.Price.IsPositive() {
			return &types.ValidationError{Reason: "limit orders require a positive price"}
		}
	case types.OrderTypeMarket:
		if !order.Price.IsZero() {
			return &types.ValidationError{Reason: "market orders must not carry a price"}
		}
	default:
		return &types.ValidationError{Reason: "order type must be LIMIT or MARKET"}
	}
	switch order.TimeInForce {
	case types.TIFGoodTillCancelled, types.TIFImmediateOrCancel, types.TIFFillOrKill:
	default:
		return &types.ValidationError{Reason: "time in force must be GTC, IOC or FOK"}
	}
	if !order.OriginalQuantity.IsPositive() {
		return &types.ValidationError{Reason: "quantity must be positive"}
	}
	return nil
}

// Validate runs the pre-trade checks in order and returns the instrument
// on success. referencePrice is the price used for MARKET order notional
// (best opposite price at submission time; zero when the book is empty,
// in which case the match loop cancels the order anyway).
func (s *Service) Validate(order *types.Order, referencePrice decimal.Decimal) (*types.Instrument, error) {
	logger := log.With().
		Str("service", "risk").
		Str("order_id", order.OrderID).
		Str("broker_id", order.BrokerID).
		Str("symbol", order.Symbol).
		Logger()

	instrument, err := s.db.GetInstrument(order.Symbol)
	if err != nil {
		return nil, err
	}
	if instrument == nil {
		return nil, &types.RiskRejectionError{Reason: ReasonInstrumentNotFound}
	}
	if instrument.Status != types.InstrumentActive {
		return nil, &types.RiskRejectionError{Reason: ReasonInstrumentNotActive}
	}

	broker, err := s.db.GetBroker(order.BrokerID)
	if err != nil {
		return nil, err
	}
	if broker == nil {
		return nil, &types.RiskRejectionError{Reason: ReasonBrokerNotFound}
	}
	if broker.Status != types.BrokerActive {
		return nil, &types.RiskRejectionError{Reason: ReasonBrokerNotActive}
	}

	if order.Type == types.OrderTypeLimit && instrument.TickSize.IsPositive() {
		if !order.Price.Mod(instrument.TickSize).IsZero() {
			return nil, &types.RiskRejectionError{Reason: ReasonTickSize}
		}
	}
	if instrument.LotSize > 1 {
		if !order.OriginalQuantity.Mod(decimal.NewFromInt(instrument.LotSize)).IsZero() {
			return nil, &types.RiskRejectionError{Reason: ReasonLotSize}
		}
	}

	notionalPrice := order.Price
	if order.Type == types.OrderTypeMarket {
		notionalPrice = referencePrice
	}
	notional := notionalPrice.Mul(order.OriginalQuantity)

	limit, err := s.db.GetPositionLimit(order.BrokerID, order.Symbol)
	if err != nil {
		return nil, err
	}
	if limit != nil {
		if order.Side == types.SideBuy && limit.MaxPosition.IsPositive() {
			position, err := s.ledger.SecurityPosition(order.BrokerID, order.Symbol)
			if err != nil {
				return nil, err
			}
			projected := position.TotalQuantity.Add(order.OriginalQuantity)
			if projected.GreaterThan(limit.MaxPosition) {
				logger.Info().
					Str("projected", projected.String()).
					Str("max_position", limit.MaxPosition.String()).
					Msg("position limit breached")
				return nil, &types.RiskRejectionError{Reason: ReasonPositionLimit}
			}
		}
		if limit.MaxOrderValue.IsPositive() && notional.GreaterThan(limit.MaxOrderValue) {
			logger.Info().
				Str("notional", notional.String()).
				Str("max_order_value", limit.MaxOrderValue.String()).
				Msg("order value limit breached")
			return nil, &types.RiskRejectionError{Reason: ReasonOrderValueLimit}
		}
	}

	margin, err := s.db.GetMarginRequirement(instrument.Type)
	if err != nil {
		return nil, err
	}
	if margin != nil && margin.InitialMarginPct.IsPositive() {
		required := notional.Mul(margin.InitialMarginPct).Div(decimal.NewFromInt(100))
		cash, err := s.ledger.CashPosition(order.BrokerID, instrument.Currency)
		if err != nil {
			return nil, err
		}
		if required.GreaterThan(cash.Available()) {
			logger.Info().
				Str("required_margin", required.String()).
				Str("available_cash", cash.Available().String()).
				Msg("margin requirement breached")
			return nil, &types.RiskRejectionError{Reason: ReasonMarginExceeded}
		}
	}

	return instrument, nil
}
