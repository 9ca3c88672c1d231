package matching

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/meridianex/exchange-core/internal/audit"
	"github.com/meridianex/exchange-core/internal/book"
	"github.com/meridianex/exchange-core/internal/fees"
	"github.com/meridianex/exchange-core/internal/ledger"
	"github.com/meridianex/exchange-core/internal/risk"
	"github.com/meridianex/exchange-core/internal/settlement"
	"github.com/meridianex/exchange-core/internal/types"
)

// Cancellation and status-transition reasons recorded on the audit trail.
const (
	ReasonAccepted     = "order accepted"
	ReasonFilled       = "order fully filled"
	ReasonPartialFill  = "partial fill"
	ReasonFOKUnfilled  = "FOK order not fully fillable"
	ReasonIOCRemainder = "IOC remainder cancelled"
	ReasonNoLiquidity  = "no liquidity"
	ReasonOCOSibling   = "OCO sibling executed"
	ReasonReservation  = "reservation failed"
)

// Config carries the engine's policy switches.
type Config struct {
	// AllowSelfTrade permits a broker's order to match its own resting
	// order. When false, same-broker resting orders are skipped, which
	// preserves price-time priority for other participants.
	AllowSelfTrade bool
}

// SubmitRequest is the boundary operation payload for order submission.
type SubmitRequest struct {
	BrokerID      string              `json:"broker_id"`
	Symbol        string              `json:"symbol"`
	Type          types.OrderType     `json:"order_type"`
	Side          types.OrderSide     `json:"side"`
	TimeInForce   types.TimeInForce   `json:"time_in_force"`
	Price         decimal.Decimal     `json:"price"`
	Quantity      decimal.Decimal     `json:"quantity"`
	ClientOrderID string              `json:"client_order_id"`
	ParentOrderID string              `json:"parent_order_id"`
}

// Engine is the per-instrument matching engine. Submissions for one
// instrument are serialized by that instrument's book lock; different
// instruments match fully in parallel. The ledger provides its own
// per-(broker, asset) exclusion, so cross-instrument balance traffic
// stays consistent.
type Engine struct {
	cfg    Config
	db     *Database
	books  *book.Manager
	ledger *ledger.Service
	risk   *risk.Service
	audit  *audit.Service
	fees   fees.Schedule
	seq    atomic.Uint64
}

func NewEngine(gormDB *gorm.DB, cfg Config, books *book.Manager, ledgerService *ledger.Service, riskService *risk.Service, auditService *audit.Service, schedule fees.Schedule) *Engine {
	return &Engine{
		cfg:    cfg,
		db:     NewDatabase(gormDB),
		books:  books,
		ledger: ledgerService,
		risk:   riskService,
		audit:  auditService,
		fees:   schedule,
	}
}

// LoadOpenOrders rebuilds the in-memory books from persisted open LIMIT
// orders and restores the arrival sequence counter. Called once at
// startup before the engine accepts traffic.
func (e *Engine) LoadOpenOrders() error {
	maxSeq, err := e.db.MaxSequence()
	if err != nil {
		return err
	}
	e.seq.Store(maxSeq)

	orders, err := e.db.ListOpenLimitOrders()
	if err != nil {
		return err
	}
	for i := range orders {
		order := orders[i]
		b := e.books.GetOrCreate(order.Symbol)
		b.Lock()
		b.Insert(&order)
		b.Unlock()
	}
	log.Info().Int("open_orders", len(orders)).Msg("order books rebuilt from storage")
	return nil
}

// SubmitOrder runs the full submission pipeline: shape validation, risk
// validation, ledger reservation, the matching pass, time-in-force
// policy, and OCO linkage. The whole pass for one order executes under
// the instrument's serialization lock.
func (e *Engine) SubmitOrder(req SubmitRequest) (*types.Order, error) {
	order := &types.Order{
		BrokerID:          req.BrokerID,
		Symbol:            req.Symbol,
		Type:              req.Type,
		Side:              req.Side,
		TimeInForce:       req.TimeInForce,
		Price:             req.Price,
		OriginalQuantity:  req.Quantity,
		RemainingQuantity: req.Quantity,
		ClientOrderID:     req.ClientOrderID,
		ParentOrderID:     req.ParentOrderID,
		Status:            types.OrderPending,
	}
	// Market orders never rest, so they are IOC-like unconditionally.
	if order.Type == types.OrderTypeMarket {
		order.TimeInForce = types.TIFImmediateOrCancel
	}

	if verr := risk.ValidateShape(order); verr != nil {
		return nil, verr
	}

	// Resubmission with the same client order ID returns the original
	// order instead of creating a duplicate.
	if req.ClientOrderID != "" {
		existing, err := e.db.GetOrderByClientOrderID(req.BrokerID, req.ClientOrderID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return existing, nil
		}
	}

	b := e.books.GetOrCreate(order.Symbol)
	b.Lock()
	order, ocoSiblings, err := e.submitLocked(b, order)
	b.Unlock()

	// OCO sibling cancellation happens outside the instrument lock: the
	// sibling may rest on a different book, and CancelOrder takes that
	// book's lock itself.
	for _, siblingID := range ocoSiblings {
		if _, cerr := e.CancelOrder(siblingID, audit.ActorMatchingEngine, ReasonOCOSibling); cerr != nil {
			if !errors.Is(cerr, types.ErrOrderNotCancellable) && !errors.Is(cerr, types.ErrOrderNotFound) {
				log.Error().Err(cerr).Str("order_id", siblingID).Msg("failed to cancel OCO sibling")
			}
		}
	}

	return order, err
}

func (e *Engine) submitLocked(b *book.Book, order *types.Order) (*types.Order, []string, error) {
	logger := log.With().
		Str("service", "matching").
		Str("symbol", order.Symbol).
		Str("broker_id", order.BrokerID).
		Str("side", string(order.Side)).
		Logger()

	order.OrderID = "ORD_" + uuid.New().String()
	order.Sequence = e.seq.Add(1)

	referencePrice := decimal.Zero
	if order.Type == types.OrderTypeMarket {
		if best, ok := b.BestOpposite(order.Side); ok {
			referencePrice = best.Price
		}
	}

	instrument, err := e.risk.Validate(order, referencePrice)
	if err != nil {
		var rejection *types.RiskRejectionError
		if errors.As(err, &rejection) {
			logger.Info().Str("reason", rejection.Reason).Msg("order rejected by risk engine")
			return e.rejectOrder(order, rejection.Reason), nil, err
		}
		return nil, nil, err
	}

	// Step 1: reserve funds or securities.
	reserved, err := e.reserve(b, order, instrument)
	if err != nil {
		if errors.Is(err, types.ErrInsufficientFunds) || errors.Is(err, types.ErrInsufficientSecurities) {
			logger.Info().Err(err).Msg("order rejected on reservation")
			return e.rejectOrder(order, err.Error()), nil, err
		}
		return nil, nil, err
	}

	if err := e.db.CreateOrder(order); err != nil {
		// The reservation must not outlive a failed submission.
		e.releaseReservation(order, reserved)
		return nil, nil, err
	}
	e.audit.Record(order.OrderID, "", types.OrderPending, audit.ActorMatchingEngine, ReasonAccepted)

	// FOK fillability is decided before any trade is committed, so an
	// unfillable order rolls back nothing.
	if order.TimeInForce == types.TIFFillOrKill {
		if e.fillableQuantity(b, order).LessThan(order.RemainingQuantity) {
			e.releaseReservation(order, reserved)
			e.transition(order, types.OrderCancelled, ReasonFOKUnfilled)
			if err := e.db.UpdateOrder(order); err != nil {
				return nil, nil, err
			}
			return order, e.ocoSiblings(order), nil
		}
	}

	// Steps 2-5: the matching loop.
	var terminalResting []*types.Order
	for order.RemainingQuantity.IsPositive() {
		entry, ok := e.bestCrossable(b, order)
		if !ok {
			break
		}
		resting := entry.Order

		spent, err := e.executeFill(b, order, resting, instrument)
		if err != nil {
			return nil, nil, err
		}
		reserved = reserved.Sub(spent)

		if resting.Status == types.OrderFilled {
			b.Remove(resting.OrderID)
			terminalResting = append(terminalResting, resting)
		}
	}

	// Step 6: time-in-force policy for the remainder.
	if order.RemainingQuantity.IsPositive() {
		switch order.TimeInForce {
		case types.TIFGoodTillCancelled:
			b.Insert(order)
		default:
			e.releaseReservation(order, reserved)
			reason := ReasonIOCRemainder
			if order.RemainingQuantity.Equal(order.OriginalQuantity) {
				reason = ReasonNoLiquidity
			}
			e.transition(order, types.OrderCancelled, reason)
		}
	}

	if err := e.db.UpdateOrder(order); err != nil {
		return nil, nil, err
	}

	logger.Info().
		Str("order_id", order.OrderID).
		Str("status", string(order.Status)).
		Str("remaining", order.RemainingQuantity.String()).
		Msg("matching pass completed")

	return order, e.ocoSiblings(append([]*types.Order{order}, terminalResting...)...), nil
}

// ocoSiblings collects the sibling order IDs whose OCO partner reached
// a terminal fill or cancel during this pass. The link is resolved in
// both directions: through the terminal order's own ParentOrderID and
// through open orders that name the terminal order as their parent.
// Rejected orders do not trigger their sibling.
func (e *Engine) ocoSiblings(terminals ...*types.Order) []string {
	var siblings []string
	seen := make(map[string]bool)
	add := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			siblings = append(siblings, id)
		}
	}
	for _, terminal := range terminals {
		if terminal.Status != types.OrderFilled && terminal.Status != types.OrderCancelled {
			continue
		}
		add(terminal.ParentOrderID)
		children, err := e.db.ListOpenChildOrders(terminal.OrderID)
		if err != nil {
			log.Error().Err(err).Str("order_id", terminal.OrderID).Msg("failed to look up OCO children")
			continue
		}
		for _, child := range children {
			add(child.OrderID)
		}
	}
	return siblings
}

// reserve locks the funds or securities backing the order. For buys the
// amount is price x quantity, or the marketable estimate for MARKET
// orders; for sells it is the order quantity. The returned amount is
// what remains reserved and not yet consumed by fills.
func (e *Engine) reserve(b *book.Book, order *types.Order, instrument *types.Instrument) (decimal.Decimal, error) {
	if order.Side == types.SideSell {
		if err := e.ledger.ReserveSecurities(order.BrokerID, order.Symbol, order.OriginalQuantity); err != nil {
			return decimal.Zero, err
		}
		return order.OriginalQuantity, nil
	}

	amount := order.Price.Mul(order.OriginalQuantity)
	if order.Type == types.OrderTypeMarket {
		amount = e.marketBuyEstimate(b, order)
		if amount.IsZero() {
			return decimal.Zero, nil
		}
	}
	if err := e.ledger.ReserveCash(order.BrokerID, instrument.Currency, amount); err != nil {
		return decimal.Zero, err
	}
	return amount, nil
}

// releaseReservation returns the unconsumed part of a reservation.
func (e *Engine) releaseReservation(order *types.Order, reserved decimal.Decimal) {
	if !reserved.IsPositive() {
		return
	}
	var err error
	if order.Side == types.SideSell {
		err = e.ledger.ReleaseSecurities(order.BrokerID, order.Symbol, reserved)
	} else {
		err = e.ledger.ReleaseCash(order.BrokerID, e.currencyFor(order), reserved)
	}
	if err != nil {
		log.Error().Err(err).Str("order_id", order.OrderID).Msg("failed to release reservation")
	}
}

// currencyFor resolves the trade currency for an order's instrument.
func (e *Engine) currencyFor(order *types.Order) string {
	instrument, err := e.risk.Instrument(order.Symbol)
	if err != nil || instrument == nil {
		return "USD"
	}
	return instrument.Currency
}

// marketBuyEstimate walks the ask side and prices out the order's
// fillable quantity at current depth.
func (e *Engine) marketBuyEstimate(b *book.Book, order *types.Order) decimal.Decimal {
	cost := decimal.Zero
	remaining := order.RemainingQuantity
	b.WalkOpposite(order.Side, func(entry book.Entry) bool {
		if !e.cfg.AllowSelfTrade && entry.Order.BrokerID == order.BrokerID {
			return true
		}
		qty := decimal.Min(remaining, entry.Order.RemainingQuantity)
		cost = cost.Add(entry.Price.Mul(qty))
		remaining = remaining.Sub(qty)
		return remaining.IsPositive()
	})
	return cost
}

// fillableQuantity simulates the match loop read-only and returns how
// much of the order could fill against current depth.
func (e *Engine) fillableQuantity(b *book.Book, order *types.Order) decimal.Decimal {
	available := decimal.Zero
	remaining := order.RemainingQuantity
	b.WalkOpposite(order.Side, func(entry book.Entry) bool {
		if !book.Crosses(order.Type, order.Side, order.Price, entry.Price) {
			return false
		}
		if !e.cfg.AllowSelfTrade && entry.Order.BrokerID == order.BrokerID {
			return true
		}
		qty := decimal.Min(remaining, entry.Order.RemainingQuantity)
		available = available.Add(qty)
		remaining = remaining.Sub(qty)
		return remaining.IsPositive()
	})
	return available
}

// bestCrossable returns the highest-priority resting order the incoming
// order trades against, honoring the self-trade policy.
func (e *Engine) bestCrossable(b *book.Book, order *types.Order) (book.Entry, bool) {
	var found book.Entry
	ok := false
	b.WalkOpposite(order.Side, func(entry book.Entry) bool {
		if !book.Crosses(order.Type, order.Side, order.Price, entry.Price) {
			return false
		}
		if !e.cfg.AllowSelfTrade && entry.Order.BrokerID == order.BrokerID {
			return true
		}
		found = entry
		ok = true
		return false
	})
	return found, ok
}

// executeFill performs one fill between the incoming order and the best
// crossable resting order: trade and settlement rows, both orders'
// quantity and status updates, the provisional ledger transfer, and
// audit entries. Returns the amount of the incoming order's reservation
// consumed by this fill.
func (e *Engine) executeFill(b *book.Book, order, resting *types.Order, instrument *types.Instrument) (decimal.Decimal, error) {
	// Execution price is always the resting order's price: price
	// improvement goes to the aggressor.
	price := resting.Price
	quantity := decimal.Min(order.RemainingQuantity, resting.RemainingQuantity)
	cost := price.Mul(quantity)
	notional := cost

	buyOrder, sellOrder := order, resting
	if order.Side == types.SideSell {
		buyOrder, sellOrder = resting, order
	}

	now := time.Now()
	trade := &types.Trade{
		TradeID:        "TRD_" + uuid.New().String(),
		Symbol:         instrument.Symbol,
		Currency:       instrument.Currency,
		BuyerOrderID:   buyOrder.OrderID,
		SellerOrderID:  sellOrder.OrderID,
		BuyerBrokerID:  buyOrder.BrokerID,
		SellerBrokerID: sellOrder.BrokerID,
		Price:          price,
		Quantity:       quantity,
		BuyerFee:       e.fees.BuyerFee(notional),
		SellerFee:      e.fees.SellerFee(notional),
		ExchangeFee:    e.fees.ExchangeFee(notional),
		ClearingFee:    e.fees.ClearingFee(notional),
		ExecutionTime:  now,
		Status:         types.TradePendingSettlement,
	}

	settlementType, settlementDate := settlement.CycleFor(instrument.Type, now)
	settlementRow := &types.Settlement{
		SettlementID:   "STL_" + uuid.New().String(),
		TradeID:        trade.TradeID,
		Type:           settlementType,
		Status:         types.SettlementPending,
		Currency:       instrument.Currency,
		SettlementDate: settlementDate,
	}

	// Price improvement on a limit buy aggressor: the reservation was
	// taken at the limit price, the fill executes at the resting price.
	consumed := cost
	if order.Side == types.SideBuy && order.Type == types.OrderTypeLimit {
		improvement := order.Price.Sub(price).Mul(quantity)
		if improvement.IsPositive() {
			if err := e.ledger.ReleaseCash(buyOrder.BrokerID, instrument.Currency, improvement); err != nil {
				return decimal.Zero, err
			}
			consumed = consumed.Add(improvement)
		}
	}

	// Provisional transfer: locked cash moves buyer -> seller, locked
	// securities move seller -> buyer. Settlement later confirms or
	// reverses these movements.
	if err := e.ledger.TransferCash(buyOrder.BrokerID, sellOrder.BrokerID, instrument.Currency, cost); err != nil {
		return decimal.Zero, err
	}
	if err := e.ledger.TransferSecurities(sellOrder.BrokerID, buyOrder.BrokerID, instrument.Symbol, quantity); err != nil {
		return decimal.Zero, err
	}

	oldOrderStatus, oldRestingStatus := order.Status, resting.Status
	order.RemainingQuantity = order.RemainingQuantity.Sub(quantity)
	resting.RemainingQuantity = resting.RemainingQuantity.Sub(quantity)
	order.Status = fillStatus(order)
	resting.Status = fillStatus(resting)

	if err := e.db.RecordFill(order, resting, trade, settlementRow); err != nil {
		e.unwindFill(order, resting, buyOrder, sellOrder, instrument, quantity, cost, consumed, oldOrderStatus, oldRestingStatus)
		return decimal.Zero, err
	}
	e.auditFill(order, oldOrderStatus)
	e.auditFill(resting, oldRestingStatus)

	log.Info().
		Str("service", "matching").
		Str("trade_id", trade.TradeID).
		Str("symbol", trade.Symbol).
		Str("price", price.String()).
		Str("quantity", quantity.String()).
		Str("buyer_order_id", trade.BuyerOrderID).
		Str("seller_order_id", trade.SellerOrderID).
		Msg("trade executed")

	if order.Side == types.SideSell {
		return quantity, nil
	}
	return consumed, nil
}

func fillStatus(order *types.Order) types.OrderStatus {
	if order.RemainingQuantity.IsZero() {
		return types.OrderFilled
	}
	return types.OrderPartial
}

func (e *Engine) auditFill(order *types.Order, oldStatus types.OrderStatus) {
	reason := ReasonPartialFill
	if order.Status == types.OrderFilled {
		reason = ReasonFilled
	}
	e.audit.Record(order.OrderID, oldStatus, order.Status, audit.ActorMatchingEngine, reason)
}

// unwindFill compensates a fill whose rows did not commit: both ledger
// transfers are reversed, the reservations retaken, and the in-memory
// orders restored to their pre-fill state. The buyer's cash reservation
// is retaken at the consumed amount so any price-improvement release is
// undone with it.
func (e *Engine) unwindFill(order, resting, buyOrder, sellOrder *types.Order, instrument *types.Instrument, quantity, cost, consumed decimal.Decimal, oldOrderStatus, oldRestingStatus types.OrderStatus) {
	logger := log.With().
		Str("service", "matching").
		Str("order_id", order.OrderID).
		Str("resting_order_id", resting.OrderID).
		Logger()

	cashRestore := cost
	if order.Side == types.SideBuy && order.Type == types.OrderTypeLimit {
		cashRestore = consumed
	}
	if err := e.ledger.ReverseCashTransfer(buyOrder.BrokerID, sellOrder.BrokerID, instrument.Currency, cost); err != nil {
		logger.Error().Err(err).Msg("failed to reverse cash transfer while unwinding fill")
	} else if err := e.ledger.ReserveCash(buyOrder.BrokerID, instrument.Currency, cashRestore); err != nil {
		logger.Error().Err(err).Msg("failed to retake cash reservation while unwinding fill")
	}
	if err := e.ledger.ReverseSecuritiesTransfer(sellOrder.BrokerID, buyOrder.BrokerID, instrument.Symbol, quantity); err != nil {
		logger.Error().Err(err).Msg("failed to reverse security transfer while unwinding fill")
	} else if err := e.ledger.ReserveSecurities(sellOrder.BrokerID, instrument.Symbol, quantity); err != nil {
		logger.Error().Err(err).Msg("failed to retake security reservation while unwinding fill")
	}

	order.RemainingQuantity = order.RemainingQuantity.Add(quantity)
	resting.RemainingQuantity = resting.RemainingQuantity.Add(quantity)
	order.Status = oldOrderStatus
	resting.Status = oldRestingStatus
}

// transition applies a status change and audits it. Persistence is the
// caller's responsibility.
func (e *Engine) transition(order *types.Order, newStatus types.OrderStatus, reason string) {
	oldStatus := order.Status
	order.Status = newStatus
	e.audit.Record(order.OrderID, oldStatus, newStatus, audit.ActorMatchingEngine, reason)
}

// rejectOrder persists the order in REJECTED state with the reason on
// the audit trail. Rejection is terminal.
func (e *Engine) rejectOrder(order *types.Order, reason string) *types.Order {
	order.Status = types.OrderRejected
	if err := e.db.CreateOrder(order); err != nil {
		log.Error().Err(err).Str("order_id", order.OrderID).Msg("failed to persist rejected order")
	}
	e.audit.Record(order.OrderID, types.OrderPending, types.OrderRejected, audit.ActorRiskEngine, reason)
	return order
}

// CancelOrder cancels a PENDING or PARTIAL order: the remaining
// reservation is released, the order leaves the book, and the
// transition is audited. A cancel racing a match on the same order is
// resolved by the instrument lock; the loser observes the terminal
// state and gets ErrOrderNotCancellable.
func (e *Engine) CancelOrder(orderID, actor, reason string) (*types.Order, error) {
	order, err := e.db.GetOrder(orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, types.ErrOrderNotFound
	}

	b := e.books.GetOrCreate(order.Symbol)
	b.Lock()
	defer b.Unlock()

	// Reload under the lock: a concurrent matching pass may have won the
	// race and already advanced the order.
	order, err = e.db.GetOrder(orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, types.ErrOrderNotFound
	}
	if order.Status.Terminal() {
		return order, types.ErrOrderNotCancellable
	}

	// Prefer the live book entry so the in-memory and persisted order
	// stay the same object for subsequent passes.
	if entry, ok := b.Get(order.OrderID); ok {
		order = entry.Order
	}
	b.Remove(order.OrderID)

	if order.RemainingQuantity.IsPositive() {
		if order.Side == types.SideSell {
			if err := e.ledger.ReleaseSecurities(order.BrokerID, order.Symbol, order.RemainingQuantity); err != nil {
				log.Error().Err(err).Str("order_id", order.OrderID).Msg("failed to release security reservation on cancel")
			}
		} else {
			amount := order.Price.Mul(order.RemainingQuantity)
			if err := e.ledger.ReleaseCash(order.BrokerID, e.currencyFor(order), amount); err != nil {
				log.Error().Err(err).Str("order_id", order.OrderID).Msg("failed to release cash reservation on cancel")
			}
		}
	}

	oldStatus := order.Status
	order.Status = types.OrderCancelled
	if err := e.db.UpdateOrder(order); err != nil {
		return nil, err
	}
	e.audit.Record(order.OrderID, oldStatus, types.OrderCancelled, actor, reason)

	log.Info().
		Str("service", "matching").
		Str("order_id", order.OrderID).
		Str("actor", actor).
		Str("reason", reason).
		Msg("order cancelled")

	return order, nil
}

// GetOrder returns an order snapshot by ID.
func (e *Engine) GetOrder(orderID string) (*types.Order, error) {
	order, err := e.db.GetOrder(orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, types.ErrOrderNotFound
	}
	return order, nil
}

// ListTrades returns the trades an order participated in.
func (e *Engine) ListTrades(orderID string) ([]types.Trade, error) {
	return e.db.ListTradesByOrder(orderID)
}

// ListOpenOrders returns all PENDING and PARTIAL orders.
func (e *Engine) ListOpenOrders() ([]types.Order, error) {
	return e.db.ListOpenOrders()
}

// ListPendingSettlementTrades returns trades that have executed but not
// yet settled.
func (e *Engine) ListPendingSettlementTrades() ([]types.Trade, error) {
	return e.db.ListPendingSettlementTrades()
}
