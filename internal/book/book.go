package book

import (
	"sync"

	"github.com/google/btree"
	"github.com/shopspring/decimal"

	"github.com/meridianex/exchange-core/internal/types"
)

// Entry is a single order resting on the book. Only LIMIT orders in
// PENDING or PARTIAL with remaining quantity rest here.
type Entry struct {
	Price    decimal.Decimal
	Sequence uint64
	OrderID  string
	Order    *types.Order
}

// bidLess orders the bid side by price descending, then arrival sequence
// ascending, so Min() is the best bid (highest price, earliest arrival).
func bidLess(a, b Entry) bool {
	switch a.Price.Cmp(b.Price) {
	case 1:
		return true
	case -1:
		return false
	}
	return a.Sequence < b.Sequence
}

// askLess orders the ask side by price ascending, then arrival sequence
// ascending, so Min() is the best ask (lowest price, earliest arrival).
func askLess(a, b Entry) bool {
	switch a.Price.Cmp(b.Price) {
	case -1:
		return true
	case 1:
		return false
	}
	return a.Sequence < b.Sequence
}

// Book maintains the two priority structures for a single instrument,
// with a secondary index for removal by order ID. The embedded mutex is
// the per-instrument serialization point: the matching engine holds it
// for an order's entire matching pass.
type Book struct {
	symbol string
	mu     sync.Mutex
	bids   *btree.BTreeG[Entry]
	asks   *btree.BTreeG[Entry]
	index  map[string]Entry
}

func New(symbol string) *Book {
	const degree = 32
	return &Book{
		symbol: symbol,
		bids:   btree.NewG[Entry](degree, bidLess),
		asks:   btree.NewG[Entry](degree, askLess),
		index:  make(map[string]Entry),
	}
}

func (b *Book) Symbol() string {
	return b.symbol
}

// Lock acquires the per-instrument serialization lock.
func (b *Book) Lock() {
	b.mu.Lock()
}

// Unlock releases the per-instrument serialization lock.
func (b *Book) Unlock() {
	b.mu.Unlock()
}

// Insert rests a limit order on its side of the book.
func (b *Book) Insert(order *types.Order) {
	entry := Entry{
		Price:    order.Price,
		Sequence: order.Sequence,
		OrderID:  order.OrderID,
		Order:    order,
	}
	if order.Side == types.SideBuy {
		b.bids.ReplaceOrInsert(entry)
	} else {
		b.asks.ReplaceOrInsert(entry)
	}
	b.index[order.OrderID] = entry
}

// Remove deletes an order from the book by ID. It is a no-op for orders
// not resting on the book.
func (b *Book) Remove(orderID string) {
	entry, ok := b.index[orderID]
	if !ok {
		return
	}
	delete(b.index, orderID)
	if entry.Order.Side == types.SideBuy {
		b.bids.Delete(entry)
	} else {
		b.asks.Delete(entry)
	}
}

// Get returns the resting entry for an order ID, if present.
func (b *Book) Get(orderID string) (Entry, bool) {
	entry, ok := b.index[orderID]
	return entry, ok
}

// BestBid returns the highest-priority bid.
func (b *Book) BestBid() (Entry, bool) {
	return b.bids.Min()
}

// BestAsk returns the highest-priority ask.
func (b *Book) BestAsk() (Entry, bool) {
	return b.asks.Min()
}

// BestOpposite returns the best resting order on the side opposite the
// given one.
func (b *Book) BestOpposite(side types.OrderSide) (Entry, bool) {
	if side == types.SideBuy {
		return b.BestAsk()
	}
	return b.BestBid()
}

// WalkOpposite iterates the opposite side in priority order. The callback
// returns true to continue. Used to simulate fillability for FOK orders
// and to estimate the cost of MARKET buys.
func (b *Book) WalkOpposite(side types.OrderSide, fn func(Entry) bool) {
	if side == types.SideBuy {
		b.asks.Ascend(fn)
	} else {
		b.bids.Ascend(fn)
	}
}

// Crosses reports whether an incoming order at price would trade against
// a resting order at restingPrice. MARKET orders cross unconditionally;
// LIMIT buys cross at or above the ask, LIMIT sells at or below the bid.
func Crosses(orderType types.OrderType, side types.OrderSide, price, restingPrice decimal.Decimal) bool {
	if orderType == types.OrderTypeMarket {
		return true
	}
	if side == types.SideBuy {
		return price.GreaterThanOrEqual(restingPrice)
	}
	return price.LessThanOrEqual(restingPrice)
}

// Depth returns the number of resting orders on each side.
func (b *Book) Depth() (bids, asks int) {
	return b.bids.Len(), b.asks.Len()
}

// Manager is a thread-safe map of symbol to Book.
type Manager struct {
	mu    sync.RWMutex
	books map[string]*Book
}

func NewManager() *Manager {
	return &Manager{books: make(map[string]*Book)}
}

// GetOrCreate returns the book for a symbol, creating it on first use.
func (m *Manager) GetOrCreate(symbol string) *Book {
	m.mu.RLock()
	b, ok := m.books[symbol]
	m.mu.RUnlock()
	if ok {
		return b
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok = m.books[symbol]; ok {
		return b
	}
	b = New(symbol)
	m.books[symbol] = b
	return b
}
