package book

import (
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"pgregory.net/rapid"

	"github.com/meridianex/exchange-core/internal/types"
)

// The best bid must always be the maximum price among resting bids, with
// the lowest sequence breaking ties, no matter the insertion and removal
// order.
func TestBestBidInvariant(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		b := New("AAPL")
		resting := make(map[string]*types.Order)

		ops := rapid.IntRange(1, 100).Draw(t, "ops")
		seq := uint64(0)
		for i := 0; i < ops; i++ {
			if len(resting) == 0 || rapid.Float64Range(0, 1).Draw(t, fmt.Sprintf("op%d", i)) < 0.7 {
				seq++
				id := fmt.Sprintf("o%d", seq)
				price := rapid.Int64Range(900, 1100).Draw(t, fmt.Sprintf("price%d", i))
				order := limitOrder(id, types.SideBuy, decimal.NewFromInt(price).Div(decimal.NewFromInt(100)).String(), 1, seq)
				b.Insert(order)
				resting[id] = order
			} else {
				var victim string
				for id := range resting {
					victim = id
					break
				}
				b.Remove(victim)
				delete(resting, victim)
			}

			best, ok := b.BestBid()
			if len(resting) == 0 {
				if ok {
					t.Fatalf("empty book returned best bid %s", best.OrderID)
				}
				continue
			}
			if !ok {
				t.Fatalf("non-empty book returned no best bid")
			}

			for id, order := range resting {
				if order.Price.GreaterThan(best.Price) {
					t.Fatalf("order %s at %s beats reported best %s at %s",
						id, order.Price, best.OrderID, best.Price)
				}
				if order.Price.Equal(best.Price) && order.Sequence < best.Sequence {
					t.Fatalf("order %s (seq %d) has time priority over reported best %s (seq %d)",
						id, order.Sequence, best.OrderID, best.Sequence)
				}
			}
		}
	})
}

// Depth must always equal the number of resting orders per side, and the
// index must agree with the trees.
func TestDepthMatchesIndex(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		b := New("AAPL")
		inserted := make(map[string]types.OrderSide)

		n := rapid.IntRange(0, 50).Draw(t, "n")
		for i := 0; i < n; i++ {
			side := types.SideBuy
			if rapid.Bool().Draw(t, fmt.Sprintf("side%d", i)) {
				side = types.SideSell
			}
			id := fmt.Sprintf("o%d", i)
			b.Insert(limitOrder(id, side, "10.00", 1, uint64(i+1)))
			inserted[id] = side
		}

		removals := rapid.IntRange(0, n).Draw(t, "removals")
		i := 0
		for id := range inserted {
			if i >= removals {
				break
			}
			b.Remove(id)
			delete(inserted, id)
			i++
		}

		wantBids, wantAsks := 0, 0
		for id, side := range inserted {
			if _, ok := b.Get(id); !ok {
				t.Fatalf("inserted order %s missing from index", id)
			}
			if side == types.SideBuy {
				wantBids++
			} else {
				wantAsks++
			}
		}
		bids, asks := b.Depth()
		if bids != wantBids || asks != wantAsks {
			t.Fatalf("depth (%d, %d), want (%d, %d)", bids, asks, wantBids, wantAsks)
		}
	})
}
