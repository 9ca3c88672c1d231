package fees

import "github.com/shopspring/decimal"

// Schedule computes the per-trade fees charged to each party. All
// amounts are in the trade currency and may be zero.
type Schedule interface {
	BuyerFee(notional decimal.Decimal) decimal.Decimal
	SellerFee(notional decimal.Decimal) decimal.Decimal
	ExchangeFee(notional decimal.Decimal) decimal.Decimal
	ClearingFee(notional decimal.Decimal) decimal.Decimal
}

// BasisPointSchedule charges a flat number of basis points of the trade
// notional to each party. The zero value charges nothing.
type BasisPointSchedule struct {
	BuyerBps    int64
	SellerBps   int64
	ExchangeBps int64
	ClearingBps int64
}

// DefaultSchedule mirrors the fee tiers charged by the primary venue:
// 10bps per side, 5bps exchange, 3bps clearing.
func DefaultSchedule() BasisPointSchedule {
	return BasisPointSchedule{
		BuyerBps:    10,
		SellerBps:   10,
		ExchangeBps: 5,
		ClearingBps: 3,
	}
}

var bpsDivisor = decimal.NewFromInt(10000)

func bps(notional decimal.Decimal, points int64) decimal.Decimal {
	if points == 0 {
		return decimal.Zero
	}
	return notional.Mul(decimal.NewFromInt(points)).Div(bpsDivisor)
}

func (s BasisPointSchedule) BuyerFee(notional decimal.Decimal) decimal.Decimal {
	return bps(notional, s.BuyerBps)
}

func (s BasisPointSchedule) SellerFee(notional decimal.Decimal) decimal.Decimal {
	return bps(notional, s.SellerBps)
}

func (s BasisPointSchedule) ExchangeFee(notional decimal.Decimal) decimal.Decimal {
	return bps(notional, s.ExchangeBps)
}

func (s BasisPointSchedule) ClearingFee(notional decimal.Decimal) decimal.Decimal {
	return bps(notional, s.ClearingBps)
}
