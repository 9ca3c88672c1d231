package settlement

import (
	"time"

	"github.com/meridianex/exchange-core/internal/types"
)

// CycleFor maps an instrument type to its settlement cycle and computes
// the settlement date from the execution time. Commodities settle same
// day (cash settlement), bonds T+1, equities and ETFs T+2.
func CycleFor(instrumentType types.InstrumentType, executionTime time.Time) (types.SettlementType, time.Time) {
	switch instrumentType {
	case types.InstrumentCommodity:
		return types.SettlementCash, executionTime
	case types.InstrumentBond:
		return types.SettlementT1, executionTime.Add(24 * time.Hour)
	default:
		return types.SettlementT2, executionTime.Add(2 * 24 * time.Hour)
	}
}
