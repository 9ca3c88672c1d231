package main

import (
	"fmt"
	"math"
	"math/rand"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/meridianex/exchange-core/internal/audit"
	"github.com/meridianex/exchange-core/internal/book"
	"github.com/meridianex/exchange-core/internal/database"
	"github.com/meridianex/exchange-core/internal/fees"
	"github.com/meridianex/exchange-core/internal/ledger"
	"github.com/meridianex/exchange-core/internal/matching"
	"github.com/meridianex/exchange-core/internal/risk"
	"github.com/meridianex/exchange-core/internal/settlement"
	"github.com/meridianex/exchange-core/internal/types"
)

const (
	minOrders  = 50
	maxOrders  = 300
	numWorkers = 5
)

var (
	symbols = []string{"AAPL", "GOOGL", "MSFT", "AMZN", "META"}
	sides   = []types.OrderSide{types.SideBuy, types.SideSell}
	tifs    = []types.TimeInForce{types.TIFGoodTillCancelled, types.TIFGoodTillCancelled, types.TIFImmediateOrCancel, types.TIFFillOrKill}
)

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// opStats tracks performance statistics for an engine operation
type opStats struct {
	mu         sync.Mutex
	name       string
	durations  []time.Duration
	totalCalls int
	failures   int
}

// addDuration records a new duration measurement for the operation
func (os *opStats) addDuration(d time.Duration) {
	os.mu.Lock()
	defer os.mu.Unlock()
	os.durations = append(os.durations, d)
	os.totalCalls++
}

func (os *opStats) addFailure() {
	os.mu.Lock()
	defer os.mu.Unlock()
	os.failures++
}

// calculate computes performance statistics from recorded durations
// Returns min, max, mean, median, 95th percentile, and 99th percentile durations
func (os *opStats) calculate() (min, max, mean, median, p95, p99 time.Duration) {
	if len(os.durations) == 0 {
		return 0, 0, 0, 0, 0, 0
	}

	sort.Slice(os.durations, func(i, j int) bool {
		return os.durations[i] < os.durations[j]
	})

	min = os.durations[0]
	max = os.durations[len(os.durations)-1]

	var sum time.Duration
	for _, d := range os.durations {
		sum += d
	}
	mean = sum / time.Duration(len(os.durations))

	median = os.durations[len(os.durations)/2]

	p95idx := int(math.Ceil(float64(len(os.durations))*0.95)) - 1
	p99idx := int(math.Ceil(float64(len(os.durations))*0.99)) - 1
	p95 = os.durations[p95idx]
	p99 = os.durations[p99idx]

	return
}

// simulation drives the exchange in-process: an engine, its settlement
// service, and a set of seeded broker accounts.
type simulation struct {
	engine     *matching.Engine
	settlement *settlement.Service
	ledger     *ledger.Service
	brokers    []string
	stats      map[string]*opStats
}

// newSimulation initializes the engine over a throwaway database and
// seeds instruments, brokers, balances and margin requirements.
func newSimulation() (*simulation, error) {
	db, err := database.NewDatabase("simulation.db")
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	ledgerService := ledger.NewService(db)
	riskService := risk.NewService(db, ledgerService)
	auditService := audit.NewService(db)
	books := book.NewManager()

	engine := matching.NewEngine(db, matching.Config{}, books, ledgerService, riskService, auditService, fees.DefaultSchedule())
	settlementService := settlement.NewService(db, ledgerService)

	sim := &simulation{
		engine:     engine,
		settlement: settlementService,
		ledger:     ledgerService,
		stats: map[string]*opStats{
			"submit": {name: "Submit Order"},
			"cancel": {name: "Cancel Order"},
			"settle": {name: "Settle Trade"},
		},
	}

	// Seed instruments
	for _, symbol := range symbols {
		instrument := &types.Instrument{
			Symbol:   symbol,
			Name:     symbol + " Common Stock",
			Type:     types.InstrumentStock,
			Currency: "USD",
			TickSize: decimal.NewFromFloat(0.01),
			LotSize:  1,
			Status:   types.InstrumentActive,
		}
		if err := db.Where("symbol = ?", symbol).FirstOrCreate(instrument).Error; err != nil {
			return nil, err
		}
	}

	// Seed brokers with cash and securities on both sides of the market
	for i := 0; i < numWorkers; i++ {
		brokerID := fmt.Sprintf("BRK_SIM_%d", i)
		broker := &types.Broker{
			BrokerID: brokerID,
			Name:     fmt.Sprintf("Simulation Broker %d", i),
			Status:   types.BrokerActive,
		}
		if err := db.Where("broker_id = ?", brokerID).FirstOrCreate(broker).Error; err != nil {
			return nil, err
		}
		sim.brokers = append(sim.brokers, brokerID)

		if err := ledgerService.Deposit(brokerID, "USD", decimal.NewFromInt(10_000_000)); err != nil {
			return nil, err
		}
		for _, symbol := range symbols {
			if err := ledgerService.DepositSecurities(brokerID, symbol, decimal.NewFromInt(50_000)); err != nil {
				return nil, err
			}
		}
	}

	// A blanket margin requirement so risk checks have something to bite on
	margin := &types.MarginRequirement{
		InstrumentType:   types.InstrumentStock,
		InitialMarginPct: decimal.NewFromInt(25),
	}
	if err := db.Where("instrument_type = ?", types.InstrumentStock).FirstOrCreate(margin).Error; err != nil {
		return nil, err
	}

	return sim, nil
}

// submitOrder submits a randomized order for the given worker's broker.
func (sim *simulation) submitOrder(workerID int) (*types.Order, error) {
	start := time.Now()
	defer func() {
		sim.stats["submit"].addDuration(time.Since(start))
	}()

	symbol := symbols[rand.Intn(len(symbols))]
	side := sides[rand.Intn(len(sides))]

	orderType := types.OrderTypeLimit
	tif := tifs[rand.Intn(len(tifs))]
	price := decimal.NewFromFloat(float64(rand.Intn(2000)+8000) / 100) // 80.00 - 100.00
	if rand.Intn(10) == 0 {
		orderType = types.OrderTypeMarket
		price = decimal.Zero
	}

	req := matching.SubmitRequest{
		BrokerID:    sim.brokers[workerID%len(sim.brokers)],
		Symbol:      symbol,
		Side:        side,
		Type:        orderType,
		TimeInForce: tif,
		Price:       price,
		Quantity:    decimal.NewFromInt(int64(rand.Intn(100) + 1)),
	}

	order, err := sim.engine.SubmitOrder(req)
	if err != nil {
		sim.stats["submit"].addFailure()
		return order, err
	}
	return order, nil
}

// settleDue pushes every pending settlement through the state machine.
func (sim *simulation) settleDue() (settled, failed int) {
	trades, err := sim.engine.ListPendingSettlementTrades()
	if err != nil {
		log.Error().Err(err).Msg("Failed to list pending trades")
		return 0, 0
	}

	for _, trade := range trades {
		start := time.Now()
		result, err := sim.settlement.SettleTrade(trade.TradeID)
		sim.stats["settle"].addDuration(time.Since(start))
		if err != nil {
			sim.stats["settle"].addFailure()
			failed++
			continue
		}
		if result.Status == types.SettlementCompleted {
			settled++
		}
	}
	return settled, failed
}

// printPerformanceStats outputs formatted performance statistics for all engine operations
func (sim *simulation) printPerformanceStats() {
	fmt.Println("\nEngine Performance Statistics")
	fmt.Println(strings.Repeat("-", 100))
	fmt.Printf("%-20s %10s %10s %10s %10s %10s %10s %10s %10s\n",
		"Operation", "Calls", "Errors", "Min", "Max", "Mean", "Median", "P95", "P99")
	fmt.Println(strings.Repeat("-", 100))

	for _, stats := range sim.stats {
		min, max, mean, median, p95, p99 := stats.calculate()
		fmt.Printf("%-20s %10d %10d %10s %10s %10s %10s %10s %10s\n",
			stats.name,
			stats.totalCalls,
			stats.failures,
			min.Round(time.Microsecond),
			max.Round(time.Microsecond),
			mean.Round(time.Microsecond),
			median.Round(time.Microsecond),
			p95.Round(time.Microsecond),
			p99.Round(time.Microsecond))
	}
	fmt.Println(strings.Repeat("-", 100))
}

// main runs the exchange simulation with multiple concurrent submitters.
func main() {
	sim, err := newSimulation()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize simulation")
	}

	targetOrders := rand.Intn(maxOrders-minOrders) + minOrders
	log.Info().Int("target_orders", targetOrders).Msg("Starting simulation")

	type outcome struct {
		order *types.Order
		err   error
	}
	outcomes := make(chan outcome, targetOrders)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for j := 0; j < targetOrders/numWorkers; j++ {
				order, err := sim.submitOrder(workerID)
				outcomes <- outcome{order: order, err: err}

				// Random sleep between orders
				time.Sleep(time.Duration(rand.Intn(20)) * time.Millisecond)
			}
		}(i)
	}

	wg.Wait()
	close(outcomes)

	stats := struct {
		TotalOrders    int
		Accepted       int
		Filled         int
		Cancelled      int
		Rejected       int
		SettledTrades  int
		FailedSettles  int
		TotalValue     decimal.Decimal
		StartTime      time.Time
		Symbols        map[string]int
		Sides          map[types.OrderSide]int
	}{
		StartTime: time.Now(),
		Symbols:   make(map[string]int),
		Sides:     make(map[types.OrderSide]int),
	}

	for o := range outcomes {
		stats.TotalOrders++
		if o.err != nil && o.order == nil {
			stats.Rejected++
			continue
		}
		if o.order == nil {
			continue
		}

		stats.Symbols[o.order.Symbol]++
		stats.Sides[o.order.Side]++

		switch o.order.Status {
		case types.OrderFilled:
			stats.Filled++
			filled := o.order.OriginalQuantity.Sub(o.order.RemainingQuantity)
			stats.TotalValue = stats.TotalValue.Add(o.order.Price.Mul(filled))
		case types.OrderCancelled:
			stats.Cancelled++
		case types.OrderRejected:
			stats.Rejected++
		default:
			stats.Accepted++
		}
	}

	log.Info().Int("orders_submitted", stats.TotalOrders).Msg("All orders submitted")

	// Cancel a handful of resting orders to exercise the cancel path
	cancelled := sim.cancelSomeResting()
	log.Info().Int("cancelled", cancelled).Msg("Cancelled resting orders")

	// Drive everything pending through settlement
	stats.SettledTrades, stats.FailedSettles = sim.settleDue()

	duration := time.Since(stats.StartTime)
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("EXCHANGE SIMULATION SUMMARY")
	fmt.Println(strings.Repeat("=", 80))

	fmt.Printf(`
Order Statistics
------------------
Total Orders:     %d
Resting:          %d
Filled:           %d
Cancelled:        %d
Rejected:         %d
Settled Trades:   %d
Failed Settles:   %d
Filled Value:     $%s
Duration:         %v

Symbol Distribution
--------------------
`, stats.TotalOrders, stats.Accepted, stats.Filled, stats.Cancelled, stats.Rejected,
		stats.SettledTrades, stats.FailedSettles,
		stats.TotalValue.StringFixed(2), duration.Round(time.Millisecond))

	// Print symbol distribution with simple ASCII bar chart
	maxSymbolCount := 0
	for _, count := range stats.Symbols {
		if count > maxSymbolCount {
			maxSymbolCount = count
		}
	}

	for symbol, count := range stats.Symbols {
		barLength := 0
		if maxSymbolCount > 0 {
			barLength = int(float64(count) / float64(maxSymbolCount) * 20)
		}
		bar := strings.Repeat("#", barLength)
		fmt.Printf("%-6s: %s (%d)\n", symbol, bar, count)
	}

	fmt.Println("\nSide Distribution")
	fmt.Println("------------------")
	for side, count := range stats.Sides {
		barLength := int(float64(count) / float64(stats.TotalOrders) * 20)
		bar := strings.Repeat("#", barLength)
		fmt.Printf("%-4s: %s (%d)\n", side, bar, count)
	}

	fmt.Println("\n" + strings.Repeat("=", 80))

	log.Info().
		Int("total_orders", stats.TotalOrders).
		Int("settled_trades", stats.SettledTrades).
		Str("filled_value", stats.TotalValue.StringFixed(2)).
		Dur("duration", duration).
		Msg("Simulation completed")

	sim.printPerformanceStats()
}

// cancelSomeResting cancels a random sample of still-open orders so the
// run exercises reservation release alongside fills.
func (sim *simulation) cancelSomeResting() int {
	open, err := sim.engine.ListOpenOrders()
	if err != nil {
		log.Error().Err(err).Msg("Failed to list open orders")
		return 0
	}

	cancelled := 0
	for _, order := range open {
		if rand.Intn(4) != 0 {
			continue
		}
		start := time.Now()
		_, err := sim.engine.CancelOrder(order.OrderID, "simulation", "random cancel")
		sim.stats["cancel"].addDuration(time.Since(start))
		if err != nil {
			sim.stats["cancel"].addFailure()
			continue
		}
		cancelled++
	}
	return cancelled
}
