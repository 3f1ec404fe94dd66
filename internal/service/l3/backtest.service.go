package l3_service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"symphonybacktest/internal/calculator"
	"symphonybacktest/internal/domain"
	"symphonybacktest/internal/logger"
	l1_service "symphonybacktest/internal/service/l1"
	l2_service "symphonybacktest/internal/service/l2"
	"symphonybacktest/internal/util"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

const (
	DefaultMaxBacktestDays  = 5000
	DefaultBenchmarkSymbol  = "SPY"
	defaultInitialCapital   = 10000.0
	backtestProgressLogStep = 250
)

type BacktestService interface {
	RunBacktest(ctx context.Context, in BacktestInput) (*BacktestResult, error)
}

type DayProgress struct {
	Index int
	Total int
	Date  time.Time
	NAV   float64
}

type BacktestInput struct {
	Strategy           *domain.Strategy `validate:"required"`
	Start              time.Time        `validate:"required"`
	End                time.Time        `validate:"required"`
	InitialCapital     float64          `validate:"gte=0"`
	TransactionCostBps float64          `validate:"gte=0,lte=10000"`
	Options            domain.Options

	// Rebalance overrides the strategy's own policy when set.
	Rebalance        *domain.RebalancePolicy
	IncludeBenchmark bool
	BenchmarkSymbol  string
	MaxDays          int `validate:"gte=0"`

	OnDay func(DayProgress)
}

type BenchmarkResult struct {
	Symbol     string                        `json:"symbol"`
	Series     []domain.DayRecord            `json:"series"`
	Metrics    calculator.PerformanceMetrics `json:"metrics"`
	Regression *calculator.Regression        `json:"regression,omitempty"`
}

type BacktestResult struct {
	RunID           uuid.UUID                     `json:"runId"`
	Series          []domain.DayRecord            `json:"series"`
	Allocations     []domain.AllocationRecord     `json:"allocations"`
	Metrics         calculator.PerformanceMetrics `json:"metrics"`
	FinalAllocation []domain.Position             `json:"finalAllocation"`
	FinalHoldings   []domain.Position             `json:"finalHoldings"`
	Benchmark       *BenchmarkResult              `json:"benchmark,omitempty"`
	Diagnostics     *domain.Diagnostics           `json:"diagnostics"`
	EarliestStart   time.Time                     `json:"earliestStart"`
	Rebalance       string                        `json:"rebalance"`
	Profile         *domain.Profile               `json:"profile,omitempty"`
}

type backtestServiceHandler struct {
	PriceService l1_service.PriceService
	Validate     *validator.Validate
	Now          func() time.Time
}

func NewBacktestService(priceService l1_service.PriceService) BacktestService {
	return &backtestServiceHandler{
		PriceService: priceService,
		Validate:     validator.New(),
		Now:          time.Now,
	}
}

// WarmupBars is how many aligned sessions must precede the first
// simulated day so every indicator is defined at its decision index.
func WarmupBars(stats domain.StrategyStats) int {
	bars := stats.MaxWindow + 1
	if stats.HasCompositeScoring {
		bars += stats.CompositeMaxWindow + 1 + windowPaddingBars
	}
	if bars < 1 {
		bars = 1
	}
	return bars
}

func (h backtestServiceHandler) RunBacktest(ctx context.Context, in BacktestInput) (*BacktestResult, error) {
	if err := h.Validate.Struct(in); err != nil {
		return nil, fmt.Errorf("invalid backtest input: %w", err)
	}
	opts := in.Options.WithDefaults()
	if err := h.Validate.Struct(opts); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}
	start := util.DateOnly(in.Start)
	end := util.DateOnly(in.End)
	if end.Before(start) {
		return nil, fmt.Errorf("backtest end %s is before start %s", domain.DateKey(end), domain.DateKey(start))
	}
	maxDays := in.MaxDays
	if maxDays == 0 {
		maxDays = DefaultMaxBacktestDays
	}
	if int(end.Sub(start).Hours()/24) > util.TradingDaysToCalendarDays(maxDays) {
		e := domain.NewEvalError(domain.ErrorKind_BacktestRangeTooLarge, "backtest spans more than %d trading days", maxDays)
		return nil, e
	}
	capital := in.InitialCapital
	if capital == 0 {
		capital = defaultInitialCapital
	}
	policy := in.Strategy.Rebalance
	if in.Rebalance != nil {
		policy = *in.Rebalance
	}

	runID := uuid.New()
	profile := domain.NewProfile()
	ctx = domain.WithProfile(ctx, profile)
	log := logger.FromContext(ctx).With("runID", runID.String(), "strategy", in.Strategy.Name)
	ctx = logger.WithContext(ctx, log)

	stats := in.Strategy.Stats()
	warmup := WarmupBars(stats)
	seedBars := warmup + windowPaddingBars
	if stats.HasRSI {
		seedBars += rsiWarmupBars
	}

	// history only needs to be complete through end
	asOf := end.AddDate(0, 0, 1)
	if now := h.Now(); asOf.After(now) {
		asOf = now
	}

	diagnostics := domain.NewDiagnostics()
	loaded, err := loadUniverse(ctx, h.PriceService, loadUniverseInput{
		Symbols:     in.Strategy.Symbols(),
		Start:       start.AddDate(0, 0, -util.TradingDaysToCalendarDays(seedBars)),
		End:         end,
		AsOf:        asOf,
		Options:     opts,
		Diagnostics: diagnostics,
	})
	if err != nil {
		return nil, err
	}
	universe := loaded.Universe

	profile.StartStage("simulate")
	startIndex := sort.Search(universe.Len(), func(i int) bool {
		return !universe.Axis[i].Before(start)
	})
	if universe.Len() <= warmup {
		e := domain.NewEvalError(domain.ErrorKind_BacktestRangeTooEarly,
			"only %d sessions of history are available, %d are needed before the first simulated day", universe.Len(), warmup)
		e.Window = warmup
		return nil, e
	}
	earliest := universe.Axis[warmup]
	if startIndex < warmup {
		e := domain.NewEvalError(domain.ErrorKind_BacktestRangeTooEarly,
			"start %s leaves fewer than %d warmup sessions; earliest feasible start is %s",
			domain.DateKey(start), warmup, domain.DateKey(earliest))
		e.Window = warmup
		e.EarliestStart = &earliest
		return nil, e
	}
	endIndex := universe.Len() - 1
	for endIndex >= startIndex && universe.Axis[endIndex].After(end) {
		endIndex--
	}
	if endIndex < startIndex {
		return nil, domain.NewMissingDataError(copyReasons(diagnostics.Missing),
			"no sessions between %s and %s", domain.DateKey(start), domain.DateKey(end))
	}
	if endIndex-startIndex+1 > maxDays {
		return nil, domain.NewEvalError(domain.ErrorKind_BacktestRangeTooLarge,
			"backtest spans %d trading days, more than the %d allowed", endIndex-startIndex+1, maxDays)
	}
	if universe.Axis[endIndex].Before(end) {
		diagnostics.AddNote("history ends %s, before the requested end %s", domain.DateKey(universe.Axis[endIndex]), domain.DateKey(end))
	}

	sim, err := simulate(ctx, simulateInput{
		Strategy:    in.Strategy,
		Universe:    universe,
		Config:      l2_service.ConfigFromOptions(opts),
		Policy:      policy,
		StartIndex:  startIndex,
		EndIndex:    endIndex,
		CostBps:     in.TransactionCostBps,
		Capital:     capital,
		SameDay:     opts.ParityMode,
		OnDay:       in.OnDay,
		Diagnostics: diagnostics,
	})
	if err != nil {
		return nil, err
	}

	result := &BacktestResult{
		RunID:           runID,
		Series:          sim.Records,
		Allocations:     sim.Allocations,
		Metrics:         calculator.CalculatePerformance(sim.Records),
		FinalAllocation: sim.FinalAllocation,
		FinalHoldings:   weightsToPositions(sim.FinalWeights),
		Diagnostics:     diagnostics,
		EarliestStart:   earliest,
		Rebalance:       policy.String(),
		Profile:         profile,
	}

	if in.IncludeBenchmark {
		profile.StartStage("benchmark")
		symbol := in.BenchmarkSymbol
		if symbol == "" {
			symbol = DefaultBenchmarkSymbol
		}
		benchmark, err := h.runBenchmark(ctx, symbol, universe, startIndex, endIndex, opts)
		if err != nil {
			log.Warnf("skipping benchmark %s: %s", symbol, err.Error())
			diagnostics.AddNote("benchmark %s unavailable: %s", symbol, err.Error())
		} else {
			portfolioReturns := make([]float64, 0, len(sim.Records))
			for _, r := range sim.Records {
				portfolioReturns = append(portfolioReturns, r.DailyReturn)
			}
			benchmarkReturns := make([]float64, 0, len(benchmark.Series))
			for _, r := range benchmark.Series {
				benchmarkReturns = append(benchmarkReturns, r.DailyReturn)
			}
			if reg, ok := calculator.BenchmarkRegression(portfolioReturns, benchmarkReturns); ok {
				benchmark.Regression = &reg
			}
			result.Benchmark = benchmark
		}
	}

	profile.End()
	log.Infof("backtest finished: %d days, total return %.4f", len(sim.Records), result.Metrics.TotalReturn)
	return result, nil
}

// runBenchmark reuses the strategy's history when it already holds the
// benchmark and otherwise loads it onto the same axis.
func (h backtestServiceHandler) runBenchmark(
	ctx context.Context,
	symbol string,
	universe *domain.AlignedUniverse,
	startIndex, endIndex int,
	opts domain.Options,
) (*BenchmarkResult, error) {
	series, ok := universe.Series[symbol]
	if !ok {
		res, err := h.PriceService.LoadSeries(ctx, l1_service.LoadSeriesInput{
			Symbols:    []string{symbol},
			Start:      universe.Axis[0],
			End:        universe.Axis[len(universe.Axis)-1],
			Adjustment: opts.DataAdjustment,
			Source:     opts.PriceSource,
			CacheOnly:  opts.CacheOnly,
		})
		if err != nil {
			return nil, err
		}
		raw, ok := res.Series[symbol]
		if !ok {
			return nil, fmt.Errorf("no price history: %s", res.Missing[symbol])
		}
		series = l1_service.AlignToAxis(symbol, raw.Bars, universe.Axis)
		if series == nil {
			return nil, fmt.Errorf("history does not overlap the backtest")
		}
	}

	benchUniverse := &domain.AlignedUniverse{
		AxisSymbol: universe.AxisSymbol,
		Axis:       universe.Axis,
		Series:     map[string]*domain.AlignedSeries{symbol: series},
	}
	nav := 1.0
	records := []domain.DayRecord{}
	for i := startIndex; i <= endIndex; i++ {
		ret := benchUniverse.Return(symbol, i)
		nav *= 1 + ret
		records = append(records, domain.DayRecord{
			Date:        universe.Axis[i],
			NAV:         nav,
			DailyReturn: ret,
		})
	}
	return &BenchmarkResult{
		Symbol:  symbol,
		Series:  records,
		Metrics: calculator.CalculatePerformance(records),
	}, nil
}

func weightsToPositions(w domain.Weights) []domain.Position {
	out := []domain.Position{}
	for _, symbol := range w.SortedSymbols() {
		if w[symbol] <= 0 {
			continue
		}
		out = append(out, domain.Position{Symbol: symbol, Weight: w[symbol]})
	}
	return out
}
