package l3_service

import (
	"context"
	"testing"
	"time"

	"symphonybacktest/internal/domain"
	"symphonybacktest/internal/util"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

const switchingScript = `["defsymphony", "Switching", {},
	["if", [">", ["current-price", "AAA"], ["moving-average-price", "AAA", {":window": 2}]],
		[["asset", "AAA"]],
		[["asset", "BBB"]]]]`

func oscillating(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		switch {
		case i == 0:
			out[i] = 100
		case i%2 == 1:
			out[i] = 101
		default:
			out[i] = 99
		}
	}
	return out
}

func newBacktestHandler(closes map[string][]float64) backtestServiceHandler {
	priceService, _ := newMemoryPriceService(closes)
	h := NewBacktestService(priceService).(*backtestServiceHandler)
	h.Now = fixedNow(util.NewDate(2020, 6, 1))
	return *h
}

func Test_backtestServiceHandler_RunBacktest(t *testing.T) {
	ctx := context.Background()

	t.Run("equal weight over a rising and a flat asset", func(t *testing.T) {
		h := newBacktestHandler(map[string][]float64{
			"AAA": linear(100, 1, 40),
			"BBB": linear(100, 0, 40),
		})
		result, err := h.RunBacktest(ctx, BacktestInput{
			Strategy:       mustParse(t, `["weight-equal", [["asset", "AAA"], ["asset", "BBB"]]]`),
			Start:          util.NewDate(2020, 1, 2),
			End:            util.NewDate(2020, 2, 9),
			InitialCapital: 10000,
			Options:        memoryOptions(),
		})
		require.NoError(t, err)

		require.Len(t, result.Series, 39)
		require.Equal(t, util.NewDate(2020, 1, 2), result.Series[0].Date)
		require.Equal(t, util.NewDate(2020, 2, 9), result.Series[len(result.Series)-1].Date)
		require.Greater(t, result.Series[len(result.Series)-1].NAV, result.Series[0].NAV)
		require.Greater(t, result.Metrics.TotalReturn, 0.0)
		require.Equal(t, 39, result.Metrics.TradingDays)
		for _, r := range result.Series {
			require.GreaterOrEqual(t, r.NAV, 0.0)
			require.InDelta(t, r.NAV*10000, r.Value, 1e-6)
		}

		first := result.Allocations[0]
		require.True(t, first.Rebalanced)
		require.InDelta(t, 0.5, first.Weights["AAA"], 1e-12)
		require.InDelta(t, 0.5, first.Weights["BBB"], 1e-12)
		require.Equal(t, "daily", result.Rebalance)
		require.Len(t, result.FinalAllocation, 2)
		require.NotEqual(t, uuid.Nil, result.RunID)
	})

	t.Run("start before warmup names the earliest feasible start", func(t *testing.T) {
		h := newBacktestHandler(map[string][]float64{
			"AAA": oscillating(22),
			"BBB": linear(100, 0, 22),
		})
		_, err := h.RunBacktest(ctx, BacktestInput{
			Strategy: mustParse(t, switchingScript),
			Start:    util.NewDate(2020, 1, 1),
			End:      util.NewDate(2020, 1, 20),
			Options:  memoryOptions(),
		})
		require.Error(t, err)
		require.True(t, domain.IsErrorKind(err, domain.ErrorKind_BacktestRangeTooEarly))

		evalErr := err.(*domain.EvalError)
		require.NotNil(t, evalErr.EarliestStart)
		// window 2 needs 3 sessions before the first simulated day
		require.Equal(t, util.NewDate(2020, 1, 4), *evalErr.EarliestStart)
		require.Contains(t, err.Error(), "2020-01-04")
	})

	t.Run("range larger than the ceiling", func(t *testing.T) {
		h := newBacktestHandler(map[string][]float64{
			"AAA": linear(100, 1, 40),
		})
		_, err := h.RunBacktest(ctx, BacktestInput{
			Strategy: mustParse(t, `["asset", "AAA"]`),
			Start:    util.NewDate(2020, 1, 2),
			End:      util.NewDate(2020, 2, 9),
			MaxDays:  10,
			Options:  memoryOptions(),
		})
		require.True(t, domain.IsErrorKind(err, domain.ErrorKind_BacktestRangeTooLarge))
	})

	t.Run("transaction costs lower nav", func(t *testing.T) {
		closes := map[string][]float64{
			"AAA": oscillating(22),
			"BBB": linear(100, 0, 22),
		}
		run := func(bps float64) *BacktestResult {
			h := newBacktestHandler(closes)
			result, err := h.RunBacktest(ctx, BacktestInput{
				Strategy:           mustParse(t, switchingScript),
				Start:              util.NewDate(2020, 1, 10),
				End:                util.NewDate(2020, 1, 22),
				TransactionCostBps: bps,
				Options:            memoryOptions(),
			})
			require.NoError(t, err)
			return result
		}
		baseline := run(0)
		withCosts := run(50)
		require.Less(t,
			withCosts.Series[len(withCosts.Series)-1].NAV,
			baseline.Series[len(baseline.Series)-1].NAV,
		)
	})

	t.Run("threshold zero matches daily", func(t *testing.T) {
		h := newBacktestHandler(map[string][]float64{
			"AAA": oscillating(22),
			"BBB": linear(100, 0, 22),
		})
		in := BacktestInput{
			Strategy: mustParse(t, switchingScript),
			Start:    util.NewDate(2020, 1, 10),
			End:      util.NewDate(2020, 1, 22),
			Options:  memoryOptions(),
		}
		daily := domain.DailyRebalance()
		in.Rebalance = &daily
		dailyResult, err := h.RunBacktest(ctx, in)
		require.NoError(t, err)

		threshold := domain.ThresholdRebalance(0)
		in.Rebalance = &threshold
		thresholdResult, err := h.RunBacktest(ctx, in)
		require.NoError(t, err)

		require.Equal(t, len(dailyResult.Allocations), len(thresholdResult.Allocations))
		for i := range dailyResult.Allocations {
			require.Equal(t,
				nonZero(dailyResult.Allocations[i].Weights),
				nonZero(thresholdResult.Allocations[i].Weights),
				"day %d", i,
			)
			require.Equal(t, dailyResult.Series[i].NAV, thresholdResult.Series[i].NAV)
		}
	})

	t.Run("benchmark regression", func(t *testing.T) {
		spy := make([]float64, 40)
		spy[0] = 300
		for i := 1; i < 40; i++ {
			if i%2 == 0 {
				spy[i] = spy[i-1] * 1.01
			} else {
				spy[i] = spy[i-1] * 0.995
			}
		}
		h := newBacktestHandler(map[string][]float64{
			"AAA": spy,
			"SPY": spy,
		})
		result, err := h.RunBacktest(ctx, BacktestInput{
			Strategy:         mustParse(t, `["asset", "AAA"]`),
			Start:            util.NewDate(2020, 1, 5),
			End:              util.NewDate(2020, 2, 9),
			IncludeBenchmark: true,
			Options:          memoryOptions(),
		})
		require.NoError(t, err)
		require.NotNil(t, result.Benchmark)
		require.Equal(t, "SPY", result.Benchmark.Symbol)
		require.Len(t, result.Benchmark.Series, len(result.Series))
		require.NotNil(t, result.Benchmark.Regression)
		require.InDelta(t, 1.0, result.Benchmark.Regression.Beta, 1e-9)
		require.InDelta(t, 1.0, result.Benchmark.Regression.Correlation, 1e-9)
	})

	t.Run("progress callback sees every day", func(t *testing.T) {
		h := newBacktestHandler(map[string][]float64{
			"AAA": linear(100, 1, 20),
		})
		seen := []DayProgress{}
		result, err := h.RunBacktest(ctx, BacktestInput{
			Strategy: mustParse(t, `["asset", "AAA"]`),
			Start:    util.NewDate(2020, 1, 3),
			End:      util.NewDate(2020, 1, 20),
			Options:  memoryOptions(),
			OnDay: func(p DayProgress) {
				seen = append(seen, p)
			},
		})
		require.NoError(t, err)
		require.Len(t, seen, len(result.Series))
		require.Equal(t, len(result.Series), seen[0].Total)
		require.Equal(t, len(result.Series)-1, seen[len(seen)-1].Index)
	})
}

func Test_backtestServiceHandler_RunBacktest_signalTiming(t *testing.T) {
	ctx := context.Background()
	// AAA closes at 90 from 2020-01-11 on, which flips the signal to BBB
	aaa := append(linear(100, 0, 10), linear(90, 0, 10)...)
	flip := util.NewDate(2020, 1, 11)
	strategy := `["defsymphony", "Flip", {},
		["if", [">", ["current-price", "AAA"], 95], [["asset", "AAA"]], [["asset", "BBB"]]]]`

	run := func(t *testing.T, parity bool) *BacktestResult {
		h := newBacktestHandler(map[string][]float64{
			"AAA": aaa,
			"BBB": linear(100, 0, 20),
		})
		opts := memoryOptions()
		opts.ParityMode = parity
		result, err := h.RunBacktest(ctx, BacktestInput{
			Strategy: mustParse(t, strategy),
			Start:    util.NewDate(2020, 1, 5),
			End:      util.NewDate(2020, 1, 15),
			Options:  opts,
		})
		require.NoError(t, err)
		return result
	}

	dayIndex := func(t *testing.T, result *BacktestResult, date time.Time) int {
		for i, r := range result.Series {
			if r.Date.Equal(date) {
				return i
			}
		}
		t.Fatalf("no record for %s", domain.DateKey(date))
		return -1
	}

	t.Run("default trades the day after the signal", func(t *testing.T) {
		result := run(t, false)
		k := dayIndex(t, result, flip)

		require.Equal(t, map[string]float64{"AAA": 1}, nonZero(result.Allocations[k].Weights))
		require.InDelta(t, -0.1, result.Series[k].DailyReturn, 1e-12)
		require.Equal(t, 0.0, result.Series[k].Turnover)

		require.Equal(t, map[string]float64{"BBB": 1}, nonZero(result.Allocations[k+1].Weights))
		require.InDelta(t, 1.0, result.Series[k+1].Turnover, 1e-12)
	})

	t.Run("parity mode trades on the signal day", func(t *testing.T) {
		result := run(t, true)
		k := dayIndex(t, result, flip)

		require.Equal(t, map[string]float64{"AAA": 1}, nonZero(result.Allocations[k-1].Weights))
		require.Equal(t, map[string]float64{"BBB": 1}, nonZero(result.Allocations[k].Weights))
		require.InDelta(t, 1.0, result.Series[k].Turnover, 1e-12)
		require.InDelta(t, 0.0, result.Series[k].DailyReturn, 1e-12)
	})
}

func Test_simulate_cancelled(t *testing.T) {
	u := &domain.AlignedUniverse{
		Axis: []time.Time{fixtureStart, fixtureStart.AddDate(0, 0, 1), fixtureStart.AddDate(0, 0, 2)},
		Series: map[string]*domain.AlignedSeries{
			"AAA": {Symbol: "AAA", Closes: []float64{1, 2, 3}},
		},
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := simulate(ctx, simulateInput{
		Strategy:   mustParse(t, `["asset", "AAA"]`),
		Universe:   u,
		Policy:     domain.DailyRebalance(),
		StartIndex: 1,
		EndIndex:   2,
	})
	require.ErrorIs(t, err, context.Canceled)
}

func Test_shouldRebalance(t *testing.T) {
	u := &domain.AlignedUniverse{
		Axis: []time.Time{util.NewDate(2024, 1, 31), util.NewDate(2024, 2, 1), util.NewDate(2024, 2, 2)},
	}
	monthly := domain.RebalancePolicy{Frequency: domain.RebalanceFrequency_Monthly}
	require.True(t, shouldRebalance(monthly, u, 1, false, 0.3))
	require.False(t, shouldRebalance(monthly, u, 2, false, 0.3))
	require.True(t, shouldRebalance(monthly, u, 2, true, 0))

	none := domain.RebalancePolicy{Frequency: domain.RebalanceFrequency_None}
	require.False(t, shouldRebalance(none, u, 1, false, 1))

	threshold := domain.ThresholdRebalance(0.1)
	require.False(t, shouldRebalance(threshold, u, 1, false, 0.1))
	require.True(t, shouldRebalance(threshold, u, 1, false, 0.11))
}

func nonZero(w domain.Weights) map[string]float64 {
	out := map[string]float64{}
	for symbol, v := range w {
		if v != 0 {
			out[symbol] = v
		}
	}
	return out
}
