package l3_service

import (
	"context"
	"testing"

	"symphonybacktest/internal/domain"
	"symphonybacktest/internal/repository"
	mock_repository "symphonybacktest/internal/repository/mocks"
	l1_service "symphonybacktest/internal/service/l1"
	"symphonybacktest/internal/util"

	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func newEvaluationHandler(priceService l1_service.PriceService) evaluationServiceHandler {
	h := NewEvaluationService(priceService).(*evaluationServiceHandler)
	// a Monday; the previous close is Sunday 2020-02-09 in these fixtures
	h.Now = fixedNow(util.NewDate(2020, 2, 10))
	return *h
}

func positionBySymbol(t *testing.T, positions []domain.PricedPosition, symbol string) domain.PricedPosition {
	t.Helper()
	for _, p := range positions {
		if p.Symbol == symbol {
			return p
		}
	}
	t.Fatalf("no position for %s", symbol)
	return domain.PricedPosition{}
}

func Test_evaluationServiceHandler_EvaluateAtPointInTime(t *testing.T) {
	ctx := context.Background()
	closes := map[string][]float64{
		"A": linear(100, 1, 41),
		"B": linear(100, 0, 41),
	}
	equalWeight := `["weight-equal", [["asset", "A"], ["asset", "B"]]]`

	t.Run("sizes fractional quantities at the previous close", func(t *testing.T) {
		priceService, _ := newMemoryPriceService(closes)
		h := newEvaluationHandler(priceService)
		result, err := h.EvaluateAtPointInTime(ctx, EvaluateInput{
			Strategy: mustParse(t, equalWeight),
			Options:  memoryOptions(),
		})
		require.NoError(t, err)

		require.Equal(t, util.NewDate(2020, 2, 9), result.AsOfDateUsed)
		require.Len(t, result.Positions, 2)
		a := positionBySymbol(t, result.Positions, "A")
		require.Equal(t, 0.5, a.Weight)
		require.Equal(t, "139", a.Price.String())
		require.Equal(t, "35.9712", a.Quantity.String())
		b := positionBySymbol(t, result.Positions, "B")
		require.Equal(t, "50", b.Quantity.String())
		require.Equal(t, "5000", b.EstimatedCost.String())

		require.Empty(t, result.Diagnostics.Missing)
		require.Nil(t, result.Reasoning)
		require.Equal(t, 250, result.Meta.RequiredBars)
		require.Equal(t, 40, result.Meta.HistoryLength)
		if diff := cmp.Diff([]string{"A", "B"}, result.Meta.Symbols); diff != "" {
			t.Fatalf("unexpected symbols (-want +got):\n%s", diff)
		}
	})

	t.Run("whole shares floor", func(t *testing.T) {
		priceService, _ := newMemoryPriceService(closes)
		h := newEvaluationHandler(priceService)
		opts := memoryOptions()
		opts.WholeShares = true
		result, err := h.EvaluateAtPointInTime(ctx, EvaluateInput{
			Strategy: mustParse(t, equalWeight),
			Budget:   decimal.NewFromInt(10000),
			Options:  opts,
		})
		require.NoError(t, err)
		require.Equal(t, "35", positionBySymbol(t, result.Positions, "A").Quantity.String())
		require.Equal(t, "4865", positionBySymbol(t, result.Positions, "A").EstimatedCost.String())
	})

	t.Run("current mode keeps the as-of session", func(t *testing.T) {
		priceService, _ := newMemoryPriceService(closes)
		h := newEvaluationHandler(priceService)
		opts := memoryOptions()
		opts.AsOfMode = domain.AsOfMode_Current
		result, err := h.EvaluateAtPointInTime(ctx, EvaluateInput{
			Strategy: mustParse(t, equalWeight),
			Options:  opts,
		})
		require.NoError(t, err)
		require.Equal(t, util.NewDate(2020, 2, 10), result.AsOfDateUsed)
		require.Equal(t, "140", positionBySymbol(t, result.Positions, "A").Price.String())
	})

	t.Run("empty allocation", func(t *testing.T) {
		priceService, _ := newMemoryPriceService(closes)
		h := newEvaluationHandler(priceService)
		strategy := mustParse(t, `["if", [">", ["current-price", "A"], 1000], [["asset", "A"]]]`)

		_, err := h.EvaluateAtPointInTime(ctx, EvaluateInput{
			Strategy: strategy,
			Options:  memoryOptions(),
		})
		require.True(t, domain.IsErrorKind(err, domain.ErrorKind_EmptyAllocation))

		opts := memoryOptions()
		opts.AllowFallbackAllocations = true
		result, err := h.EvaluateAtPointInTime(ctx, EvaluateInput{
			Strategy: strategy,
			Options:  opts,
		})
		require.NoError(t, err)
		require.Len(t, result.Positions, 1)
		require.Equal(t, 1.0, result.Positions[0].Weight)
		require.NotEmpty(t, result.Diagnostics.Notes)
	})

	t.Run("missing symbol", func(t *testing.T) {
		strategy := mustParse(t, `["weight-equal", [["asset", "A"], ["asset", "Z"]]]`)

		priceService, _ := newMemoryPriceService(closes)
		h := newEvaluationHandler(priceService)
		opts := memoryOptions()
		opts.RequireCompleteUniverse = true
		_, err := h.EvaluateAtPointInTime(ctx, EvaluateInput{
			Strategy: strategy,
			Options:  opts,
		})
		require.True(t, domain.IsErrorKind(err, domain.ErrorKind_InsufficientMarketData))
		require.Contains(t, err.(*domain.EvalError).Missing, "Z")

		result, err := h.EvaluateAtPointInTime(ctx, EvaluateInput{
			Strategy: strategy,
			Options:  memoryOptions(),
		})
		require.NoError(t, err)
		require.Len(t, result.Positions, 1)
		require.Equal(t, "A", result.Positions[0].Symbol)
		require.Equal(t, 1.0, result.Positions[0].Weight)
		require.Contains(t, result.Diagnostics.Missing, "Z")
	})

	t.Run("debug returns reasoning", func(t *testing.T) {
		priceService, _ := newMemoryPriceService(closes)
		h := newEvaluationHandler(priceService)
		opts := memoryOptions()
		opts.Debug = true
		result, err := h.EvaluateAtPointInTime(ctx, EvaluateInput{
			Strategy: mustParse(t, `["if", [">", ["current-price", "A"], ["current-price", "B"]], [["asset", "A"]], [["asset", "B"]]]`),
			Options:  opts,
		})
		require.NoError(t, err)
		require.Equal(t, "A", result.Positions[0].Symbol)
		require.NotEmpty(t, result.Reasoning)
	})

	t.Run("monthly strategy projects drifted holdings", func(t *testing.T) {
		priceService, _ := newMemoryPriceService(closes)
		h := newEvaluationHandler(priceService)
		result, err := h.EvaluateAtPointInTime(ctx, EvaluateInput{
			Strategy: mustParse(t, `["defsymphony", "Monthly", {":rebalance-frequency": "monthly"}, `+equalWeight+`]`),
			Options:  memoryOptions(),
		})
		require.NoError(t, err)

		holdings := result.SimulatedHoldings
		require.NotNil(t, holdings)
		require.Equal(t, util.NewDate(2020, 2, 1), holdings.LastRebalance)
		require.Equal(t, util.NewDate(2020, 2, 9), holdings.AsOf)
		// A went from 130 to 139 since the boundary while B stayed flat
		require.InDelta(t, 139.0/269.0, holdings.Weights[0].Weight, 1e-9)
		require.InDelta(t, 139.0/269.0-0.5, holdings.Drift["A"], 1e-9)
	})

	t.Run("daily strategy has no projection", func(t *testing.T) {
		priceService, _ := newMemoryPriceService(closes)
		h := newEvaluationHandler(priceService)
		result, err := h.EvaluateAtPointInTime(ctx, EvaluateInput{
			Strategy: mustParse(t, equalWeight),
			Options:  memoryOptions(),
		})
		require.NoError(t, err)
		require.Nil(t, result.SimulatedHoldings)
	})
}

func Test_evaluationServiceHandler_refreshesStaleHistory(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mock_repository.NewMockPriceHistoryRepository(ctrl)

	closes := linear(100, 1, 40)
	repo.EXPECT().
		GetSeries(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, in repository.GetSeriesInput) (*domain.PriceSeries, error) {
			// the cached copy stops on Wednesday; only a forced refresh reaches the weekend
			bars := barsFrom(fixtureStart, closes[:36])
			if in.ForceRefresh {
				bars = barsFrom(fixtureStart, closes)
			}
			return &domain.PriceSeries{Symbol: in.Symbol, Bars: bars, DataSource: domain.PriceSource_Memory}, nil
		}).
		Times(2)

	h := newEvaluationHandler(l1_service.NewPriceService(repo, nil))
	result, err := h.EvaluateAtPointInTime(context.Background(), EvaluateInput{
		Strategy: mustParse(t, `["asset", "A"]`),
		Options:  memoryOptions(),
	})
	require.NoError(t, err)
	require.Equal(t, util.NewDate(2020, 2, 9), result.AsOfDateUsed)
	require.Empty(t, result.Diagnostics.Notes)
}

func Test_evaluationServiceHandler_adjustmentChangesFilterChoice(t *testing.T) {
	priceService, store := newMemoryPriceService(nil)
	ctx := context.Background()

	n := 41
	falling := make([]float64, n)
	rising := make([]float64, n)
	falling[0], rising[0] = 100, 100
	for i := 1; i < n; i++ {
		falling[i] = falling[i-1] * 0.99
		rising[i] = rising[i-1] * 1.01
	}
	require.NoError(t, store.UpsertBars(ctx, "SPY", domain.DataAdjustment_Split, domain.PriceSource_Memory, barsFrom(fixtureStart, falling)))
	require.NoError(t, store.UpsertBars(ctx, "SPY", domain.DataAdjustment_All, domain.PriceSource_Memory, barsFrom(fixtureStart, rising)))
	for _, adj := range []domain.DataAdjustment{domain.DataAdjustment_Split, domain.DataAdjustment_All} {
		require.NoError(t, store.UpsertBars(ctx, "GLD", adj, domain.PriceSource_Memory, barsFrom(fixtureStart, linear(150, 0, n))))
	}

	strategy := mustParse(t, `["filter", ["moving-average-return", {":window": 20}], ["select-bottom", 1],
		[["asset", "SPY"], ["asset", "GLD"]]]`)
	h := newEvaluationHandler(priceService)

	for adj, want := range map[domain.DataAdjustment]string{
		domain.DataAdjustment_Split: "SPY",
		domain.DataAdjustment_All:   "GLD",
	} {
		opts := memoryOptions()
		opts.DataAdjustment = adj
		result, err := h.EvaluateAtPointInTime(ctx, EvaluateInput{Strategy: strategy, Options: opts})
		require.NoError(t, err)
		require.Len(t, result.Positions, 1)
		require.Equal(t, want, result.Positions[0].Symbol, "adjustment %s", adj)
	}
}

func TestRequiredHistoryBars(t *testing.T) {
	require.Equal(t, 250, RequiredHistoryBars(domain.StrategyStats{MaxWindow: 20}))
	require.Equal(t, 305, RequiredHistoryBars(domain.StrategyStats{MaxWindow: 300}))
	require.Equal(t, 500, RequiredHistoryBars(domain.StrategyStats{MaxWindow: 14, HasRSI: true}))
	require.Equal(t, 250+10+1+5, RequiredHistoryBars(domain.StrategyStats{MaxWindow: 10, HasCompositeScoring: true, CompositeMaxWindow: 10}))
}

func TestSizePositions(t *testing.T) {
	out, err := SizePositions(SizePositionsInput{
		Positions: []domain.Position{{Symbol: "A", Weight: 0.25}, {Symbol: "B", Weight: 0.75}},
		Prices:    map[string]float64{"A": 33, "B": 10},
		Budget:    decimal.NewFromInt(1000),
	})
	require.NoError(t, err)
	require.Equal(t, "7.5758", out[0].Quantity.String())
	require.Equal(t, "75", out[1].Quantity.String())

	_, err = SizePositions(SizePositionsInput{
		Positions: []domain.Position{{Symbol: "A", Weight: 1}},
		Prices:    map[string]float64{},
		Budget:    decimal.NewFromInt(1000),
	})
	require.Error(t, err)
}
