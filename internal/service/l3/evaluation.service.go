package l3_service

import (
	"context"
	"fmt"
	"time"

	"symphonybacktest/internal/domain"
	"symphonybacktest/internal/logger"
	l1_service "symphonybacktest/internal/service/l1"
	l2_service "symphonybacktest/internal/service/l2"
	"symphonybacktest/internal/util"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type EvaluationService interface {
	EvaluateAtPointInTime(ctx context.Context, in EvaluateInput) (*EvaluationResult, error)
}

type EvaluateInput struct {
	Strategy *domain.Strategy `validate:"required"`
	Budget   decimal.Decimal
	Options  domain.Options
}

type EvaluationMeta struct {
	Symbols         []string                      `json:"symbols"`
	HistoryLength   int                           `json:"historyLength"`
	RequiredBars    int                           `json:"requiredBars"`
	LookbackDays    int                           `json:"lookbackDays"`
	GroupSimulation bool                          `json:"groupSimulation"`
	AxisSymbol      string                        `json:"axisSymbol"`
	DataSources     map[string]domain.PriceSource `json:"dataSources"`
}

type EvaluationResult struct {
	RunID             uuid.UUID               `json:"runId"`
	Positions         []domain.PricedPosition `json:"positions"`
	SimulatedHoldings *SimulatedHoldings      `json:"simulatedHoldings,omitempty"`
	Diagnostics       *domain.Diagnostics     `json:"diagnostics"`
	AsOfDateUsed      time.Time               `json:"asOfDateUsed"`
	Reasoning         []string                `json:"reasoning,omitempty"`
	Meta              EvaluationMeta          `json:"meta"`
	Profile           *domain.Profile         `json:"profile,omitempty"`
}

type evaluationServiceHandler struct {
	PriceService l1_service.PriceService
	Validate     *validator.Validate
	Now          func() time.Time
}

func NewEvaluationService(priceService l1_service.PriceService) EvaluationService {
	return &evaluationServiceHandler{
		PriceService: priceService,
		Validate:     validator.New(),
		Now:          time.Now,
	}
}

// RequiredHistoryBars sizes the history load from the strategy's
// largest window.
func RequiredHistoryBars(stats domain.StrategyStats) int {
	bars := stats.MaxWindow + windowPaddingBars
	if bars < defaultLookbackBars {
		bars = defaultLookbackBars
	}
	if stats.HasRSI {
		bars += rsiWarmupBars
	}
	if stats.HasCompositeScoring {
		bars += stats.CompositeMaxWindow + 1 + windowPaddingBars
	}
	return bars
}

func (h evaluationServiceHandler) EvaluateAtPointInTime(ctx context.Context, in EvaluateInput) (*EvaluationResult, error) {
	if err := h.Validate.Struct(in); err != nil {
		return nil, fmt.Errorf("invalid evaluation input: %w", err)
	}
	opts := in.Options.WithDefaults()
	if err := h.Validate.Struct(opts); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}

	runID := uuid.New()
	profile := domain.NewProfile()
	ctx = domain.WithProfile(ctx, profile)
	log := logger.FromContext(ctx).With("runID", runID.String(), "strategy", in.Strategy.Name)
	ctx = logger.WithContext(ctx, log)

	symbols := in.Strategy.Symbols()
	if len(symbols) == 0 {
		return nil, domain.NewEvalError(domain.ErrorKind_ParseFailure, "strategy references no assets")
	}

	asOf := opts.AsOf
	if asOf.IsZero() {
		asOf = h.Now()
	}
	stats := in.Strategy.Stats()
	requiredBars := RequiredHistoryBars(stats)
	lookbackDays := util.TradingDaysToCalendarDays(requiredBars)
	if lookbackDays > maxCalendarLookbackDays {
		lookbackDays = maxCalendarLookbackDays
	}
	end := util.DateOnly(asOf)

	diagnostics := domain.NewDiagnostics()
	loaded, err := loadUniverse(ctx, h.PriceService, loadUniverseInput{
		Symbols:      symbols,
		Start:        end.AddDate(0, 0, -lookbackDays),
		End:          end,
		AsOf:         asOf,
		Options:      opts,
		RequiredBars: requiredBars,
		Diagnostics:  diagnostics,
	})
	if err != nil {
		return nil, err
	}
	universe := loaded.Universe
	latest := universe.Len() - 1
	if latest < 0 {
		return nil, domain.NewEvalError(domain.ErrorKind_AlignmentFailure, "aligned history is empty")
	}
	log.Infof("loaded %d of %d symbols, %d aligned bars", len(universe.Series), len(symbols), universe.Len())

	profile.StartStage("evaluate")
	config := l2_service.ConfigFromOptions(opts)
	run := l2_service.NewRunState(universe, config, diagnostics)
	positions, err := l2_service.EvaluateStrategy(in.Strategy, run.At(latest))
	if err != nil {
		return nil, err
	}

	if len(domain.NormalizePositions(positions)) == 0 {
		if !opts.AllowFallbackAllocations {
			e := domain.NewEvalError(domain.ErrorKind_EmptyAllocation, "strategy evaluated to no positions")
			e.Missing = copyReasons(diagnostics.Missing)
			asOfUsed := universe.Axis[latest]
			e.AsOf = &asOfUsed
			return nil, e
		}
		positions = fallbackPositions(symbols, universe, latest)
		if len(positions) == 0 {
			return nil, domain.NewEvalError(domain.ErrorKind_EmptyAllocation, "no symbol has price data for a fallback allocation")
		}
		diagnostics.AddNote("applied equal-weight fallback across %d symbols", len(positions))
		log.Warnf("empty allocation, falling back to equal weight across %d symbols", len(positions))
	}

	profile.StartStage("size")
	normalized := domain.NormalizePositions(positions)
	prices := map[string]float64{}
	unpriced := map[string]string{}
	for _, p := range normalized {
		series := universe.Series[p.Symbol]
		if !series.HasDataAt(latest) {
			diagnostics.AddMissing(p.Symbol, "price data unavailable during sizing")
			unpriced[p.Symbol] = "price data unavailable during sizing"
			continue
		}
		prices[p.Symbol] = series.Closes[latest]
	}
	if len(unpriced) > 0 {
		e := domain.NewMissingDataError(unpriced, "unable to size %d positions", len(unpriced))
		e.PriceSource = opts.PriceSource
		return nil, e
	}

	budget := in.Budget
	if budget.IsZero() {
		budget = decimal.NewFromInt(defaultBudget)
	}
	priced, err := SizePositions(SizePositionsInput{
		Positions:   normalized,
		Prices:      prices,
		Budget:      budget,
		WholeShares: opts.WholeShares,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to size positions: %w", err)
	}

	profile.StartStage("holdings")
	holdings := projectHoldings(in.Strategy, universe, config)
	profile.End()

	result := &EvaluationResult{
		RunID:             runID,
		Positions:         priced,
		SimulatedHoldings: holdings,
		Diagnostics:       diagnostics,
		AsOfDateUsed:      universe.Axis[latest],
		Meta: EvaluationMeta{
			Symbols:         symbols,
			HistoryLength:   universe.Len(),
			RequiredBars:    requiredBars,
			LookbackDays:    lookbackDays,
			GroupSimulation: stats.HasCompositeScoring && config.GroupMetrics,
			AxisSymbol:      universe.AxisSymbol,
			DataSources:     loaded.Sources,
		},
		Profile: profile,
	}
	if opts.Debug {
		result.Reasoning = run.Reasoning
	}
	log.Infof("evaluated %d positions as of %s", len(priced), domain.DateKey(result.AsOfDateUsed))
	return result, nil
}

const defaultBudget = 10000

func fallbackPositions(symbols []string, universe *domain.AlignedUniverse, index int) []domain.Position {
	available := []string{}
	for _, symbol := range symbols {
		if universe.Series[symbol].HasDataAt(index) {
			available = append(available, symbol)
		}
	}
	out := []domain.Position{}
	for _, symbol := range available {
		out = append(out, domain.Position{
			Symbol:    symbol,
			Weight:    1 / float64(len(available)),
			Rationale: "equal-weight fallback for an empty allocation",
		})
	}
	return out
}
