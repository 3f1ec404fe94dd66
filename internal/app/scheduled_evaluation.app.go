package app

import (
	"context"
	"fmt"
	"os"
	"strings"

	"symphonybacktest/internal/config"
	"symphonybacktest/internal/domain"
	"symphonybacktest/internal/logger"
	l2_service "symphonybacktest/internal/service/l2"
	l3_service "symphonybacktest/internal/service/l3"

	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
)

// ScheduledEvaluationApp evaluates configured strategy files on their
// cron schedules and logs what each would hold at the previous close.
// A failing strategy is logged and does not stop the others.
type ScheduledEvaluationApp interface {
	Start(ctx context.Context) error
	Stop()
	RunAll(ctx context.Context) []ScheduledEvaluationResult
	RunOne(ctx context.Context, s config.ScheduledStrategy) (*l3_service.EvaluationResult, error)
}

type ScheduledEvaluationResult struct {
	Name   string
	Result *l3_service.EvaluationResult
	Err    error
}

type scheduledEvaluationAppHandler struct {
	EvaluationService l3_service.EvaluationService
	Strategies        []config.ScheduledStrategy
	Options           domain.Options
	Cron              *cron.Cron
	ReadFile          func(string) ([]byte, error)
}

func NewScheduledEvaluationApp(
	evaluationService l3_service.EvaluationService,
	strategies []config.ScheduledStrategy,
	options domain.Options,
) ScheduledEvaluationApp {
	return &scheduledEvaluationAppHandler{
		EvaluationService: evaluationService,
		Strategies:        strategies,
		Options:           options,
		Cron:              cron.New(cron.WithSeconds()),
		ReadFile:          os.ReadFile,
	}
}

func (h *scheduledEvaluationAppHandler) Start(ctx context.Context) error {
	log := logger.FromContext(ctx)
	for _, s := range h.Strategies {
		s := s
		_, err := h.Cron.AddFunc(s.Cron, func() {
			if _, err := h.RunOne(ctx, s); err != nil {
				log.Errorf("scheduled evaluation of %s failed: %s", s.Name, err.Error())
			}
		})
		if err != nil {
			return fmt.Errorf("failed to schedule %s: %w", s.Name, err)
		}
	}
	h.Cron.Start()
	log.Infof("scheduler started with %d strategies", len(h.Strategies))
	return nil
}

func (h *scheduledEvaluationAppHandler) Stop() {
	<-h.Cron.Stop().Done()
}

func (h *scheduledEvaluationAppHandler) RunAll(ctx context.Context) []ScheduledEvaluationResult {
	log := logger.FromContext(ctx)
	out := []ScheduledEvaluationResult{}
	for _, s := range h.Strategies {
		result, err := h.RunOne(ctx, s)
		if err != nil {
			log.Errorf("evaluation of %s failed: %s", s.Name, err.Error())
		}
		out = append(out, ScheduledEvaluationResult{
			Name:   s.Name,
			Result: result,
			Err:    err,
		})
	}
	return out
}

func (h *scheduledEvaluationAppHandler) RunOne(ctx context.Context, s config.ScheduledStrategy) (*l3_service.EvaluationResult, error) {
	log := logger.FromContext(ctx).With("strategy", s.Name)
	ctx = logger.WithContext(ctx, log)

	script, err := h.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read strategy %s: %w", s.Path, err)
	}
	strategy, err := l2_service.ParseStrategy(l2_service.JSONParser{}, script)
	if err != nil {
		return nil, err
	}

	result, err := h.EvaluationService.EvaluateAtPointInTime(ctx, l3_service.EvaluateInput{
		Strategy: strategy,
		Budget:   decimal.NewFromFloat(s.Budget),
		Options:  h.Options,
	})
	if err != nil {
		return nil, err
	}

	log.Infof("%s as of %s: %s", s.Name, domain.DateKey(result.AsOfDateUsed), describePositions(result.Positions))
	for symbol, reason := range result.Diagnostics.Missing {
		log.Warnf("%s missing: %s", symbol, reason)
	}
	return result, nil
}

func describePositions(positions []domain.PricedPosition) string {
	parts := []string{}
	for _, p := range positions {
		parts = append(parts, fmt.Sprintf("%s %.2f%% (%s sh)", p.Symbol, p.Weight*100, p.Quantity.String()))
	}
	if len(parts) == 0 {
		return "no positions"
	}
	return strings.Join(parts, ", ")
}
