package app

import (
	"context"
	"fmt"
	"testing"

	"symphonybacktest/internal/config"
	"symphonybacktest/internal/domain"
	l3_service "symphonybacktest/internal/service/l3"
	"symphonybacktest/internal/util"

	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type recordingEvaluationService struct {
	inputs []l3_service.EvaluateInput
}

func (r *recordingEvaluationService) EvaluateAtPointInTime(ctx context.Context, in l3_service.EvaluateInput) (*l3_service.EvaluationResult, error) {
	r.inputs = append(r.inputs, in)
	positions := []domain.PricedPosition{}
	for _, symbol := range in.Strategy.Symbols() {
		positions = append(positions, domain.PricedPosition{
			Position: domain.Position{Symbol: symbol, Weight: 1},
			Quantity: decimal.NewFromInt(1),
		})
	}
	return &l3_service.EvaluationResult{
		Positions:    positions,
		Diagnostics:  domain.NewDiagnostics(),
		AsOfDateUsed: util.NewDate(2024, 3, 1),
	}, nil
}

func newTestApp(svc l3_service.EvaluationService, strategies []config.ScheduledStrategy) *scheduledEvaluationAppHandler {
	files := map[string]string{
		"spy.json": `["defsymphony", "spy", {}, ["asset", "SPY"]]`,
		"bad.json": `["defsymphony", "bad", {}]`,
	}
	return &scheduledEvaluationAppHandler{
		EvaluationService: svc,
		Strategies:        strategies,
		Cron:              cron.New(cron.WithSeconds()),
		ReadFile: func(path string) ([]byte, error) {
			s, ok := files[path]
			if !ok {
				return nil, fmt.Errorf("no such file %s", path)
			}
			return []byte(s), nil
		},
	}
}

func Test_scheduledEvaluationAppHandler_RunAll(t *testing.T) {
	svc := &recordingEvaluationService{}
	h := newTestApp(svc, []config.ScheduledStrategy{
		{Name: "spy", Path: "spy.json", Cron: "0 0 17 * * 1-5", Budget: 500},
		{Name: "missing", Path: "missing.json", Cron: "0 0 17 * * 1-5"},
		{Name: "bad", Path: "bad.json", Cron: "0 0 17 * * 1-5"},
	})

	results := h.RunAll(context.Background())
	require.Len(t, results, 3)

	require.NoError(t, results[0].Err)
	require.Equal(t, "SPY", results[0].Result.Positions[0].Symbol)
	require.Error(t, results[1].Err)
	require.True(t, domain.IsErrorKind(results[2].Err, domain.ErrorKind_ParseFailure))

	require.Len(t, svc.inputs, 1)
	require.True(t, decimal.NewFromInt(500).Equal(svc.inputs[0].Budget))
}

func Test_scheduledEvaluationAppHandler_Start(t *testing.T) {
	t.Run("registers every strategy", func(t *testing.T) {
		h := newTestApp(&recordingEvaluationService{}, []config.ScheduledStrategy{
			{Name: "spy", Path: "spy.json", Cron: "0 0 17 * * 1-5"},
		})
		require.NoError(t, h.Start(context.Background()))
		defer h.Stop()
		require.Len(t, h.Cron.Entries(), 1)
	})

	t.Run("rejects a bad cron expression", func(t *testing.T) {
		h := newTestApp(&recordingEvaluationService{}, []config.ScheduledStrategy{
			{Name: "spy", Path: "spy.json", Cron: "every day"},
		})
		require.Error(t, h.Start(context.Background()))
	})
}

func Test_describePositions(t *testing.T) {
	require.Equal(t, "no positions", describePositions(nil))
	require.Equal(t, "SPY 60.00% (3.5 sh)", describePositions([]domain.PricedPosition{{
		Position: domain.Position{Symbol: "SPY", Weight: 0.6},
		Quantity: decimal.RequireFromString("3.5"),
	}}))
}
