package l3_service

import (
	"context"
	"fmt"

	"symphonybacktest/internal/domain"
	"symphonybacktest/internal/logger"
	l2_service "symphonybacktest/internal/service/l2"
)

type simulateInput struct {
	Strategy    *domain.Strategy
	Universe    *domain.AlignedUniverse
	Config      l2_service.EvalConfig
	Policy      domain.RebalancePolicy
	StartIndex  int
	EndIndex    int
	CostBps     float64
	Capital     float64
	SameDay     bool
	OnDay       func(DayProgress)
	Diagnostics *domain.Diagnostics
}

type simulateResult struct {
	Records         []domain.DayRecord
	Allocations     []domain.AllocationRecord
	FinalAllocation []domain.Position
	FinalWeights    domain.Weights
}

// simulate walks the aligned axis one session at a time. Each day's
// target comes from the prior close (or the same close in parity mode),
// is applied or skipped per the rebalance policy, earns that session's
// returns net of turnover costs, and drifts into the next day's weights.
func simulate(ctx context.Context, in simulateInput) (*simulateResult, error) {
	log := logger.FromContext(ctx)
	if in.Diagnostics == nil {
		in.Diagnostics = domain.NewDiagnostics()
	}
	run := l2_service.NewRunState(in.Universe, in.Config, in.Diagnostics)

	total := in.EndIndex - in.StartIndex + 1
	out := &simulateResult{
		Records:     make([]domain.DayRecord, 0, total),
		Allocations: make([]domain.AllocationRecord, 0, total),
	}

	nav := 1.0
	current := domain.Weights{}
	var lastTarget []domain.Position
	for i := in.StartIndex; i <= in.EndIndex; i++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("backtest cancelled on %s: %w", domain.DateKey(in.Universe.Axis[i]), err)
		}

		decisionIndex := i - 1
		if in.SameDay {
			decisionIndex = i
		}
		positions, err := l2_service.EvaluateStrategy(in.Strategy, run.At(decisionIndex))
		if err != nil {
			return nil, fmt.Errorf("failed to evaluate strategy for %s: %w", domain.DateKey(in.Universe.Axis[i]), err)
		}
		targetPositions := domain.NormalizePositions(positions)
		if len(targetPositions) == 0 {
			in.Diagnostics.AddNote("%s: empty allocation, holding cash", domain.DateKey(in.Universe.Axis[i]))
		}
		target := domain.PositionsToWeights(targetPositions)
		lastTarget = targetPositions

		turnover := domain.Turnover(current, target)
		rebalance := shouldRebalance(in.Policy, in.Universe, i, i == in.StartIndex, turnover)

		startWeights := current
		dayTurnover := 0.0
		if rebalance {
			startWeights = target
			dayTurnover = turnover
		}

		next, gross := DriftWeights(startWeights, in.Universe, i)
		net := gross - dayTurnover*in.CostBps/10000
		nav *= 1 + net
		if nav < 0 {
			nav = 0
		}
		current = next

		out.Records = append(out.Records, domain.DayRecord{
			Date:        in.Universe.Axis[i],
			NAV:         nav,
			Value:       in.Capital * nav,
			DailyReturn: net,
			Turnover:    dayTurnover,
		})
		out.Allocations = append(out.Allocations, domain.AllocationRecord{
			Date:       in.Universe.Axis[i],
			Weights:    startWeights.Copy(),
			Rebalanced: rebalance,
		})

		if in.OnDay != nil {
			in.OnDay(DayProgress{
				Index: i - in.StartIndex,
				Total: total,
				Date:  in.Universe.Axis[i],
				NAV:   nav,
			})
		}
		if n := len(out.Records); n%backtestProgressLogStep == 0 {
			log.Infof("backtest progress %d/%d, nav %.4f", n, total, nav)
		}
	}

	out.FinalAllocation = lastTarget
	out.FinalWeights = current
	return out, nil
}

// shouldRebalance always trades into the first target. After that a
// threshold policy trades only when turnover exceeds it and calendar
// policies trade on period boundaries.
func shouldRebalance(policy domain.RebalancePolicy, universe *domain.AlignedUniverse, i int, first bool, turnover float64) bool {
	if first {
		return true
	}
	switch policy.Frequency {
	case domain.RebalanceFrequency_Threshold:
		return turnover > policy.Threshold
	case domain.RebalanceFrequency_None:
		return false
	}
	return policy.IsBoundary(universe.Axis[i-1], universe.Axis[i])
}
