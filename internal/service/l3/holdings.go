package l3_service

import (
	"time"

	"symphonybacktest/internal/domain"
	l2_service "symphonybacktest/internal/service/l2"
)

type SimulatedHoldings struct {
	LastRebalance time.Time          `json:"lastRebalance"`
	AsOf          time.Time          `json:"asOf"`
	Weights       []domain.Position  `json:"weights"`
	Target        []domain.Position  `json:"target"`
	Drift         map[string]float64 `json:"drift"`
}

// lastRebalanceIndex is the latest axis index that starts a new period
// under policy. Daily and threshold policies rebalance every session, so
// there is nothing to project for them.
func lastRebalanceIndex(policy domain.RebalancePolicy, axis []time.Time) (int, bool) {
	switch policy.Frequency {
	case domain.RebalanceFrequency_Weekly, domain.RebalanceFrequency_Monthly,
		domain.RebalanceFrequency_Quarterly, domain.RebalanceFrequency_Yearly:
	default:
		return 0, false
	}
	for i := len(axis) - 1; i > 0; i-- {
		if policy.IsBoundary(axis[i-1], axis[i]) {
			return i, true
		}
	}
	return 0, false
}

// DriftWeights applies the returns of axis day i to weights and
// renormalizes. Unallocated weight is cash and earns nothing. Symbols
// are summed in sorted order so reruns are bit-identical.
func DriftWeights(weights domain.Weights, universe *domain.AlignedUniverse, i int) (domain.Weights, float64) {
	symbols := weights.SortedSymbols()
	gross := 0.0
	for _, symbol := range symbols {
		gross += weights[symbol] * universe.Return(symbol, i)
	}
	out := domain.Weights{}
	if 1+gross <= 0 {
		return out, gross
	}
	for _, symbol := range symbols {
		out[symbol] = weights[symbol] * (1 + universe.Return(symbol, i)) / (1 + gross)
	}
	return out, gross
}

// projectHoldings rebuilds what a portfolio rebalanced on the strategy's
// calendar would hold today: the target decided at the last period
// boundary, drifted by every session since.
func projectHoldings(strategy *domain.Strategy, universe *domain.AlignedUniverse, config l2_service.EvalConfig) *SimulatedHoldings {
	r, ok := lastRebalanceIndex(strategy.Rebalance, universe.Axis)
	if !ok {
		return nil
	}
	config.RequireMarketData = false
	config.Debug = false
	run := l2_service.NewRunState(universe, config, domain.NewDiagnostics())
	positions, err := l2_service.EvaluateStrategy(strategy, run.At(r-1))
	if err != nil {
		return nil
	}
	target := domain.NormalizePositions(positions)
	if len(target) == 0 {
		return nil
	}

	weights := domain.PositionsToWeights(target)
	latest := universe.Len() - 1
	for i := r; i <= latest; i++ {
		weights, _ = DriftWeights(weights, universe, i)
	}

	out := &SimulatedHoldings{
		LastRebalance: universe.Axis[r],
		AsOf:          universe.Axis[latest],
		Target:        target,
		Drift:         map[string]float64{},
	}
	for _, p := range target {
		w := weights[p.Symbol]
		out.Weights = append(out.Weights, domain.Position{
			Symbol:    p.Symbol,
			Weight:    w,
			Rationale: "drifted since last rebalance",
		})
		out.Drift[p.Symbol] = w - p.Weight
	}
	return out
}
