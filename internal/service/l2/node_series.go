package l2_service

import (
	"symphonybacktest/internal/calculator"
	"symphonybacktest/internal/domain"

	"github.com/moznion/go-optional"
)

type CandidateKind int

const (
	CandidateKind_Asset CandidateKind = iota
	CandidateKind_Node
)

// Candidate is one child of a filter or inverse-volatility node: either a
// plain symbol or a composite subtree.
type Candidate struct {
	Kind   CandidateKind
	Symbol string
	Node   *domain.Node
}

func candidateFor(n *domain.Node) Candidate {
	if n.IsAsset() {
		return Candidate{Kind: CandidateKind_Asset, Symbol: n.Symbol, Node: n}
	}
	return Candidate{Kind: CandidateKind_Node, Node: n}
}

func (c Candidate) Label() string {
	if c.Kind == CandidateKind_Asset {
		return c.Symbol
	}
	return c.Node.Label()
}

// scoreCandidate computes metric for an asset directly. Composites are
// scored on their simulated NAV, or on their largest holding when group
// metrics are off.
func (c *EvaluationContext) scoreCandidate(candidate Candidate, metric *domain.MetricExpr) optional.Option[float64] {
	if candidate.Kind == CandidateKind_Asset {
		return c.symbolMetric(candidate.Symbol, metric)
	}
	if !c.run.Config.GroupMetrics {
		symbol, ok := c.representative(candidate.Node)
		if !ok {
			return optional.None[float64]()
		}
		return c.symbolMetric(symbol, metric)
	}

	key := metricCacheKey{
		series: seriesKey{node: candidate.Node.ID, isNode: true},
		kind:   metric.Kind,
		window: metric.Window,
		method: c.run.Config.RSIMethod,
		index:  c.Index,
	}
	return c.cache.getOrCompute(key, func() optional.Option[float64] {
		nav := c.nodeSeries(candidate.Node, metric.Window)
		if len(nav) < 2 {
			return optional.None[float64]()
		}
		return calculator.Compute(metric.Kind, nav, metric.Window, c.run.Config.RSIMethod)
	})
}

// resolvedSeriesKey names the series a candidate would be scored on, so
// two candidates that resolve to the same series count once.
func (c *EvaluationContext) resolvedSeriesKey(candidate Candidate) (string, bool) {
	if candidate.Kind == CandidateKind_Asset {
		return seriesKey{symbol: candidate.Symbol}.String(), true
	}
	if c.run.Config.GroupMetrics {
		return seriesKey{node: candidate.Node.ID, isNode: true}.String(), true
	}
	symbol, ok := c.representative(candidate.Node)
	if !ok {
		return "", false
	}
	return seriesKey{symbol: symbol}.String(), true
}

// representative is the largest-weight holding of node at the current
// index. Ties go to the first position.
func (c *EvaluationContext) representative(node *domain.Node) (string, bool) {
	positions, err := Evaluate(node, 1, c.forPreview())
	if err != nil || len(positions) == 0 {
		return "", false
	}
	best := positions[0]
	for _, p := range positions[1:] {
		if p.Weight > best.Weight {
			best = p
		}
	}
	return best.Symbol, true
}

// nodeSeries rebuilds a NAV for node ending at the current index. Each
// step holds the allocation the node produced at the previous close.
func (c *EvaluationContext) nodeSeries(node *domain.Node, window int) []float64 {
	usable := c.Index + 1
	required := window + 1 + 5
	if required < 2 {
		required = 2
	}
	start := usable - required
	if start < 1 {
		start = 1
	}

	key := nodeSeriesKey{node: node.ID, usable: usable, start: start}
	if nav, ok := c.run.nodeSeries[key]; ok {
		return nav
	}

	nav := make([]float64, 0, usable-start+1)
	nav = append(nav, 1.0)
	for i := start; i < usable; i++ {
		ret := 0.0
		positions, err := Evaluate(node, 1, c.forSimulation(i-1))
		if err == nil {
			for _, p := range domain.NormalizePositions(positions) {
				ret += p.Weight * c.Universe().Return(p.Symbol, i)
			}
		}
		nav = append(nav, nav[len(nav)-1]*(1+ret))
	}

	c.run.nodeSeries[key] = nav
	return nav
}
