package l2_service

import (
	"fmt"
	"sort"

	"symphonybacktest/internal/calculator"
	"symphonybacktest/internal/domain"

	"github.com/maja42/goval"
	"github.com/moznion/go-optional"
)

// EvaluateStrategy evaluates the whole tree with a parent weight of 1.
func EvaluateStrategy(strategy *domain.Strategy, ctx *EvaluationContext) ([]domain.Position, error) {
	return Evaluate(strategy.Root, 1, ctx)
}

// Evaluate returns positions whose weights sum to parentWeight, less
// whatever was lost to assets without data.
func Evaluate(node *domain.Node, parentWeight float64, ctx *EvaluationContext) ([]domain.Position, error) {
	if node == nil {
		return []domain.Position{}, nil
	}
	switch node.Kind {
	case domain.NodeKind_Root, domain.NodeKind_Group:
		ctx.reason("entering %s %q with weight %.2f%%", node.Kind, node.Name, parentWeight*100)
		return evaluateAll(node.Children, parentWeight, ctx)

	case domain.NodeKind_WeightEqual:
		if len(node.Children) == 0 {
			return []domain.Position{}, nil
		}
		share := parentWeight / float64(len(node.Children))
		ctx.reason("weight-equal across %d children, %.2f%% each", len(node.Children), share*100)
		return evaluateAll(node.Children, share, ctx)

	case domain.NodeKind_WeightSpecified:
		positions := []domain.Position{}
		for i, child := range node.Children {
			childWeight := parentWeight * node.Fractions[i]
			ctx.reason("weight-specified %.2f%% (absolute %.2f%%) to %s", node.Fractions[i]*100, childWeight*100, child.Label())
			out, err := Evaluate(child, childWeight, ctx)
			if err != nil {
				return nil, err
			}
			positions = append(positions, out...)
		}
		return domain.MergePositions(positions), nil

	case domain.NodeKind_WeightInverseVolatility:
		return evaluateInverseVolatility(node, parentWeight, ctx)

	case domain.NodeKind_If:
		ok, err := evaluateCondition(node.Condition, ctx)
		if err != nil {
			return nil, err
		}
		ctx.reason("condition %s => %t", describeCondition(node.Condition), ok)
		if ok {
			return evaluateAll(node.Then, parentWeight, ctx)
		}
		return evaluateAll(node.Else, parentWeight, ctx)

	case domain.NodeKind_Filter:
		return evaluateFilter(node, parentWeight, ctx)

	case domain.NodeKind_Asset:
		series := ctx.Universe().Series[node.Symbol]
		if !series.HasDataAt(ctx.Index) {
			ctx.diagnostics.AddMissing(node.Symbol, "no price data at evaluation date")
			return []domain.Position{}, nil
		}
		ctx.reason("asset %s receives %.2f%%", node.Symbol, parentWeight*100)
		return []domain.Position{{
			Symbol:    node.Symbol,
			Weight:    parentWeight,
			Rationale: "selected by asset node",
		}}, nil
	}
	return nil, fmt.Errorf("unknown node kind %d", node.Kind)
}

func evaluateAll(children []*domain.Node, weight float64, ctx *EvaluationContext) ([]domain.Position, error) {
	positions := []domain.Position{}
	for _, child := range children {
		out, err := Evaluate(child, weight, ctx)
		if err != nil {
			return nil, err
		}
		positions = append(positions, out...)
	}
	return domain.MergePositions(positions), nil
}

func describeCondition(c *domain.Condition) string {
	side := func(o domain.Operand) string {
		if o.Constant != nil {
			return fmt.Sprintf("%g", *o.Constant)
		}
		return fmt.Sprintf("%s(%s,%d)", o.Metric.Kind, o.Metric.Symbol, o.Metric.Window)
	}
	return fmt.Sprintf("%s %s %s", side(c.Left), c.Operator, side(c.Right))
}

func (c *EvaluationContext) operandValue(o domain.Operand) (optional.Option[float64], error) {
	if o.Constant != nil {
		return optional.Some(*o.Constant), nil
	}
	return c.symbolMetric(o.Metric.Symbol, o.Metric), nil
}

// evaluateCondition compares both sides. Unavailable data is an error in
// strict mode and a false condition otherwise.
func evaluateCondition(cond *domain.Condition, ctx *EvaluationContext) (bool, error) {
	left, err := ctx.operandValue(cond.Left)
	if err != nil {
		return false, err
	}
	right, err := ctx.operandValue(cond.Right)
	if err != nil {
		return false, err
	}
	if left.IsNone() || right.IsNone() {
		missing := map[string]string{}
		for _, o := range []domain.Operand{cond.Left, cond.Right} {
			if o.Metric != nil {
				v, _ := ctx.operandValue(o)
				if v.IsNone() {
					missing[o.Metric.Symbol] = fmt.Sprintf("insufficient history for %s window %d", o.Metric.Kind, o.Metric.Window)
				}
			}
		}
		if ctx.strict {
			e := domain.NewMissingDataError(missing, "condition %s could not be evaluated", describeCondition(cond))
			e.Window = maxOperandWindow(cond)
			if ctx.Index >= 0 && ctx.Index < ctx.Universe().Len() {
				asOf := ctx.Universe().Axis[ctx.Index]
				e.AsOf = &asOf
			}
			return false, e
		}
		for symbol, reason := range missing {
			ctx.diagnostics.AddMissing(symbol, reason)
		}
		ctx.note("condition %s treated as false: data unavailable", describeCondition(cond))
		return false, nil
	}

	result, err := goval.NewEvaluator().Evaluate(
		fmt.Sprintf("left %s right", cond.Operator),
		map[string]interface{}{
			"left":  left.Unwrap(),
			"right": right.Unwrap(),
		},
		nil,
	)
	if err != nil {
		return false, fmt.Errorf("failed to compare %s: %w", describeCondition(cond), err)
	}
	b, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("comparison %s returned %T", describeCondition(cond), result)
	}
	return b, nil
}

func maxOperandWindow(cond *domain.Condition) int {
	w := 0
	for _, o := range []domain.Operand{cond.Left, cond.Right} {
		if o.Metric != nil && o.Metric.Window > w {
			w = o.Metric.Window
		}
	}
	return w
}

type scoredCandidate struct {
	candidate Candidate
	score     float64
}

func evaluateFilter(node *domain.Node, parentWeight float64, ctx *EvaluationContext) ([]domain.Position, error) {
	scored := []scoredCandidate{}
	for _, child := range node.Children {
		candidate := candidateFor(child)
		v := ctx.scoreCandidate(candidate, node.Metric)
		if v.IsNone() {
			ctx.reason("filter candidate %s has no %s score", candidate.Label(), node.Metric.Kind)
			continue
		}
		scored = append(scored, scoredCandidate{candidate: candidate, score: v.Unwrap()})
	}

	if len(scored) == 0 {
		missing := map[string]string{}
		for _, child := range node.Children {
			c := candidateFor(child)
			missing[c.Label()] = fmt.Sprintf("no %s score for window %d", node.Metric.Kind, node.Metric.Window)
		}
		if ctx.strict {
			e := domain.NewMissingDataError(missing, "filter on %s scored no candidates", node.Metric.Kind)
			e.Window = node.Metric.Window
			return nil, e
		}
		ctx.note("filter on %s scored no candidates", node.Metric.Kind)
		return []domain.Position{}, nil
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if node.Selector.Mode == domain.SelectMode_Bottom {
			return scored[i].score < scored[j].score
		}
		return scored[i].score > scored[j].score
	})

	count := node.Selector.Count
	if count > len(scored) {
		count = len(scored)
	}
	selected := scored[:count]
	share := parentWeight / float64(len(selected))

	if ctx.trace {
		for rank, s := range scored {
			ctx.reason("filter %s #%d %s %s=%.6f", node.Selector.Mode, rank+1, s.candidate.Label(), node.Metric.Kind, s.score)
		}
	}

	positions := []domain.Position{}
	for _, s := range selected {
		if s.candidate.Kind == CandidateKind_Asset {
			if !ctx.Universe().Series[s.candidate.Symbol].HasDataAt(ctx.Index) {
				ctx.diagnostics.AddMissing(s.candidate.Symbol, "no price data at evaluation date")
				continue
			}
			positions = append(positions, domain.Position{
				Symbol:    s.candidate.Symbol,
				Weight:    share,
				Rationale: fmt.Sprintf("%s by %s (%.4f)", node.Selector.Mode, node.Metric.Kind, s.score),
			})
			continue
		}
		out, err := Evaluate(s.candidate.Node, share, ctx)
		if err != nil {
			return nil, err
		}
		positions = append(positions, out...)
	}
	return domain.MergePositions(positions), nil
}

func evaluateInverseVolatility(node *domain.Node, parentWeight float64, ctx *EvaluationContext) ([]domain.Position, error) {
	metric := &domain.MetricExpr{
		Kind:   domain.MetricKind_StdevReturn,
		Window: node.Window,
	}

	type weighted struct {
		candidate Candidate
		inverse   float64
	}
	seen := map[string]bool{}
	scored := []weighted{}
	for _, child := range node.Children {
		candidate := candidateFor(child)
		key, ok := ctx.resolvedSeriesKey(candidate)
		if ok {
			if seen[key] {
				continue
			}
			seen[key] = true
		}
		v := ctx.scoreCandidate(candidate, metric)
		if v.IsNone() || v.Unwrap() <= 0 {
			continue
		}
		scored = append(scored, weighted{candidate: candidate, inverse: 1 / v.Unwrap()})
	}

	if len(scored) == 0 {
		ctx.note("weight-inverse-volatility window %d scored no candidates; using equal weights", node.Window)
		if len(node.Children) == 0 {
			return []domain.Position{}, nil
		}
		return evaluateAll(node.Children, parentWeight/float64(len(node.Children)), ctx)
	}

	total := 0.0
	for _, s := range scored {
		total += s.inverse
	}

	positions := []domain.Position{}
	for _, s := range scored {
		w := parentWeight * s.inverse / total
		ctx.reason("inverse volatility %s receives %.2f%%", s.candidate.Label(), w*100)
		if s.candidate.Kind == CandidateKind_Asset {
			if !ctx.Universe().Series[s.candidate.Symbol].HasDataAt(ctx.Index) {
				ctx.diagnostics.AddMissing(s.candidate.Symbol, "no price data at evaluation date")
				continue
			}
			positions = append(positions, domain.Position{
				Symbol:    s.candidate.Symbol,
				Weight:    w,
				Rationale: fmt.Sprintf("inverse volatility over %d days", node.Window),
			})
			continue
		}
		out, err := Evaluate(s.candidate.Node, w, ctx)
		if err != nil {
			return nil, err
		}
		positions = append(positions, out...)
	}
	return domain.MergePositions(positions), nil
}

// symbolMetric computes a metric over a symbol's closes visible at the
// context index.
func (c *EvaluationContext) symbolMetric(symbol string, m *domain.MetricExpr) optional.Option[float64] {
	series := c.Universe().Series[symbol]
	key := metricCacheKey{
		series: seriesKey{symbol: symbol},
		kind:   m.Kind,
		window: m.Window,
		method: c.run.Config.RSIMethod,
		index:  c.Index,
	}
	return c.cache.getOrCompute(key, func() optional.Option[float64] {
		if !series.HasDataAt(c.Index) {
			return optional.None[float64]()
		}
		return calculator.Compute(m.Kind, series.Visible(c.Index), m.Window, c.run.Config.RSIMethod)
	})
}
