package domain

import (
	"sort"
)

type NodeKind int

const (
	NodeKind_Root NodeKind = iota
	NodeKind_Group
	NodeKind_WeightEqual
	NodeKind_WeightInverseVolatility
	NodeKind_WeightSpecified
	NodeKind_If
	NodeKind_Filter
	NodeKind_Asset
)

func (k NodeKind) String() string {
	switch k {
	case NodeKind_Root:
		return "defsymphony"
	case NodeKind_Group:
		return "group"
	case NodeKind_WeightEqual:
		return "weight-equal"
	case NodeKind_WeightInverseVolatility:
		return "weight-inverse-volatility"
	case NodeKind_WeightSpecified:
		return "weight-specified"
	case NodeKind_If:
		return "if"
	case NodeKind_Filter:
		return "filter"
	case NodeKind_Asset:
		return "asset"
	}
	return "unknown"
}

// NodeID is a dense index into Strategy.Nodes, assigned once when the
// tree is built. It is the cache key for anything memoized per node.
type NodeID int

// Node is one strategy tree node. Which fields are populated depends on
// Kind:
//
//	Root, Group, WeightEqual     Children
//	WeightInverseVolatility      Window, Children
//	WeightSpecified              Fractions[i] applies to Children[i]
//	If                           Condition, Then, Else
//	Filter                       Metric, Selector, Children (candidates)
//	Asset                        Symbol
type Node struct {
	ID   NodeID
	Kind NodeKind
	Name string

	Symbol    string
	Window    int
	Fractions []float64
	Condition *Condition
	Then      []*Node
	Else      []*Node
	Metric    *MetricExpr
	Selector  *Selector
	Children  []*Node
}

func (n *Node) IsAsset() bool {
	return n != nil && n.Kind == NodeKind_Asset
}

// Label is a short human readable description used in reasoning output.
func (n *Node) Label() string {
	switch n.Kind {
	case NodeKind_Asset:
		return n.Symbol
	case NodeKind_Group, NodeKind_Root:
		if n.Name != "" {
			return n.Name
		}
	}
	return n.Kind.String()
}

type MetricKind string

const (
	MetricKind_RSI                  MetricKind = "rsi"
	MetricKind_MovingAveragePrice   MetricKind = "moving-average-price"
	MetricKind_ExponentialMAPrice   MetricKind = "exponential-moving-average-price"
	MetricKind_MovingAverageReturn  MetricKind = "moving-average-return"
	MetricKind_CumulativeReturn     MetricKind = "cumulative-return"
	MetricKind_StdevReturn          MetricKind = "stdev-return"
	MetricKind_StdevReturnPercent   MetricKind = "stdev-return%"
	MetricKind_MaxDrawdown          MetricKind = "max-drawdown"
	MetricKind_CurrentPrice         MetricKind = "current-price"
	MetricKind_InverseVolatilityKey MetricKind = "weight-inverse-volatility"
)

// MetricDefaultWindows is used whenever a script omits :window.
var MetricDefaultWindows = map[MetricKind]int{
	MetricKind_RSI:                  14,
	MetricKind_MovingAveragePrice:   20,
	MetricKind_ExponentialMAPrice:   20,
	MetricKind_MovingAverageReturn:  20,
	MetricKind_CumulativeReturn:     20,
	MetricKind_StdevReturn:          20,
	MetricKind_StdevReturnPercent:   20,
	MetricKind_MaxDrawdown:          30,
	MetricKind_CurrentPrice:         0,
	MetricKind_InverseVolatilityKey: 20,
}

func IsMetricKind(s string) bool {
	_, ok := MetricDefaultWindows[MetricKind(s)]
	return ok && MetricKind(s) != MetricKind_InverseVolatilityKey
}

// MetricExpr is an indicator applied to a series. Symbol is empty when
// the series comes from a filter candidate instead.
type MetricExpr struct {
	Kind   MetricKind
	Symbol string
	Window int
}

// Operand is one side of a comparison: a metric or a constant.
type Operand struct {
	Metric   *MetricExpr
	Constant *float64
}

type Condition struct {
	Operator string
	Left     Operand
	Right    Operand
}

type SelectMode string

const (
	SelectMode_Top    SelectMode = "select-top"
	SelectMode_Bottom SelectMode = "select-bottom"
)

type Selector struct {
	Mode  SelectMode
	Count int
}

// Strategy owns the typed tree plus the node arena. It is built once and
// reused for every evaluation.
type Strategy struct {
	Name      string
	Root      *Node
	Nodes     []*Node
	Rebalance RebalancePolicy
}

func (s *Strategy) Node(id NodeID) *Node {
	if int(id) < 0 || int(id) >= len(s.Nodes) {
		return nil
	}
	return s.Nodes[id]
}

// Symbols returns every instrument referenced by asset nodes or metric
// expressions, sorted.
func (s *Strategy) Symbols() []string {
	set := map[string]bool{}
	for _, n := range s.Nodes {
		if n.Kind == NodeKind_Asset && n.Symbol != "" {
			set[n.Symbol] = true
		}
		if n.Condition != nil {
			for _, op := range []Operand{n.Condition.Left, n.Condition.Right} {
				if op.Metric != nil && op.Metric.Symbol != "" {
					set[op.Metric.Symbol] = true
				}
			}
		}
	}
	out := []string{}
	for symbol := range set {
		out = append(out, symbol)
	}
	sort.Strings(out)
	return out
}

// StrategyStats summarizes the windows the tree needs so callers can
// size history loads.
type StrategyStats struct {
	MaxWindow           int
	HasRSI              bool
	HasCompositeScoring bool
	// largest window used to score a composite candidate
	CompositeMaxWindow int
}

func (s *Strategy) Stats() StrategyStats {
	stats := StrategyStats{}
	observe := func(m *MetricExpr) {
		if m == nil {
			return
		}
		if m.Window > stats.MaxWindow {
			stats.MaxWindow = m.Window
		}
		if m.Kind == MetricKind_RSI {
			stats.HasRSI = true
		}
	}
	for _, n := range s.Nodes {
		switch n.Kind {
		case NodeKind_If:
			observe(n.Condition.Left.Metric)
			observe(n.Condition.Right.Metric)
		case NodeKind_Filter:
			observe(n.Metric)
			if hasCompositeChild(n) {
				stats.HasCompositeScoring = true
				if n.Metric.Window > stats.CompositeMaxWindow {
					stats.CompositeMaxWindow = n.Metric.Window
				}
			}
		case NodeKind_WeightInverseVolatility:
			if n.Window > stats.MaxWindow {
				stats.MaxWindow = n.Window
			}
			if hasCompositeChild(n) {
				stats.HasCompositeScoring = true
				if n.Window > stats.CompositeMaxWindow {
					stats.CompositeMaxWindow = n.Window
				}
			}
		}
	}
	return stats
}

func hasCompositeChild(n *Node) bool {
	for _, c := range n.Children {
		if !c.IsAsset() {
			return true
		}
	}
	return false
}
