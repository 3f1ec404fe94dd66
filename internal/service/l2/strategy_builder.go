package l2_service

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"symphonybacktest/internal/domain"
)

// ScriptParser turns script text into the raw head-tagged tree. The
// tokenizer for the symphony surface syntax lives outside this module;
// anything that can emit the tree as nested lists plugs in here.
type ScriptParser interface {
	Parse(script []byte) (any, error)
}

// JSONParser reads the raw tree encoded as JSON arrays, e.g.
//
//	["defsymphony", "name", {":rebalance-frequency": "daily"},
//	  ["weight-equal", [["asset", "SPY"], ["asset", "TLT"]]]]
type JSONParser struct{}

func (JSONParser) Parse(script []byte) (any, error) {
	decoder := json.NewDecoder(bytes.NewReader(script))
	decoder.UseNumber()
	var raw any
	if err := decoder.Decode(&raw); err != nil {
		return nil, domain.NewEvalError(domain.ErrorKind_ParseFailure, "invalid script json: %s", err.Error())
	}
	return raw, nil
}

// ParseStrategy runs parser then BuildStrategy.
func ParseStrategy(parser ScriptParser, script []byte) (*domain.Strategy, error) {
	raw, err := parser.Parse(script)
	if err != nil {
		if domain.IsErrorKind(err, domain.ErrorKind_ParseFailure) {
			return nil, err
		}
		e := domain.NewEvalError(domain.ErrorKind_ParseFailure, "failed to parse script")
		e.Cause = err
		return nil, e
	}
	return BuildStrategy(raw)
}

var tickerPattern = regexp.MustCompile(`^[A-Z][A-Z0-9.\-/]{0,9}$`)

var comparisonOperators = map[string]string{
	"<":  "<",
	">":  ">",
	"<=": "<=",
	">=": ">=",
	"=":  "==",
	"==": "==",
	"!=": "!=",
}

type strategyBuilder struct {
	nodes []*domain.Node
}

func (b *strategyBuilder) add(n *domain.Node) *domain.Node {
	n.ID = domain.NodeID(len(b.nodes))
	b.nodes = append(b.nodes, n)
	return n
}

func parseErr(format string, args ...any) error {
	return domain.NewEvalError(domain.ErrorKind_ParseFailure, format, args...)
}

// BuildStrategy converts the raw tree into typed nodes. Node IDs are
// assigned in pre-order and are dense indexes into Strategy.Nodes.
func BuildStrategy(raw any) (*domain.Strategy, error) {
	b := &strategyBuilder{}
	strategy := &domain.Strategy{
		Rebalance: domain.DailyRebalance(),
	}

	list, ok := raw.([]any)
	if !ok || len(list) == 0 {
		return nil, parseErr("script root must be a non-empty list")
	}

	root := b.add(&domain.Node{Kind: domain.NodeKind_Root})
	if head(list) == "defsymphony" {
		if len(list) > 1 {
			strategy.Name = asString(list[1])
			root.Name = strategy.Name
		}
		bodyStart := 2
		if len(list) > 2 {
			if opts, ok := list[2].(map[string]any); ok {
				policy, err := parseRebalanceOptions(opts)
				if err != nil {
					return nil, err
				}
				strategy.Rebalance = policy
				bodyStart = 3
			}
		}
		children, err := b.buildChildren(list, bodyStart)
		if err != nil {
			return nil, err
		}
		root.Children = children
	} else {
		children, err := b.buildChildren([]any{list}, 0)
		if err != nil {
			return nil, err
		}
		root.Children = children
	}

	if len(root.Children) == 0 {
		return nil, parseErr("script has no body")
	}

	strategy.Root = root
	strategy.Nodes = b.nodes
	if len(strategy.Symbols()) == 0 {
		return nil, parseErr("script references no assets")
	}
	return strategy, nil
}

func parseRebalanceOptions(opts map[string]any) (domain.RebalancePolicy, error) {
	policy := domain.DailyRebalance()
	if v, ok := keyword(opts, "rebalance-frequency"); ok {
		freq, err := domain.ParseRebalanceFrequency(strings.ToLower(strings.TrimPrefix(asString(v), ":")))
		if err != nil {
			return policy, parseErr("%s", err.Error())
		}
		policy = domain.RebalancePolicy{Frequency: freq}
	}
	if v, ok := keyword(opts, "rebalance-threshold"); ok {
		t, ok := asNumber(v)
		if !ok || t < 0 {
			return policy, parseErr("invalid rebalance threshold %v", v)
		}
		policy = domain.ThresholdRebalance(t)
	}
	return policy, nil
}

// buildChildren flattens list[start:] into nodes, descending into plain
// lists of nodes.
func (b *strategyBuilder) buildChildren(list []any, start int) ([]*domain.Node, error) {
	out := []*domain.Node{}
	for i := start; i < len(list); i++ {
		item, ok := list[i].([]any)
		if !ok {
			if list[i] == nil {
				continue
			}
			return nil, parseErr("expected node, got %v", list[i])
		}
		if len(item) == 0 {
			continue
		}
		if isNode(item) {
			n, err := b.buildNode(item)
			if err != nil {
				return nil, err
			}
			out = append(out, n)
			continue
		}
		nested, err := b.buildChildren(item, 0)
		if err != nil {
			return nil, err
		}
		out = append(out, nested...)
	}
	return out, nil
}

func (b *strategyBuilder) buildNode(list []any) (*domain.Node, error) {
	switch kind := head(list); kind {
	case "group":
		n := b.add(&domain.Node{Kind: domain.NodeKind_Group})
		if len(list) > 1 {
			n.Name = asString(list[1])
		}
		children, err := b.buildChildren(list, 2)
		if err != nil {
			return nil, fmt.Errorf("group %q: %w", n.Name, err)
		}
		n.Children = children
		return n, nil

	case "weight-equal":
		n := b.add(&domain.Node{Kind: domain.NodeKind_WeightEqual})
		children, err := b.buildChildren(list, 1)
		if err != nil {
			return nil, err
		}
		n.Children = children
		return n, nil

	case "weight-inverse-volatility":
		n := b.add(&domain.Node{
			Kind:   domain.NodeKind_WeightInverseVolatility,
			Window: domain.MetricDefaultWindows[domain.MetricKind_InverseVolatilityKey],
		})
		start := 1
		if len(list) > 1 {
			if w, ok := windowFrom(list[1]); ok {
				n.Window = w
				start = 2
			}
		}
		children, err := b.buildChildren(list, start)
		if err != nil {
			return nil, err
		}
		n.Children = children
		return n, nil

	case "weight-specified":
		n := b.add(&domain.Node{Kind: domain.NodeKind_WeightSpecified})
		for i := 1; i+1 < len(list); i += 2 {
			fraction, ok := asNumber(list[i])
			if !ok || fraction < 0 {
				return nil, parseErr("invalid weight %v", list[i])
			}
			children, err := b.buildChildren(list[i+1:i+2], 0)
			if err != nil {
				return nil, err
			}
			if len(children) != 1 {
				return nil, parseErr("weight-specified pair %d must hold exactly one node", i/2+1)
			}
			n.Fractions = append(n.Fractions, fraction)
			n.Children = append(n.Children, children[0])
		}
		if len(list) > 1 && (len(list)-1)%2 != 0 {
			return nil, parseErr("weight-specified expects fraction/node pairs")
		}
		return n, nil

	case "if":
		if len(list) < 3 {
			return nil, parseErr("if expects a condition and a branch")
		}
		cond, err := parseCondition(list[1])
		if err != nil {
			return nil, err
		}
		n := b.add(&domain.Node{Kind: domain.NodeKind_If, Condition: cond})
		n.Then, err = b.buildChildren(list[2:3], 0)
		if err != nil {
			return nil, err
		}
		if len(list) > 3 {
			n.Else, err = b.buildChildren(list[3:4], 0)
			if err != nil {
				return nil, err
			}
		}
		return n, nil

	case "filter":
		if len(list) < 4 {
			return nil, parseErr("filter expects a metric, a selector and candidates")
		}
		metric, err := parseMetric(list[1])
		if err != nil {
			return nil, err
		}
		selector, err := parseSelector(list[2])
		if err != nil {
			return nil, err
		}
		n := b.add(&domain.Node{Kind: domain.NodeKind_Filter, Metric: metric, Selector: selector})
		n.Children, err = b.buildChildren(list, 3)
		if err != nil {
			return nil, err
		}
		return n, nil

	case "asset":
		if len(list) < 2 {
			return nil, parseErr("asset without symbol")
		}
		symbol := strings.ToUpper(strings.TrimSpace(asString(list[1])))
		if !tickerPattern.MatchString(symbol) {
			return nil, parseErr("invalid ticker %q", symbol)
		}
		n := b.add(&domain.Node{Kind: domain.NodeKind_Asset, Symbol: symbol})
		if len(list) > 2 {
			n.Name = asString(list[2])
		}
		return n, nil

	default:
		return nil, parseErr("unsupported node %q", kind)
	}
}

func parseCondition(raw any) (*domain.Condition, error) {
	list, ok := raw.([]any)
	if !ok || len(list) != 3 {
		return nil, parseErr("condition must be [operator, lhs, rhs]")
	}
	op, ok := comparisonOperators[asString(list[0])]
	if !ok {
		return nil, parseErr("unsupported operator %v", list[0])
	}
	left, err := parseOperand(list[1])
	if err != nil {
		return nil, err
	}
	right, err := parseOperand(list[2])
	if err != nil {
		return nil, err
	}
	return &domain.Condition{Operator: op, Left: left, Right: right}, nil
}

func parseOperand(raw any) (domain.Operand, error) {
	if v, ok := asNumber(raw); ok {
		return domain.Operand{Constant: &v}, nil
	}
	m, err := parseMetric(raw)
	if err != nil {
		return domain.Operand{}, err
	}
	if m.Symbol == "" {
		return domain.Operand{}, parseErr("metric %s in a condition needs a symbol", m.Kind)
	}
	return domain.Operand{Metric: m}, nil
}

// parseMetric accepts ["kind", "SYM"?, {":window": n}?] and a bare
// window number in place of the options map.
func parseMetric(raw any) (*domain.MetricExpr, error) {
	list, ok := raw.([]any)
	if !ok || len(list) == 0 {
		return nil, parseErr("metric must be a list")
	}
	kind := head(list)
	if !domain.IsMetricKind(kind) {
		return nil, parseErr("unsupported metric %q", kind)
	}
	m := &domain.MetricExpr{
		Kind:   domain.MetricKind(kind),
		Window: domain.MetricDefaultWindows[domain.MetricKind(kind)],
	}
	for _, arg := range list[1:] {
		if s, ok := arg.(string); ok {
			if _, isNum := asNumber(s); !isNum {
				m.Symbol = strings.ToUpper(strings.TrimSpace(s))
				continue
			}
		}
		if w, ok := windowFrom(arg); ok {
			m.Window = w
		}
	}
	if m.Symbol != "" && !tickerPattern.MatchString(m.Symbol) {
		return nil, parseErr("invalid ticker %q", m.Symbol)
	}
	if m.Kind != domain.MetricKind_CurrentPrice && m.Window <= 0 {
		return nil, parseErr("metric %s needs a positive window", m.Kind)
	}
	return m, nil
}

func parseSelector(raw any) (*domain.Selector, error) {
	list, ok := raw.([]any)
	if !ok || len(list) == 0 {
		return nil, parseErr("selector must be a list")
	}
	mode := domain.SelectMode(head(list))
	if mode != domain.SelectMode_Top && mode != domain.SelectMode_Bottom {
		return nil, parseErr("unsupported selector %q", head(list))
	}
	count := 1
	if len(list) > 1 {
		v, ok := asNumber(list[1])
		if !ok || v < 1 || v != math.Trunc(v) {
			return nil, parseErr("invalid selector count %v", list[1])
		}
		count = int(v)
	}
	return &domain.Selector{Mode: mode, Count: count}, nil
}

func windowFrom(raw any) (int, bool) {
	if m, ok := raw.(map[string]any); ok {
		v, ok := keyword(m, "window")
		if !ok {
			return 0, false
		}
		raw = v
	}
	v, ok := asNumber(raw)
	if !ok || v <= 0 || v != math.Trunc(v) {
		return 0, false
	}
	return int(v), true
}

func keyword(m map[string]any, name string) (any, bool) {
	if v, ok := m[":"+name]; ok {
		return v, true
	}
	v, ok := m[name]
	return v, ok
}

func head(list []any) string {
	if len(list) == 0 {
		return ""
	}
	s, _ := list[0].(string)
	return strings.ToLower(strings.TrimSpace(s))
}

func isNode(list []any) bool {
	_, ok := list[0].(string)
	return ok
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	}
	return fmt.Sprintf("%v", v)
}

func asNumber(v any) (float64, bool) {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case int:
		f = float64(t)
	case json.Number:
		parsed, err := t.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
