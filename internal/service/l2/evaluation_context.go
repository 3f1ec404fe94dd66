package l2_service

import (
	"fmt"

	"symphonybacktest/internal/domain"

	"github.com/moznion/go-optional"
)

type EvalConfig struct {
	RSIMethod         domain.RSIMethod
	RequireMarketData bool
	// score composite candidates on a simulated NAV instead of their
	// largest holding
	GroupMetrics bool
	Debug        bool
}

func ConfigFromOptions(opts domain.Options) EvalConfig {
	return EvalConfig{
		RSIMethod:         opts.RSIMethod,
		RequireMarketData: opts.RequireMarketData,
		GroupMetrics:      !opts.DisableGroupMetrics,
		Debug:             opts.Debug,
	}
}

// seriesKey identifies either a symbol's series or a node's simulated
// NAV series.
type seriesKey struct {
	symbol string
	node   domain.NodeID
	isNode bool
}

func (k seriesKey) String() string {
	if k.isNode {
		return fmt.Sprintf("node:%d", k.node)
	}
	return "sym:" + k.symbol
}

type metricCacheKey struct {
	series seriesKey
	kind   domain.MetricKind
	window int
	method domain.RSIMethod
	index  int
}

// MetricCache memoizes metric values for one evaluation pass.
type MetricCache struct {
	values map[metricCacheKey]optional.Option[float64]
	Hits   int
	Misses int
}

func NewMetricCache() *MetricCache {
	return &MetricCache{values: map[metricCacheKey]optional.Option[float64]{}}
}

func (c *MetricCache) getOrCompute(key metricCacheKey, compute func() optional.Option[float64]) optional.Option[float64] {
	if v, ok := c.values[key]; ok {
		c.Hits++
		return v
	}
	c.Misses++
	v := compute()
	c.values[key] = v
	return v
}

type nodeSeriesKey struct {
	node   domain.NodeID
	usable int
	start  int
}

// RunState is shared by every pass of one run: the loaded universe,
// configuration, diagnostics, and simulated node series. Node series
// depend only on the node and the index range, so they stay valid
// across passes.
type RunState struct {
	Universe    *domain.AlignedUniverse
	Config      EvalConfig
	Diagnostics *domain.Diagnostics
	Reasoning   []string

	nodeSeries map[nodeSeriesKey][]float64
}

func NewRunState(universe *domain.AlignedUniverse, config EvalConfig, diagnostics *domain.Diagnostics) *RunState {
	if diagnostics == nil {
		diagnostics = domain.NewDiagnostics()
	}
	if config.RSIMethod == "" {
		config.RSIMethod = domain.RSIMethod_Wilder
	}
	return &RunState{
		Universe:    universe,
		Config:      config,
		Diagnostics: diagnostics,
		nodeSeries:  map[nodeSeriesKey][]float64{},
	}
}

// At returns a fresh context for one evaluation pass at index.
func (r *RunState) At(index int) *EvaluationContext {
	return &EvaluationContext{
		run:         r,
		Index:       index,
		cache:       NewMetricCache(),
		diagnostics: r.Diagnostics,
		strict:      r.Config.RequireMarketData,
		trace:       r.Config.Debug,
	}
}

// EvaluationContext is one pass at one time index. Derived contexts for
// previews and simulations are built with forPreview and forSimulation
// and never write to the run's diagnostics or reasoning.
type EvaluationContext struct {
	run         *RunState
	Index       int
	cache       *MetricCache
	diagnostics *domain.Diagnostics
	strict      bool
	trace       bool
}

func (c *EvaluationContext) Universe() *domain.AlignedUniverse {
	return c.run.Universe
}

func (c *EvaluationContext) Cache() *MetricCache {
	return c.cache
}

// forPreview evaluates a composite at the same index to find its
// representative holding.
func (c *EvaluationContext) forPreview() *EvaluationContext {
	return &EvaluationContext{
		run:         c.run,
		Index:       c.Index,
		cache:       c.cache,
		diagnostics: domain.NewDiagnostics(),
		strict:      false,
		trace:       false,
	}
}

// forSimulation evaluates a composite at an earlier index while
// rebuilding its NAV.
func (c *EvaluationContext) forSimulation(index int) *EvaluationContext {
	return &EvaluationContext{
		run:         c.run,
		Index:       index,
		cache:       NewMetricCache(),
		diagnostics: domain.NewDiagnostics(),
		strict:      false,
		trace:       false,
	}
}

func (c *EvaluationContext) reason(format string, args ...any) {
	if c.trace {
		c.run.Reasoning = append(c.run.Reasoning, fmt.Sprintf(format, args...))
	}
}

func (c *EvaluationContext) note(format string, args ...any) {
	c.diagnostics.AddNote(format, args...)
}
