package domain

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

type Position struct {
	Symbol    string  `json:"symbol"`
	Weight    float64 `json:"weight"`
	Rationale string  `json:"rationale,omitempty"`
}

type PricedPosition struct {
	Position
	Price         decimal.Decimal `json:"price"`
	Quantity      decimal.Decimal `json:"quantity"`
	EstimatedCost decimal.Decimal `json:"estimatedCost"`
}

// Weights is a symbol to weight map used by the backtest engine.
type Weights map[string]float64

func (w Weights) Copy() Weights {
	out := Weights{}
	for k, v := range w {
		out[k] = v
	}
	return out
}

func (w Weights) Sum() float64 {
	total := 0.0
	for _, symbol := range w.SortedSymbols() {
		total += w[symbol]
	}
	return total
}

func (w Weights) SortedSymbols() []string {
	symbols := make([]string, 0, len(w))
	for symbol := range w {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	return symbols
}

// Turnover is half the summed absolute weight change.
func Turnover(from, to Weights) float64 {
	symbols := map[string]bool{}
	for s := range from {
		symbols[s] = true
	}
	for s := range to {
		symbols[s] = true
	}
	keys := make([]string, 0, len(symbols))
	for s := range symbols {
		keys = append(keys, s)
	}
	sort.Strings(keys)

	total := 0.0
	for _, s := range keys {
		d := to[s] - from[s]
		if d < 0 {
			d = -d
		}
		total += d
	}
	return total / 2
}

// MergePositions sums duplicate symbols, keeping first-seen order.
func MergePositions(positions []Position) []Position {
	index := map[string]int{}
	out := []Position{}
	for _, p := range positions {
		if i, ok := index[p.Symbol]; ok {
			out[i].Weight += p.Weight
			continue
		}
		index[p.Symbol] = len(out)
		out = append(out, p)
	}
	return out
}

// NormalizePositions merges duplicates, drops non-positive weights, and
// rescales so weights sum to 1.
func NormalizePositions(positions []Position) []Position {
	merged := MergePositions(positions)
	out := []Position{}
	total := 0.0
	for _, p := range merged {
		if p.Weight > 0 {
			out = append(out, p)
			total += p.Weight
		}
	}
	if total <= 0 {
		return []Position{}
	}
	for i := range out {
		out[i].Weight /= total
	}
	return out
}

func PositionsToWeights(positions []Position) Weights {
	w := Weights{}
	for _, p := range positions {
		w[p.Symbol] += p.Weight
	}
	return w
}

type DayRecord struct {
	Date        time.Time `json:"date"`
	NAV         float64   `json:"nav"`
	Value       float64   `json:"value"`
	DailyReturn float64   `json:"dailyReturn"`
	Turnover    float64   `json:"turnover"`
}

type AllocationRecord struct {
	Date       time.Time `json:"date"`
	Weights    Weights   `json:"weights"`
	Rebalanced bool      `json:"rebalanced"`
}
