package l1_service

import (
	"math"
	"sort"
	"time"

	"symphonybacktest/internal/domain"
)

type AlignSeriesInput struct {
	// anchors the axis when it has any data
	PreferredCalendarSymbol string
	// keep only this many trailing axis days; 0 keeps all
	RequiredBars int
}

type dailySeries struct {
	keys []string
	bars []domain.Bar
}

// collapseDaily keeps one bar per calendar day, the last observation
// winning, and drops closes that are not positive and finite.
func collapseDaily(bars []domain.Bar) dailySeries {
	sorted := make([]domain.Bar, 0, len(bars))
	for _, b := range bars {
		if b.Close > 0 && !math.IsInf(b.Close, 0) && !math.IsNaN(b.Close) {
			sorted = append(sorted, b)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Date.Before(sorted[j].Date)
	})

	out := dailySeries{}
	for _, b := range sorted {
		key := domain.DateKey(b.Date)
		if n := len(out.keys); n > 0 && out.keys[n-1] == key {
			out.bars[n-1] = b
			continue
		}
		out.keys = append(out.keys, key)
		out.bars = append(out.bars, b)
	}
	return out
}

// AlignSeries puts every symbol on one shared trading-day axis. The axis
// never extends past the earliest last date among the symbols, and each
// symbol is forward filled only from its own first observation. Any
// symbol left with no aligned points fails the whole group.
func AlignSeries(raw map[string][]domain.Bar, in AlignSeriesInput) (*domain.AlignedUniverse, error) {
	if len(raw) == 0 {
		return nil, domain.NewEvalError(domain.ErrorKind_AlignmentFailure, "no series to align")
	}

	symbols := make([]string, 0, len(raw))
	for symbol := range raw {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	collapsed := map[string]dailySeries{}
	missing := map[string]string{}
	commonEndKey := ""
	for _, symbol := range symbols {
		ds := collapseDaily(raw[symbol])
		if len(ds.keys) == 0 {
			missing[symbol] = "no valid closes"
			continue
		}
		collapsed[symbol] = ds
		last := ds.keys[len(ds.keys)-1]
		if commonEndKey == "" || last < commonEndKey {
			commonEndKey = last
		}
	}
	if len(missing) > 0 {
		e := domain.NewEvalError(domain.ErrorKind_AlignmentFailure, "series could not be aligned")
		e.Missing = missing
		return nil, e
	}

	axisSymbol := chooseAxisSymbol(collapsed, symbols, in.PreferredCalendarSymbol, commonEndKey)
	axisKeys := []string{}
	for _, k := range collapsed[axisSymbol].keys {
		if k <= commonEndKey {
			axisKeys = append(axisKeys, k)
		}
	}

	axis := make([]time.Time, 0, len(axisKeys))
	for _, k := range axisKeys {
		t, _ := time.Parse(time.DateOnly, k)
		axis = append(axis, t)
	}

	universe := &domain.AlignedUniverse{
		AxisSymbol: axisSymbol,
		Axis:       axis,
		Series:     map[string]*domain.AlignedSeries{},
	}
	for _, symbol := range symbols {
		aligned := forwardFill(symbol, collapsed[symbol], axisKeys, axis)
		if aligned == nil {
			missing[symbol] = "no data on the shared trading calendar"
			continue
		}
		universe.Series[symbol] = aligned
	}
	if len(missing) > 0 {
		e := domain.NewEvalError(domain.ErrorKind_AlignmentFailure, "series could not be aligned")
		e.Missing = missing
		return nil, e
	}

	if in.RequiredBars > 0 && len(universe.Axis) > in.RequiredBars {
		truncate(universe, len(universe.Axis)-in.RequiredBars)
	}

	return universe, nil
}

func chooseAxisSymbol(collapsed map[string]dailySeries, symbols []string, preferred, commonEndKey string) string {
	if ds, ok := collapsed[preferred]; ok && len(ds.keys) > 0 && ds.keys[0] <= commonEndKey {
		return preferred
	}
	best := ""
	for _, symbol := range symbols {
		if best == "" {
			best = symbol
			continue
		}
		cur, prev := collapsed[symbol], collapsed[best]
		if cur.keys[0] < prev.keys[0] ||
			(cur.keys[0] == prev.keys[0] && len(cur.keys) > len(prev.keys)) {
			best = symbol
		}
	}
	return best
}

// forwardFill walks the axis and the symbol's days together, carrying
// the prior close over days the symbol did not trade.
func forwardFill(symbol string, ds dailySeries, axisKeys []string, axis []time.Time) *domain.AlignedSeries {
	out := &domain.AlignedSeries{
		Symbol: symbol,
		Offset: -1,
		Closes: make([]float64, len(axisKeys)),
		Bars:   make([]domain.Bar, len(axisKeys)),
	}

	j := 0
	var last *domain.Bar
	for i, key := range axisKeys {
		exact := false
		for j < len(ds.keys) && ds.keys[j] <= key {
			last = &ds.bars[j]
			exact = ds.keys[j] == key
			j++
		}
		if last == nil {
			continue
		}
		if out.Offset < 0 {
			out.Offset = i
		}
		out.Closes[i] = last.Close
		if exact {
			b := *last
			b.Date = axis[i]
			out.Bars[i] = b
		} else {
			out.Bars[i] = domain.Bar{
				Date:  axis[i],
				Open:  last.Close,
				High:  last.Close,
				Low:   last.Close,
				Close: last.Close,
			}
		}
	}

	if out.Offset < 0 {
		return nil
	}
	return out
}

func truncate(u *domain.AlignedUniverse, cut int) {
	u.Axis = u.Axis[cut:]
	for _, s := range u.Series {
		s.Closes = s.Closes[cut:]
		s.Bars = s.Bars[cut:]
		s.Offset -= cut
		if s.Offset < 0 {
			s.Offset = 0
		}
	}
}

// AlignToAxis forward fills bars onto an existing axis. It returns nil
// when the bars have no day on or before the axis end.
func AlignToAxis(symbol string, bars []domain.Bar, axis []time.Time) *domain.AlignedSeries {
	ds := collapseDaily(bars)
	if len(ds.keys) == 0 || len(axis) == 0 {
		return nil
	}
	keys := make([]string, 0, len(axis))
	for _, t := range axis {
		keys = append(keys, domain.DateKey(t))
	}
	return forwardFill(symbol, ds, keys, axis)
}
