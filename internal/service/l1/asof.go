package l1_service

import (
	"math"
	"sort"
	"time"

	"symphonybacktest/internal/domain"
	"symphonybacktest/internal/util"
)

// TrimToPreviousClose drops any bar dated on or after the as-of day so
// an unfinished session never leaks into a previous-close evaluation.
// It returns the symbols whose remaining history ends before the prior
// business day, sorted. When every series ends exactly one session short
// of that day it was an exchange holiday, and the common last session is
// expected instead.
func TrimToPreviousClose(series map[string]*domain.PriceSeries, asOf time.Time) []string {
	asOfKey := domain.DateKey(asOf)
	previous := util.PreviousBusinessDay(asOf)
	expectedKey := domain.DateKey(previous)

	latestKey := ""
	for _, s := range series {
		kept := s.Bars[:0:0]
		for _, b := range s.Bars {
			if domain.DateKey(b.Date) < asOfKey {
				kept = append(kept, b)
			}
		}
		s.Bars = kept
		if len(kept) > 0 {
			if key := domain.DateKey(kept[len(kept)-1].Date); key > latestKey {
				latestKey = key
			}
		}
	}
	if latestKey < expectedKey && latestKey >= domain.DateKey(util.PreviousBusinessDay(previous)) {
		expectedKey = latestKey
	}

	stale := []string{}
	for symbol, s := range series {
		if len(s.Bars) == 0 || domain.DateKey(s.Bars[len(s.Bars)-1].Date) < expectedKey {
			stale = append(stale, symbol)
		}
	}
	sort.Strings(stale)
	return stale
}

// PatchLatestQuote overlays a live quote on the latest session. A quote
// for the last bar's day replaces its close; a quote for a later day
// appends a bar; older quotes are ignored.
func PatchLatestQuote(series *domain.PriceSeries, q domain.Quote) bool {
	if series == nil || q.Price <= 0 || math.IsNaN(q.Price) || math.IsInf(q.Price, 0) {
		return false
	}
	day := util.DateOnly(q.Timestamp)
	key := domain.DateKey(day)

	n := len(series.Bars)
	if n == 0 {
		series.Bars = []domain.Bar{{Date: day, Open: q.Price, High: q.Price, Low: q.Price, Close: q.Price}}
		return true
	}

	lastKey := domain.DateKey(series.Bars[n-1].Date)
	switch {
	case key == lastKey:
		b := series.Bars[n-1]
		b.Close = q.Price
		b.High = math.Max(b.High, q.Price)
		if b.Low == 0 || q.Price < b.Low {
			b.Low = q.Price
		}
		series.Bars[n-1] = b
		return true
	case key > lastKey:
		series.Bars = append(series.Bars, domain.Bar{Date: day, Open: q.Price, High: q.Price, Low: q.Price, Close: q.Price})
		return true
	}
	return false
}
