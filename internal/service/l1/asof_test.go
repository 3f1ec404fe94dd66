package l1_service

import (
	"testing"
	"time"

	"symphonybacktest/internal/domain"
	"symphonybacktest/internal/util"

	"github.com/stretchr/testify/require"
)

func TestTrimToPreviousClose(t *testing.T) {
	// wednesday
	asOf := time.Date(2024, 3, 6, 14, 0, 0, 0, time.UTC)

	series := map[string]*domain.PriceSeries{
		"SPY": {Symbol: "SPY", Bars: []domain.Bar{
			bar(util.NewDate(2024, 3, 4), 1),
			bar(util.NewDate(2024, 3, 5), 2),
			bar(util.NewDate(2024, 3, 6), 3),
		}},
		"OLD": {Symbol: "OLD", Bars: []domain.Bar{
			bar(util.NewDate(2024, 3, 1), 1),
		}},
	}

	stale := TrimToPreviousClose(series, asOf)
	require.Equal(t, []string{"OLD"}, stale)
	require.Len(t, series["SPY"].Bars, 2)
	require.Equal(t, 2.0, series["SPY"].Bars[1].Close)
}

func TestTrimToPreviousClose_exchangeHoliday(t *testing.T) {
	// monday after christmas 2020, which fell on a friday
	asOf := util.NewDate(2020, 12, 28)

	t.Run("common last session is not stale", func(t *testing.T) {
		series := map[string]*domain.PriceSeries{
			"SPY": {Symbol: "SPY", Bars: []domain.Bar{bar(util.NewDate(2020, 12, 23), 1), bar(util.NewDate(2020, 12, 24), 2)}},
			"TLT": {Symbol: "TLT", Bars: []domain.Bar{bar(util.NewDate(2020, 12, 23), 1), bar(util.NewDate(2020, 12, 24), 2)}},
		}
		require.Empty(t, TrimToPreviousClose(series, asOf))
	})

	t.Run("a series behind the others is still stale", func(t *testing.T) {
		series := map[string]*domain.PriceSeries{
			"SPY": {Symbol: "SPY", Bars: []domain.Bar{bar(util.NewDate(2020, 12, 24), 2)}},
			"OLD": {Symbol: "OLD", Bars: []domain.Bar{bar(util.NewDate(2020, 12, 23), 1)}},
		}
		require.Equal(t, []string{"OLD"}, TrimToPreviousClose(series, asOf))
	})

	t.Run("two missing sessions are stale", func(t *testing.T) {
		series := map[string]*domain.PriceSeries{
			"SPY": {Symbol: "SPY", Bars: []domain.Bar{bar(util.NewDate(2020, 12, 23), 1)}},
		}
		require.Equal(t, []string{"SPY"}, TrimToPreviousClose(series, asOf))
	})
}

func TestPatchLatestQuote(t *testing.T) {
	t.Run("same day replaces close", func(t *testing.T) {
		s := &domain.PriceSeries{Bars: []domain.Bar{bar(util.NewDate(2024, 3, 5), 10)}}
		ok := PatchLatestQuote(s, domain.Quote{Price: 11, Timestamp: time.Date(2024, 3, 5, 15, 0, 0, 0, time.UTC)})
		require.True(t, ok)
		require.Len(t, s.Bars, 1)
		require.Equal(t, 11.0, s.Bars[0].Close)
		require.Equal(t, 11.0, s.Bars[0].High)
	})

	t.Run("later day appends", func(t *testing.T) {
		s := &domain.PriceSeries{Bars: []domain.Bar{bar(util.NewDate(2024, 3, 5), 10)}}
		ok := PatchLatestQuote(s, domain.Quote{Price: 9, Timestamp: time.Date(2024, 3, 6, 15, 0, 0, 0, time.UTC)})
		require.True(t, ok)
		require.Len(t, s.Bars, 2)
		require.Equal(t, util.NewDate(2024, 3, 6), s.Bars[1].Date)
	})

	t.Run("older or invalid quote ignored", func(t *testing.T) {
		s := &domain.PriceSeries{Bars: []domain.Bar{bar(util.NewDate(2024, 3, 5), 10)}}
		require.False(t, PatchLatestQuote(s, domain.Quote{Price: 9, Timestamp: util.NewDate(2024, 3, 1)}))
		require.False(t, PatchLatestQuote(s, domain.Quote{Price: 0, Timestamp: util.NewDate(2024, 3, 6)}))
		require.Len(t, s.Bars, 1)
	})
}
