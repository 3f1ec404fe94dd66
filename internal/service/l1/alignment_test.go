package l1_service

import (
	"testing"
	"time"

	"symphonybacktest/internal/domain"
	"symphonybacktest/internal/util"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func bar(date time.Time, close float64) domain.Bar {
	return domain.Bar{Date: date, Open: close, High: close, Low: close, Close: close}
}

func Test_AlignSeries(t *testing.T) {
	d := func(day int) time.Time { return util.NewDate(2024, 1, day) }

	t.Run("forward fills gaps from first observation", func(t *testing.T) {
		raw := map[string][]domain.Bar{
			"SPY": {bar(d(2), 100), bar(d(3), 101), bar(d(4), 102), bar(d(5), 103)},
			"NEW": {bar(d(3), 10), bar(d(5), 12)},
		}
		u, err := AlignSeries(raw, AlignSeriesInput{PreferredCalendarSymbol: "SPY"})
		require.NoError(t, err)

		require.Equal(t, "SPY", u.AxisSymbol)
		require.Equal(t, "", cmp.Diff([]time.Time{d(2), d(3), d(4), d(5)}, u.Axis))
		require.Equal(t, 1, u.Series["NEW"].Offset)
		require.Equal(t, "", cmp.Diff([]float64{0, 10, 10, 12}, u.Series["NEW"].Closes))
		require.Equal(t, 0, u.Series["SPY"].Offset)
	})

	t.Run("axis stops at the earliest last date", func(t *testing.T) {
		raw := map[string][]domain.Bar{
			"SPY": {bar(d(2), 100), bar(d(3), 101), bar(d(4), 102), bar(d(5), 103)},
			"LAG": {bar(d(2), 50), bar(d(3), 51)},
		}
		u, err := AlignSeries(raw, AlignSeriesInput{PreferredCalendarSymbol: "SPY"})
		require.NoError(t, err)
		require.Equal(t, "", cmp.Diff([]time.Time{d(2), d(3)}, u.Axis))
		for _, s := range u.Series {
			require.Len(t, s.Closes, 2)
		}
	})

	t.Run("earliest start wins without a preferred symbol", func(t *testing.T) {
		raw := map[string][]domain.Bar{
			"AAA": {bar(d(3), 1), bar(d(4), 1)},
			"BBB": {bar(d(2), 1), bar(d(4), 1)},
		}
		u, err := AlignSeries(raw, AlignSeriesInput{PreferredCalendarSymbol: "SPY"})
		require.NoError(t, err)
		require.Equal(t, "BBB", u.AxisSymbol)
		require.Equal(t, "", cmp.Diff([]time.Time{d(2), d(4)}, u.Axis))
		// AAA's 3rd is carried onto the 4th; the 2nd has no data yet
		require.Equal(t, 1, u.Series["AAA"].Offset)
	})

	t.Run("duplicate day keeps last observation", func(t *testing.T) {
		raw := map[string][]domain.Bar{
			"SPY": {
				bar(d(2), 100),
				bar(time.Date(2024, 1, 2, 20, 0, 0, 0, time.UTC), 105),
				bar(d(3), 106),
			},
		}
		u, err := AlignSeries(raw, AlignSeriesInput{})
		require.NoError(t, err)
		require.Equal(t, "", cmp.Diff([]float64{105, 106}, u.Series["SPY"].Closes))
	})

	t.Run("symbol with no alignable points fails the group", func(t *testing.T) {
		raw := map[string][]domain.Bar{
			"OLD":   {bar(d(2), 1), bar(d(3), 1)},
			"LATER": {bar(d(10), 1), bar(d(11), 1)},
		}
		_, err := AlignSeries(raw, AlignSeriesInput{})
		require.Error(t, err)
		require.True(t, domain.IsErrorKind(err, domain.ErrorKind_AlignmentFailure))
		var evalErr *domain.EvalError
		require.ErrorAs(t, err, &evalErr)
		require.Contains(t, evalErr.Missing, "LATER")
	})

	t.Run("truncates to trailing required bars", func(t *testing.T) {
		raw := map[string][]domain.Bar{
			"SPY": {bar(d(2), 1), bar(d(3), 2), bar(d(4), 3), bar(d(5), 4)},
			"NEW": {bar(d(3), 20), bar(d(4), 30), bar(d(5), 40)},
		}
		u, err := AlignSeries(raw, AlignSeriesInput{PreferredCalendarSymbol: "SPY", RequiredBars: 2})
		require.NoError(t, err)
		require.Equal(t, "", cmp.Diff([]time.Time{d(4), d(5)}, u.Axis))
		require.Equal(t, 0, u.Series["NEW"].Offset)
		require.Equal(t, "", cmp.Diff([]float64{30, 40}, u.Series["NEW"].Closes))
	})

	t.Run("never aligns before first raw observation", func(t *testing.T) {
		raw := map[string][]domain.Bar{
			"SPY": {bar(d(2), 1), bar(d(3), 2), bar(d(4), 3), bar(d(5), 4), bar(d(8), 5)},
			"NEW": {bar(d(4), 30), bar(d(8), 40)},
		}
		u, err := AlignSeries(raw, AlignSeriesInput{PreferredCalendarSymbol: "SPY"})
		require.NoError(t, err)
		s := u.Series["NEW"]
		require.False(t, u.Axis[s.Offset].Before(d(4)))
		require.Equal(t, d(8), u.Axis[len(u.Axis)-1])
	})
}

func Test_AlignToAxis(t *testing.T) {
	axis := []time.Time{util.NewDate(2024, 1, 2), util.NewDate(2024, 1, 3), util.NewDate(2024, 1, 4)}
	s := AlignToAxis("SPY", []domain.Bar{bar(util.NewDate(2023, 12, 29), 5), bar(util.NewDate(2024, 1, 3), 6)}, axis)
	require.NotNil(t, s)
	require.Equal(t, 0, s.Offset)
	require.Equal(t, "", cmp.Diff([]float64{5, 6, 6}, s.Closes))

	require.Nil(t, AlignToAxis("X", []domain.Bar{bar(util.NewDate(2024, 2, 1), 1)}, axis))
}
