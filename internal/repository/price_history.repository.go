package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"symphonybacktest/internal/domain"
)

var ErrNoPriceData = errors.New("no price data")

type GetSeriesInput struct {
	Symbol       string
	Start        time.Time
	End          time.Time
	Adjustment   domain.DataAdjustment
	Source       domain.PriceSource
	ForceRefresh bool
	CacheOnly    bool
}

// PriceHistoryRepository returns daily bars sorted ascending with at
// most one bar per calendar day.
type PriceHistoryRepository interface {
	GetSeries(ctx context.Context, in GetSeriesInput) (*domain.PriceSeries, error)
}

// LatestQuoteRepository returns nil when no quote is available.
type LatestQuoteRepository interface {
	GetLatestPrice(ctx context.Context, symbol string, source domain.PriceSource) (*domain.Quote, error)
}

// BarSource is a remote or file backed provider of daily bars.
type BarSource interface {
	FetchBars(ctx context.Context, symbol string, start, end time.Time, adjustment domain.DataAdjustment) ([]domain.Bar, error)
}

// PriceBarStore persists fetched bars per symbol and adjustment.
type PriceBarStore interface {
	ListBars(ctx context.Context, symbol string, adjustment domain.DataAdjustment, start, end time.Time) ([]domain.Bar, error)
	UpsertBars(ctx context.Context, symbol string, adjustment domain.DataAdjustment, source domain.PriceSource, bars []domain.Bar) error
}

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// cleanBars sorts bars, drops invalid closes, and keeps the last bar
// seen for each calendar day.
func cleanBars(bars []domain.Bar) []domain.Bar {
	sorted := make([]domain.Bar, 0, len(bars))
	for _, b := range bars {
		if b.Close > 0 && !b.Date.IsZero() {
			sorted = append(sorted, b)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Date.Before(sorted[j].Date)
	})

	out := []domain.Bar{}
	for _, b := range sorted {
		if len(out) > 0 && domain.DateKey(out[len(out)-1].Date) == domain.DateKey(b.Date) {
			out[len(out)-1] = b
			continue
		}
		out = append(out, b)
	}
	return out
}

func filterBars(bars []domain.Bar, start, end time.Time) []domain.Bar {
	startKey := domain.DateKey(start)
	endKey := domain.DateKey(end)
	out := []domain.Bar{}
	for _, b := range bars {
		key := domain.DateKey(b.Date)
		if (start.IsZero() || key >= startKey) && (end.IsZero() || key <= endKey) {
			out = append(out, b)
		}
	}
	return out
}

func noDataError(symbol string, start, end time.Time) error {
	return fmt.Errorf("%w for %s between %s and %s", ErrNoPriceData, symbol, start.Format(time.DateOnly), end.Format(time.DateOnly))
}
