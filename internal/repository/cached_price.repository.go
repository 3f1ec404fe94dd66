package repository

import (
	"context"
	"fmt"
	"time"

	"symphonybacktest/internal/domain"
	"symphonybacktest/internal/logger"
	"symphonybacktest/internal/util"
)

// priceHistoryRepositoryHandler serves bars from Store when they are
// fresh and otherwise fetches from the requested source, writing the
// result back to Store.
type priceHistoryRepositoryHandler struct {
	Store         PriceBarStore
	Sources       map[domain.PriceSource]BarSource
	Quotes        LatestQuoteRepository
	DefaultSource domain.PriceSource
	Now           func() time.Time
}

type PriceHistoryRepositoryInput struct {
	Store         PriceBarStore
	Sources       map[domain.PriceSource]BarSource
	Quotes        LatestQuoteRepository
	DefaultSource domain.PriceSource
}

// PriceRepository is the combined history and quote provider handed to
// the services.
type PriceRepository interface {
	PriceHistoryRepository
	LatestQuoteRepository
}

func NewPriceHistoryRepository(in PriceHistoryRepositoryInput) PriceRepository {
	return priceHistoryRepositoryHandler{
		Store:         in.Store,
		Sources:       in.Sources,
		Quotes:        in.Quotes,
		DefaultSource: in.DefaultSource,
		Now:           time.Now,
	}
}

// isFresh reports whether cached bars cover [start, end]: the first bar
// is no more than one session after the first weekday on or after start,
// and the last bar reaches the last completed session at or before end.
func isFresh(bars []domain.Bar, start, end, now time.Time) bool {
	if len(bars) == 0 {
		return false
	}
	firstSession := util.DateOnly(start)
	if util.IsWeekend(firstSession) {
		firstSession = util.NextBusinessDay(firstSession)
	}
	if domain.DateKey(bars[0].Date) > domain.DateKey(util.NextBusinessDay(firstSession)) {
		return false
	}

	target := util.DateOnly(end).AddDate(0, 0, 1)
	if target.After(now) {
		target = now
	}
	expected := util.PreviousBusinessDay(target)
	return domain.DateKey(bars[len(bars)-1].Date) >= domain.DateKey(expected)
}

func (h priceHistoryRepositoryHandler) GetSeries(ctx context.Context, in GetSeriesInput) (*domain.PriceSeries, error) {
	log := logger.FromContext(ctx)
	symbol := normalizeSymbol(in.Symbol)
	if symbol == "" {
		return nil, fmt.Errorf("empty symbol")
	}

	remote := in.Source
	if remote == "" || remote == domain.PriceSource_Cache {
		remote = h.DefaultSource
	}

	cached := []domain.Bar{}
	if h.Store != nil {
		bars, err := h.Store.ListBars(ctx, symbol, in.Adjustment, in.Start, in.End)
		if err != nil {
			log.Warnf("failed to read cached bars for %s: %s", symbol, err.Error())
		} else {
			cached = bars
		}
		if !in.ForceRefresh && isFresh(cached, in.Start, in.End, h.Now()) {
			return &domain.PriceSeries{Symbol: symbol, Bars: cached, DataSource: domain.PriceSource_Cache}, nil
		}
		if in.CacheOnly {
			if len(cached) > 0 {
				return &domain.PriceSeries{Symbol: symbol, Bars: cached, DataSource: domain.PriceSource_Cache}, nil
			}
			return nil, noDataError(symbol, in.Start, in.End)
		}
	}

	source, ok := h.Sources[remote]
	if !ok {
		if len(cached) > 0 {
			return &domain.PriceSeries{Symbol: symbol, Bars: cached, DataSource: domain.PriceSource_Cache}, nil
		}
		return nil, fmt.Errorf("price source %q is not configured", remote)
	}

	bars, err := source.FetchBars(ctx, symbol, in.Start, in.End, in.Adjustment)
	if err != nil {
		if len(cached) > 0 {
			log.Warnf("serving stale cached bars for %s after fetch failure: %s", symbol, err.Error())
			return &domain.PriceSeries{Symbol: symbol, Bars: cached, DataSource: domain.PriceSource_Cache}, nil
		}
		return nil, fmt.Errorf("failed to fetch %s from %s: %w", symbol, remote, err)
	}
	bars = filterBars(cleanBars(bars), in.Start, in.End)

	if h.Store != nil && remote != domain.PriceSource_Memory {
		if err := h.Store.UpsertBars(ctx, symbol, in.Adjustment, remote, bars); err != nil {
			log.Warnf("failed to cache bars for %s: %s", symbol, err.Error())
		}
	}

	if len(bars) == 0 {
		return nil, noDataError(symbol, in.Start, in.End)
	}
	return &domain.PriceSeries{Symbol: symbol, Bars: bars, DataSource: remote}, nil
}

func (h priceHistoryRepositoryHandler) GetLatestPrice(ctx context.Context, symbol string, source domain.PriceSource) (*domain.Quote, error) {
	if h.Quotes == nil {
		return nil, nil
	}
	return h.Quotes.GetLatestPrice(ctx, symbol, source)
}
