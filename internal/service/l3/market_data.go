package l3_service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"symphonybacktest/internal/domain"
	"symphonybacktest/internal/logger"
	l1_service "symphonybacktest/internal/service/l1"
)

const (
	// minimum history for a point-in-time evaluation
	defaultLookbackBars = 250
	// extra seed history so Wilder smoothing converges
	rsiWarmupBars = 250
	// padding on top of the largest window
	windowPaddingBars       = 5
	maxCalendarLookbackDays = 750
)

type loadUniverseInput struct {
	Symbols      []string
	Start        time.Time
	End          time.Time
	AsOf         time.Time
	Options      domain.Options
	RequiredBars int
	Diagnostics  *domain.Diagnostics
}

type loadedUniverse struct {
	Universe *domain.AlignedUniverse
	Series   map[string]*domain.PriceSeries
	Sources  map[string]domain.PriceSource
}

// loadUniverse loads every symbol, applies the as-of policy, and aligns
// the result. Symbols that cannot be loaded or aligned are recorded on
// the diagnostics and dropped unless the options demand a complete
// universe.
func loadUniverse(ctx context.Context, priceService l1_service.PriceService, in loadUniverseInput) (*loadedUniverse, error) {
	log := logger.FromContext(ctx)
	opts := in.Options
	profile := domain.ProfileFromContext(ctx)

	profile.StartStage("load")
	loadInput := l1_service.LoadSeriesInput{
		Symbols:      in.Symbols,
		Start:        in.Start,
		End:          in.End,
		Adjustment:   opts.DataAdjustment,
		Source:       opts.PriceSource,
		ForceRefresh: opts.PriceRefresh,
		CacheOnly:    opts.CacheOnly,
	}
	loaded, err := priceService.LoadSeries(ctx, loadInput)
	if err != nil {
		return nil, fmt.Errorf("failed to load price series: %w", err)
	}

	if opts.AsOfMode == domain.AsOfMode_PreviousClose {
		stale := l1_service.TrimToPreviousClose(loaded.Series, in.AsOf)
		retry := append(stale, sortedKeys(loaded.Missing)...)
		if len(retry) > 0 && !opts.CacheOnly && !opts.PriceRefresh {
			log.Infof("refreshing %d stale or missing symbols before %s", len(retry), domain.DateKey(in.AsOf))
			loadInput.Symbols = retry
			loadInput.ForceRefresh = true
			refreshed, err := priceService.LoadSeries(ctx, loadInput)
			if err != nil {
				return nil, fmt.Errorf("failed to refresh stale series: %w", err)
			}
			l1_service.TrimToPreviousClose(refreshed.Series, in.AsOf)
			for symbol, s := range refreshed.Series {
				loaded.Series[symbol] = s
				delete(loaded.Missing, symbol)
			}
		}
		for _, symbol := range l1_service.TrimToPreviousClose(loaded.Series, in.AsOf) {
			if len(loaded.Series[symbol].Bars) == 0 {
				delete(loaded.Series, symbol)
				loaded.Missing[symbol] = "no completed session before as-of date"
				continue
			}
			in.Diagnostics.AddNote("%s history ends %s, before the previous close", symbol,
				domain.DateKey(loaded.Series[symbol].Bars[len(loaded.Series[symbol].Bars)-1].Date))
		}
	} else {
		for symbol, s := range loaded.Series {
			quote, err := priceService.GetLatestQuote(ctx, symbol, opts.PriceSource)
			if err != nil {
				log.Warnf("failed to get latest quote for %s: %s", symbol, err.Error())
				continue
			}
			if quote != nil {
				l1_service.PatchLatestQuote(s, *quote)
			}
		}
	}

	for symbol, reason := range loaded.Missing {
		in.Diagnostics.AddMissing(symbol, reason)
	}
	if len(loaded.Missing) > 0 && opts.RequireCompleteUniverse {
		e := domain.NewMissingDataError(copyReasons(loaded.Missing), "price history unavailable for %d symbols", len(loaded.Missing))
		asOf := in.AsOf
		e.AsOf = &asOf
		e.PriceSource = opts.PriceSource
		return nil, e
	}
	if len(loaded.Series) == 0 {
		e := domain.NewMissingDataError(copyReasons(loaded.Missing), "no price history loaded")
		asOf := in.AsOf
		e.AsOf = &asOf
		e.PriceSource = opts.PriceSource
		return nil, e
	}

	profile.StartStage("align")
	raw := map[string][]domain.Bar{}
	sources := map[string]domain.PriceSource{}
	for symbol, s := range loaded.Series {
		raw[symbol] = s.Bars
		sources[symbol] = s.DataSource
	}
	alignInput := l1_service.AlignSeriesInput{
		PreferredCalendarSymbol: opts.CalendarSymbol,
		RequiredBars:            in.RequiredBars,
	}
	universe, err := l1_service.AlignSeries(raw, alignInput)
	var alignErr *domain.EvalError
	if errors.As(err, &alignErr) && alignErr.Kind == domain.ErrorKind_AlignmentFailure && !opts.RequireCompleteUniverse {
		for symbol, reason := range alignErr.Missing {
			in.Diagnostics.AddMissing(symbol, reason)
			delete(raw, symbol)
		}
		if len(raw) > 0 {
			log.Warnf("dropping %d symbols that could not be aligned", len(alignErr.Missing))
			universe, err = l1_service.AlignSeries(raw, alignInput)
		}
	}
	if err != nil {
		return nil, err
	}

	return &loadedUniverse{
		Universe: universe,
		Series:   loaded.Series,
		Sources:  sources,
	}, nil
}

func sortedKeys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func copyReasons(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
