package l1_service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"symphonybacktest/internal/domain"
	"symphonybacktest/internal/logger"
	"symphonybacktest/internal/repository"
)

/**

loads raw daily bars for a set of symbols before any evaluation
happens. this is the only concurrent step of a run; everything after
it is synchronous over the loaded series

a symbol that fails to load is reported as missing, not fatal. the
caller decides whether an incomplete universe is acceptable

*/

type PriceService interface {
	LoadSeries(ctx context.Context, in LoadSeriesInput) (*LoadSeriesResult, error)
	GetLatestQuote(ctx context.Context, symbol string, source domain.PriceSource) (*domain.Quote, error)
}

type LoadSeriesInput struct {
	Symbols      []string
	Start        time.Time
	End          time.Time
	Adjustment   domain.DataAdjustment
	Source       domain.PriceSource
	ForceRefresh bool
	CacheOnly    bool
}

type LoadSeriesResult struct {
	Series  map[string]*domain.PriceSeries
	Missing map[string]string
}

type priceServiceHandler struct {
	PriceHistoryRepository repository.PriceHistoryRepository
	LatestQuoteRepository  repository.LatestQuoteRepository
}

func NewPriceService(priceHistoryRepository repository.PriceHistoryRepository, latestQuoteRepository repository.LatestQuoteRepository) PriceService {
	return &priceServiceHandler{
		PriceHistoryRepository: priceHistoryRepository,
		LatestQuoteRepository:  latestQuoteRepository,
	}
}

// loadConcurrency keeps remote providers under their rate limits while
// letting local sources fan out.
func loadConcurrency(source domain.PriceSource) int {
	switch source {
	case domain.PriceSource_Alpaca:
		return 4
	case domain.PriceSource_Yahoo:
		return 2
	case domain.PriceSource_CSV:
		return 8
	}
	return 16
}

func (h priceServiceHandler) LoadSeries(ctx context.Context, in LoadSeriesInput) (*LoadSeriesResult, error) {
	log := logger.FromContext(ctx)

	symbols := dedupeSymbols(in.Symbols)
	result := &LoadSeriesResult{
		Series:  map[string]*domain.PriceSeries{},
		Missing: map[string]string{},
	}
	if len(symbols) == 0 {
		return result, nil
	}

	numGoroutines := loadConcurrency(in.Source)
	if numGoroutines > len(symbols) {
		numGoroutines = len(symbols)
	}

	inputCh := make(chan string, len(symbols))
	for _, s := range symbols {
		inputCh <- s
	}
	close(inputCh)

	var (
		wg    sync.WaitGroup
		mutex sync.Mutex
	)
	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case symbol, ok := <-inputCh:
					if !ok {
						return
					}
					series, err := h.PriceHistoryRepository.GetSeries(ctx, repository.GetSeriesInput{
						Symbol:       symbol,
						Start:        in.Start,
						End:          in.End,
						Adjustment:   in.Adjustment,
						Source:       in.Source,
						ForceRefresh: in.ForceRefresh,
						CacheOnly:    in.CacheOnly,
					})
					mutex.Lock()
					if err != nil {
						log.Warnf("failed to load prices for %s: %s", symbol, err.Error())
						result.Missing[symbol] = missingReason(err)
					} else if series == nil || len(series.Bars) == 0 {
						result.Missing[symbol] = "no price data"
					} else {
						result.Series[symbol] = series
					}
					mutex.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("price load cancelled: %w", err)
	}

	return result, nil
}

func missingReason(err error) string {
	if errors.Is(err, repository.ErrNoPriceData) {
		return "no price data"
	}
	return fmt.Sprintf("load failed: %s", err.Error())
}

func (h priceServiceHandler) GetLatestQuote(ctx context.Context, symbol string, source domain.PriceSource) (*domain.Quote, error) {
	if h.LatestQuoteRepository == nil {
		return nil, nil
	}
	return h.LatestQuoteRepository.GetLatestPrice(ctx, symbol, source)
}

func dedupeSymbols(symbols []string) []string {
	set := map[string]bool{}
	out := []string{}
	for _, s := range symbols {
		if s == "" || set[s] {
			continue
		}
		set[s] = true
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
