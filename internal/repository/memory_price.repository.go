package repository

import (
	"context"
	"sync"
	"time"

	"symphonybacktest/internal/domain"
)

type memoryKey struct {
	symbol     string
	adjustment domain.DataAdjustment
}

// MemoryPriceBarStore keeps bars in process. It serves as the bar cache
// when no database is configured and as the memory price source.
type MemoryPriceBarStore struct {
	bars      map[memoryKey][]domain.Bar
	fetchedAt map[memoryKey]time.Time
	ReadMutex *sync.RWMutex
}

func NewMemoryPriceBarStore() *MemoryPriceBarStore {
	return &MemoryPriceBarStore{
		bars:      map[memoryKey][]domain.Bar{},
		fetchedAt: map[memoryKey]time.Time{},
		ReadMutex: &sync.RWMutex{},
	}
}

// Seed stores bars for every adjustment, which is convenient for
// fixtures that only carry one price per day.
func (h *MemoryPriceBarStore) Seed(symbol string, bars []domain.Bar) {
	for _, adj := range []domain.DataAdjustment{
		domain.DataAdjustment_Raw,
		domain.DataAdjustment_Split,
		domain.DataAdjustment_Dividend,
		domain.DataAdjustment_All,
	} {
		_ = h.UpsertBars(context.Background(), symbol, adj, domain.PriceSource_Memory, bars)
	}
}

func (h *MemoryPriceBarStore) ListBars(ctx context.Context, symbol string, adjustment domain.DataAdjustment, start, end time.Time) ([]domain.Bar, error) {
	h.ReadMutex.RLock()
	defer h.ReadMutex.RUnlock()
	bars := h.bars[memoryKey{normalizeSymbol(symbol), adjustment}]
	return filterBars(bars, start, end), nil
}

func (h *MemoryPriceBarStore) UpsertBars(ctx context.Context, symbol string, adjustment domain.DataAdjustment, source domain.PriceSource, bars []domain.Bar) error {
	key := memoryKey{normalizeSymbol(symbol), adjustment}
	h.ReadMutex.Lock()
	defer h.ReadMutex.Unlock()
	merged := append(append([]domain.Bar{}, h.bars[key]...), bars...)
	h.bars[key] = cleanBars(merged)
	h.fetchedAt[key] = time.Now()
	return nil
}

// FetchBars lets the memory store act as a bar source of its own.
func (h *MemoryPriceBarStore) FetchBars(ctx context.Context, symbol string, start, end time.Time, adjustment domain.DataAdjustment) ([]domain.Bar, error) {
	bars, err := h.ListBars(ctx, symbol, adjustment, start, end)
	if err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return nil, noDataError(symbol, start, end)
	}
	return bars, nil
}

// GetLatestPrice returns the last stored close for symbol.
func (h *MemoryPriceBarStore) GetLatestPrice(ctx context.Context, symbol string, source domain.PriceSource) (*domain.Quote, error) {
	h.ReadMutex.RLock()
	defer h.ReadMutex.RUnlock()
	var latest *domain.Quote
	for key, bars := range h.bars {
		if key.symbol != normalizeSymbol(symbol) || len(bars) == 0 {
			continue
		}
		last := bars[len(bars)-1]
		if latest == nil || last.Date.After(latest.Timestamp) {
			latest = &domain.Quote{Symbol: key.symbol, Price: last.Close, Timestamp: last.Date}
		}
	}
	return latest, nil
}
