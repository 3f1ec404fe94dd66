package l3_service

import (
	"testing"
	"time"

	"symphonybacktest/internal/domain"
	"symphonybacktest/internal/repository"
	l1_service "symphonybacktest/internal/service/l1"
	l2_service "symphonybacktest/internal/service/l2"
	"symphonybacktest/internal/util"

	"github.com/stretchr/testify/require"
)

var fixtureStart = util.NewDate(2020, 1, 1)

func barsFrom(start time.Time, closes []float64) []domain.Bar {
	out := make([]domain.Bar, 0, len(closes))
	for i, c := range closes {
		out = append(out, domain.Bar{
			Date:   start.AddDate(0, 0, i),
			Open:   c,
			High:   c,
			Low:    c,
			Close:  c,
			Volume: 1000,
		})
	}
	return out
}

func linear(start, step float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + step*float64(i)
	}
	return out
}

// newMemoryPriceService serves daily fixtures starting 2020-01-01 from
// an in-memory store.
func newMemoryPriceService(closes map[string][]float64) (l1_service.PriceService, *repository.MemoryPriceBarStore) {
	store := repository.NewMemoryPriceBarStore()
	for symbol, c := range closes {
		store.Seed(symbol, barsFrom(fixtureStart, c))
	}
	repo := repository.NewPriceHistoryRepository(repository.PriceHistoryRepositoryInput{
		Store: store,
		Sources: map[domain.PriceSource]repository.BarSource{
			domain.PriceSource_Memory: store,
		},
		Quotes:        store,
		DefaultSource: domain.PriceSource_Memory,
	})
	return l1_service.NewPriceService(repo, repo), store
}

func memoryOptions() domain.Options {
	return domain.Options{
		PriceSource:    domain.PriceSource_Memory,
		DataAdjustment: domain.DataAdjustment_Split,
		AsOfMode:       domain.AsOfMode_PreviousClose,
	}
}

func mustParse(t *testing.T, script string) *domain.Strategy {
	t.Helper()
	strategy, err := l2_service.ParseStrategy(l2_service.JSONParser{}, []byte(script))
	require.NoError(t, err)
	return strategy
}

func fixedNow(t time.Time) func() time.Time {
	return func() time.Time { return t }
}
