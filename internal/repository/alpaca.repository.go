package repository

import (
	"context"
	"fmt"
	"time"

	"symphonybacktest/internal/domain"
	"symphonybacktest/internal/logger"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
)

type AlpacaRepository interface {
	BarSource
	LatestQuoteRepository
	GetLatestPrices(ctx context.Context, symbols []string) (map[string]domain.Quote, error)
}

func NewAlpacaRepository(apiKey, apiSecret string, endpoint string) AlpacaRepository {
	mdClient := marketdata.NewClient(marketdata.ClientOpts{
		BaseURL:   endpoint,
		APIKey:    apiKey,
		APISecret: apiSecret,
	})

	return &alpacaRepositoryHandler{
		MdClient: mdClient,
	}
}

type alpacaRepositoryHandler struct {
	MdClient *marketdata.Client
}

func toAlpacaAdjustment(adjustment domain.DataAdjustment) marketdata.Adjustment {
	switch adjustment {
	case domain.DataAdjustment_Raw:
		return marketdata.Raw
	case domain.DataAdjustment_Dividend:
		return marketdata.Dividend
	case domain.DataAdjustment_All:
		return marketdata.All
	}
	return marketdata.Split
}

func (h alpacaRepositoryHandler) FetchBars(ctx context.Context, symbol string, start, end time.Time, adjustment domain.DataAdjustment) ([]domain.Bar, error) {
	results, err := h.MdClient.GetBars(normalizeSymbol(symbol), marketdata.GetBarsRequest{
		TimeFrame:  marketdata.OneDay,
		Adjustment: toAlpacaAdjustment(adjustment),
		Start:      start,
		// alpaca treats End as exclusive
		End: end.AddDate(0, 0, 1),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get alpaca bars for %s: %w", symbol, err)
	}

	bars := make([]domain.Bar, 0, len(results))
	for _, b := range results {
		bars = append(bars, domain.Bar{
			Date:   b.Timestamp.UTC(),
			Open:   b.Open,
			High:   b.High,
			Low:    b.Low,
			Close:  b.Close,
			Volume: float64(b.Volume),
		})
	}
	if len(bars) == 0 {
		return nil, noDataError(symbol, start, end)
	}
	return cleanBars(bars), nil
}

func (h alpacaRepositoryHandler) GetLatestPrices(ctx context.Context, symbols []string) (map[string]domain.Quote, error) {
	log := logger.FromContext(ctx)
	if len(symbols) == 0 {
		return map[string]domain.Quote{}, nil
	}

	results, err := h.MdClient.GetLatestQuotes(symbols, marketdata.GetLatestQuoteRequest{})
	if err != nil {
		return nil, fmt.Errorf("failed to get latest alpaca quotes: %w", err)
	}
	out := map[string]domain.Quote{}
	for symbol, result := range results {
		price := result.BidPrice
		if price <= 0 {
			price = result.AskPrice
		}
		if price <= 0 {
			log.Warnf("skipping zero quote for %s", symbol)
			continue
		}
		out[symbol] = domain.Quote{
			Symbol:    symbol,
			Price:     price,
			Timestamp: result.Timestamp.UTC(),
		}
	}

	return out, nil
}

func (h alpacaRepositoryHandler) GetLatestPrice(ctx context.Context, symbol string, source domain.PriceSource) (*domain.Quote, error) {
	quotes, err := h.GetLatestPrices(ctx, []string{normalizeSymbol(symbol)})
	if err != nil {
		return nil, err
	}
	q, ok := quotes[normalizeSymbol(symbol)]
	if !ok {
		return nil, nil
	}
	return &q, nil
}
