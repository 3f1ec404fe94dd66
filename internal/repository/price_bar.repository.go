package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"symphonybacktest/internal/db/models/postgres/public/model"
	. "symphonybacktest/internal/db/models/postgres/public/table"
	"symphonybacktest/internal/domain"

	. "github.com/go-jet/jet/v2/postgres"
	_ "github.com/lib/pq"
)

type priceBarRepositoryHandler struct {
	Db *sql.DB
}

// NewPriceBarRepository is the Postgres backed bar cache.
func NewPriceBarRepository(db *sql.DB) PriceBarStore {
	return priceBarRepositoryHandler{Db: db}
}

func (h priceBarRepositoryHandler) ListBars(ctx context.Context, symbol string, adjustment domain.DataAdjustment, start, end time.Time) ([]domain.Bar, error) {
	query := PriceBar.
		SELECT(PriceBar.AllColumns).
		WHERE(
			AND(
				PriceBar.Symbol.EQ(String(normalizeSymbol(symbol))),
				PriceBar.Adjustment.EQ(String(string(adjustment))),
				PriceBar.Date.BETWEEN(DateT(start), DateT(end)),
			),
		).
		ORDER_BY(PriceBar.Date.ASC())

	result := []model.PriceBar{}
	err := query.QueryContext(ctx, h.Db, &result)
	if err != nil {
		return nil, fmt.Errorf("failed to query price bars for %s: %w", symbol, err)
	}

	bars := make([]domain.Bar, 0, len(result))
	for _, m := range result {
		bars = append(bars, domain.Bar{
			Date:   m.Date.UTC(),
			Open:   m.Open,
			High:   m.High,
			Low:    m.Low,
			Close:  m.Close,
			Volume: m.Volume,
		})
	}
	return bars, nil
}

func (h priceBarRepositoryHandler) UpsertBars(ctx context.Context, symbol string, adjustment domain.DataAdjustment, source domain.PriceSource, bars []domain.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	now := time.Now().UTC()
	models := make([]model.PriceBar, 0, len(bars))
	for _, b := range cleanBars(bars) {
		models = append(models, model.PriceBar{
			Symbol:     normalizeSymbol(symbol),
			Date:       b.Date.UTC(),
			Adjustment: string(adjustment),
			Open:       b.Open,
			High:       b.High,
			Low:        b.Low,
			Close:      b.Close,
			Volume:     b.Volume,
			Source:     string(source),
			FetchedAt:  now,
		})
	}

	query := PriceBar.
		INSERT(PriceBar.AllColumns).
		MODELS(models).
		ON_CONFLICT(
			PriceBar.Symbol, PriceBar.Date, PriceBar.Adjustment,
		).DO_UPDATE(
		SET(
			PriceBar.Open.SET(PriceBar.EXCLUDED.Open),
			PriceBar.High.SET(PriceBar.EXCLUDED.High),
			PriceBar.Low.SET(PriceBar.EXCLUDED.Low),
			PriceBar.Close.SET(PriceBar.EXCLUDED.Close),
			PriceBar.Volume.SET(PriceBar.EXCLUDED.Volume),
			PriceBar.Source.SET(PriceBar.EXCLUDED.Source),
			PriceBar.FetchedAt.SET(PriceBar.EXCLUDED.FetchedAt),
		),
	)

	_, err := query.ExecContext(ctx, h.Db)
	if err != nil {
		return fmt.Errorf("failed to add price bars for %s: %w", symbol, err)
	}
	return nil
}
