package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"symphonybacktest/internal/domain"

	"github.com/gocarina/gocsv"
)

type csvBarRow struct {
	Date     string  `csv:"date"`
	Open     float64 `csv:"open"`
	High     float64 `csv:"high"`
	Low      float64 `csv:"low"`
	Close    float64 `csv:"close"`
	AdjClose float64 `csv:"adj_close"`
	Volume   float64 `csv:"volume"`
}

// CsvPriceRepository reads and writes one <SYMBOL>.csv file per symbol
// under Dir. Rows carry both the raw close and the adjusted close; the
// adjusted variants scale OHLC by adj_close/close.
type CsvPriceRepository interface {
	BarSource
	PriceBarStore
}

type csvPriceRepositoryHandler struct {
	Dir   string
	Mutex *sync.Mutex
}

func NewCsvPriceRepository(dir string) CsvPriceRepository {
	return &csvPriceRepositoryHandler{
		Dir:   dir,
		Mutex: &sync.Mutex{},
	}
}

func (h csvPriceRepositoryHandler) path(symbol string) string {
	return filepath.Join(h.Dir, normalizeSymbol(symbol)+".csv")
}

func (h csvPriceRepositoryHandler) readRows(symbol string) ([]csvBarRow, error) {
	f, err := os.Open(h.path(symbol))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []csvBarRow{}, nil
		}
		return nil, fmt.Errorf("failed to open price file for %s: %w", symbol, err)
	}
	defer f.Close()

	rows := []csvBarRow{}
	if err := gocsv.UnmarshalFile(f, &rows); err != nil {
		return nil, fmt.Errorf("failed to parse price file for %s: %w", symbol, err)
	}
	return rows, nil
}

func rowsToBars(rows []csvBarRow, adjustment domain.DataAdjustment) ([]domain.Bar, error) {
	bars := []domain.Bar{}
	for _, row := range rows {
		date, err := time.Parse(time.DateOnly, row.Date)
		if err != nil {
			return nil, fmt.Errorf("invalid date %q: %w", row.Date, err)
		}
		ratio := 1.0
		if adjustment != domain.DataAdjustment_Raw && row.AdjClose > 0 && row.Close > 0 {
			ratio = row.AdjClose / row.Close
		}
		bars = append(bars, domain.Bar{
			Date:   date,
			Open:   row.Open * ratio,
			High:   row.High * ratio,
			Low:    row.Low * ratio,
			Close:  row.Close * ratio,
			Volume: row.Volume,
		})
	}
	return cleanBars(bars), nil
}

func (h csvPriceRepositoryHandler) ListBars(ctx context.Context, symbol string, adjustment domain.DataAdjustment, start, end time.Time) ([]domain.Bar, error) {
	h.Mutex.Lock()
	defer h.Mutex.Unlock()
	rows, err := h.readRows(symbol)
	if err != nil {
		return nil, err
	}
	bars, err := rowsToBars(rows, adjustment)
	if err != nil {
		return nil, fmt.Errorf("failed to read bars for %s: %w", symbol, err)
	}
	return filterBars(bars, start, end), nil
}

func (h csvPriceRepositoryHandler) FetchBars(ctx context.Context, symbol string, start, end time.Time, adjustment domain.DataAdjustment) ([]domain.Bar, error) {
	bars, err := h.ListBars(ctx, symbol, adjustment, start, end)
	if err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return nil, noDataError(symbol, start, end)
	}
	return bars, nil
}

// UpsertBars merges bars into the symbol's file. Stored bars are treated
// as already adjusted, so adj_close equals close.
func (h csvPriceRepositoryHandler) UpsertBars(ctx context.Context, symbol string, adjustment domain.DataAdjustment, source domain.PriceSource, bars []domain.Bar) error {
	h.Mutex.Lock()
	defer h.Mutex.Unlock()

	rows, err := h.readRows(symbol)
	if err != nil {
		return err
	}
	existing, err := rowsToBars(rows, adjustment)
	if err != nil {
		return err
	}
	merged := cleanBars(append(existing, bars...))

	out := make([]csvBarRow, 0, len(merged))
	for _, b := range merged {
		out = append(out, csvBarRow{
			Date:     domain.DateKey(b.Date),
			Open:     b.Open,
			High:     b.High,
			Low:      b.Low,
			Close:    b.Close,
			AdjClose: b.Close,
			Volume:   b.Volume,
		})
	}

	if err := os.MkdirAll(h.Dir, 0o755); err != nil {
		return fmt.Errorf("failed to create price dir: %w", err)
	}
	f, err := os.Create(h.path(symbol))
	if err != nil {
		return fmt.Errorf("failed to write price file for %s: %w", symbol, err)
	}
	defer f.Close()
	if err := gocsv.MarshalFile(&out, f); err != nil {
		return fmt.Errorf("failed to encode price file for %s: %w", symbol, err)
	}
	return nil
}
