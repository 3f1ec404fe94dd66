package repository

import (
	"context"
	"fmt"
	"time"

	"symphonybacktest/internal/domain"

	"github.com/piquette/finance-go/chart"
	"github.com/piquette/finance-go/datetime"
)

type yahooRepositoryHandler struct{}

// NewYahooRepository fetches daily bars from the Yahoo chart API. Yahoo
// closes are split adjusted; adj close also folds in dividends.
func NewYahooRepository() BarSource {
	return yahooRepositoryHandler{}
}

func (h yahooRepositoryHandler) FetchBars(ctx context.Context, symbol string, start, end time.Time, adjustment domain.DataAdjustment) ([]domain.Bar, error) {
	s := start
	e := end.AddDate(0, 0, 1)
	params := &chart.Params{
		Start:    datetime.New(&s),
		End:      datetime.New(&e),
		Symbol:   normalizeSymbol(symbol),
		Interval: datetime.OneDay,
	}
	iter := chart.Get(params)

	bars := []domain.Bar{}
	for iter.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		bar := iter.Bar()
		closePrice := bar.Close.InexactFloat64()
		ratio := 1.0
		if adjustment == domain.DataAdjustment_Dividend || adjustment == domain.DataAdjustment_All {
			if adj := bar.AdjClose.InexactFloat64(); adj > 0 && closePrice > 0 {
				ratio = adj / closePrice
			}
		}
		bars = append(bars, domain.Bar{
			Date:   time.Unix(int64(bar.Timestamp), 0).UTC(),
			Open:   bar.Open.InexactFloat64() * ratio,
			High:   bar.High.InexactFloat64() * ratio,
			Low:    bar.Low.InexactFloat64() * ratio,
			Close:  closePrice * ratio,
			Volume: float64(bar.Volume),
		})
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to get yahoo prices for %s: %w", symbol, err)
	}
	if len(bars) == 0 {
		return nil, noDataError(symbol, start, end)
	}
	return cleanBars(bars), nil
}
