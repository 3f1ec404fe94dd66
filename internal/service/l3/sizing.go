package l3_service

import (
	"fmt"

	"symphonybacktest/internal/domain"

	"github.com/shopspring/decimal"
)

const fractionalShareDecimals = 4

type SizePositionsInput struct {
	Positions   []domain.Position
	Prices      map[string]float64
	Budget      decimal.Decimal
	WholeShares bool
}

// SizePositions converts normalized weights into share quantities.
// Fractional quantities are rounded to four decimals; whole-share
// sizing floors instead, leaving the remainder in cash.
func SizePositions(in SizePositionsInput) ([]domain.PricedPosition, error) {
	out := []domain.PricedPosition{}
	for _, p := range in.Positions {
		price, ok := in.Prices[p.Symbol]
		if !ok || price <= 0 {
			return nil, fmt.Errorf("no price to size %s", p.Symbol)
		}
		priceDec := decimal.NewFromFloat(price)
		target := in.Budget.Mul(decimal.NewFromFloat(p.Weight))
		quantity := target.Div(priceDec)
		if in.WholeShares {
			quantity = quantity.Floor()
		} else {
			quantity = quantity.Round(fractionalShareDecimals)
		}
		if quantity.IsNegative() {
			quantity = decimal.Zero
		}
		out = append(out, domain.PricedPosition{
			Position:      p,
			Price:         priceDec,
			Quantity:      quantity,
			EstimatedCost: quantity.Mul(priceDec).Round(2),
		})
	}
	return out, nil
}
