package calculator

import (
	"math"

	"symphonybacktest/internal/domain"

	"github.com/montanaflynn/stats"
)

const tradingDaysPerYear = 252

type PerformanceMetrics struct {
	TotalReturn          float64 `json:"totalReturn"`
	CAGR                 float64 `json:"cagr"`
	AnnualizedVolatility float64 `json:"annualizedVolatility"`
	SharpeRatio          float64 `json:"sharpeRatio"`
	// fraction in [0, 1]
	MaxDrawdown float64 `json:"maxDrawdown"`
	CalmarRatio float64 `json:"calmarRatio"`
	WinRate     float64 `json:"winRate"`
	AvgTurnover float64 `json:"avgTurnover"`
	TradingDays int     `json:"tradingDays"`
}

// CalculatePerformance summarizes a NAV series that starts at 1.0 before
// the first record.
func CalculatePerformance(records []domain.DayRecord) PerformanceMetrics {
	out := PerformanceMetrics{TradingDays: len(records)}
	if len(records) == 0 {
		return out
	}

	returns := make([]float64, 0, len(records))
	navs := make([]float64, 0, len(records))
	turnover := 0.0
	wins := 0
	for _, r := range records {
		returns = append(returns, r.DailyReturn)
		navs = append(navs, r.NAV)
		turnover += r.Turnover
		if r.DailyReturn > 0 {
			wins++
		}
	}

	finalNav := navs[len(navs)-1]
	out.TotalReturn = finalNav - 1
	if finalNav > 0 {
		out.CAGR = math.Pow(finalNav, tradingDaysPerYear/float64(len(records))) - 1
	} else {
		out.CAGR = -1
	}

	out.AnnualizedVolatility = AnnualizedVolatility(returns)
	if out.AnnualizedVolatility > 0 {
		mean, err := stats.Mean(returns)
		if err == nil {
			out.SharpeRatio = mean * tradingDaysPerYear / out.AnnualizedVolatility
		}
	}

	out.MaxDrawdown = NavMaxDrawdown(navs)
	if out.MaxDrawdown > 0 {
		out.CalmarRatio = out.CAGR / out.MaxDrawdown
	}
	out.WinRate = float64(wins) / float64(len(records))
	out.AvgTurnover = turnover / float64(len(records))

	return sanitize(out)
}

// AnnualizedVolatility is the sample stdev of daily returns scaled by
// sqrt(252); zero with fewer than two returns.
func AnnualizedVolatility(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	stdev, err := stats.StandardDeviationSample(returns)
	if err != nil || math.IsNaN(stdev) {
		return 0
	}
	return stdev * math.Sqrt(tradingDaysPerYear)
}

// NavMaxDrawdown measures peak-to-trough decline including the implicit
// starting NAV of 1.0.
func NavMaxDrawdown(navs []float64) float64 {
	peak := 1.0
	maxDD := 0.0
	for _, nav := range navs {
		if nav > peak {
			peak = nav
		}
		if peak <= 0 {
			continue
		}
		if dd := (peak - nav) / peak; dd > maxDD {
			maxDD = dd
		}
	}
	return math.Min(1, math.Max(0, maxDD))
}

func sanitize(m PerformanceMetrics) PerformanceMetrics {
	fix := func(v *float64) {
		if math.IsNaN(*v) || math.IsInf(*v, 0) {
			*v = 0
		}
	}
	fix(&m.TotalReturn)
	fix(&m.CAGR)
	fix(&m.AnnualizedVolatility)
	fix(&m.SharpeRatio)
	fix(&m.MaxDrawdown)
	fix(&m.CalmarRatio)
	fix(&m.WinRate)
	fix(&m.AvgTurnover)
	return m
}

type Regression struct {
	Beta        float64 `json:"beta"`
	Correlation float64 `json:"correlation"`
	RSquared    float64 `json:"rSquared"`
	// paired observations used
	Observations int `json:"observations"`
}

// BenchmarkRegression pairs daily returns by position and skips pairs
// where either side is not finite. ok is false with fewer than two
// pairs or a flat benchmark.
func BenchmarkRegression(portfolio, benchmark []float64) (Regression, bool) {
	xs := []float64{}
	ys := []float64{}
	n := len(portfolio)
	if len(benchmark) < n {
		n = len(benchmark)
	}
	for i := 0; i < n; i++ {
		p, b := portfolio[i], benchmark[i]
		if math.IsNaN(p) || math.IsInf(p, 0) || math.IsNaN(b) || math.IsInf(b, 0) {
			continue
		}
		ys = append(ys, p)
		xs = append(xs, b)
	}
	if len(xs) < 2 {
		return Regression{}, false
	}

	variance, err := stats.PopulationVariance(xs)
	if err != nil || variance == 0 {
		return Regression{}, false
	}
	covariance, err := stats.CovariancePopulation(ys, xs)
	if err != nil {
		return Regression{}, false
	}
	out := Regression{
		Beta:         covariance / variance,
		Observations: len(xs),
	}
	correlation, err := stats.Correlation(ys, xs)
	if err == nil && !math.IsNaN(correlation) {
		out.Correlation = correlation
		out.RSquared = correlation * correlation
	}
	return out, true
}
