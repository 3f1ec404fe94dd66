package calculator

import (
	"math"

	"symphonybacktest/internal/domain"

	"github.com/montanaflynn/stats"
	"github.com/moznion/go-optional"
)

// All metrics take the closes visible at the evaluation index, oldest
// first, and return None when the input is too short or not finite.

func none() optional.Option[float64] {
	return optional.None[float64]()
}

func finite(v float64) optional.Option[float64] {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return none()
	}
	return optional.Some(v)
}

func allFinitePositive(closes []float64) bool {
	for _, c := range closes {
		if math.IsNaN(c) || math.IsInf(c, 0) || c <= 0 {
			return false
		}
	}
	return true
}

// Compute dispatches a metric kind over closes.
func Compute(kind domain.MetricKind, closes []float64, window int, method domain.RSIMethod) optional.Option[float64] {
	switch kind {
	case domain.MetricKind_RSI:
		return RSI(closes, window, method)
	case domain.MetricKind_MovingAveragePrice:
		return SMA(closes, window)
	case domain.MetricKind_ExponentialMAPrice:
		return EMA(closes, window)
	case domain.MetricKind_MovingAverageReturn:
		return MovingAverageReturn(closes, window)
	case domain.MetricKind_CumulativeReturn:
		return CumulativeReturn(closes, window)
	case domain.MetricKind_StdevReturn, domain.MetricKind_InverseVolatilityKey:
		return StdevReturn(closes, window)
	case domain.MetricKind_StdevReturnPercent:
		v := StdevReturn(closes, window)
		if v.IsNone() {
			return v
		}
		return optional.Some(v.Unwrap() * 100)
	case domain.MetricKind_MaxDrawdown:
		return MaxDrawdown(closes, window)
	case domain.MetricKind_CurrentPrice:
		return CurrentPrice(closes)
	}
	return none()
}

// RSI supports Wilder smoothing and the flat trailing average (Cutler).
// Wilder seeds on the first window of changes in closes, so a longer
// history yields a more converged value.
func RSI(closes []float64, window int, method domain.RSIMethod) optional.Option[float64] {
	if window <= 0 || len(closes) < window+1 || !allFinitePositive(closes) {
		return none()
	}

	var avgGain, avgLoss float64
	if method == domain.RSIMethod_Simple {
		for i := len(closes) - window; i < len(closes); i++ {
			gain, loss := splitChange(closes[i] - closes[i-1])
			avgGain += gain
			avgLoss += loss
		}
		avgGain /= float64(window)
		avgLoss /= float64(window)
	} else {
		for i := 1; i <= window; i++ {
			gain, loss := splitChange(closes[i] - closes[i-1])
			avgGain += gain
			avgLoss += loss
		}
		avgGain /= float64(window)
		avgLoss /= float64(window)

		w := float64(window)
		for i := window + 1; i < len(closes); i++ {
			gain, loss := splitChange(closes[i] - closes[i-1])
			avgGain = (avgGain*(w-1) + gain) / w
			avgLoss = (avgLoss*(w-1) + loss) / w
		}
	}

	if avgGain == 0 && avgLoss == 0 {
		return optional.Some(50.0)
	}
	if avgLoss == 0 {
		return optional.Some(100.0)
	}
	rs := avgGain / avgLoss
	return finite(100 - 100/(1+rs))
}

func splitChange(diff float64) (gain, loss float64) {
	if diff > 0 {
		return diff, 0
	}
	return 0, -diff
}

func SMA(closes []float64, window int) optional.Option[float64] {
	if window <= 0 || len(closes) < window {
		return none()
	}
	subset := closes[len(closes)-window:]
	if !allFinitePositive(subset) {
		return none()
	}
	mean, err := stats.Mean(subset)
	if err != nil {
		return none()
	}
	return finite(mean)
}

// EMA is seeded with the SMA of the first window and smoothed with
// 2/(window+1) from there.
func EMA(closes []float64, window int) optional.Option[float64] {
	if window <= 0 || len(closes) < window || !allFinitePositive(closes) {
		return none()
	}
	seed, err := stats.Mean(closes[:window])
	if err != nil {
		return none()
	}
	alpha := 2 / float64(window+1)
	ema := seed
	for _, c := range closes[window:] {
		ema = alpha*c + (1-alpha)*ema
	}
	return finite(ema)
}

// trailingReturns returns the last window simple daily returns.
func trailingReturns(closes []float64, window int) ([]float64, bool) {
	if window <= 0 || len(closes) < window+1 {
		return nil, false
	}
	subset := closes[len(closes)-window-1:]
	if !allFinitePositive(subset) {
		return nil, false
	}
	out := make([]float64, 0, window)
	for i := 1; i < len(subset); i++ {
		out = append(out, subset[i]/subset[i-1]-1)
	}
	return out, true
}

// MovingAverageReturn is a fraction, not a percent.
func MovingAverageReturn(closes []float64, window int) optional.Option[float64] {
	returns, ok := trailingReturns(closes, window)
	if !ok {
		return none()
	}
	mean, err := stats.Mean(returns)
	if err != nil {
		return none()
	}
	return finite(mean)
}

// CumulativeReturn is in percentage points.
func CumulativeReturn(closes []float64, window int) optional.Option[float64] {
	if window <= 0 || len(closes) < window+1 {
		return none()
	}
	latest := closes[len(closes)-1]
	prior := closes[len(closes)-1-window]
	if !allFinitePositive([]float64{latest, prior}) {
		return none()
	}
	return finite((latest/prior - 1) * 100)
}

// StdevReturn is the population standard deviation of trailing daily
// returns, as a fraction.
func StdevReturn(closes []float64, window int) optional.Option[float64] {
	returns, ok := trailingReturns(closes, window)
	if !ok {
		return none()
	}
	sd, err := stats.StandardDeviationPopulation(returns)
	if err != nil {
		return none()
	}
	return finite(sd)
}

// MaxDrawdown is the largest peak-to-trough decline across the trailing
// window of closes, as a positive percent.
func MaxDrawdown(closes []float64, window int) optional.Option[float64] {
	if window <= 0 || len(closes) < window {
		return none()
	}
	subset := closes[len(closes)-window:]
	if !allFinitePositive(subset) {
		return none()
	}
	peak := subset[0]
	maxDD := 0.0
	for _, c := range subset {
		if c > peak {
			peak = c
		}
		if dd := (peak - c) / peak; dd > maxDD {
			maxDD = dd
		}
	}
	return finite(maxDD * 100)
}

func CurrentPrice(closes []float64) optional.Option[float64] {
	if len(closes) == 0 {
		return none()
	}
	last := closes[len(closes)-1]
	if !allFinitePositive([]float64{last}) {
		return none()
	}
	return optional.Some(last)
}
