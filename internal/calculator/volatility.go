package calculator

import (
	"math"

	"MomentumSentinel/internal/model"
)

// TrueRange is max(high-low, |high-prevClose|, |low-prevClose|).
func TrueRange(high, low, prevClose float64) float64 {
	return math.Max(high-low, math.Max(math.Abs(high-prevClose), math.Abs(low-prevClose)))
}

// RollingATR returns the average true range over period bars at every index.
// A value is NaN until period true ranges exist, and whenever a bar in the
// window lacks high/low.
func RollingATR(bars []model.Bar, period int) []float64 {
	out := make([]float64, len(bars))
	for i := range out {
		out[i] = math.NaN()
	}
	if period <= 0 {
		return out
	}
	for i := period; i < len(bars); i++ {
		sum := 0.0
		ok := true
		for j := i - period + 1; j <= i; j++ {
			if !bars[j].HasRange {
				ok = false
				break
			}
			sum += TrueRange(bars[j].High, bars[j].Low, bars[j-1].Close)
		}
		if ok {
			out[i] = sum / float64(period)
		}
	}
	return out
}

// DailyReturns returns close-to-close simple returns. Index 0 is NaN.
func DailyReturns(closes []float64) []float64 {
	out := make([]float64, len(closes))
	if len(out) == 0 {
		return out
	}
	out[0] = math.NaN()
	for i := 1; i < len(closes); i++ {
		if closes[i-1] == 0 {
			out[i] = math.NaN()
			continue
		}
		out[i] = closes[i]/closes[i-1] - 1
	}
	return out
}

// RollingStd returns the population standard deviation over period values
// at every index, NaN where the window is short or contains NaN.
func RollingStd(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	for i := range out {
		out[i] = math.NaN()
		if period <= 0 || i < period-1 {
			continue
		}
		window := values[i-period+1 : i+1]
		if !Defined(window...) {
			continue
		}
		out[i] = populationStd(window)
	}
	return out
}

// Mean returns the arithmetic mean, 0 for an empty slice.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// SampleStd returns the n-1 standard deviation, 0 with fewer than two values.
func SampleStd(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	m := Mean(values)
	ss := 0.0
	for _, v := range values {
		ss += (v - m) * (v - m)
	}
	return math.Sqrt(ss / float64(len(values)-1))
}

func populationStd(values []float64) float64 {
	m := Mean(values)
	ss := 0.0
	for _, v := range values {
		ss += (v - m) * (v - m)
	}
	return math.Sqrt(ss / float64(len(values)))
}
