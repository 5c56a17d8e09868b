package strategy

import (
	"math"

	"MomentumSentinel/internal/model"
)

// statsAccumulator tracks an asset's returns on days it was held at the
// previous record's weight.
type statsAccumulator struct {
	n           int
	sum, sumSq  float64
	wins        int
	gain, loss  float64
	equity      float64
	peak, maxDD float64
}

func newStatsAccumulator() *statsAccumulator {
	return &statsAccumulator{equity: 1, peak: 1}
}

func (a *statsAccumulator) add(r float64) {
	a.n++
	a.sum += r
	a.sumSq += r * r
	if r > 0 {
		a.wins++
		a.gain += r
	} else {
		a.loss -= r
	}
	a.equity *= 1 + r
	if a.equity > a.peak {
		a.peak = a.equity
	}
	if a.peak > 0 {
		if dd := (a.peak - a.equity) / a.peak; dd > a.maxDD {
			a.maxDD = dd
		}
	}
}

func (a *statsAccumulator) stats() model.AssetStats {
	s := model.AssetStats{TradingDays: a.n, MaxDrawdown: a.maxDD}
	if a.n == 0 {
		return s
	}
	s.WinRate = float64(a.wins) / float64(a.n)
	switch {
	case a.loss > 0:
		s.ProfitFactor = a.gain / a.loss
	case a.gain > 0:
		s.ProfitFactor = math.Inf(1)
	}
	if a.n > 1 {
		mean := a.sum / float64(a.n)
		variance := (a.sumSq - float64(a.n)*mean*mean) / float64(a.n-1)
		if variance > 0 {
			s.Sharpe = mean / math.Sqrt(variance)
		}
	}
	return s
}

// Analyze computes an asset's historical stats from its signal records.
func Analyze(records []model.SignalRecord) model.AssetStats {
	acc := newStatsAccumulator()
	for i := 1; i < len(records); i++ {
		prev := records[i-1]
		if prev.Weight > 0 && prev.Close > 0 {
			acc.add(prev.Weight * (records[i].Close/prev.Close - 1))
		}
	}
	return acc.stats()
}
