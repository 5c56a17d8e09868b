package backtest

import (
	"math"

	"MomentumSentinel/internal/calculator"
	"MomentumSentinel/internal/model"
)

// Crypto markets trade every calendar day.
const periodsPerYear = 365

// ComputeMetrics summarizes an equity curve and its closed trades.
func ComputeMetrics(curve []model.EquityPoint, trades []model.ClosedTrade) model.Metrics {
	m := model.Metrics{TradingDays: len(curve), ClosedTrades: len(trades)}
	if len(curve) == 0 {
		return m
	}
	first, last := curve[0], curve[len(curve)-1]
	if first.Equity > 0 {
		m.TotalReturn = last.Equity/first.Equity - 1
		years := last.Date.Sub(first.Date).Hours() / 24 / 365.25
		if years > 0 && last.Equity > 0 {
			m.CAGR = math.Pow(last.Equity/first.Equity, 1/years) - 1
		}
	}

	returns := make([]float64, 0, len(curve))
	equity := make([]float64, len(curve))
	for i, p := range curve {
		equity[i] = p.Equity
		if i > 0 {
			returns = append(returns, p.DailyReturn)
		}
	}
	if sd := calculator.SampleStd(returns); sd > 0 {
		m.Sharpe = calculator.Mean(returns) / sd * math.Sqrt(periodsPerYear)
	}
	m.MaxDrawdown = MaxDrawdown(equity)

	var wins int
	var gross, loss float64
	for _, t := range trades {
		switch pnl := t.PnL; {
		case pnl > 0:
			wins++
			gross += pnl
		case pnl < 0:
			loss -= pnl
		}
	}
	if len(trades) > 0 {
		m.WinRate = float64(wins) / float64(len(trades))
	}
	switch {
	case loss > 0:
		m.ProfitFactor = gross / loss
	case gross > 0:
		m.ProfitFactor = math.Inf(1)
	}
	return m
}

// MaxDrawdown is the largest peak-to-trough decline as a fraction of the peak.
func MaxDrawdown(equity []float64) float64 {
	peak, maxDD := math.Inf(-1), 0.0
	for _, e := range equity {
		if e > peak {
			peak = e
		}
		if peak > 0 {
			if dd := (peak - e) / peak; dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}
