package model

import "time"

// PortfolioState is the simulated account on one trading day.
type PortfolioState struct {
	Date      time.Time
	Cash      float64
	Positions map[string]float64 // asset key -> shares, negative for shorts
	Equity    float64
}

// EquityPoint is one row of the equity curve.
type EquityPoint struct {
	Date        time.Time
	Equity      float64
	DailyReturn float64
}

// ClosedTrade is a position from open to flat.
type ClosedTrade struct {
	Asset     string
	EntryDate time.Time
	ExitDate  time.Time
	Notional  float64 // absolute value traded into the position
	PnL       float64
	Short     bool
}

// Return is PnL relative to the notional committed.
func (t ClosedTrade) Return() float64 {
	if t.Notional == 0 {
		return 0
	}
	return t.PnL / t.Notional
}

// Metrics are the performance summary of a backtest.
type Metrics struct {
	CAGR         float64
	Sharpe       float64
	MaxDrawdown  float64
	WinRate      float64
	ProfitFactor float64
	TradingDays  int
	TotalReturn  float64
	ClosedTrades int
}
