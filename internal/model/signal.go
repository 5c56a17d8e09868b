package model

import "time"

// ConfidenceMode selects the execution style suggested for a signal.
type ConfidenceMode string

const (
	ModeSignalAtClose ConfidenceMode = "signal_at_close"
	ModePullback      ConfidenceMode = "pullback_to_ma"
)

// SignalRecord is the per-date output of the signal engine for one asset.
type SignalRecord struct {
	Date           time.Time
	Close          float64
	MAShort        float64
	MALong         float64
	RSMAShort      float64
	RSMALong       float64
	HasRS          bool // false when the baseline has no bar on Date
	Trend          bool
	Momentum       bool
	RSBull         bool
	Weight         float64 // one of 0, 0.5, 1.0
	StopPrice      float64
	PositionSize   float64
	ConfidenceMode ConfidenceMode
}

// AssetStats summarizes an asset's historical signal performance.
type AssetStats struct {
	WinRate      float64
	Sharpe       float64
	ProfitFactor float64
	MaxDrawdown  float64
	TradingDays  int
}
