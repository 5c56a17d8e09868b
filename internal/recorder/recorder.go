package recorder

import "time"

// CycleRecord is the persisted summary of one pipeline cycle.
type CycleRecord struct {
	ID           string
	StartedAt    time.Time
	FinishedAt   time.Time
	State        string // success | failed | skipped
	Error        string
	AssetsOK     int
	AssetsFailed int
	Metrics      *MetricsRecord
	Fetches      []FetchRecord
}

// MetricsRecord holds the backtest summary of a cycle.
type MetricsRecord struct {
	CAGR         float64
	Sharpe       float64
	MaxDrawdown  float64
	WinRate      float64
	ProfitFactor float64
	TradingDays  int
	FinalEquity  float64
}

// FetchRecord is one asset's acquisition outcome.
type FetchRecord struct {
	AssetID  string
	Symbol   string
	Status   string
	NewBars  int
	LastDate string
	Error    string
}

// Recorder persists cycle history for analysis.
type Recorder interface {
	RecordCycle(rec *CycleRecord) error
	Close() error
}
