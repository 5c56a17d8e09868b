package strategy

import (
	"fmt"
	"math"

	"MomentumSentinel/internal/model"
)

// Policy picks the execution style for a signal from the asset's history.
type Policy interface {
	Mode(stats model.AssetStats) model.ConfidenceMode
}

// Metric names a field of model.AssetStats that a factor reads.
type Metric string

const (
	MetricSharpe       Metric = "sharpe"
	MetricWinRate      Metric = "win_rate"
	MetricMaxDrawdown  Metric = "max_drawdown"
	MetricTradingDays  Metric = "trading_days"
	MetricProfitFactor Metric = "profit_factor"
)

func (m Metric) value(s model.AssetStats) (float64, error) {
	switch m {
	case MetricSharpe:
		return s.Sharpe, nil
	case MetricWinRate:
		return s.WinRate, nil
	case MetricMaxDrawdown:
		return s.MaxDrawdown, nil
	case MetricTradingDays:
		return float64(s.TradingDays), nil
	case MetricProfitFactor:
		return s.ProfitFactor, nil
	}
	return 0, fmt.Errorf("unknown metric %q", m)
}

// Tier awards Score when the metric clears Threshold.
type Tier struct {
	Threshold float64 `yaml:"threshold"`
	Score     float64 `yaml:"score"`
}

// Factor scores one metric against tiers ordered from best to worst. For
// LowerIsBetter metrics a tier matches when value <= Threshold, otherwise
// when value >= Threshold. Default applies when no tier matches.
type Factor struct {
	Metric        Metric  `yaml:"metric"`
	Tiers         []Tier  `yaml:"tiers"`
	Default       float64 `yaml:"default"`
	LowerIsBetter bool    `yaml:"lower_is_better"`
}

// Score maps the stats to this factor's score.
func (f Factor) Score(s model.AssetStats) float64 {
	v, err := f.Metric.value(s)
	if err != nil || math.IsNaN(v) {
		return f.Default
	}
	for _, t := range f.Tiers {
		if (f.LowerIsBetter && v <= t.Threshold) || (!f.LowerIsBetter && v >= t.Threshold) {
			return t.Score
		}
	}
	return f.Default
}

// ScoredPolicy averages factor scores and suggests waiting for a pullback
// when the average reaches MinScore.
type ScoredPolicy struct {
	Factors  []Factor `yaml:"factors"`
	MinScore float64  `yaml:"min_score"`
}

// DefaultPolicy returns the stock five-factor table.
func DefaultPolicy() *ScoredPolicy {
	return &ScoredPolicy{
		MinScore: 0.7,
		Factors: []Factor{
			{Metric: MetricSharpe, Tiers: []Tier{{2.0, 1.0}}, Default: 0.5},
			{Metric: MetricWinRate, Tiers: []Tier{{0.8, 1.0}, {0.6, 0.8}}, Default: 0.4},
			{Metric: MetricMaxDrawdown, Tiers: []Tier{{0.05, 1.0}, {0.15, 0.7}}, Default: 0.3, LowerIsBetter: true},
			{Metric: MetricTradingDays, Tiers: []Tier{{15, 1.0}, {10, 0.8}}, Default: 0.5},
			{Metric: MetricProfitFactor, Tiers: []Tier{{3.0, 1.0}, {2.0, 0.8}}, Default: 0.5},
		},
	}
}

// Validate checks that every factor names a known metric.
func (p *ScoredPolicy) Validate() error {
	if len(p.Factors) == 0 {
		return fmt.Errorf("policy needs at least one factor")
	}
	for _, f := range p.Factors {
		if _, err := f.Metric.value(model.AssetStats{}); err != nil {
			return err
		}
	}
	return nil
}

// Score returns the mean factor score in [0, 1] for the default table.
func (p *ScoredPolicy) Score(s model.AssetStats) float64 {
	if len(p.Factors) == 0 {
		return 0
	}
	sum := 0.0
	for _, f := range p.Factors {
		sum += f.Score(s)
	}
	return sum / float64(len(p.Factors))
}

func (p *ScoredPolicy) Mode(s model.AssetStats) model.ConfidenceMode {
	if p.Score(s) >= p.MinScore {
		return model.ModePullback
	}
	return model.ModeSignalAtClose
}

// FixedPolicy always returns the same mode.
type FixedPolicy model.ConfidenceMode

func (f FixedPolicy) Mode(model.AssetStats) model.ConfidenceMode {
	return model.ConfidenceMode(f)
}
