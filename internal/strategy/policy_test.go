package strategy

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MomentumSentinel/internal/model"
)

func TestDefaultPolicyScores(t *testing.T) {
	p := DefaultPolicy()
	require.NoError(t, p.Validate())

	strong := model.AssetStats{Sharpe: 2.5, WinRate: 0.85, MaxDrawdown: 0.03, TradingDays: 20, ProfitFactor: 3.5}
	assert.InDelta(t, 1.0, p.Score(strong), 1e-12)
	assert.Equal(t, model.ModePullback, p.Mode(strong))

	weak := model.AssetStats{Sharpe: 0.2, WinRate: 0.4, MaxDrawdown: 0.4, TradingDays: 3, ProfitFactor: 0.8}
	assert.InDelta(t, (0.5+0.4+0.3+0.5+0.5)/5, p.Score(weak), 1e-12)
	assert.Equal(t, model.ModeSignalAtClose, p.Mode(weak))

	middling := model.AssetStats{Sharpe: 1, WinRate: 0.65, MaxDrawdown: 0.10, TradingDays: 12, ProfitFactor: 2.2}
	// (0.5 + 0.8 + 0.7 + 0.8 + 0.8) / 5 = 0.72
	assert.InDelta(t, 0.72, p.Score(middling), 1e-12)
	assert.Equal(t, model.ModePullback, p.Mode(middling))
}

func TestFactorLowerIsBetter(t *testing.T) {
	f := Factor{Metric: MetricMaxDrawdown, Tiers: []Tier{{0.05, 1}, {0.15, 0.7}}, Default: 0.3, LowerIsBetter: true}
	assert.Equal(t, 1.0, f.Score(model.AssetStats{MaxDrawdown: 0.05}))
	assert.Equal(t, 0.7, f.Score(model.AssetStats{MaxDrawdown: 0.06}))
	assert.Equal(t, 0.3, f.Score(model.AssetStats{MaxDrawdown: 0.5}))
}

func TestInfiniteProfitFactorHitsTopTier(t *testing.T) {
	f := Factor{Metric: MetricProfitFactor, Tiers: []Tier{{3, 1}}, Default: 0.5}
	assert.Equal(t, 1.0, f.Score(model.AssetStats{ProfitFactor: math.Inf(1)}))
}

func TestCustomThresholdChangesMode(t *testing.T) {
	stats := model.AssetStats{Sharpe: 1, WinRate: 0.65, MaxDrawdown: 0.10, TradingDays: 12, ProfitFactor: 2.2}
	p := DefaultPolicy()
	p.MinScore = 0.9
	assert.Equal(t, model.ModeSignalAtClose, p.Mode(stats))
}

func TestPolicyValidateRejectsUnknownMetric(t *testing.T) {
	p := &ScoredPolicy{Factors: []Factor{{Metric: "volume"}}}
	assert.Error(t, p.Validate())
	assert.Error(t, (&ScoredPolicy{}).Validate())
}

func TestFixedPolicy(t *testing.T) {
	assert.Equal(t, model.ModePullback, FixedPolicy(model.ModePullback).Mode(model.AssetStats{}))
}

func TestAnalyze(t *testing.T) {
	recs := []model.SignalRecord{
		{Close: 100, Weight: 1},
		{Close: 110, Weight: 0.5},
		{Close: 99, Weight: 0},
		{Close: 120, Weight: 1},
		{Close: 120},
	}
	s := Analyze(recs)
	// Held returns: +10%, 0.5 * -10% = -5%, 0% (day after weight 1 at flat price).
	assert.Equal(t, 3, s.TradingDays)
	assert.InDelta(t, 1.0/3, s.WinRate, 1e-12)
	assert.InDelta(t, 0.10/0.05, s.ProfitFactor, 1e-9)
	assert.InDelta(t, 0.05, s.MaxDrawdown, 1e-9)
}

func TestPositionSize(t *testing.T) {
	s := Sizing{PortfolioValue: 100000, RiskCapPercent: 1, MaxPositionPercent: 25}
	// Risk budget 1000 over a 10 per-share risk allows 100 shares; allocation allows 250.
	assert.InDelta(t, 100, PositionSize(100, 90, 1, s), 1e-9)
	// A wide stop lets the allocation cap bind: 0.5 * 25000 / 100 = 125.
	assert.InDelta(t, 125, PositionSize(100, 99.5, 0.5, s), 1e-9)
	assert.Zero(t, PositionSize(100, 100, 1, s))
	assert.Zero(t, PositionSize(100, 90, 0, s))
}
