package strategy

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MomentumSentinel/internal/model"
)

var day0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func series(n int, price func(i int) float64, withRange bool) []model.Bar {
	bars := make([]model.Bar, n)
	for i := range bars {
		c := price(i)
		bars[i] = model.Bar{Date: day0.AddDate(0, 0, i), Open: c, Close: c}
		if withRange {
			bars[i].High, bars[i].Low, bars[i].HasRange = c+1, c-1, true
		}
	}
	return bars
}

func TestWeightTable(t *testing.T) {
	cases := []struct {
		trend, momentum, rs bool
		want                float64
	}{
		{false, false, false, 0},
		{true, false, false, 0},
		{false, true, false, 0},
		{false, false, true, 0},
		{true, true, false, 0},
		{true, false, true, 0.5},
		{false, true, true, 0.5},
		{true, true, true, 1.0},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Weight(tc.trend, tc.momentum, tc.rs), "%+v", tc)
	}
}

func TestRisingAssetAgainstFlatBaseline(t *testing.T) {
	p := DefaultParams()
	asset := series(40, func(i int) float64 { return 100 + float64(i) }, true)
	baseline := series(40, func(int) float64 { return 100 }, true)

	recs := NewEngine(p, nil).Compute(asset, baseline)
	require.Len(t, recs, 40-p.MALong)
	assert.Equal(t, asset[p.MALong].Date, recs[0].Date)

	s := p.Sizing
	for _, r := range recs {
		assert.True(t, r.Trend, r.Date)
		assert.True(t, r.Momentum, r.Date)
		assert.True(t, r.RSBull, r.Date)
		assert.True(t, r.HasRS)
		assert.Equal(t, 1.0, r.Weight)
		assert.InDelta(t, r.Close-6, r.StopPrice, 1e-9, "ATR of 2 times 3")

		want := math.Min(s.RiskBudget()/(r.Close-r.StopPrice), s.MaxPositionValue()/r.Close)
		assert.InDelta(t, want, r.PositionSize, 1e-9)
		assert.Equal(t, model.ModeSignalAtClose, r.ConfidenceMode)
	}
}

func TestInsufficientHistoryEmitsNothing(t *testing.T) {
	p := DefaultParams()
	bars := series(p.Warmup()-1, func(i int) float64 { return 100 + float64(i) }, true)
	assert.Empty(t, NewEngine(p, nil).Compute(bars, bars))

	bars = series(p.Warmup(), func(i int) float64 { return 100 + float64(i) }, true)
	assert.Len(t, NewEngine(p, nil).Compute(bars, bars), 1)
}

func TestWarmupUsesStopLookbackWhenLonger(t *testing.T) {
	p := DefaultParams()
	p.MAShort, p.MALong, p.StopLookback = 3, 5, 10
	bars := series(12, func(i int) float64 { return 10 + float64(i) }, true)
	recs := NewEngine(p, nil).Compute(bars, nil)
	require.Len(t, recs, 2)
	assert.Equal(t, bars[10].Date, recs[0].Date)
}

func TestFallingAssetGetsZeroWeight(t *testing.T) {
	p := DefaultParams()
	asset := series(60, func(i int) float64 { return 200 - float64(i) }, true)
	baseline := series(60, func(int) float64 { return 100 }, true)
	for _, r := range NewEngine(p, nil).Compute(asset, baseline) {
		assert.False(t, r.Trend)
		assert.False(t, r.RSBull)
		assert.Zero(t, r.Weight)
		assert.Zero(t, r.PositionSize)
	}
}

func TestNoBaselineOverlapNeverBullish(t *testing.T) {
	p := DefaultParams()
	asset := series(45, func(i int) float64 { return 100 + float64(i) }, true)
	recs := NewEngine(p, nil).Compute(asset, nil)
	require.NotEmpty(t, recs)
	for _, r := range recs {
		assert.True(t, r.Trend)
		assert.False(t, r.HasRS)
		assert.False(t, r.RSBull)
		assert.Zero(t, r.Weight)
	}
}

func TestVolatilityStopWithoutHighLow(t *testing.T) {
	p := DefaultParams()
	// Alternating returns give a known population deviation.
	asset := series(40, func(i int) float64 {
		if i%2 == 0 {
			return 100
		}
		return 110
	}, false)
	recs := NewEngine(p, nil).Compute(asset, asset)
	require.NotEmpty(t, recs)
	r := recs[len(recs)-1]
	assert.Less(t, r.StopPrice, r.Close)
	assert.Greater(t, r.StopPrice, 0.0)

	rets := make([]float64, 0, p.StopLookback)
	for i := len(asset) - p.StopLookback; i < len(asset); i++ {
		rets = append(rets, asset[i].Close/asset[i-1].Close-1)
	}
	mean := 0.0
	for _, v := range rets {
		mean += v
	}
	mean /= float64(len(rets))
	ss := 0.0
	for _, v := range rets {
		ss += (v - mean) * (v - mean)
	}
	std := math.Sqrt(ss / float64(len(rets)))
	assert.InDelta(t, r.Close*(1-p.VolMult*std), r.StopPrice, 1e-9)
}

func TestComputeIsDeterministic(t *testing.T) {
	p := DefaultParams()
	asset := series(80, func(i int) float64 { return 100 + 10*math.Sin(float64(i)/5) + float64(i)/4 }, true)
	base := series(80, func(i int) float64 { return 100 + float64(i)/10 }, true)
	e := NewEngine(p, DefaultPolicy())
	assert.Equal(t, e.Compute(asset, base), e.Compute(asset, base))
}

func TestConfidenceModeUsesPriorHistory(t *testing.T) {
	p := DefaultParams()
	p.MAShort, p.MALong, p.StopLookback = 2, 4, 3
	asset := series(40, func(i int) float64 { return 100 * math.Pow(1.01, float64(i)) }, true)
	base := series(40, func(int) float64 { return 100 }, true)

	recs := NewEngine(p, DefaultPolicy()).Compute(asset, base)
	require.Greater(t, len(recs), 20)
	// The first record has no history and cannot qualify for a pullback.
	assert.Equal(t, model.ModeSignalAtClose, recs[0].ConfidenceMode)
	// After a long winning streak every factor scores high.
	assert.Equal(t, model.ModePullback, recs[len(recs)-1].ConfidenceMode)
}

func TestParamsValidate(t *testing.T) {
	assert.NoError(t, DefaultParams().Validate())
	p := DefaultParams()
	p.MAShort = p.MALong
	assert.Error(t, p.Validate())
	p = DefaultParams()
	p.StopLookback = 0
	assert.Error(t, p.Validate())
}
