package strategy

import (
	"fmt"

	"MomentumSentinel/internal/calculator"
	"MomentumSentinel/internal/model"
)

// Params configures the signal engine.
type Params struct {
	MAShort      int
	MALong       int
	StopLookback int
	ATRMult      float64
	VolMult      float64
	Sizing       Sizing
}

// DefaultParams returns the stock engine settings.
func DefaultParams() Params {
	return Params{
		MAShort:      7,
		MALong:       30,
		StopLookback: 14,
		ATRMult:      3.0,
		VolMult:      2.5,
		Sizing:       Sizing{PortfolioValue: 100000, RiskCapPercent: 1, MaxPositionPercent: 25},
	}
}

// Validate checks window lengths and multipliers.
func (p Params) Validate() error {
	if p.MAShort <= 0 || p.MALong <= 0 || p.StopLookback <= 0 {
		return fmt.Errorf("moving average and stop windows must be positive")
	}
	if p.MAShort >= p.MALong {
		return fmt.Errorf("ma_short (%d) must be less than ma_long (%d)", p.MAShort, p.MALong)
	}
	if p.ATRMult <= 0 || p.VolMult <= 0 {
		return fmt.Errorf("stop multipliers must be positive")
	}
	return nil
}

// Warmup is the number of bars needed before the first record.
func (p Params) Warmup() int {
	return max(p.MALong, p.StopLookback) + 1
}

// Weight maps the three conditions to a position weight. Relative strength
// is mandatory for any exposure.
func Weight(trend, momentum, rsBull bool) float64 {
	if !rsBull {
		return 0
	}
	switch {
	case trend && momentum:
		return 1.0
	case trend || momentum:
		return 0.5
	default:
		return 0
	}
}

// Engine turns bar windows into signal records.
type Engine struct {
	Params Params
	Policy Policy
}

// NewEngine creates an Engine. A nil policy always signals at close.
func NewEngine(p Params, policy Policy) *Engine {
	if policy == nil {
		policy = FixedPolicy(model.ModeSignalAtClose)
	}
	return &Engine{Params: p, Policy: policy}
}

// Compute evaluates every date of bars that has a full warmup window.
// baseline supplies relative strength; dates without a baseline bar get
// rs_bull=false. The result depends only on the inputs.
func (e *Engine) Compute(bars, baseline []model.Bar) []model.SignalRecord {
	p := e.Params
	first := p.Warmup() - 1
	if len(bars) <= first {
		return nil
	}

	closes := model.Closes(bars)
	maShort := calculator.RollingSMA(closes, p.MAShort)
	maLong := calculator.RollingSMA(closes, p.MALong)
	atr := calculator.RollingATR(bars, p.StopLookback)
	volStd := calculator.RollingStd(calculator.DailyReturns(closes), p.StopLookback)
	rs := newRelativeStrength(bars, baseline, p.MAShort, p.MALong)

	acc := newStatsAccumulator()
	records := make([]model.SignalRecord, 0, len(bars)-first)
	for i := first; i < len(bars); i++ {
		b := bars[i]
		rec := model.SignalRecord{
			Date:    b.Date,
			Close:   b.Close,
			MAShort: maShort[i],
			MALong:  maLong[i],
		}
		rec.RSMAShort, rec.RSMALong, rec.HasRS = rs.at(i)
		rec.Trend = b.Close > rec.MALong
		rec.Momentum = rec.MAShort > rec.MALong
		rec.RSBull = rec.HasRS && rec.RSMAShort > rec.RSMALong
		rec.Weight = Weight(rec.Trend, rec.Momentum, rec.RSBull)
		rec.StopPrice = StopPrice(b.Close, atr[i], volStd[i], p)
		rec.PositionSize = PositionSize(b.Close, rec.StopPrice, rec.Weight, p.Sizing)
		rec.ConfidenceMode = e.Policy.Mode(acc.stats())

		if n := len(records); n > 0 {
			prev := records[n-1]
			if prev.Weight > 0 && prev.Close > 0 {
				acc.add(prev.Weight * (b.Close/prev.Close - 1))
			}
		}
		records = append(records, rec)
	}
	return records
}

// StopPrice places the stop atr_mult ATRs below close, or vol_mult return
// deviations below close when ATR is unavailable.
func StopPrice(close, atr, retStd float64, p Params) float64 {
	if calculator.Defined(atr) && atr > 0 {
		return close - p.ATRMult*atr
	}
	if calculator.Defined(retStd) {
		return close * (1 - p.VolMult*retStd)
	}
	return 0
}

// relativeStrength holds RS = close/baseline_close on overlapping dates
// and its moving averages over that aligned sequence.
type relativeStrength struct {
	index       []int // asset bar index -> position in the RS sequence, -1 when absent
	short, long []float64
}

func newRelativeStrength(bars, baseline []model.Bar, short, long int) *relativeStrength {
	base := make(map[int64]float64, len(baseline))
	for _, b := range baseline {
		if b.Close > 0 {
			base[model.Day(b.Date).Unix()] = b.Close
		}
	}
	rs := &relativeStrength{index: make([]int, len(bars))}
	var seq []float64
	for i, b := range bars {
		bc, ok := base[model.Day(b.Date).Unix()]
		if !ok {
			rs.index[i] = -1
			continue
		}
		rs.index[i] = len(seq)
		seq = append(seq, b.Close/bc)
	}
	rs.short = calculator.RollingSMA(seq, short)
	rs.long = calculator.RollingSMA(seq, long)
	return rs
}

func (r *relativeStrength) at(i int) (short, long float64, ok bool) {
	j := r.index[i]
	if j < 0 || !calculator.Defined(r.short[j], r.long[j]) {
		return 0, 0, false
	}
	return r.short[j], r.long[j], true
}
