package backtest

import (
	"fmt"
	"sort"
	"time"

	"MomentumSentinel/internal/calculator"
	"MomentumSentinel/internal/model"
	"MomentumSentinel/internal/strategy"
)

// Config controls the portfolio simulation.
type Config struct {
	InitialCapital     float64
	RiskCapPercent     float64 // max loss at the stop per position, percent of equity
	MaxPositionPercent float64 // max position value, percent of equity
	HedgeRatio         float64 // short baseline notional per unit of long exposure when the baseline is bearish
	BaselineMAShort    int
	BaselineMALong     int
}

// Validate checks the simulation settings.
func (c Config) Validate() error {
	if c.InitialCapital <= 0 {
		return fmt.Errorf("initial capital must be positive")
	}
	if c.RiskCapPercent <= 0 || c.MaxPositionPercent <= 0 || c.MaxPositionPercent > 100 {
		return fmt.Errorf("risk cap and max position must be in (0, 100]")
	}
	if c.HedgeRatio < 0 || c.HedgeRatio > 1 {
		return fmt.Errorf("hedge ratio must be in [0, 1]")
	}
	if c.HedgeRatio > 0 && (c.BaselineMAShort <= 0 || c.BaselineMALong <= 0) {
		return fmt.Errorf("hedging needs baseline moving-average windows")
	}
	return nil
}

// Asset is one tradable series with its signals.
type Asset struct {
	Key     string
	Bars    []model.Bar
	Signals []model.SignalRecord
}

// Result is the output of a simulation.
type Result struct {
	Curve   []model.EquityPoint
	Trades  []model.ClosedTrade
	Metrics model.Metrics
	Final   model.PortfolioState
}

// HedgeKey is the position key of the baseline short.
const HedgeKey = "hedge"

type assetIndex struct {
	key      string
	bars     map[time.Time]model.Bar
	signals  map[time.Time]model.SignalRecord
	hedgable bool // shares at least one date with the baseline
}

// Run simulates the portfolio day by day over the union of all dates.
// Positions are rebalanced at each close from that day's signals. A held
// asset without a bar cannot trade and contributes no return that day.
func Run(assets []Asset, baseline []model.Bar, cfg Config) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	base := indexBaseline(baseline, cfg)
	idx := make([]*assetIndex, 0, len(assets))
	calendar := map[time.Time]bool{}
	for _, b := range baseline {
		calendar[model.Day(b.Date)] = true
	}
	for _, a := range assets {
		ai := &assetIndex{key: a.Key, bars: map[time.Time]model.Bar{}, signals: map[time.Time]model.SignalRecord{}}
		for _, b := range a.Bars {
			d := model.Day(b.Date)
			ai.bars[d] = b
			calendar[d] = true
			if _, ok := base.bars[d]; ok {
				ai.hedgable = true
			}
		}
		for _, s := range a.Signals {
			ai.signals[model.Day(s.Date)] = s
		}
		idx = append(idx, ai)
	}
	days := make([]time.Time, 0, len(calendar))
	for d := range calendar {
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })

	p := newPortfolio(cfg.InitialCapital)
	res := &Result{Curve: make([]model.EquityPoint, 0, len(days))}
	prevEquity := cfg.InitialCapital
	for _, d := range days {
		step(p, idx, base, cfg, d)

		eq := p.equity()
		pt := model.EquityPoint{Date: d, Equity: eq}
		if len(res.Curve) > 0 && prevEquity != 0 {
			pt.DailyReturn = eq/prevEquity - 1
		}
		res.Curve = append(res.Curve, pt)
		prevEquity = eq
	}

	last := time.Time{}
	if len(days) > 0 {
		last = days[len(days)-1]
	}
	res.Trades = p.closedTrades(last)
	res.Final = p.state(last)
	res.Metrics = ComputeMetrics(res.Curve, res.Trades)
	return res, nil
}

func step(p *portfolio, idx []*assetIndex, base *baselineIndex, cfg Config, d time.Time) {
	for _, a := range idx {
		if b, ok := a.bars[d]; ok {
			p.mark(a.key, b.Close)
		}
	}
	baseBar, hasBase := base.bars[d]
	if hasBase {
		p.mark(HedgeKey, baseBar.Close)
	}
	equity := p.equity()

	// Stops from the previous rebalance are checked before new targets.
	stopped := map[string]bool{}
	for _, a := range idx {
		pos, held := p.positions[a.key]
		b, ok := a.bars[d]
		if held && ok && pos.stop > 0 && b.Close < pos.stop {
			p.rebalance(a.key, 0, b.Close, d)
			stopped[a.key] = true
		}
	}

	type pick struct {
		a   *assetIndex
		bar model.Bar
		sig model.SignalRecord
	}
	var picks []pick
	frozen := 0.0
	for _, a := range idx {
		b, ok := a.bars[d]
		if !ok {
			frozen += p.value(a.key)
			continue
		}
		sig, ok := a.signals[d]
		if ok && sig.Weight > 0 && !stopped[a.key] {
			picks = append(picks, pick{a: a, bar: b, sig: sig})
		}
	}

	targets := map[string]float64{}
	if n := len(picks); n > 0 {
		budget := equity - frozen
		if budget < 0 {
			budget = 0
		}
		maxValue := equity * cfg.MaxPositionPercent / 100
		riskBudget := equity * cfg.RiskCapPercent / 100
		for _, pk := range picks {
			value := budget / float64(n) * pk.sig.Weight
			if value > maxValue {
				value = maxValue
			}
			shares := strategy.CapShares(value/pk.bar.Close, pk.bar.Close, pk.sig.StopPrice, riskBudget)
			targets[pk.a.key] = shares
		}
	}

	// Sells before buys keeps cash from dipping mid-rebalance.
	for _, a := range idx {
		b, ok := a.bars[d]
		if !ok {
			continue
		}
		if _, held := p.positions[a.key]; held && targets[a.key] < p.positions[a.key].shares {
			p.rebalance(a.key, targets[a.key], b.Close, d)
		}
	}
	for _, pk := range picks {
		p.rebalance(pk.a.key, targets[pk.a.key], pk.bar.Close, d)
		if pos, ok := p.positions[pk.a.key]; ok {
			pos.stop = pk.sig.StopPrice
		}
	}

	if cfg.HedgeRatio > 0 && hasBase {
		target := 0.0
		if base.bearish(d) {
			exposure := 0.0
			for _, a := range idx {
				if a.hedgable {
					exposure += p.value(a.key)
				}
			}
			target = -cfg.HedgeRatio * exposure / baseBar.Close
		}
		p.rebalance(HedgeKey, target, baseBar.Close, d)
	}
}

type baselineIndex struct {
	bars map[time.Time]model.Bar
	bear map[time.Time]bool
}

// indexBaseline marks days where the baseline trades below its long MA
// with its short MA under the long MA.
func indexBaseline(baseline []model.Bar, cfg Config) *baselineIndex {
	bi := &baselineIndex{bars: map[time.Time]model.Bar{}, bear: map[time.Time]bool{}}
	closes := model.Closes(baseline)
	var short, long []float64
	if cfg.BaselineMAShort > 0 && cfg.BaselineMALong > 0 {
		short = calculator.RollingSMA(closes, cfg.BaselineMAShort)
		long = calculator.RollingSMA(closes, cfg.BaselineMALong)
	}
	for i, b := range baseline {
		d := model.Day(b.Date)
		bi.bars[d] = b
		if short != nil && calculator.Defined(short[i], long[i]) {
			bi.bear[d] = b.Close < long[i] && short[i] < long[i]
		}
	}
	return bi
}

func (b *baselineIndex) bearish(d time.Time) bool {
	return b.bear[d]
}
