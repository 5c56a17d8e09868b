package backtest

import (
	"sort"
	"time"

	"MomentumSentinel/internal/model"
)

type position struct {
	shares   float64 // negative for shorts
	short    bool
	mark     float64 // last observed close
	stop     float64
	opened   time.Time
	notional float64 // absolute value traded while growing the position
	cashFlow float64 // net cash received from trading this position
}

// portfolio is the simulated account. Trades fill at the given price with
// no fees or slippage.
type portfolio struct {
	cash      float64
	positions map[string]*position
	trades    []model.ClosedTrade
}

func newPortfolio(capital float64) *portfolio {
	return &portfolio{cash: capital, positions: map[string]*position{}}
}

// mark updates the valuation price of a held position.
func (p *portfolio) mark(key string, price float64) {
	if pos, ok := p.positions[key]; ok {
		pos.mark = price
	}
}

func (p *portfolio) value(key string) float64 {
	pos, ok := p.positions[key]
	if !ok {
		return 0
	}
	return pos.shares * pos.mark
}

func (p *portfolio) equity() float64 {
	eq := p.cash
	for _, pos := range p.positions {
		eq += pos.shares * pos.mark
	}
	return eq
}

// rebalance trades key to target shares at price. Reaching zero closes the
// position and records the trade.
func (p *portfolio) rebalance(key string, target, price float64, date time.Time) {
	pos, ok := p.positions[key]
	if !ok {
		if target == 0 {
			return
		}
		pos = &position{opened: date, short: target < 0}
		p.positions[key] = pos
	}
	delta := target - pos.shares
	if delta != 0 {
		if abs(target) > abs(pos.shares) {
			pos.notional += abs(target-pos.shares) * price
		}
		p.cash -= delta * price
		pos.cashFlow -= delta * price
		pos.shares = target
	}
	pos.mark = price
	if target == 0 {
		p.trades = append(p.trades, model.ClosedTrade{
			Asset:     key,
			EntryDate: pos.opened,
			ExitDate:  date,
			Notional:  pos.notional,
			PnL:       pos.cashFlow,
			Short:     pos.short,
		})
		delete(p.positions, key)
	}
}

// closedTrades returns realized trades plus open positions valued at their
// last mark, without touching the account.
func (p *portfolio) closedTrades(date time.Time) []model.ClosedTrade {
	out := append([]model.ClosedTrade(nil), p.trades...)
	keys := make([]string, 0, len(p.positions))
	for k := range p.positions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		pos := p.positions[k]
		out = append(out, model.ClosedTrade{
			Asset:     k,
			EntryDate: pos.opened,
			ExitDate:  date,
			Notional:  pos.notional,
			PnL:       pos.cashFlow + pos.shares*pos.mark,
			Short:     pos.short,
		})
	}
	return out
}

func (p *portfolio) state(date time.Time) model.PortfolioState {
	st := model.PortfolioState{Date: date, Cash: p.cash, Positions: make(map[string]float64, len(p.positions)), Equity: p.equity()}
	for k, pos := range p.positions {
		st.Positions[k] = pos.shares
	}
	return st
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
