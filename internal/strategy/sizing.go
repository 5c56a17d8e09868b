package strategy

// Sizing holds the account figures used to size a position.
type Sizing struct {
	PortfolioValue     float64
	RiskCapPercent     float64 // max loss at the stop, percent of portfolio
	MaxPositionPercent float64 // max position value, percent of portfolio
}

// RiskBudget is the cash that may be lost if the stop is hit.
func (s Sizing) RiskBudget() float64 {
	return s.PortfolioValue * s.RiskCapPercent / 100
}

// MaxPositionValue is the largest allowed position value.
func (s Sizing) MaxPositionValue() float64 {
	return s.PortfolioValue * s.MaxPositionPercent / 100
}

// CapShares bounds a share count so that (close - stop) * shares stays
// within riskBudget. A stop at or above close allows no position.
func CapShares(shares, close, stop, riskBudget float64) float64 {
	if shares <= 0 || close <= 0 {
		return 0
	}
	perShare := close - stop
	if perShare <= 0 {
		return 0
	}
	if limit := riskBudget / perShare; shares > limit {
		return limit
	}
	return shares
}

// PositionSize returns shares for a standalone signal: the weighted max
// allocation, capped by the risk budget at the stop.
func PositionSize(close, stop, weight float64, s Sizing) float64 {
	if weight <= 0 || close <= 0 {
		return 0
	}
	maxShares := weight * s.MaxPositionValue() / close
	return CapShares(maxShares, close, stop, s.RiskBudget())
}
