package store

import (
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"strconv"

	"MomentumSentinel/internal/model"
)

const (
	EquityFilename  = "equity_curve.csv"
	MetricsFilename = "metrics.txt"
	TradesFilename  = "trades.csv"
)

// WriteEquityCurve writes date,equity,daily_return rows.
func WriteEquityCurve(w io.Writer, curve []model.EquityPoint) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"date", "equity", "daily_return"}); err != nil {
		return err
	}
	for _, p := range curve {
		if err := cw.Write([]string{formatDate(p.Date), formatNumber(p.Equity), formatNumber(p.DailyReturn)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteMetrics writes one "key: value" line per metric.
func WriteMetrics(w io.Writer, m model.Metrics) error {
	lines := []struct {
		key   string
		value string
	}{
		{"CAGR", formatNumber(m.CAGR)},
		{"Sharpe", formatNumber(m.Sharpe)},
		{"MaxDrawdown", formatNumber(m.MaxDrawdown)},
		{"WinRate", formatNumber(m.WinRate)},
		{"ProfitFactor", formatNumber(m.ProfitFactor)},
		{"TradingDays", strconv.Itoa(m.TradingDays)},
		{"TotalReturn", formatNumber(m.TotalReturn)},
		{"ClosedTrades", strconv.Itoa(m.ClosedTrades)},
	}
	for _, l := range lines {
		if _, err := fmt.Fprintf(w, "%s: %s\n", l.key, l.value); err != nil {
			return err
		}
	}
	return nil
}

// WriteTrades writes the closed-trade ledger.
func WriteTrades(w io.Writer, trades []model.ClosedTrade) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"asset", "side", "entry_date", "exit_date", "notional", "pnl", "return"}); err != nil {
		return err
	}
	for _, t := range trades {
		side := "long"
		if t.Short {
			side = "short"
		}
		row := []string{t.Asset, side, formatDate(t.EntryDate), formatDate(t.ExitDate),
			formatNumber(t.Notional), formatNumber(t.PnL), formatNumber(t.Return())}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// SaveResults atomically writes the equity curve, metrics and trades into dir.
func SaveResults(dir string, curve []model.EquityPoint, m model.Metrics, trades []model.ClosedTrade) error {
	if err := WriteFileAtomic(filepath.Join(dir, EquityFilename), func(w io.Writer) error {
		return WriteEquityCurve(w, curve)
	}); err != nil {
		return fmt.Errorf("write equity curve: %w", err)
	}
	if err := WriteFileAtomic(filepath.Join(dir, MetricsFilename), func(w io.Writer) error {
		return WriteMetrics(w, m)
	}); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	if err := WriteFileAtomic(filepath.Join(dir, TradesFilename), func(w io.Writer) error {
		return WriteTrades(w, trades)
	}); err != nil {
		return fmt.Errorf("write trades: %w", err)
	}
	return nil
}
