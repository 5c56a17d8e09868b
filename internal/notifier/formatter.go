package notifier

import (
	"fmt"
	"math"
	"strings"
	"time"

	"MomentumSentinel/internal/recorder"
)

// FormatCycleSummary renders a finished cycle for Telegram.
func FormatCycleSummary(rec *recorder.CycleRecord) string {
	var b strings.Builder

	icon := "✅"
	switch rec.State {
	case "failed":
		icon = "❌"
	case "skipped":
		icon = "⏭"
	}
	b.WriteString(fmt.Sprintf("%s <b>MomentumSentinel cycle</b> | %s\n", icon, rec.StartedAt.Format("2006-01-02 15:04")))
	b.WriteString(fmt.Sprintf("state: %s (%s)\n", rec.State, rec.FinishedAt.Sub(rec.StartedAt).Round(time.Second)))
	if rec.State != "skipped" {
		b.WriteString(fmt.Sprintf("assets: %d ok, %d failed\n", rec.AssetsOK, rec.AssetsFailed))
	}
	if rec.Error != "" {
		b.WriteString(fmt.Sprintf("error: %s\n", rec.Error))
	}

	if m := rec.Metrics; m != nil {
		b.WriteString("\n📈 <b>Backtest</b>\n")
		b.WriteString(fmt.Sprintf("  CAGR: %+.2f%%\n", m.CAGR*100))
		b.WriteString(fmt.Sprintf("  Sharpe: %.2f\n", m.Sharpe))
		b.WriteString(fmt.Sprintf("  Max drawdown: %.2f%%\n", m.MaxDrawdown*100))
		b.WriteString(fmt.Sprintf("  Win rate: %.1f%%\n", m.WinRate*100))
		b.WriteString(fmt.Sprintf("  Profit factor: %s\n", formatRatio(m.ProfitFactor)))
		b.WriteString(fmt.Sprintf("  Days: %d | Equity: %.0f\n", m.TradingDays, m.FinalEquity))
	}

	var failed []string
	for _, f := range rec.Fetches {
		if f.Error != "" {
			failed = append(failed, fmt.Sprintf("%s (%s)", f.Symbol, f.Status))
		}
	}
	if len(failed) > 0 {
		b.WriteString("\n⚠️ not updated: " + strings.Join(failed, ", ") + "\n")
	}
	return b.String()
}

// FormatStatus renders the scheduler state for the /status command.
func FormatStatus(state string, last *recorder.CycleRecord, next time.Time) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("📦 <b>Status</b>: %s\n", state))
	if last != nil {
		b.WriteString(fmt.Sprintf("last cycle: %s at %s\n", last.State, last.FinishedAt.Format("2006-01-02 15:04")))
	} else {
		b.WriteString("last cycle: none\n")
	}
	if !next.IsZero() {
		b.WriteString(fmt.Sprintf("next run: %s\n", next.Format("2006-01-02 15:04")))
	}
	return b.String()
}

func formatRatio(v float64) string {
	if math.IsInf(v, 1) {
		return "∞"
	}
	return fmt.Sprintf("%.2f", v)
}
