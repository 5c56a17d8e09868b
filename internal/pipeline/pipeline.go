package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"MomentumSentinel/internal/backtest"
	"MomentumSentinel/internal/collector"
	"MomentumSentinel/internal/metrics"
	"MomentumSentinel/internal/model"
	"MomentumSentinel/internal/store"
	"MomentumSentinel/internal/strategy"
)

// ErrNoAssets is returned when acquisition left no usable series.
var ErrNoAssets = errors.New("no asset succeeded")

// RangeFunc resolves the acquisition window for a cycle started at now.
type RangeFunc func(now time.Time) (start, end time.Time, err error)

// Config wires one cycle together.
type Config struct {
	Acquisition collector.Options // Start and End are filled per cycle from Range
	Range       RangeFunc
	Backtest    backtest.Config
	OutDir      string // signal files and backtest results
}

// Report summarizes one cycle.
type Report struct {
	ID          string
	StartedAt   time.Time
	FinishedAt  time.Time
	Acquisition *collector.Report
	Analysis    *Analysis
}

// Analysis is the outcome of signal generation and backtesting.
type Analysis struct {
	Assets  int // traded series with at least one signal record
	Skipped []string
	Stale   []string // analyzed from data left by an earlier cycle
	Result  *backtest.Result
}

// Runner executes acquisition, signal generation and backtesting.
type Runner struct {
	Collector *collector.Collector
	Store     *store.SeriesStore
	Engine    *strategy.Engine
	cfg       Config
	log       zerolog.Logger
	now       func() time.Time
}

// NewRunner creates a Runner.
func NewRunner(col *collector.Collector, st *store.SeriesStore, engine *strategy.Engine, cfg Config, log zerolog.Logger) *Runner {
	return &Runner{
		Collector: col,
		Store:     st,
		Engine:    engine,
		cfg:       cfg,
		log:       log.With().Str("component", "pipeline").Logger(),
		now:       time.Now,
	}
}

// Run executes one full cycle. A report is returned whenever acquisition
// ran, even if the cycle failed afterwards.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	rep := &Report{ID: uuid.NewString(), StartedAt: r.now()}
	log := r.log.With().Str("cycle", rep.ID).Logger()
	defer func() { rep.FinishedAt = r.now() }()

	start, end, err := r.cfg.Range(rep.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("resolve range: %w", err)
	}
	opt := r.cfg.Acquisition
	opt.Start, opt.End = start, end

	acq, err := r.Collector.Run(ctx, opt)
	if err != nil {
		return nil, fmt.Errorf("acquisition: %w", err)
	}
	rep.Acquisition = acq
	if acq.Succeeded() == 0 {
		return rep, ErrNoAssets
	}

	// A failed refresh leaves the previous series on disk; it is analyzed
	// as is so one asset's outage does not change the others' results.
	var series []seriesRef
	for _, res := range acq.Results {
		ref := seriesRef{asset: res.Asset, filename: res.Filename, baseline: res.Baseline}
		switch {
		case res.OK():
		case res.Status == collector.StatusFailed:
			ref.stale = true
		default:
			continue
		}
		series = append(series, ref)
	}
	if opt.SkipBaseline && opt.Baseline.ID != "" {
		series = append(series, seriesRef{asset: opt.Baseline, filename: store.Filename(opt.Baseline, true), baseline: true})
	}
	an, err := r.analyze(ctx, log, series)
	if err != nil {
		return rep, err
	}
	rep.Analysis = an
	return rep, nil
}

// Compute regenerates signals and the backtest from the persisted series
// listed in the manifest. It performs no fetch.
func (r *Runner) Compute(ctx context.Context) (*Analysis, error) {
	entries, err := store.LoadManifest(filepath.Join(r.Store.Dir, store.ManifestFilename))
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("manifest in %s: %w", r.Store.Dir, ErrNoAssets)
	}
	baseFile := store.Filename(r.cfg.Acquisition.Baseline, true)
	series := make([]seriesRef, 0, len(entries))
	for _, e := range entries {
		series = append(series, seriesRef{
			asset:    model.Asset{ID: e.ID, Symbol: e.Symbol},
			filename: e.Filename,
			baseline: e.Filename == baseFile,
		})
	}
	return r.analyze(ctx, r.log, series)
}

type seriesRef struct {
	asset    model.Asset
	filename string
	baseline bool
	stale    bool // refresh failed, persisted data used
}

func (r *Runner) analyze(ctx context.Context, log zerolog.Logger, refs []seriesRef) (*Analysis, error) {
	an := &Analysis{}

	var baseline []model.Bar
	var loaded []model.AssetSeries
	for _, ref := range refs {
		bars, err := r.Store.Load(ref.filename)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) && !errors.Is(err, store.ErrCorrupt) {
				return nil, fmt.Errorf("load %s: %w", ref.filename, err)
			}
			log.Warn().Err(err).Str("asset", ref.asset.ID).Str("symbol", ref.asset.Symbol).Msg("series skipped")
			an.Skipped = append(an.Skipped, ref.asset.Symbol)
			continue
		}
		if ref.stale {
			log.Warn().Str("asset", ref.asset.ID).Str("symbol", ref.asset.Symbol).Msg("refresh failed, using persisted series")
			an.Stale = append(an.Stale, ref.asset.Symbol)
		}
		if ref.baseline {
			baseline = bars
			continue
		}
		loaded = append(loaded, model.AssetSeries{Asset: ref.asset, Filename: ref.filename, Bars: bars})
	}
	if len(loaded) == 0 {
		return nil, ErrNoAssets
	}
	if baseline == nil {
		log.Warn().Msg("no baseline series, relative strength unavailable")
	}

	assets := make([]backtest.Asset, 0, len(loaded))
	for _, s := range loaded {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		records := r.Engine.Compute(s.Bars, baseline)
		if len(records) > 0 {
			an.Assets++
		}
		path := filepath.Join(r.cfg.OutDir, store.SignalFilename(s.Filename))
		if err := store.SaveSignals(path, records); err != nil {
			return nil, fmt.Errorf("write signals for %s: %w", s.Asset.Symbol, err)
		}
		assets = append(assets, backtest.Asset{Key: s.Asset.ID, Bars: s.Bars, Signals: records})
	}

	res, err := backtest.Run(assets, baseline, r.cfg.Backtest)
	if err != nil {
		return nil, fmt.Errorf("backtest: %w", err)
	}
	if err := store.SaveResults(r.cfg.OutDir, res.Curve, res.Metrics, res.Trades); err != nil {
		return nil, err
	}
	an.Result = res
	metrics.LastEquity.Set(res.Final.Equity)

	log.Info().Int("assets", an.Assets).Int("days", res.Metrics.TradingDays).
		Float64("cagr", res.Metrics.CAGR).Float64("sharpe", res.Metrics.Sharpe).
		Float64("max_drawdown", res.Metrics.MaxDrawdown).Msg("analysis finished")
	return an, nil
}
