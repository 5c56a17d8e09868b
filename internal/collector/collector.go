package collector

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"MomentumSentinel/internal/metrics"
	"MomentumSentinel/internal/model"
	"MomentumSentinel/internal/ratelimit"
	"MomentumSentinel/internal/store"
)

// Status is the outcome of acquiring one asset.
type Status string

const (
	StatusUpdated        Status = "updated"
	StatusUpToDate       Status = "up_to_date"
	StatusFailed         Status = "failed"
	StatusSkippedInvalid Status = "skipped_invalid"
	StatusSkippedCorrupt Status = "skipped_corrupt"
)

// Options describe one acquisition run.
type Options struct {
	Start, End    time.Time
	Resume        bool
	Concurrency   int
	TopN          int
	Assets        []model.Asset // explicit universe; ListTop is used when empty
	Baseline      model.Asset
	SkipBaseline  bool
	WriteManifest bool
}

// AssetResult is the per-asset line of a Report.
type AssetResult struct {
	Asset    model.Asset
	Filename string
	Baseline bool
	Status   Status
	NewBars  int
	LastDate time.Time
	Err      error
}

// OK reports whether the asset's series is current on disk.
func (r AssetResult) OK() bool {
	return r.Status == StatusUpdated || r.Status == StatusUpToDate
}

// Report summarizes an acquisition run.
type Report struct {
	Provider   string
	StartedAt  time.Time
	FinishedAt time.Time
	Results    []AssetResult
}

// Succeeded counts assets whose series is current.
func (r *Report) Succeeded() int {
	n := 0
	for _, res := range r.Results {
		if res.OK() {
			n++
		}
	}
	return n
}

// Failed counts assets that did not succeed.
func (r *Report) Failed() int {
	return len(r.Results) - r.Succeeded()
}

// Collector runs chunked, resumable, concurrent acquisition into a SeriesStore.
type Collector struct {
	Fetcher Fetcher
	Store   *store.SeriesStore
	Limiter *ratelimit.Limiter
	log     zerolog.Logger
}

// NewCollector creates a new Collector.
func NewCollector(fetcher Fetcher, st *store.SeriesStore, limiter *ratelimit.Limiter, log zerolog.Logger) *Collector {
	return &Collector{Fetcher: fetcher, Store: st, Limiter: limiter, log: log.With().Str("component", "collector").Logger()}
}

// Run fetches every asset of the universe. Per-asset failures are recorded
// in the report and never abort the run; an error is returned only when the
// universe cannot be determined or the options are invalid.
func (c *Collector) Run(ctx context.Context, opt Options) (*Report, error) {
	start, end := model.Day(opt.Start), model.Day(opt.End)
	if end.Before(start) {
		return nil, fmt.Errorf("invalid range: end %s before start %s", end.Format(model.DateLayout), start.Format(model.DateLayout))
	}
	opt.Start, opt.End = start, end
	if opt.Concurrency < 1 {
		opt.Concurrency = 1
	}

	universe, err := c.universe(ctx, opt)
	if err != nil {
		return nil, err
	}

	report := &Report{Provider: c.Fetcher.Name(), StartedAt: time.Now(), Results: make([]AssetResult, len(universe))}
	c.log.Info().Int("assets", len(universe)).Str("from", start.Format(model.DateLayout)).
		Str("to", end.Format(model.DateLayout)).Bool("resume", opt.Resume).Msg("acquisition started")

	// The baseline goes first so relative strength is always computable.
	first := 0
	if len(universe) > 0 && universe[0].baseline {
		report.Results[0] = c.fetchAsset(ctx, universe[0], opt)
		first = 1
	}

	g := new(errgroup.Group)
	g.SetLimit(opt.Concurrency)
	for i := first; i < len(universe); i++ {
		i := i
		g.Go(func() error {
			report.Results[i] = c.fetchAsset(ctx, universe[i], opt)
			return nil
		})
	}
	_ = g.Wait()
	report.FinishedAt = time.Now()

	if opt.WriteManifest {
		if err := c.writeManifest(report); err != nil {
			c.log.Error().Err(err).Msg("write manifest")
		}
	}
	c.log.Info().Int("succeeded", report.Succeeded()).Int("failed", report.Failed()).
		Dur("took", report.FinishedAt.Sub(report.StartedAt)).Msg("acquisition finished")
	return report, nil
}

type target struct {
	asset    model.Asset
	baseline bool
}

func (c *Collector) universe(ctx context.Context, opt Options) ([]target, error) {
	assets := opt.Assets
	if len(assets) == 0 {
		err := c.Limiter.Do(ctx, func(ctx context.Context) error {
			var err error
			assets, err = c.Fetcher.ListTop(ctx, opt.TopN)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("list top %d assets: %w", opt.TopN, err)
		}
	}

	var out []target
	seen := map[string]bool{}
	if !opt.SkipBaseline && opt.Baseline.ID != "" {
		out = append(out, target{asset: opt.Baseline, baseline: true})
		seen[opt.Baseline.ID] = true
	}
	for _, a := range assets {
		if a.ID == "" || seen[a.ID] {
			continue
		}
		seen[a.ID] = true
		out = append(out, target{asset: a})
	}
	return out, nil
}

func (c *Collector) fetchAsset(ctx context.Context, t target, opt Options) (res AssetResult) {
	res = AssetResult{Asset: t.asset, Baseline: t.baseline, Filename: store.Filename(t.asset, t.baseline)}
	log := c.log.With().Str("asset", t.asset.ID).Str("symbol", t.asset.Symbol).Logger()
	defer func() {
		metrics.AssetsFetched.WithLabelValues(string(res.Status)).Inc()
		if res.Err != nil {
			log.Warn().Err(res.Err).Str("status", string(res.Status)).Msg("asset not updated")
		}
	}()

	var existing []model.Bar
	from := opt.Start
	if opt.Resume {
		bars, err := c.Store.Load(res.Filename)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			res.Status, res.Err = StatusSkippedCorrupt, err
			return res
		case len(bars) > 0:
			existing = bars
			res.LastDate = bars[len(bars)-1].Date
			from = res.LastDate.AddDate(0, 0, 1)
		}
	}
	if from.After(opt.End) {
		res.Status = StatusUpToDate
		log.Debug().Msg("already up to date")
		return res
	}

	fetched, err := c.fetchChunks(ctx, t.asset, from, opt.End)
	if err != nil {
		res.Status, res.Err = StatusFailed, err
		if KindOf(err) == KindInvalidAsset {
			res.Status = StatusSkippedInvalid
		}
		return res
	}

	fresh := store.Merge(nil, fetched)
	fresh = clip(fresh, from, opt.End)
	if len(fresh) == 0 {
		if len(existing) > 0 {
			res.Status = StatusUpToDate
			return res
		}
		res.Status, res.Err = StatusFailed, fmt.Errorf("no bars between %s and %s", from.Format(model.DateLayout), opt.End.Format(model.DateLayout))
		return res
	}

	merged := store.Merge(existing, fresh)
	if err := c.Store.Save(res.Filename, merged); err != nil {
		res.Status, res.Err = StatusFailed, fmt.Errorf("save series: %w", err)
		return res
	}
	res.Status = StatusUpdated
	res.NewBars = len(merged) - len(existing)
	res.LastDate = merged[len(merged)-1].Date
	log.Debug().Int("new_bars", res.NewBars).Str("last_date", res.LastDate.Format(model.DateLayout)).Msg("series updated")
	return res
}

// fetchChunks splits [from, to] into windows no longer than the provider's
// maximum and requests them in order. The next window starts the day after
// the previous one ends.
func (c *Collector) fetchChunks(ctx context.Context, asset model.Asset, from, to time.Time) ([]model.Bar, error) {
	span := c.Fetcher.MaxRangeDays()
	if span < 1 {
		span = 1
	}
	var all []model.Bar
	for cur := from; !cur.After(to); {
		chunkEnd := cur.AddDate(0, 0, span-1)
		if chunkEnd.After(to) {
			chunkEnd = to
		}
		var bars []model.Bar
		err := c.Limiter.Do(ctx, func(ctx context.Context) error {
			var err error
			bars, err = c.Fetcher.FetchRange(ctx, asset, cur, chunkEnd)
			outcome := "ok"
			if err != nil {
				outcome = string(KindOf(err))
				if outcome == "" {
					outcome = "error"
				}
			}
			metrics.UpstreamRequests.WithLabelValues(c.Fetcher.Name(), outcome).Inc()
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("fetch %s %s..%s: %w", asset.ID, cur.Format(model.DateLayout), chunkEnd.Format(model.DateLayout), err)
		}
		all = append(all, bars...)
		cur = chunkEnd.AddDate(0, 0, 1)
	}
	return all, nil
}

func clip(bars []model.Bar, from, to time.Time) []model.Bar {
	out := bars[:0]
	for _, b := range bars {
		if b.Date.Before(from) || b.Date.After(to) {
			continue
		}
		out = append(out, b)
	}
	return out
}

func (c *Collector) writeManifest(report *Report) error {
	path := filepath.Join(c.Store.Dir, store.ManifestFilename)
	previous, err := store.LoadManifest(path)
	if err != nil {
		c.log.Warn().Err(err).Msg("previous manifest unreadable, rebuilding")
		previous = nil
	}
	byID := make(map[string]model.ManifestEntry, len(previous))
	for _, e := range previous {
		byID[e.ID] = e
	}

	entries := make([]model.ManifestEntry, 0, len(report.Results))
	for _, r := range report.Results {
		e, known := byID[r.Asset.ID]
		if !r.OK() && !known {
			continue
		}
		if r.OK() {
			e = model.ManifestEntry{Symbol: r.Asset.Symbol, ID: r.Asset.ID, Filename: r.Filename}
			if !r.LastDate.IsZero() {
				e.LastDate = r.LastDate.Format(model.DateLayout)
			}
		}
		entries = append(entries, e)
	}
	return store.SaveManifest(path, entries)
}
