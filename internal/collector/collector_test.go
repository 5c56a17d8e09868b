package collector

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MomentumSentinel/internal/model"
	"MomentumSentinel/internal/ratelimit"
	"MomentumSentinel/internal/store"
)

var (
	btc = model.Asset{ID: "bitcoin", Symbol: "BTC"}
	eth = model.Asset{ID: "ethereum", Symbol: "ETH"}
	sol = model.Asset{ID: "solana", Symbol: "SOL"}
)

func date(s string) time.Time {
	t, err := time.Parse(model.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func newTestCollector(t *testing.T, f Fetcher) *Collector {
	t.Helper()
	lim := ratelimit.New(ratelimit.Config{MaxRetries: 2, BaseBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}, zerolog.Nop())
	return NewCollector(f, store.NewSeriesStore(t.TempDir()), lim, zerolog.Nop())
}

func baseOptions() Options {
	return Options{
		Start:         date("2024-01-01"),
		End:           date("2024-03-31"),
		Resume:        true,
		Concurrency:   3,
		TopN:          10,
		Baseline:      btc,
		WriteManifest: true,
	}
}

func TestRunFetchesBaselineFirstAndNamesFiles(t *testing.T) {
	f := &MockFetcher{Assets: []model.Asset{eth, btc, sol}}
	c := newTestCollector(t, f)

	report, err := c.Run(context.Background(), baseOptions())
	require.NoError(t, err)
	require.Len(t, report.Results, 3)
	assert.Equal(t, 3, report.Succeeded())
	assert.True(t, report.Results[0].Baseline)
	assert.Equal(t, "BTC.csv", report.Results[0].Filename)
	assert.Equal(t, "bitcoin", f.Calls()[0].AssetID)

	for _, name := range []string{"BTC.csv", "ETH_ethereum.csv", "SOL_solana.csv", store.ManifestFilename} {
		_, err := os.Stat(filepath.Join(c.Store.Dir, name))
		assert.NoError(t, err, name)
	}
	bars, err := c.Store.Load("ETH_ethereum.csv")
	require.NoError(t, err)
	assert.Len(t, bars, 91)
	assert.Equal(t, date("2024-03-31"), bars[len(bars)-1].Date)
}

func TestChunksAreSequentialAndContiguous(t *testing.T) {
	f := &MockFetcher{MaxRange: 10}
	opt := baseOptions()
	opt.Assets = []model.Asset{eth}
	opt.SkipBaseline = true
	opt.Start, opt.End = date("2024-01-01"), date("2024-02-04") // 35 days

	c := newTestCollector(t, f)
	report, err := c.Run(context.Background(), opt)
	require.NoError(t, err)
	assert.Equal(t, 35, report.Results[0].NewBars)

	calls := f.Calls()
	require.Len(t, calls, 4)
	assert.Equal(t, date("2024-01-01"), calls[0].From)
	assert.Equal(t, date("2024-01-10"), calls[0].To)
	for i := 1; i < len(calls); i++ {
		assert.Equal(t, calls[i-1].To.AddDate(0, 0, 1), calls[i].From)
	}
	assert.Equal(t, date("2024-02-04"), calls[3].To)
}

func TestResumeIsIdempotent(t *testing.T) {
	opt := baseOptions()
	opt.Assets = []model.Asset{eth}
	opt.SkipBaseline = true

	// One shot over the whole range.
	full := newTestCollector(t, &MockFetcher{})
	_, err := full.Run(context.Background(), opt)
	require.NoError(t, err)
	want, err := full.Store.Load("ETH_ethereum.csv")
	require.NoError(t, err)

	// Two runs: an early cutoff, then resume to the same end.
	f := &MockFetcher{}
	split := newTestCollector(t, f)
	early := opt
	early.End = date("2024-02-15")
	_, err = split.Run(context.Background(), early)
	require.NoError(t, err)
	report, err := split.Run(context.Background(), opt)
	require.NoError(t, err)
	got, err := split.Store.Load("ETH_ethereum.csv")
	require.NoError(t, err)

	assert.Equal(t, want, got)
	assert.Equal(t, date("2024-02-16"), f.Calls()[len(f.Calls())-1].From)
	assert.Equal(t, 45, report.Results[0].NewBars)

	// A third run has nothing to do and makes no upstream calls.
	before := len(f.Calls())
	report, err = split.Run(context.Background(), opt)
	require.NoError(t, err)
	assert.Equal(t, StatusUpToDate, report.Results[0].Status)
	assert.Len(t, f.Calls(), before)
}

func TestFailureIsIsolatedPerAsset(t *testing.T) {
	f := &MockFetcher{
		Assets: []model.Asset{eth, sol},
		Errors: map[string]error{
			"solana": &UpstreamError{Kind: KindInvalidAsset, Provider: "mock", Err: errors.New("unknown coin")},
		},
	}
	c := newTestCollector(t, f)
	report, err := c.Run(context.Background(), baseOptions())
	require.NoError(t, err)

	byID := map[string]AssetResult{}
	for _, r := range report.Results {
		byID[r.Asset.ID] = r
	}
	assert.Equal(t, StatusUpdated, byID["bitcoin"].Status)
	assert.Equal(t, StatusUpdated, byID["ethereum"].Status)
	assert.Equal(t, StatusSkippedInvalid, byID["solana"].Status)
	assert.Equal(t, 2, report.Succeeded())

	_, err = os.Stat(filepath.Join(c.Store.Dir, "SOL_solana.csv"))
	assert.True(t, errors.Is(err, os.ErrNotExist))

	manifest, err := store.LoadManifest(filepath.Join(c.Store.Dir, store.ManifestFilename))
	require.NoError(t, err)
	require.Len(t, manifest, 2)
	assert.Equal(t, "BTC.csv", manifest[0].Filename)
	assert.Equal(t, "2024-03-31", manifest[0].LastDate)
}

func TestCorruptSeriesIsSkippedNotOverwritten(t *testing.T) {
	c := newTestCollector(t, &MockFetcher{})
	path := c.Store.Path("ETH_ethereum.csv")
	require.NoError(t, os.WriteFile(path, []byte("garbage\n"), 0o644))

	opt := baseOptions()
	opt.Assets = []model.Asset{eth}
	report, err := c.Run(context.Background(), opt)
	require.NoError(t, err)

	var ethRes AssetResult
	for _, r := range report.Results {
		if r.Asset.ID == "ethereum" {
			ethRes = r
		}
	}
	assert.Equal(t, StatusSkippedCorrupt, ethRes.Status)
	assert.ErrorIs(t, ethRes.Err, store.ErrCorrupt)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "garbage\n", string(data))
}

type flakyFetcher struct {
	MockFetcher
	failures int
}

func (f *flakyFetcher) FetchRange(ctx context.Context, a model.Asset, from, to time.Time) ([]model.Bar, error) {
	if f.failures > 0 {
		f.failures--
		return nil, &UpstreamError{Kind: KindRateLimited, Provider: "mock", RetryAfter: time.Millisecond, Err: errors.New("429")}
	}
	return f.MockFetcher.FetchRange(ctx, a, from, to)
}

func TestRateLimitedChunkIsRetried(t *testing.T) {
	f := &flakyFetcher{failures: 2}
	opt := baseOptions()
	opt.Assets = []model.Asset{eth}
	opt.SkipBaseline = true
	opt.Concurrency = 1

	c := newTestCollector(t, f)
	report, err := c.Run(context.Background(), opt)
	require.NoError(t, err)
	assert.Equal(t, StatusUpdated, report.Results[0].Status)
}

func TestRetriesExhaustedMarksFailed(t *testing.T) {
	f := &flakyFetcher{failures: 100}
	opt := baseOptions()
	opt.Assets = []model.Asset{eth}
	opt.SkipBaseline = true

	c := newTestCollector(t, f)
	report, err := c.Run(context.Background(), opt)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, report.Results[0].Status)
	assert.Equal(t, KindRateLimited, KindOf(report.Results[0].Err))
	assert.Equal(t, 0, report.Succeeded())
}

func TestNonResumeRewritesRange(t *testing.T) {
	opt := baseOptions()
	opt.Assets = []model.Asset{eth}
	opt.SkipBaseline = true
	c := newTestCollector(t, &MockFetcher{})
	_, err := c.Run(context.Background(), opt)
	require.NoError(t, err)

	opt.Resume = false
	opt.Start, opt.End = date("2024-03-01"), date("2024-03-10")
	report, err := c.Run(context.Background(), opt)
	require.NoError(t, err)
	assert.Equal(t, StatusUpdated, report.Results[0].Status)
	bars, err := c.Store.Load("ETH_ethereum.csv")
	require.NoError(t, err)
	assert.Len(t, bars, 10)
}

func TestInvalidRange(t *testing.T) {
	opt := baseOptions()
	opt.Start, opt.End = opt.End, opt.Start
	_, err := newTestCollector(t, &MockFetcher{}).Run(context.Background(), opt)
	assert.Error(t, err)
}
