package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MomentumSentinel/internal/collector"
	"MomentumSentinel/internal/lock"
	"MomentumSentinel/internal/model"
	"MomentumSentinel/internal/pipeline"
	"MomentumSentinel/internal/recorder"
)

type runnerFunc func(ctx context.Context) (*pipeline.Report, error)

func (f runnerFunc) Run(ctx context.Context) (*pipeline.Report, error) { return f(ctx) }

type memRecorder struct {
	mu   sync.Mutex
	recs []*recorder.CycleRecord
}

func (m *memRecorder) RecordCycle(rec *recorder.CycleRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, rec)
	return nil
}

func (m *memRecorder) Close() error { return nil }

type memNotifier struct {
	mu   sync.Mutex
	msgs []string
}

func (m *memNotifier) SendWithRetry(_ context.Context, text string, _ int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.msgs = append(m.msgs, text)
	return nil
}

func okReport() *pipeline.Report {
	now := time.Now()
	return &pipeline.Report{
		ID:         "cycle-1",
		StartedAt:  now,
		FinishedAt: now.Add(time.Second),
		Acquisition: &collector.Report{Results: []collector.AssetResult{
			{Asset: model.Asset{ID: "bitcoin", Symbol: "BTC"}, Status: collector.StatusUpdated, NewBars: 3},
			{Asset: model.Asset{ID: "ethereum", Symbol: "ETH"}, Status: collector.StatusFailed, Err: errors.New("timeout")},
		}},
	}
}

func newTestDaemon(t *testing.T, r Runner, tr Trigger) (*Daemon, string, *memRecorder, *memNotifier) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sentinel.lock")
	rec, n := &memRecorder{}, &memNotifier{}
	d := New(r, lock.New(path, time.Hour), rec, n, tr, zerolog.Nop())
	return d, path, rec, n
}

func immediate(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- time.Now()
	return ch
}

func never(time.Duration) <-chan time.Time { return nil }

func TestRunOnceSuccess(t *testing.T) {
	d, path, rec, n := newTestDaemon(t, runnerFunc(func(ctx context.Context) (*pipeline.Report, error) {
		return okReport(), nil
	}), Trigger{})

	got, err := d.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "cycle-1", got.ID)
	assert.Equal(t, "success", got.State)
	assert.Equal(t, 1, got.AssetsOK)
	assert.Equal(t, 1, got.AssetsFailed)
	require.Len(t, got.Fetches, 2)
	assert.Equal(t, "timeout", got.Fetches[1].Error)

	assert.NoFileExists(t, path, "lock released")
	assert.Equal(t, StateSuccess, d.Status().State)
	assert.Len(t, rec.recs, 1)
	assert.Len(t, n.msgs, 1)
}

func TestRunOnceFailureReleasesLock(t *testing.T) {
	d, path, rec, _ := newTestDaemon(t, runnerFunc(func(ctx context.Context) (*pipeline.Report, error) {
		return &pipeline.Report{ID: "c2"}, pipeline.ErrNoAssets
	}), Trigger{})

	got, err := d.RunOnce(context.Background())
	require.ErrorIs(t, err, pipeline.ErrNoAssets)
	assert.Equal(t, "failed", got.State)
	assert.Equal(t, pipeline.ErrNoAssets.Error(), got.Error)
	assert.NoFileExists(t, path)
	assert.Equal(t, StateFailed, d.Status().State)
	assert.Len(t, rec.recs, 1)
}

func TestRunOnceRecoversPanic(t *testing.T) {
	d, path, _, _ := newTestDaemon(t, runnerFunc(func(ctx context.Context) (*pipeline.Report, error) {
		panic("index out of range")
	}), Trigger{})

	got, err := d.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")
	assert.Equal(t, "failed", got.State)
	assert.NotEmpty(t, got.ID)
	assert.NoFileExists(t, path)
}

func TestRunOnceSkipsOnContention(t *testing.T) {
	var calls atomic.Int32
	d, path, rec, n := newTestDaemon(t, runnerFunc(func(ctx context.Context) (*pipeline.Report, error) {
		calls.Add(1)
		return okReport(), nil
	}), Trigger{})

	holder := lock.New(path, time.Hour)
	require.NoError(t, holder.Acquire())
	defer holder.Release()

	got, err := d.RunOnce(context.Background())
	require.ErrorIs(t, err, lock.ErrContention)
	assert.Equal(t, "skipped", got.State)
	assert.Zero(t, calls.Load())
	assert.FileExists(t, path, "the other holder keeps its lock")
	assert.Len(t, rec.recs, 1)
	assert.Empty(t, n.msgs)

	require.NoError(t, holder.Release())
	_, err = d.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestRunContinuesAfterFailures(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	d, path, rec, _ := newTestDaemon(t, runnerFunc(func(ctx context.Context) (*pipeline.Report, error) {
		n := calls.Add(1)
		if n == 3 {
			cancel()
		}
		if n == 1 {
			return nil, errors.New("upstream down")
		}
		return okReport(), nil
	}), Trigger{Mode: ModeInterval, Interval: time.Hour})
	d.after = immediate

	require.NoError(t, d.Run(ctx))
	assert.Equal(t, int32(3), calls.Load())
	assert.Len(t, rec.recs, 3)
	assert.Equal(t, "failed", rec.recs[0].State)
	assert.Equal(t, "success", rec.recs[2].State)
	assert.NoFileExists(t, path)
}

func TestCancellationWaitsForCycleBoundary(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	proceed := make(chan struct{})
	var cycleCtxErr error

	d, path, _, _ := newTestDaemon(t, runnerFunc(func(cctx context.Context) (*pipeline.Report, error) {
		close(started)
		<-proceed
		cycleCtxErr = cctx.Err()
		return okReport(), nil
	}), Trigger{Mode: ModeInterval, Interval: time.Hour})
	d.after = never

	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	<-started
	cancel()
	select {
	case <-done:
		t.Fatal("loop returned while a cycle was running")
	case <-time.After(50 * time.Millisecond):
	}
	assert.FileExists(t, path, "lock held during the cycle")

	close(proceed)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not stop after the cycle")
	}
	assert.NoError(t, cycleCtxErr, "cycle context is not cancelled")
	assert.NoFileExists(t, path)
}

func TestManualTriggerWakesLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var d *Daemon
	var calls atomic.Int32
	d, _, _, _ = newTestDaemon(t, runnerFunc(func(context.Context) (*pipeline.Report, error) {
		switch calls.Add(1) {
		case 1:
			assert.Contains(t, d.HandleCommand("/run"), "requested")
			assert.Contains(t, d.HandleCommand("/run"), "already pending")
		case 2:
			cancel()
		}
		return okReport(), nil
	}), Trigger{Mode: ModeDaily, Hour: 3})
	d.after = never

	require.NoError(t, d.Run(ctx))
	assert.Equal(t, int32(2), calls.Load())
	st := d.Status()
	assert.Equal(t, StateIdle, st.State)
	assert.False(t, st.Next.IsZero())
}

func TestHandleCommand(t *testing.T) {
	d, _, _, _ := newTestDaemon(t, runnerFunc(func(context.Context) (*pipeline.Report, error) {
		return okReport(), nil
	}), Trigger{})

	assert.Contains(t, d.HandleCommand("/status"), "last cycle: none")
	_, err := d.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Contains(t, d.HandleCommand("/status@sentinel_bot"), "last cycle: success")
	assert.Contains(t, d.HandleCommand("/help"), "/run")
	assert.Empty(t, d.HandleCommand("hello"))
}
