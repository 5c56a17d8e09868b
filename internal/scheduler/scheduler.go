package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"MomentumSentinel/internal/collector"
	"MomentumSentinel/internal/lock"
	"MomentumSentinel/internal/metrics"
	"MomentumSentinel/internal/model"
	"MomentumSentinel/internal/notifier"
	"MomentumSentinel/internal/pipeline"
	"MomentumSentinel/internal/recorder"
)

// State is the daemon lifecycle state.
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
	StateSuccess State = "success"
	StateFailed  State = "failed"
)

// Cycle record states.
const (
	cycleSuccess = "success"
	cycleFailed  = "failed"
	cycleSkipped = "skipped"
)

// retryDelay is the wait used when the next trigger cannot be computed.
const retryDelay = time.Minute

// Runner executes one pipeline cycle.
type Runner interface {
	Run(ctx context.Context) (*pipeline.Report, error)
}

// Notifier delivers cycle summaries.
type Notifier interface {
	SendWithRetry(ctx context.Context, text string, maxRetries int) error
}

// Status is a snapshot of the daemon.
type Status struct {
	State State
	Next  time.Time
	Last  *recorder.CycleRecord
}

// Daemon runs pipeline cycles once or on a trigger, one holder at a time.
type Daemon struct {
	runner   Runner
	lock     *lock.RunLock
	recorder recorder.Recorder
	notifier Notifier
	trigger  Trigger
	log      zerolog.Logger

	mu    sync.RWMutex
	state State
	next  time.Time
	last  *recorder.CycleRecord

	wake  chan struct{}
	now   func() time.Time
	after func(time.Duration) <-chan time.Time
}

// New creates a Daemon. rec and n may be nil.
func New(runner Runner, lk *lock.RunLock, rec recorder.Recorder, n Notifier, trigger Trigger, log zerolog.Logger) *Daemon {
	if rec == nil {
		rec = recorder.NewNoopRecorder()
	}
	return &Daemon{
		runner:   runner,
		lock:     lk,
		recorder: rec,
		notifier: n,
		trigger:  trigger,
		log:      log.With().Str("component", "scheduler").Logger(),
		state:    StateIdle,
		wake:     make(chan struct{}, 1),
		now:      time.Now,
		after:    time.After,
	}
}

// Status returns the current state and the last finished cycle.
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return Status{State: d.state, Next: d.next, Last: d.last}
}

// Trigger asks a waiting continuous loop to start the next cycle now.
// It reports false when a request is already pending.
func (d *Daemon) Trigger() bool {
	select {
	case d.wake <- struct{}{}:
		return true
	default:
		return false
	}
}

// RunOnce executes a single cycle. It returns lock.ErrContention when another
// holder is active and the cycle's error otherwise. Cancellation of ctx does
// not interrupt a started cycle.
func (d *Daemon) RunOnce(ctx context.Context) (*recorder.CycleRecord, error) {
	return d.cycle(ctx)
}

// Run executes a cycle immediately, then one per trigger until ctx is
// cancelled. Cycle failures are logged and never stop the loop.
func (d *Daemon) Run(ctx context.Context) error {
	d.log.Info().Str("mode", d.trigger.Mode).Msg("scheduler started")
	for {
		if ctx.Err() != nil {
			break
		}
		lastRun := d.now()
		_, _ = d.cycle(ctx)

		wait := retryDelay
		next, err := NextTrigger(d.now(), d.trigger, lastRun)
		if err != nil {
			d.log.Error().Err(err).Dur("retry_in", wait).Msg("next trigger unavailable")
			next = d.now().Add(wait)
		} else {
			wait = next.Sub(d.now())
		}
		d.setIdle(next)
		d.log.Info().Time("next_run", next).Msg("waiting for next trigger")

		select {
		case <-ctx.Done():
		case <-d.after(wait):
		case <-d.wake:
			d.log.Info().Msg("manual trigger")
		}
	}
	d.log.Info().Msg("scheduler stopped")
	return nil
}

func (d *Daemon) cycle(ctx context.Context) (rec *recorder.CycleRecord, err error) {
	// A cycle always runs to completion; only the loop observes ctx.
	ctx = context.WithoutCancel(ctx)
	started := d.now()

	if err := d.lock.Acquire(); err != nil {
		rec = &recorder.CycleRecord{ID: uuid.NewString(), StartedAt: started, FinishedAt: d.now(), State: cycleSkipped, Error: err.Error()}
		if errors.Is(err, lock.ErrContention) {
			d.log.Warn().Err(err).Msg("another instance is running, cycle skipped")
			metrics.Cycles.WithLabelValues(cycleSkipped).Inc()
		} else {
			d.log.Error().Err(err).Msg("lock unavailable, cycle skipped")
			metrics.Cycles.WithLabelValues(cycleFailed).Inc()
			rec.State = cycleFailed
		}
		d.finish(ctx, rec)
		return rec, err
	}
	defer func() {
		if rerr := d.lock.Release(); rerr != nil {
			d.log.Error().Err(rerr).Msg("release lock")
		}
	}()

	d.setState(StateRunning)
	d.log.Info().Msg("cycle started")
	report, err := d.runSafely(ctx)

	rec = cycleRecord(report, err)
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = started
	}
	if rec.FinishedAt.IsZero() {
		rec.FinishedAt = d.now()
	}
	took := rec.FinishedAt.Sub(rec.StartedAt)
	metrics.CycleDuration.Observe(took.Seconds())
	metrics.Cycles.WithLabelValues(rec.State).Inc()

	ev := d.log.Info()
	if err != nil {
		ev = d.log.Error().Err(err)
	} else if rec.AssetsFailed > 0 {
		ev = d.log.Warn()
	}
	ev.Str("cycle", rec.ID).Str("state", rec.State).Int("assets_ok", rec.AssetsOK).
		Int("assets_failed", rec.AssetsFailed).Dur("took", took).Msg("cycle finished")

	d.finish(ctx, rec)
	return rec, err
}

func (d *Daemon) runSafely(ctx context.Context) (report *pipeline.Report, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cycle panicked: %v", r)
		}
	}()
	return d.runner.Run(ctx)
}

// finish records the cycle, publishes it and updates the state.
func (d *Daemon) finish(ctx context.Context, rec *recorder.CycleRecord) {
	if err := d.recorder.RecordCycle(rec); err != nil {
		d.log.Error().Err(err).Str("cycle", rec.ID).Msg("record cycle")
	}

	d.mu.Lock()
	d.last = rec
	switch rec.State {
	case cycleSuccess:
		d.state = StateSuccess
	case cycleFailed:
		d.state = StateFailed
	}
	d.mu.Unlock()

	if d.notifier == nil || rec.State == cycleSkipped {
		return
	}
	nctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	if err := d.notifier.SendWithRetry(nctx, notifier.FormatCycleSummary(rec), 3); err != nil {
		d.log.Warn().Err(err).Msg("cycle summary not delivered")
	}
}

func (d *Daemon) setState(s State) {
	d.mu.Lock()
	d.state = s
	d.mu.Unlock()
}

func (d *Daemon) setIdle(next time.Time) {
	d.mu.Lock()
	d.state = StateIdle
	d.next = next
	d.mu.Unlock()
}

// HandleCommand answers chat commands.
func (d *Daemon) HandleCommand(command string) string {
	cmd := strings.Fields(command)
	if len(cmd) == 0 {
		return ""
	}
	// Strip a @botname suffix.
	name, _, _ := strings.Cut(cmd[0], "@")
	switch name {
	case "/status":
		st := d.Status()
		return notifier.FormatStatus(string(st.State), st.Last, st.Next)
	case "/run":
		if d.Trigger() {
			return "🚀 cycle requested"
		}
		return "a cycle request is already pending"
	case "/help", "/start":
		return "commands:\n/status - scheduler state and last cycle\n/run - start a cycle now"
	default:
		return ""
	}
}

func cycleRecord(report *pipeline.Report, err error) *recorder.CycleRecord {
	rec := &recorder.CycleRecord{State: cycleSuccess}
	if err != nil {
		rec.State = cycleFailed
		rec.Error = err.Error()
	}
	if report == nil {
		return rec
	}
	rec.ID, rec.StartedAt, rec.FinishedAt = report.ID, report.StartedAt, report.FinishedAt
	if acq := report.Acquisition; acq != nil {
		rec.AssetsOK, rec.AssetsFailed = acq.Succeeded(), acq.Failed()
		for _, r := range acq.Results {
			rec.Fetches = append(rec.Fetches, fetchRecord(r))
		}
	}
	if report.Analysis != nil && report.Analysis.Result != nil {
		res := report.Analysis.Result
		m := res.Metrics
		rec.Metrics = &recorder.MetricsRecord{
			CAGR:         m.CAGR,
			Sharpe:       m.Sharpe,
			MaxDrawdown:  m.MaxDrawdown,
			WinRate:      m.WinRate,
			ProfitFactor: m.ProfitFactor,
			TradingDays:  m.TradingDays,
			FinalEquity:  res.Final.Equity,
		}
	}
	return rec
}

func fetchRecord(r collector.AssetResult) recorder.FetchRecord {
	f := recorder.FetchRecord{
		AssetID: r.Asset.ID,
		Symbol:  r.Asset.Symbol,
		Status:  string(r.Status),
		NewBars: r.NewBars,
	}
	if !r.LastDate.IsZero() {
		f.LastDate = r.LastDate.Format(model.DateLayout)
	}
	if r.Err != nil {
		f.Error = r.Err.Error()
	}
	return f
}
