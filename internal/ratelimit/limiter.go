package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"MomentumSentinel/internal/metrics"
)

// RetryHinter is implemented by errors that know whether a retry may help.
// A positive delay is an upstream-mandated wait (Retry-After).
type RetryHinter interface {
	RetryHint() (delay time.Duration, retry bool)
}

// Config controls spacing and retry behavior.
type Config struct {
	MinInterval time.Duration // minimum spacing between any two requests
	MaxRetries  int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// Limiter is shared by every worker of a run. Wait spaces requests across
// all callers; Do additionally retries retryable failures of one caller.
type Limiter struct {
	spacing *rate.Limiter
	cfg     Config
	log     zerolog.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// New creates a Limiter. A zero MinInterval disables spacing.
func New(cfg Config, log zerolog.Logger) *Limiter {
	limit := rate.Inf
	if cfg.MinInterval > 0 {
		limit = rate.Every(cfg.MinInterval)
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 300 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	return &Limiter{
		spacing: rate.NewLimiter(limit, 1),
		cfg:     cfg,
		log:     log,
		sleep:   sleepCtx,
	}
}

// Wait blocks until the caller may issue one request.
func (l *Limiter) Wait(ctx context.Context) error {
	return l.spacing.Wait(ctx)
}

// Do runs fn under the shared spacing, retrying up to MaxRetries times when
// fn fails with a retryable error. Only the calling worker is suspended
// during backoff. The last error is returned once retries are exhausted.
func (l *Limiter) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	for attempt := 0; ; attempt++ {
		if err := l.Wait(ctx); err != nil {
			return err
		}
		err := fn(ctx)
		if err == nil {
			return nil
		}
		delay, retry := l.backoff(err, attempt)
		if !retry || attempt >= l.cfg.MaxRetries {
			return err
		}
		reason := "transient"
		if delay > 0 && isMandated(err) {
			reason = "rate_limited"
		}
		metrics.UpstreamRetries.WithLabelValues(reason).Inc()
		l.log.Debug().Err(err).Int("attempt", attempt+1).Dur("delay", delay).Msg("retrying upstream call")
		if err := l.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// backoff returns the wait before the next attempt and whether to retry.
func (l *Limiter) backoff(err error, attempt int) (time.Duration, bool) {
	var h RetryHinter
	if !errors.As(err, &h) {
		return 0, false
	}
	delay, retry := h.RetryHint()
	if !retry {
		return 0, false
	}
	if delay > 0 {
		return delay, true
	}
	d := l.cfg.BaseBackoff << uint(attempt)
	if d <= 0 || d > l.cfg.MaxBackoff {
		d = l.cfg.MaxBackoff
	}
	return d, true
}

func isMandated(err error) bool {
	var h RetryHinter
	if !errors.As(err, &h) {
		return false
	}
	d, _ := h.RetryHint()
	return d > 0
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
