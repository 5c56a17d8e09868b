package collector

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Kind classifies upstream failures.
type Kind string

const (
	KindTransient    Kind = "transient"
	KindRateLimited  Kind = "rate_limited"
	KindInvalidAsset Kind = "invalid_asset"
	KindServer       Kind = "server"
	KindParse        Kind = "parse"
)

// UpstreamError is a classified failure from a Fetcher.
type UpstreamError struct {
	Kind       Kind
	Provider   string
	RetryAfter time.Duration
	Err        error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// RetryHint lets the rate limiter decide whether to retry.
func (e *UpstreamError) RetryHint() (time.Duration, bool) {
	switch e.Kind {
	case KindRateLimited:
		return e.RetryAfter, true
	case KindTransient, KindServer:
		return 0, true
	default:
		return 0, false
	}
}

// KindOf returns the classification of err, or "" when unclassified.
func KindOf(err error) Kind {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.Kind
	}
	return ""
}

func upstreamErr(provider string, kind Kind, format string, args ...any) *UpstreamError {
	return &UpstreamError{Kind: kind, Provider: provider, Err: fmt.Errorf(format, args...)}
}

// transportErr classifies a failed round trip. Caller cancellation is not
// retryable; timeouts and connection failures are.
func transportErr(ctx context.Context, provider string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return &UpstreamError{Kind: KindTransient, Provider: provider, Err: err}
}

// statusErr maps a non-200 response to an UpstreamError.
func statusErr(provider string, resp *http.Response, body []byte) *UpstreamError {
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	err := fmt.Errorf("status %d: %s", resp.StatusCode, msg)
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return &UpstreamError{Kind: KindRateLimited, Provider: provider, RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")), Err: err}
	case resp.StatusCode == http.StatusNotFound:
		return &UpstreamError{Kind: KindInvalidAsset, Provider: provider, Err: err}
	case resp.StatusCode == http.StatusBadRequest && strings.Contains(strings.ToLower(msg), "invalid"):
		return &UpstreamError{Kind: KindInvalidAsset, Provider: provider, Err: err}
	case resp.StatusCode >= 500:
		return &UpstreamError{Kind: KindServer, Provider: provider, Err: err}
	default:
		return &UpstreamError{Kind: KindParse, Provider: provider, Err: err}
	}
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
