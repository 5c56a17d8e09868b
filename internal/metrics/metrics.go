package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	UpstreamRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "sentinel_upstream_requests_total", Help: "Upstream calls by provider and outcome"},
		[]string{"provider", "outcome"},
	)
	UpstreamRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "sentinel_upstream_retries_total", Help: "Retries scheduled by the rate limiter"},
		[]string{"reason"},
	)
	AssetsFetched = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "sentinel_assets_fetched_total", Help: "Per-asset acquisition outcomes"},
		[]string{"status"},
	)
	Cycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "sentinel_cycles_total", Help: "Pipeline cycles by result"},
		[]string{"result"},
	)
	CycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sentinel_cycle_duration_seconds",
		Help:    "Wall time of a full pipeline cycle",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})
	LastEquity = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sentinel_backtest_final_equity",
		Help: "Final equity of the most recent backtest",
	})
)

func init() {
	prometheus.MustRegister(UpstreamRequests, UpstreamRetries, AssetsFetched, Cycles, CycleDuration, LastEquity)
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
