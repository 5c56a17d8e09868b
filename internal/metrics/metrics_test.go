package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersRegistered(t *testing.T) {
	AssetsFetched.WithLabelValues("updated").Inc()
	Cycles.WithLabelValues("success").Inc()

	mfs, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, mf := range mfs {
		names[mf.GetName()] = true
	}
	assert.True(t, names["sentinel_assets_fetched_total"])
	assert.True(t, names["sentinel_cycles_total"])
	assert.GreaterOrEqual(t, testutil.ToFloat64(Cycles.WithLabelValues("success")), 1.0)
}

func TestHandlerServesText(t *testing.T) {
	UpstreamRequests.WithLabelValues("mock", "ok").Inc()
	srv := httptest.NewServer(Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "sentinel_upstream_requests_total")
}
