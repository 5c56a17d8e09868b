package collector

import (
	"context"
	"math"
	"sync"
	"time"

	"MomentumSentinel/internal/model"
)

// MockFetcher serves deterministic synthetic bars for development and tests.
// A bar depends only on its asset and date, so overlapping fetches agree.
type MockFetcher struct {
	Assets   []model.Asset
	MaxRange int
	Errors   map[string]error // asset id -> error returned by FetchRange
	Drift    map[string]float64

	mu    sync.Mutex
	calls []MockCall
}

// MockCall records one FetchRange invocation.
type MockCall struct {
	AssetID  string
	From, To time.Time
}

var mockEpoch = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

func (m *MockFetcher) Name() string { return "mock" }

func (m *MockFetcher) MaxRangeDays() int {
	if m.MaxRange > 0 {
		return m.MaxRange
	}
	return 180
}

func (m *MockFetcher) ListTop(_ context.Context, n int) ([]model.Asset, error) {
	if n > len(m.Assets) {
		n = len(m.Assets)
	}
	return append([]model.Asset(nil), m.Assets[:n]...), nil
}

func (m *MockFetcher) FetchRange(_ context.Context, asset model.Asset, from, to time.Time) ([]model.Bar, error) {
	m.mu.Lock()
	m.calls = append(m.calls, MockCall{AssetID: asset.ID, From: from, To: to})
	err := m.Errors[asset.ID]
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	var bars []model.Bar
	for d := model.Day(from); !d.After(model.Day(to)); d = d.AddDate(0, 0, 1) {
		bars = append(bars, m.bar(asset.ID, d))
	}
	return bars, nil
}

// Calls returns the recorded FetchRange invocations.
func (m *MockFetcher) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockCall(nil), m.calls...)
}

func (m *MockFetcher) bar(id string, d time.Time) model.Bar {
	drift := 0.001
	if v, ok := m.Drift[id]; ok {
		drift = v
	}
	i := d.Sub(mockEpoch).Hours() / 24
	p := 100 * (1 + drift*i) * (1 + 0.01*math.Sin(i/3))
	return model.Bar{
		Date:     d,
		Open:     p * 0.999,
		High:     p * 1.005,
		Low:      p * 0.995,
		Close:    p,
		HasRange: true,
	}
}
