package collector

import (
	"context"
	"time"

	"MomentumSentinel/internal/model"
)

// Fetcher is an upstream market-data provider.
type Fetcher interface {
	Name() string
	// ListTop returns up to n assets ordered by market cap, largest first.
	ListTop(ctx context.Context, n int) ([]model.Asset, error)
	// FetchRange returns daily bars with dates in [from, to]. The span must
	// not exceed MaxRangeDays.
	FetchRange(ctx context.Context, asset model.Asset, from, to time.Time) ([]model.Bar, error)
	MaxRangeDays() int
}
