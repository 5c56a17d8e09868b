package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"MomentumSentinel/internal/model"
)

const (
	coinGeckoPageSize     = 250
	coinGeckoMaxRangeDays = 180
)

// CoinGeckoFetcher implements Fetcher against the CoinGecko Pro REST API.
type CoinGeckoFetcher struct {
	BaseURL    string
	APIKey     string
	VsCurrency string
	Client     *http.Client
}

// NewCoinGeckoFetcher creates a fetcher with optional proxy support.
func NewCoinGeckoFetcher(baseURL, apiKey, vsCurrency, proxyURL string, timeout time.Duration) *CoinGeckoFetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &CoinGeckoFetcher{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		APIKey:     apiKey,
		VsCurrency: vsCurrency,
		Client: &http.Client{
			Timeout:   timeout,
			Transport: proxyTransport(proxyURL),
		},
	}
}

func proxyTransport(proxyURL string) *http.Transport {
	transport := &http.Transport{}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	return transport
}

func (f *CoinGeckoFetcher) Name() string { return "coingecko" }

func (f *CoinGeckoFetcher) MaxRangeDays() int { return coinGeckoMaxRangeDays }

// cgMarket is one row of /coins/markets.
type cgMarket struct {
	ID            string `json:"id"`
	Symbol        string `json:"symbol"`
	MarketCapRank *int   `json:"market_cap_rank"`
}

// ListTop pages through /coins/markets ordered by market cap.
func (f *CoinGeckoFetcher) ListTop(ctx context.Context, n int) ([]model.Asset, error) {
	// The page offset is (page-1)*per_page, so the page size stays fixed.
	perPage := min(n, coinGeckoPageSize)
	var markets []cgMarket
	for page := 1; len(markets) < n; page++ {
		q := url.Values{}
		q.Set("vs_currency", f.VsCurrency)
		q.Set("order", "market_cap_desc")
		q.Set("per_page", fmt.Sprint(perPage))
		q.Set("page", fmt.Sprint(page))
		q.Set("sparkline", "false")

		var batch []cgMarket
		if err := f.getJSON(ctx, "/coins/markets", q, &batch); err != nil {
			return nil, fmt.Errorf("list markets page %d: %w", page, err)
		}
		markets = append(markets, batch...)
		if len(batch) < perPage {
			break
		}
	}

	sort.SliceStable(markets, func(i, j int) bool {
		ri, rj := markets[i].MarketCapRank, markets[j].MarketCapRank
		if ri == nil || rj == nil {
			return ri != nil
		}
		return *ri < *rj
	})
	if len(markets) > n {
		markets = markets[:n]
	}
	assets := make([]model.Asset, 0, len(markets))
	for _, m := range markets {
		assets = append(assets, model.Asset{ID: m.ID, Symbol: strings.ToUpper(m.Symbol)})
	}
	return assets, nil
}

// FetchRange calls /coins/{id}/ohlc/range. Rows must be
// [timestamp_ms, open, high, low, close]; anything else fails the call.
func (f *CoinGeckoFetcher) FetchRange(ctx context.Context, asset model.Asset, from, to time.Time) ([]model.Bar, error) {
	q := url.Values{}
	q.Set("vs_currency", f.VsCurrency)
	q.Set("from", fmt.Sprint(model.Day(from).Unix()))
	q.Set("to", fmt.Sprint(model.Day(to).Add(24*time.Hour-time.Second).Unix()))
	q.Set("interval", "daily")

	var rows []json.RawMessage
	if err := f.getJSON(ctx, "/coins/"+url.PathEscape(asset.ID)+"/ohlc/range", q, &rows); err != nil {
		return nil, err
	}
	bars := make([]model.Bar, 0, len(rows))
	for i, raw := range rows {
		var vals []*float64
		if err := json.Unmarshal(raw, &vals); err != nil || len(vals) != 5 {
			return nil, upstreamErr(f.Name(), KindParse, "%s row %d: expected [ts,o,h,l,c], got %s", asset.ID, i, string(raw))
		}
		for j, v := range vals {
			if v == nil {
				return nil, upstreamErr(f.Name(), KindParse, "%s row %d: null at column %d", asset.ID, i, j)
			}
		}
		bars = append(bars, model.Bar{
			Date:     model.Day(time.UnixMilli(int64(*vals[0]))),
			Open:     *vals[1],
			High:     *vals[2],
			Low:      *vals[3],
			Close:    *vals[4],
			HasRange: true,
		})
	}
	sort.SliceStable(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })
	return bars, nil
}

func (f *CoinGeckoFetcher) getJSON(ctx context.Context, path string, q url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.BaseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if f.APIKey != "" {
		req.Header.Set("x-cg-pro-api-key", f.APIKey)
	}

	resp, err := f.Client.Do(req)
	if err != nil {
		return transportErr(ctx, f.Name(), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return transportErr(ctx, f.Name(), err)
	}
	if resp.StatusCode != http.StatusOK {
		return statusErr(f.Name(), resp, body)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return upstreamErr(f.Name(), KindParse, "decode %s: %v", path, err)
	}
	return nil
}
