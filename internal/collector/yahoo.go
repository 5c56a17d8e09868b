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

// YahooFetcher implements Fetcher using the Yahoo Finance chart API with
// SYMBOL-VS crypto tickers. Yahoo has no market-cap listing, so ListTop
// returns the configured universe.
type YahooFetcher struct {
	BaseURL    string
	VsCurrency string
	Assets     []model.Asset
	Client     *http.Client
}

// NewYahooFetcher creates a new Yahoo Finance fetcher.
func NewYahooFetcher(vsCurrency string, assets []model.Asset, proxyURL string, timeout time.Duration) *YahooFetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &YahooFetcher{
		BaseURL:    "https://query1.finance.yahoo.com",
		VsCurrency: vsCurrency,
		Assets:     assets,
		Client: &http.Client{
			Timeout:   timeout,
			Transport: proxyTransport(proxyURL),
		},
	}
}

func (f *YahooFetcher) Name() string { return "yahoo" }

func (f *YahooFetcher) MaxRangeDays() int { return 365 }

func (f *YahooFetcher) ListTop(_ context.Context, n int) ([]model.Asset, error) {
	if n > len(f.Assets) {
		n = len(f.Assets)
	}
	return append([]model.Asset(nil), f.Assets[:n]...), nil
}

func (f *YahooFetcher) ticker(a model.Asset) string {
	return strings.ToUpper(a.Symbol) + "-" + strings.ToUpper(f.VsCurrency)
}

// yahooChart is the response structure from Yahoo Finance chart API.
type yahooChart struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open  []*float64 `json:"open"`
					High  []*float64 `json:"high"`
					Low   []*float64 `json:"low"`
					Close []*float64 `json:"close"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

func (f *YahooFetcher) FetchRange(ctx context.Context, asset model.Asset, from, to time.Time) ([]model.Bar, error) {
	u := fmt.Sprintf("%s/v8/finance/chart/%s?interval=1d&period1=%d&period2=%d",
		strings.TrimRight(f.BaseURL, "/"), url.PathEscape(f.ticker(asset)),
		model.Day(from).Unix(), model.Day(to).Add(24*time.Hour).Unix())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, transportErr(ctx, f.Name(), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportErr(ctx, f.Name(), err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusErr(f.Name(), resp, body)
	}

	var chart yahooChart
	if err := json.Unmarshal(body, &chart); err != nil {
		return nil, upstreamErr(f.Name(), KindParse, "decode chart: %v", err)
	}
	if chart.Chart.Error != nil {
		if chart.Chart.Error.Code == "Not Found" {
			return nil, upstreamErr(f.Name(), KindInvalidAsset, "%s: %s", f.ticker(asset), chart.Chart.Error.Description)
		}
		return nil, upstreamErr(f.Name(), KindParse, "api error: %s", chart.Chart.Error.Description)
	}
	if len(chart.Chart.Result) == 0 {
		return nil, upstreamErr(f.Name(), KindInvalidAsset, "%s: no result", f.ticker(asset))
	}

	result := chart.Chart.Result[0]
	if len(result.Indicators.Quote) == 0 {
		return nil, nil
	}
	quote := result.Indicators.Quote[0]
	n := len(result.Timestamp)
	if len(quote.Open) != n || len(quote.High) != n || len(quote.Low) != n || len(quote.Close) != n {
		return nil, upstreamErr(f.Name(), KindParse, "%s: quote arrays do not match %d timestamps", f.ticker(asset), n)
	}

	bars := make([]model.Bar, 0, n)
	for i, ts := range result.Timestamp {
		if quote.Open[i] == nil || quote.Close[i] == nil {
			continue // null rows
		}
		b := model.Bar{
			Date:  model.Day(time.Unix(ts, 0)),
			Open:  *quote.Open[i],
			Close: *quote.Close[i],
		}
		if quote.High[i] != nil && quote.Low[i] != nil {
			b.High, b.Low, b.HasRange = *quote.High[i], *quote.Low[i], true
		}
		bars = append(bars, b)
	}

	sort.SliceStable(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })
	return bars, nil
}
