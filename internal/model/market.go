package model

import "time"

// Bar is one daily OHLC candle. High and Low are optional; HasRange
// reports whether the upstream supplied them.
type Bar struct {
	Date     time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	HasRange bool
}

// Asset identifies a tradable asset at the upstream and on disk.
type Asset struct {
	ID     string `json:"id"`
	Symbol string `json:"symbol"`
}

// AssetSeries holds the persisted daily bars of one asset, sorted by date
// with no duplicates.
type AssetSeries struct {
	Asset    Asset
	Filename string
	Bars     []Bar
}

// Closes returns the close prices of the series in date order.
func (s *AssetSeries) Closes() []float64 {
	return Closes(s.Bars)
}

// LastDate returns the date of the final bar, or the zero time for an empty series.
func (s *AssetSeries) LastDate() time.Time {
	if len(s.Bars) == 0 {
		return time.Time{}
	}
	return s.Bars[len(s.Bars)-1].Date
}

// Closes extracts close prices from bars.
func Closes(bars []Bar) []float64 {
	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}
	return closes
}

// ManifestEntry describes one persisted series.
type ManifestEntry struct {
	Symbol   string `json:"symbol"`
	ID       string `json:"id"`
	Filename string `json:"filename"`
	LastDate string `json:"last_date,omitempty"`
}

// DateLayout is the calendar-date format used in every persisted file.
const DateLayout = "2006-01-02"

// Day truncates t to its UTC calendar date.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
