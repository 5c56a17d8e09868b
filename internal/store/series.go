package store

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"MomentumSentinel/internal/model"
)

// ErrCorrupt marks persisted data that cannot be parsed or violates ordering.
var ErrCorrupt = errors.New("corrupt persisted data")

var barHeader = []string{"date", "open", "high", "low", "close"}

// SeriesStore reads and writes per-asset bar CSVs under Dir.
type SeriesStore struct {
	Dir string
}

// NewSeriesStore creates a store rooted at dir.
func NewSeriesStore(dir string) *SeriesStore {
	return &SeriesStore{Dir: dir}
}

// Path returns the absolute location of a series file.
func (s *SeriesStore) Path(filename string) string {
	return filepath.Join(s.Dir, filename)
}

// Filename is the on-disk name for an asset. The baseline keeps its bare
// symbol so it is easy to find; others carry their upstream id.
func Filename(a model.Asset, baseline bool) string {
	sym := strings.ToUpper(a.Symbol)
	if baseline {
		return sym + ".csv"
	}
	return fmt.Sprintf("%s_%s.csv", sym, a.ID)
}

// Load reads a series. A missing file yields (nil, os.ErrNotExist).
func (s *SeriesStore) Load(filename string) ([]model.Bar, error) {
	f, err := os.Open(s.Path(filename))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	bars, err := ReadBars(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return bars, nil
}

// Save atomically replaces the series file.
func (s *SeriesStore) Save(filename string, bars []model.Bar) error {
	return WriteFileAtomic(s.Path(filename), func(w io.Writer) error {
		return WriteBars(w, bars)
	})
}

// ReadBars parses a bar CSV. Rows must be strictly increasing by date.
func ReadBars(r io.Reader) ([]model.Bar, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(barHeader)
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	if strings.Join(rows[0], ",") != strings.Join(barHeader, ",") {
		return nil, fmt.Errorf("%w: unexpected header %v", ErrCorrupt, rows[0])
	}
	bars := make([]model.Bar, 0, len(rows)-1)
	for i, row := range rows[1:] {
		b, err := parseBar(row)
		if err != nil {
			return nil, fmt.Errorf("%w: row %d: %v", ErrCorrupt, i+2, err)
		}
		if n := len(bars); n > 0 && !b.Date.After(bars[n-1].Date) {
			return nil, fmt.Errorf("%w: row %d: date %s not after %s", ErrCorrupt, i+2, formatDate(b.Date), formatDate(bars[n-1].Date))
		}
		bars = append(bars, b)
	}
	return bars, nil
}

func parseBar(row []string) (model.Bar, error) {
	var b model.Bar
	var err error
	if b.Date, err = parseDate(row[0]); err != nil {
		return b, err
	}
	if b.Open, err = parseNumber(row[1]); err != nil {
		return b, fmt.Errorf("open: %w", err)
	}
	if b.Close, err = parseNumber(row[4]); err != nil {
		return b, fmt.Errorf("close: %w", err)
	}
	if row[2] != "" && row[3] != "" {
		if b.High, err = parseNumber(row[2]); err != nil {
			return b, fmt.Errorf("high: %w", err)
		}
		if b.Low, err = parseNumber(row[3]); err != nil {
			return b, fmt.Errorf("low: %w", err)
		}
		b.HasRange = true
	}
	return b, nil
}

// WriteBars writes bars in the persisted CSV layout.
func WriteBars(w io.Writer, bars []model.Bar) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(barHeader); err != nil {
		return err
	}
	for _, b := range bars {
		high, low := "", ""
		if b.HasRange {
			high, low = formatNumber(b.High), formatNumber(b.Low)
		}
		if err := cw.Write([]string{formatDate(b.Date), formatNumber(b.Open), high, low, formatNumber(b.Close)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Merge combines persisted and freshly fetched bars into one strictly
// increasing series. For a repeated date the last-seen bar wins, and
// incoming bars are seen after existing ones.
func Merge(existing, incoming []model.Bar) []model.Bar {
	byDate := make(map[time.Time]model.Bar, len(existing)+len(incoming))
	for _, b := range existing {
		b.Date = model.Day(b.Date)
		byDate[b.Date] = b
	}
	for _, b := range incoming {
		b.Date = model.Day(b.Date)
		byDate[b.Date] = b
	}
	out := make([]model.Bar, 0, len(byDate))
	for _, b := range byDate {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}
