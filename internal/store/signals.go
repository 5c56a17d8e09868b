package store

import (
	"encoding/csv"
	"io"

	"MomentumSentinel/internal/model"
)

var signalHeader = []string{
	"date", "ma_short", "ma_long", "rs_ma_short", "rs_ma_long",
	"trend", "momentum", "rs_bull", "weight", "stop_price", "position_size",
	"confidence_mode",
}

// SignalFilename names the signal output of a series file.
func SignalFilename(seriesFilename string) string {
	return "signals_" + seriesFilename
}

// WriteSignals writes signal records as CSV. RS columns are empty on dates
// without a baseline bar.
func WriteSignals(w io.Writer, records []model.SignalRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(signalHeader); err != nil {
		return err
	}
	for _, r := range records {
		rsShort, rsLong := "", ""
		if r.HasRS {
			rsShort, rsLong = formatNumber(r.RSMAShort), formatNumber(r.RSMALong)
		}
		row := []string{
			formatDate(r.Date),
			formatNumber(r.MAShort),
			formatNumber(r.MALong),
			rsShort,
			rsLong,
			formatBool(r.Trend),
			formatBool(r.Momentum),
			formatBool(r.RSBull),
			formatNumber(r.Weight),
			formatNumber(r.StopPrice),
			formatNumber(r.PositionSize),
			string(r.ConfidenceMode),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// SaveSignals atomically writes a signal file.
func SaveSignals(path string, records []model.SignalRecord) error {
	return WriteFileAtomic(path, func(w io.Writer) error {
		return WriteSignals(w, records)
	})
}
