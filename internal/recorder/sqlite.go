package recorder

import (
	"database/sql"
	"fmt"
	"math"
	"sync"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// SQLiteRecorder persists cycle history to a SQLite database.
type SQLiteRecorder struct {
	db  *sql.DB
	mu  sync.Mutex
	log zerolog.Logger
}

// NewSQLiteRecorder opens (or creates) the SQLite database and runs migrations.
func NewSQLiteRecorder(dbPath string, log zerolog.Logger) (*SQLiteRecorder, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL lets dashboards read while a cycle writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	r := &SQLiteRecorder{db: db, log: log}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log.Info().Str("path", dbPath).Msg("sqlite recorder opened")
	return r, nil
}

func (r *SQLiteRecorder) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS cycles (
			id            TEXT PRIMARY KEY,
			started_at    INTEGER NOT NULL,
			finished_at   INTEGER NOT NULL,
			state         TEXT NOT NULL,
			error         TEXT,
			assets_ok     INTEGER,
			assets_failed INTEGER,
			cagr          REAL,
			sharpe        REAL,
			max_drawdown  REAL,
			win_rate      REAL,
			profit_factor REAL,
			trading_days  INTEGER,
			final_equity  REAL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cycles_started ON cycles(started_at)`,

		`CREATE TABLE IF NOT EXISTS asset_fetches (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			cycle_id  TEXT NOT NULL REFERENCES cycles(id),
			asset_id  TEXT NOT NULL,
			symbol    TEXT,
			status    TEXT NOT NULL,
			new_bars  INTEGER,
			last_date TEXT,
			error     TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_fetches_cycle ON asset_fetches(cycle_id)`,
	}

	for _, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return fmt.Errorf("exec %q: %w", s[:40], err)
		}
	}
	return nil
}

// RecordCycle writes the cycle and its per-asset rows in one transaction.
func (r *SQLiteRecorder) RecordCycle(rec *CycleRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var m MetricsRecord
	hasMetrics := rec.Metrics != nil
	if hasMetrics {
		m = *rec.Metrics
	}
	_, err = tx.Exec(`INSERT INTO cycles
		(id, started_at, finished_at, state, error, assets_ok, assets_failed,
		 cagr, sharpe, max_drawdown, win_rate, profit_factor, trading_days, final_equity)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		rec.ID, rec.StartedAt.Unix(), rec.FinishedAt.Unix(), rec.State, rec.Error,
		rec.AssetsOK, rec.AssetsFailed,
		nullable(hasMetrics, m.CAGR), nullable(hasMetrics, m.Sharpe), nullable(hasMetrics, m.MaxDrawdown),
		nullable(hasMetrics, m.WinRate), nullable(hasMetrics, m.ProfitFactor),
		m.TradingDays, nullable(hasMetrics, m.FinalEquity),
	)
	if err != nil {
		return fmt.Errorf("insert cycle: %w", err)
	}

	for _, f := range rec.Fetches {
		if _, err := tx.Exec(`INSERT INTO asset_fetches
			(cycle_id, asset_id, symbol, status, new_bars, last_date, error)
			VALUES (?,?,?,?,?,?,?)`,
			rec.ID, f.AssetID, f.Symbol, f.Status, f.NewBars, f.LastDate, f.Error,
		); err != nil {
			return fmt.Errorf("insert fetch %s: %w", f.AssetID, err)
		}
	}
	return tx.Commit()
}

// nullable stores NULL for absent or non-finite values.
func nullable(ok bool, v float64) any {
	if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return v
}

func (r *SQLiteRecorder) Close() error {
	r.log.Info().Msg("closing sqlite recorder")
	return r.db.Close()
}
