package recorder

import (
	"database/sql"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"GridSentinel/internal/model"
)

// SQLiteRecorder persists alert and execution history to a SQLite database.
type SQLiteRecorder struct {
	db  *sql.DB
	mu  sync.Mutex
	log zerolog.Logger
	now func() time.Time
}

// NewSQLiteRecorder opens (or creates) the SQLite database and runs migrations.
func NewSQLiteRecorder(dbPath string, log zerolog.Logger) (*SQLiteRecorder, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL so dashboards can read while the agent writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	r := &SQLiteRecorder{
		db:  db,
		log: log.With().Str("component", "recorder").Logger(),
		now: time.Now,
	}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	r.log.Info().Str("path", dbPath).Msg("sqlite recorder opened")
	return r, nil
}

func (r *SQLiteRecorder) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS alert_events (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp     INTEGER NOT NULL,
			ticker_symbol TEXT NOT NULL,
			remark        TEXT,
			event_type    TEXT NOT NULL,
			price         TEXT,
			trigger_price TEXT,
			buy_level     TEXT,
			sell_level    TEXT,
			profit_pct    REAL,
			percentile    REAL,
			trailing_pe   REAL,
			dividend_yld  REAL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alert_ts ON alert_events(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_alert_symbol ON alert_events(ticker_symbol)`,

		`CREATE TABLE IF NOT EXISTS executions (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp      INTEGER NOT NULL,
			ticker_symbol  TEXT NOT NULL,
			remark         TEXT,
			side           TEXT NOT NULL,
			trigger_price  TEXT,
			actual_price   TEXT,
			new_cost_price TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_exec_ts ON executions(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_exec_symbol ON executions(ticker_symbol)`,
	}

	for _, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return fmt.Errorf("exec %q: %w", s[:40], err)
		}
	}
	return nil
}

// RecordAlert stores a buy or sell alert. Other event types are ignored.
func (r *SQLiteRecorder) RecordAlert(ev model.Event) error {
	if !ev.IsAlert() {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	ts := ev.Sample.FetchedAt
	if ts.IsZero() {
		ts = r.now()
	}

	var profit any
	if ev.Type == model.EventSellAlert && !math.IsInf(ev.ProfitPct, 0) && !math.IsNaN(ev.ProfitPct) {
		profit = ev.ProfitPct
	}

	_, err := r.db.Exec(`INSERT INTO alert_events
		(timestamp, ticker_symbol, remark, event_type, price, trigger_price,
		 buy_level, sell_level, profit_pct, percentile, trailing_pe, dividend_yld)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		ts.Unix(), ev.Asset.TickerSymbol, ev.Asset.Remark, string(ev.Type),
		ev.Sample.Price.String(), ev.Trigger.String(),
		ev.BuyLevel.String(), ev.SellLevel.String(), profit,
		nullable(ev.Sample.Percentile), nullable(ev.Sample.TrailingPE), nullable(ev.Sample.DividendYield),
	)
	if err != nil {
		return fmt.Errorf("insert alert %s: %w", ev.Asset.TickerSymbol, err)
	}
	return nil
}

// RecordExecution stores one confirmed execution.
func (r *SQLiteRecorder) RecordExecution(rec model.TransactionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ts := rec.Timestamp
	if ts.IsZero() {
		ts = r.now()
	}

	_, err := r.db.Exec(`INSERT INTO executions
		(timestamp, ticker_symbol, remark, side, trigger_price, actual_price, new_cost_price)
		VALUES (?,?,?,?,?,?,?)`,
		ts.Unix(), rec.TickerSymbol, rec.Remark, string(rec.Side),
		rec.TriggerPrice.String(), rec.ActualPrice.String(), rec.NewCostPrice.String(),
	)
	if err != nil {
		return fmt.Errorf("insert execution %s: %w", rec.TickerSymbol, err)
	}
	return nil
}

func (r *SQLiteRecorder) Close() error {
	r.log.Info().Msg("closing sqlite recorder")
	return r.db.Close()
}

func nullable(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}
