package sqlite

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"fundarb/internal/application/port"
	"fundarb/internal/domain/model"
)

type Repo struct {
	db *sql.DB
}

func New(path string) (*Repo, error) {
	// ensure directory exists
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		_ = os.MkdirAll(dir, 0o755)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	r := &Repo{db: db}
	if err := r.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Repo) Close() error { return r.db.Close() }

func (r *Repo) GetDB() *sql.DB {
	return r.db
}

func (r *Repo) migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS funding_rates (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  exchange TEXT NOT NULL,
  symbol TEXT NOT NULL,
  funding_rate REAL NOT NULL,
  mark_price REAL NOT NULL,
  next_settle_ms INTEGER NOT NULL,
  interval_hours REAL NOT NULL,
  ts_ms INTEGER NOT NULL,
  created_at INTEGER NOT NULL,
  UNIQUE(exchange, symbol)
);
CREATE INDEX IF NOT EXISTS idx_rates_ts ON funding_rates(ts_ms);
CREATE INDEX IF NOT EXISTS idx_rates_symbol ON funding_rates(symbol);

CREATE TABLE IF NOT EXISTS opportunities (
  id TEXT PRIMARY KEY,
  strategy TEXT NOT NULL,
  symbol TEXT NOT NULL,
  legs TEXT NOT NULL,
  expected_profit REAL NOT NULL,
  expected_rate_diff REAL NOT NULL,
  priority INTEGER NOT NULL,
  confidence REAL NOT NULL,
  risk_level TEXT NOT NULL,
  ts_ms INTEGER NOT NULL,
  expires_at INTEGER NOT NULL,
  created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_opps_strategy ON opportunities(strategy);
CREATE INDEX IF NOT EXISTS idx_opps_ts ON opportunities(ts_ms);

CREATE TABLE IF NOT EXISTS executions (
  request_id TEXT PRIMARY KEY,
  backend TEXT NOT NULL,
  status TEXT NOT NULL,
  fills TEXT NOT NULL,
  profit REAL NOT NULL,
  latency_ms INTEGER NOT NULL,
  error_detail TEXT,
  ts_ms INTEGER NOT NULL,
  created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_exec_status ON executions(status);
CREATE INDEX IF NOT EXISTS idx_exec_ts ON executions(ts_ms);

CREATE TABLE IF NOT EXISTS positions (
  id TEXT PRIMARY KEY,
  opportunity_id TEXT NOT NULL,
  strategy TEXT NOT NULL,
  symbol TEXT NOT NULL,
  legs TEXT NOT NULL,
  status TEXT NOT NULL,
  notional REAL NOT NULL,
  realized_pnl REAL,
  closing_reason TEXT,
  opened_at INTEGER NOT NULL,
  settle_at INTEGER,
  closed_at INTEGER,
  created_at INTEGER NOT NULL,
  updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_pos_status ON positions(status);
CREATE INDEX IF NOT EXISTS idx_pos_symbol ON positions(symbol);
CREATE INDEX IF NOT EXISTS idx_pos_time ON positions(opened_at);
`)
	return err
}

// SaveRateSnapshot 每个 (exchange, symbol) 只保留最新一条
func (r *Repo) SaveRateSnapshot(ctx context.Context, snap *model.RateSnapshot) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO funding_rates(exchange, symbol, funding_rate, mark_price, next_settle_ms, interval_hours, ts_ms, created_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(exchange, symbol) DO UPDATE SET
		funding_rate=excluded.funding_rate, mark_price=excluded.mark_price,
		next_settle_ms=excluded.next_settle_ms, interval_hours=excluded.interval_hours, ts_ms=excluded.ts_ms
	`, snap.Exchange, snap.Symbol, snap.FundingRate, snap.MarkPrice, snap.NextSettlement,
		snap.IntervalHours, snap.CapturedAt, time.Now().UnixMilli())
	return err
}

func (r *Repo) LatestRate(ctx context.Context, exchange, symbol string) (*model.RateSnapshot, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT exchange, symbol, funding_rate, mark_price, next_settle_ms, interval_hours, ts_ms
		FROM funding_rates
		WHERE exchange=? AND symbol=?
	`, exchange, symbol)

	var snap model.RateSnapshot
	err := row.Scan(&snap.Exchange, &snap.Symbol, &snap.FundingRate, &snap.MarkPrice,
		&snap.NextSettlement, &snap.IntervalHours, &snap.CapturedAt)
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

var _ port.Repository = (*Repo)(nil)
