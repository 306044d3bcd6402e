package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"fundarb/internal/application/port"
	"fundarb/internal/domain/model"
)

type Repo struct {
	db *sql.DB
}

func New(dsn string) (*Repo, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	r := &Repo{db: db}
	if err := r.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Repo) Close() error { return r.db.Close() }

func (r *Repo) migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS funding_rates (
  exchange TEXT NOT NULL,
  symbol TEXT NOT NULL,
  funding_rate DOUBLE PRECISION NOT NULL,
  mark_price DOUBLE PRECISION NOT NULL,
  next_settle_ms BIGINT NOT NULL,
  interval_hours DOUBLE PRECISION NOT NULL,
  ts_ms BIGINT NOT NULL,
  PRIMARY KEY(exchange, symbol)
);

CREATE TABLE IF NOT EXISTS opportunities (
  id TEXT PRIMARY KEY,
  strategy TEXT NOT NULL,
  symbol TEXT NOT NULL,
  legs JSONB NOT NULL,
  expected_profit DOUBLE PRECISION NOT NULL,
  expected_rate_diff DOUBLE PRECISION NOT NULL,
  priority INTEGER NOT NULL,
  confidence DOUBLE PRECISION NOT NULL,
  risk_level TEXT NOT NULL,
  ts_ms BIGINT NOT NULL,
  expires_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_opps_strategy ON opportunities(strategy);
CREATE INDEX IF NOT EXISTS idx_opps_ts ON opportunities(ts_ms);

CREATE TABLE IF NOT EXISTS executions (
  request_id TEXT PRIMARY KEY,
  backend TEXT NOT NULL,
  status TEXT NOT NULL,
  fills JSONB NOT NULL,
  profit DOUBLE PRECISION NOT NULL,
  latency_ms BIGINT NOT NULL,
  error_detail TEXT,
  ts_ms BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_exec_ts ON executions(ts_ms);

CREATE TABLE IF NOT EXISTS positions (
  id TEXT PRIMARY KEY,
  opportunity_id TEXT NOT NULL,
  strategy TEXT NOT NULL,
  symbol TEXT NOT NULL,
  legs JSONB NOT NULL,
  status TEXT NOT NULL,
  notional DOUBLE PRECISION NOT NULL,
  realized_pnl DOUBLE PRECISION,
  closing_reason TEXT,
  opened_at BIGINT NOT NULL,
  settle_at BIGINT,
  closed_at BIGINT,
  updated_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_pos_status ON positions(status);
`)
	return err
}

func (r *Repo) SaveRateSnapshot(ctx context.Context, snap *model.RateSnapshot) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO funding_rates(exchange, symbol, funding_rate, mark_price, next_settle_ms, interval_hours, ts_ms)
		VALUES($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT(exchange, symbol) DO UPDATE SET
		funding_rate=excluded.funding_rate, mark_price=excluded.mark_price,
		next_settle_ms=excluded.next_settle_ms, interval_hours=excluded.interval_hours, ts_ms=excluded.ts_ms
	`, snap.Exchange, snap.Symbol, snap.FundingRate, snap.MarkPrice, snap.NextSettlement, snap.IntervalHours, snap.CapturedAt)
	return err
}

func (r *Repo) LatestRate(ctx context.Context, exchange, symbol string) (*model.RateSnapshot, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT exchange, symbol, funding_rate, mark_price, next_settle_ms, interval_hours, ts_ms
		FROM funding_rates WHERE exchange=$1 AND symbol=$2
	`, exchange, symbol)

	var snap model.RateSnapshot
	err := row.Scan(&snap.Exchange, &snap.Symbol, &snap.FundingRate, &snap.MarkPrice,
		&snap.NextSettlement, &snap.IntervalHours, &snap.CapturedAt)
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

func (r *Repo) SaveOpportunity(ctx context.Context, opp *model.ArbitrageOpportunity) error {
	legs, err := json.Marshal(opp.Legs)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO opportunities(
			id, strategy, symbol, legs, expected_profit, expected_rate_diff,
			priority, confidence, risk_level, ts_ms, expires_at
		) VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT(id) DO UPDATE SET ts_ms=excluded.ts_ms, expires_at=excluded.expires_at
	`, opp.ID, string(opp.Strategy), opp.Symbol, string(legs), opp.ExpectedProfit, opp.ExpectedRateDiff,
		opp.Priority, opp.Confidence, string(opp.RiskLevel), opp.CreatedAt, opp.ExpiresAt)
	return err
}

func (r *Repo) ListOpportunities(ctx context.Context, strategy model.StrategyKind, limit int) ([]*model.ArbitrageOpportunity, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, strategy, symbol, legs, expected_profit, expected_rate_diff,
		       priority, confidence, risk_level, ts_ms, expires_at
		FROM opportunities
	`
	args := []interface{}{}
	if strategy != "" {
		query += ` WHERE strategy=$1 ORDER BY ts_ms DESC LIMIT $2`
		args = append(args, string(strategy), limit)
	} else {
		query += ` ORDER BY ts_ms DESC LIMIT $1`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var opps []*model.ArbitrageOpportunity
	for rows.Next() {
		var opp model.ArbitrageOpportunity
		var kind, risk, legsJSON string
		if err := rows.Scan(&opp.ID, &kind, &opp.Symbol, &legsJSON, &opp.ExpectedProfit, &opp.ExpectedRateDiff,
			&opp.Priority, &opp.Confidence, &risk, &opp.CreatedAt, &opp.ExpiresAt); err != nil {
			return nil, err
		}
		opp.Strategy = model.StrategyKind(kind)
		opp.RiskLevel = model.RiskLevel(risk)
		if err := json.Unmarshal([]byte(legsJSON), &opp.Legs); err != nil {
			return nil, err
		}
		opps = append(opps, &opp)
	}
	return opps, rows.Err()
}

func (r *Repo) SaveExecution(ctx context.Context, res *model.ExecutionResult) error {
	fills, err := json.Marshal(res.Fills)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO executions(request_id, backend, status, fills, profit, latency_ms, error_detail, ts_ms)
		VALUES($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT(request_id) DO UPDATE SET
		backend=excluded.backend, status=excluded.status, fills=excluded.fills,
		profit=excluded.profit, latency_ms=excluded.latency_ms,
		error_detail=excluded.error_detail, ts_ms=excluded.ts_ms
	`, res.RequestID, string(res.Backend), string(res.Status), string(fills), res.Profit,
		res.LatencyMs, res.ErrorDetail, res.CompletedAt)
	return err
}

func (r *Repo) SavePosition(ctx context.Context, pos *model.Position) error {
	legs, err := json.Marshal(pos.Legs)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO positions(
			id, opportunity_id, strategy, symbol, legs, status, notional,
			realized_pnl, closing_reason, opened_at, settle_at, closed_at, updated_at
		) VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, pos.ID, pos.OpportunityID, string(pos.Strategy), pos.Symbol, string(legs), string(pos.Status),
		pos.Notional, pos.RealizedPnl, pos.ClosingReason, pos.OpenedAt, nullableMs(pos.SettleAt), nullableMs(pos.ClosedAt), time.Now().UnixMilli())
	return err
}

func (r *Repo) UpdatePosition(ctx context.Context, pos *model.Position) error {
	legs, err := json.Marshal(pos.Legs)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		UPDATE positions SET
			legs=$1, status=$2, realized_pnl=$3, closing_reason=$4, closed_at=$5, updated_at=$6
		WHERE id=$7
	`, string(legs), string(pos.Status), pos.RealizedPnl, pos.ClosingReason,
		nullableMs(pos.ClosedAt), time.Now().UnixMilli(), pos.ID)
	return err
}

func (r *Repo) GetPosition(ctx context.Context, id string) (*model.Position, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, opportunity_id, strategy, symbol, legs, status, notional,
		       realized_pnl, closing_reason, opened_at, settle_at, closed_at
		FROM positions WHERE id=$1
	`, id)

	pos, err := scanPosition(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrPositionNotFound
	}
	return pos, err
}

func (r *Repo) ListOpenPositions(ctx context.Context) ([]*model.Position, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, opportunity_id, strategy, symbol, legs, status, notional,
		       realized_pnl, closing_reason, opened_at, settle_at, closed_at
		FROM positions
		WHERE status IN ($1, $2)
		ORDER BY opened_at DESC
	`, string(model.PositionOpen), string(model.PositionClosing))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []*model.Position
	for rows.Next() {
		pos, err := scanPosition(rows.Scan)
		if err != nil {
			return nil, err
		}
		positions = append(positions, pos)
	}
	return positions, rows.Err()
}

func scanPosition(scan func(dest ...interface{}) error) (*model.Position, error) {
	var pos model.Position
	var kind, status, legsJSON string
	var realizedPnl sql.NullFloat64
	var closingReason sql.NullString
	var settleAt, closedAt sql.NullInt64
	err := scan(&pos.ID, &pos.OpportunityID, &kind, &pos.Symbol, &legsJSON, &status, &pos.Notional,
		&realizedPnl, &closingReason, &pos.OpenedAt, &settleAt, &closedAt)
	if err != nil {
		return nil, err
	}
	pos.Strategy = model.StrategyKind(kind)
	pos.Status = model.PositionStatus(status)
	if realizedPnl.Valid {
		pos.RealizedPnl = realizedPnl.Float64
	}
	if closingReason.Valid {
		pos.ClosingReason = closingReason.String
	}
	if settleAt.Valid {
		pos.SettleAt = settleAt.Int64
	}
	if closedAt.Valid {
		pos.ClosedAt = closedAt.Int64
	}
	if err := json.Unmarshal([]byte(legsJSON), &pos.Legs); err != nil {
		return nil, err
	}
	return &pos, nil
}

func nullableMs(ts int64) sql.NullInt64 {
	return sql.NullInt64{Int64: ts, Valid: ts != 0}
}

var _ port.Repository = (*Repo)(nil)
