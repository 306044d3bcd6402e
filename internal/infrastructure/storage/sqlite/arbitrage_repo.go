package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"fundarb/internal/domain/model"
)

// SaveOpportunity 保存套利机会。确定性 ID 在重复检测时冲突，覆盖时间戳即可
func (r *Repo) SaveOpportunity(ctx context.Context, opp *model.ArbitrageOpportunity) error {
	legs, err := json.Marshal(opp.Legs)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO opportunities(
			id, strategy, symbol, legs, expected_profit, expected_rate_diff,
			priority, confidence, risk_level, ts_ms, expires_at, created_at
		) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		ts_ms=excluded.ts_ms, expires_at=excluded.expires_at
	`, opp.ID, string(opp.Strategy), opp.Symbol, string(legs), opp.ExpectedProfit, opp.ExpectedRateDiff,
		opp.Priority, opp.Confidence, string(opp.RiskLevel), opp.CreatedAt, opp.ExpiresAt, time.Now().UnixMilli())
	return err
}

// ListOpportunities 按策略检索，strategy 为空时返回全部
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
		query += ` WHERE strategy=?`
		args = append(args, string(strategy))
	}
	query += ` ORDER BY ts_ms DESC LIMIT ?`
	args = append(args, limit)

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

// SaveExecution 保存执行结果，重复 request_id 覆盖
func (r *Repo) SaveExecution(ctx context.Context, res *model.ExecutionResult) error {
	fills, err := json.Marshal(res.Fills)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO executions(
			request_id, backend, status, fills, profit, latency_ms, error_detail, ts_ms, created_at
		) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(request_id) DO UPDATE SET
		backend=excluded.backend, status=excluded.status, fills=excluded.fills,
		profit=excluded.profit, latency_ms=excluded.latency_ms,
		error_detail=excluded.error_detail, ts_ms=excluded.ts_ms
	`, res.RequestID, string(res.Backend), string(res.Status), string(fills), res.Profit,
		res.LatencyMs, res.ErrorDetail, res.CompletedAt, time.Now().UnixMilli())
	return err
}

// SavePosition 创建持仓记录
func (r *Repo) SavePosition(ctx context.Context, pos *model.Position) error {
	legs, err := json.Marshal(pos.Legs)
	if err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO positions(
			id, opportunity_id, strategy, symbol, legs, status, notional,
			realized_pnl, closing_reason, opened_at, settle_at, closed_at, created_at, updated_at
		) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, pos.ID, pos.OpportunityID, string(pos.Strategy), pos.Symbol, string(legs), string(pos.Status),
		pos.Notional, pos.RealizedPnl, pos.ClosingReason, pos.OpenedAt, nullableMs(pos.SettleAt), nullableMs(pos.ClosedAt), now, now)
	return err
}

// UpdatePosition 更新持仓状态与平仓数据
func (r *Repo) UpdatePosition(ctx context.Context, pos *model.Position) error {
	legs, err := json.Marshal(pos.Legs)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		UPDATE positions SET
			legs=?, status=?, realized_pnl=?, closing_reason=?, closed_at=?, updated_at=?
		WHERE id=?
	`, string(legs), string(pos.Status), pos.RealizedPnl, pos.ClosingReason,
		nullableMs(pos.ClosedAt), time.Now().UnixMilli(), pos.ID)
	return err
}

func (r *Repo) GetPosition(ctx context.Context, id string) (*model.Position, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, opportunity_id, strategy, symbol, legs, status, notional,
		       realized_pnl, closing_reason, opened_at, settle_at, closed_at
		FROM positions
		WHERE id=?
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
		WHERE status IN (?, ?)
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
