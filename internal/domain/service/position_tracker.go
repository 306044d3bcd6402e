package service

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"fundarb/internal/domain/model"
)

// ========== 持仓退出策略 ==========

// ExitPolicy 持仓退出策略
type ExitPolicy struct {
	MaxHoldDuration time.Duration // 最长持有时长，超时强制平仓
	StopLossPct     float64       // 止损阈值（浮亏占名义本金比例，正数）
	TakeProfitPct   float64       // 止盈阈值（浮盈占名义本金比例）
}

// DefaultExitPolicy 返回默认退出策略
func DefaultExitPolicy() ExitPolicy {
	return ExitPolicy{
		MaxHoldDuration: 24 * time.Hour,
		StopLossPct:     0.02,
		TakeProfitPct:   0.01,
	}
}

// 平仓原因
const (
	CloseReasonTakeProfit = "take_profit"
	CloseReasonStopLoss   = "stop_loss"
	CloseReasonMaxHold    = "max_hold"
	CloseReasonSettlement = "settlement" // 资金费已结算，套利目的达成
	CloseReasonManual     = "manual"
)

// ========== 持仓跟踪器 ==========

// PositionTracker 持仓跟踪器。持仓在终态（CLOSED/FAILED）之前由跟踪器独占持有，
// 所有状态迁移都经过它，保证每笔持仓的盈亏只上报一次。
type PositionTracker struct {
	mu        sync.Mutex
	policy    ExitPolicy
	positions map[string]*model.Position
	newID     func() string
}

// NewPositionTracker 创建持仓跟踪器
func NewPositionTracker(policy ExitPolicy) *PositionTracker {
	if policy.MaxHoldDuration <= 0 {
		policy.MaxHoldDuration = DefaultExitPolicy().MaxHoldDuration
	}
	return &PositionTracker{
		policy:    policy,
		positions: make(map[string]*model.Position),
		newID:     func() string { return uuid.NewString() },
	}
}

// Open 根据执行结果开仓。逐腿匹配成交回报：全部成交则进入 OPEN，
// 任何一条腿未成交则直接进入 FAILED 终态，已成交的腿等待反向对冲。
func (t *PositionTracker) Open(req *model.ExecutionRequest, res *model.ExecutionResult, now time.Time) *model.Position {
	t.mu.Lock()
	defer t.mu.Unlock()

	pos := &model.Position{
		ID:            t.newID(),
		OpportunityID: req.OpportunityID,
		Strategy:      req.Strategy,
		Symbol:        req.Symbol,
		Status:        model.PositionOpen,
		OpenedAt:      now.UnixMilli(),
		SettleAt:      req.SettleAt,
	}

	allFilled := true
	for _, leg := range req.Legs {
		pl := model.PositionLeg{Leg: leg}
		if fill := matchFill(res.Fills, leg); fill != nil {
			pl.EntryPrice = fill.Price
			pl.Quantity = fill.Quantity
			pl.EntryFee = fill.Fee
			pl.Filled = true
		} else {
			allFilled = false
		}
		pos.Legs = append(pos.Legs, pl)
	}
	pos.Notional = notionalOfLegs(req.Legs)

	if !allFilled {
		pos.Status = model.PositionFailed
		pos.ClosingReason = "partial fill, unwind required"
		pos.ClosedAt = now.UnixMilli()
	}

	t.positions[pos.ID] = pos
	return snapshotPosition(pos)
}

// MarkClosing 将 OPEN 持仓标记为 CLOSING（平仓中）
func (t *PositionTracker) MarkClosing(id, reason string, now time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	pos, ok := t.positions[id]
	if !ok {
		return model.ErrPositionNotFound
	}
	if pos.Status != model.PositionOpen {
		return fmt.Errorf("position %s in state %s, cannot mark closing", id, pos.Status)
	}
	pos.Status = model.PositionClosing
	pos.ClosingReason = reason
	return nil
}

// Close 用平仓成交回报结算持仓并迁移到 CLOSED 终态。
// 已处于终态的持仓返回错误，保证盈亏不会重复结算。
func (t *PositionTracker) Close(id string, exitFills []model.Fill, now time.Time) (*model.Position, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	pos, ok := t.positions[id]
	if !ok {
		return nil, model.ErrPositionNotFound
	}
	if pos.Terminal() {
		return nil, fmt.Errorf("position %s already %s, pnl settled", id, pos.Status)
	}

	var pnl float64
	for i := range pos.Legs {
		pl := &pos.Legs[i]
		if !pl.Filled {
			continue
		}
		// 平仓单方向与持仓腿相反
		probe := pl.Leg
		probe.Side = probe.Side.Opposite()
		fill := matchFill(exitFills, probe)
		if fill == nil {
			continue
		}
		pl.ExitPrice = fill.Price
		switch pl.Side {
		case model.SideLong:
			pnl += (fill.Price - pl.EntryPrice) * pl.Quantity
		case model.SideShort:
			pnl += (pl.EntryPrice - fill.Price) * pl.Quantity
		}
		pnl -= pl.EntryFee + fill.Fee
	}

	pos.Status = model.PositionClosed
	pos.RealizedPnl = pnl
	pos.ClosedAt = now.UnixMilli()
	if pos.ClosingReason == "" {
		pos.ClosingReason = CloseReasonManual
	}
	return snapshotPosition(pos), nil
}

// SweepDue 扫描 OPEN 持仓，命中止盈/止损/资金费结算/超时条件的标记为 CLOSING 并返回，
// 由调用方下平仓单。priceOf 提供各腿当前标记价，取不到价的腿跳过盈亏估算。
func (t *PositionTracker) SweepDue(now time.Time, priceOf func(exchange, symbol string) (float64, bool)) []*model.Position {
	t.mu.Lock()
	defer t.mu.Unlock()

	var due []*model.Position
	for _, pos := range t.positions {
		if pos.Status != model.PositionOpen {
			continue
		}
		reason := t.exitReason(pos, now, priceOf)
		if reason == "" {
			continue
		}
		pos.Status = model.PositionClosing
		pos.ClosingReason = reason
		due = append(due, snapshotPosition(pos))
	}
	return due
}

func (t *PositionTracker) exitReason(pos *model.Position, now time.Time, priceOf func(exchange, symbol string) (float64, bool)) string {
	if pos.HoldingDuration(now) >= t.policy.MaxHoldDuration {
		return CloseReasonMaxHold
	}
	// 费率类持仓在结算过后即完成收款，无需等到超时
	if pos.SettleAt > 0 && now.UnixMilli() >= pos.SettleAt {
		return CloseReasonSettlement
	}
	if priceOf == nil || pos.Notional <= 0 {
		return ""
	}

	var unrealized float64
	for _, pl := range pos.Legs {
		if !pl.Filled {
			continue
		}
		price, ok := priceOf(pl.Exchange, pl.Symbol)
		if !ok {
			return "" // 缺价不做盈亏判断，等下一轮
		}
		switch pl.Side {
		case model.SideLong:
			unrealized += (price - pl.EntryPrice) * pl.Quantity
		case model.SideShort:
			unrealized += (pl.EntryPrice - price) * pl.Quantity
		}
	}

	pct := unrealized / pos.Notional
	if t.policy.TakeProfitPct > 0 && pct >= t.policy.TakeProfitPct {
		return CloseReasonTakeProfit
	}
	if t.policy.StopLossPct > 0 && pct <= -t.policy.StopLossPct {
		return CloseReasonStopLoss
	}
	return ""
}

// Closing 返回处于 CLOSING 状态的持仓快照，平仓失败后由调用方重试
func (t *PositionTracker) Closing() []*model.Position {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []*model.Position
	for _, pos := range t.positions {
		if pos.Status == model.PositionClosing {
			out = append(out, snapshotPosition(pos))
		}
	}
	return out
}

// Get 返回持仓快照
func (t *PositionTracker) Get(id string) (*model.Position, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	pos, ok := t.positions[id]
	if !ok {
		return nil, false
	}
	return snapshotPosition(pos), true
}

// OpenPositions 返回所有未到终态的持仓快照
func (t *PositionTracker) OpenPositions() []*model.Position {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []*model.Position
	for _, pos := range t.positions {
		if pos.Terminal() {
			continue
		}
		out = append(out, snapshotPosition(pos))
	}
	return out
}

// ========== 辅助函数 ==========

// matchFill 按交易所+市场+交易对+方向匹配成交回报
func matchFill(fills []model.Fill, leg model.Leg) *model.Fill {
	for i := range fills {
		f := &fills[i]
		if f.Exchange == leg.Exchange && f.Symbol == leg.Symbol &&
			f.Market == leg.Market && f.Side == leg.Side {
			return f
		}
	}
	return nil
}

// notionalOfLegs 取多空两侧名义本金的较大值
func notionalOfLegs(legs []model.Leg) float64 {
	var long, short float64
	for _, leg := range legs {
		switch leg.Side {
		case model.SideLong:
			long += leg.Notional
		case model.SideShort:
			short += leg.Notional
		}
	}
	if long > short {
		return long
	}
	return short
}

func snapshotPosition(pos *model.Position) *model.Position {
	cp := *pos
	cp.Legs = make([]model.PositionLeg, len(pos.Legs))
	copy(cp.Legs, pos.Legs)
	return &cp
}
