package model

import "time"

// ========== Positions ==========

// PositionStatus 持仓状态
type PositionStatus string

const (
	PositionOpen    PositionStatus = "OPEN"
	PositionClosing PositionStatus = "CLOSING"
	PositionClosed  PositionStatus = "CLOSED"
	PositionFailed  PositionStatus = "FAILED" // 任一腿未成交，已成交腿需回撤
)

// PositionLeg 持仓腿，含实际成交信息
type PositionLeg struct {
	Leg
	EntryPrice float64 `json:"entry_price"` // 实际入场均价
	ExitPrice  float64 `json:"exit_price,omitempty"`
	Quantity   float64 `json:"quantity"`
	EntryFee   float64 `json:"entry_fee,omitempty"`
	Filled     bool    `json:"filled"`
}

// Position 多腿对冲持仓
// OPEN → CLOSING → CLOSED，或任一腿缺口时直接 FAILED
type Position struct {
	ID            string         `json:"id"`
	OpportunityID string         `json:"opportunity_id"`
	Strategy      StrategyKind   `json:"strategy"`
	Symbol        string         `json:"symbol"`
	Legs          []PositionLeg  `json:"legs"`
	Status        PositionStatus `json:"status"`
	Notional      float64        `json:"notional"` // 占用敞口（美元）
	RealizedPnl   float64        `json:"realized_pnl,omitempty"`
	ClosingReason string         `json:"closing_reason,omitempty"` // 平仓原因
	OpenedAt      int64          `json:"opened_at"`
	SettleAt      int64          `json:"settle_at,omitempty"` // 下次资金费结算（毫秒），到时触发平仓
	ClosedAt      int64          `json:"closed_at,omitempty"`
}

// Terminal 是否已到终态（CLOSED / FAILED）
func (p *Position) Terminal() bool {
	return p.Status == PositionClosed || p.Status == PositionFailed
}

// HoldingDuration 持仓时长
func (p *Position) HoldingDuration(now time.Time) time.Duration {
	return now.Sub(time.UnixMilli(p.OpenedAt))
}

// FullyFilled 全部腿是否成交
func (p *Position) FullyFilled() bool {
	if len(p.Legs) == 0 {
		return false
	}
	for _, leg := range p.Legs {
		if !leg.Filled {
			return false
		}
	}
	return true
}
