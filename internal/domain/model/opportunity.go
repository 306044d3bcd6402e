package model

import (
	"sort"
	"strings"
	"time"
)

// ========== Strategy Kinds ==========

// StrategyKind 套利策略类型
type StrategyKind string

const (
	StrategyCrossExchange StrategyKind = "cross_exchange" // 跨所资金费率套利
	StrategyExtremeRate   StrategyKind = "extreme_rate"   // 单所极端费率套利（现货对冲）
	StrategyBasis         StrategyKind = "basis"          // 期现基差套利
	StrategyTriangular    StrategyKind = "triangular"     // 三角套利
	StrategyStatistical   StrategyKind = "statistical"    // 统计套利（均值回归）
)

// AllStrategyKinds 全部策略类型，顺序固定
func AllStrategyKinds() []StrategyKind {
	return []StrategyKind{
		StrategyCrossExchange,
		StrategyExtremeRate,
		StrategyBasis,
		StrategyTriangular,
		StrategyStatistical,
	}
}

// Side 持仓方向
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Opposite 反方向，平仓与对冲用
func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// RiskLevel 风险等级
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Market type constants
const (
	MarketPerpetual = "perpetual"
	MarketSpot      = "spot"
)

// ========== Opportunity ==========

// Leg 组合仓位中的一条腿
type Leg struct {
	Exchange string  `json:"exchange"`
	Symbol   string  `json:"symbol"`
	Market   string  `json:"market"` // perpetual, spot
	Side     Side    `json:"side"`
	Notional float64 `json:"notional"` // 名义规模（美元）
}

// ArbitrageOpportunity 套利机会，检测产出后只读
// 至少两条腿且多空名义近似对冲；过期后只能丢弃，不允许执行
type ArbitrageOpportunity struct {
	ID               string       `json:"id"` // 确定性ID：同一快照集重复检测得到同一ID
	Strategy         StrategyKind `json:"strategy"`
	Symbol           string       `json:"symbol"`
	Legs             []Leg        `json:"legs"`
	ExpectedProfit   float64      `json:"expected_profit"`    // 预期净利润（美元，按持有周期）
	ExpectedRateDiff float64      `json:"expected_rate_diff"` // 费率差或价格偏离度
	Priority         int          `json:"priority"`           // 0-10
	Confidence       float64      `json:"confidence"`         // 信心度 (0-1)
	RiskLevel        RiskLevel    `json:"risk_level"`
	CreatedAt        int64        `json:"ts_ms"`
	ExpiresAt        int64        `json:"expires_at"`          // 过期时间戳（毫秒）
	SettleAt         int64        `json:"settle_at,omitempty"` // 下次资金费结算（毫秒），费率类策略专有
}

// Notional 敞口占用：多空两侧名义规模取较大一侧
func (o *ArbitrageOpportunity) Notional() float64 {
	var long, short float64
	for _, leg := range o.Legs {
		if leg.Side == SideLong {
			long += leg.Notional
		} else {
			short += leg.Notional
		}
	}
	if long > short {
		return long
	}
	return short
}

// Expired 是否已过期
func (o *ArbitrageOpportunity) Expired(now time.Time) bool {
	return o.ExpiresAt < now.UnixMilli()
}

// Hedged 多空名义是否近似对冲（容差 1%）
func (o *ArbitrageOpportunity) Hedged() bool {
	var long, short float64
	for _, leg := range o.Legs {
		if leg.Side == SideLong {
			long += leg.Notional
		} else {
			short += leg.Notional
		}
	}
	gross := long + short
	if gross == 0 {
		return false
	}
	delta := long - short
	if delta < 0 {
		delta = -delta
	}
	return delta/gross <= 0.01
}

// DedupKey 同一检测周期内合并重复机会的键（策略 + 腿组合，与腿顺序无关）
func (o *ArbitrageOpportunity) DedupKey() string {
	parts := make([]string, 0, len(o.Legs))
	for _, leg := range o.Legs {
		parts = append(parts, leg.Exchange+"/"+leg.Market+"/"+leg.Symbol+"/"+string(leg.Side))
	}
	sort.Strings(parts)
	return string(o.Strategy) + "|" + strings.Join(parts, "|")
}
