package model

import "time"

// ========== Market Snapshots ==========

// RateSnapshot 资金费率快照
// 创建后不可变，同一 (exchange, symbol) 的新快照整体替换旧快照
type RateSnapshot struct {
	Exchange       string  `json:"exchange"`
	Symbol         string  `json:"symbol"`
	FundingRate    float64 `json:"funding_rate"`   // 当期资金费率（按结算周期）
	MarkPrice      float64 `json:"mark_price"`     // 标记价格
	NextSettlement int64   `json:"next_settle_ms"` // 下次结算时间戳（毫秒）
	IntervalHours  float64 `json:"interval_hours"` // 结算周期（小时），缺省 8
	CapturedAt     int64   `json:"ts_ms"`
}

// Key 快照归属键
func (s RateSnapshot) Key() string {
	return s.Exchange + ":" + s.Symbol
}

// Age 距采集时刻的数据年龄
func (s RateSnapshot) Age(now time.Time) time.Duration {
	return now.Sub(time.UnixMilli(s.CapturedAt))
}

// Stale 是否超过允许的最大数据年龄
func (s RateSnapshot) Stale(now time.Time, maxAge time.Duration) bool {
	return s.Age(now) > maxAge
}

// PriceSnapshot 盘口价格快照，不可变性规则同 RateSnapshot
type PriceSnapshot struct {
	Exchange   string  `json:"exchange"`
	Symbol     string  `json:"symbol"`
	Bid        float64 `json:"bid"`
	Ask        float64 `json:"ask"`
	CapturedAt int64   `json:"ts_ms"`
}

// Key 快照归属键
func (s PriceSnapshot) Key() string {
	return s.Exchange + ":" + s.Symbol
}

// Mid 盘口中间价
func (s PriceSnapshot) Mid() float64 {
	return (s.Bid + s.Ask) / 2
}

// Age 距采集时刻的数据年龄
func (s PriceSnapshot) Age(now time.Time) time.Duration {
	return now.Sub(time.UnixMilli(s.CapturedAt))
}

// Stale 是否超过允许的最大数据年龄
func (s PriceSnapshot) Stale(now time.Time, maxAge time.Duration) bool {
	return s.Age(now) > maxAge
}

// MarketView 一次聚合周期产出的市场视图，只含通过新鲜度过滤的快照
type MarketView struct {
	Rates      map[string]RateSnapshot  `json:"rates"`  // key = exchange:symbol
	Prices     map[string]PriceSnapshot `json:"prices"` // key = exchange:symbol
	CapturedAt int64                    `json:"ts_ms"`
}

// RatesBySymbol 按交易对归组费率快照，供跨所比较
func (v *MarketView) RatesBySymbol() map[string][]RateSnapshot {
	out := make(map[string][]RateSnapshot)
	for _, snap := range v.Rates {
		out[snap.Symbol] = append(out[snap.Symbol], snap)
	}
	return out
}

// PricesBySymbol 按交易对归组价格快照
func (v *MarketView) PricesBySymbol() map[string][]PriceSnapshot {
	out := make(map[string][]PriceSnapshot)
	for _, snap := range v.Prices {
		out[snap.Symbol] = append(out[snap.Symbol], snap)
	}
	return out
}
