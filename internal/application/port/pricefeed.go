package port

import "context"

// Tick 现货盘口推送
type Tick struct {
	Exchange string  // "binance" "bybit"
	Symbol   string  // "BTCUSDT"
	Bid      float64 // 买一价
	Ask      float64 // 卖一价
	Ts       int64   // unix ms
}

// PriceFeed 实时盘口订阅
type PriceFeed interface {
	Name() string
	Subscribe(ctx context.Context, symbols []string) (<-chan Tick, error)
}
