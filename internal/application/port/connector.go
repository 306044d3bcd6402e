package port

import (
	"context"

	"fundarb/internal/domain/model"
)

// OrderIntent 下单意图，由执行后端转换为交易所订单
type OrderIntent struct {
	Symbol   string
	Market   string // perpetual / spot
	Side     model.Side
	Notional float64 // USD 名义
	Price    float64 // 限价，0 表示市价
}

// OrderAck 交易所下单回执
type OrderAck struct {
	OrderID  string
	Price    float64 // 成交均价
	Quantity float64
	Fee      float64
}

// ExchangeConnector 交易所适配器
// 行情读取与下单都带 ctx，调用方控制超时
type ExchangeConnector interface {
	Name() string

	// FundingRates 拉取给定符号的资金费率快照
	FundingRates(ctx context.Context, symbols []string) ([]model.RateSnapshot, error)
	// Prices 拉取给定符号的现货盘口快照
	Prices(ctx context.Context, symbols []string) ([]model.PriceSnapshot, error)
	// Symbols 返回该交易所支持的永续交易符号（规范化为 BTCUSDT 风格）
	Symbols(ctx context.Context) ([]string, error)
	// Balance 账户可用余额（USD）
	Balance(ctx context.Context) (float64, error)
	// PlaceOrder 下单并返回回执
	PlaceOrder(ctx context.Context, intent OrderIntent) (*OrderAck, error)
}
