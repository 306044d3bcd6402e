package backpack

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"fundarb/internal/application/port"
	"fundarb/internal/domain/model"
	"fundarb/internal/infrastructure/exchange"
)

const fundingIntervalHours = 8

const (
	perpetualTakerFee = 0.0005
	spotTakerFee      = 0.001
)

// Connector 把 Backpack 行情与交易客户端装配成统一的交易所适配器
type Connector struct {
	market  *MarketClient
	manager *Manager
	signed  bool
}

// NewConnector 创建 Backpack 适配器
func NewConnector(apiKey, apiSecret, baseURL string) *Connector {
	manager := NewManager(apiKey, apiSecret, baseURL)
	return &Connector{
		market:  NewMarketClient(baseURL),
		manager: manager,
		signed:  manager.Order.credentials.CanSign(),
	}
}

func (c *Connector) Name() string { return exchangeName }

// FundingRates 拉取资金费率。
// markPrices 一次请求带回全部永续市场的费率与标记价
func (c *Connector) FundingRates(ctx context.Context, symbols []string) ([]model.RateSnapshot, error) {
	items, err := c.market.MarkPrices(ctx, "")
	if err != nil {
		return nil, err
	}

	wanted := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		wanted[strings.ToUpper(strings.TrimSpace(s))] = struct{}{}
	}
	now := time.Now().UnixMilli()

	out := make([]model.RateSnapshot, 0, len(symbols))
	for _, item := range items {
		sym := canonicalSymbol(item.Symbol)
		if _, ok := wanted[sym]; !ok {
			continue
		}
		rate, _ := strconv.ParseFloat(item.FundingRate, 64)
		mark, _ := strconv.ParseFloat(item.MarkPrice, 64)
		out = append(out, model.RateSnapshot{
			Exchange:       exchangeName,
			Symbol:         sym,
			FundingRate:    rate,
			MarkPrice:      mark,
			NextSettlement: item.NextFundingTimestamp,
			IntervalHours:  fundingIntervalHours,
			CapturedAt:     now,
		})
	}
	return out, nil
}

// Prices 拉取最优买卖价，盘口接口按市场逐个查询
func (c *Connector) Prices(ctx context.Context, symbols []string) ([]model.PriceSnapshot, error) {
	now := time.Now().UnixMilli()

	out := make([]model.PriceSnapshot, 0, len(symbols))
	for _, sym := range symbols {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if sym == "" {
			continue
		}
		snap, err := c.market.Depth(ctx, perpSymbol(sym))
		if err != nil {
			return nil, err
		}
		bid, ask := snap.BestBidAsk()
		if bid <= 0 || ask <= 0 {
			continue
		}
		out = append(out, model.PriceSnapshot{
			Exchange:   exchangeName,
			Symbol:     sym,
			Bid:        bid,
			Ask:        ask,
			CapturedAt: now,
		})
	}
	return out, nil
}

// Symbols 返回全部永续市场符号（规范化为 SOLUSDT 风格）
func (c *Connector) Symbols(ctx context.Context) ([]string, error) {
	items, err := c.market.MarkPrices(ctx, "")
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, len(items))
	for _, item := range items {
		sym := canonicalSymbol(item.Symbol)
		if sym == "" {
			continue
		}
		out = append(out, sym)
	}
	return out, nil
}

// Balance 资金账户总余额（USD 计）
func (c *Connector) Balance(ctx context.Context) (float64, error) {
	if !c.signed {
		return 0, fmt.Errorf("backpack: api credentials not configured: %w", model.ErrAuth)
	}
	return c.manager.Account.GetBalance(ctx)
}

// PlaceOrder 按下单意图执行
func (c *Connector) PlaceOrder(ctx context.Context, intent port.OrderIntent) (*port.OrderAck, error) {
	if !c.signed {
		return nil, fmt.Errorf("backpack: api credentials not configured: %w", model.ErrAuth)
	}
	if intent.Notional <= 0 {
		return nil, errors.New("backpack: order notional must be positive")
	}

	var venueSymbol string
	switch intent.Market {
	case model.MarketPerpetual:
		venueSymbol = perpSymbol(intent.Symbol)
	case model.MarketSpot:
		venueSymbol = spotSymbol(intent.Symbol)
	default:
		return nil, fmt.Errorf("backpack: unsupported market %q", intent.Market)
	}

	refPrice, err := c.referencePrice(ctx, venueSymbol, intent.Side)
	if err != nil {
		return nil, err
	}

	quantity := intent.Notional / refPrice
	byQuote := false
	if intent.Price == 0 && intent.Side == model.SideLong {
		// 市价买按计价币金额下单
		quantity = intent.Notional
		byQuote = true
	}

	result, err := c.manager.Order.PlaceOrder(ctx, venueSymbol, orderSide(intent.Side), quantity, intent.Price, byQuote)
	if err != nil {
		return nil, err
	}

	// 挂单未立即成交时再查一次状态
	if result.Quantity == 0 {
		if status, serr := c.manager.Order.GetOrderStatus(ctx, venueSymbol, result.OrderID); serr == nil {
			result = status
		}
	}

	ack := &port.OrderAck{
		OrderID:  result.OrderID,
		Price:    result.Price,
		Quantity: result.Quantity,
		Fee:      intent.Notional * takerFee(intent.Market),
	}
	if ack.Price == 0 {
		ack.Price = refPrice
		if intent.Price > 0 {
			ack.Price = intent.Price
		}
	}
	if ack.Quantity == 0 {
		ack.Quantity = intent.Notional / refPrice
	}
	return ack, nil
}

func (c *Connector) referencePrice(ctx context.Context, venueSymbol string, side model.Side) (float64, error) {
	snap, err := c.market.Depth(ctx, venueSymbol)
	if err != nil {
		return 0, fmt.Errorf("backpack: reference price: %w", err)
	}

	bid, ask := snap.BestBidAsk()
	if side == model.SideLong {
		if ask <= 0 {
			return 0, fmt.Errorf("backpack: no ask price for %s", venueSymbol)
		}
		return ask, nil
	}
	if bid <= 0 {
		return 0, fmt.Errorf("backpack: no bid price for %s", venueSymbol)
	}
	return bid, nil
}

func orderSide(side model.Side) string {
	if side == model.SideLong {
		return "Bid"
	}
	return "Ask"
}

func takerFee(market string) float64 {
	if market == model.MarketSpot {
		return spotTakerFee
	}
	return perpetualTakerFee
}

// Backpack 以 USDC 计价，对外统一映射到 USDT 符号

// perpSymbol 把 SOLUSDT 转成 Backpack 永续格式 SOL_USDC_PERP
func perpSymbol(symbol string) string {
	return spotSymbol(symbol) + "_PERP"
}

// spotSymbol 把 SOLUSDT 转成 Backpack 现货格式 SOL_USDC
func spotSymbol(symbol string) string {
	base := exchange.BaseCoin(strings.ToUpper(strings.TrimSpace(symbol)))
	return base + "_USDC"
}

// canonicalSymbol 把 SOL_USDC_PERP 还原成 SOLUSDT
func canonicalSymbol(venueSymbol string) string {
	s := strings.TrimSuffix(strings.ToUpper(strings.TrimSpace(venueSymbol)), "_PERP")
	base, _, found := strings.Cut(s, "_")
	if !found || base == "" {
		return ""
	}
	return base + "USDT"
}

var _ port.ExchangeConnector = (*Connector)(nil)
