package bybit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"fundarb/internal/application/port"
	"fundarb/internal/domain/model"
)

const fundingIntervalHours = 8

const (
	perpetualTakerFee = 0.00055
	spotTakerFee      = 0.001
)

// Connector 把 Bybit 行情与交易客户端装配成统一的交易所适配器
type Connector struct {
	market  *MarketClient
	manager *Manager
	signed  bool
}

// NewConnector 创建 Bybit 适配器
func NewConnector(apiKey, apiSecret, baseURL string) *Connector {
	return &Connector{
		market:  NewMarketClient(baseURL),
		manager: NewManager(apiKey, apiSecret, baseURL),
		signed:  strings.TrimSpace(apiKey) != "",
	}
}

func (c *Connector) Name() string { return exchangeName }

// FundingRates 拉取资金费率。
// linear tickers 一次请求带回费率、标记价与盘口，这里只取费率侧
func (c *Connector) FundingRates(ctx context.Context, symbols []string) ([]model.RateSnapshot, error) {
	items, err := c.market.Tickers(ctx, "linear", "")
	if err != nil {
		return nil, err
	}

	wanted := symbolSet(symbols)
	now := time.Now().UnixMilli()

	out := make([]model.RateSnapshot, 0, len(symbols))
	for _, item := range items {
		sym := strings.ToUpper(item.Symbol)
		if _, ok := wanted[sym]; !ok {
			continue
		}
		rate, _ := strconv.ParseFloat(item.FundingRate, 64)
		mark, _ := strconv.ParseFloat(item.MarkPrice, 64)
		nextSettle, _ := strconv.ParseInt(item.NextFundingTime, 10, 64)
		out = append(out, model.RateSnapshot{
			Exchange:       exchangeName,
			Symbol:         sym,
			FundingRate:    rate,
			MarkPrice:      mark,
			NextSettlement: nextSettle,
			IntervalHours:  fundingIntervalHours,
			CapturedAt:     now,
		})
	}
	return out, nil
}

// Prices 拉取最优买卖价
func (c *Connector) Prices(ctx context.Context, symbols []string) ([]model.PriceSnapshot, error) {
	items, err := c.market.Tickers(ctx, "linear", "")
	if err != nil {
		return nil, err
	}

	wanted := symbolSet(symbols)
	now := time.Now().UnixMilli()

	out := make([]model.PriceSnapshot, 0, len(symbols))
	for _, item := range items {
		sym := strings.ToUpper(item.Symbol)
		if _, ok := wanted[sym]; !ok {
			continue
		}
		bid, _ := strconv.ParseFloat(item.Bid1Price, 64)
		ask, _ := strconv.ParseFloat(item.Ask1Price, 64)
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

// Symbols 返回全部 linear 永续符号
func (c *Connector) Symbols(ctx context.Context) ([]string, error) {
	items, err := c.market.Tickers(ctx, "linear", "")
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, strings.ToUpper(item.Symbol))
	}
	return out, nil
}

// Balance 统一账户钱包余额（USD 计）
func (c *Connector) Balance(ctx context.Context) (float64, error) {
	if !c.signed {
		return 0, fmt.Errorf("bybit: api credentials not configured: %w", model.ErrAuth)
	}
	return c.manager.Account.GetBalance(ctx)
}

// PlaceOrder 按下单意图执行
func (c *Connector) PlaceOrder(ctx context.Context, intent port.OrderIntent) (*port.OrderAck, error) {
	if !c.signed {
		return nil, fmt.Errorf("bybit: api credentials not configured: %w", model.ErrAuth)
	}
	if intent.Notional <= 0 {
		return nil, errors.New("bybit: order notional must be positive")
	}

	var category string
	switch intent.Market {
	case model.MarketPerpetual:
		category = "linear"
	case model.MarketSpot:
		category = "spot"
	default:
		return nil, fmt.Errorf("bybit: unsupported market %q", intent.Market)
	}

	refPrice, err := c.referencePrice(ctx, category, intent)
	if err != nil {
		return nil, err
	}

	quantity := intent.Notional / refPrice
	byQuote := false
	if category == "spot" && intent.Price == 0 && intent.Side == model.SideLong {
		// 现货市价买按计价币金额下单
		quantity = intent.Notional
		byQuote = true
	}

	orderID, err := c.manager.Order.PlaceOrder(ctx, category, intent.Symbol, orderSide(intent.Side), quantity, intent.Price, byQuote)
	if err != nil {
		return nil, err
	}

	ack := &port.OrderAck{
		OrderID:  orderID,
		Price:    refPrice,
		Quantity: intent.Notional / refPrice,
		Fee:      intent.Notional * takerFee(category),
	}
	if intent.Price > 0 {
		ack.Price = intent.Price
	}

	if status, serr := c.manager.Order.GetOrderStatus(ctx, category, intent.Symbol, orderID); serr == nil {
		if status.AvgExecutedPrice > 0 {
			ack.Price = status.AvgExecutedPrice
		}
		if status.ExecutedQuantity > 0 {
			ack.Quantity = status.ExecutedQuantity
		}
		if status.ExecutedFee > 0 {
			ack.Fee = status.ExecutedFee
		}
	}
	return ack, nil
}

func (c *Connector) referencePrice(ctx context.Context, category string, intent port.OrderIntent) (float64, error) {
	items, err := c.market.Tickers(ctx, category, intent.Symbol)
	if err != nil {
		return 0, fmt.Errorf("bybit: reference price: %w", err)
	}
	if len(items) == 0 {
		return 0, fmt.Errorf("bybit: no ticker for %s", intent.Symbol)
	}

	bid, _ := strconv.ParseFloat(items[0].Bid1Price, 64)
	ask, _ := strconv.ParseFloat(items[0].Ask1Price, 64)
	if intent.Side == model.SideLong {
		if ask <= 0 {
			return 0, fmt.Errorf("bybit: no ask price for %s", intent.Symbol)
		}
		return ask, nil
	}
	if bid <= 0 {
		return 0, fmt.Errorf("bybit: no bid price for %s", intent.Symbol)
	}
	return bid, nil
}

func orderSide(side model.Side) string {
	if side == model.SideLong {
		return "Buy"
	}
	return "Sell"
}

func takerFee(category string) float64 {
	if category == "spot" {
		return spotTakerFee
	}
	return perpetualTakerFee
}

func symbolSet(symbols []string) map[string]struct{} {
	set := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		set[strings.ToUpper(strings.TrimSpace(s))] = struct{}{}
	}
	return set
}

var _ port.ExchangeConnector = (*Connector)(nil)
