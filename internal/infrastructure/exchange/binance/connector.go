package binance

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

// Binance 资金费率默认 8 小时结算一次
const fundingIntervalHours = 8

// taker 费率，用于回执中的手续费估算
const (
	perpetualTakerFee = 0.0005
	spotTakerFee      = 0.001
)

// Connector 把 Binance 行情与交易客户端装配成统一的交易所适配器
type Connector struct {
	market *MarketClient
	spot   *SpotManager
	perp   *PerpetualManager
	signed bool
}

// NewConnector 创建 Binance 适配器。
// apiKey 为空时只提供公共行情，下单与余额查询会报错
func NewConnector(apiKey, apiSecret, spotURL, perpetualURL string) *Connector {
	spotMgr, perpMgr := NewManagers(apiKey, apiSecret, spotURL, perpetualURL)
	return &Connector{
		market: NewMarketClient(perpetualURL),
		spot:   spotMgr,
		perp:   perpMgr,
		signed: strings.TrimSpace(apiKey) != "",
	}
}

func (c *Connector) Name() string { return exchangeName }

// FundingRates 批量拉取资金费率，一次请求覆盖全市场后按需过滤
func (c *Connector) FundingRates(ctx context.Context, symbols []string) ([]model.RateSnapshot, error) {
	indexes, err := c.market.AllPremiumIndexes(ctx)
	if err != nil {
		return nil, err
	}

	wanted := symbolSet(symbols)
	now := time.Now().UnixMilli()

	out := make([]model.RateSnapshot, 0, len(symbols))
	for _, pi := range indexes {
		sym := strings.ToUpper(pi.Symbol)
		if _, ok := wanted[sym]; !ok {
			continue
		}
		rate, _ := strconv.ParseFloat(pi.LastFundingRate, 64)
		mark, _ := strconv.ParseFloat(pi.MarkPrice, 64)
		out = append(out, model.RateSnapshot{
			Exchange:       exchangeName,
			Symbol:         sym,
			FundingRate:    rate,
			MarkPrice:      mark,
			NextSettlement: pi.NextFundingTime,
			IntervalHours:  fundingIntervalHours,
			CapturedAt:     now,
		})
	}
	return out, nil
}

// Prices 批量拉取最优买卖价
func (c *Connector) Prices(ctx context.Context, symbols []string) ([]model.PriceSnapshot, error) {
	tickers, err := c.market.AllBookTickers(ctx)
	if err != nil {
		return nil, err
	}

	wanted := symbolSet(symbols)
	now := time.Now().UnixMilli()

	out := make([]model.PriceSnapshot, 0, len(symbols))
	for _, tk := range tickers {
		sym := strings.ToUpper(tk.Symbol)
		if _, ok := wanted[sym]; !ok {
			continue
		}
		bid, _ := strconv.ParseFloat(tk.BidPrice, 64)
		ask, _ := strconv.ParseFloat(tk.AskPrice, 64)
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

// Symbols 返回可交易的 USDT 永续符号列表
func (c *Connector) Symbols(ctx context.Context) ([]string, error) {
	info, err := c.market.ExchangeInfo(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, len(info.Symbols))
	for _, s := range info.Symbols {
		if s.ContractType != "PERPETUAL" || s.Status != "TRADING" {
			continue
		}
		out = append(out, strings.ToUpper(s.Symbol))
	}
	return out, nil
}

// Balance 现货与合约钱包余额合计（USDT 计）
func (c *Connector) Balance(ctx context.Context) (float64, error) {
	if !c.signed {
		return 0, fmt.Errorf("binance: api credentials not configured: %w", model.ErrAuth)
	}

	perpBalance, err := c.perp.Account.GetBalance(ctx)
	if err != nil {
		return 0, err
	}
	spotBalance, err := c.spot.Account.GetBalance(ctx)
	if err != nil {
		return 0, err
	}
	return perpBalance + spotBalance, nil
}

// PlaceOrder 按下单意图执行，名义金额换算为基础币数量
func (c *Connector) PlaceOrder(ctx context.Context, intent port.OrderIntent) (*port.OrderAck, error) {
	if !c.signed {
		return nil, fmt.Errorf("binance: api credentials not configured: %w", model.ErrAuth)
	}
	if intent.Notional <= 0 {
		return nil, errors.New("binance: order notional must be positive")
	}

	switch intent.Market {
	case model.MarketPerpetual:
		return c.placePerpetual(ctx, intent)
	case model.MarketSpot:
		return c.placeSpot(ctx, intent)
	default:
		return nil, fmt.Errorf("binance: unsupported market %q", intent.Market)
	}
}

func (c *Connector) placePerpetual(ctx context.Context, intent port.OrderIntent) (*port.OrderAck, error) {
	refPrice, err := c.referencePrice(ctx, intent)
	if err != nil {
		return nil, err
	}

	quantity := intent.Notional / refPrice
	isMarket := intent.Price == 0

	orderID, err := c.perp.Order.PlaceOrder(ctx, intent.Symbol, orderSide(intent.Side), quantity, intent.Price, isMarket)
	if err != nil {
		return nil, err
	}

	ack := &port.OrderAck{
		OrderID:  orderID,
		Price:    refPrice,
		Quantity: quantity,
		Fee:      intent.Notional * perpetualTakerFee,
	}
	if !isMarket {
		ack.Price = intent.Price
	}

	// 市价单回执不含均价，查一次订单状态拿实际成交
	if status, serr := c.perp.Order.GetOrderStatus(ctx, intent.Symbol, orderID); serr == nil {
		if status.AvgExecutedPrice > 0 {
			ack.Price = status.AvgExecutedPrice
		}
		if status.ExecutedQuantity > 0 {
			ack.Quantity = status.ExecutedQuantity
		}
	}
	return ack, nil
}

func (c *Connector) placeSpot(ctx context.Context, intent port.OrderIntent) (*port.OrderAck, error) {
	refPrice, err := c.referencePrice(ctx, intent)
	if err != nil {
		return nil, err
	}

	var fill *SpotFill
	switch {
	case intent.Price > 0:
		fill, err = c.spot.Order.PlaceLimit(ctx, intent.Symbol, orderSide(intent.Side), intent.Notional/intent.Price, intent.Price)
	case intent.Side == model.SideLong:
		fill, err = c.spot.Order.PlaceMarketBuy(ctx, intent.Symbol, intent.Notional)
	default:
		fill, err = c.spot.Order.PlaceMarketSell(ctx, intent.Symbol, intent.Notional/refPrice)
	}
	if err != nil {
		return nil, err
	}

	ack := &port.OrderAck{
		OrderID:  fill.OrderID,
		Price:    fill.Price,
		Quantity: fill.Quantity,
		Fee:      fill.Fee,
	}
	if ack.Price == 0 {
		ack.Price = refPrice
	}
	if ack.Fee == 0 {
		ack.Fee = intent.Notional * spotTakerFee
	}
	return ack, nil
}

// referencePrice 下单前的参考价：买看卖一，卖看买一
func (c *Connector) referencePrice(ctx context.Context, intent port.OrderIntent) (float64, error) {
	tk, err := c.market.BookTicker(ctx, intent.Symbol)
	if err != nil {
		return 0, fmt.Errorf("binance: reference price: %w", err)
	}

	bid, _ := strconv.ParseFloat(tk.BidPrice, 64)
	ask, _ := strconv.ParseFloat(tk.AskPrice, 64)
	if intent.Side == model.SideLong {
		if ask <= 0 {
			return 0, fmt.Errorf("binance: no ask price for %s", intent.Symbol)
		}
		return ask, nil
	}
	if bid <= 0 {
		return 0, fmt.Errorf("binance: no bid price for %s", intent.Symbol)
	}
	return bid, nil
}

func orderSide(side model.Side) string {
	if side == model.SideLong {
		return "BUY"
	}
	return "SELL"
}

func symbolSet(symbols []string) map[string]struct{} {
	set := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		set[strings.ToUpper(strings.TrimSpace(s))] = struct{}{}
	}
	return set
}

var _ port.ExchangeConnector = (*Connector)(nil)
