package okx

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

// Connector 把 OKX 行情与交易客户端装配成统一的交易所适配器
type Connector struct {
	market  *MarketClient
	manager *Manager
	signed  bool
}

// NewConnector 创建 OKX 适配器
func NewConnector(apiKey, apiSecret, passphrase, baseURL string) *Connector {
	return &Connector{
		market:  NewMarketClient(baseURL),
		manager: NewManager(apiKey, apiSecret, passphrase, baseURL),
		signed:  strings.TrimSpace(apiKey) != "",
	}
}

func (c *Connector) Name() string { return exchangeName }

// FundingRates 拉取资金费率。
// funding-rate 接口按 instId 逐个查询，标记价格走一次批量接口
func (c *Connector) FundingRates(ctx context.Context, symbols []string) ([]model.RateSnapshot, error) {
	markItems, err := c.market.MarkPrices(ctx, "SWAP")
	if err != nil {
		return nil, err
	}
	marks := make(map[string]float64, len(markItems))
	for _, item := range markItems {
		px, _ := strconv.ParseFloat(item.MarkPx, 64)
		marks[item.InstID] = px
	}

	now := time.Now().UnixMilli()
	out := make([]model.RateSnapshot, 0, len(symbols))
	for _, sym := range symbols {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if sym == "" {
			continue
		}
		instID := symbolToInstID(sym)
		item, err := c.market.FundingRate(ctx, instID)
		if err != nil {
			return nil, err
		}

		rate, _ := strconv.ParseFloat(item.FundingRate, 64)
		nextSettle, _ := strconv.ParseInt(item.FundingTime, 10, 64)
		out = append(out, model.RateSnapshot{
			Exchange:       exchangeName,
			Symbol:         sym,
			FundingRate:    rate,
			MarkPrice:      marks[instID],
			NextSettlement: nextSettle,
			IntervalHours:  fundingIntervalHours,
			CapturedAt:     now,
		})
	}
	return out, nil
}

// Prices 拉取最优买卖价
func (c *Connector) Prices(ctx context.Context, symbols []string) ([]model.PriceSnapshot, error) {
	items, err := c.market.Tickers(ctx, "SWAP")
	if err != nil {
		return nil, err
	}

	wanted := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		wanted[strings.ToUpper(strings.TrimSpace(s))] = struct{}{}
	}
	now := time.Now().UnixMilli()

	out := make([]model.PriceSnapshot, 0, len(symbols))
	for _, item := range items {
		sym := instIDToSymbol(item.InstID)
		if _, ok := wanted[sym]; !ok {
			continue
		}
		bid, _ := strconv.ParseFloat(item.BidPx, 64)
		ask, _ := strconv.ParseFloat(item.AskPx, 64)
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

// Symbols 返回全部 USDT 本位永续符号（instId 规范化为 BTCUSDT 风格）
func (c *Connector) Symbols(ctx context.Context) ([]string, error) {
	items, err := c.market.MarkPrices(ctx, "SWAP")
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, len(items))
	for _, item := range items {
		sym := instIDToSymbol(item.InstID)
		if sym == "" {
			continue
		}
		out = append(out, sym)
	}
	return out, nil
}

// Balance 统一账户总权益（USD 计）
func (c *Connector) Balance(ctx context.Context) (float64, error) {
	if !c.signed {
		return 0, fmt.Errorf("okx: api credentials not configured: %w", model.ErrAuth)
	}
	return c.manager.Account.GetBalance(ctx)
}

// PlaceOrder 按下单意图执行
func (c *Connector) PlaceOrder(ctx context.Context, intent port.OrderIntent) (*port.OrderAck, error) {
	if !c.signed {
		return nil, fmt.Errorf("okx: api credentials not configured: %w", model.ErrAuth)
	}
	if intent.Notional <= 0 {
		return nil, errors.New("okx: order notional must be positive")
	}

	var instID, tdMode string
	switch intent.Market {
	case model.MarketPerpetual:
		instID = symbolToInstID(intent.Symbol)
		tdMode = "cross"
	case model.MarketSpot:
		instID = spotInstID(intent.Symbol)
		tdMode = "cash"
	default:
		return nil, fmt.Errorf("okx: unsupported market %q", intent.Market)
	}

	refPrice, err := c.referencePrice(ctx, instID, intent.Side)
	if err != nil {
		return nil, err
	}

	quantity := intent.Notional / refPrice
	byQuote := false
	if intent.Market == model.MarketSpot && intent.Price == 0 && intent.Side == model.SideLong {
		// 现货市价买按计价币金额下单
		quantity = intent.Notional
		byQuote = true
	}

	orderID, err := c.manager.Order.PlaceOrder(ctx, instID, tdMode, orderSide(intent.Side), quantity, intent.Price, byQuote)
	if err != nil {
		return nil, err
	}

	ack := &port.OrderAck{
		OrderID:  orderID,
		Price:    refPrice,
		Quantity: intent.Notional / refPrice,
		Fee:      intent.Notional * takerFee(intent.Market),
	}
	if intent.Price > 0 {
		ack.Price = intent.Price
	}

	if status, serr := c.manager.Order.GetOrderStatus(ctx, instID, orderID); serr == nil {
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

func (c *Connector) referencePrice(ctx context.Context, instID string, side model.Side) (float64, error) {
	item, err := c.market.Ticker(ctx, instID)
	if err != nil {
		return 0, fmt.Errorf("okx: reference price: %w", err)
	}

	bid, _ := strconv.ParseFloat(item.BidPx, 64)
	ask, _ := strconv.ParseFloat(item.AskPx, 64)
	if side == model.SideLong {
		if ask <= 0 {
			return 0, fmt.Errorf("okx: no ask price for %s", instID)
		}
		return ask, nil
	}
	if bid <= 0 {
		return 0, fmt.Errorf("okx: no bid price for %s", instID)
	}
	return bid, nil
}

func orderSide(side model.Side) string {
	if side == model.SideLong {
		return "buy"
	}
	return "sell"
}

func takerFee(market string) float64 {
	if market == model.MarketSpot {
		return spotTakerFee
	}
	return perpetualTakerFee
}

// symbolToInstID 把 BTCUSDT 转成 OKX 合约格式 BTC-USDT-SWAP
func symbolToInstID(symbol string) string {
	sym := strings.ToUpper(strings.TrimSpace(symbol))
	base := exchange.BaseCoin(sym)
	quote := strings.TrimPrefix(sym, base)
	if quote == "" {
		quote = "USDT"
	}
	return base + "-" + quote + "-SWAP"
}

// spotInstID 把 BTCUSDT 转成 OKX 现货格式 BTC-USDT
func spotInstID(symbol string) string {
	return strings.TrimSuffix(symbolToInstID(symbol), "-SWAP")
}

// instIDToSymbol 把 BTC-USDT-SWAP 还原成 BTCUSDT
func instIDToSymbol(instID string) string {
	s := strings.TrimSuffix(strings.ToUpper(strings.TrimSpace(instID)), "-SWAP")
	return strings.ReplaceAll(s, "-", "")
}

var _ port.ExchangeConnector = (*Connector)(nil)
