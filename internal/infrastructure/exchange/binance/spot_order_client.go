package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/rs/zerolog/log"
)

// SpotOrderClient Binance 现货订单客户端
type SpotOrderClient struct {
	*APIClient
}

// NewSpotOrderClient 创建现货订单客户端
func NewSpotOrderClient(client *APIClient) *SpotOrderClient {
	return &SpotOrderClient{APIClient: client}
}

// spotOrderResponse 现货订单响应（FULL 格式含成交明细）
type spotOrderResponse struct {
	OrderID             int64  `json:"orderId"`
	Symbol              string `json:"symbol"`
	Status              string `json:"status"`
	ExecutedQty         string `json:"executedQty"`
	CummulativeQuoteQty string `json:"cummulativeQuoteQty"`
	Fills               []struct {
		Price           string `json:"price"`
		Qty             string `json:"qty"`
		Commission      string `json:"commission"`
		CommissionAsset string `json:"commissionAsset"`
	} `json:"fills"`
}

// SpotFill 单笔现货成交
type SpotFill struct {
	OrderID  string
	Price    float64 // 成交均价
	Quantity float64
	Fee      float64 // 手续费（commission 资产计，稳定币时即 USD）
}

// PlaceMarketBuy 市价买入，金额按计价币种给出（quoteOrderQty）
func (c *SpotOrderClient) PlaceMarketBuy(ctx context.Context, symbol string, quoteAmount float64) (*SpotFill, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", "BUY")
	params.Set("type", "MARKET")
	params.Set("quoteOrderQty", fmt.Sprintf("%.8g", quoteAmount))
	return c.submit(ctx, symbol, "BUY", params)
}

// PlaceMarketSell 市价卖出，数量按基础币种给出
func (c *SpotOrderClient) PlaceMarketSell(ctx context.Context, symbol string, quantity float64) (*SpotFill, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", "SELL")
	params.Set("type", "MARKET")
	params.Set("quantity", fmt.Sprintf("%.8g", quantity))
	return c.submit(ctx, symbol, "SELL", params)
}

// PlaceLimit 限价单
func (c *SpotOrderClient) PlaceLimit(ctx context.Context, symbol, side string, quantity, price float64) (*SpotFill, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", side)
	params.Set("type", "LIMIT")
	params.Set("timeInForce", "GTC")
	params.Set("quantity", fmt.Sprintf("%.8g", quantity))
	params.Set("price", fmt.Sprintf("%.8g", price))
	return c.submit(ctx, symbol, side, params)
}

func (c *SpotOrderClient) submit(ctx context.Context, symbol, side string, params url.Values) (*SpotFill, error) {
	body, err := c.signedRequest(ctx, http.MethodPost, "/api/v3/order", params)
	if err != nil {
		return nil, fmt.Errorf("place spot order failed: %w", err)
	}

	var resp spotOrderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse spot order response failed: %w", err)
	}
	if resp.OrderID == 0 {
		return nil, fmt.Errorf("spot order failed: %s", string(body))
	}

	executed, _ := strconv.ParseFloat(resp.ExecutedQty, 64)
	quote, _ := strconv.ParseFloat(resp.CummulativeQuoteQty, 64)

	fill := &SpotFill{
		OrderID:  strconv.FormatInt(resp.OrderID, 10),
		Quantity: executed,
	}
	if executed > 0 {
		fill.Price = quote / executed
	}
	for _, f := range resp.Fills {
		fee, _ := strconv.ParseFloat(f.Commission, 64)
		fill.Fee += fee
	}

	log.Info().
		Str("exchange", "BINANCE").
		Str("symbol", symbol).
		Str("side", side).
		Float64("executed", executed).
		Float64("avgPrice", fill.Price).
		Str("orderID", fill.OrderID).
		Str("status", resp.Status).
		Msg("spot order placed")

	return fill, nil
}
