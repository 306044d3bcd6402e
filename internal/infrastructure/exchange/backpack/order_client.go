package backpack

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/rs/zerolog/log"
)

// OrderClient Backpack 订单客户端。
// symbol 区分市场: SOL_USDC_PERP 永续, SOL_USDC 现货
type OrderClient struct {
	*APIClient
}

// NewOrderClient 创建订单客户端
func NewOrderClient(client *APIClient) *OrderClient {
	return &OrderClient{APIClient: client}
}

// orderResponse 下单/查单响应
type orderResponse struct {
	ID                    string `json:"id"`
	Symbol                string `json:"symbol"`
	Side                  string `json:"side"`
	OrderType             string `json:"orderType"`
	Status                string `json:"status"`
	Quantity              string `json:"quantity"`
	ExecutedQuantity      string `json:"executedQuantity"`
	ExecutedQuoteQuantity string `json:"executedQuoteQuantity"`
	Price                 string `json:"price"`
	CreatedAt             int64  `json:"createdAt"`
}

// OrderResult 下单结果，市价单响应即含成交量
type OrderResult struct {
	OrderID  string
	Price    float64 // 成交均价，未成交时为 0
	Quantity float64 // 已成交基础币数量
	Status   string
}

// PlaceOrder 下单
// side: "Bid" 买 或 "Ask" 卖
// quantity: 基础币数量；市价买单传计价币金额并置 byQuote
// price: 价格（市价单为 0）
func (c *OrderClient) PlaceOrder(
	ctx context.Context,
	symbol string,
	side string,
	quantity float64,
	price float64,
	byQuote bool,
) (*OrderResult, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", side)

	if price > 0 {
		params.Set("orderType", "Limit")
		params.Set("price", fmt.Sprintf("%.8g", price))
		params.Set("quantity", fmt.Sprintf("%.8g", quantity))
		params.Set("timeInForce", "GTC")
	} else {
		params.Set("orderType", "Market")
		if byQuote {
			params.Set("quoteQuantity", fmt.Sprintf("%.8g", quantity))
		} else {
			params.Set("quantity", fmt.Sprintf("%.8g", quantity))
		}
	}

	body, err := c.signedRequest(ctx, http.MethodPost, "/api/v1/order", "orderExecute", params)
	if err != nil {
		return nil, fmt.Errorf("place order failed: %w", err)
	}

	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse order response failed: %w", err)
	}
	if resp.ID == "" {
		return nil, fmt.Errorf("place order: empty order id: %s", string(body))
	}

	result := toOrderResult(&resp)

	log.Info().
		Str("exchange", "BACKPACK").
		Str("symbol", symbol).
		Str("side", side).
		Float64("quantity", quantity).
		Float64("price", price).
		Str("orderID", result.OrderID).
		Str("status", result.Status).
		Msg("order placed")

	return result, nil
}

// CancelOrder 撤销订单
func (c *OrderClient) CancelOrder(ctx context.Context, symbol, orderId string) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", orderId)

	_, err := c.signedRequest(ctx, http.MethodDelete, "/api/v1/order", "orderCancel", params)
	if err != nil {
		return fmt.Errorf("cancel order failed: %w", err)
	}

	log.Info().
		Str("exchange", "BACKPACK").
		Str("symbol", symbol).
		Str("orderId", orderId).
		Msg("order cancelled")

	return nil
}

// GetOrderStatus 查询订单状态
func (c *OrderClient) GetOrderStatus(ctx context.Context, symbol, orderId string) (*OrderResult, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", orderId)

	body, err := c.signedRequest(ctx, http.MethodGet, "/api/v1/order", "orderQuery", params)
	if err != nil {
		return nil, fmt.Errorf("get order status failed: %w", err)
	}

	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse order status failed: %w", err)
	}

	return toOrderResult(&resp), nil
}

// toOrderResult 由 executedQuoteQuantity / executedQuantity 推成交均价
func toOrderResult(resp *orderResponse) *OrderResult {
	executedQty, _ := strconv.ParseFloat(resp.ExecutedQuantity, 64)
	executedQuote, _ := strconv.ParseFloat(resp.ExecutedQuoteQuantity, 64)
	price, _ := strconv.ParseFloat(resp.Price, 64)

	avgPrice := price
	if executedQty > 0 && executedQuote > 0 {
		avgPrice = executedQuote / executedQty
	}

	return &OrderResult{
		OrderID:  resp.ID,
		Price:    avgPrice,
		Quantity: executedQty,
		Status:   resp.Status,
	}
}
