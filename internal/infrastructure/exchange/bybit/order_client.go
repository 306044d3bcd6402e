package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/rs/zerolog/log"
)

// OrderClient Bybit 订单客户端 (V5 API)。
// category 区分市场: "linear" 永续合约, "spot" 现货
type OrderClient struct {
	*APIClient
}

// NewOrderClient 创建订单客户端
func NewOrderClient(client *APIClient) *OrderClient {
	return &OrderClient{APIClient: client}
}

// PlaceOrder 下单
// side: "Buy" 或 "Sell"
// quantity: 基础币数量；现货市价买单传计价币金额并置 byQuote
// price: 价格（市价单为 0）
func (c *OrderClient) PlaceOrder(
	ctx context.Context,
	category string,
	symbol string,
	side string,
	quantity float64,
	price float64,
	byQuote bool,
) (string, error) {
	payload := map[string]interface{}{
		"category": category,
		"symbol":   symbol,
		"side":     side,
		"qty":      fmt.Sprintf("%.8g", quantity),
	}

	if price > 0 {
		payload["orderType"] = "Limit"
		payload["price"] = fmt.Sprintf("%.8g", price)
		payload["timeInForce"] = "GTC"
	} else {
		payload["orderType"] = "Market"
		if category == "spot" && byQuote {
			payload["marketUnit"] = "quoteCoin"
		}
	}

	body, err := c.signedJSONRequest(ctx, http.MethodPost, "/v5/order/create", payload)
	if err != nil {
		return "", fmt.Errorf("place order failed: %w", err)
	}

	var resp PlaceOrderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("parse order response failed: %w", err)
	}

	if resp.RetCode != 0 {
		return "", fmt.Errorf("place order error: [%d] %s", resp.RetCode, resp.RetMsg)
	}

	log.Info().
		Str("exchange", "BYBIT").
		Str("category", category).
		Str("symbol", symbol).
		Str("side", side).
		Float64("quantity", quantity).
		Float64("price", price).
		Str("orderID", resp.Result.OrderID).
		Msg("order placed")

	return resp.Result.OrderID, nil
}

// CancelOrder 撤销订单
func (c *OrderClient) CancelOrder(ctx context.Context, category, symbol, orderId string) error {
	payload := map[string]interface{}{
		"category": category,
		"symbol":   symbol,
		"orderId":  orderId,
	}

	body, err := c.signedJSONRequest(ctx, http.MethodPost, "/v5/order/cancel", payload)
	if err != nil {
		return fmt.Errorf("cancel order failed: %w", err)
	}

	var resp ApiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("parse cancel response failed: %w", err)
	}

	if resp.RetCode != 0 {
		return fmt.Errorf("cancel order error: [%d] %s", resp.RetCode, resp.RetMsg)
	}

	log.Info().
		Str("exchange", "BYBIT").
		Str("symbol", symbol).
		Str("orderId", orderId).
		Msg("order cancelled")

	return nil
}

// GetOrderStatus 查询订单状态
func (c *OrderClient) GetOrderStatus(
	ctx context.Context,
	category string,
	symbol string,
	orderId string,
) (*BybitOrderStatus, error) {
	params := url.Values{}
	params.Set("category", category)
	params.Set("symbol", symbol)
	params.Set("orderId", orderId)

	body, err := c.signedQueryRequest(ctx, http.MethodGet, "/v5/order/realtime", params)
	if err != nil {
		return nil, fmt.Errorf("get order status failed: %w", err)
	}

	var resp GetOrderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse order status failed: %w", err)
	}

	if resp.RetCode != 0 {
		return nil, fmt.Errorf("get order status error: [%d] %s", resp.RetCode, resp.RetMsg)
	}

	if len(resp.Result.List) == 0 {
		return nil, fmt.Errorf("order not found")
	}

	order := resp.Result.List[0]
	qty, _ := strconv.ParseFloat(order.Qty, 64)
	cumExecQty, _ := strconv.ParseFloat(order.CumExecQty, 64)
	cumExecFee, _ := strconv.ParseFloat(order.CumExecFee, 64)
	price, _ := strconv.ParseFloat(order.Price, 64)
	avgPrice, _ := strconv.ParseFloat(order.AvgPrice, 64)

	status := &BybitOrderStatus{
		OrderID:          orderId,
		Symbol:           symbol,
		Side:             order.Side,
		Quantity:         qty,
		ExecutedQuantity: cumExecQty,
		ExecutedFee:      cumExecFee,
		Price:            price,
		AvgExecutedPrice: avgPrice,
		Status:           order.OrderStatus,
		CreatedAt:        order.CreatedTime,
		UpdatedAt:        order.UpdatedTime,
	}

	return status, nil
}

// ===== Response Models =====

// ApiResponse 通用响应头
type ApiResponse struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
}

// PlaceOrderResponse 下单响应
type PlaceOrderResponse struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  struct {
		OrderID     string `json:"orderId"`
		OrderLinkID string `json:"orderLinkId"`
	} `json:"result"`
}

// GetOrderResponse 订单查询响应
type GetOrderResponse struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  struct {
		Category string `json:"category"`
		List     []struct {
			OrderID     string `json:"orderId"`
			Symbol      string `json:"symbol"`
			Side        string `json:"side"`
			OrderStatus string `json:"orderStatus"`
			Qty         string `json:"qty"`
			CumExecQty  string `json:"cumExecQty"`
			CumExecFee  string `json:"cumExecFee"`
			Price       string `json:"price"`
			AvgPrice    string `json:"avgPrice"`
			CreatedTime int64  `json:"createdTime,string"`
			UpdatedTime int64  `json:"updatedTime,string"`
		} `json:"list"`
	} `json:"result"`
}

// BybitOrderStatus 订单状态
type BybitOrderStatus struct {
	OrderID          string
	Symbol           string
	Side             string
	Quantity         float64
	ExecutedQuantity float64
	ExecutedFee      float64
	Price            float64
	AvgExecutedPrice float64
	Status           string
	CreatedAt        int64
	UpdatedAt        int64
}
