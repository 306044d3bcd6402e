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

// PerpetualOrderClient Binance perpetual REST client
type PerpetualOrderClient struct {
	*APIClient
}

// NewPerpetualOrderClient creates perpetual order client
func NewPerpetualOrderClient(client *APIClient) *PerpetualOrderClient {
	return &PerpetualOrderClient{APIClient: client}
}

// PlaceOrder 下单
// side: "BUY" 或 "SELL"
// quantity: 交易数量
// price: 价格（市价单为 0）
// isMarket: 是否市价单
func (c *PerpetualOrderClient) PlaceOrder(
	ctx context.Context,
	symbol string,
	side string,
	quantity float64,
	price float64,
	isMarket bool,
) (string, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", side)
	params.Set("quantity", fmt.Sprintf("%.8g", quantity))

	if isMarket {
		params.Set("type", "MARKET")
	} else {
		params.Set("type", "LIMIT")
		params.Set("timeInForce", "GTC") // Good Till Cancel
		params.Set("price", fmt.Sprintf("%.8g", price))
	}

	body, err := c.signedRequest(ctx, http.MethodPost, "/fapi/v1/order", params)
	if err != nil {
		return "", fmt.Errorf("place order failed: %w", err)
	}

	var resp OrderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("parse order response failed: %w", err)
	}

	if resp.OrderID == 0 {
		return "", fmt.Errorf("order failed: %s", string(body))
	}

	log.Info().
		Str("exchange", "BINANCE").
		Str("symbol", symbol).
		Str("side", side).
		Float64("quantity", quantity).
		Float64("price", price).
		Int64("orderID", resp.OrderID).
		Str("status", resp.Status).
		Msg("order placed")

	return strconv.FormatInt(resp.OrderID, 10), nil
}

// CancelOrder 撤销订单
func (c *PerpetualOrderClient) CancelOrder(ctx context.Context, symbol string, orderId string) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", orderId)

	body, err := c.signedRequest(ctx, http.MethodDelete, "/fapi/v1/order", params)
	if err != nil {
		return fmt.Errorf("cancel order failed: %w", err)
	}

	var resp OrderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("parse cancel response failed: %w", err)
	}

	log.Info().
		Str("exchange", "BINANCE").
		Str("symbol", symbol).
		Str("orderId", orderId).
		Str("status", resp.Status).
		Msg("order cancelled")

	return nil
}

// GetOrderStatus 查询订单状态
func (c *PerpetualOrderClient) GetOrderStatus(
	ctx context.Context,
	symbol string,
	orderId string,
) (*BinanceOrderStatus, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", orderId)

	body, err := c.signedRequest(ctx, http.MethodGet, "/fapi/v1/order", params)
	if err != nil {
		return nil, fmt.Errorf("get order status failed: %w", err)
	}

	var resp OrderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse order status failed: %w", err)
	}

	executedQty, _ := strconv.ParseFloat(resp.ExecutedQty, 64)
	avgPrice, _ := strconv.ParseFloat(resp.AvgPrice, 64)

	status := &BinanceOrderStatus{
		OrderID:          orderId,
		Symbol:           symbol,
		Side:             resp.Side,
		Quantity:         resp.OrigQty,
		ExecutedQuantity: executedQty,
		Price:            resp.Price,
		AvgExecutedPrice: avgPrice,
		Status:           resp.Status,
		CreatedAt:        resp.Time,
		UpdatedAt:        resp.UpdateTime,
	}

	return status, nil
}

// ===== Response Models =====

// OrderResponse 订单响应
type OrderResponse struct {
	OrderID       int64   `json:"orderId"`
	Symbol        string  `json:"symbol"`
	Status        string  `json:"status"`
	ClientOrderID string  `json:"clientOrderId"`
	Side          string  `json:"side"`
	Type          string  `json:"type"`
	TimeInForce   string  `json:"timeInForce"`
	OrigQty       float64 `json:"origQty,string"`
	ExecutedQty   string  `json:"executedQty"`
	AvgPrice      string  `json:"avgPrice"`
	Price         float64 `json:"price,string"`
	Time          int64   `json:"time"`
	UpdateTime    int64   `json:"updateTime"`
}

// BinanceOrderStatus 订单状态
type BinanceOrderStatus struct {
	OrderID          string
	Symbol           string
	Side             string
	Quantity         float64
	ExecutedQuantity float64
	Price            float64
	AvgExecutedPrice float64
	Status           string
	CreatedAt        int64
	UpdatedAt        int64
}
