package okx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/rs/zerolog/log"
)

// OrderClient OKX 订单客户端 (v5 API)。
// instId 区分市场: BTC-USDT-SWAP 永续合约, BTC-USDT 现货
type OrderClient struct {
	*APIClient
}

// NewOrderClient 创建订单客户端
func NewOrderClient(client *APIClient) *OrderClient {
	return &OrderClient{APIClient: client}
}

// PlaceOrder 下单
// side: "buy" 或 "sell"
// tdMode: 合约 "cross"，现货 "cash"
// quantity: 基础币数量；现货市价买单传计价币金额并置 byQuote
// price: 价格（市价单为 0）
func (c *OrderClient) PlaceOrder(
	ctx context.Context,
	instID string,
	tdMode string,
	side string,
	quantity float64,
	price float64,
	byQuote bool,
) (string, error) {
	payload := map[string]interface{}{
		"instId": instID,
		"tdMode": tdMode,
		"side":   side,
		"sz":     fmt.Sprintf("%.8g", quantity),
	}

	if price > 0 {
		payload["ordType"] = "limit"
		payload["px"] = fmt.Sprintf("%.8g", price)
	} else {
		payload["ordType"] = "market"
		if byQuote {
			payload["tgtCcy"] = "quote_ccy"
		} else if tdMode == "cash" {
			payload["tgtCcy"] = "base_ccy"
		}
	}

	body, err := c.signedJSONRequest(ctx, http.MethodPost, "/api/v5/trade/order", payload)
	if err != nil {
		return "", fmt.Errorf("place order failed: %w", err)
	}

	var resp placeOrderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("parse order response failed: %w", err)
	}

	if resp.Code != "0" {
		return "", fmt.Errorf("place order error: [%s] %s", resp.Code, resp.Msg)
	}
	if len(resp.Data) == 0 {
		return "", fmt.Errorf("place order: empty data")
	}
	item := resp.Data[0]
	if item.SCode != "" && item.SCode != "0" {
		return "", fmt.Errorf("place order rejected: [%s] %s", item.SCode, item.SMsg)
	}

	log.Info().
		Str("exchange", "OKX").
		Str("instId", instID).
		Str("side", side).
		Float64("quantity", quantity).
		Float64("price", price).
		Str("orderID", item.OrdID).
		Msg("order placed")

	return item.OrdID, nil
}

// CancelOrder 撤销订单
func (c *OrderClient) CancelOrder(ctx context.Context, instID, orderId string) error {
	payload := map[string]interface{}{
		"instId": instID,
		"ordId":  orderId,
	}

	body, err := c.signedJSONRequest(ctx, http.MethodPost, "/api/v5/trade/cancel-order", payload)
	if err != nil {
		return fmt.Errorf("cancel order failed: %w", err)
	}

	var resp placeOrderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("parse cancel response failed: %w", err)
	}

	if resp.Code != "0" {
		return fmt.Errorf("cancel order error: [%s] %s", resp.Code, resp.Msg)
	}

	log.Info().
		Str("exchange", "OKX").
		Str("instId", instID).
		Str("orderId", orderId).
		Msg("order cancelled")

	return nil
}

// GetOrderStatus 查询订单状态
func (c *OrderClient) GetOrderStatus(ctx context.Context, instID, orderId string) (*OkxOrderStatus, error) {
	params := url.Values{}
	params.Set("instId", instID)
	params.Set("ordId", orderId)

	body, err := c.signedQueryRequest(ctx, http.MethodGet, "/api/v5/trade/order", params)
	if err != nil {
		return nil, fmt.Errorf("get order status failed: %w", err)
	}

	var resp getOrderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse order status failed: %w", err)
	}

	if resp.Code != "0" {
		return nil, fmt.Errorf("get order status error: [%s] %s", resp.Code, resp.Msg)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("order not found")
	}

	order := resp.Data[0]
	sz, _ := strconv.ParseFloat(order.Sz, 64)
	accFillSz, _ := strconv.ParseFloat(order.AccFillSz, 64)
	price, _ := strconv.ParseFloat(order.Px, 64)
	avgPx, _ := strconv.ParseFloat(order.AvgPx, 64)
	createdAt, _ := strconv.ParseInt(order.CTime, 10, 64)
	updatedAt, _ := strconv.ParseInt(order.UTime, 10, 64)

	// OKX 手续费以负数表示支出
	fee, _ := strconv.ParseFloat(order.Fee, 64)
	if fee < 0 {
		fee = -fee
	}

	status := &OkxOrderStatus{
		OrderID:          orderId,
		Symbol:           order.InstID,
		Side:             order.Side,
		Quantity:         sz,
		ExecutedQuantity: accFillSz,
		ExecutedFee:      fee,
		Price:            price,
		AvgExecutedPrice: avgPx,
		Status:           order.State,
		CreatedAt:        createdAt,
		UpdatedAt:        updatedAt,
	}

	return status, nil
}

// ===== Response Models =====

// placeOrderResponse 下单/撤单响应
type placeOrderResponse struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
	Data []struct {
		OrdID string `json:"ordId"`
		SCode string `json:"sCode"`
		SMsg  string `json:"sMsg"`
	} `json:"data"`
}

// getOrderResponse 订单查询响应
type getOrderResponse struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
	Data []struct {
		InstID    string `json:"instId"`
		OrdID     string `json:"ordId"`
		Side      string `json:"side"`
		State     string `json:"state"`
		Sz        string `json:"sz"`
		AccFillSz string `json:"accFillSz"`
		Px        string `json:"px"`
		AvgPx     string `json:"avgPx"`
		Fee       string `json:"fee"`
		CTime     string `json:"cTime"`
		UTime     string `json:"uTime"`
	} `json:"data"`
}

// OkxOrderStatus 订单状态
type OkxOrderStatus struct {
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
