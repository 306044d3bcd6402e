package okx

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// MarketClient OKX 公共行情客户端，无需签名
type MarketClient struct {
	baseURL string
	client  *http.Client
}

// NewMarketClient 创建行情客户端
func NewMarketClient(baseURL string) *MarketClient {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = "https://www.okx.com"
	}
	return &MarketClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// FundingRateItem /api/v5/public/funding-rate 响应条目
type FundingRateItem struct {
	InstID          string `json:"instId"`
	FundingRate     string `json:"fundingRate"`
	NextFundingRate string `json:"nextFundingRate"`
	FundingTime     string `json:"fundingTime"` // 下次结算时间，毫秒
}

// MarkPriceItem /api/v5/public/mark-price 响应条目
type MarkPriceItem struct {
	InstID string `json:"instId"`
	MarkPx string `json:"markPx"`
	Ts     string `json:"ts"`
}

// TickerItem /api/v5/market/ticker(s) 响应条目
type TickerItem struct {
	InstID string `json:"instId"`
	Last   string `json:"last"`
	BidPx  string `json:"bidPx"`
	AskPx  string `json:"askPx"`
	Ts     string `json:"ts"`
}

// FundingRate 查询单个合约的当期资金费率
// OKX API: GET /api/v5/public/funding-rate?instId=BTC-USDT-SWAP
func (c *MarketClient) FundingRate(ctx context.Context, instID string) (*FundingRateItem, error) {
	params := url.Values{}
	params.Set("instId", instID)

	var items []FundingRateItem
	if err := c.getJSON(ctx, "/api/v5/public/funding-rate", params, &items); err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("okx: no funding rate for %s", instID)
	}
	return &items[0], nil
}

// MarkPrices 批量查询标记价格
// OKX API: GET /api/v5/public/mark-price?instType=SWAP
func (c *MarketClient) MarkPrices(ctx context.Context, instType string) ([]MarkPriceItem, error) {
	params := url.Values{}
	params.Set("instType", instType)

	var items []MarkPriceItem
	if err := c.getJSON(ctx, "/api/v5/public/mark-price", params, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// Tickers 批量查询某一类产品的盘口快照
// OKX API: GET /api/v5/market/tickers?instType=SWAP
func (c *MarketClient) Tickers(ctx context.Context, instType string) ([]TickerItem, error) {
	params := url.Values{}
	params.Set("instType", instType)

	var items []TickerItem
	if err := c.getJSON(ctx, "/api/v5/market/tickers", params, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// Ticker 查询单个产品的盘口快照
// OKX API: GET /api/v5/market/ticker?instId=BTC-USDT-SWAP
func (c *MarketClient) Ticker(ctx context.Context, instID string) (*TickerItem, error) {
	params := url.Values{}
	params.Set("instId", instID)

	var items []TickerItem
	if err := c.getJSON(ctx, "/api/v5/market/ticker", params, &items); err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("okx: no ticker for %s", instID)
	}
	return &items[0], nil
}

// FundingRateHistory 查询历史资金费率，key 为结算时间（毫秒）
// OKX API: GET /api/v5/public/funding-rate-history?instId=&limit=
func (c *MarketClient) FundingRateHistory(ctx context.Context, instID string, limit int) (map[int64]float64, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 100 {
		limit = 100
	}

	params := url.Values{}
	params.Set("instId", instID)
	params.Set("limit", strconv.Itoa(limit))

	var items []struct {
		FundingRate string `json:"fundingRate"`
		FundingTime string `json:"fundingTime"`
	}
	if err := c.getJSON(ctx, "/api/v5/public/funding-rate-history", params, &items); err != nil {
		return nil, err
	}

	out := make(map[int64]float64, len(items))
	for _, item := range items {
		ts, err := strconv.ParseInt(item.FundingTime, 10, 64)
		if err != nil {
			continue
		}
		rate, err := strconv.ParseFloat(item.FundingRate, 64)
		if err != nil {
			continue
		}
		out[ts] = rate
	}
	return out, nil
}

// okxEnvelope OKX 公共接口统一包装：{code, msg, data}
type okxEnvelope struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func (c *MarketClient) getJSON(ctx context.Context, path string, params url.Values, v interface{}) error {
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("okx http %d: %s", resp.StatusCode, string(body))
	}

	var env okxEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("okx: unmarshal envelope: %w", err)
	}
	if env.Code != "0" {
		return fmt.Errorf("okx api error %s: %s", env.Code, env.Msg)
	}
	return json.Unmarshal(env.Data, v)
}
