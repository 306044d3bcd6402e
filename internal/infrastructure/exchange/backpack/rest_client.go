package backpack

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

// MarketClient Backpack 公共行情客户端，无需签名
type MarketClient struct {
	baseURL string
	client  *http.Client
}

// NewMarketClient 创建行情客户端
func NewMarketClient(baseURL string) *MarketClient {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = "https://api.backpack.exchange"
	}
	return &MarketClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// MarkPriceItem /api/v1/markPrices 响应条目
type MarkPriceItem struct {
	Symbol               string `json:"symbol"`
	FundingRate          string `json:"fundingRate"`
	IndexPrice           string `json:"indexPrice"`
	MarkPrice            string `json:"markPrice"`
	NextFundingTimestamp int64  `json:"nextFundingTimestamp"` // 毫秒
}

// MarkPrices 批量查询永续标记价格与资金费率。
// symbol 为空时返回全部永续市场
// Backpack API: GET /api/v1/markPrices
func (c *MarketClient) MarkPrices(ctx context.Context, symbol string) ([]MarkPriceItem, error) {
	params := url.Values{}
	if symbol != "" {
		params.Set("symbol", symbol)
	}

	var items []MarkPriceItem
	if err := c.getJSON(ctx, "/api/v1/markPrices", params, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// DepthSnapshot /api/v1/depth 响应，档位为 [价格, 数量] 字符串对
type DepthSnapshot struct {
	Bids [][]string `json:"bids"`
	Asks [][]string `json:"asks"`
	Ts   int64      `json:"timestamp"`
}

// BestBidAsk 从盘口档位取最优买一卖一
func (d *DepthSnapshot) BestBidAsk() (bid float64, ask float64) {
	for _, level := range d.Bids {
		if len(level) < 1 {
			continue
		}
		px, err := strconv.ParseFloat(level[0], 64)
		if err != nil || px <= 0 {
			continue
		}
		if px > bid {
			bid = px
		}
	}
	for _, level := range d.Asks {
		if len(level) < 1 {
			continue
		}
		px, err := strconv.ParseFloat(level[0], 64)
		if err != nil || px <= 0 {
			continue
		}
		if ask == 0 || px < ask {
			ask = px
		}
	}
	return bid, ask
}

// Depth 查询盘口深度
// Backpack API: GET /api/v1/depth?symbol=SOL_USDC_PERP
func (c *MarketClient) Depth(ctx context.Context, symbol string) (*DepthSnapshot, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	var snap DepthSnapshot
	if err := c.getJSON(ctx, "/api/v1/depth", params, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// TickerItem /api/v1/ticker 响应
type TickerItem struct {
	Symbol    string `json:"symbol"`
	LastPrice string `json:"lastPrice"`
	Volume    string `json:"volume"`
}

// Ticker 查询单个市场的成交快照
// Backpack API: GET /api/v1/ticker?symbol=SOL_USDC
func (c *MarketClient) Ticker(ctx context.Context, symbol string) (*TickerItem, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	var item TickerItem
	if err := c.getJSON(ctx, "/api/v1/ticker", params, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

// FundingRateHistory 查询历史资金费率，key 为结算时间（毫秒）
// Backpack API: GET /api/v1/fundingRates?symbol=&limit=
func (c *MarketClient) FundingRateHistory(ctx context.Context, symbol string, limit int) (map[int64]float64, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("limit", strconv.Itoa(limit))

	var items []struct {
		FundingRate          string `json:"fundingRate"`
		IntervalEndTimestamp string `json:"intervalEndTimestamp"`
	}
	if err := c.getJSON(ctx, "/api/v1/fundingRates", params, &items); err != nil {
		return nil, err
	}

	out := make(map[int64]float64, len(items))
	for _, item := range items {
		ts, err := parseIntervalEnd(item.IntervalEndTimestamp)
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

// parseIntervalEnd 结算时间是 ISO 字符串，可能不带时区
func parseIntervalEnd(s string) (int64, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UnixMilli(), nil
	}
	t, err := time.Parse("2006-01-02T15:04:05", s)
	if err != nil {
		return 0, err
	}
	return t.UTC().UnixMilli(), nil
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
		return fmt.Errorf("backpack http %d: %s", resp.StatusCode, string(body))
	}

	return json.Unmarshal(body, v)
}
