package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// MarketClient Bybit 公共行情 REST 客户端 (V5 API)
type MarketClient struct {
	baseURL string
	client  *http.Client
}

// TickerItem /v5/market/tickers 单个条目。
// linear 类目带资金费率与标记价格，一次请求拿全
type TickerItem struct {
	Symbol          string `json:"symbol"`
	LastPrice       string `json:"lastPrice"`
	MarkPrice       string `json:"markPrice"`
	Bid1Price       string `json:"bid1Price"`
	Ask1Price       string `json:"ask1Price"`
	FundingRate     string `json:"fundingRate"`
	NextFundingTime string `json:"nextFundingTime"`
}

// TickersResp 批量行情响应
type TickersResp struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  struct {
		Category string       `json:"category"`
		List     []TickerItem `json:"list"`
	} `json:"result"`
}

// FundingHistoryResp 资金费率历史响应
type FundingHistoryResp struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  struct {
		Category string `json:"category"`
		List     []struct {
			Symbol      string `json:"symbol"`
			FundingRate string `json:"fundingRate"`
			FundingTime string `json:"fundingRateTimestamp"`
		} `json:"list"`
	} `json:"result"`
}

// NewMarketClient 创建 Bybit 行情客户端
func NewMarketClient(baseURL string) *MarketClient {
	if baseURL == "" {
		baseURL = "https://api.bybit.com"
	}
	return &MarketClient{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Tickers 获取某类目的全部行情（symbol 为空）或单个交易对行情
func (c *MarketClient) Tickers(ctx context.Context, category, symbol string) ([]TickerItem, error) {
	url := fmt.Sprintf("%s/v5/market/tickers?category=%s", c.baseURL, category)
	if symbol != "" {
		url += "&symbol=" + symbol
	}

	var result TickersResp
	if err := c.getJSON(ctx, url, &result); err != nil {
		return nil, err
	}
	if result.RetCode != 0 {
		return nil, fmt.Errorf("bybit api error: [%d] %s", result.RetCode, result.RetMsg)
	}
	return result.Result.List, nil
}

// FundingRateHistory 获取资金费率历史
func (c *MarketClient) FundingRateHistory(ctx context.Context, symbol string, limit int) (map[int64]float64, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 200 {
		limit = 200
	}
	url := fmt.Sprintf("%s/v5/market/funding/history?category=linear&symbol=%s&limit=%d", c.baseURL, symbol, limit)

	var result FundingHistoryResp
	if err := c.getJSON(ctx, url, &result); err != nil {
		return nil, err
	}
	if result.RetCode != 0 {
		return nil, fmt.Errorf("bybit api error: [%d] %s", result.RetCode, result.RetMsg)
	}

	out := make(map[int64]float64, len(result.Result.List))
	for _, item := range result.Result.List {
		ts, _ := strconv.ParseInt(item.FundingTime, 10, 64)
		rate, _ := strconv.ParseFloat(item.FundingRate, 64)
		out[ts] = rate
	}
	return out, nil
}

func (c *MarketClient) getJSON(ctx context.Context, url string, v interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("bybit api error: %d %s", resp.StatusCode, string(body))
	}

	return json.NewDecoder(resp.Body).Decode(v)
}
