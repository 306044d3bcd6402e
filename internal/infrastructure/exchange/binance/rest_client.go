package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// MarketClient Binance 公共行情 REST 客户端，无需签名
type MarketClient struct {
	baseURL string
	client  *http.Client
}

// PremiumIndexResp 标记价格与资金费率响应
type PremiumIndexResp struct {
	Symbol          string `json:"symbol"`
	MarkPrice       string `json:"markPrice"`
	IndexPrice      string `json:"indexPrice"`
	LastFundingRate string `json:"lastFundingRate"`
	NextFundingTime int64  `json:"nextFundingTime"`
	Time            int64  `json:"time"`
}

// BookTickerResp 最优买卖价响应
type BookTickerResp struct {
	Symbol   string `json:"symbol"`
	BidPrice string `json:"bidPrice"`
	BidQty   string `json:"bidQty"`
	AskPrice string `json:"askPrice"`
	AskQty   string `json:"askQty"`
	Time     int64  `json:"time"`
}

// FundingRateResp 资金费率历史条目
type FundingRateResp struct {
	Symbol      string `json:"symbol"`
	FundingRate string `json:"fundingRate"`
	FundingTime int64  `json:"fundingTime"`
}

// ExchangeInfoResp /fapi/v1/exchangeInfo 响应（只取需要的字段）
type ExchangeInfoResp struct {
	Symbols []SymbolInfo `json:"symbols"`
}

type SymbolInfo struct {
	Symbol       string `json:"symbol"`
	Status       string `json:"status"`
	ContractType string `json:"contractType"`
}

// NewMarketClient 创建 Binance 行情客户端
func NewMarketClient(baseURL string) *MarketClient {
	if baseURL == "" {
		baseURL = "https://fapi.binance.com"
	}
	return &MarketClient{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// PremiumIndex 获取单个合约的标记价格与当期资金费率
func (c *MarketClient) PremiumIndex(ctx context.Context, symbol string) (*PremiumIndexResp, error) {
	url := fmt.Sprintf("%s/fapi/v1/premiumIndex?symbol=%s", c.baseURL, symbol)

	var result PremiumIndexResp
	if err := c.getJSON(ctx, url, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// AllPremiumIndexes 批量获取所有永续合约的标记价格与资金费率
func (c *MarketClient) AllPremiumIndexes(ctx context.Context) ([]PremiumIndexResp, error) {
	url := fmt.Sprintf("%s/fapi/v1/premiumIndex", c.baseURL)

	var results []PremiumIndexResp
	if err := c.getJSON(ctx, url, &results); err != nil {
		return nil, err
	}
	return results, nil
}

// BookTicker 获取单个合约的最优买卖价
func (c *MarketClient) BookTicker(ctx context.Context, symbol string) (*BookTickerResp, error) {
	url := fmt.Sprintf("%s/fapi/v1/ticker/bookTicker?symbol=%s", c.baseURL, symbol)

	var result BookTickerResp
	if err := c.getJSON(ctx, url, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// AllBookTickers 批量获取所有合约的最优买卖价
func (c *MarketClient) AllBookTickers(ctx context.Context) ([]BookTickerResp, error) {
	url := fmt.Sprintf("%s/fapi/v1/ticker/bookTicker", c.baseURL)

	var results []BookTickerResp
	if err := c.getJSON(ctx, url, &results); err != nil {
		return nil, err
	}
	return results, nil
}

// ExchangeInfo 获取全部合约元数据
func (c *MarketClient) ExchangeInfo(ctx context.Context) (*ExchangeInfoResp, error) {
	url := fmt.Sprintf("%s/fapi/v1/exchangeInfo", c.baseURL)

	var result ExchangeInfoResp
	if err := c.getJSON(ctx, url, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// FundingRateHistory 获取资金费率历史
func (c *MarketClient) FundingRateHistory(ctx context.Context, symbol string, limit int) ([]FundingRateResp, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}
	url := fmt.Sprintf("%s/fapi/v1/fundingRate?symbol=%s&limit=%d", c.baseURL, symbol, limit)

	var results []FundingRateResp
	if err := c.getJSON(ctx, url, &results); err != nil {
		return nil, err
	}
	return results, nil
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
		return fmt.Errorf("binance api error: %d %s", resp.StatusCode, string(body))
	}

	return json.NewDecoder(resp.Body).Decode(v)
}
