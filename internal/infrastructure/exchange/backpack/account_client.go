package backpack

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
)

// AccountClient Backpack 资金账户查询客户端
type AccountClient struct {
	*APIClient
}

// NewAccountClient 创建账户客户端
func NewAccountClient(client *APIClient) *AccountClient {
	return &AccountClient{APIClient: client}
}

// assetBalance /api/v1/capital 响应的单币种余额
type assetBalance struct {
	Available string `json:"available"`
	Locked    string `json:"locked"`
	Staked    string `json:"staked"`
}

// GetBalance 获取账户总余额（USD 计）。
// 稳定币直接计入，其他资产按现货最新价折算
func (c *AccountClient) GetBalance(ctx context.Context) (float64, error) {
	balances, err := c.fetchCapital(ctx)
	if err != nil {
		return 0, err
	}

	priceCache := make(map[string]float64)
	var totalUSD float64

	for asset, bal := range balances {
		available, _ := strconv.ParseFloat(bal.Available, 64)
		locked, _ := strconv.ParseFloat(bal.Locked, 64)
		amount := available + locked
		if amount <= 0 {
			continue
		}

		asset = strings.ToUpper(strings.TrimSpace(asset))
		if isUSDStableCoin(asset) {
			totalUSD += amount
			continue
		}

		value, err := c.assetToUSD(ctx, asset, amount, priceCache)
		if err != nil {
			// 忽略无法折算的资产
			continue
		}
		totalUSD += value
	}

	return totalUSD, nil
}

// fetchCapital 调用 Backpack 资金接口
// Backpack API: GET /api/v1/capital (instruction balanceQuery)
func (c *AccountClient) fetchCapital(ctx context.Context) (map[string]assetBalance, error) {
	body, err := c.signedRequest(ctx, http.MethodGet, "/api/v1/capital", "balanceQuery", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch backpack capital: %w", err)
	}

	var balances map[string]assetBalance
	if err := json.Unmarshal(body, &balances); err != nil {
		return nil, fmt.Errorf("failed to unmarshal backpack capital: %w", err)
	}

	return balances, nil
}

// assetToUSD 将资产按现货最新价折算为 USD 价值
func (c *AccountClient) assetToUSD(ctx context.Context, asset string, amount float64, cache map[string]float64) (float64, error) {
	if amount <= 0 {
		return 0, nil
	}

	if price, ok := cache[asset]; ok {
		return amount * price, nil
	}

	price, err := c.fetchLastPrice(ctx, asset+"_USDC")
	if err != nil {
		return 0, err
	}
	cache[asset] = price
	return amount * price, nil
}

// fetchLastPrice 公共行情接口，无需签名
func (c *AccountClient) fetchLastPrice(ctx context.Context, symbol string) (float64, error) {
	endpoint := c.baseURL + "/api/v1/ticker?symbol=" + symbol

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, err
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("backpack http %d: %s", resp.StatusCode, string(body))
	}

	var ticker struct {
		LastPrice string `json:"lastPrice"`
	}
	if err := json.Unmarshal(body, &ticker); err != nil {
		return 0, err
	}

	price, err := strconv.ParseFloat(ticker.LastPrice, 64)
	if err != nil || price <= 0 {
		return 0, fmt.Errorf("no price available for %s", symbol)
	}
	return price, nil
}

func isUSDStableCoin(asset string) bool {
	switch asset {
	case "USDT", "USDC", "USD", "DAI":
		return true
	}
	return false
}
