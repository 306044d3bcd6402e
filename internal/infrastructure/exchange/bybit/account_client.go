package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// AccountClient Bybit 统一账户查询客户端
type AccountClient struct {
	*APIClient
}

// NewAccountClient 创建账户客户端
func NewAccountClient(client *APIClient) *AccountClient {
	return &AccountClient{APIClient: client}
}

// AccountResponse 账户响应结构
type AccountResponse struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  struct {
		List []struct {
			AccountType           string `json:"accountType"`
			TotalEquity           string `json:"totalEquity"`
			TotalWalletBalance    string `json:"totalWalletBalance"`
			TotalMarginBalance    string `json:"totalMarginBalance"`
			TotalAvailableBalance string `json:"totalAvailableBalance"`
			TotalPerpUPL          string `json:"totalPerpUPL"`
		} `json:"list"`
	} `json:"result"`
}

// PositionListResponse 持仓列表响应
type PositionListResponse struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  struct {
		Category string `json:"category"`
		List     []struct {
			Symbol        string `json:"symbol"`
			Side          string `json:"side"`
			Size          string `json:"size"`
			AvgPrice      string `json:"avgPrice"`
			MarkPrice     string `json:"markPrice"`
			UnrealisedPnl string `json:"unrealisedPnl"`
			Leverage      string `json:"leverage"`
		} `json:"list"`
	} `json:"result"`
}

// BybitPosition 持仓信息
type BybitPosition struct {
	Symbol           string
	Side             string
	PositionAmount   float64
	EntryPrice       float64
	MarkPrice        float64
	UnrealizedProfit float64
	Leverage         string
}

// GetBalance 获取统一账户钱包余额（所有币种换算为 USD）
func (c *AccountClient) GetBalance(ctx context.Context) (float64, error) {
	resp, err := c.fetchWallet(ctx)
	if err != nil {
		return 0, err
	}
	if len(resp.Result.List) == 0 {
		return 0, fmt.Errorf("bybit wallet list empty")
	}
	balance, _ := strconv.ParseFloat(resp.Result.List[0].TotalWalletBalance, 64)
	return balance, nil
}

// GetAvailableBalance 获取统一账户可用保证金
func (c *AccountClient) GetAvailableBalance(ctx context.Context) (float64, error) {
	resp, err := c.fetchWallet(ctx)
	if err != nil {
		return 0, err
	}
	if len(resp.Result.List) == 0 {
		return 0, fmt.Errorf("bybit wallet list empty")
	}
	balance, _ := strconv.ParseFloat(resp.Result.List[0].TotalAvailableBalance, 64)
	return balance, nil
}

// GetOpenPositions 查询所有开仓持仓
func (c *AccountClient) GetOpenPositions(ctx context.Context) ([]*BybitPosition, error) {
	params := url.Values{}
	params.Set("category", "linear")
	params.Set("settleCoin", "USDT")

	body, err := c.signedQueryRequest(ctx, http.MethodGet, "/v5/position/list", params)
	if err != nil {
		return nil, fmt.Errorf("get positions failed: %w", err)
	}

	var resp PositionListResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse positions response failed: %w", err)
	}

	if resp.RetCode != 0 {
		return nil, fmt.Errorf("get positions error: [%d] %s", resp.RetCode, resp.RetMsg)
	}

	var positions []*BybitPosition
	for _, posDetail := range resp.Result.List {
		// 只返回有仓位的持仓
		if posDetail.Size == "0" {
			continue
		}

		size, _ := strconv.ParseFloat(posDetail.Size, 64)
		entryPrice, _ := strconv.ParseFloat(posDetail.AvgPrice, 64)
		markPrice, _ := strconv.ParseFloat(posDetail.MarkPrice, 64)
		unPnL, _ := strconv.ParseFloat(posDetail.UnrealisedPnl, 64)

		positions = append(positions, &BybitPosition{
			Symbol:           posDetail.Symbol,
			Side:             posDetail.Side,
			PositionAmount:   size,
			EntryPrice:       entryPrice,
			MarkPrice:        markPrice,
			UnrealizedProfit: unPnL,
			Leverage:         posDetail.Leverage,
		})
	}

	return positions, nil
}

func (c *AccountClient) fetchWallet(ctx context.Context) (*AccountResponse, error) {
	params := url.Values{}
	params.Set("accountType", "UNIFIED")

	body, err := c.signedQueryRequest(ctx, http.MethodGet, "/v5/account/wallet-balance", params)
	if err != nil {
		return nil, fmt.Errorf("get account failed: %w", err)
	}

	var resp AccountResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse account response failed: %w", err)
	}

	if resp.RetCode != 0 {
		return nil, fmt.Errorf("get account error: [%d] %s", resp.RetCode, resp.RetMsg)
	}
	return &resp, nil
}
