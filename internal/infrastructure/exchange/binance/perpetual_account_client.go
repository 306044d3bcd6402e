package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
)

// PerpetualAccountClient Binance perpetual account query client
type PerpetualAccountClient struct {
	*APIClient
}

// NewPerpetualAccountClient creates perpetual account client
func NewPerpetualAccountClient(client *APIClient) *PerpetualAccountClient {
	return &PerpetualAccountClient{APIClient: client}
}

// AccountResponse 账户响应
type AccountResponse struct {
	FeeTier               int         `json:"feeTier"`
	CanTrade              bool        `json:"canTrade"`
	CanDeposit            bool        `json:"canDeposit"`
	CanWithdraw           bool        `json:"canWithdraw"`
	UpdateTime            int64       `json:"updateTime"`
	TotalInitialMargin    string      `json:"totalInitialMargin"`
	TotalMaintMargin      string      `json:"totalMaintMargin"`
	TotalWalletBalance    string      `json:"totalWalletBalance"`
	TotalUnrealizedProfit string      `json:"totalUnrealizedProfit"`
	AvailableBalance      string      `json:"availableBalance"`
	MaxWithdrawAmount     string      `json:"maxWithdrawAmount"`
	Positions             []PosDetail `json:"positions"`
}

// PosDetail 持仓详情
type PosDetail struct {
	Symbol           string `json:"symbol"`
	InitialMargin    string `json:"initialMargin"`
	MaintMargin      string `json:"maintMargin"`
	UnrealizedProfit string `json:"unrealizedProfit"`
	PositionAmt      string `json:"positionAmt"`
	EntryPrice       string `json:"entryPrice"`
	Leverage         string `json:"leverage"`
	PositionSide     string `json:"positionSide"`
	UpdateTime       int64  `json:"updateTime"`
}

// MarginSummary 保证金概要
type MarginSummary struct {
	WalletBalance    float64 // 钱包余额
	UnrealizedProfit float64 // 未实现盈亏
	MaintMargin      float64 // 维持保证金
	AvailableBalance float64 // 可用余额
}

// GetBalance 获取钱包余额（USDT 计）
func (c *PerpetualAccountClient) GetBalance(ctx context.Context) (float64, error) {
	resp, err := c.fetchAccount(ctx)
	if err != nil {
		return 0, err
	}
	balance, _ := strconv.ParseFloat(resp.TotalWalletBalance, 64)
	return balance, nil
}

// GetMarginSummary 获取保证金概要
func (c *PerpetualAccountClient) GetMarginSummary(ctx context.Context) (*MarginSummary, error) {
	resp, err := c.fetchAccount(ctx)
	if err != nil {
		return nil, err
	}

	wallet, _ := strconv.ParseFloat(resp.TotalWalletBalance, 64)
	unrealized, _ := strconv.ParseFloat(resp.TotalUnrealizedProfit, 64)
	maint, _ := strconv.ParseFloat(resp.TotalMaintMargin, 64)
	avail, _ := strconv.ParseFloat(resp.AvailableBalance, 64)

	return &MarginSummary{
		WalletBalance:    wallet,
		UnrealizedProfit: unrealized,
		MaintMargin:      maint,
		AvailableBalance: avail,
	}, nil
}

func (c *PerpetualAccountClient) fetchAccount(ctx context.Context) (*AccountResponse, error) {
	body, err := c.signedRequest(ctx, "GET", "/fapi/v2/account", nil)
	if err != nil {
		return nil, fmt.Errorf("get binance perpetual account: %w", err)
	}

	var resp AccountResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal binance perpetual account: %w", err)
	}
	return &resp, nil
}
