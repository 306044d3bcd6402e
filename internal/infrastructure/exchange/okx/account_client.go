package okx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
)

// AccountClient OKX 统一账户查询客户端
type AccountClient struct {
	*APIClient
}

// NewAccountClient 创建账户客户端
func NewAccountClient(client *APIClient) *AccountClient {
	return &AccountClient{APIClient: client}
}

// accountResponse OKX 账户余额 API 响应结构
type accountResponse struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
	Data []struct {
		TotalEq  string `json:"totalEq"`  // 总权益（USD）
		Imr      string `json:"imr"`      // 初始保证金总值
		Mmr      string `json:"mmr"`      // 维持保证金总值
		OrdFroz  string `json:"ordFroz"`  // 挂单冻结总额
		MgnRatio string `json:"mgnRatio"` // 保证金率
		Details  []struct {
			Ccy      string `json:"ccy"`      // 币种
			Eq       string `json:"eq"`       // 权益
			EqUsd    string `json:"eqUsd"`    // 权益 USD 值
			AvailEq  string `json:"availEq"`  // 可用权益
			CashBal  string `json:"cashBal"`  // 现金余额
			AvailBal string `json:"availBal"` // 可用余额
		} `json:"details"`
	} `json:"data"`
}

// MarginSummary 保证金概览
type MarginSummary struct {
	TotalEquity     float64
	InitialMargin   float64
	MaintMargin     float64
	OrderFrozen     float64
	AvailableEquity float64
}

// GetBalance 获取账户总权益（USD 计）
func (c *AccountClient) GetBalance(ctx context.Context) (float64, error) {
	summary, err := c.GetMarginSummary(ctx)
	if err != nil {
		return 0, err
	}
	return summary.TotalEquity, nil
}

// GetAvailableBalance 获取可用保证金 = 总权益 - 初始保证金 - 挂单冻结
func (c *AccountClient) GetAvailableBalance(ctx context.Context) (float64, error) {
	summary, err := c.GetMarginSummary(ctx)
	if err != nil {
		return 0, err
	}
	return summary.AvailableEquity, nil
}

// GetMarginSummary 获取保证金概览
func (c *AccountClient) GetMarginSummary(ctx context.Context) (*MarginSummary, error) {
	resp, err := c.fetchAccount(ctx)
	if err != nil {
		return nil, err
	}

	if resp.Code != "0" {
		return nil, fmt.Errorf("okx api error: %s", resp.Msg)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("no account data returned")
	}

	acct := resp.Data[0]
	totalEq, _ := strconv.ParseFloat(acct.TotalEq, 64)
	imr, _ := strconv.ParseFloat(acct.Imr, 64)
	mmr, _ := strconv.ParseFloat(acct.Mmr, 64)
	ordFroz, _ := strconv.ParseFloat(acct.OrdFroz, 64)

	avail := totalEq - imr - ordFroz
	if avail < 0 {
		avail = 0
	}

	return &MarginSummary{
		TotalEquity:     totalEq,
		InitialMargin:   imr,
		MaintMargin:     mmr,
		OrderFrozen:     ordFroz,
		AvailableEquity: avail,
	}, nil
}

// fetchAccount 调用 OKX 账户余额接口
func (c *AccountClient) fetchAccount(ctx context.Context) (*accountResponse, error) {
	// OKX API: GET /api/v5/account/balance
	body, err := c.signedQueryRequest(ctx, http.MethodGet, "/api/v5/account/balance", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch okx account: %w", err)
	}

	var resp accountResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal okx account: %w", err)
	}

	return &resp, nil
}
