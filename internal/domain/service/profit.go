package service

import (
	"math"

	"fundarb/internal/domain/model"
)

// ProfitCalculator 套利收益测算器
// 收入按资金费结算周期累计，成本覆盖四腿吃单手续费与双边滑点
type ProfitCalculator struct {
	TakerFees     map[string]float64 // 交易所 → 吃单费率
	SlippageRates map[string]float64 // 符号 → 单边滑点率

	DefaultTakerFee float64
	DefaultSlippage float64
}

// NewProfitCalculator 创建收益测算器，含主流交易所默认费率
func NewProfitCalculator() *ProfitCalculator {
	return &ProfitCalculator{
		TakerFees: map[string]float64{
			"binance":  0.0004,
			"bybit":    0.00055,
			"okx":      0.0005,
			"backpack": 0.00085,
		},
		SlippageRates: map[string]float64{
			"BTCUSDT": 0.0001,
			"ETHUSDT": 0.0002,
			"SOLUSDT": 0.0005,
		},
		DefaultTakerFee: 0.001,
		DefaultSlippage: 0.001,
	}
}

// FeeRate 交易所吃单费率
func (pc *ProfitCalculator) FeeRate(exchange string) float64 {
	if fee, ok := pc.TakerFees[exchange]; ok {
		return fee
	}
	return pc.DefaultTakerFee
}

// SlippageRate 符号单边滑点率
func (pc *ProfitCalculator) SlippageRate(symbol string) float64 {
	if s, ok := pc.SlippageRates[symbol]; ok {
		return s
	}
	return pc.DefaultSlippage
}

// ProfitEstimate 收益测算结果，金额均为美元
type ProfitEstimate struct {
	PositionSize     float64 `json:"position_size"` // 单边名义
	GrossRevenue     float64 `json:"gross_revenue"` // 资金费收入
	FeeCost          float64 `json:"fee_cost"`      // 四腿手续费（双所开平仓）
	SlippageCost     float64 `json:"slippage_cost"`
	NetProfit        float64 `json:"net_profit"`
	MaxLoss          float64 `json:"max_loss"`          // 费用 + 滑点 + 基差风险
	FundingPeriods   int     `json:"funding_periods"`   // 持有期内的结算次数
	BreakEvenPeriods int     `json:"break_even_periods"`
	AnnualizedPct    float64 `json:"annualized_pct"`
}

// Estimate 资金费率套利收益测算
// primary 为收取高费率的一侧，secondary 为对冲侧；rateDiff 为每结算周期的费率差
func (pc *ProfitCalculator) Estimate(strategy model.StrategyKind, primary, secondary, symbol string, size, rateDiff, holdingHours float64) ProfitEstimate {
	est := ProfitEstimate{PositionSize: size}
	if size <= 0 {
		return est
	}
	if holdingHours <= 0 {
		holdingHours = 8
	}

	est.FundingPeriods = int(holdingHours / 8)
	if est.FundingPeriods < 1 {
		est.FundingPeriods = 1
	}

	diff := math.Abs(rateDiff)
	est.GrossRevenue = size * diff * float64(est.FundingPeriods)
	est.FeeCost = size*pc.FeeRate(primary)*2 + size*pc.FeeRate(secondary)*2
	est.SlippageCost = size * pc.SlippageRate(symbol) * 2
	est.NetProfit = est.GrossRevenue - est.FeeCost - est.SlippageCost

	// 基差风险：跨所对冲敞口按 0.2% 计，同所现货对冲按 0.1% 计
	basisRisk := 0.002
	if strategy == model.StrategyExtremeRate {
		basisRisk = 0.001
	}
	est.MaxLoss = est.FeeCost + est.SlippageCost + size*basisRisk

	if perPeriod := size * diff; perPeriod > 0 {
		est.BreakEvenPeriods = int(math.Ceil((est.FeeCost + est.SlippageCost) / perPeriod))
	}
	est.AnnualizedPct = (est.NetProfit / size) * (365 * 24 / holdingHours) * 100

	return est
}

// OptimalSize 单笔规模建议
// 余额风险上限、利润加权上限与单笔上限三者取小；expectedProfitPct 为预期净利率（百分数）
func (pc *ProfitCalculator) OptimalSize(balance, expectedProfitPct, maxSingle, maxRiskShare float64) float64 {
	if balance <= 0 || expectedProfitPct <= 0 {
		return 0
	}
	if maxRiskShare <= 0 {
		maxRiskShare = 0.1
	}

	riskCap := balance * maxRiskShare
	weight := expectedProfitPct * 0.1
	if weight > 0.5 {
		weight = 0.5
	}
	size := math.Min(riskCap, balance*weight)
	if maxSingle > 0 {
		size = math.Min(size, maxSingle)
	}
	return size
}
