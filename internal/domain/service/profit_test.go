package service

import (
	"math"
	"testing"

	"fundarb/internal/domain/model"
)

func TestProfitEstimateCrossExchange(t *testing.T) {
	pc := NewProfitCalculator()

	// backpack 收 0.10%/期，binance 对冲；1 万美元持有 24 小时 = 3 个结算周期
	est := pc.Estimate(model.StrategyCrossExchange, "backpack", "binance", "SOLUSDT", 10000, 0.001, 24)

	if est.FundingPeriods != 3 {
		t.Fatalf("expected 3 funding periods, got %d", est.FundingPeriods)
	}
	if math.Abs(est.GrossRevenue-30) > 1e-9 {
		t.Fatalf("expected gross 30, got %.4f", est.GrossRevenue)
	}
	// 手续费 10000*(0.00085*2 + 0.0004*2) = 25
	if math.Abs(est.FeeCost-25) > 1e-9 {
		t.Fatalf("expected fee 25, got %.4f", est.FeeCost)
	}
	// 滑点 10000*0.0005*2 = 10
	if math.Abs(est.SlippageCost-10) > 1e-9 {
		t.Fatalf("expected slippage 10, got %.4f", est.SlippageCost)
	}
	if math.Abs(est.NetProfit-(-5)) > 1e-9 {
		t.Fatalf("expected net -5, got %.4f", est.NetProfit)
	}
	// 每期收入 10，费用 35：第 4 期回本
	if est.BreakEvenPeriods != 4 {
		t.Fatalf("expected break even at 4 periods, got %d", est.BreakEvenPeriods)
	}
	// 跨所基差风险 0.2%
	wantMaxLoss := 25.0 + 10 + 10000*0.002
	if math.Abs(est.MaxLoss-wantMaxLoss) > 1e-9 {
		t.Fatalf("expected max loss %.2f, got %.4f", wantMaxLoss, est.MaxLoss)
	}
	t.Logf("✓ 净收益 %.2f，%d 期回本，年化 %.2f%%", est.NetProfit, est.BreakEvenPeriods, est.AnnualizedPct)
}

func TestProfitEstimateLongerHoldTurnsPositive(t *testing.T) {
	pc := NewProfitCalculator()

	short := pc.Estimate(model.StrategyCrossExchange, "backpack", "binance", "SOLUSDT", 10000, 0.001, 8)
	long := pc.Estimate(model.StrategyCrossExchange, "backpack", "binance", "SOLUSDT", 10000, 0.001, 48)

	if short.NetProfit >= 0 {
		t.Fatalf("one period cannot cover fees: %.4f", short.NetProfit)
	}
	if long.NetProfit <= 0 {
		t.Fatalf("six periods must cover fees: %.4f", long.NetProfit)
	}
	if long.AnnualizedPct <= 0 {
		t.Fatalf("expected positive annualized, got %.4f", long.AnnualizedPct)
	}
}

func TestProfitEstimateExtremeRateBasisRisk(t *testing.T) {
	pc := NewProfitCalculator()

	cross := pc.Estimate(model.StrategyCrossExchange, "binance", "bybit", "BTCUSDT", 5000, 0.002, 8)
	extreme := pc.Estimate(model.StrategyExtremeRate, "binance", "binance", "BTCUSDT", 5000, 0.002, 8)

	// 同所现货对冲的基差风险折半
	if extreme.MaxLoss >= cross.MaxLoss {
		t.Fatalf("extreme rate max loss %.2f must be below cross exchange %.2f", extreme.MaxLoss, cross.MaxLoss)
	}
}

func TestProfitEstimateNegativeRateDiff(t *testing.T) {
	pc := NewProfitCalculator()

	// 费率差取绝对值：反向费率差同样产生收入
	est := pc.Estimate(model.StrategyCrossExchange, "okx", "binance", "ETHUSDT", 8000, -0.0015, 8)
	if est.GrossRevenue <= 0 {
		t.Fatalf("expected positive gross on negative diff, got %.4f", est.GrossRevenue)
	}
}

func TestProfitEstimateZeroSize(t *testing.T) {
	pc := NewProfitCalculator()
	est := pc.Estimate(model.StrategyCrossExchange, "binance", "bybit", "BTCUSDT", 0, 0.001, 8)
	if est.GrossRevenue != 0 || est.NetProfit != 0 {
		t.Fatalf("zero size must yield zero estimate: %+v", est)
	}
}

func TestProfitDefaultRates(t *testing.T) {
	pc := NewProfitCalculator()

	if got := pc.FeeRate("unknown_venue"); got != pc.DefaultTakerFee {
		t.Fatalf("expected default fee, got %.5f", got)
	}
	if got := pc.SlippageRate("DOGEUSDT"); got != pc.DefaultSlippage {
		t.Fatalf("expected default slippage, got %.5f", got)
	}
	if got := pc.FeeRate("backpack"); got != 0.00085 {
		t.Fatalf("expected backpack taker 0.00085, got %.5f", got)
	}
}

func TestOptimalSize(t *testing.T) {
	pc := NewProfitCalculator()

	// 风险上限 1000，利润加权 10000*0.05=500，取较小者
	size := pc.OptimalSize(10000, 0.5, 2000, 0.1)
	if math.Abs(size-500) > 1e-9 {
		t.Fatalf("expected 500, got %.2f", size)
	}

	// 高利润率时权重封顶 0.5，受风险上限约束
	size = pc.OptimalSize(10000, 10, 2000, 0.1)
	if math.Abs(size-1000) > 1e-9 {
		t.Fatalf("expected risk cap 1000, got %.2f", size)
	}

	// 单笔上限收口
	size = pc.OptimalSize(100000, 10, 2000, 0.1)
	if math.Abs(size-2000) > 1e-9 {
		t.Fatalf("expected single cap 2000, got %.2f", size)
	}

	if pc.OptimalSize(0, 1, 2000, 0.1) != 0 || pc.OptimalSize(10000, 0, 2000, 0.1) != 0 {
		t.Fatal("zero balance or zero edge must size to zero")
	}
}
