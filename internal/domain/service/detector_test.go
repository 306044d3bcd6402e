package service

import (
	"math"
	"testing"
	"time"

	"fundarb/internal/domain/model"
)

func testView(now time.Time, rates []model.RateSnapshot, prices []model.PriceSnapshot) *model.MarketView {
	view := &model.MarketView{
		Rates:      make(map[string]model.RateSnapshot),
		Prices:     make(map[string]model.PriceSnapshot),
		CapturedAt: now.UnixMilli(),
	}
	for _, r := range rates {
		view.Rates[r.Key()] = r
	}
	for _, p := range prices {
		view.Prices[p.Key()] = p
	}
	return view
}

// Backpack +0.08% 对 Binance -0.02%：跨所机会，费率差约 0.10%，
// 高费率所做空、低费率所做多
func TestDetectorCrossExchangeSpread(t *testing.T) {
	now := time.Now()
	view := testView(now, []model.RateSnapshot{
		{Exchange: "backpack", Symbol: "SOLUSDT", FundingRate: 0.0008, MarkPrice: 150.2, CapturedAt: now.UnixMilli()},
		{Exchange: "binance", Symbol: "SOLUSDT", FundingRate: -0.0002, MarkPrice: 150.1, CapturedAt: now.UnixMilli()},
	}, nil)

	d := NewOpportunityDetector(DefaultDetectorConfig(), nil, nil)
	opps := d.DetectKind(model.StrategyCrossExchange, view, now)
	if len(opps) != 1 {
		t.Fatalf("expected 1 opportunity, got %d", len(opps))
	}

	opp := opps[0]
	if opp.Strategy != model.StrategyCrossExchange {
		t.Errorf("strategy = %s, want cross_exchange", opp.Strategy)
	}
	if math.Abs(opp.ExpectedRateDiff-0.0010) > 1e-9 {
		t.Errorf("rate diff = %.6f, want 0.0010", opp.ExpectedRateDiff)
	}
	// 预期利润约为名义规模的 0.10%
	wantProfit := opp.Notional() * 0.0010
	if math.Abs(opp.ExpectedProfit-wantProfit) > 1e-6 {
		t.Errorf("expected profit = %.4f, want %.4f", opp.ExpectedProfit, wantProfit)
	}

	if len(opp.Legs) != 2 {
		t.Fatalf("expected 2 legs, got %d", len(opp.Legs))
	}
	var short, long model.Leg
	for _, leg := range opp.Legs {
		if leg.Side == model.SideShort {
			short = leg
		} else {
			long = leg
		}
	}
	if short.Exchange != "backpack" {
		t.Errorf("short leg on %s, want backpack (higher rate)", short.Exchange)
	}
	if long.Exchange != "binance" {
		t.Errorf("long leg on %s, want binance (lower rate)", long.Exchange)
	}
	if !opp.Hedged() {
		t.Error("cross exchange legs should hedge directional exposure")
	}
	t.Logf("✓ cross_exchange: short@%s long@%s diff=%.4f%% profit=%.2f", short.Exchange, long.Exchange, opp.ExpectedRateDiff*100, opp.ExpectedProfit)
}

// 单所费率 +0.15% 超过 0.06% 阈值：同所做空永续、做多现货
func TestDetectorExtremeRate(t *testing.T) {
	now := time.Now()
	view := testView(now, []model.RateSnapshot{
		{Exchange: "bybit", Symbol: "ETHUSDT", FundingRate: 0.0015, MarkPrice: 3200, CapturedAt: now.UnixMilli()},
	}, nil)

	cfg := DefaultDetectorConfig()
	params := cfg.Strategies[model.StrategyExtremeRate]
	params.MinThreshold = 0.0006
	cfg.Strategies[model.StrategyExtremeRate] = params

	d := NewOpportunityDetector(cfg, nil, nil)
	opps := d.DetectKind(model.StrategyExtremeRate, view, now)
	if len(opps) != 1 {
		t.Fatalf("expected 1 opportunity, got %d", len(opps))
	}

	opp := opps[0]
	if opp.Strategy != model.StrategyExtremeRate {
		t.Errorf("strategy = %s, want extreme_rate", opp.Strategy)
	}
	var perp, spot model.Leg
	for _, leg := range opp.Legs {
		switch leg.Market {
		case model.MarketPerpetual:
			perp = leg
		case model.MarketSpot:
			spot = leg
		}
	}
	if perp.Side != model.SideShort {
		t.Errorf("perp side = %s, want short for positive rate", perp.Side)
	}
	if spot.Side != model.SideLong {
		t.Errorf("spot side = %s, want long hedge", spot.Side)
	}
	if perp.Exchange != "bybit" || spot.Exchange != "bybit" {
		t.Error("both legs must stay on the same venue")
	}
}

// 负极端费率方向镜像：做多永续收费率，做空现货对冲
func TestDetectorExtremeRateNegative(t *testing.T) {
	now := time.Now()
	view := testView(now, []model.RateSnapshot{
		{Exchange: "okx", Symbol: "DOGEUSDT", FundingRate: -0.002, MarkPrice: 0.12, CapturedAt: now.UnixMilli()},
	}, nil)

	d := NewOpportunityDetector(DefaultDetectorConfig(), nil, nil)
	opps := d.DetectKind(model.StrategyExtremeRate, view, now)
	if len(opps) != 1 {
		t.Fatalf("expected 1 opportunity, got %d", len(opps))
	}
	for _, leg := range opps[0].Legs {
		if leg.Market == model.MarketPerpetual && leg.Side != model.SideLong {
			t.Errorf("perp side = %s, want long for negative rate", leg.Side)
		}
		if leg.Market == model.MarketSpot && leg.Side != model.SideShort {
			t.Errorf("spot side = %s, want short hedge", leg.Side)
		}
	}
}

// 同一快照集重复检测：产出同一组机会与同样的确定性 ID
func TestDetectorIdempotent(t *testing.T) {
	now := time.Now()
	view := testView(now, []model.RateSnapshot{
		{Exchange: "backpack", Symbol: "SOLUSDT", FundingRate: 0.0008, MarkPrice: 150, CapturedAt: now.UnixMilli()},
		{Exchange: "binance", Symbol: "SOLUSDT", FundingRate: -0.0002, MarkPrice: 150, CapturedAt: now.UnixMilli()},
		{Exchange: "bybit", Symbol: "ETHUSDT", FundingRate: 0.0015, MarkPrice: 3200, CapturedAt: now.UnixMilli()},
	}, nil)

	d := NewOpportunityDetector(DefaultDetectorConfig(), nil, nil)
	first := d.Detect(view, now)
	second := d.Detect(view, now.Add(3*time.Second))

	if len(first) == 0 {
		t.Fatal("expected opportunities from first pass")
	}
	if len(first) != len(second) {
		t.Fatalf("pass sizes differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].ID != second[i].ID {
			t.Errorf("opportunity %d id changed between passes: %s vs %s", i, first[i].ID, second[i].ID)
		}
		if first[i].DedupKey() != second[i].DedupKey() {
			t.Errorf("opportunity %d dedup key changed", i)
		}
	}
	t.Logf("✓ %d opportunities stable across repeated detection", len(first))
}

// 同周期内同一 (策略, 腿组合) 只保留最高信心度实例
func TestDetectorDeduplicates(t *testing.T) {
	now := time.Now()
	d := NewOpportunityDetector(DefaultDetectorConfig(), nil, nil)

	view := testView(now, []model.RateSnapshot{
		{Exchange: "backpack", Symbol: "SOLUSDT", FundingRate: 0.0008, MarkPrice: 150, CapturedAt: now.UnixMilli()},
		{Exchange: "binance", Symbol: "SOLUSDT", FundingRate: -0.0002, MarkPrice: 150, CapturedAt: now.UnixMilli()},
	}, nil)

	// 人为拼接两轮原始产出，模拟周期内的重复检测
	batch := append(d.DetectKind(model.StrategyCrossExchange, view, now), d.DetectKind(model.StrategyCrossExchange, view, now)...)
	merged := make(map[string]int)
	for _, opp := range batch {
		merged[opp.DedupKey()]++
	}
	if len(merged) != 1 {
		t.Fatalf("expected a single dedup key, got %d", len(merged))
	}
}

// 信心度随快照年龄单调下降
func TestDetectorConfidenceDecaysWithAge(t *testing.T) {
	now := time.Now()
	d := NewOpportunityDetector(DefaultDetectorConfig(), nil, nil)

	fresh := testView(now, []model.RateSnapshot{
		{Exchange: "backpack", Symbol: "SOLUSDT", FundingRate: 0.0008, MarkPrice: 150, CapturedAt: now.UnixMilli()},
		{Exchange: "binance", Symbol: "SOLUSDT", FundingRate: -0.0002, MarkPrice: 150, CapturedAt: now.UnixMilli()},
	}, nil)
	aged := testView(now, []model.RateSnapshot{
		{Exchange: "backpack", Symbol: "SOLUSDT", FundingRate: 0.0008, MarkPrice: 150, CapturedAt: now.Add(-4 * time.Minute).UnixMilli()},
		{Exchange: "binance", Symbol: "SOLUSDT", FundingRate: -0.0002, MarkPrice: 150, CapturedAt: now.Add(-4 * time.Minute).UnixMilli()},
	}, nil)

	freshOpps := d.DetectKind(model.StrategyCrossExchange, fresh, now)
	agedOpps := d.DetectKind(model.StrategyCrossExchange, aged, now)
	if len(freshOpps) != 1 || len(agedOpps) != 1 {
		t.Fatalf("expected one opportunity per view, got %d and %d", len(freshOpps), len(agedOpps))
	}
	if agedOpps[0].Confidence >= freshOpps[0].Confidence {
		t.Errorf("stale data confidence %.3f should be below fresh %.3f", agedOpps[0].Confidence, freshOpps[0].Confidence)
	}
}

// 跨源价格分歧越大信心度越低
func TestDetectorConfidenceDecaysWithDisagreement(t *testing.T) {
	now := time.Now()
	d := NewOpportunityDetector(DefaultDetectorConfig(), nil, nil)

	agree := testView(now, []model.RateSnapshot{
		{Exchange: "backpack", Symbol: "SOLUSDT", FundingRate: 0.0008, MarkPrice: 150.0, CapturedAt: now.UnixMilli()},
		{Exchange: "binance", Symbol: "SOLUSDT", FundingRate: -0.0002, MarkPrice: 150.05, CapturedAt: now.UnixMilli()},
	}, nil)
	disagree := testView(now, []model.RateSnapshot{
		{Exchange: "backpack", Symbol: "SOLUSDT", FundingRate: 0.0008, MarkPrice: 150.0, CapturedAt: now.UnixMilli()},
		{Exchange: "binance", Symbol: "SOLUSDT", FundingRate: -0.0002, MarkPrice: 144.0, CapturedAt: now.UnixMilli()},
	}, nil)

	a := d.DetectKind(model.StrategyCrossExchange, agree, now)
	b := d.DetectKind(model.StrategyCrossExchange, disagree, now)
	if len(a) != 1 || len(b) != 1 {
		t.Fatalf("expected one opportunity per view, got %d and %d", len(a), len(b))
	}
	if b[0].Confidence >= a[0].Confidence {
		t.Errorf("disagreeing sources confidence %.3f should be below agreeing %.3f", b[0].Confidence, a[0].Confidence)
	}
}

// 低于最小利润阈值的机会不产出
func TestDetectorMinProfitGate(t *testing.T) {
	now := time.Now()
	cfg := DefaultDetectorConfig()
	cfg.MinProfitThreshold = 0.002 // 0.2% 名义规模

	view := testView(now, []model.RateSnapshot{
		{Exchange: "backpack", Symbol: "SOLUSDT", FundingRate: 0.0008, MarkPrice: 150, CapturedAt: now.UnixMilli()},
		{Exchange: "binance", Symbol: "SOLUSDT", FundingRate: -0.0002, MarkPrice: 150, CapturedAt: now.UnixMilli()},
	}, nil)

	d := NewOpportunityDetector(cfg, nil, nil)
	if opps := d.DetectKind(model.StrategyCrossExchange, view, now); len(opps) != 0 {
		t.Fatalf("opportunity below profit threshold should be discarded, got %d", len(opps))
	}
}

// 基差偏离资金费率隐含理论值时产出期现对冲
func TestDetectorBasis(t *testing.T) {
	now := time.Now()
	view := testView(now, []model.RateSnapshot{
		{Exchange: "binance", Symbol: "BTCUSDT", FundingRate: 0.0001, MarkPrice: 60900, CapturedAt: now.UnixMilli()},
	}, []model.PriceSnapshot{
		{Exchange: "binance", Symbol: "BTCUSDT", Bid: 60000, Ask: 60002, CapturedAt: now.UnixMilli()},
	})

	d := NewOpportunityDetector(DefaultDetectorConfig(), nil, nil)
	opps := d.DetectKind(model.StrategyBasis, view, now)
	if len(opps) != 1 {
		t.Fatalf("expected 1 basis opportunity, got %d", len(opps))
	}

	// 永续升水：做空永续、做多现货
	for _, leg := range opps[0].Legs {
		if leg.Market == model.MarketPerpetual && leg.Side != model.SideShort {
			t.Errorf("perp leg side = %s, want short when futures trade rich", leg.Side)
		}
		if leg.Market == model.MarketSpot && leg.Side != model.SideLong {
			t.Errorf("spot leg side = %s, want long", leg.Side)
		}
	}
}

// 三角环路复合汇率超过 1 加阈值时产出
func TestDetectorTriangular(t *testing.T) {
	now := time.Now()
	// BTC/USDT=60000, ETH/BTC=0.05, ETH/USDT=3100 → 3100/(60000*0.05)=1.0333
	view := testView(now, nil, []model.PriceSnapshot{
		{Exchange: "binance", Symbol: "BTCUSDT", Bid: 59999, Ask: 60000, CapturedAt: now.UnixMilli()},
		{Exchange: "binance", Symbol: "ETHBTC", Bid: 0.0499, Ask: 0.05, CapturedAt: now.UnixMilli()},
		{Exchange: "binance", Symbol: "ETHUSDT", Bid: 3100, Ask: 3101, CapturedAt: now.UnixMilli()},
	})

	cfg := DefaultDetectorConfig()
	cfg.TriangularPaths = [][]string{{"BTCUSDT", "ETHBTC", "ETHUSDT"}}

	d := NewOpportunityDetector(cfg, nil, nil)
	opps := d.DetectKind(model.StrategyTriangular, view, now)
	if len(opps) != 1 {
		t.Fatalf("expected 1 triangular opportunity, got %d", len(opps))
	}
	opp := opps[0]
	if opp.ExpectedRateDiff < 0.03 || opp.ExpectedRateDiff > 0.04 {
		t.Errorf("loop profit rate = %.4f, want ~0.0333", opp.ExpectedRateDiff)
	}
	if len(opp.Legs) != 3 {
		t.Errorf("expected 3 legs, got %d", len(opp.Legs))
	}
}

// 高相关资产对比价偏离超过 z 阈值时产出均值回归机会
func TestDetectorStatistical(t *testing.T) {
	now := time.Now()
	history := NewPriceHistory(256)

	// 构造强相关的两条序列，尾部人为拉开比价
	for i := 0; i < 120; i++ {
		base := 100 + float64(i%7)
		history.Push("BTCUSDT", base*600)
		history.Push("ETHUSDT", base*31)
	}
	history.Push("BTCUSDT", 107*600*1.08) // 最新观测显著偏高
	history.Push("ETHUSDT", 107*31)

	view := testView(now, []model.RateSnapshot{
		{Exchange: "binance", Symbol: "BTCUSDT", FundingRate: 0.0001, MarkPrice: 64000, CapturedAt: now.UnixMilli()},
		{Exchange: "binance", Symbol: "ETHUSDT", FundingRate: 0.0001, MarkPrice: 3300, CapturedAt: now.UnixMilli()},
	}, nil)

	cfg := DefaultDetectorConfig()
	cfg.StatPairs = [][]string{{"BTCUSDT", "ETHUSDT"}}

	d := NewOpportunityDetector(cfg, nil, history)
	opps := d.DetectKind(model.StrategyStatistical, view, now)
	if len(opps) != 1 {
		t.Fatalf("expected 1 statistical opportunity, got %d", len(opps))
	}

	// 比价偏高：做空 BTC 腿、做多 ETH 腿
	opp := opps[0]
	for _, leg := range opp.Legs {
		if leg.Symbol == "BTCUSDT" && leg.Side != model.SideShort {
			t.Errorf("rich symbol side = %s, want short", leg.Side)
		}
		if leg.Symbol == "ETHUSDT" && leg.Side != model.SideLong {
			t.Errorf("cheap symbol side = %s, want long", leg.Side)
		}
	}
	if opp.Confidence > 1 || opp.Confidence <= 0 {
		t.Errorf("confidence %.3f out of range", opp.Confidence)
	}
}

// 样本不足或相关性不够时统计套利保持沉默
func TestDetectorStatisticalRequiresHistory(t *testing.T) {
	now := time.Now()
	history := NewPriceHistory(256)
	for i := 0; i < 10; i++ {
		history.Push("BTCUSDT", 60000)
		history.Push("ETHUSDT", 3100)
	}

	cfg := DefaultDetectorConfig()
	cfg.StatPairs = [][]string{{"BTCUSDT", "ETHUSDT"}}

	d := NewOpportunityDetector(cfg, nil, history)
	view := testView(now, nil, nil)
	if opps := d.DetectKind(model.StrategyStatistical, view, now); len(opps) != 0 {
		t.Fatalf("expected no opportunities with thin history, got %d", len(opps))
	}
}

// 历史命中率拉动信心度
func TestDetectorHistoricalHitRateFeedsConfidence(t *testing.T) {
	now := time.Now()
	view := testView(now, []model.RateSnapshot{
		{Exchange: "backpack", Symbol: "SOLUSDT", FundingRate: 0.0008, MarkPrice: 150, CapturedAt: now.UnixMilli()},
		{Exchange: "binance", Symbol: "SOLUSDT", FundingRate: -0.0002, MarkPrice: 150, CapturedAt: now.UnixMilli()},
	}, nil)

	good := NewExecutionStats(64)
	bad := NewExecutionStats(64)
	for i := 0; i < 10; i++ {
		good.Record(model.StrategyCrossExchange, "SOLUSDT", model.BackendStandard, model.ExecSuccess, 10*time.Millisecond, 1)
		bad.Record(model.StrategyCrossExchange, "SOLUSDT", model.BackendStandard, model.ExecFailure, 10*time.Millisecond, 0)
	}

	withGood := NewOpportunityDetector(DefaultDetectorConfig(), good, nil).DetectKind(model.StrategyCrossExchange, view, now)
	withBad := NewOpportunityDetector(DefaultDetectorConfig(), bad, nil).DetectKind(model.StrategyCrossExchange, view, now)
	if len(withGood) != 1 || len(withBad) != 1 {
		t.Fatalf("expected one opportunity per detector")
	}
	if withGood[0].Confidence <= withBad[0].Confidence {
		t.Errorf("confidence with winning history %.3f should exceed losing history %.3f",
			withGood[0].Confidence, withBad[0].Confidence)
	}
}

// 连败历史按凯利分数收缩单腿上限，托底 0.25
func TestDetectorKellyShrinksSizing(t *testing.T) {
	now := time.Now()
	view := testView(now, []model.RateSnapshot{
		{Exchange: "backpack", Symbol: "SOLUSDT", FundingRate: 0.0008, MarkPrice: 150, CapturedAt: now.UnixMilli()},
		{Exchange: "binance", Symbol: "SOLUSDT", FundingRate: -0.0002, MarkPrice: 150, CapturedAt: now.UnixMilli()},
	}, nil)

	losing := NewExecutionStats(64)
	for i := 0; i < 10; i++ {
		losing.Record(model.StrategyCrossExchange, "SOLUSDT", model.BackendStandard, model.ExecFailure, 10*time.Millisecond, 0)
	}

	neutral := NewOpportunityDetector(DefaultDetectorConfig(), nil, nil).DetectKind(model.StrategyCrossExchange, view, now)
	shrunk := NewOpportunityDetector(DefaultDetectorConfig(), losing, nil).DetectKind(model.StrategyCrossExchange, view, now)
	if len(neutral) != 1 || len(shrunk) != 1 {
		t.Fatalf("expected one opportunity per detector")
	}

	// 无历史时信号 0.0010 × 2,000,000 触顶 2000；连败后上限收缩为 2000 × 0.25
	if got := neutral[0].Notional(); got != 2000 {
		t.Fatalf("neutral notional = %.2f, want 2000", got)
	}
	if got := shrunk[0].Notional(); got != 500 {
		t.Fatalf("kelly notional = %.2f, want 500", got)
	}
}

// 跨所机会携带两腿中较早的资金费结算时刻
func TestDetectorStampsSettlement(t *testing.T) {
	now := time.Now()
	early := now.Add(3 * time.Hour).UnixMilli()
	late := now.Add(7 * time.Hour).UnixMilli()
	view := testView(now, []model.RateSnapshot{
		{Exchange: "backpack", Symbol: "SOLUSDT", FundingRate: 0.0008, MarkPrice: 150, NextSettlement: late, CapturedAt: now.UnixMilli()},
		{Exchange: "binance", Symbol: "SOLUSDT", FundingRate: -0.0002, MarkPrice: 150, NextSettlement: early, CapturedAt: now.UnixMilli()},
	}, nil)

	d := NewOpportunityDetector(DefaultDetectorConfig(), nil, nil)
	opps := d.DetectKind(model.StrategyCrossExchange, view, now)
	if len(opps) != 1 {
		t.Fatalf("expected 1 opportunity, got %d", len(opps))
	}
	if opps[0].SettleAt != early {
		t.Fatalf("settle_at = %d, want earliest leg settlement %d", opps[0].SettleAt, early)
	}
}
