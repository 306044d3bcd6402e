package service

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"fundarb/internal/domain/model"
)

func testLimits() RiskLimits {
	return RiskLimits{
		MaxTotalExposure: 10000,
		StrategyLimits: map[model.StrategyKind]float64{
			model.StrategyCrossExchange: 5000,
		},
		DefaultStrategyCap: 5000,
		MaxDailyLoss:       500,
		MaxDrawdown:        0.10,
		CorrelationLimit:   0.7,
	}
}

func testOpportunity(id, symbol string, notional float64) *model.ArbitrageOpportunity {
	now := time.Now()
	return &model.ArbitrageOpportunity{
		ID:       id,
		Strategy: model.StrategyCrossExchange,
		Symbol:   symbol,
		Legs: []model.Leg{
			{Exchange: "backpack", Symbol: symbol, Market: model.MarketPerpetual, Side: model.SideShort, Notional: notional},
			{Exchange: "binance", Symbol: symbol, Market: model.MarketPerpetual, Side: model.SideLong, Notional: notional},
		},
		ExpectedRateDiff: 0.001,
		Confidence:       0.8,
		RiskLevel:        model.RiskLow,
		CreatedAt:        now.UnixMilli(),
		ExpiresAt:        now.Add(5 * time.Minute).UnixMilli(),
	}
}

func TestRiskManagerReserveAndRelease(t *testing.T) {
	rm := NewRiskManager(testLimits(), nil)
	now := time.Now()

	opp := testOpportunity("opp-1", "SOLUSDT", 2000)
	legs, err := rm.Evaluate(opp, now)
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if len(legs) != 2 {
		t.Fatalf("expected 2 sized legs, got %d", len(legs))
	}

	ledger := rm.Ledger()
	if ledger.TotalExposure != 2000 {
		t.Errorf("total exposure = %.2f, want 2000", ledger.TotalExposure)
	}
	if ledger.PerStrategyExposure[model.StrategyCrossExchange] != 2000 {
		t.Errorf("strategy exposure = %.2f, want 2000", ledger.PerStrategyExposure[model.StrategyCrossExchange])
	}

	if released := rm.Release("opp-1"); !released {
		t.Fatal("release should succeed for reserved opportunity")
	}
	ledger = rm.Ledger()
	if ledger.TotalExposure != 0 || ledger.OpenReservations != 0 {
		t.Errorf("ledger not empty after release: %+v", ledger)
	}

	// 重复释放无效果
	if released := rm.Release("opp-1"); released {
		t.Error("double release should be a no-op")
	}
}

// 台账不变式：各策略敞口之和恒等于总敞口，且不超过上限
func TestRiskManagerLedgerInvariant(t *testing.T) {
	rm := NewRiskManager(testLimits(), nil)
	now := time.Now()

	symbols := []string{"SOLUSDT", "ETHUSDT", "BTCUSDT", "DOGEUSDT"}
	for i, sym := range symbols {
		opp := testOpportunity(fmt.Sprintf("opp-%d", i), sym, 1000)
		if _, err := rm.Evaluate(opp, now); err != nil {
			t.Fatalf("evaluate %s failed: %v", sym, err)
		}
	}

	ledger := rm.Ledger()
	sum := 0.0
	for _, v := range ledger.PerStrategyExposure {
		sum += v
	}
	if sum != ledger.TotalExposure {
		t.Errorf("sum of strategy exposure %.2f != total %.2f", sum, ledger.TotalExposure)
	}
	if ledger.TotalExposure > 10000 {
		t.Errorf("total exposure %.2f exceeds limit", ledger.TotalExposure)
	}
}

// 总敞口超限被拒且台账不变
func TestRiskManagerGlobalExposureExceeded(t *testing.T) {
	rm := NewRiskManager(testLimits(), nil)
	now := time.Now()

	// 先占用 4000
	if _, err := rm.Evaluate(testOpportunity("opp-1", "ETHUSDT", 4000), now); err != nil {
		t.Fatalf("first evaluate failed: %v", err)
	}
	before := rm.Ledger()

	// 7000 > 剩余额度
	_, err := rm.Evaluate(testOpportunity("opp-2", "SOLUSDT", 7000), now)
	rej, ok := model.AsRiskRejection(err)
	if !ok {
		t.Fatalf("expected risk rejection, got %v", err)
	}
	if rej.Reason != model.RejectGlobalExposure {
		t.Errorf("reason = %s, want %s", rej.Reason, model.RejectGlobalExposure)
	}

	after := rm.Ledger()
	if after.TotalExposure != before.TotalExposure {
		t.Errorf("ledger changed on rejection: before %.2f after %.2f", before.TotalExposure, after.TotalExposure)
	}
	if after.OpenReservations != before.OpenReservations {
		t.Errorf("reservations changed on rejection")
	}
}

func TestRiskManagerStrategyExposureExceeded(t *testing.T) {
	rm := NewRiskManager(testLimits(), nil)
	now := time.Now()

	if _, err := rm.Evaluate(testOpportunity("opp-1", "ETHUSDT", 3000), now); err != nil {
		t.Fatalf("first evaluate failed: %v", err)
	}

	// 策略上限 5000，总上限 10000：3000 + 2500 触策略限而非总限
	_, err := rm.Evaluate(testOpportunity("opp-2", "SOLUSDT", 2500), now)
	rej, ok := model.AsRiskRejection(err)
	if !ok {
		t.Fatalf("expected risk rejection, got %v", err)
	}
	if rej.Reason != model.RejectStrategyExposure {
		t.Errorf("reason = %s, want %s", rej.Reason, model.RejectStrategyExposure)
	}
}

func TestRiskManagerDailyLossLimit(t *testing.T) {
	rm := NewRiskManager(testLimits(), nil)
	now := time.Now()

	// 亏损 600 超过当日上限 500
	pos := &model.Position{
		ID:            "pos-1",
		OpportunityID: "opp-1",
		Strategy:      model.StrategyCrossExchange,
		Symbol:        "ETHUSDT",
		Status:        model.PositionClosed,
		RealizedPnl:   -600,
	}
	rm.ReportOutcome(pos, now)

	_, err := rm.Evaluate(testOpportunity("opp-2", "SOLUSDT", 1000), now)
	rej, ok := model.AsRiskRejection(err)
	if !ok {
		t.Fatalf("expected risk rejection, got %v", err)
	}
	if rej.Reason != model.RejectDailyLoss {
		t.Errorf("reason = %s, want %s", rej.Reason, model.RejectDailyLoss)
	}

	// 跨过 UTC 日界后当日亏损清零，恢复接受
	nextDay := now.UTC().Truncate(24 * time.Hour).Add(25 * time.Hour)
	opp3 := testOpportunity("opp-3", "SOLUSDT", 1000)
	opp3.ExpiresAt = nextDay.Add(5 * time.Minute).UnixMilli()
	if _, err := rm.Evaluate(opp3, nextDay); err != nil {
		t.Errorf("evaluate after daily reset failed: %v", err)
	}
}

// 盈亏曲线回撤超过停机线后拒绝新机会，收益回补后恢复放行
func TestRiskManagerDrawdownHalt(t *testing.T) {
	limits := testLimits()
	limits.MaxDailyLoss = 5000 // 抬高当日亏损上限，隔离回撤检查
	limits.MaxDrawdown = 0.05  // 停机线 = 10000 × 0.05 = 500
	rm := NewRiskManager(limits, nil)
	now := time.Now()

	closed := func(id string, pnl float64) *model.Position {
		return &model.Position{
			ID:            id,
			OpportunityID: id,
			Strategy:      model.StrategyCrossExchange,
			Symbol:        "SOLUSDT",
			Status:        model.PositionClosed,
			RealizedPnl:   pnl,
		}
	}

	// 累计亏损 600：回撤 600 > 500 停机
	rm.ReportOutcome(closed("pos-1", -600), now)
	_, err := rm.Evaluate(testOpportunity("opp-1", "SOLUSDT", 1000), now)
	rej, ok := model.AsRiskRejection(err)
	if !ok {
		t.Fatalf("expected risk rejection, got %v", err)
	}
	if rej.Reason != model.RejectDailyLoss {
		t.Errorf("reason = %s, want %s", rej.Reason, model.RejectDailyLoss)
	}

	// 回补 200 后回撤 400 低于停机线，恢复接受
	rm.ReportOutcome(closed("pos-2", 200), now)
	if _, err := rm.Evaluate(testOpportunity("opp-2", "SOLUSDT", 1000), now); err != nil {
		t.Errorf("evaluate after equity recovery failed: %v", err)
	}
}

func TestRiskManagerCorrelationLimit(t *testing.T) {
	rm := NewRiskManager(testLimits(), nil)
	now := time.Now()

	// 先持有 2000 SOL 敞口
	if _, err := rm.Evaluate(testOpportunity("opp-1", "SOLUSDT", 2000), now); err != nil {
		t.Fatalf("first evaluate failed: %v", err)
	}

	// 再加 3000 SOL：同资产占比 5000/5000 = 1.0 > 0.7
	_, err := rm.Evaluate(testOpportunity("opp-2", "SOLUSDT", 3000), now)
	rej, ok := model.AsRiskRejection(err)
	if !ok {
		t.Fatalf("expected risk rejection, got %v", err)
	}
	if rej.Reason != model.RejectCorrelation {
		t.Errorf("reason = %s, want %s", rej.Reason, model.RejectCorrelation)
	}

	// 不同标的不受影响
	if _, err := rm.Evaluate(testOpportunity("opp-3", "ETHUSDT", 2000), now); err != nil {
		t.Errorf("uncorrelated symbol rejected: %v", err)
	}
}

// 熔断打开时一切机会立即被拒，恢复窗口过后自动放行
func TestRiskManagerCircuitOpenRejection(t *testing.T) {
	breaker := NewCircuitBreaker(5, 300*time.Second)
	rm := NewRiskManager(testLimits(), breaker)
	now := time.Now()

	// 连续5次执行失败触发熔断
	fail := &model.ExecutionResult{Status: model.ExecFailure}
	for i := 0; i < 4; i++ {
		if tripped := rm.ReportExecution(fail, now); tripped {
			t.Fatalf("breaker tripped early at failure %d", i+1)
		}
	}
	if tripped := rm.ReportExecution(fail, now); !tripped {
		t.Fatal("breaker should trip on 5th failure")
	}

	// 第6个机会在恢复窗口内到达，被 CircuitOpen 拒绝
	_, err := rm.Evaluate(testOpportunity("opp-1", "SOLUSDT", 1000), now.Add(10*time.Second))
	rej, ok := model.AsRiskRejection(err)
	if !ok {
		t.Fatalf("expected risk rejection, got %v", err)
	}
	if rej.Reason != model.RejectCircuitOpen {
		t.Errorf("reason = %s, want %s", rej.Reason, model.RejectCircuitOpen)
	}

	// 窗口期满后自动复位并接受
	later := now.Add(301 * time.Second)
	if rm.BreakerOpen(later) {
		t.Fatal("breaker should have recovered after timeout")
	}
	opp2 := testOpportunity("opp-2", "SOLUSDT", 1000)
	opp2.ExpiresAt = later.Add(5 * time.Minute).UnixMilli()
	if _, err := rm.Evaluate(opp2, later); err != nil {
		t.Errorf("evaluate after recovery failed: %v", err)
	}
}

// 过期机会直接丢弃，不进入任何检查也不占用额度
func TestRiskManagerStaleOpportunityDropped(t *testing.T) {
	rm := NewRiskManager(testLimits(), nil)
	now := time.Now()

	opp := testOpportunity("opp-1", "SOLUSDT", 1000)
	opp.ExpiresAt = now.Add(-1 * time.Second).UnixMilli()

	_, err := rm.Evaluate(opp, now)
	if !errors.Is(err, model.ErrStaleOpportunity) {
		t.Fatalf("expected ErrStaleOpportunity, got %v", err)
	}
	if ledger := rm.Ledger(); ledger.TotalExposure != 0 {
		t.Errorf("stale opportunity reserved exposure: %.2f", ledger.TotalExposure)
	}
}

// 并发评估不会合计突破总敞口上限
func TestRiskManagerConcurrentReservation(t *testing.T) {
	rm := NewRiskManager(testLimits(), nil)
	now := time.Now()

	var wg sync.WaitGroup
	accepted := make(chan string, 32)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			opp := testOpportunity(fmt.Sprintf("opp-%d", n), fmt.Sprintf("SYM%dUSDT", n), 1500)
			if _, err := rm.Evaluate(opp, now); err == nil {
				accepted <- opp.ID
			}
		}(i)
	}
	wg.Wait()
	close(accepted)

	n := 0
	for range accepted {
		n++
	}
	ledger := rm.Ledger()
	if ledger.TotalExposure > 10000 {
		t.Errorf("concurrent evaluation overshot limit: %.2f", ledger.TotalExposure)
	}
	if got := float64(n) * 1500; got != ledger.TotalExposure {
		t.Errorf("accepted notional %.2f != ledger total %.2f", got, ledger.TotalExposure)
	}
	t.Logf("✓ %d/20 opportunities accepted, total exposure %.2f within limit", n, ledger.TotalExposure)
}

func TestRiskManagerOutcomeUpdatesDailyPnl(t *testing.T) {
	rm := NewRiskManager(testLimits(), nil)
	now := time.Now()

	if _, err := rm.Evaluate(testOpportunity("opp-1", "SOLUSDT", 2000), now); err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}

	pos := &model.Position{
		ID:            "pos-1",
		OpportunityID: "opp-1",
		Strategy:      model.StrategyCrossExchange,
		Symbol:        "SOLUSDT",
		Status:        model.PositionClosed,
		RealizedPnl:   42.5,
	}
	rm.ReportOutcome(pos, now)

	ledger := rm.Ledger()
	if ledger.DailyRealizedPnl != 42.5 {
		t.Errorf("daily pnl = %.2f, want 42.5", ledger.DailyRealizedPnl)
	}
	if ledger.TotalExposure != 0 {
		t.Errorf("exposure not released on close: %.2f", ledger.TotalExposure)
	}
}
