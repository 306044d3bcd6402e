package service

import (
	"math"
	"testing"
	"time"

	"fundarb/internal/domain/model"
)

func testExecRequest(oppID string) *model.ExecutionRequest {
	return &model.ExecutionRequest{
		ID:            "req-" + oppID,
		OpportunityID: oppID,
		Strategy:      model.StrategyCrossExchange,
		Symbol:        "SOLUSDT",
		Legs: []model.Leg{
			{Exchange: "backpack", Symbol: "SOLUSDT", Market: model.MarketPerpetual, Side: model.SideShort, Notional: 2000},
			{Exchange: "binance", Symbol: "SOLUSDT", Market: model.MarketPerpetual, Side: model.SideLong, Notional: 2000},
		},
	}
}

func fullFills(price float64) []model.Fill {
	qty := 2000 / price
	return []model.Fill{
		{Exchange: "backpack", Symbol: "SOLUSDT", Market: model.MarketPerpetual, Side: model.SideShort, Price: price, Quantity: qty, Fee: 1.7, OrderID: "o-1"},
		{Exchange: "binance", Symbol: "SOLUSDT", Market: model.MarketPerpetual, Side: model.SideLong, Price: price, Quantity: qty, Fee: 0.8, OrderID: "o-2"},
	}
}

// closingFills 与 fullFills 同价反向，模拟平仓成交
func closingFills(price float64) []model.Fill {
	fills := fullFills(price)
	for i := range fills {
		fills[i].Side = fills[i].Side.Opposite()
	}
	return fills
}

func TestPositionTrackerOpenAndClose(t *testing.T) {
	tracker := NewPositionTracker(DefaultExitPolicy())
	now := time.Now()

	req := testExecRequest("opp-1")
	res := &model.ExecutionResult{
		RequestID: req.ID,
		Status:    model.ExecSuccess,
		Fills:     fullFills(150.0),
	}

	pos := tracker.Open(req, res, now)
	if pos.Status != model.PositionOpen {
		t.Fatalf("expected OPEN, got %s", pos.Status)
	}
	if !pos.FullyFilled() {
		t.Fatal("expected all legs filled")
	}
	if pos.Notional != 2000 {
		t.Fatalf("expected notional 2000, got %.2f", pos.Notional)
	}

	// 先标记平仓中，再结算
	if err := tracker.MarkClosing(pos.ID, CloseReasonManual, now); err != nil {
		t.Fatalf("mark closing failed: %v", err)
	}

	// 空头腿 149 买回、多头腿 151 卖出：两腿各赚 1 * qty；平仓单方向与持仓相反
	qty := 2000 / 150.0
	exits := []model.Fill{
		{Exchange: "backpack", Symbol: "SOLUSDT", Market: model.MarketPerpetual, Side: model.SideLong, Price: 149.0, Quantity: qty, Fee: 1.7},
		{Exchange: "binance", Symbol: "SOLUSDT", Market: model.MarketPerpetual, Side: model.SideShort, Price: 151.0, Quantity: qty, Fee: 0.8},
	}
	closed, err := tracker.Close(pos.ID, exits, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if closed.Status != model.PositionClosed {
		t.Fatalf("expected CLOSED, got %s", closed.Status)
	}

	// pnl = (150-149)*qty + (151-150)*qty - 2*(1.7+0.8)
	wantPnl := 2*qty - 2*(1.7+0.8)
	if math.Abs(closed.RealizedPnl-wantPnl) > 1e-9 {
		t.Fatalf("expected pnl %.4f, got %.4f", wantPnl, closed.RealizedPnl)
	}
	t.Logf("✓ 持仓闭环完成，已实现盈亏 %.2f USD", closed.RealizedPnl)
}

func TestPositionTrackerPartialFillFails(t *testing.T) {
	tracker := NewPositionTracker(DefaultExitPolicy())
	now := time.Now()

	req := testExecRequest("opp-2")
	// 只有空头腿成交，多头腿缺失
	res := &model.ExecutionResult{
		RequestID: req.ID,
		Status:    model.ExecFailure,
		Fills:     fullFills(150.0)[:1],
	}

	pos := tracker.Open(req, res, now)
	if pos.Status != model.PositionFailed {
		t.Fatalf("expected FAILED on partial fill, got %s", pos.Status)
	}
	if pos.FullyFilled() {
		t.Fatal("position should not report fully filled")
	}
	if !pos.Legs[0].Filled || pos.Legs[1].Filled {
		t.Fatal("expected only the short leg filled")
	}

	// 终态持仓不允许再结算
	if _, err := tracker.Close(pos.ID, nil, now); err == nil {
		t.Fatal("expected error closing a FAILED position")
	}
}

func TestPositionTrackerCloseExactlyOnce(t *testing.T) {
	tracker := NewPositionTracker(DefaultExitPolicy())
	now := time.Now()

	req := testExecRequest("opp-3")
	res := &model.ExecutionResult{RequestID: req.ID, Status: model.ExecSuccess, Fills: fullFills(150.0)}
	pos := tracker.Open(req, res, now)

	if _, err := tracker.Close(pos.ID, closingFills(150.0), now); err != nil {
		t.Fatalf("first close failed: %v", err)
	}
	if _, err := tracker.Close(pos.ID, closingFills(150.0), now); err == nil {
		t.Fatal("second close must fail, pnl would be double counted")
	}
}

func TestPositionTrackerSweepMaxHold(t *testing.T) {
	tracker := NewPositionTracker(ExitPolicy{MaxHoldDuration: 8 * time.Hour, StopLossPct: 0.02, TakeProfitPct: 0.01})
	now := time.Now()

	req := testExecRequest("opp-4")
	res := &model.ExecutionResult{RequestID: req.ID, Status: model.ExecSuccess, Fills: fullFills(150.0)}
	pos := tracker.Open(req, res, now)

	flat := func(exchange, symbol string) (float64, bool) { return 150.0, true }

	// 未到期：不触发
	if due := tracker.SweepDue(now.Add(7*time.Hour), flat); len(due) != 0 {
		t.Fatalf("expected no due positions, got %d", len(due))
	}
	// 超过最长持有时长：强制平仓
	due := tracker.SweepDue(now.Add(9*time.Hour), flat)
	if len(due) != 1 {
		t.Fatalf("expected 1 due position, got %d", len(due))
	}
	if due[0].ID != pos.ID || due[0].ClosingReason != CloseReasonMaxHold {
		t.Fatalf("unexpected sweep result: %+v", due[0])
	}
	// 已标记 CLOSING，不会重复出现在下一轮扫描
	if again := tracker.SweepDue(now.Add(10*time.Hour), flat); len(again) != 0 {
		t.Fatalf("position swept twice: %d", len(again))
	}
}

func TestPositionTrackerSweepSettlement(t *testing.T) {
	tracker := NewPositionTracker(ExitPolicy{MaxHoldDuration: 24 * time.Hour, StopLossPct: 0.05, TakeProfitPct: 0.05})
	now := time.Now()

	req := testExecRequest("opp-8")
	req.SettleAt = now.Add(2 * time.Hour).UnixMilli()
	res := &model.ExecutionResult{RequestID: req.ID, Status: model.ExecSuccess, Fills: fullFills(150.0)}
	pos := tracker.Open(req, res, now)

	flat := func(exchange, symbol string) (float64, bool) { return 150.0, true }

	// 结算前价格平稳：不触发
	if due := tracker.SweepDue(now.Add(time.Hour), flat); len(due) != 0 {
		t.Fatalf("expected no due positions before settlement, got %d", len(due))
	}
	// 结算过后资金费已入账，无需等到最长持有时长
	due := tracker.SweepDue(now.Add(2*time.Hour+time.Minute), flat)
	if len(due) != 1 {
		t.Fatalf("expected 1 due position after settlement, got %d", len(due))
	}
	if due[0].ID != pos.ID || due[0].ClosingReason != CloseReasonSettlement {
		t.Fatalf("unexpected sweep result: %+v", due[0])
	}
}

func TestPositionTrackerSweepStopLoss(t *testing.T) {
	tracker := NewPositionTracker(ExitPolicy{MaxHoldDuration: 24 * time.Hour, StopLossPct: 0.02, TakeProfitPct: 0.05})
	now := time.Now()

	req := testExecRequest("opp-5")
	res := &model.ExecutionResult{RequestID: req.ID, Status: model.ExecSuccess, Fills: fullFills(150.0)}
	tracker.Open(req, res, now)

	// 不对称行情制造净亏损：合计浮亏 4.5*qty ≈ 3% 名义本金
	prices := map[string]float64{
		"backpack": 153.0, // 空头腿亏 3*qty
		"binance":  148.5, // 多头腿亏 1.5*qty
	}
	lossy := func(exchange, symbol string) (float64, bool) {
		p, ok := prices[exchange]
		return p, ok
	}

	due := tracker.SweepDue(now.Add(time.Hour), lossy)
	if len(due) != 1 {
		t.Fatalf("expected stop loss to trigger, got %d positions", len(due))
	}
	if due[0].ClosingReason != CloseReasonStopLoss {
		t.Fatalf("expected %s, got %s", CloseReasonStopLoss, due[0].ClosingReason)
	}
}

func TestPositionTrackerSweepTakeProfit(t *testing.T) {
	tracker := NewPositionTracker(ExitPolicy{MaxHoldDuration: 24 * time.Hour, StopLossPct: 0.05, TakeProfitPct: 0.01})
	now := time.Now()

	req := testExecRequest("opp-6")
	res := &model.ExecutionResult{RequestID: req.ID, Status: model.ExecSuccess, Fills: fullFills(150.0)}
	tracker.Open(req, res, now)

	// 空头腿赚 2*qty，多头腿赚 1*qty，浮盈约 (3*13.33)/2000 = 2%
	prices := map[string]float64{"backpack": 148.0, "binance": 151.0}
	winning := func(exchange, symbol string) (float64, bool) {
		p, ok := prices[exchange]
		return p, ok
	}

	due := tracker.SweepDue(now.Add(time.Hour), winning)
	if len(due) != 1 || due[0].ClosingReason != CloseReasonTakeProfit {
		t.Fatalf("expected take profit, got %+v", due)
	}
}

func TestPositionTrackerSweepSkipsOnMissingPrice(t *testing.T) {
	tracker := NewPositionTracker(ExitPolicy{MaxHoldDuration: 24 * time.Hour, StopLossPct: 0.01, TakeProfitPct: 0.01})
	now := time.Now()

	req := testExecRequest("opp-7")
	res := &model.ExecutionResult{RequestID: req.ID, Status: model.ExecSuccess, Fills: fullFills(150.0)}
	tracker.Open(req, res, now)

	// 缺一条腿的行情：不做盈亏判断，也不误触发
	partial := func(exchange, symbol string) (float64, bool) {
		if exchange == "backpack" {
			return 140.0, true
		}
		return 0, false
	}
	if due := tracker.SweepDue(now.Add(time.Hour), partial); len(due) != 0 {
		t.Fatalf("sweep must not trigger on incomplete prices, got %d", len(due))
	}
}

func TestPositionTrackerOpenPositions(t *testing.T) {
	tracker := NewPositionTracker(DefaultExitPolicy())
	now := time.Now()

	p1 := tracker.Open(testExecRequest("opp-a"), &model.ExecutionResult{Status: model.ExecSuccess, Fills: fullFills(150.0)}, now)
	tracker.Open(testExecRequest("opp-b"), &model.ExecutionResult{Status: model.ExecFailure, Fills: nil}, now)

	open := tracker.OpenPositions()
	if len(open) != 1 {
		t.Fatalf("expected 1 open position, got %d", len(open))
	}
	if open[0].ID != p1.ID {
		t.Fatalf("expected %s, got %s", p1.ID, open[0].ID)
	}

	if _, ok := tracker.Get(p1.ID); !ok {
		t.Fatal("get should find the open position")
	}
	if _, ok := tracker.Get("missing"); ok {
		t.Fatal("get must not find unknown id")
	}
}
