package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"fundarb/internal/domain/model"
	domainsvc "fundarb/internal/domain/service"
)

// mockBackend 测试用执行后端
type mockBackend struct {
	kind  model.BackendKind
	load  int
	calls int
	fn    func(ctx context.Context, req *model.ExecutionRequest) (*model.ExecutionResult, error)
}

func (m *mockBackend) Kind() model.BackendKind { return m.kind }
func (m *mockBackend) CurrentLoad() int        { return m.load }

func (m *mockBackend) Execute(ctx context.Context, req *model.ExecutionRequest) (*model.ExecutionResult, error) {
	m.calls++
	if m.fn == nil {
		return fillAll(req), nil
	}
	return m.fn(ctx, req)
}

// fillAll 按请求腿构造全成交结果
func fillAll(req *model.ExecutionRequest) *model.ExecutionResult {
	res := &model.ExecutionResult{Status: model.ExecSuccess, Profit: 1}
	for _, leg := range req.Legs {
		res.Fills = append(res.Fills, model.Fill{
			Exchange: leg.Exchange,
			Symbol:   leg.Symbol,
			Market:   leg.Market,
			Side:     leg.Side,
			Price:    150,
			Quantity: leg.Notional / 150,
			Fee:      leg.Notional * 0.0005,
		})
	}
	return res
}

func routerOpp(diff float64, priority int) *model.ArbitrageOpportunity {
	now := time.Now()
	return &model.ArbitrageOpportunity{
		ID:       "opp-route",
		Strategy: model.StrategyCrossExchange,
		Symbol:   "SOLUSDT",
		Legs: []model.Leg{
			{Exchange: "backpack", Symbol: "SOLUSDT", Market: model.MarketPerpetual, Side: model.SideShort, Notional: 2000},
			{Exchange: "binance", Symbol: "SOLUSDT", Market: model.MarketPerpetual, Side: model.SideLong, Notional: 2000},
		},
		ExpectedProfit:   2,
		ExpectedRateDiff: diff,
		Priority:         priority,
		CreatedAt:        now.UnixMilli(),
		ExpiresAt:        now.Add(5 * time.Minute).UnixMilli(),
	}
}

func newTestRouter(stats *domainsvc.ExecutionStats) (*ExecutionRouter, *mockBackend, *mockBackend) {
	table := domainsvc.DefaultRoutingTable(0.005, 8)
	router := NewExecutionRouter(DefaultRouterConfig(), table, stats)
	std := &mockBackend{kind: model.BackendStandard}
	fast := &mockBackend{kind: model.BackendLowLatency}
	router.RegisterBackend(std)
	router.RegisterBackend(fast)
	return router, std, fast
}

func TestRouterRoutesByRateDiff(t *testing.T) {
	stats := domainsvc.NewExecutionStats(64)
	cfg := DefaultRouterConfig()
	cfg.LowLatencyRatio = 1.0 // 本用例只验证查表，不触发分流
	router := NewExecutionRouter(cfg, domainsvc.DefaultRoutingTable(0.005, 8), stats)
	std := &mockBackend{kind: model.BackendStandard}
	fast := &mockBackend{kind: model.BackendLowLatency}
	router.RegisterBackend(std)
	router.RegisterBackend(fast)

	// 低费率差低优先级：常规通道
	res, err := router.Dispatch(context.Background(), routerOpp(0.001, 1))
	if err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	if res.Backend != model.BackendStandard || std.calls != 1 || fast.calls != 0 {
		t.Fatalf("expected standard backend, got %s (std=%d fast=%d)", res.Backend, std.calls, fast.calls)
	}

	// 高费率差：低延迟通道
	res, err = router.Dispatch(context.Background(), routerOpp(0.006, 1))
	if err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	if res.Backend != model.BackendLowLatency || fast.calls != 1 {
		t.Fatalf("expected low latency backend, got %s (fast=%d)", res.Backend, fast.calls)
	}

	// 高优先级同样升级通道
	if res, _ = router.Dispatch(context.Background(), routerOpp(0.001, 9)); res.Backend != model.BackendLowLatency {
		t.Fatalf("priority 9 must use low latency, got %s", res.Backend)
	}
}

func TestRouterLoadShedsBySoftRatio(t *testing.T) {
	stats := domainsvc.NewExecutionStats(64)
	router, std, fast := newTestRouter(stats)

	// 预热统计：低延迟通道已占全部近期流量
	for i := 0; i < 10; i++ {
		stats.Record(model.StrategyCrossExchange, "SOLUSDT", model.BackendLowLatency, model.ExecSuccess, 10*time.Millisecond, 1)
	}

	res, err := router.Dispatch(context.Background(), routerOpp(0.01, 9))
	if err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	// 软上限 0.3 已被打满：请求分流到常规通道而不是丢弃
	if res.Backend != model.BackendStandard {
		t.Fatalf("expected diversion to standard, got %s", res.Backend)
	}
	if std.calls != 1 || fast.calls != 0 {
		t.Fatalf("unexpected backend calls std=%d fast=%d", std.calls, fast.calls)
	}
	if res.Status != model.ExecSuccess {
		t.Fatalf("diverted request must still execute: %s", res.Status)
	}
	t.Logf("✓ 低延迟占比超限，请求成功分流")
}

func TestRouterLoadShedsByBackendLoad(t *testing.T) {
	stats := domainsvc.NewExecutionStats(64)
	router, std, fast := newTestRouter(stats)
	fast.load = 8 // 达到在途上限

	res, err := router.Dispatch(context.Background(), routerOpp(0.01, 9))
	if err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	if res.Backend != model.BackendStandard || std.calls != 1 {
		t.Fatalf("expected load shed to standard, got %s", res.Backend)
	}
}

func TestRouterRetriesOnceAcrossBackends(t *testing.T) {
	stats := domainsvc.NewExecutionStats(64)
	router, std, fast := newTestRouter(stats)

	fast.fn = func(ctx context.Context, req *model.ExecutionRequest) (*model.ExecutionResult, error) {
		return nil, errors.New("venue rejected order")
	}

	res, err := router.Dispatch(context.Background(), routerOpp(0.01, 9))
	if err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	if fast.calls != 1 || std.calls != 1 {
		t.Fatalf("expected one attempt per backend, fast=%d std=%d", fast.calls, std.calls)
	}
	if res.Backend != model.BackendStandard || res.Status != model.ExecSuccess {
		t.Fatalf("retry must succeed on standard, got %s/%s", res.Backend, res.Status)
	}

	// 两次尝试都进入统计
	snap := stats.Snapshot()
	if snap.TotalByBackend[model.BackendLowLatency] != 1 || snap.TotalByBackend[model.BackendStandard] != 1 {
		t.Fatalf("every attempt must be recorded: %+v", snap.TotalByBackend)
	}
}

func TestRouterStopsAfterSingleRetry(t *testing.T) {
	stats := domainsvc.NewExecutionStats(64)
	router, std, fast := newTestRouter(stats)

	fail := func(ctx context.Context, req *model.ExecutionRequest) (*model.ExecutionResult, error) {
		return nil, errors.New("down")
	}
	std.fn, fast.fn = fail, fail

	res, err := router.Dispatch(context.Background(), routerOpp(0.001, 1))
	if err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	if res.Status != model.ExecFailure {
		t.Fatalf("expected terminal failure, got %s", res.Status)
	}
	if std.calls+fast.calls != 2 {
		t.Fatalf("expected exactly 2 attempts, got %d", std.calls+fast.calls)
	}
}

func TestRouterTimeoutStatus(t *testing.T) {
	stats := domainsvc.NewExecutionStats(64)
	table := domainsvc.DefaultRoutingTable(0.005, 8)
	cfg := DefaultRouterConfig()
	cfg.RequestTimeout = 30 * time.Millisecond
	router := NewExecutionRouter(cfg, table, stats)

	slow := &mockBackend{kind: model.BackendStandard, fn: func(ctx context.Context, req *model.ExecutionRequest) (*model.ExecutionResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	router.RegisterBackend(slow)

	res, err := router.Dispatch(context.Background(), routerOpp(0.001, 1))
	if err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	if res.Status != model.ExecTimeout {
		t.Fatalf("expected timeout status, got %s", res.Status)
	}
}

// 低延迟通道超时后回落常规通道成交，结果归属常规后端
func TestRouterTimeoutFailsOverToStandard(t *testing.T) {
	stats := domainsvc.NewExecutionStats(64)
	cfg := DefaultRouterConfig()
	cfg.RequestTimeout = 30 * time.Millisecond
	router := NewExecutionRouter(cfg, domainsvc.DefaultRoutingTable(0.005, 8), stats)

	std := &mockBackend{kind: model.BackendStandard}
	fast := &mockBackend{kind: model.BackendLowLatency, fn: func(ctx context.Context, req *model.ExecutionRequest) (*model.ExecutionResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	router.RegisterBackend(std)
	router.RegisterBackend(fast)

	res, err := router.Dispatch(context.Background(), routerOpp(0.01, 9))
	if err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	if fast.calls != 1 || std.calls != 1 {
		t.Fatalf("expected failover after timeout, fast=%d std=%d", fast.calls, std.calls)
	}
	if res.Backend != model.BackendStandard || res.Status != model.ExecSuccess {
		t.Fatalf("failover result = %s/%s, want standard/success", res.Backend, res.Status)
	}
}

func TestRouterUnwindReversesFilledLegs(t *testing.T) {
	stats := domainsvc.NewExecutionStats(64)
	router, std, _ := newTestRouter(stats)

	var captured *model.ExecutionRequest
	std.fn = func(ctx context.Context, req *model.ExecutionRequest) (*model.ExecutionResult, error) {
		captured = req
		return fillAll(req), nil
	}

	pos := &model.Position{
		ID:       "pos-1",
		Strategy: model.StrategyCrossExchange,
		Symbol:   "SOLUSDT",
		Status:   model.PositionFailed,
		Legs: []model.PositionLeg{
			{Leg: model.Leg{Exchange: "backpack", Symbol: "SOLUSDT", Market: model.MarketPerpetual, Side: model.SideShort, Notional: 2000}, Filled: true},
			{Leg: model.Leg{Exchange: "binance", Symbol: "SOLUSDT", Market: model.MarketPerpetual, Side: model.SideLong, Notional: 2000}, Filled: false},
		},
	}

	res, err := router.Unwind(context.Background(), pos)
	if err != nil {
		t.Fatalf("unwind failed: %v", err)
	}
	if res == nil || res.Status != model.ExecSuccess {
		t.Fatalf("unexpected unwind result: %+v", res)
	}
	if captured == nil || len(captured.Legs) != 1 {
		t.Fatalf("expected 1 reversed leg, got %+v", captured)
	}
	// 已成交的空头腿以多头腿对冲
	if captured.Legs[0].Side != model.SideLong || captured.Legs[0].Exchange != "backpack" {
		t.Fatalf("leg not reversed: %+v", captured.Legs[0])
	}

	// 无成交腿时无需对冲
	empty := &model.Position{ID: "pos-2", Legs: []model.PositionLeg{{Leg: model.Leg{Side: model.SideLong}, Filled: false}}}
	if res, err := router.Unwind(context.Background(), empty); err != nil || res != nil {
		t.Fatalf("empty unwind must be a no-op: %v %+v", err, res)
	}
}
