package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"fundarb/internal/application/port"
	appsvc "fundarb/internal/application/service"
	"fundarb/internal/domain/model"
	domainsvc "fundarb/internal/domain/service"
)

// ========== 测试替身 ==========

type captureSink struct {
	mu     sync.Mutex
	events []model.Event
}

func (c *captureSink) Publish(evt model.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
}

func (c *captureSink) count(kind model.EventKind) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

func (c *captureSink) last(kind model.EventKind) (model.Event, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.events) - 1; i >= 0; i-- {
		if c.events[i].Kind == kind {
			return c.events[i], true
		}
	}
	return model.Event{}, false
}

type stubConnector struct {
	name string
	rate func() model.RateSnapshot
}

func (s *stubConnector) Name() string { return s.name }

func (s *stubConnector) FundingRates(ctx context.Context, symbols []string) ([]model.RateSnapshot, error) {
	return []model.RateSnapshot{s.rate()}, nil
}

func (s *stubConnector) Prices(ctx context.Context, symbols []string) ([]model.PriceSnapshot, error) {
	return nil, nil
}

func (s *stubConnector) Symbols(ctx context.Context) ([]string, error) { return nil, nil }

func (s *stubConnector) Balance(ctx context.Context) (float64, error) { return 100000, nil }

func (s *stubConnector) PlaceOrder(ctx context.Context, intent port.OrderIntent) (*port.OrderAck, error) {
	return nil, errors.New("unused")
}

type stubBackend struct {
	kind model.BackendKind
	fail bool
}

func (b *stubBackend) Kind() model.BackendKind { return b.kind }
func (b *stubBackend) CurrentLoad() int        { return 0 }

func (b *stubBackend) Execute(ctx context.Context, req *model.ExecutionRequest) (*model.ExecutionResult, error) {
	if b.fail {
		return nil, errors.New("venue unavailable")
	}
	res := &model.ExecutionResult{Status: model.ExecSuccess, Profit: 0.5}
	for _, leg := range req.Legs {
		res.Fills = append(res.Fills, model.Fill{
			Exchange: leg.Exchange,
			Symbol:   leg.Symbol,
			Market:   leg.Market,
			Side:     leg.Side,
			Price:    150,
			Quantity: leg.Notional / 150,
			Fee:      leg.Notional * 0.0004,
		})
	}
	return res, nil
}

// ========== 组装 ==========

type fixture struct {
	svc   *Service
	sink  *captureSink
	risk  *domainsvc.RiskManager
	std   *stubBackend
	fast  *stubBackend
	clock *time.Time
}

// newFixture 组装一条全内存流水线，行情时间戳跟随 clock
func newFixture(t *testing.T) *fixture {
	t.Helper()
	now := time.Now()
	clock := &now

	agg := appsvc.NewRateAggregator([]string{"SOLUSDT"}, time.Second, 5*time.Minute, nil)
	agg.Register(&stubConnector{name: "backpack", rate: func() model.RateSnapshot {
		return model.RateSnapshot{Exchange: "backpack", Symbol: "SOLUSDT", FundingRate: 0.0008, MarkPrice: 150, CapturedAt: clock.UnixMilli()}
	}})
	agg.Register(&stubConnector{name: "binance", rate: func() model.RateSnapshot {
		return model.RateSnapshot{Exchange: "binance", Symbol: "SOLUSDT", FundingRate: -0.0002, MarkPrice: 150, CapturedAt: clock.UnixMilli()}
	}})

	stats := domainsvc.NewExecutionStats(64)
	// 用例只关心跨所费率差策略，其余关闭
	detCfg := domainsvc.DefaultDetectorConfig()
	for kind, params := range detCfg.Strategies {
		if kind != model.StrategyCrossExchange {
			params.Enabled = false
			detCfg.Strategies[kind] = params
		}
	}
	detector := domainsvc.NewOpportunityDetector(detCfg, stats, nil)

	risk := domainsvc.NewRiskManager(domainsvc.RiskLimits{
		MaxTotalExposure:   10000,
		DefaultStrategyCap: 5000,
		MaxDailyLoss:       500,
	}, domainsvc.NewCircuitBreaker(5, 300*time.Second))

	routerCfg := appsvc.DefaultRouterConfig()
	routerCfg.LowLatencyRatio = 1.0
	router := appsvc.NewExecutionRouter(routerCfg, domainsvc.DefaultRoutingTable(0.005, 8), stats)
	std := &stubBackend{kind: model.BackendStandard}
	fast := &stubBackend{kind: model.BackendLowLatency}
	router.RegisterBackend(std)
	router.RegisterBackend(fast)

	sink := &captureSink{}
	svc := NewService(ServiceDeps{
		Aggregator: agg,
		Detector:   detector,
		Risk:       risk,
		Router:     router,
		Tracker:    domainsvc.NewPositionTracker(domainsvc.DefaultExitPolicy()),
		Stats:      stats,
		Repo:       NewNoopRepo(),
		Sink:       sink,
		Symbols:    []string{"SOLUSDT"},
	})
	return &fixture{svc: svc, sink: sink, risk: risk, std: std, fast: fast, clock: clock}
}

func (f *fixture) advance(d time.Duration) time.Time {
	*f.clock = f.clock.Add(d)
	return *f.clock
}

// ========== 用例 ==========

func TestPipelineDetectsAndOpensPosition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.svc.collectAndDetect(ctx, *f.clock)

	if n := f.sink.count(model.EventOpportunityFound); n != 1 {
		t.Fatalf("expected 1 opportunity event, got %d", n)
	}
	if n := f.sink.count(model.EventExecutionResult); n != 1 {
		t.Fatalf("expected 1 execution event, got %d", n)
	}

	open := f.svc.deps.Tracker.OpenPositions()
	if len(open) != 1 {
		t.Fatalf("expected 1 open position, got %d", len(open))
	}
	if open[0].Symbol != "SOLUSDT" || !open[0].FullyFilled() {
		t.Fatalf("unexpected position: %+v", open[0])
	}

	// 预留敞口与持仓名义一致
	ledger := f.risk.Ledger()
	if ledger.TotalExposure != open[0].Notional {
		t.Fatalf("ledger %.2f != position notional %.2f", ledger.TotalExposure, open[0].Notional)
	}
	t.Logf("✓ 检测到机会并建仓，敞口 %.0f USD", ledger.TotalExposure)
}

func TestPipelineEmitsRiskRejection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// 先占满全局敞口
	first := *f.clock
	f.svc.collectAndDetect(ctx, first)
	if f.risk.Ledger().TotalExposure == 0 {
		t.Fatal("setup: first opportunity must reserve exposure")
	}

	// 构造一个叠加后超出全局上限的机会
	huge := &model.ArbitrageOpportunity{
		ID:       "opp-huge",
		Strategy: model.StrategyCrossExchange,
		Symbol:   "SOLUSDT",
		Legs: []model.Leg{
			{Exchange: "backpack", Symbol: "SOLUSDT", Market: model.MarketPerpetual, Side: model.SideShort, Notional: 9500},
			{Exchange: "binance", Symbol: "SOLUSDT", Market: model.MarketPerpetual, Side: model.SideLong, Notional: 9500},
		},
		ExpectedProfit:   9.5,
		ExpectedRateDiff: 0.001,
		CreatedAt:        f.clock.UnixMilli(),
		ExpiresAt:        f.clock.Add(5 * time.Minute).UnixMilli(),
	}
	f.svc.handleOpportunity(ctx, huge, *f.clock)

	evt, ok := f.sink.last(model.EventRiskRejected)
	if !ok {
		t.Fatal("expected a risk rejection event")
	}
	if evt.Detail != string(model.RejectGlobalExposure) {
		t.Fatalf("expected GlobalExposureExceeded, got %s", evt.Detail)
	}
	// 拒绝不改变账本
	if got := f.risk.Ledger().TotalExposure; got != 2000 {
		t.Fatalf("ledger must be unchanged after rejection, got %.2f", got)
	}
}

func TestPipelineSweepClosesAndReleases(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.svc.collectAndDetect(ctx, *f.clock)
	if len(f.svc.deps.Tracker.OpenPositions()) != 1 {
		t.Fatal("setup: expected an open position")
	}

	// 超过最长持有时长后扫描平仓
	later := f.advance(25 * time.Hour)
	f.svc.sweepPositions(ctx, later)

	if n := len(f.svc.deps.Tracker.OpenPositions()); n != 0 {
		t.Fatalf("expected all positions closed, got %d", n)
	}
	evt, ok := f.sink.last(model.EventPositionClosed)
	if !ok {
		t.Fatal("expected a position closed event")
	}
	pos, ok := evt.Payload.(*model.Position)
	if !ok || pos.Status != model.PositionClosed {
		t.Fatalf("unexpected event payload: %+v", evt.Payload)
	}
	if pos.ClosingReason != domainsvc.CloseReasonMaxHold {
		t.Fatalf("expected max_hold close, got %s", pos.ClosingReason)
	}
	// 平仓释放敞口
	if got := f.risk.Ledger().TotalExposure; got != 0 {
		t.Fatalf("exposure must be released, got %.2f", got)
	}
}

func TestPipelineBreakerTripsThenRecovers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.std.fail = true
	f.fast.fail = true

	// 每轮一次执行（含跨后端重试）上报一次终态失败，第 5 轮触发熔断
	for i := 0; i < 5; i++ {
		f.svc.collectAndDetect(ctx, f.advance(31*time.Second))
	}
	if f.sink.count(model.EventCircuitTripped) == 0 {
		t.Fatal("expected circuit breaker to trip")
	}
	if !f.risk.BreakerOpen(*f.clock) {
		t.Fatal("breaker must be open")
	}

	// 熔断期间机会被拒绝
	f.svc.collectAndDetect(ctx, f.advance(31*time.Second))
	if evt, ok := f.sink.last(model.EventRiskRejected); !ok || evt.Detail != string(model.RejectCircuitOpen) {
		t.Fatalf("expected CircuitOpen rejection, got %+v", evt)
	}

	// 恢复窗口过后后端修复，流水线自动恢复并发出恢复事件
	f.std.fail = false
	f.fast.fail = false
	f.svc.collectAndDetect(ctx, f.advance(301*time.Second))

	if f.sink.count(model.EventCircuitReset) == 0 {
		t.Fatal("expected circuit breaker reset event")
	}
	if len(f.svc.deps.Tracker.OpenPositions()) != 1 {
		t.Fatal("post recovery opportunity must execute")
	}
	t.Logf("✓ 熔断触发→拒绝→恢复全链路完成")
}
