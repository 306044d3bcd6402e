package backend

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"fundarb/internal/application/port"
	"fundarb/internal/domain/model"
)

// mockConnector 测试用交易所适配器
type mockConnector struct {
	name    string
	bid     float64
	ask     float64
	ack     *port.OrderAck
	orderEr error
	intents []port.OrderIntent
}

func (m *mockConnector) Name() string { return m.name }

func (m *mockConnector) FundingRates(ctx context.Context, symbols []string) ([]model.RateSnapshot, error) {
	return nil, nil
}

func (m *mockConnector) Prices(ctx context.Context, symbols []string) ([]model.PriceSnapshot, error) {
	out := make([]model.PriceSnapshot, 0, len(symbols))
	for _, sym := range symbols {
		out = append(out, model.PriceSnapshot{
			Exchange:   m.name,
			Symbol:     sym,
			Bid:        m.bid,
			Ask:        m.ask,
			CapturedAt: time.Now().UnixMilli(),
		})
	}
	return out, nil
}

func (m *mockConnector) Symbols(ctx context.Context) ([]string, error) {
	return []string{"SOLUSDT", "BTCUSDT"}, nil
}

func (m *mockConnector) Balance(ctx context.Context) (float64, error) { return 10000, nil }

func (m *mockConnector) PlaceOrder(ctx context.Context, intent port.OrderIntent) (*port.OrderAck, error) {
	m.intents = append(m.intents, intent)
	if m.orderEr != nil {
		return nil, m.orderEr
	}
	if m.ack != nil {
		return m.ack, nil
	}
	price := m.ask
	if intent.Side == model.SideShort {
		price = m.bid
	}
	return &port.OrderAck{
		OrderID:  m.name + "-1",
		Price:    price,
		Quantity: intent.Notional / price,
		Fee:      intent.Notional * 0.0005,
	}, nil
}

func twoLegRequest() *model.ExecutionRequest {
	return &model.ExecutionRequest{
		ID:       "req-std",
		Strategy: model.StrategyCrossExchange,
		Symbol:   "SOLUSDT",
		Legs: []model.Leg{
			{Exchange: "backpack", Symbol: "SOLUSDT", Market: model.MarketPerpetual, Side: model.SideShort, Notional: 1500},
			{Exchange: "binance", Symbol: "SOLUSDT", Market: model.MarketPerpetual, Side: model.SideLong, Notional: 1500},
		},
		Backend:     model.BackendStandard,
		SubmittedAt: time.Now().UnixMilli(),
	}
}

func TestStandardBackendPaperFill(t *testing.T) {
	bp := &mockConnector{name: "backpack", bid: 149.5, ask: 150.5}
	bn := &mockConnector{name: "binance", bid: 150.0, ask: 151.0}
	std := NewStandard(map[string]port.ExchangeConnector{"backpack": bp, "binance": bn}, true, 4)

	res, err := std.Execute(context.Background(), twoLegRequest())
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if !res.OK() {
		t.Fatalf("expected success, got %s: %s", res.Status, res.ErrorDetail)
	}
	if len(res.Fills) != 2 {
		t.Fatalf("expected 2 fills, got %d", len(res.Fills))
	}

	// 步骤1: dry run 不发真实订单
	if len(bp.intents) != 0 || len(bn.intents) != 0 {
		t.Fatalf("dry run must not place orders, got %d/%d", len(bp.intents), len(bn.intents))
	}

	// 步骤2: 空头按买一、多头按卖一模拟成交
	for _, fill := range res.Fills {
		switch fill.Exchange {
		case "backpack":
			if fill.Side != model.SideShort || fill.Price != 149.5 {
				t.Fatalf("short paper fill wrong: %+v", fill)
			}
		case "binance":
			if fill.Side != model.SideLong || fill.Price != 151.0 {
				t.Fatalf("long paper fill wrong: %+v", fill)
			}
		}
		if fill.Fee != 1500*paperFeeRate {
			t.Fatalf("paper fee wrong: %v", fill.Fee)
		}
		if !strings.HasPrefix(fill.OrderID, "paper-") {
			t.Fatalf("paper order id wrong: %s", fill.OrderID)
		}
	}

	t.Logf("✓ 纸面成交: %d legs, latency %dms", len(res.Fills), res.LatencyMs)
}

func TestStandardBackendPlacesOrders(t *testing.T) {
	bp := &mockConnector{name: "backpack", bid: 149.5, ask: 150.5}
	bn := &mockConnector{name: "binance", bid: 150.0, ask: 151.0}
	std := NewStandard(map[string]port.ExchangeConnector{"backpack": bp, "binance": bn}, false, 4)

	res, err := std.Execute(context.Background(), twoLegRequest())
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if !res.OK() || len(res.Fills) != 2 {
		t.Fatalf("expected 2 fills, got status=%s fills=%d", res.Status, len(res.Fills))
	}

	// 每个交易所下了一单市价单
	if len(bp.intents) != 1 || len(bn.intents) != 1 {
		t.Fatalf("expected one order per exchange, got %d/%d", len(bp.intents), len(bn.intents))
	}
	if bp.intents[0].Price != 0 || bp.intents[0].Notional != 1500 {
		t.Fatalf("market order intent wrong: %+v", bp.intents[0])
	}
	if bp.intents[0].Side != model.SideShort || bn.intents[0].Side != model.SideLong {
		t.Fatalf("order sides wrong: %+v %+v", bp.intents[0], bn.intents[0])
	}

	for _, fill := range res.Fills {
		if fill.OrderID == "" || fill.Quantity <= 0 {
			t.Fatalf("fill missing order data: %+v", fill)
		}
	}

	t.Logf("✓ 实盘下单: fills=%d", len(res.Fills))
}

func TestStandardBackendPartialFailure(t *testing.T) {
	bp := &mockConnector{name: "backpack", bid: 149.5, ask: 150.5, orderEr: errors.New("insufficient margin")}
	bn := &mockConnector{name: "binance", bid: 150.0, ask: 151.0}
	std := NewStandard(map[string]port.ExchangeConnector{"backpack": bp, "binance": bn}, false, 4)

	res, err := std.Execute(context.Background(), twoLegRequest())
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}

	// 步骤1: 一腿失败整体算失败
	if res.OK() {
		t.Fatal("partial failure must not be success")
	}
	if !strings.Contains(res.ErrorDetail, "backpack") || !strings.Contains(res.ErrorDetail, "insufficient margin") {
		t.Fatalf("error detail missing failed leg: %s", res.ErrorDetail)
	}

	// 步骤2: 成交的腿原样回报，供上层对冲
	if len(res.Fills) != 1 || res.Fills[0].Exchange != "binance" {
		t.Fatalf("expected the filled binance leg, got %+v", res.Fills)
	}

	t.Logf("✓ 部分成交回报: %s", res.ErrorDetail)
}

func TestStandardBackendUnknownExchange(t *testing.T) {
	std := NewStandard(map[string]port.ExchangeConnector{}, false, 4)

	res, err := std.Execute(context.Background(), twoLegRequest())
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if res.OK() || len(res.Fills) != 0 {
		t.Fatalf("expected total failure, got %s with %d fills", res.Status, len(res.Fills))
	}
	if !strings.Contains(res.ErrorDetail, "no connector") {
		t.Fatalf("error detail wrong: %s", res.ErrorDetail)
	}

	t.Logf("✓ 未注册交易所被拒绝")
}

func TestGatewayRequestMapping(t *testing.T) {
	req := twoLegRequest()
	req.Priority = 9
	frame := toGatewayRequest(req)

	if frame.RequestID != req.ID || frame.StrategyID != string(model.StrategyCrossExchange) {
		t.Fatalf("frame identity wrong: %+v", frame)
	}
	if frame.PrimaryExchange != "backpack" || frame.SecondaryExchange != "binance" {
		t.Fatalf("frame exchanges wrong: %+v", frame)
	}
	if frame.Amount != 1500 || frame.Priority != 9 {
		t.Fatalf("frame sizing wrong: %+v", frame)
	}

	t.Logf("✓ 网关帧: %s %s->%s", frame.Symbol, frame.PrimaryExchange, frame.SecondaryExchange)
}
