package backend

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"fundarb/internal/application/port"
	"fundarb/internal/domain/model"
)

// 纸面成交的手续费估算
const paperFeeRate = 0.0005

// StandardBackend 常规执行后端：逐腿走交易所 REST 下单。
// dryRun 模式只取盘口模拟成交，不发真实订单
type StandardBackend struct {
	connectors map[string]port.ExchangeConnector
	dryRun     bool
	orderSem   chan struct{}
	load       int64
}

// NewStandard 创建常规后端。
// maxOrders 限制同时在途的单腿订单数
func NewStandard(connectors map[string]port.ExchangeConnector, dryRun bool, maxOrders int) *StandardBackend {
	if maxOrders <= 0 {
		maxOrders = 8
	}
	return &StandardBackend{
		connectors: connectors,
		dryRun:     dryRun,
		orderSem:   make(chan struct{}, maxOrders),
	}
}

func (s *StandardBackend) Kind() model.BackendKind { return model.BackendStandard }

func (s *StandardBackend) CurrentLoad() int { return int(atomic.LoadInt64(&s.load)) }

// Execute 并发执行全部腿。
// 部分成交原样回报，敞口由上层对冲，不在这里撤单
func (s *StandardBackend) Execute(ctx context.Context, req *model.ExecutionRequest) (*model.ExecutionResult, error) {
	atomic.AddInt64(&s.load, 1)
	defer atomic.AddInt64(&s.load, -1)

	started := time.Now()

	fills := make([]*model.Fill, len(req.Legs))
	errs := make([]error, len(req.Legs))

	var wg sync.WaitGroup
	for i := range req.Legs {
		wg.Add(1)
		go func(i int, leg model.Leg) {
			defer wg.Done()

			select {
			case s.orderSem <- struct{}{}:
				defer func() { <-s.orderSem }()
			case <-ctx.Done():
				errs[i] = ctx.Err()
				return
			}

			fills[i], errs[i] = s.placeLeg(ctx, leg)
		}(i, req.Legs[i])
	}
	wg.Wait()

	result := &model.ExecutionResult{
		RequestID:   req.ID,
		Backend:     model.BackendStandard,
		Status:      model.ExecSuccess,
		LatencyMs:   time.Since(started).Milliseconds(),
		CompletedAt: time.Now().UnixMilli(),
	}

	var failures []string
	for i, err := range errs {
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s/%s: %v", req.Legs[i].Exchange, req.Legs[i].Symbol, err))
			continue
		}
		if fills[i] != nil {
			result.Fills = append(result.Fills, *fills[i])
		}
	}
	if len(failures) > 0 {
		result.Status = model.ExecFailure
		result.ErrorDetail = strings.Join(failures, "; ")
	}

	log.Info().
		Str("backend", "standard").
		Str("request", req.ID).
		Int("legs", len(req.Legs)).
		Int("fills", len(result.Fills)).
		Str("status", string(result.Status)).
		Int64("latency_ms", result.LatencyMs).
		Msg("execution finished")

	return result, nil
}

// placeLeg 单腿市价下单
func (s *StandardBackend) placeLeg(ctx context.Context, leg model.Leg) (*model.Fill, error) {
	conn, ok := s.connectors[strings.ToLower(leg.Exchange)]
	if !ok {
		return nil, fmt.Errorf("no connector for exchange %s", leg.Exchange)
	}

	if s.dryRun {
		return s.paperFill(ctx, conn, leg)
	}

	ack, err := conn.PlaceOrder(ctx, port.OrderIntent{
		Symbol:   leg.Symbol,
		Market:   leg.Market,
		Side:     leg.Side,
		Notional: leg.Notional,
	})
	if err != nil {
		return nil, err
	}

	return &model.Fill{
		Exchange: leg.Exchange,
		Symbol:   leg.Symbol,
		Market:   leg.Market,
		Side:     leg.Side,
		Price:    ack.Price,
		Quantity: ack.Quantity,
		Fee:      ack.Fee,
		OrderID:  ack.OrderID,
	}, nil
}

// paperFill 取当前盘口模拟成交：买按卖一，卖按买一
func (s *StandardBackend) paperFill(ctx context.Context, conn port.ExchangeConnector, leg model.Leg) (*model.Fill, error) {
	snaps, err := conn.Prices(ctx, []string{leg.Symbol})
	if err != nil {
		return nil, fmt.Errorf("paper fill price: %w", err)
	}
	if len(snaps) == 0 {
		return nil, fmt.Errorf("paper fill: no price for %s", leg.Symbol)
	}

	price := snaps[0].Ask
	if leg.Side == model.SideShort {
		price = snaps[0].Bid
	}
	if price <= 0 {
		return nil, fmt.Errorf("paper fill: empty book for %s", leg.Symbol)
	}

	return &model.Fill{
		Exchange: leg.Exchange,
		Symbol:   leg.Symbol,
		Market:   leg.Market,
		Side:     leg.Side,
		Price:    price,
		Quantity: leg.Notional / price,
		Fee:      leg.Notional * paperFeeRate,
		OrderID:  "paper-" + uuid.NewString(),
	}, nil
}

var _ port.ExecutionBackend = (*StandardBackend)(nil)
