package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"fundarb/internal/application/port"
	"fundarb/internal/domain/model"
	"fundarb/internal/infrastructure/exchange"
)

// gatewayRequest 发往低延迟执行网关的帧。
// request_id 由网关原样带回，用于同一连接上的请求匹配
type gatewayRequest struct {
	RequestID         string  `json:"request_id"`
	StrategyID        string  `json:"strategy_id"`
	Symbol            string  `json:"symbol"`
	PrimaryExchange   string  `json:"primary_exchange"`
	SecondaryExchange string  `json:"secondary_exchange,omitempty"`
	Amount            float64 `json:"amount"`
	Priority          int     `json:"priority"`
	Timestamp         int64   `json:"timestamp"`
}

// gatewayResponse 网关回执
type gatewayResponse struct {
	RequestID     string  `json:"request_id"`
	Status        string  `json:"status"` // success / failure
	Profit        float64 `json:"profit"`
	ExecutionTime int64   `json:"execution_time"` // 毫秒
	ErrorMessage  string  `json:"error_message,omitempty"`
}

// LowLatencyBackend 低延迟执行后端。
// 订单路由给常驻执行引擎，走一条长连 WebSocket，断线下次请求时重拨
type LowLatencyBackend struct {
	ws *exchange.WSHelper

	mu   sync.Mutex // 保护 conn 的建立与写入
	conn *websocket.Conn

	pendMu  sync.Mutex
	pending map[string]chan *gatewayResponse

	load int64
}

// NewLowLatency 创建低延迟后端
func NewLowLatency(gatewayURL string) *LowLatencyBackend {
	return &LowLatencyBackend{
		ws:      &exchange.WSHelper{URL: gatewayURL},
		pending: make(map[string]chan *gatewayResponse),
	}
}

func (b *LowLatencyBackend) Kind() model.BackendKind { return model.BackendLowLatency }

func (b *LowLatencyBackend) CurrentLoad() int { return int(atomic.LoadInt64(&b.load)) }

// Execute 把请求发给执行引擎并等待回执
func (b *LowLatencyBackend) Execute(ctx context.Context, req *model.ExecutionRequest) (*model.ExecutionResult, error) {
	atomic.AddInt64(&b.load, 1)
	defer atomic.AddInt64(&b.load, -1)

	started := time.Now()

	frame := toGatewayRequest(req)
	respCh := b.register(req.ID)
	defer b.unregister(req.ID)

	if err := b.send(ctx, frame); err != nil {
		return nil, fmt.Errorf("gateway send: %w", err)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case resp := <-respCh:
		if resp == nil {
			return nil, errors.New("gateway connection lost")
		}

		result := &model.ExecutionResult{
			RequestID:   req.ID,
			Backend:     model.BackendLowLatency,
			Profit:      resp.Profit,
			LatencyMs:   resp.ExecutionTime,
			CompletedAt: time.Now().UnixMilli(),
		}
		if result.LatencyMs == 0 {
			result.LatencyMs = time.Since(started).Milliseconds()
		}
		if resp.Status == "success" {
			result.Status = model.ExecSuccess
		} else {
			result.Status = model.ExecFailure
			result.ErrorDetail = resp.ErrorMessage
			if result.ErrorDetail == "" {
				result.ErrorDetail = "gateway status " + resp.Status
			}
		}
		return result, nil
	}
}

// toGatewayRequest 多腿请求压成引擎协议：主腿 + 对手腿
func toGatewayRequest(req *model.ExecutionRequest) *gatewayRequest {
	frame := &gatewayRequest{
		RequestID:  req.ID,
		StrategyID: string(req.Strategy),
		Symbol:     req.Symbol,
		Priority:   req.Priority,
		Timestamp:  req.SubmittedAt,
	}
	if len(req.Legs) > 0 {
		frame.PrimaryExchange = req.Legs[0].Exchange
		frame.Amount = req.Legs[0].Notional
	}
	if len(req.Legs) > 1 {
		frame.SecondaryExchange = req.Legs[1].Exchange
		if req.Legs[1].Notional > frame.Amount {
			frame.Amount = req.Legs[1].Notional
		}
	}
	return frame
}

// send 确保连接存在后写入一帧
func (b *LowLatencyBackend) send(ctx context.Context, frame *gatewayRequest) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.conn == nil {
		conn, err := b.ws.DialWS(ctx)
		if err != nil {
			return err
		}
		b.conn = conn
		go b.readResponses(conn)
		log.Info().Str("backend", "low_latency").Str("url", b.ws.URL).Msg("gateway connected")
	}

	if err := b.conn.WriteJSON(frame); err != nil {
		b.closeConnLocked()
		return err
	}
	return nil
}

// readResponses 常驻读取回执，断线时唤醒所有等待者
func (b *LowLatencyBackend) readResponses(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			log.Warn().Str("backend", "low_latency").Err(err).Msg("gateway disconnected")
			b.mu.Lock()
			if b.conn == conn {
				b.closeConnLocked()
			}
			b.mu.Unlock()
			return
		}

		var resp gatewayResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			log.Error().Str("backend", "low_latency").Err(err).Msg("bad gateway frame")
			continue
		}
		b.deliver(&resp)
	}
}

func (b *LowLatencyBackend) register(requestID string) chan *gatewayResponse {
	ch := make(chan *gatewayResponse, 1)
	b.pendMu.Lock()
	b.pending[requestID] = ch
	b.pendMu.Unlock()
	return ch
}

func (b *LowLatencyBackend) unregister(requestID string) {
	b.pendMu.Lock()
	delete(b.pending, requestID)
	b.pendMu.Unlock()
}

func (b *LowLatencyBackend) deliver(resp *gatewayResponse) {
	b.pendMu.Lock()
	ch, ok := b.pending[resp.RequestID]
	if ok {
		delete(b.pending, resp.RequestID)
	}
	b.pendMu.Unlock()

	if !ok {
		log.Warn().Str("backend", "low_latency").Str("request", resp.RequestID).Msg("gateway response without waiter")
		return
	}
	ch <- resp
}

// closeConnLocked 关闭连接并给所有在等回执的请求发空响应。
// 调用方必须持有 b.mu
func (b *LowLatencyBackend) closeConnLocked() {
	if b.conn != nil {
		_ = b.conn.Close()
		b.conn = nil
	}

	b.pendMu.Lock()
	for id, ch := range b.pending {
		delete(b.pending, id)
		close(ch)
	}
	b.pendMu.Unlock()
}

var _ port.ExecutionBackend = (*LowLatencyBackend)(nil)
