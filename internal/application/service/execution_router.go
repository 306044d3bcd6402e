package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"fundarb/internal/application/port"
	"fundarb/internal/domain/model"
	domainsvc "fundarb/internal/domain/service"
)

// RouterConfig 执行路由配置
type RouterConfig struct {
	RequestTimeout        time.Duration // 单次后端执行超时
	MaxConcurrentRequests int           // 全局在途请求上限
	LowLatencyRatio       float64       // 低延迟通道流量软上限（占比）
	MaxBackendLoad        int           // 单后端在途上限，超过即分流
}

// DefaultRouterConfig 返回默认路由配置
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		RequestTimeout:        10 * time.Second,
		MaxConcurrentRequests: 16,
		LowLatencyRatio:       0.3,
		MaxBackendLoad:        8,
	}
}

// 负载削减时上报的伪规则名
const RuleLoadShed = "load_shed"

// ExecutionRouter 执行路由器
// 查表选后端，软上限分流，失败后跨后端重试一次；每次尝试都计入统计
type ExecutionRouter struct {
	cfg      RouterConfig
	table    *domainsvc.RoutingTable
	stats    *domainsvc.ExecutionStats
	backends map[model.BackendKind]port.ExecutionBackend
	sem      chan struct{}
}

// NewExecutionRouter 创建执行路由器
func NewExecutionRouter(cfg RouterConfig, table *domainsvc.RoutingTable, stats *domainsvc.ExecutionStats) *ExecutionRouter {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRouterConfig().RequestTimeout
	}
	if cfg.MaxConcurrentRequests <= 0 {
		cfg.MaxConcurrentRequests = DefaultRouterConfig().MaxConcurrentRequests
	}
	return &ExecutionRouter{
		cfg:      cfg,
		table:    table,
		stats:    stats,
		backends: make(map[model.BackendKind]port.ExecutionBackend),
		sem:      make(chan struct{}, cfg.MaxConcurrentRequests),
	}
}

// RegisterBackend 注册执行后端
func (r *ExecutionRouter) RegisterBackend(b port.ExecutionBackend) {
	r.backends[b.Kind()] = b
}

// Dispatch 执行一个已通过风控的机会。
// 返回最后一次尝试的结果；只有后端完全缺失时才返回错误。
func (r *ExecutionRouter) Dispatch(ctx context.Context, opp *model.ArbitrageOpportunity) (*model.ExecutionResult, error) {
	select {
	case r.sem <- struct{}{}:
		defer func() { <-r.sem }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	kind, rule := r.table.Decide(opp)
	if shed := r.maybeShed(kind); shed != kind {
		log.Debug().
			Str("opportunity", opp.ID).
			Str("from", string(kind)).
			Str("to", string(shed)).
			Msg("low latency channel saturated, diverting")
		kind, rule = shed, RuleLoadShed
	}

	backend, ok := r.backends[kind]
	if !ok {
		if backend, ok = r.backends[kind.Other()]; !ok {
			return nil, fmt.Errorf("no execution backend registered")
		}
		kind = backend.Kind()
	}

	req := &model.ExecutionRequest{
		ID:            uuid.NewString(),
		OpportunityID: opp.ID,
		Strategy:      opp.Strategy,
		Symbol:        opp.Symbol,
		Legs:          opp.Legs,
		Backend:       kind,
		Priority:      opp.Priority,
		SettleAt:      opp.SettleAt,
		SubmittedAt:   time.Now().UnixMilli(),
	}

	log.Info().
		Str("opportunity", opp.ID).
		Str("strategy", string(opp.Strategy)).
		Str("backend", string(kind)).
		Str("rule", rule).
		Float64("expected_profit", opp.ExpectedProfit).
		Msg("dispatching execution")

	res := r.executeOnce(ctx, backend, req)
	if res.OK() {
		return res, nil
	}

	// 跨后端重试，只此一次
	fallback, ok := r.backends[kind.Other()]
	if !ok {
		return res, nil
	}
	log.Warn().
		Str("request", req.ID).
		Str("failed_backend", string(kind)).
		Str("retry_backend", string(fallback.Kind())).
		Str("error", res.ErrorDetail).
		Msg("execution failed, retrying on the other backend")

	req.Backend = fallback.Kind()
	return r.executeOnce(ctx, fallback, req), nil
}

// Unwind 对冲已成交的腿：逐腿反向市价单走常规后端。
// 部分成交的仓位必须尽快回到净零敞口
func (r *ExecutionRouter) Unwind(ctx context.Context, pos *model.Position) (*model.ExecutionResult, error) {
	var legs []model.Leg
	for _, pl := range pos.Legs {
		if !pl.Filled {
			continue
		}
		leg := pl.Leg
		leg.Side = leg.Side.Opposite()
		legs = append(legs, leg)
	}
	if len(legs) == 0 {
		return nil, nil
	}

	backend, ok := r.backends[model.BackendStandard]
	if !ok {
		if backend, ok = r.backends[model.BackendLowLatency]; !ok {
			return nil, fmt.Errorf("no execution backend registered")
		}
	}

	req := &model.ExecutionRequest{
		ID:            uuid.NewString(),
		OpportunityID: pos.OpportunityID,
		Strategy:      pos.Strategy,
		Symbol:        pos.Symbol,
		Legs:          legs,
		Backend:       backend.Kind(),
		Priority:      10, // 对冲解敞口优先级最高
		SubmittedAt:   time.Now().UnixMilli(),
	}
	log.Warn().
		Str("position", pos.ID).
		Int("legs", len(legs)).
		Msg("unwinding filled legs")
	return r.executeOnce(ctx, backend, req), nil
}

// maybeShed 低延迟通道超过软上限或在途过载时回落到常规通道
func (r *ExecutionRouter) maybeShed(kind model.BackendKind) model.BackendKind {
	if kind != model.BackendLowLatency {
		return kind
	}
	if r.cfg.LowLatencyRatio > 0 && r.stats.RecentShare(model.BackendLowLatency) >= r.cfg.LowLatencyRatio {
		return model.BackendStandard
	}
	if b, ok := r.backends[model.BackendLowLatency]; ok && r.cfg.MaxBackendLoad > 0 && b.CurrentLoad() >= r.cfg.MaxBackendLoad {
		return model.BackendStandard
	}
	return kind
}

// executeOnce 在指定后端执行一次，失败与超时都折算成结果并计入统计
func (r *ExecutionRouter) executeOnce(ctx context.Context, backend port.ExecutionBackend, req *model.ExecutionRequest) *model.ExecutionResult {
	actx, cancel := context.WithTimeout(ctx, r.cfg.RequestTimeout)
	defer cancel()

	started := time.Now()
	res, err := backend.Execute(actx, req)
	latency := time.Since(started)

	if err != nil || res == nil {
		status := model.ExecFailure
		if errors.Is(err, context.DeadlineExceeded) {
			status = model.ExecTimeout
		}
		detail := "backend returned no result"
		if err != nil {
			detail = err.Error()
		}
		res = &model.ExecutionResult{
			RequestID:   req.ID,
			Backend:     backend.Kind(),
			Status:      status,
			ErrorDetail: detail,
			LatencyMs:   latency.Milliseconds(),
			CompletedAt: time.Now().UnixMilli(),
		}
	} else {
		res.RequestID = req.ID
		res.Backend = backend.Kind()
		if res.LatencyMs == 0 {
			res.LatencyMs = latency.Milliseconds()
		}
		if res.CompletedAt == 0 {
			res.CompletedAt = time.Now().UnixMilli()
		}
	}

	r.stats.Record(req.Strategy, req.Symbol, backend.Kind(), res.Status, latency, res.Profit)
	return res
}
