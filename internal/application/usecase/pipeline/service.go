package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"fundarb/internal/application/port"
	appsvc "fundarb/internal/application/service"
	"fundarb/internal/domain/model"
	domainsvc "fundarb/internal/domain/service"
)

// ServiceDeps 流水线依赖
type ServiceDeps struct {
	Aggregator *appsvc.RateAggregator
	Detector   *domainsvc.OpportunityDetector
	Risk       *domainsvc.RiskManager
	Router     *appsvc.ExecutionRouter
	Tracker    *domainsvc.PositionTracker
	Tuner      *domainsvc.RoutingTuner
	Stats      *domainsvc.ExecutionStats
	Repo       port.Repository
	Sink       port.EventSink

	Symbols      []string
	CollectEvery time.Duration // 行情轮询周期
	SweepEvery   time.Duration // 持仓扫描周期
	TuneEvery    time.Duration // 调参周期
	DryRun       bool          // 只检测不执行
}

// Service 套利流水线：行情聚合 → 机会检测 → 风控闸门 → 路由执行 → 持仓闭环
type Service struct {
	deps   ServiceDeps
	profit *domainsvc.ProfitCalculator

	nextDetect  map[model.StrategyKind]time.Time
	breakerOpen bool
}

// NewService 创建流水线服务
func NewService(deps ServiceDeps) *Service {
	if deps.CollectEvery <= 0 {
		deps.CollectEvery = 10 * time.Second
	}
	if deps.SweepEvery <= 0 {
		deps.SweepEvery = 30 * time.Second
	}
	if deps.TuneEvery <= 0 {
		deps.TuneEvery = time.Minute
	}
	return &Service{
		deps:       deps,
		profit:     domainsvc.NewProfitCalculator(),
		nextDetect: make(map[model.StrategyKind]time.Time),
	}
}

// Run 启动流水线主循环，阻塞到 ctx 取消
func (s *Service) Run(ctx context.Context) error {
	log.Info().
		Strs("symbols", s.deps.Symbols).
		Dur("collect_every", s.deps.CollectEvery).
		Bool("dry_run", s.deps.DryRun).
		Msg("arbitrage pipeline starting")

	collectTicker := time.NewTicker(s.deps.CollectEvery)
	defer collectTicker.Stop()
	sweepTicker := time.NewTicker(s.deps.SweepEvery)
	defer sweepTicker.Stop()
	tuneTicker := time.NewTicker(s.deps.TuneEvery)
	defer tuneTicker.Stop()

	// 首轮立即拉取
	s.collectAndDetect(ctx, time.Now())

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("pipeline stopped")
			return ctx.Err()

		case now := <-collectTicker.C:
			s.collectAndDetect(ctx, now)

		case now := <-sweepTicker.C:
			s.sweepPositions(ctx, now)

		case <-tuneTicker.C:
			if s.deps.Tuner == nil {
				continue
			}
			if d := s.deps.Tuner.Tick(); d.Adjusted {
				log.Info().
					Str("rule", d.Rule).
					Float64("old", d.OldThreshold).
					Float64("new", d.NewThreshold).
					Str("reason", d.Reason).
					Msg("routing threshold adjusted")
			}
		}
	}
}

// collectAndDetect 拉一轮行情，跑到期的策略检测，处理产出的机会
func (s *Service) collectAndDetect(ctx context.Context, now time.Time) {
	view, err := s.deps.Aggregator.Collect(ctx, now)
	if err != nil {
		log.Warn().Err(err).Msg("market collection degraded")
		if len(view.Rates) == 0 && len(view.Prices) == 0 {
			return
		}
	}
	s.persistRates(ctx, view)

	var opps []*model.ArbitrageOpportunity
	for _, kind := range model.AllStrategyKinds() {
		params := s.deps.Detector.Params(kind)
		if !params.Enabled {
			continue
		}
		if next, ok := s.nextDetect[kind]; ok && now.Before(next) {
			continue
		}
		s.nextDetect[kind] = now.Add(params.UpdateInterval)
		opps = append(opps, s.deps.Detector.DetectKind(kind, &view, now)...)
	}

	for _, opp := range opps {
		s.handleOpportunity(ctx, opp, now)
	}
	s.emitBreakerEdge(now)
}

// handleOpportunity 风控闸门与执行路由
func (s *Service) handleOpportunity(ctx context.Context, opp *model.ArbitrageOpportunity, now time.Time) {
	if err := s.deps.Repo.SaveOpportunity(ctx, opp); err != nil {
		log.Warn().Err(err).Str("opportunity", opp.ID).Msg("save opportunity failed")
	}
	s.publish(model.Event{
		Kind:      model.EventOpportunityFound,
		Symbol:    opp.Symbol,
		Detail:    string(opp.Strategy),
		Payload:   opp,
		Timestamp: now.UnixMilli(),
	})

	log.Info().
		Str("opportunity", opp.ID).
		Str("strategy", string(opp.Strategy)).
		Str("symbol", opp.Symbol).
		Float64("expected_profit", opp.ExpectedProfit).
		Float64("rate_diff", opp.ExpectedRateDiff).
		Float64("confidence", opp.Confidence).
		Msg("opportunity found")
	s.logCostModel(opp)

	if s.deps.DryRun {
		return
	}

	_, err := s.deps.Risk.Evaluate(opp, now)
	if err != nil {
		if errors.Is(err, model.ErrStaleOpportunity) {
			log.Debug().Str("opportunity", opp.ID).Msg("opportunity expired before evaluation")
			return
		}
		if rej, ok := model.AsRiskRejection(err); ok {
			log.Warn().
				Str("opportunity", opp.ID).
				Str("reason", string(rej.Reason)).
				Str("detail", rej.Detail).
				Msg("risk gate rejected opportunity")
			s.publish(model.Event{
				Kind:      model.EventRiskRejected,
				Symbol:    opp.Symbol,
				Detail:    string(rej.Reason),
				Payload:   opp,
				Timestamp: now.UnixMilli(),
			})
			return
		}
		log.Debug().Err(err).Str("opportunity", opp.ID).Msg("opportunity skipped")
		return
	}

	res, err := s.deps.Router.Dispatch(ctx, opp)
	if err != nil {
		s.deps.Risk.Release(opp.ID)
		log.Error().Err(err).Str("opportunity", opp.ID).Msg("dispatch failed, reservation released")
		return
	}
	s.afterExecution(ctx, opp, res, time.Now())
}

// afterExecution 执行结果落库、熔断计数与持仓建账
func (s *Service) afterExecution(ctx context.Context, opp *model.ArbitrageOpportunity, res *model.ExecutionResult, now time.Time) {
	if err := s.deps.Repo.SaveExecution(ctx, res); err != nil {
		log.Warn().Err(err).Str("request", res.RequestID).Msg("save execution failed")
	}
	s.publish(model.Event{
		Kind:      model.EventExecutionResult,
		Symbol:    opp.Symbol,
		Detail:    string(res.Status),
		Payload:   res,
		Timestamp: now.UnixMilli(),
	})

	if tripped := s.deps.Risk.ReportExecution(res, now); tripped {
		s.breakerOpen = true
		log.Error().Str("request", res.RequestID).Msg("circuit breaker tripped")
		s.publish(model.Event{
			Kind:      model.EventCircuitTripped,
			Detail:    res.ErrorDetail,
			Payload:   s.deps.Risk.Ledger(),
			Timestamp: now.UnixMilli(),
		})
	}

	if !res.OK() {
		s.deps.Risk.Release(opp.ID)
		log.Warn().
			Str("opportunity", opp.ID).
			Str("status", string(res.Status)).
			Str("error", res.ErrorDetail).
			Msg("execution failed, exposure released")
		return
	}

	req := &model.ExecutionRequest{
		ID:            res.RequestID,
		OpportunityID: opp.ID,
		Strategy:      opp.Strategy,
		Symbol:        opp.Symbol,
		Legs:          opp.Legs,
		Backend:       res.Backend,
		Priority:      opp.Priority,
		SettleAt:      opp.SettleAt,
	}
	pos := s.deps.Tracker.Open(req, res, now)
	if err := s.deps.Repo.SavePosition(ctx, pos); err != nil {
		log.Warn().Err(err).Str("position", pos.ID).Msg("save position failed")
	}

	if pos.Status == model.PositionFailed {
		log.Error().
			Str("position", pos.ID).
			Str("opportunity", opp.ID).
			Msg("partial fill, unwinding")
		if unwindRes, err := s.deps.Router.Unwind(ctx, pos); err != nil {
			log.Error().Err(err).Str("position", pos.ID).Msg("unwind dispatch failed")
		} else if unwindRes != nil && !unwindRes.OK() {
			log.Error().
				Str("position", pos.ID).
				Str("error", unwindRes.ErrorDetail).
				Msg("unwind execution failed, manual intervention required")
		}
		s.deps.Risk.ReportOutcome(pos, now)
		s.publish(model.Event{
			Kind:      model.EventPositionClosed,
			Symbol:    pos.Symbol,
			Detail:    pos.ClosingReason,
			Payload:   pos,
			Timestamp: now.UnixMilli(),
		})
		return
	}

	log.Info().
		Str("position", pos.ID).
		Str("backend", string(res.Backend)).
		Int64("latency_ms", res.LatencyMs).
		Msg("position opened")
}

// sweepPositions 扫描到期持仓并平仓；上一轮平仓失败的 CLOSING 持仓一并重试
func (s *Service) sweepPositions(ctx context.Context, now time.Time) {
	due := s.deps.Tracker.SweepDue(now, s.priceOf)
	seen := make(map[string]bool, len(due))
	for _, pos := range due {
		seen[pos.ID] = true
	}
	for _, pos := range s.deps.Tracker.Closing() {
		if !seen[pos.ID] {
			due = append(due, pos)
		}
	}

	for _, pos := range due {
		res, err := s.deps.Router.Unwind(ctx, pos)
		if err != nil || res == nil || !res.OK() {
			log.Warn().Str("position", pos.ID).Msg("close execution failed, will retry next sweep")
			continue
		}
		closed, err := s.deps.Tracker.Close(pos.ID, res.Fills, now)
		if err != nil {
			log.Warn().Err(err).Str("position", pos.ID).Msg("position settle failed")
			continue
		}
		s.deps.Risk.ReportOutcome(closed, now)
		if err := s.deps.Repo.UpdatePosition(ctx, closed); err != nil {
			log.Warn().Err(err).Str("position", closed.ID).Msg("update position failed")
		}
		log.Info().
			Str("position", closed.ID).
			Str("reason", closed.ClosingReason).
			Float64("pnl", closed.RealizedPnl).
			Msg("position closed")
		s.publish(model.Event{
			Kind:      model.EventPositionClosed,
			Symbol:    closed.Symbol,
			Detail:    closed.ClosingReason,
			Payload:   closed,
			Timestamp: now.UnixMilli(),
		})
	}
	s.emitBreakerEdge(now)
}

// emitBreakerEdge 检测熔断器从打开到恢复的边沿并发事件
func (s *Service) emitBreakerEdge(now time.Time) {
	open := s.deps.Risk.BreakerOpen(now)
	if s.breakerOpen && !open {
		log.Info().Msg("circuit breaker recovered")
		s.publish(model.Event{
			Kind:      model.EventCircuitReset,
			Payload:   s.deps.Risk.Ledger(),
			Timestamp: now.UnixMilli(),
		})
	}
	s.breakerOpen = open
}

// logCostModel 资金费类机会的净收益测算，只记录不拦截
func (s *Service) logCostModel(opp *model.ArbitrageOpportunity) {
	if opp.Strategy != model.StrategyCrossExchange && opp.Strategy != model.StrategyExtremeRate {
		return
	}
	primary, secondary := fundingVenues(opp)
	est := s.profit.Estimate(opp.Strategy, primary, secondary, opp.Symbol,
		opp.Notional(), opp.ExpectedRateDiff, s.deps.Detector.HoldingHours())

	if est.NetProfit <= 0 {
		log.Warn().
			Str("opportunity", opp.ID).
			Float64("net_profit", est.NetProfit).
			Float64("fee_cost", est.FeeCost).
			Float64("slippage_cost", est.SlippageCost).
			Int("break_even_periods", est.BreakEvenPeriods).
			Msg("⚠️ funding capture may not cover costs")
		return
	}
	log.Debug().
		Str("opportunity", opp.ID).
		Float64("net_profit", est.NetProfit).
		Float64("max_loss", est.MaxLoss).
		Int("funding_periods", est.FundingPeriods).
		Float64("annualized_pct", est.AnnualizedPct).
		Msg("funding cost model")
}

// fundingVenues 收费侧（做空腿）与对冲侧交易所
func fundingVenues(opp *model.ArbitrageOpportunity) (primary, secondary string) {
	for _, leg := range opp.Legs {
		if leg.Side == model.SideShort {
			primary = leg.Exchange
		} else {
			secondary = leg.Exchange
		}
	}
	return primary, secondary
}

// priceOf 供持仓扫描估算浮盈：优先永续标记价，其次现货中间价
func (s *Service) priceOf(exchange, symbol string) (float64, bool) {
	view := s.deps.Aggregator.View()
	if rate, ok := view.Rates[exchange+":"+symbol]; ok && rate.MarkPrice > 0 {
		return rate.MarkPrice, true
	}
	if price, ok := view.Prices[exchange+":"+symbol]; ok {
		return price.Mid(), true
	}
	return 0, false
}

// persistRates 行情快照落库，失败只告警
func (s *Service) persistRates(ctx context.Context, view model.MarketView) {
	for _, snap := range view.Rates {
		if err := s.deps.Repo.SaveRateSnapshot(ctx, &snap); err != nil {
			log.Warn().Err(err).Str("key", snap.Key()).Msg("save rate snapshot failed")
			return
		}
	}
}

func (s *Service) publish(evt model.Event) {
	if s.deps.Sink != nil {
		s.deps.Sink.Publish(evt)
	}
}

// Snapshot 运行状态快照，供控制台渲染
type Snapshot struct {
	Ledger    domainsvc.RiskLedger          `json:"ledger"`
	Stats     domainsvc.StatsSnapshot       `json:"stats"`
	Positions []*model.Position             `json:"positions"`
	Rates     map[string]model.RateSnapshot `json:"rates"`
}

// Status 汇总当前风控、统计与持仓状态
func (s *Service) Status() Snapshot {
	return Snapshot{
		Ledger:    s.deps.Risk.Ledger(),
		Stats:     s.deps.Stats.Snapshot(),
		Positions: s.deps.Tracker.OpenPositions(),
		Rates:     s.deps.Aggregator.View().Rates,
	}
}
