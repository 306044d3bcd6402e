package service

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"fundarb/internal/domain/model"
)

// RiskLimits 风控限额
type RiskLimits struct {
	MaxTotalExposure   float64                        // 总敞口上限（美元）
	StrategyLimits     map[model.StrategyKind]float64 // 每策略敞口上限
	DefaultStrategyCap float64                        // 未单独配置策略的缺省上限
	MaxDailyLoss       float64                        // 当日最大亏损（正数，美元）
	MaxDrawdown        float64                        // 回撤停机线（占总敞口上限的比例）
	CorrelationLimit   float64                        // 同一标的资产敞口占比上限
}

// reservation 一笔已接受机会占用的敞口
type reservation struct {
	strategy model.StrategyKind
	notional float64
	base     string // 标的资产
}

// RiskManager 风控闸门
// 独占持有敞口台账与熔断器。评估与预留在同一临界区内完成，
// 并发接受的机会不会合计突破任何限额
type RiskManager struct {
	mu sync.Mutex

	limits  RiskLimits
	breaker *CircuitBreaker

	totalExposure    float64
	strategyExposure map[model.StrategyKind]float64
	reservations     map[string]reservation // opportunityID → 预留

	dailyRealizedPnl float64
	dailyAnchor      time.Time // 当前统计日（UTC 日界）

	equity     float64 // 累计已实现盈亏
	peakEquity float64
}

// NewRiskManager 创建风控闸门
func NewRiskManager(limits RiskLimits, breaker *CircuitBreaker) *RiskManager {
	if breaker == nil {
		breaker = NewCircuitBreaker(5, 300*time.Second)
	}
	return &RiskManager{
		limits:           limits,
		breaker:          breaker,
		strategyExposure: make(map[model.StrategyKind]float64),
		reservations:     make(map[string]reservation),
	}
}

// Evaluate 评估一个机会
// 过期机会直接丢弃，不占用任何额度；五项检查按序短路，
// 全部通过后在同一临界区内预留敞口并返回可执行腿
func (m *RiskManager) Evaluate(opp *model.ArbitrageOpportunity, now time.Time) ([]model.Leg, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if opp.Expired(now) {
		return nil, model.ErrStaleOpportunity
	}
	if _, exists := m.reservations[opp.ID]; exists {
		return nil, fmt.Errorf("opportunity %s already reserved", opp.ID)
	}
	m.rollDay(now)

	notional := opp.Notional()

	// 1. 熔断器（恢复窗口期满时先自动复位）
	m.breaker.MaybeRecover(now)
	if m.breaker.Open() {
		return nil, model.NewRiskRejection(model.RejectCircuitOpen, "circuit breaker open")
	}

	// 2. 总敞口
	if m.totalExposure+notional > m.limits.MaxTotalExposure {
		return nil, model.NewRiskRejection(model.RejectGlobalExposure,
			fmt.Sprintf("total %.2f + %.2f exceeds limit %.2f", m.totalExposure, notional, m.limits.MaxTotalExposure))
	}

	// 3. 策略敞口
	limit := m.strategyCap(opp.Strategy)
	if m.strategyExposure[opp.Strategy]+notional > limit {
		return nil, model.NewRiskRejection(model.RejectStrategyExposure,
			fmt.Sprintf("%s %.2f + %.2f exceeds limit %.2f", opp.Strategy, m.strategyExposure[opp.Strategy], notional, limit))
	}

	// 4. 当日亏损与回撤停机线（回撤跨日累计，不随日界清零）
	if m.dailyRealizedPnl < -m.limits.MaxDailyLoss {
		return nil, model.NewRiskRejection(model.RejectDailyLoss,
			fmt.Sprintf("daily pnl %.2f below -%.2f", m.dailyRealizedPnl, m.limits.MaxDailyLoss))
	}
	if m.limits.MaxDrawdown > 0 && m.limits.MaxTotalExposure > 0 {
		if dd := m.peakEquity - m.equity; dd > m.limits.MaxDrawdown*m.limits.MaxTotalExposure {
			return nil, model.NewRiskRejection(model.RejectDailyLoss,
				fmt.Sprintf("drawdown %.2f exceeds %.2f", dd, m.limits.MaxDrawdown*m.limits.MaxTotalExposure))
		}
	}

	// 5. 相关性：接受后同一标的资产的敞口占比不得超限
	if m.limits.CorrelationLimit > 0 && m.totalExposure > 0 {
		if share := m.correlationAfter(opp.Symbol, notional); share > m.limits.CorrelationLimit {
			return nil, model.NewRiskRejection(model.RejectCorrelation,
				fmt.Sprintf("%s share %.2f exceeds limit %.2f", baseAsset(opp.Symbol), share, m.limits.CorrelationLimit))
		}
	}

	m.totalExposure += notional
	m.strategyExposure[opp.Strategy] += notional
	m.reservations[opp.ID] = reservation{
		strategy: opp.Strategy,
		notional: notional,
		base:     baseAsset(opp.Symbol),
	}
	return opp.Legs, nil
}

// Release 释放一笔敞口预留，执行失败时调用
func (m *RiskManager) Release(opportunityID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.release(opportunityID)
}

// ReportOutcome 持仓终态回报：入账已实现盈亏并释放敞口预留
// PositionTracker 保证同一持仓只回报一次
func (m *RiskManager) ReportOutcome(pos *model.Position, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rollDay(now)
	m.release(pos.OpportunityID)
	m.dailyRealizedPnl += pos.RealizedPnl

	m.equity += pos.RealizedPnl
	if m.equity > m.peakEquity {
		m.peakEquity = m.equity
	}
}

// ReportExecution 执行终态回报给熔断器；失败时返回是否因此跳闸
func (m *RiskManager) ReportExecution(res *model.ExecutionResult, now time.Time) (tripped bool) {
	if res.OK() {
		m.breaker.RecordSuccess()
		return false
	}
	return m.breaker.RecordFailure(now)
}

// BreakerOpen 熔断器当前是否打开，恢复窗口期满时先自动复位
func (m *RiskManager) BreakerOpen(now time.Time) bool {
	m.breaker.MaybeRecover(now)
	return m.breaker.Open()
}

// RiskLedger 风控台账快照
type RiskLedger struct {
	TotalExposure       float64                        `json:"total_exposure"`
	PerStrategyExposure map[model.StrategyKind]float64 `json:"per_strategy_exposure"`
	DailyRealizedPnl    float64                        `json:"daily_realized_pnl"`
	DrawdownUSD         float64                        `json:"drawdown_usd"` // 距盈亏曲线峰值的回撤
	DrawdownAlert       bool                           `json:"drawdown_alert"`
	OpenReservations    int                            `json:"open_reservations"`
	Breaker             BreakerState                   `json:"breaker"`
}

// Ledger 导出台账快照
func (m *RiskManager) Ledger() RiskLedger {
	m.mu.Lock()
	defer m.mu.Unlock()

	ledger := RiskLedger{
		TotalExposure:       m.totalExposure,
		PerStrategyExposure: make(map[model.StrategyKind]float64, len(m.strategyExposure)),
		DailyRealizedPnl:    m.dailyRealizedPnl,
		DrawdownUSD:         m.peakEquity - m.equity,
		OpenReservations:    len(m.reservations),
		Breaker:             m.breaker.State(),
	}
	for k, v := range m.strategyExposure {
		ledger.PerStrategyExposure[k] = v
	}
	if m.limits.MaxDrawdown > 0 && m.limits.MaxTotalExposure > 0 {
		ledger.DrawdownAlert = ledger.DrawdownUSD > m.limits.MaxDrawdown*m.limits.MaxTotalExposure
	}
	return ledger
}

// release 调用方需持有锁
func (m *RiskManager) release(opportunityID string) bool {
	r, ok := m.reservations[opportunityID]
	if !ok {
		return false
	}
	delete(m.reservations, opportunityID)

	m.totalExposure -= r.notional
	if m.totalExposure < 0 {
		m.totalExposure = 0
	}
	m.strategyExposure[r.strategy] -= r.notional
	if m.strategyExposure[r.strategy] <= 0 {
		delete(m.strategyExposure, r.strategy)
	}
	return true
}

// rollDay 跨 UTC 日界时清零当日盈亏
func (m *RiskManager) rollDay(now time.Time) {
	day := now.UTC().Truncate(24 * time.Hour)
	if !day.Equal(m.dailyAnchor) {
		m.dailyAnchor = day
		m.dailyRealizedPnl = 0
	}
}

// strategyCap 策略敞口上限
func (m *RiskManager) strategyCap(kind model.StrategyKind) float64 {
	if limit, ok := m.limits.StrategyLimits[kind]; ok && limit > 0 {
		return limit
	}
	if m.limits.DefaultStrategyCap > 0 {
		return m.limits.DefaultStrategyCap
	}
	return m.limits.MaxTotalExposure
}

// correlationAfter 接受该机会后同一标的资产的敞口占比，调用方需持有锁
func (m *RiskManager) correlationAfter(symbol string, notional float64) float64 {
	base := baseAsset(symbol)
	same := notional
	for _, r := range m.reservations {
		if r.base == base {
			same += r.notional
		}
	}
	return same / (m.totalExposure + notional)
}

// baseAsset 从交易对中提取标的资产（BTCUSDT → BTC，SOL/USDT → SOL）
func baseAsset(symbol string) string {
	if i := strings.IndexAny(symbol, "/-"); i > 0 {
		return symbol[:i]
	}
	for _, quote := range []string{"USDT", "USDC", "USD"} {
		if strings.HasSuffix(symbol, quote) && len(symbol) > len(quote) {
			return strings.TrimSuffix(symbol, quote)
		}
	}
	return symbol
}
