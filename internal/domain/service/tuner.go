package service

import (
	"math"
	"time"

	"fundarb/internal/domain/model"
)

// ========== 路由调参器 ==========

// TunerPolicy 调参策略
type TunerPolicy struct {
	MinSamples       int     // 窗口内样本数低于此值不调整
	LatencyTargetMs  float64 // 低延迟通道的目标平均延迟
	SuccessFloor     float64 // 低延迟通道成功率下限
	MaxShare         float64 // 低延迟通道流量占比上限
	StepRatio        float64 // 单次调整步长（相对当前阈值）
	MinRateThreshold float64 // 高频规则阈值下界
	MaxRateThreshold float64 // 高频规则阈值上界
}

// DefaultTunerPolicy 返回默认调参策略
func DefaultTunerPolicy() TunerPolicy {
	return TunerPolicy{
		MinSamples:       20,
		LatencyTargetMs:  50,
		SuccessFloor:     0.90,
		MaxShare:         0.35,
		StepRatio:        0.2,
		MinRateThreshold: 0.002,
		MaxRateThreshold: 0.02,
	}
}

// TuneDecision 一次调参结果，供日志与事件上报
type TuneDecision struct {
	Adjusted     bool    `json:"adjusted"`
	Rule         string  `json:"rule"`
	OldThreshold float64 `json:"old_threshold"`
	NewThreshold float64 `json:"new_threshold"`
	Reason       string  `json:"reason"`
}

// RoutingTuner 根据近期执行表现调整路由阈值。调参只在周期性 Tick 中发生，
// 不在逐笔决策路径上，路由查表始终无阻塞。
type RoutingTuner struct {
	policy TunerPolicy
	table  *RoutingTable
	stats  *ExecutionStats
}

// NewRoutingTuner 创建路由调参器
func NewRoutingTuner(policy TunerPolicy, table *RoutingTable, stats *ExecutionStats) *RoutingTuner {
	if policy.StepRatio <= 0 {
		policy.StepRatio = DefaultTunerPolicy().StepRatio
	}
	return &RoutingTuner{policy: policy, table: table, stats: stats}
}

// Tick 执行一轮调参。低延迟通道变差（成功率跌破下限或延迟超标）或流量
// 占比过高时抬高高频阈值收紧分流；表现健康且有余量时压低阈值放量。
func (rt *RoutingTuner) Tick() TuneDecision {
	decision := TuneDecision{Rule: RuleHighFrequency}

	snap := rt.stats.Snapshot()
	if snap.WindowSamples < rt.policy.MinSamples {
		decision.Reason = "insufficient samples"
		return decision
	}

	current, ok := rt.table.Threshold(RuleHighFrequency)
	if !ok || current <= 0 {
		decision.Reason = "rule not found"
		return decision
	}
	decision.OldThreshold = current
	decision.NewThreshold = current

	successRate := rt.stats.RecentSuccessRate(model.BackendLowLatency)
	avgLatency := float64(rt.stats.RecentAvgLatency(model.BackendLowLatency)) / float64(time.Millisecond)
	share := snap.LowLatencyShare

	step := current * rt.policy.StepRatio
	switch {
	case successRate < rt.policy.SuccessFloor:
		decision.NewThreshold = current + step
		decision.Reason = "low latency success rate below floor"
	case avgLatency > rt.policy.LatencyTargetMs:
		decision.NewThreshold = current + step
		decision.Reason = "low latency channel above latency target"
	case share > rt.policy.MaxShare:
		decision.NewThreshold = current + step
		decision.Reason = "low latency share above cap"
	case successRate >= rt.policy.SuccessFloor && avgLatency <= rt.policy.LatencyTargetMs/2 && share < rt.policy.MaxShare/2:
		decision.NewThreshold = current - step
		decision.Reason = "low latency channel healthy, widening"
	default:
		decision.Reason = "within bands"
		return decision
	}

	decision.NewThreshold = clamp(decision.NewThreshold, rt.policy.MinRateThreshold, rt.policy.MaxRateThreshold)
	if math.Abs(decision.NewThreshold-current) < 1e-12 {
		decision.NewThreshold = current
		decision.Reason = "clamped at bound"
		return decision
	}

	if !rt.table.SetThreshold(RuleHighFrequency, decision.NewThreshold) {
		decision.NewThreshold = current
		decision.Reason = "rule not found"
		return decision
	}
	decision.Adjusted = true
	return decision
}
