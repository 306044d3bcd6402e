package service

import (
	"sync"

	"fundarb/internal/domain/model"
)

// RoutingMetric 决策表行使用的机会指标
type RoutingMetric string

const (
	MetricRateDiff RoutingMetric = "rate_diff" // 费率差 / 信号强度
	MetricPriority RoutingMetric = "priority"  // 机会优先级
)

// 缺省规则名
const (
	RuleHighFrequency = "high_frequency"
	RuleHighPriority  = "high_priority"
	RuleDefault       = "default"
)

// RoutingRule 决策表行：指标达到阈值即选定后端
type RoutingRule struct {
	Name      string            `json:"name"`
	Metric    RoutingMetric     `json:"metric"`
	Threshold float64           `json:"threshold"`
	Backend   model.BackendKind `json:"backend"`
}

// RoutingTable 执行路由决策表
// 规则按序评估、首个命中生效，未命中时落入缺省后端；
// 给定一份参数快照，路由结果完全确定
type RoutingTable struct {
	mu       sync.RWMutex
	rules    []RoutingRule
	fallback model.BackendKind
}

// DefaultRoutingTable 缺省决策表：
// 高频费率差或高优先级走低延迟路径，其余走常规路径
func DefaultRoutingTable(highFrequencyThreshold float64, priorityThreshold int) *RoutingTable {
	if highFrequencyThreshold <= 0 {
		highFrequencyThreshold = 0.005
	}
	if priorityThreshold <= 0 {
		priorityThreshold = 8
	}
	return NewRoutingTable([]RoutingRule{
		{Name: RuleHighFrequency, Metric: MetricRateDiff, Threshold: highFrequencyThreshold, Backend: model.BackendLowLatency},
		{Name: RuleHighPriority, Metric: MetricPriority, Threshold: float64(priorityThreshold), Backend: model.BackendLowLatency},
	}, model.BackendStandard)
}

// NewRoutingTable 创建决策表
func NewRoutingTable(rules []RoutingRule, fallback model.BackendKind) *RoutingTable {
	if fallback == "" {
		fallback = model.BackendStandard
	}
	return &RoutingTable{rules: rules, fallback: fallback}
}

// Decide 为机会选定后端，返回后端与命中的规则名（未命中为 "default"）
func (t *RoutingTable) Decide(opp *model.ArbitrageOpportunity) (model.BackendKind, string) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, rule := range t.rules {
		var value float64
		switch rule.Metric {
		case MetricRateDiff:
			value = opp.ExpectedRateDiff
		case MetricPriority:
			value = float64(opp.Priority)
		default:
			continue
		}
		if value >= rule.Threshold {
			return rule.Backend, rule.Name
		}
	}
	return t.fallback, RuleDefault
}

// Threshold 按规则名读取当前阈值
func (t *RoutingTable) Threshold(name string) (float64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, rule := range t.rules {
		if rule.Name == name {
			return rule.Threshold, true
		}
	}
	return 0, false
}

// SetThreshold 调整某条规则的阈值，调参任务专用
func (t *RoutingTable) SetThreshold(name string, threshold float64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range t.rules {
		if t.rules[i].Name == name {
			t.rules[i].Threshold = threshold
			return true
		}
	}
	return false
}

// Rules 决策表当前内容的副本
func (t *RoutingTable) Rules() []RoutingRule {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]RoutingRule, len(t.rules))
	copy(out, t.rules)
	return out
}
