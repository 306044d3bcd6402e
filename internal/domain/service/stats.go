package service

import (
	"sync"
	"time"

	"fundarb/internal/domain/model"
)

const defaultStatsWindow = 256

// statSample 单次执行尝试的记录
type statSample struct {
	backend model.BackendKind
	status  model.ExecutionStatus
	latency time.Duration
}

// hitCounter 策略×符号维度的累计命中计数
type hitCounter struct {
	attempts  int64
	successes int64
}

// ExecutionStats 执行统计
// 滚动窗口驱动路由负载削减，累计命中率反哺机会信心度
type ExecutionStats struct {
	mu sync.RWMutex

	window  int
	samples []statSample // 环形缓冲
	next    int
	filled  int

	totalByBackend   map[model.BackendKind]int64
	successByBackend map[model.BackendKind]int64
	totalProfit      float64

	hits map[string]*hitCounter // strategy:symbol → 命中计数
}

// NewExecutionStats 创建执行统计，window <= 0 时取默认窗口
func NewExecutionStats(window int) *ExecutionStats {
	if window <= 0 {
		window = defaultStatsWindow
	}
	return &ExecutionStats{
		window:           window,
		samples:          make([]statSample, window),
		totalByBackend:   make(map[model.BackendKind]int64),
		successByBackend: make(map[model.BackendKind]int64),
		hits:             make(map[string]*hitCounter),
	}
}

// Record 记录一次执行尝试
// 每次尝试都计入，跨后端重试算两次；profit 仅终态成功时非零
func (s *ExecutionStats) Record(strategy model.StrategyKind, symbol string, backend model.BackendKind, status model.ExecutionStatus, latency time.Duration, profit float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.samples[s.next] = statSample{backend: backend, status: status, latency: latency}
	s.next = (s.next + 1) % s.window
	if s.filled < s.window {
		s.filled++
	}

	s.totalByBackend[backend]++
	if status == model.ExecSuccess {
		s.successByBackend[backend]++
		s.totalProfit += profit
	}

	key := string(strategy) + ":" + symbol
	hc := s.hits[key]
	if hc == nil {
		hc = &hitCounter{}
		s.hits[key] = hc
	}
	hc.attempts++
	if status == model.ExecSuccess {
		hc.successes++
	}
}

// RecentShare 滚动窗口内指定后端的尝试占比
func (s *ExecutionStats) RecentShare(backend model.BackendKind) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.filled == 0 {
		return 0
	}
	n := 0
	for i := 0; i < s.filled; i++ {
		if s.samples[i].backend == backend {
			n++
		}
	}
	return float64(n) / float64(s.filled)
}

// RecentSuccessRate 滚动窗口内指定后端的成功率，无样本时返回 1
func (s *ExecutionStats) RecentSuccessRate(backend model.BackendKind) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total, succeeded := 0, 0
	for i := 0; i < s.filled; i++ {
		if s.samples[i].backend != backend {
			continue
		}
		total++
		if s.samples[i].status == model.ExecSuccess {
			succeeded++
		}
	}
	if total == 0 {
		return 1
	}
	return float64(succeeded) / float64(total)
}

// RecentAvgLatency 滚动窗口内指定后端的平均时延
func (s *ExecutionStats) RecentAvgLatency(backend model.BackendKind) time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sum time.Duration
	n := 0
	for i := 0; i < s.filled; i++ {
		if s.samples[i].backend != backend {
			continue
		}
		sum += s.samples[i].latency
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / time.Duration(n)
}

// HitRate 某策略在某符号上的累计成功率；无样本时 ok 为 false
func (s *ExecutionStats) HitRate(strategy model.StrategyKind, symbol string) (rate float64, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	hc := s.hits[string(strategy)+":"+symbol]
	if hc == nil || hc.attempts == 0 {
		return 0, false
	}
	return float64(hc.successes) / float64(hc.attempts), true
}

// StatsSnapshot 累计统计快照
type StatsSnapshot struct {
	TotalByBackend   map[model.BackendKind]int64 `json:"total_by_backend"`
	SuccessByBackend map[model.BackendKind]int64 `json:"success_by_backend"`
	TotalProfit      float64                     `json:"total_profit"`
	LowLatencyShare  float64                     `json:"low_latency_share"` // 滚动窗口占比
	WindowSamples    int                         `json:"window_samples"`
}

// Snapshot 导出快照，供日志、事件与调参任务读取
func (s *ExecutionStats) Snapshot() StatsSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := StatsSnapshot{
		TotalByBackend:   make(map[model.BackendKind]int64, len(s.totalByBackend)),
		SuccessByBackend: make(map[model.BackendKind]int64, len(s.successByBackend)),
		TotalProfit:      s.totalProfit,
		WindowSamples:    s.filled,
	}
	for k, v := range s.totalByBackend {
		snap.TotalByBackend[k] = v
	}
	for k, v := range s.successByBackend {
		snap.SuccessByBackend[k] = v
	}
	if s.filled > 0 {
		n := 0
		for i := 0; i < s.filled; i++ {
			if s.samples[i].backend == model.BackendLowLatency {
				n++
			}
		}
		snap.LowLatencyShare = float64(n) / float64(s.filled)
	}
	return snap
}
