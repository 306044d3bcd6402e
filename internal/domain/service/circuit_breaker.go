package service

import (
	"sync"
	"time"
)

// CircuitBreaker 执行熔断器
// CLOSED → OPEN：连续失败次数达到阈值
// OPEN → CLOSED：最后一次失败后经过恢复窗口，自动复位
// 不设半开态，复位后直接放行
type CircuitBreaker struct {
	mu sync.Mutex

	failureThreshold int           // 触发熔断的连续失败次数
	recoveryTimeout  time.Duration // 熔断恢复窗口

	consecutiveFailures int
	lastFailureAt       time.Time
	tripped             bool
}

// BreakerState 熔断器状态快照
type BreakerState struct {
	ConsecutiveFailures int   `json:"consecutive_failures"`
	LastFailureAt       int64 `json:"last_failure_ms,omitempty"` // 毫秒时间戳
	Tripped             bool  `json:"tripped"`
}

// NewCircuitBreaker 创建熔断器
func NewCircuitBreaker(failureThreshold int, recoveryTimeout time.Duration) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if recoveryTimeout <= 0 {
		recoveryTimeout = 300 * time.Second
	}
	return &CircuitBreaker{
		failureThreshold: failureThreshold,
		recoveryTimeout:  recoveryTimeout,
	}
}

// Open 熔断器是否处于打开态，不触发自动恢复
func (cb *CircuitBreaker) Open() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.tripped
}

// MaybeRecover 恢复窗口期满时复位，返回是否发生复位
func (cb *CircuitBreaker) MaybeRecover(now time.Time) bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if !cb.tripped {
		return false
	}
	if now.Sub(cb.lastFailureAt) < cb.recoveryTimeout {
		return false
	}
	cb.consecutiveFailures = 0
	cb.tripped = false
	return true
}

// RecordFailure 记录一次执行失败，返回是否因本次失败跳闸
// 打开态下的失败回报会刷新 lastFailureAt，顺延恢复窗口
func (cb *CircuitBreaker) RecordFailure(now time.Time) bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailures++
	cb.lastFailureAt = now
	if !cb.tripped && cb.consecutiveFailures >= cb.failureThreshold {
		cb.tripped = true
		return true
	}
	return false
}

// RecordSuccess 执行成功即清零连续失败计数
// 打开态不因成功关闭，复位只由恢复窗口驱动
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.consecutiveFailures = 0
}

// State 当前状态快照
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	st := BreakerState{
		ConsecutiveFailures: cb.consecutiveFailures,
		Tripped:             cb.tripped,
	}
	if !cb.lastFailureAt.IsZero() {
		st.LastFailureAt = cb.lastFailureAt.UnixMilli()
	}
	return st
}
