package model

// ========== Outbound Events ==========

// EventKind 管道对外事件类型
type EventKind string

const (
	EventOpportunityFound EventKind = "opportunity_found"
	EventExecutionResult  EventKind = "execution_result"
	EventPositionClosed   EventKind = "position_closed"
	EventCircuitTripped   EventKind = "circuit_breaker_tripped"
	EventCircuitReset     EventKind = "circuit_breaker_reset"
	EventRiskRejected     EventKind = "risk_limit_rejected"
)

// Event 对外通知事件，由通知/存储层消费
type Event struct {
	Kind      EventKind   `json:"kind"`
	Symbol    string      `json:"symbol,omitempty"`
	Detail    string      `json:"detail,omitempty"` // 机器可读原因串
	Payload   interface{} `json:"payload,omitempty"`
	Timestamp int64       `json:"ts_ms"`
}
