package model

// ========== Execution ==========

// BackendKind 执行后端类型
type BackendKind string

const (
	BackendStandard   BackendKind = "standard"    // 常规路径（交易所 REST 下单）
	BackendLowLatency BackendKind = "low_latency" // 低延迟路径（常驻执行引擎）
)

// Other 另一个后端，跨后端重试用
func (b BackendKind) Other() BackendKind {
	if b == BackendLowLatency {
		return BackendStandard
	}
	return BackendLowLatency
}

// ExecutionStatus 执行结果状态
type ExecutionStatus string

const (
	ExecSuccess ExecutionStatus = "success"
	ExecFailure ExecutionStatus = "failure"
	ExecTimeout ExecutionStatus = "timeout"
)

// ExecutionRequest 执行请求，创建后不可变
type ExecutionRequest struct {
	ID            string       `json:"id"`
	OpportunityID string       `json:"opportunity_id"`
	Strategy      StrategyKind `json:"strategy"`
	Symbol        string       `json:"symbol"`
	Legs          []Leg        `json:"legs"`
	Backend       BackendKind  `json:"backend"`  // 路由选定的后端
	Priority      int          `json:"priority"` // 0-10
	SettleAt      int64        `json:"settle_at,omitempty"` // 下次资金费结算（毫秒）
	SubmittedAt   int64        `json:"ts_ms"`
}

// Fill 单腿成交回报
type Fill struct {
	Exchange string  `json:"exchange"`
	Symbol   string  `json:"symbol"`
	Market   string  `json:"market"`
	Side     Side    `json:"side"`
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
	Fee      float64 `json:"fee,omitempty"`
	OrderID  string  `json:"order_id,omitempty"`
}

// ExecutionResult 执行结果
// Backend 为实际执行的后端，跨后端重试后可能与请求不同
type ExecutionResult struct {
	RequestID   string          `json:"request_id"`
	Backend     BackendKind     `json:"backend"`
	Status      ExecutionStatus `json:"status"`
	Fills       []Fill          `json:"fills,omitempty"`
	Profit      float64         `json:"profit,omitempty"` // 后端回报的已实现利润（美元）
	LatencyMs   int64           `json:"latency_ms"`
	ErrorDetail string          `json:"error_detail,omitempty"`
	CompletedAt int64           `json:"ts_ms"`
}

// OK 是否执行成功
func (r *ExecutionResult) OK() bool {
	return r.Status == ExecSuccess
}
