package model

import "errors"

// ========== Errors ==========

// RejectReason 风控拒绝原因，按检查顺序排列
type RejectReason string

const (
	RejectCircuitOpen      RejectReason = "CircuitOpen"
	RejectGlobalExposure   RejectReason = "GlobalExposureExceeded"
	RejectStrategyExposure RejectReason = "StrategyExposureExceeded"
	RejectDailyLoss        RejectReason = "DailyLossLimitReached"
	RejectCorrelation      RejectReason = "CorrelationLimitExceeded"
)

// RiskRejection 风控拒绝，带机器可读原因
type RiskRejection struct {
	Reason RejectReason
	Detail string
}

func (e *RiskRejection) Error() string {
	if e.Detail == "" {
		return string(e.Reason)
	}
	return string(e.Reason) + ": " + e.Detail
}

// NewRiskRejection 构造风控拒绝
func NewRiskRejection(reason RejectReason, detail string) *RiskRejection {
	return &RiskRejection{Reason: reason, Detail: detail}
}

// AsRiskRejection 从错误链中取出风控拒绝
func AsRiskRejection(err error) (*RiskRejection, bool) {
	var rej *RiskRejection
	if errors.As(err, &rej) {
		return rej, true
	}
	return nil, false
}

// 管道哨兵错误
var (
	ErrStaleOpportunity = errors.New("opportunity expired before evaluation") // 过期机会，直接丢弃
	ErrTransientData    = errors.New("venue snapshot stale or missing")       // 本周期跳过该交易所
	ErrAuth             = errors.New("exchange auth failed")                  // 凭证失效，交易所下线
	ErrExecutionFailed  = errors.New("execution failed on both backends")
	ErrPositionNotFound = errors.New("position not found")
)
