package console

import (
	"fmt"
	"time"

	"fundarb/internal/application/port"
	"fundarb/internal/domain/model"
)

// Sink 把管道事件渲染成单行文本输出到终端
// Publish 进缓冲通道立即返回，终端写不动时丢弃，事件在存储层仍有记录
type Sink struct {
	events chan model.Event
}

var _ port.EventSink = (*Sink)(nil)

// NewSink 创建终端事件出口并启动打印协程
func NewSink() *Sink {
	s := &Sink{events: make(chan model.Event, 256)}
	go s.loop()
	return s
}

// Publish 非阻塞投递
func (s *Sink) Publish(evt model.Event) {
	select {
	case s.events <- evt:
	default:
	}
}

func (s *Sink) loop() {
	for evt := range s.events {
		fmt.Println(renderEvent(evt))
	}
}

// renderEvent 事件转单行文本，按类型着色
func renderEvent(evt model.Event) string {
	ts := time.UnixMilli(evt.Timestamp).Format("15:04:05.000")

	switch evt.Kind {
	case model.EventOpportunityFound:
		if opp, ok := evt.Payload.(*model.ArbitrageOpportunity); ok {
			return fmt.Sprintf("%s %s %s %s diff=%+.5f profit=%.2f conf=%.2f",
				colorize(ts, ansiDim),
				colorize("OPP ", ansiGreen),
				opp.Symbol, opp.Strategy, opp.ExpectedRateDiff, opp.ExpectedProfit, opp.Confidence)
		}
	case model.EventExecutionResult:
		if res, ok := evt.Payload.(*model.ExecutionResult); ok {
			if res.OK() {
				return fmt.Sprintf("%s %s %s backend=%s latency=%dms profit=%.2f",
					colorize(ts, ansiDim),
					colorize("EXEC", ansiGreen),
					res.RequestID, res.Backend, res.LatencyMs, res.Profit)
			}
			return fmt.Sprintf("%s %s %s backend=%s status=%s %s",
				colorize(ts, ansiDim),
				colorize("EXEC", ansiRed),
				res.RequestID, res.Backend, res.Status, res.ErrorDetail)
		}
	case model.EventPositionClosed:
		if pos, ok := evt.Payload.(*model.Position); ok {
			col := ansiGreen
			if pos.RealizedPnl < 0 {
				col = ansiRed
			}
			return fmt.Sprintf("%s %s %s %s reason=%s pnl=%s",
				colorize(ts, ansiDim),
				colorize("POS ", ansiYellow),
				pos.Symbol, pos.ID, evt.Detail,
				colorize(fmt.Sprintf("%+.2f", pos.RealizedPnl), col))
		}
	case model.EventCircuitTripped:
		return fmt.Sprintf("%s %s %s",
			colorize(ts, ansiDim),
			colorize("BRKR", ansiRed),
			"circuit breaker tripped: "+evt.Detail)
	case model.EventCircuitReset:
		return fmt.Sprintf("%s %s %s",
			colorize(ts, ansiDim),
			colorize("BRKR", ansiGreen),
			"circuit breaker recovered")
	case model.EventRiskRejected:
		return fmt.Sprintf("%s %s %s reason=%s",
			colorize(ts, ansiDim),
			colorize("RISK", ansiYellow),
			evt.Symbol, evt.Detail)
	}

	return fmt.Sprintf("%s %s %s %s", colorize(ts, ansiDim), evt.Kind, evt.Symbol, evt.Detail)
}
