package port

import "fundarb/internal/domain/model"

// EventSink 流水线事件出口
// Publish 不得阻塞调用方，慢消费者自行缓冲或丢弃
type EventSink interface {
	Publish(evt model.Event)
}
