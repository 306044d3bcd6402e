package redis

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"fundarb/internal/application/port"
	"fundarb/internal/domain/model"
)

// Sink 把管道事件写入 Stream 并 PUBLISH 给订阅者
// Publish 不得阻塞流水线，事件先进缓冲队列，满则丢弃
type Sink struct {
	rdb     *redis.Client
	stream  string
	channel string

	queue chan model.Event
	once  sync.Once
	done  chan struct{}
	wg    sync.WaitGroup
}

func NewSink(rdb *redis.Client, prefix string) *Sink {
	if strings.TrimSpace(prefix) == "" {
		prefix = "fundarb"
	}
	s := &Sink{
		rdb:     rdb,
		stream:  prefix + ":events",
		channel: prefix + ":events:pub",
		queue:   make(chan model.Event, 256),
		done:    make(chan struct{}),
	}
	s.wg.Add(1)
	go s.drain()
	return s
}

func (s *Sink) Publish(evt model.Event) {
	select {
	case s.queue <- evt:
	default:
		log.Warn().Str("kind", string(evt.Kind)).Msg("redis sink queue full, event dropped")
	}
}

func (s *Sink) Close() error {
	s.once.Do(func() { close(s.done) })
	s.wg.Wait()
	return nil
}

func (s *Sink) drain() {
	defer s.wg.Done()
	for {
		select {
		case evt := <-s.queue:
			s.write(evt)
		case <-s.done:
			// flush what is buffered, then stop
			for {
				select {
				case evt := <-s.queue:
					s.write(evt)
				default:
					return
				}
			}
		}
	}
}

func (s *Sink) write(evt model.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	b, err := json.Marshal(evt)
	if err != nil {
		log.Warn().Err(err).Str("kind", string(evt.Kind)).Msg("event marshal failed")
		return
	}

	// 1) Stream: XADD <stream> * kind detail payload
	if _, err := s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: 10000,
		Approx: true,
		Values: map[string]interface{}{
			"ts_ms":   evt.Timestamp,
			"kind":    string(evt.Kind),
			"detail":  evt.Detail,
			"payload": string(b),
		},
	}).Result(); err != nil {
		log.Warn().Err(err).Str("kind", string(evt.Kind)).Msg("event xadd failed")
		return
	}

	// 2) PubSub: PUBLISH <channel> json
	if err := s.rdb.Publish(ctx, s.channel, string(b)).Err(); err != nil {
		log.Warn().Err(err).Str("kind", string(evt.Kind)).Msg("event publish failed")
	}
}

var _ port.EventSink = (*Sink)(nil)
