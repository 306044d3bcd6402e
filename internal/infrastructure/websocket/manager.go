package websocket

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"fundarb/internal/application/port"
)

// RetryConfig WebSocket 订阅重试配置
type RetryConfig struct {
	MaxRetries int           // 最大重试次数
	InitialDel time.Duration // 初始延迟
	MaxDelay   time.Duration // 最大延迟
}

// DefaultRetryConfig 默认重试配置
var DefaultRetryConfig = RetryConfig{
	MaxRetries: 3,
	InitialDel: 1 * time.Second,
	MaxDelay:   10 * time.Second,
}

// TickHandler 行情推送回调
type TickHandler func(tick port.Tick)

// Manager 统一管理所有交易所的行情订阅，把各路推送合流到同一个处理器
// 各价格源内部自带断线重连，这里的重试只覆盖首次订阅
type Manager struct {
	feeds       []port.PriceFeed
	symbols     []string
	handler     TickHandler
	retryConfig RetryConfig
}

// NewManager 创建行情订阅管理器
func NewManager(feeds []port.PriceFeed, symbols []string, handler TickHandler) *Manager {
	return &Manager{
		feeds:       feeds,
		symbols:     symbols,
		handler:     handler,
		retryConfig: DefaultRetryConfig,
	}
}

// SetRetryConfig 设置重试配置
func (m *Manager) SetRetryConfig(cfg RetryConfig) {
	m.retryConfig = cfg
}

// Run 订阅全部价格源并阻塞转发行情，直到 ctx 取消
// 单个交易所订阅失败时继续其余交易所（非关键性失败），全部失败才报错
func (m *Manager) Run(ctx context.Context) error {
	if len(m.feeds) == 0 {
		log.Warn().Msg("no price feeds configured, realtime quotes disabled")
		<-ctx.Done()
		return ctx.Err()
	}

	g, ctx := errgroup.WithContext(ctx)
	started := 0

	for _, feed := range m.feeds {
		ch, err := m.subscribeWithRetry(ctx, feed)
		if err != nil {
			log.Error().Err(err).
				Str("exchange", feed.Name()).
				Msg("failed to subscribe price feed after retries")
			continue
		}
		started++

		g.Go(func() error {
			for tick := range ch {
				m.handler(tick)
			}
			// 价格源内部只会在 ctx 结束时关闭通道
			return ctx.Err()
		})
		log.Info().Str("exchange", feed.Name()).Msg("✓ price feed subscribed")
	}

	if started == 0 {
		return fmt.Errorf("failed to subscribe all %d price feeds", len(m.feeds))
	}
	if started < len(m.feeds) {
		log.Warn().
			Int("subscribed", started).
			Int("total", len(m.feeds)).
			Msg("some price feeds failed to subscribe, continuing with the rest")
	}

	return g.Wait()
}

// subscribeWithRetry 带指数退避的订阅
func (m *Manager) subscribeWithRetry(ctx context.Context, feed port.PriceFeed) (<-chan port.Tick, error) {
	var lastErr error
	delay := m.retryConfig.InitialDel

	for attempt := 0; attempt <= m.retryConfig.MaxRetries; attempt++ {
		if attempt > 0 {
			log.Info().
				Str("exchange", feed.Name()).
				Int("attempt", attempt).
				Int64("delay_ms", delay.Milliseconds()).
				Msg("retrying price feed subscription")
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			// 指数退避：每次重试延迟翻倍，但不超过最大延迟
			delay = delay * 2
			if delay > m.retryConfig.MaxDelay {
				delay = m.retryConfig.MaxDelay
			}
		}

		ch, err := feed.Subscribe(ctx, m.symbols)
		if err != nil {
			lastErr = err
			continue
		}
		return ch, nil
	}

	return nil, fmt.Errorf("subscribe %s after %d retries: %w", feed.Name(), m.retryConfig.MaxRetries, lastErr)
}
