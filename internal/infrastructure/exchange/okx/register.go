package okx

import (
	"fundarb/internal/application/port"
	"fundarb/internal/infrastructure/pricefeed"
)

// init() automatically registers OKX WebSocket price feed factory
// 这样避免了在 factory 中硬编码 OKX
func init() {
	pricefeed.Register(exchangeName, func(wsURL string) port.PriceFeed {
		return NewTickerFeed(wsURL)
	})
}
