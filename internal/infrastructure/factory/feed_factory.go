package factory

import (
	"sort"

	"fundarb/internal/application/port"
	"fundarb/internal/infrastructure/config"
	"fundarb/internal/infrastructure/pricefeed"

	"github.com/rs/zerolog/log"
)

// NewPriceFeeds 初始化交易所行情源
// 从配置中获取 enabled 的交易所列表，使用已注册的工厂函数动态初始化价格源
// 各交易所的 websocket 工厂在其 register.go 中自动注册，无需在此硬编码
func NewPriceFeeds(cfg *config.Config) []port.PriceFeed {
	var feeds []port.PriceFeed

	enabled := cfg.GetEnabledExchanges()
	sort.Strings(enabled)

	for _, exchangeName := range enabled {
		exchCfg := cfg.Exchanges[exchangeName]

		feedFactory, ok := pricefeed.Get(exchangeName)
		if !ok {
			log.Warn().Msgf("⚠️ price feed not registered: %s", exchangeName)
			continue
		}
		if exchCfg.WsURL == "" {
			log.Warn().Msgf("⚠️ %s has no ws_url, price feed skipped", exchangeName)
			continue
		}

		feeds = append(feeds, feedFactory(exchCfg.WsURL))
		log.Info().Msgf("✓ %s feed initialized", exchangeName)
	}

	return feeds
}
