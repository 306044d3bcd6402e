package factory

import (
	"fmt"
	"sort"

	"fundarb/internal/application/port"
	"fundarb/internal/infrastructure/config"

	"github.com/rs/zerolog/log"
)

// NewConnectors 初始化所有启用交易所的连接器
// 策略: 动态遍历 cfg.Exchanges 并注册所有启用的交易所，键为小写交易所名
func NewConnectors(cfg *config.Config) (map[string]port.ExchangeConnector, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	registry := NewConnectorRegistry()

	enabled := cfg.GetEnabledExchanges()
	sort.Strings(enabled)
	for _, exchangeName := range enabled {
		exchCfg := cfg.Exchanges[exchangeName]
		if err := registry.Register(exchangeName, &exchCfg); err != nil {
			return nil, fmt.Errorf("failed to register %s: %w", exchangeName, err)
		}
		if _, ok := registry.Get(exchangeName); ok {
			log.Info().Msgf("✓ %s connector registered", exchangeName)
		} else {
			log.Info().Msgf("✓ %s enabled (market data only)", exchangeName)
		}
	}

	if len(registry.All()) == 0 {
		log.Warn().Msg("no trading connectors registered, pipeline runs on price feeds only")
	}

	return registry.All(), nil
}
