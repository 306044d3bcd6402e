package factory

import (
	"fmt"
	"sort"
	"strings"

	"fundarb/internal/application/port"
	"fundarb/internal/infrastructure/config"
	"fundarb/internal/infrastructure/exchange/backpack"
	"fundarb/internal/infrastructure/exchange/binance"
	_ "fundarb/internal/infrastructure/exchange/bitget" // 仅行情源，init() 注册 pricefeed 工厂
	"fundarb/internal/infrastructure/exchange/bybit"
	"fundarb/internal/infrastructure/exchange/okx"

	"github.com/rs/zerolog/log"
)

// ============================================
// 连接器注册表
// ============================================

// ConnectorRegistry 交易所连接器注册表，键为小写交易所名
type ConnectorRegistry struct {
	connectors map[string]port.ExchangeConnector
}

// NewConnectorRegistry 创建交易所连接器注册表
func NewConnectorRegistry() *ConnectorRegistry {
	return &ConnectorRegistry{connectors: make(map[string]port.ExchangeConnector)}
}

// Register 通用注册方法，根据交易所名称动态构建连接器
func (r *ConnectorRegistry) Register(exchangeName string, cfg *config.ExchangeConfig) error {
	name := strings.ToLower(strings.TrimSpace(exchangeName))
	if _, exists := r.connectors[name]; exists {
		return fmt.Errorf("%s: already registered", name)
	}
	if cfg.PerpetualHttpURL == "" {
		return fmt.Errorf("%s: PerpetualHttpURL cannot be empty", name)
	}

	// 未配置 API 凭证时连接器以只读模式工作：行情可用，下单与查余额返回鉴权错误
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		log.Warn().Str("exchange", name).Msg("no api credentials, trading disabled")
	}

	switch name {
	case ExchangeBinance:
		if cfg.SpotHttpURL == "" {
			return fmt.Errorf("%s: SpotHttpURL cannot be empty", name)
		}
		r.connectors[name] = binance.NewConnector(cfg.APIKey, cfg.SecretKey, cfg.SpotHttpURL, cfg.PerpetualHttpURL)
	case ExchangeBybit:
		r.connectors[name] = bybit.NewConnector(cfg.APIKey, cfg.SecretKey, cfg.PerpetualHttpURL)
	case ExchangeOKX:
		// OKX 签名需要 Passphrase
		if cfg.APIKey != "" && cfg.Passphrase == "" {
			return fmt.Errorf("%s: passphrase cannot be empty", name)
		}
		r.connectors[name] = okx.NewConnector(cfg.APIKey, cfg.SecretKey, cfg.Passphrase, cfg.PerpetualHttpURL)
	case ExchangeBackpack:
		r.connectors[name] = backpack.NewConnector(cfg.APIKey, cfg.SecretKey, cfg.PerpetualHttpURL)
	case ExchangeBitget:
		// Bitget 目前仅接 WebSocket 行情，没有交易连接器
		return nil
	default:
		return fmt.Errorf("unknown exchange: %s", name)
	}

	return nil
}

// Get 按名称取连接器
func (r *ConnectorRegistry) Get(exchangeName string) (port.ExchangeConnector, bool) {
	conn, ok := r.connectors[strings.ToLower(exchangeName)]
	return conn, ok
}

// All 返回全部连接器，键为小写交易所名
func (r *ConnectorRegistry) All() map[string]port.ExchangeConnector {
	out := make(map[string]port.ExchangeConnector, len(r.connectors))
	for name, conn := range r.connectors {
		out[name] = conn
	}
	return out
}

// Names 返回已注册交易所名，固定排序
func (r *ConnectorRegistry) Names() []string {
	names := make([]string, 0, len(r.connectors))
	for name := range r.connectors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
