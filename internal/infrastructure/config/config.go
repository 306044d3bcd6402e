package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

type Config struct {
	App struct {
		CollectEverySec int    `toml:"collect_every_sec"`
		SweepEverySec   int    `toml:"sweep_every_sec"`
		TuneEverySec    int    `toml:"tune_every_sec"`
		DryRun          bool   `toml:"dry_run"`
		LogLevel        string `toml:"log_level"`
		Pretty          bool   `toml:"pretty"`
	} `toml:"app"`

	Symbols struct {
		List []string `toml:"list"`
	} `toml:"symbols"`

	Strategies map[string]StrategyConfig `toml:"strategies"`

	Risk struct {
		MaxTotalExposure   float64            `toml:"max_total_exposure"`
		DefaultStrategyCap float64            `toml:"default_strategy_cap"`
		StrategyLimits     map[string]float64 `toml:"strategy_limits"`
		MaxDailyLoss       float64            `toml:"max_daily_loss"`
		MaxDrawdown        float64            `toml:"max_drawdown"`
		CorrelationLimit   float64            `toml:"correlation_limit"`
		BreakerFailures    int                `toml:"breaker_failures"`
		BreakerRecoverySec int                `toml:"breaker_recovery_sec"`
	} `toml:"risk"`

	Routing struct {
		HighFrequencyThreshold float64 `toml:"high_frequency_threshold"`
		PriorityThreshold      int     `toml:"priority_threshold"`
		RequestTimeoutSec      int     `toml:"request_timeout_sec"`
		MaxConcurrentRequests  int     `toml:"max_concurrent_requests"`
		LowLatencyRatio        float64 `toml:"low_latency_ratio"`
		MaxBackendLoad         int     `toml:"max_backend_load"`
		GatewayWsURL           string  `toml:"gateway_ws_url"`
	} `toml:"routing"`

	Tuner struct {
		MinSamples       int     `toml:"min_samples"`
		LatencyTargetMs  float64 `toml:"latency_target_ms"`
		SuccessFloor     float64 `toml:"success_floor"`
		MaxShare         float64 `toml:"max_share"`
		StepRatio        float64 `toml:"step_ratio"`
		MinRateThreshold float64 `toml:"min_rate_threshold"`
		MaxRateThreshold float64 `toml:"max_rate_threshold"`
	} `toml:"tuner"`

	Positions struct {
		MaxHoldHours  int     `toml:"max_hold_hours"`
		StopLossPct   float64 `toml:"stop_loss_pct"`
		TakeProfitPct float64 `toml:"take_profit_pct"`
	} `toml:"positions"`

	Exchanges map[string]ExchangeConfig `toml:"exchanges"`

	Storage struct {
		Driver      string `toml:"driver"` // sqlite | postgres | memory
		SqlitePath  string `toml:"sqlite_path"`
		PostgresDSN string `toml:"postgres_dsn"`
		RedisAddr   string `toml:"redis_addr"`
		RedisDB     int    `toml:"redis_db"`
	} `toml:"storage"`
}

type StrategyConfig struct {
	Enabled           bool    `toml:"enabled"`
	MinThreshold      float64 `toml:"min_threshold"`
	MaxPositionSize   float64 `toml:"max_position_size"`
	UpdateIntervalSec int     `toml:"update_interval_sec"`
	TTLSec            int     `toml:"ttl_sec"`

	// Paths 三角套利环路，每条恰好三个交易对；Pairs 统计套利资产对，每条恰好两个
	Paths [][]string `toml:"paths"`
	Pairs [][]string `toml:"pairs"`
}

type ExchangeConfig struct {
	Enabled          bool   `toml:"enabled"`
	APIKey           string `toml:"api_key"`
	SecretKey        string `toml:"secret_key"`
	Passphrase       string `toml:"passphrase"`
	SpotHttpURL      string `toml:"spot_http_url"`
	PerpetualHttpURL string `toml:"perpetual_http_url"`
	WsURL            string `toml:"ws_url"`
}

// 已知交易所缺省接入地址，配置省略时回填
var defaultEndpoints = map[string]ExchangeConfig{
	"binance": {
		SpotHttpURL:      "https://api.binance.com",
		PerpetualHttpURL: "https://fapi.binance.com",
		WsURL:            "wss://fstream.binance.com",
	},
	"bybit": {
		SpotHttpURL:      "https://api.bybit.com",
		PerpetualHttpURL: "https://api.bybit.com",
		WsURL:            "wss://stream.bybit.com/v5/public/linear",
	},
	"okx": {
		SpotHttpURL:      "https://www.okx.com",
		PerpetualHttpURL: "https://www.okx.com",
		WsURL:            "wss://ws.okx.com:8443/ws/v5/public",
	},
	"bitget": {
		SpotHttpURL:      "https://api.bitget.com",
		PerpetualHttpURL: "https://api.bitget.com",
		WsURL:            "wss://ws.bitget.com/v2/ws/public",
	},
	"backpack": {
		SpotHttpURL:      "https://api.backpack.exchange",
		PerpetualHttpURL: "https://api.backpack.exchange",
		WsURL:            "wss://ws.backpack.exchange",
	},
}

func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.App.CollectEverySec <= 0 {
		cfg.App.CollectEverySec = 10
	}
	if cfg.App.SweepEverySec <= 0 {
		cfg.App.SweepEverySec = 30
	}
	if cfg.App.TuneEverySec <= 0 {
		cfg.App.TuneEverySec = 60
	}
	if strings.TrimSpace(cfg.App.LogLevel) == "" {
		cfg.App.LogLevel = "info"
	}

	if cfg.Risk.MaxTotalExposure <= 0 {
		cfg.Risk.MaxTotalExposure = 10000
	}
	if cfg.Risk.DefaultStrategyCap <= 0 {
		cfg.Risk.DefaultStrategyCap = cfg.Risk.MaxTotalExposure / 2
	}
	if cfg.Risk.MaxDailyLoss <= 0 {
		cfg.Risk.MaxDailyLoss = 500
	}
	if cfg.Risk.BreakerFailures <= 0 {
		cfg.Risk.BreakerFailures = 5
	}
	if cfg.Risk.BreakerRecoverySec <= 0 {
		cfg.Risk.BreakerRecoverySec = 300
	}

	if cfg.Routing.HighFrequencyThreshold <= 0 {
		cfg.Routing.HighFrequencyThreshold = 0.005
	}
	if cfg.Routing.PriorityThreshold <= 0 {
		cfg.Routing.PriorityThreshold = 8
	}
	if cfg.Routing.RequestTimeoutSec <= 0 {
		cfg.Routing.RequestTimeoutSec = 10
	}
	if cfg.Routing.MaxConcurrentRequests <= 0 {
		cfg.Routing.MaxConcurrentRequests = 16
	}
	if cfg.Routing.LowLatencyRatio <= 0 {
		cfg.Routing.LowLatencyRatio = 0.3
	}
	if cfg.Routing.MaxBackendLoad <= 0 {
		cfg.Routing.MaxBackendLoad = 8
	}

	if cfg.Positions.MaxHoldHours <= 0 {
		cfg.Positions.MaxHoldHours = 24
	}
	if cfg.Positions.StopLossPct <= 0 {
		cfg.Positions.StopLossPct = 0.02
	}
	if cfg.Positions.TakeProfitPct <= 0 {
		cfg.Positions.TakeProfitPct = 0.01
	}

	if cfg.Exchanges == nil {
		cfg.Exchanges = map[string]ExchangeConfig{}
	}
	for name, ex := range cfg.Exchanges {
		key := strings.ToLower(strings.TrimSpace(name))
		def, known := defaultEndpoints[key]
		if !known {
			continue
		}
		if strings.TrimSpace(ex.SpotHttpURL) == "" {
			ex.SpotHttpURL = def.SpotHttpURL
		}
		if strings.TrimSpace(ex.PerpetualHttpURL) == "" {
			ex.PerpetualHttpURL = def.PerpetualHttpURL
		}
		if strings.TrimSpace(ex.WsURL) == "" {
			ex.WsURL = def.WsURL
		}
		cfg.Exchanges[name] = ex
	}

	if strings.TrimSpace(cfg.Storage.Driver) == "" {
		cfg.Storage.Driver = "sqlite"
	}
	if strings.TrimSpace(cfg.Storage.SqlitePath) == "" {
		cfg.Storage.SqlitePath = "fundarb.db"
	}
}

func validate(cfg *Config) error {
	cfg.Symbols.List = normalizeSymbols(cfg.Symbols.List)
	if len(cfg.Symbols.List) == 0 {
		return errors.New("symbols.list is empty")
	}

	if len(cfg.GetEnabledExchanges()) == 0 {
		return errors.New("no exchange enabled")
	}
	for name, ex := range cfg.Exchanges {
		if !ex.Enabled {
			continue
		}
		if strings.TrimSpace(ex.PerpetualHttpURL) == "" {
			return fmt.Errorf("exchanges.%s.perpetual_http_url empty but enabled", name)
		}
	}

	for name, sc := range cfg.Strategies {
		if sc.Enabled && sc.MinThreshold < 0 {
			return fmt.Errorf("strategies.%s.min_threshold is negative", name)
		}
		for i, path := range sc.Paths {
			sc.Paths[i] = normalizeSymbols(path)
			if len(sc.Paths[i]) != 3 {
				return fmt.Errorf("strategies.%s.paths[%d] needs 3 symbols", name, i)
			}
		}
		for i, pair := range sc.Pairs {
			sc.Pairs[i] = normalizeSymbols(pair)
			if len(sc.Pairs[i]) != 2 {
				return fmt.Errorf("strategies.%s.pairs[%d] needs 2 symbols", name, i)
			}
		}
	}

	if cfg.Risk.CorrelationLimit < 0 || cfg.Risk.CorrelationLimit > 1 {
		return errors.New("risk.correlation_limit must be in [0,1]")
	}
	if cfg.Routing.LowLatencyRatio > 1 {
		return errors.New("routing.low_latency_ratio must be in (0,1]")
	}

	switch cfg.Storage.Driver {
	case "sqlite", "memory":
	case "postgres":
		if strings.TrimSpace(cfg.Storage.PostgresDSN) == "" {
			return errors.New("storage.postgres_dsn empty but driver is postgres")
		}
	default:
		return fmt.Errorf("storage.driver %q not supported", cfg.Storage.Driver)
	}
	return nil
}

// GetEnabledExchanges 返回启用的交易所名（小写、排序稳定性不保证）
func (c *Config) GetEnabledExchanges() []string {
	out := make([]string, 0, len(c.Exchanges))
	for name, ex := range c.Exchanges {
		if ex.Enabled {
			out = append(out, strings.ToLower(strings.TrimSpace(name)))
		}
	}
	return out
}

func normalizeSymbols(in []string) []string {
	out := make([]string, 0, len(in))
	seen := map[string]struct{}{}
	for _, s := range in {
		u := strings.ToUpper(strings.TrimSpace(s))
		if u == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}
