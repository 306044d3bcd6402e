package svc

import (
	"testing"
	"time"

	"fundarb/internal/domain/model"
	"fundarb/internal/infrastructure/config"
)

// 配置覆盖映射进检测参数，未知策略忽略，环路与资产对透传
func TestBuildDetectorConfig(t *testing.T) {
	cfg := &config.Config{
		Strategies: map[string]config.StrategyConfig{
			"Cross_Exchange": {Enabled: true, MinThreshold: 0.002, MaxPositionSize: 5000, UpdateIntervalSec: 15, TTLSec: 60},
			"basis":          {Enabled: false},
			"momentum":       {Enabled: true},
			"triangular":     {Enabled: true, Paths: [][]string{{"ETHBTC", "BTCUSDT", "ETHUSDT"}}},
			"statistical":    {Enabled: true, Pairs: [][]string{{"BTCUSDT", "ETHUSDT"}}},
		},
	}

	dc := buildDetectorConfig(cfg)

	// 1. 显式覆盖生效（键大小写不敏感）
	ce := dc.Strategies[model.StrategyCrossExchange]
	if !ce.Enabled || ce.MinThreshold != 0.002 || ce.MaxPositionSize != 5000 {
		t.Errorf("cross_exchange params = %+v, want overrides applied", ce)
	}
	if ce.UpdateInterval != 15*time.Second || ce.TTL != time.Minute {
		t.Errorf("cross_exchange cadence = %v/%v, want 15s/1m", ce.UpdateInterval, ce.TTL)
	}

	// 2. 仅显式停用时其余参数保持缺省
	basis := dc.Strategies[model.StrategyBasis]
	if basis.Enabled {
		t.Error("basis should be disabled")
	}
	if basis.MinThreshold != 0.001 {
		t.Errorf("basis threshold = %v, want default 0.001", basis.MinThreshold)
	}

	// 3. 未知策略不进表
	if _, ok := dc.Strategies[model.StrategyKind("momentum")]; ok {
		t.Error("unknown strategy should be ignored")
	}

	// 4. 三角环路与统计资产对透传
	if len(dc.TriangularPaths) != 1 || dc.TriangularPaths[0][0] != "ETHBTC" {
		t.Errorf("paths = %v, want configured cycle", dc.TriangularPaths)
	}
	if len(dc.StatPairs) != 1 || dc.StatPairs[0][1] != "ETHUSDT" {
		t.Errorf("pairs = %v, want configured pair", dc.StatPairs)
	}
	t.Logf("✓ 检测参数映射正确")
}

// 风控限额映射，策略键裁剪空白并统一小写
func TestBuildRiskLimits(t *testing.T) {
	cfg := &config.Config{}
	cfg.Risk.MaxTotalExposure = 20000
	cfg.Risk.DefaultStrategyCap = 8000
	cfg.Risk.MaxDailyLoss = 900
	cfg.Risk.MaxDrawdown = 0.12
	cfg.Risk.CorrelationLimit = 0.5
	cfg.Risk.StrategyLimits = map[string]float64{" Cross_Exchange ": 4000}

	limits := buildRiskLimits(cfg)

	if limits.MaxTotalExposure != 20000 || limits.DefaultStrategyCap != 8000 {
		t.Errorf("exposure/cap = %v/%v, want 20000/8000", limits.MaxTotalExposure, limits.DefaultStrategyCap)
	}
	if limits.MaxDailyLoss != 900 || limits.MaxDrawdown != 0.12 || limits.CorrelationLimit != 0.5 {
		t.Errorf("loss/drawdown/correlation = %v/%v/%v, want 900/0.12/0.5",
			limits.MaxDailyLoss, limits.MaxDrawdown, limits.CorrelationLimit)
	}
	if limits.StrategyLimits[model.StrategyCrossExchange] != 4000 {
		t.Errorf("strategy limit = %v, want 4000", limits.StrategyLimits[model.StrategyCrossExchange])
	}
	t.Logf("✓ 风控限额映射正确")
}
