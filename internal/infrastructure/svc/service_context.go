package svc

import (
	"context"
	"fmt"
	"strings"
	"time"

	redisclient "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"fundarb/internal/application/port"
	appsvc "fundarb/internal/application/service"
	"fundarb/internal/application/usecase/pipeline"
	"fundarb/internal/domain/model"
	domainsvc "fundarb/internal/domain/service"
	"fundarb/internal/infrastructure/backend"
	"fundarb/internal/infrastructure/config"
	"fundarb/internal/infrastructure/factory"
	"fundarb/internal/infrastructure/storage"
	"fundarb/internal/infrastructure/storage/composite"
	postgresrepo "fundarb/internal/infrastructure/storage/postgres"
	redisrepo "fundarb/internal/infrastructure/storage/redis"
	sqliterepo "fundarb/internal/infrastructure/storage/sqlite"
	"fundarb/internal/infrastructure/websocket"
	"fundarb/internal/interfaces/console"
)

const (
	redisPrefix      = "fundarb"
	redisTTL         = 24 * time.Hour
	marketStaleAfter = 5 * time.Minute // 超龄快照不再沿用
	statsWindow      = 100             // 路由统计滚动窗口
	historyCapacity  = 512             // 统计套利价格序列长度
)

// ServiceContext 进程级依赖容器
// 应用启动的唯一入口点，所有依赖初始化都在这里完成
type ServiceContext struct {
	Ctx    context.Context
	Config *config.Config

	// 基础设施层（第一层初始化）
	connectors  map[string]port.ExchangeConnector
	feeds       []port.PriceFeed
	wsManager   *websocket.Manager
	redisClient *redisclient.Client

	// 输出端口
	Repo port.Repository
	Sink port.EventSink

	// 应用业务组件（依赖基础设施）
	Pipeline *pipeline.Service
	Renderer *console.Renderer

	// 资源管理
	closerChain []func() error
}

// New 创建并初始化 ServiceContext
func New(ctx context.Context, cfg *config.Config) (*ServiceContext, error) {
	sc := &ServiceContext{
		Ctx:         ctx,
		Config:      cfg,
		closerChain: make([]func() error, 0),
	}

	connectors, err := factory.NewConnectors(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize connectors: %w", err)
	}
	sc.connectors = connectors
	factory.LogBalances(ctx, connectors)
	factory.CheckSymbols(ctx, connectors, cfg.Symbols.List)

	sc.feeds = factory.NewPriceFeeds(cfg)

	// 初始化所有组件，按依赖顺序
	if err := sc.initializeComponents(); err != nil {
		_ = sc.Close()
		return nil, err
	}
	return sc, nil
}

// initializeComponents 初始化所有应用组件
// 按照依赖关系有序初始化，确保不会有循环依赖
func (sc *ServiceContext) initializeComponents() error {
	// 0. 存储层（最基础，被其他组件依赖）
	if err := sc.initializeStorage(); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageInitFailed, err)
	}

	cfg := sc.Config

	// 1. 行情聚合：连接器轮询 + 实时盘口合流
	history := domainsvc.NewPriceHistory(historyCapacity)
	aggregator := appsvc.NewRateAggregator(
		cfg.Symbols.List,
		time.Duration(cfg.Routing.RequestTimeoutSec)*time.Second,
		marketStaleAfter,
		history,
	)
	for _, conn := range sc.connectors {
		aggregator.Register(conn)
	}

	// 2. 检测与风控
	stats := domainsvc.NewExecutionStats(statsWindow)
	detector := domainsvc.NewOpportunityDetector(buildDetectorConfig(cfg), stats, history)
	breaker := domainsvc.NewCircuitBreaker(
		cfg.Risk.BreakerFailures,
		time.Duration(cfg.Risk.BreakerRecoverySec)*time.Second,
	)
	risk := domainsvc.NewRiskManager(buildRiskLimits(cfg), breaker)

	// 3. 路由与执行后端
	table := domainsvc.DefaultRoutingTable(cfg.Routing.HighFrequencyThreshold, cfg.Routing.PriorityThreshold)
	router := appsvc.NewExecutionRouter(appsvc.RouterConfig{
		RequestTimeout:        time.Duration(cfg.Routing.RequestTimeoutSec) * time.Second,
		MaxConcurrentRequests: cfg.Routing.MaxConcurrentRequests,
		LowLatencyRatio:       cfg.Routing.LowLatencyRatio,
		MaxBackendLoad:        cfg.Routing.MaxBackendLoad,
	}, table, stats)
	router.RegisterBackend(backend.NewStandard(sc.connectors, cfg.App.DryRun, cfg.Routing.MaxBackendLoad))
	if url := strings.TrimSpace(cfg.Routing.GatewayWsURL); url != "" {
		router.RegisterBackend(backend.NewLowLatency(url))
		log.Info().Str("gateway", url).Msg("✓ low latency backend registered")
	} else {
		log.Warn().Msg("gateway_ws_url not set, all traffic on standard channel")
	}

	// 4. 持仓与调参
	tracker := domainsvc.NewPositionTracker(domainsvc.ExitPolicy{
		MaxHoldDuration: time.Duration(cfg.Positions.MaxHoldHours) * time.Hour,
		StopLossPct:     cfg.Positions.StopLossPct,
		TakeProfitPct:   cfg.Positions.TakeProfitPct,
	})
	tuner := domainsvc.NewRoutingTuner(buildTunerPolicy(cfg), table, stats)

	// 5. 行情订阅管理器把各所推送合流进聚合器
	sc.wsManager = websocket.NewManager(sc.feeds, cfg.Symbols.List, aggregator.ApplyTick)

	sc.Pipeline = pipeline.NewService(pipeline.ServiceDeps{
		Aggregator:   aggregator,
		Detector:     detector,
		Risk:         risk,
		Router:       router,
		Tracker:      tracker,
		Tuner:        tuner,
		Stats:        stats,
		Repo:         sc.Repo,
		Sink:         sc.Sink,
		Symbols:      cfg.Symbols.List,
		CollectEvery: time.Duration(cfg.App.CollectEverySec) * time.Second,
		SweepEvery:   time.Duration(cfg.App.SweepEverySec) * time.Second,
		TuneEvery:    time.Duration(cfg.App.TuneEverySec) * time.Second,
		DryRun:       cfg.App.DryRun,
	})
	sc.Renderer = console.NewRenderer(cfg.Routing.HighFrequencyThreshold)

	log.Info().
		Int("connectors", len(sc.connectors)).
		Int("feeds", len(sc.feeds)).
		Msg("✓ All components initialized")

	return nil
}

// initializeStorage 按配置驱动挑主仓储，Redis 可选作热镜像与事件出口
func (sc *ServiceContext) initializeStorage() error {
	var primary port.Repository

	switch sc.Config.Storage.Driver {
	case "sqlite":
		repo, err := sqliterepo.New(sc.Config.Storage.SqlitePath)
		if err != nil {
			return fmt.Errorf("sqlite repo creation failed: %w", err)
		}
		primary = repo
		log.Info().Str("path", sc.Config.Storage.SqlitePath).Msg("✓ SQLite initialized")

	case "postgres":
		repo, err := postgresrepo.New(sc.Config.Storage.PostgresDSN)
		if err != nil {
			return fmt.Errorf("postgres repo creation failed: %w", err)
		}
		primary = repo
		log.Info().Msg("✓ Postgres initialized")

	case "memory":
		primary = storage.NewInMemoryRepo()
		log.Info().Msg("✓ in-memory repo initialized")

	default:
		return fmt.Errorf("unknown storage driver %q", sc.Config.Storage.Driver)
	}

	sinks := fanSink{console.NewSink()}

	// Redis 热镜像：最新费率与在途持仓的快速读路径，事件走 Stream + PubSub
	if addr := strings.TrimSpace(sc.Config.Storage.RedisAddr); addr != "" {
		rdb := redisclient.NewClient(&redisclient.Options{
			Addr: addr,
			DB:   sc.Config.Storage.RedisDB,
		})
		ctx, cancel := context.WithTimeout(sc.Ctx, 5*time.Second)
		err := rdb.Ping(ctx).Err()
		cancel()
		if err != nil {
			_ = primary.Close()
			return fmt.Errorf("redis ping failed: %w", err)
		}
		sc.redisClient = rdb
		sc.closerChain = append(sc.closerChain, func() error {
			log.Info().Msg("closing redis connection")
			return rdb.Close()
		})

		primary = composite.New(primary, redisrepo.New(rdb, redisPrefix, redisTTL))

		redisSink := redisrepo.NewSink(rdb, redisPrefix)
		sc.closerChain = append(sc.closerChain, redisSink.Close)
		sinks = append(sinks, redisSink)

		log.Info().Str("addr", addr).Int("db", sc.Config.Storage.RedisDB).Msg("✓ Redis mirror initialized")
	}

	sc.Repo = primary
	sc.Sink = sinks
	sc.closerChain = append(sc.closerChain, func() error {
		log.Info().Msg("closing repository")
		return primary.Close()
	})

	return nil
}

// Run 启动行情订阅与套利管道，阻塞到 ctx 取消
func (sc *ServiceContext) Run() error {
	g, ctx := errgroup.WithContext(sc.Ctx)
	g.Go(func() error { return sc.wsManager.Run(ctx) })
	g.Go(func() error { return sc.Pipeline.Run(ctx) })
	return g.Wait()
}

// Connectors 已注册的交易所连接器，键为小写交易所名
func (sc *ServiceContext) Connectors() map[string]port.ExchangeConnector {
	return sc.connectors
}

// Close 逆序释放全部资源，应用退出时调用
func (sc *ServiceContext) Close() error {
	for i := len(sc.closerChain) - 1; i >= 0; i-- {
		if err := sc.closerChain[i](); err != nil {
			log.Error().Err(err).Msg("error closing resource")
		}
	}
	return nil
}

// ============================================
// 配置到领域参数的映射
// ============================================

// fanSink 把事件同时发布到多个出口
type fanSink []port.EventSink

func (f fanSink) Publish(evt model.Event) {
	for _, s := range f {
		s.Publish(evt)
	}
}

// buildDetectorConfig 缺省检测参数套上配置覆盖
func buildDetectorConfig(cfg *config.Config) domainsvc.DetectorConfig {
	dc := domainsvc.DefaultDetectorConfig()
	for name, strat := range cfg.Strategies {
		kind := model.StrategyKind(strings.ToLower(strings.TrimSpace(name)))
		params, ok := dc.Strategies[kind]
		if !ok {
			log.Warn().Str("strategy", name).Msg("unknown strategy in config, ignored")
			continue
		}
		params.Enabled = strat.Enabled
		if strat.MinThreshold > 0 {
			params.MinThreshold = strat.MinThreshold
		}
		if strat.MaxPositionSize > 0 {
			params.MaxPositionSize = strat.MaxPositionSize
		}
		if strat.UpdateIntervalSec > 0 {
			params.UpdateInterval = time.Duration(strat.UpdateIntervalSec) * time.Second
		}
		if strat.TTLSec > 0 {
			params.TTL = time.Duration(strat.TTLSec) * time.Second
		}
		dc.Strategies[kind] = params

		switch kind {
		case model.StrategyTriangular:
			if len(strat.Paths) > 0 {
				dc.TriangularPaths = strat.Paths
			}
		case model.StrategyStatistical:
			if len(strat.Pairs) > 0 {
				dc.StatPairs = strat.Pairs
			}
		}
	}
	return dc
}

// buildRiskLimits 风控限额映射
func buildRiskLimits(cfg *config.Config) domainsvc.RiskLimits {
	limits := domainsvc.RiskLimits{
		MaxTotalExposure:   cfg.Risk.MaxTotalExposure,
		DefaultStrategyCap: cfg.Risk.DefaultStrategyCap,
		MaxDailyLoss:       cfg.Risk.MaxDailyLoss,
		MaxDrawdown:        cfg.Risk.MaxDrawdown,
		CorrelationLimit:   cfg.Risk.CorrelationLimit,
		StrategyLimits:     make(map[model.StrategyKind]float64, len(cfg.Risk.StrategyLimits)),
	}
	for name, limit := range cfg.Risk.StrategyLimits {
		limits.StrategyLimits[model.StrategyKind(strings.ToLower(strings.TrimSpace(name)))] = limit
	}
	return limits
}

// buildTunerPolicy 缺省调参策略套上配置覆盖
func buildTunerPolicy(cfg *config.Config) domainsvc.TunerPolicy {
	p := domainsvc.DefaultTunerPolicy()
	if cfg.Tuner.MinSamples > 0 {
		p.MinSamples = cfg.Tuner.MinSamples
	}
	if cfg.Tuner.LatencyTargetMs > 0 {
		p.LatencyTargetMs = cfg.Tuner.LatencyTargetMs
	}
	if cfg.Tuner.SuccessFloor > 0 {
		p.SuccessFloor = cfg.Tuner.SuccessFloor
	}
	if cfg.Tuner.MaxShare > 0 {
		p.MaxShare = cfg.Tuner.MaxShare
	}
	if cfg.Tuner.StepRatio > 0 {
		p.StepRatio = cfg.Tuner.StepRatio
	}
	if cfg.Tuner.MinRateThreshold > 0 {
		p.MinRateThreshold = cfg.Tuner.MinRateThreshold
	}
	if cfg.Tuner.MaxRateThreshold > 0 {
		p.MaxRateThreshold = cfg.Tuner.MaxRateThreshold
	}
	return p
}
