package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fundarb/internal/infrastructure/config"
	"fundarb/internal/infrastructure/logger"
	"fundarb/internal/infrastructure/svc"

	"github.com/rs/zerolog/log"
)

func main() {
	// 配置加载前先用缺省日志参数，加载后按配置重设
	logger.Setup("info", true)

	configPath := flag.String("config", "configs/config.toml", "path to config.toml")
	statusEvery := flag.Duration("status-every", time.Minute, "status line interval")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("config", *configPath).Msg("load config failed")
	}
	logger.Setup(cfg.App.LogLevel, cfg.App.Pretty)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sc, err := svc.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("service initialization failed")
	}
	defer sc.Close()

	log.Info().
		Str("config", *configPath).
		Int("symbols", len(cfg.Symbols.List)).
		Strs("exchanges", cfg.GetEnabledExchanges()).
		Bool("dry_run", cfg.App.DryRun).
		Msg("fundarb started")

	// 周期性打印运行状态
	go func() {
		ticker := time.NewTicker(*statusEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fmt.Println(sc.Renderer.RenderStatus(sc.Pipeline.Status()))
			}
		}
	}()

	if err := sc.Run(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("pipeline exited")
	}
	log.Info().Msg("fundarb stopped")
}
