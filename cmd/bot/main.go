package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"GridSentinel/internal/analysis"
	"GridSentinel/internal/api"
	"GridSentinel/internal/collector"
	"GridSentinel/internal/config"
	"GridSentinel/internal/confirm"
	"GridSentinel/internal/ledger"
	"GridSentinel/internal/logger"
	"GridSentinel/internal/notifier"
	"GridSentinel/internal/recorder"
	"GridSentinel/internal/scheduler"
	"GridSentinel/internal/store"
	"GridSentinel/internal/strategy"
)

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	// Load config
	cfgPath := "configs/config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		cfgPath = v
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		bootLog := logger.New(logger.Config{Level: "info"})
		bootLog.Fatal().Err(err).Str("path", cfgPath).Msg("load config")
	}

	log := logger.New(logger.Config{
		Level:      cfg.Log.Level,
		Pretty:     cfg.Log.Pretty,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	})
	logger.SetGlobalLogger(log)

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("config validation")
	}
	policy, err := strategy.ParsePolicy(cfg.Grid.Policy)
	if err != nil {
		log.Fatal().Err(err).Msg("config validation")
	}
	log.Info().Str("policy", string(policy)).Str("assets", cfg.Assets.File).Msg("GridSentinel starting")

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Market data
	feed := newFeed(cfg, log)
	col := collector.NewCollector(feed, nil, cfg.DataSource.MaxConcurrentFetches, cfg.DataSource.FetchTimeout, log)
	log.Info().Str("provider", feed.Name()).Msg("data source ready")

	// Percentile cache
	cacheStore := analysis.OpenStore(ctx, cfg.Analysis.File, analysis.RedisConfig{
		Addr:     cfg.Analysis.Redis.Addr,
		Password: cfg.Analysis.Redis.Password,
		DB:       cfg.Analysis.Redis.DB,
		Key:      cfg.Analysis.Redis.Key,
	}, log)
	if rs, ok := cacheStore.(*analysis.RedisStore); ok {
		defer rs.Close()
	}
	cache := analysis.NewCache(ctx, cacheStore, col, log)
	col.SetPercentileSource(cache)

	// Alert channel
	var tn *notifier.TelegramNotifier
	var alerts notifier.Notifier = notifier.NoopNotifier{}
	if cfg.TelegramEnabled() {
		tn = notifier.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Proxy, log)
		alerts = tn
	} else {
		log.Warn().Msg("telegram not configured, alerts are only logged")
	}

	// History recorder
	var rec recorder.Recorder
	if cfg.Database.SQLitePath != "" {
		sr, err := recorder.NewSQLiteRecorder(cfg.Database.SQLitePath, log)
		if err != nil {
			log.Warn().Err(err).Msg("init sqlite recorder failed, using noop")
			rec = recorder.NewNoopRecorder()
		} else {
			rec = sr
		}
	} else {
		rec = recorder.NewNoopRecorder()
	}
	defer rec.Close()

	sched := scheduler.New(scheduler.Deps{
		Machine:  strategy.NewMachine(policy, cfg.GridStep()),
		Store:    store.New(cfg.Assets.File, log),
		Ledger:   ledger.New(cfg.Ledger.File),
		Sampler:  col,
		Analysis: cache,
		Notifier: alerts,
		Recorder: rec,
	}, scheduler.Options{
		SweepInterval:  cfg.Grid.SweepInterval,
		WorkerInterval: cfg.Grid.WorkerInterval,
		RetryBackoff:   cfg.Grid.RetryBackoff,
		PersistAuto:    cfg.Grid.PersistAuto,
	}, log)
	if err := sched.RegisterAnalysis(ctx, cfg.Analysis.RefreshCron); err != nil {
		log.Fatal().Err(err).Msg("register cron tasks")
	}
	sched.Start()
	defer sched.Stop()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := sched.Run(ctx); err != nil {
			log.Error().Err(err).Msg("scheduler exited")
		}
	}()

	// Telegram commands
	if tn != nil {
		go tn.StartPolling(ctx, notifier.NewCommandHandler(sched))
		log.Info().Msg("telegram polling started")
	}

	// HTTP API
	var srv *api.Server
	if cfg.HTTP.Addr != "" {
		srv = api.NewServer(cfg.HTTP.Addr, api.NewHandlers(sched, log), log)
		go func() {
			if err := srv.Start(); err != nil {
				log.Error().Err(err).Msg("http server")
			}
		}()
	}

	// Console prompts
	if cfg.Console.Enabled {
		console := confirm.NewConsole(os.Stdin, os.Stdout, sched, log)
		go func() {
			if err := console.Run(ctx); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("console")
			}
		}()
	}

	log.Info().Msg("GridSentinel is running. Press Ctrl+C to stop.")

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("shutdown signal received, stopping...")
	cancel()
	if srv != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("http shutdown")
		}
		done()
	}
	wg.Wait()
	log.Info().Msg("GridSentinel stopped")
}

func newFeed(cfg *config.Config, log zerolog.Logger) collector.Feed {
	switch cfg.DataSource.Provider {
	case "chart":
		return collector.NewChartFeed(cfg.Proxy)
	case "mock":
		return collector.NewMockFeed()
	default:
		return collector.NewYFinanceFeed(log)
	}
}
