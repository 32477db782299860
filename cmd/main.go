package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"possync/internal/app/server"
	"possync/internal/config"
	"possync/internal/core/contracts"
	"possync/internal/core/services"
	"possync/internal/platform/logger"
	"possync/internal/platform/telemetry"
	"possync/internal/plugins/memory"
	"possync/internal/plugins/postgres"
	redisPlugin "possync/internal/plugins/redis"
	"possync/pkg/logging"
)

func main() {
	configPath := flag.String("config", "", "optional YAML config overlaid on the environment")
	flag.Parse()

	// Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Config
	cfg := config.Load()
	if *configPath != "" {
		var err error
		if cfg, err = config.LoadFile(*configPath); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}

	// Logger
	log := logger.NewLogger(*cfg)
	log.Info("starting application")

	otelShutdown, err := telemetry.InitTelemetry(ctx, *cfg)
	if err != nil {
		log.Error("failed to initialize telemetry", logging.Err(err))
		otelShutdown = func(context.Context) error { return nil }
	}
	defer func() {
		log.Info("flushing telemetry...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			log.Error("telemetry shutdown failed", logging.Err(err))
		}
	}()

	// Store
	store, err := openStore(ctx, cfg)
	if err != nil {
		log.Error("store connection failed", "driver", cfg.Store.Driver, logging.Err(err))
		return
	}
	log.Info("store connected", "driver", cfg.Store.Driver)

	// Engine
	txRetries := cfg.Sync.TxMaxRetries
	if txRetries == 0 {
		txRetries = services.NoTxRetries
	}
	engine := services.InitDefault(func() *services.Engine {
		return services.NewEngine(log, store, services.Options{
			TxMaxRetries: txRetries,
			Retry: services.RetryConfig{
				MaxAttempts: cfg.Sync.RetryAttempts,
				InitialWait: cfg.Sync.RetryInitialWait,
				MaxWait:     cfg.Sync.RetryMaxWait,
				Multiplier:  cfg.Sync.RetryMultiplier,
			},
			PublisherBuffer: cfg.Sync.PublisherBuffer,
		})
	})
	defer func() {
		if err := engine.Close(); err != nil {
			log.Error("engine close failed", logging.Err(err))
		}
	}()

	// Server
	srv := server.NewServer(log, cfg.Service.Name, *cfg.Server, engine)
	if err := srv.Start(ctx); err != nil {
		log.Error("server stopped", logging.Err(err))
	}
}

func openStore(ctx context.Context, cfg *config.Config) (contracts.DocumentStore, error) {
	switch cfg.Store.Driver {
	case "redis":
		rdb, err := redisPlugin.NewRedisClient(ctx, *cfg.Redis)
		if err != nil {
			return nil, err
		}
		return redisPlugin.NewDocumentStore(rdb, cfg.Redis.KeyPrefix,
			redisPlugin.WithMaxBatchSize(cfg.Store.MaxBatchSize)), nil
	case "postgres":
		db, err := postgres.New(ctx, *cfg.Postgres)
		if err != nil {
			return nil, err
		}
		if cfg.Postgres.Migrate {
			if err := postgres.Migrate(ctx, db); err != nil {
				db.Close()
				return nil, err
			}
		}
		return postgres.NewDocumentStore(db, postgres.WithMaxBatchSize(cfg.Store.MaxBatchSize)), nil
	default:
		return memory.New(memory.WithMaxBatchSize(cfg.Store.MaxBatchSize)), nil
	}
}
