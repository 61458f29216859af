package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"zaiko-bot/internal/cache"
	"zaiko-bot/internal/clock"
	"zaiko-bot/internal/config"
	"zaiko-bot/internal/convo"
	"zaiko-bot/internal/httpserver"
	"zaiko-bot/internal/line"
	"zaiko-bot/internal/logging"
	"zaiko-bot/internal/metrics"
	"zaiko-bot/internal/repo"
	"zaiko-bot/migrations"

	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting zaiko-bot", "env", cfg.AppEnv, "backend", cfg.StoreBackend)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metricRegistry := metrics.Registry(cfg.MetricsNamespace)

	var store repo.Store
	switch strings.ToLower(cfg.StoreBackend) {
	case "postgres":
		pg, err := repo.NewPostgres(ctx, cfg.DatabaseURL, cfg.DatabaseSchema, logger)
		if err != nil {
			return fmt.Errorf("init postgres store: %w", err)
		}
		store = pg
	case "sqlite":
		lite, err := repo.NewSQLite(ctx, cfg.SQLitePath, logger)
		if err != nil {
			return fmt.Errorf("init sqlite store: %w", err)
		}
		store = lite
	case "sheets":
		sheet, err := repo.NewSheets(ctx, cfg.SheetsSpreadsheetID, cfg.SheetsCredentials, logger)
		if err != nil {
			return fmt.Errorf("init sheets store: %w", err)
		}
		store = sheet
	default:
		return fmt.Errorf("unsupported store backend: %s", cfg.StoreBackend)
	}
	store = repo.NewInstrumented(store, metricRegistry)
	defer store.Close()

	if err := store.RunMigrations(ctx, migrations.Files); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("store migrated")

	var redisClient *cache.Redis
	var dedupe line.Deduper
	if cfg.RedisAddr != "" {
		redisClient = cache.New(cache.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			UseTLS:   cfg.RedisTLS,
		}, logger)
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("failed closing redis", "error", err)
			}
		}()
		if err := redisClient.Ping(ctx); err != nil {
			logger.Warn("redis ping failed", "error", err)
		} else {
			store = repo.NewCached(store, redisClient, logger)
			dedupe = redisClient
		}
	}

	lineClient := line.New(line.Config{
		BaseURL:     cfg.LineAPIBaseURL,
		AccessToken: cfg.LineAccessToken,
		Timeout:     cfg.LineTimeout,
	}, logger, metricRegistry)

	policy := clock.New(cfg.CutoffHour, cfg.Location())
	engine := convo.New(store, lineClient, policy, logger, metricRegistry)

	webhookHandler := line.NewWebhookHandler(cfg.LineChannelSecret, engine, dedupe, logger, metricRegistry)

	httpSrv := httpserver.New(cfg.HTTPListenAddr, logger, httpserver.Handlers{
		LineWebhook: webhookHandler,
	}, cfg.PublicBasePath)
	httpSrv.SetDependencies(httpserver.Dependencies{Store: store})

	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.Start(); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	return nil
}
