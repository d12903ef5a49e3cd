package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/prosartisan/prosartisan/internal/app"
	"github.com/prosartisan/prosartisan/internal/escrow"
	"github.com/prosartisan/prosartisan/internal/fraud"
	"github.com/prosartisan/prosartisan/internal/gateway"
	"github.com/prosartisan/prosartisan/internal/jeton"
	"github.com/prosartisan/prosartisan/internal/ledger"
	"github.com/prosartisan/prosartisan/internal/observability"
	"github.com/prosartisan/prosartisan/internal/platform/cache"
	"github.com/prosartisan/prosartisan/internal/webhook"
	"github.com/prosartisan/prosartisan/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := pgxpool.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	clients := make(map[string]gateway.MobileMoneyGateway)
	for provider, pc := range cfg.Providers() {
		clients[provider] = gateway.NewClient(gateway.Config{
			Provider:      provider,
			BaseURL:       pc.BaseURL,
			APIKey:        pc.APIKey,
			WebhookSecret: pc.WebhookSecret,
			Timeout:       cfg.GatewayTimeout,
		}, logger)
	}
	if len(clients) == 0 {
		logger.Error("no mobile-money provider configured")
		os.Exit(1)
	}
	fallback := "wave"
	if _, ok := clients[fallback]; !ok {
		for provider := range clients {
			fallback = provider
			break
		}
	}
	gw := gateway.NewRegistry(clients, fallback)

	metrics := observability.NewMetrics()

	publisher := jobs.NewPublisher(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Warn("publisher close", slog.Any("error", err))
		}
	}()

	ledgerRepo := ledger.NewRepository(dbpool)
	ledgerService := ledger.NewService(ledgerRepo)
	ledgerHandler := ledger.NewHandler(logger, ledgerService)

	fraudService := fraud.NewService(redisClient, fraud.Config{
		MaxAccuracyMeters: cfg.GPSMinAccuracyM,
	}, logger)

	escrowRepo := escrow.NewRepository(dbpool)
	escrowService := escrow.NewService(escrowRepo, ledgerRepo, gw, logger, int64(cfg.EscrowMaterialsPct))
	escrowHandler := escrow.NewHandler(logger, escrowService, publisher, metrics)

	jetonRepo := jeton.NewRepository(dbpool)
	jetonService := jeton.NewService(jetonRepo, escrowRepo, ledgerRepo, fraudService, logger, cfg.JetonTTL, cfg.JetonProximityM)
	jetonHandler := jeton.NewHandler(logger, jetonService, publisher, metrics)

	webhookHandler := webhook.NewHandler(logger, ledgerRepo, webhook.VerifierFor(clients), redisClient, metrics)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		EscrowHandler:  escrowHandler,
		JetonHandler:   jetonHandler,
		LedgerHandler:  ledgerHandler,
		WebhookHandler: webhookHandler,
		JobHandler:     jobHandler,
		Metrics:        metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
