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
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/prosartisan/prosartisan/internal/app"
	"github.com/prosartisan/prosartisan/internal/gateway"
	"github.com/prosartisan/prosartisan/internal/jeton"
	"github.com/prosartisan/prosartisan/internal/ledger"
	"github.com/prosartisan/prosartisan/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
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

	pool, err := pgxpool.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

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

	jetonRepo := jeton.NewRepository(pool)
	ledgerRepo := ledger.NewRepository(pool)

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskTypeDomainEvent, Handler: jobs.HandleDomainEventTask(logger)},
			{Type: jobs.TaskTypeJetonExpirySweep, Handler: jobs.HandleJetonExpirySweep(jetonRepo, logger)},
			{Type: jobs.TaskTypeReconcilePending, Handler: jobs.HandleReconcilePending(ledgerRepo, gw, logger)},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "20 * * * *", Task: jobs.NewJetonExpirySweepTask(), Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "*/15 * * * *", Task: jobs.NewReconcilePendingTask(), Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	// Job counters register on the default registerer, so the worker serves
	// its own scrape endpoint.
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{Addr: cfg.WorkerMetricsAddr, Handler: metricsMux}
	go func() {
		logger.Info("serving worker metrics", slog.String("addr", cfg.WorkerMetricsAddr))
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server", slog.Any("error", err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics shutdown", slog.Any("error", err))
		}
	}()

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
