package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/akaunkita/finledger/internal/app"
	jobmetrics "github.com/akaunkita/finledger/internal/jobs"
	"github.com/akaunkita/finledger/internal/notify"
	"github.com/akaunkita/finledger/internal/observability"
	"github.com/akaunkita/finledger/internal/platform/cache"
	"github.com/akaunkita/finledger/internal/platform/db"
	"github.com/akaunkita/finledger/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: cfg.PGMaxConns})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	jobClient := jobs.NewClient(cfg.AsynqRedis())
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	services, err := app.BuildServices(cfg, app.Infra{
		Pool:     pool,
		Redis:    redisClient,
		Enqueuer: jobClient.Enqueuer(),
		Metrics:  metrics,
		Logger:   logger,
	})
	if err != nil {
		logger.Error("build services", slog.Any("error", err))
		os.Exit(1)
	}

	jobMetrics := jobmetrics.NewMetrics(metrics.Registerer())
	syncJob := jobs.NewPOSSyncJob(services.POSSyncer, metrics, jobMetrics, logger)
	repairJob := jobs.NewSourceRepairJob(services.POSPoster, jobMetrics, logger)
	cleanupJob := jobs.NewCleanupJob(services.Idempotency, jobMetrics, logger)
	notifyHandler := notify.NewHandler(notify.NewStore(pool), logger)

	cron, err := schedule(cfg)
	if err != nil {
		logger.Error("build schedule", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   cfg.AsynqRedis(),
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskPOSSync, Handler: syncJob.Handle},
			{Type: jobs.TaskLedgerSourceRepair, Handler: repairJob.Handle},
			{Type: jobs.TaskIdempotencyCleanup, Handler: cleanupJob.Handle},
			{Type: notify.TaskCompanyNotification, Handler: notifyHandler.Handle},
		},
		Cron: cron,
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	metricsServer := &http.Server{Addr: cfg.WorkerMetricsAddr, Handler: metrics.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn("worker metrics server", slog.Any("error", err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	logger.Info("starting worker", slog.Int("scheduled_entries", len(cron)))
	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}

// schedule polls every configured company at the provider interval and sweeps
// pending ledger sources hourly.
func schedule(cfg *app.Config) ([]jobs.CronRegistration, error) {
	companies, err := cfg.SyncCompanies()
	if err != nil {
		return nil, err
	}
	var out []jobs.CronRegistration
	if cfg.LoyverseAPIKey != "" {
		spec := fmt.Sprintf("@every %s", cfg.LoyversePollInterval)
		for _, company := range companies {
			task, err := jobs.NewPOSSyncTask(company, false, cfg.LoyversePollInterval)
			if err != nil {
				return nil, err
			}
			out = append(out, jobs.CronRegistration{Spec: spec, Task: task})
		}
	}
	repair, err := jobs.NewSourceRepairTask(cfg.POSRepairAfter)
	if err != nil {
		return nil, err
	}
	cleanup, err := jobs.NewCleanupTask(jobs.DefaultKeyRetention)
	if err != nil {
		return nil, err
	}
	out = append(out,
		jobs.CronRegistration{Spec: "@hourly", Task: repair},
		jobs.CronRegistration{Spec: "30 3 * * *", Task: cleanup, Options: []asynq.Option{asynq.MaxRetry(1)}},
	)
	return out, nil
}
