package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kirillkom/qc-inspection/internal/bootstrap"
	"github.com/kirillkom/qc-inspection/internal/config"
	"github.com/kirillkom/qc-inspection/internal/infrastructure/scheduler"
	"github.com/kirillkom/qc-inspection/internal/observability/logging"
	"github.com/kirillkom/qc-inspection/internal/observability/metrics"
)

const serviceName = "worker"

func main() {
	if err := config.LoadDotEnv(os.Getenv("ENV_FILE")); err != nil {
		log.Fatalf("load env file: %v", err)
	}
	cfg := config.Load()
	slog.SetDefault(logging.NewJSONLogger(serviceName, cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg)
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}
	defer app.Close()

	workerMetrics := metrics.NewWorkerMetrics(serviceName)
	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           workerMetrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("worker_metrics_server_failed", "error", err)
		}
	}()

	sweeper, err := scheduler.NewSweeper(app.Sessions, scheduler.Options{
		Schedule: cfg.SessionSweepSchedule,
		TTL:      cfg.SessionTTL,
		OnSweep: func(expired int64, err error) {
			workerMetrics.RecordSweep(serviceName, expired, err)
		},
	})
	if err != nil {
		log.Fatalf("sweeper init error: %v", err)
	}
	sweeper.Start(ctx)
	defer sweeper.Stop()

	slog.Info("worker_subscribed", "subject", cfg.NATSSubject, "queue_group", cfg.NATSQueueGroup)
	err = app.Queue.SubscribeImportRequested(ctx, func(handlerCtx context.Context, uploadID string) error {
		processCtx, cancel := context.WithTimeout(handlerCtx, 10*time.Minute)
		defer cancel()

		if session, err := app.Sessions.GetByID(processCtx, uploadID); err == nil {
			workerMetrics.ObserveQueueLag(serviceName, time.Since(session.CreatedAt))
		}

		workerMetrics.StartJob()
		started := time.Now()
		err := app.Jobs.ProcessByID(processCtx, uploadID)
		workerMetrics.FinishJob(serviceName, time.Since(started), err)
		return err
	})
	if err != nil {
		log.Fatalf("worker subscribe error: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("worker_metrics_shutdown_failed", "error", err)
	}
}
