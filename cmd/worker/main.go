package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/entiendetuderecho/analysis-service/internal/bootstrap"
	"github.com/entiendetuderecho/analysis-service/internal/config"
	"github.com/entiendetuderecho/analysis-service/internal/observability/logging"
)

const serviceName = "analysis-janitor"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	logger := logging.NewJSONLogger(serviceName, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, logger, serviceName)
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}
	defer app.Close()

	metricsServer := &http.Server{
		Addr:    ":" + cfg.WorkerMetricsPort,
		Handler: app.WorkerMetrics.Handler(),
	}
	go func() {
		logger.Info("worker_metrics_listening", "port", cfg.WorkerMetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("worker metrics server error: %v", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	logger.Info("worker_subscribed", "subject", cfg.NATSSubject)
	err = app.Queue.SubscribeAnalysisCompleted(ctx, func(handlerCtx context.Context, threadID string) error {
		pruneCtx, cancel := context.WithTimeout(handlerCtx, time.Minute)
		defer cancel()

		app.WorkerMetrics.StartPrune()
		start := time.Now()
		pruned, err := app.Janitor.PruneCompleted(pruneCtx, threadID)
		app.WorkerMetrics.FinishPrune(serviceName, time.Since(start), pruned, err)
		return err
	})
	if err != nil {
		log.Fatalf("worker subscribe error: %v", err)
	}
}
