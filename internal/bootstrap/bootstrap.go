package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/entiendetuderecho/analysis-service/internal/config"
	"github.com/entiendetuderecho/analysis-service/internal/core/ports"
	"github.com/entiendetuderecho/analysis-service/internal/core/usecase"
	"github.com/entiendetuderecho/analysis-service/internal/infrastructure/auth"
	"github.com/entiendetuderecho/analysis-service/internal/infrastructure/extract"
	"github.com/entiendetuderecho/analysis-service/internal/infrastructure/llm/groq"
	"github.com/entiendetuderecho/analysis-service/internal/infrastructure/ocr"
	"github.com/entiendetuderecho/analysis-service/internal/infrastructure/queue/nats"
	"github.com/entiendetuderecho/analysis-service/internal/infrastructure/repository/postgres"
	"github.com/entiendetuderecho/analysis-service/internal/infrastructure/resilience"
	"github.com/entiendetuderecho/analysis-service/internal/observability/metrics"
)

type App struct {
	Config config.Config
	Logger *slog.Logger

	Queue         ports.MessageQueue
	Runner        ports.AnalysisRunner
	History       ports.HistoryReader
	Janitor       ports.CheckpointJanitor
	Authenticator ports.Authenticator

	APIMetrics    *metrics.HTTPServerMetrics
	WorkerMetrics *metrics.WorkerMetrics

	closeFn func()
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger, service string) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	checkpoints := postgres.NewCheckpointStore(db)
	results := postgres.NewResultStore(db)

	policy := resilience.DefaultPolicy()
	if cfg.RetryMaxAttempts > 0 {
		policy.MaxAttempts = cfg.RetryMaxAttempts
	}
	executor := resilience.NewExecutor(policy, logger)

	queue, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{
		ResilienceExecutor: executor,
		Logger:             logger,
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init message queue: %w", err)
	}

	ocrClient := ocr.New(ocr.Config{
		BaseURL: cfg.OCRBaseURL,
		APIKey:  cfg.OCRAPIKey,
		Timeout: time.Duration(cfg.OCRTimeoutSeconds) * time.Second,
	}, executor, logger)
	extractor := extract.New(ocrClient, logger)

	analyzer := groq.NewAnalyzer(groq.Config{
		APIKey:      cfg.GroqAPIKey,
		BaseURL:     cfg.GroqBaseURL,
		Model:       cfg.GroqModel,
		MaxTokens:   cfg.GroqMaxTokens,
		Temperature: float32(cfg.GroqTemperature),
	}, executor, logger)

	gate := usecase.NewQualityGate(usecase.GateConfig{
		MinTextLength:  cfg.GateMinTextLength,
		MinWords:       cfg.GateMinWords,
		MinAlnumRatio:  cfg.GateMinAlnumRatio,
		MaxRepeatRun:   cfg.GateMaxRepeatRun,
		MinUniqueWords: cfg.GateMinUniqueWords,
	})

	apiMetrics := metrics.NewHTTPServerMetrics(service)
	workerMetrics := metrics.NewWorkerMetrics(service)

	engine := usecase.NewEngine(
		checkpoints,
		results,
		extractor,
		analyzer,
		queue,
		gate,
		usecase.EngineConfig{
			ExtractTimeout: time.Duration(cfg.ExtractTimeoutSeconds) * time.Second,
			AnalyzeTimeout: time.Duration(cfg.AnalyzeTimeoutSeconds) * time.Second,
		},
		logger,
		apiMetrics.PipelineObserver(service),
	)

	history := usecase.NewHistoryUseCase(results)
	janitor := usecase.NewJanitorUseCase(checkpoints, cfg.CheckpointRetention, logger)

	authenticator := auth.New(auth.Config{
		BaseURL: cfg.AuthBaseURL,
		APIKey:  cfg.AuthAPIKey,
	})

	return &App{
		Config: cfg,
		Logger: logger,

		Queue:         queue,
		Runner:        engine,
		History:       history,
		Janitor:       janitor,
		Authenticator: authenticator,

		APIMetrics:    apiMetrics,
		WorkerMetrics: workerMetrics,

		closeFn: func() {
			queue.Close()
			_ = db.Close()
		},
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
