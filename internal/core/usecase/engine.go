package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/entiendetuderecho/analysis-service/internal/core/domain"
	"github.com/entiendetuderecho/analysis-service/internal/core/ports"
)

const msgProcessingFailure = "Hubo un problema al procesar el documento. " +
	"Por favor, intenta tomar una foto más clara y vuelve a intentarlo."

const msgExtractionFailure = "No pudimos leer el documento en la imagen. " +
	"Por favor, toma una foto más clara, con buena iluminación y sin reflejos."

// RunObserver receives pipeline measurements. Implementations must be safe
// for concurrent use.
type RunObserver interface {
	StageExecuted(stage string, duration time.Duration)
	RunFinished(terminalStage string, duration time.Duration)
	RunResumed(checkpointStage string)
	QualityRejected()
}

type noopObserver struct{}

func (noopObserver) StageExecuted(string, time.Duration) {}
func (noopObserver) RunFinished(string, time.Duration)   {}
func (noopObserver) RunResumed(string)                   {}
func (noopObserver) QualityRejected()                    {}

// EngineConfig bounds the blocking collaborator calls.
type EngineConfig struct {
	ExtractTimeout time.Duration
	AnalyzeTimeout time.Duration
}

func (c EngineConfig) normalize() EngineConfig {
	if c.ExtractTimeout <= 0 {
		c.ExtractTimeout = 60 * time.Second
	}
	if c.AnalyzeTimeout <= 0 {
		c.AnalyzeTimeout = 120 * time.Second
	}
	return c
}

// Engine executes the fixed analysis graph over an AnalysisState, one run
// per thread at a time, appending a checkpoint after every stage. A crash or
// restart after stage N never re-executes stages 1..N: the run resumes from
// the latest durable checkpoint.
type Engine struct {
	checkpoints ports.CheckpointStore
	results     ports.ResultStore
	extractor   ports.TextExtractor
	analyzer    ports.DocumentAnalyzer
	queue       ports.MessageQueue
	gate        *QualityGate
	cfg         EngineConfig
	logger      *slog.Logger
	observer    RunObserver

	mu      sync.Mutex
	threads map[string]*threadLock
}

// threadLock is reference counted so the per-thread lock map shrinks back
// once a thread has no waiters.
type threadLock struct {
	mu   sync.Mutex
	refs int
}

func NewEngine(
	checkpoints ports.CheckpointStore,
	results ports.ResultStore,
	extractor ports.TextExtractor,
	analyzer ports.DocumentAnalyzer,
	queue ports.MessageQueue,
	gate *QualityGate,
	cfg EngineConfig,
	logger *slog.Logger,
	observer RunObserver,
) *Engine {
	if gate == nil {
		gate = NewQualityGate(DefaultGateConfig())
	}
	if logger == nil {
		logger = slog.Default()
	}
	if observer == nil {
		observer = noopObserver{}
	}
	return &Engine{
		checkpoints: checkpoints,
		results:     results,
		extractor:   extractor,
		analyzer:    analyzer,
		queue:       queue,
		gate:        gate,
		cfg:         cfg.normalize(),
		logger:      logger,
		observer:    observer,
		threads:     make(map[string]*threadLock),
	}
}

// Run resolves the thread identity and executes the pipeline to a terminal
// stage, committing the result record. Quality and analysis failures are
// recovered into an error:true record; only infrastructure failures
// (checkpoint persistence, collaborator timeouts and outages) return an
// error, and those are retryable from the last durable checkpoint.
func (e *Engine) Run(ctx context.Context, ownerID, rawThreadID string, upload domain.Upload) (domain.AnalysisRecord, error) {
	thread, err := domain.ResolveThreadID(ownerID, rawThreadID)
	if err != nil {
		return domain.AnalysisRecord{}, err
	}

	unlock := e.lockThread(thread.String())
	defer unlock()

	started := time.Now()
	rec, err := e.runLocked(ctx, thread, upload)
	if err != nil {
		return domain.AnalysisRecord{}, err
	}

	terminal := domain.StageTerminalSuccess
	if rec.Error {
		terminal = domain.StageTerminalError
	}
	e.observer.RunFinished(terminal, time.Since(started))
	e.logger.Info("analysis_run_finished",
		"thread_id", thread.String(),
		"terminal", terminal,
		"duration_ms", float64(time.Since(started).Microseconds())/1000.0,
	)
	return rec, nil
}

func (e *Engine) runLocked(ctx context.Context, thread domain.ThreadID, upload domain.Upload) (domain.AnalysisRecord, error) {
	stage, state, err := e.resumePoint(ctx, thread)
	if err != nil {
		return domain.AnalysisRecord{}, err
	}

	for !domain.IsTerminalStage(stage) {
		stageStart := time.Now()
		next, err := e.executeStage(ctx, stage, &state, upload)
		if err != nil {
			return domain.AnalysisRecord{}, err
		}
		e.observer.StageExecuted(stage, time.Since(stageStart))

		// The checkpoint commits the stage's result before the graph
		// advances: at-most-once commit, at-least-once retry from caller.
		if _, err := e.checkpoints.Append(ctx, thread.String(), stage, state); err != nil {
			return domain.AnalysisRecord{}, domain.WrapError(domain.ErrCheckpointPersist, "append checkpoint", err)
		}
		stage = next
	}

	if _, err := e.checkpoints.Append(ctx, thread.String(), stage, state); err != nil {
		return domain.AnalysisRecord{}, domain.WrapError(domain.ErrCheckpointPersist, "append terminal checkpoint", err)
	}

	// A failed record commit is a storage outage, not a pipeline result:
	// it propagates as a retryable service failure.
	rec, err := e.results.Upsert(ctx, domain.RecordFromState(thread, state))
	if err != nil {
		return domain.AnalysisRecord{}, domain.WrapError(domain.ErrTemporary, "commit analysis record", err)
	}

	if e.queue != nil {
		if err := e.queue.PublishAnalysisCompleted(ctx, thread.String()); err != nil {
			// The record is already durable; event delivery is best effort.
			e.logger.Warn("analysis_completed_publish_failed", "thread_id", thread.String(), "error", err)
		}
	}
	return rec, nil
}

// resumePoint decides where the run starts. A non-terminal latest checkpoint
// means a previous run was interrupted: its state is reused and only the
// remaining stages execute. A terminal (or absent) checkpoint starts a fresh
// run, which re-analyzes the thread and overwrites its record.
func (e *Engine) resumePoint(ctx context.Context, thread domain.ThreadID) (string, domain.AnalysisState, error) {
	cp, err := e.checkpoints.Latest(ctx, thread.String())
	if err != nil {
		return "", domain.AnalysisState{}, domain.WrapError(domain.ErrCheckpointPersist, "load latest checkpoint", err)
	}
	if cp == nil || domain.IsTerminalStage(cp.Stage) {
		return domain.StageExtractText, domain.NewAnalysisState(thread), nil
	}

	e.observer.RunResumed(cp.Stage)
	e.logger.Info("analysis_run_resumed", "thread_id", thread.String(), "checkpoint_stage", cp.Stage, "sequence", cp.SequenceNumber)
	return nextStage(cp.Stage, cp.State), cp.State, nil
}

// executeStage mutates state through one stage and returns the next stage
// name. Infrastructure failures surface as errors; collaborator-level
// failures are recovered into the state.
func (e *Engine) executeStage(ctx context.Context, stage string, state *domain.AnalysisState, upload domain.Upload) (string, error) {
	switch stage {
	case domain.StageExtractText:
		if err := e.extractText(ctx, state, upload); err != nil {
			return "", err
		}
	case domain.StageQualityGate:
		wasFailed := state.Error
		*state = e.gate.Check(*state)
		if state.Error && !wasFailed {
			e.observer.QualityRejected()
		}
	case domain.StageAnalyze:
		if err := e.analyze(ctx, state); err != nil {
			return "", err
		}
	default:
		return "", fmt.Errorf("unknown pipeline stage %q", stage)
	}
	return nextStage(stage, *state), nil
}

func nextStage(stage string, state domain.AnalysisState) string {
	switch stage {
	case domain.StageExtractText:
		return domain.StageQualityGate
	case domain.StageQualityGate:
		if state.Error {
			return domain.StageTerminalError
		}
		return domain.StageAnalyze
	case domain.StageAnalyze:
		if state.Error {
			return domain.StageTerminalError
		}
		return domain.StageTerminalSuccess
	default:
		return domain.StageTerminalError
	}
}

func (e *Engine) extractText(ctx context.Context, state *domain.AnalysisState, upload domain.Upload) error {
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.ExtractTimeout)
	defer cancel()

	text, err := e.extractor.Extract(callCtx, upload)
	switch {
	case err == nil:
		state.RawText = text
	case isInfrastructureFailure(err):
		return timeoutAware("extract text", err)
	default:
		// OCR-level failure becomes a terminal_error analysis, not a
		// transport failure: the user needs an actionable message.
		e.logger.Warn("text_extraction_failed", "thread_id", state.ThreadID, "error", err)
		*state = state.Fail(msgExtractionFailure)
	}
	return nil
}

func (e *Engine) analyze(ctx context.Context, state *domain.AnalysisState) error {
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.AnalyzeTimeout)
	defer cancel()

	analysis, err := e.analyzer.Analyze(callCtx, state.RawText, state.Language)
	switch {
	case err == nil:
		state.DocType = analysis.DocType
		state.SimplifiedExplanation = analysis.SimplifiedExplanation
		state.IdentifiedRisks = analysis.IdentifiedRisks
		state.ActionItems = analysis.ActionItems
		state.ConfidenceScore = analysis.ConfidenceScore
		if analysis.Language != "" {
			state.Language = analysis.Language
		}
	case isInfrastructureFailure(err):
		return timeoutAware("analyze document", err)
	default:
		e.logger.Warn("document_analysis_failed", "thread_id", state.ThreadID, "error", err)
		*state = state.Fail(msgProcessingFailure)
	}
	return nil
}

// isInfrastructureFailure separates retryable service conditions from
// collaborator-level failures that are recovered into data.
func isInfrastructureFailure(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) ||
		domain.IsKind(err, domain.ErrCollaboratorTimeout) ||
		domain.IsKind(err, domain.ErrTemporary)
}

func timeoutAware(operation string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) && !domain.IsKind(err, domain.ErrCollaboratorTimeout) {
		return domain.WrapError(domain.ErrCollaboratorTimeout, operation, err)
	}
	return err
}

func (e *Engine) lockThread(threadID string) func() {
	e.mu.Lock()
	lock, ok := e.threads[threadID]
	if !ok {
		lock = &threadLock{}
		e.threads[threadID] = lock
	}
	lock.refs++
	e.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		e.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(e.threads, threadID)
		}
		e.mu.Unlock()
	}
}
