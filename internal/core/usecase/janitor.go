package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/entiendetuderecho/analysis-service/internal/core/ports"
)

// JanitorUseCase trims superseded checkpoints once a run reached a terminal
// stage. The latest checkpoints are always retained so audit and re-analysis
// keep a resume point.
type JanitorUseCase struct {
	checkpoints ports.CheckpointStore
	retention   int
	logger      *slog.Logger
}

func NewJanitorUseCase(checkpoints ports.CheckpointStore, retention int, logger *slog.Logger) *JanitorUseCase {
	if retention <= 0 {
		retention = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &JanitorUseCase{checkpoints: checkpoints, retention: retention, logger: logger}
}

func (uc *JanitorUseCase) PruneCompleted(ctx context.Context, threadID string) (int64, error) {
	pruned, err := uc.checkpoints.PruneThread(ctx, threadID, uc.retention)
	if err != nil {
		return 0, fmt.Errorf("prune checkpoints for %s: %w", threadID, err)
	}
	if pruned > 0 {
		uc.logger.Info("checkpoints_pruned", "thread_id", threadID, "pruned", pruned, "retained", uc.retention)
	}
	return pruned, nil
}
