package ports

import (
	"context"

	"github.com/entiendetuderecho/analysis-service/internal/core/domain"
)

// AnalysisRunner is the inbound contract for one document-analysis run.
type AnalysisRunner interface {
	Run(ctx context.Context, ownerID, rawThreadID string, upload domain.Upload) (domain.AnalysisRecord, error)
}

// HistoryReader serves ownership-filtered retrieval of committed results.
type HistoryReader interface {
	List(ctx context.Context, ownerID string, limit, offset int) ([]domain.AnalysisRecord, int, error)
	Get(ctx context.Context, ownerID, threadID string) (*domain.AnalysisRecord, error)
}

// CheckpointJanitor is the inbound contract for operational checkpoint
// retention, driven by completion events.
type CheckpointJanitor interface {
	PruneCompleted(ctx context.Context, threadID string) (int64, error)
}
