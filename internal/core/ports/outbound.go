package ports

import (
	"context"

	"github.com/entiendetuderecho/analysis-service/internal/core/domain"
)

// CheckpointStore is the durable ledger of pipeline state snapshots. Append
// serializes concurrent writes per thread: sequence numbers are strictly
// increasing with no duplicates, and Latest is consistent with the most
// recently committed Append.
type CheckpointStore interface {
	Append(ctx context.Context, threadID, stage string, state domain.AnalysisState) (int64, error)
	Latest(ctx context.Context, threadID string) (*domain.Checkpoint, error)
	PruneThread(ctx context.Context, threadID string, keep int) (int64, error)
}

// ResultStore persists committed analysis records, one per thread.
type ResultStore interface {
	Upsert(ctx context.Context, rec domain.AnalysisRecord) (domain.AnalysisRecord, error)
	ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]domain.AnalysisRecord, int, error)
	GetByThread(ctx context.Context, ownerID, threadID string) (*domain.AnalysisRecord, error)
}

// TextExtractor turns an uploaded document into raw text. Implementations
// are expected to be side-effect free with respect to re-invocation.
type TextExtractor interface {
	Extract(ctx context.Context, upload domain.Upload) (string, error)
}

// DocumentAnalyzer is the language-model collaborator producing the
// structured analysis for already-validated raw text.
type DocumentAnalyzer interface {
	Analyze(ctx context.Context, rawText, language string) (domain.Analysis, error)
}

// Authenticator resolves a bearer token into a verified owner identity.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (string, error)
}

// MessageQueue propagates terminal-run events to operational consumers.
type MessageQueue interface {
	PublishAnalysisCompleted(ctx context.Context, threadID string) error
	SubscribeAnalysisCompleted(ctx context.Context, handler func(context.Context, string) error) error
}
