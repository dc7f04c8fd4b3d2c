package usecase

import (
	"context"
	"fmt"

	"github.com/entiendetuderecho/analysis-service/internal/core/domain"
	"github.com/entiendetuderecho/analysis-service/internal/core/ports"
)

const (
	defaultHistoryLimit = 10
	maxHistoryLimit     = 100
)

// HistoryUseCase serves committed analyses, always filtered by the owning
// identity. A record for another owner and a missing record are the same
// answer, so existence never leaks.
type HistoryUseCase struct {
	results ports.ResultStore
}

func NewHistoryUseCase(results ports.ResultStore) *HistoryUseCase {
	return &HistoryUseCase{results: results}
}

func (uc *HistoryUseCase) List(ctx context.Context, ownerID string, limit, offset int) ([]domain.AnalysisRecord, int, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	if offset < 0 {
		offset = 0
	}

	records, total, err := uc.results.ListByOwner(ctx, ownerID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list analyses: %w", err)
	}
	if records == nil {
		records = []domain.AnalysisRecord{}
	}
	return records, total, nil
}

func (uc *HistoryUseCase) Get(ctx context.Context, ownerID, threadID string) (*domain.AnalysisRecord, error) {
	if _, err := domain.ParseThreadID(threadID); err != nil {
		// A malformed id cannot name an owned record.
		return nil, domain.WrapError(domain.ErrNotFound, "get analysis", err)
	}
	rec, err := uc.results.GetByThread(ctx, ownerID, threadID)
	if err != nil {
		return nil, err
	}
	return rec, nil
}
