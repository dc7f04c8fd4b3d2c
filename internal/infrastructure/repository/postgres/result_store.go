package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/entiendetuderecho/analysis-service/internal/core/domain"
)

// ResultStore keeps the committed analysis record of each thread, one
// row per thread, updated in place on re-runs.
type ResultStore struct {
	db *sql.DB
}

func NewResultStore(db *sql.DB) *ResultStore {
	return &ResultStore{db: db}
}

const recordColumns = `id, thread_id, user_id, doc_type, raw_text, simplified_explanation, identified_risks, action_items, confidence_score, language, error, error_message, created_at, updated_at`

func (s *ResultStore) Upsert(ctx context.Context, rec domain.AnalysisRecord) (domain.AnalysisRecord, error) {
	risksJSON, err := json.Marshal(rec.IdentifiedRisks)
	if err != nil {
		return domain.AnalysisRecord{}, fmt.Errorf("marshal risks: %w", err)
	}
	actionsJSON, err := json.Marshal(rec.ActionItems)
	if err != nil {
		return domain.AnalysisRecord{}, fmt.Errorf("marshal actions: %w", err)
	}

	row := s.db.QueryRowContext(ctx, `
INSERT INTO analyses (
	thread_id, user_id, doc_type, raw_text, simplified_explanation, identified_risks, action_items, confidence_score, language, error, error_message, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$12)
ON CONFLICT (thread_id) DO UPDATE SET
	doc_type = EXCLUDED.doc_type,
	raw_text = EXCLUDED.raw_text,
	simplified_explanation = EXCLUDED.simplified_explanation,
	identified_risks = EXCLUDED.identified_risks,
	action_items = EXCLUDED.action_items,
	confidence_score = EXCLUDED.confidence_score,
	language = EXCLUDED.language,
	error = EXCLUDED.error,
	error_message = EXCLUDED.error_message,
	updated_at = EXCLUDED.updated_at
RETURNING `+recordColumns,
		rec.ThreadID, rec.UserID, rec.DocType, rec.RawText, rec.SimplifiedExplanation,
		risksJSON, actionsJSON, rec.ConfidenceScore, rec.Language, rec.Error, rec.ErrorMessage,
		time.Now().UTC(),
	)

	stored, err := scanRecord(row)
	if err != nil {
		return domain.AnalysisRecord{}, fmt.Errorf("upsert analysis: %w", err)
	}
	return *stored, nil
}

func (s *ResultStore) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]domain.AnalysisRecord, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM analyses WHERE user_id = $1`, ownerID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count analyses: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT `+recordColumns+`
FROM analyses
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT $2 OFFSET $3
`, ownerID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list analyses: %w", err)
	}
	defer rows.Close()

	records := []domain.AnalysisRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("list analyses: %w", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list analyses rows: %w", err)
	}
	return records, total, nil
}

func (s *ResultStore) GetByThread(ctx context.Context, ownerID, threadID string) (*domain.AnalysisRecord, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT `+recordColumns+`
FROM analyses
WHERE user_id = $1 AND thread_id = $2
`, ownerID, threadID)

	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, "get analysis", err)
		}
		return nil, fmt.Errorf("get analysis: %w", err)
	}
	return rec, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*domain.AnalysisRecord, error) {
	var rec domain.AnalysisRecord
	var risksRaw, actionsRaw []byte

	err := row.Scan(
		&rec.ID, &rec.ThreadID, &rec.UserID, &rec.DocType, &rec.RawText, &rec.SimplifiedExplanation,
		&risksRaw, &actionsRaw, &rec.ConfidenceScore, &rec.Language, &rec.Error, &rec.ErrorMessage,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(risksRaw, &rec.IdentifiedRisks); err != nil {
		return nil, fmt.Errorf("unmarshal risks: %w", err)
	}
	if err := json.Unmarshal(actionsRaw, &rec.ActionItems); err != nil {
		return nil, fmt.Errorf("unmarshal actions: %w", err)
	}
	if rec.IdentifiedRisks == nil {
		rec.IdentifiedRisks = []string{}
	}
	if rec.ActionItems == nil {
		rec.ActionItems = []string{}
	}
	return &rec, nil
}
