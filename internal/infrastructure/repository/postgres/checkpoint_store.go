package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/entiendetuderecho/analysis-service/internal/core/domain"
)

// CheckpointStore persists the append-only checkpoint chain of each
// thread. Appends take a per-thread advisory lock inside the transaction,
// so sequence numbers stay gapless even if two processes race on the
// same thread.
type CheckpointStore struct {
	db *sql.DB
}

func NewCheckpointStore(db *sql.DB) *CheckpointStore {
	return &CheckpointStore{db: db}
}

func (s *CheckpointStore) Append(ctx context.Context, threadID, stage string, state domain.AnalysisState) (int64, error) {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return 0, domain.WrapError(domain.ErrCheckpointPersist, "marshal state", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, domain.WrapError(domain.ErrCheckpointPersist, "begin tx", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, threadID); err != nil {
		return 0, domain.WrapError(domain.ErrCheckpointPersist, "acquire thread lock", err)
	}

	var seq int64
	err = tx.QueryRowContext(ctx, `
INSERT INTO checkpoints (thread_id, sequence_number, stage, state, parent_sequence)
SELECT $1, COALESCE(MAX(sequence_number), 0) + 1, $2, $3, COALESCE(MAX(sequence_number), 0)
FROM checkpoints WHERE thread_id = $1
RETURNING sequence_number
`, threadID, stage, stateJSON).Scan(&seq)
	if err != nil {
		return 0, domain.WrapError(domain.ErrCheckpointPersist, "insert checkpoint", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, domain.WrapError(domain.ErrCheckpointPersist, "commit tx", err)
	}
	return seq, nil
}

func (s *CheckpointStore) Latest(ctx context.Context, threadID string) (*domain.Checkpoint, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT thread_id, sequence_number, stage, state, parent_sequence, created_at
FROM checkpoints
WHERE thread_id = $1
ORDER BY sequence_number DESC
LIMIT 1
`, threadID)

	var cp domain.Checkpoint
	var stateRaw []byte
	err := row.Scan(&cp.ThreadID, &cp.SequenceNumber, &cp.Stage, &stateRaw, &cp.ParentSequence, &cp.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan checkpoint: %w", err)
	}
	if err := json.Unmarshal(stateRaw, &cp.State); err != nil {
		return nil, fmt.Errorf("unmarshal checkpoint state: %w", err)
	}
	return &cp, nil
}

func (s *CheckpointStore) PruneThread(ctx context.Context, threadID string, keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}
	result, err := s.db.ExecContext(ctx, `
DELETE FROM checkpoints
WHERE thread_id = $1
  AND sequence_number <= (
	SELECT COALESCE(MAX(sequence_number), 0) - $2
	FROM checkpoints WHERE thread_id = $1
  )
`, threadID, keep)
	if err != nil {
		return 0, fmt.Errorf("prune checkpoints: %w", err)
	}
	pruned, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune rows affected: %w", err)
	}
	return pruned, nil
}
