package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func EnsureSchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026083001)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS checkpoints (
	id BIGSERIAL PRIMARY KEY,
	thread_id TEXT NOT NULL,
	sequence_number BIGINT NOT NULL,
	stage TEXT NOT NULL,
	state JSONB NOT NULL,
	parent_sequence BIGINT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (thread_id, sequence_number)
);

CREATE INDEX IF NOT EXISTS idx_checkpoints_thread_seq ON checkpoints(thread_id, sequence_number DESC);

CREATE TABLE IF NOT EXISTS analyses (
	id BIGSERIAL PRIMARY KEY,
	thread_id TEXT NOT NULL UNIQUE,
	user_id TEXT NOT NULL,
	doc_type TEXT NOT NULL DEFAULT '',
	raw_text TEXT NOT NULL DEFAULT '',
	simplified_explanation TEXT NOT NULL DEFAULT '',
	identified_risks JSONB NOT NULL DEFAULT '[]'::jsonb,
	action_items JSONB NOT NULL DEFAULT '[]'::jsonb,
	confidence_score DOUBLE PRECISION NOT NULL DEFAULT 0,
	language TEXT NOT NULL DEFAULT 'es',
	error BOOLEAN NOT NULL DEFAULT FALSE,
	error_message TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_analyses_user_created ON analyses(user_id, created_at DESC);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}
