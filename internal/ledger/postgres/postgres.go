package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/tokligence/localllama/internal/ledger"
)

// Store implements ledger.Store backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

// New opens a PostgreSQL-backed ledger store using the provided DSN and connection pool settings.
func New(dsn string, maxOpen, maxIdle, lifetimeMinutes, idleTimeMinutes int) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres db: %w", err)
	}

	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
	}
	if maxIdle > 0 {
		db.SetMaxIdleConns(maxIdle)
	}
	if lifetimeMinutes > 0 {
		db.SetConnMaxLifetime(time.Duration(lifetimeMinutes) * time.Minute)
	}
	if idleTimeMinutes > 0 {
		db.SetConnMaxIdleTime(time.Duration(idleTimeMinutes) * time.Minute)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS generations (
	id BIGSERIAL PRIMARY KEY,
	generation_id UUID NOT NULL UNIQUE,
	session_id TEXT NOT NULL DEFAULT '',
	kind TEXT NOT NULL CHECK(kind IN ('stream','continue','ask')),
	model TEXT NOT NULL DEFAULT '',
	prompt_chars BIGINT NOT NULL DEFAULT 0,
	completion_tokens BIGINT NOT NULL DEFAULT 0,
	completion_chars BIGINT NOT NULL DEFAULT 0,
	finish_reason TEXT NOT NULL,
	duration_ms BIGINT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_generations_session_created ON generations(session_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_generations_created ON generations(created_at DESC);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close releases underlying database resources.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Record inserts a finished generation.
func (s *Store) Record(ctx context.Context, entry ledger.Entry) error {
	if err := entry.Validate(); err != nil {
		return err
	}
	created := entry.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO generations(generation_id, session_id, kind, model, prompt_chars, completion_tokens, completion_chars, finish_reason, duration_ms, created_at)
VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		entry.GenerationID,
		entry.SessionID,
		string(entry.Kind),
		entry.Model,
		entry.PromptChars,
		entry.CompletionTokens,
		entry.CompletionChars,
		entry.FinishReason,
		entry.DurationMS,
		created,
	)
	return err
}

// Summary groups generations by finish reason.
func (s *Store) Summary(ctx context.Context, sessionID string) (ledger.Summary, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT finish_reason, COUNT(*), COALESCE(SUM(completion_tokens), 0)
FROM generations
WHERE ($1::text = '' OR session_id = $1::text)
GROUP BY finish_reason`, sessionID)
	if err != nil {
		return ledger.Summary{}, err
	}
	defer rows.Close()

	summary := ledger.Summary{ByFinishReason: map[string]int64{}}
	for rows.Next() {
		var reason string
		var count, tokens int64
		if err := rows.Scan(&reason, &count, &tokens); err != nil {
			return ledger.Summary{}, err
		}
		summary.Add(reason, count, tokens)
	}
	return summary, rows.Err()
}

// ListRecent returns the latest generations, newest first.
func (s *Store) ListRecent(ctx context.Context, sessionID string, limit int) ([]ledger.Entry, error) {
	if limit <= 0 {
		limit = ledger.DefaultListLimit
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, generation_id::text, session_id, kind, model, prompt_chars, completion_tokens, completion_chars, finish_reason, duration_ms, created_at
FROM generations
WHERE ($1::text = '' OR session_id = $1::text)
ORDER BY created_at DESC, id DESC
LIMIT $2`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []ledger.Entry
	for rows.Next() {
		var e ledger.Entry
		var kind string
		if err := rows.Scan(&e.ID, &e.GenerationID, &e.SessionID, &kind, &e.Model, &e.PromptChars,
			&e.CompletionTokens, &e.CompletionChars, &e.FinishReason, &e.DurationMS, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Kind = ledger.Kind(kind)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
