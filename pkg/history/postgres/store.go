// Package postgres provides a PostgreSQL-backed [history.Store].
//
// All sessions share a single [pgxpool.Pool]. [NewStore] runs the schema
// migration on startup via CREATE TABLE IF NOT EXISTS, so no external
// migration tooling is required.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/voxatar/voxatar/pkg/history"
)

const ddlTurns = `
CREATE TABLE IF NOT EXISTS turns (
    id             BIGSERIAL   PRIMARY KEY,
    session_id     TEXT        NOT NULL,
    turn           BIGINT      NOT NULL,
    user_text      TEXT        NOT NULL,
    assistant_text TEXT        NOT NULL,
    degraded       BOOLEAN     NOT NULL DEFAULT false,
    mood           TEXT        NOT NULL DEFAULT '',
    created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE (session_id, turn)
);

CREATE INDEX IF NOT EXISTS idx_turns_session_created
    ON turns (session_id, created_at);
`

// Compile-time interface check.
var _ history.Store = (*Store)(nil)

// Store is the PostgreSQL turn archive. All methods are safe for concurrent
// use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to the database at dsn, verifies the connection, and
// ensures the turns table exists.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("history store: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("history store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("history store: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, ddlTurns); err != nil {
		pool.Close()
		return nil, fmt.Errorf("history store: migrate: %w", err)
	}
	return &Store{pool: pool}, nil
}

// AppendTurn implements [history.Store]. Re-inserting an already-persisted
// turn is a no-op, which makes retried writes after transient failures safe.
func (s *Store) AppendTurn(ctx context.Context, rec history.Record) error {
	const q = `
		INSERT INTO turns (session_id, turn, user_text, assistant_text, degraded, mood, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (session_id, turn) DO NOTHING`

	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.pool.Exec(ctx, q,
		rec.SessionID,
		rec.Turn,
		rec.UserText,
		rec.AssistantText,
		rec.Degraded,
		rec.Mood,
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("history store: append turn: %w", err)
	}
	return nil
}

// RecentTurns implements [history.Store].
func (s *Store) RecentTurns(ctx context.Context, sessionID string, limit int) ([]history.Record, error) {
	const q = `
		SELECT session_id, turn, user_text, assistant_text, degraded, mood, created_at
		FROM (
		    SELECT session_id, turn, user_text, assistant_text, degraded, mood, created_at
		    FROM   turns
		    WHERE  session_id = $1
		    ORDER  BY turn DESC
		    LIMIT  $2
		) latest
		ORDER BY turn`

	rows, err := s.pool.Query(ctx, q, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("history store: recent turns: %w", err)
	}
	records, err := pgx.CollectRows(rows, pgx.RowToStructByPos[history.Record])
	if err != nil {
		return nil, fmt.Errorf("history store: scan turns: %w", err)
	}
	return records, nil
}

// Close releases all pooled connections.
func (s *Store) Close() {
	s.pool.Close()
}
