package transcript

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Schema is the SQL DDL for the utterances table. Execute it via
// [PostgresStore.Migrate] or apply it during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS utterances (
    id           BIGSERIAL PRIMARY KEY,
    session_id   TEXT NOT NULL,
    text         TEXT NOT NULL DEFAULT '',
    language     TEXT NOT NULL DEFAULT '',
    provider     TEXT NOT NULL DEFAULT '',
    start_sample INTEGER NOT NULL,
    end_sample   INTEGER NOT NULL,
    sample_rate  INTEGER NOT NULL,
    reason       TEXT NOT NULL,
    duration_ms  BIGINT NOT NULL,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_utterances_session ON utterances(session_id, id DESC);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy it.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Store] backed by PostgreSQL.
type PostgresStore struct {
	db   DB
	size int
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore returns a store using db that keeps size records per
// session (zero or less selects [DefaultHistorySize]). Call
// [PostgresStore.Migrate] before first use.
func NewPostgresStore(db DB, size int) *PostgresStore {
	if size <= 0 {
		size = DefaultHistorySize
	}
	return &PostgresStore{db: db, size: size}
}

// Migrate creates the utterances table and index if missing.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("transcript: migrate: %w", err)
	}
	return nil
}

// Append implements [Store].
func (s *PostgresStore) Append(ctx context.Context, rec Record) (Record, error) {
	if rec.Session == "" {
		return Record{}, ErrEmptySession
	}
	err := s.db.QueryRow(ctx, `
		INSERT INTO utterances
		    (session_id, text, language, provider, start_sample, end_sample, sample_rate, reason, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at`,
		rec.Session, rec.Text, rec.Language, rec.Provider,
		rec.Start, rec.End, rec.SampleRate, rec.Reason, rec.DurationMs,
	).Scan(&rec.ID, &rec.CreatedAt)
	if err != nil {
		return Record{}, fmt.Errorf("transcript: insert %q: %w", rec.Session, err)
	}

	_, err = s.db.Exec(ctx, `
		DELETE FROM utterances
		WHERE session_id = $1
		  AND id NOT IN (
		      SELECT id FROM utterances WHERE session_id = $1 ORDER BY id DESC LIMIT $2
		  )`,
		rec.Session, s.size,
	)
	if err != nil {
		return rec, fmt.Errorf("transcript: prune %q: %w", rec.Session, err)
	}
	return rec, nil
}

// Recent implements [Store].
func (s *PostgresStore) Recent(ctx context.Context, session string, limit int) ([]Record, error) {
	if session == "" {
		return nil, ErrEmptySession
	}
	if limit <= 0 || limit > s.size {
		limit = s.size
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, session_id, text, language, provider,
		       start_sample, end_sample, sample_rate, reason, duration_ms, created_at
		FROM utterances
		WHERE session_id = $1
		ORDER BY id DESC
		LIMIT $2`,
		session, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("transcript: query %q: %w", session, err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(
			&r.ID, &r.Session, &r.Text, &r.Language, &r.Provider,
			&r.Start, &r.End, &r.SampleRate, &r.Reason, &r.DurationMs, &r.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("transcript: scan: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("transcript: rows: %w", err)
	}
	return out, nil
}

// Reset implements [Store].
func (s *PostgresStore) Reset(ctx context.Context, session string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM utterances WHERE session_id = $1`, session); err != nil {
		return fmt.Errorf("transcript: reset %q: %w", session, err)
	}
	return nil
}
