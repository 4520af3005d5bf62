package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"

	"callintel/pkg/utils"
)

// Repository stores entries keyed by (CallID, Stage). Put overwrites.
type Repository interface {
	Get(ctx context.Context, callID string, stage Stage) (Entry, error)
	Put(ctx context.Context, e Entry) error
	ListByCall(ctx context.Context, callID string) ([]Entry, error)
	ListByStatus(ctx context.Context, status Status, limit int) ([]Entry, error)
}

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) EnsureSchema(ctx context.Context) error {
	return utils.ExecAll(ctx, r.db, `
CREATE TABLE IF NOT EXISTS processing_queue (
  call_id      TEXT NOT NULL,
  stage        TEXT NOT NULL,
  status       TEXT NOT NULL,
  priority     INT NOT NULL DEFAULT 0,
  attempts     INT NOT NULL DEFAULT 0,
  error        TEXT NOT NULL DEFAULT '',
  created_at   TIMESTAMPTZ NOT NULL,
  updated_at   TIMESTAMPTZ NOT NULL,
  processed_at TIMESTAMPTZ,
  PRIMARY KEY (call_id, stage)
)`,
		`CREATE INDEX IF NOT EXISTS processing_queue_status_idx ON processing_queue (status, priority DESC, created_at)`,
	)
}

const entryColumns = `call_id, stage, status, priority, attempts, error, created_at, updated_at, processed_at`

func (r *PostgresRepo) Put(ctx context.Context, e Entry) error {
	const q = `
INSERT INTO processing_queue (` + entryColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (call_id, stage) DO UPDATE SET
  status = EXCLUDED.status,
  priority = EXCLUDED.priority,
  attempts = EXCLUDED.attempts,
  error = EXCLUDED.error,
  created_at = EXCLUDED.created_at,
  updated_at = EXCLUDED.updated_at,
  processed_at = EXCLUDED.processed_at
`
	_, err := r.db.ExecContext(ctx, q,
		e.CallID,
		string(e.Stage),
		string(e.Status),
		e.Priority,
		e.Attempts,
		e.Error,
		e.CreatedAt,
		e.UpdatedAt,
		e.ProcessedAt,
	)
	if err != nil {
		return fmt.Errorf("put queue entry: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (Entry, error) {
	var (
		e             Entry
		stage, status string
		processed     sql.NullTime
	)
	if err := s.Scan(&e.CallID, &stage, &status, &e.Priority, &e.Attempts, &e.Error, &e.CreatedAt, &e.UpdatedAt, &processed); err != nil {
		return Entry{}, err
	}
	e.Stage, e.Status = Stage(stage), Status(status)
	if processed.Valid {
		t := processed.Time
		e.ProcessedAt = &t
	}
	return e, nil
}

func (r *PostgresRepo) Get(ctx context.Context, callID string, stage Stage) (Entry, error) {
	q := `SELECT ` + entryColumns + ` FROM processing_queue WHERE call_id = $1 AND stage = $2`
	e, err := scanEntry(r.db.QueryRowContext(ctx, q, callID, string(stage)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, err
	}
	return e, nil
}

func (r *PostgresRepo) ListByCall(ctx context.Context, callID string) ([]Entry, error) {
	q := `SELECT ` + entryColumns + ` FROM processing_queue WHERE call_id = $1 ORDER BY created_at`
	return r.list(ctx, q, callID)
}

func (r *PostgresRepo) ListByStatus(ctx context.Context, status Status, limit int) ([]Entry, error) {
	if status == "" {
		q := `SELECT ` + entryColumns + ` FROM processing_queue ORDER BY updated_at DESC LIMIT $1`
		return r.list(ctx, q, limit)
	}
	q := `SELECT ` + entryColumns + ` FROM processing_queue WHERE status = $1 ORDER BY priority DESC, created_at LIMIT $2`
	return r.list(ctx, q, string(status), limit)
}

func (r *PostgresRepo) list(ctx context.Context, q string, args ...any) ([]Entry, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list queue entries: %w", err)
	}
	defer rows.Close()
	out := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// MemoryRepo is an in-memory Repository for tests.
type MemoryRepo struct {
	mu      sync.Mutex
	entries map[string]Entry
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{entries: map[string]Entry{}} }

func key(callID string, stage Stage) string { return callID + "|" + string(stage) }

func (m *MemoryRepo) Get(ctx context.Context, callID string, stage Stage) (Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key(callID, stage)]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return e, nil
}

func (m *MemoryRepo) Put(ctx context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key(e.CallID, e.Stage)] = e
	return nil
}

func (m *MemoryRepo) ListByCall(ctx context.Context, callID string) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []Entry{}
	for _, e := range m.entries {
		if e.CallID == callID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryRepo) ListByStatus(ctx context.Context, status Status, limit int) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []Entry{}
	for _, e := range m.entries {
		if status == "" || e.Status == status {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
