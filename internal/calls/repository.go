package calls

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"callintel/pkg/utils"
)

// ListFilter narrows List. Zero values are ignored.
type ListFilter struct {
	Status     Status
	Department string
	Direction  Direction
	From       time.Time
	To         time.Time
	Limit      int
	Offset     int
}

// Repository persists calls. Lifecycle fields and stage fields are written by
// separate methods so a status webhook never clobbers pipeline output.
type Repository interface {
	// UpsertLifecycle inserts by ExternalID or updates lifecycle fields of the
	// existing row. A nil Recording keeps the stored one.
	UpsertLifecycle(ctx context.Context, c Call) (Call, error)
	SaveStages(ctx context.Context, id string, t *Transcription, a *Analysis, r *Reply) error
	GetByID(ctx context.Context, id string) (Call, error)
	GetByExternalID(ctx context.Context, externalID string) (Call, error)
	List(ctx context.Context, f ListFilter) ([]Call, int, error)
}

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) EnsureSchema(ctx context.Context) error {
	return utils.ExecAll(ctx, r.db, `
CREATE TABLE IF NOT EXISTS calls (
  id            UUID PRIMARY KEY,
  external_id   TEXT NOT NULL UNIQUE,
  from_number   TEXT NOT NULL DEFAULT '',
  to_number     TEXT NOT NULL DEFAULT '',
  direction     TEXT NOT NULL DEFAULT 'inbound',
  department    TEXT NOT NULL DEFAULT '',
  status        TEXT NOT NULL,
  duration      INT NOT NULL DEFAULT 0,
  recording     JSONB,
  transcription JSONB,
  analysis      JSONB,
  reply         JSONB,
  notes         TEXT NOT NULL DEFAULT '',
  tags          JSONB,
  created_at    TIMESTAMPTZ NOT NULL,
  updated_at    TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS calls_created_idx ON calls (created_at DESC)`,
	)
}

const callColumns = `id, external_id, from_number, to_number, direction, department, status, duration,
  recording, transcription, analysis, reply, notes, tags, created_at, updated_at`

func (r *PostgresRepo) UpsertLifecycle(ctx context.Context, c Call) (Call, error) {
	rec, err := jsonArg(c.Recording)
	if err != nil {
		return Call{}, err
	}
	tags, err := jsonArg(c.Tags)
	if err != nil {
		return Call{}, err
	}
	q := `
INSERT INTO calls (
  id, external_id, from_number, to_number, direction, department, status, duration, recording, tags, created_at, updated_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$11
)
ON CONFLICT (external_id) DO UPDATE SET
  from_number = COALESCE(NULLIF(EXCLUDED.from_number, ''), calls.from_number),
  to_number = COALESCE(NULLIF(EXCLUDED.to_number, ''), calls.to_number),
  status = EXCLUDED.status,
  duration = GREATEST(EXCLUDED.duration, calls.duration),
  recording = COALESCE(EXCLUDED.recording, calls.recording),
  updated_at = EXCLUDED.updated_at
RETURNING ` + callColumns
	return scanCall(r.db.QueryRowContext(ctx, q,
		c.ID,
		c.ExternalID,
		c.From,
		c.To,
		string(c.Direction),
		c.Department,
		string(c.Status),
		c.Duration,
		rec,
		tags,
		c.UpdatedAt,
	))
}

func (r *PostgresRepo) SaveStages(ctx context.Context, id string, t *Transcription, a *Analysis, rp *Reply) error {
	tj, err := jsonArg(t)
	if err != nil {
		return err
	}
	aj, err := jsonArg(a)
	if err != nil {
		return err
	}
	rj, err := jsonArg(rp)
	if err != nil {
		return err
	}
	const q = `UPDATE calls SET transcription = $2, analysis = $3, reply = $4, updated_at = now() WHERE id = $1`
	res, err := r.db.ExecContext(ctx, q, id, tj, aj, rj)
	if err != nil {
		return fmt.Errorf("save call stages: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepo) GetByID(ctx context.Context, id string) (Call, error) {
	return r.getOne(ctx, `SELECT `+callColumns+` FROM calls WHERE id = $1`, id)
}

func (r *PostgresRepo) GetByExternalID(ctx context.Context, externalID string) (Call, error) {
	return r.getOne(ctx, `SELECT `+callColumns+` FROM calls WHERE external_id = $1`, externalID)
}

func (r *PostgresRepo) getOne(ctx context.Context, q string, arg any) (Call, error) {
	c, err := scanCall(r.db.QueryRowContext(ctx, q, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Call{}, ErrNotFound
		}
		return Call{}, err
	}
	return c, nil
}

func (r *PostgresRepo) List(ctx context.Context, f ListFilter) ([]Call, int, error) {
	var conds []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	if f.Department != "" {
		add("department = $%d", f.Department)
	}
	if f.Direction != "" {
		add("direction = $%d", string(f.Direction))
	}
	if !f.From.IsZero() {
		add("created_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("created_at < $%d", f.To)
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM calls`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count calls: %w", err)
	}

	q := `SELECT ` + callColumns + ` FROM calls` + where + ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit, f.Offset)
		q += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	}
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list calls: %w", err)
	}
	defer rows.Close()

	var out []Call
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan call: %w", err)
		}
		out = append(out, c)
	}
	return out, total, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCall(s scanner) (Call, error) {
	var (
		c                        Call
		direction, status        string
		rec, tr, an, rp, tagsRaw []byte
	)
	err := s.Scan(
		&c.ID,
		&c.ExternalID,
		&c.From,
		&c.To,
		&direction,
		&c.Department,
		&status,
		&c.Duration,
		&rec,
		&tr,
		&an,
		&rp,
		&c.Notes,
		&tagsRaw,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return Call{}, err
	}
	c.Direction, c.Status = Direction(direction), Status(status)

	if err := decodeJSON(rec, &c.Recording); err != nil {
		return Call{}, err
	}
	if err := decodeJSON(tr, &c.Transcription); err != nil {
		return Call{}, err
	}
	if err := decodeJSON(an, &c.Analysis); err != nil {
		return Call{}, err
	}
	if err := decodeJSON(rp, &c.Reply); err != nil {
		return Call{}, err
	}
	if err := decodeJSON(tagsRaw, &c.Tags); err != nil {
		return Call{}, err
	}
	return c, nil
}

// jsonArg encodes v for a JSONB column; nil pointers become NULL.
func jsonArg[T any](v T) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if string(b) == "null" {
		return nil, nil
	}
	return string(b), nil
}

func decodeJSON(raw []byte, dest any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dest)
}
