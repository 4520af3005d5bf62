package cdr

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"callintel/pkg/utils"
)

// Repository is the persistence contract for call detail records.
type Repository interface {
	// Upsert inserts r or overwrites the row with the same UniqueID.
	Upsert(ctx context.Context, r Record) error
	Get(ctx context.Context, uniqueID string) (Record, error)
	// Query returns one page ordered by Start descending, the total count and
	// a disposition histogram for the filtered set.
	Query(ctx context.Context, f Filter, limit, offset int) (records []Record, total int, dispositions map[string]int, err error)
	Ping(ctx context.Context) error
}

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

const schema = `
CREATE TABLE IF NOT EXISTS call_records (
  uniqueid     TEXT PRIMARY KEY,
  start        TIMESTAMPTZ NOT NULL,
  src          TEXT NOT NULL DEFAULT '',
  dst          TEXT NOT NULL DEFAULT '',
  disposition  TEXT NOT NULL DEFAULT '',
  duration     INT NOT NULL DEFAULT 0,
  billsec      INT NOT NULL DEFAULT 0,
  action_type  TEXT NOT NULL DEFAULT '',
  accountcode  TEXT NOT NULL DEFAULT '',
  channel      TEXT NOT NULL DEFAULT '',
  dcontext     TEXT NOT NULL DEFAULT '',
  dstchannel   TEXT NOT NULL DEFAULT '',
  lastapp      TEXT NOT NULL DEFAULT '',
  lastdata     TEXT NOT NULL DEFAULT '',
  amaflags     INT NOT NULL DEFAULT 0,
  userfield    TEXT NOT NULL DEFAULT '',
  created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
)`

const startIndex = `CREATE INDEX IF NOT EXISTS call_records_start_idx ON call_records (start DESC)`

func (r *PostgresRepo) EnsureSchema(ctx context.Context) error {
	return utils.ExecAll(ctx, r.db, schema, startIndex)
}

func (r *PostgresRepo) Ping(ctx context.Context) error {
	return utils.HealthCheck(ctx, r.db, 2*time.Second)
}

func (r *PostgresRepo) Upsert(ctx context.Context, rec Record) error {
	const q = `
INSERT INTO call_records (
  uniqueid, start, src, dst, disposition, duration, billsec, action_type, accountcode,
  channel, dcontext, dstchannel, lastapp, lastdata, amaflags, userfield
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16
)
ON CONFLICT (uniqueid) DO UPDATE SET
  start = EXCLUDED.start,
  src = EXCLUDED.src,
  dst = EXCLUDED.dst,
  disposition = EXCLUDED.disposition,
  duration = EXCLUDED.duration,
  billsec = EXCLUDED.billsec,
  action_type = EXCLUDED.action_type,
  accountcode = EXCLUDED.accountcode,
  channel = EXCLUDED.channel,
  dcontext = EXCLUDED.dcontext,
  dstchannel = EXCLUDED.dstchannel,
  lastapp = EXCLUDED.lastapp,
  lastdata = EXCLUDED.lastdata,
  amaflags = EXCLUDED.amaflags,
  userfield = EXCLUDED.userfield,
  updated_at = now()
`
	_, err := r.db.ExecContext(ctx, q,
		rec.UniqueID,
		rec.Start,
		rec.Src,
		rec.Dst,
		rec.Disposition,
		rec.Duration,
		rec.BillSec,
		rec.ActionType,
		rec.AccountCode,
		rec.Channel,
		rec.DContext,
		rec.DstChannel,
		rec.LastApp,
		rec.LastData,
		rec.AMAFlags,
		rec.UserField,
	)
	if err != nil {
		return fmt.Errorf("upsert call record: %w", err)
	}
	return nil
}

const selectColumns = `uniqueid, start, src, dst, disposition, duration, billsec, action_type, accountcode,
  channel, dcontext, dstchannel, lastapp, lastdata, amaflags, userfield, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (Record, error) {
	var rec Record
	err := s.Scan(
		&rec.UniqueID,
		&rec.Start,
		&rec.Src,
		&rec.Dst,
		&rec.Disposition,
		&rec.Duration,
		&rec.BillSec,
		&rec.ActionType,
		&rec.AccountCode,
		&rec.Channel,
		&rec.DContext,
		&rec.DstChannel,
		&rec.LastApp,
		&rec.LastData,
		&rec.AMAFlags,
		&rec.UserField,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	return rec, err
}

func (r *PostgresRepo) Get(ctx context.Context, uniqueID string) (Record, error) {
	q := `SELECT ` + selectColumns + ` FROM call_records WHERE uniqueid = $1`
	rec, err := scanRecord(r.db.QueryRowContext(ctx, q, uniqueID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("get call record: %w", err)
	}
	return rec, nil
}

// whereClause builds the filter predicate with positional placeholders.
func whereClause(f Filter) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.Src != "" {
		add("src ILIKE $%d", "%"+f.Src+"%")
	}
	if f.Dst != "" {
		add("dst ILIKE $%d", "%"+f.Dst+"%")
	}
	if f.Disposition != "" {
		add("disposition = $%d", f.Disposition)
	}
	if f.ActionType != "" {
		add("action_type ILIKE $%d", "%"+f.ActionType+"%")
	}
	if !f.From.IsZero() {
		add("start >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("start < $%d", f.To)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// Query runs the count, page and histogram in one read-only snapshot so the
// three agree under concurrent ingestion.
func (r *PostgresRepo) Query(ctx context.Context, f Filter, limit, offset int) ([]Record, int, map[string]int, error) {
	where, args := whereClause(f)

	var (
		total int
		out   = make([]Record, 0, limit)
		disp  = map[string]int{}
	)
	opts := &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}
	err := utils.WithTx(ctx, r.db, opts, func(ctx context.Context, tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM call_records`+where, args...).Scan(&total); err != nil {
			return fmt.Errorf("count call records: %w", err)
		}

		pageArgs := append(append([]any{}, args...), limit, offset)
		q := fmt.Sprintf(`SELECT %s FROM call_records%s ORDER BY start DESC, uniqueid LIMIT $%d OFFSET $%d`,
			selectColumns, where, len(args)+1, len(args)+2)
		rows, err := tx.QueryContext(ctx, q, pageArgs...)
		if err != nil {
			return fmt.Errorf("query call records: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			rec, err := scanRecord(rows)
			if err != nil {
				return fmt.Errorf("scan call record: %w", err)
			}
			out = append(out, rec)
		}
		if err := rows.Err(); err != nil {
			return err
		}

		drows, err := tx.QueryContext(ctx, `SELECT disposition, COUNT(*) FROM call_records`+where+` GROUP BY disposition`, args...)
		if err != nil {
			return fmt.Errorf("group dispositions: %w", err)
		}
		defer drows.Close()
		for drows.Next() {
			var d string
			var n int
			if err := drows.Scan(&d, &n); err != nil {
				return err
			}
			disp[d] = n
		}
		return drows.Err()
	})
	if err != nil {
		return nil, 0, nil, err
	}
	return out, total, disp, nil
}

// truncateDay returns midnight UTC of t.
func truncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
