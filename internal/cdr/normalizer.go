package cdr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Result counts what a batch did.
type Result struct {
	Processed int `json:"processed"`
	Skipped   int `json:"skipped"`
}

// Normalizer maps loosely-typed payloads onto Record and upserts them.
type Normalizer struct {
	repo  Repository
	log   *slog.Logger
	clock func() time.Time
}

func NewNormalizer(repo Repository, log *slog.Logger) *Normalizer {
	return &Normalizer{repo: repo, log: log, clock: time.Now}
}

// IngestLine parses one newline-delimited JSON record.
func (n *Normalizer) IngestLine(ctx context.Context, line []byte) error {
	var payload map[string]any
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	rec, err := n.Normalize(payload)
	if err != nil {
		return err
	}
	return n.repo.Upsert(ctx, rec)
}

// IngestBatch normalizes and upserts each payload in order.
// Malformed payloads are logged and skipped. A storage error stops the batch;
// records already written stay written.
func (n *Normalizer) IngestBatch(ctx context.Context, payloads []map[string]any) (Result, error) {
	var res Result
	for i, p := range payloads {
		rec, err := n.Normalize(p)
		if err != nil {
			res.Skipped++
			n.log.Warn("cdr skipped", "index", i, "err", err)
			continue
		}
		if err := n.repo.Upsert(ctx, rec); err != nil {
			return res, fmt.Errorf("upsert %s: %w", rec.UniqueID, err)
		}
		res.Processed++
	}
	return res, nil
}

// Normalize converts a payload to a Record without touching storage.
func (n *Normalizer) Normalize(p map[string]any) (Record, error) {
	if p == nil {
		return Record{}, fmt.Errorf("%w: empty payload", ErrMalformedRecord)
	}
	now := n.clock().UTC()

	r := Record{
		UniqueID:    str(p["uniqueid"]),
		Src:         str(p["src"]),
		Dst:         str(p["dst"]),
		Disposition: strings.ToUpper(str(p["disposition"])),
		ActionType:  str(p["action_type"]),
		AccountCode: str(p["accountcode"]),
		Channel:     str(p["channel"]),
		DContext:    str(p["dcontext"]),
		DstChannel:  str(p["dstchannel"]),
		LastApp:     str(p["lastapp"]),
		LastData:    str(p["lastdata"]),
		UserField:   str(p["userfield"]),
	}

	var err error
	if r.Duration, err = num(p, "duration"); err != nil {
		return Record{}, err
	}
	if r.BillSec, err = num(p, "billsec"); err != nil {
		return Record{}, err
	}
	if r.AMAFlags, err = amaFlags(p["amaflags"]); err != nil {
		return Record{}, err
	}

	r.Start = now
	if s := str(p["start"]); s != "" {
		t, err := parseTime(s)
		if err != nil {
			return Record{}, fmt.Errorf("%w: start %q", ErrMalformedRecord, s)
		}
		r.Start = t
	}

	if r.UniqueID == "" {
		r.UniqueID = fmt.Sprintf("%s-%s-%d-%s", r.Src, r.Dst, now.UnixMilli(), uuid.NewString()[:8])
	}
	return r, nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

func parseTime(s string) (time.Time, error) {
	for _, l := range timeLayouts {
		if t, err := time.Parse(l, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported time %q", s)
}

func str(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(x)
	case json.Number:
		return x.String()
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		return strings.TrimSpace(fmt.Sprint(x))
	}
}

// num reads an integer field. Absent or empty values are 0.
func num(p map[string]any, key string) (int, error) {
	switch x := p[key].(type) {
	case nil:
		return 0, nil
	case float64:
		return int(math.Round(x)), nil
	case int:
		return x, nil
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return 0, fmt.Errorf("%w: %s", ErrMalformedRecord, key)
		}
		return int(math.Round(f)), nil
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return 0, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %s=%q", ErrMalformedRecord, key, s)
		}
		return int(math.Round(f)), nil
	default:
		return 0, fmt.Errorf("%w: %s has type %T", ErrMalformedRecord, key, x)
	}
}

func amaFlags(v any) (int, error) {
	if s, ok := v.(string); ok {
		switch strings.ToUpper(strings.TrimSpace(s)) {
		case "OMIT":
			return AMAOmit, nil
		case "BILLING":
			return AMABilling, nil
		case "DOCUMENTATION":
			return AMADocumentation, nil
		}
	}
	return num(map[string]any{"amaflags": v}, "amaflags")
}
