package cdr

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"callintel/pkg/logger"
)

func fixedNormalizer(repo Repository) *Normalizer {
	n := NewNormalizer(repo, logger.Discard())
	n.clock = func() time.Time { return time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC) }
	return n
}

func TestIngestBatch_IdempotentUpsert(t *testing.T) {
	repo := NewMemoryRepo()
	n := fixedNormalizer(repo)
	ctx := context.Background()

	first := map[string]any{"uniqueid": "abc-1", "src": "1001", "dst": "6300", "billsec": 4.0, "disposition": "ANSWERED"}
	second := map[string]any{"uniqueid": "abc-1", "src": "1001", "dst": "6300", "billsec": "9", "disposition": "no answer"}

	if _, err := n.IngestBatch(ctx, []map[string]any{first}); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	res, err := n.IngestBatch(ctx, []map[string]any{second})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if res.Processed != 1 {
		t.Fatalf("expected 1 processed, got %+v", res)
	}
	if repo.Len() != 1 {
		t.Fatalf("expected exactly one stored record, got %d", repo.Len())
	}
	got, _ := repo.Get(ctx, "abc-1")
	if got.BillSec != 9 || got.Disposition != "NO ANSWER" {
		t.Fatalf("expected second payload to win, got %+v", got)
	}
}

func TestNormalize_DefaultsAndSynthesizedID(t *testing.T) {
	n := fixedNormalizer(NewMemoryRepo())
	rec, err := n.Normalize(map[string]any{"src": "1001", "dst": "2002"})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if rec.Duration != 0 || rec.BillSec != 0 || rec.AMAFlags != 0 {
		t.Fatalf("expected numeric defaults of 0, got %+v", rec)
	}
	prefix := "1001-2002-1704110400000-"
	if !strings.HasPrefix(rec.UniqueID, prefix) || len(rec.UniqueID) != len(prefix)+8 {
		t.Fatalf("expected synthesized id with prefix %q, got %q", prefix, rec.UniqueID)
	}
	if !rec.Start.Equal(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected start to default to now, got %v", rec.Start)
	}
}

func TestIngestBatch_RecordsWithoutIDDoNotCollide(t *testing.T) {
	repo := NewMemoryRepo()
	n := fixedNormalizer(repo)

	res, err := n.IngestBatch(context.Background(), []map[string]any{
		{"src": "1001", "dst": "2002", "billsec": 3},
		{"src": "1001", "dst": "2002", "billsec": 7},
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if res.Processed != 2 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if repo.Len() != 2 {
		t.Fatalf("expected two stored records from the same instant, got %d", repo.Len())
	}
}

func TestNormalize_ParsesTimestampsAndFlags(t *testing.T) {
	n := fixedNormalizer(NewMemoryRepo())
	rec, err := n.Normalize(map[string]any{"start": "2024-01-01 10:00:00", "amaflags": "DOCUMENTATION"})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if rec.Start.Hour() != 10 || rec.AMAFlags != AMADocumentation {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestIngestBatch_SkipsMalformedRecords(t *testing.T) {
	repo := NewMemoryRepo()
	n := fixedNormalizer(repo)

	res, err := n.IngestBatch(context.Background(), []map[string]any{
		{"uniqueid": "a", "duration": "abc"},
		{"uniqueid": "b", "start": "yesterday"},
		{"uniqueid": "c", "duration": 3},
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if res.Processed != 1 || res.Skipped != 2 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestIngestBatch_StorageFailureStops(t *testing.T) {
	repo := NewMemoryRepo()
	repo.FailUpserts = errors.New("db down")
	n := fixedNormalizer(repo)

	if _, err := n.IngestBatch(context.Background(), []map[string]any{{"uniqueid": "a"}}); err == nil {
		t.Fatalf("expected storage error")
	}
}

func TestIngestLine(t *testing.T) {
	repo := NewMemoryRepo()
	n := fixedNormalizer(repo)
	ctx := context.Background()

	if err := n.IngestLine(ctx, []byte(`{"uniqueid":"x1","duration":12}`)); err != nil {
		t.Fatalf("ingest line: %v", err)
	}
	if err := n.IngestLine(ctx, []byte(`{not json`)); !errors.Is(err, ErrMalformedRecord) {
		t.Fatalf("expected malformed error, got %v", err)
	}
	got, err := repo.Get(ctx, "x1")
	if err != nil || got.Duration != 12 {
		t.Fatalf("unexpected record %+v err=%v", got, err)
	}
}
