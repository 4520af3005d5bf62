package cdr

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryRepo is an in-memory Repository for tests and local development.
type MemoryRepo struct {
	mu      sync.Mutex
	records map[string]Record

	// FailUpserts makes Upsert return this error when set.
	FailUpserts error
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{records: map[string]Record{}} }

func (r *MemoryRepo) Ping(ctx context.Context) error { return nil }

func (r *MemoryRepo) Upsert(ctx context.Context, rec Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailUpserts != nil {
		return r.FailUpserts
	}
	now := time.Now().UTC()
	if prev, ok := r.records[rec.UniqueID]; ok {
		rec.CreatedAt = prev.CreatedAt
	} else {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	r.records[rec.UniqueID] = rec
	return nil
}

func (r *MemoryRepo) Get(ctx context.Context, uniqueID string) (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[uniqueID]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (r *MemoryRepo) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

func (r *MemoryRepo) Query(ctx context.Context, f Filter, limit, offset int) ([]Record, int, map[string]int, error) {
	r.mu.Lock()
	matched := make([]Record, 0, len(r.records))
	for _, rec := range r.records {
		if matches(rec, f) {
			matched = append(matched, rec)
		}
	}
	r.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].Start.Equal(matched[j].Start) {
			return matched[i].UniqueID < matched[j].UniqueID
		}
		return matched[i].Start.After(matched[j].Start)
	})

	disp := map[string]int{}
	for _, rec := range matched {
		disp[rec.Disposition]++
	}

	total := len(matched)
	if offset < 0 || offset >= total {
		return []Record{}, total, disp, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return matched[offset:end], total, disp, nil
}

func matches(rec Record, f Filter) bool {
	if f.Src != "" && !containsFold(rec.Src, f.Src) {
		return false
	}
	if f.Dst != "" && !containsFold(rec.Dst, f.Dst) {
		return false
	}
	if f.Disposition != "" && rec.Disposition != f.Disposition {
		return false
	}
	if f.ActionType != "" && !containsFold(rec.ActionType, f.ActionType) {
		return false
	}
	if !f.From.IsZero() && rec.Start.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !rec.Start.Before(f.To) {
		return false
	}
	return true
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}
