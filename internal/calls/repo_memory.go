package calls

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo is an in-memory Repository for tests and local development.
type MemoryRepo struct {
	mu    sync.Mutex
	byID  map[string]Call
	extID map[string]string
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{byID: map[string]Call{}, extID: map[string]string{}}
}

func (r *MemoryRepo) UpsertLifecycle(ctx context.Context, c Call) (Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.extID[c.ExternalID]
	if !ok {
		if c.CreatedAt.IsZero() {
			c.CreatedAt = c.UpdatedAt
		}
		r.byID[c.ID] = clone(c)
		r.extID[c.ExternalID] = c.ID
		return clone(c), nil
	}

	cur := r.byID[id]
	if c.From != "" {
		cur.From = c.From
	}
	if c.To != "" {
		cur.To = c.To
	}
	cur.Status = c.Status
	if c.Duration > cur.Duration {
		cur.Duration = c.Duration
	}
	if c.Recording != nil {
		rec := *c.Recording
		cur.Recording = &rec
	}
	cur.UpdatedAt = c.UpdatedAt
	r.byID[id] = cur
	return clone(cur), nil
}

func (r *MemoryRepo) SaveStages(ctx context.Context, id string, t *Transcription, a *Analysis, rp *Reply) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.byID[id]
	if !ok {
		return ErrNotFound
	}
	cur.Transcription, cur.Analysis, cur.Reply = t, a, rp
	cur.UpdatedAt = time.Now().UTC()
	r.byID[id] = clone(cur)
	return nil
}

func (r *MemoryRepo) GetByID(ctx context.Context, id string) (Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[id]
	if !ok {
		return Call{}, ErrNotFound
	}
	return clone(c), nil
}

func (r *MemoryRepo) GetByExternalID(ctx context.Context, externalID string) (Call, error) {
	r.mu.Lock()
	id, ok := r.extID[externalID]
	r.mu.Unlock()
	if !ok {
		return Call{}, ErrNotFound
	}
	return r.GetByID(ctx, id)
}

func (r *MemoryRepo) List(ctx context.Context, f ListFilter) ([]Call, int, error) {
	r.mu.Lock()
	var out []Call
	for _, c := range r.byID {
		if f.Status != "" && c.Status != f.Status {
			continue
		}
		if f.Department != "" && c.Department != f.Department {
			continue
		}
		if f.Direction != "" && c.Direction != f.Direction {
			continue
		}
		if !f.From.IsZero() && c.CreatedAt.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && !c.CreatedAt.Before(f.To) {
			continue
		}
		out = append(out, clone(c))
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	total := len(out)
	if f.Limit > 0 {
		if f.Offset >= total {
			return []Call{}, total, nil
		}
		end := f.Offset + f.Limit
		if end > total {
			end = total
		}
		out = out[f.Offset:end]
	}
	return out, total, nil
}

// clone copies nested pointers so callers cannot mutate stored state.
func clone(c Call) Call {
	if c.Recording != nil {
		v := *c.Recording
		c.Recording = &v
	}
	if c.Transcription != nil {
		v := *c.Transcription
		c.Transcription = &v
	}
	if c.Analysis != nil {
		v := *c.Analysis
		v.SuggestedActions = append([]string(nil), v.SuggestedActions...)
		v.Keywords = append([]string(nil), v.Keywords...)
		c.Analysis = &v
	}
	if c.Reply != nil {
		v := *c.Reply
		c.Reply = &v
	}
	c.Tags = append([]string(nil), c.Tags...)
	return c
}
