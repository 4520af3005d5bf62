package reporting

import (
	"context"
	"sync"
	"time"

	"callintel/internal/calls"
)

// CallsRepo reads the window straight from the calls repository.
type CallsRepo struct {
	calls calls.Repository
}

func NewCallsRepo(r calls.Repository) *CallsRepo { return &CallsRepo{calls: r} }

func (r *CallsRepo) ListCalls(ctx context.Context, from, to time.Time, department string) ([]calls.Call, error) {
	rows, _, err := r.calls.List(ctx, calls.ListFilter{From: from, To: to, Department: department})
	return rows, err
}

// MemoryRepo is a simple in-memory reporting repository for tests.
type MemoryRepo struct {
	mu    sync.Mutex
	Calls []calls.Call
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) ListCalls(ctx context.Context, from, to time.Time, department string) ([]calls.Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]calls.Call, 0)
	for _, c := range r.Calls {
		if !c.CreatedAt.IsZero() {
			if c.CreatedAt.Before(from) || !c.CreatedAt.Before(to) {
				continue
			}
		}
		if department != "" && c.Department != department {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}
