package pipeline

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Start launches the worker pool. Runs use ctx until Stop cancels it.
func (p *Pipeline) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p.mu.Lock()
	p.cancel = cancel
	p.mu.Unlock()

	for i := 0; i < p.opts.Workers; i++ {
		p.wg.Add(1)
		go func(id int) {
			defer p.wg.Done()
			for j := range p.jobs {
				p.work(runCtx, id, j)
			}
		}(i)
	}
	p.log.Info("pipeline workers started", "workers", p.opts.Workers, "queue_size", p.opts.QueueSize)
}

func (p *Pipeline) work(ctx context.Context, worker int, j job) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("pipeline worker panic", "worker", worker, "call_id", j.callID, "panic", r)
		}
		p.release(j.lock, j.callID)
	}()
	if err := p.execute(ctx, j); err != nil && !errors.Is(err, ErrAlreadyProcessed) {
		p.log.Warn("pipeline job failed", "worker", worker, "call_id", j.callID, "err", err)
	}
}

// Stop refuses new work and waits for queued runs. When ctx expires first,
// in-flight runs are cancelled.
func (p *Pipeline) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.jobs)
	cancel := p.cancel
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if cancel != nil {
			cancel()
		}
		<-done
		return ctx.Err()
	}
	if cancel != nil {
		cancel()
	}
	return nil
}

// submit takes the per-call lock and hands the job to the pool. The worker
// releases the lock when the run ends.
func (p *Pipeline) submit(ctx context.Context, j job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrStopped
	}

	lock, err := p.Locker.Obtain(ctx, j.callID, p.opts.LockTTL)
	if err != nil {
		return err
	}
	j.lock = lock
	select {
	case p.jobs <- j:
		return nil
	default:
		p.release(lock, j.callID)
		return ErrQueueFull
	}
}

// Pending is the number of jobs waiting for a worker.
func (p *Pipeline) Pending() int { return len(p.jobs) }

type BatchFailure struct {
	CallID string `json:"callId"`
	Error  string `json:"error"`
}

type BatchResult struct {
	Successful []string       `json:"successful"`
	Failed     []BatchFailure `json:"failed"`
}

// ProcessBatch runs each call synchronously and independently, bounded by
// the worker count. One failure never stops the others.
func (p *Pipeline) ProcessBatch(ctx context.Context, callIDs []string, force bool) BatchResult {
	res := BatchResult{Successful: []string{}, Failed: []BatchFailure{}}
	var mu sync.Mutex
	seen := make(map[string]bool, len(callIDs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Workers)
	for _, id := range callIDs {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		g.Go(func() error {
			err := p.RunNow(gctx, id, force)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Failed = append(res.Failed, BatchFailure{CallID: id, Error: err.Error()})
				return nil
			}
			res.Successful = append(res.Successful, id)
			return nil
		})
	}
	_ = g.Wait()
	return res
}
