package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Gateway resolves the active configuration and keeps the intake surfaces
// consistent with it.
type Gateway struct {
	store      Store
	snapshot   Snapshot
	defaults   Config
	supervisor *Supervisor
	log        *slog.Logger
	clock      func() time.Time

	// mu serializes seeding and updates.
	mu sync.Mutex
}

func NewGateway(store Store, snapshot Snapshot, defaults Config, sup *Supervisor, log *slog.Logger) *Gateway {
	return &Gateway{
		store:      store,
		snapshot:   snapshot,
		defaults:   defaults,
		supervisor: sup,
		log:        log,
		clock:      time.Now,
	}
}

func (g *Gateway) Supervisor() *Supervisor { return g.supervisor }

// Current returns the active configuration, creating it on first use, and
// reconciles the socket listener against it.
func (g *Gateway) Current(ctx context.Context) (Config, error) {
	cfg, err := g.load(ctx)
	if err != nil {
		return Config{}, err
	}
	if err := g.supervisor.Reconcile(cfg); err != nil {
		g.log.Error("ingestion reconcile failed", "mode", cfg.Mode, "err", err)
	}
	return cfg, nil
}

func (g *Gateway) load(ctx context.Context) (Config, error) {
	if cfg, ok, err := g.store.Load(ctx); err != nil || ok {
		return cfg, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	// Another caller may have seeded while we waited.
	if cfg, ok, err := g.store.Load(ctx); err != nil || ok {
		return cfg, err
	}

	cfg := g.defaults
	source := "defaults"
	if g.snapshot != nil {
		snap, ok, err := g.snapshot.Get(ctx)
		if err != nil {
			g.log.Warn("ingestion snapshot unavailable", "err", err)
		} else if ok && snap.Validate() == nil {
			cfg, source = snap, "snapshot"
		}
	}
	cfg.UpdatedAt = g.clock().UTC()
	if err := g.store.Save(ctx, cfg); err != nil {
		return Config{}, err
	}
	g.log.Info("ingestion config seeded", "source", source, "mode", cfg.Mode)
	return cfg, nil
}

// Update applies cfg to the running surfaces and stores it only when that
// succeeded. A failed apply leaves the previous configuration both stored and
// running. An empty HTTP password keeps the stored one.
func (g *Gateway) Update(ctx context.Context, cfg Config) (Config, error) {
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	prev, ok, err := g.store.Load(ctx)
	if err != nil {
		return Config{}, err
	}
	if ok && cfg.HTTP.Password == "" {
		cfg.HTTP.Password = prev.HTTP.Password
	}
	cfg.UpdatedAt = g.clock().UTC()

	if err := g.supervisor.Reconcile(cfg); err != nil {
		g.restore(prev, ok)
		return Config{}, fmt.Errorf("%w: %v", ErrApply, err)
	}
	if err := g.store.Save(ctx, cfg); err != nil {
		g.restore(prev, ok)
		return Config{}, err
	}

	if g.snapshot != nil {
		if err := g.snapshot.Put(ctx, cfg); err != nil {
			g.log.Warn("ingestion snapshot write failed", "err", err)
		}
	}
	g.log.Info("ingestion config updated", "mode", cfg.Mode, "active", cfg.IsActive)
	return cfg, nil
}

// restore puts the running surfaces back to the stored configuration.
func (g *Gateway) restore(prev Config, ok bool) {
	if !ok {
		prev = g.defaults
	}
	if err := g.supervisor.Reconcile(prev); err != nil {
		g.log.Error("ingestion restore failed", "mode", prev.Mode, "err", err)
	}
}
