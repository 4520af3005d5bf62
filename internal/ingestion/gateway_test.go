package ingestion

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"callintel/internal/cdr"
	"callintel/pkg/logger"
)

func newTestGateway(t *testing.T, store Store, snap Snapshot, defaults Config) *Gateway {
	t.Helper()
	repo := cdr.NewMemoryRepo()
	sup := NewSupervisor("127.0.0.1", cdr.NewNormalizer(repo, logger.Discard()), logger.Discard())
	t.Cleanup(sup.Stop)
	return NewGateway(store, snap, defaults, sup, logger.Discard())
}

func httpDefaults() Config {
	return Config{
		Mode:     ModeHTTP,
		IsActive: true,
		HTTP:     HTTPSettings{Path: "/api/cdr/ingest", Username: "pbx", Password: "secret"},
	}
}

func TestGateway_SeedsFromDefaults(t *testing.T) {
	store := NewMemoryStore()
	g := newTestGateway(t, store, nil, httpDefaults())

	cfg, err := g.Current(context.Background())
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if cfg.Mode != ModeHTTP || cfg.UpdatedAt.IsZero() {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if _, ok, _ := store.Load(context.Background()); !ok {
		t.Fatalf("expected seeded config to be stored")
	}
}

func TestGateway_PrefersSnapshotOverDefaults(t *testing.T) {
	snap := NewMemoryStore()
	_ = snap.Put(context.Background(), Config{Mode: ModeSocket, IsActive: false, HTTP: HTTPSettings{Path: "/x"}})

	g := newTestGateway(t, NewMemoryStore(), snap, httpDefaults())
	cfg, err := g.Current(context.Background())
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if cfg.Mode != ModeSocket {
		t.Fatalf("expected snapshot config, got %+v", cfg)
	}
}

func TestGateway_UpdateReconcilesListener(t *testing.T) {
	snap := NewMemoryStore()
	g := newTestGateway(t, NewMemoryStore(), snap, httpDefaults())
	ctx := context.Background()

	cur, _ := g.Current(ctx)
	if g.Supervisor().Status().Running {
		t.Fatalf("expected no listener in http mode")
	}

	next := cur
	next.Mode = ModeSocket
	next.HTTP.Password = ""
	saved, err := g.Update(ctx, next)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !g.Supervisor().Status().Running {
		t.Fatalf("expected listener after switching to socket")
	}
	addr := g.Supervisor().Addr().String()
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	if err != nil {
		t.Fatalf("expected socket intake to accept on %s: %v", addr, err)
	}
	_ = conn.Close()
	if saved.HTTP.Password != "secret" {
		t.Fatalf("expected empty password to keep stored one")
	}
	if s, ok, _ := snap.Get(ctx); !ok || s.Mode != ModeSocket {
		t.Fatalf("expected snapshot to follow update, got %+v", s)
	}

	next.Mode = ModeHTTP
	if _, err := g.Update(ctx, next); err != nil {
		t.Fatalf("update: %v", err)
	}
	if g.Supervisor().Status().Running {
		t.Fatalf("expected listener stopped after switching to http")
	}
	if conn, err := net.DialTimeout("tcp", addr, time.Second); err == nil {
		_ = conn.Close()
		t.Fatalf("expected %s to refuse connections in http mode", addr)
	}
}

func TestGateway_UpdateKeepsPreviousConfigWhenBindFails(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer busy.Close()
	busyPort := busy.Addr().(*net.TCPAddr).Port

	store := NewMemoryStore()
	snap := NewMemoryStore()
	g := newTestGateway(t, store, snap, httpDefaults())
	ctx := context.Background()

	cur, _ := g.Current(ctx)
	next := cur
	next.Mode = ModeSocket
	next.Socket.Port = busyPort
	if _, err := g.Update(ctx, next); !errors.Is(err, ErrApply) {
		t.Fatalf("expected ErrApply for a busy port, got %v", err)
	}

	stored, ok, _ := store.Load(ctx)
	if !ok || stored.Mode != ModeHTTP {
		t.Fatalf("expected http mode to stay stored, got %+v", stored)
	}
	if _, ok, _ := snap.Get(ctx); ok {
		t.Fatalf("snapshot must not record a config that was not applied")
	}
	if g.Supervisor().Status().Running {
		t.Fatalf("expected no listener after failed switch")
	}
}

func TestGateway_PortChangeKeepsOldListenerWhenBindFails(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer busy.Close()

	g := newTestGateway(t, NewMemoryStore(), nil, httpDefaults())
	ctx := context.Background()
	cur, _ := g.Current(ctx)

	socket := cur
	socket.Mode = ModeSocket
	socket.Socket.Port = 0
	if _, err := g.Update(ctx, socket); err != nil {
		t.Fatalf("update: %v", err)
	}
	addr := g.Supervisor().Addr().String()

	moved := socket
	moved.Socket.Port = busy.Addr().(*net.TCPAddr).Port
	if _, err := g.Update(ctx, moved); !errors.Is(err, ErrApply) {
		t.Fatalf("expected ErrApply, got %v", err)
	}
	if got := g.Supervisor().Addr(); got == nil || got.String() != addr {
		t.Fatalf("expected old listener %s to keep serving, got %v", addr, got)
	}
}

func TestGateway_UpdateRejectsInvalidMode(t *testing.T) {
	g := newTestGateway(t, NewMemoryStore(), nil, httpDefaults())
	_, err := g.Update(context.Background(), Config{Mode: "ftp"})
	if !errors.Is(err, ErrInvalidMode) {
		t.Fatalf("expected ErrInvalidMode, got %v", err)
	}
}

func TestGateway_StoreErrorPropagates(t *testing.T) {
	store := NewMemoryStore()
	store.Err = errors.New("db down")
	g := newTestGateway(t, store, nil, httpDefaults())
	if _, err := g.Current(context.Background()); err == nil {
		t.Fatalf("expected store error")
	}
}

var (
	_ Store    = (*PostgresStore)(nil)
	_ Store    = (*MemoryStore)(nil)
	_ Snapshot = (*RedisSnapshot)(nil)
)
