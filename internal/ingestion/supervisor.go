package ingestion

import (
	"log/slog"
	"net"
	"sync"
)

// Supervisor owns the lifecycle of the socket listener.
// At most one listener runs at a time.
type Supervisor struct {
	mu       sync.Mutex
	host     string
	ingest   LineIngester
	log      *slog.Logger
	listener *Listener
}

func NewSupervisor(host string, ingest LineIngester, log *slog.Logger) *Supervisor {
	return &Supervisor{host: host, ingest: ingest, log: log}
}

type SocketStatus struct {
	Running bool   `json:"running"`
	Port    int    `json:"port,omitempty"`
	Addr    string `json:"addr,omitempty"`
}

func (s *Supervisor) Status() SocketStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return SocketStatus{}
	}
	return SocketStatus{Running: true, Port: s.listener.port, Addr: s.listener.Addr().String()}
}

// Addr returns the bound address of the running listener, or nil.
func (s *Supervisor) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Start runs a listener on port. Starting on the port already served only
// refreshes the allowlist; a different port replaces the listener once the
// new port is bound.
func (s *Supervisor) Start(port int, allow *Allowlist) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil && s.listener.port == port {
		s.listener.SetAllowlist(allow)
		return nil
	}

	// Bind the new port before dropping the old one so a failed bind keeps
	// the current listener serving.
	l, err := listen(s.host, port, allow, s.ingest, s.log)
	if err != nil {
		return err
	}
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.listener = l
	return nil
}

// Stop closes the running listener, if any.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return
	}
	_ = s.listener.Close()
	s.listener = nil
}

// Reconcile brings the running surfaces in line with cfg.
func (s *Supervisor) Reconcile(cfg Config) error {
	if cfg.Mode != ModeSocket || !cfg.IsActive {
		s.Stop()
		return nil
	}
	allow, err := ParseAllowlist(cfg.Socket.AllowedIPs)
	if err != nil {
		return err
	}
	return s.Start(cfg.Socket.Port, allow)
}
