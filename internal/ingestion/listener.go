package ingestion

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// maxSocketLine bounds one record line; a longer line drops the connection.
const maxSocketLine = 1 << 20

var errPartialLine = errors.New("ingestion: partial line at close")

// LineIngester consumes one newline-delimited record.
type LineIngester interface {
	IngestLine(ctx context.Context, line []byte) error
}

// Listener accepts persistent TCP connections carrying newline-delimited JSON records.
type Listener struct {
	ln     net.Listener
	port   int
	ingest LineIngester
	log    *slog.Logger
	allow  atomic.Pointer[Allowlist]

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

func listen(host string, port int, allow *Allowlist, ingest LineIngester, log *slog.Logger) (*Listener, error) {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, fmt.Sprint(port)))
	if err != nil {
		return nil, fmt.Errorf("listen on port %d: %w", port, err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	l := &Listener{
		ln:     ln,
		port:   port,
		ingest: ingest,
		log:    log,
		ctx:    ctx,
		cancel: cancel,
		conns:  map[net.Conn]struct{}{},
	}
	l.allow.Store(allow)

	l.wg.Add(1)
	go l.serve()
	return l, nil
}

func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// SetAllowlist swaps the allowlist for connections accepted from now on.
func (l *Listener) SetAllowlist(a *Allowlist) { l.allow.Store(a) }

func (l *Listener) serve() {
	defer l.wg.Done()
	l.log.Info("cdr socket listening", "addr", l.ln.Addr().String())

	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if l.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			l.log.Warn("cdr socket accept failed", "err", err)
			time.Sleep(100 * time.Millisecond)
			continue
		}

		peer := conn.RemoteAddr().String()
		if !l.allow.Load().Allows(peer) {
			l.log.Warn("cdr socket peer rejected", "peer", peer)
			_ = conn.Close()
			continue
		}

		l.mu.Lock()
		l.conns[conn] = struct{}{}
		l.mu.Unlock()

		l.wg.Add(1)
		go l.handle(conn)
	}
}

func (l *Listener) handle(conn net.Conn) {
	defer l.wg.Done()
	defer func() {
		l.mu.Lock()
		delete(l.conns, conn)
		l.mu.Unlock()
		_ = conn.Close()
	}()

	peer := conn.RemoteAddr().String()
	log := l.log.With("peer", peer)
	log.Info("cdr socket connected")

	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 0, 64<<10), maxSocketLine)
	sc.Split(splitRecords)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		if err := l.ingest.IngestLine(l.ctx, line); err != nil {
			log.Warn("cdr line rejected", "err", err)
		}
	}

	switch err := sc.Err(); {
	case err == nil, l.ctx.Err() != nil:
		log.Info("cdr socket closed")
	case errors.Is(err, errPartialLine):
		log.Warn("cdr socket partial line discarded")
	case errors.Is(err, bufio.ErrTooLong):
		log.Warn("cdr socket line exceeds limit, connection dropped", "limit", maxSocketLine)
	default:
		log.Warn("cdr socket read failed", "err", err)
	}
}

// splitRecords yields newline-terminated lines. Bytes left without a newline
// when the peer closes are an incomplete record and end the scan with
// errPartialLine.
func splitRecords(data []byte, atEOF bool) (int, []byte, error) {
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		return i + 1, data[:i], nil
	}
	if !atEOF {
		return 0, nil, nil
	}
	if len(bytes.TrimSpace(data)) > 0 {
		return len(data), nil, errPartialLine
	}
	return len(data), nil, nil
}

// Close stops accepting, closes open connections and waits for handlers to exit.
func (l *Listener) Close() error {
	l.cancel()
	err := l.ln.Close()

	l.mu.Lock()
	for c := range l.conns {
		_ = c.Close()
	}
	l.mu.Unlock()

	l.wg.Wait()
	l.log.Info("cdr socket stopped", "port", l.port)
	return err
}
