package ingestion

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"callintel/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// Store persists the singleton configuration.
type Store interface {
	Load(ctx context.Context) (Config, bool, error)
	Save(ctx context.Context, c Config) error
}

// Snapshot is a durable side copy used to recover the configuration when
// the primary store has no row.
type Snapshot interface {
	Get(ctx context.Context) (Config, bool, error)
	Put(ctx context.Context, c Config) error
}

const configRowID = 1

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	return utils.ExecAll(ctx, s.db, `
CREATE TABLE IF NOT EXISTS ingestion_config (
  id         INT PRIMARY KEY CHECK (id = 1),
  mode       TEXT NOT NULL,
  is_active  BOOLEAN NOT NULL,
  settings   JSONB NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`)
}

type storedSettings struct {
	Socket SocketSettings `json:"socket"`
	HTTP   HTTPSettings   `json:"http"`
}

func (s *PostgresStore) Load(ctx context.Context) (Config, bool, error) {
	const q = `SELECT mode, is_active, settings, updated_at FROM ingestion_config WHERE id = $1`
	var (
		c   Config
		raw []byte
	)
	err := s.db.QueryRowContext(ctx, q, configRowID).Scan(&c.Mode, &c.IsActive, &raw, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Config{}, false, nil
		}
		return Config{}, false, fmt.Errorf("load ingestion config: %w", err)
	}
	var st storedSettings
	if err := json.Unmarshal(raw, &st); err != nil {
		return Config{}, false, fmt.Errorf("decode ingestion settings: %w", err)
	}
	c.Socket, c.HTTP = st.Socket, st.HTTP
	return c, true, nil
}

func (s *PostgresStore) Save(ctx context.Context, c Config) error {
	raw, err := json.Marshal(storedSettings{Socket: c.Socket, HTTP: c.HTTP})
	if err != nil {
		return err
	}
	const q = `
INSERT INTO ingestion_config (id, mode, is_active, settings, updated_at)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (id) DO UPDATE SET
  mode = EXCLUDED.mode,
  is_active = EXCLUDED.is_active,
  settings = EXCLUDED.settings,
  updated_at = EXCLUDED.updated_at
`
	if _, err := s.db.ExecContext(ctx, q, configRowID, string(c.Mode), c.IsActive, raw, c.UpdatedAt); err != nil {
		return fmt.Errorf("save ingestion config: %w", err)
	}
	return nil
}

const snapshotKey = "callintel:ingestion:config"

// RedisSnapshot keeps a JSON copy of the configuration in Redis without expiry.
type RedisSnapshot struct {
	rdb redis.UniversalClient
}

func NewRedisSnapshot(rdb redis.UniversalClient) *RedisSnapshot { return &RedisSnapshot{rdb: rdb} }

func (s *RedisSnapshot) Get(ctx context.Context) (Config, bool, error) {
	var c Config
	found, err := utils.GetJSON(ctx, s.rdb, snapshotKey, &c)
	return c, found, err
}

func (s *RedisSnapshot) Put(ctx context.Context, c Config) error {
	return utils.SetJSON(ctx, s.rdb, snapshotKey, c, 0)
}

// MemoryStore implements Store and Snapshot in memory.
type MemoryStore struct {
	mu  sync.Mutex
	cfg *Config

	// Err is returned by every call when set.
	Err error
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (m *MemoryStore) Load(ctx context.Context) (Config, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return Config{}, false, m.Err
	}
	if m.cfg == nil {
		return Config{}, false, nil
	}
	return *m.cfg, true, nil
}

func (m *MemoryStore) Save(ctx context.Context, c Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.cfg = &c
	return nil
}

func (m *MemoryStore) Get(ctx context.Context) (Config, bool, error) { return m.Load(ctx) }
func (m *MemoryStore) Put(ctx context.Context, c Config) error     { return m.Save(ctx, c) }

