package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// Locker serializes pipeline runs per call id.
type Locker interface {
	Obtain(ctx context.Context, callID string, ttl time.Duration) (Lock, error)
}

type Lock interface {
	Release(ctx context.Context) error
}

const lockPrefix = "callintel:pipeline:"

// RedisLocker holds per-call locks in Redis so they span processes.
type RedisLocker struct {
	client *redislock.Client
}

func NewRedisLocker(rdb redis.UniversalClient) *RedisLocker {
	return &RedisLocker{client: redislock.New(rdb)}
}

func (l *RedisLocker) Obtain(ctx context.Context, callID string, ttl time.Duration) (Lock, error) {
	lock, err := l.client.Obtain(ctx, lockPrefix+callID, ttl, nil)
	if err != nil {
		if errors.Is(err, redislock.ErrNotObtained) {
			return nil, ErrBusy
		}
		return nil, err
	}
	return lock, nil
}

// LocalLocker is a process-local Locker. TTL is ignored.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewLocalLocker() *LocalLocker { return &LocalLocker{held: map[string]struct{}{}} }

func (l *LocalLocker) Obtain(ctx context.Context, callID string, ttl time.Duration) (Lock, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[callID]; ok {
		return nil, ErrBusy
	}
	l.held[callID] = struct{}{}
	return &localLock{owner: l, key: callID}, nil
}

type localLock struct {
	owner *LocalLocker
	key   string
	once  sync.Once
}

func (k *localLock) Release(ctx context.Context) error {
	k.once.Do(func() {
		k.owner.mu.Lock()
		delete(k.owner.held, k.key)
		k.owner.mu.Unlock()
	})
	return nil
}
