package cache

import (
	"context"
	"strconv"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryBackend is a process-local Backend for single-instance deployments
// and tests. The mutex makes IncrWithWindow atomic per backend.
type MemoryBackend struct {
	mu    sync.Mutex
	items *gocache.Cache
}

// NewMemoryBackend creates a memory backend that purges expired keys every
// cleanupInterval
func NewMemoryBackend(cleanupInterval time.Duration) *MemoryBackend {
	return &MemoryBackend{
		items: gocache.New(gocache.NoExpiration, cleanupInterval),
	}
}

func (m *MemoryBackend) GetWithTTL(ctx context.Context, key string) ([]byte, time.Duration, bool, error) {
	val, expiresAt, found := m.items.GetWithExpiration(key)
	if !found {
		return nil, 0, false, nil
	}
	var ttl time.Duration
	if !expiresAt.IsZero() {
		ttl = time.Until(expiresAt)
		if ttl <= 0 {
			return nil, 0, false, nil
		}
	}
	return clone(val.([]byte)), ttl, true, nil
}

func (m *MemoryBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, _, found, err := m.GetWithTTL(ctx, key)
	return val, found, err
}

func (m *MemoryBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		return ErrInvalidTTL
	}
	if ttl == 0 {
		ttl = gocache.NoExpiration
	}
	m.mu.Lock()
	m.items.Set(key, clone(value), ttl)
	m.mu.Unlock()
	return nil
}

func (m *MemoryBackend) IncrWithWindow(ctx context.Context, key string, window time.Duration) (int64, error) {
	if window <= 0 {
		return 0, ErrInvalidTTL
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	n := int64(1)
	ttl := window
	if val, expiresAt, found := m.items.GetWithExpiration(key); found {
		current, err := strconv.ParseInt(string(val.([]byte)), 10, 64)
		if err != nil {
			return 0, err
		}
		remaining := time.Until(expiresAt)
		if expiresAt.IsZero() {
			n, ttl = current+1, window
		} else if remaining > 0 {
			n, ttl = current+1, remaining
		}
	}

	m.items.Set(key, []byte(strconv.FormatInt(n, 10)), ttl)
	return n, nil
}

func (m *MemoryBackend) Expire(ctx context.Context, key string) error {
	m.mu.Lock()
	m.items.Delete(key)
	m.mu.Unlock()
	return nil
}

func (m *MemoryBackend) Close() error {
	m.items.Flush()
	return nil
}
