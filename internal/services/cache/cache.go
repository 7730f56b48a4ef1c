package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
)

// ErrInvalidTTL is returned when a window or TTL cannot be represented
var ErrInvalidTTL = errors.New("cache: invalid ttl")

// Store is the cache contract. A ttl of zero means the value does not expire.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// IncrWithWindow atomically increments the counter at key and returns the
	// new value. The first increment starts a window: the key expires after
	// window and the next increment returns 1 again.
	IncrWithWindow(ctx context.Context, key string, window time.Duration) (int64, error)
	Expire(ctx context.Context, key string) error
}

// Backend is the shared tier every bot instance sees
type Backend interface {
	Store
	// GetWithTTL returns the value and its remaining lifetime; a zero ttl
	// means the key has no expiry
	GetWithTTL(ctx context.Context, key string) ([]byte, time.Duration, bool, error)
	Close() error
}

// StatsRecorder receives hit and miss notifications
type StatsRecorder interface {
	RecordCacheHit(tier string)
	RecordCacheMiss()
}

// Cache is a two-tier cache: an in-process go-cache in front of a shared
// Backend. The backend holds every authoritative TTL; local copies never
// outlive the remote key nor the configured ceiling.
type Cache struct {
	local   *gocache.Cache
	remote  Backend
	ceiling time.Duration
	stats   StatsRecorder
	logger  *logrus.Logger
}

// NewCache creates a two-tier cache over remote. ceiling bounds how long a
// value may be served from process memory.
func NewCache(remote Backend, ceiling time.Duration, stats StatsRecorder, logger *logrus.Logger) *Cache {
	return &Cache{
		local:   gocache.New(ceiling, ceiling*2),
		remote:  remote,
		ceiling: ceiling,
		stats:   stats,
		logger:  logger,
	}
}

// Remote returns the authoritative tier. State that must never be served
// stale, such as flood counters, should go through it directly.
func (c *Cache) Remote() Backend {
	return c.remote
}

// Get returns the value for key, reading through to the remote tier on a
// local miss. Negative results are not cached locally.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if val, found := c.local.Get(key); found {
		c.recordHit("local")
		return clone(val.([]byte)), true, nil
	}

	val, ttl, found, err := c.remote.GetWithTTL(ctx, key)
	if err != nil {
		return nil, false, fmt.Errorf("cache get %q: %w", key, err)
	}
	if !found {
		if c.stats != nil {
			c.stats.RecordCacheMiss()
		}
		return nil, false, nil
	}

	c.recordHit("remote")
	c.local.Set(key, clone(val), c.localTTL(ttl))
	c.logger.WithFields(logrus.Fields{
		"key": key,
		"ttl": ttl,
	}).Debug("Cache repopulated from remote")

	return val, true, nil
}

// Set writes value to both tiers
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		return ErrInvalidTTL
	}
	if err := c.remote.Set(ctx, key, value, ttl); err != nil {
		c.local.Delete(key)
		return fmt.Errorf("cache set %q: %w", key, err)
	}
	c.local.Set(key, clone(value), c.localTTL(ttl))
	return nil
}

// IncrWithWindow always goes to the remote tier in a single round-trip
func (c *Cache) IncrWithWindow(ctx context.Context, key string, window time.Duration) (int64, error) {
	if window <= 0 {
		return 0, ErrInvalidTTL
	}
	c.local.Delete(key)
	n, err := c.remote.IncrWithWindow(ctx, key, window)
	if err != nil {
		return 0, fmt.Errorf("cache incr %q: %w", key, err)
	}
	return n, nil
}

// Expire removes key from both tiers
func (c *Cache) Expire(ctx context.Context, key string) error {
	c.local.Delete(key)
	if err := c.remote.Expire(ctx, key); err != nil {
		return fmt.Errorf("cache expire %q: %w", key, err)
	}
	return nil
}

// Close releases the remote tier
func (c *Cache) Close() error {
	c.local.Flush()
	return c.remote.Close()
}

func (c *Cache) localTTL(remote time.Duration) time.Duration {
	if remote <= 0 || remote > c.ceiling {
		return c.ceiling
	}
	return remote
}

func (c *Cache) recordHit(tier string) {
	if c.stats != nil {
		c.stats.RecordCacheHit(tier)
	}
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
