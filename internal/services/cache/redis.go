package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/grpmgr-tgbot-go/internal/config"
)

// incrWithWindow increments a counter and starts its window on the first
// increment. A counter that somehow lost its TTL gets a fresh one so it can
// never pin a user forever.
var incrWithWindow = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 or redis.call("PTTL", KEYS[1]) < 0 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return current
`)

// NewRedisClient connects to Redis and verifies the connection
func NewRedisClient(cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return client, nil
}

// RedisBackend is the shared Backend used when several bot instances run
// against one Redis
type RedisBackend struct {
	client *redis.Client
	prefix string
}

// NewRedisBackend wraps client. Every key is stored under prefix.
func NewRedisBackend(client *redis.Client, prefix string) *RedisBackend {
	return &RedisBackend{
		client: client,
		prefix: prefix,
	}
}

func (r *RedisBackend) key(k string) string {
	return r.prefix + k
}

func (r *RedisBackend) GetWithTTL(ctx context.Context, key string) ([]byte, time.Duration, bool, error) {
	k := r.key(key)
	pipe := r.client.Pipeline()
	get := pipe.Get(ctx, k)
	pttl := pipe.PTTL(ctx, k)
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, 0, false, err
	}

	val, err := get.Bytes()
	if err == redis.Nil {
		return nil, 0, false, nil
	}
	if err != nil {
		return nil, 0, false, err
	}

	ttl := pttl.Val()
	if ttl < 0 {
		ttl = 0
	}
	return val, ttl, true, nil
}

func (r *RedisBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := r.client.Get(ctx, r.key(key)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (r *RedisBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		return ErrInvalidTTL
	}
	return r.client.Set(ctx, r.key(key), value, ttl).Err()
}

func (r *RedisBackend) IncrWithWindow(ctx context.Context, key string, window time.Duration) (int64, error) {
	if window.Milliseconds() < 1 {
		return 0, ErrInvalidTTL
	}
	return incrWithWindow.Run(ctx, r.client, []string{r.key(key)}, window.Milliseconds()).Int64()
}

func (r *RedisBackend) Expire(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.key(key)).Err()
}

func (r *RedisBackend) Close() error {
	return r.client.Close()
}
