package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"marketgateway/internal/observ"
)

// Redis is a Store backed by a shared Redis instance, for deployments
// where multiple gateway processes should share one cache.
type Redis struct {
	client *redis.Client
	prefix string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces keys so one Redis can serve several services.
	Prefix string
}

func NewRedis(cfg RedisConfig) *Redis {
	if cfg.Prefix == "" {
		cfg.Prefix = "mdgw:"
	}
	return &Redis{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		prefix: cfg.Prefix,
	}
}

func (r *Redis) key(k string) string { return r.prefix + k }

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		observ.IncCounter("cache_miss_total", map[string]string{"backend": "redis"})
		return nil, false, nil
	}
	if err != nil {
		observ.IncCounter("cache_error_total", map[string]string{"backend": "redis", "op": "get"})
		return nil, false, err
	}
	observ.IncCounter("cache_hit_total", map[string]string{"backend": "redis"})
	return val, true, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := r.client.Set(ctx, r.key(key), value, ttl).Err(); err != nil {
		observ.IncCounter("cache_error_total", map[string]string{"backend": "redis", "op": "set"})
		return err
	}
	return nil
}

func (r *Redis) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, r.key(key)).Result()
	if err != nil {
		observ.IncCounter("cache_error_total", map[string]string{"backend": "redis", "op": "exists"})
		return false, err
	}
	return n > 0, nil
}

func (r *Redis) Remove(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		observ.IncCounter("cache_error_total", map[string]string{"backend": "redis", "op": "del"})
		return err
	}
	return nil
}

func (r *Redis) Close() error { return r.client.Close() }

// Ping verifies connectivity at startup.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
