package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisTimeout = 500 * time.Millisecond

// Redis is an optional Redis-backed Cache, for deployments that want cache
// state shared across multiple Routex instances rather than per-process
// otter memory. It degrades gracefully: a Redis outage falls back to cache
// misses rather than failing the request.
type Redis struct {
	client  *redis.Client
	timeout time.Duration
}

// NewRedisFromURL parses redisURL, connects, and verifies reachability with
// a PING before returning.
func NewRedisFromURL(ctx context.Context, redisURL string) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("cache: parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("cache: redis ping: %w", err)
	}
	return &Redis{client: client, timeout: defaultRedisTimeout}, nil
}

// Get returns (value, true) on a hit; any Redis error or miss returns
// (nil, false) rather than propagating, so a degraded cache never fails
// the caller's request.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	val, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.WarnContext(ctx, "cache_get_error", slog.String("key", key), slog.String("error", err.Error()))
		}
		return nil, false
	}
	return val, true
}

// Set stores val under key with ttl. Errors are logged, not returned, for
// the same graceful-degradation reason as Get.
func (r *Redis) Set(ctx context.Context, key string, val []byte, ttl time.Duration) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if err := r.client.Set(ctx, key, val, ttl).Err(); err != nil {
		slog.WarnContext(ctx, "cache_set_error", slog.String("key", key), slog.String("error", err.Error()))
	}
}

// Delete removes key.
func (r *Redis) Delete(ctx context.Context, key string) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if err := r.client.Del(ctx, key).Err(); err != nil {
		slog.WarnContext(ctx, "cache_delete_error", slog.String("key", key), slog.String("error", err.Error()))
	}
}

// Purge flushes the entire Redis database Routex's client is scoped to.
// Only safe when the client has a dedicated DB index, which deployment
// configuration is responsible for ensuring.
func (r *Redis) Purge(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if err := r.client.FlushDB(ctx).Err(); err != nil {
		slog.WarnContext(ctx, "cache_purge_error", slog.String("error", err.Error()))
	}
}

// Close releases the underlying connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}
