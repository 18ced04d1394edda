package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultResultTTL = 24 * time.Hour

// RedisResultBackend keeps task values in Redis under a TTL.
type RedisResultBackend struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisResultBackend connects to the redis:// or rediss:// URL.
func NewRedisResultBackend(url string, ttl time.Duration) (*RedisResultBackend, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse result backend URL: %w", err)
	}
	return NewRedisResultBackendFromClient(redis.NewClient(opts), ttl), nil
}

// NewRedisResultBackendFromClient wraps an existing client.
func NewRedisResultBackendFromClient(client *redis.Client, ttl time.Duration) *RedisResultBackend {
	if ttl <= 0 {
		ttl = defaultResultTTL
	}
	return &RedisResultBackend{client: client, ttl: ttl, prefix: "crate-validator:result:"}
}

func (b *RedisResultBackend) key(jobID string) string { return b.prefix + jobID }

func (b *RedisResultBackend) StoreResult(ctx context.Context, jobID string, result []byte) error {
	if err := b.client.Set(ctx, b.key(jobID), result, b.ttl).Err(); err != nil {
		return fmt.Errorf("store job result: %w", err)
	}
	return nil
}

func (b *RedisResultBackend) FetchResult(ctx context.Context, jobID string) ([]byte, bool, error) {
	data, err := b.client.Get(ctx, b.key(jobID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("fetch job result: %w", err)
	}
	return data, true, nil
}

// Ping checks the Redis connection.
func (b *RedisResultBackend) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Close releases the connection pool.
func (b *RedisResultBackend) Close() error {
	return b.client.Close()
}
