package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStorage implements Store using Redis SET with expiry
type RedisStorage struct {
	client *redis.Client
}

// NewRedisStorage wraps an existing Redis client
func NewRedisStorage(client *redis.Client) (*RedisStorage, error) {
	if client == nil {
		return nil, ErrNotConfigured
	}
	return &RedisStorage{client: client}, nil
}

// Get retrieves a payload from Redis
func (r *RedisStorage) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, wrapRedisError("get", key, err)
	}
	return data, true, nil
}

// Set stores a payload in Redis with TTL
func (r *RedisStorage) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return wrapRedisError("set", key, err)
	}
	return nil
}

// Ping checks the Redis connection
func (r *RedisStorage) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return wrapRedisError("ping", "", err)
	}
	return nil
}

func (r *RedisStorage) Name() string {
	return "redis"
}

// Close closes the Redis connection
func (r *RedisStorage) Close() error {
	return r.client.Close()
}

func wrapRedisError(op, key string, err error) error {
	if isConnectivityError(err) {
		return fmt.Errorf("redis %s %q: %w: %v", op, key, ErrUnavailable, err)
	}
	return fmt.Errorf("redis %s %q: %w", op, key, err)
}

// isConnectivityError reports whether err means the server could not be reached,
// as opposed to the server answering with an error reply.
func isConnectivityError(err error) bool {
	if errors.Is(err, redis.ErrClosed) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "connection pool timeout") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "LOADING")
}
