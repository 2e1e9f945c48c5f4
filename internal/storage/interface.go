package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrUnavailable marks failures where the store itself cannot be reached.
	// Callers distinguish it from ordinary read errors, which they may treat as a miss.
	ErrUnavailable = errors.New("cache store unavailable")

	// ErrNotConfigured is returned by constructors when the backend has no address
	ErrNotConfigured = errors.New("cache store not configured")
)

// Store defines the interface for the key-value cache behind the market data cache
type Store interface {
	// Get returns the payload stored under key; found is false when the key is absent or expired
	Get(ctx context.Context, key string) (data []byte, found bool, err error)

	// Set stores the payload under key, expiring it after ttl
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error

	// Ping checks that the store is reachable
	Ping(ctx context.Context) error

	// Name identifies the backend in health and status output
	Name() string

	// Close releases the store's resources
	Close() error
}
