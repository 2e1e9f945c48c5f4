package storage

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AyushMhaisane/mcp-crypto-server/internal/logger"
)

const numShards = 32 // Number of shards to reduce lock contention

// MemoryStorage implements Store with sharded in-process maps.
// Entries expire lazily on read and are swept periodically.
type MemoryStorage struct {
	shards          [numShards]*memoryShard
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	closeOnce       sync.Once
	closed          atomic.Bool
	now             func() time.Time
}

type memoryShard struct {
	mu   sync.RWMutex
	data map[string]*memoryEntry
}

type memoryEntry struct {
	Data      []byte
	ExpiresAt time.Time
}

// NewMemoryStorage creates a new in-memory storage
func NewMemoryStorage(cleanupInterval time.Duration) *MemoryStorage {
	logger.WithComponent("storage").Info("Using in-memory cache storage")

	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}

	m := &MemoryStorage{
		cleanupInterval: cleanupInterval,
		stopCleanup:     make(chan struct{}),
		now:             time.Now,
	}

	for i := 0; i < numShards; i++ {
		m.shards[i] = &memoryShard{
			data: make(map[string]*memoryEntry),
		}
	}

	go m.cleanupExpired()

	return m
}

func (m *MemoryStorage) getShard(key string) *memoryShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return m.shards[h.Sum32()%numShards]
}

// Get retrieves a payload from memory
func (m *MemoryStorage) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if m.closed.Load() {
		return nil, false, fmt.Errorf("memory get %q: %w", key, ErrUnavailable)
	}

	shard := m.getShard(key)
	shard.mu.RLock()
	entry, exists := shard.data[key]
	shard.mu.RUnlock()

	if !exists || !m.now().Before(entry.ExpiresAt) {
		return nil, false, nil
	}
	return entry.Data, true, nil
}

// Set stores a payload in memory with TTL
func (m *MemoryStorage) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	if m.closed.Load() {
		return fmt.Errorf("memory set %q: %w", key, ErrUnavailable)
	}

	// Copy so later mutation by the caller cannot change the cached bytes
	payload := make([]byte, len(data))
	copy(payload, data)

	shard := m.getShard(key)
	shard.mu.Lock()
	shard.data[key] = &memoryEntry{
		Data:      payload,
		ExpiresAt: m.now().Add(ttl),
	}
	shard.mu.Unlock()

	return nil
}

// Ping fails once the storage has been closed
func (m *MemoryStorage) Ping(ctx context.Context) error {
	if m.closed.Load() {
		return ErrUnavailable
	}
	return nil
}

func (m *MemoryStorage) Name() string {
	return "memory"
}

// Close stops the cleanup goroutine; later reads report ErrUnavailable
func (m *MemoryStorage) Close() error {
	m.closeOnce.Do(func() {
		m.closed.Store(true)
		close(m.stopCleanup)
	})
	return nil
}

// Len returns the number of live entries
func (m *MemoryStorage) Len() int {
	now := m.now()
	total := 0
	for _, shard := range m.shards {
		shard.mu.RLock()
		for _, entry := range shard.data {
			if now.Before(entry.ExpiresAt) {
				total++
			}
		}
		shard.mu.RUnlock()
	}
	return total
}

// cleanupExpired removes expired entries periodically
func (m *MemoryStorage) cleanupExpired() {
	ticker := time.NewTicker(m.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.removeExpired()
		case <-m.stopCleanup:
			return
		}
	}
}

// removeExpired removes expired entries from all shards
func (m *MemoryStorage) removeExpired() int {
	now := m.now()
	totalRemoved := 0

	for _, shard := range m.shards {
		shard.mu.Lock()
		for key, entry := range shard.data {
			if !now.Before(entry.ExpiresAt) {
				delete(shard.data, key)
				totalRemoved++
			}
		}
		shard.mu.Unlock()
	}

	if totalRemoved > 0 {
		logger.WithComponent("storage").Debugf("Cleaned up %d expired cache entries", totalRemoved)
	}
	return totalRemoved
}
