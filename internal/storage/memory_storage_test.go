package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// TestMemoryStorageExpiry verifies entries disappear once their TTL has elapsed
func TestMemoryStorageExpiry(t *testing.T) {
	m := NewMemoryStorage(time.Hour)
	defer m.Close()

	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	ctx := context.Background()
	if err := m.Set(ctx, "ticker:binance:BTC/USDT", []byte(`{"last":1}`), 5*time.Second); err != nil {
		t.Fatalf("Set() returned error: %v", err)
	}

	data, found, err := m.Get(ctx, "ticker:binance:BTC/USDT")
	if err != nil || !found {
		t.Fatalf("Get() = found %v, err %v; want hit", found, err)
	}
	if string(data) != `{"last":1}` {
		t.Errorf("Payload mismatch: got %s", data)
	}

	now = now.Add(5 * time.Second)
	if _, found, _ := m.Get(ctx, "ticker:binance:BTC/USDT"); found {
		t.Error("Entry should have expired at its TTL boundary")
	}

	if removed := m.removeExpired(); removed != 1 {
		t.Errorf("removeExpired() removed %d entries, want 1", removed)
	}
	if m.Len() != 0 {
		t.Errorf("Len() = %d after sweep, want 0", m.Len())
	}
}

// TestMemoryStorageCopiesPayload verifies the cached bytes are isolated from the caller's slice
func TestMemoryStorageCopiesPayload(t *testing.T) {
	m := NewMemoryStorage(time.Hour)
	defer m.Close()

	ctx := context.Background()
	payload := []byte("abc")
	m.Set(ctx, "k", payload, time.Minute)
	payload[0] = 'x'

	data, _, _ := m.Get(ctx, "k")
	if string(data) != "abc" {
		t.Errorf("Cached payload changed with caller's slice: %s", data)
	}
}

// TestMemoryStorageClosed verifies a closed store reports ErrUnavailable
func TestMemoryStorageClosed(t *testing.T) {
	m := NewMemoryStorage(time.Hour)
	m.Close()
	m.Close() // idempotent

	ctx := context.Background()
	if _, _, err := m.Get(ctx, "k"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Get() on closed store: got %v, want ErrUnavailable", err)
	}
	if err := m.Set(ctx, "k", nil, time.Second); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Set() on closed store: got %v, want ErrUnavailable", err)
	}
	if err := m.Ping(ctx); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Ping() on closed store: got %v, want ErrUnavailable", err)
	}
}

func TestMemoryStorageConcurrentAccess(t *testing.T) {
	m := NewMemoryStorage(time.Hour)
	defer m.Close()

	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("key-%d", i%10)
			m.Set(ctx, key, []byte(key), time.Minute)
			m.Get(ctx, key)
		}(i)
	}
	wg.Wait()

	if m.Len() != 10 {
		t.Errorf("Len() = %d, want 10", m.Len())
	}
}
