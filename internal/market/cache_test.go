package market

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AyushMhaisane/mcp-crypto-server/internal/storage"
)

// stubExchange implements ExchangeClient with call counting
type stubExchange struct {
	tickerCalls atomic.Int64
	ohlcvCalls  atomic.Int64

	err     error
	rows    [][]float64
	started chan struct{} // receives once per fetch when set
	release chan struct{} // fetches block until closed when set

	mu         sync.Mutex
	lastSymbol string
}

func (s *stubExchange) ID() string { return "binance" }

func (s *stubExchange) wait(ctx context.Context) error {
	if s.started != nil {
		s.started <- struct{}{}
	}
	if s.release != nil {
		select {
		case <-s.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (s *stubExchange) FetchTicker(ctx context.Context, symbol string) (*Ticker, error) {
	s.tickerCalls.Add(1)
	s.mu.Lock()
	s.lastSymbol = symbol
	s.mu.Unlock()
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	if s.err != nil {
		return nil, s.err
	}
	return &Ticker{
		Symbol:    symbol,
		Timestamp: 1700000000000,
		Datetime:  FormatDatetime(1700000000000),
		Bid:       Float(49999),
		Ask:       Float(50001),
		Last:      50000,
		Volume:    Float(1234.5),
	}, nil
}

func (s *stubExchange) FetchOhlcv(ctx context.Context, symbol, timeframe string, limit int) (*OhlcvSeries, error) {
	s.ohlcvCalls.Add(1)
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	if s.err != nil {
		return nil, s.err
	}
	series := &OhlcvSeries{Symbol: symbol, Timeframe: timeframe, Data: []Candlestick{}}
	for i, row := range s.rows {
		if i >= limit {
			break
		}
		series.Data = append(series.Data, CandleFromRow(row))
	}
	return series, nil
}

type setCall struct {
	key  string
	data []byte
	ttl  time.Duration
}

// stubStore implements storage.Store recording every Set
type stubStore struct {
	mu     sync.Mutex
	data   map[string][]byte
	sets   []setCall
	getErr error
	setErr error
}

func newStubStore() *stubStore {
	return &stubStore{data: make(map[string][]byte)}
}

func (s *stubStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, false, s.getErr
	}
	data, ok := s.data[key]
	return data, ok, nil
}

func (s *stubStore) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sets = append(s.sets, setCall{key: key, data: data, ttl: ttl})
	if s.setErr != nil {
		return s.setErr
	}
	s.data[key] = data
	return nil
}

func (s *stubStore) Ping(ctx context.Context) error { return s.getErr }
func (s *stubStore) Name() string                   { return "stub" }
func (s *stubStore) Close() error                   { return nil }

func (s *stubStore) setCalls() []setCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]setCall(nil), s.sets...)
}

func newTestCache(ex *stubExchange, store storage.Store, coalesce bool) *Cache {
	return New(ex, store, Options{Coalesce: coalesce})
}

// TestGetTickerMissPopulatesCache verifies one fetch and one set with the ticker TTL on a miss
func TestGetTickerMissPopulatesCache(t *testing.T) {
	for _, coalesce := range []bool{false, true} {
		t.Run(fmt.Sprintf("coalesce=%v", coalesce), func(t *testing.T) {
			ex := &stubExchange{}
			store := newStubStore()
			c := newTestCache(ex, store, coalesce)

			ticker, err := c.GetTicker(context.Background(), "btc/usdt")
			if err != nil {
				t.Fatalf("GetTicker() returned error: %v", err)
			}
			if ticker.Symbol != "BTC/USDT" || ticker.Last != 50000 {
				t.Errorf("Unexpected ticker: %+v", ticker)
			}

			if calls := ex.tickerCalls.Load(); calls != 1 {
				t.Errorf("Exchange called %d times, want 1", calls)
			}
			sets := store.setCalls()
			if len(sets) != 1 {
				t.Fatalf("Store set %d times, want 1", len(sets))
			}
			if sets[0].key != "ticker:binance:BTC/USDT" {
				t.Errorf("Key mismatch: got %q", sets[0].key)
			}
			if sets[0].ttl != DefaultTickerTTL {
				t.Errorf("TTL mismatch: got %s, want %s", sets[0].ttl, DefaultTickerTTL)
			}
		})
	}
}

// TestGetTickerHitSkipsExchange verifies the hit path never calls the exchange and
// returns a value that re-serializes to the exact cached bytes
func TestGetTickerHitSkipsExchange(t *testing.T) {
	ex := &stubExchange{}
	store := newStubStore()
	c := newTestCache(ex, store, true)
	ctx := context.Background()

	if _, err := c.GetTicker(ctx, "BTC/USDT"); err != nil {
		t.Fatalf("GetTicker() returned error: %v", err)
	}
	cached := store.setCalls()[0].data

	for i := 0; i < 3; i++ {
		ticker, err := c.GetTicker(ctx, "BTC/USDT")
		if err != nil {
			t.Fatalf("GetTicker() hit returned error: %v", err)
		}
		payload, _ := json.Marshal(ticker)
		if !bytes.Equal(payload, cached) {
			t.Errorf("Hit payload differs from cached payload:\n got  %s\n want %s", payload, cached)
		}
	}

	if calls := ex.tickerCalls.Load(); calls != 1 {
		t.Errorf("Exchange called %d times, want 1", calls)
	}
	if len(store.setCalls()) != 1 {
		t.Errorf("Hits must not write to the store")
	}

	stats := c.Stats()
	if stats.Hits != 3 || stats.Misses != 1 || stats.Fetches != 1 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

// TestTTLDifferentiation verifies tickers and candles are cached with different TTLs
func TestTTLDifferentiation(t *testing.T) {
	ex := &stubExchange{rows: [][]float64{{1000, 10, 12, 9, 11, 100}}}
	store := newStubStore()
	c := newTestCache(ex, store, false)
	ctx := context.Background()

	c.GetTicker(ctx, "BTC/USDT")
	c.GetOhlcv(ctx, "BTC/USDT", "1h", 100)

	sets := store.setCalls()
	if len(sets) != 2 {
		t.Fatalf("Expected 2 sets, got %d", len(sets))
	}
	if sets[0].ttl != 5*time.Second {
		t.Errorf("Ticker TTL = %s, want 5s", sets[0].ttl)
	}
	if sets[1].ttl != 3600*time.Second {
		t.Errorf("OHLCV TTL = %s, want 3600s", sets[1].ttl)
	}
	if sets[0].ttl == sets[1].ttl {
		t.Error("Ticker and OHLCV TTLs must differ")
	}
	if c.TickerTTL() != DefaultTickerTTL || c.OhlcvTTL() != DefaultOhlcvTTL {
		t.Errorf("Configured TTLs mismatch: %s / %s", c.TickerTTL(), c.OhlcvTTL())
	}
}

func TestTTLOverrides(t *testing.T) {
	ex := &stubExchange{}
	store := newStubStore()
	c := New(ex, store, Options{TickerTTL: 2 * time.Second, OhlcvTTL: 10 * time.Minute})

	c.GetTicker(context.Background(), "BTC/USDT")
	if ttl := store.setCalls()[0].ttl; ttl != 2*time.Second {
		t.Errorf("Ticker TTL override ignored: got %s", ttl)
	}
	if c.OhlcvTTL() != 10*time.Minute {
		t.Errorf("OHLCV TTL override ignored: got %s", c.OhlcvTTL())
	}
}

// TestGetOhlcvPositionalRows maps two upstream rows into ordered candles
func TestGetOhlcvPositionalRows(t *testing.T) {
	ex := &stubExchange{rows: [][]float64{
		{1000, 10, 12, 9, 11, 100},
		{2000, 11, 13, 10, 12, 150},
	}}
	store := newStubStore()
	c := newTestCache(ex, store, true)

	series, err := c.GetOhlcv(context.Background(), "BTC/USDT", "1h", 2)
	if err != nil {
		t.Fatalf("GetOhlcv() returned error: %v", err)
	}

	want := []Candlestick{
		{Timestamp: 1000, Open: 10, High: 12, Low: 9, Close: 11, Volume: 100},
		{Timestamp: 2000, Open: 11, High: 13, Low: 10, Close: 12, Volume: 150},
	}
	if len(series.Data) != len(want) {
		t.Fatalf("Got %d candles, want %d", len(series.Data), len(want))
	}
	for i := range want {
		if series.Data[i] != want[i] {
			t.Errorf("Candle %d = %+v, want %+v", i, series.Data[i], want[i])
		}
	}
	if series.Symbol != "BTC/USDT" || series.Timeframe != "1h" {
		t.Errorf("Series metadata mismatch: %s %s", series.Symbol, series.Timeframe)
	}

	sets := store.setCalls()
	if len(sets) != 1 || sets[0].key != "ohlcv:binance:BTC/USDT:1h:2" {
		t.Errorf("Unexpected sets: %+v", sets)
	}
}

// TestUpstreamFailuresAreClassifiedAndNotCached verifies failures propagate with their kind
func TestUpstreamFailuresAreClassifiedAndNotCached(t *testing.T) {
	testCases := []struct {
		message string
		want    Kind
	}{
		{message: "binance does not have market symbol FOO/BAR: symbol is not supported", want: KindNotFound},
		{message: "binance: rate limit exceeded", want: KindRateLimited},
		{message: "binance: exchange is down", want: KindUnavailable},
		{message: "binance: unexpected response payload", want: KindUpstreamOther},
	}

	for _, tc := range testCases {
		t.Run(tc.want.String(), func(t *testing.T) {
			ex := &stubExchange{err: errors.New(tc.message)}
			store := newStubStore()
			c := newTestCache(ex, store, true)

			_, err := c.GetTicker(context.Background(), "FOO/BAR")
			kind, ok := KindOf(err)
			if !ok {
				t.Fatalf("Expected classified error, got %v", err)
			}
			if kind != tc.want {
				t.Errorf("Kind = %s, want %s", kind, tc.want)
			}
			if len(store.setCalls()) != 0 {
				t.Error("Failures must not be cached")
			}

			// A second call must reach the exchange again
			c.GetTicker(context.Background(), "FOO/BAR")
			if calls := ex.tickerCalls.Load(); calls != 2 {
				t.Errorf("Exchange called %d times, want 2", calls)
			}
		})
	}
}

// TestStoreUnreachable verifies an outage surfaces DependencyUnavailable without stale data
func TestStoreUnreachable(t *testing.T) {
	ex := &stubExchange{}
	store := newStubStore()
	store.getErr = fmt.Errorf("redis get: %w: dial tcp: connection refused", storage.ErrUnavailable)
	c := newTestCache(ex, store, true)

	ticker, err := c.GetTicker(context.Background(), "BTC/USDT")
	if ticker != nil {
		t.Errorf("Expected no ticker, got %+v", ticker)
	}
	kind, ok := KindOf(err)
	if !ok || kind != KindDependencyUnavailable {
		t.Fatalf("Expected DependencyUnavailable, got %v", err)
	}
	if kind.StatusCode() != 503 {
		t.Errorf("Status = %d, want 503", kind.StatusCode())
	}
	if ex.tickerCalls.Load() != 0 {
		t.Error("Exchange must not be called when the store is down and bypass is off")
	}
}

func TestNilStoreIsDependencyUnavailable(t *testing.T) {
	c := New(&stubExchange{}, nil, Options{})

	_, err := c.GetOhlcv(context.Background(), "BTC/USDT", "1h", 10)
	if kind, _ := KindOf(err); kind != KindDependencyUnavailable {
		t.Errorf("Expected DependencyUnavailable, got %v", err)
	}
}

// TestBypassOnOutage verifies degraded mode serves from the exchange and skips the write
func TestBypassOnOutage(t *testing.T) {
	ex := &stubExchange{}
	store := newStubStore()
	store.getErr = fmt.Errorf("redis get: %w", storage.ErrUnavailable)
	c := New(ex, store, Options{Coalesce: true, BypassOnOutage: true})

	ticker, err := c.GetTicker(context.Background(), "BTC/USDT")
	if err != nil {
		t.Fatalf("GetTicker() in degraded mode returned error: %v", err)
	}
	if ticker.Last != 50000 {
		t.Errorf("Unexpected ticker: %+v", ticker)
	}
	if len(store.setCalls()) != 0 {
		t.Error("Degraded mode must not write to the unreachable store")
	}
}

// TestReadErrorTreatedAsMiss verifies a non-outage read error falls through to the exchange
func TestReadErrorTreatedAsMiss(t *testing.T) {
	ex := &stubExchange{}
	store := newStubStore()
	store.getErr = errors.New("WRONGTYPE Operation against a key holding the wrong kind of value")
	c := newTestCache(ex, store, false)

	if _, err := c.GetTicker(context.Background(), "BTC/USDT"); err != nil {
		t.Fatalf("GetTicker() returned error: %v", err)
	}
	if ex.tickerCalls.Load() != 1 {
		t.Error("Read error should fall through to the exchange")
	}
	if c.Stats().StoreErrors != 1 {
		t.Errorf("StoreErrors = %d, want 1", c.Stats().StoreErrors)
	}
}

// TestCorruptEntryRefetched verifies undecodable payloads are replaced
func TestCorruptEntryRefetched(t *testing.T) {
	ex := &stubExchange{}
	store := newStubStore()
	store.data["ticker:binance:BTC/USDT"] = []byte("{not json")
	c := newTestCache(ex, store, false)

	ticker, err := c.GetTicker(context.Background(), "BTC/USDT")
	if err != nil {
		t.Fatalf("GetTicker() returned error: %v", err)
	}
	if ticker.Last != 50000 || ex.tickerCalls.Load() != 1 {
		t.Errorf("Corrupt entry should trigger a fetch: %+v", ticker)
	}
	if len(store.setCalls()) != 1 {
		t.Error("Fresh value should overwrite the corrupt entry")
	}
}

// TestSetFailureDoesNotFailRead verifies a failed cache write still returns the fetched value
func TestSetFailureDoesNotFailRead(t *testing.T) {
	ex := &stubExchange{}
	store := newStubStore()
	store.setErr = errors.New("OOM command not allowed when used memory > 'maxmemory'")
	c := newTestCache(ex, store, true)

	ticker, err := c.GetTicker(context.Background(), "ETH/USDT")
	if err != nil {
		t.Fatalf("GetTicker() returned error: %v", err)
	}
	if ticker.Symbol != "ETH/USDT" {
		t.Errorf("Unexpected ticker: %+v", ticker)
	}
}

// TestCanonicalizationBeforeKey verifies equivalent spellings share one cache entry
func TestCanonicalizationBeforeKey(t *testing.T) {
	ex := &stubExchange{}
	store := newStubStore()
	c := newTestCache(ex, store, false)
	ctx := context.Background()

	c.GetTicker(ctx, "btc-usdt")
	c.GetTicker(ctx, "BTC/USDT")
	c.GetTicker(ctx, "btc/usdt")

	if calls := ex.tickerCalls.Load(); calls != 1 {
		t.Errorf("Exchange called %d times, want 1", calls)
	}
	ex.mu.Lock()
	defer ex.mu.Unlock()
	if ex.lastSymbol != "BTC/USDT" {
		t.Errorf("Exchange received %q, want canonical symbol", ex.lastSymbol)
	}
}

// TestConcurrentMissesCoalesce verifies concurrent misses share one upstream fetch
func TestConcurrentMissesCoalesce(t *testing.T) {
	ex := &stubExchange{
		started: make(chan struct{}, 16),
		release: make(chan struct{}),
	}
	store := newStubStore()
	c := newTestCache(ex, store, true)

	const callers = 10
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.GetTicker(context.Background(), "BTC/USDT")
			errs <- err
		}()
	}

	<-ex.started
	deadline := time.Now().Add(2 * time.Second)
	for c.Stats().Misses < callers && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)
	close(ex.release)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("GetTicker() returned error: %v", err)
		}
	}
	if calls := ex.tickerCalls.Load(); calls != 1 {
		t.Errorf("Exchange called %d times, want 1", calls)
	}
	if sets := len(store.setCalls()); sets != 1 {
		t.Errorf("Store set %d times, want 1", sets)
	}
}

// TestCallerCancelStillPopulates verifies an abandoned request still fills the cache
func TestCallerCancelStillPopulates(t *testing.T) {
	ex := &stubExchange{
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	store := newStubStore()
	c := newTestCache(ex, store, true)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.GetTicker(ctx, "BTC/USDT")
		done <- err
	}()

	<-ex.started
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}

	close(ex.release)
	deadline := time.Now().Add(2 * time.Second)
	for len(store.setCalls()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if len(store.setCalls()) != 1 {
		t.Fatal("Detached fetch should still populate the cache")
	}

	if _, err := c.GetTicker(context.Background(), "BTC/USDT"); err != nil {
		t.Fatalf("GetTicker() after populate returned error: %v", err)
	}
	if calls := ex.tickerCalls.Load(); calls != 1 {
		t.Errorf("Exchange called %d times, want 1", calls)
	}
}

// TestWithMemoryStorage runs the read-through path against the real in-memory store
func TestWithMemoryStorage(t *testing.T) {
	store := storage.NewMemoryStorage(time.Hour)
	defer store.Close()

	ex := &stubExchange{}
	c := newTestCache(ex, store, true)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := c.GetTicker(ctx, "BTC/USDT"); err != nil {
			t.Fatalf("GetTicker() returned error: %v", err)
		}
	}
	if calls := ex.tickerCalls.Load(); calls != 1 {
		t.Errorf("Exchange called %d times, want 1", calls)
	}

	store.Close()
	_, err := c.GetTicker(ctx, "BTC/USDT")
	if kind, _ := KindOf(err); kind != KindDependencyUnavailable {
		t.Errorf("Closed store: got %v, want DependencyUnavailable", err)
	}
}
