package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/AyushMhaisane/mcp-crypto-server/internal/logger"
	"github.com/AyushMhaisane/mcp-crypto-server/internal/storage"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultTickerTTL keeps near-real-time prices fresh
	DefaultTickerTTL = 5 * time.Second
	// DefaultOhlcvTTL reflects that closed candles rarely change
	DefaultOhlcvTTL = time.Hour

	defaultFetchTimeout = 10 * time.Second
)

// ExchangeClient fetches market data from the upstream exchange.
// Implementations must be safe for concurrent use and enforce upstream rate limits.
type ExchangeClient interface {
	ID() string
	FetchTicker(ctx context.Context, symbol string) (*Ticker, error)
	FetchOhlcv(ctx context.Context, symbol, timeframe string, limit int) (*OhlcvSeries, error)
}

// Options configures a Cache. Zero TTLs fall back to the defaults.
type Options struct {
	TickerTTL time.Duration
	OhlcvTTL  time.Duration
	// Coalesce shares one upstream fetch between concurrent misses of the same key
	Coalesce bool
	// BypassOnOutage serves straight from the exchange while the store is unreachable
	BypassOnOutage bool
	FetchTimeout   time.Duration
}

// Stats are cumulative counters since the cache was created
type Stats struct {
	Hits           int64 `json:"hits"`
	Misses         int64 `json:"misses"`
	Fetches        int64 `json:"fetches"`
	UpstreamErrors int64 `json:"upstream_errors"`
	StoreErrors    int64 `json:"store_errors"`
	Coalesced      int64 `json:"coalesced"`
}

// Cache is the read-through cache between callers and the exchange
type Cache struct {
	exchange   ExchangeClient
	store      storage.Store
	exchangeID string

	tickerTTL      time.Duration
	ohlcvTTL       time.Duration
	coalesce       bool
	bypassOnOutage bool
	fetchTimeout   time.Duration

	group singleflight.Group

	hits           atomic.Int64
	misses         atomic.Int64
	fetches        atomic.Int64
	upstreamErrors atomic.Int64
	storeErrors    atomic.Int64
	coalesced      atomic.Int64
}

// New creates a cache over the given exchange client and store.
// A nil store is accepted; reads then report KindDependencyUnavailable.
func New(exchange ExchangeClient, store storage.Store, opts Options) *Cache {
	c := &Cache{
		exchange:       exchange,
		store:          store,
		exchangeID:     exchange.ID(),
		tickerTTL:      opts.TickerTTL,
		ohlcvTTL:       opts.OhlcvTTL,
		coalesce:       opts.Coalesce,
		bypassOnOutage: opts.BypassOnOutage,
		fetchTimeout:   opts.FetchTimeout,
	}
	if c.tickerTTL <= 0 {
		c.tickerTTL = DefaultTickerTTL
	}
	if c.ohlcvTTL <= 0 {
		c.ohlcvTTL = DefaultOhlcvTTL
	}
	if c.fetchTimeout <= 0 {
		c.fetchTimeout = defaultFetchTimeout
	}
	return c
}

func (c *Cache) ExchangeID() string       { return c.exchangeID }
func (c *Cache) TickerTTL() time.Duration { return c.tickerTTL }
func (c *Cache) OhlcvTTL() time.Duration  { return c.ohlcvTTL }

// Stats returns a snapshot of the counters
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:           c.hits.Load(),
		Misses:         c.misses.Load(),
		Fetches:        c.fetches.Load(),
		UpstreamErrors: c.upstreamErrors.Load(),
		StoreErrors:    c.storeErrors.Load(),
		Coalesced:      c.coalesced.Load(),
	}
}

// GetTicker returns the current ticker for symbol, from cache when fresh
func (c *Cache) GetTicker(ctx context.Context, symbol string) (*Ticker, error) {
	symbol = CanonicalSymbol(symbol)
	req := request{
		op:     "get ticker",
		symbol: symbol,
		key:    TickerKey(c.exchangeID, symbol),
		ttl:    c.tickerTTL,
	}
	return readThrough(ctx, c, req, func(ctx context.Context) (*Ticker, error) {
		return c.exchange.FetchTicker(ctx, symbol)
	})
}

// GetOhlcv returns up to limit candles of the given timeframe for symbol
func (c *Cache) GetOhlcv(ctx context.Context, symbol, timeframe string, limit int) (*OhlcvSeries, error) {
	symbol = CanonicalSymbol(symbol)
	req := request{
		op:     "get ohlcv",
		symbol: symbol,
		key:    OhlcvKey(c.exchangeID, symbol, timeframe, limit),
		ttl:    c.ohlcvTTL,
	}
	return readThrough(ctx, c, req, func(ctx context.Context) (*OhlcvSeries, error) {
		return c.exchange.FetchOhlcv(ctx, symbol, timeframe, limit)
	})
}

type request struct {
	op     string
	symbol string
	key    string
	ttl    time.Duration
}

func readThrough[T any](ctx context.Context, c *Cache, req request, fetch func(context.Context) (*T, error)) (*T, error) {
	log := logger.WithSymbol(c.exchangeID, req.symbol).WithField("key", req.key)

	bypass := false
	data, found, err := c.lookup(ctx, req.key)
	switch {
	case err == nil && found:
		var v T
		decodeErr := json.Unmarshal(data, &v)
		if decodeErr == nil {
			c.hits.Add(1)
			log.Debug("Cache hit")
			return &v, nil
		}
		log.WithError(decodeErr).Warn("Discarding undecodable cache entry")
	case err != nil:
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		c.storeErrors.Add(1)
		if errors.Is(err, storage.ErrUnavailable) {
			if !c.bypassOnOutage {
				log.WithError(err).Error("Cache store unavailable")
				return nil, &Error{Kind: KindDependencyUnavailable, Op: req.op, Symbol: req.symbol, Err: err}
			}
			log.WithError(err).Warn("Cache store unavailable, serving directly from exchange")
			bypass = true
		} else {
			log.WithError(err).Warn("Cache read failed, treating as miss")
		}
	}

	c.misses.Add(1)

	load := func(ctx context.Context) (*T, error) {
		c.fetches.Add(1)
		v, err := fetch(ctx)
		if err != nil {
			c.upstreamErrors.Add(1)
			kind := ClassifyError(err)
			log.WithError(err).WithField("kind", kind.String()).Warn("Exchange fetch failed")
			return nil, &Error{Kind: kind, Op: req.op, Symbol: req.symbol, Err: err}
		}
		if !bypass {
			c.populate(ctx, req, v, log)
		}
		return v, nil
	}

	if !c.coalesce || bypass {
		fetchCtx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
		defer cancel()
		v, err := load(fetchCtx)
		if err != nil && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return v, err
	}

	// The shared fetch outlives any single caller so an abandoned request still populates the cache
	ch := c.group.DoChan(req.key, func() (interface{}, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fetchTimeout)
		defer cancel()
		return load(fetchCtx)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Shared {
			c.coalesced.Add(1)
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*T), nil
	}
}

func (c *Cache) lookup(ctx context.Context, key string) ([]byte, bool, error) {
	if c.store == nil {
		return nil, false, fmt.Errorf("cache store not initialized: %w", storage.ErrUnavailable)
	}
	return c.store.Get(ctx, key)
}

// populate writes v under the request key. Failures are logged and never reach the caller.
func (c *Cache) populate(ctx context.Context, req request, v interface{}, log *logrus.Entry) {
	payload, err := json.Marshal(v)
	if err != nil {
		log.WithError(err).Error("Failed to encode value for cache")
		return
	}
	if err := c.store.Set(ctx, req.key, payload, req.ttl); err != nil {
		c.storeErrors.Add(1)
		log.WithError(err).Warn("Failed to store value in cache")
		return
	}
	log.WithField("ttl", req.ttl.String()).Debug("Cached fresh value")
}
