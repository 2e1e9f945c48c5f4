package stream

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AyushMhaisane/mcp-crypto-server/internal/logger"
	"github.com/AyushMhaisane/mcp-crypto-server/internal/market"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// DefaultInterval is the polling period when none is configured
const DefaultInterval = 2 * time.Second

// ErrClosed is returned by Run once the hub has been closed
var ErrClosed = errors.New("stream hub closed")

// TickerSource supplies tickers to subscriptions, normally the market cache
type TickerSource interface {
	GetTicker(ctx context.Context, symbol string) (*market.Ticker, error)
}

// SendFunc delivers one ticker to a subscriber. Returning an error ends the subscription.
type SendFunc func(*market.Ticker) error

// subscription is one client's polling loop
type subscription struct {
	id       string
	symbol   string
	started  time.Time
	cancel   context.CancelFunc
	sent     atomic.Int64
	failures atomic.Int64
}

// SubscriptionStatus describes an active subscription
type SubscriptionStatus struct {
	ID       string    `json:"id"`
	Symbol   string    `json:"symbol"`
	Started  time.Time `json:"started"`
	Sent     int64     `json:"sent"`
	Failures int64     `json:"failures"`
}

// Status is a snapshot of the hub
type Status struct {
	Active        int                  `json:"active"`
	Sent          int64                `json:"sent"`
	Failures      int64                `json:"failures"`
	Subscriptions []SubscriptionStatus `json:"subscriptions"`
}

// Hub runs one polling goroutine per subscriber
type Hub struct {
	source   TickerSource
	interval time.Duration

	subs   map[string]*subscription
	closed bool
	mu     sync.RWMutex
	wg     sync.WaitGroup

	sent     atomic.Int64
	failures atomic.Int64
}

// NewHub creates a hub polling source every interval
func NewHub(source TickerSource, interval time.Duration) *Hub {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Hub{
		source:   source,
		interval: interval,
		subs:     make(map[string]*subscription),
	}
}

// Interval returns the polling period
func (h *Hub) Interval() time.Duration {
	return h.interval
}

// Run streams tickers for symbol to send until ctx is done, send fails or the hub closes.
// It returns nil on cancellation, the send error, or ErrClosed when the hub shuts down.
// The first ticker is fetched immediately. Failed fetches send nothing and the loop continues.
// send is only ever called from this goroutine.
func (h *Hub) Run(ctx context.Context, symbol string, send SendFunc) error {
	sub, ctx, err := h.add(ctx, market.CanonicalSymbol(symbol))
	if err != nil {
		return err
	}
	defer h.remove(sub)

	log := logger.WithComponent("stream").WithFields(logrus.Fields{
		"symbol":       sub.symbol,
		"subscription": sub.id,
	})
	log.Info("Stream subscription started")

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		if err := h.tick(ctx, sub, send, log); err != nil {
			log.WithError(err).Info("Stream subscription ended")
			return err
		}

		select {
		case <-ctx.Done():
			if h.isClosed() {
				log.Info("Stream subscription closed by shutdown")
				return ErrClosed
			}
			log.Info("Stream subscription cancelled")
			return nil
		case <-ticker.C:
		}
	}
}

// tick fetches and delivers one ticker. Only a failed send is returned.
func (h *Hub) tick(ctx context.Context, sub *subscription, send SendFunc, log *logrus.Entry) error {
	t, err := h.source.GetTicker(ctx, sub.symbol)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		sub.failures.Add(1)
		h.failures.Add(1)
		kind := market.ClassifyError(err)
		log.WithFields(logrus.Fields{
			"kind":      kind.String(),
			"retryable": kind.Retryable(),
		}).Warnf("Stream tick failed: %v", err)
		return nil
	}

	if err := send(t); err != nil {
		return err
	}
	sub.sent.Add(1)
	h.sent.Add(1)
	return nil
}

func (h *Hub) add(ctx context.Context, symbol string) (*subscription, context.Context, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, nil, ErrClosed
	}

	ctx, cancel := context.WithCancel(ctx)
	sub := &subscription{
		id:      uuid.NewString(),
		symbol:  symbol,
		started: time.Now(),
		cancel:  cancel,
	}
	h.subs[sub.id] = sub
	h.wg.Add(1)
	return sub, ctx, nil
}

func (h *Hub) remove(sub *subscription) {
	sub.cancel()

	h.mu.Lock()
	delete(h.subs, sub.id)
	h.mu.Unlock()

	h.wg.Done()
}

func (h *Hub) isClosed() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.closed
}

// Cancel stops the subscription with the given id
func (h *Hub) Cancel(id string) bool {
	h.mu.RLock()
	sub, ok := h.subs[id]
	h.mu.RUnlock()

	if ok {
		sub.cancel()
	}
	return ok
}

// Active returns the number of running subscriptions
func (h *Hub) Active() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Status returns the hub counters and active subscriptions ordered by start time
func (h *Hub) Status() Status {
	h.mu.RLock()
	subs := make([]SubscriptionStatus, 0, len(h.subs))
	for _, sub := range h.subs {
		subs = append(subs, SubscriptionStatus{
			ID:       sub.id,
			Symbol:   sub.symbol,
			Started:  sub.started,
			Sent:     sub.sent.Load(),
			Failures: sub.failures.Load(),
		})
	}
	h.mu.RUnlock()

	sort.Slice(subs, func(i, j int) bool {
		return subs[i].Started.Before(subs[j].Started)
	})

	return Status{
		Active:        len(subs),
		Sent:          h.sent.Load(),
		Failures:      h.failures.Load(),
		Subscriptions: subs,
	}
}

// Close cancels every subscription, rejects new ones and waits for all loops to exit
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	for _, sub := range h.subs {
		sub.cancel()
	}
	h.mu.Unlock()

	h.Wait()
}

// Wait waits for all subscriptions to finish
func (h *Hub) Wait() {
	h.wg.Wait()
}
