package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/AyushMhaisane/mcp-crypto-server/internal/config"
	"github.com/AyushMhaisane/mcp-crypto-server/internal/exchanges"
	"github.com/AyushMhaisane/mcp-crypto-server/internal/indicators"
	"github.com/AyushMhaisane/mcp-crypto-server/internal/logger"
	"github.com/AyushMhaisane/mcp-crypto-server/internal/market"
	"github.com/AyushMhaisane/mcp-crypto-server/internal/storage"
	"github.com/AyushMhaisane/mcp-crypto-server/internal/stream"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	defaultTimeframe = "1h"
	defaultLimit     = 100
	maxLimit         = 1000

	healthTimeout = 2 * time.Second
	wsWriteWait   = 5 * time.Second
)

// MarketService is the cached market data the handlers serve
type MarketService interface {
	GetTicker(ctx context.Context, symbol string) (*market.Ticker, error)
	GetOhlcv(ctx context.Context, symbol, timeframe string, limit int) (*market.OhlcvSeries, error)
	Stats() market.Stats
	ExchangeID() string
	TickerTTL() time.Duration
	OhlcvTTL() time.Duration
}

// Server represents the HTTP server
type Server struct {
	*http.Server
	market         MarketService
	hub            *stream.Hub
	store          storage.Store
	requestTimeout time.Duration
	started        time.Time
	upgrader       websocket.Upgrader
}

// New creates a new HTTP server. store may be nil, in which case /health reports degraded.
func New(cfg config.ServerConfig, svc MarketService, hub *stream.Hub, store storage.Store) *Server {
	mux := http.NewServeMux()

	s := &Server{
		Server: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		market:         svc,
		hub:            hub,
		store:          store,
		requestTimeout: cfg.RequestTimeout,
		started:        time.Now(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}

	// Register routes. {symbol...} keeps the slash in BTC/USDT.
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /metrics", s.handleMetrics)
	mux.HandleFunc("GET /v1/market/ticker/{symbol...}", s.handleTicker)
	mux.HandleFunc("GET /v1/market/ohlcv/{symbol...}", s.handleOhlcv)
	mux.HandleFunc("GET /v1/market/indicators/{symbol...}", s.handleIndicators)
	mux.HandleFunc("GET /v1/market/ws/ticker/{symbol...}", s.handleTickerStream)
	mux.HandleFunc("GET /ws/ticker/{symbol...}", s.handleTickerStream)

	return s
}

// requestContext bounds a REST handler by the configured request timeout
func (s *Server) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	if s.requestTimeout <= 0 {
		return context.WithCancel(r.Context())
	}
	return context.WithTimeout(r.Context(), s.requestTimeout)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":  "Market data gateway is operational.",
		"exchange": s.market.ExchangeID(),
		"app":      logger.AppName,
	})
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	storeName := "none"
	storeOK := false
	if s.store != nil {
		storeName = s.store.Name()
		storeOK = s.store.Ping(ctx) == nil
	}

	response := map[string]interface{}{
		"status":   "ok",
		"store":    storeName,
		"store_ok": storeOK,
		"exchange": s.market.ExchangeID(),
		"time":     time.Now().UTC(),
		"app":      logger.AppName,
	}

	status := http.StatusOK
	if !storeOK {
		status = http.StatusServiceUnavailable
		response["status"] = "degraded"
	}

	writeJSON(w, status, response)
}

// handleStatus handles status requests
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"app":            logger.AppName,
		"exchange":       s.market.ExchangeID(),
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
		"cache":          s.market.Stats(),
		"ttl": map[string]float64{
			"ticker_seconds": s.market.TickerTTL().Seconds(),
			"ohlcv_seconds":  s.market.OhlcvTTL().Seconds(),
		},
		"streams": s.hub.Status(),
		"time":    time.Now().UTC(),
	}

	writeJSON(w, http.StatusOK, response)
}

// handleTicker serves GET /v1/market/ticker/{symbol}
func (s *Server) handleTicker(w http.ResponseWriter, r *http.Request) {
	symbol, ok := symbolParam(w, r)
	if !ok {
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	ticker, err := s.market.GetTicker(ctx, symbol)
	if err != nil {
		s.writeError(w, r, symbol, err)
		return
	}

	writeJSON(w, http.StatusOK, ticker)
}

// handleOhlcv serves GET /v1/market/ohlcv/{symbol}?timeframe=1h&limit=100
func (s *Server) handleOhlcv(w http.ResponseWriter, r *http.Request) {
	symbol, ok := symbolParam(w, r)
	if !ok {
		return
	}
	timeframe, limit, ok := ohlcvParams(w, r, 1)
	if !ok {
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	series, err := s.market.GetOhlcv(ctx, symbol, timeframe, limit)
	if err != nil {
		s.writeError(w, r, symbol, err)
		return
	}

	writeJSON(w, http.StatusOK, series)
}

// handleIndicators serves indicators computed over the cached OHLCV series
func (s *Server) handleIndicators(w http.ResponseWriter, r *http.Request) {
	symbol, ok := symbolParam(w, r)
	if !ok {
		return
	}
	timeframe, limit, ok := ohlcvParams(w, r, indicators.MinCandles)
	if !ok {
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	series, err := s.market.GetOhlcv(ctx, symbol, timeframe, limit)
	if err != nil {
		s.writeError(w, r, symbol, err)
		return
	}

	snap, err := indicators.Compute(series)
	if errors.Is(err, indicators.ErrInsufficientHistory) {
		writeDetail(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if err != nil {
		s.writeError(w, r, symbol, err)
		return
	}

	writeJSON(w, http.StatusOK, snap)
}

// handleTickerStream upgrades to a WebSocket and pushes a ticker every stream interval
func (s *Server) handleTickerStream(w http.ResponseWriter, r *http.Request) {
	symbol, ok := symbolParam(w, r)
	if !ok {
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error
		logger.WithComponent("server").WithError(err).Warn("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// The read side only exists to notice the client going away
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	err = s.hub.Run(ctx, symbol, func(t *market.Ticker) error {
		conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteJSON(t)
	})
	if errors.Is(err, stream.ErrClosed) {
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
		conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteWait))
	}
}

// handleMetrics handles Prometheus metrics requests
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	stats := s.market.Stats()
	streams := s.hub.Status()
	ex := s.market.ExchangeID()

	var b []byte
	counter := func(name, help string, value int64) {
		b = fmt.Appendf(b, "# HELP %s %s\n# TYPE %s counter\n%s{exchange=%q} %d\n", name, help, name, name, ex, value)
	}
	gauge := func(name, help string, value int64) {
		b = fmt.Appendf(b, "# HELP %s %s\n# TYPE %s gauge\n%s{exchange=%q} %d\n", name, help, name, name, ex, value)
	}

	counter("market_cache_hits_total", "Reads served from the cache store", stats.Hits)
	counter("market_cache_misses_total", "Reads that required an upstream fetch", stats.Misses)
	counter("market_upstream_fetches_total", "Upstream exchange fetches performed", stats.Fetches)
	counter("market_upstream_errors_total", "Upstream exchange fetches that failed", stats.UpstreamErrors)
	counter("market_store_errors_total", "Cache store read or write failures", stats.StoreErrors)
	counter("market_coalesced_total", "Reads that shared an in-flight fetch", stats.Coalesced)
	gauge("market_stream_subscriptions", "Active ticker stream subscriptions", int64(streams.Active))
	counter("market_stream_sent_total", "Tickers pushed to stream subscribers", streams.Sent)
	counter("market_stream_failures_total", "Stream ticks that failed to fetch", streams.Failures)

	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	w.Write(b)
}

// writeError renders a classified failure as {"detail": ...}. Unclassified errors become a generic 500.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, symbol string, err error) {
	log := logger.WithSymbol(s.market.ExchangeID(), symbol).WithField("path", r.URL.Path)

	if kind, ok := market.KindOf(err); ok {
		log.WithFields(logrus.Fields{"kind": kind.String()}).Warnf("Market request failed: %v", err)
		if kind == market.KindRateLimited {
			w.Header().Set("Retry-After", "1")
		}
		writeDetail(w, kind.StatusCode(), kind.Detail())
		return
	}

	if errors.Is(err, context.DeadlineExceeded) {
		log.Warn("Market request timed out")
		writeDetail(w, http.StatusGatewayTimeout, "Request timed out")
		return
	}

	log.Errorf("Unexpected error serving market request: %v", err)
	writeDetail(w, http.StatusInternalServerError, "Internal server error")
}

func symbolParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	symbol := market.CanonicalSymbol(r.PathValue("symbol"))
	if symbol == "" {
		writeDetail(w, http.StatusBadRequest, "symbol is required")
		return "", false
	}
	return symbol, true
}

// ohlcvParams reads timeframe and limit, replying 400 when either is invalid
func ohlcvParams(w http.ResponseWriter, r *http.Request, minLimit int) (string, int, bool) {
	q := r.URL.Query()

	timeframe := q.Get("timeframe")
	if timeframe == "" {
		timeframe = defaultTimeframe
	}
	if !exchanges.IsTimeframe(timeframe) {
		writeDetail(w, http.StatusBadRequest, fmt.Sprintf("invalid timeframe %q", timeframe))
		return "", 0, false
	}

	limit := defaultLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < minLimit || n > maxLimit {
			writeDetail(w, http.StatusBadRequest, fmt.Sprintf("limit must be an integer between %d and %d", minLimit, maxLimit))
			return "", 0, false
		}
		limit = n
	}

	return timeframe, limit, true
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.WithComponent("server").WithError(err).Warn("Failed to write response")
	}
}
