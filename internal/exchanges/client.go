package exchanges

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/AyushMhaisane/mcp-crypto-server/internal/config"
	"github.com/AyushMhaisane/mcp-crypto-server/internal/logger"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	maxResponseBytes = 4 << 20 // 4MB
	slowRequestWarn  = time.Second
)

// errorDecoder turns a non-2xx response body into an exchange error
type errorDecoder func(status int, body []byte) error

// restClient holds what every exchange adapter shares: the HTTP client,
// base URL and the outbound rate limiter.
type restClient struct {
	id      string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	decode  errorDecoder
}

func newRESTClient(id, defaultBaseURL string, cfg config.ExchangeConfig, decode errorDecoder) *restClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	limit := rate.Inf
	burst := cfg.Burst
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
		if burst <= 0 {
			burst = 1
		}
	}

	return &restClient{
		id:      id,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(limit, burst),
		decode:  decode,
	}
}

func (c *restClient) ID() string {
	return c.id
}

// getJSON performs a rate-limited GET and decodes the JSON body into out
func (c *restClient) getJSON(ctx context.Context, path string, query url.Values, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s: request throttled by client rate limiter: %w", c.id, err)
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("%s: failed to build request: %w", c.id, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", logger.AppName)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: request failed: %w", c.id, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%s: failed to read response: %w", c.id, err)
	}

	latency := time.Since(start)
	log := logger.WithExchange(c.id).WithFields(logrus.Fields{
		"path":       path,
		"status":     resp.StatusCode,
		"latency_ms": latency.Milliseconds(),
	})
	if latency > slowRequestWarn {
		log.Warn("High exchange latency detected")
	} else {
		log.Debug("Exchange request completed")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.decode(resp.StatusCode, body)
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("%s: failed to decode response: %w", c.id, err)
	}
	return nil
}

// genericHTTPError is used when the error body has no recognizable structure
func genericHTTPError(exchange string, status int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &APIError{Exchange: exchange, Status: status, Message: msg}
}
