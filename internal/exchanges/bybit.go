package exchanges

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/AyushMhaisane/mcp-crypto-server/internal/config"
	"github.com/AyushMhaisane/mcp-crypto-server/internal/market"
)

const bybitBaseURL = "https://api.bybit.com"

// BybitClient fetches spot market data from the Bybit v5 REST API
type BybitClient struct {
	*restClient
	symbols *SymbolConverter
}

// bybitEnvelope wraps every v5 response; retCode 0 means success
type bybitEnvelope struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
	Time    int64           `json:"time"`
}

// BybitTicker represents one entry of /v5/market/tickers result.list
type BybitTicker struct {
	Symbol       string `json:"symbol"`
	LastPrice    string `json:"lastPrice"`
	Bid1Price    string `json:"bid1Price"`
	Ask1Price    string `json:"ask1Price"`
	HighPrice24h string `json:"highPrice24h"`
	LowPrice24h  string `json:"lowPrice24h"`
	Volume24h    string `json:"volume24h"`
	Turnover24h  string `json:"turnover24h"`
}

// NewBybitClient creates a new Bybit REST client
func NewBybitClient(cfg config.ExchangeConfig) *BybitClient {
	return &BybitClient{
		restClient: newRESTClient("bybit", bybitBaseURL, cfg, decodeBybitError),
		symbols:    NewSymbolConverter(),
	}
}

// get performs the request and unwraps the envelope, returning the server time
func (b *BybitClient) get(ctx context.Context, path string, query url.Values, out interface{}) (int64, error) {
	var env bybitEnvelope
	if err := b.getJSON(ctx, path, query, &env); err != nil {
		return 0, err
	}
	if env.RetCode != 0 {
		return 0, &APIError{Exchange: b.id, Status: 200, Code: strconv.Itoa(env.RetCode), Message: env.RetMsg}
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return 0, fmt.Errorf("bybit: failed to decode result: %w", err)
	}
	return env.Time, nil
}

// FetchTicker returns the 24h ticker for symbol
func (b *BybitClient) FetchTicker(ctx context.Context, symbol string) (*market.Ticker, error) {
	query := url.Values{
		"category": {"spot"},
		"symbol":   {b.symbols.ToExchange(b.id, symbol)},
	}

	var result struct {
		List []BybitTicker `json:"list"`
	}
	ts, err := b.get(ctx, "/v5/market/tickers", query, &result)
	if err != nil {
		return nil, err
	}
	if len(result.List) == 0 {
		return nil, &APIError{Exchange: b.id, Message: fmt.Sprintf("market %s not found", symbol)}
	}
	t := result.List[0]

	last, err := parseDecimal(t.LastPrice)
	if err != nil {
		return nil, fmt.Errorf("bybit: ticker %s: last price: %w", symbol, err)
	}

	return &market.Ticker{
		Symbol:    symbol,
		Timestamp: ts,
		Datetime:  market.FormatDatetime(ts),
		High:      optionalFloat(t.HighPrice24h),
		Low:       optionalFloat(t.LowPrice24h),
		Bid:       optionalFloat(t.Bid1Price),
		Ask:       optionalFloat(t.Ask1Price),
		Last:      last,
		Volume:    optionalFloat(t.Volume24h),
	}, nil
}

// FetchOhlcv returns up to limit candles for symbol, oldest first.
// Bybit returns newest first; parseRows restores ascending order.
func (b *BybitClient) FetchOhlcv(ctx context.Context, symbol, timeframe string, limit int) (*market.OhlcvSeries, error) {
	interval, err := b.symbols.Timeframe(b.id, timeframe)
	if err != nil {
		return nil, err
	}

	query := url.Values{
		"category": {"spot"},
		"symbol":   {b.symbols.ToExchange(b.id, symbol)},
		"interval": {interval},
		"limit":    {strconv.Itoa(limit)},
	}

	// list: [[startTime, open, high, low, close, volume, turnover], ...] as strings
	var result struct {
		List [][]interface{} `json:"list"`
	}
	if _, err := b.get(ctx, "/v5/market/kline", query, &result); err != nil {
		return nil, err
	}

	candles, err := parseRows(result.List, limit)
	if err != nil {
		return nil, fmt.Errorf("bybit: kline %s: %w", symbol, err)
	}

	return &market.OhlcvSeries{
		Symbol:    symbol,
		Timeframe: timeframe,
		Data:      candles,
	}, nil
}

func decodeBybitError(status int, body []byte) error {
	var env bybitEnvelope
	if err := json.Unmarshal(body, &env); err != nil || env.RetMsg == "" {
		return genericHTTPError("bybit", status, body)
	}
	return &APIError{Exchange: "bybit", Status: status, Code: strconv.Itoa(env.RetCode), Message: env.RetMsg}
}
