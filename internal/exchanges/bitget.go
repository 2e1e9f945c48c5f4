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

const (
	bitgetBaseURL = "https://api.bitget.com"
	bitgetOK      = "00000"
)

// BitgetClient fetches spot market data from the Bitget v2 REST API
type BitgetClient struct {
	*restClient
	symbols *SymbolConverter
}

// bitgetEnvelope wraps every v2 response; code "00000" means success
type bitgetEnvelope struct {
	Code        string          `json:"code"`
	Msg         string          `json:"msg"`
	RequestTime int64           `json:"requestTime"`
	Data        json.RawMessage `json:"data"`
}

// BitgetTicker represents one entry of /api/v2/spot/market/tickers data
type BitgetTicker struct {
	Symbol      string `json:"symbol"`
	LastPr      string `json:"lastPr"`  // Last price
	BidPr       string `json:"bidPr"`   // Best bid price
	AskPr       string `json:"askPr"`   // Best ask price
	Open        string `json:"open"`    // 24h open
	High24h     string `json:"high24h"` // 24h high
	Low24h      string `json:"low24h"`  // 24h low
	BaseVolume  string `json:"baseVolume"`
	QuoteVolume string `json:"quoteVolume"`
	Timestamp   string `json:"ts"`
}

// NewBitgetClient creates a new Bitget REST client
func NewBitgetClient(cfg config.ExchangeConfig) *BitgetClient {
	return &BitgetClient{
		restClient: newRESTClient("bitget", bitgetBaseURL, cfg, decodeBitgetError),
		symbols:    NewSymbolConverter(),
	}
}

// get performs the request and unwraps the envelope, turning non-success codes into errors
func (b *BitgetClient) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	var env bitgetEnvelope
	if err := b.getJSON(ctx, path, query, &env); err != nil {
		return err
	}
	if env.Code != bitgetOK {
		return &APIError{Exchange: b.id, Status: 200, Code: env.Code, Message: env.Msg}
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("bitget: failed to decode data: %w", err)
	}
	return nil
}

// FetchTicker returns the 24h ticker for symbol
func (b *BitgetClient) FetchTicker(ctx context.Context, symbol string) (*market.Ticker, error) {
	query := url.Values{"symbol": {b.symbols.ToExchange(b.id, symbol)}}

	var tickers []BitgetTicker
	if err := b.get(ctx, "/api/v2/spot/market/tickers", query, &tickers); err != nil {
		return nil, err
	}
	if len(tickers) == 0 {
		return nil, &APIError{Exchange: b.id, Message: fmt.Sprintf("market %s not found", symbol)}
	}
	t := tickers[0]

	last, err := parseDecimal(t.LastPr)
	if err != nil {
		return nil, fmt.Errorf("bitget: ticker %s: last price: %w", symbol, err)
	}
	ts, err := strconv.ParseInt(t.Timestamp, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("bitget: ticker %s: timestamp: %w", symbol, err)
	}

	return &market.Ticker{
		Symbol:    symbol,
		Timestamp: ts,
		Datetime:  market.FormatDatetime(ts),
		High:      optionalFloat(t.High24h),
		Low:       optionalFloat(t.Low24h),
		Bid:       optionalFloat(t.BidPr),
		Ask:       optionalFloat(t.AskPr),
		Last:      last,
		Volume:    optionalFloat(t.BaseVolume),
	}, nil
}

// FetchOhlcv returns up to limit candles for symbol, oldest first
func (b *BitgetClient) FetchOhlcv(ctx context.Context, symbol, timeframe string, limit int) (*market.OhlcvSeries, error) {
	granularity, err := b.symbols.Timeframe(b.id, timeframe)
	if err != nil {
		return nil, err
	}

	query := url.Values{
		"symbol":      {b.symbols.ToExchange(b.id, symbol)},
		"granularity": {granularity},
		"limit":       {strconv.Itoa(limit)},
	}

	// [[ts, open, high, low, close, baseVol, usdtVol, quoteVol], ...] as strings
	var rows [][]interface{}
	if err := b.get(ctx, "/api/v2/spot/market/candles", query, &rows); err != nil {
		return nil, err
	}

	candles, err := parseRows(rows, limit)
	if err != nil {
		return nil, fmt.Errorf("bitget: candles %s: %w", symbol, err)
	}

	return &market.OhlcvSeries{
		Symbol:    symbol,
		Timeframe: timeframe,
		Data:      candles,
	}, nil
}

func decodeBitgetError(status int, body []byte) error {
	var env bitgetEnvelope
	if err := json.Unmarshal(body, &env); err != nil || env.Msg == "" {
		return genericHTTPError("bitget", status, body)
	}
	return &APIError{Exchange: "bitget", Status: status, Code: env.Code, Message: env.Msg}
}
