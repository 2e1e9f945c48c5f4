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

const okxBaseURL = "https://www.okx.com"

// OKXClient fetches market data from the OKX v5 REST API
type OKXClient struct {
	*restClient
	symbols *SymbolConverter
}

// okxEnvelope wraps every OKX v5 response; code "0" means success
type okxEnvelope struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// OKXTicker represents one entry of /api/v5/market/ticker data
type OKXTicker struct {
	InstID    string `json:"instId"`
	Last      string `json:"last"`
	AskPx     string `json:"askPx"`
	BidPx     string `json:"bidPx"`
	Open24h   string `json:"open24h"`
	High24h   string `json:"high24h"`
	Low24h    string `json:"low24h"`
	Vol24h    string `json:"vol24h"` // base currency for spot
	VolCcy24h string `json:"volCcy24h"`
	Timestamp string `json:"ts"`
}

// NewOKXClient creates a new OKX REST client
func NewOKXClient(cfg config.ExchangeConfig) *OKXClient {
	return &OKXClient{
		restClient: newRESTClient("okx", okxBaseURL, cfg, decodeOKXError),
		symbols:    NewSymbolConverter(),
	}
}

// get performs the request and unwraps the envelope, turning non-zero codes into errors
func (o *OKXClient) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	var env okxEnvelope
	if err := o.getJSON(ctx, path, query, &env); err != nil {
		return err
	}
	if env.Code != "0" {
		return &APIError{Exchange: o.id, Status: 200, Code: env.Code, Message: env.Msg}
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("okx: failed to decode data: %w", err)
	}
	return nil
}

// FetchTicker returns the latest ticker for symbol
func (o *OKXClient) FetchTicker(ctx context.Context, symbol string) (*market.Ticker, error) {
	query := url.Values{"instId": {o.symbols.ToExchange(o.id, symbol)}}

	var tickers []OKXTicker
	if err := o.get(ctx, "/api/v5/market/ticker", query, &tickers); err != nil {
		return nil, err
	}
	if len(tickers) == 0 {
		return nil, &APIError{Exchange: o.id, Message: fmt.Sprintf("market %s not found", symbol)}
	}
	t := tickers[0]

	last, err := parseDecimal(t.Last)
	if err != nil {
		return nil, fmt.Errorf("okx: ticker %s: last price: %w", symbol, err)
	}
	ts, err := strconv.ParseInt(t.Timestamp, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("okx: ticker %s: timestamp: %w", symbol, err)
	}

	return &market.Ticker{
		Symbol:    symbol,
		Timestamp: ts,
		Datetime:  market.FormatDatetime(ts),
		High:      optionalFloat(t.High24h),
		Low:       optionalFloat(t.Low24h),
		Bid:       optionalFloat(t.BidPx),
		Ask:       optionalFloat(t.AskPx),
		Last:      last,
		Volume:    optionalFloat(t.Vol24h),
	}, nil
}

// FetchOhlcv returns up to limit candles for symbol, oldest first.
// OKX returns newest first; parseRows restores ascending order.
func (o *OKXClient) FetchOhlcv(ctx context.Context, symbol, timeframe string, limit int) (*market.OhlcvSeries, error) {
	bar, err := o.symbols.Timeframe(o.id, timeframe)
	if err != nil {
		return nil, err
	}

	query := url.Values{
		"instId": {o.symbols.ToExchange(o.id, symbol)},
		"bar":    {bar},
		"limit":  {strconv.Itoa(limit)},
	}

	// [[ts, o, h, l, c, vol, volCcy, volCcyQuote, confirm], ...] as strings
	var rows [][]interface{}
	if err := o.get(ctx, "/api/v5/market/candles", query, &rows); err != nil {
		return nil, err
	}

	candles, err := parseRows(rows, limit)
	if err != nil {
		return nil, fmt.Errorf("okx: candles %s: %w", symbol, err)
	}

	return &market.OhlcvSeries{
		Symbol:    symbol,
		Timeframe: timeframe,
		Data:      candles,
	}, nil
}

func decodeOKXError(status int, body []byte) error {
	var env okxEnvelope
	if err := json.Unmarshal(body, &env); err != nil || env.Msg == "" {
		return genericHTTPError("okx", status, body)
	}
	return &APIError{Exchange: "okx", Status: status, Code: env.Code, Message: env.Msg}
}
