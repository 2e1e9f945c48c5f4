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

const binanceBaseURL = "https://api.binance.com"

// BinanceClient fetches market data from the Binance spot REST API
type BinanceClient struct {
	*restClient
	symbols *SymbolConverter
}

// BinanceTickerResponse represents the /api/v3/ticker/24hr payload
type BinanceTickerResponse struct {
	Symbol      string `json:"symbol"`
	LastPrice   string `json:"lastPrice"`
	BidPrice    string `json:"bidPrice"`
	AskPrice    string `json:"askPrice"`
	OpenPrice   string `json:"openPrice"`
	HighPrice   string `json:"highPrice"`
	LowPrice    string `json:"lowPrice"`
	Volume      string `json:"volume"`      // Total traded base asset volume
	QuoteVolume string `json:"quoteVolume"` // Total traded quote asset volume
	OpenTime    int64  `json:"openTime"`
	CloseTime   int64  `json:"closeTime"`
}

// binanceErrorResponse is the body Binance sends with 4xx/5xx statuses
type binanceErrorResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// NewBinanceClient creates a new Binance REST client
func NewBinanceClient(cfg config.ExchangeConfig) *BinanceClient {
	return &BinanceClient{
		restClient: newRESTClient("binance", binanceBaseURL, cfg, decodeBinanceError),
		symbols:    NewSymbolConverter(),
	}
}

// FetchTicker returns the 24h rolling ticker for symbol
func (b *BinanceClient) FetchTicker(ctx context.Context, symbol string) (*market.Ticker, error) {
	query := url.Values{"symbol": {b.symbols.ToExchange(b.id, symbol)}}

	var resp BinanceTickerResponse
	if err := b.getJSON(ctx, "/api/v3/ticker/24hr", query, &resp); err != nil {
		return nil, err
	}

	last, err := parseDecimal(resp.LastPrice)
	if err != nil {
		return nil, fmt.Errorf("binance: ticker %s: last price: %w", symbol, err)
	}

	return &market.Ticker{
		Symbol:    symbol,
		Timestamp: resp.CloseTime,
		Datetime:  market.FormatDatetime(resp.CloseTime),
		High:      optionalFloat(resp.HighPrice),
		Low:       optionalFloat(resp.LowPrice),
		Bid:       optionalFloat(resp.BidPrice),
		Ask:       optionalFloat(resp.AskPrice),
		Last:      last,
		Volume:    optionalFloat(resp.Volume),
	}, nil
}

// FetchOhlcv returns up to limit klines for symbol, oldest first
func (b *BinanceClient) FetchOhlcv(ctx context.Context, symbol, timeframe string, limit int) (*market.OhlcvSeries, error) {
	interval, err := b.symbols.Timeframe(b.id, timeframe)
	if err != nil {
		return nil, err
	}

	query := url.Values{
		"symbol":   {b.symbols.ToExchange(b.id, symbol)},
		"interval": {interval},
		"limit":    {strconv.Itoa(limit)},
	}

	// [[openTime, "open", "high", "low", "close", "volume", closeTime, ...], ...]
	var rows [][]interface{}
	if err := b.getJSON(ctx, "/api/v3/klines", query, &rows); err != nil {
		return nil, err
	}

	candles, err := parseRows(rows, limit)
	if err != nil {
		return nil, fmt.Errorf("binance: klines %s: %w", symbol, err)
	}

	return &market.OhlcvSeries{
		Symbol:    symbol,
		Timeframe: timeframe,
		Data:      candles,
	}, nil
}

func decodeBinanceError(status int, body []byte) error {
	var resp binanceErrorResponse
	if err := json.Unmarshal(body, &resp); err != nil || resp.Msg == "" {
		return genericHTTPError("binance", status, body)
	}
	return &APIError{
		Exchange: "binance",
		Status:   status,
		Code:     strconv.Itoa(resp.Code),
		Message:  resp.Msg,
	}
}
