package exchanges

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/AyushMhaisane/mcp-crypto-server/internal/config"
	"github.com/AyushMhaisane/mcp-crypto-server/internal/market"
)

const gateBaseURL = "https://api.gateio.ws"

// GateClient fetches spot market data from the Gate.io v4 REST API
type GateClient struct {
	*restClient
	symbols *SymbolConverter
	now     func() time.Time
}

// GateTicker represents one entry of /api/v4/spot/tickers
type GateTicker struct {
	CurrencyPair     string `json:"currency_pair"`
	Last             string `json:"last"`
	LowestAsk        string `json:"lowest_ask"`
	HighestBid       string `json:"highest_bid"`
	ChangePercentage string `json:"change_percentage"`
	BaseVolume       string `json:"base_volume"`
	QuoteVolume      string `json:"quote_volume"`
	High24h          string `json:"high_24h"`
	Low24h           string `json:"low_24h"`
}

// gateErrorResponse is the body Gate.io sends with 4xx/5xx statuses
type gateErrorResponse struct {
	Label   string `json:"label"`
	Message string `json:"message"`
}

// NewGateClient creates a new Gate.io REST client
func NewGateClient(cfg config.ExchangeConfig) *GateClient {
	return &GateClient{
		restClient: newRESTClient("gate", gateBaseURL, cfg, decodeGateError),
		symbols:    NewSymbolConverter(),
		now:        time.Now,
	}
}

// FetchTicker returns the 24h ticker for symbol.
// Gate.io tickers carry no timestamp, so the fetch time is used.
func (g *GateClient) FetchTicker(ctx context.Context, symbol string) (*market.Ticker, error) {
	query := url.Values{"currency_pair": {g.symbols.ToExchange(g.id, symbol)}}

	var tickers []GateTicker
	if err := g.getJSON(ctx, "/api/v4/spot/tickers", query, &tickers); err != nil {
		return nil, err
	}
	if len(tickers) == 0 {
		return nil, &APIError{Exchange: g.id, Message: fmt.Sprintf("market %s not found", symbol)}
	}
	t := tickers[0]

	last, err := parseDecimal(t.Last)
	if err != nil {
		return nil, fmt.Errorf("gate: ticker %s: last price: %w", symbol, err)
	}
	ts := g.now().UnixMilli()

	return &market.Ticker{
		Symbol:    symbol,
		Timestamp: ts,
		Datetime:  market.FormatDatetime(ts),
		High:      optionalFloat(t.High24h),
		Low:       optionalFloat(t.Low24h),
		Bid:       optionalFloat(t.HighestBid),
		Ask:       optionalFloat(t.LowestAsk),
		Last:      last,
		Volume:    optionalFloat(t.BaseVolume),
	}, nil
}

// FetchOhlcv returns up to limit candles for symbol, oldest first
func (g *GateClient) FetchOhlcv(ctx context.Context, symbol, timeframe string, limit int) (*market.OhlcvSeries, error) {
	interval, err := g.symbols.Timeframe(g.id, timeframe)
	if err != nil {
		return nil, err
	}

	query := url.Values{
		"currency_pair": {g.symbols.ToExchange(g.id, symbol)},
		"interval":      {interval},
		"limit":         {strconv.Itoa(limit)},
	}

	// [[unix seconds, quote volume, close, high, low, open, base volume, closed], ...]
	var raw [][]interface{}
	if err := g.getJSON(ctx, "/api/v4/spot/candlesticks", query, &raw); err != nil {
		return nil, err
	}

	rows := make([][]interface{}, 0, len(raw))
	for i, r := range raw {
		if len(r) < 7 {
			return nil, fmt.Errorf("gate: candlesticks %s: row %d has %d columns, want at least 7", symbol, i, len(r))
		}
		sec, err := parseFloat(r[0])
		if err != nil {
			return nil, fmt.Errorf("gate: candlesticks %s: row %d time: %w", symbol, i, err)
		}
		rows = append(rows, []interface{}{sec * 1000, r[5], r[3], r[4], r[2], r[6]})
	}

	candles, err := parseRows(rows, limit)
	if err != nil {
		return nil, fmt.Errorf("gate: candlesticks %s: %w", symbol, err)
	}

	return &market.OhlcvSeries{
		Symbol:    symbol,
		Timeframe: timeframe,
		Data:      candles,
	}, nil
}

func decodeGateError(status int, body []byte) error {
	var resp gateErrorResponse
	if err := json.Unmarshal(body, &resp); err != nil || resp.Message == "" {
		return genericHTTPError("gate", status, body)
	}
	return &APIError{Exchange: "gate", Status: status, Code: resp.Label, Message: resp.Message}
}
