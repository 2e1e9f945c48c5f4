package market

import (
	"strings"
	"time"
)

// DatetimeLayout is the ISO-8601 form used for Ticker.Datetime
const DatetimeLayout = "2006-01-02T15:04:05.000Z"

// Ticker is a snapshot of the current best prices and 24h statistics for a symbol.
// Optional fields are nil when the exchange does not report them.
type Ticker struct {
	Symbol    string   `json:"symbol"`
	Timestamp int64    `json:"timestamp"` // epoch milliseconds
	Datetime  string   `json:"datetime"`
	High      *float64 `json:"high"`
	Low       *float64 `json:"low"`
	Bid       *float64 `json:"bid"`
	Ask       *float64 `json:"ask"`
	Last      float64  `json:"last"`
	Volume    *float64 `json:"volume"` // 24h volume in base currency
}

// Candlestick summarizes trading activity over one interval starting at Timestamp.
type Candlestick struct {
	Timestamp int64   `json:"timestamp"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

// OhlcvSeries is an ascending run of candles for one symbol and timeframe.
type OhlcvSeries struct {
	Symbol    string        `json:"symbol"`
	Timeframe string        `json:"timeframe"`
	Data      []Candlestick `json:"data"`
}

// FormatDatetime renders epoch milliseconds as the ticker datetime string
func FormatDatetime(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(DatetimeLayout)
}

// CandleFromRow maps a positional [timestamp, open, high, low, close, volume] row.
// Rows shorter than six columns leave the missing fields at zero.
func CandleFromRow(row []float64) Candlestick {
	var c Candlestick
	fields := []*float64{&c.Open, &c.High, &c.Low, &c.Close, &c.Volume}
	if len(row) > 0 {
		c.Timestamp = int64(row[0])
	}
	for i, f := range fields {
		if i+1 < len(row) {
			*f = row[i+1]
		}
	}
	return c
}

// CanonicalSymbol normalizes user input to the BASE/QUOTE form.
// "btc-usdt", "btc_usdt" and "BTC/USDT" all become "BTC/USDT".
func CanonicalSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	s = strings.Trim(s, "/")
	return strings.NewReplacer("-", "/", "_", "/").Replace(s)
}

// Float returns a pointer to v, for populating optional ticker fields
func Float(v float64) *float64 {
	return &v
}
