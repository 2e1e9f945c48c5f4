package market

import (
	"strconv"
	"strings"
)

const (
	tickerKeyPrefix = "ticker"
	ohlcvKeyPrefix  = "ohlcv"
)

// TickerKey builds the cache key for a ticker snapshot.
// The symbol must already be canonical; no normalization happens here.
func TickerKey(exchangeID, symbol string) string {
	return strings.Join([]string{tickerKeyPrefix, exchangeID, symbol}, ":")
}

// OhlcvKey builds the cache key for a candle series of the given timeframe and length
func OhlcvKey(exchangeID, symbol, timeframe string, limit int) string {
	return strings.Join([]string{ohlcvKeyPrefix, exchangeID, symbol, timeframe, strconv.Itoa(limit)}, ":")
}
