package exchanges

import (
	"fmt"
	"strings"
)

// SymbolConverter handles formatting conversions between the canonical BASE/QUOTE form and
// the form each exchange's REST API expects. It does NOT change symbol names:
// 1000PEPE/USDT stays 1000PEPE on every exchange.
type SymbolConverter struct{}

// NewSymbolConverter creates a new symbol converter
func NewSymbolConverter() *SymbolConverter {
	return &SymbolConverter{}
}

// ToExchange converts a canonical symbol to the exchange's REST format
// Examples:
// - Binance: BTC/USDT → BTCUSDT, 1000PEPE/USDT → 1000PEPEUSDT
// - OKX: BTC/USDT → BTC-USDT
// - Bybit, Bitget: BTC/USDT → BTCUSDT
// - Gate: BTC/USDT → BTC_USDT
func (sc *SymbolConverter) ToExchange(exchange, symbol string) string {
	symbol = strings.ToUpper(symbol)

	switch exchange {
	case "binance", "bybit", "bitget":
		return strings.ReplaceAll(symbol, "/", "")

	case "okx":
		return strings.ReplaceAll(symbol, "/", "-")

	case "gate":
		return strings.ReplaceAll(symbol, "/", "_")

	default:
		return symbol
	}
}

var (
	// Binance accepts the canonical tokens as-is
	binanceTimeframes = map[string]string{
		"1m": "1m", "3m": "3m", "5m": "5m", "15m": "15m", "30m": "30m",
		"1h": "1h", "2h": "2h", "4h": "4h", "6h": "6h", "8h": "8h", "12h": "12h",
		"1d": "1d", "3d": "3d", "1w": "1w", "1M": "1M",
	}

	okxTimeframes = map[string]string{
		"1m": "1m", "3m": "3m", "5m": "5m", "15m": "15m", "30m": "30m",
		"1h": "1H", "2h": "2H", "4h": "4H", "6h": "6H", "12h": "12H",
		"1d": "1D", "3d": "3D", "1w": "1W", "1M": "1M",
	}

	bybitTimeframes = map[string]string{
		"1m": "1", "3m": "3", "5m": "5", "15m": "15", "30m": "30",
		"1h": "60", "2h": "120", "4h": "240", "6h": "360", "12h": "720",
		"1d": "D", "1w": "W", "1M": "M",
	}

	gateTimeframes = map[string]string{
		"1m": "1m", "5m": "5m", "15m": "15m", "30m": "30m",
		"1h": "1h", "4h": "4h", "8h": "8h",
		"1d": "1d", "1w": "7d", "1M": "30d",
	}

	bitgetTimeframes = map[string]string{
		"1m": "1min", "3m": "3min", "5m": "5min", "15m": "15min", "30m": "30min",
		"1h": "1h", "4h": "4h", "6h": "6h", "12h": "12h",
		"1d": "1day", "3d": "3day", "1w": "1week", "1M": "1M",
	}
)

// Timeframe converts a canonical timeframe token to the exchange's interval parameter
func (sc *SymbolConverter) Timeframe(exchange, timeframe string) (string, error) {
	var table map[string]string
	switch exchange {
	case "binance":
		table = binanceTimeframes
	case "okx":
		table = okxTimeframes
	case "bybit":
		table = bybitTimeframes
	case "gate":
		table = gateTimeframes
	case "bitget":
		table = bitgetTimeframes
	default:
		return "", fmt.Errorf("%s: timeframes are not supported", exchange)
	}

	if tf, ok := table[timeframe]; ok {
		return tf, nil
	}
	return "", fmt.Errorf("%s: timeframe %s is not supported", exchange, timeframe)
}

// Timeframes lists the canonical timeframe tokens any adapter understands
func Timeframes() []string {
	return []string{"1m", "3m", "5m", "15m", "30m", "1h", "2h", "4h", "6h", "8h", "12h", "1d", "3d", "1w", "1M"}
}

// IsTimeframe reports whether tf is a canonical timeframe token
func IsTimeframe(tf string) bool {
	_, ok := binanceTimeframes[tf]
	return ok
}
