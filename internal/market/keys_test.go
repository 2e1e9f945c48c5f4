package market

import "testing"

// TestTickerKeyDeterministic verifies identical requests always map to the same key
func TestTickerKeyDeterministic(t *testing.T) {
	first := TickerKey("binance", "BTC/USDT")
	for i := 0; i < 10; i++ {
		if got := TickerKey("binance", "BTC/USDT"); got != first {
			t.Fatalf("TickerKey() not deterministic: %q != %q", got, first)
		}
	}
	if first != "ticker:binance:BTC/USDT" {
		t.Errorf("Unexpected key layout: %q", first)
	}

	if got := OhlcvKey("binance", "BTC/USDT", "1h", 100); got != "ohlcv:binance:BTC/USDT:1h:100" {
		t.Errorf("Unexpected key layout: %q", got)
	}
}

// TestKeysDistinct verifies that changing any single dimension changes the key
func TestKeysDistinct(t *testing.T) {
	base := OhlcvKey("binance", "BTC/USDT", "1h", 100)

	testCases := []struct {
		name string
		key  string
	}{
		{name: "exchange", key: OhlcvKey("okx", "BTC/USDT", "1h", 100)},
		{name: "symbol", key: OhlcvKey("binance", "ETH/USDT", "1h", 100)},
		{name: "timeframe", key: OhlcvKey("binance", "BTC/USDT", "4h", 100)},
		{name: "limit", key: OhlcvKey("binance", "BTC/USDT", "1h", 10)},
		{name: "limit prefix", key: OhlcvKey("binance", "BTC/USDT", "1h", 1000)},
		{name: "kind", key: TickerKey("binance", "BTC/USDT")},
	}

	seen := map[string]string{base: "base"}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if prev, exists := seen[tc.key]; exists {
				t.Errorf("Key %q collides with %s", tc.key, prev)
			}
			seen[tc.key] = tc.name
		})
	}

	if TickerKey("binance", "BTC/USDT") == TickerKey("binance", "BTC/USDC") {
		t.Error("Ticker keys for different symbols collide")
	}
}

// TestKeysDoNotNormalize verifies the builder leaves canonicalization to callers
func TestKeysDoNotNormalize(t *testing.T) {
	if TickerKey("binance", "btc/usdt") == TickerKey("binance", "BTC/USDT") {
		t.Error("Builder should not case-normalize symbols")
	}
}
