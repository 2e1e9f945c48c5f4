package exchanges

import (
	"testing"

	"github.com/AyushMhaisane/mcp-crypto-server/internal/config"
)

func TestNewClient(t *testing.T) {
	testCases := []struct {
		id      string
		wantID  string
		wantErr bool
	}{
		{id: "binance", wantID: "binance"},
		{id: "OKX", wantID: "okx"},
		{id: "bybit", wantID: "bybit"},
		{id: "gate", wantID: "gate"},
		{id: "Bitget", wantID: "bitget"},
		{id: "kraken", wantErr: true},
		{id: "", wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.id, func(t *testing.T) {
			client, err := NewClient(config.ExchangeConfig{ID: tc.id})
			if tc.wantErr {
				if err == nil {
					t.Errorf("NewClient(%q) succeeded, want error", tc.id)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewClient(%q) error = %v", tc.id, err)
			}
			if client.ID() != tc.wantID {
				t.Errorf("ID() = %q, want %q", client.ID(), tc.wantID)
			}
		})
	}
}

func TestRESTClientDefaults(t *testing.T) {
	c := newRESTClient("binance", binanceBaseURL+"/", config.ExchangeConfig{}, decodeBinanceError)
	if c.baseURL != binanceBaseURL {
		t.Errorf("baseURL = %q, want trailing slash trimmed", c.baseURL)
	}
	if c.http.Timeout <= 0 {
		t.Error("expected a default request timeout")
	}

	limited := newRESTClient("binance", binanceBaseURL, config.ExchangeConfig{RequestsPerSecond: 5}, decodeBinanceError)
	if limited.limiter.Burst() != 1 {
		t.Errorf("Burst() = %d, want 1 when unset", limited.limiter.Burst())
	}
}
