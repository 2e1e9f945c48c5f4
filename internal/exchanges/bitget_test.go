package exchanges

import (
	"context"
	"net/http"
	"testing"

	"github.com/AyushMhaisane/mcp-crypto-server/internal/market"
)

func TestBitgetFetchTicker(t *testing.T) {
	body := `{"code":"00000","msg":"success","requestTime":1700000000500,"data":[{"symbol":"BTCUSDT",
		"high24h":"43500","open":"42000","low24h":"41800","lastPr":"43210.5","quoteVolume":"51000000",
		"baseVolume":"1190.5","usdtVolume":"51000000","ts":"1700000000000","bidPr":"43210.4","askPr":"43210.6",
		"bidSz":"1","askSz":"2","openUtc":"42100","changeUtc24h":"0.02","change24h":"0.028"}]}`

	var query string
	srv := newTestServer(t, "/api/v2/spot/market/tickers", http.StatusOK, body, &query)
	client := NewBitgetClient(testExchangeConfig("bitget", srv.URL))

	ticker, err := client.FetchTicker(context.Background(), "BTC/USDT")
	if err != nil {
		t.Fatalf("FetchTicker() error = %v", err)
	}

	if query != "symbol=BTCUSDT" {
		t.Errorf("query = %q", query)
	}
	if ticker.Last != 43210.5 || ticker.Timestamp != 1700000000000 {
		t.Errorf("ticker = %+v", ticker)
	}
	if ticker.Volume == nil || *ticker.Volume != 1190.5 {
		t.Errorf("Volume = %v, want base volume", ticker.Volume)
	}
}

func TestBitgetFetchOhlcv(t *testing.T) {
	body := `{"code":"00000","msg":"success","requestTime":1,"data":[
		["1000","10","12","9","11","100","1100","1100"],
		["2000","11","13","10","12","150","1800","1800"]
	]}`

	var query string
	srv := newTestServer(t, "/api/v2/spot/market/candles", http.StatusOK, body, &query)
	client := NewBitgetClient(testExchangeConfig("bitget", srv.URL))

	series, err := client.FetchOhlcv(context.Background(), "BTC/USDT", "1h", 2)
	if err != nil {
		t.Fatalf("FetchOhlcv() error = %v", err)
	}

	if query != "granularity=1h&limit=2&symbol=BTCUSDT" {
		t.Errorf("query = %q", query)
	}
	if len(series.Data) != 2 || series.Data[0].Timestamp != 1000 || series.Data[1].Close != 12 {
		t.Errorf("series = %+v", series.Data)
	}
}

func TestBitgetErrorClassification(t *testing.T) {
	testCases := []struct {
		name   string
		status int
		body   string
		want   market.Kind
	}{
		{
			name:   "unknown symbol",
			status: http.StatusBadRequest,
			body:   `{"code":"40034","msg":"Parameter FOOUSDT does not exist","requestTime":1,"data":null}`,
			want:   market.KindNotFound,
		},
		{
			name:   "too many requests",
			status: http.StatusTooManyRequests,
			body:   `{"code":"429","msg":"Too Many Requests","requestTime":1,"data":null}`,
			want:   market.KindRateLimited,
		},
		{
			name:   "in-band failure",
			status: http.StatusOK,
			body:   `{"code":"40808","msg":"Parameter verification exception","requestTime":1,"data":null}`,
			want:   market.KindUpstreamOther,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			srv := newTestServer(t, "/api/v2/spot/market/tickers", tc.status, tc.body, nil)
			client := NewBitgetClient(testExchangeConfig("bitget", srv.URL))

			_, err := client.FetchTicker(context.Background(), "FOO/USDT")
			if got := market.ClassifyError(err); got != tc.want {
				t.Errorf("ClassifyError(%q) = %v, want %v", err, got, tc.want)
			}
		})
	}
}
