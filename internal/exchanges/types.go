package exchanges

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/AyushMhaisane/mcp-crypto-server/internal/market"
	"github.com/shopspring/decimal"
)

// APIError is an error reported by an exchange's REST API.
// Its text keeps the exchange's own message so it can be classified downstream.
type APIError struct {
	Exchange string
	Status   int    // HTTP status, 200 when the error came inside a successful response
	Code     string // exchange-specific error code, may be empty
	Message  string
}

func (e *APIError) Error() string {
	var b strings.Builder
	b.WriteString(e.Exchange)
	b.WriteString(": ")
	if e.Status != 0 && e.Status != http.StatusOK {
		fmt.Fprintf(&b, "HTTP %d %s: ", e.Status, http.StatusText(e.Status))
	}
	b.WriteString(e.Message)
	if e.Code != "" {
		fmt.Fprintf(&b, " (code %s)", e.Code)
	}
	return b.String()
}

// parseFloat converts interface{} to float64, handling both string and number formats.
// Exchanges encode prices as decimal strings; decimal parsing rejects malformed values
// instead of silently yielding zero.
func parseFloat(v interface{}) (float64, error) {
	switch val := v.(type) {
	case float64:
		return val, nil
	case json.Number:
		return parseDecimal(val.String())
	case string:
		return parseDecimal(val)
	default:
		return 0, fmt.Errorf("unexpected numeric value %v (%T)", v, v)
	}
}

func parseDecimal(s string) (float64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid number %q: %w", s, err)
	}
	f, _ := d.Float64()
	return f, nil
}

// optionalFloat parses s, returning nil for empty or malformed input
func optionalFloat(s string) *float64 {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	f, err := parseDecimal(s)
	if err != nil {
		return nil
	}
	return &f
}

// parseRows converts positional candle rows into candles sorted ascending by timestamp,
// keeping at most limit of the most recent ones.
func parseRows(rows [][]interface{}, limit int) ([]market.Candlestick, error) {
	candles := make([]market.Candlestick, 0, len(rows))
	for i, row := range rows {
		if len(row) < 6 {
			return nil, fmt.Errorf("candle row %d has %d columns, want at least 6", i, len(row))
		}
		values := make([]float64, 6)
		for j := 0; j < 6; j++ {
			f, err := parseFloat(row[j])
			if err != nil {
				return nil, fmt.Errorf("candle row %d column %d: %w", i, j, err)
			}
			values[j] = f
		}
		candles = append(candles, market.CandleFromRow(values))
	}

	sort.SliceStable(candles, func(i, j int) bool {
		return candles[i].Timestamp < candles[j].Timestamp
	})
	if limit > 0 && len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}
	return candles, nil
}
