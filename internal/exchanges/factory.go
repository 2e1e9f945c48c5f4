package exchanges

import (
	"fmt"
	"strings"

	"github.com/AyushMhaisane/mcp-crypto-server/internal/config"
	"github.com/AyushMhaisane/mcp-crypto-server/internal/market"
)

// NewClient creates a REST client for the configured exchange id
func NewClient(cfg config.ExchangeConfig) (market.ExchangeClient, error) {
	switch strings.ToLower(cfg.ID) {
	case "binance":
		return NewBinanceClient(cfg), nil
	case "okx":
		return NewOKXClient(cfg), nil
	case "bybit":
		return NewBybitClient(cfg), nil
	case "gate":
		return NewGateClient(cfg), nil
	case "bitget":
		return NewBitgetClient(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported exchange: %s", cfg.ID)
	}
}
