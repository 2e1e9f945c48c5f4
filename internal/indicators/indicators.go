package indicators

import (
	"errors"
	"fmt"
	"math"

	"github.com/AyushMhaisane/mcp-crypto-server/internal/market"
	"github.com/markcheno/go-talib"
)

// MinCandles is the shortest series Compute accepts
const MinCandles = 30

// ErrInsufficientHistory is returned when a series is shorter than MinCandles
var ErrInsufficientHistory = errors.New("not enough candles to compute indicators")

// Params holds the indicator periods
type Params struct {
	SMAPeriod  int
	EMAPeriod  int
	RSIPeriod  int
	BBPeriod   int
	BBDev      float64
	ATRPeriod  int
	MACDFast   int
	MACDSlow   int
	MACDSignal int
}

// DefaultParams are the periods used by the indicators endpoint
var DefaultParams = Params{
	SMAPeriod:  20,
	EMAPeriod:  20,
	RSIPeriod:  14,
	BBPeriod:   20,
	BBDev:      2,
	ATRPeriod:  14,
	MACDFast:   12,
	MACDSlow:   26,
	MACDSignal: 9,
}

// Snapshot is the latest value of each indicator for a series.
// A field is nil when the series is too short for that indicator's lookback.
type Snapshot struct {
	Symbol     string   `json:"symbol"`
	Timeframe  string   `json:"timeframe"`
	Timestamp  int64    `json:"timestamp"` // open time of the last candle
	Candles    int      `json:"candles"`
	Close      float64  `json:"close"`
	SMA        *float64 `json:"sma"`
	EMA        *float64 `json:"ema"`
	RSI        *float64 `json:"rsi"`
	BBUpper    *float64 `json:"bb_upper"`
	BBMiddle   *float64 `json:"bb_middle"`
	BBLower    *float64 `json:"bb_lower"`
	ATR        *float64 `json:"atr"`
	MACD       *float64 `json:"macd"`
	MACDSignal *float64 `json:"macd_signal"`
	MACDHist   *float64 `json:"macd_hist"`
}

// Compute calculates the indicators over series with DefaultParams
func Compute(series *market.OhlcvSeries) (*Snapshot, error) {
	return ComputeWith(series, DefaultParams)
}

// ComputeWith calculates the indicators over series with the given periods
func ComputeWith(series *market.OhlcvSeries, p Params) (*Snapshot, error) {
	if series == nil || len(series.Data) < MinCandles {
		n := 0
		if series != nil {
			n = len(series.Data)
		}
		return nil, fmt.Errorf("%w: have %d, need %d", ErrInsufficientHistory, n, MinCandles)
	}

	n := len(series.Data)
	closes := make([]float64, n)
	highs := make([]float64, n)
	lows := make([]float64, n)
	for i, c := range series.Data {
		closes[i] = c.Close
		highs[i] = c.High
		lows[i] = c.Low
	}

	last := series.Data[n-1]
	snap := &Snapshot{
		Symbol:    series.Symbol,
		Timeframe: series.Timeframe,
		Timestamp: last.Timestamp,
		Candles:   n,
		Close:     last.Close,
	}

	// talib pads the first lookback outputs with zeros, so only read the
	// last value once the series covers the lookback
	if n >= p.SMAPeriod {
		snap.SMA = latest(talib.Sma(closes, p.SMAPeriod))
	}
	if n >= p.EMAPeriod {
		snap.EMA = latest(talib.Ema(closes, p.EMAPeriod))
	}
	if n > p.RSIPeriod {
		snap.RSI = latest(talib.Rsi(closes, p.RSIPeriod))
	}
	if n >= p.BBPeriod {
		upper, middle, lower := talib.BBands(closes, p.BBPeriod, p.BBDev, p.BBDev, talib.SMA)
		snap.BBUpper = latest(upper)
		snap.BBMiddle = latest(middle)
		snap.BBLower = latest(lower)
	}
	if n > p.ATRPeriod {
		snap.ATR = latest(talib.Atr(highs, lows, closes, p.ATRPeriod))
	}
	if n >= p.MACDSlow+p.MACDSignal-1 {
		macd, signal, hist := talib.Macd(closes, p.MACDFast, p.MACDSlow, p.MACDSignal)
		snap.MACD = latest(macd)
		snap.MACDSignal = latest(signal)
		snap.MACDHist = latest(hist)
	}

	return snap, nil
}

// latest returns the last finite value of out
func latest(out []float64) *float64 {
	if len(out) == 0 {
		return nil
	}
	v := out[len(out)-1]
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
