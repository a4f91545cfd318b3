package domain

// Timeframe identifies a candle aggregation interval.
type Timeframe string

// Supported timeframes.
const (
	Timeframe1m  Timeframe = "1m"
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
	Timeframe30m Timeframe = "30m"
	Timeframe1h  Timeframe = "1h"
	Timeframe4h  Timeframe = "4h"
	Timeframe1d  Timeframe = "1d"
	Timeframe1w  Timeframe = "1w"
)

// Timeframes lists all supported timeframes in ascending interval order.
var Timeframes = []Timeframe{
	Timeframe1m,
	Timeframe5m,
	Timeframe15m,
	Timeframe30m,
	Timeframe1h,
	Timeframe4h,
	Timeframe1d,
	Timeframe1w,
}

// timeframeMillis maps each timeframe to its interval length in milliseconds.
var timeframeMillis = map[Timeframe]int64{
	Timeframe1m:  60_000,
	Timeframe5m:  5 * 60_000,
	Timeframe15m: 15 * 60_000,
	Timeframe30m: 30 * 60_000,
	Timeframe1h:  3_600_000,
	Timeframe4h:  4 * 3_600_000,
	Timeframe1d:  86_400_000,
	Timeframe1w:  7 * 86_400_000,
}

// Millis returns the interval length in milliseconds, or 0 for an unknown timeframe.
func (tf Timeframe) Millis() int64 {
	return timeframeMillis[tf]
}

// Valid reports whether the timeframe is supported.
func (tf Timeframe) Valid() bool {
	_, ok := timeframeMillis[tf]
	return ok
}

// Candle is a mutable OHLCV aggregate keyed by (AgentID, Timeframe, IntervalStart).
// Open and Close belong to the earliest and latest trade by timestamp, not by
// apply order, so delayed reprocessing cannot rewrite them. High/Low are running
// extrema, Volume accumulates quote-asset notional and is non-decreasing within
// an interval.
type Candle struct {
	AgentID       string
	Timeframe     Timeframe
	IntervalStart int64 // calendar-aligned interval start (ms)
	Open          float64
	High          float64
	Low           float64
	Close         float64
	Volume        float64
	TradeCount    int64
	FirstTradeAt  int64 // timestamp of the trade that set Open (ms)
	LastTradeAt   int64 // timestamp of the trade that set Close (ms)
}
