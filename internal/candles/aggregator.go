package candles

import (
	"context"
	"errors"
	"fmt"

	"ursus-market/internal/domain"
	"ursus-market/internal/storage"
)

// weekAnchorMillis shifts week alignment so intervals start on Monday 00:00 UTC.
// The Unix epoch fell on a Thursday, four days before the first Monday.
const weekAnchorMillis = 4 * 24 * 60 * 60 * 1000

// Aggregator folds trades into OHLC candles across all supported timeframes.
// Open and close follow trade timestamps rather than apply order, so retried
// trades landing late still produce the right candle shape.
type Aggregator struct {
	candleStore storage.CandleStore
}

// NewAggregator creates a candle aggregator backed by the given store.
func NewAggregator(candleStore storage.CandleStore) *Aggregator {
	return &Aggregator{candleStore: candleStore}
}

// ApplyTrade updates one candle per timeframe for the trade's agent.
func (a *Aggregator) ApplyTrade(ctx context.Context, trade *domain.Trade) error {
	_, err := a.ApplyTimeframes(ctx, trade, domain.Timeframes)
	return err
}

// ApplyTimeframes folds the trade into the candle of each listed timeframe.
// Applying a trade mutates volume and trade count, so it must happen exactly
// once per (trade, timeframe): on failure the not-yet-applied timeframes are
// returned, and a retry must pass exactly that remainder to avoid
// double-counting the timeframes that already committed.
func (a *Aggregator) ApplyTimeframes(ctx context.Context, trade *domain.Trade, tfs []domain.Timeframe) ([]domain.Timeframe, error) {
	for i, tf := range tfs {
		start := IntervalStart(tf, trade.Timestamp)

		candle, err := a.candleStore.Get(ctx, trade.AgentID, tf, start)
		switch {
		case err == nil:
			applyToCandle(candle, trade)
		case errors.Is(err, storage.ErrNotFound):
			candle = newCandle(trade, tf, start)
		default:
			return tfs[i:], fmt.Errorf("load candle %s/%s: %w", trade.AgentID, tf, err)
		}

		if err := a.candleStore.Upsert(ctx, candle); err != nil {
			return tfs[i:], fmt.Errorf("upsert candle %s/%s: %w", trade.AgentID, tf, err)
		}
	}

	return nil, nil
}

// IntervalStart returns the calendar-aligned start (UTC, unix millis) of the
// interval containing ts for the given timeframe. Weekly intervals align to
// Monday 00:00 UTC.
func IntervalStart(tf domain.Timeframe, ts int64) int64 {
	millis := tf.Millis()
	if tf == domain.Timeframe1w {
		return floorDiv(ts-weekAnchorMillis, millis)*millis + weekAnchorMillis
	}
	return floorDiv(ts, millis) * millis
}

// floorDiv divides rounding toward negative infinity, unlike Go's
// truncating integer division.
func floorDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

func newCandle(trade *domain.Trade, tf domain.Timeframe, start int64) *domain.Candle {
	price := trade.Price()
	return &domain.Candle{
		AgentID:       trade.AgentID,
		Timeframe:     tf,
		IntervalStart: start,
		Open:          price,
		High:          price,
		Low:           price,
		Close:         price,
		Volume:        trade.QuoteAmount,
		TradeCount:    1,
		FirstTradeAt:  trade.Timestamp,
		LastTradeAt:   trade.Timestamp,
	}
}

// applyToCandle folds one trade into an existing candle. Open and Close are
// guarded by trade timestamps so a trade applied late (a retry landing after
// newer trades) cannot rewrite them out of order.
func applyToCandle(c *domain.Candle, trade *domain.Trade) {
	price := trade.Price()
	if price > c.High {
		c.High = price
	}
	if price < c.Low {
		c.Low = price
	}
	if trade.Timestamp < c.FirstTradeAt {
		c.Open = price
		c.FirstTradeAt = trade.Timestamp
	}
	if trade.Timestamp >= c.LastTradeAt {
		c.Close = price
		c.LastTradeAt = trade.Timestamp
	}
	c.Volume += trade.QuoteAmount
	c.TradeCount++
}
