package clickhouse

import (
	"context"
	"fmt"

	"ursus-market/internal/domain"
	"ursus-market/internal/storage"
)

// CandleStore implements storage.CandleStore using ClickHouse.
//
// Candles live in a ReplacingMergeTree versioned by trade_count: every upsert
// inserts a new row and reads collapse to the latest version with FINAL. The
// pipeline is the single writer per (agent, timeframe, interval), so versions
// are monotonic.
type CandleStore struct {
	conn *Conn
}

// NewCandleStore creates a new CandleStore.
func NewCandleStore(conn *Conn) *CandleStore {
	return &CandleStore{conn: conn}
}

// Compile-time interface check.
var _ storage.CandleStore = (*CandleStore)(nil)

// Get retrieves a candle. Returns ErrNotFound if not exists.
func (s *CandleStore) Get(ctx context.Context, agentID string, tf domain.Timeframe, intervalStart int64) (*domain.Candle, error) {
	query := `
		SELECT agent_id, timeframe, interval_start, open, high, low, close, volume, trade_count,
			first_trade_at, last_trade_at
		FROM candles FINAL
		WHERE agent_id = ? AND timeframe = ? AND interval_start = ?
	`

	rows, err := s.conn.Query(ctx, query, agentID, string(tf), uint64(intervalStart))
	if err != nil {
		return nil, fmt.Errorf("get candle: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("get candle: %w", err)
		}
		return nil, storage.ErrNotFound
	}
	return scanCandle(rows)
}

// Upsert inserts a new candle version; ReplacingMergeTree collapses to the
// highest trade_count on read.
func (s *CandleStore) Upsert(ctx context.Context, c *domain.Candle) error {
	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO candles (
			agent_id, timeframe, interval_start, open, high, low, close, volume, trade_count,
			first_trade_at, last_trade_at
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	err = batch.Append(
		c.AgentID, string(c.Timeframe), uint64(c.IntervalStart),
		c.Open, c.High, c.Low, c.Close, c.Volume, uint64(c.TradeCount),
		uint64(c.FirstTradeAt), uint64(c.LastTradeAt),
	)
	if err != nil {
		return fmt.Errorf("append to batch: %w", err)
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetRange retrieves candles with interval_start in [from, to] inclusive,
// ordered by interval_start ASC.
func (s *CandleStore) GetRange(ctx context.Context, agentID string, tf domain.Timeframe, from, to int64) ([]*domain.Candle, error) {
	query := `
		SELECT agent_id, timeframe, interval_start, open, high, low, close, volume, trade_count,
			first_trade_at, last_trade_at
		FROM candles FINAL
		WHERE agent_id = ? AND timeframe = ? AND interval_start >= ? AND interval_start <= ?
		ORDER BY interval_start ASC
	`

	rows, err := s.conn.Query(ctx, query, agentID, string(tf), uint64(from), uint64(to))
	if err != nil {
		return nil, fmt.Errorf("get candle range: %w", err)
	}
	defer rows.Close()

	var candles []*domain.Candle
	for rows.Next() {
		c, err := scanCandle(rows)
		if err != nil {
			return nil, err
		}
		candles = append(candles, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candle rows: %w", err)
	}
	return candles, nil
}

// scanner is the subset of driver rows scanCandle needs.
type scanner interface {
	Scan(dest ...any) error
}

// scanCandle scans the current row into a Candle.
func scanCandle(row scanner) (*domain.Candle, error) {
	var c domain.Candle
	var tf string
	var intervalStart, tradeCount, firstAt, lastAt uint64

	err := row.Scan(
		&c.AgentID, &tf, &intervalStart,
		&c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &tradeCount,
		&firstAt, &lastAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan candle row: %w", err)
	}
	c.Timeframe = domain.Timeframe(tf)
	c.IntervalStart = int64(intervalStart)
	c.TradeCount = int64(tradeCount)
	c.FirstTradeAt = int64(firstAt)
	c.LastTradeAt = int64(lastAt)
	return &c, nil
}
