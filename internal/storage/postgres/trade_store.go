package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"ursus-market/internal/domain"
	"ursus-market/internal/storage"
)

// TradeStore implements storage.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *Pool
}

// NewTradeStore creates a new TradeStore.
func NewTradeStore(pool *Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

// Compile-time interface check.
var _ storage.TradeStore = (*TradeStore)(nil)

// Insert adds a new trade. Returns ErrDuplicateKey if tx_hash exists.
func (s *TradeStore) Insert(ctx context.Context, t *domain.Trade) error {
	query := `
		INSERT INTO trades (
			agent_id, trader_id, side, base_amount, quote_amount, block_height, tx_hash, timestamp
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := s.pool.Exec(ctx, query,
		t.AgentID,
		t.TraderID,
		string(t.Side),
		t.BaseAmount,
		t.QuoteAmount,
		t.BlockHeight,
		t.TxHash,
		t.Timestamp,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

// GetByTxHash retrieves a trade by signature. Returns ErrNotFound if not exists.
func (s *TradeStore) GetByTxHash(ctx context.Context, txHash string) (*domain.Trade, error) {
	query := `
		SELECT agent_id, trader_id, side, base_amount, quote_amount, block_height, tx_hash, timestamp
		FROM trades
		WHERE tx_hash = $1
	`

	var t domain.Trade
	var side string
	err := s.pool.QueryRow(ctx, query, txHash).Scan(
		&t.AgentID,
		&t.TraderID,
		&side,
		&t.BaseAmount,
		&t.QuoteAmount,
		&t.BlockHeight,
		&t.TxHash,
		&t.Timestamp,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get trade by tx hash: %w", err)
	}
	t.Side = domain.Side(side)
	return &t, nil
}

// GetByAgent retrieves all trades for an agent, ordered by timestamp ASC.
func (s *TradeStore) GetByAgent(ctx context.Context, agentID string) ([]*domain.Trade, error) {
	return s.GetByAgentSince(ctx, agentID, 0)
}

// GetByAgentSince retrieves trades for an agent with timestamp >= since,
// ordered by timestamp ASC.
func (s *TradeStore) GetByAgentSince(ctx context.Context, agentID string, since int64) ([]*domain.Trade, error) {
	query := `
		SELECT agent_id, trader_id, side, base_amount, quote_amount, block_height, tx_hash, timestamp
		FROM trades
		WHERE agent_id = $1 AND timestamp >= $2
		ORDER BY timestamp ASC, tx_hash ASC
	`

	rows, err := s.pool.Query(ctx, query, agentID, since)
	if err != nil {
		return nil, fmt.Errorf("get trades by agent: %w", err)
	}
	defer rows.Close()

	return scanTrades(rows)
}

// CountByAgent returns the total number of trades recorded for an agent.
func (s *TradeStore) CountByAgent(ctx context.Context, agentID string) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM trades WHERE agent_id = $1`, agentID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count trades by agent: %w", err)
	}
	return n, nil
}

// scanTrades scans multiple rows into a slice of Trade.
func scanTrades(rows pgx.Rows) ([]*domain.Trade, error) {
	var trades []*domain.Trade

	for rows.Next() {
		var t domain.Trade
		var side string

		err := rows.Scan(
			&t.AgentID,
			&t.TraderID,
			&side,
			&t.BaseAmount,
			&t.QuoteAmount,
			&t.BlockHeight,
			&t.TxHash,
			&t.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("scan trade row: %w", err)
		}
		t.Side = domain.Side(side)

		trades = append(trades, &t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trade rows: %w", err)
	}

	return trades, nil
}
