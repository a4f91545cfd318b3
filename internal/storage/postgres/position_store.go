package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"ursus-market/internal/domain"
	"ursus-market/internal/storage"
)

// PositionStore implements storage.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *Pool
}

// NewPositionStore creates a new PositionStore.
func NewPositionStore(pool *Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

// Compile-time interface check.
var _ storage.PositionStore = (*PositionStore)(nil)

// Get retrieves a position. Returns ErrNotFound if not exists.
func (s *PositionStore) Get(ctx context.Context, userID, agentID string) (*domain.Position, error) {
	query := `
		SELECT user_id, agent_id, balance, total_invested, average_cost, realized_pnl, current_value, last_trade_at
		FROM positions
		WHERE user_id = $1 AND agent_id = $2
	`

	var p domain.Position
	err := s.pool.QueryRow(ctx, query, userID, agentID).Scan(
		&p.UserID,
		&p.AgentID,
		&p.Balance,
		&p.TotalInvested,
		&p.AverageCost,
		&p.RealizedPnL,
		&p.CurrentValue,
		&p.LastTradeAt,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get position: %w", err)
	}
	return &p, nil
}

// Upsert inserts or replaces a position by (user_id, agent_id).
func (s *PositionStore) Upsert(ctx context.Context, p *domain.Position) error {
	query := `
		INSERT INTO positions (
			user_id, agent_id, balance, total_invested, average_cost, realized_pnl, current_value, last_trade_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id, agent_id) DO UPDATE SET
			balance = EXCLUDED.balance,
			total_invested = EXCLUDED.total_invested,
			average_cost = EXCLUDED.average_cost,
			realized_pnl = EXCLUDED.realized_pnl,
			current_value = EXCLUDED.current_value,
			last_trade_at = EXCLUDED.last_trade_at
	`

	_, err := s.pool.Exec(ctx, query,
		p.UserID,
		p.AgentID,
		p.Balance,
		p.TotalInvested,
		p.AverageCost,
		p.RealizedPnL,
		p.CurrentValue,
		p.LastTradeAt,
	)
	if err != nil {
		return fmt.Errorf("upsert position: %w", err)
	}
	return nil
}

// GetByAgent retrieves all positions for an agent.
func (s *PositionStore) GetByAgent(ctx context.Context, agentID string) ([]*domain.Position, error) {
	query := `
		SELECT user_id, agent_id, balance, total_invested, average_cost, realized_pnl, current_value, last_trade_at
		FROM positions
		WHERE agent_id = $1
		ORDER BY user_id ASC
	`

	rows, err := s.pool.Query(ctx, query, agentID)
	if err != nil {
		return nil, fmt.Errorf("get positions by agent: %w", err)
	}
	defer rows.Close()

	return scanPositions(rows)
}

// CountHolders returns the number of positions with balance > 0.
func (s *PositionStore) CountHolders(ctx context.Context, agentID string) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM positions WHERE agent_id = $1 AND balance > 0`, agentID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count holders: %w", err)
	}
	return n, nil
}

// scanPositions scans multiple rows into a slice of Position.
func scanPositions(rows pgx.Rows) ([]*domain.Position, error) {
	var positions []*domain.Position

	for rows.Next() {
		var p domain.Position

		err := rows.Scan(
			&p.UserID,
			&p.AgentID,
			&p.Balance,
			&p.TotalInvested,
			&p.AverageCost,
			&p.RealizedPnL,
			&p.CurrentValue,
			&p.LastTradeAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan position row: %w", err)
		}

		positions = append(positions, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate position rows: %w", err)
	}

	return positions, nil
}
