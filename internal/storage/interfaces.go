package storage

import (
	"context"

	"ursus-market/internal/domain"
)

// TradeStore provides access to trade storage. Trades are append-only;
// TxHash carries the unique constraint that enforces idempotence.
type TradeStore interface {
	// Insert adds a new trade. Returns ErrDuplicateKey if tx_hash exists.
	Insert(ctx context.Context, t *domain.Trade) error

	// GetByTxHash retrieves a trade by signature. Returns ErrNotFound if not exists.
	GetByTxHash(ctx context.Context, txHash string) (*domain.Trade, error)

	// GetByAgent retrieves all trades for an agent, ordered by timestamp ASC.
	GetByAgent(ctx context.Context, agentID string) ([]*domain.Trade, error)

	// GetByAgentSince retrieves trades for an agent with timestamp >= since (ms),
	// ordered by timestamp ASC.
	GetByAgentSince(ctx context.Context, agentID string, since int64) ([]*domain.Trade, error)

	// CountByAgent returns the total number of trades recorded for an agent.
	CountByAgent(ctx context.Context, agentID string) (int64, error)
}

// CandleStore provides access to OHLCV candle storage, keyed by
// (agent_id, timeframe, interval_start).
type CandleStore interface {
	// Get retrieves a candle. Returns ErrNotFound if not exists.
	Get(ctx context.Context, agentID string, tf domain.Timeframe, intervalStart int64) (*domain.Candle, error)

	// Upsert inserts or replaces a candle.
	Upsert(ctx context.Context, c *domain.Candle) error

	// GetRange retrieves candles for (agent, timeframe) with interval_start in
	// [from, to] inclusive, ordered by interval_start ASC.
	GetRange(ctx context.Context, agentID string, tf domain.Timeframe, from, to int64) ([]*domain.Candle, error)
}

// PositionStore provides access to per-(user, agent) position storage.
type PositionStore interface {
	// Get retrieves a position. Returns ErrNotFound if not exists.
	Get(ctx context.Context, userID, agentID string) (*domain.Position, error)

	// Upsert inserts or replaces a position.
	Upsert(ctx context.Context, p *domain.Position) error

	// GetByAgent retrieves all positions for an agent.
	GetByAgent(ctx context.Context, agentID string) ([]*domain.Position, error)

	// CountHolders returns the number of positions with balance > 0.
	CountHolders(ctx context.Context, agentID string) (int64, error)
}

// AgentStore provides access to agent entities and their mirrored curve state.
type AgentStore interface {
	// Insert adds a new agent. Returns ErrDuplicateKey if agent_id exists.
	Insert(ctx context.Context, a *domain.Agent) error

	// Get retrieves an agent. Returns ErrNotFound if not exists.
	Get(ctx context.Context, agentID string) (*domain.Agent, error)

	// Update replaces an agent's mutable state (curve reserves, graduation).
	// Returns ErrNotFound if not exists.
	Update(ctx context.Context, a *domain.Agent) error

	// List retrieves all agents.
	List(ctx context.Context) ([]*domain.Agent, error)
}

// MetricsStore provides access to the derived AgentMetrics snapshot. The
// snapshot is advisory and fully recomputable; Upsert semantics are
// last-writer-wins.
type MetricsStore interface {
	// Upsert inserts or replaces the metrics snapshot for an agent.
	Upsert(ctx context.Context, m *domain.AgentMetrics) error

	// Get retrieves the snapshot. Returns ErrNotFound if not exists.
	Get(ctx context.Context, agentID string) (*domain.AgentMetrics, error)
}
