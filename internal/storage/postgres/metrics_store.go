package postgres

import (
	"context"
	"fmt"

	"ursus-market/internal/domain"
	"ursus-market/internal/storage"
)

// MetricsStore implements storage.MetricsStore using PostgreSQL.
type MetricsStore struct {
	pool *Pool
}

// NewMetricsStore creates a new MetricsStore.
func NewMetricsStore(pool *Pool) *MetricsStore {
	return &MetricsStore{pool: pool}
}

// Compile-time interface check.
var _ storage.MetricsStore = (*MetricsStore)(nil)

// Upsert inserts or replaces the metrics snapshot for an agent.
func (s *MetricsStore) Upsert(ctx context.Context, m *domain.AgentMetrics) error {
	query := `
		INSERT INTO agent_metrics (
			agent_id, current_price, market_cap, volume_24h, price_change_24h,
			holders, all_time_high, all_time_low, total_transactions,
			graduation_progress, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (agent_id) DO UPDATE SET
			current_price = EXCLUDED.current_price,
			market_cap = EXCLUDED.market_cap,
			volume_24h = EXCLUDED.volume_24h,
			price_change_24h = EXCLUDED.price_change_24h,
			holders = EXCLUDED.holders,
			all_time_high = EXCLUDED.all_time_high,
			all_time_low = EXCLUDED.all_time_low,
			total_transactions = EXCLUDED.total_transactions,
			graduation_progress = EXCLUDED.graduation_progress,
			updated_at = EXCLUDED.updated_at
	`

	_, err := s.pool.Exec(ctx, query,
		m.AgentID, m.CurrentPrice, m.MarketCap, m.Volume24h, m.PriceChange24h,
		m.Holders, m.AllTimeHigh, m.AllTimeLow, m.TotalTransactions,
		m.GraduationProgress, m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert agent metrics: %w", err)
	}
	return nil
}

// Get retrieves the snapshot. Returns ErrNotFound if not exists.
func (s *MetricsStore) Get(ctx context.Context, agentID string) (*domain.AgentMetrics, error) {
	query := `
		SELECT agent_id, current_price, market_cap, volume_24h, price_change_24h,
			holders, all_time_high, all_time_low, total_transactions,
			graduation_progress, updated_at
		FROM agent_metrics
		WHERE agent_id = $1
	`

	var m domain.AgentMetrics
	err := s.pool.QueryRow(ctx, query, agentID).Scan(
		&m.AgentID, &m.CurrentPrice, &m.MarketCap, &m.Volume24h, &m.PriceChange24h,
		&m.Holders, &m.AllTimeHigh, &m.AllTimeLow, &m.TotalTransactions,
		&m.GraduationProgress, &m.UpdatedAt,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get agent metrics: %w", err)
	}
	return &m, nil
}
