package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ursus-market/internal/domain"
	"ursus-market/internal/storage"
)

func createTestMetrics(agentID string) *domain.AgentMetrics {
	return &domain.AgentMetrics{
		AgentID:            agentID,
		CurrentPrice:       1.5,
		MarketCap:          1_500_000,
		Volume24h:          25_000,
		PriceChange24h:     0.12,
		Holders:            42,
		AllTimeHigh:        2.1,
		AllTimeLow:         0.3,
		TotalTransactions:  1234,
		GraduationProgress: 0.55,
		UpdatedAt:          1_700_000_000_000,
	}
}

func TestMetricsStore_UpsertAndGet(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewMetricsStore(pool)

	m := createTestMetrics("agent-1")
	require.NoError(t, store.Upsert(ctx, m))

	retrieved, err := store.Get(ctx, "agent-1")
	require.NoError(t, err)

	assert.Equal(t, m.AgentID, retrieved.AgentID)
	assert.InDelta(t, m.CurrentPrice, retrieved.CurrentPrice, 1e-9)
	assert.InDelta(t, m.MarketCap, retrieved.MarketCap, 1e-9)
	assert.InDelta(t, m.Volume24h, retrieved.Volume24h, 1e-9)
	assert.InDelta(t, m.PriceChange24h, retrieved.PriceChange24h, 1e-9)
	assert.Equal(t, m.Holders, retrieved.Holders)
	assert.InDelta(t, m.AllTimeHigh, retrieved.AllTimeHigh, 1e-9)
	assert.InDelta(t, m.AllTimeLow, retrieved.AllTimeLow, 1e-9)
	assert.Equal(t, m.TotalTransactions, retrieved.TotalTransactions)
	assert.InDelta(t, m.GraduationProgress, retrieved.GraduationProgress, 1e-9)
	assert.Equal(t, m.UpdatedAt, retrieved.UpdatedAt)
}

func TestMetricsStore_UpsertIsLastWriterWins(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewMetricsStore(pool)

	require.NoError(t, store.Upsert(ctx, createTestMetrics("agent-1")))

	updated := createTestMetrics("agent-1")
	updated.CurrentPrice = 3.0
	updated.TotalTransactions = 2000
	require.NoError(t, store.Upsert(ctx, updated))

	retrieved, err := store.Get(ctx, "agent-1")
	require.NoError(t, err)
	assert.InDelta(t, 3.0, retrieved.CurrentPrice, 1e-9)
	assert.Equal(t, int64(2000), retrieved.TotalTransactions)
}

func TestMetricsStore_GetNotFound(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewMetricsStore(pool)

	_, err := store.Get(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
