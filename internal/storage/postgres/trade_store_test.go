package postgres

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ursus-market/internal/domain"
	"ursus-market/internal/storage"
)

func createTestTrade(txHash string, ts int64) *domain.Trade {
	return &domain.Trade{
		AgentID:     "agent-1",
		TraderID:    "trader-1",
		Side:        domain.SideBuy,
		BaseAmount:  100.5,
		QuoteAmount: 150.75,
		BlockHeight: 123456,
		TxHash:      txHash,
		Timestamp:   ts,
	}
}

func TestTradeStore_InsertAndGetByTxHash(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewTradeStore(pool)

	trade := createTestTrade("tx-001", 1_700_000_000_000)

	err := store.Insert(ctx, trade)
	require.NoError(t, err)

	retrieved, err := store.GetByTxHash(ctx, "tx-001")
	require.NoError(t, err)

	assert.Equal(t, trade.AgentID, retrieved.AgentID)
	assert.Equal(t, trade.TraderID, retrieved.TraderID)
	assert.Equal(t, trade.Side, retrieved.Side)
	assert.InDelta(t, trade.BaseAmount, retrieved.BaseAmount, 1e-9)
	assert.InDelta(t, trade.QuoteAmount, retrieved.QuoteAmount, 1e-9)
	assert.Equal(t, trade.BlockHeight, retrieved.BlockHeight)
	assert.Equal(t, trade.TxHash, retrieved.TxHash)
	assert.Equal(t, trade.Timestamp, retrieved.Timestamp)
}

func TestTradeStore_InsertDuplicateTxHash(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewTradeStore(pool)

	trade := createTestTrade("tx-dup", 1_700_000_000_000)
	require.NoError(t, store.Insert(ctx, trade))

	err := store.Insert(ctx, createTestTrade("tx-dup", 1_700_000_001_000))
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	count, err := store.CountByAgent(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestTradeStore_GetByTxHashNotFound(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewTradeStore(pool)

	_, err := store.GetByTxHash(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestTradeStore_GetByAgentOrdering(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewTradeStore(pool)

	// Insert out of timestamp order.
	timestamps := []int64{3000, 1000, 2000}
	for i, ts := range timestamps {
		require.NoError(t, store.Insert(ctx, createTestTrade(fmt.Sprintf("tx-%d", i), ts)))
	}

	trades, err := store.GetByAgent(ctx, "agent-1")
	require.NoError(t, err)
	require.Len(t, trades, 3)

	assert.Equal(t, int64(1000), trades[0].Timestamp)
	assert.Equal(t, int64(2000), trades[1].Timestamp)
	assert.Equal(t, int64(3000), trades[2].Timestamp)
}

func TestTradeStore_GetByAgentSince(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewTradeStore(pool)

	for i, ts := range []int64{1000, 2000, 3000} {
		require.NoError(t, store.Insert(ctx, createTestTrade(fmt.Sprintf("tx-%d", i), ts)))
	}

	trades, err := store.GetByAgentSince(ctx, "agent-1", 2000)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, int64(2000), trades[0].Timestamp)
	assert.Equal(t, int64(3000), trades[1].Timestamp)
}

func TestTradeStore_CountByAgentIsolated(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewTradeStore(pool)

	require.NoError(t, store.Insert(ctx, createTestTrade("tx-a", 1000)))

	other := createTestTrade("tx-b", 1000)
	other.AgentID = "agent-2"
	require.NoError(t, store.Insert(ctx, other))

	count, err := store.CountByAgent(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}
