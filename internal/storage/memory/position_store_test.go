package memory

import (
	"context"
	"errors"
	"testing"

	"ursus-market/internal/domain"
	"ursus-market/internal/storage"
)

func TestPositionStore_UpsertAndGet(t *testing.T) {
	store := NewPositionStore()
	ctx := context.Background()

	p := &domain.Position{
		UserID:        "wallet-1",
		AgentID:       "agent-1",
		Balance:       100,
		TotalInvested: 100,
		AverageCost:   1,
	}
	if err := store.Upsert(ctx, p); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	got, err := store.Get(ctx, "wallet-1", "agent-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Balance != 100 {
		t.Errorf("Balance mismatch: got %f", got.Balance)
	}

	p.Balance = 60
	store.Upsert(ctx, p)
	got, _ = store.Get(ctx, "wallet-1", "agent-1")
	if got.Balance != 60 {
		t.Errorf("upsert must replace, got balance %f", got.Balance)
	}
}

func TestPositionStore_Get_NotFound(t *testing.T) {
	store := NewPositionStore()

	_, err := store.Get(context.Background(), "nobody", "agent-1")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestPositionStore_CountHolders_ExcludesEmptyPositions(t *testing.T) {
	store := NewPositionStore()
	ctx := context.Background()

	store.Upsert(ctx, &domain.Position{UserID: "w1", AgentID: "agent-1", Balance: 10})
	store.Upsert(ctx, &domain.Position{UserID: "w2", AgentID: "agent-1", Balance: 0})
	store.Upsert(ctx, &domain.Position{UserID: "w3", AgentID: "agent-1", Balance: 5})
	store.Upsert(ctx, &domain.Position{UserID: "w1", AgentID: "agent-2", Balance: 7})

	n, err := store.CountHolders(ctx, "agent-1")
	if err != nil {
		t.Fatalf("CountHolders failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 holders, got %d", n)
	}
}

func TestPositionStore_GetByAgent(t *testing.T) {
	store := NewPositionStore()
	ctx := context.Background()

	store.Upsert(ctx, &domain.Position{UserID: "w2", AgentID: "agent-1", Balance: 1})
	store.Upsert(ctx, &domain.Position{UserID: "w1", AgentID: "agent-1", Balance: 1})
	store.Upsert(ctx, &domain.Position{UserID: "w1", AgentID: "agent-2", Balance: 1})

	positions, err := store.GetByAgent(ctx, "agent-1")
	if err != nil {
		t.Fatalf("GetByAgent failed: %v", err)
	}
	if len(positions) != 2 {
		t.Fatalf("expected 2 positions, got %d", len(positions))
	}
	if positions[0].UserID != "w1" || positions[1].UserID != "w2" {
		t.Error("positions must be ordered by user ID")
	}
}
