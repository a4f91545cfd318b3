package portfolio

import (
	"context"
	"fmt"
	"math"
	"sync"
	"testing"

	"ursus-market/internal/domain"
	"ursus-market/internal/storage/memory"
)

func newTestLedger() (*Ledger, *memory.PositionStore) {
	store := memory.NewPositionStore()
	return NewLedger(store, Options{}), store
}

func trade(side domain.Side, base, quote float64, tx string) *domain.Trade {
	return &domain.Trade{
		AgentID:     "agent-1",
		TraderID:    "user-1",
		Side:        side,
		BaseAmount:  base,
		QuoteAmount: quote,
		TxHash:      tx,
		Timestamp:   1_700_000_000_000,
	}
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestLedger_BuyThenSellScenario(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newTestLedger()

	// Buy 100 units at price 1.0.
	pos, err := ledger.ApplyTrade(ctx, trade(domain.SideBuy, 100, 100, "tx-1"))
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if !almostEqual(pos.Balance, 100) || !almostEqual(pos.TotalInvested, 100) || !almostEqual(pos.AverageCost, 1.0) {
		t.Fatalf("after buy: balance=%v invested=%v avgCost=%v", pos.Balance, pos.TotalInvested, pos.AverageCost)
	}

	// Sell 40 units at price 2.0.
	pos, err = ledger.ApplyTrade(ctx, trade(domain.SideSell, 40, 80, "tx-2"))
	if err != nil {
		t.Fatalf("sell: %v", err)
	}
	if !almostEqual(pos.Balance, 60) {
		t.Errorf("Balance = %v, want 60", pos.Balance)
	}
	if !almostEqual(pos.TotalInvested, 60) {
		t.Errorf("TotalInvested = %v, want 60", pos.TotalInvested)
	}
	if !almostEqual(pos.RealizedPnL, 40) {
		t.Errorf("RealizedPnL = %v, want 40", pos.RealizedPnL)
	}
	if !almostEqual(pos.AverageCost, 1.0) {
		t.Errorf("AverageCost = %v, want 1.0 (unchanged by sell)", pos.AverageCost)
	}
}

func TestLedger_AverageCostAcrossBuys(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newTestLedger()

	// 100 @ 1.0 then 100 @ 3.0 -> avg cost 2.0.
	if _, err := ledger.ApplyTrade(ctx, trade(domain.SideBuy, 100, 100, "tx-1")); err != nil {
		t.Fatalf("buy 1: %v", err)
	}
	pos, err := ledger.ApplyTrade(ctx, trade(domain.SideBuy, 100, 300, "tx-2"))
	if err != nil {
		t.Fatalf("buy 2: %v", err)
	}
	if !almostEqual(pos.AverageCost, 2.0) {
		t.Errorf("AverageCost = %v, want 2.0", pos.AverageCost)
	}
	if !almostEqual(pos.Balance, 200) || !almostEqual(pos.TotalInvested, 400) {
		t.Errorf("balance=%v invested=%v, want 200/400", pos.Balance, pos.TotalInvested)
	}
}

func TestLedger_OversellClamps(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newTestLedger()

	if _, err := ledger.ApplyTrade(ctx, trade(domain.SideBuy, 50, 50, "tx-1")); err != nil {
		t.Fatalf("buy: %v", err)
	}
	// Sell 80 with only 50 tracked: balance floors at 0, invested zeroed.
	pos, err := ledger.ApplyTrade(ctx, trade(domain.SideSell, 80, 160, "tx-2"))
	if err != nil {
		t.Fatalf("oversell: %v", err)
	}
	if pos.Balance != 0 {
		t.Errorf("Balance = %v, want 0", pos.Balance)
	}
	if !almostEqual(pos.TotalInvested, 0) {
		t.Errorf("TotalInvested = %v, want 0", pos.TotalInvested)
	}
}

func TestLedger_SellFromEmptyPosition(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newTestLedger()

	pos, err := ledger.ApplyTrade(ctx, trade(domain.SideSell, 10, 20, "tx-1"))
	if err != nil {
		t.Fatalf("sell: %v", err)
	}
	if pos.Balance != 0 {
		t.Errorf("Balance = %v, want 0", pos.Balance)
	}
	if !almostEqual(pos.RealizedPnL, 20) {
		t.Errorf("RealizedPnL = %v, want 20 (no cost basis)", pos.RealizedPnL)
	}
}

func TestLedger_BalanceNeverNegative(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newTestLedger()

	seq := []*domain.Trade{
		trade(domain.SideBuy, 10, 10, "tx-1"),
		trade(domain.SideSell, 25, 50, "tx-2"),
		trade(domain.SideBuy, 5, 10, "tx-3"),
		trade(domain.SideSell, 100, 100, "tx-4"),
	}
	for i, tr := range seq {
		pos, err := ledger.ApplyTrade(ctx, tr)
		if err != nil {
			t.Fatalf("trade %d: %v", i, err)
		}
		if pos.Balance < 0 {
			t.Fatalf("trade %d: balance went negative: %v", i, pos.Balance)
		}
	}
}

func TestLedger_RefreshValues(t *testing.T) {
	ctx := context.Background()
	ledger, store := newTestLedger()

	buy := trade(domain.SideBuy, 100, 100, "tx-1")
	if _, err := ledger.ApplyTrade(ctx, buy); err != nil {
		t.Fatalf("buy user-1: %v", err)
	}
	other := trade(domain.SideBuy, 50, 50, "tx-2")
	other.TraderID = "user-2"
	if _, err := ledger.ApplyTrade(ctx, other); err != nil {
		t.Fatalf("buy user-2: %v", err)
	}

	if err := ledger.RefreshValues(ctx, "agent-1", 3.0); err != nil {
		t.Fatalf("RefreshValues: %v", err)
	}

	p1, err := store.Get(ctx, "user-1", "agent-1")
	if err != nil {
		t.Fatalf("get user-1: %v", err)
	}
	if !almostEqual(p1.CurrentValue, 300) {
		t.Errorf("user-1 CurrentValue = %v, want 300", p1.CurrentValue)
	}
	p2, err := store.Get(ctx, "user-2", "agent-1")
	if err != nil {
		t.Fatalf("get user-2: %v", err)
	}
	if !almostEqual(p2.CurrentValue, 150) {
		t.Errorf("user-2 CurrentValue = %v, want 150", p2.CurrentValue)
	}
}

func TestLedger_ConcurrentSameKeyNoLostUpdates(t *testing.T) {
	ctx := context.Background()
	ledger, store := newTestLedger()

	const n = 100
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tr := trade(domain.SideBuy, 1, 1, fmt.Sprintf("tx-%d", i))
			if _, err := ledger.ApplyTrade(ctx, tr); err != nil {
				t.Errorf("trade %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	pos, err := store.Get(ctx, "user-1", "agent-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !almostEqual(pos.Balance, n) {
		t.Errorf("Balance = %v, want %d (lost updates)", pos.Balance, n)
	}
	if !almostEqual(pos.TotalInvested, n) {
		t.Errorf("TotalInvested = %v, want %d", pos.TotalInvested, n)
	}
}
