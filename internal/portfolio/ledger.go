package portfolio

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"ursus-market/internal/domain"
	"ursus-market/internal/observability"
	"ursus-market/internal/storage"
)

// Ledger maintains per-(user, agent) position state from trade deltas.
// Each position key gets its own critical section so concurrent processing
// of trades for the same user never loses an update, while distinct keys
// proceed in parallel.
type Ledger struct {
	positionStore storage.PositionStore
	logger        *log.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Options configures a Ledger. Zero value uses defaults.
type Options struct {
	Logger *log.Logger
}

// NewLedger creates a position ledger backed by the given store.
func NewLedger(positionStore storage.PositionStore, opts Options) *Ledger {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Ledger{
		positionStore: positionStore,
		logger:        logger,
		locks:         make(map[string]*sync.Mutex),
	}
}

// ApplyTrade folds one trade into the trader's position and persists it.
// Buys raise the average cost basis; sells realize P&L against it without
// changing it. Oversells (sell amount exceeding tracked balance) are
// clamped rather than rejected since the upstream source is eventually
// consistent, and logged for offline reconciliation.
func (l *Ledger) ApplyTrade(ctx context.Context, trade *domain.Trade) (*domain.Position, error) {
	lock := l.lockFor(trade.TraderID, trade.AgentID)
	lock.Lock()
	defer lock.Unlock()

	pos, err := l.positionStore.Get(ctx, trade.TraderID, trade.AgentID)
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrNotFound):
		pos = &domain.Position{UserID: trade.TraderID, AgentID: trade.AgentID}
	default:
		return nil, fmt.Errorf("load position %s/%s: %w", trade.TraderID, trade.AgentID, err)
	}

	switch trade.Side {
	case domain.SideBuy:
		applyBuy(pos, trade)
	case domain.SideSell:
		l.applySell(pos, trade)
	default:
		return nil, fmt.Errorf("%w: unknown side %q", storage.ErrInvalidInput, trade.Side)
	}

	pos.CurrentValue = pos.Balance * trade.Price()
	pos.LastTradeAt = trade.Timestamp

	if err := l.positionStore.Upsert(ctx, pos); err != nil {
		return nil, fmt.Errorf("upsert position %s/%s: %w", trade.TraderID, trade.AgentID, err)
	}
	return pos, nil
}

// RefreshValues recomputes CurrentValue for every holder of the agent at
// the given price. Trades by any user move the mark for all holders.
func (l *Ledger) RefreshValues(ctx context.Context, agentID string, price float64) error {
	positions, err := l.positionStore.GetByAgent(ctx, agentID)
	if err != nil {
		return fmt.Errorf("list positions for %s: %w", agentID, err)
	}

	for _, pos := range positions {
		lock := l.lockFor(pos.UserID, agentID)
		lock.Lock()
		current, err := l.positionStore.Get(ctx, pos.UserID, agentID)
		if err != nil {
			lock.Unlock()
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return fmt.Errorf("reload position %s/%s: %w", pos.UserID, agentID, err)
		}
		current.CurrentValue = current.Balance * price
		err = l.positionStore.Upsert(ctx, current)
		lock.Unlock()
		if err != nil {
			return fmt.Errorf("refresh position %s/%s: %w", pos.UserID, agentID, err)
		}
	}
	return nil
}

func applyBuy(pos *domain.Position, trade *domain.Trade) {
	pos.Balance += trade.BaseAmount
	pos.TotalInvested += trade.QuoteAmount
	pos.AverageCost = pos.TotalInvested / pos.Balance
}

func (l *Ledger) applySell(pos *domain.Position, trade *domain.Trade) {
	sellRatio := 1.0
	if pos.Balance > 0 {
		sellRatio = trade.BaseAmount / pos.Balance
		if sellRatio > 1 {
			sellRatio = 1
		}
	}
	if trade.BaseAmount > pos.Balance {
		l.logger.Printf("WARN: oversell on %s/%s: selling %.9f with tracked balance %.9f (tx %s)",
			trade.TraderID, trade.AgentID, trade.BaseAmount, pos.Balance, trade.TxHash)
		observability.DefaultMetrics.OversellsClamped.Inc()
	}

	pos.Balance -= trade.BaseAmount
	if pos.Balance < 0 {
		pos.Balance = 0
	}
	pos.TotalInvested *= 1 - sellRatio
	pos.RealizedPnL += trade.QuoteAmount - pos.AverageCost*trade.BaseAmount
	// AverageCost intentionally unchanged on sell.
}

func (l *Ledger) lockFor(userID, agentID string) *sync.Mutex {
	key := userID + "|" + agentID
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[key] = lock
	}
	return lock
}
