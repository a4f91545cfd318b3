package rollup

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"ursus-market/internal/curve"
	"ursus-market/internal/domain"
	"ursus-market/internal/storage"
)

const window24h = 24 * time.Hour

// Rollup recomputes the derived AgentMetrics snapshot from trade and
// position history. It is a pure read-then-write consumer: candle and
// position correctness never depends on it, and the snapshot can be
// rebuilt from scratch at any time.
type Rollup struct {
	tradeStore    storage.TradeStore
	positionStore storage.PositionStore
	agentStore    storage.AgentStore
	metricsStore  storage.MetricsStore

	logger *log.Logger
	now    func() time.Time
}

// Options configures a Rollup. Zero value uses defaults.
type Options struct {
	Logger *log.Logger
	Now    func() time.Time
}

// New creates a metrics rollup over the given stores.
func New(trades storage.TradeStore, positions storage.PositionStore, agents storage.AgentStore, metrics storage.MetricsStore, opts Options) *Rollup {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Rollup{
		tradeStore:    trades,
		positionStore: positions,
		agentStore:    agents,
		metricsStore:  metrics,
		logger:        logger,
		now:           now,
	}
}

// Recompute rebuilds the metrics snapshot for one agent and persists it.
// When the agent has no trades yet, price falls back to the bonding curve
// spot price so a freshly launched agent still reports a quote.
func (r *Rollup) Recompute(ctx context.Context, agentID string) (*domain.AgentMetrics, error) {
	agent, err := r.agentStore.Get(ctx, agentID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("load agent %s: %w", agentID, err)
	}

	trades, err := r.tradeStore.GetByAgent(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("load trades for %s: %w", agentID, err)
	}

	holders, err := r.positionStore.CountHolders(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("count holders for %s: %w", agentID, err)
	}

	nowMillis := r.now().UnixMilli()
	m := computeFromHistory(agentID, trades, nowMillis)
	m.Holders = holders

	if agent != nil {
		if len(trades) == 0 {
			m.CurrentPrice = curve.SpotPrice(agent.Curve)
		}
		m.MarketCap = curve.MarketCap(agent.Curve)
		m.GraduationProgress = curve.GraduationProgress(agent.Curve)
	}

	if err := r.metricsStore.Upsert(ctx, m); err != nil {
		return nil, fmt.Errorf("upsert metrics for %s: %w", agentID, err)
	}
	return m, nil
}

// RecomputeAll rebuilds snapshots for every known agent. Failures on one
// agent are logged and do not abort the rest; the first error is returned
// after the sweep completes.
func (r *Rollup) RecomputeAll(ctx context.Context) error {
	agents, err := r.agentStore.List(ctx)
	if err != nil {
		return fmt.Errorf("list agents: %w", err)
	}

	var firstErr error
	for _, agent := range agents {
		if _, err := r.Recompute(ctx, agent.AgentID); err != nil {
			r.logger.Printf("ERROR: recompute metrics for %s: %v", agent.AgentID, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// computeFromHistory derives the trade-sourced metric fields. Trades are
// ordered by timestamp ascending; the last one carries the current price.
func computeFromHistory(agentID string, trades []*domain.Trade, nowMillis int64) *domain.AgentMetrics {
	m := &domain.AgentMetrics{
		AgentID:           agentID,
		TotalTransactions: int64(len(trades)),
		UpdatedAt:         nowMillis,
	}
	if len(trades) == 0 {
		return m
	}

	cutoff := nowMillis - window24h.Milliseconds()
	var priceAtCutoff float64

	for _, t := range trades {
		price := t.Price()
		if m.AllTimeHigh == 0 || price > m.AllTimeHigh {
			m.AllTimeHigh = price
		}
		if m.AllTimeLow == 0 || price < m.AllTimeLow {
			m.AllTimeLow = price
		}
		if t.Timestamp >= cutoff {
			m.Volume24h += t.QuoteAmount
		} else {
			priceAtCutoff = price
		}
		m.CurrentPrice = price
	}

	if priceAtCutoff > 0 {
		m.PriceChange24h = (m.CurrentPrice - priceAtCutoff) / priceAtCutoff
	}
	return m
}
