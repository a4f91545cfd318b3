// Package pipeline owns the trade processing core: four bounded queues
// drained on independent cadences, funneling verified trades into candles,
// positions, agent state, and the metrics snapshot, then fanning results
// out to subscribers.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"ursus-market/internal/broadcast"
	"ursus-market/internal/cache"
	"ursus-market/internal/candles"
	"ursus-market/internal/curve"
	"ursus-market/internal/domain"
	"ursus-market/internal/observability"
	"ursus-market/internal/portfolio"
	"ursus-market/internal/queue"
	"ursus-market/internal/rollup"
	"ursus-market/internal/scheduler"
	"ursus-market/internal/storage"
)

// ErrInvalidTrade is returned synchronously by Ingest for malformed
// payloads. It is the only error the event source ever sees; everything
// downstream is handled internally.
var ErrInvalidTrade = errors.New("invalid trade")

// ErrShuttingDown is returned by Ingest once shutdown has begun.
var ErrShuttingDown = errors.New("pipeline shutting down")

// Queue names, also used as metric labels.
const (
	queueTrades       = "trades"
	queuePriceHistory = "price_history"
	queuePortfolio    = "portfolio"
	queueMetrics      = "metrics"
)

// Coordinator sequences the pipeline. It exclusively owns the queues and
// the cache; candle, position, agent, and metrics records are mutated only
// through its drain loops, which gives single-writer semantics per entity
// key.
type Coordinator struct {
	cfg    Config
	logger *log.Logger

	tradeStore   storage.TradeStore
	agentStore   storage.AgentStore
	metricsStore storage.MetricsStore

	aggregator *candles.Aggregator
	ledger     *portfolio.Ledger
	rollup     *rollup.Rollup
	publisher  broadcast.Publisher
	cache      *cache.Cache

	sched *scheduler.Scheduler
	clock scheduler.Clock

	tradeQueue        *queue.Queue
	priceHistoryQueue *queue.Queue
	portfolioQueue    *queue.Queue
	metricsQueue      *queue.Queue

	kick         chan struct{}
	draining     atomic.Bool
	retryPending atomic.Int64
	shuttingDown atomic.Bool
	aboveAggWarn atomic.Bool
	cancelLoops  context.CancelFunc
	startOnce    sync.Once
	shutdownOnce sync.Once
}

// Options wires a Coordinator. Stores and Publisher are required.
type Options struct {
	Config Config

	TradeStore    storage.TradeStore
	CandleStore   storage.CandleStore
	PositionStore storage.PositionStore
	AgentStore    storage.AgentStore
	MetricsStore  storage.MetricsStore

	Publisher broadcast.Publisher

	// Clock defaults to the wall clock; tests inject a manual one.
	Clock  scheduler.Clock
	Logger *log.Logger
}

// New creates a Coordinator. Loops do not run until Start.
func New(opts Options) (*Coordinator, error) {
	if opts.TradeStore == nil || opts.CandleStore == nil || opts.PositionStore == nil ||
		opts.AgentStore == nil || opts.MetricsStore == nil {
		return nil, fmt.Errorf("pipeline: all stores are required")
	}
	if opts.Publisher == nil {
		return nil, fmt.Errorf("pipeline: publisher is required")
	}

	cfg := opts.Config.withDefaults()
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	clock := opts.Clock
	if clock == nil {
		clock = scheduler.Real()
	}

	c := &Coordinator{
		cfg:          cfg,
		logger:       logger,
		tradeStore:   opts.TradeStore,
		agentStore:   opts.AgentStore,
		metricsStore: opts.MetricsStore,
		aggregator:   candles.NewAggregator(opts.CandleStore),
		ledger:       portfolio.NewLedger(opts.PositionStore, portfolio.Options{Logger: logger}),
		rollup: rollup.New(opts.TradeStore, opts.PositionStore, opts.AgentStore, opts.MetricsStore, rollup.Options{
			Logger: logger,
			Now:    clock.Now,
		}),
		publisher: opts.Publisher,
		cache: cache.New(cache.Options{
			MaxPartitionSize: cfg.MaxCacheSize,
			CleanupInterval:  cfg.CacheCleanupInterval,
			Now:              clock.Now,
			Logger:           logger,
		}),
		sched: scheduler.New(clock, logger),
		clock: clock,
		kick:  make(chan struct{}, 1),
	}

	onWarning := func(name string, depth, capacity int) {
		logger.Printf("WARN: queue %s backpressure: %d/%d", name, depth, capacity)
		observability.RecordQueueWarning(name)
	}
	onShed := func(name string) {
		observability.RecordQueueShed(name, 1)
	}
	c.tradeQueue = queue.New(queue.Options{
		Name: queueTrades, MaxSize: cfg.MaxQueueSize, Priority: queue.PriorityHigh,
		OnWarning: onWarning, Now: clock.Now, Logger: logger,
	})
	c.priceHistoryQueue = queue.New(queue.Options{
		Name: queuePriceHistory, MaxSize: cfg.MaxQueueSize, Priority: queue.PriorityNormal,
		ShedOldest: true, OnWarning: onWarning, OnShed: onShed, Now: clock.Now, Logger: logger,
	})
	c.portfolioQueue = queue.New(queue.Options{
		Name: queuePortfolio, MaxSize: cfg.MaxQueueSize, Priority: queue.PriorityNormal,
		OnWarning: onWarning, Now: clock.Now, Logger: logger,
	})
	c.metricsQueue = queue.New(queue.Options{
		Name: queueMetrics, MaxSize: cfg.MaxQueueSize, Priority: queue.PriorityLow,
		ShedOldest: true, OnWarning: onWarning, OnShed: onShed, Now: clock.Now, Logger: logger,
	})

	return c, nil
}

// Start launches the drain loops and the cache sweep.
func (c *Coordinator) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		loopCtx, cancel := context.WithCancel(ctx)
		c.cancelLoops = cancel

		c.cache.Start()
		c.sched.Loop(loopCtx, queueTrades, c.cfg.TradeDrainInterval, c.kick, c.drainTrades)
		c.sched.Loop(loopCtx, queuePriceHistory, c.cfg.PriceHistoryDrainInterval, nil, c.drainPriceHistory)
		c.sched.Loop(loopCtx, queuePortfolio, c.cfg.PortfolioDrainInterval, nil, c.drainPortfolio)
		c.sched.Loop(loopCtx, queueMetrics, c.cfg.MetricsDrainInterval, nil, c.drainMetrics)
	})
}

// Ingest accepts one verified trade. It never blocks: the trade is
// validated, stamped, and queued; processing happens on the drain loops.
// Only validation failures surface to the caller.
func (c *Coordinator) Ingest(trade *domain.Trade) error {
	if c.shuttingDown.Load() {
		return ErrShuttingDown
	}
	if err := validate(trade); err != nil {
		observability.RecordRejected(rejectionReason(err))
		return err
	}

	trade.ArrivalTime = c.clock.Now().UnixMilli()
	c.tradeQueue.Enqueue(trade)
	observability.RecordIngested()
	observability.UpdateQueueDepth(queueTrades, c.tradeQueue.Len())
	c.checkAggregateOccupancy()

	// Low-latency path: a near-empty queue with no batch in flight gets
	// drained now instead of on the next tick.
	if c.tradeQueue.Len() <= c.cfg.LowLatencyThreshold && !c.draining.Load() {
		select {
		case c.kick <- struct{}{}:
		default:
		}
	}
	return nil
}

// Consume feeds the pipeline from a trade channel until it closes or ctx
// is cancelled. Rejected trades are logged and skipped.
func (c *Coordinator) Consume(ctx context.Context, trades <-chan *domain.Trade) {
	for {
		select {
		case <-ctx.Done():
			return
		case trade, ok := <-trades:
			if !ok {
				return
			}
			if err := c.Ingest(trade); err != nil {
				c.logger.Printf("WARN: ingest rejected (tx %s): %v", trade.TxHash, err)
			}
		}
	}
}

// validate enforces the ingest boundary: malformed payloads never enter a
// queue.
func validate(trade *domain.Trade) error {
	switch {
	case trade == nil:
		return fmt.Errorf("%w: nil", ErrInvalidTrade)
	case trade.TxHash == "":
		return fmt.Errorf("%w: missing tx hash", ErrInvalidTrade)
	case trade.AgentID == "":
		return fmt.Errorf("%w: missing agent id", ErrInvalidTrade)
	case trade.TraderID == "":
		return fmt.Errorf("%w: missing trader id", ErrInvalidTrade)
	case !trade.Side.Valid():
		return fmt.Errorf("%w: side %q", ErrInvalidTrade, trade.Side)
	case trade.BaseAmount <= 0:
		return fmt.Errorf("%w: base amount %v", ErrInvalidTrade, trade.BaseAmount)
	case trade.QuoteAmount <= 0:
		return fmt.Errorf("%w: quote amount %v", ErrInvalidTrade, trade.QuoteAmount)
	case trade.Timestamp <= 0:
		return fmt.Errorf("%w: timestamp %d", ErrInvalidTrade, trade.Timestamp)
	}
	return nil
}

func rejectionReason(err error) string {
	msg := err.Error()
	switch {
	case len(msg) == 0:
		return "unknown"
	default:
		// "invalid trade: missing tx hash" -> "missing tx hash"
		if i := len(ErrInvalidTrade.Error()) + 2; i < len(msg) {
			return msg[i:]
		}
		return msg
	}
}

// drainTrades is the hot path. Per item: persist (duplicate tx_hash is a
// successful no-op), mirror curve state, enqueue downstream work. A
// transient failure re-enqueues the item after RetryDelay until MaxRetries,
// then drops it with an error signal. Fanout happens once per batch.
func (c *Coordinator) drainTrades(ctx context.Context) {
	if c.draining.Swap(true) {
		return
	}
	defer c.draining.Store(false)

	batch := c.tradeQueue.DequeueBatch(c.cfg.BatchSize)
	if len(batch) == 0 {
		return
	}
	observability.RecordBatch(queueTrades, len(batch))

	committed := make(map[string][]*domain.Trade)
	for _, item := range batch {
		trade := item.Payload.(*domain.Trade)

		processed, err := c.processTrade(ctx, trade)
		if err != nil {
			c.retryOrDrop(c.tradeQueue, item, err)
			continue
		}
		item.State = queue.StateCommitted
		if processed {
			committed[trade.AgentID] = append(committed[trade.AgentID], trade)
			latency := time.Duration(c.clock.Now().UnixMilli()-trade.ArrivalTime) * time.Millisecond
			observability.RecordCommitted(latency.Seconds())
			observability.DefaultMetrics.LastTradeProcessed.Set(float64(c.clock.Now().Unix()))
		}
	}

	// One envelope per agent per batch bounds outbound volume no matter
	// how bursty ingestion gets.
	now := c.clock.Now().UnixMilli()
	for agentID, trades := range committed {
		env := &broadcast.Envelope{
			Type:         broadcast.TypeTradeBatch,
			AgentAddress: agentID,
			Trades:       trades,
			Timestamp:    now,
		}
		c.publisher.Publish(broadcast.AgentChannel(agentID), env)
		c.publisher.Publish(broadcast.PlatformChannel, env)
		observability.RecordPublished(broadcast.TypeTradeBatch)
	}
	observability.UpdateQueueDepth(queueTrades, c.tradeQueue.Len())
}

// processTrade persists the trade and enqueues downstream work. The bool
// result reports whether this was a first delivery (false for duplicates).
func (c *Coordinator) processTrade(ctx context.Context, trade *domain.Trade) (bool, error) {
	err := c.tradeStore.Insert(ctx, trade)
	switch {
	case errors.Is(err, storage.ErrDuplicateKey):
		// At-least-once upstream delivery; the first copy already did
		// the work.
		observability.RecordDuplicate()
		return false, nil
	case err != nil:
		return false, fmt.Errorf("insert trade %s: %w", trade.TxHash, err)
	}

	if err := c.updateAgent(ctx, trade); err != nil {
		c.logger.Printf("WARN: curve mirror for %s: %v", trade.AgentID, err)
	}

	c.priceHistoryQueue.Enqueue(&candleWork{trade: trade, remaining: domain.Timeframes})
	c.portfolioQueue.Enqueue(trade)
	c.metricsQueue.Enqueue(trade.AgentID)
	observability.UpdateQueueDepth(queuePriceHistory, c.priceHistoryQueue.Len())
	observability.UpdateQueueDepth(queuePortfolio, c.portfolioQueue.Len())
	observability.UpdateQueueDepth(queueMetrics, c.metricsQueue.Len())
	return true, nil
}

// updateAgent mirrors the trade's reserve deltas onto the agent's curve
// state and fires the graduation event when the threshold is crossed.
// Advisory: a failure here never fails the trade.
func (c *Coordinator) updateAgent(ctx context.Context, trade *domain.Trade) error {
	agent, err := c.agentStore.Get(ctx, trade.AgentID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil // agent not tracked; metrics fall back to trade history
	}
	if err != nil {
		return err
	}

	solDelta := uint64(trade.QuoteAmount * curve.LamportsPerSol)
	tokenDelta := uint64(trade.BaseAmount * curve.TokenDecimals)
	switch trade.Side {
	case domain.SideBuy:
		agent.Curve = curve.ApplyBuy(agent.Curve, solDelta, tokenDelta)
	case domain.SideSell:
		agent.Curve = curve.ApplySell(agent.Curve, tokenDelta, solDelta)
	}

	graduated := !agent.Graduated && curve.CanGraduate(agent)
	if graduated {
		agent.Graduated = true
	}
	if err := c.agentStore.Update(ctx, agent); err != nil {
		return err
	}

	if graduated {
		c.logger.Printf("agent %s graduated at %d real lamports", agent.AgentID, agent.Curve.RealSolReserves)
		env := &broadcast.Envelope{
			Type:         broadcast.TypeAgentGraduated,
			AgentAddress: agent.AgentID,
			Agent:        agent,
			Timestamp:    c.clock.Now().UnixMilli(),
		}
		c.publisher.Publish(broadcast.AgentChannel(agent.AgentID), env)
		c.publisher.Publish(broadcast.PlatformChannel, env)
		observability.RecordPublished(broadcast.TypeAgentGraduated)
	}
	return nil
}

// candleWork tracks which timeframes a trade still needs folded into
// candles. Candle upserts accumulate volume and trade count, so a retry
// must resume from the first uncommitted timeframe rather than re-apply
// the ones that already landed.
type candleWork struct {
	trade     *domain.Trade
	remaining []domain.Timeframe
}

// drainPriceHistory folds committed trades into candles.
func (c *Coordinator) drainPriceHistory(ctx context.Context) {
	batch := c.priceHistoryQueue.DequeueBatch(c.cfg.BatchSize)
	if len(batch) == 0 {
		return
	}
	observability.RecordBatch(queuePriceHistory, len(batch))

	for _, item := range batch {
		work := item.Payload.(*candleWork)
		remaining, err := c.aggregator.ApplyTimeframes(ctx, work.trade, work.remaining)
		observability.DefaultMetrics.CandlesUpdated.Add(float64(len(work.remaining) - len(remaining)))
		if err != nil {
			work.remaining = remaining
			c.retryOrDrop(c.priceHistoryQueue, item, err)
			continue
		}
		item.State = queue.StateCommitted
		c.cache.Invalidate("candles:" + work.trade.AgentID + "*")
	}
	observability.UpdateQueueDepth(queuePriceHistory, c.priceHistoryQueue.Len())
}

// drainPortfolio applies trades to positions and re-marks every holder of
// the traded agent at the new price.
func (c *Coordinator) drainPortfolio(ctx context.Context) {
	batch := c.portfolioQueue.DequeueBatch(c.cfg.BatchSize)
	if len(batch) == 0 {
		return
	}
	observability.RecordBatch(queuePortfolio, len(batch))

	for _, item := range batch {
		trade := item.Payload.(*domain.Trade)
		if _, err := c.ledger.ApplyTrade(ctx, trade); err != nil {
			c.retryOrDrop(c.portfolioQueue, item, err)
			continue
		}
		item.State = queue.StateCommitted
		observability.DefaultMetrics.PositionsUpdated.Inc()

		if err := c.ledger.RefreshValues(ctx, trade.AgentID, trade.Price()); err != nil {
			c.logger.Printf("WARN: refresh values for %s: %v", trade.AgentID, err)
		}
	}
	observability.UpdateQueueDepth(queuePortfolio, c.portfolioQueue.Len())
}

// drainMetrics recomputes snapshots for agents touched since the last
// tick. Duplicate agent ids in one batch collapse to a single recompute.
func (c *Coordinator) drainMetrics(ctx context.Context) {
	batch := c.metricsQueue.DequeueBatch(c.cfg.BatchSize)
	if len(batch) == 0 {
		return
	}
	observability.RecordBatch(queueMetrics, len(batch))

	seen := make(map[string]bool)
	for _, item := range batch {
		agentID := item.Payload.(string)
		if seen[agentID] {
			item.State = queue.StateCommitted
			continue
		}
		seen[agentID] = true

		m, err := c.rollup.Recompute(ctx, agentID)
		if err != nil {
			c.retryOrDrop(c.metricsQueue, item, err)
			continue
		}
		item.State = queue.StateCommitted
		observability.DefaultMetrics.MetricsRecomputed.Inc()
		observability.DefaultMetrics.LastMetricsRollup.Set(float64(c.clock.Now().Unix()))

		// Fresh snapshot invalidates whatever was cached for the agent.
		c.cache.Invalidate("metrics:" + agentID + "*")
		c.cache.Set("metrics:"+agentID, m, c.cfg.CacheTTL)

		c.publisher.Publish(broadcast.AgentChannel(agentID), &broadcast.Envelope{
			Type:         broadcast.TypeMetricsUpdated,
			AgentAddress: agentID,
			Metrics:      m,
			Timestamp:    c.clock.Now().UnixMilli(),
		})
		observability.RecordPublished(broadcast.TypeMetricsUpdated)
	}
	observability.UpdateQueueDepth(queueMetrics, c.metricsQueue.Len())
}

// retryOrDrop re-enqueues a failed item after RetryDelay, or drops it once
// retries are exhausted. Dropping is logged loudly; for the trade queue it
// means a persisted gap that needs offline reconciliation.
func (c *Coordinator) retryOrDrop(q *queue.Queue, item *queue.Item, err error) {
	if item.RetryCount >= c.cfg.MaxRetries {
		item.State = queue.StateDropped
		observability.RecordDropped()
		c.logger.Printf("ERROR: dropping item from %s after %d retries: %v", q.Name(), item.RetryCount, err)
		return
	}

	c.logger.Printf("WARN: %s item failed (retry %d/%d): %v", q.Name(), item.RetryCount+1, c.cfg.MaxRetries, err)
	observability.RecordRetry()

	// Delay off the drain goroutine so one bad item cannot stall the rest
	// of the batch. The pending count keeps shutdown draining until the
	// item is back in its queue.
	c.retryPending.Add(1)
	go func() {
		t := c.clock.NewTicker(c.cfg.RetryDelay)
		defer t.Stop()
		<-t.Chan()
		q.Requeue(item)
		c.retryPending.Add(-1)
	}()
}

// checkAggregateOccupancy fires one warning per upward crossing of 80%
// occupancy summed across all four queues.
func (c *Coordinator) checkAggregateOccupancy() {
	depth := c.tradeQueue.Len() + c.priceHistoryQueue.Len() + c.portfolioQueue.Len() + c.metricsQueue.Len()
	capacity := c.tradeQueue.Cap() + c.priceHistoryQueue.Cap() + c.portfolioQueue.Cap() + c.metricsQueue.Cap()

	above := float64(depth) >= 0.8*float64(capacity)
	if above && !c.aboveAggWarn.Swap(true) {
		c.logger.Printf("WARN: aggregate queue occupancy %d/%d exceeds 80%%", depth, capacity)
		observability.RecordQueueWarning("aggregate")
	} else if !above {
		c.aboveAggWarn.Store(false)
	}
}

// GetMetrics returns the agent's snapshot, served from cache within one
// TTL of the last recompute.
func (c *Coordinator) GetMetrics(ctx context.Context, agentID string) (*domain.AgentMetrics, error) {
	if v, ok := c.cache.Get("metrics:" + agentID); ok {
		observability.DefaultMetrics.CacheHits.Inc()
		return v.(*domain.AgentMetrics), nil
	}
	observability.DefaultMetrics.CacheMisses.Inc()

	m, err := c.metricsStore.Get(ctx, agentID)
	if err != nil {
		return nil, err
	}
	c.cache.Set("metrics:"+agentID, m, c.cfg.CacheTTL)
	return m, nil
}

// QueueDepths reports current per-queue depths, keyed by queue name.
func (c *Coordinator) QueueDepths() map[string]int {
	return map[string]int{
		queueTrades:       c.tradeQueue.Len(),
		queuePriceHistory: c.priceHistoryQueue.Len(),
		queuePortfolio:    c.portfolioQueue.Len(),
		queueMetrics:      c.metricsQueue.Len(),
	}
}

// Shutdown stops intake, stops the drain loops, then drains all four
// queues to completion within the shutdown timeout. Loops stop first so
// the final drain is the only consumer of the queues.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	var err error
	c.shutdownOnce.Do(func() {
		c.shuttingDown.Store(true)

		if c.cancelLoops != nil {
			c.cancelLoops()
			c.sched.Wait()
		}

		deadline, cancel := context.WithTimeout(ctx, c.cfg.ShutdownTimeout)
		defer cancel()

		err = c.drainAll(deadline)
		c.cache.Stop()
	})
	return err
}

// drainAll pumps every queue until empty or the deadline hits. In-flight
// retries count as pending work: their items belong to a queue again once
// the delay elapses.
func (c *Coordinator) drainAll(ctx context.Context) error {
	for {
		depths := c.QueueDepths()
		total := int(c.retryPending.Load())
		for _, d := range depths {
			total += d
		}
		if total == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("shutdown drain incomplete, %d items remain: %w", total, ctx.Err())
		default:
		}

		c.drainTrades(ctx)
		c.drainPriceHistory(ctx)
		c.drainPortfolio(ctx)
		c.drainMetrics(ctx)
		time.Sleep(time.Millisecond) // let in-flight retries land
	}
}
