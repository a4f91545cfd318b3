// Package queue provides the bounded FIFO queues the pipeline drains on
// independent cadences. Queues are multi-producer/single-consumer: producers
// are ingest callers, the consumer is the pipeline drain loop.
package queue

import (
	"log"
	"sync"
	"time"
)

// Priority orders queues relative to each other for drain cadence decisions.
type Priority int

// Queue priorities.
const (
	PriorityHigh Priority = iota
	PriorityNormal
	PriorityLow
)

// State tracks a queue item through its lifecycle.
type State int

// Item states. Committed and Dropped are terminal.
const (
	StatePending State = iota
	StateProcessing
	StateCommitted
	StateRetrying
	StateDropped
)

// Item wraps a queued payload with its bookkeeping.
type Item struct {
	Payload    interface{}
	EnqueuedAt time.Time
	Priority   Priority
	RetryCount int
	State      State
}

// WarningFunc is invoked when a queue crosses its occupancy warning threshold.
type WarningFunc func(name string, depth, capacity int)

// Options configures a Queue.
type Options struct {
	Name     string
	MaxSize  int      // maximum length; default 10000
	Priority Priority // priority tag carried by items
	// ShedOldest permits dropping the oldest item instead of growing past
	// MaxSize. Only advisory queues (metrics, price history) enable this;
	// trade data is never shed.
	ShedOldest bool
	// OnWarning fires once per upward crossing of the 80% occupancy threshold.
	OnWarning WarningFunc
	// OnShed fires for every item a shedding queue discards.
	OnShed func(name string)
	Now    func() time.Time
	Logger *log.Logger
}

// warnFraction is the occupancy fraction that triggers a backpressure warning.
const warnFraction = 0.8

// Queue is a bounded FIFO. Exceeding MaxSize emits a backpressure warning;
// only shedding queues ever discard items.
type Queue struct {
	name       string
	maxSize    int
	priority   Priority
	shedOldest bool
	onWarning  WarningFunc
	onShed     func(name string)
	now        func() time.Time
	logger     *log.Logger

	mu        sync.Mutex
	items     []*Item
	aboveWarn bool // edge trigger latch for the 80% warning
	shedCount int64
}

// New creates a Queue.
func New(opts Options) *Queue {
	maxSize := opts.MaxSize
	if maxSize == 0 {
		maxSize = 10000
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	return &Queue{
		name:       opts.Name,
		maxSize:    maxSize,
		priority:   opts.Priority,
		shedOldest: opts.ShedOldest,
		onWarning:  opts.OnWarning,
		onShed:     opts.OnShed,
		now:        now,
		logger:     logger,
	}
}

// Enqueue appends payload as a Pending item. Returns the item for callers that
// track lifecycle. A full shedding queue drops its oldest item first; a full
// non-shedding queue grows past the bound and logs, it never loses data.
func (q *Queue) Enqueue(payload interface{}) *Item {
	item := &Item{
		Payload:    payload,
		EnqueuedAt: q.now(),
		Priority:   q.priority,
		State:      StatePending,
	}
	q.push(item)
	return item
}

// Requeue re-adds a previously dequeued item at the tail with its retry count
// incremented.
func (q *Queue) Requeue(item *Item) {
	item.RetryCount++
	item.State = StateRetrying
	q.push(item)
}

func (q *Queue) push(item *Item) {
	var warn WarningFunc
	var shed func(string)
	var depth int

	q.mu.Lock()
	if len(q.items) >= q.maxSize {
		if q.shedOldest {
			q.items[0].State = StateDropped
			q.items = q.items[1:]
			q.shedCount++
			shed = q.onShed
		} else {
			q.logger.Printf("queue %s over capacity: %d/%d (retaining, trade data is never dropped)",
				q.name, len(q.items)+1, q.maxSize)
		}
	}
	q.items = append(q.items, item)
	depth = len(q.items)

	if !q.aboveWarn && float64(depth) >= warnFraction*float64(q.maxSize) {
		q.aboveWarn = true
		warn = q.onWarning
	}
	q.mu.Unlock()

	// Fire outside the lock; the callbacks may inspect the queue.
	if shed != nil {
		shed(q.name)
	}
	if warn != nil {
		warn(q.name, depth, q.maxSize)
	}
}

// DequeueBatch removes and returns up to n items in FIFO order, marking them
// Processing. Dropping back below the warning threshold re-arms the warning.
func (q *Queue) DequeueBatch(n int) []*Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	if n > len(q.items) {
		n = len(q.items)
	}
	if n == 0 {
		return nil
	}

	batch := q.items[:n]
	q.items = q.items[n:]
	for _, item := range batch {
		item.State = StateProcessing
	}

	if q.aboveWarn && float64(len(q.items)) < warnFraction*float64(q.maxSize) {
		q.aboveWarn = false
	}
	return batch
}

// Len returns the current queue depth.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Cap returns the configured maximum length.
func (q *Queue) Cap() int {
	return q.maxSize
}

// Name returns the queue name.
func (q *Queue) Name() string {
	return q.name
}

// ShedCount returns how many items this queue has shed.
func (q *Queue) ShedCount() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.shedCount
}
