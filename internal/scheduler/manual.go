package scheduler

import (
	"sync"
	"time"
)

// ManualClock is a test Clock whose tickers fire only when told to.
type ManualClock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*ManualTicker
}

// NewManualClock creates a ManualClock starting at t.
func NewManualClock(t time.Time) *ManualClock {
	return &ManualClock{now: t}
}

// Now returns the current manual time.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward without firing any tickers.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// NewTicker returns a ticker registered with the clock.
func (c *ManualClock) NewTicker(d time.Duration) Ticker {
	t := &ManualTicker{interval: d, ch: make(chan time.Time, 1)}
	c.mu.Lock()
	c.tickers = append(c.tickers, t)
	c.mu.Unlock()
	return t
}

// TickAll fires every registered ticker once. The send is non-blocking so a
// loop that has not yet drained its channel does not deadlock the test.
func (c *ManualClock) TickAll() {
	c.mu.Lock()
	now := c.now
	tickers := append([]*ManualTicker(nil), c.tickers...)
	c.mu.Unlock()

	for _, t := range tickers {
		t.fire(now)
	}
}

// Tick fires every registered ticker with the given interval once.
func (c *ManualClock) Tick(interval time.Duration) {
	c.mu.Lock()
	now := c.now
	tickers := append([]*ManualTicker(nil), c.tickers...)
	c.mu.Unlock()

	for _, t := range tickers {
		if t.interval == interval {
			t.fire(now)
		}
	}
}

// ManualTicker is a Ticker driven by a ManualClock.
type ManualTicker struct {
	interval time.Duration
	ch       chan time.Time
	mu       sync.Mutex
	done     bool
}

// Chan returns the tick channel.
func (t *ManualTicker) Chan() <-chan time.Time { return t.ch }

// Stop marks the ticker stopped; further fires are ignored.
func (t *ManualTicker) Stop() {
	t.mu.Lock()
	t.done = true
	t.mu.Unlock()
}

func (t *ManualTicker) fire(now time.Time) {
	t.mu.Lock()
	done := t.done
	t.mu.Unlock()
	if done {
		return
	}
	select {
	case t.ch <- now:
	default:
	}
}
