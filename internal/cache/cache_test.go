package cache

import (
	"fmt"
	"testing"
	"time"
)

// fakeClock provides a manually-advanced time source.
type fakeClock struct {
	t time.Time
}

func (f *fakeClock) now() time.Time { return f.t }

func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

func newTestCache(maxSize int) (*Cache, *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)}
	c := New(Options{MaxPartitionSize: maxSize, Now: clock.now})
	return c, clock
}

func TestGetSet(t *testing.T) {
	c, _ := newTestCache(10)

	c.Set("metrics:agent-1", 42, time.Minute)

	v, ok := c.Get("metrics:agent-1")
	if !ok {
		t.Fatal("expected hit")
	}
	if v.(int) != 42 {
		t.Errorf("expected 42, got %v", v)
	}

	if _, ok := c.Get("metrics:agent-2"); ok {
		t.Error("expected miss for unknown key")
	}
}

func TestGet_ExpiredNeverReturned(t *testing.T) {
	c, clock := newTestCache(10)

	c.Set("metrics:agent-1", "stale", time.Minute)
	clock.advance(time.Minute) // exactly at TTL boundary counts as expired

	if _, ok := c.Get("metrics:agent-1"); ok {
		t.Error("value older than TTL must never be returned")
	}
	if c.Len() != 0 {
		t.Errorf("lazy expiry should remove the entry, len=%d", c.Len())
	}
}

func TestSet_RefreshesTTL(t *testing.T) {
	c, clock := newTestCache(10)

	c.Set("k", 1, time.Minute)
	clock.advance(50 * time.Second)
	c.Set("k", 2, time.Minute)
	clock.advance(50 * time.Second)

	v, ok := c.Get("k")
	if !ok {
		t.Fatal("expected hit after TTL refresh")
	}
	if v.(int) != 2 {
		t.Errorf("expected refreshed value 2, got %v", v)
	}
}

func TestInvalidate_PrefixPattern(t *testing.T) {
	c, _ := newTestCache(10)

	c.Set("metrics:agent-1", 1, time.Minute)
	c.Set("metrics:agent-1:24h", 2, time.Minute)
	c.Set("metrics:agent-2", 3, time.Minute)
	c.Set("candles:agent-1", 4, time.Minute)

	removed := c.Invalidate("metrics:agent-1*")
	if removed != 2 {
		t.Errorf("expected 2 removals, got %d", removed)
	}
	if _, ok := c.Get("metrics:agent-2"); !ok {
		t.Error("unrelated metrics key must survive")
	}
	if _, ok := c.Get("candles:agent-1"); !ok {
		t.Error("other partition must survive")
	}
}

func TestInvalidate_ExactKey(t *testing.T) {
	c, _ := newTestCache(10)

	c.Set("metrics:agent-1", 1, time.Minute)
	if removed := c.Invalidate("metrics:agent-1"); removed != 1 {
		t.Errorf("expected 1 removal, got %d", removed)
	}
	if removed := c.Invalidate("metrics:agent-1"); removed != 0 {
		t.Errorf("expected 0 removals on repeat, got %d", removed)
	}
}

func TestSweep_RemovesExpired(t *testing.T) {
	c, clock := newTestCache(10)

	c.Set("a:1", 1, time.Minute)
	c.Set("a:2", 2, time.Hour)
	clock.advance(30 * time.Minute)

	c.Sweep()

	if c.Len() != 1 {
		t.Errorf("expected 1 survivor, len=%d", c.Len())
	}
	if _, ok := c.Get("a:2"); !ok {
		t.Error("unexpired entry must survive sweep")
	}
}

func TestSweep_TrimsPartitionOldestFirst(t *testing.T) {
	c, clock := newTestCache(3)

	// Five entries in one partition, written at distinct times.
	for i := 0; i < 5; i++ {
		c.Set(fmt.Sprintf("metrics:agent-%d", i), i, time.Hour)
		clock.advance(time.Second)
	}
	// A second partition must not count against the first.
	c.Set("candles:agent-0", "x", time.Hour)

	c.Sweep()

	if c.Len() != 4 {
		t.Fatalf("expected 3+1 survivors, len=%d", c.Len())
	}
	for i := 0; i < 2; i++ {
		if _, ok := c.Get(fmt.Sprintf("metrics:agent-%d", i)); ok {
			t.Errorf("oldest entry %d should have been evicted", i)
		}
	}
	for i := 2; i < 5; i++ {
		if _, ok := c.Get(fmt.Sprintf("metrics:agent-%d", i)); !ok {
			t.Errorf("newer entry %d should have survived", i)
		}
	}
}

func TestClear(t *testing.T) {
	c, _ := newTestCache(10)

	c.Set("a", 1, time.Minute)
	c.Set("b", 2, time.Minute)
	c.Clear()

	if c.Len() != 0 {
		t.Errorf("expected empty cache, len=%d", c.Len())
	}
}

func TestStartStop(t *testing.T) {
	c := New(Options{CleanupInterval: time.Millisecond})
	c.Start()
	c.Set("k", 1, time.Nanosecond)
	time.Sleep(20 * time.Millisecond)
	c.Stop()

	if c.Len() != 0 {
		t.Errorf("background sweep should have removed expired entry, len=%d", c.Len())
	}
}
