// Package cache provides a time-bounded in-process key/value store for hot
// entities. It is an injected component with an explicit lifecycle so that
// tests stay isolated and multiple pipeline instances can coexist.
package cache

import (
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"ursus-market/internal/observability"
)

// entry is a cached value with its write time and expiry.
type entry struct {
	value    interface{}
	cachedAt time.Time
	expireAt time.Time
}

// Options configures a Cache.
type Options struct {
	// MaxPartitionSize bounds each key partition (prefix before the first ':').
	// When exceeded, oldest-cachedAt entries are evicted first. Default: 1000.
	MaxPartitionSize int
	// CleanupInterval is the cadence of the background sweep. Default: 1m.
	CleanupInterval time.Duration
	// Now overrides the clock for tests.
	Now    func() time.Time
	Logger *log.Logger
}

// Cache is a partitioned TTL cache. Expiration is lazy on read plus a periodic
// sweep that removes expired entries and trims oversized partitions.
type Cache struct {
	mu   sync.RWMutex
	data map[string]entry

	maxPartitionSize int
	cleanupInterval  time.Duration
	now              func() time.Time
	logger           *log.Logger

	done chan struct{}
	wg   sync.WaitGroup
}

// New creates a Cache. Call Start to enable the background sweep.
func New(opts Options) *Cache {
	maxSize := opts.MaxPartitionSize
	if maxSize == 0 {
		maxSize = 1000
	}
	interval := opts.CleanupInterval
	if interval == 0 {
		interval = time.Minute
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	return &Cache{
		data:             make(map[string]entry),
		maxPartitionSize: maxSize,
		cleanupInterval:  interval,
		now:              now,
		logger:           logger,
		done:             make(chan struct{}),
	}
}

// Start launches the periodic sweep goroutine.
func (c *Cache) Start() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.cleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-c.done:
				return
			case <-ticker.C:
				c.Sweep()
			}
		}
	}()
}

// Stop terminates the sweep goroutine and waits for it to exit.
func (c *Cache) Stop() {
	close(c.done)
	c.wg.Wait()
}

// Get returns the cached value for key. Expired entries are removed on read
// and reported as a miss; a value older than its TTL is never returned.
func (c *Cache) Get(key string) (interface{}, bool) {
	c.mu.RLock()
	e, ok := c.data[key]
	c.mu.RUnlock()

	if !ok {
		return nil, false
	}
	if !c.now().Before(e.expireAt) {
		c.mu.Lock()
		// Re-check under the write lock; a Set may have raced the expiry.
		if cur, still := c.data[key]; still && !c.now().Before(cur.expireAt) {
			delete(c.data, key)
		}
		c.mu.Unlock()
		return nil, false
	}
	return e.value, true
}

// Set stores value under key for ttl.
func (c *Cache) Set(key string, value interface{}, ttl time.Duration) {
	now := c.now()
	c.mu.Lock()
	c.data[key] = entry{value: value, cachedAt: now, expireAt: now.Add(ttl)}
	c.mu.Unlock()
}

// Invalidate removes all keys matching pattern and returns the removal count.
// A trailing '*' matches any suffix; any other pattern matches exactly.
func (c *Cache) Invalidate(pattern string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		removed := 0
		for key := range c.data {
			if strings.HasPrefix(key, prefix) {
				delete(c.data, key)
				removed++
			}
		}
		return removed
	}

	if _, ok := c.data[pattern]; ok {
		delete(c.data, pattern)
		return 1
	}
	return 0
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.data = make(map[string]entry)
	c.mu.Unlock()
}

// Len returns the number of live entries, including not-yet-swept expired ones.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}

// Sweep removes TTL-expired entries and trims each partition to the size
// bound, evicting oldest-cachedAt entries first.
func (c *Cache) Sweep() {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	partitions := make(map[string][]string)
	for key, e := range c.data {
		if !now.Before(e.expireAt) {
			delete(c.data, key)
			observability.DefaultMetrics.CacheEvictions.WithLabelValues("expired").Inc()
			continue
		}
		p := partitionOf(key)
		partitions[p] = append(partitions[p], key)
	}

	for _, keys := range partitions {
		excess := len(keys) - c.maxPartitionSize
		if excess <= 0 {
			continue
		}
		sort.Slice(keys, func(i, j int) bool {
			return c.data[keys[i]].cachedAt.Before(c.data[keys[j]].cachedAt)
		})
		for _, key := range keys[:excess] {
			delete(c.data, key)
		}
		observability.DefaultMetrics.CacheEvictions.WithLabelValues("trim").Add(float64(excess))
	}
}

// partitionOf returns the key prefix before the first ':', or the whole key.
func partitionOf(key string) string {
	if i := strings.IndexByte(key, ':'); i >= 0 {
		return key[:i]
	}
	return key
}
