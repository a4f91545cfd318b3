package pipeline

import "time"

// Config is the pipeline tuning surface. Zero values are replaced by the
// defaults below.
type Config struct {
	// BatchSize bounds items processed per drain tick.
	BatchSize int
	// MaxRetries bounds re-enqueues of a failing item before it is dropped.
	MaxRetries int
	// RetryDelay is the pause before a failed item re-enters its queue.
	RetryDelay time.Duration

	// Drain cadences, one per queue. The trade queue runs hottest; the
	// metrics queue is advisory and coarse.
	TradeDrainInterval        time.Duration
	PriceHistoryDrainInterval time.Duration
	PortfolioDrainInterval    time.Duration
	MetricsDrainInterval      time.Duration

	// MaxQueueSize bounds each queue's length.
	MaxQueueSize int
	// LowLatencyThreshold is the trade queue depth at or below which ingest
	// kicks an immediate drain instead of waiting for the next tick.
	LowLatencyThreshold int

	// CacheTTL bounds staleness of cached snapshots.
	CacheTTL time.Duration
	// CacheCleanupInterval is the cadence of the cache sweep.
	CacheCleanupInterval time.Duration
	// MaxCacheSize bounds each cache partition.
	MaxCacheSize int

	// ShutdownTimeout bounds the final drain on graceful shutdown.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:                 50,
		MaxRetries:                3,
		RetryDelay:                100 * time.Millisecond,
		TradeDrainInterval:        50 * time.Millisecond,
		PriceHistoryDrainInterval: 100 * time.Millisecond,
		PortfolioDrainInterval:    100 * time.Millisecond,
		MetricsDrainInterval:      60 * time.Second,
		MaxQueueSize:              10000,
		LowLatencyThreshold:       5,
		CacheTTL:                  30 * time.Second,
		CacheCleanupInterval:      time.Minute,
		MaxCacheSize:              1000,
		ShutdownTimeout:           30 * time.Second,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = def.BatchSize
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = def.MaxRetries
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = def.RetryDelay
	}
	if c.TradeDrainInterval <= 0 {
		c.TradeDrainInterval = def.TradeDrainInterval
	}
	if c.PriceHistoryDrainInterval <= 0 {
		c.PriceHistoryDrainInterval = def.PriceHistoryDrainInterval
	}
	if c.PortfolioDrainInterval <= 0 {
		c.PortfolioDrainInterval = def.PortfolioDrainInterval
	}
	if c.MetricsDrainInterval <= 0 {
		c.MetricsDrainInterval = def.MetricsDrainInterval
	}
	if c.MaxQueueSize <= 0 {
		c.MaxQueueSize = def.MaxQueueSize
	}
	if c.LowLatencyThreshold <= 0 {
		c.LowLatencyThreshold = def.LowLatencyThreshold
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = def.CacheTTL
	}
	if c.CacheCleanupInterval <= 0 {
		c.CacheCleanupInterval = def.CacheCleanupInterval
	}
	if c.MaxCacheSize <= 0 {
		c.MaxCacheSize = def.MaxCacheSize
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = def.ShutdownTimeout
	}
	return c
}
