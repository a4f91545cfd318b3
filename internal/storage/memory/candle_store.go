package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"ursus-market/internal/domain"
	"ursus-market/internal/storage"
)

// CandleStore is an in-memory implementation of storage.CandleStore.
type CandleStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Candle // keyed by composite key
}

// NewCandleStore creates a new in-memory candle store.
func NewCandleStore() *CandleStore {
	return &CandleStore{
		data: make(map[string]*domain.Candle),
	}
}

var _ storage.CandleStore = (*CandleStore)(nil)

// candleKey generates a unique key for a candle.
func candleKey(agentID string, tf domain.Timeframe, intervalStart int64) string {
	return fmt.Sprintf("%s|%s|%d", agentID, tf, intervalStart)
}

// Get retrieves a candle. Returns ErrNotFound if not exists.
func (s *CandleStore) Get(_ context.Context, agentID string, tf domain.Timeframe, intervalStart int64) (*domain.Candle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.data[candleKey(agentID, tf, intervalStart)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copy := *c
	return &copy, nil
}

// Upsert inserts or replaces a candle.
func (s *CandleStore) Upsert(_ context.Context, c *domain.Candle) error {
	if c == nil || c.AgentID == "" || !c.Timeframe.Valid() {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	copy := *c
	s.data[candleKey(c.AgentID, c.Timeframe, c.IntervalStart)] = &copy
	return nil
}

// GetRange retrieves candles with interval_start in [from, to] inclusive,
// ordered by interval_start ASC.
func (s *CandleStore) GetRange(_ context.Context, agentID string, tf domain.Timeframe, from, to int64) ([]*domain.Candle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Candle
	for _, c := range s.data {
		if c.AgentID == agentID && c.Timeframe == tf && c.IntervalStart >= from && c.IntervalStart <= to {
			copy := *c
			result = append(result, &copy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].IntervalStart < result[j].IntervalStart
	})

	return result, nil
}
