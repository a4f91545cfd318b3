package memory

import (
	"context"
	"sync"

	"ursus-market/internal/domain"
	"ursus-market/internal/storage"
)

// MetricsStore is an in-memory implementation of storage.MetricsStore.
type MetricsStore struct {
	mu   sync.RWMutex
	data map[string]*domain.AgentMetrics
}

// NewMetricsStore creates a new in-memory metrics store.
func NewMetricsStore() *MetricsStore {
	return &MetricsStore{
		data: make(map[string]*domain.AgentMetrics),
	}
}

var _ storage.MetricsStore = (*MetricsStore)(nil)

// Upsert inserts or replaces the metrics snapshot for an agent.
func (s *MetricsStore) Upsert(_ context.Context, m *domain.AgentMetrics) error {
	if m == nil || m.AgentID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	copy := *m
	s.data[m.AgentID] = &copy
	return nil
}

// Get retrieves the snapshot. Returns ErrNotFound if not exists.
func (s *MetricsStore) Get(_ context.Context, agentID string) (*domain.AgentMetrics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.data[agentID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copy := *m
	return &copy, nil
}
