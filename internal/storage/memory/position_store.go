package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"ursus-market/internal/domain"
	"ursus-market/internal/storage"
)

// PositionStore is an in-memory implementation of storage.PositionStore.
type PositionStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Position // keyed by user|agent
}

// NewPositionStore creates a new in-memory position store.
func NewPositionStore() *PositionStore {
	return &PositionStore{
		data: make(map[string]*domain.Position),
	}
}

var _ storage.PositionStore = (*PositionStore)(nil)

func positionKey(userID, agentID string) string {
	return fmt.Sprintf("%s|%s", userID, agentID)
}

// Get retrieves a position. Returns ErrNotFound if not exists.
func (s *PositionStore) Get(_ context.Context, userID, agentID string) (*domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.data[positionKey(userID, agentID)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copy := *p
	return &copy, nil
}

// Upsert inserts or replaces a position.
func (s *PositionStore) Upsert(_ context.Context, p *domain.Position) error {
	if p == nil || p.UserID == "" || p.AgentID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	copy := *p
	s.data[positionKey(p.UserID, p.AgentID)] = &copy
	return nil
}

// GetByAgent retrieves all positions for an agent, ordered by user ID for
// deterministic iteration.
func (s *PositionStore) GetByAgent(_ context.Context, agentID string) ([]*domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Position
	for _, p := range s.data {
		if p.AgentID == agentID {
			copy := *p
			result = append(result, &copy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].UserID < result[j].UserID
	})

	return result, nil
}

// CountHolders returns the number of positions with balance > 0.
func (s *PositionStore) CountHolders(_ context.Context, agentID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, p := range s.data {
		if p.AgentID == agentID && p.Balance > 0 {
			n++
		}
	}
	return n, nil
}
