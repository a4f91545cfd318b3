package memory

import (
	"context"
	"sort"
	"sync"

	"ursus-market/internal/domain"
	"ursus-market/internal/storage"
)

// TradeStore is an in-memory implementation of storage.TradeStore.
type TradeStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Trade // keyed by tx_hash
}

// NewTradeStore creates a new in-memory trade store.
func NewTradeStore() *TradeStore {
	return &TradeStore{
		data: make(map[string]*domain.Trade),
	}
}

var _ storage.TradeStore = (*TradeStore)(nil)

// Insert adds a new trade. Returns ErrDuplicateKey if tx_hash exists.
func (s *TradeStore) Insert(_ context.Context, t *domain.Trade) error {
	if t == nil || t.TxHash == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[t.TxHash]; exists {
		return storage.ErrDuplicateKey
	}

	copy := *t
	s.data[t.TxHash] = &copy
	return nil
}

// GetByTxHash retrieves a trade by signature.
func (s *TradeStore) GetByTxHash(_ context.Context, txHash string) (*domain.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.data[txHash]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copy := *t
	return &copy, nil
}

// GetByAgent retrieves all trades for an agent, ordered by timestamp ASC.
func (s *TradeStore) GetByAgent(ctx context.Context, agentID string) ([]*domain.Trade, error) {
	return s.GetByAgentSince(ctx, agentID, 0)
}

// GetByAgentSince retrieves trades for an agent with timestamp >= since,
// ordered by timestamp ASC.
func (s *TradeStore) GetByAgentSince(_ context.Context, agentID string, since int64) ([]*domain.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Trade
	for _, t := range s.data {
		if t.AgentID == agentID && t.Timestamp >= since {
			copy := *t
			result = append(result, &copy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Timestamp != result[j].Timestamp {
			return result[i].Timestamp < result[j].Timestamp
		}
		return result[i].TxHash < result[j].TxHash
	})

	return result, nil
}

// CountByAgent returns the total number of trades recorded for an agent.
func (s *TradeStore) CountByAgent(_ context.Context, agentID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, t := range s.data {
		if t.AgentID == agentID {
			n++
		}
	}
	return n, nil
}
