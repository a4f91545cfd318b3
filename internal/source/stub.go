package source

import (
	"sync"

	"ursus-market/internal/domain"
)

// StubSource is an in-process trade source for tests and local runs.
type StubSource struct {
	trades chan *domain.Trade

	mu     sync.Mutex
	closed bool
}

var _ TradeSource = (*StubSource)(nil)

// NewStubSource creates a stub source with the given buffer capacity.
func NewStubSource(buffer int) *StubSource {
	if buffer <= 0 {
		buffer = 100
	}
	return &StubSource{trades: make(chan *domain.Trade, buffer)}
}

// Emit pushes a trade into the feed. Reports false if the source is closed
// or the buffer is full; it never blocks, so Close cannot deadlock against a
// stuck producer.
func (s *StubSource) Emit(trade *domain.Trade) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.trades <- trade:
		return true
	default:
		return false
	}
}

// Trades returns the feed.
func (s *StubSource) Trades() <-chan *domain.Trade {
	return s.trades
}

// Close closes the feed.
func (s *StubSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.trades)
	return nil
}
