package broadcast

import (
	"log"
	"sync"
	"sync/atomic"

	"ursus-market/internal/domain"
	"ursus-market/internal/observability"
)

// Channel names. Every agent has its own channel; the platform channel
// carries everything.
const PlatformChannel = "platform"

// AgentChannel returns the channel name for one agent's subscribers.
func AgentChannel(agentID string) string {
	return "agent:" + agentID
}

// Envelope message types.
const (
	TypeTradeBatch     = "trade_batch"
	TypeAgentGraduated = "agent_graduated"
	TypeMetricsUpdated = "metrics_updated"
)

// Envelope is the outbound message shape shared by all channels.
type Envelope struct {
	Type         string               `json:"type"`
	AgentAddress string               `json:"agentAddress,omitempty"`
	Trades       []*domain.Trade      `json:"trades,omitempty"`
	Agent        *domain.Agent        `json:"agent,omitempty"`
	Metrics      *domain.AgentMetrics `json:"metrics,omitempty"`
	Timestamp    int64                `json:"timestamp"`
}

// Publisher is the outbound side of the fanout, as seen by the pipeline.
type Publisher interface {
	Publish(channel string, env *Envelope)
}

// Subscription is one subscriber's bounded feed. Messages the subscriber
// fails to keep up with are dropped, never buffered unbounded.
type Subscription struct {
	C <-chan *Envelope

	channel string
	ch      chan *Envelope
}

// Channel returns the channel name this subscription is attached to.
func (s *Subscription) Channel() string {
	return s.channel
}

// Hub routes envelopes from the pipeline to per-channel subscribers.
// Delivery is at-most-once and best-effort: a send to a full subscriber
// buffer drops the message for that subscriber only and never blocks
// the publisher.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[*Subscription]struct{}
	closed bool

	defaultBuffer int
	logger        *log.Logger
	dropped       atomic.Int64
}

// Options configures a Hub. Zero value uses defaults.
type Options struct {
	// DefaultBuffer is the per-subscription channel capacity. Default 64.
	DefaultBuffer int
	Logger        *log.Logger
}

// NewHub creates an empty fanout hub.
func NewHub(opts Options) *Hub {
	buffer := opts.DefaultBuffer
	if buffer <= 0 {
		buffer = 64
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Hub{
		subs:          make(map[string]map[*Subscription]struct{}),
		defaultBuffer: buffer,
		logger:        logger,
	}
}

// Subscribe attaches a new subscriber to the channel.
func (h *Hub) Subscribe(channel string) *Subscription {
	sub := &Subscription{
		channel: channel,
		ch:      make(chan *Envelope, h.defaultBuffer),
	}
	sub.C = sub.ch

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(sub.ch)
		return sub
	}
	set, ok := h.subs[channel]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[channel] = set
	}
	set[sub] = struct{}{}
	observability.DefaultMetrics.Subscribers.Inc()
	return sub
}

// Unsubscribe detaches the subscriber and closes its feed.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[sub.channel]
	if !ok {
		return
	}
	if _, member := set[sub]; !member {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(h.subs, sub.channel)
	}
	close(sub.ch)
	observability.DefaultMetrics.Subscribers.Dec()
}

// Publish delivers the envelope to every subscriber of the channel.
// Slow subscribers lose the message; the pipeline is never held up by
// transport concerns.
func (h *Hub) Publish(channel string, env *Envelope) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	for sub := range h.subs[channel] {
		select {
		case sub.ch <- env:
		default:
			h.dropped.Add(1)
			observability.DefaultMetrics.MessagesDropped.Inc()
		}
	}
}

// Dropped returns the total number of messages dropped due to slow subscribers.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// Close detaches all subscribers and closes their feeds. Publish after
// Close is a no-op.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for channel, set := range h.subs {
		for sub := range set {
			close(sub.ch)
			observability.DefaultMetrics.Subscribers.Dec()
		}
		delete(h.subs, channel)
	}
}
