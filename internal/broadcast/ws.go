package broadcast

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WSConfig configures WebSocket server behavior.
type WSConfig struct {
	// WriteTimeout is timeout for writing a frame to the client.
	WriteTimeout time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// PongTimeout is how long to wait for a pong before dropping the client.
	PongTimeout time.Duration
	// ReadLimit bounds inbound control message size in bytes.
	ReadLimit int64
}

// DefaultWSConfig returns default WebSocket server configuration.
func DefaultWSConfig() WSConfig {
	return WSConfig{
		WriteTimeout: 10 * time.Second,
		PingInterval: 30 * time.Second,
		PongTimeout:  60 * time.Second,
		ReadLimit:    4096,
	}
}

// WSServer bridges the hub to WebSocket clients. Each client subscribes
// to channels with {"action":"subscribe","channel":"agent:<id>"} control
// messages; envelopes are delivered as JSON frames. A client that cannot
// keep up loses messages at the hub, never stalls it.
type WSServer struct {
	hub      *Hub
	config   WSConfig
	upgrader websocket.Upgrader
	logger   *log.Logger

	mu      sync.Mutex
	clients map[*wsClient]struct{}
	closed  bool
}

// NewWSServer creates a WebSocket fanout server over the hub.
func NewWSServer(hub *Hub, config *WSConfig, logger *log.Logger) *WSServer {
	cfg := DefaultWSConfig()
	if config != nil {
		cfg = *config
	}
	if logger == nil {
		logger = log.Default()
	}
	return &WSServer{
		hub:    hub,
		config: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Fanout is public read-only data; no origin restriction.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger:  logger,
		clients: make(map[*wsClient]struct{}),
	}
}

// ServeHTTP upgrades the request and serves the client until it disconnects.
func (s *WSServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Printf("WARN: websocket upgrade: %v", err)
		return
	}

	client := &wsClient{
		server: s,
		conn:   conn,
		subs:   make(map[string]*Subscription),
		out:    make(chan *Envelope, 64),
		done:   make(chan struct{}),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.clients[client] = struct{}{}
	s.mu.Unlock()

	go client.writePump()
	client.readPump()
}

// Close disconnects all clients.
func (s *WSServer) Close() {
	s.mu.Lock()
	s.closed = true
	clients := make([]*wsClient, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}

func (s *WSServer) removeClient(c *wsClient) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
}

type wsClient struct {
	server *WSServer
	conn   *websocket.Conn

	mu   sync.Mutex
	subs map[string]*Subscription

	out       chan *Envelope
	done      chan struct{}
	closeOnce sync.Once
}

// wsControl is the inbound control message shape.
type wsControl struct {
	Action  string `json:"action"` // subscribe | unsubscribe
	Channel string `json:"channel"`
}

func (c *wsClient) readPump() {
	defer c.close()

	cfg := c.server.config
	c.conn.SetReadLimit(cfg.ReadLimit)
	c.conn.SetReadDeadline(time.Now().Add(cfg.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(cfg.PongTimeout))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var ctl wsControl
		if err := json.Unmarshal(message, &ctl); err != nil {
			continue
		}
		switch ctl.Action {
		case "subscribe":
			c.subscribe(ctl.Channel)
		case "unsubscribe":
			c.unsubscribe(ctl.Channel)
		}
	}
}

func (c *wsClient) subscribe(channel string) {
	if channel == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.subs[channel]; ok {
		return
	}
	sub := c.server.hub.Subscribe(channel)
	c.subs[channel] = sub

	go func() {
		for env := range sub.C {
			select {
			case c.out <- env:
			case <-c.done:
				return
			default:
				// Client buffer full; drop, same policy as the hub.
			}
		}
	}()
}

func (c *wsClient) unsubscribe(channel string) {
	c.mu.Lock()
	sub, ok := c.subs[channel]
	if ok {
		delete(c.subs, channel)
	}
	c.mu.Unlock()
	if ok {
		c.server.hub.Unsubscribe(sub)
	}
}

func (c *wsClient) writePump() {
	cfg := c.server.config
	ticker := time.NewTicker(cfg.PingInterval)
	defer ticker.Stop()
	defer c.close()

	for {
		select {
		case env := <-c.out:
			c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if err := c.conn.WriteJSON(env); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *wsClient) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.mu.Lock()
		subs := make([]*Subscription, 0, len(c.subs))
		for channel, sub := range c.subs {
			subs = append(subs, sub)
			delete(c.subs, channel)
		}
		c.mu.Unlock()
		for _, sub := range subs {
			c.server.hub.Unsubscribe(sub)
		}

		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.conn.Close()
		c.server.removeClient(c)
	})
}
