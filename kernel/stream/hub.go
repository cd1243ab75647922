// Package stream serves a running simulation to live viewers: websocket
// frames per log tick, Prometheus gauges per process kind and policy, and a
// wall-clock pacer driving the run.
package stream

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sony/gobreaker"
	"github.com/yasserelgammal/rate-limiter/limiter"
	"github.com/yasserelgammal/rate-limiter/store"

	"github.com/nmxmxh/procmesh/kernel/utils"
)

var (
	errSlowClient   = errors.New("client send buffer full")
	errClientClosed = errors.New("client closed")
)

// HubConfig configures per-client flow control.
type HubConfig struct {
	// FramesPerSecond and Burst bound how fast frames are pushed to a client.
	FramesPerSecond int64
	Burst           int64
	SendBuffer      int
	WriteTimeout    time.Duration
	// MaxFailures consecutive full buffers open the client's breaker; an open
	// breaker evicts the client.
	MaxFailures    uint32
	BreakerTimeout time.Duration
}

// DefaultHubConfig returns settings suited to a browser viewer.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		FramesPerSecond: 30,
		Burst:           60,
		SendBuffer:      32,
		WriteTimeout:    5 * time.Second,
		MaxFailures:     8,
		BreakerTimeout:  10 * time.Second,
	}
}

// HubStats counts frame outcomes.
type HubStats struct {
	Sent      uint64 `json:"sent"`
	Throttled uint64 `json:"throttled"`
	Failed    uint64 `json:"failed"`
	Evicted   uint64 `json:"evicted"`
}

type client struct {
	id      string
	conn    *websocket.Conn
	send    chan []byte
	breaker *gobreaker.CircuitBreaker

	mu     sync.Mutex
	closed bool
}

func (c *client) offer(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errClientClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		return errSlowClient
	}
}

func (c *client) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
	}
}

// Hub fans frames out to websocket clients.
type Hub struct {
	config   HubConfig
	upgrader websocket.Upgrader
	limiter  *limiter.TokenBucket
	logger   *slog.Logger

	mu      sync.RWMutex
	clients map[string]*client
	stats   HubStats
	closed  bool
}

// NewHub creates an empty hub.
func NewHub(config HubConfig, logger *slog.Logger) (*Hub, error) {
	if logger == nil {
		logger = slog.Default()
	}
	tb, err := limiter.NewTokenBucket(
		limiter.Config{
			Rate:     config.FramesPerSecond,
			Duration: time.Second,
			Burst:    config.Burst,
		},
		store.NewMemoryStore(time.Minute),
	)
	if err != nil {
		return nil, utils.WrapError(err, "create frame limiter")
	}
	return &Hub{
		config:  config,
		limiter: tb,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger:  logger.With("component", "stream"),
		clients: make(map[string]*client),
	}, nil
}

// ServeHTTP upgrades the request and keeps the client until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	c := h.newClient(conn)
	if !h.register(c) {
		c.close()
		return
	}
	h.logger.Info("client connected", "client", utils.ShortID(c.id), "remote", r.RemoteAddr)

	go h.writeLoop(c)
	h.readLoop(c)
}

func (h *Hub) newClient(conn *websocket.Conn) *client {
	id := utils.GenerateID()
	return &client{
		id:   id,
		conn: conn,
		send: make(chan []byte, h.config.SendBuffer),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "client-" + utils.ShortID(id),
			Timeout: h.config.BreakerTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= h.config.MaxFailures
			},
		}),
	}
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c.id] = c
	return true
}

func (h *Hub) unregister(c *client, reason string) bool {
	h.mu.Lock()
	_, ok := h.clients[c.id]
	delete(h.clients, c.id)
	h.mu.Unlock()
	if ok {
		c.close()
		h.logger.Info("client removed", "client", utils.ShortID(c.id), "reason", reason)
	}
	return ok
}

// readLoop discards incoming messages; it returns when the peer goes away.
func (h *Hub) readLoop(c *client) {
	defer h.unregister(c, "disconnected")
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("client read failed", "client", utils.ShortID(c.id), "error", err)
			}
			return
		}
	}
}

func (h *Hub) writeLoop(c *client) {
	for data := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.unregister(c, "write failed")
			return
		}
	}
}

// Broadcast encodes v once and offers it to every client.
func (h *Hub) Broadcast(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return utils.WrapError(err, "encode frame")
	}
	h.mu.RLock()
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		h.deliver(c, data)
	}
	return nil
}

// deliver queues data for c. Throttled frames are skipped; a client whose
// buffer stays full trips its breaker and is evicted.
func (h *Hub) deliver(c *client, data []byte) {
	if !h.limiter.Allow(c.id) {
		h.count(func(s *HubStats) { s.Throttled++ })
		return
	}
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.offer(data)
	})
	switch {
	case err == nil:
		h.count(func(s *HubStats) { s.Sent++ })
	case errors.Is(err, errClientClosed):
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		if h.unregister(c, "breaker open") {
			h.count(func(s *HubStats) { s.Evicted++ })
		}
	default:
		h.count(func(s *HubStats) { s.Failed++ })
	}
}

func (h *Hub) count(fn func(*HubStats)) {
	h.mu.Lock()
	fn(&h.stats)
	h.mu.Unlock()
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stats returns the frame counters.
func (h *Hub) Stats() HubStats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.stats
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() error {
	h.mu.Lock()
	h.closed = true
	clients := h.clients
	h.clients = make(map[string]*client)
	h.mu.Unlock()

	for _, c := range clients {
		if c.conn != nil {
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(time.Second))
		}
		c.close()
	}
	h.logger.Info("hub closed", "clients", len(clients))
	return nil
}
