package server

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/keywatch/logger"
	"github.com/teranos/keywatch/pulse/schedule"
)

const (
	// MaxClients caps concurrent WebSocket connections
	MaxClients = 256

	// Per-client queue; a client that falls further behind loses events
	sendBuffer = 64
)

// Event types pushed to WebSocket clients
const (
	EventConnected         = "connected"
	EventExecutionStarted  = "execution_started"
	EventExecutionFinished = "execution_finished"
)

// Event is one message on the pulse feed
type Event struct {
	Type      string              `json:"type"`
	ClientID  string              `json:"client_id,omitempty"`
	Execution *schedule.Execution `json:"execution,omitempty"`
	Timestamp int64               `json:"timestamp"`
}

// Hub tracks WebSocket clients and fans execution events out to them.
// It implements schedule.ExecutionBroadcaster.
type Hub struct {
	mu         sync.RWMutex
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	drops      atomic.Int64
	logger     *zap.SugaredLogger
}

// NewHub creates a hub. Run must be started before clients connect.
func NewHub(log *zap.SugaredLogger) *Hub {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger.AddPulseSymbol(log.Named("hub")),
	}
}

// Run processes registrations until ctx is cancelled
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.logger.Debugw("Hub stopping due to context cancellation")
			return
		case c := <-h.register:
			h.handleRegister(c)
		case c := <-h.unregister:
			h.handleUnregister(c)
		}
	}
}

func (h *Hub) add(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) remove(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) handleRegister(c *Client) {
	h.mu.Lock()
	if len(h.clients) >= MaxClients {
		h.mu.Unlock()
		h.logger.Warnw("Max clients reached, rejecting connection",
			"client_id", c.id,
			"max_clients", MaxClients,
		)
		c.conn.Close()
		return
	}
	h.clients[c] = true
	total := len(h.clients)
	c.queue(Event{Type: EventConnected, ClientID: c.id, Timestamp: time.Now().Unix()})
	h.mu.Unlock()

	h.logger.Infow("Client connected", "client_id", c.id, "total_clients", total)
}

func (h *Hub) handleUnregister(c *Client) {
	h.mu.Lock()
	if !h.clients[c] {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	total := len(h.clients)
	c.close()
	h.mu.Unlock()

	h.logger.Infow("Client disconnected", "client_id", c.id, "total_clients", total)
}

// closeAll drops every client connection. Their read pumps then exit.
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.clients) > 0 {
		h.logger.Infow("Closing client connections", logger.FieldCount, len(h.clients))
	}
	for c := range h.clients {
		c.conn.Close()
		c.close()
		delete(h.clients, c)
	}
}

// Broadcast queues msg for every client without blocking.
// Returns how many clients accepted it.
func (h *Hub) Broadcast(msg interface{}) int {
	// Read lock held across sends so unregister cannot close a channel mid-send
	h.mu.RLock()
	defer h.mu.RUnlock()

	sent := 0
	for c := range h.clients {
		select {
		case c.send <- msg:
			sent++
		default:
			h.drops.Add(1)
		}
	}
	return sent
}

// BroadcastExecutionStarted implements schedule.ExecutionBroadcaster
func (h *Hub) BroadcastExecutionStarted(exec schedule.Execution) {
	h.Broadcast(Event{Type: EventExecutionStarted, Execution: &exec, Timestamp: time.Now().Unix()})
}

// BroadcastExecutionFinished implements schedule.ExecutionBroadcaster
func (h *Hub) BroadcastExecutionFinished(exec schedule.Execution) {
	sent := h.Broadcast(Event{Type: EventExecutionFinished, Execution: &exec, Timestamp: time.Now().Unix()})
	h.logger.Debugw("Execution finished broadcast",
		logger.FieldExecutionID, exec.ID,
		logger.FieldOutcome, exec.Outcome,
		"clients", sent,
	)
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Drops returns how many messages were skipped because a client queue was full
func (h *Hub) Drops() int64 {
	return h.drops.Load()
}
