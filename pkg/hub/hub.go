// Package hub fans out messages to websocket clients through a single
// goroutine that owns the client set.
package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
)

// Hub maintains the set of active clients and broadcasts JSON documents to
// them as text frames. The last document is retained and replayed to clients that join later,
// so a dashboard connecting mid-stream sees the most recent status.
type Hub struct {
	name   string
	logger *slog.Logger

	clients map[*Client]struct{}

	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	// mu guards clients for readers outside Run, and last.
	mu   sync.RWMutex
	last []byte

	startOnce sync.Once
	running   bool
}

// New creates a new Hub. A nil logger falls back to slog.Default().
func New(name string, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		name:       name,
		logger:     logger.With("hub", name),
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run starts the hub's main loop and blocks until ctx is cancelled.
// On return every client's send channel is closed, which makes its write
// pump send a close frame.
func (h *Hub) Run(ctx context.Context) {
	started := false
	h.startOnce.Do(func() { started = true })
	if !started {
		return
	}

	h.mu.Lock()
	h.running = true
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		for client := range h.clients {
			delete(h.clients, client)
			close(client.send)
		}
		h.running = false
		h.mu.Unlock()
		close(h.done)
		h.logger.Debug("hub stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			count := len(h.clients)
			last := h.last
			h.mu.Unlock()
			if last != nil {
				h.offer(client, last)
			}
			h.logger.Debug("client connected", "clients", count)

		case client := <-h.unregister:
			h.mu.Lock()
			h.remove(client)
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("client disconnected", "clients", count)

		case message := <-h.broadcast:
			h.mu.Lock()
			h.last = message
			for client := range h.clients {
				if !h.offer(client, message) {
					h.remove(client)
					h.logger.Warn("dropped slow client")
				}
			}
			h.mu.Unlock()
		}
	}
}

// offer queues message on the client without blocking.
func (h *Hub) offer(client *Client, message []byte) bool {
	select {
	case client.send <- message:
		return true
	default:
		return false
	}
}

// remove must be called with mu held.
func (h *Hub) remove(client *Client) {
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
}

// publish queues an encoded document without blocking.
func (h *Hub) publish(data []byte) {
	select {
	case h.broadcast <- data:
	case <-h.done:
	default:
		h.logger.Warn("broadcast channel full, dropping message")
	}
}

// BroadcastJSON encodes v and sends it to all connected clients. It never
// blocks; the message is dropped if the hub is backed up or stopped.
func (h *Hub) BroadcastJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.publish(data)
	return nil
}

// Last returns the most recent message, if any.
func (h *Hub) Last() ([]byte, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.last, h.last != nil
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// IsRunning returns whether the hub is running
func (h *Hub) IsRunning() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}

// Done is closed once Run has returned.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

func (h *Hub) join(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
