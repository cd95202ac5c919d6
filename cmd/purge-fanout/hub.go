package main

import (
	"context"
	"sync"

	"github.com/openwiki/flaggedrevs/common/logger"
)

// Hub maintains active WebSocket connections and fans purge events out to
// the clients subscribed to the affected page
type Hub struct {
	connections map[*Client]struct{}
	mutex       sync.RWMutex

	// Channel for registering clients
	register chan *Client

	// Channel for unregistering clients
	unregister chan *Client

	// Channel for broadcasting purge events
	broadcast chan *Message

	log *logger.Logger
}

// Message is one purge event to be fanned out
type Message struct {
	PageID int64
	Data   []byte
}

// NewHub creates a new Hub instance
func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		connections: make(map[*Client]struct{}),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		broadcast:   make(chan *Message, 256),
		log:         log,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run(ctx context.Context) {
	h.log.Info("hub started")

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case message := <-h.broadcast:
			h.broadcastChange(message)
		}
	}
}

// registerClient adds a client to the hub
func (h *Hub) registerClient(client *Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.connections[client] = struct{}{}
	h.log.Debug("client registered",
		"page_filter", len(client.pages),
		"total", len(h.connections))
}

// unregisterClient removes a client from the hub
func (h *Hub) unregisterClient(client *Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if _, ok := h.connections[client]; !ok {
		return
	}
	delete(h.connections, client)
	close(client.send)
	h.log.Debug("client unregistered", "remaining", len(h.connections))
}

// broadcastChange sends a purge event to every client subscribed to the page
func (h *Hub) broadcastChange(message *Message) {
	// Full lock: slow clients get evicted from the connection map here
	h.mutex.Lock()
	defer h.mutex.Unlock()

	sent := 0
	for client := range h.connections {
		if !client.wants(message.PageID) {
			continue
		}
		select {
		case client.send <- message.Data:
			sent++
		default:
			// Client's send buffer is full, drop the connection
			h.log.Warn("client send buffer full, closing connection")
			delete(h.connections, client)
			close(client.send)
		}
	}

	if sent > 0 {
		h.log.Debug("purge event fanned out", "page_id", message.PageID, "clients", sent)
	}
}

// ConnectionCount returns the number of active connections
func (h *Hub) ConnectionCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	return len(h.connections)
}
