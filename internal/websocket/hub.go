// Package websocket pushes job lifecycle events to connected GUI
// shells. Every client receives every event; there is no per-client
// routing because the bridge serves one local user.
package websocket

import (
	"sync"

	"github.com/streamgrab/backend/internal/metrics"
)

// Hub owns the client set. All membership changes funnel through its
// Run loop; the mutex only guards reads from other goroutines.
type Hub struct {
	clients map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *JobEvent

	mu sync.RWMutex
}

// NewHub creates a hub. Call Run on its own goroutine before
// registering clients.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *JobEvent),
	}
}

// Run serves membership changes and event fanout until the process
// exits.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.add(client)
		case client := <-h.unregister:
			h.drop(client)
		case event := <-h.broadcast:
			h.fanout(event)
		}
	}
}

func (h *Hub) add(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client] = true
	metrics.Default().SetWSConnections(int64(len(h.clients)))
}

func (h *Hub) drop(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
		metrics.Default().SetWSConnections(int64(len(h.clients)))
	}
}

// fanout delivers the event to every client that can take it. A client
// whose send buffer is full is cut loose rather than allowed to stall
// the loop.
func (h *Hub) fanout(event *JobEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		select {
		case client.send <- event:
		default:
			close(client.send)
			delete(h.clients, client)
		}
	}
	metrics.Default().SetWSConnections(int64(len(h.clients)))
}

// Broadcast sends a job event to every connected client.
func (h *Hub) Broadcast(event *JobEvent) {
	h.broadcast <- event
}

// TotalClients returns the number of connected clients.
func (h *Hub) TotalClients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
