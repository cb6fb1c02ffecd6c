package stream

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/itohio/wattmeter/pkg/meter"
)

var _ FrameSink = (*Hub)(nil)

// Message is the envelope of JSON messages sent to websocket clients.
type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Hub maintains the set of websocket clients.
type Hub struct {
	clients    map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
}

// NewHub creates a hub. Run must be called to accept clients.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run registers and unregisters clients until ctx is cancelled, then
// disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		close(h.done)
		h.mu.Lock()
		for client := range h.clients {
			delete(h.clients, client)
			client.close()
		}
		h.mu.Unlock()
	}()

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			h.mu.Unlock()
			log.Printf("WebSocket client %s registered: %s", client.ID, client.RemoteAddr())

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.close()
				log.Printf("WebSocket client %s unregistered", client.ID)
			}
			h.mu.Unlock()

		case <-ctx.Done():
			return
		}
	}
}

// Register adds a client. It returns false when the hub is no longer running.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes a client.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Ready reports whether any client has room for a frame.
func (h *Hub) Ready() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		if len(client.frames) < cap(client.frames) {
			return true
		}
	}
	return false
}

// BroadcastFrame offers a copy of data to every client without blocking.
// Clients still busy with the previous frame miss this one.
func (h *Hub) BroadcastFrame(data []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.clients) == 0 {
		return 0
	}

	frame := append([]byte(nil), data...)
	delivered := 0
	for client := range h.clients {
		select {
		case client.frames <- frame:
			delivered++
		default:
		}
	}
	return delivered
}

// BroadcastMeasures sends a measurement snapshot to every client as JSON.
func (h *Hub) BroadcastMeasures(m meter.CalculatedMeasures) {
	h.broadcast(Message{Type: "measures", Payload: m})
}

func (h *Hub) broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("Error marshalling %s message: %v", msg.Type, err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		select {
		case client.messages <- data:
		default:
			log.Printf("WebSocket client %s message buffer full, dropping %s", client.ID, msg.Type)
		}
	}
}
