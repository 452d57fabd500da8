package ws

import (
	"context"
	"sync"

	"medichat/infrastructure/metrics"

	"github.com/rs/zerolog/log"
)

// Hub tracks the connections of this process, one per user. A newer
// connection of the same user replaces the older one.
type Hub struct {
	clients    map[string]*UserClient
	Register   chan *UserClient
	Unregister chan *UserClient
	done       chan struct{}
	mu         sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]*UserClient),
		Register:   make(chan *UserClient),
		Unregister: make(chan *UserClient),
		done:       make(chan struct{}),
	}
}

// Run serves registrations until ctx is done. Later Register and
// Unregister calls return without effect.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case client := <-h.Register:
			h.add(client)
			log.Debug().Str("userId", client.UserId).Msg("websocket connected")

		case client := <-h.Unregister:
			if h.remove(client) {
				log.Debug().Str("userId", client.UserId).Msg("websocket disconnected")
			}

		case <-ctx.Done():
			return
		}
	}
}

func (h *Hub) add(client *UserClient) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if prev, ok := h.clients[client.UserId]; ok && prev != client {
		close(prev.send)
		metrics.WsConnections.Dec()
	}
	h.clients[client.UserId] = client
	metrics.WsConnections.Inc()
}

// remove drops client only if it is still the registered connection.
func (h *Hub) remove(client *UserClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if current, ok := h.clients[client.UserId]; !ok || current != client {
		return false
	}
	delete(h.clients, client.UserId)
	close(client.send)
	metrics.WsConnections.Dec()
	return true
}

func (h *Hub) SendToClient(userID string, message []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	client, exists := h.clients[userID]
	if exists && !client.Send(message) {
		log.Warn().Str("userId", userID).Msg("websocket send queue full, frame dropped")
	}
}

func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) RegisterClient(client *UserClient) {
	select {
	case h.Register <- client:
	case <-h.done:
	}
}

func (h *Hub) UnregisterClient(client *UserClient) {
	select {
	case h.Unregister <- client:
	case <-h.done:
	}
}
