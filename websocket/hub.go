package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/apex/log"

	"denuncia-service/models"
)

// Hub manages WebSocket connections for the public change firehose.
// Every connected client receives every public feed event; geofenced
// per-session filtering happens in the feed session handler instead.
type Hub struct {
	// Registered clients
	clients map[*Client]bool

	// Serialized messages fanned out to every client
	broadcast chan []byte

	// Register requests from clients
	Register chan *Client

	// Unregister requests from clients
	Unregister chan *Client

	mutex sync.RWMutex

	// Statistics
	lastBroadcastSeq int
	connectedClients int
}

// NewHub creates a new WebSocket hub
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.Register:
			h.mutex.Lock()
			h.clients[client] = true
			h.connectedClients = len(h.clients)
			h.mutex.Unlock()
			log.Infof("Client connected. Total clients: %d", h.connectedClients)

		case client := <-h.Unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.connectedClients = len(h.clients)
			}
			h.mutex.Unlock()
			log.Infof("Client disconnected. Total clients: %d", h.connectedClients)

		case message := <-h.broadcast:
			h.mutex.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.connectedClients = len(h.clients)
			h.mutex.Unlock()
		}
	}
}

// BroadcastEvents broadcasts a batch of feed events to all connected clients
func (h *Hub) BroadcastEvents(events []models.FeedEvent) {
	if len(events) == 0 {
		return
	}

	h.mutex.Lock()
	h.lastBroadcastSeq = events[len(events)-1].Seq
	h.mutex.Unlock()

	message := models.BroadcastMessage{
		Type:      "denuncia_changes",
		Data:      events,
		Timestamp: time.Now(),
	}

	data, err := json.Marshal(message)
	if err != nil {
		log.WithError(err).Error("Failed to marshal broadcast message")
		return
	}

	h.broadcast <- data
	log.Infof("Broadcasted %d events (up to seq %d) to %d clients",
		len(events), h.lastBroadcastSeq, h.connectedClients)
}

// GetStats returns current hub statistics
func (h *Hub) GetStats() (int, int) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.connectedClients, h.lastBroadcastSeq
}
