package live

import (
	"context"
	"encoding/json"
	"log/slog"

	"accel-gap-monitor/models"
)

// Hub fans live point batches out to the WebSocket clients of one session.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	logger     *slog.Logger
}

type message struct {
	Type    string                  `json:"type"`
	Payload []models.MagnitudePoint `json:"payload"`
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run serves registrations and broadcasts until ctx is cancelled, then
// closes every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			return

		case client := <-h.register:
			h.clients[client] = true
			h.logger.Debug("websocket client registered", "remote", client.conn.RemoteAddr().String())

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.logger.Debug("websocket client unregistered", "remote", client.conn.RemoteAddr().String())
			}

		case msg := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- msg:
				default:
					h.logger.Warn("websocket client too slow, removing", "remote", client.conn.RemoteAddr().String())
					close(client.send)
					delete(h.clients, client)
				}
			}
		}
	}
}

// BroadcastPoints queues a batch for every client. It never blocks the
// caller; a batch is dropped if the hub is backed up or stopped.
func (h *Hub) BroadcastPoints(points []models.MagnitudePoint) {
	data, err := encode("points", points)
	if err != nil {
		h.logger.Error("failed to encode points", "error", err)
		return
	}
	select {
	case h.broadcast <- data:
	case <-h.done:
	default:
		h.logger.Warn("live broadcast queue full, dropping batch", "points", len(points))
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

func encode(kind string, points []models.MagnitudePoint) ([]byte, error) {
	if points == nil {
		points = []models.MagnitudePoint{}
	}
	return json.Marshal(message{Type: kind, Payload: points})
}
