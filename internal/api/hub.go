package api

import (
	"context"
	"encoding/json"

	"codeberg.org/mutker/powerdash/internal/logger"
)

// Hub fans dashboard updates out to connected websocket clients.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan []byte
	register   chan *client
	unregister chan *client
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan []byte, 16),
		register:   make(chan *client),
		unregister: make(chan *client),
	}
}

// Run serves registrations and broadcasts until ctx is done, then
// disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			return

		case c := <-h.register:
			h.clients[c] = true
			logger.Debug().Str("remote", c.conn.RemoteAddr().String()).Msg("Live client connected")

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
				logger.Debug().Str("remote", c.conn.RemoteAddr().String()).Msg("Live client disconnected")
			}

		case msg := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					logger.Warn().Str("remote", c.conn.RemoteAddr().String()).Msg("Live client too slow, dropping")
					delete(h.clients, c)
					close(c.send)
				}
			}
		}
	}
}

// Publish queues a typed message for all clients. It never blocks; when
// the queue is full the message is dropped.
func (h *Hub) Publish(kind string, payload any) {
	msg, err := encodeMessage(kind, payload)
	if err != nil {
		logger.Error().Err(err).Str("type", kind).Msg("Failed to encode live message")
		return
	}

	select {
	case h.broadcast <- msg:
	default:
		logger.Debug().Str("type", kind).Msg("Live broadcast queue full, dropping message")
	}
}

func encodeMessage(kind string, payload any) ([]byte, error) {
	return json.Marshal(map[string]any{"type": kind, "payload": payload})
}
