// Package ws is the WebSocket transport: one connection per player,
// JSON envelopes in both directions. Each connection gets an opaque
// channel ID; the game layer addresses pushes to channel IDs and never
// sees the socket.
package ws

import (
	"context"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Gandolfi-G/duel-dot/internal/game"
)

const (
	writeWait     = 10 * time.Second
	sendQueueSize = 64
)

// client is one live connection. The session binding is written only by
// the connection's own read loop.
type client struct {
	id      uuid.UUID
	conn    *websocket.Conn
	send    chan []byte
	session *game.Session
}

// enqueue hands bytes to the write pump without blocking. A client whose
// queue is full is too slow to be worth stalling the session for; the
// message is dropped and the state catches up on the next broadcast.
func (c *client) enqueue(data []byte) {
	select {
	case c.send <- data:
	default:
		logrus.WithField("channel", c.id).Warn("send queue full, dropping message")
	}
}

// writePump serializes all writes for one connection. Runs until the
// connection's request context is cancelled.
func (c *client) writePump(ctx context.Context) {
	for {
		select {
		case data := <-c.send:
			wctx, cancel := context.WithTimeout(ctx, writeWait)
			err := c.conn.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// Hub tracks live connections by channel ID and is the session layer's
// delivery target.
type Hub struct {
	mu      sync.RWMutex
	clients map[uuid.UUID]*client
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[uuid.UUID]*client)}
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.id] = c
}

func (h *Hub) remove(id uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, id)
}

// Count returns the number of live connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Send implements game.SendFunc. Events for channels that have since
// disconnected are dropped.
func (h *Hub) Send(channelID uuid.UUID, ev game.Event) {
	h.mu.RLock()
	c, ok := h.clients[channelID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	data, err := encodeEvent(ev)
	if err != nil {
		logrus.WithError(err).Error("failed encoding event")
		return
	}
	c.enqueue(data)
}
