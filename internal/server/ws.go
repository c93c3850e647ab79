package server

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
)

type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

type WSClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

type WSHub struct {
	mu      sync.RWMutex
	clients map[*WSClient]struct{}
}

func NewWSHub() *WSHub {
	return &WSHub{clients: make(map[*WSClient]struct{})}
}

func (h *WSHub) Add(conn *websocket.Conn) *WSClient {
	c := &WSClient{conn: conn}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	return c
}

func (h *WSHub) Remove(c *WSClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	_ = c.conn.Close()
}

func (h *WSHub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends msg to every client; clients that fail the write are dropped.
func (h *WSHub) Broadcast(msg WSMessage) {
	b, err := json.Marshal(msg)
	if err != nil {
		return
	}
	var dead []*WSClient
	h.mu.RLock()
	for c := range h.clients {
		c.mu.Lock()
		if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
			dead = append(dead, c)
		}
		c.mu.Unlock()
	}
	h.mu.RUnlock()
	for _, c := range dead {
		h.Remove(c)
	}
}

func errorMessage(err error) WSMessage {
	return WSMessage{Type: "error", Data: map[string]string{"error": err.Error()}}
}
