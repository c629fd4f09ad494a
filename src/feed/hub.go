// Package feed fans accepted readings and state changes out to WebSocket clients.
package feed

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/G1-H25/jenlib/src/inter"
)

// Envelope is the JSON message written to every client.
type Envelope struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// StateChange is the data of a "state" envelope.
type StateChange struct {
	Role      string          `json:"role"`
	DeviceID  inter.DeviceID  `json:"device_id"`
	From      string          `json:"from"`
	To        string          `json:"to"`
	SessionID inter.SessionID `json:"session_id"`
}

// Hub maintains the set of active clients and broadcasts messages.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
	now        func() time.Time
}

func NewHub() *Hub {
	return &Hub{
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
		done:       make(chan struct{}),
		now:        time.Now,
	}
}

// Run serves registrations and broadcasts until ctx is done, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			log.Printf("Feed: client %s connected, %d total", client.conn.RemoteAddr(), h.ClientCount())

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// 客户端太慢，直接断开
					log.Printf("Feed: client %s too slow, removing", client.conn.RemoteAddr())
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// PublishReading never blocks; if the hub is backed up the message is dropped.
func (h *Hub) PublishReading(r inter.StoredReading) {
	h.publish("reading", r)
}

func (h *Hub) PublishState(change StateChange) {
	h.publish("state", change)
}

func (h *Hub) publish(kind string, data interface{}) {
	msg, err := json.Marshal(Envelope{Type: kind, Timestamp: h.now(), Data: data})
	if err != nil {
		log.Printf("Feed: marshal %s: %v", kind, err)
		return
	}
	select {
	case h.broadcast <- msg:
	default:
		log.Printf("Feed: broadcast channel full, dropping %s", kind)
	}
}
