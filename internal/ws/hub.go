package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"slices"
	"sync"
)

// Envelope is one event frame as delivered to clients.
type Envelope struct {
	Topic        string `json:"channel"`
	MessageBusID int64  `json:"message_bus_id"`
	Data         any    `json:"data"`
}

// room holds the subscribers of one topic. mu serialises publishes so the
// bus id order matches the delivery order of every subscriber.
type room struct {
	mu      sync.Mutex
	lastID  int64
	clients map[*Client]struct{}
}

// Hub maintains topic rooms and fans events out to subscribed clients.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[string]*room
	logger *slog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{rooms: make(map[string]*room), logger: logger}
}

// room returns the room of topic, creating it. Rooms are kept after the
// last client leaves so bus ids keep increasing.
func (h *Hub) room(topic string) *room {
	h.mu.RLock()
	r, ok := h.rooms[topic]
	h.mu.RUnlock()
	if ok {
		return r
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if r, ok = h.rooms[topic]; !ok {
		r = &room{clients: make(map[*Client]struct{})}
		h.rooms[topic] = r
	}
	return r
}

// Subscribe adds c to every topic.
func (h *Hub) Subscribe(c *Client, topics ...string) {
	for _, topic := range topics {
		r := h.room(topic)
		r.mu.Lock()
		r.clients[c] = struct{}{}
		r.mu.Unlock()
	}
}

// Unsubscribe removes c from topics.
func (h *Hub) Unsubscribe(c *Client, topics ...string) {
	for _, topic := range topics {
		h.mu.RLock()
		r, ok := h.rooms[topic]
		h.mu.RUnlock()
		if !ok {
			continue
		}
		r.mu.Lock()
		delete(r.clients, c)
		r.mu.Unlock()
	}
}

// Subscribers counts the clients of topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	r, ok := h.rooms[topic]
	h.mu.RUnlock()
	if !ok {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// Publish assigns the next bus id of topic and queues the frame on every
// subscriber, or only on those of userIDs when it is non-empty. A client
// whose buffer is full is disconnected instead of blocking the topic.
func (h *Hub) Publish(_ context.Context, topic string, data any, userIDs []int) {
	r := h.room(topic)
	r.mu.Lock()
	defer r.mu.Unlock()

	r.lastID++
	payload, err := json.Marshal(Envelope{Topic: topic, MessageBusID: r.lastID, Data: data})
	if err != nil {
		h.logger.Error("websocket encode failed", "topic", topic, "error", err)
		return
	}
	for c := range r.clients {
		if len(userIDs) > 0 && !slices.Contains(userIDs, c.info.UserID) {
			continue
		}
		if !c.enqueue(payload) {
			h.logger.Warn("websocket client too slow, dropping", "conn_id", c.info.ConnID, "user_id", c.info.UserID, "topic", topic)
			delete(r.clients, c)
			c.Close()
		}
	}
}

// LastID returns the bus id of the latest event on topic.
func (h *Hub) LastID(topic string) int64 {
	h.mu.RLock()
	r, ok := h.rooms[topic]
	h.mu.RUnlock()
	if !ok {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastID
}
