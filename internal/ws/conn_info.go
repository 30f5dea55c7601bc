package ws

import (
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

type ConnInfo struct {
	ConnID      string
	UserID      int
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}

const sendBuffer = 64

// Client is one websocket connection. Frames queued by the hub are written
// by the connection's write loop in order.
type Client struct {
	info   ConnInfo
	topics []string
	send   chan []byte

	closeOnce sync.Once
	done      chan struct{}
}

// NewClient builds a client with a fresh connection id.
func NewClient(info ConnInfo, topics []string) *Client {
	if info.ConnID == "" {
		info.ConnID = uuid.NewString()
	}
	return &Client{
		info:   info,
		topics: topics,
		send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
	}
}

func (c *Client) Info() ConnInfo { return c.info }

// enqueue reports false when the buffer is full or the client closed.
func (c *Client) enqueue(payload []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// Close signals the write loop to stop. It is safe to call repeatedly.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Done is closed once the client is closed.
func (c *Client) Done() <-chan struct{} { return c.done }

// Frames exposes queued frames, for the write loop.
func (c *Client) Frames() <-chan []byte { return c.send }

func (c *Client) subscribed(topic string) bool {
	return slices.Contains(c.topics, topic)
}
