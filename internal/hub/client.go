package hub

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/slidewire/slidewire/internal/protocol"
)

const sendBuffer = 256

// Client wraps one WebSocket connection. Outbound messages go through a
// buffered channel drained by a single writer goroutine; when the buffer is
// full the message is dropped rather than blocking the broadcaster.
type Client struct {
	ID string

	conn *websocket.Conn
	send chan protocol.Message

	mu   sync.Mutex
	hook func(protocol.Message)

	done      chan struct{}
	closeOnce sync.Once
}

func NewClient(conn *websocket.Conn) *Client {
	return &Client{
		ID:   uuid.NewString(),
		conn: conn,
		send: make(chan protocol.Message, sendBuffer),
		done: make(chan struct{}),
	}
}

// SetSendHook replaces the WebSocket writer (used in tests).
func (c *Client) SetSendHook(fn func(protocol.Message)) {
	c.mu.Lock()
	c.hook = fn
	c.mu.Unlock()
}

// Send queues a message for delivery. Safe for concurrent use; never blocks.
func (c *Client) Send(msg protocol.Message) {
	c.mu.Lock()
	hook := c.hook
	c.mu.Unlock()
	if hook != nil {
		hook(msg)
		return
	}

	select {
	case c.send <- msg:
	case <-c.done:
	default:
		slog.Warn("hub: send buffer full, dropping message", "conn", c.ID, "type", msg.Type)
	}
}

// Run starts the write pump. Returns when the client is closed.
func (c *Client) Run() {
	go c.writePump()
}

func (c *Client) writePump() {
	for {
		select {
		case msg := <-c.send:
			if err := c.conn.WriteJSON(msg); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.conn != nil {
			_ = c.conn.Close()
		}
	})
}
