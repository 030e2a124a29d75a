package notify

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeTimeout = 10 * time.Second

// WebsocketChannel adapts a websocket connection to the Channel interface.
// Writes are serialized; gorilla connections allow one concurrent writer.
type WebsocketChannel struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// NewWebsocketChannel wraps an upgraded connection.
func NewWebsocketChannel(conn *websocket.Conn) *WebsocketChannel {
	return &WebsocketChannel{conn: conn}
}

// Send writes one text frame with a bounded deadline.
func (c *WebsocketChannel) Send(ctx context.Context, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	deadline := time.Now().Add(writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// Close closes the underlying connection.
func (c *WebsocketChannel) Close() error {
	return c.conn.Close()
}
