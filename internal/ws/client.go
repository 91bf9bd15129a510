package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

// client wraps a websocket connection with a buffered outbox drained by a
// single writer goroutine, so sends from broadcast passes never block and
// never interleave partial frames.
type client struct {
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newClient(conn *websocket.Conn, outbox int) *client {
	c := &client{
		conn: conn,
		send: make(chan []byte, outbox),
		done: make(chan struct{}),
	}
	go c.writePump()
	return c
}

func (c *client) writePump() {
	defer c.conn.Close()
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}

// TrySend queues a message for delivery. It reports false when the outbox is
// full or the client is already closed; the caller treats that as a delivery
// failure.
func (c *client) TrySend(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// Close tears down the connection. Safe to call more than once.
func (c *client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// closeWith sends a close frame carrying code and reason, then tears the
// connection down. Used on admission denial, before the client ever joins a
// room.
func (c *client) closeWith(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	c.Close()
}
