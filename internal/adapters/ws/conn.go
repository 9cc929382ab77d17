package ws

import (
	"errors"
	"sync"

	"github.com/gorilla/websocket"
)

var ErrBackpressure = errors.New("backpressure")
var errConnClosed = errors.New("connection closed")

// wsConn wraps the websocket connection with a buffered outbound queue.
// TrySend never blocks: a session too slow to drain its queue loses
// messages instead of stalling the sender.
type wsConn struct {
	conn *websocket.Conn
	send chan string

	mu     sync.RWMutex
	closed bool
}

func newWSConn(conn *websocket.Conn, buffer int) *wsConn {
	return &wsConn{
		conn: conn,
		send: make(chan string, buffer),
	}
}

func (c *wsConn) TrySend(text string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errConnClosed
	}
	select {
	case c.send <- text:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *wsConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}
