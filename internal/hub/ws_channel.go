package hub

import (
	"sync"

	"github.com/gorilla/websocket"
)

// WSChannel adapts a gorilla websocket connection to the Channel
// interface. Writes are serialized by the mutex because the hub may be
// invoked from many goroutines.
type WSChannel struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func NewWSChannel(conn *websocket.Conn) *WSChannel {
	return &WSChannel{conn: conn}
}

func (c *WSChannel) Send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

func (c *WSChannel) Close() error {
	return c.conn.Close()
}
