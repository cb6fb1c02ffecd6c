package stream

import (
	"log"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second    // Time allowed to write a message to the peer
	pongWait       = 60 * time.Second    // Time allowed to read the next pong message from the peer
	pingPeriod     = (pongWait * 9) / 10 // Must be less than pongWait
	maxMessageSize = 512                 // Maximum message size allowed from peer
	messageBuffer  = 16                  // Queued JSON messages per client
)

// Client is a websocket consumer. It holds at most one frame in flight.
type Client struct {
	ID uuid.UUID

	hub      *Hub
	conn     *websocket.Conn
	frames   chan []byte
	messages chan []byte
	closed   chan struct{}
	once     sync.Once
}

// NewClient wraps an upgraded connection.
func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		ID:       uuid.New(),
		hub:      hub,
		conn:     conn,
		frames:   make(chan []byte, 1),
		messages: make(chan []byte, messageBuffer),
		closed:   make(chan struct{}),
	}
}

// RemoteAddr returns the peer address.
func (c *Client) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// close signals the write pump to finish. Called by the hub.
func (c *Client) close() {
	c.once.Do(func() { close(c.closed) })
}

// ReadPump handles control messages until the peer goes away.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket client %s read error: %v", c.ID, err)
			}
			return
		}
	}
}

// WritePump writes frames as binary messages and snapshots as text messages.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame := <-c.frames:
			if !c.write(websocket.BinaryMessage, frame) {
				return
			}
		case msg := <-c.messages:
			if !c.write(websocket.TextMessage, msg) {
				return
			}
		case <-ticker.C:
			if !c.write(websocket.PingMessage, nil) {
				return
			}
		case <-c.closed:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (c *Client) write(messageType int, data []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(messageType, data); err != nil {
		log.Printf("WebSocket client %s write error: %v", c.ID, err)
		return false
	}
	return true
}
