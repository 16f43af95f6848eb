package kiosk

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Connection implements the interfaces.Connection interface.
// ARCHITECTURAL DISCOVERY: WebSocket writes must be serialized to prevent
// race conditions - session state fan-out and ping control frames would
// otherwise interleave
type Connection struct {
	conn       *websocket.Conn
	writeCh    chan []byte
	kioskID    string // Set after the hello handshake
	profileID  string // Optional kiosk-locked profile
	registered bool
	ctx        context.Context
	cancel     context.CancelFunc
	closeOnce  sync.Once
	mu         sync.RWMutex // Protect identity fields
}

// NewConnection creates a new WebSocket connection wrapper
func NewConnection(conn *websocket.Conn) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		conn:    conn,
		writeCh: make(chan []byte, 100),
		ctx:     ctx,
		cancel:  cancel,
	}

	// Start the single writer goroutine
	go c.writeLoop()

	return c
}

// ARCHITECTURAL DISCOVERY: Single writer goroutine pattern eliminates races
func (c *Connection) writeLoop() {
	defer func() {
		for len(c.writeCh) > 0 {
			<-c.writeCh // Drain remaining messages
		}
		close(c.writeCh)
	}()

	for {
		select {
		case data, ok := <-c.writeCh:
			if !ok {
				return
			}

			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// WriteJSON serializes v and queues it on the single writer.
func (c *Connection) WriteJSON(v interface{}) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(v)
	if err != nil {
		return ErrInvalidJSON
	}

	select {
	case c.writeCh <- data:
		return nil
	case <-time.After(5 * time.Second):
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// Close shuts down the writer goroutine and the underlying socket.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			err = c.conn.Close()
		}
		// writeCh is closed by the writeLoop goroutine
	})
	return err
}

// SetIdentity records which kiosk this socket belongs to. profileID may be
// empty for kiosks not locked to a single child.
func (c *Connection) SetIdentity(kioskID, profileID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.kioskID = kioskID
	c.profileID = profileID
	c.registered = true
}

func (c *Connection) IsRegistered() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.registered
}

func (c *Connection) GetKioskID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.kioskID
}

func (c *Connection) GetProfileID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.profileID
}
