package services

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var (
	// ErrConnClosed is returned when sending on a connection that has
	// already been shut down by its write pump or the registry.
	ErrConnClosed = errors.New("connection closed")

	// ErrSendBufferFull is returned when a recipient's outbound buffer is
	// saturated. The caller treats the connection as absent for that
	// attempt; a slow device must not block delivery to anyone else.
	ErrSendBufferFull = errors.New("send buffer full")
)

// wsTransport is the subset of *websocket.Conn the write pump relies on.
type wsTransport interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Conn is one live realtime channel belonging to a single user device.
// The registry owns it for its whole lifetime; everything else only ever
// queues frames through Send.
type Conn struct {
	ID     uuid.UUID
	UserID string

	ws   wsTransport
	send chan []byte

	mu     sync.Mutex
	closed bool
}

// NewConn wraps an accepted websocket for a user with a buffered outbound
// queue. The caller must run WritePump for frames to reach the peer.
func NewConn(userID string, ws wsTransport, bufferSize int) *Conn {
	return &Conn{
		ID:     uuid.New(),
		UserID: userID,
		ws:     ws,
		send:   make(chan []byte, bufferSize),
	}
}

// Send queues a frame for the peer without blocking. It fails fast when
// the connection is closed or its buffer is full.
func (c *Conn) Send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrConnClosed
	}

	select {
	case c.send <- frame:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Close marks the connection dead and wakes the write pump. Closing twice
// is a no-op.
func (c *Conn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// WritePump drains the outbound queue onto the websocket and keeps the
// connection alive with periodic pings. It returns when the queue is
// closed or a write fails, closing the underlying transport either way.
func (c *Conn) WritePump(pingInterval, writeTimeout time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.Close()
		_ = c.ws.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
