package websocket

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/matchgate/matchgate/internal/core/transport"
)

var _ transport.Connection = (*Connection)(nil)

// Connection wraps one upgraded WebSocket client socket.
type Connection struct {
	id           string
	conn         *websocket.Conn
	config       transport.Config
	lastActivity int64 // Unix timestamp
	connectedAt  time.Time
	closed       int32

	// Metrics
	messagesSent  uint64
	bytesSent     uint64
	bytesReceived uint64

	// Write mutex to ensure thread-safe writes
	writeMu sync.Mutex
}

// NewConnection creates a connection around an upgraded socket.
func NewConnection(conn *websocket.Conn, config transport.Config) *Connection {
	now := time.Now()
	return &Connection{
		id:           uuid.New().String(),
		conn:         conn,
		config:       config,
		lastActivity: now.Unix(),
		connectedAt:  now,
	}
}

// ID returns the connection ID.
func (c *Connection) ID() string {
	return c.id
}

// RemoteAddr returns the remote network address.
func (c *Connection) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Send writes one text frame.
func (c *Connection) Send(text []byte) error {
	if c.IsClosed() {
		return errors.Wrap(transport.ErrSendFailed, "connection is closed")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.config.WriteTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, text); err != nil {
		return errors.Wrap(transport.ErrSendFailed, err.Error())
	}

	atomic.AddUint64(&c.messagesSent, 1)
	atomic.AddUint64(&c.bytesSent, uint64(len(text)))
	atomic.StoreInt64(&c.lastActivity, time.Now().Unix())

	return nil
}

// receive reads the next text frame. Called only from the connection's
// read loop.
func (c *Connection) receive() ([]byte, error) {
	if c.IsClosed() {
		return nil, errors.New("connection is closed")
	}

	if c.config.ReadTimeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
	}

	messageType, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, err
	}

	if messageType != websocket.TextMessage {
		return nil, errors.New("expected text frame")
	}

	atomic.AddUint64(&c.bytesReceived, uint64(len(data)))
	atomic.StoreInt64(&c.lastActivity, time.Now().Unix())

	return data, nil
}

// IsClosed checks if the connection is closed.
func (c *Connection) IsClosed() bool {
	return atomic.LoadInt32(&c.closed) == 1
}

// LastActivity returns the time of the last frame in either direction.
func (c *Connection) LastActivity() time.Time {
	timestamp := atomic.LoadInt64(&c.lastActivity)
	return time.Unix(timestamp, 0)
}

// Close closes the connection without a specific reason.
func (c *Connection) Close() error {
	return c.CloseWithReason("connection closed")
}

// CloseWithReason closes the connection, putting the reason into the
// close frame.
func (c *Connection) CloseWithReason(reason string) error {
	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return nil // Already closed
	}

	c.writeMu.Lock()
	closeMessage := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	_ = c.conn.WriteControl(websocket.CloseMessage, closeMessage, time.Now().Add(time.Second))
	c.writeMu.Unlock()

	return c.conn.Close()
}

// SetPongHandler sets the pong handler for the underlying socket.
func (c *Connection) SetPongHandler(handler func(string) error) {
	c.conn.SetPongHandler(handler)
}

// WriteControl writes a control message with the given deadline.
func (c *Connection) WriteControl(messageType int, data []byte, deadline time.Time) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteControl(messageType, data, deadline)
}
