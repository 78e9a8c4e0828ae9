package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"staffroom/pkg/types"
)

// Connection wraps a WebSocket transport with a single writer goroutine, so
// concurrent broadcasts and directed sends never interleave frames. It also
// carries the ConnectedUser record set once at authentication.
type Connection struct {
	conn         *websocket.Conn
	writeCh      chan []byte
	writeTimeout time.Duration
	ctx          context.Context
	cancel       context.CancelFunc
	closeOnce    sync.Once

	mu          sync.RWMutex
	userID      string
	name        string
	activity    string
	connectedAt time.Time
	lastActive  time.Time
}

// NewConnection creates a connection wrapper and starts its writer goroutine.
func NewConnection(conn *websocket.Conn, bufferSize int, writeTimeout time.Duration) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		conn:         conn,
		writeCh:      make(chan []byte, bufferSize),
		writeTimeout: writeTimeout,
		ctx:          ctx,
		cancel:       cancel,
	}

	go c.writeLoop()

	return c
}

func (c *Connection) writeLoop() {
	defer func() {
		for len(c.writeCh) > 0 {
			<-c.writeCh
		}
		close(c.writeCh)
	}()

	for {
		select {
		case data, ok := <-c.writeCh:
			if !ok {
				return
			}

			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
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

// WriteJSON queues a JSON message for the writer goroutine. A full queue or a
// closed connection returns an error instead of blocking indefinitely.
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
	case <-time.After(c.writeTimeout):
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// WriteEnvelope marshals a payload under the given tag and queues it.
func (c *Connection) WriteEnvelope(msgType string, payload interface{}) error {
	env, err := types.NewEnvelope(msgType, payload)
	if err != nil {
		return ErrInvalidJSON
	}
	return c.WriteJSON(env)
}

// Ping sends a control-frame liveness probe.
func (c *Connection) Ping() error {
	return c.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(c.writeTimeout))
}

// Close tears down the transport. Safe to call more than once; the writer
// goroutine drains and closes its own channel.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}

// Done exposes the connection lifetime for coordinating goroutines.
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}

// SetIdentity records the authenticated user on this connection. Called once
// by the handshake before registration; activity starts as idle.
func (c *Connection) SetIdentity(userID, name string) {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	c.userID = userID
	c.name = name
	c.activity = types.ActivityIdle
	c.connectedAt = now
	c.lastActive = now
}

// UserID returns the authenticated identity, empty before authentication.
func (c *Connection) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

// Name returns the display name resolved at authentication.
func (c *Connection) Name() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.name
}

// SetActivity updates the declared activity and refreshes last-activity.
func (c *Connection) SetActivity(activity string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.activity = activity
	c.lastActive = time.Now()
}

// Touch refreshes the last-activity timestamp, from inbound messages and
// heartbeat replies.
func (c *Connection) Touch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastActive = time.Now()
}

// LastActive returns the most recent activity timestamp.
func (c *Connection) LastActive() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastActive
}

// User returns a snapshot copy of the ConnectedUser record.
func (c *Connection) User() *types.ConnectedUser {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return &types.ConnectedUser{
		UserID:      c.userID,
		Name:        c.name,
		Activity:    c.activity,
		ConnectedAt: c.connectedAt,
		LastActive:  c.lastActive,
	}
}
