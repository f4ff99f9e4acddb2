package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Connection is one live WebSocket session. It is the presence.Handle stored
// in the registry, so two Connections are equal only if they are the same value.
type Connection struct {
	id     string
	UserID string

	conn *websocket.Conn
	send chan []byte

	heartbeatMu   sync.RWMutex
	lastHeartbeat time.Time
	connectedAt   time.Time

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	// dropOnce guards the hub's disconnect path.
	dropOnce sync.Once
}

func newConnection(ctx context.Context, userID string, conn *websocket.Conn, bufferSize int) *Connection {
	connCtx, cancel := context.WithCancel(ctx)
	now := time.Now()
	return &Connection{
		id:            uuid.NewString(),
		UserID:        userID,
		conn:          conn,
		send:          make(chan []byte, bufferSize),
		lastHeartbeat: now,
		connectedAt:   now,
		ctx:           connCtx,
		cancel:        cancel,
	}
}

func (c *Connection) ID() string {
	return c.id
}

// enqueue queues a frame without blocking. It reports false when the
// connection is closed or its buffer is full.
func (c *Connection) enqueue(frame []byte) bool {
	select {
	case <-c.ctx.Done():
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// Close sends a close frame and tears down the socket. Safe to call repeatedly.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = c.conn.Close()
	})
	return err
}

func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}

func (c *Connection) UpdateHeartbeat() {
	c.heartbeatMu.Lock()
	c.lastHeartbeat = time.Now()
	c.heartbeatMu.Unlock()
}

func (c *Connection) LastHeartbeat() time.Time {
	c.heartbeatMu.RLock()
	defer c.heartbeatMu.RUnlock()
	return c.lastHeartbeat
}

// IsAlive reports whether a heartbeat arrived within timeout.
func (c *Connection) IsAlive(timeout time.Duration) bool {
	return time.Since(c.LastHeartbeat()) < timeout
}
