package gateway

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Gopher0727/PulseChat/config"
	"github.com/Gopher0727/PulseChat/internal/model"
	"github.com/Gopher0727/PulseChat/internal/pkg/presence"
	"github.com/Gopher0727/PulseChat/internal/pkg/redis"
	logger "github.com/Gopher0727/PulseChat/middleware/log"
)

var (
	ErrHubClosed        = errors.New("gateway: hub is shut down")
	ErrConnectionClosed = errors.New("gateway: connection already closed")
)

type Options struct {
	NodeID            string
	HeartbeatInterval time.Duration
	WriteTimeout      time.Duration
	SendBufferSize    int
	MaxMessageSize    int64
	// AllowedOrigins empty accepts any Origin header.
	AllowedOrigins []string
	CookieName     string
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		NodeID:            cfg.Server.NodeID,
		HeartbeatInterval: time.Duration(cfg.Websocket.HeartbeatInterval) * time.Second,
		WriteTimeout:      time.Duration(cfg.Websocket.WriteTimeout) * time.Second,
		SendBufferSize:    cfg.Websocket.SendBufferSize,
		MaxMessageSize:    cfg.Websocket.MaxMessageSize,
		AllowedOrigins:    cfg.Websocket.AllowedOrigins,
		CookieName:        cfg.JWT.CookieName,
	}
}

func (o *Options) normalize() {
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 30 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.SendBufferSize <= 0 {
		o.SendBufferSize = 256
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = 4096
	}
}

// Hub owns connection lifecycle: it is the only writer to the presence
// registry and the only producer of presence broadcasts.
type Hub struct {
	opts     Options
	registry *presence.Registry
	mirror   redis.RedisClient
	auth     Authenticator
	logger   *logger.Logger

	// emitMu serializes registry mutation with the broadcast that follows,
	// so every connection sees snapshots in mutation order.
	emitMu sync.Mutex
	mu     sync.RWMutex
	conns  map[*Connection]struct{}
	closed bool

	startedAt time.Time
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewHub starts the heartbeat monitor. mirror may be nil.
func NewHub(ctx context.Context, opts Options, registry *presence.Registry, mirror redis.RedisClient, auth Authenticator, log *logger.Logger) *Hub {
	opts.normalize()
	hubCtx, cancel := context.WithCancel(ctx)
	h := &Hub{
		opts:      opts,
		registry:  registry,
		mirror:    mirror,
		auth:      auth,
		logger:    log.Named("gateway"),
		conns:     make(map[*Connection]struct{}),
		startedAt: time.Now(),
		ctx:       hubCtx,
		cancel:    cancel,
	}

	h.wg.Add(1)
	go h.monitorHeartbeats()
	return h
}

// connect registers c and announces the new online set to everyone.
// A connection that disconnect has already torn down is refused: disconnect
// cancels c before it takes emitMu, so checking under emitMu is enough.
func (h *Hub) connect(c *Connection) error {
	h.emitMu.Lock()
	select {
	case <-c.Done():
		h.emitMu.Unlock()
		return ErrConnectionClosed
	default:
	}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		h.emitMu.Unlock()
		return ErrHubClosed
	}
	h.conns[c] = struct{}{}
	h.mu.Unlock()

	prev, replaced, err := h.registry.Register(c.UserID, c)
	if err != nil {
		h.mu.Lock()
		delete(h.conns, c)
		h.mu.Unlock()
		h.emitMu.Unlock()
		return err
	}
	slow := h.broadcastPresence()
	h.emitMu.Unlock()

	h.logger.Info("user connected",
		zap.String("user_id", c.UserID),
		zap.String("conn_id", c.ID()),
		zap.Bool("replaced", replaced),
	)

	if replaced {
		if old, ok := prev.(*Connection); ok {
			h.disconnect(old, "replaced by new connection")
		}
	}
	h.mirrorOnline(c.UserID)
	h.evict(slow)
	return nil
}

// disconnect runs once per connection no matter how many paths trigger it.
func (h *Hub) disconnect(c *Connection, reason string) {
	c.dropOnce.Do(func() {
		_ = c.Close()

		h.emitMu.Lock()
		h.mu.Lock()
		delete(h.conns, c)
		h.mu.Unlock()

		removed := h.registry.UnregisterHandle(c.UserID, c)
		var slow []*Connection
		if removed {
			slow = h.broadcastPresence()
		}
		h.emitMu.Unlock()

		h.logger.Info("user disconnected",
			zap.String("user_id", c.UserID),
			zap.String("conn_id", c.ID()),
			zap.String("reason", reason),
			zap.Bool("was_current", removed),
		)

		if removed {
			h.mirrorOffline(c.UserID)
		}
		h.evict(slow)
	})
}

// broadcastPresence must be called with emitMu held. It returns the
// connections whose buffers were full.
func (h *Hub) broadcastPresence() []*Connection {
	frame, err := encodeEvent(EventGetOnlineUsers, h.registry.Snapshot())
	if err != nil {
		h.logger.Error("failed to encode presence", zap.Error(err))
		return nil
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	var slow []*Connection
	for c := range h.conns {
		if !c.enqueue(frame) {
			slow = append(slow, c)
		}
	}
	return slow
}

func (h *Hub) evict(conns []*Connection) {
	for _, c := range conns {
		h.logger.Warn("evicting slow connection", zap.String("user_id", c.UserID), zap.String("conn_id", c.ID()))
		h.disconnect(c, "send buffer full")
	}
}

// NotifyNewMessage pushes msg to the receiver's live connection, if any.
// Delivery is best effort and never reports failure.
func (h *Hub) NotifyNewMessage(ctx context.Context, msg *model.Message) {
	handle, ok := h.registry.Lookup(msg.ReceiverID)
	if !ok {
		h.logger.DebugContext(ctx, "receiver offline, skipping push",
			zap.String("message_id", msg.ID),
			zap.String("receiver_id", msg.ReceiverID),
		)
		return
	}
	c, ok := handle.(*Connection)
	if !ok {
		return
	}

	frame, err := encodeEvent(EventNewMessage, msg)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to encode message", zap.String("message_id", msg.ID), zap.Error(err))
		return
	}
	if !c.enqueue(frame) {
		h.logger.WarnContext(ctx, "push failed, dropping connection",
			zap.String("message_id", msg.ID),
			zap.String("receiver_id", msg.ReceiverID),
		)
		h.disconnect(c, "send buffer full")
	}
}

func (h *Hub) sendTo(c *Connection, event string, data any) {
	frame, err := encodeEvent(event, data)
	if err != nil {
		return
	}
	if !c.enqueue(frame) {
		h.disconnect(c, "send buffer full")
	}
}

func (h *Hub) mirrorOnline(userID string) {
	if h.mirror == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.mirror.SetUserOnline(ctx, userID, h.opts.NodeID, h.presenceTTL()); err != nil {
		h.logger.Warn("failed to mirror online status", zap.String("user_id", userID), zap.Error(err))
	}
}

func (h *Hub) mirrorOffline(userID string) {
	if h.mirror == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.mirror.RemoveUserOnline(ctx, userID, h.opts.NodeID); err != nil {
		h.logger.Warn("failed to clear mirrored online status", zap.String("user_id", userID), zap.Error(err))
	}
}

func (h *Hub) presenceTTL() time.Duration {
	return 2 * h.opts.HeartbeatInterval
}

func (h *Hub) monitorHeartbeats() {
	defer h.wg.Done()

	ticker := time.NewTicker(h.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			return
		case <-ticker.C:
			h.checkHeartbeats(h.presenceTTL())
		}
	}
}

// checkHeartbeats evicts silent connections and refreshes the mirror for the rest.
func (h *Hub) checkHeartbeats(timeout time.Duration) {
	var dead []*Connection
	var live []string

	h.mu.RLock()
	for c := range h.conns {
		if c.IsAlive(timeout) {
			live = append(live, c.UserID)
		} else {
			dead = append(dead, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range dead {
		h.disconnect(c, "heartbeat timeout")
	}

	if h.mirror != nil && len(live) > 0 {
		ctx, cancel := context.WithTimeout(h.ctx, 2*time.Second)
		defer cancel()
		if err := h.mirror.RefreshUsersOnline(ctx, live, h.opts.NodeID, h.presenceTTL()); err != nil {
			h.logger.Warn("failed to refresh mirrored presence", zap.Int("users", len(live)), zap.Error(err))
		}
	}
}

func (h *Hub) IsOnline(userID string) bool {
	return h.registry.IsOnline(userID)
}

func (h *Hub) OnlineUsers() []string {
	return h.registry.Snapshot()
}

func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (h *Hub) NodeID() string {
	return h.opts.NodeID
}

func (h *Hub) StartedAt() time.Time {
	return h.startedAt
}

// Shutdown stops the monitor, closes every connection and waits for all
// pumps to exit or ctx to expire.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	conns := make([]*Connection, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	h.cancel()
	for _, c := range conns {
		h.disconnect(c, "server shutdown")
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
