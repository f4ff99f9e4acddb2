package gateway

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Gopher0727/PulseChat/middleware/jwt"
)

// Authenticator validates session tokens presented at the handshake.
type Authenticator interface {
	ParseToken(token string) (*jwt.Claims, error)
}

func (h *Hub) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.opts.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range h.opts.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"message": message})
}

// ServeWS authenticates the handshake and upgrades it to a realtime connection.
// The user id always comes from the token; a userId query parameter, when
// present, must name the same user.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	claims, err := h.auth.ParseToken(jwt.TokenFromRequest(r, h.opts.CookieName))
	if err != nil {
		writeJSONError(w, http.StatusUnauthorized, "Unauthorized - Invalid Token")
		return
	}
	if claimed := r.URL.Query().Get("userId"); claimed != "" && claimed != claims.UserID {
		h.logger.Warn("handshake user mismatch", zap.String("user_id", claims.UserID), zap.String("claimed", claimed))
		writeJSONError(w, http.StatusForbidden, "Forbidden - userId does not match session")
		return
	}

	if !h.trackPumps() {
		writeJSONError(w, http.StatusServiceUnavailable, "server is shutting down")
		return
	}

	ws, err := h.upgrader().Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client.
		h.wg.Add(-2)
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	ws.SetReadLimit(h.opts.MaxMessageSize)

	c := newConnection(h.ctx, claims.UserID, ws, h.opts.SendBufferSize)
	// register before the pumps run, otherwise an early read error could
	// disconnect c before it is ever connected.
	if err := h.connect(c); err != nil {
		h.wg.Add(-2)
		h.logger.Debug("websocket connect refused", zap.String("user_id", c.UserID), zap.Error(err))
		_ = c.Close()
		return
	}
	go h.writePump(c)
	go h.readPump(c)
}

// trackPumps reserves wait-group slots for a connection's two pumps unless
// the hub is already shutting down.
func (h *Hub) trackPumps() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return false
	}
	h.wg.Add(2)
	return true
}

func (h *Hub) readTimeout() time.Duration {
	return 2 * h.opts.HeartbeatInterval
}

func (h *Hub) readPump(c *Connection) {
	defer h.wg.Done()

	reason := "client closed"
	defer func() { h.disconnect(c, reason) }()

	_ = c.conn.SetReadDeadline(time.Now().Add(h.readTimeout()))
	c.conn.SetPongHandler(func(string) error {
		c.UpdateHeartbeat()
		return c.conn.SetReadDeadline(time.Now().Add(h.readTimeout()))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			var netErr net.Error
			switch {
			case errors.As(err, &netErr) && netErr.Timeout():
				reason = "read timeout"
			case websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
				reason = "read error"
				h.logger.Debug("websocket read error", zap.String("user_id", c.UserID), zap.Error(err))
			}
			return
		}

		c.UpdateHeartbeat()
		_ = c.conn.SetReadDeadline(time.Now().Add(h.readTimeout()))

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
			h.sendTo(c, EventError, errorPayload{Message: "malformed frame"})
			continue
		}
		switch env.Event {
		case EventPing:
			h.sendTo(c, EventPong, struct{}{})
		default:
			h.sendTo(c, EventError, errorPayload{Message: "unknown event: " + env.Event})
		}
	}
}

func (h *Hub) writePump(c *Connection) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.Done():
			return
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.opts.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				h.disconnect(c, "write failed")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.opts.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.disconnect(c, "ping failed")
				return
			}
		}
	}
}
