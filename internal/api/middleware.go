package api

import (
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Gopher0727/PulseChat/config"
	"github.com/Gopher0727/PulseChat/internal/handler"
	"github.com/Gopher0727/PulseChat/middleware/jwt"
	logger "github.com/Gopher0727/PulseChat/middleware/log"
	"github.com/Gopher0727/PulseChat/utils/ratelimit"
)

// RequestIDHeader carries the trace id in and out of every request.
const RequestIDHeader = "X-Request-ID"

type MiddlewareManager struct {
	tokenManager   *jwt.TokenManager
	cookie         handler.CookieOptions
	rateLimiter    ratelimit.Limiter
	rateLimitCfg   *config.RateLimitConfig
	allowedOrigins []string
	logger         *logger.Logger
}

// NewMiddlewareManager builds the shared middleware. rateLimiter may be nil,
// which turns RateLimit into a pass-through.
func NewMiddlewareManager(
	tokenManager *jwt.TokenManager,
	cookie handler.CookieOptions,
	rateLimiter ratelimit.Limiter,
	rateLimitCfg *config.RateLimitConfig,
	allowedOrigins []string,
	log *logger.Logger,
) *MiddlewareManager {
	if cookie.Name == "" {
		cookie.Name = "jwt"
	}
	return &MiddlewareManager{
		tokenManager:   tokenManager,
		cookie:         cookie,
		rateLimiter:    rateLimiter,
		rateLimitCfg:   rateLimitCfg,
		allowedOrigins: allowedOrigins,
		logger:         log.Named("http"),
	}
}

// sessionToken reads the cookie first, then an Authorization: Bearer header.
func (m *MiddlewareManager) sessionToken(c *gin.Context) (token string, fromCookie bool) {
	if token, err := c.Cookie(m.cookie.Name); err == nil && token != "" {
		return token, true
	}
	parts := strings.SplitN(c.GetHeader("Authorization"), " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1]), false
	}
	return "", false
}

// refreshCookie reissues a cookie session that is inside the refresh window.
// Bearer clients manage their own tokens and are left alone.
func (m *MiddlewareManager) refreshCookie(c *gin.Context, tokenString string, claims *jwt.Claims) {
	if claims.ExpiresAt == nil || time.Until(claims.ExpiresAt.Time) > m.tokenManager.RefreshWindow() {
		return
	}
	fresh, err := m.tokenManager.RefreshToken(tokenString)
	if err != nil {
		m.logger.DebugContext(c.Request.Context(), "session refresh skipped", zap.Error(err))
		return
	}
	m.cookie.Set(c, fresh, m.tokenManager.MaxAge())
}

func (m *MiddlewareManager) JWTAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, fromCookie := m.sessionToken(c)
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "Unauthorized - No token provided"})
			return
		}

		claims, err := m.tokenManager.ParseToken(tokenString)
		if err != nil {
			m.logger.WarnContext(c.Request.Context(), "token validation failed",
				zap.String("ip", c.ClientIP()),
				zap.Error(err),
			)

			message := "Unauthorized - Invalid token"
			switch {
			case errors.Is(err, jwt.ErrExpiredToken):
				message = "Unauthorized - Token expired"
			case errors.Is(err, jwt.ErrTokenNotYetValid):
				message = "Unauthorized - Token not yet valid"
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": message})
			return
		}

		c.Set(handler.UserIDKey, claims.UserID)
		c.Set("username", claims.UserName)
		c.Request = c.Request.WithContext(logger.WithUserID(c.Request.Context(), claims.UserID))
		if fromCookie {
			m.refreshCookie(c, tokenString, claims)
		}
		c.Next()
	}
}

// RateLimit applies the configured per-minute rule for endpoint, keyed by
// user when authenticated and by client IP otherwise.
func (m *MiddlewareManager) RateLimit(endpoint string) gin.HandlerFunc {
	if m.rateLimiter == nil {
		return func(c *gin.Context) { c.Next() }
	}
	rule := ratelimit.RuleFor(endpoint, m.rateLimitCfg)

	return func(c *gin.Context) {
		ctx := c.Request.Context()

		var key string
		if userID := c.GetString(handler.UserIDKey); userID != "" {
			key = fmt.Sprintf("user:%s:%s", userID, endpoint)
		} else {
			key = fmt.Sprintf("ip:%s:%s", c.ClientIP(), endpoint)
		}

		allowed, err := m.rateLimiter.Allow(ctx, key, rule.Limit, rule.Window)
		if err != nil {
			m.logger.ErrorContext(ctx, "rate limit check failed",
				zap.String("key", key),
				zap.String("endpoint", endpoint),
				zap.Error(err),
			)
			// 限流器已按 fail-open 处理
			if allowed {
				c.Next()
			} else {
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"message": "Rate limit check failed"})
			}
			return
		}

		if !allowed {
			c.Header("Retry-After", strconv.Itoa(int(rule.Window.Seconds())))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"message": "Too many requests"})
			return
		}
		c.Next()
	}
}

// Logger assigns a trace id and logs every request once it completes.
func (m *MiddlewareManager) Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		traceID := c.GetHeader(RequestIDHeader)
		if traceID == "" {
			traceID = logger.NewTraceID()
		}
		c.Header(RequestIDHeader, traceID)
		c.Request = c.Request.WithContext(logger.WithTraceID(c.Request.Context(), traceID))

		c.Next()

		statusCode := c.Writer.Status()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", statusCode),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()),
		}
		if userID := c.GetString(handler.UserIDKey); userID != "" {
			fields = append(fields, zap.String("user_id", userID))
		}

		ctx := c.Request.Context()
		switch {
		case statusCode >= 500:
			m.logger.ErrorContext(ctx, "server error", fields...)
		case statusCode >= 400:
			m.logger.WarnContext(ctx, "client error", fields...)
		default:
			m.logger.InfoContext(ctx, "request completed", fields...)
		}
	}
}

// CORS echoes allowed origins so credentialed requests work; "*" in the
// list allows any origin.
func (m *MiddlewareManager) CORS() gin.HandlerFunc {
	allowAny := slices.Contains(m.allowedOrigins, "*")
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && (allowAny || slices.Contains(m.allowedOrigins, origin)) {
			h := c.Writer.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
			h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			h.Add("Vary", "Origin")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func (m *MiddlewareManager) Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				m.logger.ErrorContext(c.Request.Context(), "panic recovered",
					zap.Any("error", err),
					zap.String("path", c.Request.URL.Path),
					zap.String("method", c.Request.Method),
					zap.Stack("stack"),
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"message": "Internal Server Error"})
			}
		}()
		c.Next()
	}
}
