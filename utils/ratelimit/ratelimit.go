package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Gopher0727/PulseChat/config"
)

// Limiter counts requests per key inside fixed time windows.
type Limiter interface {
	// Allow reports whether one more request for key fits in the current window.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	AllowN(ctx context.Context, key string, n int, limit int, window time.Duration) (bool, error)
	Reset(ctx context.Context, key string, window time.Duration) error
	GetRemaining(ctx context.Context, key string, limit int, window time.Duration) (int, error)
}

// WindowLimiter stores counters in Redis so every node shares the same budget.
type WindowLimiter struct {
	redisClient *redis.Client
	logger      *zap.Logger
	// failOpen allows requests while Redis is unreachable.
	failOpen bool
	now      func() time.Time
}

var _ Limiter = (*WindowLimiter)(nil)

func NewWindowLimiter(redisClient *redis.Client, logger *zap.Logger, failOpen bool) *WindowLimiter {
	return &WindowLimiter{
		redisClient: redisClient,
		logger:      logger,
		failOpen:    failOpen,
		now:         time.Now,
	}
}

// incrWithExpiry sets the expiry only when the counter is created, so a
// steady stream of requests cannot keep a window open forever.
var incrWithExpiry = redis.NewScript(`
local count = redis.call("INCRBY", KEYS[1], ARGV[1])
if count == tonumber(ARGV[1]) then
	redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return count
`)

func (l *WindowLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	return l.AllowN(ctx, key, 1, limit, window)
}

func (l *WindowLimiter) AllowN(ctx context.Context, key string, n int, limit int, window time.Duration) (bool, error) {
	if limit <= 0 {
		return true, nil
	}
	bucketKey := l.bucketKey(key, window)

	count, err := incrWithExpiry.Run(ctx, l.redisClient, []string{bucketKey}, n, window.Milliseconds()).Int64()
	if err != nil {
		if l.failOpen {
			l.logger.Warn("rate limit check failed, allowing request", zap.String("key", key), zap.Error(err))
			return true, nil
		}
		return false, fmt.Errorf("rate limit check failed: %w", err)
	}

	allowed := count <= int64(limit)
	if !allowed {
		l.logger.Debug("rate limit exceeded",
			zap.String("key", key),
			zap.Int64("count", count),
			zap.Int("limit", limit),
			zap.Duration("window", window),
		)
	}
	return allowed, nil
}

func (l *WindowLimiter) Reset(ctx context.Context, key string, window time.Duration) error {
	if err := l.redisClient.Del(ctx, l.bucketKey(key, window)).Err(); err != nil {
		return fmt.Errorf("failed to reset rate limit for key %s: %w", key, err)
	}
	return nil
}

func (l *WindowLimiter) GetRemaining(ctx context.Context, key string, limit int, window time.Duration) (int, error) {
	count, err := l.redisClient.Get(ctx, l.bucketKey(key, window)).Int64()
	if errors.Is(err, redis.Nil) {
		return limit, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get remaining tokens: %w", err)
	}
	return max(limit-int(count), 0), nil
}

func (l *WindowLimiter) bucketKey(key string, window time.Duration) string {
	ms := window.Milliseconds()
	if ms <= 0 {
		ms = 1
	}
	return fmt.Sprintf("ratelimit:%s:%d:%d", key, ms, l.now().UnixMilli()/ms)
}

type Rule struct {
	Limit  int
	Window time.Duration
}

// Endpoint names understood by RuleFor.
const (
	EndpointSignup  = "signup"
	EndpointSignin  = "signin"
	EndpointMessage = "message"
	EndpointAPI     = "api"
)

func RuleFor(endpoint string, cfg *config.RateLimitConfig) Rule {
	switch endpoint {
	case EndpointSignup:
		return Rule{Limit: cfg.SignupPerMinute, Window: time.Minute}
	case EndpointSignin:
		return Rule{Limit: cfg.SigninPerMinute, Window: time.Minute}
	case EndpointMessage:
		return Rule{Limit: cfg.MessagePerMinute, Window: time.Minute}
	case EndpointAPI:
		return Rule{Limit: cfg.APIPerMinute, Window: time.Minute}
	default:
		return Rule{Limit: 100, Window: time.Minute}
	}
}
