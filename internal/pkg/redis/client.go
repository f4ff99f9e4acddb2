package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/Gopher0727/PulseChat/config"
)

// ErrCacheMiss is returned by Get when the key does not exist.
var ErrCacheMiss = errors.New("cache miss")

// RedisClient is the subset of Redis behaviour the server depends on:
// the presence mirror, the user cache and raw access for the rate limiter.
type RedisClient interface {
	Close() error
	GetClient() *redis.Client
	Ping(ctx context.Context) error
	SetUserOnline(ctx context.Context, userID, nodeID string, ttl time.Duration) error
	RefreshUsersOnline(ctx context.Context, userIDs []string, nodeID string, ttl time.Duration) error
	IsUserOnline(ctx context.Context, userID string) (bool, error)
	GetUserNode(ctx context.Context, userID string) (string, error)
	RemoveUserOnline(ctx context.Context, userID, nodeID string) error
	Set(ctx context.Context, key string, value any, expiration time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, keys ...string) (int64, error)
}

type Client struct {
	client *redis.Client
}

var _ RedisClient = (*Client)(nil)

func NewClient(cfg *config.RedisConfig) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &Client{client: rdb}, nil
}

// Wrap adapts an existing go-redis client.
func Wrap(rdb *redis.Client) *Client {
	return &Client{client: rdb}
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) GetClient() *redis.Client {
	return c.client
}

func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// OnlineKey is the presence mirror key for a user; the value is the owning node id.
func OnlineKey(userID string) string {
	return fmt.Sprintf("user:%s:online", userID)
}

func (c *Client) SetUserOnline(ctx context.Context, userID, nodeID string, ttl time.Duration) error {
	if err := c.client.Set(ctx, OnlineKey(userID), nodeID, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set user %s online: %w", userID, err)
	}
	return nil
}

// RefreshUsersOnline rewrites each user's presence key with a fresh TTL in one
// round trip, repairing entries lost to an interleaved remove.
func (c *Client) RefreshUsersOnline(ctx context.Context, userIDs []string, nodeID string, ttl time.Duration) error {
	if len(userIDs) == 0 {
		return nil
	}
	pipe := c.client.Pipeline()
	for _, id := range userIDs {
		pipe.Set(ctx, OnlineKey(id), nodeID, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to refresh %d online users: %w", len(userIDs), err)
	}
	return nil
}

func (c *Client) IsUserOnline(ctx context.Context, userID string) (bool, error) {
	n, err := c.client.Exists(ctx, OnlineKey(userID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check if user %s is online: %w", userID, err)
	}
	return n > 0, nil
}

// GetUserNode returns the node holding the user's connection, or "" when offline.
func (c *Client) GetUserNode(ctx context.Context, userID string) (string, error) {
	node, err := c.client.Get(ctx, OnlineKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get node of user %s: %w", userID, err)
	}
	return node, nil
}

// removeIfOwner deletes the key only while it still names this node,
// so a node that lost the user to another node does not clear its entry.
var removeIfOwner = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func (c *Client) RemoveUserOnline(ctx context.Context, userID, nodeID string) error {
	if err := removeIfOwner.Run(ctx, c.client, []string{OnlineKey(userID)}, nodeID).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to remove user %s online status: %w", userID, err)
	}
	return nil
}

func (c *Client) Set(ctx context.Context, key string, value any, expiration time.Duration) error {
	return c.client.Set(ctx, key, value, expiration).Err()
}

func (c *Client) Get(ctx context.Context, key string) (string, error) {
	val, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrCacheMiss
	}
	return val, err
}

func (c *Client) Del(ctx context.Context, keys ...string) error {
	return c.client.Del(ctx, keys...).Err()
}

func (c *Client) Exists(ctx context.Context, keys ...string) (int64, error) {
	return c.client.Exists(ctx, keys...).Result()
}
