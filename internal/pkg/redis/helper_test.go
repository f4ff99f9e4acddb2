package redis

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	redis "github.com/redis/go-redis/v9"
)

// setupTestRedis returns a client backed by an in-process miniredis server.
func setupTestRedis(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := Wrap(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func genUserID() gopter.Gen {
	return gen.Identifier()
}

func genNodeID() gopter.Gen {
	return gen.OneConstOf("node-1", "node-2", "node-3")
}

// genTTL generates TTLs between 1 and 60 seconds.
func genTTL() gopter.Gen {
	return gen.IntRange(1, 60).Map(func(seconds int) time.Duration {
		return time.Duration(seconds) * time.Second
	})
}
