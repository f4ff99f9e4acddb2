package redis

import (
	"context"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/prop"
)

func TestProperty_PresenceMirror(t *testing.T) {
	client, _ := setupTestRedis(t)
	ctx := context.Background()

	properties := gopter.NewProperties(nil)

	properties.Property("a user set online reads back as online on the same node",
		prop.ForAll(
			func(userID, nodeID string, ttl time.Duration) bool {
				if err := client.SetUserOnline(ctx, userID, nodeID, ttl); err != nil {
					t.Logf("set online: %v", err)
					return false
				}
				online, err := client.IsUserOnline(ctx, userID)
				if err != nil || !online {
					return false
				}
				node, err := client.GetUserNode(ctx, userID)
				return err == nil && node == nodeID
			},
			genUserID(),
			genNodeID(),
			genTTL(),
		))

	properties.Property("only the owning node can clear a user",
		prop.ForAll(
			func(userID, owner, other string, ttl time.Duration) bool {
				if err := client.SetUserOnline(ctx, userID, owner, ttl); err != nil {
					return false
				}
				if err := client.RemoveUserOnline(ctx, userID, other); err != nil {
					return false
				}
				online, err := client.IsUserOnline(ctx, userID)
				if err != nil {
					return false
				}
				// Still online exactly when a foreign node attempted removal.
				if online != (owner != other) {
					return false
				}
				if err := client.RemoveUserOnline(ctx, userID, owner); err != nil {
					return false
				}
				online, err = client.IsUserOnline(ctx, userID)
				return err == nil && !online
			},
			genUserID(),
			genNodeID(),
			genNodeID(),
			genTTL(),
		))

	properties.TestingRun(t)
}
