package grpc

import (
	"context"
	"net"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	logger "github.com/Gopher0727/PulseChat/middleware/log"
)

type stubPresence struct {
	online  []string
	started time.Time
}

func (s *stubPresence) IsOnline(userID string) bool { return slices.Contains(s.online, userID) }
func (s *stubPresence) OnlineUsers() []string       { return s.online }
func (s *stubPresence) ConnectionCount() int        { return len(s.online) }
func (s *stubPresence) NodeID() string              { return "node-a" }
func (s *stubPresence) StartedAt() time.Time        { return s.started }

func startPresence(t *testing.T, src PresenceSource) *PresenceClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := NewServerWithListener(lis, logger.NewNopLogger())
	RegisterPresenceServer(srv.GetServer(), NewPresenceServer(src))

	done := make(chan error, 1)
	go func() { done <- srv.Start() }()
	t.Cleanup(func() {
		srv.Stop()
		assert.NoError(t, <-done)
	})

	client, err := NewPresenceClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestPresenceService(t *testing.T) {
	src := &stubPresence{online: []string{"u1", "u2"}, started: time.Now().Add(-90 * time.Second)}
	client := startPresence(t, src)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	t.Run("CheckUserOnline", func(t *testing.T) {
		online, err := client.CheckUserOnline(ctx, "u1")
		require.NoError(t, err)
		assert.True(t, online)

		online, err = client.CheckUserOnline(ctx, "u9")
		require.NoError(t, err)
		assert.False(t, online)
	})

	t.Run("CheckUserOnline rejects empty id", func(t *testing.T) {
		_, err := client.CheckUserOnline(ctx, "")
		require.Error(t, err)
		assert.Equal(t, codes.InvalidArgument, status.Code(err))
	})

	t.Run("GetOnlineUsers", func(t *testing.T) {
		users, err := client.GetOnlineUsers(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"u1", "u2"}, users)
	})

	t.Run("GetNodeInfo", func(t *testing.T) {
		info, err := client.GetNodeInfo(ctx)
		require.NoError(t, err)
		assert.Equal(t, "node-a", info.NodeID)
		assert.Equal(t, 2, info.Connections)
		assert.GreaterOrEqual(t, info.UptimeSeconds, int64(90))
	})
}

func TestPresenceService_Empty(t *testing.T) {
	client := startPresence(t, &stubPresence{started: time.Now()})
	users, err := client.GetOnlineUsers(context.Background())
	require.NoError(t, err)
	assert.Empty(t, users)
}
