package repository

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Gopher0727/PulseChat/internal/model"
	"github.com/Gopher0727/PulseChat/internal/pkg/redis"
	logger "github.com/Gopher0727/PulseChat/middleware/log"
)

func newUser(id, name, email string) *model.User {
	now := time.Now().UTC()
	return &model.User{
		ID:           id,
		UserName:     name,
		Email:        email,
		PasswordHash: "hash-" + id,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func TestUserRepository_CRUD(t *testing.T) {
	repo := NewUserRepository(newTestDB(t), nil, logger.NewNopLogger())
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newUser("u1", "alice", "alice@example.com")))
	require.NoError(t, repo.Create(ctx, newUser("u2", "bob", "bob@example.com")))
	require.NoError(t, repo.Create(ctx, newUser("u3", "carol", "carol@example.com")))

	t.Run("find by id", func(t *testing.T) {
		user, err := repo.FindByID(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, "alice", user.UserName)
		assert.Equal(t, "hash-u1", user.PasswordHash)
	})

	t.Run("find by email", func(t *testing.T) {
		user, err := repo.FindByEmail(ctx, "bob@example.com")
		require.NoError(t, err)
		assert.Equal(t, "u2", user.ID)
	})

	t.Run("not found", func(t *testing.T) {
		_, err := repo.FindByID(ctx, "nobody")
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = repo.FindByEmail(ctx, "nobody@example.com")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("exists by email", func(t *testing.T) {
		ok, err := repo.ExistsByEmail(ctx, "carol@example.com")
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = repo.ExistsByEmail(ctx, "dave@example.com")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("duplicate email rejected", func(t *testing.T) {
		err := repo.Create(ctx, newUser("u9", "alice2", "alice@example.com"))
		assert.Error(t, err)
	})

	t.Run("list except", func(t *testing.T) {
		users, err := repo.ListExcept(ctx, "u2")
		require.NoError(t, err)
		require.Len(t, users, 2)
		assert.Equal(t, "alice", users[0].UserName)
		assert.Equal(t, "carol", users[1].UserName)
	})

	t.Run("update", func(t *testing.T) {
		user, err := repo.FindByID(ctx, "u3")
		require.NoError(t, err)
		user.AvatarURL = "https://img.example.com/carol.png"
		require.NoError(t, repo.Update(ctx, user))

		again, err := repo.FindByID(ctx, "u3")
		require.NoError(t, err)
		assert.Equal(t, "https://img.example.com/carol.png", again.AvatarURL)
	})
}

func TestUserRepository_Cache(t *testing.T) {
	mr := miniredis.RunT(t)
	cache := redis.Wrap(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = cache.Close() })

	repo := NewUserRepository(newTestDB(t), cache, logger.NewNopLogger())
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, newUser("u1", "alice", "alice@example.com")))

	_, err := repo.FindByID(ctx, "u1")
	require.NoError(t, err)
	require.True(t, mr.Exists("user:info:u1"), "lookup populates the cache")
	ttl := mr.TTL("user:info:u1")
	assert.Greater(t, ttl, 59*time.Minute)

	cached, err := repo.FindByID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "hash-u1", cached.PasswordHash, "hash survives the cache round trip")

	cached.UserName = "alice-renamed"
	require.NoError(t, repo.Update(ctx, cached))
	assert.False(t, mr.Exists("user:info:u1"), "update invalidates the cache")

	fresh, err := repo.FindByID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "alice-renamed", fresh.UserName)

	// a broken cache degrades to the database
	mr.Close()
	user, err := repo.FindByID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "alice-renamed", user.UserName)
}
