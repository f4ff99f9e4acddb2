package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Gopher0727/PulseChat/internal/model"
	"github.com/Gopher0727/PulseChat/internal/pkg/redis"
	logger "github.com/Gopher0727/PulseChat/middleware/log"
)

const userCacheTTL = time.Hour

type IUserRepository interface {
	Create(ctx context.Context, user *model.User) error
	FindByID(ctx context.Context, id string) (*model.User, error)
	FindByEmail(ctx context.Context, email string) (*model.User, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	Update(ctx context.Context, user *model.User) error
	ListExcept(ctx context.Context, id string) ([]*model.User, error)
}

type UserRepository struct {
	db     *gorm.DB
	cache  redis.RedisClient
	logger *logger.Logger
}

// NewUserRepository creates a user store; cache may be nil to disable caching.
func NewUserRepository(db *gorm.DB, cache redis.RedisClient, log *logger.Logger) IUserRepository {
	return &UserRepository{db: db, cache: cache, logger: log}
}

// cachedUser carries the hash that model.User hides from JSON.
type cachedUser struct {
	model.User
	Hash string `json:"password_hash"`
}

func userCacheKey(id string) string {
	return fmt.Sprintf("user:info:%s", id)
}

func (r *UserRepository) Create(ctx context.Context, user *model.User) error {
	return translate(r.db.WithContext(ctx).Create(user).Error)
}

func (r *UserRepository) FindByID(ctx context.Context, id string) (*model.User, error) {
	if user := r.fromCache(ctx, id); user != nil {
		return user, nil
	}

	var user model.User
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		return nil, translate(err)
	}
	r.toCache(ctx, &user)
	return &user, nil
}

func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	var user model.User
	if err := r.db.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

func (r *UserRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&model.User{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *UserRepository) Update(ctx context.Context, user *model.User) error {
	if err := r.db.WithContext(ctx).Save(user).Error; err != nil {
		return translate(err)
	}
	if r.cache != nil {
		if err := r.cache.Del(ctx, userCacheKey(user.ID)); err != nil {
			r.logger.WarnContext(ctx, "failed to invalidate user cache", zap.String("user_id", user.ID), zap.Error(err))
		}
	}
	return nil
}

// ListExcept returns every user but id, ordered by username.
func (r *UserRepository) ListExcept(ctx context.Context, id string) ([]*model.User, error) {
	var users []*model.User
	err := r.db.WithContext(ctx).
		Where("id <> ?", id).
		Order("username ASC").
		Find(&users).Error
	if err != nil {
		return nil, err
	}
	return users, nil
}

func (r *UserRepository) fromCache(ctx context.Context, id string) *model.User {
	if r.cache == nil {
		return nil
	}
	raw, err := r.cache.Get(ctx, userCacheKey(id))
	if err != nil {
		if !errors.Is(err, redis.ErrCacheMiss) {
			r.logger.WarnContext(ctx, "user cache read failed", zap.String("user_id", id), zap.Error(err))
		}
		return nil
	}
	var cu cachedUser
	if err := json.Unmarshal([]byte(raw), &cu); err != nil {
		return nil
	}
	user := cu.User
	user.PasswordHash = cu.Hash
	return &user
}

func (r *UserRepository) toCache(ctx context.Context, user *model.User) {
	if r.cache == nil {
		return
	}
	data, err := json.Marshal(cachedUser{User: *user, Hash: user.PasswordHash})
	if err != nil {
		return
	}
	if err := r.cache.Set(ctx, userCacheKey(user.ID), data, userCacheTTL); err != nil {
		r.logger.WarnContext(ctx, "user cache write failed", zap.String("user_id", user.ID), zap.Error(err))
	}
}
