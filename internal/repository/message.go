package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/Gopher0727/PulseChat/internal/model"
)

type IMessageRepository interface {
	Create(ctx context.Context, message *model.Message) error
	// FindConversation returns messages exchanged between a and b in either
	// direction, oldest first. A zero before means no upper bound; limit <= 0
	// means no limit, otherwise the newest limit messages before the bound.
	FindConversation(ctx context.Context, a, b string, before time.Time, limit int) ([]*model.Message, error)
}

type MessageRepository struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) IMessageRepository {
	return &MessageRepository{db: db}
}

func (r *MessageRepository) Create(ctx context.Context, message *model.Message) error {
	return translate(r.db.WithContext(ctx).Create(message).Error)
}

func (r *MessageRepository) FindConversation(ctx context.Context, a, b string, before time.Time, limit int) ([]*model.Message, error) {
	query := r.db.WithContext(ctx).
		Where("(sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)", a, b, b, a)
	if !before.IsZero() {
		query = query.Where("created_at < ?", before)
	}

	var messages []*model.Message
	if limit <= 0 {
		if err := query.Order("created_at ASC, id ASC").Find(&messages).Error; err != nil {
			return nil, err
		}
		return messages, nil
	}

	if err := query.Order("created_at DESC, id DESC").Limit(limit).Find(&messages).Error; err != nil {
		return nil, err
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}
