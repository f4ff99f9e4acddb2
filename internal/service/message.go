package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Gopher0727/PulseChat/internal/model"
	"github.com/Gopher0727/PulseChat/internal/pkg/imagehost"
	"github.com/Gopher0727/PulseChat/internal/repository"
	logger "github.com/Gopher0727/PulseChat/middleware/log"
	"github.com/Gopher0727/PulseChat/utils/snowflake"
)

const (
	MaxPageSize    = 200
	maxMessageText = 4000
)

type SendMessageRequest struct {
	Text  string `json:"text"`
	Image string `json:"image"`
}

// ConversationQuery pages a conversation backwards from Before.
// Limit 0 returns the whole history.
type ConversationQuery struct {
	Before time.Time
	Limit  int
}

type IMessageService interface {
	ListContacts(ctx context.Context, userID string) ([]*model.User, error)
	GetConversation(ctx context.Context, userID, peerID string, q ConversationQuery) ([]*model.Message, error)
	SendMessage(ctx context.Context, senderID, receiverID string, req *SendMessageRequest) (*model.Message, error)
}

type MessageService struct {
	messageRepo  repository.IMessageRepository
	userRepo     repository.IUserRepository
	snowflakeGen *snowflake.Generator
	uploader     imagehost.Uploader
	notifier     MessageNotifier
	logger       *logger.Logger
}

func NewMessageService(
	messageRepo repository.IMessageRepository,
	userRepo repository.IUserRepository,
	snowflakeGen *snowflake.Generator,
	uploader imagehost.Uploader,
	notifier MessageNotifier,
	log *logger.Logger,
) IMessageService {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &MessageService{
		messageRepo:  messageRepo,
		userRepo:     userRepo,
		snowflakeGen: snowflakeGen,
		uploader:     uploader,
		notifier:     notifier,
		logger:       log.Named("message"),
	}
}

// ListContacts returns every user except userID, for the sidebar.
func (s *MessageService) ListContacts(ctx context.Context, userID string) ([]*model.User, error) {
	users, err := s.userRepo.ListExcept(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return users, nil
}

// GetConversation returns messages exchanged between userID and peerID in
// both directions, oldest first. It reads only the store.
func (s *MessageService) GetConversation(ctx context.Context, userID, peerID string, q ConversationQuery) ([]*model.Message, error) {
	if peerID == "" {
		return nil, invalid("User id is required")
	}
	if q.Limit < 0 {
		return nil, invalid("limit must not be negative")
	}
	if q.Limit > MaxPageSize {
		q.Limit = MaxPageSize
	}

	messages, err := s.messageRepo.FindConversation(ctx, userID, peerID, q.Before, q.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve messages: %w", err)
	}
	return messages, nil
}

// SendMessage validates, uploads the image if any, persists the message and
// then notifies. Once the insert succeeds the message is returned whatever
// happens to delivery.
func (s *MessageService) SendMessage(ctx context.Context, senderID, receiverID string, req *SendMessageRequest) (*model.Message, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" && req.Image == "" {
		return nil, ErrEmptyMessage
	}
	if len(text) > maxMessageText {
		return nil, invalid("Message is too long")
	}
	if receiverID == "" {
		return nil, invalid("Receiver id is required")
	}
	if senderID == receiverID {
		return nil, ErrSelfMessage
	}
	if _, err := s.userRepo.FindByID(ctx, receiverID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to find receiver: %w", err)
	}

	var imageURL string
	if req.Image != "" {
		url, err := s.uploader.Upload(ctx, req.Image)
		if err != nil {
			s.logger.WarnContext(ctx, "image upload failed", zap.String("sender_id", senderID), zap.Error(err))
			return nil, fmt.Errorf("%w: %v", ErrUpload, err)
		}
		imageURL = url
	}

	id, err := s.snowflakeGen.NextString()
	if err != nil {
		return nil, fmt.Errorf("failed to generate message id: %w", err)
	}
	message := &model.Message{
		ID:         id,
		SenderID:   senderID,
		ReceiverID: receiverID,
		Text:       text,
		Image:      imageURL,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.messageRepo.Create(ctx, message); err != nil {
		return nil, fmt.Errorf("failed to save message: %w", err)
	}

	s.notifier.NotifyNewMessage(ctx, message)
	return message, nil
}
