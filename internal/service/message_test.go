package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Gopher0727/PulseChat/internal/model"
	logger "github.com/Gopher0727/PulseChat/middleware/log"
	"github.com/Gopher0727/PulseChat/utils/snowflake"
)

func TestSendMessage_PersistsThenNotifies(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u1 := env.signup(t, "u1@example.com", "u1")
	u2 := env.signup(t, "u2@example.com", "u2")

	msg, err := env.chat.SendMessage(ctx, u1.ID, u2.ID, &SendMessageRequest{Text: " hello "})
	require.NoError(t, err)
	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, "hello", msg.Text)
	assert.Equal(t, time.UTC, msg.CreatedAt.Location())

	got := env.notifier.received()
	require.Len(t, got, 1)
	assert.Equal(t, msg.ID, got[0].ID)

	history, err := env.chat.GetConversation(ctx, u2.ID, u1.ID, ConversationQuery{})
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, msg.ID, history[0].ID)
}

func TestSendMessage_Image(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u1 := env.signup(t, "u1@example.com", "u1")
	u2 := env.signup(t, "u2@example.com", "u2")

	msg, err := env.chat.SendMessage(ctx, u1.ID, u2.ID, &SendMessageRequest{Image: "data:image/png;base64,AAAA"})
	require.NoError(t, err)
	assert.Equal(t, "https://img.example.com/x.png", msg.Image)
	assert.Empty(t, msg.Text)

	env.uploader.err = errors.New("host down")
	_, err = env.chat.SendMessage(ctx, u1.ID, u2.ID, &SendMessageRequest{Text: "hi", Image: "data:image/png;base64,AAAA"})
	assert.ErrorIs(t, err, ErrUpload)

	history, err := env.chat.GetConversation(ctx, u1.ID, u2.ID, ConversationQuery{})
	require.NoError(t, err)
	assert.Len(t, history, 1, "failed upload must not persist")
}

func TestSendMessage_Validation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u1 := env.signup(t, "u1@example.com", "u1")

	_, err := env.chat.SendMessage(ctx, u1.ID, "someone", &SendMessageRequest{Text: "   "})
	assert.ErrorIs(t, err, ErrEmptyMessage)

	_, err = env.chat.SendMessage(ctx, u1.ID, u1.ID, &SendMessageRequest{Text: "me"})
	assert.ErrorIs(t, err, ErrSelfMessage)

	_, err = env.chat.SendMessage(ctx, u1.ID, "ghost", &SendMessageRequest{Text: "boo"})
	assert.ErrorIs(t, err, ErrUserNotFound)

	assert.Empty(t, env.notifier.received())
}

func TestSendMessage_StoreFailureSkipsNotify(t *testing.T) {
	env := newTestEnv(t)
	u1 := env.signup(t, "u1@example.com", "u1")
	u2 := env.signup(t, "u2@example.com", "u2")

	gen, err := snowflake.NewGenerator(snowflake.Config{WorkerID: 2})
	require.NoError(t, err)
	notifier := &flagNotifier{}
	svc := NewMessageService(failingMessageRepo{}, env.users, gen, env.uploader, notifier, logger.NewNopLogger())

	_, err = svc.SendMessage(context.Background(), u1.ID, u2.ID, &SendMessageRequest{Text: "hi"})
	require.Error(t, err)
	assert.False(t, notifier.called)
}

func TestGetConversation_Paging(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u1 := env.signup(t, "u1@example.com", "u1")
	u2 := env.signup(t, "u2@example.com", "u2")
	u3 := env.signup(t, "u3@example.com", "u3")

	var sent []*model.Message
	for i := 0; i < 5; i++ {
		from, to := u1.ID, u2.ID
		if i%2 == 1 {
			from, to = to, from
		}
		msg, err := env.chat.SendMessage(ctx, from, to, &SendMessageRequest{Text: "m"})
		require.NoError(t, err)
		sent = append(sent, msg)
		time.Sleep(2 * time.Millisecond)
	}
	_, err := env.chat.SendMessage(ctx, u1.ID, u3.ID, &SendMessageRequest{Text: "elsewhere"})
	require.NoError(t, err)

	all, err := env.chat.GetConversation(ctx, u1.ID, u2.ID, ConversationQuery{})
	require.NoError(t, err)
	require.Len(t, all, 5)
	for i := range all {
		assert.Equal(t, sent[i].ID, all[i].ID)
	}

	page, err := env.chat.GetConversation(ctx, u2.ID, u1.ID, ConversationQuery{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, sent[3].ID, page[0].ID)
	assert.Equal(t, sent[4].ID, page[1].ID)

	older, err := env.chat.GetConversation(ctx, u1.ID, u2.ID, ConversationQuery{Limit: 2, Before: page[0].CreatedAt})
	require.NoError(t, err)
	require.Len(t, older, 2)
	assert.Equal(t, sent[1].ID, older[0].ID)
	assert.Equal(t, sent[2].ID, older[1].ID)

	_, err = env.chat.GetConversation(ctx, u1.ID, u2.ID, ConversationQuery{Limit: -1})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestListContacts(t *testing.T) {
	env := newTestEnv(t)
	u1 := env.signup(t, "u1@example.com", "zed")
	env.signup(t, "u2@example.com", "amy")
	env.signup(t, "u3@example.com", "bea")

	users, err := env.chat.ListContacts(context.Background(), u1.ID)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "amy", users[0].UserName)
	assert.Equal(t, "bea", users[1].UserName)
}

func TestMultiNotifier(t *testing.T) {
	a, b := &recordingNotifier{}, &recordingNotifier{}
	m := MultiNotifier{a, b}
	m.NotifyNewMessage(context.Background(), &model.Message{ID: "1"})
	assert.Len(t, a.received(), 1)
	assert.Len(t, b.received(), 1)
}
