package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/Gopher0727/PulseChat/internal/model"
	"github.com/Gopher0727/PulseChat/internal/repository"
	"github.com/Gopher0727/PulseChat/middleware/jwt"
	logger "github.com/Gopher0727/PulseChat/middleware/log"
	"github.com/Gopher0727/PulseChat/utils/snowflake"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, repository.Migrate(db))
	return db
}

type recordingNotifier struct {
	mu   sync.Mutex
	msgs []*model.Message
}

func (n *recordingNotifier) NotifyNewMessage(_ context.Context, msg *model.Message) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, msg)
}

func (n *recordingNotifier) received() []*model.Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*model.Message(nil), n.msgs...)
}

// flagNotifier records whether it was called.
type flagNotifier struct{ called bool }

func (n *flagNotifier) NotifyNewMessage(context.Context, *model.Message) { n.called = true }

type stubUploader struct {
	url   string
	err   error
	calls int
}

func (u *stubUploader) Upload(_ context.Context, dataURI string) (string, error) {
	u.calls++
	if u.err != nil {
		return "", u.err
	}
	return u.url, nil
}

// failingMessageRepo fails every insert.
type failingMessageRepo struct {
	repository.IMessageRepository
}

func (failingMessageRepo) Create(context.Context, *model.Message) error {
	return errors.New("disk full")
}

type testEnv struct {
	users    repository.IUserRepository
	messages repository.IMessageRepository
	tokens   *jwt.TokenManager
	uploader *stubUploader
	notifier *recordingNotifier
	auth     IAuthService
	chat     IMessageService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := newTestDB(t)
	log := logger.NewNopLogger()
	gen, err := snowflake.NewGenerator(snowflake.Config{WorkerID: 1})
	require.NoError(t, err)

	env := &testEnv{
		users:    repository.NewUserRepository(db, nil, log),
		messages: repository.NewMessageRepository(db),
		tokens:   jwt.NewTokenManager("test-secret", 1, 1),
		uploader: &stubUploader{url: "https://img.example.com/x.png"},
		notifier: &recordingNotifier{},
	}
	env.auth = NewAuthService(env.users, env.tokens, env.uploader, log)
	env.chat = NewMessageService(env.messages, env.users, gen, env.uploader, env.notifier, log)
	return env
}

func (e *testEnv) signup(t *testing.T, email, username string) *model.User {
	t.Helper()
	res, err := e.auth.Signup(context.Background(), &SignupRequest{Email: email, Username: username, Password: "secret1"})
	require.NoError(t, err)
	return res.User
}
