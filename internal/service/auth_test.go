package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignup(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res, err := env.auth.Signup(ctx, &SignupRequest{Email: " Alice@Example.com ", Username: "alice", Password: "secret1"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.User.ID)
	assert.Equal(t, "alice@example.com", res.User.Email)
	assert.NotEqual(t, "secret1", res.User.PasswordHash)

	claims, err := env.tokens.ParseToken(res.Token)
	require.NoError(t, err)
	assert.Equal(t, res.User.ID, claims.UserID)

	_, err = env.auth.Signup(ctx, &SignupRequest{Email: "alice@example.com", Username: "other", Password: "secret2"})
	assert.ErrorIs(t, err, ErrEmailTaken)
}

func TestSignup_Validation(t *testing.T) {
	env := newTestEnv(t)
	tests := []struct {
		name string
		req  SignupRequest
		msg  string
	}{
		{"missing email", SignupRequest{Username: "a", Password: "secret1"}, "Please enter your information"},
		{"missing username", SignupRequest{Email: "a@b.co", Password: "secret1"}, "Please enter your information"},
		{"missing password", SignupRequest{Email: "a@b.co", Username: "a"}, "Please enter your information"},
		{"bad email", SignupRequest{Email: "not-an-email", Username: "a", Password: "secret1"}, "Email is not valid"},
		{"short password", SignupRequest{Email: "a@b.co", Username: "a", Password: "12345"}, "Password must be at least 6 characters"},
		{"long password", SignupRequest{Email: "a@b.co", Username: "a", Password: strings.Repeat("x", 73)}, "Password is too long"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.auth.Signup(context.Background(), &tt.req)
			require.ErrorIs(t, err, ErrInvalidInput)
			var inputErr *InputError
			require.True(t, errors.As(err, &inputErr))
			assert.Equal(t, tt.msg, inputErr.Message)
		})
	}
}

func TestSignin(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.signup(t, "bob@example.com", "bob")

	res, err := env.auth.Signin(ctx, &SigninRequest{Email: "BOB@example.com", Password: "secret1"})
	require.NoError(t, err)
	assert.Equal(t, user.ID, res.User.ID)
	assert.NotEmpty(t, res.Token)

	// unknown email and wrong password are indistinguishable
	_, err = env.auth.Signin(ctx, &SigninRequest{Email: "nobody@example.com", Password: "secret1"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = env.auth.Signin(ctx, &SigninRequest{Email: "bob@example.com", Password: "wrong-pass"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = env.auth.Signin(ctx, &SigninRequest{Email: "bob@example.com"})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = env.auth.Signin(ctx, &SigninRequest{Email: "bob", Password: "secret1"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestCurrentUser(t *testing.T) {
	env := newTestEnv(t)
	user := env.signup(t, "carol@example.com", "carol")

	got, err := env.auth.CurrentUser(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, "carol", got.UserName)

	_, err = env.auth.CurrentUser(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestUpdateAvatar(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.signup(t, "dave@example.com", "dave")

	_, err := env.auth.UpdateAvatar(ctx, user.ID, "")
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Zero(t, env.uploader.calls)

	got, err := env.auth.UpdateAvatar(ctx, user.ID, "data:image/png;base64,AAAA")
	require.NoError(t, err)
	assert.Equal(t, "https://img.example.com/x.png", got.AvatarURL)

	stored, err := env.users.FindByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://img.example.com/x.png", stored.AvatarURL)

	env.uploader.err = errors.New("host down")
	_, err = env.auth.UpdateAvatar(ctx, user.ID, "data:image/png;base64,AAAA")
	assert.ErrorIs(t, err, ErrUpload)
}

func TestUpdateUsername(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.signup(t, "alice@example.com", "alice")
	bob := env.signup(t, "bob@example.com", "bob")

	_, err := env.auth.UpdateUsername(ctx, alice.ID, bob.ID, "mallory")
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = env.auth.UpdateUsername(ctx, alice.ID, alice.ID, "  ")
	assert.ErrorIs(t, err, ErrInvalidInput)

	got, err := env.auth.UpdateUsername(ctx, alice.ID, alice.ID, "alice2")
	require.NoError(t, err)
	assert.Equal(t, "alice2", got.UserName)
	assert.Equal(t, alice.ID, got.ID)
}

func TestChangePassword(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.signup(t, "erin@example.com", "erin")

	err := env.auth.ChangePassword(ctx, user.ID, "wrong-old", "newsecret")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	err = env.auth.ChangePassword(ctx, user.ID, "secret1", "123")
	assert.ErrorIs(t, err, ErrInvalidInput)

	require.NoError(t, env.auth.ChangePassword(ctx, user.ID, "secret1", "newsecret"))

	_, err = env.auth.Signin(ctx, &SigninRequest{Email: "erin@example.com", Password: "secret1"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = env.auth.Signin(ctx, &SigninRequest{Email: "erin@example.com", Password: "newsecret"})
	assert.NoError(t, err)
}
