package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/Gopher0727/PulseChat/internal/model"
	"github.com/Gopher0727/PulseChat/internal/pkg/imagehost"
	"github.com/Gopher0727/PulseChat/internal/repository"
	"github.com/Gopher0727/PulseChat/middleware/jwt"
	logger "github.com/Gopher0727/PulseChat/middleware/log"
)

const (
	MinPasswordLength = 6
	// bcrypt ignores input past 72 bytes
	maxPasswordLength = 72
	maxUsernameLength = 50
)

var emailPattern = regexp.MustCompile(`^[^\s@<>()\[\],;:"]+@([^\s@<>()\[\],;:".]+\.)+[^\s@<>()\[\],;:".]{2,}$`)

type SignupRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type SigninRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthResult is a user together with a freshly issued session token.
type AuthResult struct {
	User  *model.User
	Token string
}

type IAuthService interface {
	Signup(ctx context.Context, req *SignupRequest) (*AuthResult, error)
	Signin(ctx context.Context, req *SigninRequest) (*AuthResult, error)
	CurrentUser(ctx context.Context, userID string) (*model.User, error)
	UpdateAvatar(ctx context.Context, userID, avatar string) (*model.User, error)
	UpdateUsername(ctx context.Context, callerID, targetID, username string) (*model.User, error)
	ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error
}

type AuthService struct {
	userRepo     repository.IUserRepository
	tokenManager *jwt.TokenManager
	uploader     imagehost.Uploader
	logger       *logger.Logger
}

func NewAuthService(userRepo repository.IUserRepository, tokenManager *jwt.TokenManager, uploader imagehost.Uploader, log *logger.Logger) IAuthService {
	return &AuthService{
		userRepo:     userRepo,
		tokenManager: tokenManager,
		uploader:     uploader,
		logger:       log.Named("auth"),
	}
}

func checkPassword(password string) error {
	if len(password) < MinPasswordLength {
		return invalid(fmt.Sprintf("Password must be at least %d characters", MinPasswordLength))
	}
	if len(password) > maxPasswordLength {
		return invalid("Password is too long")
	}
	return nil
}

func (s *AuthService) Signup(ctx context.Context, req *SignupRequest) (*AuthResult, error) {
	email := normalizeEmail(req.Email)
	username := strings.TrimSpace(req.Username)
	if email == "" || username == "" || req.Password == "" {
		return nil, invalid("Please enter your information")
	}
	if !emailPattern.MatchString(email) {
		return nil, invalid("Email is not valid")
	}
	if len(username) > maxUsernameLength {
		return nil, invalid("Username is too long")
	}
	if err := checkPassword(req.Password); err != nil {
		return nil, err
	}

	exists, err := s.userRepo.ExistsByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing user: %w", err)
	}
	if exists {
		return nil, ErrEmailTaken
	}

	hashedPassword, err := hashPassword(req.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := time.Now().UTC()
	user := &model.User{
		ID:           uuid.New().String(),
		UserName:     username,
		Email:        email,
		PasswordHash: hashedPassword,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		// 并发注册同一邮箱时由唯一索引兜底
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	s.logger.InfoContext(ctx, "user signed up", zap.String("user_id", user.ID))
	return s.issue(user)
}

// Signin reports ErrInvalidCredentials for both an unknown email and a wrong
// password so callers cannot enumerate accounts.
func (s *AuthService) Signin(ctx context.Context, req *SigninRequest) (*AuthResult, error) {
	email := normalizeEmail(req.Email)
	if email == "" || req.Password == "" {
		return nil, invalid("Please enter your information")
	}
	if !emailPattern.MatchString(email) {
		return nil, invalid("Email is not valid")
	}

	user, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if err := verifyPassword(user.PasswordHash, req.Password); err != nil {
		return nil, ErrInvalidCredentials
	}
	return s.issue(user)
}

func (s *AuthService) CurrentUser(ctx context.Context, userID string) (*model.User, error) {
	return s.findUser(ctx, userID)
}

// UpdateAvatar uploads avatar (a data URI) and stores the hosted URL.
func (s *AuthService) UpdateAvatar(ctx context.Context, userID, avatar string) (*model.User, error) {
	if avatar == "" {
		return nil, invalid("Profile pic is required")
	}
	user, err := s.findUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	url, err := s.uploader.Upload(ctx, avatar)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpload, err)
	}
	user.AvatarURL = url
	user.UpdatedAt = time.Now().UTC()
	if err := s.userRepo.Update(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to update avatar: %w", err)
	}
	return user, nil
}

// UpdateUsername only lets a user rename themselves.
func (s *AuthService) UpdateUsername(ctx context.Context, callerID, targetID, username string) (*model.User, error) {
	if callerID != targetID {
		return nil, ErrForbidden
	}
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, invalid("Username is required")
	}
	if len(username) > maxUsernameLength {
		return nil, invalid("Username is too long")
	}

	user, err := s.findUser(ctx, targetID)
	if err != nil {
		return nil, err
	}
	user.UserName = username
	user.UpdatedAt = time.Now().UTC()
	if err := s.userRepo.Update(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to update username: %w", err)
	}
	return user, nil
}

func (s *AuthService) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
	if oldPassword == "" || newPassword == "" {
		return invalid("Please enter your information")
	}
	if err := checkPassword(newPassword); err != nil {
		return err
	}

	user, err := s.findUser(ctx, userID)
	if err != nil {
		return err
	}
	if err := verifyPassword(user.PasswordHash, oldPassword); err != nil {
		return ErrInvalidCredentials
	}

	hashedPassword, err := hashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	user.PasswordHash = hashedPassword
	user.UpdatedAt = time.Now().UTC()
	if err := s.userRepo.Update(ctx, user); err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	s.logger.InfoContext(ctx, "password changed", zap.String("user_id", userID))
	return nil
}

func (s *AuthService) findUser(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return user, nil
}

func (s *AuthService) issue(user *model.User) (*AuthResult, error) {
	token, err := s.tokenManager.GenerateToken(user.ID, user.UserName, user.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}
	return &AuthResult{User: user, Token: token}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// hashPassword hashes a plain text password using bcrypt
func hashPassword(password string) (string, error) {
	hashedBytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashedBytes), nil
}

// verifyPassword compares a hashed password with a plain text password
func verifyPassword(hashedPassword, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
}
