package service

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/nsmelkov/todo-app/internal/model"
	"github.com/nsmelkov/todo-app/internal/repo"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

var usernameRe = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)

type AuthService struct {
	users      repo.UserRepository
	logger     *zap.Logger
	sessionTTL time.Duration
}

func NewAuthService(users repo.UserRepository, logger *zap.Logger, sessionTTL time.Duration) *AuthService {
	return &AuthService{
		users:      users,
		logger:     logger,
		sessionTTL: sessionTTL,
	}
}

// Register создаёт пользователя и сразу открывает ему сессию.
func (s *AuthService) Register(ctx context.Context, username, password1, password2 string) (model.User, model.Session, error) {
	username = strings.ReplaceAll(strings.TrimSpace(username), " ", "")

	ferr := FieldErrors{}
	switch {
	case username == "":
		ferr["username"] = "Username cannot be empty."
	case utf8.RuneCountInString(username) < 3:
		ferr["username"] = "Username must be at least 3 characters long."
	case utf8.RuneCountInString(username) > 150:
		ferr["username"] = "Username cannot exceed 150 characters."
	case !usernameRe.MatchString(username):
		ferr["username"] = "Username can only contain letters, numbers, and _/./- characters."
	}

	if utf8.RuneCountInString(password1) < 8 {
		ferr["password1"] = "Password must be at least 8 characters."
	} else if password1 != password2 {
		ferr["password2"] = "Passwords do not match."
	}

	if len(ferr) > 0 {
		return model.User{}, model.Session{}, ferr
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password1), bcrypt.DefaultCost)
	if err != nil {
		return model.User{}, model.Session{}, err
	}

	user, err := s.users.CreateUser(ctx, username, string(hash))
	if err != nil {
		if errors.Is(err, repo.ErrorConflict) {
			return model.User{}, model.Session{}, FieldErrors{"username": "A user with that username already exists."}
		}
		return model.User{}, model.Session{}, err
	}

	s.logger.Info("user registered", zap.String("username", user.Username))

	session, err := s.createSession(ctx, user.ID)
	return user, session, err
}

// Login проверяет пароль и открывает сессию. Несуществующий пользователь и
// неверный пароль наружу неразличимы.
func (s *AuthService) Login(ctx context.Context, username, password string) (model.User, model.Session, error) {
	user, err := s.users.GetUserByName(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, repo.ErrorNotFound) {
			return model.User{}, model.Session{}, ErrInvalidCredentials
		}
		return model.User{}, model.Session{}, err
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return model.User{}, model.Session{}, ErrInvalidCredentials
	}

	session, err := s.createSession(ctx, user.ID)
	return user, session, err
}

func (s *AuthService) Logout(ctx context.Context, token string) error {
	return s.users.DeleteSession(ctx, token)
}

func (s *AuthService) createSession(ctx context.Context, userID int64) (model.Session, error) {
	session := model.Session{
		Token:     uuid.NewString(),
		UserID:    userID,
		ExpiresAt: time.Now().Add(s.sessionTTL),
	}
	if err := s.users.CreateSession(ctx, session); err != nil {
		return model.Session{}, err
	}
	return session, nil
}
