// Package auth implements registration, login and token authorization.
package auth

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/taskwell/api/internal/apperr"
	"github.com/taskwell/api/internal/domain"
	"github.com/taskwell/api/internal/repository"
	"github.com/taskwell/api/pkg/config"
	"github.com/taskwell/api/pkg/crypto"
	jwtpkg "github.com/taskwell/api/pkg/jwt"
)

const minPasswordLength = 8

// Service handles authentication workflows.
type Service struct {
	users  repository.UserRepository
	logger *slog.Logger
	cfg    config.APIConfig
}

// New constructs a Service.
func New(users repository.UserRepository, logger *slog.Logger, cfg config.APIConfig) Service {
	return Service{users: users, logger: logger, cfg: cfg}
}

// RegisterInput carries a registration request.
type RegisterInput struct {
	Email     string
	Password  string
	FirstName *string
	LastName  *string
}

// Token is an issued bearer token with its expiry.
type Token struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Register creates a new account and issues a token for it.
func (s Service) Register(ctx context.Context, input RegisterInput) (*domain.User, Token, error) {
	email, err := normalizeEmail(input.Email)
	if err != nil {
		return nil, Token{}, err
	}
	if len(input.Password) < minPasswordLength {
		return nil, Token{}, apperr.Newf(apperr.CodeUserValidation, "password must be at least %d characters", minPasswordLength)
	}

	if _, err := s.users.GetUserByEmail(ctx, email); err == nil {
		return nil, Token{}, apperr.New(apperr.CodeEmailAlreadyExists, "email is already registered")
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, Token{}, err
	}

	hash, err := crypto.HashPassword(input.Password)
	if err != nil {
		return nil, Token{}, err
	}
	user := &domain.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		FirstName:    trimOptional(input.FirstName),
		LastName:     trimOptional(input.LastName),
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		// The unique index catches a register racing this one.
		if errors.Is(err, repository.ErrConflict) {
			return nil, Token{}, apperr.New(apperr.CodeEmailAlreadyExists, "email is already registered")
		}
		return nil, Token{}, err
	}
	token, err := s.issueToken(user)
	if err != nil {
		return nil, Token{}, err
	}
	s.logger.Info("user registered", "user_id", user.ID)
	return user, token, nil
}

// Login authenticates a user by email and password.
func (s Service) Login(ctx context.Context, email, password string) (*domain.User, Token, error) {
	normalized := strings.ToLower(strings.TrimSpace(email))
	user, err := s.users.GetUserByEmail(ctx, normalized)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, Token{}, apperr.New(apperr.CodeInvalidCredentials, "invalid email or password")
		}
		return nil, Token{}, err
	}
	if err := crypto.VerifyPassword(user.PasswordHash, password); err != nil {
		return nil, Token{}, apperr.New(apperr.CodeInvalidCredentials, "invalid email or password")
	}
	token, err := s.issueToken(user)
	if err != nil {
		return nil, Token{}, err
	}
	s.logger.Info("user logged in", "user_id", user.ID)
	return user, token, nil
}

// CurrentUser loads the account behind an authenticated request.
func (s Service) CurrentUser(ctx context.Context, userID string) (*domain.User, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.New(apperr.CodeUserNotFound, "user not found")
		}
		return nil, err
	}
	return user, nil
}

// Authorize validates a bearer token and returns the associated user and claims.
func (s Service) Authorize(ctx context.Context, token string) (*domain.User, *jwtpkg.Claims, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return nil, nil, apperr.New(apperr.CodeInvalidToken, "token required")
	}
	claims, err := jwtpkg.Parse(trimmed, s.jwtOptions())
	if err != nil {
		return nil, nil, apperr.Wrap(apperr.CodeInvalidToken, "token invalid or expired", err)
	}
	user, err := s.users.GetUserByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, apperr.New(apperr.CodeInvalidToken, "token subject no longer exists")
		}
		return nil, nil, err
	}
	return user, claims, nil
}

func (s Service) issueToken(user *domain.User) (Token, error) {
	signed, expiresAt, err := jwtpkg.GenerateToken(user.ID, user.Email, s.jwtOptions())
	if err != nil {
		return Token{}, err
	}
	return Token{Token: signed, ExpiresAt: expiresAt}, nil
}

func (s Service) jwtOptions() jwtpkg.Options {
	return jwtpkg.Options{
		Secret:   s.cfg.JWTSecret,
		Issuer:   s.cfg.JWTIssuer,
		Audience: s.cfg.JWTAudience,
		TTL:      s.cfg.TokenTTL,
	}
}

func normalizeEmail(email string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(email))
	if normalized == "" {
		return "", apperr.New(apperr.CodeUserValidation, "email is required")
	}
	if _, err := mail.ParseAddress(normalized); err != nil {
		return "", apperr.New(apperr.CodeUserValidation, "email is not valid")
	}
	return normalized, nil
}

func trimOptional(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
