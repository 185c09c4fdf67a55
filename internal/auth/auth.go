// Package auth issues and verifies bearer tokens for device owners and
// administrators.
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goodtune/dtxcloud/internal/besteffort"
	"github.com/goodtune/dtxcloud/internal/clock"
	"github.com/goodtune/dtxcloud/internal/config"
	"github.com/goodtune/dtxcloud/internal/storage"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

// DefaultRevocationTTL is used when a token's expiry cannot be read.
const DefaultRevocationTTL = time.Hour

var (
	// ErrInvalidCredentials is returned when login credentials are invalid.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrInvalidToken is returned when a JWT token is malformed, expired or
	// signed with another key.
	ErrInvalidToken = errors.New("invalid or expired token")

	// ErrTokenRevoked is returned for tokens presented after logout.
	ErrTokenRevoked = errors.New("token has been revoked")

	// ErrInactiveUser is returned when the token's user is disabled or gone.
	ErrInactiveUser = errors.New("user is inactive")
)

// Blacklist stores revoked token hashes.
type Blacklist interface {
	Revoke(ctx context.Context, tokenHash string, ttl time.Duration) error
	IsRevoked(ctx context.Context, tokenHash string) (bool, error)
}

// Claims represents the JWT claims for a user.
type Claims struct {
	UserID string       `json:"user_id"`
	Email  string       `json:"email"`
	Role   storage.Role `json:"role"`
	jwt.RegisteredClaims
}

// Service handles signup, login, logout and token verification.
type Service struct {
	users      storage.UserStore
	blacklist  Blacklist
	runner     *besteffort.Runner
	clock      clock.Clock
	jwtSecret  []byte
	tokenTTL   time.Duration
	bcryptCost int
	logger     zerolog.Logger
}

// NewService creates a new authentication service.
func NewService(users storage.UserStore, blacklist Blacklist, runner *besteffort.Runner, clk clock.Clock, cfg config.AuthConfig, logger zerolog.Logger) (*Service, error) {
	ttl, err := time.ParseDuration(cfg.TokenTTL)
	if err != nil {
		return nil, fmt.Errorf("invalid token_ttl: %w", err)
	}

	return &Service{
		users:      users,
		blacklist:  blacklist,
		runner:     runner,
		clock:      clk,
		jwtSecret:  []byte(cfg.JWTSecret),
		tokenTTL:   ttl,
		bcryptCost: cfg.BcryptCost,
		logger:     logger.With().Str("component", "auth").Logger(),
	}, nil
}

// TokenTTL returns the lifetime of issued tokens.
func (s *Service) TokenTTL() time.Duration {
	return s.tokenTTL
}

// HashToken derives the blacklist key for a raw token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])[:32]
}

// HashPassword hashes a password using bcrypt.
func (s *Service) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// VerifyPassword verifies a password against a hash.
func VerifyPassword(password, hash string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}

// NormalizeEmail lowercases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Signup creates an active user account. A taken email yields
// storage.ErrConflict.
func (s *Service) Signup(ctx context.Context, email, password, name string) (*storage.User, error) {
	hash, err := s.HashPassword(password)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	user := storage.User{
		ID:           uuid.NewString(),
		Email:        NormalizeEmail(email),
		Name:         strings.TrimSpace(name),
		PasswordHash: hash,
		Role:         storage.RoleUser,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.users.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	s.logger.Info().Str("user_id", user.ID).Msg("User signed up")
	return &user, nil
}

// Login authenticates a user and issues a token.
func (s *Service) Login(ctx context.Context, email, password string) (string, time.Time, *storage.User, error) {
	user, err := s.users.GetByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", time.Time{}, nil, ErrInvalidCredentials
		}
		return "", time.Time{}, nil, fmt.Errorf("get user: %w", err)
	}

	if err := VerifyPassword(password, user.PasswordHash); err != nil {
		return "", time.Time{}, nil, ErrInvalidCredentials
	}
	if !user.IsActive {
		return "", time.Time{}, nil, ErrInvalidCredentials
	}

	now := s.clock.Now()
	s.runner.Do(ctx, besteffort.OpLastLogin, map[string]any{"user_id": user.ID}, func(ctx context.Context) error {
		return s.users.UpdateLastLogin(ctx, user.ID, now)
	})
	user.LastLoginAt = &now

	token, expiresAt, err := s.GenerateToken(user)
	if err != nil {
		return "", time.Time{}, nil, err
	}

	return token, expiresAt, user, nil
}

// GenerateToken generates a new JWT token for a user.
func (s *Service) GenerateToken(user *storage.User) (string, time.Time, error) {
	now := s.clock.Now()
	expiresAt := now.Add(s.tokenTTL)
	claims := &Claims{
		UserID: user.ID,
		Email:  user.Email,
		Role:   user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   user.ID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}

	return signed, expiresAt, nil
}

// ValidateToken validates a JWT token and returns the claims.
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.clock.Now),
		jwt.WithExpirationRequired(),
	)

	token, err := parser.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return s.jwtSecret, nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == "" {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// Authenticate resolves a bearer token to an active user. Revocation is
// checked before the signature.
func (s *Service) Authenticate(ctx context.Context, token string) (*storage.User, error) {
	revoked, err := s.blacklist.IsRevoked(ctx, HashToken(token))
	if err != nil {
		return nil, fmt.Errorf("check blacklist: %w", err)
	}
	if revoked {
		return nil, ErrTokenRevoked
	}

	claims, err := s.ValidateToken(token)
	if err != nil {
		return nil, err
	}

	user, err := s.users.Get(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrInactiveUser
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	if !user.IsActive {
		return nil, ErrInactiveUser
	}

	return user, nil
}

// Logout revokes token for the rest of its lifetime.
func (s *Service) Logout(ctx context.Context, token string) error {
	ttl := DefaultRevocationTTL

	var claims Claims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err == nil && claims.ExpiresAt != nil {
		ttl = claims.ExpiresAt.Sub(s.clock.Now())
	}

	if err := s.blacklist.Revoke(ctx, HashToken(token), ttl); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}
