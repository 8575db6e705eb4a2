// Package auth provides identity and token handling for the chat service.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/parley-chat/parley/internal/config"
	"github.com/parley-chat/parley/internal/store"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserExists         = errors.New("user already exists")
	ErrNameTaken          = errors.New("display name already taken")
	ErrInvalidName        = errors.New("invalid display name")
	ErrGuestsDisabled     = errors.New("guest access is disabled")
	ErrUnauthorized       = errors.New("unauthorized")
)

const maxDisplayNameLen = 32

// Claims represents the JWT token claims.
type Claims struct {
	UserID      string `json:"uid"`
	DisplayName string `json:"name"`
	jwt.RegisteredClaims
}

// Identity is the authenticated principal attached to a connection.
type Identity struct {
	UserID      string
	DisplayName string
}

// Service handles authentication operations.
type Service struct {
	store       store.Store
	jwtSecret   []byte
	jwtExpiry   time.Duration
	allowGuests bool
}

// NewService creates a new auth service.
func NewService(s store.Store, cfg config.AuthConfig) *Service {
	return &Service{
		store:       s,
		jwtSecret:   []byte(cfg.JWTSecret),
		jwtExpiry:   cfg.JWTExpiry.Duration,
		allowGuests: cfg.AllowGuests,
	}
}

// NormalizeDisplayName trims and validates a display name.
func NormalizeDisplayName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > maxDisplayNameLen {
		return "", ErrInvalidName
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return "", ErrInvalidName
		}
	}
	return name, nil
}

// Guest provisions (or re-attaches to) an identity keyed on the display name
// and returns it with a signed token. Repeated calls with the same name
// resolve to the same identity.
func (s *Service) Guest(ctx context.Context, displayName string) (*Identity, string, error) {
	if !s.allowGuests {
		return nil, "", ErrGuestsDisabled
	}
	name, err := NormalizeDisplayName(displayName)
	if err != nil {
		return nil, "", err
	}

	user, err := s.store.EnsureUser(ctx, name)
	if err != nil {
		return nil, "", fmt.Errorf("ensure user: %w", err)
	}
	if user.PasswordHash != "" {
		// The name belongs to a registered account.
		return nil, "", ErrNameTaken
	}

	token, err := s.generateToken(user)
	if err != nil {
		return nil, "", err
	}
	return &Identity{UserID: user.ID, DisplayName: user.Username}, token, nil
}

// Register creates a new password-backed account.
func (s *Service) Register(ctx context.Context, username, password string) (*store.User, error) {
	name, err := NormalizeDisplayName(username)
	if err != nil {
		return nil, err
	}
	if len(password) < 8 {
		return nil, errors.New("password must be at least 8 characters")
	}

	existing, err := s.store.GetUserByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("check existing: %w", err)
	}
	if existing != nil {
		return nil, ErrUserExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	now := time.Now().UTC()
	user := &store.User{
		ID:           uuid.New().String(),
		Username:     name,
		PasswordHash: string(hash),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	return user, nil
}

// Login authenticates a registered user and returns a JWT token.
func (s *Service) Login(ctx context.Context, username, password string) (*Identity, string, error) {
	user, err := s.store.GetUserByName(ctx, username)
	if err != nil {
		return nil, "", fmt.Errorf("get user: %w", err)
	}
	if user == nil || user.PasswordHash == "" {
		return nil, "", ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, "", ErrInvalidCredentials
	}

	token, err := s.generateToken(user)
	if err != nil {
		return nil, "", err
	}
	return &Identity{UserID: user.ID, DisplayName: user.Username}, token, nil
}

// Rename changes an identity's display name.
func (s *Service) Rename(ctx context.Context, userID, newName string) (string, error) {
	name, err := NormalizeDisplayName(newName)
	if err != nil {
		return "", err
	}
	if err := s.store.RenameUser(ctx, userID, name); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return "", ErrNameTaken
		}
		return "", fmt.Errorf("rename user: %w", err)
	}
	return name, nil
}

// ValidateToken validates a bearer token and returns the Identity it carries.
func (s *Service) ValidateToken(ctx context.Context, tokenStr string) (*Identity, error) {
	claims, err := s.validateJWT(tokenStr)
	if err != nil {
		return nil, err
	}
	return &Identity{
		UserID:      claims.UserID,
		DisplayName: claims.DisplayName,
	}, nil
}

// validateJWT validates a JWT token and returns the claims.
func (s *Service) validateJWT(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return nil, ErrUnauthorized
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrUnauthorized
	}

	return claims, nil
}

func (s *Service) generateToken(user *store.User) (string, error) {
	claims := &Claims{
		UserID:      user.ID,
		DisplayName: user.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.jwtExpiry)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ID:        uuid.New().String(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}
