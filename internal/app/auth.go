/**
 * @description
 * AuthService is the thin login shell in front of the budget engine: it registers
 * users with bcrypt password hashes and issues HS256 session tokens.
 *
 * @dependencies
 * - golang.org/x/crypto/bcrypt: password hashing.
 * - github.com/golang-jwt/jwt/v5: session token signing and verification.
 */
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/kw-0/BudgetGator/internal/domain"
	"golang.org/x/crypto/bcrypt"
)

const minPasswordLength = 8

var usernamePattern = regexp.MustCompile(`^[a-z0-9](?:[a-z0-9._]{0,18}[a-z0-9])?$`)

var blockedUsernames = map[string]struct{}{
	"admin":   {},
	"root":    {},
	"support": {},
	"system":  {},
}

// SessionClaims is the payload of a session token.
type SessionClaims struct {
	UserID string `json:"id"`
	jwt.RegisteredClaims
}

// RegisterInput carries the fields accepted at registration.
type RegisterInput struct {
	Username string
	Password string
	Email    string
	Role     domain.Role
}

// AuthService registers users and issues session tokens.
type AuthService struct {
	repo   Repository
	secret []byte
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
}

func NewAuthService(repo Repository, secret string, ttl time.Duration, logger *slog.Logger) *AuthService {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &AuthService{
		repo:   repo,
		secret: []byte(secret),
		ttl:    ttl,
		logger: logger.With("component", "auth_service"),
		now:    time.Now,
	}
}

// Register creates a user with a hashed password.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*domain.User, error) {
	username, err := normalizeAndValidateUsername(in.Username)
	if err != nil {
		return nil, err
	}
	if len(in.Password) < minPasswordLength {
		return nil, fmt.Errorf("%w: password must be at least %d characters", domain.ErrValidation, minPasswordLength)
	}
	role := in.Role
	if role == "" {
		role = domain.RolePrimary
	}
	if !role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", domain.ErrValidation, role)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &domain.User{
		ID:           uuid.New(),
		Username:     username,
		Email:        strings.TrimSpace(in.Email),
		PasswordHash: string(hash),
		Role:         role,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.repo.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	s.logger.Info("user registered", "user_id", user.ID, "role", string(role))
	return user, nil
}

// Login verifies the password and returns a signed session token.
func (s *AuthService) Login(ctx context.Context, username, password string) (string, *domain.User, error) {
	normalized := strings.ToLower(strings.TrimSpace(username))
	user, err := s.repo.FindUserByUsername(ctx, normalized)
	if errors.Is(err, domain.ErrNotFound) {
		return "", nil, domain.ErrBadLogin
	}
	if err != nil {
		return "", nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", nil, domain.ErrBadLogin
	}

	token, err := s.IssueToken(user.ID)
	if err != nil {
		return "", nil, err
	}
	return token, user, nil
}

// IssueToken signs a session token for userID.
func (s *AuthService) IssueToken(userID uuid.UUID) (string, error) {
	now := s.now()
	claims := SessionClaims{
		UserID: userID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, nil
}

// VerifyToken validates a session token and returns the user id it carries.
// Expired tokens fail with ErrAuthExpired; anything else with ErrUnauthenticated.
func (s *AuthService) VerifyToken(tokenString string) (uuid.UUID, error) {
	claims := &SessionClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return uuid.Nil, domain.ErrAuthExpired
		}
		return uuid.Nil, fmt.Errorf("%w: %v", domain.ErrUnauthenticated, err)
	}
	if !token.Valid {
		return uuid.Nil, fmt.Errorf("%w: invalid token", domain.ErrUnauthenticated)
	}

	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid user id claim", domain.ErrUnauthenticated)
	}
	return userID, nil
}

func normalizeAndValidateUsername(raw string) (string, error) {
	username := strings.ToLower(strings.TrimSpace(raw))
	if username == "" {
		return "", fmt.Errorf("%w: username is required", domain.ErrValidation)
	}
	if !usernamePattern.MatchString(username) {
		return "", fmt.Errorf("%w: username must be 1-20 characters of letters, digits, dots or underscores and start and end with a letter or digit", domain.ErrValidation)
	}
	if _, blocked := blockedUsernames[username]; blocked {
		return "", fmt.Errorf("%w: username %q is reserved", domain.ErrValidation, username)
	}
	return username, nil
}
