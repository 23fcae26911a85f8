/**
 * @description
 * Custom middleware for the HTTP router: bearer session authentication and the
 * per-user rate limit in front of the endpoints that fan out to the aggregator.
 *
 * @dependencies
 * - internal/app: the RateLimiter contract.
 * - internal/domain: the error taxonomy returned by token verification.
 */

package api

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kw-0/BudgetGator/internal/app"
	"github.com/kw-0/BudgetGator/internal/domain"
)

// UserIDContextKey is a custom type for the context key to avoid collisions.
type UserIDContextKey string

const userIDKey UserIDContextKey = "userID"

// TokenVerifier resolves a session token to the user it was issued for.
type TokenVerifier interface {
	VerifyToken(token string) (uuid.UUID, error)
}

type authFailure struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// AuthMiddleware validates the bearer session token and stores the user id in the
// request context. Expired tokens get the token_expired code so clients can log out.
func AuthMiddleware(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeJSON(w, http.StatusUnauthorized, authFailure{Message: "Authorization header required"})
				return
			}

			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString == authHeader || strings.TrimSpace(tokenString) == "" {
				writeJSON(w, http.StatusUnauthorized, authFailure{Message: "Invalid Authorization header format"})
				return
			}

			userID, err := verifier.VerifyToken(strings.TrimSpace(tokenString))
			if err != nil {
				if errors.Is(err, domain.ErrAuthExpired) {
					writeJSON(w, http.StatusUnauthorized, authFailure{Message: "Token expired", Code: "token_expired"})
					return
				}
				writeJSON(w, http.StatusUnauthorized, authFailure{Message: "Invalid token"})
				return
			}

			ctx := context.WithValue(r.Context(), userIDKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetUserIDFromContext retrieves the authenticated user's id from the request context.
func GetUserIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	userID, ok := ctx.Value(userIDKey).(uuid.UUID)
	return userID, ok
}

// RateLimitMiddleware spends one request of the authenticated user's quota for scope.
// Limiter errors are logged and the request is let through.
func RateLimitMiddleware(limiter app.RateLimiter, scope string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := GetUserIDFromContext(r.Context())
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			decision, err := limiter.Consume(r.Context(), scope, userID.String())
			if err != nil {
				logger.Warn("rate limiter unavailable; allowing request", "scope", scope, "user_id", userID, "error", err)
				next.ServeHTTP(w, r)
				return
			}
			if decision.Limit > 0 {
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
				w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
			}
			if !decision.Allowed {
				w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(decision.RetryAfter)))
				writeError(w, http.StatusTooManyRequests, "Rate limit exceeded. Please try again later.")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func retryAfterSeconds(d time.Duration) int {
	seconds := int(math.Ceil(d.Seconds()))
	if seconds < 1 {
		return 1
	}
	return seconds
}
