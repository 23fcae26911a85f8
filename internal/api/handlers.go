/**
 * @description
 * HTTP handlers for the budget API. Handlers decode the request, call one
 * application service and translate the domain error taxonomy into status codes.
 *
 * @dependencies
 * - internal/app: the application services behind each endpoint.
 * - internal/domain: domain models and error taxonomy.
 */

package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/kw-0/BudgetGator/internal/app"
	"github.com/kw-0/BudgetGator/internal/domain"
	"github.com/shopspring/decimal"
)

const maxRequestBodyBytes = 1 << 20

// The narrow service contracts the handlers depend on; *app services satisfy them.
type (
	AuthService interface {
		Register(ctx context.Context, in app.RegisterInput) (*domain.User, error)
		Login(ctx context.Context, username, password string) (string, *domain.User, error)
	}

	LinkService interface {
		CreateLinkSession(ctx context.Context, userID uuid.UUID) (string, error)
		CompleteLink(ctx context.Context, userID uuid.UUID, publicToken string) (domain.AccessCredential, error)
		RevokeCredential(ctx context.Context, userID uuid.UUID, itemID string) error
	}

	BudgetService interface {
		Transactions(ctx context.Context, userID uuid.UUID, q app.TransactionsQuery) (domain.AggregationResult, error)
		Accounts(ctx context.Context, userID uuid.UUID) (app.AccountsResult, error)
		Sync(ctx context.Context, userID uuid.UUID, accessToken string) (app.SyncResult, error)
	}

	GoalService interface {
		SetGoal(ctx context.Context, userID uuid.UUID, period string, amount decimal.Decimal) (domain.Goal, error)
		GetGoal(ctx context.Context, userID uuid.UUID, period string) (*domain.Goal, error)
		ListGoals(ctx context.Context, userID uuid.UUID) ([]domain.Goal, error)
		DeleteGoal(ctx context.Context, userID uuid.UUID, period string) error
	}

	SharingService interface {
		LinkBenefactor(ctx context.Context, primaryUserID uuid.UUID, benefactorUsername string) (int, error)
	}
)

// Handlers holds the application services that handlers will use.
type Handlers struct {
	auth    AuthService
	links   LinkService
	budget  BudgetService
	goals   GoalService
	sharing SharingService
	logger  *slog.Logger
}

func NewHandlers(auth AuthService, links LinkService, budget BudgetService, goals GoalService, sharing SharingService, logger *slog.Logger) *Handlers {
	return &Handlers{
		auth:    auth,
		links:   links,
		budget:  budget,
		goals:   goals,
		sharing: sharing,
		logger:  logger.With("component", "api"),
	}
}

type messageResponse struct {
	Message string `json:"message"`
}

// writeJSON is a helper for writing JSON responses.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// decodeBody decodes a JSON request body into dst. An empty body leaves dst untouched
// when allowEmpty is set.
func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}, allowEmpty bool) error {
	if r.Body == nil || r.Body == http.NoBody {
		if allowEmpty {
			return nil
		}
		return errors.New("request body is required")
	}
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)).Decode(dst)
	if errors.Is(err, io.EOF) && allowEmpty {
		return nil
	}
	return err
}

// mapServiceError translates the domain error taxonomy into a status and client message.
func mapServiceError(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, domain.ErrAuthExpired):
		return http.StatusUnauthorized, "Token expired"
	case errors.Is(err, domain.ErrBadLogin):
		return http.StatusUnauthorized, err.Error()
	case errors.Is(err, domain.ErrUnauthenticated):
		return http.StatusUnauthorized, "Unauthorized"
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict, err.Error()
	case errors.Is(err, domain.ErrUpstreamUnavailable), errors.Is(err, domain.ErrNotReady):
		return http.StatusBadGateway, "Bank data provider is unavailable. Please try again later."
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "The request timed out."
	}
	return http.StatusInternalServerError, "Internal server error"
}

func (h *Handlers) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, message := mapServiceError(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
	writeJSON(w, status, map[string]string{"error": message})
}

// requireUserID reads the authenticated user id; the auth middleware guarantees it on
// protected routes.
func (h *Handlers) requireUserID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, authFailure{Message: "Unauthorized"})
		return uuid.Nil, false
	}
	return userID, true
}
