/**
 * @description
 * This file sets up the HTTP router for the budget service. It defines the API
 * endpoints, associates them with their handlers and applies the middleware stack.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS handling for the mobile and web clients.
 */

package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/kw-0/BudgetGator/internal/app"
)

// RouterOptions carries the cross-cutting pieces the router wires around the handlers.
type RouterOptions struct {
	Verifier       TokenVerifier
	Limiter        app.RateLimiter
	AllowedOrigins []string
	Logger         *slog.Logger
}

// NewRouter creates the chi router for the budget API.
func NewRouter(h *Handlers, opts RouterOptions) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", h.RegisterHandler)
		r.Post("/login", h.LoginHandler)
	})

	logger := opts.Logger
	if logger == nil {
		logger = h.logger
	}
	limit := func(scope string) func(http.Handler) http.Handler {
		return RateLimitMiddleware(opts.Limiter, scope, logger)
	}

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(opts.Verifier))

		r.Post("/link-session", h.CreateLinkSessionHandler)
		r.Post("/exchange-token", h.ExchangeTokenHandler)
		r.Delete("/credentials/{itemID}", h.RevokeCredentialHandler)

		r.With(limit(app.ScopeTransactions)).Get("/transactions", h.TransactionsHandler)
		r.With(limit(app.ScopeSync)).Post("/transactions/sync", h.SyncHandler)
		r.With(limit(app.ScopeAccounts)).Get("/accounts", h.AccountsHandler)

		r.Post("/goals/set", h.SetGoalHandler)
		r.Get("/goals", h.ListGoalsHandler)
		r.Get("/goals/{period}", h.GetGoalHandler)
		r.Delete("/goals/{period}", h.DeleteGoalHandler)

		r.Post("/link-benefactor", h.LinkBenefactorHandler)
	})

	return r
}
