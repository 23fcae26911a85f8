package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kw-0/BudgetGator/internal/app"
	"github.com/kw-0/BudgetGator/internal/domain"
	"github.com/shopspring/decimal"
)

var testUserID = uuid.MustParse("6f1c2d9e-8a4b-4c1e-9f2a-0b3c4d5e6f70")

type verifierStub struct{}

func (verifierStub) VerifyToken(token string) (uuid.UUID, error) {
	switch token {
	case "good":
		return testUserID, nil
	case "expired":
		return uuid.Nil, domain.ErrAuthExpired
	default:
		return uuid.Nil, fmt.Errorf("%w: bad signature", domain.ErrUnauthenticated)
	}
}

type authStub struct {
	AuthService
	registered app.RegisterInput
	err        error
}

func (s *authStub) Register(ctx context.Context, in app.RegisterInput) (*domain.User, error) {
	s.registered = in
	if s.err != nil {
		return nil, s.err
	}
	return &domain.User{ID: testUserID, Username: in.Username}, nil
}

func (s *authStub) Login(ctx context.Context, username, password string) (string, *domain.User, error) {
	if s.err != nil {
		return "", nil, s.err
	}
	return "session-token", &domain.User{ID: testUserID, Username: username}, nil
}

type budgetStub struct {
	BudgetService
	query     app.TransactionsQuery
	syncToken string
	err       error
}

func (s *budgetStub) Transactions(ctx context.Context, userID uuid.UUID, q app.TransactionsQuery) (domain.AggregationResult, error) {
	s.query = q
	if s.err != nil {
		return domain.AggregationResult{}, s.err
	}
	return domain.AggregationResult{Transactions: []domain.Transaction{}}, nil
}

func (s *budgetStub) Sync(ctx context.Context, userID uuid.UUID, accessToken string) (app.SyncResult, error) {
	s.syncToken = accessToken
	if s.err != nil {
		return app.SyncResult{}, s.err
	}
	return app.SyncResult{Transactions: []domain.Transaction{}, Removed: []string{}}, nil
}

func (s *budgetStub) Accounts(ctx context.Context, userID uuid.UUID) (app.AccountsResult, error) {
	return app.AccountsResult{Accounts: []domain.Account{}}, s.err
}

type goalStub struct {
	GoalService
	goal   *domain.Goal
	err    error
	amount decimal.Decimal
}

func (s *goalStub) SetGoal(ctx context.Context, userID uuid.UUID, period string, amount decimal.Decimal) (domain.Goal, error) {
	s.amount = amount
	if s.err != nil {
		return domain.Goal{}, s.err
	}
	p, err := domain.ParsePeriod(period)
	if err != nil {
		return domain.Goal{}, err
	}
	return domain.Goal{Period: p, Amount: amount}, nil
}

func (s *goalStub) GetGoal(ctx context.Context, userID uuid.UUID, period string) (*domain.Goal, error) {
	return s.goal, s.err
}

func (s *goalStub) DeleteGoal(ctx context.Context, userID uuid.UUID, period string) error {
	return s.err
}

type sharingStub struct {
	SharingService
	username string
}

func (s *sharingStub) LinkBenefactor(ctx context.Context, primaryUserID uuid.UUID, benefactorUsername string) (int, error) {
	s.username = benefactorUsername
	return 2, nil
}

type linkStub struct {
	LinkService
	publicToken string
	err         error
}

func (s *linkStub) CreateLinkSession(ctx context.Context, userID uuid.UUID) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return "link-sandbox-1", nil
}

func (s *linkStub) CompleteLink(ctx context.Context, userID uuid.UUID, publicToken string) (domain.AccessCredential, error) {
	s.publicToken = publicToken
	if s.err != nil {
		return domain.AccessCredential{}, s.err
	}
	return domain.AccessCredential{ItemID: "item-1", AccessToken: "access-1"}, nil
}

type limiterStub struct {
	decision app.RateLimitDecision
	err      error
	scopes   *[]string
}

func (l limiterStub) Consume(ctx context.Context, scope, userID string) (app.RateLimitDecision, error) {
	if l.scopes != nil {
		*l.scopes = append(*l.scopes, scope)
	}
	return l.decision, l.err
}

type testServer struct {
	handler http.Handler
	auth    *authStub
	links   *linkStub
	budget  *budgetStub
	goals   *goalStub
	sharing *sharingStub
}

func newTestServer(limiter app.RateLimiter) *testServer {
	ts := &testServer{auth: &authStub{}, links: &linkStub{}, budget: &budgetStub{}, goals: &goalStub{}, sharing: &sharingStub{}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHandlers(ts.auth, ts.links, ts.budget, ts.goals, ts.sharing, logger)
	ts.handler = NewRouter(h, RouterOptions{Verifier: verifierStub{}, Limiter: limiter, Logger: logger})
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, token, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)

	var decoded map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
			t.Fatalf("invalid JSON response %q: %v", rec.Body.String(), err)
		}
	}
	return rec, decoded
}

func TestHealth(t *testing.T) {
	rec, _ := newTestServer(nil).do(t, http.MethodGet, "/health", "", "")
	if rec.Code != http.StatusOK || rec.Body.String() != "healthy" {
		t.Fatalf("unexpected health response %d %q", rec.Code, rec.Body.String())
	}
}

func TestAuthMiddleware(t *testing.T) {
	tests := []struct {
		name        string
		token       string
		wantStatus  int
		wantCode    string
		wantMessage string
	}{
		{name: "missing header", token: "", wantStatus: http.StatusUnauthorized, wantMessage: "Authorization header required"},
		{name: "expired", token: "expired", wantStatus: http.StatusUnauthorized, wantCode: "token_expired", wantMessage: "Token expired"},
		{name: "invalid", token: "forged", wantStatus: http.StatusUnauthorized, wantMessage: "Invalid token"},
		{name: "valid", token: "good", wantStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := newTestServer(nil).do(t, http.MethodGet, "/transactions", tt.token, "")
			if rec.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d (%s)", tt.wantStatus, rec.Code, rec.Body.String())
			}
			if tt.wantStatus != http.StatusUnauthorized {
				return
			}
			if body["message"] != tt.wantMessage {
				t.Fatalf("expected message %q, got %v", tt.wantMessage, body["message"])
			}
			code, hasCode := body["code"]
			if tt.wantCode == "" && hasCode {
				t.Fatalf("expected no code, got %v", code)
			}
			if tt.wantCode != "" && code != tt.wantCode {
				t.Fatalf("expected code %q, got %v", tt.wantCode, code)
			}
		})
	}
}

func TestMalformedAuthorizationHeader(t *testing.T) {
	ts := newTestServer(nil)
	req := httptest.NewRequest(http.MethodGet, "/accounts", nil)
	req.Header.Set("Authorization", "Token good")
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestRegisterAndLogin(t *testing.T) {
	ts := newTestServer(nil)

	rec, body := ts.do(t, http.MethodPost, "/auth/register", "", `{"username":"alice","password":"secret-pass","role":"benefactor"}`)
	if rec.Code != http.StatusCreated || body["message"] == nil {
		t.Fatalf("unexpected register response %d %v", rec.Code, body)
	}
	if ts.auth.registered.Role != domain.RoleBenefactor {
		t.Fatalf("expected role to be forwarded, got %q", ts.auth.registered.Role)
	}

	rec, body = ts.do(t, http.MethodPost, "/auth/login", "", `{"username":"alice","password":"secret-pass"}`)
	if rec.Code != http.StatusOK || body["token"] != "session-token" {
		t.Fatalf("unexpected login response %d %v", rec.Code, body)
	}
	user, _ := body["user"].(map[string]any)
	if user["id"] != testUserID.String() || user["username"] != "alice" {
		t.Fatalf("unexpected user payload %v", body["user"])
	}
}

func TestAuthErrors(t *testing.T) {
	ts := newTestServer(nil)

	ts.auth.err = domain.ErrUsernameTaken
	rec, body := ts.do(t, http.MethodPost, "/auth/register", "", `{"username":"alice","password":"secret-pass"}`)
	if rec.Code != http.StatusConflict || body["error"] != "user already exists" {
		t.Fatalf("unexpected conflict response %d %v", rec.Code, body)
	}

	ts.auth.err = domain.ErrBadLogin
	rec, body = ts.do(t, http.MethodPost, "/auth/login", "", `{"username":"alice","password":"nope"}`)
	if rec.Code != http.StatusUnauthorized || body["error"] != "Invalid username or password" {
		t.Fatalf("unexpected login failure %d %v", rec.Code, body)
	}

	rec, _ = ts.do(t, http.MethodPost, "/auth/login", "", `{not json`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed body, got %d", rec.Code)
	}
}

func TestTransactionsForwardsQuery(t *testing.T) {
	ts := newTestServer(nil)
	rec, _ := ts.do(t, http.MethodGet, "/transactions?period=2025-11&category=Food&account_id=acc-1&access_token=tok&start_date=2025-11-01&end_date=2025-11-15", "good", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	want := app.TransactionsQuery{
		Period:      "2025-11",
		Category:    "Food",
		AccountID:   "acc-1",
		AccessToken: "tok",
		StartDate:   "2025-11-01",
		EndDate:     "2025-11-15",
	}
	if ts.budget.query != want {
		t.Fatalf("expected %+v, got %+v", want, ts.budget.query)
	}
}

func TestServiceErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantError  string
	}{
		{name: "no credentials", err: domain.ErrNoCredentials, wantStatus: http.StatusNotFound, wantError: "no bank linked"},
		{name: "validation", err: fmt.Errorf("%w: period must be in YYYY-MM format", domain.ErrValidation), wantStatus: http.StatusBadRequest, wantError: "validation error: period must be in YYYY-MM format"},
		{name: "upstream", err: fmt.Errorf("plaid: %w", domain.ErrUpstreamUnavailable), wantStatus: http.StatusBadGateway},
		{name: "unknown", err: errors.New("connection reset by peer"), wantStatus: http.StatusInternalServerError, wantError: "Internal server error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(nil)
			ts.budget.err = tt.err
			rec, body := ts.do(t, http.MethodGet, "/transactions", "good", "")
			if rec.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d", tt.wantStatus, rec.Code)
			}
			if tt.wantError != "" && body["error"] != tt.wantError {
				t.Fatalf("expected error %q, got %v", tt.wantError, body["error"])
			}
		})
	}
}

func TestSyncAcceptsEmptyBody(t *testing.T) {
	ts := newTestServer(nil)
	rec, body := ts.do(t, http.MethodPost, "/transactions/sync", "good", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if _, ok := body["removed"]; !ok {
		t.Fatalf("expected removed in response, got %v", body)
	}

	rec, _ = ts.do(t, http.MethodPost, "/transactions/sync", "good", `{"access_token":"tok-2"}`)
	if rec.Code != http.StatusOK || ts.budget.syncToken != "tok-2" {
		t.Fatalf("expected access token to be forwarded, got %q (%d)", ts.budget.syncToken, rec.Code)
	}
}

func TestGoalEndpoints(t *testing.T) {
	ts := newTestServer(nil)

	rec, body := ts.do(t, http.MethodPost, "/goals/set", "good", `{"period":"2025-11","amount":100.25}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%v)", rec.Code, body)
	}
	if !ts.goals.amount.Equal(decimal.RequireFromString("100.25")) {
		t.Fatalf("expected exact amount, got %s", ts.goals.amount)
	}
	goal, _ := body["goal"].(map[string]any)
	if goal["period"] != "2025-11" {
		t.Fatalf("unexpected goal payload %v", body["goal"])
	}

	rec, _ = ts.do(t, http.MethodPost, "/goals/set", "good", `{"period":"2025-11","amount":"lots"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for non-numeric amount, got %d", rec.Code)
	}

	rec, body = ts.do(t, http.MethodGet, "/goals/2025-12", "good", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if v, ok := body["goal"]; !ok || v != nil {
		t.Fatalf("expected goal null, got %v", body)
	}

	ts.goals.err = domain.ErrGoalNotFound
	rec, body = ts.do(t, http.MethodDelete, "/goals/2025-12", "good", "")
	if rec.Code != http.StatusNotFound || body["error"] != "goal not found for this period" {
		t.Fatalf("unexpected delete response %d %v", rec.Code, body)
	}
}

func TestLinkBenefactor(t *testing.T) {
	ts := newTestServer(nil)
	rec, body := ts.do(t, http.MethodPost, "/link-benefactor", "good", `{"benefactorUsername":"bob"}`)
	if rec.Code != http.StatusOK || body["message"] == nil {
		t.Fatalf("unexpected response %d %v", rec.Code, body)
	}
	if ts.sharing.username != "bob" {
		t.Fatalf("expected username forwarded, got %q", ts.sharing.username)
	}
}

func TestLinkEndpoints(t *testing.T) {
	ts := newTestServer(nil)

	rec, body := ts.do(t, http.MethodPost, "/link-session", "good", "")
	if rec.Code != http.StatusOK || body["session_token"] != "link-sandbox-1" {
		t.Fatalf("unexpected link session response %d %v", rec.Code, body)
	}

	rec, body = ts.do(t, http.MethodPost, "/exchange-token", "good", `{"public_token":"public-sandbox-1"}`)
	if rec.Code != http.StatusOK || body["success"] != true || ts.links.publicToken != "public-sandbox-1" {
		t.Fatalf("unexpected exchange response %d %v", rec.Code, body)
	}
}

func TestLinkErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		err        error
		wantStatus int
		wantError  string
	}{
		{
			name:       "rejected public token",
			method:     http.MethodPost,
			path:       "/exchange-token",
			body:       `{"public_token":"public-bad"}`,
			err:        fmt.Errorf("%w: INVALID_PUBLIC_TOKEN", domain.ErrValidation),
			wantStatus: http.StatusBadRequest,
			wantError:  "validation error: INVALID_PUBLIC_TOKEN",
		},
		{
			name:       "deleted user on link session",
			method:     http.MethodPost,
			path:       "/link-session",
			err:        fmt.Errorf("%w: user does not exist", domain.ErrUnauthenticated),
			wantStatus: http.StatusUnauthorized,
			wantError:  "Unauthorized",
		},
		{
			name:       "deleted user on exchange",
			method:     http.MethodPost,
			path:       "/exchange-token",
			body:       `{"public_token":"public-sandbox-1"}`,
			err:        fmt.Errorf("%w: user does not exist", domain.ErrUnauthenticated),
			wantStatus: http.StatusUnauthorized,
			wantError:  "Unauthorized",
		},
		{
			name:       "aggregator outage",
			method:     http.MethodPost,
			path:       "/link-session",
			err:        fmt.Errorf("plaid: %w", domain.ErrUpstreamUnavailable),
			wantStatus: http.StatusBadGateway,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(nil)
			ts.links.err = tt.err
			rec, body := ts.do(t, tt.method, tt.path, "good", tt.body)
			if rec.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d (%v)", tt.wantStatus, rec.Code, body)
			}
			if tt.wantError != "" && body["error"] != tt.wantError {
				t.Fatalf("expected error %q, got %v", tt.wantError, body["error"])
			}
		})
	}
}

func TestRateLimit(t *testing.T) {
	blocked := app.RateLimitDecision{Limit: 6, RetryAfter: 41500 * time.Millisecond}
	rec, body := newTestServer(limiterStub{decision: blocked}).do(t, http.MethodPost, "/transactions/sync", "good", "")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "42" || body["error"] == nil {
		t.Fatalf("expected Retry-After and error body, got %q %v", rec.Header().Get("Retry-After"), body)
	}
	if rec.Header().Get("X-RateLimit-Remaining") != "0" || rec.Header().Get("X-RateLimit-Limit") != "6" {
		t.Fatalf("unexpected quota headers %v", rec.Header())
	}

	allowed := app.RateLimitDecision{Allowed: true, Limit: 60, Remaining: 57}
	rec, _ = newTestServer(limiterStub{decision: allowed}).do(t, http.MethodGet, "/accounts", "good", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 under the limit, got %d", rec.Code)
	}
	if rec.Header().Get("X-RateLimit-Remaining") != "57" {
		t.Fatalf("expected remaining quota header, got %q", rec.Header().Get("X-RateLimit-Remaining"))
	}

	rec, _ = newTestServer(limiterStub{err: errors.New("redis down")}).do(t, http.MethodGet, "/accounts", "good", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected limiter failure to allow the request, got %d", rec.Code)
	}
}

func TestRateLimitScopes(t *testing.T) {
	var scopes []string
	ts := newTestServer(limiterStub{decision: app.RateLimitDecision{Allowed: true}, scopes: &scopes})

	ts.do(t, http.MethodGet, "/transactions", "good", "")
	ts.do(t, http.MethodPost, "/transactions/sync", "good", "")
	ts.do(t, http.MethodGet, "/accounts", "good", "")
	ts.do(t, http.MethodGet, "/goals/2025-11", "good", "")

	want := []string{app.ScopeTransactions, app.ScopeSync, app.ScopeAccounts}
	if strings.Join(scopes, ",") != strings.Join(want, ",") {
		t.Fatalf("expected scopes %v, got %v", want, scopes)
	}
}
