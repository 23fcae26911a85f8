/**
 * @description
 * Contracts the application services depend on. Concrete implementations live in
 * internal/store (persistence), pkg/plaidclient (aggregator) and pkg/rabbitmq (events);
 * tests substitute stubs.
 */
package app

import (
	"context"

	"github.com/google/uuid"
	"github.com/kw-0/BudgetGator/internal/domain"
)

// Aggregator is the external account-aggregation provider.
// Implementations wrap "data not ready" conditions with domain.ErrNotReady and
// transport or provider failures with domain.ErrUpstreamUnavailable.
type Aggregator interface {
	CreateLinkToken(ctx context.Context, clientUserID string) (string, error)
	ExchangePublicToken(ctx context.Context, publicToken string) (ExchangeResult, error)
	GetTransactions(ctx context.Context, req TransactionsRequest) (TransactionsPage, error)
	SyncTransactions(ctx context.Context, accessToken, cursor string) (SyncPage, error)
	GetAccounts(ctx context.Context, accessToken string) ([]domain.Account, error)
	RemoveItem(ctx context.Context, accessToken string) error
}

// ExchangeResult is the durable credential returned by a token exchange.
type ExchangeResult struct {
	AccessToken string
	ItemID      string
}

// TransactionsRequest asks for one page of a date window.
type TransactionsRequest struct {
	AccessToken string
	StartDate   domain.Date
	EndDate     domain.Date
	Count       int
	Offset      int
}

// TransactionsPage is one page of a windowed fetch.
type TransactionsPage struct {
	Transactions []domain.RawTransactionRecord
	Total        int
}

// SyncPage is one page of cursor-based sync.
type SyncPage struct {
	Added      []domain.RawTransactionRecord
	Modified   []domain.RawTransactionRecord
	Removed    []string
	NextCursor string
	HasMore    bool
}

// Repository is the persistence contract for user documents. Every mutation is
// atomic per user document.
type Repository interface {
	CreateUser(ctx context.Context, user *domain.User) error
	FindUserByID(ctx context.Context, userID uuid.UUID) (*domain.User, error)
	FindUserByUsername(ctx context.Context, username string) (*domain.User, error)

	ListCredentials(ctx context.Context, userID uuid.UUID) ([]domain.AccessCredential, error)
	AppendCredential(ctx context.Context, userID uuid.UUID, cred domain.AccessCredential) error
	RemoveCredential(ctx context.Context, userID uuid.UUID, itemID string) error
	PropagateCredential(ctx context.Context, primaryUserID uuid.UUID, cred domain.AccessCredential) (int, error)

	UpsertGoal(ctx context.Context, userID uuid.UUID, goal domain.Goal) error
	GetGoal(ctx context.Context, userID uuid.UUID, period domain.Period) (*domain.Goal, error)
	ListGoals(ctx context.Context, userID uuid.UUID) ([]domain.Goal, error)
	DeleteGoal(ctx context.Context, userID uuid.UUID, period domain.Period) error

	LinkBenefactor(ctx context.Context, primaryUserID, benefactorUserID uuid.UUID, benefactorUsername string) (int, error)
}

// Publisher emits domain events. Publishing is best-effort: callers log failures
// and carry on.
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body interface{}) error
}
