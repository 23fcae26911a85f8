package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kw-0/BudgetGator/internal/domain"
	"github.com/shopspring/decimal"
)

type budgetAggregatorStub struct {
	*aggregatorStub

	accounts    map[string][]domain.Account
	accountErrs map[string]error
}

func (s *budgetAggregatorStub) GetAccounts(ctx context.Context, accessToken string) ([]domain.Account, error) {
	if err := s.accountErrs[accessToken]; err != nil {
		return nil, err
	}
	return s.accounts[accessToken], nil
}

type budgetFixture struct {
	service *BudgetService
	repo    *memoryRepo
	agg     *budgetAggregatorStub
	pub     *publisherStub
	userID  uuid.UUID
}

func newBudgetFixture(creds ...domain.AccessCredential) budgetFixture {
	user := &domain.User{ID: uuid.New(), Username: "alice", Credentials: creds}
	repo := newMemoryRepo(user)
	agg := &budgetAggregatorStub{aggregatorStub: &aggregatorStub{}}
	engine, _ := newTestSyncEngine(agg, SyncConfig{})
	pub := &publisherStub{}
	service := NewBudgetService(repo, agg, engine, pub, "budget.events", 30, testLogger())
	service.now = fixedClock(2025, time.November, 20)
	return budgetFixture{service: service, repo: repo, agg: agg, pub: pub, userID: user.ID}
}

func TestTransactionsPartialFailure(t *testing.T) {
	f := newBudgetFixture(
		domain.AccessCredential{AccessToken: "tok-ok", ItemID: "item-ok"},
		domain.AccessCredential{AccessToken: "tok-bad", ItemID: "item-bad"},
	)
	f.agg.pages = map[string][]TransactionsPage{
		"tok-ok": {{Transactions: []domain.RawTransactionRecord{
			rawTx("a", "2025-11-03", 50, "Food"),
			rawTx("b", "2025-11-10", 30, "Food"),
		}, Total: 2}},
	}
	f.agg.pageErrs = map[string]error{"tok-bad": domain.ErrUpstreamUnavailable}

	result, err := f.service.Transactions(context.Background(), f.userID, TransactionsQuery{Period: "2025-11"})
	if err != nil {
		t.Fatalf("expected partial result, got %v", err)
	}
	if result.Totals.Count != 2 {
		t.Fatalf("expected the healthy credential's transactions, got %d", result.Totals.Count)
	}
	if result.PartialFailure == nil || len(result.PartialFailure.FailedCredentials) != 1 {
		t.Fatalf("expected partial failure marker, got %+v", result.PartialFailure)
	}
	if result.PartialFailure.FailedCredentials[0].ItemID != "item-bad" {
		t.Fatalf("expected item-bad to be reported, got %+v", result.PartialFailure.FailedCredentials[0])
	}
}

func TestTransactionsAllCredentialsFail(t *testing.T) {
	f := newBudgetFixture(domain.AccessCredential{AccessToken: "tok-bad", ItemID: "item-bad"})
	f.agg.pageErrs = map[string]error{"tok-bad": errStub}

	_, err := f.service.Transactions(context.Background(), f.userID, TransactionsQuery{})
	if !errors.Is(err, domain.ErrUpstreamUnavailable) {
		t.Fatalf("expected upstream unavailable, got %v", err)
	}
}

func TestTransactionsGoalProgress(t *testing.T) {
	f := newBudgetFixture(domain.AccessCredential{AccessToken: "tok-1", ItemID: "item-1"})
	f.agg.pages = map[string][]TransactionsPage{
		"tok-1": {{Transactions: []domain.RawTransactionRecord{
			rawTx("a", "2025-11-03", 50, "Food"),
			rawTx("b", "2025-11-05", -20, "Salary"),
			rawTx("c", "2025-11-10", 30, "Travel"),
		}, Total: 3}},
	}
	if err := f.repo.UpsertGoal(context.Background(), f.userID, domain.Goal{Period: november2025, Amount: decimal.NewFromInt(100)}); err != nil {
		t.Fatalf("seed goal: %v", err)
	}

	result, err := f.service.Transactions(context.Background(), f.userID, TransactionsQuery{Period: "2025-11", Category: "food"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Totals.Count != 1 {
		t.Fatalf("expected category filter to keep 1 transaction, got %d", result.Totals.Count)
	}
	if result.GoalProgress == nil {
		t.Fatal("expected goal progress")
	}
	if !result.GoalProgress.Spent.Equal(decimal.NewFromInt(80)) || !result.GoalProgress.Percentage.Equal(decimal.NewFromInt(80)) {
		t.Fatalf("expected month spend 80 (80%%), got %+v", result.GoalProgress)
	}
	if result.PartialFailure != nil {
		t.Fatalf("did not expect partial failure, got %+v", result.PartialFailure)
	}
}

func TestTransactionsWindowResolution(t *testing.T) {
	tests := []struct {
		name      string
		query     TransactionsQuery
		wantStart string
		wantEnd   string
		wantErr   error
	}{
		{name: "period", query: TransactionsQuery{Period: "2024-02"}, wantStart: "2024-02-01", wantEnd: "2024-02-29"},
		{name: "default trailing window", query: TransactionsQuery{}, wantStart: "2025-10-21", wantEnd: "2025-11-20"},
		{name: "explicit dates", query: TransactionsQuery{StartDate: "2025-01-01", EndDate: "2025-03-31"}, wantStart: "2025-01-01", wantEnd: "2025-03-31"},
		{name: "inverted dates", query: TransactionsQuery{StartDate: "2025-04-01", EndDate: "2025-03-31"}, wantErr: domain.ErrValidation},
		{name: "malformed date", query: TransactionsQuery{StartDate: "yesterday"}, wantErr: domain.ErrValidation},
		{name: "malformed period", query: TransactionsQuery{Period: "2025-1"}, wantErr: domain.ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newBudgetFixture(domain.AccessCredential{AccessToken: "tok-1", ItemID: "item-1"})
			result, err := f.service.Transactions(context.Background(), f.userID, tt.query)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result.StartDate.String() != tt.wantStart || result.EndDate.String() != tt.wantEnd {
				t.Fatalf("expected window %s..%s, got %s..%s", tt.wantStart, tt.wantEnd, result.StartDate, result.EndDate)
			}
			if len(f.agg.requests) != 1 || f.agg.requests[0].StartDate.String() != tt.wantStart {
				t.Fatalf("expected the upstream fetch to use the resolved window, got %+v", f.agg.requests)
			}
		})
	}
}

func TestTransactionsCredentialSelection(t *testing.T) {
	f := newBudgetFixture(
		domain.AccessCredential{AccessToken: "tok-1", ItemID: "item-1"},
		domain.AccessCredential{AccessToken: "tok-2", ItemID: "item-2"},
	)

	result, err := f.service.Transactions(context.Background(), f.userID, TransactionsQuery{AccessToken: "tok-2"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Manifest) != 1 || result.Manifest[0].ItemID != "item-2" {
		t.Fatalf("expected only item-2 to be fetched, got %+v", result.Manifest)
	}

	if _, err := f.service.Transactions(context.Background(), f.userID, TransactionsQuery{AccessToken: "someone-elses"}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found for a foreign token, got %v", err)
	}
}

func TestTransactionsWithoutCredentials(t *testing.T) {
	f := newBudgetFixture()
	_, err := f.service.Transactions(context.Background(), f.userID, TransactionsQuery{})
	if !errors.Is(err, domain.ErrNoCredentials) {
		t.Fatalf("expected no bank linked, got %v", err)
	}
}

func TestAccountsFanOut(t *testing.T) {
	f := newBudgetFixture(
		domain.AccessCredential{AccessToken: "tok-1", ItemID: "item-1"},
		domain.AccessCredential{AccessToken: "tok-2", ItemID: "item-2"},
		domain.AccessCredential{AccessToken: "tok-3", ItemID: "item-3"},
	)
	f.agg.accounts = map[string][]domain.Account{
		"tok-1": {{AccountID: "chk", Name: "Checking"}},
		"tok-3": {{AccountID: "sav", Name: "Savings"}, {AccountID: "cc", Name: "Credit"}},
	}
	f.agg.accountErrs = map[string]error{"tok-2": errStub}

	result, err := f.service.Accounts(context.Background(), f.userID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Accounts) != 3 {
		t.Fatalf("expected 3 accounts, got %d", len(result.Accounts))
	}
	if result.Accounts[0].ItemID != "item-1" || result.Accounts[2].ItemID != "item-3" {
		t.Fatalf("expected accounts tagged with their item, got %+v", result.Accounts)
	}
	if result.PartialFailure == nil || result.PartialFailure.FailedCredentials[0].ItemID != "item-2" {
		t.Fatalf("expected item-2 partial failure, got %+v", result.PartialFailure)
	}
}

func TestSyncBackfill(t *testing.T) {
	f := newBudgetFixture(domain.AccessCredential{AccessToken: "tok-1", ItemID: "item-1"})
	f.agg.syncPages = map[string][]SyncPage{
		"tok-1": {{
			Added: []domain.RawTransactionRecord{
				rawTx("a", "2025-11-01", 10, "Food"),
				rawTx("b", "2025-11-09", -100, "Salary"),
			},
			Removed:    []string{"old"},
			NextCursor: "cursor-1",
		}},
	}

	result, err := f.service.Sync(context.Background(), f.userID, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Transactions) != 2 || result.Transactions[0].ID != "b" {
		t.Fatalf("expected every record newest first, got %+v", result.Transactions)
	}
	if !result.Totals.TotalAmount.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("expected spend total 10, got %s", result.Totals.TotalAmount)
	}
	if len(result.Removed) != 1 || result.Removed[0] != "old" {
		t.Fatalf("expected tombstones to be reported, got %v", result.Removed)
	}
	keys := f.pub.routingKeys()
	if len(keys) != 1 || keys[0] != domain.EventSyncCompleted {
		t.Fatalf("expected sync.completed event, got %v", keys)
	}
}
