/**
 * @description
 * BudgetService is the request-level orchestration of the budget engine. It selects
 * the caller's credentials, drives the SyncEngine, normalizes and aggregates the
 * result, and attaches goal progress and partial-failure annotations.
 *
 * @notes
 * - Every call is bounded by the caller's context; nothing is cached between calls.
 * - A failure on some credentials yields a result with a PartialFailure annotation;
 *   a failure on all of them yields ErrUpstreamUnavailable.
 */
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kw-0/BudgetGator/internal/domain"
	"github.com/shopspring/decimal"
)

const defaultWindowDays = 30

// TransactionsQuery is the raw query of a transactions request.
type TransactionsQuery struct {
	Period      string
	Category    string
	AccountID   string
	AccessToken string
	StartDate   string
	EndDate     string
}

// AccountsResult lists accounts across the caller's credentials.
type AccountsResult struct {
	Accounts       []domain.Account          `json:"accounts"`
	Manifest       []domain.CredentialResult `json:"manifest"`
	PartialFailure *domain.PartialFailure    `json:"partial_failure,omitempty"`
}

// SyncResult is the output of a full-history backfill.
type SyncResult struct {
	Transactions   []domain.Transaction      `json:"transactions"`
	Removed        []string                  `json:"removed"`
	Totals         domain.Totals             `json:"totals"`
	Manifest       []domain.CredentialResult `json:"manifest"`
	PartialFailure *domain.PartialFailure    `json:"partial_failure,omitempty"`
}

// BudgetService answers transaction, account and sync requests.
type BudgetService struct {
	repo       Repository
	aggregator Aggregator
	engine     *SyncEngine
	events     eventEmitter
	windowDays int
	logger     *slog.Logger
	now        func() time.Time
}

func NewBudgetService(repo Repository, aggregator Aggregator, engine *SyncEngine, publisher Publisher, exchange string, windowDays int, logger *slog.Logger) *BudgetService {
	if windowDays <= 0 {
		windowDays = defaultWindowDays
	}
	logger = logger.With("component", "budget_service")
	return &BudgetService{
		repo:       repo,
		aggregator: aggregator,
		engine:     engine,
		events:     eventEmitter{publisher: publisher, exchange: exchange, logger: logger},
		windowDays: windowDays,
		logger:     logger,
		now:        time.Now,
	}
}

// Transactions fetches the resolved window for the caller's credentials and
// aggregates it. When a period is given and a goal exists for it, goal progress
// is computed from the period's total spend.
func (s *BudgetService) Transactions(ctx context.Context, userID uuid.UUID, q TransactionsQuery) (domain.AggregationResult, error) {
	var period domain.Period
	if p := strings.TrimSpace(q.Period); p != "" {
		parsed, err := domain.ParsePeriod(p)
		if err != nil {
			return domain.AggregationResult{}, err
		}
		period = parsed
	}

	start, end, err := s.resolveWindow(period, q.StartDate, q.EndDate)
	if err != nil {
		return domain.AggregationResult{}, err
	}

	creds, err := s.selectCredentials(ctx, userID, q.AccessToken)
	if err != nil {
		return domain.AggregationResult{}, err
	}

	batch, err := s.engine.FetchWindow(ctx, creds, start, end)
	if err != nil {
		return domain.AggregationResult{}, err
	}

	transactions := NormalizeAll(batch.Records)
	result := Aggregate(transactions, domain.Query{
		Period:    period,
		Category:  q.Category,
		AccountID: q.AccountID,
	})
	result.StartDate, result.EndDate = start, end
	result.Manifest = batch.Manifest
	result.PartialFailure = domain.NewPartialFailure(batch.Manifest)

	if !period.IsZero() {
		goal, err := s.repo.GetGoal(ctx, userID, period)
		if err != nil {
			return domain.AggregationResult{}, fmt.Errorf("failed to load goal: %w", err)
		}
		if goal != nil {
			progress := Progress(*goal, spendFor(transactions, period))
			result.GoalProgress = &progress
		}
	}

	if result.PartialFailure != nil {
		s.logger.Warn("transactions built from partial data", "user_id", userID, "failed_credentials", len(result.PartialFailure.FailedCredentials))
	}
	return result, nil
}

// Accounts lists the accounts behind every credential the caller owns.
func (s *BudgetService) Accounts(ctx context.Context, userID uuid.UUID) (AccountsResult, error) {
	creds, err := s.selectCredentials(ctx, userID, "")
	if err != nil {
		return AccountsResult{}, err
	}

	groups, manifest, err := collect(ctx, s.engine, creds, s.engine.cfg.CredentialTimeout, func(ctx context.Context, cred domain.AccessCredential) ([]domain.Account, int, error) {
		accounts, err := s.aggregator.GetAccounts(ctx, cred.AccessToken)
		if err != nil {
			return nil, 0, err
		}
		for i := range accounts {
			accounts[i].ItemID = cred.ItemID
		}
		return accounts, len(accounts), nil
	})
	if err != nil {
		return AccountsResult{}, err
	}

	result := AccountsResult{
		Accounts:       []domain.Account{},
		Manifest:       manifest,
		PartialFailure: domain.NewPartialFailure(manifest),
	}
	for _, accounts := range groups {
		result.Accounts = append(result.Accounts, accounts...)
	}
	return result, nil
}

// Sync runs a full-history backfill for the caller's credentials, or for the one
// credential matching accessToken when it is set.
func (s *BudgetService) Sync(ctx context.Context, userID uuid.UUID, accessToken string) (SyncResult, error) {
	creds, err := s.selectCredentials(ctx, userID, accessToken)
	if err != nil {
		return SyncResult{}, err
	}

	batch, err := s.engine.SyncHistory(ctx, creds)
	if err != nil {
		return SyncResult{}, err
	}

	transactions := NormalizeAll(batch.Records)
	sortByDateDesc(transactions)
	result := SyncResult{
		Transactions:   transactions,
		Removed:        batch.Removed,
		Totals:         Aggregate(transactions, domain.Query{}).Totals,
		Manifest:       batch.Manifest,
		PartialFailure: domain.NewPartialFailure(batch.Manifest),
	}
	if result.Removed == nil {
		result.Removed = []string{}
	}

	s.logger.Info("full-history sync completed", "user_id", userID, "added", len(transactions), "removed", len(result.Removed))
	s.events.emit(ctx, domain.EventSyncCompleted, domain.SyncCompletedEvent{
		UserID:    userID.String(),
		Added:     len(transactions),
		Removed:   len(result.Removed),
		Manifest:  batch.Manifest,
		Timestamp: s.now().UTC(),
	})
	return result, nil
}

// selectCredentials returns the caller's credentials, narrowed to the one whose
// access token matches when accessToken is set.
func (s *BudgetService) selectCredentials(ctx context.Context, userID uuid.UUID, accessToken string) ([]domain.AccessCredential, error) {
	creds, err := s.repo.ListCredentials(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(creds) == 0 {
		return nil, domain.ErrNoCredentials
	}

	accessToken = strings.TrimSpace(accessToken)
	if accessToken == "" {
		return creds, nil
	}
	for _, cred := range creds {
		if cred.AccessToken == accessToken {
			return []domain.AccessCredential{cred}, nil
		}
	}
	return nil, domain.ErrCredentialNotFound
}

// resolveWindow picks the upstream fetch window: the period's calendar month,
// else explicit start/end dates, else the trailing default window ending today.
func (s *BudgetService) resolveWindow(period domain.Period, startRaw, endRaw string) (domain.Date, domain.Date, error) {
	if !period.IsZero() {
		start, end := period.Window()
		return start, end, nil
	}

	today := domain.NewDate(s.now().UTC())
	end := today
	if v := strings.TrimSpace(endRaw); v != "" {
		parsed, err := domain.ParseDate(v)
		if err != nil {
			return domain.Date{}, domain.Date{}, fmt.Errorf("%w: end_date must be YYYY-MM-DD", domain.ErrValidation)
		}
		end = parsed
	}
	start := domain.NewDate(end.AddDate(0, 0, -s.windowDays))
	if v := strings.TrimSpace(startRaw); v != "" {
		parsed, err := domain.ParseDate(v)
		if err != nil {
			return domain.Date{}, domain.Date{}, fmt.Errorf("%w: start_date must be YYYY-MM-DD", domain.ErrValidation)
		}
		start = parsed
	}
	if end.Before(start.Time) {
		return domain.Date{}, domain.Date{}, fmt.Errorf("%w: start_date must not be after end_date", domain.ErrValidation)
	}
	return start, end, nil
}

// spendFor is the period's total spend, ignoring category and account filters.
func spendFor(transactions []domain.Transaction, period domain.Period) decimal.Decimal {
	return Aggregate(transactions, domain.Query{Period: period}).Totals.TotalAmount
}
