package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kw-0/BudgetGator/internal/domain"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// GoalTracker manages monthly spending goals.
type GoalTracker struct {
	repo   Repository
	logger *slog.Logger
	now    func() time.Time
}

// NewGoalTracker creates a GoalTracker. now defaults to time.Now when nil.
func NewGoalTracker(repo Repository, logger *slog.Logger, now func() time.Time) *GoalTracker {
	if now == nil {
		now = time.Now
	}
	return &GoalTracker{repo: repo, logger: logger.With("component", "goal_tracker"), now: now}
}

// SetGoal validates and upserts the goal for a period.
// Periods before the current calendar month are rejected.
func (t *GoalTracker) SetGoal(ctx context.Context, userID uuid.UUID, period string, amount decimal.Decimal) (domain.Goal, error) {
	p, err := domain.ParsePeriod(period)
	if err != nil {
		return domain.Goal{}, err
	}
	if !amount.IsPositive() {
		return domain.Goal{}, fmt.Errorf("%w: amount must be a positive number", domain.ErrValidation)
	}
	if current := domain.PeriodOf(t.now().UTC()); p.Before(current) {
		return domain.Goal{}, fmt.Errorf("%w: cannot set a goal for a past month (%s is before %s)", domain.ErrValidation, p, current)
	}

	goal := domain.Goal{Period: p, Amount: amount}
	if err := t.repo.UpsertGoal(ctx, userID, goal); err != nil {
		return domain.Goal{}, fmt.Errorf("failed to save goal: %w", err)
	}
	t.logger.Info("goal saved", "user_id", userID, "period", p.String(), "amount", amount.String())
	return goal, nil
}

// GetGoal returns the goal for a period, or nil when none is set.
func (t *GoalTracker) GetGoal(ctx context.Context, userID uuid.UUID, period string) (*domain.Goal, error) {
	p, err := domain.ParsePeriod(period)
	if err != nil {
		return nil, err
	}
	return t.repo.GetGoal(ctx, userID, p)
}

func (t *GoalTracker) ListGoals(ctx context.Context, userID uuid.UUID) ([]domain.Goal, error) {
	goals, err := t.repo.ListGoals(ctx, userID)
	if err != nil {
		return nil, err
	}
	if goals == nil {
		goals = []domain.Goal{}
	}
	return goals, nil
}

// DeleteGoal removes the goal for a period. It fails with ErrGoalNotFound when
// no goal exists.
func (t *GoalTracker) DeleteGoal(ctx context.Context, userID uuid.UUID, period string) error {
	p, err := domain.ParsePeriod(period)
	if err != nil {
		return err
	}
	if err := t.repo.DeleteGoal(ctx, userID, p); err != nil {
		return err
	}
	t.logger.Info("goal deleted", "user_id", userID, "period", p.String())
	return nil
}

// Progress compares spend with a goal. Neither field is clamped: remaining goes
// negative and percentage exceeds 100 when the budget is overrun.
func Progress(goal domain.Goal, spent decimal.Decimal) domain.GoalProgress {
	progress := domain.GoalProgress{
		Amount:     goal.Amount,
		Spent:      spent,
		Remaining:  goal.Amount.Sub(spent),
		Percentage: decimal.Zero,
	}
	if goal.Amount.IsPositive() {
		progress.Percentage = spent.Mul(hundred).Div(goal.Amount)
	}
	return progress
}
