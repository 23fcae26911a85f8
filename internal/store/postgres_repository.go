/**
 * @description
 * PostgreSQL implementation of app.Repository. A user document is spread over the
 * users, access_credentials, monthly_goals and benefactors tables; every mutation runs
 * in a transaction that first locks the owning users row, which gives the same
 * per-document atomicity the Mongo store gets from single-document updates.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: The PostgreSQL driver and connection pool.
 * - github.com/shopspring/decimal: Goal amounts travel as exact decimal text.
 * - internal/domain: Domain models and error taxonomy.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kw-0/BudgetGator/internal/app"
	"github.com/kw-0/BudgetGator/internal/domain"
	"github.com/shopspring/decimal"
)

const pgUniqueViolation = "23505"

var _ app.Repository = (*PostgresRepository)(nil)

// PostgresRepository stores user documents in PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// CreateUser inserts a new user row. A duplicate username maps to domain.ErrUsernameTaken.
func (r *PostgresRepository) CreateUser(ctx context.Context, user *domain.User) error {
	query := `
		INSERT INTO users (id, username, email, password_hash, role, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.db.Exec(ctx, query, user.ID, user.Username, user.Email, user.PasswordHash, string(user.Role), user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrUsernameTaken
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// FindUserByID loads a user together with its credentials, benefactors and goals.
func (r *PostgresRepository) FindUserByID(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	return r.loadUser(ctx, `SELECT id, username, email, password_hash, role, created_at FROM users WHERE id = $1`, userID)
}

// FindUserByUsername loads a user by its normalized username.
func (r *PostgresRepository) FindUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	return r.loadUser(ctx, `SELECT id, username, email, password_hash, role, created_at FROM users WHERE username = $1`, username)
}

func (r *PostgresRepository) loadUser(ctx context.Context, query string, arg interface{}) (*domain.User, error) {
	var user domain.User
	var role string
	err := r.db.QueryRow(ctx, query, arg).Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &role, &user.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrUserNotFound
		}
		return nil, err
	}
	user.Role = domain.Role(role)

	if user.Credentials, err = r.listCredentials(ctx, user.ID); err != nil {
		return nil, err
	}
	if user.Goals, err = r.listGoals(ctx, user.ID); err != nil {
		return nil, err
	}

	rows, err := r.db.Query(ctx, `SELECT benefactor_username FROM benefactors WHERE primary_user_id = $1 ORDER BY created_at, benefactor_username`, user.ID)
	if err != nil {
		return nil, err
	}
	user.Benefactors, err = pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *PostgresRepository) userExists(ctx context.Context, userID uuid.UUID) error {
	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, userID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return domain.ErrUserNotFound
	}
	return nil
}

// lockUser takes the row lock that serializes mutations of one user document.
func lockUser(ctx context.Context, tx pgx.Tx, userID uuid.UUID) error {
	var id uuid.UUID
	err := tx.QueryRow(ctx, `SELECT id FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&id)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.ErrUserNotFound
		}
		return err
	}
	return nil
}

// ListCredentials returns a user's credentials in insertion order.
func (r *PostgresRepository) ListCredentials(ctx context.Context, userID uuid.UUID) ([]domain.AccessCredential, error) {
	if err := r.userExists(ctx, userID); err != nil {
		return nil, err
	}
	return r.listCredentials(ctx, userID)
}

func (r *PostgresRepository) listCredentials(ctx context.Context, userID uuid.UUID) ([]domain.AccessCredential, error) {
	rows, err := r.db.Query(ctx, `SELECT access_token, item_id, linked_at FROM access_credentials WHERE user_id = $1 ORDER BY id`, userID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.AccessCredential, error) {
		var c domain.AccessCredential
		err := row.Scan(&c.AccessToken, &c.ItemID, &c.LinkedAt)
		return c, err
	})
}

// AppendCredential adds a credential to the end of the user's list.
func (r *PostgresRepository) AppendCredential(ctx context.Context, userID uuid.UUID, cred domain.AccessCredential) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := lockUser(ctx, tx, userID); err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO access_credentials (user_id, item_id, access_token, linked_at)
		VALUES ($1, $2, $3, $4)
	`, userID, cred.ItemID, cred.AccessToken, linkedAtOrNow(cred.LinkedAt))
	if err != nil {
		return fmt.Errorf("insert credential: %w", err)
	}
	return tx.Commit(ctx)
}

// RemoveCredential deletes every credential of the user carrying itemID.
func (r *PostgresRepository) RemoveCredential(ctx context.Context, userID uuid.UUID, itemID string) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := lockUser(ctx, tx, userID); err != nil {
		return err
	}
	result, err := tx.Exec(ctx, `DELETE FROM access_credentials WHERE user_id = $1 AND item_id = $2`, userID, itemID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return domain.ErrCredentialNotFound
	}
	return tx.Commit(ctx)
}

// PropagateCredential copies cred to every benefactor of the primary user that does not
// already hold the same item. It returns the number of benefactors that received it.
func (r *PostgresRepository) PropagateCredential(ctx context.Context, primaryUserID uuid.UUID, cred domain.AccessCredential) (int, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	if err := lockUser(ctx, tx, primaryUserID); err != nil {
		return 0, err
	}
	query := `
		INSERT INTO access_credentials (user_id, item_id, access_token, linked_at)
		SELECT u.id, $2, $3, $4
		FROM benefactors b
		JOIN users u ON u.username = b.benefactor_username
		WHERE b.primary_user_id = $1
		  AND NOT EXISTS (
			SELECT 1 FROM access_credentials c WHERE c.user_id = u.id AND c.item_id = $2
		  )
	`
	result, err := tx.Exec(ctx, query, primaryUserID, cred.ItemID, cred.AccessToken, linkedAtOrNow(cred.LinkedAt))
	if err != nil {
		return 0, fmt.Errorf("propagate credential: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return int(result.RowsAffected()), nil
}

// UpsertGoal creates or replaces the goal for goal.Period.
func (r *PostgresRepository) UpsertGoal(ctx context.Context, userID uuid.UUID, goal domain.Goal) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := lockUser(ctx, tx, userID); err != nil {
		return err
	}
	query := `
		INSERT INTO monthly_goals (user_id, period, amount)
		VALUES ($1, $2, $3::numeric)
		ON CONFLICT (user_id, period)
		DO UPDATE SET amount = EXCLUDED.amount, updated_at = NOW()
	`
	if _, err := tx.Exec(ctx, query, userID, goal.Period.String(), goal.Amount.String()); err != nil {
		return fmt.Errorf("upsert goal: %w", err)
	}
	return tx.Commit(ctx)
}

// GetGoal returns the goal for period, or nil when the user has none set.
func (r *PostgresRepository) GetGoal(ctx context.Context, userID uuid.UUID, period domain.Period) (*domain.Goal, error) {
	if err := r.userExists(ctx, userID); err != nil {
		return nil, err
	}
	var periodText, amountText string
	err := r.db.QueryRow(ctx, `SELECT period, amount::text FROM monthly_goals WHERE user_id = $1 AND period = $2`, userID, period.String()).Scan(&periodText, &amountText)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	goal, err := decodeGoal(periodText, amountText)
	if err != nil {
		return nil, err
	}
	return &goal, nil
}

// ListGoals returns all goals of a user ordered by period.
func (r *PostgresRepository) ListGoals(ctx context.Context, userID uuid.UUID) ([]domain.Goal, error) {
	if err := r.userExists(ctx, userID); err != nil {
		return nil, err
	}
	return r.listGoals(ctx, userID)
}

func (r *PostgresRepository) listGoals(ctx context.Context, userID uuid.UUID) ([]domain.Goal, error) {
	rows, err := r.db.Query(ctx, `SELECT period, amount::text FROM monthly_goals WHERE user_id = $1 ORDER BY period`, userID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Goal, error) {
		var periodText, amountText string
		if err := row.Scan(&periodText, &amountText); err != nil {
			return domain.Goal{}, err
		}
		return decodeGoal(periodText, amountText)
	})
}

// DeleteGoal removes the goal for period.
func (r *PostgresRepository) DeleteGoal(ctx context.Context, userID uuid.UUID, period domain.Period) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := lockUser(ctx, tx, userID); err != nil {
		return err
	}
	result, err := tx.Exec(ctx, `DELETE FROM monthly_goals WHERE user_id = $1 AND period = $2`, userID, period.String())
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return domain.ErrGoalNotFound
	}
	return tx.Commit(ctx)
}

// LinkBenefactor records the benefactor on the primary user and copies the primary's
// credentials the benefactor does not already hold. Both rows are locked in id order.
func (r *PostgresRepository) LinkBenefactor(ctx context.Context, primaryUserID, benefactorUserID uuid.UUID, benefactorUsername string) (int, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `SELECT id FROM users WHERE id = ANY($1) ORDER BY id FOR UPDATE`, []uuid.UUID{primaryUserID, benefactorUserID})
	if err != nil {
		return 0, err
	}
	locked, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return 0, err
	}
	if len(locked) != 2 {
		return 0, domain.ErrUserNotFound
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO benefactors (primary_user_id, benefactor_username)
		VALUES ($1, $2)
		ON CONFLICT (primary_user_id, benefactor_username) DO NOTHING
	`, primaryUserID, benefactorUsername)
	if err != nil {
		return 0, fmt.Errorf("record benefactor: %w", err)
	}

	copyQuery := `
		INSERT INTO access_credentials (user_id, item_id, access_token, linked_at)
		SELECT $2, src.item_id, src.access_token, src.linked_at
		FROM (
			SELECT DISTINCT ON (item_id) id, item_id, access_token, linked_at
			FROM access_credentials
			WHERE user_id = $1
			ORDER BY item_id, id
		) src
		WHERE NOT EXISTS (
			SELECT 1 FROM access_credentials c WHERE c.user_id = $2 AND c.item_id = src.item_id
		)
		ORDER BY src.id
	`
	result, err := tx.Exec(ctx, copyQuery, primaryUserID, benefactorUserID)
	if err != nil {
		return 0, fmt.Errorf("copy credentials: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return int(result.RowsAffected()), nil
}

func decodeGoal(periodText, amountText string) (domain.Goal, error) {
	period, err := domain.ParsePeriod(periodText)
	if err != nil {
		return domain.Goal{}, fmt.Errorf("stored goal period %q: %v", periodText, err)
	}
	amount, err := decimal.NewFromString(amountText)
	if err != nil {
		return domain.Goal{}, fmt.Errorf("stored goal amount %q: %w", amountText, err)
	}
	return domain.Goal{Period: period, Amount: amount}, nil
}

func linkedAtOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}
