package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kw-0/BudgetGator/internal/domain"
)

// AccessSharingManager grants benefactors access to a primary user's credentials.
type AccessSharingManager struct {
	repo   Repository
	events eventEmitter
	mode   domain.SharingMode
	logger *slog.Logger
	now    func() time.Time
}

func NewAccessSharingManager(repo Repository, publisher Publisher, exchange string, mode domain.SharingMode, logger *slog.Logger) *AccessSharingManager {
	logger = logger.With("component", "access_sharing_manager")
	return &AccessSharingManager{
		repo:   repo,
		events: eventEmitter{publisher: publisher, exchange: exchange, logger: logger},
		mode:   mode,
		logger: logger,
		now:    time.Now,
	}
}

// Mode reports the configured sharing mode.
func (m *AccessSharingManager) Mode() domain.SharingMode {
	return m.mode
}

// LinkBenefactor records benefactorUsername on the primary user and copies the
// primary's current credentials into the benefactor's set. Copies are by value
// and deduplicated by item id. It returns the number of credentials copied.
func (m *AccessSharingManager) LinkBenefactor(ctx context.Context, primaryUserID uuid.UUID, benefactorUsername string) (int, error) {
	benefactorUsername = strings.ToLower(strings.TrimSpace(benefactorUsername))
	if benefactorUsername == "" {
		return 0, fmt.Errorf("%w: benefactorUsername is required", domain.ErrValidation)
	}

	benefactor, err := m.repo.FindUserByUsername(ctx, benefactorUsername)
	if errors.Is(err, domain.ErrNotFound) {
		return 0, fmt.Errorf("%w: benefactor %q", domain.ErrUserNotFound, benefactorUsername)
	}
	if err != nil {
		return 0, err
	}
	if benefactor.ID == primaryUserID {
		return 0, fmt.Errorf("%w: cannot link yourself as a benefactor", domain.ErrValidation)
	}

	copied, err := m.repo.LinkBenefactor(ctx, primaryUserID, benefactor.ID, benefactor.Username)
	if err != nil {
		return 0, fmt.Errorf("failed to link benefactor: %w", err)
	}
	m.logger.Info("benefactor linked", "user_id", primaryUserID, "benefactor", benefactor.Username, "credentials_copied", copied, "mode", string(m.mode))

	m.events.emit(ctx, domain.EventBenefactorLinked, domain.BenefactorLinkedEvent{
		PrimaryUserID:      primaryUserID.String(),
		BenefactorUsername: benefactor.Username,
		SharedCredentials:  copied,
		Mode:               string(m.mode),
		Timestamp:          m.now().UTC(),
	})
	return copied, nil
}
