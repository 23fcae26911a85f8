/**
 * @description
 * CredentialLinkManager owns the lifecycle of aggregator credentials: it opens link
 * sessions, exchanges the provisional public token for a durable access credential,
 * persists it against the user and revokes it on request.
 *
 * @notes
 * - The token exchange is never retried here. A public token is single-use upstream
 *   and a blind retry can mint a second item for the same bank login.
 * - In live-linked sharing mode a new credential is also copied to the user's
 *   benefactors.
 */
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

// CredentialLinkManager links and revokes aggregator credentials.
type CredentialLinkManager struct {
	repo       Repository
	aggregator Aggregator
	events     eventEmitter
	mode       domain.SharingMode
	logger     *slog.Logger
	now        func() time.Time
}

// NewCredentialLinkManager creates a CredentialLinkManager.
func NewCredentialLinkManager(repo Repository, aggregator Aggregator, publisher Publisher, exchange string, mode domain.SharingMode, logger *slog.Logger) *CredentialLinkManager {
	logger = logger.With("component", "credential_link_manager")
	return &CredentialLinkManager{
		repo:       repo,
		aggregator: aggregator,
		events:     eventEmitter{publisher: publisher, exchange: exchange, logger: logger},
		mode:       mode,
		logger:     logger,
		now:        time.Now,
	}
}

// CreateLinkSession requests a provisional link token scoped to the user.
func (m *CredentialLinkManager) CreateLinkSession(ctx context.Context, userID uuid.UUID) (string, error) {
	if _, err := m.requireUser(ctx, userID); err != nil {
		return "", err
	}

	token, err := m.aggregator.CreateLinkToken(ctx, userID.String())
	if err != nil {
		m.logger.Error("link token creation failed", "user_id", userID, "error", err)
		return "", err
	}
	return token, nil
}

// CompleteLink exchanges a public token and appends the resulting credential to
// the user's set. Prior credentials are neither replaced nor deduplicated.
func (m *CredentialLinkManager) CompleteLink(ctx context.Context, userID uuid.UUID, publicToken string) (domain.AccessCredential, error) {
	publicToken = strings.TrimSpace(publicToken)
	if publicToken == "" {
		return domain.AccessCredential{}, fmt.Errorf("%w: public_token is required", domain.ErrValidation)
	}
	if _, err := m.requireUser(ctx, userID); err != nil {
		return domain.AccessCredential{}, err
	}

	exchanged, err := m.aggregator.ExchangePublicToken(ctx, publicToken)
	if err != nil {
		if errors.Is(err, domain.ErrValidation) {
			m.logger.Warn("public token rejected", "user_id", userID, "error", err)
		} else {
			m.logger.Error("public token exchange failed", "user_id", userID, "error", err)
		}
		return domain.AccessCredential{}, err
	}

	cred := domain.AccessCredential{
		AccessToken: exchanged.AccessToken,
		ItemID:      exchanged.ItemID,
		LinkedAt:    m.now().UTC(),
	}
	if err := m.repo.AppendCredential(ctx, userID, cred); err != nil {
		return domain.AccessCredential{}, fmt.Errorf("failed to persist credential: %w", err)
	}
	m.logger.Info("credential linked", "user_id", userID, "item_id", cred.ItemID)

	if m.mode == domain.SharingLiveLinked {
		shared, err := m.repo.PropagateCredential(ctx, userID, cred)
		if err != nil {
			m.logger.Warn("credential propagation to benefactors failed", "user_id", userID, "item_id", cred.ItemID, "error", err)
		} else if shared > 0 {
			m.logger.Info("credential propagated to benefactors", "user_id", userID, "item_id", cred.ItemID, "benefactors", shared)
		}
	}

	m.events.emit(ctx, domain.EventCredentialLinked, domain.CredentialEvent{
		UserID:    userID.String(),
		ItemID:    cred.ItemID,
		Timestamp: cred.LinkedAt,
	})
	return cred, nil
}

// RevokeCredential removes a credential from the user's set and asks the
// aggregator to retire the item. The local removal stands even if the upstream
// call fails.
func (m *CredentialLinkManager) RevokeCredential(ctx context.Context, userID uuid.UUID, itemID string) error {
	itemID = strings.TrimSpace(itemID)
	if itemID == "" {
		return fmt.Errorf("%w: item id is required", domain.ErrValidation)
	}

	creds, err := m.repo.ListCredentials(ctx, userID)
	if err != nil {
		return err
	}
	var target *domain.AccessCredential
	for i := range creds {
		if creds[i].ItemID == itemID {
			target = &creds[i]
			break
		}
	}
	if target == nil {
		return domain.ErrCredentialNotFound
	}

	if err := m.repo.RemoveCredential(ctx, userID, itemID); err != nil {
		return err
	}
	if err := m.aggregator.RemoveItem(ctx, target.AccessToken); err != nil {
		m.logger.Warn("aggregator item removal failed", "user_id", userID, "item_id", itemID, "error", err)
	}
	m.logger.Info("credential revoked", "user_id", userID, "item_id", itemID)

	m.events.emit(ctx, domain.EventCredentialRevoked, domain.CredentialEvent{
		UserID:    userID.String(),
		ItemID:    itemID,
		Timestamp: m.now().UTC(),
	})
	return nil
}

func (m *CredentialLinkManager) requireUser(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	user, err := m.repo.FindUserByID(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("%w: user does not exist", domain.ErrUnauthenticated)
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}
