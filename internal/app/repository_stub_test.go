package app

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/kw-0/BudgetGator/internal/domain"
)

// memoryRepo is an in-memory Repository used across the service tests.
type memoryRepo struct {
	Repository

	mu         sync.Mutex
	users      map[uuid.UUID]*domain.User
	createErr  error
	appendErr  error
	getGoalErr error
}

func newMemoryRepo(users ...*domain.User) *memoryRepo {
	repo := &memoryRepo{users: make(map[uuid.UUID]*domain.User)}
	for _, u := range users {
		repo.users[u.ID] = u
	}
	return repo
}

func (r *memoryRepo) CreateUser(ctx context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	for _, existing := range r.users {
		if existing.Username == user.Username {
			return domain.ErrUsernameTaken
		}
	}
	copied := *user
	r.users[user.ID] = &copied
	return nil
}

func (r *memoryRepo) FindUserByID(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	copied := *u
	return &copied, nil
}

func (r *memoryRepo) FindUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Username == username {
			copied := *u
			return &copied, nil
		}
	}
	return nil, domain.ErrUserNotFound
}

func (r *memoryRepo) ListCredentials(ctx context.Context, userID uuid.UUID) ([]domain.AccessCredential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return append([]domain.AccessCredential(nil), u.Credentials...), nil
}

func (r *memoryRepo) AppendCredential(ctx context.Context, userID uuid.UUID, cred domain.AccessCredential) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.appendErr != nil {
		return r.appendErr
	}
	u, ok := r.users[userID]
	if !ok {
		return domain.ErrUserNotFound
	}
	u.Credentials = append(u.Credentials, cred)
	return nil
}

func (r *memoryRepo) RemoveCredential(ctx context.Context, userID uuid.UUID, itemID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return domain.ErrUserNotFound
	}
	kept := u.Credentials[:0]
	removed := false
	for _, c := range u.Credentials {
		if c.ItemID == itemID {
			removed = true
			continue
		}
		kept = append(kept, c)
	}
	if !removed {
		return domain.ErrCredentialNotFound
	}
	u.Credentials = kept
	return nil
}

func (r *memoryRepo) PropagateCredential(ctx context.Context, primaryUserID uuid.UUID, cred domain.AccessCredential) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	primary, ok := r.users[primaryUserID]
	if !ok {
		return 0, domain.ErrUserNotFound
	}
	shared := 0
	for _, name := range primary.Benefactors {
		for _, u := range r.users {
			if u.Username == name && addCredential(u, cred) {
				shared++
			}
		}
	}
	return shared, nil
}

func (r *memoryRepo) UpsertGoal(ctx context.Context, userID uuid.UUID, goal domain.Goal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return domain.ErrUserNotFound
	}
	for i := range u.Goals {
		if u.Goals[i].Period == goal.Period {
			u.Goals[i].Amount = goal.Amount
			return nil
		}
	}
	u.Goals = append(u.Goals, goal)
	return nil
}

func (r *memoryRepo) GetGoal(ctx context.Context, userID uuid.UUID, period domain.Period) (*domain.Goal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.getGoalErr != nil {
		return nil, r.getGoalErr
	}
	u, ok := r.users[userID]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	for _, g := range u.Goals {
		if g.Period == period {
			goal := g
			return &goal, nil
		}
	}
	return nil, nil
}

func (r *memoryRepo) ListGoals(ctx context.Context, userID uuid.UUID) ([]domain.Goal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return append([]domain.Goal(nil), u.Goals...), nil
}

func (r *memoryRepo) DeleteGoal(ctx context.Context, userID uuid.UUID, period domain.Period) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return domain.ErrUserNotFound
	}
	for i, g := range u.Goals {
		if g.Period == period {
			u.Goals = append(u.Goals[:i], u.Goals[i+1:]...)
			return nil
		}
	}
	return domain.ErrGoalNotFound
}

func (r *memoryRepo) LinkBenefactor(ctx context.Context, primaryUserID, benefactorUserID uuid.UUID, benefactorUsername string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	primary, ok := r.users[primaryUserID]
	if !ok {
		return 0, domain.ErrUserNotFound
	}
	benefactor, ok := r.users[benefactorUserID]
	if !ok {
		return 0, domain.ErrUserNotFound
	}
	found := false
	for _, name := range primary.Benefactors {
		if name == benefactorUsername {
			found = true
		}
	}
	if !found {
		primary.Benefactors = append(primary.Benefactors, benefactorUsername)
	}
	copied := 0
	for _, c := range primary.Credentials {
		if addCredential(benefactor, c) {
			copied++
		}
	}
	return copied, nil
}

func addCredential(u *domain.User, cred domain.AccessCredential) bool {
	for _, existing := range u.Credentials {
		if existing.ItemID == cred.ItemID {
			return false
		}
	}
	u.Credentials = append(u.Credentials, cred)
	return true
}

type publisherStub struct {
	mu     sync.Mutex
	err    error
	events []publishedEvent
}

type publishedEvent struct {
	exchange   string
	routingKey string
	body       interface{}
}

func (p *publisherStub) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{exchange: exchange, routingKey: routingKey, body: body})
	return p.err
}

func (p *publisherStub) routingKeys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	keys := make([]string, 0, len(p.events))
	for _, e := range p.events {
		keys = append(keys, e.routingKey)
	}
	return keys
}

var errStub = errors.New("stub failure")
