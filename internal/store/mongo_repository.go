/**
 * @description
 * MongoDB implementation of app.Repository. Each user is one document holding its
 * credentials, benefactor usernames and goals as embedded arrays, and every mutation is
 * a single-document update so concurrent writers never lose each other's changes.
 *
 * @dependencies
 * - go.mongodb.org/mongo-driver: The MongoDB driver.
 * - github.com/shopspring/decimal: Goal amounts are stored as exact decimal strings.
 */

package store

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/kw-0/BudgetGator/internal/app"
	"github.com/kw-0/BudgetGator/internal/domain"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	usersCollection = "users"
	// Bounded retries for the goal upsert when a concurrent writer inserts the same period.
	goalUpsertAttempts = 3
)

var _ app.Repository = (*MongoRepository)(nil)

type userDocument struct {
	ID           string               `bson:"_id"`
	Username     string               `bson:"username"`
	Email        string               `bson:"email,omitempty"`
	PasswordHash string               `bson:"password_hash"`
	Role         string               `bson:"role"`
	Credentials  []credentialDocument `bson:"credentials"`
	Benefactors  []string             `bson:"benefactors"`
	Goals        []goalDocument       `bson:"goals"`
	CreatedAt    time.Time            `bson:"created_at"`
}

type credentialDocument struct {
	AccessToken string    `bson:"access_token"`
	ItemID      string    `bson:"item_id"`
	LinkedAt    time.Time `bson:"linked_at"`
}

type goalDocument struct {
	Period string `bson:"period"`
	Amount string `bson:"amount"`
}

// MongoRepository stores user documents in a MongoDB collection.
type MongoRepository struct {
	users *mongo.Collection
}

// NewMongoRepository binds to the users collection of dbName and ensures the unique
// username index exists.
func NewMongoRepository(ctx context.Context, client *mongo.Client, dbName string) (*MongoRepository, error) {
	users := client.Database(dbName).Collection(usersCollection)
	_, err := users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "username", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("users_username_key"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create username index: %w", err)
	}
	return &MongoRepository{users: users}, nil
}

// ConnectMongo opens and pings a MongoDB client.
func ConnectMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	return client, nil
}

func byID(userID uuid.UUID) bson.M {
	return bson.M{"_id": userID.String()}
}

func (r *MongoRepository) CreateUser(ctx context.Context, user *domain.User) error {
	_, err := r.users.InsertOne(ctx, toUserDocument(user))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.ErrUsernameTaken
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

func (r *MongoRepository) FindUserByID(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	return r.findOne(ctx, byID(userID))
}

func (r *MongoRepository) FindUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	return r.findOne(ctx, bson.M{"username": username})
}

func (r *MongoRepository) findOne(ctx context.Context, filter bson.M) (*domain.User, error) {
	var doc userDocument
	if err := r.users.FindOne(ctx, filter).Decode(&doc); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return doc.toDomain()
}

func (r *MongoRepository) ListCredentials(ctx context.Context, userID uuid.UUID) ([]domain.AccessCredential, error) {
	user, err := r.FindUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return user.Credentials, nil
}

func (r *MongoRepository) AppendCredential(ctx context.Context, userID uuid.UUID, cred domain.AccessCredential) error {
	update := bson.M{"$push": bson.M{"credentials": toCredentialDocument(cred)}}
	result, err := r.users.UpdateOne(ctx, byID(userID), update)
	if err != nil {
		return fmt.Errorf("failed to append credential: %w", err)
	}
	if result.MatchedCount == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

func (r *MongoRepository) RemoveCredential(ctx context.Context, userID uuid.UUID, itemID string) error {
	filter := bson.M{"_id": userID.String(), "credentials.item_id": itemID}
	update := bson.M{"$pull": bson.M{"credentials": bson.M{"item_id": itemID}}}
	result, err := r.users.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to remove credential: %w", err)
	}
	if result.MatchedCount == 0 {
		if err := r.exists(ctx, userID); err != nil {
			return err
		}
		return domain.ErrCredentialNotFound
	}
	return nil
}

// PropagateCredential pushes cred onto every benefactor of the primary user that does
// not already hold the item.
func (r *MongoRepository) PropagateCredential(ctx context.Context, primaryUserID uuid.UUID, cred domain.AccessCredential) (int, error) {
	primary, err := r.FindUserByID(ctx, primaryUserID)
	if err != nil {
		return 0, err
	}
	if len(primary.Benefactors) == 0 {
		return 0, nil
	}
	filter := bson.M{
		"username":            bson.M{"$in": primary.Benefactors},
		"credentials.item_id": bson.M{"$ne": cred.ItemID},
	}
	update := bson.M{"$push": bson.M{"credentials": toCredentialDocument(cred)}}
	result, err := r.users.UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, fmt.Errorf("failed to propagate credential: %w", err)
	}
	return int(result.ModifiedCount), nil
}

// UpsertGoal replaces the amount of an existing period in place, else appends a new
// goal guarded against a concurrent insert of the same period.
func (r *MongoRepository) UpsertGoal(ctx context.Context, userID uuid.UUID, goal domain.Goal) error {
	period := goal.Period.String()
	amount := goal.Amount.String()

	for attempt := 0; attempt < goalUpsertAttempts; attempt++ {
		result, err := r.users.UpdateOne(ctx,
			bson.M{"_id": userID.String(), "goals.period": period},
			bson.M{"$set": bson.M{"goals.$.amount": amount}},
		)
		if err != nil {
			return fmt.Errorf("failed to update goal: %w", err)
		}
		if result.MatchedCount > 0 {
			return nil
		}

		result, err = r.users.UpdateOne(ctx,
			bson.M{"_id": userID.String(), "goals.period": bson.M{"$ne": period}},
			bson.M{"$push": bson.M{"goals": goalDocument{Period: period, Amount: amount}}},
		)
		if err != nil {
			return fmt.Errorf("failed to insert goal: %w", err)
		}
		if result.MatchedCount > 0 {
			return nil
		}
		if err := r.exists(ctx, userID); err != nil {
			return err
		}
	}
	return fmt.Errorf("%w: goal for %s changed concurrently", domain.ErrConflict, period)
}

func (r *MongoRepository) GetGoal(ctx context.Context, userID uuid.UUID, period domain.Period) (*domain.Goal, error) {
	goals, err := r.ListGoals(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, g := range goals {
		if g.Period == period {
			goal := g
			return &goal, nil
		}
	}
	return nil, nil
}

func (r *MongoRepository) ListGoals(ctx context.Context, userID uuid.UUID) ([]domain.Goal, error) {
	user, err := r.FindUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return user.Goals, nil
}

func (r *MongoRepository) DeleteGoal(ctx context.Context, userID uuid.UUID, period domain.Period) error {
	filter := bson.M{"_id": userID.String(), "goals.period": period.String()}
	update := bson.M{"$pull": bson.M{"goals": bson.M{"period": period.String()}}}
	result, err := r.users.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to delete goal: %w", err)
	}
	if result.MatchedCount == 0 {
		if err := r.exists(ctx, userID); err != nil {
			return err
		}
		return domain.ErrGoalNotFound
	}
	return nil
}

// LinkBenefactor adds the benefactor's username to the primary document, then pushes
// each primary credential onto the benefactor document unless it already holds the item.
func (r *MongoRepository) LinkBenefactor(ctx context.Context, primaryUserID, benefactorUserID uuid.UUID, benefactorUsername string) (int, error) {
	if err := r.exists(ctx, benefactorUserID); err != nil {
		return 0, err
	}
	result, err := r.users.UpdateOne(ctx, byID(primaryUserID),
		bson.M{"$addToSet": bson.M{"benefactors": benefactorUsername}},
	)
	if err != nil {
		return 0, fmt.Errorf("failed to record benefactor: %w", err)
	}
	if result.MatchedCount == 0 {
		return 0, domain.ErrUserNotFound
	}

	primary, err := r.FindUserByID(ctx, primaryUserID)
	if err != nil {
		return 0, err
	}
	copied := 0
	for _, cred := range primary.Credentials {
		result, err := r.users.UpdateOne(ctx,
			bson.M{"_id": benefactorUserID.String(), "credentials.item_id": bson.M{"$ne": cred.ItemID}},
			bson.M{"$push": bson.M{"credentials": toCredentialDocument(cred)}},
		)
		if err != nil {
			return copied, fmt.Errorf("failed to copy credential %s: %w", cred.ItemID, err)
		}
		copied += int(result.ModifiedCount)
	}
	return copied, nil
}

func (r *MongoRepository) exists(ctx context.Context, userID uuid.UUID) error {
	n, err := r.users.CountDocuments(ctx, byID(userID), options.Count().SetLimit(1))
	if err != nil {
		return fmt.Errorf("failed to look up user: %w", err)
	}
	if n == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

func toUserDocument(u *domain.User) userDocument {
	doc := userDocument{
		ID:           u.ID.String(),
		Username:     u.Username,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		Role:         string(u.Role),
		Credentials:  make([]credentialDocument, 0, len(u.Credentials)),
		Benefactors:  append([]string{}, u.Benefactors...),
		Goals:        make([]goalDocument, 0, len(u.Goals)),
		CreatedAt:    u.CreatedAt,
	}
	for _, c := range u.Credentials {
		doc.Credentials = append(doc.Credentials, toCredentialDocument(c))
	}
	for _, g := range u.Goals {
		doc.Goals = append(doc.Goals, goalDocument{Period: g.Period.String(), Amount: g.Amount.String()})
	}
	return doc
}

func toCredentialDocument(c domain.AccessCredential) credentialDocument {
	return credentialDocument{AccessToken: c.AccessToken, ItemID: c.ItemID, LinkedAt: linkedAtOrNow(c.LinkedAt)}
}

func (d userDocument) toDomain() (*domain.User, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, fmt.Errorf("stored user id %q: %w", d.ID, err)
	}
	user := &domain.User{
		ID:           id,
		Username:     d.Username,
		Email:        d.Email,
		PasswordHash: d.PasswordHash,
		Role:         domain.Role(d.Role),
		Credentials:  make([]domain.AccessCredential, 0, len(d.Credentials)),
		Benefactors:  d.Benefactors,
		Goals:        make([]domain.Goal, 0, len(d.Goals)),
		CreatedAt:    d.CreatedAt,
	}
	for _, c := range d.Credentials {
		user.Credentials = append(user.Credentials, domain.AccessCredential{
			AccessToken: c.AccessToken,
			ItemID:      c.ItemID,
			LinkedAt:    c.LinkedAt,
		})
	}
	for _, g := range d.Goals {
		period, err := domain.ParsePeriod(g.Period)
		if err != nil {
			return nil, fmt.Errorf("stored goal period %q: %v", g.Period, err)
		}
		amount, err := decimal.NewFromString(g.Amount)
		if err != nil {
			return nil, fmt.Errorf("stored goal amount %q: %w", g.Amount, err)
		}
		user.Goals = append(user.Goals, domain.Goal{Period: period, Amount: amount})
	}
	sort.Slice(user.Goals, func(i, j int) bool {
		return user.Goals[i].Period.Before(user.Goals[j].Period)
	})
	return user, nil
}
