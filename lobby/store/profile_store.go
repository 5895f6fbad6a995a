// lobby/store/profile_store.go
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/Ftotnem/duels-network/shared/models"
)

// ErrProfileNotFound is returned when no profile document matches.
var ErrProfileNotFound = errors.New("player profile not found")

// ProfileStore is the MongoDB store of player profiles, the authoritative
// copy behind the profile:<uuid> cache entries.
type ProfileStore struct {
	collection *mongo.Collection
	logger     zerolog.Logger
}

// NewProfileStore creates a new ProfileStore instance.
func NewProfileStore(collection *mongo.Collection, logger zerolog.Logger) *ProfileStore {
	return &ProfileStore{
		collection: collection,
		logger:     logger.With().Str("component", "profile_store").Logger(),
	}
}

// EnsureIndexes creates the username index used by lookups by name.
func (ps *ProfileStore) EnsureIndexes(ctx context.Context) error {
	_, err := ps.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "username", Value: 1}},
		Options: options.Index().SetName("username_1"),
	})
	if err != nil {
		return fmt.Errorf("failed to create profile indexes: %w", err)
	}
	return nil
}

// Get retrieves a profile by player uuid.
func (ps *ProfileStore) Get(ctx context.Context, uuid string) (*models.PlayerProfile, error) {
	var profile models.PlayerProfile
	err := ps.collection.FindOne(ctx, bson.M{"_id": uuid}).Decode(&profile)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%w: %s", ErrProfileNotFound, uuid)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get player profile %s: %w", uuid, err)
	}
	return &profile, nil
}

// Save inserts or replaces a profile document.
func (ps *ProfileStore) Save(ctx context.Context, profile *models.PlayerProfile) error {
	_, err := ps.collection.ReplaceOne(ctx, bson.M{"_id": profile.UUID}, profile, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to save player profile %s: %w", profile.UUID, err)
	}
	ps.logger.Debug().Str("player", profile.UUID).Msg("Saved player profile")
	return nil
}

// Touch sets the last login timestamp of an existing profile.
func (ps *ProfileStore) Touch(ctx context.Context, uuid string, at time.Time) error {
	update := bson.M{"$set": bson.M{"last_login": at.UnixMilli()}}
	res, err := ps.collection.UpdateOne(ctx, bson.M{"_id": uuid}, update)
	if err != nil {
		return fmt.Errorf("failed to update last login for player %s: %w", uuid, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: %s", ErrProfileNotFound, uuid)
	}
	return nil
}

// Incomplete returns up to limit profiles missing a username or skin.
func (ps *ProfileStore) Incomplete(ctx context.Context, limit int64) ([]models.PlayerProfile, error) {
	filter := bson.M{"$or": bson.A{
		bson.M{"username": ""},
		bson.M{"skin": ""},
	}}
	cursor, err := ps.collection.Find(ctx, filter, options.Find().SetLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to find incomplete profiles: %w", err)
	}
	defer cursor.Close(ctx)

	var profiles []models.PlayerProfile
	if err := cursor.All(ctx, &profiles); err != nil {
		return nil, fmt.Errorf("failed to decode incomplete profiles: %w", err)
	}
	return profiles, nil
}
