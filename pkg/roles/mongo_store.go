package roles

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// CollectionName is the default mongo collection for user roles.
const CollectionName = "user_roles"

// MongoStore implements Store on a mongo collection keyed by user_id.
type MongoStore struct {
	coll *mongo.Collection
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{coll: db.Collection(CollectionName)}
}

// EnsureIndexes creates the unique user_id index.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "user_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return err
}

func (s *MongoStore) SetRole(ctx context.Context, userID uuid.UUID, role Role) error {
	update := bson.M{
		"$set": bson.M{
			"role":       role,
			"updated_at": time.Now().UTC(),
		},
		"$setOnInsert": bson.M{"user_id": userID},
	}

	_, err := s.coll.UpdateOne(ctx, bson.M{"user_id": userID}, update, options.UpdateOne().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to set role for user %s: %w", userID, err)
	}
	return nil
}
