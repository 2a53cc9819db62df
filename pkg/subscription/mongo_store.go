package subscription

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// CollectionName is the default mongo collection for subscription records.
const CollectionName = "subscriptions"

// MongoStore implements Store on a mongo collection. All writes go through
// FindOneAndUpdate with upsert, which serializes conflicting writes to the
// same user_id on the database side.
type MongoStore struct {
	coll *mongo.Collection
}

// NewMongoStore wraps the given database's subscriptions collection.
func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{coll: db.Collection(CollectionName)}
}

// EnsureIndexes creates the unique user_id index and the secondary index on
// the Stripe foreign identifiers used by webhook reverse lookups.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{
				{Key: "stripe_customer_id", Value: 1},
				{Key: "stripe_subscription_id", Value: 1},
			},
		},
	})
	return err
}

func (s *MongoStore) Find(ctx context.Context, f Filter) (*Subscription, error) {
	var sub Subscription
	err := s.coll.FindOne(ctx, filterDoc(f)).Decode(&sub)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, errors.Join(ErrPersistFailed, err)
	}
	return &sub, nil
}

func (s *MongoStore) Apply(ctx context.Context, userID uuid.UUID, p Patch) (*Subscription, error) {
	update := updateDoc(userID, p)

	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var sub Subscription
	err := s.coll.FindOneAndUpdate(ctx, bson.M{"user_id": userID}, update, opts).Decode(&sub)
	if err != nil {
		return nil, errors.Join(ErrPersistFailed, err)
	}
	return &sub, nil
}

func filterDoc(f Filter) bson.M {
	doc := bson.M{}
	if f.UserID != nil {
		doc["user_id"] = *f.UserID
	}
	if f.Status != nil {
		doc["status"] = *f.Status
	}
	if f.IsActive != nil {
		doc["is_active"] = *f.IsActive
	}
	if f.Cancelation != nil {
		doc["cancelation_type"] = *f.Cancelation
	}
	if f.CancelationNot != nil {
		doc["cancelation_type"] = bson.M{"$ne": *f.CancelationNot}
	}
	if f.CustomerID != "" {
		doc["stripe_customer_id"] = f.CustomerID
	}
	if f.SubscriptionID != "" {
		doc["stripe_subscription_id"] = f.SubscriptionID
	}
	return doc
}

func updateDoc(userID uuid.UUID, p Patch) bson.M {
	set := bson.M{}

	setField(set, "plan", p.Plan)
	setField(set, "status", p.Status)
	setField(set, "is_active", p.IsActive)
	setField(set, "start_date", p.StartDate)
	setField(set, "cancelation_type", p.Cancelation)
	setField(set, "stripe_customer_id", p.CustomerID)
	setField(set, "stripe_subscription_id", p.SubscriptionID)
	setField(set, "stripe_price_id", p.PriceID)
	setField(set, "last_payment_date", p.LastPaymentDate)
	setField(set, "last_transaction_id", p.LastTransactionID)
	setField(set, "payment_status", p.PaymentStatus)
	setField(set, "payment_failure_reason", p.PaymentFailureReason)
	setField(set, "last_failure_date", p.LastFailureDate)
	setField(set, "refund_status", p.RefundStatus)
	setField(set, "refund_amount", p.RefundAmount)
	setField(set, "refund_date", p.RefundDate)
	setField(set, "refund_reason", p.RefundReason)
	setField(set, "email", p.Email)

	// EndDate is sanitized by the engine before it reaches the store; a nil
	// pointer here means "leave untouched", never "clear".
	if p.EndDate != nil {
		set["end_date"] = *p.EndDate
	}

	now := time.Now().UTC()
	set["updated_at"] = now

	update := bson.M{
		"$set": set,
		"$setOnInsert": bson.M{
			"user_id":    userID,
			"created_at": now,
		},
	}

	inc := bson.M{}
	if p.IncTotalPaid != 0 {
		inc["total_paid"] = p.IncTotalPaid
	}
	if p.IncTotalRefunded != 0 {
		inc["total_refunded"] = p.IncTotalRefunded
	}
	if len(inc) > 0 {
		update["$inc"] = inc
	}

	return update
}

func setField[T any](doc bson.M, key string, v *T) {
	if v != nil {
		doc[key] = *v
	}
}
