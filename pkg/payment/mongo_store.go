package payment

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const (
	PaymentsCollection = "payments"
	InvoicesCollection = "invoices"
)

// MongoStore implements Store on two mongo collections keyed by remote_id.
type MongoStore struct {
	payments *mongo.Collection
	invoices *mongo.Collection
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{
		payments: db.Collection(PaymentsCollection),
		invoices: db.Collection(InvoicesCollection),
	}
}

// EnsureIndexes creates the unique remote_id indexes.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	idx := mongo.IndexModel{
		Keys:    bson.D{{Key: "remote_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	if _, err := s.payments.Indexes().CreateOne(ctx, idx); err != nil {
		return err
	}
	_, err := s.invoices.Indexes().CreateOne(ctx, idx)
	return err
}

func (s *MongoStore) UpsertPayment(ctx context.Context, p Payment) error {
	return s.upsert(ctx, s.payments, p.RemoteID, bson.M{
		"user_id":            p.UserID,
		"stripe_customer_id": p.CustomerID,
		"amount":             p.Amount,
		"currency":           p.Currency,
		"status":             p.Status,
	})
}

func (s *MongoStore) UpsertInvoice(ctx context.Context, inv Invoice) error {
	set := bson.M{
		"user_id":            inv.UserID,
		"stripe_customer_id": inv.CustomerID,
		"amount_due":         inv.AmountDue,
		"amount_paid":        inv.AmountPaid,
		"currency":           inv.Currency,
		"status":             inv.Status,
	}
	if inv.PaidAt != nil {
		set["paid_at"] = *inv.PaidAt
	}
	return s.upsert(ctx, s.invoices, inv.RemoteID, set)
}

func (s *MongoStore) upsert(ctx context.Context, coll *mongo.Collection, remoteID string, set bson.M) error {
	now := time.Now().UTC()
	set["updated_at"] = now

	_, err := coll.UpdateOne(ctx,
		bson.M{"remote_id": remoteID},
		bson.M{
			"$set": set,
			"$setOnInsert": bson.M{
				"remote_id":  remoteID,
				"created_at": now,
			},
		},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return errors.Join(ErrPersistFailed, err)
	}
	return nil
}
