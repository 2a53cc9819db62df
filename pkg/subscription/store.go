package subscription

import (
	"context"

	"github.com/google/uuid"
)

// Filter narrows store lookups. Nil fields are ignored. CancelationNot
// excludes a cancellation type, which lets callers find subscriptions
// scheduled for end-of-period cancellation without matching immediate ones.
type Filter struct {
	UserID         *uuid.UUID
	Status         *Status
	IsActive       *bool
	Cancelation    *Cancelation
	CancelationNot *Cancelation
	CustomerID     string
	SubscriptionID string
}

// Store is the persistence boundary for subscription records.
//
// Apply must be implemented as a single atomic find-and-update with upsert so
// concurrent webhook and user-action writes for the same user cannot lose
// updates; the engine deliberately does no optimistic locking of its own.
type Store interface {
	// Find returns the first subscription matching the filter, or ErrNotFound.
	Find(ctx context.Context, f Filter) (*Subscription, error)

	// Apply atomically merges the patch into the document keyed by userID,
	// creating it when absent, and returns the updated document.
	Apply(ctx context.Context, userID uuid.UUID, p Patch) (*Subscription, error)
}
