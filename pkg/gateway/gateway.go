package gateway

import (
	"context"
	"encoding/json"
	"time"
)

// Subscription is the normalized view of a remote billing subscription.
type Subscription struct {
	ID                 string
	CustomerID         string
	Status             string
	PriceID            string
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	CancelAtPeriodEnd  bool
}

// Refund is the normalized view of a remote refund.
type Refund struct {
	ID       string
	Amount   int64 // smallest currency unit
	Currency string
	Status   string
}

// Event is a verified webhook event. Data holds the raw JSON of the event's
// primary object so handlers can decode only the fields they need.
type Event struct {
	ID   string
	Type string
	Data json.RawMessage
}

// PaymentGateway is the remote payment processor boundary. Calls are
// synchronous; implementations should carry bounded timeouts so a stuck
// remote call cannot block a webhook delivery indefinitely.
type PaymentGateway interface {
	// Subscription retrieves the remote subscription, or ErrResourceMissing
	// when the remote object no longer exists.
	Subscription(ctx context.Context, id string) (*Subscription, error)

	// CancelAtPeriodEnd schedules the remote subscription to cancel at the
	// end of the current billing period and returns the updated object.
	CancelAtPeriodEnd(ctx context.Context, id string) (*Subscription, error)

	// Resume clears a scheduled cancellation.
	Resume(ctx context.Context, id string) (*Subscription, error)

	// SwapPrice replaces the subscription's price item with proration enabled.
	SwapPrice(ctx context.Context, id, priceID string) (*Subscription, error)

	// Cancel terminates the remote subscription immediately.
	Cancel(ctx context.Context, id string) (*Subscription, error)

	// Refund refunds a payment. A zero amount refunds the full charge.
	Refund(ctx context.Context, paymentID string, amount int64) (*Refund, error)

	// VerifyWebhook checks the signature over the raw request body and
	// returns the parsed event, or ErrInvalidSignature.
	VerifyWebhook(payload []byte, signature string) (*Event, error)
}
