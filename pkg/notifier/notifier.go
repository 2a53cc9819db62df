package notifier

import "context"

// EventType names a user-facing billing notification.
type EventType string

const (
	EventSubscriptionCanceled    EventType = "subscription_canceled"
	EventSubscriptionReactivated EventType = "subscription_reactivated"
	EventPlanChanged             EventType = "plan_changed"
	EventPaymentFailed           EventType = "payment_failed"
	EventRefundProcessed         EventType = "refund_processed"
)

// Notifier delivers best-effort outbound messages on subscription state
// transitions. Failures are for the caller to log, never to propagate: a
// notification must not fail the transaction it describes.
type Notifier interface {
	Notify(ctx context.Context, event EventType, email string, payload map[string]any) error
}
