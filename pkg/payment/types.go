package payment

import (
	"time"

	"github.com/google/uuid"
)

// PaymentStatus mirrors the remote payment object's state.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentSucceeded PaymentStatus = "succeeded"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefunded  PaymentStatus = "refunded"
	PaymentCanceled  PaymentStatus = "canceled"
)

// InvoiceStatus mirrors the remote invoice object's state.
type InvoiceStatus string

const (
	InvoiceDraft         InvoiceStatus = "draft"
	InvoiceOpen          InvoiceStatus = "open"
	InvoicePaid          InvoiceStatus = "paid"
	InvoiceUncollectible InvoiceStatus = "uncollectible"
	InvoiceVoid          InvoiceStatus = "void"
)

// Payment mirrors a remote payment 1:1, keyed by the remote payment ID.
type Payment struct {
	RemoteID   string        `bson:"remote_id" json:"remote_id"`
	UserID     uuid.UUID     `bson:"user_id" json:"user_id"`
	CustomerID string        `bson:"stripe_customer_id,omitempty" json:"stripe_customer_id,omitempty"`
	Amount     float64       `bson:"amount" json:"amount"`
	Currency   string        `bson:"currency" json:"currency"`
	Status     PaymentStatus `bson:"status" json:"status"`
	CreatedAt  time.Time     `bson:"created_at" json:"created_at"`
	UpdatedAt  time.Time     `bson:"updated_at" json:"updated_at"`
}

// Invoice mirrors a remote invoice 1:1, keyed by the remote invoice ID.
type Invoice struct {
	RemoteID   string        `bson:"remote_id" json:"remote_id"`
	UserID     uuid.UUID     `bson:"user_id" json:"user_id"`
	CustomerID string        `bson:"stripe_customer_id,omitempty" json:"stripe_customer_id,omitempty"`
	AmountDue  float64       `bson:"amount_due" json:"amount_due"`
	AmountPaid float64       `bson:"amount_paid" json:"amount_paid"`
	Currency   string        `bson:"currency" json:"currency"`
	Status     InvoiceStatus `bson:"status" json:"status"`
	PaidAt     *time.Time    `bson:"paid_at,omitempty" json:"paid_at,omitempty"`
	CreatedAt  time.Time     `bson:"created_at" json:"created_at"`
	UpdatedAt  time.Time     `bson:"updated_at" json:"updated_at"`
}
