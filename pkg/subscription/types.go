package subscription

import (
	"time"

	"github.com/google/uuid"
)

// Plan identifies a billing plan. Paid plans map to a Stripe price via the
// PlanResolver; PlanFree has no remote counterpart.
type Plan string

const (
	PlanFree    Plan = "free"
	PlanMonthly Plan = "monthly"
	PlanAnnual  Plan = "annual"
	PlanPremium Plan = "premium"
)

// Status represents the current lifecycle state of a subscription.
type Status string

const (
	StatusActive     Status = "active"
	StatusCanceled   Status = "canceled"
	StatusSuspended  Status = "suspended"
	StatusTrialing   Status = "trialing"
	StatusIncomplete Status = "incomplete"
)

// Cancelation distinguishes how a subscription was (or will be) terminated.
// CancelationNone means the subscription is not canceled, or a prior
// cancellation was reverted by reactivation.
type Cancelation string

const (
	CancelationNone        Cancelation = ""
	CancelationImmediate   Cancelation = "immediate"
	CancelationEndOfPeriod Cancelation = "end_of_period"
)

// PaymentStatus tracks the outcome of the most recent payment attempt.
type PaymentStatus string

const (
	PaymentSuccess PaymentStatus = "success"
	PaymentFailed  PaymentStatus = "failed"
	PaymentPending PaymentStatus = "pending"
)

// RefundStatus tracks the outcome of the most recent refund.
type RefundStatus string

const (
	RefundNone      RefundStatus = "none"
	RefundProcessed RefundStatus = "processed"
	RefundFailed    RefundStatus = "failed"
)

// Subscription is the persisted billing record for a user. Exactly one
// document exists per UserID; all writes go through Engine.Update which
// upserts on that key.
//
// IsActive is deliberately distinct from Status: a subscription scheduled for
// end-of-period cancellation stays IsActive=true (the grace period) until its
// EndDate elapses.
type Subscription struct {
	UserID      uuid.UUID   `bson:"user_id" json:"user_id"`
	Plan        Plan        `bson:"plan" json:"plan"`
	Status      Status      `bson:"status" json:"status"`
	IsActive    bool        `bson:"is_active" json:"is_active"`
	StartDate   time.Time   `bson:"start_date" json:"start_date"`
	EndDate     *time.Time  `bson:"end_date,omitempty" json:"end_date,omitempty"`
	Cancelation Cancelation `bson:"cancelation_type,omitempty" json:"cancelation_type,omitempty"`

	// Foreign identifiers into Stripe. Empty for manually managed records.
	CustomerID     string `bson:"stripe_customer_id,omitempty" json:"stripe_customer_id,omitempty"`
	SubscriptionID string `bson:"stripe_subscription_id,omitempty" json:"stripe_subscription_id,omitempty"`
	PriceID        string `bson:"stripe_price_id,omitempty" json:"stripe_price_id,omitempty"`

	LastPaymentDate      *time.Time    `bson:"last_payment_date,omitempty" json:"last_payment_date,omitempty"`
	LastTransactionID    string        `bson:"last_transaction_id,omitempty" json:"last_transaction_id,omitempty"`
	PaymentStatus        PaymentStatus `bson:"payment_status,omitempty" json:"payment_status,omitempty"`
	PaymentFailureReason string        `bson:"payment_failure_reason,omitempty" json:"payment_failure_reason,omitempty"`
	LastFailureDate      *time.Time    `bson:"last_failure_date,omitempty" json:"last_failure_date,omitempty"`

	RefundStatus RefundStatus `bson:"refund_status,omitempty" json:"refund_status,omitempty"`
	RefundAmount float64      `bson:"refund_amount,omitempty" json:"refund_amount,omitempty"`
	RefundDate   *time.Time   `bson:"refund_date,omitempty" json:"refund_date,omitempty"`
	RefundReason string       `bson:"refund_reason,omitempty" json:"refund_reason,omitempty"`

	TotalPaid     float64 `bson:"total_paid" json:"total_paid"`
	TotalRefunded float64 `bson:"total_refunded" json:"total_refunded"`

	Email string `bson:"email,omitempty" json:"email,omitempty"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// IsGracePeriod reports whether the subscription is canceled but still
// entitled until its end date.
func (s *Subscription) IsGracePeriod() bool {
	return s.Status == StatusCanceled && s.IsActive && s.Cancelation == CancelationEndOfPeriod
}

// IsExpiredAt reports whether a canceled subscription's end date has passed.
func (s *Subscription) IsExpiredAt(now time.Time) bool {
	return s.Status == StatusCanceled && s.EndDate != nil && s.EndDate.Before(now)
}

// Snapshot is the read model returned by Engine.Current. DaysRemaining is nil
// when the subscription has no end date.
type Snapshot struct {
	Subscription
	DaysRemaining *int `json:"days_remaining,omitempty"`
}

// Patch is a partial update applied through Engine.Update. Nil pointer fields
// are left untouched in the stored document.
type Patch struct {
	Plan        *Plan
	Status      *Status
	IsActive    *bool
	StartDate   *time.Time
	EndDate     *time.Time
	Cancelation *Cancelation

	CustomerID     *string
	SubscriptionID *string
	PriceID        *string

	LastPaymentDate      *time.Time
	LastTransactionID    *string
	PaymentStatus        *PaymentStatus
	PaymentFailureReason *string
	LastFailureDate      *time.Time

	RefundStatus *RefundStatus
	RefundAmount *float64
	RefundDate   *time.Time
	RefundReason *string

	IncTotalPaid     float64
	IncTotalRefunded float64

	Email *string

	// UpdateUserRole asks Update to re-derive the user's entitlement role from
	// the resulting (status, is_active) pair. Transitions that keep the
	// effective entitlement unchanged must leave this false.
	UpdateUserRole bool
}

// CancelResult is returned by CancelAtPeriodEnd.
type CancelResult struct {
	Subscription  *Subscription `json:"subscription"`
	EndDate       time.Time     `json:"end_date"`
	DaysRemaining int           `json:"days_remaining"`
}

// PlanChange is returned by ChangePlan.
type PlanChange struct {
	OldPlan         Plan      `json:"old_plan"`
	NewPlan         Plan      `json:"new_plan"`
	EffectiveDate   time.Time `json:"effective_date"`
	EndDate         time.Time `json:"end_date"`
	ProrationAmount float64   `json:"proration_amount"` // negative values are credits
}

// PaymentInfo carries the fields recorded on a successful payment.
type PaymentInfo struct {
	TransactionID string  `json:"transaction_id"`
	Amount        float64 `json:"amount"`
	Currency      string  `json:"currency"`
}
