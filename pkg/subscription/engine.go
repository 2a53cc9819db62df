package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/paykit/subsvc/pkg/gateway"
	"github.com/paykit/subsvc/pkg/logger"
	"github.com/paykit/subsvc/pkg/notifier"
	"github.com/paykit/subsvc/pkg/roles"
)

// Engine owns every subscription state transition. It reconciles the local
// store with the remote gateway: user actions confirm with the remote side
// before persisting, webhook events adopt remote state into the store.
//
// Remote calls inside user actions fail loudly - an unexplained gateway error
// aborts the operation rather than silently canceling locally. The only
// recoverable remote failure is gateway.ErrResourceMissing, which falls back
// to a locally computed period end.
type Engine struct {
	store    Store
	gw       gateway.PaymentGateway
	plans    *PlanResolver
	roles    roles.Store
	notifier notifier.Notifier
	log      *slog.Logger
	now      func() time.Time
}

// EngineOption configures optional Engine settings.
type EngineOption func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(log *slog.Logger) EngineOption {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// WithClock overrides the time source, used by tests for fixed dates.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine creates the reconciliation engine. Required dependencies are
// enforced with panics to fail fast on wiring mistakes.
func NewEngine(store Store, gw gateway.PaymentGateway, plans *PlanResolver, roleStore roles.Store, n notifier.Notifier, opts ...EngineOption) *Engine {
	if store == nil {
		panic("subscription: Store is required")
	}
	if gw == nil {
		panic("subscription: PaymentGateway is required")
	}
	if plans == nil {
		panic("subscription: PlanResolver is required")
	}
	if roleStore == nil {
		panic("subscription: roles.Store is required")
	}
	if n == nil {
		panic("subscription: Notifier is required")
	}

	e := &Engine{
		store:    store,
		gw:       gw,
		plans:    plans,
		roles:    roleStore,
		notifier: n,
		log:      slog.Default(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Update is the single write path for subscription records. It sanitizes the
// end date, merges the patch atomically, enforces the expiry invariant at the
// write boundary, and optionally re-derives the user's role.
func (e *Engine) Update(ctx context.Context, userID uuid.UUID, p Patch) (*Subscription, error) {
	// Never persist a zero end date; a malformed value is dropped, not stored.
	if p.EndDate != nil && p.EndDate.IsZero() {
		p.EndDate = nil
	}

	sub, err := e.store.Apply(ctx, userID, p)
	if err != nil {
		return nil, err
	}

	// Canceled and past its end date means the grace period is over; the
	// entitlement flag must reflect that no matter which path wrote first.
	if sub.IsActive && sub.IsExpiredAt(e.now()) {
		inactive := false
		sub, err = e.store.Apply(ctx, userID, Patch{IsActive: &inactive})
		if err != nil {
			return nil, err
		}
	}

	if p.UpdateUserRole {
		if err := e.syncRole(ctx, sub); err != nil {
			return nil, err
		}
	}

	return sub, nil
}

// syncRole applies the single role invariant: elevated while active and
// entitled, revoked once canceled and expired. Every other combination keeps
// the current role, so scheduling a future cancellation never downgrades.
func (e *Engine) syncRole(ctx context.Context, sub *Subscription) error {
	var role roles.Role
	switch {
	case sub.Status == StatusActive && sub.IsActive:
		role = roles.RolePremium
	case sub.Status == StatusCanceled && !sub.IsActive:
		role = roles.RoleUser
	default:
		return nil
	}

	if err := e.roles.SetRole(ctx, sub.UserID, role); err != nil {
		return fmt.Errorf("failed to sync role for user %s: %w", sub.UserID, err)
	}
	return nil
}

// Current returns the user's subscription with derived days remaining, or
// nil (not an error) when no record exists.
func (e *Engine) Current(ctx context.Context, userID uuid.UUID) (*Snapshot, error) {
	sub, err := e.store.Find(ctx, Filter{UserID: &userID})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	snap := &Snapshot{Subscription: *sub}
	if sub.EndDate != nil {
		days := DaysRemaining(*sub.EndDate, e.now())
		snap.DaysRemaining = &days
	}
	return snap, nil
}

// CancelAtPeriodEnd schedules the user's subscription to cancel when the
// current billing period ends. The user keeps the entitlement through the
// grace period, so the role is left untouched.
func (e *Engine) CancelAtPeriodEnd(ctx context.Context, userID uuid.UUID) (*CancelResult, error) {
	now := e.now()

	active, err := e.findCancelable(ctx, userID)
	if err != nil {
		return nil, err
	}

	endDate, err := e.resolveCancelEndDate(ctx, active, now)
	if err != nil {
		return nil, err
	}

	status := StatusCanceled
	isActive := true
	cancelation := CancelationEndOfPeriod
	sub, err := e.Update(ctx, userID, Patch{
		Status:      &status,
		IsActive:    &isActive,
		Cancelation: &cancelation,
		EndDate:     &endDate,
	})
	if err != nil {
		return nil, err
	}

	e.notify(ctx, notifier.EventSubscriptionCanceled, sub.Email, map[string]any{
		"end_date": endDate.Format(time.RFC3339),
		"plan":     sub.Plan,
	})

	return &CancelResult{
		Subscription:  sub,
		EndDate:       endDate,
		DaysRemaining: DaysRemaining(endDate, now),
	}, nil
}

// findCancelable locates an active subscription, or explains precisely why
// there is nothing to cancel. The guards are no-ops, not remote calls.
func (e *Engine) findCancelable(ctx context.Context, userID uuid.UUID) (*Subscription, error) {
	statusActive := StatusActive
	active := true
	sub, err := e.store.Find(ctx, Filter{UserID: &userID, Status: &statusActive, IsActive: &active})
	if err == nil {
		return sub, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	statusCanceled := StatusCanceled
	immediate := CancelationImmediate
	scheduled, err := e.store.Find(ctx, Filter{
		UserID:         &userID,
		Status:         &statusCanceled,
		IsActive:       &active,
		CancelationNot: &immediate,
	})
	if err == nil {
		var end time.Time
		if scheduled.EndDate != nil {
			end = *scheduled.EndDate
		}
		return nil, &AlreadyScheduledError{EndDate: end}
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	inactive := false
	if _, err := e.store.Find(ctx, Filter{UserID: &userID, Status: &statusCanceled, IsActive: &inactive}); err == nil {
		return nil, ErrAlreadyExpired
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	return nil, ErrNothingToCancel
}

// resolveCancelEndDate determines the canonical end date for a scheduled
// cancellation, preferring the remote period end when a remote subscription
// exists.
func (e *Engine) resolveCancelEndDate(ctx context.Context, sub *Subscription, now time.Time) (time.Time, error) {
	if sub.SubscriptionID == "" {
		return PeriodEnd(sub.Plan, now), nil
	}

	remote, err := e.gw.Subscription(ctx, sub.SubscriptionID)
	switch {
	case err == nil && remote.CancelAtPeriodEnd:
		// The remote side already has the cancellation scheduled; adopt its
		// period end instead of re-issuing the update.
		return remote.CurrentPeriodEnd, nil
	case err == nil:
		updated, uerr := e.gw.CancelAtPeriodEnd(ctx, sub.SubscriptionID)
		if uerr != nil {
			if errors.Is(uerr, gateway.ErrResourceMissing) {
				return PeriodEnd(sub.Plan, now), nil
			}
			return time.Time{}, uerr
		}
		return updated.CurrentPeriodEnd, nil
	case errors.Is(err, gateway.ErrResourceMissing):
		e.log.WarnContext(ctx, "remote subscription gone, using local period end",
			logger.SubscriptionID(sub.SubscriptionID),
			logger.UserID(sub.UserID))
		return PeriodEnd(sub.Plan, now), nil
	default:
		return time.Time{}, err
	}
}

// Reactivate reverts a scheduled end-of-period cancellation. Immediate
// cancellations and expired subscriptions cannot be reactivated.
func (e *Engine) Reactivate(ctx context.Context, userID uuid.UUID) (*Subscription, error) {
	statusCanceled := StatusCanceled
	isActive := true
	endOfPeriod := CancelationEndOfPeriod
	sub, err := e.store.Find(ctx, Filter{
		UserID:      &userID,
		Status:      &statusCanceled,
		IsActive:    &isActive,
		Cancelation: &endOfPeriod,
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotReactivable
		}
		return nil, err
	}

	if sub.SubscriptionID != "" {
		if _, err := e.gw.Resume(ctx, sub.SubscriptionID); err != nil {
			return nil, err
		}
	}

	statusActive := StatusActive
	active := true
	none := CancelationNone
	updated, err := e.Update(ctx, userID, Patch{
		Status:         &statusActive,
		IsActive:       &active,
		Cancelation:    &none,
		UpdateUserRole: true,
	})
	if err != nil {
		return nil, err
	}

	e.notify(ctx, notifier.EventSubscriptionReactivated, updated.Email, map[string]any{
		"plan": updated.Plan,
	})

	return updated, nil
}

// ChangePlan switches an active subscription to a different plan, swapping
// the remote price with proration when a remote subscription exists. The
// returned proration amount is a flat-price estimate, not the gateway's
// authoritative proration invoice.
func (e *Engine) ChangePlan(ctx context.Context, userID uuid.UUID, newPlan Plan) (*PlanChange, error) {
	if !ValidPlan(newPlan) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPlan, newPlan)
	}

	statusActive := StatusActive
	active := true
	sub, err := e.store.Find(ctx, Filter{UserID: &userID, Status: &statusActive, IsActive: &active})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotActive
		}
		return nil, err
	}

	if sub.Plan == newPlan {
		return nil, ErrSamePlan
	}

	now := e.now()
	endDate := PeriodEnd(newPlan, now)

	patch := Patch{
		Plan:    &newPlan,
		EndDate: &endDate,
	}

	var proration float64
	if sub.SubscriptionID != "" {
		priceID, err := e.plans.PriceForPlan(newPlan)
		if err != nil {
			return nil, err
		}
		if _, err := e.gw.SwapPrice(ctx, sub.SubscriptionID, priceID); err != nil {
			return nil, err
		}
		proration = ProrationEstimate(sub.Plan, newPlan)
		patch.PriceID = &priceID
	}

	updated, err := e.Update(ctx, userID, patch)
	if err != nil {
		return nil, err
	}

	e.notify(ctx, notifier.EventPlanChanged, updated.Email, map[string]any{
		"old_plan": sub.Plan,
		"new_plan": newPlan,
	})

	return &PlanChange{
		OldPlan:         sub.Plan,
		NewPlan:         newPlan,
		EffectiveDate:   now,
		EndDate:         endDate,
		ProrationAmount: proration,
	}, nil
}

// RecordPayment records a successful payment. Pure data recording, no remote
// calls.
func (e *Engine) RecordPayment(ctx context.Context, userID uuid.UUID, info PaymentInfo) (*Subscription, error) {
	now := e.now()
	status := PaymentSuccess
	return e.Update(ctx, userID, Patch{
		LastPaymentDate:   &now,
		LastTransactionID: &info.TransactionID,
		PaymentStatus:     &status,
		IncTotalPaid:      info.Amount,
	})
}

// RecordFailure records a failed payment attempt.
func (e *Engine) RecordFailure(ctx context.Context, userID uuid.UUID, reason string) (*Subscription, error) {
	now := e.now()
	status := PaymentFailed
	return e.Update(ctx, userID, Patch{
		PaymentStatus:        &status,
		PaymentFailureReason: &reason,
		LastFailureDate:      &now,
	})
}

// RefundAndCancel refunds the last recorded payment and terminates the
// subscription immediately, revoking the entitlement.
func (e *Engine) RefundAndCancel(ctx context.Context, userID uuid.UUID, reason string) (*Subscription, error) {
	sub, err := e.store.Find(ctx, Filter{UserID: &userID})
	if err != nil {
		return nil, err
	}
	if sub.LastTransactionID == "" {
		return nil, ErrNothingToRefund
	}

	refund, err := e.gw.Refund(ctx, sub.LastTransactionID, 0)
	if err != nil {
		failed := RefundFailed
		if _, perr := e.Update(ctx, userID, Patch{RefundStatus: &failed, RefundReason: &reason}); perr != nil {
			e.log.ErrorContext(ctx, "failed to record refund failure",
				logger.UserID(userID), logger.Error(perr))
		}
		return nil, err
	}

	if sub.SubscriptionID != "" {
		if _, err := e.gw.Cancel(ctx, sub.SubscriptionID); err != nil && !errors.Is(err, gateway.ErrResourceMissing) {
			return nil, err
		}
	}

	now := e.now()
	amount := float64(refund.Amount) / 100

	status := StatusCanceled
	inactive := false
	immediate := CancelationImmediate
	processed := RefundProcessed
	updated, err := e.Update(ctx, userID, Patch{
		Status:           &status,
		IsActive:         &inactive,
		Cancelation:      &immediate,
		EndDate:          &now,
		RefundStatus:     &processed,
		RefundAmount:     &amount,
		RefundDate:       &now,
		RefundReason:     &reason,
		IncTotalRefunded: amount,
		UpdateUserRole:   true,
	})
	if err != nil {
		return nil, err
	}

	e.notify(ctx, notifier.EventRefundProcessed, updated.Email, map[string]any{
		"amount": amount,
	})

	return updated, nil
}

// UserIDByCustomer resolves the internal user owning a Stripe customer.
// Returns uuid.Nil with no error when no local subscription references the
// customer; webhook callers treat that as "ignore event".
func (e *Engine) UserIDByCustomer(ctx context.Context, customerID string) (uuid.UUID, error) {
	if customerID == "" {
		return uuid.Nil, nil
	}
	sub, err := e.store.Find(ctx, Filter{CustomerID: customerID})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return uuid.Nil, nil
		}
		return uuid.Nil, err
	}
	return sub.UserID, nil
}

// PlanForPrice exposes the resolver mapping for webhook handlers.
func (e *Engine) PlanForPrice(priceID string) Plan {
	return e.plans.PlanForPrice(priceID)
}

// CheckoutParams carries the fields of a completed checkout session.
type CheckoutParams struct {
	UserID         uuid.UUID
	Plan           Plan
	CustomerID     string
	SubscriptionID string
	PriceID        string
	Email          string
}

// CompleteCheckout upserts the subscription created by a successful checkout.
// Re-delivery of the same session produces the same record.
func (e *Engine) CompleteCheckout(ctx context.Context, params CheckoutParams) (*Subscription, error) {
	now := e.now()
	endDate := PeriodEnd(params.Plan, now)

	status := StatusActive
	active := true
	none := CancelationNone
	return e.Update(ctx, params.UserID, Patch{
		Plan:           &params.Plan,
		Status:         &status,
		IsActive:       &active,
		StartDate:      &now,
		EndDate:        &endDate,
		Cancelation:    &none,
		CustomerID:     &params.CustomerID,
		SubscriptionID: &params.SubscriptionID,
		PriceID:        &params.PriceID,
		Email:          &params.Email,
		UpdateUserRole: true,
	})
}

// ApplyRemoteState reconciles the local record with the gateway's view of a
// subscription, per the transition table. Re-applying the same remote state
// is a no-op beyond the updated_at stamp.
func (e *Engine) ApplyRemoteState(ctx context.Context, userID uuid.UUID, remote *gateway.Subscription) (*Subscription, error) {
	patch := Patch{
		SubscriptionID: &remote.ID,
	}
	if remote.CustomerID != "" {
		patch.CustomerID = &remote.CustomerID
	}
	if remote.PriceID != "" {
		plan := e.plans.PlanForPrice(remote.PriceID)
		patch.PriceID = &remote.PriceID
		patch.Plan = &plan
	}
	if !remote.CurrentPeriodEnd.IsZero() {
		end := remote.CurrentPeriodEnd
		patch.EndDate = &end
	}

	active := true
	inactive := false
	none := CancelationNone
	endOfPeriod := CancelationEndOfPeriod

	switch {
	case remote.CancelAtPeriodEnd:
		// Remote reports a scheduled cancellation: grace period locally, no
		// role change since the entitlement is unchanged until expiry.
		status := StatusCanceled
		patch.Status = &status
		patch.IsActive = &active
		patch.Cancelation = &endOfPeriod

	case remote.Status == "active" || remote.Status == "trialing":
		status := StatusActive
		if remote.Status == "trialing" {
			status = StatusTrialing
		}
		patch.Status = &status
		patch.IsActive = &active
		patch.Cancelation = &none
		patch.UpdateUserRole = true

	case remote.Status == "canceled" || remote.Status == "unpaid" || remote.Status == "incomplete_expired":
		status := StatusCanceled
		patch.Status = &status
		patch.IsActive = &inactive
		patch.UpdateUserRole = true

	case remote.Status == "past_due":
		status := StatusSuspended
		patch.Status = &status

	default:
		status := StatusIncomplete
		patch.Status = &status
	}

	return e.Update(ctx, userID, patch)
}

// RemoteDeleted forces the local record into a terminal canceled state when
// the gateway reports the subscription deleted.
func (e *Engine) RemoteDeleted(ctx context.Context, userID uuid.UUID) (*Subscription, error) {
	now := e.now()
	status := StatusCanceled
	inactive := false
	return e.Update(ctx, userID, Patch{
		Status:         &status,
		IsActive:       &inactive,
		EndDate:        &now,
		UpdateUserRole: true,
	})
}

// NotifyPaymentFailed sends the best-effort payment failure notification.
func (e *Engine) NotifyPaymentFailed(ctx context.Context, email, reason string) {
	e.notify(ctx, notifier.EventPaymentFailed, email, map[string]any{"reason": reason})
}

// notify isolates notifier failures so they never mask the primary
// operation's outcome.
func (e *Engine) notify(ctx context.Context, event notifier.EventType, email string, payload map[string]any) {
	if err := e.notifier.Notify(ctx, event, email, payload); err != nil {
		e.log.ErrorContext(ctx, "notification failed",
			logger.EventType(string(event)),
			logger.Error(err))
	}
}
