package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/paykit/subsvc/pkg/gateway"
	"github.com/paykit/subsvc/pkg/logger"
	"github.com/paykit/subsvc/pkg/payment"
	"github.com/paykit/subsvc/pkg/subscription"
)

// Stripe event types the service acts on. Everything else is acknowledged
// without side effects.
const (
	EventCheckoutCompleted   = "checkout.session.completed"
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"
	EventInvoicePaid         = "invoice.paid"
	EventInvoiceSucceeded    = "invoice.payment_succeeded"
	EventInvoiceFailed       = "invoice.payment_failed"
)

// Handlers maps verified Stripe events onto engine operations. Every handler
// is idempotent: redelivery by Stripe is the only retry mechanism, so
// re-applying the same remote state must converge on the same local record.
type Handlers struct {
	engine   *subscription.Engine
	payments payment.Store
	log      *slog.Logger
}

func NewHandlers(engine *subscription.Engine, payments payment.Store, log *slog.Logger) *Handlers {
	if engine == nil {
		panic("webhook: subscription engine is required")
	}
	if payments == nil {
		panic("webhook: payment store is required")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Handlers{engine: engine, payments: payments, log: log}
}

// Register wires the event routes into a dispatcher.
func (h *Handlers) Register(d *Dispatcher) *Dispatcher {
	return d.
		On(EventCheckoutCompleted, h.onCheckoutCompleted).
		On(EventSubscriptionUpdated, h.onSubscriptionUpdated).
		On(EventSubscriptionDeleted, h.onSubscriptionDeleted).
		On(EventInvoicePaid, h.onInvoicePaid).
		On(EventInvoiceSucceeded, h.onInvoicePaid).
		On(EventInvoiceFailed, h.onInvoiceFailed)
}

// checkoutSession is the slice of a Stripe checkout session we act on.
// Stripe sends customer and subscription as plain ID strings in webhooks.
type checkoutSession struct {
	Customer      string            `json:"customer"`
	Subscription  string            `json:"subscription"`
	CustomerEmail string            `json:"customer_email"`
	Metadata      map[string]string `json:"metadata"`
}

// remoteSubscription is the slice of a Stripe subscription we act on.
type remoteSubscription struct {
	ID                 string            `json:"id"`
	Customer           string            `json:"customer"`
	Status             string            `json:"status"`
	CancelAtPeriodEnd  bool              `json:"cancel_at_period_end"`
	CurrentPeriodStart int64             `json:"current_period_start"`
	CurrentPeriodEnd   int64             `json:"current_period_end"`
	Metadata           map[string]string `json:"metadata"`
	Items              struct {
		Data []struct {
			Price struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

func (s *remoteSubscription) normalize() *gateway.Subscription {
	out := &gateway.Subscription{
		ID:                s.ID,
		CustomerID:        s.Customer,
		Status:            s.Status,
		CancelAtPeriodEnd: s.CancelAtPeriodEnd,
	}
	if s.CurrentPeriodStart > 0 {
		out.CurrentPeriodStart = time.Unix(s.CurrentPeriodStart, 0).UTC()
	}
	if s.CurrentPeriodEnd > 0 {
		out.CurrentPeriodEnd = time.Unix(s.CurrentPeriodEnd, 0).UTC()
	}
	if len(s.Items.Data) > 0 {
		out.PriceID = s.Items.Data[0].Price.ID
	}
	return out
}

// remoteInvoice is the slice of a Stripe invoice we act on.
type remoteInvoice struct {
	ID            string `json:"id"`
	Customer      string `json:"customer"`
	CustomerEmail string `json:"customer_email"`
	Status        string `json:"status"`
	AmountDue     int64  `json:"amount_due"`
	AmountPaid    int64  `json:"amount_paid"`
	Currency      string `json:"currency"`
	PaymentIntent string `json:"payment_intent"`
}

func (h *Handlers) onCheckoutCompleted(r *http.Request, event *gateway.Event) error {
	var session checkoutSession
	if err := json.Unmarshal(event.Data, &session); err != nil {
		return fmt.Errorf("failed to decode checkout session: %w", err)
	}

	userID, err := uuid.Parse(session.Metadata["user_id"])
	if err != nil {
		// Checkout sessions created outside this service carry no user id;
		// nothing local to create for them.
		h.log.WarnContext(r.Context(), "checkout session without valid user_id metadata",
			slog.String("event_id", event.ID))
		return nil
	}

	plan := subscription.Plan(session.Metadata["plan"])
	if !subscription.ValidPlan(plan) {
		plan = subscription.PlanPremium
		h.log.WarnContext(r.Context(), "checkout session with unknown plan, defaulting",
			slog.String("event_id", event.ID),
			logger.Plan(session.Metadata["plan"]))
	}

	_, err = h.engine.CompleteCheckout(r.Context(), subscription.CheckoutParams{
		UserID:         userID,
		Plan:           plan,
		CustomerID:     session.Customer,
		SubscriptionID: session.Subscription,
		Email:          session.CustomerEmail,
	})
	return err
}

func (h *Handlers) onSubscriptionUpdated(r *http.Request, event *gateway.Event) error {
	var remote remoteSubscription
	if err := json.Unmarshal(event.Data, &remote); err != nil {
		return fmt.Errorf("failed to decode subscription: %w", err)
	}

	userID, err := h.resolveUser(r.Context(), remote.Metadata, remote.Customer)
	if err != nil {
		return err
	}
	if userID == uuid.Nil {
		h.log.DebugContext(r.Context(), "subscription event for unknown customer, ignoring",
			logger.CustomerID(remote.Customer),
			slog.String("event_id", event.ID))
		return nil
	}

	_, err = h.engine.ApplyRemoteState(r.Context(), userID, remote.normalize())
	return err
}

func (h *Handlers) onSubscriptionDeleted(r *http.Request, event *gateway.Event) error {
	var remote remoteSubscription
	if err := json.Unmarshal(event.Data, &remote); err != nil {
		return fmt.Errorf("failed to decode subscription: %w", err)
	}

	userID, err := h.resolveUser(r.Context(), remote.Metadata, remote.Customer)
	if err != nil {
		return err
	}
	if userID == uuid.Nil {
		return nil
	}

	_, err = h.engine.RemoteDeleted(r.Context(), userID)
	return err
}

func (h *Handlers) onInvoicePaid(r *http.Request, event *gateway.Event) error {
	var inv remoteInvoice
	if err := json.Unmarshal(event.Data, &inv); err != nil {
		return fmt.Errorf("failed to decode invoice: %w", err)
	}

	userID, err := h.engine.UserIDByCustomer(r.Context(), inv.Customer)
	if err != nil {
		return err
	}
	if userID == uuid.Nil {
		return nil
	}

	transactionID := inv.PaymentIntent
	if transactionID == "" {
		transactionID = inv.ID
	}
	amount := float64(inv.AmountPaid) / 100

	if _, err := h.engine.RecordPayment(r.Context(), userID, subscription.PaymentInfo{
		TransactionID: transactionID,
		Amount:        amount,
		Currency:      inv.Currency,
	}); err != nil {
		return err
	}

	h.mirrorInvoice(r.Context(), userID, inv)

	if inv.PaymentIntent != "" {
		if err := h.payments.UpsertPayment(r.Context(), payment.Payment{
			RemoteID:   inv.PaymentIntent,
			UserID:     userID,
			CustomerID: inv.Customer,
			Amount:     amount,
			Currency:   inv.Currency,
			Status:     payment.PaymentSucceeded,
		}); err != nil {
			h.log.ErrorContext(r.Context(), "failed to mirror payment",
				slog.String("remote_id", inv.PaymentIntent), logger.Error(err))
		}
	}

	return nil
}

func (h *Handlers) onInvoiceFailed(r *http.Request, event *gateway.Event) error {
	var inv remoteInvoice
	if err := json.Unmarshal(event.Data, &inv); err != nil {
		return fmt.Errorf("failed to decode invoice: %w", err)
	}

	userID, err := h.engine.UserIDByCustomer(r.Context(), inv.Customer)
	if err != nil {
		return err
	}
	if userID == uuid.Nil {
		// Stripe can reference customers before any local record exists;
		// acknowledge and move on.
		return nil
	}

	reason := fmt.Sprintf("invoice %s payment failed", inv.ID)
	if _, err := h.engine.RecordFailure(r.Context(), userID, reason); err != nil {
		return err
	}

	h.mirrorInvoice(r.Context(), userID, inv)
	h.engine.NotifyPaymentFailed(r.Context(), inv.CustomerEmail, reason)
	return nil
}

// resolveUser prefers the user_id the checkout flow stamped into metadata,
// falling back to the customer reverse lookup. uuid.Nil means "ignore event".
func (h *Handlers) resolveUser(ctx context.Context, metadata map[string]string, customerID string) (uuid.UUID, error) {
	if raw, ok := metadata["user_id"]; ok {
		if userID, err := uuid.Parse(raw); err == nil {
			return userID, nil
		}
	}
	return h.engine.UserIDByCustomer(ctx, customerID)
}

func (h *Handlers) mirrorInvoice(ctx context.Context, userID uuid.UUID, inv remoteInvoice) {
	status := payment.InvoiceStatus(inv.Status)
	switch status {
	case payment.InvoiceDraft, payment.InvoiceOpen, payment.InvoicePaid,
		payment.InvoiceUncollectible, payment.InvoiceVoid:
	default:
		status = payment.InvoiceOpen
	}

	record := payment.Invoice{
		RemoteID:   inv.ID,
		UserID:     userID,
		CustomerID: inv.Customer,
		AmountDue:  float64(inv.AmountDue) / 100,
		AmountPaid: float64(inv.AmountPaid) / 100,
		Currency:   inv.Currency,
		Status:     status,
	}
	if status == payment.InvoicePaid {
		now := time.Now().UTC()
		record.PaidAt = &now
	}

	if err := h.payments.UpsertInvoice(ctx, record); err != nil {
		h.log.ErrorContext(ctx, "failed to mirror invoice",
			slog.String("remote_id", inv.ID), logger.Error(err))
	}
}
