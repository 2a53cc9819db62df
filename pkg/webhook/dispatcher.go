package webhook

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/paykit/subsvc/pkg/gateway"
	"github.com/paykit/subsvc/pkg/logger"
)

// SignatureHeader is the header Stripe signs the raw body into.
const SignatureHeader = "Stripe-Signature"

// Verifier checks webhook authenticity. Satisfied by gateway.PaymentGateway.
type Verifier interface {
	VerifyWebhook(payload []byte, signature string) (*gateway.Event, error)
}

// Dispatcher routes verified webhook events to engine-backed handlers.
//
// The policy here is deliberately fail-open: once the signature checks out,
// the sender always gets a success acknowledgment. Handler failures are
// logged for operators, not surfaced to Stripe, because application-level
// errors must not trigger infinite redelivery. This is the opposite of the
// engine's fail-loud policy on its own remote calls.
type Dispatcher struct {
	verifier Verifier
	handlers map[string]Handler
	log      *slog.Logger
	maxBody  int64
}

// Handler processes one verified event.
type Handler func(r *http.Request, event *gateway.Event) error

// NewDispatcher creates a dispatcher with no routes; register them with On.
func NewDispatcher(verifier Verifier, log *slog.Logger) *Dispatcher {
	if verifier == nil {
		panic("webhook: Verifier is required")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		verifier: verifier,
		handlers: make(map[string]Handler),
		log:      log,
		maxBody:  1 << 20, // Stripe events are small; 1MiB is generous
	}
}

// On registers a handler for an event type. Later registrations win.
func (d *Dispatcher) On(eventType string, h Handler) *Dispatcher {
	d.handlers[eventType] = h
	return d
}

// ServeHTTP implements the webhook endpoint. It must be mounted without any
// body-parsing middleware: signature verification runs over the raw bytes.
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, d.maxBody))
	if err != nil {
		d.log.ErrorContext(r.Context(), "failed to read webhook body", logger.Error(err))
		http.Error(w, "unable to read request body", http.StatusBadRequest)
		return
	}

	event, err := d.verifier.VerifyWebhook(payload, r.Header.Get(SignatureHeader))
	if err != nil {
		d.log.WarnContext(r.Context(), "webhook signature rejected", logger.Error(err))
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}

	handler, ok := d.handlers[event.Type]
	if !ok {
		// Unrecognized event types are acknowledged without side effects so
		// Stripe never retries types we simply don't act on.
		d.log.DebugContext(r.Context(), "ignoring unhandled webhook event",
			logger.EventType(event.Type),
			slog.String("event_id", event.ID))
		d.ack(w)
		return
	}

	if err := handler(r, event); err != nil {
		d.log.ErrorContext(r.Context(), "webhook handler failed",
			logger.EventType(event.Type),
			slog.String("event_id", event.ID),
			logger.Error(err))
	}

	d.ack(w)
}

func (d *Dispatcher) ack(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]bool{"received": true})
}
