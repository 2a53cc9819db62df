package webhook_test

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paykit/subsvc/pkg/gateway"
	"github.com/paykit/subsvc/pkg/webhook"
)

// fakeVerifier returns the configured event when the signature matches and
// records the payload it was handed.
type fakeVerifier struct {
	signature string
	event     *gateway.Event
	payload   []byte
}

func (v *fakeVerifier) VerifyWebhook(payload []byte, signature string) (*gateway.Event, error) {
	v.payload = payload
	if signature != v.signature {
		return nil, gateway.ErrInvalidSignature
	}
	return v.event, nil
}

func post(t *testing.T, d *webhook.Dispatcher, body, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(body))
	req.Header.Set(webhook.SignatureHeader, signature)
	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, req)
	return rec
}

func TestDispatcherRejectsBadSignature(t *testing.T) {
	t.Parallel()

	verifier := &fakeVerifier{signature: "valid"}
	called := false
	d := webhook.NewDispatcher(verifier, slog.New(slog.NewTextHandler(io.Discard, nil))).
		On("invoice.paid", func(_ *http.Request, _ *gateway.Event) error {
			called = true
			return nil
		})

	rec := post(t, d, `{"id":"evt_1"}`, "forged")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, called, "handlers must never run on a rejected signature")
}

func TestDispatcherVerifiesRawBody(t *testing.T) {
	t.Parallel()

	body := `{"id": "evt_1",  "whitespace":   "matters"}`
	verifier := &fakeVerifier{
		signature: "valid",
		event:     &gateway.Event{ID: "evt_1", Type: "invoice.paid", Data: json.RawMessage(`{}`)},
	}
	d := webhook.NewDispatcher(verifier, slog.New(slog.NewTextHandler(io.Discard, nil)))

	post(t, d, body, "valid")
	assert.Equal(t, body, string(verifier.payload), "signature must be checked over the untouched raw bytes")
}

func TestDispatcherAcksUnknownEventType(t *testing.T) {
	t.Parallel()

	verifier := &fakeVerifier{
		signature: "valid",
		event:     &gateway.Event{ID: "evt_1", Type: "customer.created", Data: json.RawMessage(`{}`)},
	}
	d := webhook.NewDispatcher(verifier, slog.New(slog.NewTextHandler(io.Discard, nil)))

	rec := post(t, d, `{}`, "valid")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"received":true}`, rec.Body.String())
}

func TestDispatcherAcksHandlerFailure(t *testing.T) {
	t.Parallel()

	verifier := &fakeVerifier{
		signature: "valid",
		event:     &gateway.Event{ID: "evt_1", Type: "invoice.paid", Data: json.RawMessage(`{}`)},
	}
	d := webhook.NewDispatcher(verifier, slog.New(slog.NewTextHandler(io.Discard, nil))).
		On("invoice.paid", func(_ *http.Request, _ *gateway.Event) error {
			return errors.New("store unavailable")
		})

	// Handler errors are logged, never surfaced: a 5xx would make Stripe
	// redeliver forever on a persistent application bug.
	rec := post(t, d, `{}`, "valid")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"received":true}`, rec.Body.String())
}

func TestDispatcherRoutesToHandler(t *testing.T) {
	t.Parallel()

	verifier := &fakeVerifier{
		signature: "valid",
		event:     &gateway.Event{ID: "evt_1", Type: "invoice.paid", Data: json.RawMessage(`{"amount_paid":999}`)},
	}

	var got *gateway.Event
	d := webhook.NewDispatcher(verifier, slog.New(slog.NewTextHandler(io.Discard, nil))).
		On("invoice.paid", func(_ *http.Request, event *gateway.Event) error {
			got = event
			return nil
		})

	rec := post(t, d, `{}`, "valid")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, got)
	assert.Equal(t, "evt_1", got.ID)
	assert.JSONEq(t, `{"amount_paid":999}`, string(got.Data))
}
