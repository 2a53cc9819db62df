package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/paykit/subsvc/pkg/gateway"
	"github.com/paykit/subsvc/pkg/logger"
	"github.com/paykit/subsvc/pkg/ratelimit"
	"github.com/paykit/subsvc/pkg/subscription"
	"github.com/paykit/subsvc/pkg/webhook"
)

// Handler exposes the subscription engine over REST.
type Handler struct {
	engine *subscription.Engine
	log    *slog.Logger
}

func NewHandler(engine *subscription.Engine, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{engine: engine, log: log}
}

// RouterDeps collects the collaborators the router mounts.
type RouterDeps struct {
	Handler     *Handler
	Webhooks    *webhook.Dispatcher
	Limiter     *ratelimit.Limiter
	Healthcheck func(context.Context) error
}

// NewRouter assembles the service routes. The webhook route is mounted
// outside any body-touching middleware so signature verification sees the
// raw bytes Stripe signed.
func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Post("/webhooks/stripe", deps.Webhooks.ServeHTTP)

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		if deps.Healthcheck != nil {
			if err := deps.Healthcheck(req.Context()); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/subscriptions/{userID}", func(r chi.Router) {
		if deps.Limiter != nil {
			r.Use(ratelimit.Middleware(deps.Limiter, func(req *http.Request) string {
				return chi.URLParam(req, "userID")
			}))
		}
		r.Get("/", deps.Handler.getSubscription)
		r.Post("/cancel", deps.Handler.cancel)
		r.Post("/reactivate", deps.Handler.reactivate)
		r.Post("/change-plan", deps.Handler.changePlan)
		r.Post("/refund", deps.Handler.refund)
	})

	return r
}

func (h *Handler) getSubscription(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	snap, err := h.engine.Current(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if snap == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no subscription found"})
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	result, err := h.engine.CancelAtPeriodEnd(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) reactivate(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	sub, err := h.engine.Reactivate(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (h *Handler) changePlan(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	var body struct {
		Plan string `json:"plan"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Plan == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "plan is required"})
		return
	}

	change, err := h.engine.ChangePlan(r.Context(), userID, subscription.Plan(body.Plan))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, change)
}

func (h *Handler) refund(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	var body struct {
		Reason string `json:"reason"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	sub, err := h.engine.RefundAndCancel(r.Context(), userID, body.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (h *Handler) userID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid user id"})
		return uuid.Nil, false
	}
	return userID, true
}

// writeError maps the engine's error taxonomy onto HTTP statuses: validation
// errors 400, missing/state-guard errors 404, conflicts 409, remote gateway
// failures 502, everything else 500.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError

	switch {
	case errors.Is(err, subscription.ErrUnknownPlan),
		errors.Is(err, subscription.ErrNoPriceForPlan):
		status = http.StatusBadRequest
	case errors.Is(err, subscription.ErrNotFound),
		errors.Is(err, subscription.ErrNothingToCancel),
		errors.Is(err, subscription.ErrNotReactivable),
		errors.Is(err, subscription.ErrNotActive),
		errors.Is(err, subscription.ErrNothingToRefund):
		status = http.StatusNotFound
	case errors.Is(err, subscription.ErrAlreadyScheduled),
		errors.Is(err, subscription.ErrAlreadyExpired),
		errors.Is(err, subscription.ErrSamePlan):
		status = http.StatusConflict
	case errors.Is(err, gateway.ErrRemote),
		errors.Is(err, gateway.ErrResourceMissing):
		status = http.StatusBadGateway
	}

	if status == http.StatusInternalServerError {
		h.log.ErrorContext(r.Context(), "request failed", logger.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
