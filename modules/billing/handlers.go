package billing

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/stablebook/billing/pkg/coupon"
	"github.com/stablebook/billing/pkg/plan"
	"github.com/stablebook/billing/pkg/subscription"
)

// maxWebhookBody caps the raw webhook payload read into memory.
const maxWebhookBody = 64 << 10

type handlers struct {
	service         SubscriptionService
	sweeper         SweepRunner
	signatureHeader string
	log             *slog.Logger
}

type checkoutRequest struct {
	PlanID       string `json:"plan_id"`
	BillingCycle string `json:"billing_cycle"`
	CouponCode   string `json:"coupon_code,omitempty"`
}

func (h *handlers) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sess, err := h.service.StartCheckout(r.Context(), userFromContext(r.Context()), req.PlanID, req.BillingCycle, req.CouponCode)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]string{
		"checkout_url": sess.URL,
		"session_id":   sess.SessionID,
	})
}

func (h *handlers) handleActivateFree(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sub, err := h.service.ActivateFree(r.Context(), userFromContext(r.Context()), req.PlanID, req.BillingCycle, req.CouponCode)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]any{
		"subscription_id": sub.ID,
		"plan_id":         sub.PlanID,
		"status":          sub.Status(),
		"ends_at":         sub.EndsAt,
	})
}

func (h *handlers) handleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read payload")
		return
	}

	signature := r.Header.Get(h.signatureHeader)
	if err := h.service.HandleWebhook(r.Context(), payload, signature); err != nil {
		switch {
		case errors.Is(err, subscription.ErrSignatureInvalid):
			// Logged for security review; the sender gets no detail.
			h.log.WarnContext(r.Context(), "webhook signature rejected",
				slog.String("remote_addr", r.RemoteAddr),
				slog.String("request_id", middleware.GetReqID(r.Context())),
			)
			respondError(w, http.StatusBadRequest, "invalid signature")
		case errors.Is(err, subscription.ErrInvalidWebhookPayload):
			respondError(w, http.StatusBadRequest, "invalid payload")
		default:
			// Non-2xx makes the processor redeliver; the mutations are
			// idempotent so the retry is safe.
			h.log.ErrorContext(r.Context(), "webhook processing failed", slog.Any("error", err))
			respondError(w, http.StatusInternalServerError, "processing failed")
		}
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (h *handlers) handleEntitlement(w http.ResponseWriter, r *http.Request) {
	ent, err := h.service.GetEntitlement(r.Context(), userFromContext(r.Context()))
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, ent)
}

func (h *handlers) handlePortal(w http.ResponseWriter, r *http.Request) {
	link, err := h.service.GetCustomerPortalLink(r.Context(), userFromContext(r.Context()))
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"portal_url": link.URL,
		"expires_at": link.ExpiresAt,
	})
}

func (h *handlers) handleSweep(w http.ResponseWriter, r *http.Request) {
	sum, err := h.sweeper.Run(r.Context())
	if err != nil {
		h.log.ErrorContext(r.Context(), "triggered sweep failed", slog.Any("error", err))
		respondError(w, http.StatusInternalServerError, "sweep failed")
		return
	}
	respondJSON(w, http.StatusOK, sum)
}

func (h *handlers) handleHealth(check func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := check(r.Context()); err != nil {
			respondError(w, http.StatusServiceUnavailable, "unhealthy")
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// respondServiceError maps domain errors onto HTTP statuses.
func (h *handlers) respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, plan.ErrPlanNotFound),
		errors.Is(err, plan.ErrInvalidBillingCycle),
		errors.Is(err, coupon.ErrCouponNotFound),
		errors.Is(err, coupon.ErrCouponExpired),
		errors.Is(err, coupon.ErrCouponExhausted),
		errors.Is(err, coupon.ErrCouponRequiresPayment),
		errors.Is(err, coupon.ErrInvalidDiscount),
		errors.Is(err, subscription.ErrCouponRequired):
		respondError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, subscription.ErrConflict):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, subscription.ErrSubscriptionNotFound),
		errors.Is(err, subscription.ErrNoPortalAvailable):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, subscription.ErrCheckoutCreationFailed):
		h.log.ErrorContext(r.Context(), "billing provider call failed", slog.Any("error", err))
		respondError(w, http.StatusBadGateway, "payment provider unavailable")
	default:
		h.log.ErrorContext(r.Context(), "billing request failed", slog.Any("error", err))
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body) //nolint:errcheck // headers already sent
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
