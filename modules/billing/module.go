// Package billing exposes the subscription core over HTTP: checkout and
// free activation, the signed webhook ingress, the entitlement
// projection, the customer portal redirect, and the sweep trigger.
package billing

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/stablebook/billing/pkg/subscription"
	"github.com/stablebook/billing/pkg/sweeper"
)

// SubscriptionService is the billing core surface the module exposes.
type SubscriptionService interface {
	StartCheckout(ctx context.Context, userID uuid.UUID, planID, cycle, couponCode string) (*subscription.CheckoutSession, error)
	ActivateFree(ctx context.Context, userID uuid.UUID, planID, cycle, couponCode string) (*subscription.Subscription, error)
	HandleWebhook(ctx context.Context, payload []byte, signature string) error
	GetEntitlement(ctx context.Context, userID uuid.UUID) (*subscription.Entitlement, error)
	GetCustomerPortalLink(ctx context.Context, userID uuid.UUID) (*subscription.PortalLink, error)
}

// SweepRunner executes a single expiration sweep on demand.
type SweepRunner interface {
	Run(ctx context.Context) (sweeper.Summary, error)
}

// RouterOptions configures the billing module router. Service is
// required; the rest are optional and only mounted when provided.
type RouterOptions struct {
	Service SubscriptionService

	// SignatureHeader names the webhook signature header, selected by
	// the active provider ("Stripe-Signature", "Paddle-Signature").
	SignatureHeader string

	// Sweeper, when set, mounts the external sweep trigger.
	Sweeper SweepRunner

	// Healthcheck, when set, mounts GET /health.
	Healthcheck func(ctx context.Context) error

	Logger *slog.Logger
}

// Router creates the billing module router.
//
// Example:
//
//	r := chi.NewRouter()
//	r.Mount("/billing", billing.Router(billing.RouterOptions{
//	    Service:         svc,
//	    SignatureHeader: "Stripe-Signature",
//	    Sweeper:         sw,
//	}))
func Router(opts RouterOptions) chi.Router {
	if opts.Service == nil {
		panic("billing: subscription service is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	h := &handlers{
		service:         opts.Service,
		sweeper:         opts.Sweeper,
		signatureHeader: opts.SignatureHeader,
		log:             opts.Logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// The webhook ingress sits outside the user-identity group: the
	// processor authenticates with its signature, not a session.
	r.Post("/webhooks/billing", h.handleWebhook)

	if opts.Healthcheck != nil {
		r.Get("/health", h.handleHealth(opts.Healthcheck))
	}

	if opts.Sweeper != nil {
		r.Post("/jobs/expire-sweep", h.handleSweep)
	}

	r.Group(func(user chi.Router) {
		user.Use(requireUser)
		user.Post("/checkout", h.handleCheckout)
		user.Post("/activate-free", h.handleActivateFree)
		user.Get("/entitlement", h.handleEntitlement)
		user.Get("/portal", h.handlePortal)
	})

	return r
}

type ctxKey int

const userIDKey ctxKey = iota

// requireUser extracts the authenticated user injected by the gateway.
// Identity management lives upstream; this module only consumes it.
func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := uuid.Parse(r.Header.Get("X-User-ID"))
		if err != nil {
			respondError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userIDKey, userID)))
	})
}

func userFromContext(ctx context.Context) uuid.UUID {
	id, _ := ctx.Value(userIDKey).(uuid.UUID)
	return id
}
