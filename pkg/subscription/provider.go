package subscription

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/stablebook/billing/pkg/plan"
)

// BillingProvider abstracts the external payment processor. The processor
// handles all payment complexity through hosted checkouts; this core only
// requests sessions and consumes signed notifications.
type BillingProvider interface {
	// Name identifies the provider ("stripe", "paddle"); used to select
	// the signature header on the webhook ingress.
	Name() string

	// CreateCheckoutSession creates a hosted checkout session carrying
	// the reconciliation metadata bag. No subscription row is created
	// until the processor confirms payment via webhook.
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)

	// GetCustomerPortalLink returns a temporary customer portal link.
	GetCustomerPortalLink(ctx context.Context, sub *Subscription) (*PortalLink, error)

	// ParseWebhook verifies the payload signature before any parsing and
	// returns a normalized event. An unverifiable payload yields
	// ErrSignatureInvalid and must never touch the datastore.
	ParseWebhook(ctx context.Context, payload []byte, signature string) (*WebhookEvent, error)
}

// CheckoutRequest contains data needed to create a checkout session.
// UnitPrice is the final, coupon-discounted price.
type CheckoutRequest struct {
	UserID     uuid.UUID
	Plan       plan.Plan
	Cycle      plan.BillingCycle
	CouponID   *uuid.UUID
	UnitPrice  plan.Money
	ListPrice  plan.Money
	SuccessURL string
	CancelURL  string
}

// Metadata builds the reconciliation bag embedded in the session. The
// webhook handler trusts only these fields plus the processor's own
// subscription id.
func (r CheckoutRequest) Metadata() map[string]string {
	m := map[string]string{
		"user_id":       r.UserID.String(),
		"plan_id":       r.Plan.ID,
		"billing_cycle": string(r.Cycle),
	}
	if r.CouponID != nil {
		m["coupon_id"] = r.CouponID.String()
	}
	return m
}

// CheckoutSession represents a hosted checkout session.
type CheckoutSession struct {
	URL       string
	SessionID string
	ExpiresAt time.Time
}

// PortalLink represents a customer portal session.
type PortalLink struct {
	URL       string
	ExpiresAt time.Time
}

// EventType is the normalized billing event category. Each provider maps
// its specific event names onto these.
type EventType string

const (
	EventCheckoutCompleted     EventType = "checkout_completed"
	EventSubscriptionUpdated   EventType = "subscription_updated"
	EventSubscriptionCancelled EventType = "subscription_cancelled"
	EventPaymentSucceeded      EventType = "payment_succeeded"
	EventUnknown               EventType = "unknown"
)

// WebhookEvent is a normalized processor notification. ProviderRef is the
// processor's own subscription identifier and is the only key mutations
// are applied by; payload fields a sender could replay arbitrarily are
// never used as keys.
type WebhookEvent struct {
	Type          EventType
	ProviderEvent string
	ProviderRef   string
	UserID        string
	PlanID        string
	CouponID      string
	Cycle         string
	Status        string
	PeriodStart   time.Time
	PeriodEnd     time.Time
}

// ActivityFlags converts a provider status string into the absolute
// activity fields stored on the row.
func (e *WebhookEvent) ActivityFlags() (isActive, isTrial bool) {
	switch e.Status {
	case "trialing":
		return true, true
	case "active":
		return true, false
	default:
		return false, false
	}
}
