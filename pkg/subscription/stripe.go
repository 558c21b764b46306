package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v79"
	portalsession "github.com/stripe/stripe-go/v79/billingportal/session"
	checkoutsession "github.com/stripe/stripe-go/v79/checkout/session"
	stripesub "github.com/stripe/stripe-go/v79/subscription"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/stablebook/billing/pkg/plan"
)

// StripeConfig holds configuration for the Stripe billing provider.
type StripeConfig struct {
	SecretKey     string `env:"STRIPE_SECRET_KEY,required"`
	WebhookSecret string `env:"STRIPE_WEBHOOK_SECRET,required"`
}

// StripeProvider implements BillingProvider for Stripe.
type StripeProvider struct {
	config StripeConfig
}

// NewStripeProvider creates a Stripe billing provider and wires the
// API key into the SDK.
func NewStripeProvider(cfg StripeConfig) (*StripeProvider, error) {
	if cfg.SecretKey == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.WebhookSecret == "" {
		return nil, ErrMissingWebhookSecret
	}

	stripe.Key = cfg.SecretKey

	return &StripeProvider{config: cfg}, nil
}

func (p *StripeProvider) Name() string { return "stripe" }

// CreateCheckoutSession starts a hosted Stripe Checkout session in
// subscription mode. The coupon-discounted price travels as ad-hoc price
// data; the reconciliation metadata bag is attached to both the session
// and the subscription it creates so every later webhook carries it.
func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	interval := "month"
	if req.Cycle == plan.CycleAnnual {
		interval = "year"
	}

	metadata := req.Metadata()

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		ClientReferenceID: stripe.String(req.UserID.String()),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(strings.ToLower(req.UnitPrice.Currency)),
					UnitAmount: stripe.Int64(req.UnitPrice.Amount),
					Recurring: &stripe.CheckoutSessionLineItemPriceDataRecurringParams{
						Interval: stripe.String(interval),
					},
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String("StableBook " + req.Plan.Name),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: metadata,
		},
	}
	params.Context = ctx
	params.Metadata = metadata

	sess, err := checkoutsession.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create stripe checkout session: %w", err)
	}
	if sess.URL == "" {
		return nil, ErrNoCheckoutURL
	}

	return &CheckoutSession{
		URL:       sess.URL,
		SessionID: sess.ID,
		ExpiresAt: time.Unix(sess.ExpiresAt, 0),
	}, nil
}

// GetCustomerPortalLink returns a Stripe customer portal session for the
// customer behind the stored subscription.
func (p *StripeProvider) GetCustomerPortalLink(ctx context.Context, sub *Subscription) (*PortalLink, error) {
	if sub == nil || sub.ProviderRef == "" {
		return nil, ErrNoPortalAvailable
	}

	getParams := &stripe.SubscriptionParams{}
	getParams.Context = ctx
	remote, err := stripesub.Get(sub.ProviderRef, getParams)
	if err != nil {
		return nil, fmt.Errorf("failed to load stripe subscription %s: %w", sub.ProviderRef, err)
	}
	if remote.Customer == nil {
		return nil, ErrNoPortalAvailable
	}

	params := &stripe.BillingPortalSessionParams{
		Customer: stripe.String(remote.Customer.ID),
	}
	params.Context = ctx

	sess, err := portalsession.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create stripe portal session: %w", err)
	}

	return &PortalLink{
		URL:       sess.URL,
		ExpiresAt: time.Now().Add(24 * time.Hour),
	}, nil
}

// ParseWebhook verifies the Stripe-Signature header against the raw body
// before any JSON parsing, then normalizes the event.
func (p *StripeProvider) ParseWebhook(ctx context.Context, payload []byte, signature string) (*WebhookEvent, error) {
	event, err := webhook.ConstructEventWithOptions(
		payload,
		signature,
		p.config.WebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true},
	)
	if err != nil {
		return nil, errors.Join(ErrSignatureInvalid, err)
	}

	return mapStripeEvent(event)
}

// mapStripeEvent translates a verified Stripe event into the normalized
// form. Checkout sessions do not carry the billing period, so PeriodStart
// and PeriodEnd stay zero there; the service derives a provisional period
// from the billing cycle and later subscription.updated / invoice events
// overwrite it with the processor's authoritative values.
func mapStripeEvent(event stripe.Event) (*WebhookEvent, error) {
	out := &WebhookEvent{
		Type:          EventUnknown,
		ProviderEvent: string(event.Type),
	}

	switch event.Type {
	case "checkout.session.completed":
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return nil, errors.Join(ErrInvalidWebhookPayload, err)
		}
		if sess.Subscription == nil {
			return nil, fmt.Errorf("%w: checkout session %s has no subscription", ErrInvalidWebhookPayload, sess.ID)
		}
		out.Type = EventCheckoutCompleted
		out.ProviderRef = sess.Subscription.ID
		out.Status = "active"
		applyMetadata(out, sess.Metadata)

	case "customer.subscription.updated":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, errors.Join(ErrInvalidWebhookPayload, err)
		}
		out.Type = EventSubscriptionUpdated
		out.ProviderRef = sub.ID
		out.Status = normalizeStripeStatus(string(sub.Status))
		out.PeriodStart = time.Unix(sub.CurrentPeriodStart, 0).UTC()
		out.PeriodEnd = time.Unix(sub.CurrentPeriodEnd, 0).UTC()
		applyMetadata(out, sub.Metadata)

	case "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, errors.Join(ErrInvalidWebhookPayload, err)
		}
		out.Type = EventSubscriptionCancelled
		out.ProviderRef = sub.ID
		out.Status = "cancelled"
		applyMetadata(out, sub.Metadata)

	case "invoice.payment_succeeded":
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return nil, errors.Join(ErrInvalidWebhookPayload, err)
		}
		if inv.Subscription == nil {
			// One-off invoices are unrelated to entitlements.
			return out, nil
		}
		out.Type = EventPaymentSucceeded
		out.ProviderRef = inv.Subscription.ID
		out.Status = "active"
		if inv.Lines != nil && len(inv.Lines.Data) > 0 && inv.Lines.Data[0].Period != nil {
			out.PeriodEnd = time.Unix(inv.Lines.Data[0].Period.End, 0).UTC()
		} else {
			out.PeriodEnd = time.Unix(inv.PeriodEnd, 0).UTC()
		}
	}

	return out, nil
}

func applyMetadata(out *WebhookEvent, metadata map[string]string) {
	out.UserID = metadata["user_id"]
	out.PlanID = metadata["plan_id"]
	out.CouponID = metadata["coupon_id"]
	out.Cycle = metadata["billing_cycle"]
}

func normalizeStripeStatus(status string) string {
	switch status {
	case "trialing":
		return "trialing"
	case "active":
		return "active"
	case "canceled", "cancelled":
		return "cancelled"
	default:
		return status
	}
}
