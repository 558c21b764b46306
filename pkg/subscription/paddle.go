package subscription

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	paddle "github.com/PaddleHQ/paddle-go-sdk/v4"
)

// PaddleConfig holds configuration for the Paddle billing provider.
type PaddleConfig struct {
	APIKey        string `env:"PADDLE_API_KEY,required"`
	WebhookSecret string `env:"PADDLE_WEBHOOK_SECRET,required"`
	Environment   string `env:"PADDLE_ENVIRONMENT" envDefault:"production"`
}

// PaddleProvider implements BillingProvider for Paddle. Paddle checkouts
// price from the catalog, so plans must carry Paddle price ids per cycle;
// coupon discounts require the Stripe provider.
type PaddleProvider struct {
	client   *paddle.SDK
	verifier *paddle.WebhookVerifier
	config   PaddleConfig
}

// NewPaddleProvider creates a new Paddle billing provider.
func NewPaddleProvider(cfg PaddleConfig) (*PaddleProvider, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.WebhookSecret == "" {
		return nil, ErrMissingWebhookSecret
	}

	var client *paddle.SDK
	var err error

	switch strings.ToLower(cfg.Environment) {
	case "sandbox":
		client, err = paddle.NewSandbox(cfg.APIKey)
	case "production", "":
		client, err = paddle.New(cfg.APIKey)
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidProviderEnvironment, cfg.Environment)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create paddle client: %w", err)
	}

	return &PaddleProvider{
		client:   client,
		verifier: paddle.NewWebhookVerifier(cfg.WebhookSecret),
		config:   cfg,
	}, nil
}

func (p *PaddleProvider) Name() string { return "paddle" }

// CreateCheckoutSession creates a Paddle transaction from the plan's
// catalog price, carrying the reconciliation metadata as custom data.
func (p *PaddleProvider) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	priceID := req.Plan.ProviderPriceID(req.Cycle)
	if priceID == "" {
		return nil, fmt.Errorf("plan %s has no paddle price for cycle %s", req.Plan.ID, req.Cycle)
	}
	if req.UnitPrice.Amount != req.ListPrice.Amount {
		return nil, ErrProviderDiscountUnsupported
	}

	item := paddle.NewCreateTransactionItemsTransactionItemFromCatalog(&paddle.TransactionItemFromCatalog{
		PriceID:  priceID,
		Quantity: 1,
	})

	customData := paddle.CustomData{}
	for k, v := range req.Metadata() {
		customData[k] = v
	}

	transactionReq := &paddle.CreateTransactionRequest{
		Items:      []paddle.CreateTransactionItems{*item},
		CustomData: customData,
	}
	if req.SuccessURL != "" {
		transactionReq.Checkout = &paddle.TransactionCheckout{
			URL: paddle.PtrTo(req.SuccessURL),
		}
	}

	transaction, err := p.client.TransactionsClient.CreateTransaction(ctx, transactionReq)
	if err != nil {
		return nil, fmt.Errorf("failed to create paddle transaction: %w", err)
	}

	if transaction.Checkout == nil || transaction.Checkout.URL == nil {
		return nil, ErrNoCheckoutURL
	}

	return &CheckoutSession{
		URL:       *transaction.Checkout.URL,
		SessionID: transaction.ID,
		ExpiresAt: time.Now().Add(24 * time.Hour),
	}, nil
}

// GetCustomerPortalLink returns a link to Paddle's customer portal.
func (p *PaddleProvider) GetCustomerPortalLink(ctx context.Context, sub *Subscription) (*PortalLink, error) {
	if sub == nil || sub.ProviderRef == "" {
		return nil, ErrNoPortalAvailable
	}

	portalSession, err := p.client.CustomerPortalSessionsClient.CreateCustomerPortalSession(ctx, &paddle.CreateCustomerPortalSessionRequest{
		CustomerID:      sub.UserID.String(),
		SubscriptionIDs: []string{sub.ProviderRef},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create paddle customer portal session: %w", err)
	}
	if portalSession.URLs.General.Overview == "" {
		return nil, ErrNoPortalAvailable
	}

	return &PortalLink{
		URL:       portalSession.URLs.General.Overview,
		ExpiresAt: time.Now().Add(24 * time.Hour),
	}, nil
}

// ParseWebhook verifies the Paddle-Signature header before any parsing,
// then normalizes the event.
func (p *PaddleProvider) ParseWebhook(ctx context.Context, payload []byte, signature string) (*WebhookEvent, error) {
	// The SDK verifier consumes an http.Request, so wrap the raw body.
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "/webhook", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build request for verification: %w", err)
	}
	req.Header.Set("Paddle-Signature", signature)

	valid, err := p.verifier.Verify(req)
	if err != nil {
		return nil, errors.Join(ErrSignatureInvalid, err)
	}
	if !valid {
		return nil, ErrSignatureInvalid
	}

	var paddleEvent struct {
		EventID   string         `json:"event_id"`
		EventType string         `json:"event_type"`
		Data      map[string]any `json:"data"`
	}
	if err := json.Unmarshal(payload, &paddleEvent); err != nil {
		return nil, errors.Join(ErrInvalidWebhookPayload, err)
	}

	return mapPaddleEvent(paddleEvent.EventType, paddleEvent.Data), nil
}

func mapPaddleEvent(eventType string, data map[string]any) *WebhookEvent {
	out := &WebhookEvent{
		Type:          EventUnknown,
		ProviderEvent: eventType,
	}

	switch eventType {
	case "transaction.completed":
		out.Type = EventCheckoutCompleted
		out.Status = "active"
	case "subscription.updated":
		out.Type = EventSubscriptionUpdated
	case "subscription.canceled":
		out.Type = EventSubscriptionCancelled
		out.Status = "cancelled"
	case "transaction.payment_succeeded":
		out.Type = EventPaymentSucceeded
		out.Status = "active"
	default:
		return out
	}

	// Transaction events carry the subscription id in a dedicated field;
	// subscription events carry it as the entity id.
	if subID, ok := data["subscription_id"].(string); ok && subID != "" {
		out.ProviderRef = subID
	} else if id, ok := data["id"].(string); ok && strings.HasPrefix(eventType, "subscription.") {
		out.ProviderRef = id
	}

	if status, ok := data["status"].(string); ok && out.Status == "" {
		out.Status = normalizePaddleStatus(status)
	}

	if customData, ok := data["custom_data"].(map[string]any); ok {
		if v, ok := customData["user_id"].(string); ok {
			out.UserID = v
		}
		if v, ok := customData["plan_id"].(string); ok {
			out.PlanID = v
		}
		if v, ok := customData["coupon_id"].(string); ok {
			out.CouponID = v
		}
		if v, ok := customData["billing_cycle"].(string); ok {
			out.Cycle = v
		}
	}

	if period, ok := data["current_billing_period"].(map[string]any); ok {
		if v, ok := period["starts_at"].(string); ok {
			if t, err := time.Parse(time.RFC3339, v); err == nil {
				out.PeriodStart = t.UTC()
			}
		}
		if v, ok := period["ends_at"].(string); ok {
			if t, err := time.Parse(time.RFC3339, v); err == nil {
				out.PeriodEnd = t.UTC()
			}
		}
	}

	return out
}

func normalizePaddleStatus(status string) string {
	switch strings.ToLower(status) {
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
