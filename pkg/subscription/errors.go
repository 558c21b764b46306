package subscription

import "errors"

var (
	ErrSubscriptionNotFound       = errors.New("subscription not found")
	ErrSubscriptionCreationFailed = errors.New("failed to create subscription")
	ErrCheckoutCreationFailed     = errors.New("failed to create checkout session")
	ErrConflict                   = errors.New("coupon already used")
	ErrSignatureInvalid           = errors.New("webhook signature verification failed")
	ErrInvalidWebhookPayload      = errors.New("invalid webhook payload")
	ErrCouponRequired             = errors.New("coupon code is required for free activation")
	ErrNoPortalAvailable          = errors.New("no customer portal available")
	ErrPersistence                = errors.New("datastore write failed")

	// Provider-specific errors
	ErrMissingAPIKey               = errors.New("billing provider API key is required")
	ErrMissingWebhookSecret        = errors.New("billing provider webhook secret is required")
	ErrInvalidProviderEnvironment  = errors.New("invalid billing provider environment")
	ErrNoCheckoutURL               = errors.New("no checkout URL returned from provider")
	ErrProviderDiscountUnsupported = errors.New("billing provider does not support ad-hoc discounted prices")
)
