package coupon

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Store defines coupon persistence. RedemptionCount derives the usage from
// subscription rows referencing the coupon; no counter column exists.
type Store interface {
	// GetByCode retrieves a coupon by its normalized code.
	// Returns ErrCouponNotFound if no coupon exists.
	GetByCode(ctx context.Context, code string) (*Coupon, error)

	// RedemptionCount returns how many subscriptions reference the coupon.
	RedemptionCount(ctx context.Context, couponID uuid.UUID) (int64, error)
}

// Mode selects the validation context.
type Mode int

const (
	// ModeCheckout validates for the paid checkout path.
	ModeCheckout Mode = iota
	// ModeFreeActivation additionally requires a 100% discount, because the
	// free-activation path performs no processor interaction and must never
	// silently grant a partially-discounted subscription for free.
	ModeFreeActivation
)

// Validator performs pure coupon validation over stored records.
type Validator struct {
	store Store
	now   func() time.Time
}

// NewValidator creates a coupon validator. Panics on nil store to fail
// fast during initialization.
func NewValidator(store Store) *Validator {
	if store == nil {
		panic("coupon: store is required")
	}
	return &Validator{store: store, now: time.Now}
}

// Validate normalizes and checks a coupon code for the given mode. The
// exhaustion check here is a fast-fail UX improvement only; the database
// constraint at insert time is the authoritative guard against races.
func (v *Validator) Validate(ctx context.Context, code string, mode Mode) (*Coupon, error) {
	c, err := v.store.GetByCode(ctx, NormalizeCode(code))
	if err != nil {
		return nil, err
	}

	if err := ValidateDiscount(c.DiscountPercent); err != nil {
		return nil, err
	}

	if c.ExpiresAt != nil && c.ExpiresAt.Before(v.now().UTC()) {
		return nil, ErrCouponExpired
	}

	if c.MaxRedemptions != nil {
		redeemed, err := v.store.RedemptionCount(ctx, c.ID)
		if err != nil {
			return nil, errors.Join(errors.New("failed to count coupon redemptions"), err)
		}
		if redeemed >= *c.MaxRedemptions {
			return nil, ErrCouponExhausted
		}
	}

	if mode == ModeFreeActivation && !c.IsFullDiscount() {
		return nil, ErrCouponRequiresPayment
	}

	return c, nil
}
