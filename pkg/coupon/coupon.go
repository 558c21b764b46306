// Package coupon validates discount coupons at checkout and free-activation
// time. Validation is side-effect-free: a redemption is recorded only when a
// subscription row referencing the coupon is actually created, and the
// redemption count is always recomputed from those rows rather than stored.
package coupon

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/stablebook/billing/pkg/plan"
)

var (
	ErrCouponNotFound        = errors.New("coupon not found")
	ErrCouponExpired         = errors.New("coupon has expired")
	ErrCouponExhausted       = errors.New("coupon redemption limit reached")
	ErrCouponRequiresPayment = errors.New("coupon does not grant a full discount")
	ErrInvalidDiscount       = errors.New("coupon discount must be between 1 and 100 percent")
)

// Coupon is a discount record. MaxRedemptions nil means unlimited;
// ExpiresAt nil means the coupon never expires.
type Coupon struct {
	ID              uuid.UUID
	Code            string
	DiscountPercent int
	ExpiresAt       *time.Time
	MaxRedemptions  *int64
	CreatedAt       time.Time
}

// NormalizeCode folds a user-supplied code to its canonical form.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidateDiscount rejects discount percentages outside [1,100]. Applied
// both here and as a CHECK constraint in the schema.
func ValidateDiscount(percent int) error {
	if percent < 1 || percent > 100 {
		return ErrInvalidDiscount
	}
	return nil
}

// IsFullDiscount reports whether the coupon covers the entire price.
func (c Coupon) IsFullDiscount() bool {
	return c.DiscountPercent == 100
}

// DiscountedPrice applies the coupon to a list price, rounding down to the
// smallest currency unit.
func (c Coupon) DiscountedPrice(list plan.Money) plan.Money {
	discounted := list.Amount * int64(100-c.DiscountPercent) / 100
	return plan.Money{Amount: discounted, Currency: list.Currency}
}
