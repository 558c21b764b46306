// Package plan holds the immutable subscription plan catalog. Plans are
// reference data: the billing core reads them, never writes them.
package plan

import (
	"context"
	"errors"
)

var (
	ErrPlanNotFound             = errors.New("subscription plan not found")
	ErrInvalidPlanConfiguration = errors.New("invalid subscription plan configuration")
	ErrInvalidBillingCycle      = errors.New("invalid billing cycle")
	ErrFailedToLoadPlans        = errors.New("failed to load subscription plans")
)

// Unlimited indicates no limit for a resource (-1 chosen for SQL compatibility).
const Unlimited int64 = -1

// Money represents a monetary amount in the smallest currency unit.
// For example, $10.99 USD would be Amount: 1099, Currency: "USD".
type Money struct {
	Amount   int64
	Currency string
}

// BillingCycle represents the billing frequency chosen at checkout.
type BillingCycle string

const (
	CycleMonthly BillingCycle = "monthly"
	CycleAnnual  BillingCycle = "annual"
)

// ParseCycle validates a user-supplied billing cycle string.
func ParseCycle(s string) (BillingCycle, error) {
	switch BillingCycle(s) {
	case CycleMonthly, CycleAnnual:
		return BillingCycle(s), nil
	default:
		return "", ErrInvalidBillingCycle
	}
}

// Plan describes a subscription tier and its resource constraints.
// ProviderPriceIDs map each billing cycle to the payment processor's
// price identifier for that cycle.
type Plan struct {
	ID               string
	Name             string
	Description      string
	MaxHorses        int64 // -1 represents unlimited
	MaxMonthlyDocs   int64
	MonthlyPrice     Money
	AnnualPrice      Money
	ProviderPriceIDs map[BillingCycle]string
	Public           bool
}

// Price returns the list price for the given billing cycle.
func (p Plan) Price(cycle BillingCycle) (Money, error) {
	switch cycle {
	case CycleMonthly:
		return p.MonthlyPrice, nil
	case CycleAnnual:
		return p.AnnualPrice, nil
	default:
		return Money{}, ErrInvalidBillingCycle
	}
}

// ProviderPriceID returns the processor price id for the given cycle.
func (p Plan) ProviderPriceID(cycle BillingCycle) string {
	return p.ProviderPriceIDs[cycle]
}

// HorsesUnlimited reports whether the plan caps the horse count at all.
func (p Plan) HorsesUnlimited() bool {
	return p.MaxHorses == Unlimited
}

// Source defines how plans are loaded into the billing services.
type Source interface {
	Load(ctx context.Context) (map[string]Plan, error)
}

// Validate ensures a loaded catalog is internally consistent. Catches
// configuration mistakes at startup rather than mid-checkout.
func Validate(plans map[string]Plan) error {
	for planID, p := range plans {
		if p.ID != planID {
			return errors.Join(ErrInvalidPlanConfiguration,
				errors.New("plan ID mismatch: map key "+planID+" != plan.ID "+p.ID))
		}
		if p.MaxHorses < Unlimited {
			return errors.Join(ErrInvalidPlanConfiguration,
				errors.New("plan "+planID+" has invalid horse limit"))
		}
		if p.MaxMonthlyDocs < Unlimited {
			return errors.Join(ErrInvalidPlanConfiguration,
				errors.New("plan "+planID+" has invalid monthly doc limit"))
		}
	}
	return nil
}
