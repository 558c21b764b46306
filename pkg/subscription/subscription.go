// Package subscription is the record of truth for paid entitlements. The
// internal subscription row is authoritative for entitlement decisions;
// the external payment processor is authoritative only for payment state,
// reconciled one-way into the row via idempotent webhook mutations.
package subscription

import (
	"time"

	"github.com/google/uuid"

	"github.com/stablebook/billing/pkg/plan"
)

// Subscription represents a single entitlement grant. Rows are never
// deleted, only superseded: at most one row per user carries
// IsActive = true at any time (enforced by a partial unique index).
type Subscription struct {
	ID          uuid.UUID
	UserID      uuid.UUID
	PlanID      string
	CouponID    *uuid.UUID
	ProviderRef string // processor's subscription id, empty for free activations
	IsActive    bool
	IsTrial     bool
	StartedAt   time.Time
	EndsAt      time.Time
	CancelledAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Status is the derived subscription state. It is a projection of the
// row's absolute fields, never stored, so concurrent webhook and sweep
// mutations cannot leave it inconsistent.
type Status string

const (
	StatusNone      Status = "none"
	StatusTrialing  Status = "trialing"
	StatusActive    Status = "active"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

// StatusAt derives the subscription status at the given instant.
// A nil receiver means the user has no subscription row at all.
func (s *Subscription) StatusAt(now time.Time) Status {
	switch {
	case s == nil:
		return StatusNone
	case s.CancelledAt != nil:
		return StatusCancelled
	case !s.IsActive, !s.EndsAt.After(now):
		return StatusExpired
	case s.IsTrial:
		return StatusTrialing
	default:
		return StatusActive
	}
}

// Status derives the subscription status now.
func (s *Subscription) Status() Status {
	return s.StatusAt(time.Now().UTC())
}

// EntitledAt reports whether the subscription grants plan limits at the
// given instant.
func (s *Subscription) EntitledAt(now time.Time) bool {
	st := s.StatusAt(now)
	return st == StatusActive || st == StatusTrialing
}

// PeriodFor computes a subscription window starting at the given instant
// for the chosen billing cycle.
func PeriodFor(start time.Time, cycle plan.BillingCycle) time.Time {
	if cycle == plan.CycleAnnual {
		return start.AddDate(1, 0, 0)
	}
	return start.AddDate(0, 1, 0)
}
