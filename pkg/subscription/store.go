package subscription

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store defines subscription persistence. Every mutation is a single
// conditional statement (or transaction) setting absolute fields, so
// webhook redelivery, concurrent sweeps, and user actions stay
// last-write-wins rather than read-modify-write races.
type Store interface {
	// GetActiveByUser returns the user's single active subscription.
	// Returns ErrSubscriptionNotFound if the user has none.
	GetActiveByUser(ctx context.Context, userID uuid.UUID) (*Subscription, error)

	// GetByProviderRef returns the subscription created for the given
	// processor subscription id.
	GetByProviderRef(ctx context.Context, ref string) (*Subscription, error)

	// CreateFreeActivation inserts the row only if (a) this user has not
	// already redeemed the coupon and (b) the coupon's redemption cap,
	// recomputed inside the statement, is not reached. A nil
	// maxRedemptions means unlimited. Returns ErrConflict when the
	// conditions fail, with no partial effects.
	CreateFreeActivation(ctx context.Context, sub *Subscription, maxRedemptions *int64) error

	// UpsertByProviderRef creates or overwrites the row keyed on the
	// processor's subscription id, superseding any other active row the
	// user holds in the same transaction. Redelivery is a no-op beyond
	// the first application.
	UpsertByProviderRef(ctx context.Context, sub *Subscription) error

	// SyncStatusByProviderRef overwrites activity flags and period end.
	// Returns ErrSubscriptionNotFound when no row matches.
	SyncStatusByProviderRef(ctx context.Context, ref string, isActive, isTrial bool, endsAt time.Time) error

	// CancelByProviderRef deactivates the row and stamps cancelled_at.
	CancelByProviderRef(ctx context.Context, ref string, cancelledAt time.Time) error

	// ExtendPeriodByProviderRef moves ends_at to the new period end and
	// forces the row active.
	ExtendPeriodByProviderRef(ctx context.Context, ref string, periodEnd time.Time) error

	// ListExpired returns active, uncancelled subscriptions whose period
	// has elapsed.
	ListExpired(ctx context.Context, now time.Time, limit int32) ([]Subscription, error)

	// Deactivate clears is_active only if it is currently set, reporting
	// whether this call was the one that flipped it. Re-running a sweep
	// therefore processes each row at most once.
	Deactivate(ctx context.Context, id uuid.UUID) (bool, error)
}
