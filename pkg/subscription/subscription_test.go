package subscription_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/stablebook/billing/pkg/plan"
	"github.com/stablebook/billing/pkg/subscription"
)

func TestSubscription_StatusAt(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	future := now.AddDate(0, 1, 0)
	past := now.AddDate(0, -1, 0)

	t.Run("nil subscription means no entitlement", func(t *testing.T) {
		t.Parallel()
		var sub *subscription.Subscription
		assert.Equal(t, subscription.StatusNone, sub.StatusAt(now))
		assert.False(t, sub.EntitledAt(now))
	})

	t.Run("active within period", func(t *testing.T) {
		t.Parallel()
		sub := &subscription.Subscription{IsActive: true, EndsAt: future}
		assert.Equal(t, subscription.StatusActive, sub.StatusAt(now))
		assert.True(t, sub.EntitledAt(now))
	})

	t.Run("trial within period", func(t *testing.T) {
		t.Parallel()
		sub := &subscription.Subscription{IsActive: true, IsTrial: true, EndsAt: future}
		assert.Equal(t, subscription.StatusTrialing, sub.StatusAt(now))
		assert.True(t, sub.EntitledAt(now))
	})

	t.Run("elapsed period expires even while flagged active", func(t *testing.T) {
		t.Parallel()
		sub := &subscription.Subscription{IsActive: true, EndsAt: past}
		assert.Equal(t, subscription.StatusExpired, sub.StatusAt(now))
		assert.False(t, sub.EntitledAt(now))
	})

	t.Run("period boundary is exclusive", func(t *testing.T) {
		t.Parallel()
		sub := &subscription.Subscription{IsActive: true, EndsAt: now}
		assert.Equal(t, subscription.StatusExpired, sub.StatusAt(now))
	})

	t.Run("deactivated row is expired", func(t *testing.T) {
		t.Parallel()
		sub := &subscription.Subscription{IsActive: false, EndsAt: future}
		assert.Equal(t, subscription.StatusExpired, sub.StatusAt(now))
	})

	t.Run("cancellation wins over everything", func(t *testing.T) {
		t.Parallel()
		cancelled := now.AddDate(0, 0, -2)
		sub := &subscription.Subscription{IsActive: true, EndsAt: future, CancelledAt: &cancelled}
		assert.Equal(t, subscription.StatusCancelled, sub.StatusAt(now))
		assert.False(t, sub.EntitledAt(now))
	})
}

func TestPeriodFor(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 1, 31, 10, 0, 0, 0, time.UTC)

	assert.Equal(t, start.AddDate(0, 1, 0), subscription.PeriodFor(start, plan.CycleMonthly))
	assert.Equal(t, start.AddDate(1, 0, 0), subscription.PeriodFor(start, plan.CycleAnnual))
}
