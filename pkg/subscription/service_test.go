package subscription_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/stablebook/billing/pkg/coupon"
	"github.com/stablebook/billing/pkg/plan"
	"github.com/stablebook/billing/pkg/quota"
	"github.com/stablebook/billing/pkg/subscription"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) GetActiveByUser(ctx context.Context, userID uuid.UUID) (*subscription.Subscription, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*subscription.Subscription), args.Error(1)
}

func (m *mockStore) GetByProviderRef(ctx context.Context, ref string) (*subscription.Subscription, error) {
	args := m.Called(ctx, ref)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*subscription.Subscription), args.Error(1)
}

func (m *mockStore) CreateFreeActivation(ctx context.Context, sub *subscription.Subscription, maxRedemptions *int64) error {
	args := m.Called(ctx, sub, maxRedemptions)
	return args.Error(0)
}

func (m *mockStore) UpsertByProviderRef(ctx context.Context, sub *subscription.Subscription) error {
	args := m.Called(ctx, sub)
	return args.Error(0)
}

func (m *mockStore) SyncStatusByProviderRef(ctx context.Context, ref string, isActive, isTrial bool, endsAt time.Time) error {
	args := m.Called(ctx, ref, isActive, isTrial, endsAt)
	return args.Error(0)
}

func (m *mockStore) CancelByProviderRef(ctx context.Context, ref string, cancelledAt time.Time) error {
	args := m.Called(ctx, ref, cancelledAt)
	return args.Error(0)
}

func (m *mockStore) ExtendPeriodByProviderRef(ctx context.Context, ref string, periodEnd time.Time) error {
	args := m.Called(ctx, ref, periodEnd)
	return args.Error(0)
}

func (m *mockStore) ListExpired(ctx context.Context, now time.Time, limit int32) ([]subscription.Subscription, error) {
	args := m.Called(ctx, now, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]subscription.Subscription), args.Error(1)
}

func (m *mockStore) Deactivate(ctx context.Context, id uuid.UUID) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

type mockCouponValidator struct {
	mock.Mock
}

func (m *mockCouponValidator) Validate(ctx context.Context, code string, mode coupon.Mode) (*coupon.Coupon, error) {
	args := m.Called(ctx, code, mode)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*coupon.Coupon), args.Error(1)
}

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) Name() string { return "mock" }

func (m *mockProvider) CreateCheckoutSession(ctx context.Context, req subscription.CheckoutRequest) (*subscription.CheckoutSession, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*subscription.CheckoutSession), args.Error(1)
}

func (m *mockProvider) GetCustomerPortalLink(ctx context.Context, sub *subscription.Subscription) (*subscription.PortalLink, error) {
	args := m.Called(ctx, sub)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*subscription.PortalLink), args.Error(1)
}

func (m *mockProvider) ParseWebhook(ctx context.Context, payload []byte, signature string) (*subscription.WebhookEvent, error) {
	args := m.Called(ctx, payload, signature)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*subscription.WebhookEvent), args.Error(1)
}

type mockEnforcer struct {
	mock.Mock
}

func (m *mockEnforcer) Apply(ctx context.Context, ownerID uuid.UUID, oldPlan, newPlan *plan.Plan) (quota.Change, error) {
	args := m.Called(ctx, ownerID, oldPlan, newPlan)
	return args.Get(0).(quota.Change), args.Error(1)
}

func testPlans() map[string]plan.Plan {
	return map[string]plan.Plan{
		"starter": {
			ID: "starter", Name: "Starter", MaxHorses: 1,
			MonthlyPrice: plan.Money{Amount: 900, Currency: "USD"},
			AnnualPrice:  plan.Money{Amount: 9000, Currency: "USD"},
		},
		"trainer": {
			ID: "trainer", Name: "Trainer", MaxHorses: 5,
			MonthlyPrice: plan.Money{Amount: 2900, Currency: "USD"},
			AnnualPrice:  plan.Money{Amount: 29000, Currency: "USD"},
		},
		"stable": {
			ID: "stable", Name: "Stable", MaxHorses: plan.Unlimited,
			MonthlyPrice: plan.Money{Amount: 9900, Currency: "USD"},
			AnnualPrice:  plan.Money{Amount: 99000, Currency: "USD"},
		},
	}
}

type serviceFixture struct {
	store    *mockStore
	coupons  *mockCouponValidator
	provider *mockProvider
	enforcer *mockEnforcer
	service  *subscription.Service
}

func newServiceFixture(t *testing.T, opts ...subscription.ServiceOption) *serviceFixture {
	t.Helper()
	f := &serviceFixture{
		store:    new(mockStore),
		coupons:  new(mockCouponValidator),
		provider: new(mockProvider),
		enforcer: new(mockEnforcer),
	}
	f.service = subscription.NewService(testPlans(), f.store, f.coupons, f.provider, f.enforcer, opts...)
	return f
}

func TestService_StartCheckout(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	userID := uuid.New()

	t.Run("plain checkout passes list price through", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t)
		f.provider.On("CreateCheckoutSession", mock.Anything, mock.MatchedBy(func(req subscription.CheckoutRequest) bool {
			return req.UserID == userID &&
				req.Plan.ID == "trainer" &&
				req.UnitPrice.Amount == 2900 &&
				req.CouponID == nil
		})).Return(&subscription.CheckoutSession{URL: "https://pay.example/s1"}, nil)

		sess, err := f.service.StartCheckout(ctx, userID, "trainer", "monthly", "")
		require.NoError(t, err)
		assert.Equal(t, "https://pay.example/s1", sess.URL)
		f.provider.AssertExpectations(t)
		f.store.AssertNotCalled(t, "UpsertByProviderRef", mock.Anything, mock.Anything)
	})

	t.Run("coupon discounts the unit price and rides the metadata", func(t *testing.T) {
		t.Parallel()

		couponID := uuid.New()
		f := newServiceFixture(t)
		f.coupons.On("Validate", ctx, "SPRING25", coupon.ModeCheckout).
			Return(&coupon.Coupon{ID: couponID, Code: "SPRING25", DiscountPercent: 25}, nil)
		f.provider.On("CreateCheckoutSession", mock.Anything, mock.MatchedBy(func(req subscription.CheckoutRequest) bool {
			return req.UnitPrice.Amount == 2175 &&
				req.ListPrice.Amount == 2900 &&
				req.CouponID != nil && *req.CouponID == couponID &&
				req.Metadata()["coupon_id"] == couponID.String()
		})).Return(&subscription.CheckoutSession{URL: "https://pay.example/s2"}, nil)

		_, err := f.service.StartCheckout(ctx, userID, "trainer", "monthly", "SPRING25")
		require.NoError(t, err)
		f.provider.AssertExpectations(t)
	})

	t.Run("invalid coupon stops before the provider call", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t)
		f.coupons.On("Validate", ctx, "DEAD", coupon.ModeCheckout).
			Return(nil, coupon.ErrCouponExpired)

		_, err := f.service.StartCheckout(ctx, userID, "trainer", "monthly", "DEAD")
		assert.ErrorIs(t, err, coupon.ErrCouponExpired)
		f.provider.AssertNotCalled(t, "CreateCheckoutSession", mock.Anything, mock.Anything)
	})

	t.Run("unknown plan", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t)
		_, err := f.service.StartCheckout(ctx, userID, "platinum", "monthly", "")
		assert.ErrorIs(t, err, plan.ErrPlanNotFound)
	})

	t.Run("bad billing cycle", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t)
		_, err := f.service.StartCheckout(ctx, userID, "trainer", "weekly", "")
		assert.ErrorIs(t, err, plan.ErrInvalidBillingCycle)
	})

	t.Run("provider failure wraps checkout error", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t)
		f.provider.On("CreateCheckoutSession", mock.Anything, mock.Anything).
			Return(nil, errors.New("gateway timeout"))

		_, err := f.service.StartCheckout(ctx, userID, "trainer", "monthly", "")
		assert.ErrorIs(t, err, subscription.ErrCheckoutCreationFailed)
	})
}

func TestService_ActivateFree(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	userID := uuid.New()

	t.Run("full discount coupon activates without the processor", func(t *testing.T) {
		t.Parallel()

		couponID := uuid.New()
		f := newServiceFixture(t)
		f.coupons.On("Validate", ctx, "FREEYEAR", coupon.ModeFreeActivation).
			Return(&coupon.Coupon{ID: couponID, Code: "FREEYEAR", DiscountPercent: 100}, nil)
		f.store.On("CreateFreeActivation", ctx, mock.MatchedBy(func(sub *subscription.Subscription) bool {
			return sub.UserID == userID &&
				sub.PlanID == "trainer" &&
				sub.CouponID != nil && *sub.CouponID == couponID &&
				sub.IsActive &&
				sub.ProviderRef == "" &&
				sub.EndsAt.Equal(sub.StartedAt.AddDate(1, 0, 0))
		}), (*int64)(nil)).Return(nil)
		f.enforcer.On("Apply", ctx, userID, (*plan.Plan)(nil), mock.AnythingOfType("*plan.Plan")).
			Return(quota.Change{}, nil)

		sub, err := f.service.ActivateFree(ctx, userID, "trainer", "annual", "FREEYEAR")
		require.NoError(t, err)
		assert.Equal(t, "trainer", sub.PlanID)
		f.store.AssertExpectations(t)
		f.enforcer.AssertExpectations(t)
		f.provider.AssertNotCalled(t, "CreateCheckoutSession", mock.Anything, mock.Anything)
	})

	t.Run("missing coupon code", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t)
		_, err := f.service.ActivateFree(ctx, userID, "trainer", "monthly", "")
		assert.ErrorIs(t, err, subscription.ErrCouponRequired)
	})

	t.Run("partial discount rejected with no row written", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t)
		f.coupons.On("Validate", ctx, "HALF", coupon.ModeFreeActivation).
			Return(nil, coupon.ErrCouponRequiresPayment)

		_, err := f.service.ActivateFree(ctx, userID, "trainer", "monthly", "HALF")
		assert.ErrorIs(t, err, coupon.ErrCouponRequiresPayment)
		f.store.AssertNotCalled(t, "CreateFreeActivation", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("repeat redemption surfaces conflict", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t)
		f.coupons.On("Validate", ctx, "FREEYEAR", coupon.ModeFreeActivation).
			Return(&coupon.Coupon{ID: uuid.New(), DiscountPercent: 100}, nil)
		f.store.On("CreateFreeActivation", ctx, mock.Anything, (*int64)(nil)).
			Return(subscription.ErrConflict)

		_, err := f.service.ActivateFree(ctx, userID, "trainer", "monthly", "FREEYEAR")
		assert.ErrorIs(t, err, subscription.ErrConflict)
		f.enforcer.AssertNotCalled(t, "Apply", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("enforcement failure does not fail activation", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t)
		f.coupons.On("Validate", ctx, "FREEYEAR", coupon.ModeFreeActivation).
			Return(&coupon.Coupon{ID: uuid.New(), DiscountPercent: 100}, nil)
		f.store.On("CreateFreeActivation", ctx, mock.Anything, (*int64)(nil)).Return(nil)
		f.enforcer.On("Apply", ctx, userID, (*plan.Plan)(nil), mock.AnythingOfType("*plan.Plan")).
			Return(quota.Change{}, quota.ErrEnforcementFailed)

		sub, err := f.service.ActivateFree(ctx, userID, "trainer", "monthly", "FREEYEAR")
		require.NoError(t, err)
		assert.NotNil(t, sub)
	})
}

func TestService_HandleWebhook(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	userID := uuid.New()
	payload := []byte(`{"id":"evt_1"}`)
	const sig = "t=1,v1=abc"

	periodStart := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	periodEnd := periodStart.AddDate(0, 1, 0)

	t.Run("rejected signature never touches the store", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t)
		f.provider.On("ParseWebhook", ctx, payload, sig).
			Return(nil, subscription.ErrSignatureInvalid)

		err := f.service.HandleWebhook(ctx, payload, sig)
		assert.ErrorIs(t, err, subscription.ErrSignatureInvalid)
		f.store.AssertNotCalled(t, "UpsertByProviderRef", mock.Anything, mock.Anything)
	})

	t.Run("checkout completed upserts by provider ref and enforces quota", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t)
		f.provider.On("ParseWebhook", ctx, payload, sig).Return(&subscription.WebhookEvent{
			Type:        subscription.EventCheckoutCompleted,
			ProviderRef: "sub_123",
			UserID:      userID.String(),
			PlanID:      "trainer",
			Cycle:       "monthly",
			Status:      "active",
			PeriodStart: periodStart,
			PeriodEnd:   periodEnd,
		}, nil)
		f.store.On("UpsertByProviderRef", ctx, mock.MatchedBy(func(sub *subscription.Subscription) bool {
			return sub.ProviderRef == "sub_123" &&
				sub.UserID == userID &&
				sub.PlanID == "trainer" &&
				sub.IsActive && !sub.IsTrial &&
				sub.EndsAt.Equal(periodEnd)
		})).Return(nil)
		f.enforcer.On("Apply", ctx, userID, (*plan.Plan)(nil), mock.AnythingOfType("*plan.Plan")).
			Return(quota.Change{}, nil)

		require.NoError(t, f.service.HandleWebhook(ctx, payload, sig))
		f.store.AssertExpectations(t)
		f.enforcer.AssertExpectations(t)
	})

	t.Run("checkout without period bounds derives a provisional window", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t)
		f.provider.On("ParseWebhook", ctx, payload, sig).Return(&subscription.WebhookEvent{
			Type:        subscription.EventCheckoutCompleted,
			ProviderRef: "sub_456",
			UserID:      userID.String(),
			PlanID:      "starter",
			Cycle:       "annual",
			Status:      "active",
		}, nil)
		f.store.On("UpsertByProviderRef", ctx, mock.MatchedBy(func(sub *subscription.Subscription) bool {
			return sub.EndsAt.Equal(sub.StartedAt.AddDate(1, 0, 0))
		})).Return(nil)
		f.enforcer.On("Apply", ctx, userID, (*plan.Plan)(nil), mock.AnythingOfType("*plan.Plan")).
			Return(quota.Change{}, nil)

		require.NoError(t, f.service.HandleWebhook(ctx, payload, sig))
		f.store.AssertExpectations(t)
	})

	t.Run("redelivered checkout event replays cleanly", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t)
		event := &subscription.WebhookEvent{
			Type:        subscription.EventCheckoutCompleted,
			ProviderRef: "sub_123",
			UserID:      userID.String(),
			PlanID:      "trainer",
			Cycle:       "monthly",
			Status:      "active",
			PeriodStart: periodStart,
			PeriodEnd:   periodEnd,
		}
		f.provider.On("ParseWebhook", ctx, payload, sig).Return(event, nil)
		f.store.On("UpsertByProviderRef", ctx, mock.Anything).Return(nil)
		f.enforcer.On("Apply", ctx, userID, (*plan.Plan)(nil), mock.AnythingOfType("*plan.Plan")).
			Return(quota.Change{}, nil)

		require.NoError(t, f.service.HandleWebhook(ctx, payload, sig))
		require.NoError(t, f.service.HandleWebhook(ctx, payload, sig))
		f.store.AssertNumberOfCalls(t, "UpsertByProviderRef", 2)
	})

	t.Run("update event syncs absolute fields", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t)
		f.provider.On("ParseWebhook", ctx, payload, sig).Return(&subscription.WebhookEvent{
			Type:        subscription.EventSubscriptionUpdated,
			ProviderRef: "sub_123",
			Status:      "past_due",
			PeriodEnd:   periodEnd,
		}, nil)
		f.store.On("SyncStatusByProviderRef", ctx, "sub_123", false, false, periodEnd).Return(nil)
		f.store.On("GetByProviderRef", ctx, "sub_123").Return(&subscription.Subscription{
			UserID:   userID,
			PlanID:   "trainer",
			IsActive: false,
			EndsAt:   periodEnd,
		}, nil)
		f.enforcer.On("Apply", ctx, userID, (*plan.Plan)(nil), (*plan.Plan)(nil)).
			Return(quota.Change{}, nil)

		require.NoError(t, f.service.HandleWebhook(ctx, payload, sig))
		f.store.AssertExpectations(t)
	})

	t.Run("update for unknown subscription is acknowledged", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t)
		f.provider.On("ParseWebhook", ctx, payload, sig).Return(&subscription.WebhookEvent{
			Type:        subscription.EventSubscriptionUpdated,
			ProviderRef: "sub_phantom",
			Status:      "active",
			PeriodEnd:   periodEnd,
		}, nil)
		f.store.On("SyncStatusByProviderRef", ctx, "sub_phantom", true, false, periodEnd).
			Return(subscription.ErrSubscriptionNotFound)

		assert.NoError(t, f.service.HandleWebhook(ctx, payload, sig))
	})

	t.Run("cancellation stamps cancelled_at and downgrades quota", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t)
		f.provider.On("ParseWebhook", ctx, payload, sig).Return(&subscription.WebhookEvent{
			Type:        subscription.EventSubscriptionCancelled,
			ProviderRef: "sub_123",
		}, nil)
		f.store.On("CancelByProviderRef", ctx, "sub_123", mock.AnythingOfType("time.Time")).Return(nil)
		cancelled := time.Now().UTC()
		f.store.On("GetByProviderRef", ctx, "sub_123").Return(&subscription.Subscription{
			UserID:      userID,
			PlanID:      "trainer",
			CancelledAt: &cancelled,
		}, nil)
		f.enforcer.On("Apply", ctx, userID, (*plan.Plan)(nil), (*plan.Plan)(nil)).
			Return(quota.Change{}, nil)

		require.NoError(t, f.service.HandleWebhook(ctx, payload, sig))
		f.store.AssertExpectations(t)
		f.enforcer.AssertExpectations(t)
	})

	t.Run("payment success extends the period", func(t *testing.T) {
		t.Parallel()

		nextEnd := periodEnd.AddDate(0, 1, 0)
		f := newServiceFixture(t)
		f.provider.On("ParseWebhook", ctx, payload, sig).Return(&subscription.WebhookEvent{
			Type:        subscription.EventPaymentSucceeded,
			ProviderRef: "sub_123",
			PeriodEnd:   nextEnd,
		}, nil)
		f.store.On("ExtendPeriodByProviderRef", ctx, "sub_123", nextEnd).Return(nil)
		f.store.On("GetByProviderRef", ctx, "sub_123").Return(&subscription.Subscription{
			UserID:   userID,
			PlanID:   "trainer",
			IsActive: true,
			EndsAt:   nextEnd,
		}, nil)
		f.enforcer.On("Apply", ctx, userID, (*plan.Plan)(nil), mock.AnythingOfType("*plan.Plan")).
			Return(quota.Change{}, nil)

		require.NoError(t, f.service.HandleWebhook(ctx, payload, sig))
		f.store.AssertExpectations(t)
	})

	t.Run("unknown event types are acknowledged untouched", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t)
		f.provider.On("ParseWebhook", ctx, payload, sig).Return(&subscription.WebhookEvent{
			Type:          subscription.EventUnknown,
			ProviderEvent: "charge.refunded",
		}, nil)

		assert.NoError(t, f.service.HandleWebhook(ctx, payload, sig))
	})

	t.Run("persistence failure propagates so the processor redelivers", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t)
		f.provider.On("ParseWebhook", ctx, payload, sig).Return(&subscription.WebhookEvent{
			Type:        subscription.EventSubscriptionUpdated,
			ProviderRef: "sub_123",
			Status:      "active",
			PeriodEnd:   periodEnd,
		}, nil)
		f.store.On("SyncStatusByProviderRef", ctx, "sub_123", true, false, periodEnd).
			Return(errors.New("deadlock detected"))

		err := f.service.HandleWebhook(ctx, payload, sig)
		assert.ErrorIs(t, err, subscription.ErrPersistence)
	})
}

type mockHorseCounter struct {
	mock.Mock
}

func (m *mockHorseCounter) CountActive(ctx context.Context, ownerID uuid.UUID) (int64, error) {
	args := m.Called(ctx, ownerID)
	return args.Get(0).(int64), args.Error(1)
}

func TestService_GetEntitlement(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	userID := uuid.New()

	t.Run("no subscription falls back to free tier", func(t *testing.T) {
		t.Parallel()

		counter := new(mockHorseCounter)
		counter.On("CountActive", ctx, userID).Return(int64(1), nil)
		f := newServiceFixture(t,
			subscription.WithFreeTierLimit(1),
			subscription.WithHorseCounter(counter),
		)
		f.store.On("GetActiveByUser", ctx, userID).Return(nil, subscription.ErrSubscriptionNotFound)

		ent, err := f.service.GetEntitlement(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, subscription.StatusNone, ent.Status)
		assert.Equal(t, int64(1), ent.MaxHorses)
		assert.False(t, ent.CanAddHorse)
	})

	t.Run("active plan projects its limits", func(t *testing.T) {
		t.Parallel()

		counter := new(mockHorseCounter)
		counter.On("CountActive", ctx, userID).Return(int64(3), nil)
		f := newServiceFixture(t, subscription.WithHorseCounter(counter))
		f.store.On("GetActiveByUser", ctx, userID).Return(&subscription.Subscription{
			UserID:   userID,
			PlanID:   "trainer",
			IsActive: true,
			EndsAt:   time.Now().UTC().AddDate(0, 1, 0),
		}, nil)

		ent, err := f.service.GetEntitlement(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, subscription.StatusActive, ent.Status)
		assert.Equal(t, "Trainer", ent.PlanName)
		assert.Equal(t, int64(5), ent.MaxHorses)
		assert.Equal(t, int64(3), ent.ActiveHorses)
		assert.True(t, ent.CanAddHorse)
	})

	t.Run("unlimited plan always allows another horse", func(t *testing.T) {
		t.Parallel()

		counter := new(mockHorseCounter)
		counter.On("CountActive", ctx, userID).Return(int64(200), nil)
		f := newServiceFixture(t, subscription.WithHorseCounter(counter))
		f.store.On("GetActiveByUser", ctx, userID).Return(&subscription.Subscription{
			UserID:   userID,
			PlanID:   "stable",
			IsActive: true,
			EndsAt:   time.Now().UTC().AddDate(0, 1, 0),
		}, nil)

		ent, err := f.service.GetEntitlement(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, plan.Unlimited, ent.MaxHorses)
		assert.True(t, ent.CanAddHorse)
	})

	t.Run("expired row degrades to free tier limits", func(t *testing.T) {
		t.Parallel()

		counter := new(mockHorseCounter)
		counter.On("CountActive", ctx, userID).Return(int64(0), nil)
		f := newServiceFixture(t, subscription.WithHorseCounter(counter))
		f.store.On("GetActiveByUser", ctx, userID).Return(&subscription.Subscription{
			UserID:   userID,
			PlanID:   "trainer",
			IsActive: true,
			EndsAt:   time.Now().UTC().AddDate(0, -1, 0),
		}, nil)

		ent, err := f.service.GetEntitlement(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, subscription.StatusExpired, ent.Status)
		assert.Equal(t, int64(0), ent.MaxHorses)
		assert.Empty(t, ent.PlanName)
		assert.False(t, ent.CanAddHorse)
	})
}

func TestService_GetCustomerPortalLink(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	userID := uuid.New()

	t.Run("returns provider portal link", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t)
		sub := &subscription.Subscription{UserID: userID, ProviderRef: "sub_123", IsActive: true}
		f.store.On("GetActiveByUser", ctx, userID).Return(sub, nil)
		f.provider.On("GetCustomerPortalLink", mock.Anything, sub).
			Return(&subscription.PortalLink{URL: "https://portal.example/p1"}, nil)

		link, err := f.service.GetCustomerPortalLink(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, "https://portal.example/p1", link.URL)
	})

	t.Run("free activation has no portal", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t)
		f.store.On("GetActiveByUser", ctx, userID).Return(&subscription.Subscription{
			UserID: userID, IsActive: true,
		}, nil)

		_, err := f.service.GetCustomerPortalLink(ctx, userID)
		assert.ErrorIs(t, err, subscription.ErrNoPortalAvailable)
	})
}
