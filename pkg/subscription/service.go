package subscription

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/stablebook/billing/pkg/coupon"
	"github.com/stablebook/billing/pkg/plan"
	"github.com/stablebook/billing/pkg/quota"
)

// CouponValidator checks coupon codes for a validation mode.
type CouponValidator interface {
	Validate(ctx context.Context, code string, mode coupon.Mode) (*coupon.Coupon, error)
}

// QuotaEnforcer reconciles a user's horses after a plan transition.
type QuotaEnforcer interface {
	Apply(ctx context.Context, ownerID uuid.UUID, oldPlan, newPlan *plan.Plan) (quota.Change, error)
}

// HorseCounter reports a user's currently active horses for the
// entitlement projection.
type HorseCounter interface {
	CountActive(ctx context.Context, ownerID uuid.UUID) (int64, error)
}

// Service orchestrates checkout, free activation, webhook reconciliation,
// and the entitlement projection. It owns no payment logic; all payment
// complexity lives behind the BillingProvider.
type Service struct {
	plans    map[string]plan.Plan
	store    Store
	coupons  CouponValidator
	provider BillingProvider
	enforcer QuotaEnforcer
	horses   HorseCounter

	providerTimeout time.Duration
	freeTierLimit   int64
	successURL      string
	cancelURL       string
	log             *slog.Logger
	now             func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithProviderTimeout bounds outbound calls to the payment processor.
// Defaults to 15 seconds.
func WithProviderTimeout(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.providerTimeout = d
		}
	}
}

// WithFreeTierLimit sets the horse limit reported for users with no
// subscription. Defaults to zero.
func WithFreeTierLimit(limit int64) ServiceOption {
	return func(s *Service) {
		if limit >= 0 {
			s.freeTierLimit = limit
		}
	}
}

// WithRedirectURLs sets where the hosted checkout sends the user back.
func WithRedirectURLs(successURL, cancelURL string) ServiceOption {
	return func(s *Service) {
		s.successURL = successURL
		s.cancelURL = cancelURL
	}
}

// WithHorseCounter enables live active-horse counts in GetEntitlement.
func WithHorseCounter(counter HorseCounter) ServiceOption {
	return func(s *Service) {
		s.horses = counter
	}
}

// WithServiceLogger sets the service's logger.
func WithServiceLogger(log *slog.Logger) ServiceOption {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// NewService creates the billing service. Panics on nil required
// dependencies to fail fast during initialization.
func NewService(
	plans map[string]plan.Plan,
	store Store,
	coupons CouponValidator,
	provider BillingProvider,
	enforcer QuotaEnforcer,
	opts ...ServiceOption,
) *Service {
	if len(plans) == 0 {
		panic("subscription: plan catalog is required")
	}
	if store == nil {
		panic("subscription: store is required")
	}
	if coupons == nil {
		panic("subscription: coupon validator is required")
	}
	if provider == nil {
		panic("subscription: billing provider is required")
	}
	if enforcer == nil {
		panic("subscription: quota enforcer is required")
	}

	s := &Service{
		plans:           plans,
		store:           store,
		coupons:         coupons,
		provider:        provider,
		enforcer:        enforcer,
		providerTimeout: 15 * time.Second,
		log:             slog.Default(),
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) planByID(id string) (plan.Plan, error) {
	p, ok := s.plans[id]
	if !ok {
		return plan.Plan{}, plan.ErrPlanNotFound
	}
	return p, nil
}

// StartCheckout validates the plan and optional coupon, then asks the
// payment processor for a hosted checkout session. No subscription row is
// created here; the row appears only when the processor confirms payment
// through the webhook.
func (s *Service) StartCheckout(ctx context.Context, userID uuid.UUID, planID, cycleRaw, couponCode string) (*CheckoutSession, error) {
	p, err := s.planByID(planID)
	if err != nil {
		return nil, err
	}

	cycle, err := plan.ParseCycle(cycleRaw)
	if err != nil {
		return nil, err
	}

	listPrice, err := p.Price(cycle)
	if err != nil {
		return nil, err
	}

	req := CheckoutRequest{
		UserID:     userID,
		Plan:       p,
		Cycle:      cycle,
		UnitPrice:  listPrice,
		ListPrice:  listPrice,
		SuccessURL: s.successURL,
		CancelURL:  s.cancelURL,
	}

	if couponCode != "" {
		c, err := s.coupons.Validate(ctx, couponCode, coupon.ModeCheckout)
		if err != nil {
			return nil, err
		}
		req.CouponID = &c.ID
		req.UnitPrice = c.DiscountedPrice(listPrice)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.providerTimeout)
	defer cancel()

	sess, err := s.provider.CreateCheckoutSession(callCtx, req)
	if err != nil {
		return nil, errors.Join(ErrCheckoutCreationFailed, err)
	}

	s.log.InfoContext(ctx, "checkout session created",
		slog.String("user_id", userID.String()),
		slog.String("plan_id", planID),
		slog.String("billing_cycle", string(cycle)),
		slog.Bool("coupon_applied", req.CouponID != nil),
	)

	return sess, nil
}

// ActivateFree grants a subscription directly for a 100%-discount coupon,
// bypassing the payment processor entirely. The insert is a single
// conditional statement; when the coupon was already redeemed by this
// user or its cap is reached, ErrConflict comes back with no row written.
func (s *Service) ActivateFree(ctx context.Context, userID uuid.UUID, planID, cycleRaw, couponCode string) (*Subscription, error) {
	if couponCode == "" {
		return nil, ErrCouponRequired
	}

	p, err := s.planByID(planID)
	if err != nil {
		return nil, err
	}

	cycle, err := plan.ParseCycle(cycleRaw)
	if err != nil {
		return nil, err
	}

	c, err := s.coupons.Validate(ctx, couponCode, coupon.ModeFreeActivation)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	sub := &Subscription{
		ID:        uuid.New(),
		UserID:    userID,
		PlanID:    p.ID,
		CouponID:  &c.ID,
		IsActive:  true,
		StartedAt: now,
		EndsAt:    PeriodFor(now, cycle),
	}

	if err := s.store.CreateFreeActivation(ctx, sub, c.MaxRedemptions); err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, err
		}
		return nil, errors.Join(ErrSubscriptionCreationFailed, err)
	}

	s.log.InfoContext(ctx, "free subscription activated",
		slog.String("user_id", userID.String()),
		slog.String("plan_id", p.ID),
		slog.String("coupon_id", c.ID.String()),
		slog.Time("ends_at", sub.EndsAt),
	)

	s.enforceQuota(ctx, userID, &p)

	return sub, nil
}

// HandleWebhook verifies and applies a processor notification. Every
// mutation is idempotent and keyed on the processor's subscription id, so
// redelivered or out-of-order events converge on the same row state.
// Returned errors signal the ingress to reply non-2xx, letting the
// processor redeliver.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	event, err := s.provider.ParseWebhook(ctx, payload, signature)
	if err != nil {
		return err
	}

	switch event.Type {
	case EventCheckoutCompleted:
		return s.applyCheckoutCompleted(ctx, event)
	case EventSubscriptionUpdated:
		return s.applySubscriptionUpdated(ctx, event)
	case EventSubscriptionCancelled:
		return s.applySubscriptionCancelled(ctx, event)
	case EventPaymentSucceeded:
		return s.applyPaymentSucceeded(ctx, event)
	default:
		s.log.DebugContext(ctx, "ignoring unhandled billing event",
			slog.String("event", event.ProviderEvent))
		return nil
	}
}

func (s *Service) applyCheckoutCompleted(ctx context.Context, event *WebhookEvent) error {
	if event.ProviderRef == "" {
		return errors.Join(ErrInvalidWebhookPayload, errors.New("missing provider subscription id"))
	}

	userID, err := uuid.Parse(event.UserID)
	if err != nil {
		return errors.Join(ErrInvalidWebhookPayload, errors.New("invalid user_id in metadata"))
	}

	p, err := s.planByID(event.PlanID)
	if err != nil {
		return errors.Join(ErrInvalidWebhookPayload, err)
	}

	var couponID *uuid.UUID
	if event.CouponID != "" {
		id, err := uuid.Parse(event.CouponID)
		if err != nil {
			return errors.Join(ErrInvalidWebhookPayload, errors.New("invalid coupon_id in metadata"))
		}
		couponID = &id
	}

	isActive, isTrial := event.ActivityFlags()

	// Some processors omit period bounds from the checkout event; a
	// provisional window is derived from the billing cycle and corrected
	// by the first subscription.updated or payment event.
	start, end := event.PeriodStart, event.PeriodEnd
	if start.IsZero() {
		start = s.now().UTC()
	}
	if end.IsZero() {
		cycle, err := plan.ParseCycle(event.Cycle)
		if err != nil {
			cycle = plan.CycleMonthly
		}
		end = PeriodFor(start, cycle)
	}

	sub := &Subscription{
		ID:          uuid.New(),
		UserID:      userID,
		PlanID:      p.ID,
		CouponID:    couponID,
		ProviderRef: event.ProviderRef,
		IsActive:    isActive,
		IsTrial:     isTrial,
		StartedAt:   start,
		EndsAt:      end,
	}

	if err := s.store.UpsertByProviderRef(ctx, sub); err != nil {
		return errors.Join(ErrPersistence, err)
	}

	s.log.InfoContext(ctx, "checkout reconciled",
		slog.String("user_id", userID.String()),
		slog.String("plan_id", p.ID),
		slog.String("provider_ref", event.ProviderRef),
	)

	s.enforceQuota(ctx, userID, &p)
	return nil
}

func (s *Service) applySubscriptionUpdated(ctx context.Context, event *WebhookEvent) error {
	if event.ProviderRef == "" {
		return errors.Join(ErrInvalidWebhookPayload, errors.New("missing provider subscription id"))
	}

	isActive, isTrial := event.ActivityFlags()

	err := s.store.SyncStatusByProviderRef(ctx, event.ProviderRef, isActive, isTrial, event.PeriodEnd)
	if errors.Is(err, ErrSubscriptionNotFound) {
		// Update for a subscription this system never created, likely
		// arriving before its checkout event. Acknowledge; the checkout
		// event carries the authoritative state.
		s.log.WarnContext(ctx, "update event for unknown subscription",
			slog.String("provider_ref", event.ProviderRef))
		return nil
	}
	if err != nil {
		return errors.Join(ErrPersistence, err)
	}

	s.reconcileQuotaByRef(ctx, event.ProviderRef)
	return nil
}

func (s *Service) applySubscriptionCancelled(ctx context.Context, event *WebhookEvent) error {
	if event.ProviderRef == "" {
		return errors.Join(ErrInvalidWebhookPayload, errors.New("missing provider subscription id"))
	}

	err := s.store.CancelByProviderRef(ctx, event.ProviderRef, s.now().UTC())
	if errors.Is(err, ErrSubscriptionNotFound) {
		s.log.WarnContext(ctx, "cancel event for unknown subscription",
			slog.String("provider_ref", event.ProviderRef))
		return nil
	}
	if err != nil {
		return errors.Join(ErrPersistence, err)
	}

	s.reconcileQuotaByRef(ctx, event.ProviderRef)
	return nil
}

func (s *Service) applyPaymentSucceeded(ctx context.Context, event *WebhookEvent) error {
	if event.ProviderRef == "" || event.PeriodEnd.IsZero() {
		s.log.DebugContext(ctx, "payment event without renewable subscription",
			slog.String("event", event.ProviderEvent))
		return nil
	}

	err := s.store.ExtendPeriodByProviderRef(ctx, event.ProviderRef, event.PeriodEnd)
	if errors.Is(err, ErrSubscriptionNotFound) {
		s.log.WarnContext(ctx, "payment event for unknown subscription",
			slog.String("provider_ref", event.ProviderRef))
		return nil
	}
	if err != nil {
		return errors.Join(ErrPersistence, err)
	}

	s.reconcileQuotaByRef(ctx, event.ProviderRef)
	return nil
}

// enforceQuota runs the quota funnel after an entitlement change.
// Enforcement failures are logged, never returned: the subscription state
// is already committed and the next transition re-runs the funnel.
func (s *Service) enforceQuota(ctx context.Context, userID uuid.UUID, newPlan *plan.Plan) {
	if _, err := s.enforcer.Apply(ctx, userID, nil, newPlan); err != nil {
		s.log.ErrorContext(ctx, "horse quota enforcement failed",
			slog.String("user_id", userID.String()),
			slog.Any("error", err),
		)
	}
}

// reconcileQuotaByRef looks a row up by provider ref and enforces the
// quota its current entitlement implies.
func (s *Service) reconcileQuotaByRef(ctx context.Context, ref string) {
	sub, err := s.store.GetByProviderRef(ctx, ref)
	if err != nil {
		s.log.ErrorContext(ctx, "failed to load subscription for quota enforcement",
			slog.String("provider_ref", ref),
			slog.Any("error", err),
		)
		return
	}

	var entitled *plan.Plan
	if sub.EntitledAt(s.now().UTC()) {
		if p, err := s.planByID(sub.PlanID); err == nil {
			entitled = &p
		}
	}
	s.enforceQuota(ctx, sub.UserID, entitled)
}

// Entitlement is the read model exposed to the product: what plan the
// user is on and whether they can add another horse right now.
type Entitlement struct {
	PlanID       string `json:"plan_id,omitempty"`
	PlanName     string `json:"plan_name,omitempty"`
	Status       Status `json:"status"`
	MaxHorses    int64  `json:"max_horses"`
	ActiveHorses int64  `json:"active_horses"`
	CanAddHorse  bool   `json:"can_add_horse"`
	EndsAt       string `json:"ends_at,omitempty"`
}

// GetEntitlement projects the user's current entitlement. Users without a
// row get the free tier; expired or cancelled rows degrade to it too.
func (s *Service) GetEntitlement(ctx context.Context, userID uuid.UUID) (*Entitlement, error) {
	sub, err := s.store.GetActiveByUser(ctx, userID)
	if err != nil && !errors.Is(err, ErrSubscriptionNotFound) {
		return nil, err
	}

	now := s.now().UTC()
	ent := &Entitlement{
		Status:    sub.StatusAt(now),
		MaxHorses: s.freeTierLimit,
	}

	if sub != nil && sub.EntitledAt(now) {
		p, err := s.planByID(sub.PlanID)
		if err != nil {
			return nil, err
		}
		ent.PlanID = p.ID
		ent.PlanName = p.Name
		ent.MaxHorses = p.MaxHorses
		ent.EndsAt = sub.EndsAt.UTC().Format(time.RFC3339)
	}

	if s.horses != nil {
		count, err := s.horses.CountActive(ctx, userID)
		if err != nil {
			return nil, errors.Join(errors.New("failed to count active horses"), err)
		}
		ent.ActiveHorses = count
	}

	ent.CanAddHorse = ent.MaxHorses == plan.Unlimited || ent.ActiveHorses < ent.MaxHorses
	return ent, nil
}

// GetCustomerPortalLink returns a temporary link to the processor's
// customer portal. Free activations have no processor subscription and
// therefore no portal.
func (s *Service) GetCustomerPortalLink(ctx context.Context, userID uuid.UUID) (*PortalLink, error) {
	sub, err := s.store.GetActiveByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	if sub.ProviderRef == "" {
		return nil, ErrNoPortalAvailable
	}

	callCtx, cancel := context.WithTimeout(ctx, s.providerTimeout)
	defer cancel()

	return s.provider.GetCustomerPortalLink(callCtx, sub)
}
