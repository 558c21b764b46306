// Package sweeper deactivates subscriptions whose paid period has
// elapsed. A sweep is safe to run from cron, a loop, and an HTTP trigger
// at once: the conditional deactivation flips each row exactly once, and
// a failure on one row never aborts the batch.
package sweeper

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/stablebook/billing/pkg/email"
	"github.com/stablebook/billing/pkg/plan"
	"github.com/stablebook/billing/pkg/quota"
	"github.com/stablebook/billing/pkg/subscription"
)

var ErrSweepFailed = errors.New("expiration sweep failed")

// Directory resolves a user id to a notification address.
type Directory interface {
	EmailFor(ctx context.Context, userID uuid.UUID) (string, error)
}

// QuotaEnforcer reconciles a user's horses after a plan transition.
type QuotaEnforcer interface {
	Apply(ctx context.Context, ownerID uuid.UUID, oldPlan, newPlan *plan.Plan) (quota.Change, error)
}

// Summary reports what one sweep did. QuotaFailed rows are deactivated
// but still hold horses above the free tier limit; they need manual
// reconciliation because the sweep query no longer matches them.
type Summary struct {
	Scanned          int `json:"scanned"`
	Deactivated      int `json:"deactivated"`
	AlreadyProcessed int `json:"already_processed"`
	Failed           int `json:"failed"`
	QuotaFailed      int `json:"quota_failed"`
	Notified         int `json:"notified"`
	NotifyFailed     int `json:"notify_failed"`
}

// Sweeper walks expired subscriptions and degrades each owner to the
// free tier.
type Sweeper struct {
	store     subscription.Store
	enforcer  QuotaEnforcer
	plans     map[string]plan.Plan
	mailer    email.Sender
	directory Directory

	batchSize int32
	interval  time.Duration
	log       *slog.Logger
	now       func() time.Time
}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithBatchSize caps how many rows a single sweep processes. Defaults
// to 100.
func WithBatchSize(n int32) Option {
	return func(s *Sweeper) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithInterval sets how often Start runs a sweep. Defaults to one hour.
func WithInterval(d time.Duration) Option {
	return func(s *Sweeper) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithNotifier enables the expiration email. Without it, sweeps degrade
// entitlements silently.
func WithNotifier(mailer email.Sender, directory Directory) Option {
	return func(s *Sweeper) {
		s.mailer = mailer
		s.directory = directory
	}
}

// WithLogger sets the sweeper's logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Sweeper) {
		if log != nil {
			s.log = log
		}
	}
}

// New creates an expiration sweeper. Panics on nil required dependencies
// to fail fast during initialization.
func New(store subscription.Store, enforcer QuotaEnforcer, plans map[string]plan.Plan, opts ...Option) *Sweeper {
	if store == nil {
		panic("sweeper: subscription store is required")
	}
	if enforcer == nil {
		panic("sweeper: quota enforcer is required")
	}

	s := &Sweeper{
		store:     store,
		enforcer:  enforcer,
		plans:     plans,
		batchSize: 100,
		interval:  time.Hour,
		log:       slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run executes one sweep. Returns an error only when the expired set
// cannot be listed at all; per-row failures are counted in the summary
// and left for the next sweep.
func (s *Sweeper) Run(ctx context.Context) (Summary, error) {
	now := s.now().UTC()

	expired, err := s.store.ListExpired(ctx, now, s.batchSize)
	if err != nil {
		return Summary{}, errors.Join(ErrSweepFailed, err)
	}

	var sum Summary
	sum.Scanned = len(expired)

	for i := range expired {
		sub := &expired[i]
		s.sweepOne(ctx, sub, &sum)
	}

	s.log.InfoContext(ctx, "expiration sweep finished",
		slog.Int("scanned", sum.Scanned),
		slog.Int("deactivated", sum.Deactivated),
		slog.Int("already_processed", sum.AlreadyProcessed),
		slog.Int("failed", sum.Failed),
		slog.Int("quota_failed", sum.QuotaFailed),
		slog.Int("notified", sum.Notified),
	)

	return sum, nil
}

func (s *Sweeper) sweepOne(ctx context.Context, sub *subscription.Subscription, sum *Summary) {
	flipped, err := s.store.Deactivate(ctx, sub.ID)
	if err != nil {
		sum.Failed++
		s.log.ErrorContext(ctx, "failed to deactivate expired subscription",
			slog.String("subscription_id", sub.ID.String()),
			slog.Any("error", err),
		)
		return
	}
	if !flipped {
		// Another sweep or a webhook got here first.
		sum.AlreadyProcessed++
		return
	}
	sum.Deactivated++

	// The owner falls back to the free tier limit.
	if _, err := s.enforcer.Apply(ctx, sub.UserID, s.planOf(sub.PlanID), nil); err != nil {
		sum.QuotaFailed++
		s.log.ErrorContext(ctx, "quota enforcement failed after expiration",
			slog.String("user_id", sub.UserID.String()),
			slog.Any("error", err),
		)
	}

	s.notify(ctx, sub, sum)
}

// notify sends the expiration notice. Fire and forget: a delivery failure
// never marks the row as unprocessed, so at most one notice per
// expiration is attempted.
func (s *Sweeper) notify(ctx context.Context, sub *subscription.Subscription, sum *Summary) {
	if s.mailer == nil || s.directory == nil {
		return
	}

	addr, err := s.directory.EmailFor(ctx, sub.UserID)
	if err != nil {
		sum.NotifyFailed++
		s.log.WarnContext(ctx, "failed to resolve notification address",
			slog.String("user_id", sub.UserID.String()),
			slog.Any("error", err),
		)
		return
	}

	planName := sub.PlanID
	if p, ok := s.plans[sub.PlanID]; ok {
		planName = p.Name
	}

	notice := email.SubscriptionExpiredEmail(email.SubscriptionExpiredParams{
		SendTo:   addr,
		PlanName: planName,
		EndedAt:  sub.EndsAt,
	})
	if err := s.mailer.SendEmail(ctx, notice); err != nil {
		sum.NotifyFailed++
		s.log.WarnContext(ctx, "failed to send expiration notice",
			slog.String("user_id", sub.UserID.String()),
			slog.Any("error", err),
		)
		return
	}
	sum.Notified++
}

func (s *Sweeper) planOf(id string) *plan.Plan {
	if p, ok := s.plans[id]; ok {
		return &p
	}
	return nil
}

// Start runs sweeps on the configured interval until the context is
// cancelled. The first sweep fires immediately.
func (s *Sweeper) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	if _, err := s.Run(ctx); err != nil {
		s.log.ErrorContext(ctx, "sweep run failed", slog.Any("error", err))
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.Run(ctx); err != nil {
				s.log.ErrorContext(ctx, "sweep run failed", slog.Any("error", err))
			}
		}
	}
}
