package subscription

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stablebook/billing/pkg/pg"
)

type pgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a Postgres-backed subscription store.
func NewPgStore(pool *pgxpool.Pool) Store {
	if pool == nil {
		panic("subscription: pgx pool is required")
	}
	return &pgStore{pool: pool}
}

// provider_ref is NULL for free activations; the domain type carries it
// as an empty string.
const subscriptionColumns = `
	id, user_id, plan_id, coupon_id, COALESCE(provider_ref, ''), is_active, is_trial,
	started_at, ends_at, cancelled_at, created_at, updated_at`

func scanSubscription(row pgx.Row) (*Subscription, error) {
	var sub Subscription
	err := row.Scan(
		&sub.ID, &sub.UserID, &sub.PlanID, &sub.CouponID, &sub.ProviderRef,
		&sub.IsActive, &sub.IsTrial, &sub.StartedAt, &sub.EndsAt,
		&sub.CancelledAt, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, errors.Join(errors.New("failed to scan subscription"), err)
	}
	return &sub, nil
}

func (s *pgStore) GetActiveByUser(ctx context.Context, userID uuid.UUID) (*Subscription, error) {
	query := `SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE user_id = $1 AND is_active = TRUE`

	return scanSubscription(s.pool.QueryRow(ctx, query, userID))
}

func (s *pgStore) GetByProviderRef(ctx context.Context, ref string) (*Subscription, error) {
	query := `SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE provider_ref = $1`

	return scanSubscription(s.pool.QueryRow(ctx, query, ref))
}

func (s *pgStore) CreateFreeActivation(ctx context.Context, sub *Subscription, maxRedemptions *int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return errors.Join(errors.New("failed to begin transaction"), err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	// Lock the coupon row before the conditional insert. The lock
	// serializes redemptions of one coupon across users: a concurrent
	// transaction blocks here until this one commits, and under READ
	// COMMITTED its insert below then runs on a fresh statement snapshot
	// that already sees this redemption. The lock must be its own
	// statement; folded into the insert it would block without
	// refreshing the count subquery's snapshot.
	const lockCoupon = `SELECT id FROM coupons WHERE id = $1 FOR UPDATE`
	if _, err := tx.Exec(ctx, lockCoupon, sub.CouponID); err != nil {
		return errors.Join(errors.New("failed to lock coupon"), err)
	}

	// The per-user uniqueness rides on the (coupon_id, user_id)
	// constraint; the cap is recomputed inside the statement.
	const query = `
		INSERT INTO subscriptions (id, user_id, plan_id, coupon_id, is_active, is_trial, started_at, ends_at)
		SELECT $1, $2, $3, $4, TRUE, FALSE, $5, $6
		WHERE NOT EXISTS (
			SELECT 1 FROM subscriptions WHERE coupon_id = $4 AND user_id = $2
		)
		AND ($7::BIGINT IS NULL OR (
			SELECT COUNT(*) FROM subscriptions WHERE coupon_id = $4
		) < $7)`

	tag, err := tx.Exec(ctx, query,
		sub.ID, sub.UserID, sub.PlanID, sub.CouponID,
		sub.StartedAt, sub.EndsAt, maxRedemptions,
	)
	if err != nil {
		if pg.IsDuplicateKeyError(err) {
			return ErrConflict
		}
		return errors.Join(errors.New("failed to insert free activation"), err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Join(errors.New("failed to commit free activation"), err)
	}
	return nil
}

func (s *pgStore) UpsertByProviderRef(ctx context.Context, sub *Subscription) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return errors.Join(errors.New("failed to begin transaction"), err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	// Supersede any other active row first so the partial unique index
	// on (user_id) WHERE is_active never trips.
	const supersede = `
		UPDATE subscriptions
		SET is_active = FALSE, updated_at = now()
		WHERE user_id = $1 AND is_active = TRUE AND provider_ref IS DISTINCT FROM $2`
	if _, err := tx.Exec(ctx, supersede, sub.UserID, sub.ProviderRef); err != nil {
		return errors.Join(errors.New("failed to supersede active subscription"), err)
	}

	const upsert = `
		INSERT INTO subscriptions (
			id, user_id, plan_id, coupon_id, provider_ref,
			is_active, is_trial, started_at, ends_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (provider_ref) DO UPDATE SET
			plan_id = EXCLUDED.plan_id,
			is_active = EXCLUDED.is_active,
			is_trial = EXCLUDED.is_trial,
			started_at = EXCLUDED.started_at,
			ends_at = EXCLUDED.ends_at,
			updated_at = now()`
	_, err = tx.Exec(ctx, upsert,
		sub.ID, sub.UserID, sub.PlanID, sub.CouponID, sub.ProviderRef,
		sub.IsActive, sub.IsTrial, sub.StartedAt, sub.EndsAt,
	)
	if err != nil {
		return errors.Join(errors.New("failed to upsert subscription"), err)
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Join(errors.New("failed to commit subscription upsert"), err)
	}
	return nil
}

func (s *pgStore) SyncStatusByProviderRef(ctx context.Context, ref string, isActive, isTrial bool, endsAt time.Time) error {
	const query = `
		UPDATE subscriptions
		SET is_active = $2, is_trial = $3,
			ends_at = CASE WHEN $4::TIMESTAMPTZ IS NULL THEN ends_at ELSE $4 END,
			updated_at = now()
		WHERE provider_ref = $1`

	var end *time.Time
	if !endsAt.IsZero() {
		end = &endsAt
	}

	tag, err := s.pool.Exec(ctx, query, ref, isActive, isTrial, end)
	if err != nil {
		return errors.Join(errors.New("failed to sync subscription status"), err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

func (s *pgStore) CancelByProviderRef(ctx context.Context, ref string, cancelledAt time.Time) error {
	const query = `
		UPDATE subscriptions
		SET is_active = FALSE,
			cancelled_at = COALESCE(cancelled_at, $2),
			updated_at = now()
		WHERE provider_ref = $1`

	tag, err := s.pool.Exec(ctx, query, ref, cancelledAt)
	if err != nil {
		return errors.Join(errors.New("failed to cancel subscription"), err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

func (s *pgStore) ExtendPeriodByProviderRef(ctx context.Context, ref string, periodEnd time.Time) error {
	const query = `
		UPDATE subscriptions
		SET ends_at = $2, is_active = TRUE, updated_at = now()
		WHERE provider_ref = $1 AND cancelled_at IS NULL`

	tag, err := s.pool.Exec(ctx, query, ref, periodEnd)
	if err != nil {
		return errors.Join(errors.New("failed to extend subscription period"), err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

func (s *pgStore) ListExpired(ctx context.Context, now time.Time, limit int32) ([]Subscription, error) {
	query := `SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE is_active = TRUE AND cancelled_at IS NULL AND ends_at <= $1
		ORDER BY ends_at ASC
		LIMIT $2`

	rows, err := s.pool.Query(ctx, query, now, limit)
	if err != nil {
		return nil, errors.Join(errors.New("failed to list expired subscriptions"), err)
	}
	defer rows.Close()

	var subs []Subscription
	for rows.Next() {
		var sub Subscription
		err := rows.Scan(
			&sub.ID, &sub.UserID, &sub.PlanID, &sub.CouponID, &sub.ProviderRef,
			&sub.IsActive, &sub.IsTrial, &sub.StartedAt, &sub.EndsAt,
			&sub.CancelledAt, &sub.CreatedAt, &sub.UpdatedAt,
		)
		if err != nil {
			return nil, errors.Join(errors.New("failed to scan expired subscription"), err)
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func (s *pgStore) Deactivate(ctx context.Context, id uuid.UUID) (bool, error) {
	// The is_active predicate makes the flip exactly-once across
	// overlapping sweeps.
	const query = `
		UPDATE subscriptions
		SET is_active = FALSE, updated_at = now()
		WHERE id = $1 AND is_active = TRUE`

	tag, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return false, errors.Join(errors.New("failed to deactivate subscription"), err)
	}
	return tag.RowsAffected() > 0, nil
}
