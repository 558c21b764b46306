package coupon

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stablebook/billing/pkg/pg"
)

type pgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a Postgres-backed coupon store.
func NewPgStore(pool *pgxpool.Pool) Store {
	if pool == nil {
		panic("coupon: pgx pool is required")
	}
	return &pgStore{pool: pool}
}

func (s *pgStore) GetByCode(ctx context.Context, code string) (*Coupon, error) {
	const query = `
		SELECT id, code, discount_percent, expires_at, max_redemptions, created_at
		FROM coupons
		WHERE code = $1`

	var c Coupon
	err := s.pool.QueryRow(ctx, query, code).Scan(
		&c.ID, &c.Code, &c.DiscountPercent, &c.ExpiresAt, &c.MaxRedemptions, &c.CreatedAt,
	)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, ErrCouponNotFound
		}
		return nil, errors.Join(errors.New("failed to load coupon"), err)
	}
	return &c, nil
}

func (s *pgStore) RedemptionCount(ctx context.Context, couponID uuid.UUID) (int64, error) {
	const query = `SELECT COUNT(*) FROM subscriptions WHERE coupon_id = $1`

	var count int64
	if err := s.pool.QueryRow(ctx, query, couponID).Scan(&count); err != nil {
		return 0, errors.Join(errors.New("failed to count coupon redemptions"), err)
	}
	return count, nil
}
