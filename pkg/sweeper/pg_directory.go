package sweeper

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stablebook/billing/pkg/pg"
)

var ErrUserNotFound = errors.New("user not found")

type pgDirectory struct {
	pool *pgxpool.Pool
}

// NewPgDirectory resolves notification addresses from the local user
// mirror. Identity lives upstream; the mirror holds only what billing
// notifications need.
func NewPgDirectory(pool *pgxpool.Pool) Directory {
	if pool == nil {
		panic("sweeper: pgx pool is required")
	}
	return &pgDirectory{pool: pool}
}

func (d *pgDirectory) EmailFor(ctx context.Context, userID uuid.UUID) (string, error) {
	const query = `SELECT email FROM users WHERE id = $1`

	var email string
	if err := d.pool.QueryRow(ctx, query, userID).Scan(&email); err != nil {
		if pg.IsNotFoundError(err) {
			return "", ErrUserNotFound
		}
		return "", errors.Join(errors.New("failed to look up user email"), err)
	}
	return email, nil
}
