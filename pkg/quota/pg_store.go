package quota

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type pgHorseStore struct {
	pool *pgxpool.Pool
}

// NewPgHorseStore creates a Postgres-backed horse store.
func NewPgHorseStore(pool *pgxpool.Pool) HorseStore {
	if pool == nil {
		panic("quota: pgx pool is required")
	}
	return &pgHorseStore{pool: pool}
}

func (s *pgHorseStore) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]Horse, error) {
	// Secondary id ordering pins the disablement order for horses
	// created in the same instant.
	const query = `
		SELECT id, owner_id, status, created_at
		FROM horses
		WHERE owner_id = $1
		ORDER BY created_at ASC, id ASC`

	rows, err := s.pool.Query(ctx, query, ownerID)
	if err != nil {
		return nil, errors.Join(errors.New("failed to list horses"), err)
	}
	defer rows.Close()

	var horses []Horse
	for rows.Next() {
		var h Horse
		if err := rows.Scan(&h.ID, &h.OwnerID, &h.Status, &h.CreatedAt); err != nil {
			return nil, errors.Join(errors.New("failed to scan horse"), err)
		}
		horses = append(horses, h)
	}
	return horses, rows.Err()
}

func (s *pgHorseStore) SetStatus(ctx context.Context, ids []uuid.UUID, status HorseStatus) error {
	if len(ids) == 0 {
		return nil
	}

	const query = `UPDATE horses SET status = $2, updated_at = now() WHERE id = ANY($1)`
	if _, err := s.pool.Exec(ctx, query, ids, status); err != nil {
		return errors.Join(errors.New("failed to update horse status"), err)
	}
	return nil
}

func (s *pgHorseStore) CountActive(ctx context.Context, ownerID uuid.UUID) (int64, error) {
	const query = `SELECT COUNT(*) FROM horses WHERE owner_id = $1 AND status = 'active'`

	var count int64
	if err := s.pool.QueryRow(ctx, query, ownerID).Scan(&count); err != nil {
		return 0, errors.Join(errors.New("failed to count active horses"), err)
	}
	return count, nil
}

type pgAuditStore struct {
	pool *pgxpool.Pool
}

// NewPgAuditStore creates a Postgres-backed plan change audit store.
func NewPgAuditStore(pool *pgxpool.Pool) AuditStore {
	if pool == nil {
		panic("quota: pgx pool is required")
	}
	return &pgAuditStore{pool: pool}
}

func (s *pgAuditStore) Record(ctx context.Context, change Change) error {
	const query = `
		INSERT INTO plan_change_audit (
			owner_id, old_plan_id, new_plan_id, change_type,
			horses_affected, horses_disabled, horses_reactivated, occurred_at
		) VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4, $5, $6, $7, $8)`

	_, err := s.pool.Exec(ctx, query,
		change.OwnerID, change.OldPlanID, change.NewPlanID, change.Type,
		change.HorsesAffected, change.HorsesDisabled, change.HorsesReactivated, change.OccurredAt,
	)
	if err != nil {
		return errors.Join(errors.New("failed to record plan change"), err)
	}
	return nil
}
