// Package quota is the single funnel for horse-limit enforcement. Plan
// upgrades, downgrades, free activations, and expirations all route
// through Enforcer.Apply rather than mutating horse status directly, so
// "what the plan says" and "what is actually enabled" cannot drift.
package quota

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// HorseStatus is the enablement state of a quota-bound horse.
type HorseStatus string

const (
	HorseActive   HorseStatus = "active"
	HorseDisabled HorseStatus = "disabled"
)

// Horse is the quota-bound resource. Rows are created by the product;
// only the enforcer flips their status.
type Horse struct {
	ID        uuid.UUID
	OwnerID   uuid.UUID
	Status    HorseStatus
	CreatedAt time.Time
}

// ChangeType classifies a plan transition for the audit trail.
type ChangeType string

const (
	ChangeUpgrade   ChangeType = "upgrade"
	ChangeDowngrade ChangeType = "downgrade"
	ChangeSame      ChangeType = "same"
)

// Change is the append-only audit record written on every enforcement.
type Change struct {
	OwnerID           uuid.UUID
	OldPlanID         string
	NewPlanID         string
	Type              ChangeType
	HorsesAffected    int
	HorsesDisabled    int
	HorsesReactivated int
	OccurredAt        time.Time
}

// HorseStore provides the horse reads and writes the enforcer needs.
// ListByOwner must return horses ordered by creation time ascending;
// that ordering is what makes the oldest-preserved policy deterministic.
type HorseStore interface {
	ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]Horse, error)
	SetStatus(ctx context.Context, ids []uuid.UUID, status HorseStatus) error
	CountActive(ctx context.Context, ownerID uuid.UUID) (int64, error)
}

// AuditStore persists plan change records.
type AuditStore interface {
	Record(ctx context.Context, change Change) error
}
