package quota

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/stablebook/billing/pkg/plan"
)

var ErrEnforcementFailed = errors.New("failed to enforce horse quota")

// Enforcer reconciles a user's horses with their plan's horse limit.
// It is always invoked after the subscription state has been durably
// committed, so it needs no locking beyond its own statements.
type Enforcer struct {
	horses        HorseStore
	audit         AuditStore
	freeTierLimit int64
	log           *slog.Logger
	now           func() time.Time
}

// Option configures an Enforcer.
type Option func(*Enforcer)

// WithFreeTierLimit sets the horse limit applied to users with no active
// plan. Defaults to zero.
func WithFreeTierLimit(limit int64) Option {
	return func(e *Enforcer) {
		if limit >= 0 {
			e.freeTierLimit = limit
		}
	}
}

// WithLogger sets the enforcer's logger.
func WithLogger(log *slog.Logger) Option {
	return func(e *Enforcer) {
		if log != nil {
			e.log = log
		}
	}
}

// NewEnforcer creates the quota enforcement funnel. Panics on nil stores
// to fail fast during initialization.
func NewEnforcer(horses HorseStore, audit AuditStore, opts ...Option) *Enforcer {
	if horses == nil {
		panic("quota: horse store is required")
	}
	if audit == nil {
		panic("quota: audit store is required")
	}

	e := &Enforcer{
		horses: horses,
		audit:  audit,
		log:    slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Apply reconciles the owner's horses with the new plan's limit and
// writes an audit record. A nil newPlan means "no active plan" (the free
// tier limit applies); a nil oldPlan means the owner came from the free
// tier. When the limit shrinks, the newest-created active horses are
// disabled first, preserving the oldest within the limit; when capacity
// is spare, disabled horses are re-enabled oldest-first.
func (e *Enforcer) Apply(ctx context.Context, ownerID uuid.UUID, oldPlan, newPlan *plan.Plan) (Change, error) {
	newLimit := e.limitOf(newPlan)

	horses, err := e.horses.ListByOwner(ctx, ownerID)
	if err != nil {
		return Change{}, errors.Join(ErrEnforcementFailed, err)
	}

	// ListByOwner orders ascending by creation time, so both slices
	// keep oldest-first ordering.
	var active, disabled []Horse
	for _, h := range horses {
		switch h.Status {
		case HorseActive:
			active = append(active, h)
		case HorseDisabled:
			disabled = append(disabled, h)
		}
	}

	var toDisable, toReactivate []uuid.UUID

	switch {
	case newLimit == plan.Unlimited:
		for _, h := range disabled {
			toReactivate = append(toReactivate, h.ID)
		}
	case int64(len(active)) > newLimit:
		for _, h := range active[newLimit:] {
			toDisable = append(toDisable, h.ID)
		}
	default:
		spare := newLimit - int64(len(active))
		for i := 0; int64(i) < spare && i < len(disabled); i++ {
			toReactivate = append(toReactivate, disabled[i].ID)
		}
	}

	if len(toDisable) > 0 {
		if err := e.horses.SetStatus(ctx, toDisable, HorseDisabled); err != nil {
			return Change{}, errors.Join(ErrEnforcementFailed, err)
		}
	}
	if len(toReactivate) > 0 {
		if err := e.horses.SetStatus(ctx, toReactivate, HorseActive); err != nil {
			return Change{}, errors.Join(ErrEnforcementFailed, err)
		}
	}

	change := Change{
		OwnerID:           ownerID,
		OldPlanID:         planID(oldPlan),
		NewPlanID:         planID(newPlan),
		Type:              e.changeType(oldPlan, newPlan),
		HorsesAffected:    len(toDisable) + len(toReactivate),
		HorsesDisabled:    len(toDisable),
		HorsesReactivated: len(toReactivate),
		OccurredAt:        e.now().UTC(),
	}

	if err := e.audit.Record(ctx, change); err != nil {
		return Change{}, errors.Join(ErrEnforcementFailed, err)
	}

	e.log.InfoContext(ctx, "horse quota enforced",
		slog.String("owner_id", ownerID.String()),
		slog.String("old_plan", change.OldPlanID),
		slog.String("new_plan", change.NewPlanID),
		slog.String("change_type", string(change.Type)),
		slog.Int("disabled", change.HorsesDisabled),
		slog.Int("reactivated", change.HorsesReactivated),
	)

	return change, nil
}

func (e *Enforcer) limitOf(p *plan.Plan) int64 {
	if p == nil {
		return e.freeTierLimit
	}
	return p.MaxHorses
}

func (e *Enforcer) changeType(oldPlan, newPlan *plan.Plan) ChangeType {
	oldLimit, newLimit := e.limitOf(oldPlan), e.limitOf(newPlan)
	switch {
	case oldLimit == newLimit:
		return ChangeSame
	case newLimit == plan.Unlimited:
		return ChangeUpgrade
	case oldLimit == plan.Unlimited:
		return ChangeDowngrade
	case newLimit > oldLimit:
		return ChangeUpgrade
	default:
		return ChangeDowngrade
	}
}

func planID(p *plan.Plan) string {
	if p == nil {
		return ""
	}
	return p.ID
}
