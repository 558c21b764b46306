package plan

import (
	"context"
	"maps"
	"sync"
)

type inMemSource struct {
	mu    sync.RWMutex
	plans map[string]Plan
}

// NewInMemSource returns an in-memory Source with a deep copy of the given
// plans. Panics if no plans are provided so the services never start with
// an empty catalog.
func NewInMemSource(plans ...Plan) Source {
	if len(plans) < 1 {
		panic("at least one plan is required")
	}
	plansCopy := make(map[string]Plan, len(plans))
	for _, p := range plans {
		plansCopy[p.ID] = clonePlan(p)
	}
	return &inMemSource{plans: plansCopy}
}

// Load returns a copy of all available plans. Copying prevents callers
// from mutating the source's state through the returned map.
func (s *inMemSource) Load(ctx context.Context) (map[string]Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	plansCopy := make(map[string]Plan, len(s.plans))
	for id, p := range s.plans {
		plansCopy[id] = clonePlan(p)
	}
	return plansCopy, nil
}

func clonePlan(p Plan) Plan {
	cp := p
	cp.ProviderPriceIDs = maps.Clone(p.ProviderPriceIDs)
	return cp
}
