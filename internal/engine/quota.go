package engine

import (
	"context"
	"sync"

	"stagehand/internal/domain"
)

// Admit decides whether a submission of requested items is admissible
// given current usage and the tier ceiling. A negative ceiling means
// the tier is unbounded. The decision has no side effects; rejection is
// terminal for the attempt and is only lifted by a usage or tier change.
func Admit(used, ceiling, requested int) error {
	if requested <= 0 {
		return domain.ErrInvalidAsset
	}
	if ceiling == domain.UnboundedCeiling {
		return nil
	}
	if used+requested > ceiling {
		return domain.ErrQuotaExceeded
	}
	return nil
}

// ProfileCache is the engine's local copy of authoritative profile
// records. Reads serve the quota gate's optimistic pre-filter; Refresh
// replaces the cached record wholesale after a terminal success so the
// next admission decision sees true usage.
type ProfileCache struct {
	repo domain.ProfileRepository

	mu   sync.RWMutex
	byID map[string]*domain.Profile
}

// NewProfileCache wraps the authoritative profile source.
func NewProfileCache(repo domain.ProfileRepository) *ProfileCache {
	return &ProfileCache{repo: repo, byID: make(map[string]*domain.Profile)}
}

// Get returns the cached profile, loading it on first use.
func (c *ProfileCache) Get(ctx context.Context, userID string) (*domain.Profile, error) {
	c.mu.RLock()
	p, ok := c.byID[userID]
	c.mu.RUnlock()
	if ok {
		return p, nil
	}
	return c.Refresh(ctx, userID)
}

// Refresh re-reads the authoritative record and replaces the cached
// copy. No merge logic: latest authoritative record wins.
func (c *ProfileCache) Refresh(ctx context.Context, userID string) (*domain.Profile, error) {
	p, err := c.repo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.byID[userID] = p
	c.mu.Unlock()
	return p, nil
}
