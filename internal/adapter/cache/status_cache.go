package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"stagehand/internal/domain"
)

const statusKeyPrefix = "generation_status:"

// Non-terminal entries expire quickly so a quiet push feed cannot
// starve the poll loop with stale snapshots; terminal entries are
// immutable and may live long.
const (
	liveTTL     = 5 * time.Second
	terminalTTL = time.Hour
)

// StatusCache mirrors generation status snapshots in Redis. The push
// listener writes through on every change event and the poll reader
// consults the cache before touching PostgreSQL.
type StatusCache struct {
	client *redis.Client
}

// NewStatusCache wraps an established Redis client.
func NewStatusCache(client *redis.Client) *StatusCache {
	return &StatusCache{client: client}
}

// Set stores the snapshot for a generation.
func (c *StatusCache) Set(ctx context.Context, generationID string, snap domain.StatusSnapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	ttl := liveTTL
	if snap.Status.Terminal() {
		ttl = terminalTTL
	}
	return c.client.Set(ctx, statusKeyPrefix+generationID, payload, ttl).Err()
}

// Get returns the cached snapshot, reporting a miss via ok=false.
func (c *StatusCache) Get(ctx context.Context, generationID string) (domain.StatusSnapshot, bool, error) {
	var snap domain.StatusSnapshot
	raw, err := c.client.Get(ctx, statusKeyPrefix+generationID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return snap, false, nil
		}
		return snap, false, err
	}
	if err := json.Unmarshal(raw, &snap); err != nil {
		return snap, false, err
	}
	return snap, true, nil
}

// CachedStatusReader serves poll re-reads from the cache when possible
// and falls back to the authoritative reader on a miss, populating the
// cache on the way out. Cache failures degrade to direct reads.
type CachedStatusReader struct {
	cache  *StatusCache
	source domain.StatusReader
}

// NewCachedStatusReader layers cache over source.
func NewCachedStatusReader(cache *StatusCache, source domain.StatusReader) *CachedStatusReader {
	return &CachedStatusReader{cache: cache, source: source}
}

// ReadStatus implements domain.StatusReader.
func (r *CachedStatusReader) ReadStatus(ctx context.Context, generationID string) (domain.StatusSnapshot, error) {
	if r.cache != nil {
		if snap, ok, err := r.cache.Get(ctx, generationID); err == nil && ok {
			return snap, nil
		}
	}
	snap, err := r.source.ReadStatus(ctx, generationID)
	if err != nil {
		return snap, err
	}
	if r.cache != nil {
		_ = r.cache.Set(ctx, generationID, snap)
	}
	return snap, nil
}
