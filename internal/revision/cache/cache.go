// Package cache provides the read-through revision cache. Writes to a
// revision evict the affected entity keys rather than updating them, so a
// partially applied update can never leave a stale composite entry behind.
package cache

import (
	"context"
	"fmt"
	"sync/atomic"

	"revtrail/internal/revision/models"
)

// Key layout. Every revision read path goes through one of these.
func revisionKey(id int64) string { return fmt.Sprintf("revision_%d", id) }

func entityKey(name string, id int64) string { return fmt.Sprintf("entity_%s_%d", name, id) }

func latestKey(name string, id int64) string { return fmt.Sprintf("latest_%s_%d", name, id) }

// Cache is the revision cache contract. Implementations: in-memory map
// (default) and redis.
type Cache interface {
	GetRevision(ctx context.Context, id int64) (*models.Revision, bool)
	PutRevision(ctx context.Context, rev *models.Revision)

	// GetEntityList and PutEntityList cache the first page of an entity's
	// revision list, which is the hot read.
	GetEntityList(ctx context.Context, entityName string, entityID int64) ([]*models.Revision, bool)
	PutEntityList(ctx context.Context, entityName string, entityID int64, revs []*models.Revision)

	GetLatest(ctx context.Context, entityName string, entityID int64) (*models.Revision, bool)
	PutLatest(ctx context.Context, entityName string, entityID int64, rev *models.Revision)

	// EvictEntity drops the entity list and latest keys for one entity.
	// Called on every revision write for that entity.
	EvictEntity(ctx context.Context, entityName string, entityID int64)

	// Clear drops every cached entry. Used by the scheduled sweep.
	Clear(ctx context.Context)
}

// Observer receives every lookup outcome. Used to mirror the counters into
// prometheus without coupling the cache to the metrics package.
type Observer func(hit bool)

// Counters tracks hit/miss totals for the weekly summary. Implementations
// embed it and call hit/miss on every lookup.
type Counters struct {
	hits   atomic.Int64
	misses atomic.Int64
	obs    atomic.Value
}

// SetObserver registers a lookup observer. Safe to call concurrently with
// lookups.
func (c *Counters) SetObserver(obs Observer) {
	c.obs.Store(obs)
}

func (c *Counters) hit() {
	c.hits.Add(1)
	c.observe(true)
}

func (c *Counters) miss() {
	c.misses.Add(1)
	c.observe(false)
}

func (c *Counters) observe(hit bool) {
	if f, ok := c.obs.Load().(Observer); ok && f != nil {
		f(hit)
	}
}

// HitRate returns the lifetime hit ratio in [0,1], and the raw totals.
func (c *Counters) HitRate() (rate float64, hits, misses int64) {
	hits = c.hits.Load()
	misses = c.misses.Load()
	if total := hits + misses; total > 0 {
		rate = float64(hits) / float64(total)
	}
	return rate, hits, misses
}
