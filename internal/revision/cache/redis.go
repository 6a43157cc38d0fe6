package cache

import (
	"context"
	"encoding/json"
	"time"

	platformredis "revtrail/internal/platform/redis"
	"revtrail/internal/revision/models"
)

// Redis is the shared cache backend for multi-instance deployments. Entries
// carry a TTL as a safety net on top of the scheduled sweep.
type Redis struct {
	Counters

	client *platformredis.Client
	ttl    time.Duration
}

// NewRedis creates a redis-backed cache. A zero ttl defaults to one hour,
// matching the general sweep interval.
func NewRedis(client *platformredis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Redis{client: client, ttl: ttl}
}

func (r *Redis) GetRevision(ctx context.Context, id int64) (*models.Revision, bool) {
	var rev models.Revision
	if !r.get(ctx, revisionKey(id), &rev) {
		return nil, false
	}
	return &rev, true
}

func (r *Redis) PutRevision(ctx context.Context, rev *models.Revision) {
	r.put(ctx, revisionKey(rev.ID), rev)
}

func (r *Redis) GetEntityList(ctx context.Context, entityName string, entityID int64) ([]*models.Revision, bool) {
	var revs []*models.Revision
	if !r.get(ctx, entityKey(entityName, entityID), &revs) {
		return nil, false
	}
	return revs, true
}

func (r *Redis) PutEntityList(ctx context.Context, entityName string, entityID int64, revs []*models.Revision) {
	r.put(ctx, entityKey(entityName, entityID), revs)
}

func (r *Redis) GetLatest(ctx context.Context, entityName string, entityID int64) (*models.Revision, bool) {
	var rev models.Revision
	if !r.get(ctx, latestKey(entityName, entityID), &rev) {
		return nil, false
	}
	return &rev, true
}

func (r *Redis) PutLatest(ctx context.Context, entityName string, entityID int64, rev *models.Revision) {
	r.put(ctx, latestKey(entityName, entityID), rev)
}

func (r *Redis) EvictEntity(ctx context.Context, entityName string, entityID int64) {
	r.client.Del(ctx, entityKey(entityName, entityID), latestKey(entityName, entityID))
}

func (r *Redis) Clear(ctx context.Context) {
	// Entries expire via TTL; the sweep only needs to drop live keys.
	iter := r.client.Scan(ctx, 0, "revision_*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	iter = r.client.Scan(ctx, 0, "entity_*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	iter = r.client.Scan(ctx, 0, "latest_*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if len(keys) > 0 {
		r.client.Del(ctx, keys...)
	}
}

// get is best-effort: a redis failure reads as a miss and the caller falls
// through to the store.
func (r *Redis) get(ctx context.Context, key string, out any) bool {
	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		r.miss()
		return false
	}
	if err := json.Unmarshal(data, out); err != nil {
		r.miss()
		return false
	}
	r.hit()
	return true
}

func (r *Redis) put(ctx context.Context, key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	r.client.Set(ctx, key, data, r.ttl)
}
