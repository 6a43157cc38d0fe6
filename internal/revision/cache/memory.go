package cache

import (
	"context"
	"sync"

	"revtrail/internal/revision/models"
)

// Memory is the default in-process cache backend.
type Memory struct {
	Counters

	mu      sync.RWMutex
	entries map[string]any
}

// NewMemory creates an empty in-memory cache.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]any)}
}

func (m *Memory) GetRevision(_ context.Context, id int64) (*models.Revision, bool) {
	if v, ok := m.get(revisionKey(id)); ok {
		if rev, ok := v.(*models.Revision); ok {
			return rev, true
		}
	}
	return nil, false
}

func (m *Memory) PutRevision(_ context.Context, rev *models.Revision) {
	m.put(revisionKey(rev.ID), rev)
}

func (m *Memory) GetEntityList(_ context.Context, entityName string, entityID int64) ([]*models.Revision, bool) {
	if v, ok := m.get(entityKey(entityName, entityID)); ok {
		if revs, ok := v.([]*models.Revision); ok {
			return revs, true
		}
	}
	return nil, false
}

func (m *Memory) PutEntityList(_ context.Context, entityName string, entityID int64, revs []*models.Revision) {
	m.put(entityKey(entityName, entityID), revs)
}

func (m *Memory) GetLatest(_ context.Context, entityName string, entityID int64) (*models.Revision, bool) {
	if v, ok := m.get(latestKey(entityName, entityID)); ok {
		if rev, ok := v.(*models.Revision); ok {
			return rev, true
		}
	}
	return nil, false
}

func (m *Memory) PutLatest(_ context.Context, entityName string, entityID int64, rev *models.Revision) {
	m.put(latestKey(entityName, entityID), rev)
}

func (m *Memory) EvictEntity(_ context.Context, entityName string, entityID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, entityKey(entityName, entityID))
	delete(m.entries, latestKey(entityName, entityID))
}

func (m *Memory) Clear(_ context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]any)
}

func (m *Memory) get(key string) (any, bool) {
	m.mu.RLock()
	v, ok := m.entries[key]
	m.mu.RUnlock()
	if ok {
		m.hit()
	} else {
		m.miss()
	}
	return v, ok
}

func (m *Memory) put(key string, v any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = v
}
