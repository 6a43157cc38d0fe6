// Package memory holds the in-memory revision store used by tests and
// DSN-less local runs.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"revtrail/internal/revision/models"
	"revtrail/internal/revision/store"
	"revtrail/pkg/platform/sentinel"
)

// Store implements store.Store with a mutex-guarded slice. Rows keep the
// serialized payload alongside the decoded revision so compression behaves
// like the postgres implementation.
type Store struct {
	mu     sync.RWMutex
	nextID int64
	rows   []*row
}

type row struct {
	rev        models.Revision
	payload    []byte
	compressed bool
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{nextID: 1}
}

func (s *Store) Append(_ context.Context, rev *models.Revision) error {
	payload, err := models.EncodeChanges(rev.Changes)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rev.ID = s.nextID
	s.nextID++
	rev.Compressed = false

	s.rows = append(s.rows, &row{rev: *rev, payload: payload})
	return nil
}

func (s *Store) GetByID(_ context.Context, id int64) (*models.Revision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, r := range s.rows {
		if r.rev.ID == id {
			return r.materialize()
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *Store) ListByEntity(_ context.Context, entityName string, entityID int64, page models.Page) ([]*models.Revision, error) {
	return s.list(page, func(r *row) bool {
		return r.rev.EntityName == entityName && r.rev.EntityID == entityID
	})
}

func (s *Store) ListByUsername(_ context.Context, username string, page models.Page) ([]*models.Revision, error) {
	return s.list(page, func(r *row) bool { return r.rev.Username == username })
}

func (s *Store) ListByType(_ context.Context, t models.Type, page models.Page) ([]*models.Revision, error) {
	return s.list(page, func(r *row) bool { return r.rev.Type == t })
}

func (s *Store) ListByDateRange(_ context.Context, from, to time.Time, page models.Page) ([]*models.Revision, error) {
	fromMs, toMs := from.UnixMilli(), to.UnixMilli()
	return s.list(page, func(r *row) bool {
		return r.rev.Timestamp >= fromMs && r.rev.Timestamp <= toMs
	})
}

func (s *Store) Latest(_ context.Context, entityName string, entityID int64) (*models.Revision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *row
	for _, r := range s.rows {
		if r.rev.EntityName != entityName || r.rev.EntityID != entityID {
			continue
		}
		// Highest ID wins at equal timestamps.
		if best == nil || r.rev.Timestamp > best.rev.Timestamp ||
			(r.rev.Timestamp == best.rev.Timestamp && r.rev.ID > best.rev.ID) {
			best = r
		}
	}
	if best == nil {
		return nil, sentinel.ErrNotFound
	}
	return best.materialize()
}

func (s *Store) Search(_ context.Context, c models.SearchCriteria, page models.Page) ([]*models.Revision, error) {
	var fromMs, toMs int64
	if !c.From.IsZero() {
		fromMs = c.From.UnixMilli()
	}
	if !c.To.IsZero() {
		toMs = c.To.UnixMilli()
	}
	return s.list(page, func(r *row) bool {
		if c.EntityName != "" && r.rev.EntityName != c.EntityName {
			return false
		}
		if c.EntityID != 0 && r.rev.EntityID != c.EntityID {
			return false
		}
		if c.Username != "" && r.rev.Username != c.Username {
			return false
		}
		if c.Type != "" && r.rev.Type != c.Type {
			return false
		}
		if fromMs != 0 && r.rev.Timestamp < fromMs {
			return false
		}
		if toMs != 0 && r.rev.Timestamp > toMs {
			return false
		}
		return true
	})
}

func (s *Store) CountByEntity(_ context.Context, entityName string, entityID int64) (int64, error) {
	return s.count(func(r *row) bool {
		return r.rev.EntityName == entityName && r.rev.EntityID == entityID
	}), nil
}

func (s *Store) CountByUsername(_ context.Context, username string) (int64, error) {
	return s.count(func(r *row) bool { return r.rev.Username == username }), nil
}

func (s *Store) CountByType(_ context.Context, t models.Type) (int64, error) {
	return s.count(func(r *row) bool { return r.rev.Type == t }), nil
}

func (s *Store) DeleteOlderThan(_ context.Context, cutoff time.Time, batchSize int) (int64, error) {
	cutoffMs := cutoff.UnixMilli()

	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	kept := s.rows[:0]
	for _, r := range s.rows {
		if r.rev.Timestamp < cutoffMs && (batchSize <= 0 || deleted < int64(batchSize)) {
			deleted++
			continue
		}
		kept = append(kept, r)
	}
	s.rows = kept
	return deleted, nil
}

func (s *Store) DeleteExcess(_ context.Context, maxPerEntity, batchSize int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	type key struct {
		name string
		id   int64
	}
	groups := make(map[key][]*row)
	for _, r := range s.rows {
		k := key{r.rev.EntityName, r.rev.EntityID}
		groups[k] = append(groups[k], r)
	}

	doomed := make(map[int64]bool)
	var deleted int64
	for _, rows := range groups {
		if len(rows) <= maxPerEntity {
			continue
		}
		sort.Slice(rows, func(i, j int) bool {
			if rows[i].rev.Timestamp != rows[j].rev.Timestamp {
				return rows[i].rev.Timestamp < rows[j].rev.Timestamp
			}
			return rows[i].rev.ID < rows[j].rev.ID
		})
		for _, r := range rows[:len(rows)-maxPerEntity] {
			if batchSize > 0 && deleted >= int64(batchSize) {
				break
			}
			doomed[r.rev.ID] = true
			deleted++
		}
	}

	kept := s.rows[:0]
	for _, r := range s.rows {
		if !doomed[r.rev.ID] {
			kept = append(kept, r)
		}
	}
	s.rows = kept
	return deleted, nil
}

func (s *Store) ListCompressible(_ context.Context, threshold, limit int) ([]store.CompressibleRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []store.CompressibleRow
	for _, r := range s.rows {
		if r.compressed || len(r.payload) <= threshold {
			continue
		}
		payload := append([]byte(nil), r.payload...)
		out = append(out, store.CompressibleRow{ID: r.rev.ID, Payload: payload})
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *Store) CompressChanges(_ context.Context, id int64, compressed []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.rows {
		if r.rev.ID != id {
			continue
		}
		if r.compressed {
			return nil
		}
		r.payload = append([]byte(nil), compressed...)
		r.compressed = true
		r.rev.Compressed = true
		return nil
	}
	return sentinel.ErrNotFound
}

func (s *Store) Stats(_ context.Context, now time.Time) (*models.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &models.Stats{
		ByType:     make(map[models.Type]int64),
		ComputedAt: now,
	}
	day := now.Add(-24 * time.Hour).UnixMilli()
	week := now.Add(-7 * 24 * time.Hour).UnixMilli()
	month := now.Add(-30 * 24 * time.Hour).UnixMilli()

	for _, r := range s.rows {
		stats.Total++
		stats.ByType[r.rev.Type]++
		if r.rev.Timestamp >= day {
			stats.Last24h++
		}
		if r.rev.Timestamp >= week {
			stats.Last7d++
		}
		if r.rev.Timestamp >= month {
			stats.Last30d++
		}
	}
	return stats, nil
}

func (s *Store) list(page models.Page, match func(*row) bool) ([]*models.Revision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Revision
	skipped := 0
	for _, r := range s.rows {
		if !match(r) {
			continue
		}
		if skipped < page.Offset {
			skipped++
			continue
		}
		if len(out) >= page.Limit {
			break
		}
		rev, err := r.materialize()
		if err != nil {
			return nil, err
		}
		out = append(out, rev)
	}
	return out, nil
}

func (s *Store) count(match func(*row) bool) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, r := range s.rows {
		if match(r) {
			n++
		}
	}
	return n
}

// materialize returns a defensive copy with the change set decoded from the
// stored payload.
func (r *row) materialize() (*models.Revision, error) {
	rev := r.rev
	changes, err := models.DecodeChanges(r.payload, r.compressed)
	if err != nil {
		return nil, err
	}
	rev.Changes = changes
	return &rev, nil
}
