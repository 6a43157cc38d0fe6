// Package service exposes the revision query API consumed by handlers and
// export. Reads go through the revision cache; the store is the source of
// truth.
package service

import (
	"context"
	"errors"
	"time"

	"revtrail/internal/revision/cache"
	"revtrail/internal/revision/models"
	"revtrail/internal/revision/store"
	dErrors "revtrail/pkg/domain-errors"
	"revtrail/pkg/platform/sentinel"
)

// Service answers revision queries.
type Service struct {
	store store.Store
	cache cache.Cache
}

// New creates a revision query service.
func New(s store.Store, c cache.Cache) *Service {
	return &Service{store: s, cache: c}
}

// GetByID returns one revision, read-through cached under revision_<id>.
func (s *Service) GetByID(ctx context.Context, id int64) (*models.Revision, error) {
	if rev, ok := s.cache.GetRevision(ctx, id); ok {
		return rev, nil
	}
	rev, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, wrapStoreErr(err, "revision not found")
	}
	s.cache.PutRevision(ctx, rev)
	return rev, nil
}

// ListByEntity returns an entity's revisions in insertion order. The first
// default-sized page is cached under entity_<name>_<id>.
func (s *Service) ListByEntity(ctx context.Context, entityName string, entityID int64, page models.Page) ([]*models.Revision, error) {
	cacheable := page.Offset == 0
	if cacheable {
		if revs, ok := s.cache.GetEntityList(ctx, entityName, entityID); ok && len(revs) >= page.Limit {
			return revs[:page.Limit], nil
		}
	}
	revs, err := s.store.ListByEntity(ctx, entityName, entityID, page)
	if err != nil {
		return nil, wrapStoreErr(err, "failed to list revisions")
	}
	if cacheable {
		s.cache.PutEntityList(ctx, entityName, entityID, revs)
	}
	return revs, nil
}

// Latest returns the newest revision for an entity, cached under
// latest_<name>_<id>. Timestamp ties break toward the highest id.
func (s *Service) Latest(ctx context.Context, entityName string, entityID int64) (*models.Revision, error) {
	if rev, ok := s.cache.GetLatest(ctx, entityName, entityID); ok {
		return rev, nil
	}
	rev, err := s.store.Latest(ctx, entityName, entityID)
	if err != nil {
		return nil, wrapStoreErr(err, "no revisions for entity")
	}
	s.cache.PutLatest(ctx, entityName, entityID, rev)
	return rev, nil
}

// ListByUsername returns revisions recorded by one actor, newest first.
func (s *Service) ListByUsername(ctx context.Context, username string, page models.Page) ([]*models.Revision, error) {
	revs, err := s.store.ListByUsername(ctx, username, page)
	if err != nil {
		return nil, wrapStoreErr(err, "failed to list revisions")
	}
	return revs, nil
}

// ListByType returns revisions of one mutation type, newest first.
func (s *Service) ListByType(ctx context.Context, t models.Type, page models.Page) ([]*models.Revision, error) {
	if !t.IsValid() {
		return nil, dErrors.Newf(dErrors.CodeValidation, "invalid revision type %q", t)
	}
	revs, err := s.store.ListByType(ctx, t, page)
	if err != nil {
		return nil, wrapStoreErr(err, "failed to list revisions")
	}
	return revs, nil
}

// ListByDateRange returns revisions created in [from, to].
func (s *Service) ListByDateRange(ctx context.Context, from, to time.Time, page models.Page) ([]*models.Revision, error) {
	if !to.IsZero() && to.Before(from) {
		return nil, dErrors.New(dErrors.CodeValidation, "date range end precedes start")
	}
	revs, err := s.store.ListByDateRange(ctx, from, to, page)
	if err != nil {
		return nil, wrapStoreErr(err, "failed to list revisions")
	}
	return revs, nil
}

// Search runs a multi-criteria query.
func (s *Service) Search(ctx context.Context, c models.SearchCriteria, page models.Page) ([]*models.Revision, error) {
	if c.Type != "" && !c.Type.IsValid() {
		return nil, dErrors.Newf(dErrors.CodeValidation, "invalid revision type %q", c.Type)
	}
	revs, err := s.store.Search(ctx, c, page)
	if err != nil {
		return nil, wrapStoreErr(err, "search failed")
	}
	return revs, nil
}

// CountByEntity returns the number of revisions for one entity.
func (s *Service) CountByEntity(ctx context.Context, entityName string, entityID int64) (int64, error) {
	n, err := s.store.CountByEntity(ctx, entityName, entityID)
	if err != nil {
		return 0, wrapStoreErr(err, "count failed")
	}
	return n, nil
}

// CountByUsername returns the number of revisions recorded by one actor.
func (s *Service) CountByUsername(ctx context.Context, username string) (int64, error) {
	n, err := s.store.CountByUsername(ctx, username)
	if err != nil {
		return 0, wrapStoreErr(err, "count failed")
	}
	return n, nil
}

// CountByType returns the number of revisions of one mutation type.
func (s *Service) CountByType(ctx context.Context, t models.Type) (int64, error) {
	if !t.IsValid() {
		return 0, dErrors.Newf(dErrors.CodeValidation, "invalid revision type %q", t)
	}
	n, err := s.store.CountByType(ctx, t)
	if err != nil {
		return 0, wrapStoreErr(err, "count failed")
	}
	return n, nil
}

// Stats aggregates counts over the standard reporting windows.
func (s *Service) Stats(ctx context.Context) (*models.Stats, error) {
	stats, err := s.store.Stats(ctx, time.Now())
	if err != nil {
		return nil, wrapStoreErr(err, "stats failed")
	}
	return stats, nil
}

func wrapStoreErr(err error, msg string) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.Wrap(err, dErrors.CodeNotFound, msg)
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, msg)
}
