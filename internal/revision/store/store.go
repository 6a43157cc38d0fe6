// Package store defines the revision persistence contract. Implementations
// come in memory (tests, local dev) and postgres pairs.
package store

import (
	"context"
	"time"

	"revtrail/internal/revision/models"
)

// CompressibleRow identifies an uncompressed revision whose serialized
// change payload exceeds the compression threshold.
type CompressibleRow struct {
	ID      int64
	Payload []byte
}

// Store is the revision persistence contract. Revisions are append-mostly:
// the only permitted update is in-place compression of the change payload,
// and deletes happen exclusively through the retention and excess-cleanup
// paths.
type Store interface {
	// Append persists a new revision and assigns its ID. Per-entity
	// timestamps are non-decreasing in insertion order.
	Append(ctx context.Context, rev *models.Revision) error

	GetByID(ctx context.Context, id int64) (*models.Revision, error)
	ListByEntity(ctx context.Context, entityName string, entityID int64, page models.Page) ([]*models.Revision, error)
	ListByUsername(ctx context.Context, username string, page models.Page) ([]*models.Revision, error)
	ListByType(ctx context.Context, t models.Type, page models.Page) ([]*models.Revision, error)
	ListByDateRange(ctx context.Context, from, to time.Time, page models.Page) ([]*models.Revision, error)

	// Latest returns the newest revision for an entity. Ties on timestamp
	// break toward the highest ID.
	Latest(ctx context.Context, entityName string, entityID int64) (*models.Revision, error)

	Search(ctx context.Context, criteria models.SearchCriteria, page models.Page) ([]*models.Revision, error)
	CountByEntity(ctx context.Context, entityName string, entityID int64) (int64, error)
	CountByUsername(ctx context.Context, username string) (int64, error)
	CountByType(ctx context.Context, t models.Type) (int64, error)

	// DeleteOlderThan removes revisions created before cutoff in bounded
	// batches and reports the number deleted. Running it again with no new
	// revisions deletes nothing.
	DeleteOlderThan(ctx context.Context, cutoff time.Time, batchSize int) (int64, error)

	// DeleteExcess trims every (entityName, entityID) group down to
	// maxPerEntity revisions, removing the oldest first, in bounded batches.
	DeleteExcess(ctx context.Context, maxPerEntity, batchSize int) (int64, error)

	// ListCompressible returns up to limit uncompressed rows whose payload
	// exceeds threshold bytes.
	ListCompressible(ctx context.Context, threshold, limit int) ([]CompressibleRow, error)

	// CompressChanges replaces the stored payload of an uncompressed row
	// with its compressed form and sets the compressed flag. Content must be
	// preserved; this is the single sanctioned in-place update.
	CompressChanges(ctx context.Context, id int64, compressed []byte) error

	Stats(ctx context.Context, now time.Time) (*models.Stats, error)
}
