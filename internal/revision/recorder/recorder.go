// Package recorder builds and persists revision records for entity
// mutations. It is the single write path into the revision store: entity
// services call it at each mutation site (create/update/delete/restore)
// instead of relying on interception.
package recorder

import (
	"context"
	"log/slog"

	"revtrail/internal/event"
	"revtrail/internal/revision/cache"
	"revtrail/internal/revision/metrics"
	"revtrail/internal/revision/models"
	"revtrail/internal/revision/store"
	dErrors "revtrail/pkg/domain-errors"
	"revtrail/pkg/requestcontext"
)

// Recorder captures mutations as immutable revisions. Persistence happens
// synchronously inside the caller's unit of work (the store joins a
// transaction carried in context); event dispatch is deferred to after
// commit when transaction hooks are present.
type Recorder struct {
	store      store.Store
	cache      cache.Cache
	dispatcher *event.Dispatcher
	metrics    *metrics.Metrics
	logger     *slog.Logger

	excluded     map[string]bool
	maxReasonLen int
	bestEffort   bool
}

// Option configures optional recorder behavior.
type Option func(*Recorder)

// WithExcludedFields strips the named fields (passwords, tokens, secrets)
// from every change set.
func WithExcludedFields(fields []string) Option {
	return func(r *Recorder) {
		for _, f := range fields {
			r.excluded[f] = true
		}
	}
}

// WithMaxReasonLength bounds the free-text reason.
func WithMaxReasonLength(n int) Option {
	return func(r *Recorder) { r.maxReasonLen = n }
}

// WithBestEffort makes persistence failures log-and-continue instead of
// propagating to the mutating operation.
func WithBestEffort() Option {
	return func(r *Recorder) { r.bestEffort = true }
}

// New creates a recorder.
func New(s store.Store, c cache.Cache, d *event.Dispatcher, m *metrics.Metrics, logger *slog.Logger, opts ...Option) *Recorder {
	r := &Recorder{
		store:        s,
		cache:        c,
		dispatcher:   d,
		metrics:      m,
		logger:       logger,
		excluded:     make(map[string]bool),
		maxReasonLen: 1000,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RecordInsert captures an entity creation. The change set holds every
// non-nil field of the new snapshot.
func (r *Recorder) RecordInsert(ctx context.Context, entityName string, entityID int64, snap Snapshot, reason string) (*models.Revision, error) {
	changes := diffInsert(snap, r.excluded)
	return r.record(ctx, entityName, entityID, models.TypeInsert, changes, reason, event.TypeRevisionCreated)
}

// RecordUpdate captures an entity update. Only fields whose value differs
// between the snapshots appear, each as an {old, new} pair. When nothing
// differs no revision is written and both results are nil.
func (r *Recorder) RecordUpdate(ctx context.Context, entityName string, entityID int64, oldSnap, newSnap Snapshot, reason string) (*models.Revision, error) {
	changes := diffUpdate(oldSnap, newSnap, r.excluded)
	if len(changes) == 0 {
		return nil, nil
	}
	return r.record(ctx, entityName, entityID, models.TypeUpdate, changes, reason, event.TypeRevisionUpdated)
}

// RecordDelete captures an entity deletion with the fixed delete payload.
func (r *Recorder) RecordDelete(ctx context.Context, entityName string, entityID int64, reason string) (*models.Revision, error) {
	now := requestcontext.Now(ctx)
	changes := deleteChanges(entityID, now.UnixMilli(), requestcontext.Username(ctx))
	return r.record(ctx, entityName, entityID, models.TypeDelete, changes, reason, event.TypeRevisionDeleted)
}

// RecordRestore captures a restore, modeled as an UPDATE with a synthetic
// change set.
func (r *Recorder) RecordRestore(ctx context.Context, entityName string, entityID int64, reason string) (*models.Revision, error) {
	return r.record(ctx, entityName, entityID, models.TypeUpdate, restoreChanges(), reason, event.TypeRevisionUpdated)
}

// RecordMutation is the generic entry point for collaborators that assemble
// their own change set.
func (r *Recorder) RecordMutation(ctx context.Context, entityName string, entityID int64, t models.Type, changes models.ChangeSet, reason string) (*models.Revision, error) {
	if !t.IsValid() {
		return nil, dErrors.Newf(dErrors.CodeValidation, "invalid revision type %q", t)
	}
	eventType := event.TypeRevisionCreated
	switch t {
	case models.TypeUpdate:
		eventType = event.TypeRevisionUpdated
	case models.TypeDelete:
		eventType = event.TypeRevisionDeleted
	}
	return r.record(ctx, entityName, entityID, t, changes, reason, eventType)
}

func (r *Recorder) record(ctx context.Context, entityName string, entityID int64, t models.Type, changes models.ChangeSet, reason string, eventType event.Type) (*models.Revision, error) {
	if entityName == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "entity name is required")
	}
	if r.maxReasonLen > 0 && len(reason) > r.maxReasonLen {
		reason = reason[:r.maxReasonLen]
	}

	rev := &models.Revision{
		Timestamp:  requestcontext.Now(ctx).UnixMilli(),
		Username:   requestcontext.Username(ctx),
		IPAddress:  requestcontext.ClientIP(ctx),
		UserAgent:  requestcontext.UserAgent(ctx),
		Type:       t,
		EntityName: entityName,
		EntityID:   entityID,
		Changes:    changes,
		Reason:     reason,
	}

	if err := r.store.Append(ctx, rev); err != nil {
		r.metrics.IncrementRecorderErrors()
		wrapped := dErrors.Wrap(err, dErrors.CodeProcessing, "failed to record revision")
		if r.bestEffort {
			r.logger.ErrorContext(ctx, "revision write failed (best effort)",
				"entity", entityName,
				"entity_id", entityID,
				"error", err.Error(),
			)
			return nil, nil
		}
		return nil, wrapped
	}

	r.metrics.IncrementRecorded(string(t))
	r.cache.EvictEntity(ctx, entityName, entityID)

	r.dispatcher.PublishAfterCommit(ctx, event.Event{
		Type:     eventType,
		Severity: event.SeverityFor(eventType),
		Revision: rev,
	})
	return rev, nil
}
