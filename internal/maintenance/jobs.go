package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"revtrail/internal/event"
	"revtrail/internal/notification/sender"
	"revtrail/internal/notification/template"
	"revtrail/internal/notification/validator"
	"revtrail/internal/platform/config"
	"revtrail/internal/revision/cache"
	"revtrail/internal/revision/metrics"
	"revtrail/internal/revision/models"
	"revtrail/internal/revision/store"
	dErrors "revtrail/pkg/domain-errors"

	ncache "revtrail/internal/notification/cache"
	nmetrics "revtrail/internal/notification/metrics"
)

// CacheStats exposes the revision cache hit counters for the weekly summary.
type CacheStats interface {
	HitRate() (rate float64, hits, misses int64)
}

// Deps collects everything the maintenance jobs touch.
type Deps struct {
	Store       store.Store
	RevCache    cache.Cache
	CacheStats  CacheStats
	NotifCache  *ncache.Cache
	Dispatcher  *event.Dispatcher
	Sender      *sender.Sender
	Validator   *validator.Validator
	Metrics     *metrics.Metrics
	NotifMetric *nmetrics.Metrics
	Logger      *slog.Logger
	Revision    config.Revision
	Notify      config.Notify
}

// Register wires the standard job set into the scheduler using the
// configured intervals.
func Register(s *Scheduler, intervals config.Jobs, d Deps) {
	s.Add(Job{Name: "retention_cleanup", Interval: intervals.RetentionInterval, Run: d.retentionCleanup})
	s.Add(Job{Name: "excess_trim", Interval: intervals.ExcessInterval, Run: d.excessTrim})
	s.Add(Job{Name: "compression", Interval: intervals.CompressionInterval, Run: d.compress})
	s.Add(Job{Name: "statistics", Interval: intervals.StatisticsInterval, Run: d.statistics})
	s.Add(Job{Name: "queue_health", Interval: intervals.HealthInterval, Run: d.queueHealth})
	s.Add(Job{Name: "weekly_summary", Interval: intervals.SummaryInterval, Run: d.weeklySummary})
	s.Add(Job{Name: "revision_cache_sweep", Interval: intervals.CacheSweepInterval, Run: d.revisionCacheSweep})
	s.Add(Job{Name: "notification_sweep", Interval: intervals.NotifySweepInterval, Run: d.notificationSweep})
}

// retentionCleanup deletes revisions older than the retention period in
// bounded batches. Re-running with no new revisions deletes nothing.
func (d Deps) retentionCleanup(ctx context.Context) error {
	cutoff := time.Now().Add(-d.Revision.RetentionPeriod)
	deleted, err := d.Store.DeleteOlderThan(ctx, cutoff, d.Revision.CleanupBatchSize)
	if err != nil {
		return err
	}
	d.Metrics.AddCleanupDeleted("retention", deleted)
	if deleted > 0 {
		d.RevCache.Clear(ctx)
		d.Logger.Info("retention cleanup deleted revisions", "deleted", deleted, "cutoff", cutoff)
		d.Dispatcher.Publish(ctx, event.Event{
			Type:     event.TypeCleanupCompleted,
			Severity: event.SeverityInfo,
			Payload: map[string]string{
				"message": "retention cleanup completed",
				"job":     "retention_cleanup",
				"deleted": strconv.FormatInt(deleted, 10),
			},
		})
	}
	return nil
}

// excessTrim keeps at most the configured number of revisions per entity,
// dropping the oldest first.
func (d Deps) excessTrim(ctx context.Context) error {
	deleted, err := d.Store.DeleteExcess(ctx, d.Revision.MaxRevisionsPerEntity, d.Revision.CleanupBatchSize)
	if err != nil {
		return err
	}
	d.Metrics.AddCleanupDeleted("excess", deleted)
	if deleted > 0 {
		d.RevCache.Clear(ctx)
		d.Logger.Info("excess trim deleted revisions", "deleted", deleted,
			"max_per_entity", d.Revision.MaxRevisionsPerEntity)
		d.Dispatcher.Publish(ctx, event.Event{
			Type:     event.TypeCleanupCompleted,
			Severity: event.SeverityInfo,
			Payload: map[string]string{
				"message": "excess revision trim completed",
				"job":     "excess_trim",
				"deleted": strconv.FormatInt(deleted, 10),
			},
		})
	}
	return nil
}

// compress gzips oversized change payloads in place. Skipped entirely when
// compression is disabled.
func (d Deps) compress(ctx context.Context) error {
	if !d.Revision.CompressionEnabled {
		return nil
	}
	rows, err := d.Store.ListCompressible(ctx, d.Revision.CompressionThreshold, d.Revision.CleanupBatchSize)
	if err != nil {
		return err
	}
	var done int
	for _, row := range rows {
		compressed, err := models.Compress(row.Payload)
		if err != nil {
			d.Logger.Error("compression failed", "revision_id", row.ID, "error", err)
			continue
		}
		if len(compressed) >= len(row.Payload) {
			continue
		}
		if err := d.Store.CompressChanges(ctx, row.ID, compressed); err != nil {
			d.Logger.Error("storing compressed payload failed", "revision_id", row.ID, "error", err)
			continue
		}
		done++
	}
	if done > 0 {
		d.Logger.Info("compressed revision payloads", "count", done)
	}
	return nil
}

// statistics computes and logs the revision totals. Logged only, no
// notification.
func (d Deps) statistics(ctx context.Context) error {
	stats, err := d.Store.Stats(ctx, time.Now())
	if err != nil {
		return err
	}
	d.Logger.Info("revision statistics",
		"total", stats.Total,
		"last_24h", stats.Last24h,
		"last_7d", stats.Last7d,
		"last_30d", stats.Last30d,
		"by_type", stats.ByType,
	)
	return nil
}

// queueHealth checks the deferred queue depth and oldest-message age against
// the warning and critical thresholds. Alerts publish synchronously so a
// saturated queue cannot swallow its own alarm.
func (d Deps) queueHealth(ctx context.Context) error {
	depth := d.Dispatcher.QueueDepth()
	age := d.Dispatcher.OldestAge()
	d.NotifMetric.SetQueueDepth(depth)

	critical := (d.Notify.QueueCritDepth > 0 && depth >= d.Notify.QueueCritDepth) ||
		(d.Notify.QueueCritAge > 0 && age >= d.Notify.QueueCritAge)
	warning := (d.Notify.QueueWarnDepth > 0 && depth >= d.Notify.QueueWarnDepth) ||
		(d.Notify.QueueWarnAge > 0 && age >= d.Notify.QueueWarnAge)
	if !critical && !warning {
		return nil
	}

	payload := map[string]string{
		"queueDepth":   strconv.Itoa(depth),
		"oldestAgeSec": strconv.FormatInt(int64(age.Seconds()), 10),
		"dropped":      strconv.FormatInt(d.Dispatcher.Dropped(), 10),
	}
	if critical {
		payload["message"] = fmt.Sprintf("event queue critical: depth %d >= %d", depth, d.Notify.QueueCritDepth)
		d.Logger.Error("event queue critical", "depth", depth, "oldest_age", age)
		d.Dispatcher.Publish(ctx, event.Event{
			Type:     event.TypeSystemAlert,
			Severity: event.SeverityCritical,
			Payload:  payload,
		})
		return nil
	}
	payload["message"] = fmt.Sprintf("event queue backed up: depth %d >= %d", depth, d.Notify.QueueWarnDepth)
	d.Logger.Warn("event queue backed up", "depth", depth, "oldest_age", age)
	d.Dispatcher.Publish(ctx, event.Event{
		Type:     event.TypeExcessRevisions,
		Severity: event.SeverityWarning,
		Payload:  payload,
	})
	return nil
}

// weeklySummary sends the aggregate notification statistics to the INFO
// recipient group.
func (d Deps) weeklySummary(ctx context.Context) error {
	recipients, err := d.Validator.ResolveRecipients(event.SeverityInfo)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeConfiguration) {
			d.Logger.Debug("weekly summary skipped, no recipients configured")
			return nil
		}
		return err
	}

	stats := d.Sender.Stats()
	var hitRate float64
	if d.CacheStats != nil {
		hitRate, _, _ = d.CacheStats.HitRate()
	}
	_, err = d.Sender.Send(ctx, sender.Request{
		Type:       event.TypeSystemAlert,
		Severity:   event.SeverityInfo,
		Recipients: recipients,
		Subject:    "Weekly notification summary",
		Template:   template.TemplateSummary,
		Data: map[string]any{
			"TotalSent":         stats.TotalSent,
			"TotalErrors":       stats.TotalErrors,
			"SuccessRatePct":    stats.SuccessRate * 100,
			"AverageDeliveryMs": stats.AverageDeliveryMs,
			"CacheHitRatePct":   hitRate * 100,
		},
	})
	return err
}

// revisionCacheSweep drops every cached revision entry.
func (d Deps) revisionCacheSweep(ctx context.Context) error {
	d.RevCache.Clear(ctx)
	return nil
}

// notificationSweep clears the notification sub-caches and drops idle
// rate-limit windows.
func (d Deps) notificationSweep(context.Context) error {
	d.NotifCache.Sweep()
	if removed := d.NotifCache.SweepRateLimitWindows(); removed > 0 {
		d.Logger.Debug("swept idle rate-limit windows", "removed", removed)
	}
	return nil
}
