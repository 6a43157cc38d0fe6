// Package event carries notification events from mutation-time code to the
// notification pipeline. Events are fire-and-forget: consumed exactly once,
// never persisted, never replayed.
package event

import (
	"time"

	"revtrail/internal/revision/models"
)

// Type classifies a notification event.
type Type string

const (
	TypeRevisionCreated  Type = "REVISION_CREATED"
	TypeRevisionUpdated  Type = "REVISION_UPDATED"
	TypeRevisionDeleted  Type = "REVISION_DELETED"
	TypeRevisionError    Type = "REVISION_ERROR"
	TypeCleanupCompleted Type = "CLEANUP_COMPLETED"
	TypeSystemAlert      Type = "SYSTEM_ALERT"
	TypeExcessRevisions  Type = "EXCESS_REVISIONS"
)

// Severity drives recipient resolution: INFO goes to users, WARNING to
// managers, ERROR to developers, CRITICAL to administrators.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityError    Severity = "ERROR"
	SeverityCritical Severity = "CRITICAL"
)

// Event is a transient notification trigger. The dispatcher owns it for its
// in-flight lifetime only.
type Event struct {
	Type       Type
	Severity   Severity
	Revision   *models.Revision  // optional
	Recipients []string          // optional explicit recipients; empty means resolve by severity
	Payload    map[string]string // free-form key/value detail
	OccurredAt time.Time
}

// SeverityFor maps revision event types to their default severity.
func SeverityFor(t Type) Severity {
	switch t {
	case TypeRevisionError:
		return SeverityError
	case TypeSystemAlert:
		return SeverityCritical
	case TypeExcessRevisions:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}
