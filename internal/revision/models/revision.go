// Package models defines the revision audit record and its change set.
package models

import (
	"time"

	dErrors "revtrail/pkg/domain-errors"
)

// Type classifies the mutation a revision records. Restores are modeled as
// TypeUpdate with a synthetic change set.
type Type string

const (
	TypeInsert Type = "INSERT"
	TypeUpdate Type = "UPDATE"
	TypeDelete Type = "DELETE"
)

// IsValid checks if the revision type is one of the supported enum values.
func (t Type) IsValid() bool {
	switch t {
	case TypeInsert, TypeUpdate, TypeDelete:
		return true
	}
	return false
}

// ParseType creates a Type from a string, validating it.
func ParseType(s string) (Type, error) {
	t := Type(s)
	if !t.IsValid() {
		return "", dErrors.Newf(dErrors.CodeValidation, "invalid revision type %q", s)
	}
	return t, nil
}

// Revision is an immutable audit record of a single entity mutation.
// After creation the only permitted write is in-place compression of
// Changes, which is content-preserving.
type Revision struct {
	ID         int64     `json:"id"`
	Timestamp  int64     `json:"timestamp"` // epoch millis, assigned at creation
	Username   string    `json:"username"`
	IPAddress  string    `json:"ipAddress"`
	UserAgent  string    `json:"userAgent"`
	Type       Type      `json:"revisionType"`
	EntityName string    `json:"entityName"`
	EntityID   int64     `json:"entityId"`
	Changes    ChangeSet `json:"changes"`
	Compressed bool      `json:"compressed"`
	Reason     string    `json:"reason,omitempty"`
}

// Time returns the creation timestamp as a time.Time.
func (r *Revision) Time() time.Time {
	return time.UnixMilli(r.Timestamp)
}

// Page bounds list queries. Limit is clamped to sane values by NewPage.
type Page struct {
	Offset int
	Limit  int
}

// NewPage clamps the requested page to [1, 500] items.
func NewPage(offset, limit int) Page {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	return Page{Offset: offset, Limit: limit}
}

// SearchCriteria narrows a multi-criteria revision search. Zero values mean
// "not filtered".
type SearchCriteria struct {
	EntityName string
	EntityID   int64
	Username   string
	Type       Type
	From       time.Time
	To         time.Time
}

// Stats aggregates revision counts over the standard reporting windows.
type Stats struct {
	Total      int64          `json:"total"`
	Last24h    int64          `json:"last24h"`
	Last7d     int64          `json:"last7d"`
	Last30d    int64          `json:"last30d"`
	ByType     map[Type]int64 `json:"byType"`
	ComputedAt time.Time      `json:"computedAt"`
}
