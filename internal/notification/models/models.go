// Package models defines the notification pipeline's data shapes: delivery
// status records, rate-limit windows, roles, and aggregate statistics.
package models

import (
	"time"

	"revtrail/internal/event"
)

// Status is the delivery state of one notification send.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusDelivered Status = "DELIVERED"
	StatusFailed    Status = "FAILED"
	StatusRetrying  Status = "RETRYING"
	StatusCancelled Status = "CANCELLED"
)

// DeliveryStatus tracks one notification send from first attempt to terminal
// outcome. Owned exclusively by the notification cache; evicted by its
// scheduled sweep.
type DeliveryStatus struct {
	NotificationID string     `json:"notificationId"`
	Recipient      string     `json:"recipient"`
	Type           event.Type `json:"type"`
	SentTime       time.Time  `json:"sentTime"`
	DeliveredTime  time.Time  `json:"deliveredTime,omitzero"`
	Status         Status     `json:"status"`
	Attempts       int        `json:"attempts"`
	ErrorMessage   string     `json:"errorMessage,omitempty"`
}

// RateLimitWindow is the per-recipient sliding window state. Created lazily
// on first send, reset when the window elapses, swept when idle > 24h.
type RateLimitWindow struct {
	RequestCount int
	WindowStart  time.Time
	LastRequest  time.Time
	MaxRequests  int
}

// Role names a recipient group. Severity levels map onto roles for
// recipient resolution.
type Role string

const (
	RoleAdministrator Role = "administrator"
	RoleDeveloper     Role = "developer"
	RoleManager       Role = "manager"
	RoleAuditor       Role = "auditor"
	RoleUser          Role = "user"
)

// IsValid checks if the role is one of the supported enum values.
func (r Role) IsValid() bool {
	switch r {
	case RoleAdministrator, RoleDeveloper, RoleManager, RoleAuditor, RoleUser:
		return true
	}
	return false
}

// RoleForSeverity maps a severity level to the recipient role that receives
// it: INFO to users, WARNING to managers, ERROR to developers, CRITICAL to
// administrators.
func RoleForSeverity(sev event.Severity) Role {
	switch sev {
	case event.SeverityCritical:
		return RoleAdministrator
	case event.SeverityError:
		return RoleDeveloper
	case event.SeverityWarning:
		return RoleManager
	default:
		return RoleUser
	}
}

// Stats aggregates notification outcomes for the admin API and the weekly
// summary.
type Stats struct {
	TotalSent          int64   `json:"totalSent"`
	TotalErrors        int64   `json:"totalErrors"`
	AverageDeliveryMs  float64 `json:"averageDeliveryMs"`
	SuccessRate        float64 `json:"successRate"`
	RateLimitRejected  int64   `json:"rateLimitRejected"`
}
