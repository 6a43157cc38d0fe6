// Package validator holds the stateless pre-flight checks shared by every
// notification send path. A validation failure means delivery must not be
// attempted.
package validator

import (
	"fmt"
	"regexp"

	"revtrail/internal/event"
	"revtrail/internal/notification/models"
	"revtrail/internal/notification/settings"
	dErrors "revtrail/pkg/domain-errors"
)

var emailPattern = regexp.MustCompile(`^[A-Za-z0-9+_.-]+@[A-Za-z0-9.-]+$`)

// Limits bound recipient counts and content sizes.
type Limits struct {
	MaxRecipients int
	MaxSubject    int
	MaxContent    int
	MaxStackTrace int
}

// DefaultLimits mirrors the documented defaults.
func DefaultLimits() Limits {
	return Limits{MaxRecipients: 50, MaxSubject: 255, MaxContent: 10000, MaxStackTrace: 5000}
}

// Validator performs recipient, content, and configuration checks.
type Validator struct {
	settings *settings.Settings
	limits   Limits
}

// New creates a validator over the live settings.
func New(st *settings.Settings, limits Limits) *Validator {
	if limits.MaxRecipients <= 0 {
		limits = DefaultLimits()
	}
	return &Validator{settings: st, limits: limits}
}

// Enabled reports whether sending is on at all for the given severity.
// A false result is a silent no-op for callers, not an error.
func (v *Validator) Enabled(sev event.Severity) bool {
	return v.settings.EmailEnabled() && v.settings.LevelEnabled(sev)
}

// ValidateRecipients checks the list is non-empty, within the configured
// maximum, and that every address matches the accepted format. The returned
// error carries a field map pointing at each offending address.
func (v *Validator) ValidateRecipients(recipients []string) error {
	if len(recipients) == 0 {
		return dErrors.New(dErrors.CodeValidation, "recipient list is empty")
	}
	if len(recipients) > v.limits.MaxRecipients {
		return dErrors.Newf(dErrors.CodeValidation,
			"recipient count %d exceeds maximum %d", len(recipients), v.limits.MaxRecipients)
	}

	fields := make(map[string]string)
	for i, addr := range recipients {
		if !emailPattern.MatchString(addr) {
			fields[fmt.Sprintf("recipients[%d]", i)] = "invalid email address"
		}
	}
	if len(fields) > 0 {
		return dErrors.New(dErrors.CodeValidation, "invalid recipient addresses").WithFields(fields)
	}
	return nil
}

// ValidateContent bounds the subject and body sizes.
func (v *Validator) ValidateContent(subject, content string) error {
	fields := make(map[string]string)
	if len(subject) > v.limits.MaxSubject {
		fields["subject"] = fmt.Sprintf("exceeds %d characters", v.limits.MaxSubject)
	}
	if len(content) > v.limits.MaxContent {
		fields["content"] = fmt.Sprintf("exceeds %d characters", v.limits.MaxContent)
	}
	if len(fields) > 0 {
		return dErrors.New(dErrors.CodeValidation, "content too large").WithFields(fields)
	}
	return nil
}

// TruncateStackTrace bounds stack traces embedded in error notifications.
func (v *Validator) TruncateStackTrace(trace string) string {
	if len(trace) > v.limits.MaxStackTrace {
		return trace[:v.limits.MaxStackTrace]
	}
	return trace
}

// ResolveRecipients maps a severity level to its role's recipient list and
// re-validates the resolved list.
func (v *Validator) ResolveRecipients(sev event.Severity) ([]string, error) {
	role := models.RoleForSeverity(sev)
	recipients := v.settings.RecipientsFor(role)
	if len(recipients) == 0 {
		return nil, dErrors.Newf(dErrors.CodeConfiguration,
			"no recipients configured for role %q", role)
	}
	if err := v.ValidateRecipients(recipients); err != nil {
		return nil, err
	}
	return recipients, nil
}
