// Package listener subscribes the notification pipeline to the event
// dispatcher. It turns dispatched events into send requests: picking the
// template and subject, resolving recipients, and handing off to the sender.
package listener

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"revtrail/internal/event"
	"revtrail/internal/notification/cache"
	"revtrail/internal/notification/sender"
	"revtrail/internal/notification/template"
	"revtrail/internal/notification/validator"
	dErrors "revtrail/pkg/domain-errors"
)

// Listener implements event.Listener for email notifications.
type Listener struct {
	sender    *sender.Sender
	validator *validator.Validator
	cache     *cache.Cache
	logger    *slog.Logger
}

// New wires the listener.
func New(s *sender.Sender, v *validator.Validator, c *cache.Cache, logger *slog.Logger) *Listener {
	return &Listener{sender: s, validator: v, cache: c, logger: logger}
}

// Name identifies the listener in dispatcher logs.
func (l *Listener) Name() string { return "email" }

// Handle delivers one event as an email notification. Disabled severities
// and configuration gaps are no-ops; anything else propagates so the
// dispatcher can surface the failure.
func (l *Listener) Handle(ctx context.Context, e event.Event) error {
	if !l.validator.Enabled(e.Severity) {
		return nil
	}

	recipients, err := l.resolveRecipients(e)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeConfiguration) {
			l.logger.Debug("notification skipped, no recipients configured",
				"event_type", e.Type, "severity", e.Severity)
			return nil
		}
		return err
	}

	req := sender.Request{
		Type:       e.Type,
		Severity:   e.Severity,
		Recipients: recipients,
		Subject:    subjectFor(e),
		Template:   templateFor(e.Type),
		Data:       l.dataFor(e),
	}
	_, err = l.sender.Send(ctx, req)
	return err
}

// resolveRecipients prefers explicit recipients on the event, then the
// cached resolution for the type and severity pair, then a fresh resolution
// by severity role.
func (l *Listener) resolveRecipients(e event.Event) ([]string, error) {
	if len(e.Recipients) > 0 {
		if err := l.validator.ValidateRecipients(e.Recipients); err != nil {
			return nil, err
		}
		return e.Recipients, nil
	}
	if cached, ok := l.cache.Recipients(e.Type, e.Severity); ok {
		return cached, nil
	}
	recipients, err := l.validator.ResolveRecipients(e.Severity)
	if err != nil {
		return nil, err
	}
	l.cache.PutRecipients(e.Type, e.Severity, recipients)
	return recipients, nil
}

func templateFor(t event.Type) string {
	switch t {
	case event.TypeRevisionCreated, event.TypeRevisionUpdated, event.TypeRevisionDeleted:
		return template.TemplateRevision
	default:
		return template.TemplateAlert
	}
}

func subjectFor(e event.Event) string {
	switch e.Type {
	case event.TypeRevisionCreated, event.TypeRevisionUpdated, event.TypeRevisionDeleted:
		if e.Revision != nil {
			return fmt.Sprintf("[%s] %s %s#%d",
				e.Severity, e.Revision.Type, e.Revision.EntityName, e.Revision.EntityID)
		}
		return fmt.Sprintf("[%s] %s", e.Severity, e.Type)
	case event.TypeRevisionError:
		return fmt.Sprintf("[%s] Revision processing error", e.Severity)
	case event.TypeCleanupCompleted:
		return fmt.Sprintf("[%s] Revision cleanup completed", e.Severity)
	case event.TypeExcessRevisions:
		return fmt.Sprintf("[%s] Excess revisions detected", e.Severity)
	default:
		return fmt.Sprintf("[%s] System alert", e.Severity)
	}
}

func (l *Listener) dataFor(e event.Event) any {
	if e.Revision != nil {
		changes := ""
		if raw, err := json.Marshal(e.Revision.Changes); err == nil {
			changes = string(raw)
		}
		return map[string]any{
			"EntityName":   e.Revision.EntityName,
			"EntityID":     e.Revision.EntityID,
			"RevisionType": string(e.Revision.Type),
			"Username":     e.Revision.Username,
			"Timestamp":    e.Revision.Time().UTC().Format(time.RFC3339),
			"Changes":      changes,
			"Reason":       e.Revision.Reason,
		}
	}

	detail := make(map[string]string, len(e.Payload))
	for k, v := range e.Payload {
		if k == "stackTrace" {
			v = l.validator.TruncateStackTrace(v)
		}
		detail[k] = v
	}
	message := e.Payload["message"]
	if message == "" {
		message = string(e.Type)
	}
	delete(detail, "message")
	return map[string]any{
		"Severity": string(e.Severity),
		"Message":  message,
		"Detail":   detail,
	}
}
