// Package settings owns the hot-reloadable notification configuration:
// the email-enabled switch, sender address, per-severity enable flags, and
// recipient lists per role. The admin API reads and updates it at runtime;
// everything else in the pipeline reads through the accessors.
package settings

import (
	"sync"

	"revtrail/internal/event"
	"revtrail/internal/notification/models"
	dErrors "revtrail/pkg/domain-errors"
	stringsutil "revtrail/pkg/platform/strings"
)

// Snapshot is the externally visible settings state.
type Snapshot struct {
	EmailEnabled  bool                     `json:"emailEnabled"`
	SenderAddress string                   `json:"senderAddress"`
	LevelEnabled  map[event.Severity]bool  `json:"levelEnabled"`
	Recipients    map[models.Role][]string `json:"recipients"`
}

// Settings is safe for concurrent use.
type Settings struct {
	mu sync.RWMutex
	s  Snapshot
}

// New seeds settings from startup configuration. All severity levels start
// enabled.
func New(emailEnabled bool, senderAddress string) *Settings {
	return &Settings{s: Snapshot{
		EmailEnabled:  emailEnabled,
		SenderAddress: senderAddress,
		LevelEnabled: map[event.Severity]bool{
			event.SeverityInfo:     true,
			event.SeverityWarning:  true,
			event.SeverityError:    true,
			event.SeverityCritical: true,
		},
		Recipients: map[models.Role][]string{},
	}}
}

// View returns a deep copy of the current settings.
func (st *Settings) View() Snapshot {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.s.clone()
}

// EmailEnabled reports the global email switch.
func (st *Settings) EmailEnabled() bool {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.s.EmailEnabled
}

// SenderAddress returns the configured From address.
func (st *Settings) SenderAddress() string {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.s.SenderAddress
}

// LevelEnabled reports whether notifications of the given severity are on.
func (st *Settings) LevelEnabled(sev event.Severity) bool {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.s.LevelEnabled[sev]
}

// RecipientsFor returns the recipient list for a role.
func (st *Settings) RecipientsFor(role models.Role) []string {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return append([]string(nil), st.s.Recipients[role]...)
}

// Update applies a full settings snapshot. Recipient lists are trimmed and
// deduplicated.
func (st *Settings) Update(s Snapshot) error {
	normalized := make(map[models.Role][]string, len(s.Recipients))
	for role, list := range s.Recipients {
		if !role.IsValid() {
			return dErrors.Newf(dErrors.CodeValidation, "unknown recipient role %q", role)
		}
		normalized[role] = stringsutil.DedupeAndTrim(list)
	}
	s.Recipients = normalized
	st.mu.Lock()
	defer st.mu.Unlock()
	st.s = s.clone()
	return nil
}

// SetRecipients replaces the recipient list for one role, trimmed and
// deduplicated.
func (st *Settings) SetRecipients(role models.Role, recipients []string) error {
	if !role.IsValid() {
		return dErrors.Newf(dErrors.CodeValidation, "unknown recipient role %q", role)
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	st.s.Recipients[role] = stringsutil.DedupeAndTrim(recipients)
	return nil
}

// SetEmailEnabled flips the global email switch.
func (st *Settings) SetEmailEnabled(enabled bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.s.EmailEnabled = enabled
}

func (s Snapshot) clone() Snapshot {
	out := Snapshot{
		EmailEnabled:  s.EmailEnabled,
		SenderAddress: s.SenderAddress,
		LevelEnabled:  make(map[event.Severity]bool, len(s.LevelEnabled)),
		Recipients:    make(map[models.Role][]string, len(s.Recipients)),
	}
	for k, v := range s.LevelEnabled {
		out.LevelEnabled[k] = v
	}
	for k, v := range s.Recipients {
		out.Recipients[k] = append([]string(nil), v...)
	}
	return out
}
