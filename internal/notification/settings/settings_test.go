package settings

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"revtrail/internal/event"
	"revtrail/internal/notification/models"
)

func TestNewEnablesAllLevels(t *testing.T) {
	st := New(true, "noreply@example.com")

	assert.True(t, st.EmailEnabled())
	assert.Equal(t, "noreply@example.com", st.SenderAddress())
	for _, sev := range []event.Severity{
		event.SeverityInfo, event.SeverityWarning, event.SeverityError, event.SeverityCritical,
	} {
		assert.True(t, st.LevelEnabled(sev), sev)
	}
}

func TestSetRecipientsValidatesRole(t *testing.T) {
	st := New(true, "noreply@example.com")

	require.NoError(t, st.SetRecipients(models.RoleDeveloper, []string{"dev@example.com"}))
	assert.Equal(t, []string{"dev@example.com"}, st.RecipientsFor(models.RoleDeveloper))

	assert.Error(t, st.SetRecipients(models.Role("overlord"), []string{"x@example.com"}))
}

func TestSetRecipientsDedupesAndTrims(t *testing.T) {
	st := New(true, "noreply@example.com")

	require.NoError(t, st.SetRecipients(models.RoleDeveloper, []string{
		" dev@example.com ", "dev@example.com", "", "ops@example.com",
	}))
	assert.Equal(t, []string{"dev@example.com", "ops@example.com"}, st.RecipientsFor(models.RoleDeveloper))
}

func TestUpdateReplacesSnapshot(t *testing.T) {
	st := New(true, "noreply@example.com")

	snap := st.View()
	snap.EmailEnabled = false
	snap.LevelEnabled[event.SeverityInfo] = false
	snap.Recipients[models.RoleAuditor] = []string{"audit@example.com"}
	require.NoError(t, st.Update(snap))

	assert.False(t, st.EmailEnabled())
	assert.False(t, st.LevelEnabled(event.SeverityInfo))
	assert.True(t, st.LevelEnabled(event.SeverityError))
	assert.Equal(t, []string{"audit@example.com"}, st.RecipientsFor(models.RoleAuditor))
}

func TestUpdateRejectsUnknownRole(t *testing.T) {
	st := New(true, "noreply@example.com")

	snap := st.View()
	snap.Recipients[models.Role("overlord")] = []string{"x@example.com"}
	assert.Error(t, st.Update(snap))
}

func TestViewIsACopy(t *testing.T) {
	st := New(true, "noreply@example.com")
	require.NoError(t, st.SetRecipients(models.RoleUser, []string{"u@example.com"}))

	snap := st.View()
	snap.Recipients[models.RoleUser][0] = "mutated@example.com"
	snap.LevelEnabled[event.SeverityInfo] = false

	assert.Equal(t, []string{"u@example.com"}, st.RecipientsFor(models.RoleUser))
	assert.True(t, st.LevelEnabled(event.SeverityInfo))
}
