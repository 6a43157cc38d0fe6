package listener

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"revtrail/internal/event"
	"revtrail/internal/notification/cache"
	"revtrail/internal/notification/mailer"
	"revtrail/internal/notification/metrics"
	"revtrail/internal/notification/models"
	"revtrail/internal/notification/ratelimit"
	"revtrail/internal/notification/sender"
	"revtrail/internal/notification/settings"
	"revtrail/internal/notification/template"
	"revtrail/internal/notification/validator"
	"revtrail/internal/platform/logger"
	revmodels "revtrail/internal/revision/models"
)

var listenerMetrics = metrics.New()

type captureTransport struct {
	mu   sync.Mutex
	sent []mailer.Message
}

func (c *captureTransport) Send(_ context.Context, msg mailer.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, msg)
	return nil
}

func (c *captureTransport) messages() []mailer.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]mailer.Message(nil), c.sent...)
}

func newListener(t *testing.T) (*Listener, *captureTransport, *settings.Settings, *cache.Cache, *sender.Sender) {
	t.Helper()
	log := logger.New()
	st := settings.New(true, "noreply@example.com")
	c := cache.New(ratelimit.New(100, time.Hour))
	v := validator.New(st, validator.DefaultLimits())
	r := template.NewRenderer("", c)
	transport := &captureTransport{}
	snd := sender.New(st, v, r, transport, c, listenerMetrics, log, sender.Options{
		MaxRetries: 1, RetryBaseDelay: time.Millisecond, SendTimeout: time.Second,
	})
	return New(snd, v, c, log), transport, st, c, snd
}

func TestHandleRevisionEvent(t *testing.T) {
	l, transport, st, _, snd := newListener(t)
	require.NoError(t, st.SetRecipients(models.RoleUser, []string{"user@example.com"}))

	err := l.Handle(context.Background(), event.Event{
		Type:     event.TypeRevisionUpdated,
		Severity: event.SeverityInfo,
		Revision: &revmodels.Revision{
			ID:         1,
			Timestamp:  time.Now().UnixMilli(),
			Username:   "alice",
			Type:       revmodels.TypeUpdate,
			EntityName: "product",
			EntityID:   42,
			Changes:    revmodels.ChangeSet{revmodels.NewUpdateChange("price", 10, 12)},
		},
	})
	require.NoError(t, err)
	snd.Drain()

	msgs := transport.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, []string{"user@example.com"}, msgs[0].Recipients)
	assert.Contains(t, msgs[0].Subject, "UPDATE product#42")
	assert.Contains(t, msgs[0].Body, "alice")
	assert.Contains(t, msgs[0].Body, `"price"`)
}

func TestHandlePrefersExplicitRecipients(t *testing.T) {
	l, transport, st, _, snd := newListener(t)
	require.NoError(t, st.SetRecipients(models.RoleUser, []string{"role@example.com"}))

	err := l.Handle(context.Background(), event.Event{
		Type:       event.TypeCleanupCompleted,
		Severity:   event.SeverityInfo,
		Recipients: []string{"explicit@example.com"},
		Payload:    map[string]string{"message": "cleanup done", "deleted": "12"},
	})
	require.NoError(t, err)
	snd.Drain()

	msgs := transport.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, []string{"explicit@example.com"}, msgs[0].Recipients)
	assert.Contains(t, msgs[0].Body, "cleanup done")
}

func TestHandleCachesResolvedRecipients(t *testing.T) {
	l, _, st, c, snd := newListener(t)
	require.NoError(t, st.SetRecipients(models.RoleAdministrator, []string{"admin@example.com"}))

	err := l.Handle(context.Background(), event.Event{
		Type:     event.TypeSystemAlert,
		Severity: event.SeverityCritical,
		Payload:  map[string]string{"message": "queue critical"},
	})
	require.NoError(t, err)
	snd.Drain()

	cached, ok := c.Recipients(event.TypeSystemAlert, event.SeverityCritical)
	require.True(t, ok)
	assert.Equal(t, []string{"admin@example.com"}, cached)
}

func TestHandleNoRecipientsConfiguredIsNoOp(t *testing.T) {
	l, transport, _, _, _ := newListener(t)

	err := l.Handle(context.Background(), event.Event{
		Type:     event.TypeRevisionCreated,
		Severity: event.SeverityInfo,
	})
	assert.NoError(t, err)
	assert.Empty(t, transport.messages())
}

func TestHandleDisabledIsNoOp(t *testing.T) {
	l, transport, st, _, _ := newListener(t)
	st.SetEmailEnabled(false)

	err := l.Handle(context.Background(), event.Event{
		Type:     event.TypeSystemAlert,
		Severity: event.SeverityCritical,
	})
	assert.NoError(t, err)
	assert.Empty(t, transport.messages())
}
