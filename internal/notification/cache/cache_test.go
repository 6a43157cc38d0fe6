package cache

import (
	"testing"
	"text/template"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"revtrail/internal/event"
	"revtrail/internal/notification/models"
	"revtrail/internal/notification/ratelimit"
)

func newCache() *Cache {
	return New(ratelimit.New(100, time.Hour))
}

func TestDeliveryLifecycle(t *testing.T) {
	c := newCache()

	ds := &models.DeliveryStatus{
		NotificationID: "notif_1_0001",
		Recipient:      "a@example.com",
		Status:         models.StatusPending,
		SentTime:       time.Now(),
	}
	c.PutDelivery(ds)

	// Mutating the original does not leak into the cached copy.
	ds.Status = models.StatusFailed
	got, ok := c.Delivery("notif_1_0001")
	require.True(t, ok)
	assert.Equal(t, models.StatusPending, got.Status)

	got.Status = models.StatusDelivered
	c.PutDelivery(&got)
	got, _ = c.Delivery("notif_1_0001")
	assert.Equal(t, models.StatusDelivered, got.Status)

	assert.Len(t, c.Deliveries(), 1)
}

func TestRecipientsKeyedByTypeAndSeverity(t *testing.T) {
	c := newCache()

	c.PutRecipients(event.TypeSystemAlert, event.SeverityCritical, []string{"admin@example.com"})

	got, ok := c.Recipients(event.TypeSystemAlert, event.SeverityCritical)
	require.True(t, ok)
	assert.Equal(t, []string{"admin@example.com"}, got)

	_, ok = c.Recipients(event.TypeSystemAlert, event.SeverityWarning)
	assert.False(t, ok)

	c.EvictRecipients()
	_, ok = c.Recipients(event.TypeSystemAlert, event.SeverityCritical)
	assert.False(t, ok)
}

func TestSweepClearsAllSubCaches(t *testing.T) {
	c := newCache()

	c.PutDelivery(&models.DeliveryStatus{NotificationID: "x"})
	c.PutTemplate("revision", template.Must(template.New("revision").Parse("hi")))
	c.PutRecipients(event.TypeRevisionCreated, event.SeverityInfo, []string{"a@example.com"})

	c.Sweep()

	_, ok := c.Delivery("x")
	assert.False(t, ok)
	_, ok = c.Template("revision")
	assert.False(t, ok)
	_, ok = c.Recipients(event.TypeRevisionCreated, event.SeverityInfo)
	assert.False(t, ok)
}
