// Package cache owns the notification-side ephemeral state: delivery status
// records, resolved recipient lists, parsed templates, and (via the
// embedded limiter) the per-recipient rate-limit windows. Nothing else in
// the pipeline mutates these structures.
package cache

import (
	"fmt"
	"sync"
	"text/template"

	"revtrail/internal/event"
	"revtrail/internal/notification/models"
	"revtrail/internal/notification/ratelimit"
)

func deliveryKey(id string) string { return "delivery_" + id }

func templateKey(name string) string { return "template_" + name }

func recipientsKey(t string) string { return "recipients_" + t }

// Cache is safe for concurrent use. Delivery statuses use per-key
// synchronization through a single map mutex held briefly; template and
// recipient entries are read-mostly.
type Cache struct {
	Limiter *ratelimit.Limiter

	mu         sync.RWMutex
	deliveries map[string]*models.DeliveryStatus
	templates  map[string]*template.Template
	recipients map[string][]string
}

// New creates the notification cache around the given limiter.
func New(limiter *ratelimit.Limiter) *Cache {
	return &Cache{
		Limiter:    limiter,
		deliveries: make(map[string]*models.DeliveryStatus),
		templates:  make(map[string]*template.Template),
		recipients: make(map[string][]string),
	}
}

// PutDelivery stores or replaces a delivery status record.
func (c *Cache) PutDelivery(ds *models.DeliveryStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	copied := *ds
	c.deliveries[deliveryKey(ds.NotificationID)] = &copied
}

// Delivery returns a copy of the delivery status for an id.
func (c *Cache) Delivery(id string) (models.DeliveryStatus, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ds, ok := c.deliveries[deliveryKey(id)]
	if !ok {
		return models.DeliveryStatus{}, false
	}
	return *ds, true
}

// Deliveries returns copies of all tracked delivery statuses.
func (c *Cache) Deliveries() []models.DeliveryStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.DeliveryStatus, 0, len(c.deliveries))
	for _, ds := range c.deliveries {
		out = append(out, *ds)
	}
	return out
}

// PutTemplate caches a parsed template under template_<name>.
func (c *Cache) PutTemplate(name string, t *template.Template) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.templates[templateKey(name)] = t
}

// Template returns a cached parsed template.
func (c *Cache) Template(name string) (*template.Template, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.templates[templateKey(name)]
	return t, ok
}

// PutRecipients caches a resolved recipient list for an event type and
// severity pair.
func (c *Cache) PutRecipients(t event.Type, sev event.Severity, recipients []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recipients[recipientsKey(subKey(t, sev))] = append([]string(nil), recipients...)
}

// Recipients returns a cached resolved recipient list.
func (c *Cache) Recipients(t event.Type, sev event.Severity) ([]string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.recipients[recipientsKey(subKey(t, sev))]
	if !ok {
		return nil, false
	}
	return append([]string(nil), r...), true
}

// EvictRecipients drops all resolved recipient lists. Called when recipient
// settings change.
func (c *Cache) EvictRecipients() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recipients = make(map[string][]string)
}

// Sweep clears all notification sub-caches. The scheduler runs it daily.
// Rate-limit windows are swept separately by SweepRateLimitWindows.
func (c *Cache) Sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deliveries = make(map[string]*models.DeliveryStatus)
	c.templates = make(map[string]*template.Template)
	c.recipients = make(map[string][]string)
}

// SweepRateLimitWindows drops windows idle for more than a day and returns
// the number removed.
func (c *Cache) SweepRateLimitWindows() int {
	return c.Limiter.SweepIdle()
}

func subKey(t event.Type, sev event.Severity) string {
	return fmt.Sprintf("%s_%s", t, sev)
}
