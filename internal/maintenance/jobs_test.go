package maintenance

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"revtrail/internal/event"
	"revtrail/internal/notification/mailer"
	"revtrail/internal/notification/ratelimit"
	"revtrail/internal/notification/sender"
	"revtrail/internal/notification/settings"
	"revtrail/internal/notification/template"
	"revtrail/internal/notification/validator"
	"revtrail/internal/platform/config"
	"revtrail/internal/platform/logger"
	"revtrail/internal/revision/cache"
	"revtrail/internal/revision/metrics"
	"revtrail/internal/revision/models"
	"revtrail/internal/revision/store/memory"

	ncache "revtrail/internal/notification/cache"
	nmetrics "revtrail/internal/notification/metrics"
	nmodels "revtrail/internal/notification/models"
)

var (
	revMetrics   = metrics.New()
	notifMetrics = nmetrics.New()
)

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

type recordedEvents struct {
	mu     sync.Mutex
	events []event.Event
}

func (r *recordedEvents) Name() string { return "recorder" }

func (r *recordedEvents) Handle(_ context.Context, e event.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordedEvents) ofType(t event.Type) []event.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []event.Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	deps      Deps
	store     *memory.Store
	cache     *cache.Memory
	events    *recordedEvents
	transport *captureTransport
	sender    *sender.Sender
	settings  *settings.Settings
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := logger.New()
	st := memory.New()
	revCache := cache.NewMemory()
	events := &recordedEvents{}

	d := event.NewDispatcher(log, 1, 100)
	d.Subscribe(events)

	notifSettings := settings.New(true, "noreply@example.com")
	notifCache := ncache.New(ratelimit.New(100, time.Hour))
	v := validator.New(notifSettings, validator.DefaultLimits())
	transport := &captureTransport{}
	snd := sender.New(notifSettings, v, template.NewRenderer("", notifCache), transport, notifCache, notifMetrics, log, sender.Options{
		MaxRetries: 1, RetryBaseDelay: time.Millisecond, SendTimeout: time.Second,
	})

	cfg := config.FromEnv()
	return &fixture{
		deps: Deps{
			Store:       st,
			RevCache:    revCache,
			CacheStats:  revCache,
			NotifCache:  notifCache,
			Dispatcher:  d,
			Sender:      snd,
			Validator:   v,
			Metrics:     revMetrics,
			NotifMetric: notifMetrics,
			Logger:      log,
			Revision:    cfg.Revision,
			Notify:      cfg.Notify,
		},
		store:     st,
		cache:     revCache,
		events:    events,
		transport: transport,
		sender:    snd,
		settings:  notifSettings,
	}
}

func appendAt(t *testing.T, st *memory.Store, entity string, entityID int64, ts time.Time) {
	t.Helper()
	require.NoError(t, st.Append(context.Background(), &models.Revision{
		Timestamp:  ts.UnixMilli(),
		Type:       models.TypeUpdate,
		EntityName: entity,
		EntityID:   entityID,
		Changes:    models.ChangeSet{models.NewUpdateChange("n", 1, 2)},
	}))
}

func TestRetentionCleanup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appendAt(t, f.store, "order", 1, time.Now().Add(-200*24*time.Hour))
	appendAt(t, f.store, "order", 2, time.Now())
	f.cache.PutLatest(ctx, "order", 1, &models.Revision{ID: 99})

	require.NoError(t, f.deps.retentionCleanup(ctx))

	n, err := f.store.CountByType(ctx, models.TypeUpdate)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	// Deleting clears the cache and announces completion synchronously.
	_, ok := f.cache.GetLatest(ctx, "order", 1)
	assert.False(t, ok)
	published := f.events.ofType(event.TypeCleanupCompleted)
	require.Len(t, published, 1)
	assert.Equal(t, "retention_cleanup", published[0].Payload["job"])

	// Idempotent: a second run deletes and publishes nothing new.
	require.NoError(t, f.deps.retentionCleanup(ctx))
	assert.Len(t, f.events.ofType(event.TypeCleanupCompleted), 1)
}

func TestExcessTrim(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 105; i++ {
		appendAt(t, f.store, "product", 1, base.Add(time.Duration(i)*time.Second))
	}

	require.NoError(t, f.deps.excessTrim(ctx))

	n, err := f.store.CountByEntity(ctx, "product", 1)
	require.NoError(t, err)
	assert.EqualValues(t, 100, n)
	assert.Len(t, f.events.ofType(event.TypeCleanupCompleted), 1)
}

func TestCompressJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	big := strings.Repeat("a", 4096)
	rev := &models.Revision{
		Timestamp:  time.Now().UnixMilli(),
		Type:       models.TypeInsert,
		EntityName: "document",
		EntityID:   1,
		Changes:    models.ChangeSet{models.NewInsertChange("body", big)},
	}
	require.NoError(t, f.store.Append(ctx, rev))

	require.NoError(t, f.deps.compress(ctx))

	got, err := f.store.GetByID(ctx, rev.ID)
	require.NoError(t, err)
	assert.True(t, got.Compressed)
	body, ok := got.Changes.Get("body")
	require.True(t, ok)
	assert.Equal(t, big, body.New)
}

func TestQueueHealthQuietBelowThresholds(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.deps.queueHealth(context.Background()))
	assert.Empty(t, f.events.ofType(event.TypeSystemAlert))
	assert.Empty(t, f.events.ofType(event.TypeExcessRevisions))
}

func TestQueueHealthWarningAndCritical(t *testing.T) {
	f := newFixture(t)
	f.deps.Notify.QueueWarnDepth = 1
	f.deps.Notify.QueueCritDepth = 3

	// No Run on the dispatcher: deferred events pile up in the queue.
	for i := 0; i < 2; i++ {
		f.deps.Dispatcher.PublishAfterCommit(context.Background(), event.Event{Type: event.TypeRevisionCreated})
	}
	require.NoError(t, f.deps.queueHealth(context.Background()))
	warnings := f.events.ofType(event.TypeExcessRevisions)
	require.Len(t, warnings, 1)
	assert.Equal(t, event.SeverityWarning, warnings[0].Severity)

	for i := 0; i < 2; i++ {
		f.deps.Dispatcher.PublishAfterCommit(context.Background(), event.Event{Type: event.TypeRevisionCreated})
	}
	require.NoError(t, f.deps.queueHealth(context.Background()))
	criticals := f.events.ofType(event.TypeSystemAlert)
	require.Len(t, criticals, 1)
	assert.Equal(t, event.SeverityCritical, criticals[0].Severity)
}

func TestWeeklySummarySendsToInfoRole(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.settings.SetRecipients(nmodels.RoleUser, []string{"team@example.com"}))

	require.NoError(t, f.deps.weeklySummary(context.Background()))
	f.sender.Drain()

	msgs := f.transport.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, []string{"team@example.com"}, msgs[0].Recipients)
	assert.Contains(t, msgs[0].Subject, "Weekly")
	assert.Contains(t, msgs[0].Body, "Success rate")
}

func TestWeeklySummaryWithoutRecipientsIsNoOp(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.deps.weeklySummary(context.Background()))
	f.sender.Drain()
	assert.Empty(t, f.transport.messages())
}

func TestNotificationSweep(t *testing.T) {
	f := newFixture(t)
	f.deps.NotifCache.PutRecipients(event.TypeSystemAlert, event.SeverityCritical, []string{"a@example.com"})

	require.NoError(t, f.deps.notificationSweep(context.Background()))
	_, ok := f.deps.NotifCache.Recipients(event.TypeSystemAlert, event.SeverityCritical)
	assert.False(t, ok)
}

func TestSchedulerRunsAndIsolatesPanics(t *testing.T) {
	s := NewScheduler(logger.New())

	var mu sync.Mutex
	runs := 0
	s.Add(Job{Name: "panicky", Interval: 5 * time.Millisecond, Run: func(context.Context) error {
		panic("boom")
	}})
	s.Add(Job{Name: "failing", Interval: 5 * time.Millisecond, Run: func(context.Context) error {
		return errors.New("transient")
	}})
	s.Add(Job{Name: "counting", Interval: 5 * time.Millisecond, Run: func(context.Context) error {
		mu.Lock()
		runs++
		mu.Unlock()
		return nil
	}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return runs >= 3
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestSchedulerSkipsZeroInterval(t *testing.T) {
	s := NewScheduler(logger.New())
	s.Add(Job{Name: "never", Interval: 0, Run: func(context.Context) error { return nil }})
	assert.Empty(t, s.jobs)
}
