// Package sender drives notification delivery: validation, rate limiting,
// rendering, transport send with retry, and delivery-status tracking.
package sender

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"revtrail/internal/event"
	"revtrail/internal/notification/cache"
	"revtrail/internal/notification/mailer"
	"revtrail/internal/notification/metrics"
	"revtrail/internal/notification/models"
	"revtrail/internal/notification/settings"
	"revtrail/internal/notification/template"
	"revtrail/internal/notification/validator"
	dErrors "revtrail/pkg/domain-errors"
)

// Request describes one notification to deliver.
type Request struct {
	Type       event.Type
	Severity   event.Severity
	Recipients []string
	Subject    string
	Template   string
	Data       any
}

// Delivery is the handle for an in-flight send. Done closes once the send
// reaches a terminal status; Status then reads the final record from the
// cache.
type Delivery struct {
	ID   string
	Done <-chan struct{}

	cache *cache.Cache
}

// Status returns the current delivery record.
func (d *Delivery) Status() (models.DeliveryStatus, bool) {
	return d.cache.Delivery(d.ID)
}

// Options tune retry behavior.
type Options struct {
	MaxRetries     int
	RetryBaseDelay time.Duration
	SendTimeout    time.Duration
}

// DefaultOptions mirrors the documented defaults.
func DefaultOptions() Options {
	return Options{MaxRetries: 3, RetryBaseDelay: time.Second, SendTimeout: 30 * time.Second}
}

// Sender owns the delivery path. Safe for concurrent use.
type Sender struct {
	settings  *settings.Settings
	validator *validator.Validator
	renderer  *template.Renderer
	transport mailer.Transport
	cache     *cache.Cache
	metrics   *metrics.Metrics
	logger    *slog.Logger
	opts      Options

	wg sync.WaitGroup
}

// New wires the sender.
func New(st *settings.Settings, v *validator.Validator, r *template.Renderer,
	t mailer.Transport, c *cache.Cache, m *metrics.Metrics, logger *slog.Logger, opts Options) *Sender {
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = time.Second
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 30 * time.Second
	}
	return &Sender{
		settings:  st,
		validator: v,
		renderer:  r,
		transport: t,
		cache:     c,
		metrics:   m,
		logger:    logger,
		opts:      opts,
	}
}

// Send validates and renders the request, then delivers asynchronously with
// retry. The returned Delivery resolves when the send reaches a terminal
// status. Disabled severities return (nil, nil): a silent no-op, not an
// error. Rate-limit, validation, and template failures are returned
// immediately and nothing is sent.
func (s *Sender) Send(ctx context.Context, req Request) (*Delivery, error) {
	if !s.validator.Enabled(req.Severity) {
		return nil, nil
	}
	if err := s.validator.ValidateRecipients(req.Recipients); err != nil {
		return nil, err
	}
	if err := s.validator.ValidateContent(req.Subject, ""); err != nil {
		return nil, err
	}

	// The window is charged against the primary recipient before any work
	// happens, so a rejected send costs nothing downstream.
	primary := req.Recipients[0]
	if !s.cache.Limiter.Allow(primary) {
		s.metrics.RecordRateLimited()
		return nil, dErrors.Newf(dErrors.CodeRateLimited,
			"rate limit exceeded for recipient %q", primary)
	}

	body, err := s.renderer.Render(req.Template, req.Data)
	if err != nil {
		s.metrics.RecordFailed(string(req.Type), string(req.Severity))
		return nil, err
	}
	if err := s.validator.ValidateContent(req.Subject, body); err != nil {
		return nil, err
	}

	id := newNotificationID()
	now := time.Now()
	s.cache.PutDelivery(&models.DeliveryStatus{
		NotificationID: id,
		Recipient:      primary,
		Type:           req.Type,
		SentTime:       now,
		Status:         models.StatusPending,
	})

	msg := mailer.Message{
		From:       s.settings.SenderAddress(),
		Recipients: req.Recipients,
		Subject:    req.Subject,
		Body:       body,
	}

	// The delivery outlives the request that accepted it: detach from the
	// caller's cancellation so returning 202 does not abort the send.
	deliverCtx := context.WithoutCancel(ctx)
	done := make(chan struct{})
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(done)
		s.deliver(deliverCtx, id, req, msg, now)
	}()

	return &Delivery{ID: id, Done: done, cache: s.cache}, nil
}

// deliver attempts the transport send up to MaxRetries+1 times. Only
// transient transport errors are retried; the backoff doubles per attempt
// from the configured base delay.
func (s *Sender) deliver(ctx context.Context, id string, req Request, msg mailer.Message, started time.Time) {
	var lastErr error
	attempts := 0
	for attempt := 0; attempt <= s.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			s.updateStatus(id, models.StatusRetrying, attempt, lastErr)
			if !s.sleep(ctx, s.opts.RetryBaseDelay<<(attempt-1)) {
				lastErr = dErrors.Wrap(ctx.Err(), dErrors.CodeTransientDelivery, "send cancelled")
				break
			}
		}

		sendCtx, cancel := context.WithTimeout(ctx, s.opts.SendTimeout)
		err := s.transport.Send(sendCtx, msg)
		cancel()
		attempts = attempt + 1
		if err == nil {
			latency := time.Since(started).Milliseconds()
			s.finish(id, models.StatusDelivered, attempt+1, nil)
			s.metrics.RecordDelivered(string(req.Type), string(req.Severity), latency)
			s.logger.Info("notification delivered",
				"notification_id", id, "type", req.Type, "attempts", attempt+1, "latency_ms", latency)
			return
		}

		lastErr = err
		if !mailer.IsTransient(err) {
			break
		}
		s.logger.Warn("notification send failed, will retry",
			"notification_id", id, "attempt", attempt+1, "error", err)
	}

	// CodeMaxRetries means the retry budget ran out on transient failures.
	// Permanent failures and cancellations keep their own class.
	code := dErrors.CodeProcessing
	if attempts > s.opts.MaxRetries && mailer.IsTransient(lastErr) {
		code = dErrors.CodeMaxRetries
	}
	final := dErrors.Wrap(lastErr, code, "notification delivery failed")
	s.finish(id, models.StatusFailed, attempts, final)
	s.metrics.RecordFailed(string(req.Type), string(req.Severity))
	s.logger.Error("notification delivery failed",
		"notification_id", id, "type", req.Type, "error", final)
}

// Stats snapshots the running aggregates.
func (s *Sender) Stats() models.Stats {
	sent, errors, rateLimited, avgMs, successRate := s.metrics.Totals()
	return models.Stats{
		TotalSent:         sent,
		TotalErrors:       errors,
		AverageDeliveryMs: avgMs,
		SuccessRate:       successRate,
		RateLimitRejected: rateLimited,
	}
}

// Drain blocks until all in-flight deliveries have reached a terminal
// status. Called during shutdown after the dispatcher stops producing.
func (s *Sender) Drain() {
	s.wg.Wait()
}

func (s *Sender) updateStatus(id string, status models.Status, attempts int, err error) {
	ds, ok := s.cache.Delivery(id)
	if !ok {
		return
	}
	ds.Status = status
	ds.Attempts = attempts
	if err != nil {
		ds.ErrorMessage = err.Error()
	}
	s.cache.PutDelivery(&ds)
}

func (s *Sender) finish(id string, status models.Status, attempts int, err error) {
	ds, ok := s.cache.Delivery(id)
	if !ok {
		return
	}
	ds.Status = status
	ds.Attempts = attempts
	if status == models.StatusDelivered {
		ds.DeliveredTime = time.Now()
		ds.ErrorMessage = ""
	} else if err != nil {
		ds.ErrorMessage = err.Error()
	}
	s.cache.PutDelivery(&ds)
}

func (s *Sender) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func newNotificationID() string {
	return fmt.Sprintf("notif_%d_%04d", time.Now().UnixMilli(), rand.Intn(10000))
}
