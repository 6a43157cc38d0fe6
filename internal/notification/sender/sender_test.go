package sender

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"revtrail/internal/event"
	"revtrail/internal/notification/cache"
	"revtrail/internal/notification/mailer"
	"revtrail/internal/notification/metrics"
	"revtrail/internal/notification/models"
	"revtrail/internal/notification/ratelimit"
	"revtrail/internal/notification/settings"
	"revtrail/internal/notification/template"
	"revtrail/internal/notification/validator"
	"revtrail/internal/platform/logger"
	dErrors "revtrail/pkg/domain-errors"
	"revtrail/pkg/platform/sentinel"
)

// fakeTransport scripts per-attempt outcomes and records every invocation.
type fakeTransport struct {
	mu       sync.Mutex
	attempts int
	fail     int   // fail this many attempts before succeeding
	err      error // error to fail with
}

func (f *fakeTransport) Send(_ context.Context, _ mailer.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.attempts <= f.fail {
		return f.err
	}
	return nil
}

func (f *fakeTransport) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts
}

var senderMetrics = metrics.New()

type SenderSuite struct {
	suite.Suite
	settings  *settings.Settings
	cache     *cache.Cache
	transport *fakeTransport
	sender    *Sender
}

func TestSenderSuite(t *testing.T) {
	suite.Run(t, new(SenderSuite))
}

func (s *SenderSuite) SetupTest() {
	s.settings = settings.New(true, "noreply@example.com")
	s.cache = cache.New(ratelimit.New(3, time.Hour))
	s.transport = &fakeTransport{}

	v := validator.New(s.settings, validator.DefaultLimits())
	r := template.NewRenderer("", s.cache)
	s.sender = New(s.settings, v, r, s.transport, s.cache, senderMetrics, logger.New(), Options{
		MaxRetries:     3,
		RetryBaseDelay: time.Millisecond,
		SendTimeout:    time.Second,
	})
}

func (s *SenderSuite) send(recipients ...string) (*Delivery, error) {
	if len(recipients) == 0 {
		recipients = []string{"a@example.com"}
	}
	return s.sender.Send(context.Background(), Request{
		Type:       event.TypeSystemAlert,
		Severity:   event.SeverityInfo,
		Recipients: recipients,
		Subject:    "test",
		Template:   template.TemplateCustom,
		Data:       map[string]any{"Content": "hello"},
	})
}

func (s *SenderSuite) wait(d *Delivery) models.DeliveryStatus {
	select {
	case <-d.Done:
	case <-time.After(5 * time.Second):
		s.FailNow("delivery did not settle")
	}
	ds, ok := d.Status()
	s.Require().True(ok)
	return ds
}

func (s *SenderSuite) TestDeliversOnFirstAttempt() {
	d, err := s.send()
	s.Require().NoError(err)
	s.Require().NotNil(d)
	s.Contains(d.ID, "notif_")

	ds := s.wait(d)
	s.Equal(models.StatusDelivered, ds.Status)
	s.Equal(1, ds.Attempts)
	s.False(ds.DeliveredTime.IsZero())
	s.Equal(1, s.transport.calls())
}

func (s *SenderSuite) TestRetriesTransientFailuresThenDelivers() {
	s.transport.fail = 2
	s.transport.err = sentinel.ErrUnavailable

	d, err := s.send()
	s.Require().NoError(err)

	ds := s.wait(d)
	s.Equal(models.StatusDelivered, ds.Status)
	s.Equal(3, ds.Attempts)
}

func (s *SenderSuite) TestRetryCeilingMarksFailed() {
	s.transport.fail = 100
	s.transport.err = sentinel.ErrTimeout

	d, err := s.send()
	s.Require().NoError(err)

	ds := s.wait(d)
	s.Equal(models.StatusFailed, ds.Status)
	// MaxRetries 3 means at most 4 attempts, never "until success".
	s.Equal(4, ds.Attempts)
	s.Equal(4, s.transport.calls())
	s.Contains(ds.ErrorMessage, string(dErrors.CodeMaxRetries))
}

func (s *SenderSuite) TestPermanentFailureIsNotRetried() {
	s.transport.fail = 100
	s.transport.err = errors.New("550 mailbox unavailable")

	d, err := s.send()
	s.Require().NoError(err)

	ds := s.wait(d)
	s.Equal(models.StatusFailed, ds.Status)
	s.Equal(1, ds.Attempts)
	s.Equal(1, s.transport.calls())
	// No retry budget was spent, so the failure keeps its own class.
	s.Contains(ds.ErrorMessage, string(dErrors.CodeProcessing))
	s.NotContains(ds.ErrorMessage, string(dErrors.CodeMaxRetries))
}

func (s *SenderSuite) TestDeliveryOutlivesCallerContext() {
	s.transport.fail = 1
	s.transport.err = sentinel.ErrUnavailable

	ctx, cancel := context.WithCancel(context.Background())
	d, err := s.sender.Send(ctx, Request{
		Type:       event.TypeSystemAlert,
		Severity:   event.SeverityInfo,
		Recipients: []string{"a@example.com"},
		Subject:    "test",
		Template:   template.TemplateCustom,
		Data:       map[string]any{"Content": "hello"},
	})
	s.Require().NoError(err)
	cancel()

	// The accepted delivery retries and succeeds even though the request
	// context is gone.
	ds := s.wait(d)
	s.Equal(models.StatusDelivered, ds.Status)
	s.Equal(2, ds.Attempts)
}

func (s *SenderSuite) TestRateLimitRejectsWithoutSending() {
	for i := 0; i < 3; i++ {
		d, err := s.send()
		s.Require().NoError(err)
		s.wait(d)
	}

	calls := s.transport.calls()
	d, err := s.send()
	s.Require().Error(err)
	s.Nil(d)
	s.True(dErrors.HasCode(err, dErrors.CodeRateLimited))
	s.Equal(calls, s.transport.calls(), "a rate-limited send must not reach the transport")
}

func (s *SenderSuite) TestTooManyRecipientsRejectedBeforeTransport() {
	recipients := make([]string, 51)
	for i := range recipients {
		recipients[i] = fmt.Sprintf("user%d@example.com", i)
	}

	d, err := s.send(recipients...)
	s.Require().Error(err)
	s.Nil(d)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	s.Zero(s.transport.calls())
}

func (s *SenderSuite) TestInvalidAddressRejected() {
	_, err := s.send("not-an-email")
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	s.Zero(s.transport.calls())
}

func (s *SenderSuite) TestUnknownTemplateFailsFast() {
	_, err := s.sender.Send(context.Background(), Request{
		Type:       event.TypeSystemAlert,
		Severity:   event.SeverityInfo,
		Recipients: []string{"a@example.com"},
		Subject:    "test",
		Template:   "nonexistent",
	})
	s.Require().Error(err)
	s.Zero(s.transport.calls())
}

func (s *SenderSuite) TestDisabledSeverityIsSilentNoOp() {
	s.settings.SetEmailEnabled(false)

	d, err := s.send()
	s.NoError(err)
	s.Nil(d)
	s.Zero(s.transport.calls())
}

func (s *SenderSuite) TestStatsAggregateOutcomes() {
	d, err := s.send()
	s.Require().NoError(err)
	s.wait(d)

	stats := s.sender.Stats()
	s.Positive(stats.TotalSent)
	s.GreaterOrEqual(stats.SuccessRate, 0.0)
	s.LessOrEqual(stats.SuccessRate, 1.0)
}
