// Package mailer is the outbound mail transport boundary. The Transport
// interface keeps the sender testable; the SMTP implementation wraps
// gopkg.in/mail.v2.
package mailer

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"os"
	"time"

	mail "gopkg.in/mail.v2"

	"revtrail/pkg/platform/sentinel"
)

// Message is one outbound email.
type Message struct {
	From       string
	Recipients []string
	Subject    string
	Body       string
}

// Transport delivers messages. Implementations signal retryable failures by
// wrapping sentinel.ErrTimeout or sentinel.ErrUnavailable.
type Transport interface {
	Send(ctx context.Context, msg Message) error
}

// IsTransient reports whether a transport failure is retryable. Only
// transport and timeout class errors qualify; validation and template
// failures never reach this path.
func IsTransient(err error) bool {
	if errors.Is(err, sentinel.ErrTimeout) || errors.Is(err, sentinel.ErrUnavailable) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// SMTP sends through a real SMTP server.
type SMTP struct {
	dialer  *mail.Dialer
	timeout time.Duration
}

// NewSMTP configures the SMTP transport.
func NewSMTP(host string, port int, username, password string, startTLS bool, timeout time.Duration) *SMTP {
	d := mail.NewDialer(host, port, username, password)
	if startTLS {
		d.StartTLSPolicy = mail.MandatoryStartTLS
	} else {
		d.StartTLSPolicy = mail.OpportunisticStartTLS
		d.TLSConfig = &tls.Config{ServerName: host}
	}
	if timeout > 0 {
		d.Timeout = timeout
	}
	return &SMTP{dialer: d, timeout: timeout}
}

// Send dials and delivers one message. The dial-and-send runs on its own
// goroutine so the configured context deadline is honored even when the
// server stalls mid-session.
func (s *SMTP) Send(ctx context.Context, msg Message) error {
	m := mail.NewMessage()
	m.SetHeader("From", msg.From)
	m.SetHeader("To", msg.Recipients...)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/plain", msg.Body)

	done := make(chan error, 1)
	go func() { done <- s.dialer.DialAndSend(m) }()

	select {
	case <-ctx.Done():
		return errors.Join(sentinel.ErrTimeout, ctx.Err())
	case err := <-done:
		return err
	}
}
