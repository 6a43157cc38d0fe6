package mailer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"revtrail/pkg/platform/circuit"
	"revtrail/pkg/platform/sentinel"
)

const defaultProbeInterval = 30 * time.Second

// breakerTransport short-circuits deliveries while the relay is down. While
// the circuit is open one probe per interval still reaches the relay, so
// recovery is observed without a flood. Short-circuited sends fail as
// unavailable, keeping the sender's retry classification intact.
type breakerTransport struct {
	next    Transport
	breaker *circuit.Breaker
	logger  *slog.Logger

	probeInterval time.Duration

	mu        sync.Mutex
	lastProbe time.Time
}

// WithBreaker wraps a transport with a circuit breaker.
func WithBreaker(next Transport, b *circuit.Breaker, logger *slog.Logger) Transport {
	return &breakerTransport{
		next:          next,
		breaker:       b,
		logger:        logger,
		probeInterval: defaultProbeInterval,
	}
}

func (t *breakerTransport) Send(ctx context.Context, msg Message) error {
	if t.breaker.IsOpen() && !t.takeProbe() {
		return fmt.Errorf("%w: %s circuit open", sentinel.ErrUnavailable, t.breaker.Name())
	}

	err := t.next.Send(ctx, msg)
	if err != nil {
		if _, change := t.breaker.RecordFailure(); change.Opened {
			t.logger.Error("mail transport circuit opened", "breaker", t.breaker.Name(), "error", err)
			t.mu.Lock()
			t.lastProbe = time.Now()
			t.mu.Unlock()
		}
		return err
	}
	if _, change := t.breaker.RecordSuccess(); change.Closed {
		t.logger.Info("mail transport circuit closed", "breaker", t.breaker.Name())
	}
	return nil
}

// takeProbe claims the single allowed attempt for the current interval.
func (t *breakerTransport) takeProbe() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if time.Since(t.lastProbe) < t.probeInterval {
		return false
	}
	t.lastProbe = time.Now()
	return true
}
