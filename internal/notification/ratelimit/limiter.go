// Package ratelimit bounds notification volume per recipient with a
// fixed-size sliding window. Windows are created lazily, reset when the
// window elapses, and swept when idle for more than a day.
package ratelimit

import (
	"sync"
	"time"

	"revtrail/internal/notification/models"
)

// Limiter tracks one window per recipient. The map is guarded by a single
// mutex held only for lookup; each window has its own lock so concurrent
// sends to different recipients never serialize on one another.
type Limiter struct {
	maxRequests int
	window      time.Duration
	idleTTL     time.Duration

	mu      sync.Mutex
	windows map[string]*recipientWindow
}

type recipientWindow struct {
	mu sync.Mutex
	w  models.RateLimitWindow
}

// New creates a limiter allowing maxRequests per window per recipient.
func New(maxRequests int, window time.Duration) *Limiter {
	if maxRequests <= 0 {
		maxRequests = 100
	}
	if window <= 0 {
		window = time.Hour
	}
	return &Limiter{
		maxRequests: maxRequests,
		window:      window,
		idleTTL:     24 * time.Hour,
		windows:     make(map[string]*recipientWindow),
	}
}

// Allow records a send attempt for the recipient and reports whether it fits
// in the current window.
func (l *Limiter) Allow(recipient string) bool {
	now := time.Now()
	rw := l.windowFor(recipient, now)

	rw.mu.Lock()
	defer rw.mu.Unlock()

	// A fully elapsed window resets rather than sliding entry by entry;
	// the window is fixed-size per the delivery contract.
	if now.Sub(rw.w.WindowStart) >= l.window {
		rw.w.WindowStart = now
		rw.w.RequestCount = 0
	}

	rw.w.LastRequest = now
	if rw.w.RequestCount >= rw.w.MaxRequests {
		return false
	}
	rw.w.RequestCount++
	return true
}

// Window returns a copy of the recipient's current window state, if any.
func (l *Limiter) Window(recipient string) (models.RateLimitWindow, bool) {
	l.mu.Lock()
	rw, ok := l.windows[recipient]
	l.mu.Unlock()
	if !ok {
		return models.RateLimitWindow{}, false
	}
	rw.mu.Lock()
	defer rw.mu.Unlock()
	return rw.w, true
}

// SweepIdle drops windows with no activity for longer than the idle TTL and
// returns the number removed.
func (l *Limiter) SweepIdle() int {
	cutoff := time.Now().Add(-l.idleTTL)

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for recipient, rw := range l.windows {
		rw.mu.Lock()
		idle := rw.w.LastRequest.Before(cutoff)
		rw.mu.Unlock()
		if idle {
			delete(l.windows, recipient)
			removed++
		}
	}
	return removed
}

func (l *Limiter) windowFor(recipient string, now time.Time) *recipientWindow {
	l.mu.Lock()
	defer l.mu.Unlock()

	if rw, ok := l.windows[recipient]; ok {
		return rw
	}
	rw := &recipientWindow{w: models.RateLimitWindow{
		WindowStart: now,
		LastRequest: now,
		MaxRequests: l.maxRequests,
	}}
	l.windows[recipient] = rw
	return rw
}
