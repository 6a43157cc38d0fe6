package ratelimit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllowRejectsBeyondWindowMax(t *testing.T) {
	l := New(3, time.Hour)

	assert.True(t, l.Allow("a@example.com"))
	assert.True(t, l.Allow("a@example.com"))
	assert.True(t, l.Allow("a@example.com"))
	assert.False(t, l.Allow("a@example.com"), "fourth send in the window must be rejected")

	// A different recipient has its own window.
	assert.True(t, l.Allow("b@example.com"))
}

func TestAllowRecoversAfterWindowElapses(t *testing.T) {
	l := New(2, 50*time.Millisecond)

	assert.True(t, l.Allow("a@example.com"))
	assert.True(t, l.Allow("a@example.com"))
	assert.False(t, l.Allow("a@example.com"))

	time.Sleep(60 * time.Millisecond)
	assert.True(t, l.Allow("a@example.com"), "window must reset after it fully elapses")
}

func TestWindowReportsState(t *testing.T) {
	l := New(5, time.Hour)

	_, ok := l.Window("a@example.com")
	assert.False(t, ok, "no window before the first send")

	require.True(t, l.Allow("a@example.com"))
	w, ok := l.Window("a@example.com")
	require.True(t, ok)
	assert.Equal(t, 1, w.RequestCount)
	assert.Equal(t, 5, w.MaxRequests)
}

func TestSweepIdleDropsStaleWindows(t *testing.T) {
	l := New(5, time.Hour)
	l.idleTTL = 10 * time.Millisecond

	require.True(t, l.Allow("stale@example.com"))
	time.Sleep(20 * time.Millisecond)
	require.True(t, l.Allow("fresh@example.com"))

	removed := l.SweepIdle()
	assert.Equal(t, 1, removed)

	_, ok := l.Window("stale@example.com")
	assert.False(t, ok)
	_, ok = l.Window("fresh@example.com")
	assert.True(t, ok)
}

func TestAllowConcurrentRecipients(t *testing.T) {
	l := New(100, time.Hour)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			recipient := []string{"a@x", "b@x", "c@x", "d@x"}[n%4]
			for j := 0; j < 50; j++ {
				l.Allow(recipient)
			}
		}(i)
	}
	wg.Wait()

	for _, r := range []string{"a@x", "b@x", "c@x", "d@x"} {
		w, ok := l.Window(r)
		require.True(t, ok)
		assert.Equal(t, 100, w.RequestCount, "count caps at the window maximum")
	}
}
