package event

import (
	"context"
	"sync"
)

type hooksKey struct{}

// TxHooks collects events published during a transaction and holds them
// until the outcome is known. The transaction owner creates the hooks, runs
// the unit of work with the derived context, then signals the dispatcher via
// Dispatcher.OnCommit or Dispatcher.OnRollback exactly once.
type TxHooks struct {
	mu       sync.Mutex
	pending  []Event
	resolved bool
}

// WithTxHooks derives a context carrying fresh transaction hooks.
func WithTxHooks(ctx context.Context) (context.Context, *TxHooks) {
	h := &TxHooks{}
	return context.WithValue(ctx, hooksKey{}, h), h
}

// HooksFrom extracts transaction hooks from context if present.
func HooksFrom(ctx context.Context) (*TxHooks, bool) {
	h, ok := ctx.Value(hooksKey{}).(*TxHooks)
	return h, ok
}

// queue holds an event until the transaction resolves. Returns false if the
// hooks were already resolved; the caller should then publish immediately.
func (h *TxHooks) queue(e Event) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.resolved {
		return false
	}
	h.pending = append(h.pending, e)
	return true
}

// take resolves the hooks and returns the pending events. Subsequent calls
// return nothing.
func (h *TxHooks) take() []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.resolved {
		return nil
	}
	h.resolved = true
	out := h.pending
	h.pending = nil
	return out
}
