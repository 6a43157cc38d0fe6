package event

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Listener handles events. Implementations must be idempotent best-effort:
// an error or panic is caught at the dispatcher boundary, logged, and
// converted into a REVISION_ERROR event. It never reaches the publisher or
// aborts sibling listeners.
type Listener interface {
	Name() string
	Handle(ctx context.Context, e Event) error
}

type queued struct {
	event      Event
	enqueuedAt time.Time
}

// Dispatcher is the in-process publish/subscribe bus between mutation-time
// recording and notification-time delivery.
//
// Two delivery modes:
//   - Publish: synchronous fan-out, used for revisions created outside a
//     transactional context.
//   - PublishAfterCommit: the event waits on the transaction hooks and is
//     drained by a worker pool after OnCommit, so the request path never
//     blocks on listeners.
//
// The queue is a mutex-guarded deque rather than a channel so the health
// monitor can observe depth and oldest-message age.
type Dispatcher struct {
	logger   *slog.Logger
	workers  int
	maxQueue int

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []queued
	closed  bool
	dropped int64

	listeners struct {
		sync.RWMutex
		all []Listener
	}
}

// NewDispatcher creates a dispatcher with the given worker pool size and
// queue capacity. Run must be called for deferred delivery to happen.
func NewDispatcher(logger *slog.Logger, workers, maxQueue int) *Dispatcher {
	if workers <= 0 {
		workers = 4
	}
	if maxQueue <= 0 {
		maxQueue = 1000
	}
	d := &Dispatcher{logger: logger, workers: workers, maxQueue: maxQueue}
	d.cond = sync.NewCond(&d.mu)
	return d
}

// Subscribe registers a listener. Not safe to call concurrently with event
// delivery ordering expectations; wire listeners at startup.
func (d *Dispatcher) Subscribe(l Listener) {
	d.listeners.Lock()
	defer d.listeners.Unlock()
	d.listeners.all = append(d.listeners.all, l)
}

// Publish delivers an event synchronously to all listeners, bypassing
// transaction boundaries.
func (d *Dispatcher) Publish(ctx context.Context, e Event) {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now()
	}
	d.deliver(ctx, e)
}

// PublishAfterCommit defers the event until the enclosing transaction
// commits. Without transaction hooks in context the event is enqueued for
// asynchronous delivery right away.
func (d *Dispatcher) PublishAfterCommit(ctx context.Context, e Event) {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now()
	}
	if h, ok := HooksFrom(ctx); ok {
		if h.queue(e) {
			return
		}
	}
	d.enqueue(e)
}

// OnCommit releases the events deferred on the hooks into the worker queue.
func (d *Dispatcher) OnCommit(h *TxHooks) {
	for _, e := range h.take() {
		d.enqueue(e)
	}
}

// OnRollback drops the deferred events. Logged only; a rolled-back mutation
// notifies nobody.
func (d *Dispatcher) OnRollback(h *TxHooks) {
	if events := h.take(); len(events) > 0 {
		d.logger.Info("dropping events after rollback", "count", len(events))
	}
}

// Run drains the deferred queue on a pool of workers until ctx is cancelled,
// then finishes in-flight events and returns.
func (d *Dispatcher) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		d.mu.Lock()
		d.closed = true
		d.mu.Unlock()
		d.cond.Broadcast()
	}()

	g := new(errgroup.Group)
	for i := 0; i < d.workers; i++ {
		g.Go(func() error {
			for {
				item, ok := d.dequeue()
				if !ok {
					return nil
				}
				// Delivery continues during shutdown drain, so it cannot use
				// the cancelled run context.
				d.deliver(context.WithoutCancel(ctx), item.event)
			}
		})
	}
	return g.Wait()
}

// QueueDepth returns the number of deferred events waiting for a worker.
func (d *Dispatcher) QueueDepth() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// OldestAge returns how long the head of the queue has been waiting, zero
// when the queue is empty.
func (d *Dispatcher) OldestAge() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.queue) == 0 {
		return 0
	}
	return time.Since(d.queue[0].enqueuedAt)
}

// Dropped returns the number of events rejected because the queue was full.
func (d *Dispatcher) Dropped() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dropped
}

func (d *Dispatcher) enqueue(e Event) {
	d.mu.Lock()
	if d.closed || len(d.queue) >= d.maxQueue {
		d.dropped++
		closed := d.closed
		d.mu.Unlock()
		d.logger.Warn("dropping event", "type", string(e.Type), "queue_closed", closed)
		return
	}
	d.queue = append(d.queue, queued{event: e, enqueuedAt: time.Now()})
	d.mu.Unlock()
	d.cond.Signal()
}

func (d *Dispatcher) dequeue() (queued, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for len(d.queue) == 0 {
		if d.closed {
			return queued{}, false
		}
		d.cond.Wait()
	}
	item := d.queue[0]
	d.queue = d.queue[1:]
	return item, true
}

func (d *Dispatcher) deliver(ctx context.Context, e Event) {
	d.listeners.RLock()
	listeners := append([]Listener(nil), d.listeners.all...)
	d.listeners.RUnlock()

	for _, l := range listeners {
		if err := d.safeHandle(ctx, l, e); err != nil {
			d.logger.Error("listener failed",
				"listener", l.Name(),
				"event_type", string(e.Type),
				"error", err.Error(),
			)
			// Convert the failure into an error event, except when the
			// failing event already is one - that would loop.
			if e.Type != TypeRevisionError {
				d.deliver(ctx, Event{
					Type:       TypeRevisionError,
					Severity:   SeverityError,
					Revision:   e.Revision,
					OccurredAt: time.Now(),
					Payload: map[string]string{
						"listener":    l.Name(),
						"failedEvent": string(e.Type),
						"error":       err.Error(),
					},
				})
			}
		}
	}
}

func (d *Dispatcher) safeHandle(ctx context.Context, l Listener, e Event) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("listener panic: %v", rec)
		}
	}()
	return l.Handle(ctx, e)
}
