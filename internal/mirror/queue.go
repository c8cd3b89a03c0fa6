package mirror

import (
	"context"
	"log/slog"
	"sync"

	"github.com/blackmichael/bsky-mirror/internal/jetstream"
)

// Handler processes one commit event to completion.
type Handler interface {
	HandleEvent(ctx context.Context, event *jetstream.Event) error
}

// Queue is an unbounded FIFO that forces strictly sequential processing of
// feed events. The read loop may keep enqueueing while a slow handler
// drains, so relative destination-side ordering always matches arrival
// order; the trade-off is head-of-line blocking and no backpressure.
type Queue struct {
	handler Handler
	logger  *slog.Logger

	mu     sync.Mutex
	events []*jetstream.Event
	closed bool
	signal chan struct{} // buffered size 1, coalesces wakeups
}

// NewQueue creates a serial dispatch queue feeding the given handler.
func NewQueue(handler Handler, logger *slog.Logger) *Queue {
	return &Queue{
		handler: handler,
		logger:  logger,
		signal:  make(chan struct{}, 1),
	}
}

// Enqueue appends an event. It never blocks. Returns false once the queue
// is closed.
func (q *Queue) Enqueue(event *jetstream.Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.events = append(q.events, event)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// Close stops the queue. Events already dequeued finish processing; queued
// but unprocessed events are dropped by Run's shutdown path.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *Queue) tryDequeue() (*jetstream.Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return nil, false
	}

	event := q.events[0]
	q.events[0] = nil
	q.events = q.events[1:]
	if len(q.events) == 0 {
		q.events = nil
	}
	return event, true
}

// Run drains the queue, handling one event at a time until the context is
// cancelled or the queue is closed. A failed event is logged with its
// identity and dropped; it is the error boundary for all per-event
// handling.
func (q *Queue) Run(ctx context.Context) {
	for {
		event, ok := q.tryDequeue()
		if !ok {
			q.mu.Lock()
			closed := q.closed
			q.mu.Unlock()
			if closed {
				return
			}

			select {
			case <-ctx.Done():
				return
			case <-q.signal:
			}
			continue
		}

		if err := q.handler.HandleEvent(ctx, event); err != nil {
			q.logger.Error("failed to handle event",
				"error", err,
				"did", event.DID,
				"time_us", event.TimeUS,
				"operation", operationOf(event),
				"rkey", rkeyOf(event),
			)
		}
	}
}

func operationOf(event *jetstream.Event) string {
	if event.Commit == nil {
		return ""
	}
	return event.Commit.Operation
}

func rkeyOf(event *jetstream.Event) string {
	if event.Commit == nil {
		return ""
	}
	return event.Commit.RKey
}
