package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const DefaultQueueSize = 256

// AsyncRecorder hands events to a background goroutine so callers never wait
// on the underlying write. When the queue is full the event is dropped and
// logged. Close drains what is queued.
type AsyncRecorder struct {
	next   Recorder
	queue  chan Event
	logger *slog.Logger
	now    func() time.Time

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func NewAsyncRecorder(next Recorder, size int, logger *slog.Logger) *AsyncRecorder {
	if size <= 0 {
		size = DefaultQueueSize
	}
	r := &AsyncRecorder{
		next:   next,
		queue:  make(chan Event, size),
		logger: logger.With("component", "audit"),
		now:    time.Now,
		done:   make(chan struct{}),
	}
	go r.drain()
	return r
}

// Record stamps e with the current time and enqueues it. ctx is not carried
// to the write: the event outlives the request that produced it.
func (r *AsyncRecorder) Record(_ context.Context, e Event) {
	if e.At.IsZero() {
		e.At = r.now().UTC()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- e:
	default:
		r.logger.Warn("Audit queue full, dropping event", "type", e.Type, "user_id", e.UserID)
	}
}

// Close stops accepting events and waits until queued ones are written or
// ctx ends. It is safe to call more than once.
func (r *AsyncRecorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *AsyncRecorder) drain() {
	defer close(r.done)
	for e := range r.queue {
		r.next.Record(context.Background(), e)
	}
}
