package audit

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type blockingRecorder struct {
	release chan struct{}
	mu      sync.Mutex
	events  []Event
}

func (r *blockingRecorder) Record(_ context.Context, e Event) {
	<-r.release
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *blockingRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestAsyncRecorder_DoesNotWaitForWrites(t *testing.T) {
	inner := &blockingRecorder{release: make(chan struct{})}
	r := NewAsyncRecorder(inner, 4, slog.New(slog.NewTextHandler(io.Discard, nil)))

	done := make(chan struct{})
	go func() {
		r.Record(context.Background(), Event{Type: EventMessage, UserID: 1})
		r.Record(context.Background(), Event{Type: EventMessage, UserID: 2})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Record blocked on a slow write")
	}

	close(inner.release)
	require.NoError(t, r.Close(context.Background()))
	assert.Equal(t, 2, inner.count())
}

func TestAsyncRecorder_StampsEnqueueTime(t *testing.T) {
	inner := &blockingRecorder{release: make(chan struct{})}
	close(inner.release)
	r := NewAsyncRecorder(inner, 4, slog.New(slog.NewTextHandler(io.Discard, nil)))
	at := time.Date(2026, 7, 4, 15, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return at }

	r.Record(context.Background(), Event{Type: EventMessage, UserID: 1})
	require.NoError(t, r.Close(context.Background()))

	require.Len(t, inner.events, 1)
	assert.Equal(t, at, inner.events[0].At)
}

func TestAsyncRecorder_DropsWhenFull(t *testing.T) {
	inner := &blockingRecorder{release: make(chan struct{})}
	r := NewAsyncRecorder(inner, 1, slog.New(slog.NewTextHandler(io.Discard, nil)))

	for i := 0; i < 10; i++ {
		r.Record(context.Background(), Event{Type: EventMessage, UserID: int64(i)})
	}

	close(inner.release)
	require.NoError(t, r.Close(context.Background()))
	// One event may be in flight in the writer and one queued.
	assert.LessOrEqual(t, inner.count(), 2)
	assert.GreaterOrEqual(t, inner.count(), 1)
}

func TestAsyncRecorder_CloseHonorsContext(t *testing.T) {
	inner := &blockingRecorder{release: make(chan struct{})}
	r := NewAsyncRecorder(inner, 4, slog.New(slog.NewTextHandler(io.Discard, nil)))
	r.Record(context.Background(), Event{Type: EventMessage, UserID: 1})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, r.Close(ctx), context.DeadlineExceeded)

	// Events after Close are ignored; a second Close is safe.
	r.Record(context.Background(), Event{Type: EventMessage, UserID: 2})
	close(inner.release)
	require.NoError(t, r.Close(context.Background()))
	assert.Equal(t, 1, inner.count())
}
