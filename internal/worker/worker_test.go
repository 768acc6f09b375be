package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DukeRupert/reelstat/internal/audit"
	"github.com/DukeRupert/reelstat/internal/domain"
	"github.com/DukeRupert/reelstat/internal/payment"
	"github.com/DukeRupert/reelstat/internal/service"
	"github.com/DukeRupert/reelstat/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{
			name:    "valid default config",
			config:  DefaultConfig(),
			wantErr: false,
		},
		{
			name:    "task timeout too short",
			config:  Config{TaskTimeout: 500 * time.Millisecond, ShutdownTimeout: 30 * time.Second, MinInterval: time.Second},
			wantErr: true,
		},
		{
			name:    "shutdown timeout too short",
			config:  Config{TaskTimeout: time.Minute, ShutdownTimeout: 0, MinInterval: time.Second},
			wantErr: true,
		},
		{
			name:    "min interval zero",
			config:  Config{TaskTimeout: time.Minute, ShutdownTimeout: 30 * time.Second},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Config.Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestIsPermanent(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"permanent error", NewPermanentError(context.Canceled), true},
		{"wrapped permanent error", errors.Join(errors.New("outer"), NewPermanentError(context.Canceled)), true},
		{"regular error", context.Canceled, false},
		{"nil error", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsPermanent(tt.err); got != tt.want {
				t.Errorf("IsPermanent() = %v, want %v", got, tt.want)
			}
		})
	}
}

// =============================================================================
// Runner
// =============================================================================

type countingTask struct {
	name string
	runs atomic.Int32
	err  error
}

func (c *countingTask) Name() string { return c.name }

func (c *countingTask) Run(context.Context) error {
	c.runs.Add(1)
	return c.err
}

func testConfig() Config {
	return Config{TaskTimeout: time.Second, ShutdownTimeout: time.Second, MinInterval: time.Millisecond}
}

func TestWorker_RunsTasksPeriodically(t *testing.T) {
	w, err := New(testConfig(), testLogger())
	require.NoError(t, err)

	task := &countingTask{name: "tick"}
	w.Register(task, 5*time.Millisecond)

	w.Start(context.Background())
	require.Eventually(t, func() bool { return task.runs.Load() >= 3 }, time.Second, time.Millisecond)
	w.Stop()

	after := task.runs.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, task.runs.Load(), "task ran after Stop")
}

func TestWorker_TransientFailureKeepsSchedule(t *testing.T) {
	w, err := New(testConfig(), testLogger())
	require.NoError(t, err)

	task := &countingTask{name: "flaky", err: errors.New("upstream down")}
	w.Register(task, 5*time.Millisecond)

	w.Start(context.Background())
	defer w.Stop()

	require.Eventually(t, func() bool { return task.runs.Load() >= 3 }, time.Second, time.Millisecond)
}

func TestWorker_PermanentFailureDisablesTask(t *testing.T) {
	w, err := New(testConfig(), testLogger())
	require.NoError(t, err)

	task := &countingTask{name: "broken", err: NewPermanentError(errors.New("misconfigured"))}
	w.Register(task, 5*time.Millisecond)

	w.Start(context.Background())
	defer w.Stop()

	require.Eventually(t, func() bool { return task.runs.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(1), task.runs.Load())
}

func TestWorker_NonPositiveIntervalDisables(t *testing.T) {
	w, err := New(testConfig(), testLogger())
	require.NoError(t, err)

	w.Register(&countingTask{name: "off"}, 0)
	assert.Empty(t, w.schedules)
}

func TestWorker_StopsOnContextCancel(t *testing.T) {
	w, err := New(testConfig(), testLogger())
	require.NoError(t, err)

	task := &countingTask{name: "tick"}
	w.Register(task, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("schedule did not stop after context cancel")
	}
}

// =============================================================================
// Tasks
// =============================================================================

type fakeReconciler struct {
	res store.ReconcileResult
	err error
}

func (f *fakeReconciler) Reconcile(context.Context) (store.ReconcileResult, error) {
	return f.res, f.err
}

type fakeSweeper struct {
	res   service.SweepResult
	err   error
	calls int
}

func (f *fakeSweeper) StartCheckout(context.Context, int64, string, domain.TariffCode) (*payment.Checkout, error) {
	return nil, errors.New("not used")
}

func (f *fakeSweeper) HandleNotification(context.Context, []byte) error { return nil }

func (f *fakeSweeper) SweepPending(context.Context) (service.SweepResult, error) {
	f.calls++
	return f.res, f.err
}

func TestReconcileCacheTask(t *testing.T) {
	task := NewReconcileCacheTask(&fakeReconciler{res: store.ReconcileResult{Pushed: 2}}, testLogger())
	assert.Equal(t, TaskReconcileCache, task.Name())
	assert.NoError(t, task.Run(context.Background()))

	failing := NewReconcileCacheTask(&fakeReconciler{err: errors.New("backing store down")}, testLogger())
	assert.Error(t, failing.Run(context.Background()))
}

func TestPaymentSweepTask(t *testing.T) {
	sweeper := &fakeSweeper{res: service.SweepResult{Checked: 3, Confirmed: 1}}
	task := NewPaymentSweepTask(sweeper, testLogger())

	assert.Equal(t, TaskPaymentSweep, task.Name())
	assert.NoError(t, task.Run(context.Background()))
	assert.Equal(t, 1, sweeper.calls)

	sweeper.err = errors.New("store down")
	assert.Error(t, task.Run(context.Background()))
}

type fakeRefresher struct {
	calls int
	err   error
}

func (f *fakeRefresher) Refresh(context.Context) (*audit.Summary, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &audit.Summary{From: "2026-07-01", To: "2026-07-30"}, nil
}

func TestAuditSummaryTask(t *testing.T) {
	refresher := &fakeRefresher{}
	task := NewAuditSummaryTask(refresher, testLogger())
	assert.Equal(t, TaskAuditSummary, task.Name())
	require.NoError(t, task.Run(context.Background()))
	assert.Equal(t, 1, refresher.calls)

	failing := NewAuditSummaryTask(&fakeRefresher{err: errors.New("list failed")}, testLogger())
	err := failing.Run(context.Background())
	require.Error(t, err)
	assert.False(t, IsPermanent(err))
}
