// Package worker runs periodic background tasks: quota cache reconciliation
// and the pending-payment sweep.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/DukeRupert/reelstat/internal/metrics"
)

type schedule struct {
	task     Task
	interval time.Duration
}

// Worker runs each registered task on its own ticker.
type Worker struct {
	schedules []schedule
	config    Config
	logger    *slog.Logger

	wg     sync.WaitGroup
	stopCh chan struct{}
	once   sync.Once
}

// New creates a new Worker with the given configuration.
// The worker must be started with Start() and stopped with Stop().
func New(config Config, logger *slog.Logger) (*Worker, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Worker{
		config: config,
		logger: logger.With("component", "worker"),
		stopCh: make(chan struct{}),
	}, nil
}

// Register schedules task every interval. A non-positive interval disables
// the task. Call this before Start().
func (w *Worker) Register(task Task, interval time.Duration) {
	if interval <= 0 {
		w.logger.Info("Task disabled by configuration", "task", task.Name())
		return
	}
	if interval < w.config.MinInterval {
		w.logger.Warn("Task interval raised to minimum", "task", task.Name(), "interval", interval, "min", w.config.MinInterval)
		interval = w.config.MinInterval
	}
	w.schedules = append(w.schedules, schedule{task: task, interval: interval})
	w.logger.Debug("Registered task", "task", task.Name(), "interval", interval)
}

// Start launches one goroutine per registered task.
func (w *Worker) Start(ctx context.Context) {
	for _, s := range w.schedules {
		w.wg.Add(1)
		go w.runSchedule(ctx, s)
	}

	w.logger.Info("Worker started", "tasks", len(w.schedules))
}

// Stop signals all tasks to stop and waits for them to finish.
// It respects the configured ShutdownTimeout.
func (w *Worker) Stop() {
	w.once.Do(func() {
		w.logger.Info("Stopping worker...")
		close(w.stopCh)
	})

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("Worker stopped gracefully")
	case <-time.After(w.config.ShutdownTimeout):
		w.logger.Warn("Worker shutdown timeout exceeded, some tasks may still be running")
	}
}

func (w *Worker) runSchedule(ctx context.Context, s schedule) {
	defer w.wg.Done()

	name := s.task.Name()
	logger := w.logger.With("task", name)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.execute(ctx, s.task, logger); err != nil && IsPermanent(err) {
				logger.Error("Task disabled after permanent error", "error", err)
				metrics.TaskDisabled(name)
				return
			}
		}
	}
}

// execute runs one pass of task under the task timeout.
func (w *Worker) execute(ctx context.Context, task Task, logger *slog.Logger) (err error) {
	taskCtx, cancel := context.WithTimeout(ctx, w.config.TaskTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
			logger.Error("Task panicked", "panic", r)
			metrics.TaskFailed(task.Name())
		}
	}()

	start := time.Now()
	if err := task.Run(taskCtx); err != nil {
		logger.Warn("Task failed", "error", err)
		metrics.TaskFailed(task.Name())
		return err
	}

	duration := time.Since(start)
	logger.Debug("Task completed", "duration", duration)
	metrics.TaskCompleted(task.Name(), duration)
	return nil
}
