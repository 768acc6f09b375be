package worker

import (
	"context"
	"log/slog"

	"github.com/DukeRupert/reelstat/internal/audit"
	"github.com/DukeRupert/reelstat/internal/service"
	"github.com/DukeRupert/reelstat/internal/store"
)

const (
	TaskReconcileCache = "reconcile-cache"
	TaskPaymentSweep   = "payment-sweep"
	TaskAuditSummary   = "audit-summary"
)

// CacheReconciler is implemented by *store.CachedQuotaStore.
type CacheReconciler interface {
	Reconcile(ctx context.Context) (store.ReconcileResult, error)
}

// ReconcileCacheTask pushes dirty quota cache entries to the authoritative
// store and refreshes stale ones.
type ReconcileCacheTask struct {
	cache  CacheReconciler
	logger *slog.Logger
}

func NewReconcileCacheTask(cache CacheReconciler, logger *slog.Logger) *ReconcileCacheTask {
	return &ReconcileCacheTask{cache: cache, logger: logger.With("task", TaskReconcileCache)}
}

func (t *ReconcileCacheTask) Name() string { return TaskReconcileCache }

func (t *ReconcileCacheTask) Run(ctx context.Context) error {
	res, err := t.cache.Reconcile(ctx)
	if err != nil {
		return err
	}
	if res.Pushed > 0 || res.Refreshed > 0 || res.Failed > 0 {
		t.logger.Info("Quota cache reconciled",
			"pushed", res.Pushed,
			"refreshed", res.Refreshed,
			"failed", res.Failed,
		)
	}
	return nil
}

// PaymentSweepTask settles payments whose notification never arrived.
type PaymentSweepTask struct {
	payments service.PaymentService
	logger   *slog.Logger
}

func NewPaymentSweepTask(payments service.PaymentService, logger *slog.Logger) *PaymentSweepTask {
	return &PaymentSweepTask{payments: payments, logger: logger.With("task", TaskPaymentSweep)}
}

func (t *PaymentSweepTask) Name() string { return TaskPaymentSweep }

func (t *PaymentSweepTask) Run(ctx context.Context) error {
	res, err := t.payments.SweepPending(ctx)
	if err != nil {
		return err
	}
	if res.Checked > 0 {
		t.logger.Info("Pending payments swept",
			"checked", res.Checked,
			"confirmed", res.Confirmed,
			"failed", res.Failed,
		)
	}
	return nil
}

// SummaryRefresher is implemented by *audit.Reporter.
type SummaryRefresher interface {
	Refresh(ctx context.Context) (*audit.Summary, error)
}

// AuditSummaryTask rebuilds the stored usage summary from the audit log.
type AuditSummaryTask struct {
	reporter SummaryRefresher
	logger   *slog.Logger
}

func NewAuditSummaryTask(reporter SummaryRefresher, logger *slog.Logger) *AuditSummaryTask {
	return &AuditSummaryTask{reporter: reporter, logger: logger.With("task", TaskAuditSummary)}
}

func (t *AuditSummaryTask) Name() string { return TaskAuditSummary }

func (t *AuditSummaryTask) Run(ctx context.Context) error {
	s, err := t.reporter.Refresh(ctx)
	if err != nil {
		return err
	}
	t.logger.Info("Usage summary refreshed",
		"from", s.From,
		"to", s.To,
		"users", s.UniqueUsers,
		"profile_requests", s.Totals.ProfileRequests,
		"profile_failures", s.Totals.ProfileFailures,
	)
	return nil
}
