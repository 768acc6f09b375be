// Package ledger owns per-user quota records: admission before a lookup,
// debit after a successful one, and tariff grants after payment.
package ledger

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/DukeRupert/reelstat/internal/audit"
	"github.com/DukeRupert/reelstat/internal/domain"
	"github.com/DukeRupert/reelstat/internal/metrics"
	"github.com/DukeRupert/reelstat/internal/store"
)

// Decision is the outcome of an admission check. Record is the state the
// decision was made on, after expiry normalization.
type Decision struct {
	Admitted bool
	Record   *domain.QuotaRecord
}

// Ledger defines quota operations. Admission and debit are separate calls so
// a failure between them never costs the user a check.
type Ledger interface {
	// Get returns the user's record, creating the trial record on first
	// contact. A non-empty username is stored on the record.
	Get(ctx context.Context, userID int64, username string) (*domain.QuotaRecord, error)

	// CanConsume normalizes an expired tariff to the zero-quota default and
	// reports whether a check may be spent. Normalization is persisted even
	// when the answer is no.
	CanConsume(ctx context.Context, userID int64) (Decision, error)

	// Consume debits one check. Call it only after CanConsume admitted the
	// user and the lookup succeeded; expiry is not re-checked here.
	Consume(ctx context.Context, userID int64) (*domain.QuotaRecord, error)

	// Grant resets the record to a fresh allotment of code. Grants replace,
	// they never accumulate. Duplicate grants for one payment must be
	// prevented by the caller.
	Grant(ctx context.Context, userID int64, code domain.TariffCode, paymentRef string) (*domain.QuotaRecord, error)
}

type ledger struct {
	store    store.QuotaStore
	recorder audit.Recorder
	logger   *slog.Logger
	now      func() time.Time
	locks    *keyedMutex
}

// Option configures a Ledger.
type Option func(*ledger)

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(l *ledger) { l.now = now }
}

// New creates a Ledger. Operations on the same user are serialized within
// this process; operations on different users run concurrently.
func New(s store.QuotaStore, recorder audit.Recorder, logger *slog.Logger, opts ...Option) Ledger {
	if recorder == nil {
		recorder = audit.Nop{}
	}
	l := &ledger{
		store:    s,
		recorder: recorder,
		logger:   logger.With("component", "ledger"),
		now:      time.Now,
		locks:    newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *ledger) Get(ctx context.Context, userID int64, username string) (*domain.QuotaRecord, error) {
	const op = "ledger.get"

	unlock := l.locks.Lock(userID)
	defer unlock()

	rec, err := l.load(ctx, op, userID)
	if err != nil {
		return nil, err
	}
	if username != "" && rec.Username != username {
		rec.Username = username
		rec.UpdatedAt = l.now()
		if err := l.store.SaveQuota(ctx, rec); err != nil {
			l.logger.Warn("Failed to store username", "user_id", userID, "error", err)
		}
	}
	return rec, nil
}

func (l *ledger) CanConsume(ctx context.Context, userID int64) (Decision, error) {
	const op = "ledger.can_consume"

	unlock := l.locks.Lock(userID)
	defer unlock()

	rec, err := l.load(ctx, op, userID)
	if err != nil {
		return Decision{}, err
	}

	now := l.now()
	if rec.IsExpired(now) {
		expiredTariff := rec.Tariff
		rec.Tariff = domain.DefaultTariff
		rec.ChecksRemaining = 0
		rec.ChecksUsed = 0
		rec.TariffStartedAt = now
		rec.TariffExpiresAt = nil
		rec.UpdatedAt = now

		// The next call normalizes again, so a failed write only delays persistence.
		if err := l.store.SaveQuota(ctx, rec); err != nil {
			l.logger.Warn("Failed to persist expired tariff", "user_id", userID, "error", err)
		}
		l.logger.Info("Tariff expired", "user_id", userID, "tariff", expiredTariff)
	}

	admitted := rec.HasChecks()
	if admitted {
		metrics.AdmissionsTotal.WithLabelValues("admit").Inc()
	} else {
		metrics.AdmissionsTotal.WithLabelValues("deny").Inc()
	}
	return Decision{Admitted: admitted, Record: rec}, nil
}

func (l *ledger) Consume(ctx context.Context, userID int64) (*domain.QuotaRecord, error) {
	const op = "ledger.consume"

	unlock := l.locks.Lock(userID)
	defer unlock()

	rec, err := l.load(ctx, op, userID)
	if err != nil {
		return nil, err
	}

	if !rec.ChecksRemaining.IsUnlimited() && rec.ChecksRemaining > 0 {
		rec.ChecksRemaining--
	}
	rec.ChecksUsed++
	rec.UpdatedAt = l.now()

	if err := l.store.SaveQuota(ctx, rec); err != nil {
		return nil, domain.Internal(err, op, "failed to save quota record")
	}

	metrics.ChecksConsumedTotal.WithLabelValues(string(rec.Tariff)).Inc()
	return rec, nil
}

func (l *ledger) Grant(ctx context.Context, userID int64, code domain.TariffCode, paymentRef string) (*domain.QuotaRecord, error) {
	const op = "ledger.grant"

	tariff, err := code.Lookup()
	if err != nil {
		return nil, domain.Wrap(err, domain.EINVALID, op, "unknown tariff code")
	}

	unlock := l.locks.Lock(userID)
	defer unlock()

	rec, err := l.load(ctx, op, userID)
	if err != nil {
		return nil, err
	}

	now := l.now()
	rec.Tariff = tariff.Code
	rec.ChecksRemaining = tariff.MaxChecks
	rec.ChecksUsed = 0
	rec.TariffStartedAt = now
	rec.TariffExpiresAt = nil
	if tariff.DurationDays > 0 {
		expires := now.AddDate(0, 0, tariff.DurationDays)
		rec.TariffExpiresAt = &expires
	}
	if paymentRef != "" {
		rec.LastPaymentID = paymentRef
	}
	rec.UpdatedAt = now

	if err := l.store.SaveQuota(ctx, rec); err != nil {
		return nil, domain.Internal(err, op, "failed to save quota record")
	}

	metrics.TariffGrantsTotal.WithLabelValues(string(tariff.Code)).Inc()
	l.logger.Info("Tariff granted",
		"user_id", userID,
		"tariff", tariff.Code,
		"payment_id", paymentRef,
	)
	l.recorder.Record(ctx, audit.Event{
		Type:     audit.EventTariffAssigned,
		UserID:   userID,
		Username: rec.Username,
		Data: map[string]any{
			"tariff":     string(tariff.Code),
			"price":      tariff.Price,
			"payment_id": paymentRef,
		},
	})
	return rec, nil
}

// load reads the record, creating and persisting the trial record on first
// contact. A failed trial write is logged; the record is still returned.
func (l *ledger) load(ctx context.Context, op string, userID int64) (*domain.QuotaRecord, error) {
	rec, err := l.store.GetQuota(ctx, userID)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, domain.Internal(err, op, "failed to load quota record")
	}

	rec = domain.NewQuotaRecord(userID, "", l.now())
	if err := l.store.SaveQuota(ctx, rec); err != nil {
		l.logger.Warn("Failed to persist trial record", "user_id", userID, "error", err)
	}
	l.logger.Info("Trial record created", "user_id", userID)
	return rec, nil
}
