// Package store persists quota and payment records. Backends are plain
// key/value stores; callers treat them as eventually consistent and never
// rely on multi-record transactions.
package store

import (
	"context"
	"errors"

	"github.com/DukeRupert/reelstat/internal/domain"
)

// ErrNotFound is returned when no record exists for a key.
var ErrNotFound = errors.New("record not found")

// Drivers accepted by configuration.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverObject   = "object"
)

// QuotaStore is the get/set contract of the quota ledger.
type QuotaStore interface {
	GetQuota(ctx context.Context, userID int64) (*domain.QuotaRecord, error)
	SaveQuota(ctx context.Context, rec *domain.QuotaRecord) error
}

// PaymentStore persists payment records and the processed-payments set.
type PaymentStore interface {
	GetPayment(ctx context.Context, paymentID string) (*domain.PaymentRecord, error)

	// SavePayment inserts or updates a payment. Updating a payment with a
	// different user or tariff than first stored fails with a conflict.
	SavePayment(ctx context.Context, p *domain.PaymentRecord) error

	ListPayments(ctx context.Context, status domain.PaymentStatus) ([]*domain.PaymentRecord, error)

	// ClaimPayment adds paymentID to the processed set. It returns false when
	// the payment was already claimed.
	ClaimPayment(ctx context.Context, paymentID string) (bool, error)

	// ReleasePayment removes a claim so a failed grant can be retried.
	ReleasePayment(ctx context.Context, paymentID string) error
}

// Store is implemented by every backend.
type Store interface {
	QuotaStore
	PaymentStore
}

// bindingConflict reports whether next tries to rebind an existing payment.
func bindingConflict(existing, next *domain.PaymentRecord) error {
	if existing == nil {
		return nil
	}
	if existing.UserID != next.UserID || existing.Tariff != next.Tariff {
		return domain.Conflict("store.save_payment", "payment is bound to another user or tariff")
	}
	return nil
}
