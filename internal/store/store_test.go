package store

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DukeRupert/reelstat/internal/domain"
	"github.com/DukeRupert/reelstat/internal/storage"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// backends returns each Store implementation that runs without external services.
func backends(t *testing.T) map[string]Store {
	t.Helper()
	blobs, err := storage.NewLocalStorage(storage.LocalConfig{BasePath: t.TempDir()}, newTestLogger())
	require.NoError(t, err)
	return map[string]Store{
		"memory": NewMemory(),
		"object": NewObject(blobs),
	}
}

func TestStore_QuotaRoundTrip(t *testing.T) {
	now := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	expires := now.Add(31 * 24 * time.Hour)

	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := s.GetQuota(ctx, 1)
			assert.ErrorIs(t, err, ErrNotFound)

			rec := &domain.QuotaRecord{
				UserID:          1,
				Username:        "alice",
				Tariff:          domain.TariffS,
				ChecksRemaining: 99,
				ChecksUsed:      1,
				TariffStartedAt: now,
				TariffExpiresAt: &expires,
				UpdatedAt:       now,
			}
			require.NoError(t, s.SaveQuota(ctx, rec))

			got, err := s.GetQuota(ctx, 1)
			require.NoError(t, err)
			assert.Equal(t, domain.TariffS, got.Tariff)
			assert.Equal(t, domain.Checks(99), got.ChecksRemaining)
			require.NotNil(t, got.TariffExpiresAt)
			assert.True(t, expires.Equal(*got.TariffExpiresAt))
		})
	}
}

func TestStore_UnlimitedChecksSurvive(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.SaveQuota(ctx, &domain.QuotaRecord{UserID: 2, Tariff: domain.TariffFree, ChecksRemaining: domain.UnlimitedChecks}))

			got, err := s.GetQuota(ctx, 2)
			require.NoError(t, err)
			assert.True(t, got.ChecksRemaining.IsUnlimited())
		})
	}
}

func TestStore_PaymentBindingIsImmutable(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			p := &domain.PaymentRecord{PaymentID: "100", UserID: 5, Tariff: domain.TariffS, Status: domain.PaymentCreated}
			require.NoError(t, s.SavePayment(ctx, p))

			p.Status = domain.PaymentConfirmed
			require.NoError(t, s.SavePayment(ctx, p))

			rebound := *p
			rebound.UserID = 6
			err := s.SavePayment(ctx, &rebound)
			assert.Equal(t, domain.ECONFLICT, domain.ErrorCode(err))

			got, err := s.GetPayment(ctx, "100")
			require.NoError(t, err)
			assert.Equal(t, int64(5), got.UserID)
			assert.Equal(t, domain.PaymentConfirmed, got.Status)
		})
	}
}

func TestStore_ListPayments(t *testing.T) {
	base := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.SavePayment(ctx, &domain.PaymentRecord{PaymentID: "b", Status: domain.PaymentCreated, CreatedAt: base.Add(time.Minute)}))
			require.NoError(t, s.SavePayment(ctx, &domain.PaymentRecord{PaymentID: "a", Status: domain.PaymentCreated, CreatedAt: base}))
			require.NoError(t, s.SavePayment(ctx, &domain.PaymentRecord{PaymentID: "c", Status: domain.PaymentConfirmed, CreatedAt: base}))

			got, err := s.ListPayments(ctx, domain.PaymentCreated)
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, "a", got[0].PaymentID)
			assert.Equal(t, "b", got[1].PaymentID)
		})
	}
}

func TestStore_ClaimPayment(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			first, err := s.ClaimPayment(ctx, "p-1")
			require.NoError(t, err)
			second, err := s.ClaimPayment(ctx, "p-1")
			require.NoError(t, err)

			assert.True(t, first)
			assert.False(t, second)

			require.NoError(t, s.ReleasePayment(ctx, "p-1"))
			again, err := s.ClaimPayment(ctx, "p-1")
			require.NoError(t, err)
			assert.True(t, again)
		})
	}
}
