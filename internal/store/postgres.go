package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sqlc-dev/pqtype"

	"github.com/DukeRupert/reelstat/internal/domain"
)

// Postgres stores records in PostgreSQL. The schema lives in the embedded
// goose migrations and must be applied before use.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

const quotaColumns = `user_id, username, tariff, checks_remaining, checks_used, tariff_started_at, tariff_expires_at, last_payment_id, updated_at`

func (p *Postgres) GetQuota(ctx context.Context, userID int64) (*domain.QuotaRecord, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+quotaColumns+` FROM quota_records WHERE user_id = $1`, userID)

	var (
		rec     domain.QuotaRecord
		tariff  string
		checks  int
		expires sql.NullTime
	)
	err := row.Scan(&rec.UserID, &rec.Username, &tariff, &checks, &rec.ChecksUsed,
		&rec.TariffStartedAt, &expires, &rec.LastPaymentID, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get quota: %w", err)
	}

	rec.Tariff = domain.TariffCode(tariff)
	rec.ChecksRemaining = domain.Checks(checks)
	if expires.Valid {
		t := expires.Time
		rec.TariffExpiresAt = &t
	}
	return &rec, nil
}

func (p *Postgres) SaveQuota(ctx context.Context, rec *domain.QuotaRecord) error {
	var expires sql.NullTime
	if rec.TariffExpiresAt != nil {
		expires = sql.NullTime{Time: *rec.TariffExpiresAt, Valid: true}
	}

	_, err := p.db.ExecContext(ctx, `
		INSERT INTO quota_records (`+quotaColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (user_id) DO UPDATE SET
			username = EXCLUDED.username,
			tariff = EXCLUDED.tariff,
			checks_remaining = EXCLUDED.checks_remaining,
			checks_used = EXCLUDED.checks_used,
			tariff_started_at = EXCLUDED.tariff_started_at,
			tariff_expires_at = EXCLUDED.tariff_expires_at,
			last_payment_id = EXCLUDED.last_payment_id,
			updated_at = EXCLUDED.updated_at`,
		rec.UserID, rec.Username, string(rec.Tariff), int(rec.ChecksRemaining), rec.ChecksUsed,
		rec.TariffStartedAt, expires, rec.LastPaymentID, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save quota: %w", err)
	}
	return nil
}

const paymentColumns = `payment_id, user_id, tariff, amount, status, gateway_status, order_id, notification, created_at, updated_at`

func (p *Postgres) GetPayment(ctx context.Context, paymentID string) (*domain.PaymentRecord, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE payment_id = $1`, paymentID)
	rec, err := scanPayment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get payment: %w", err)
	}
	return rec, nil
}

// SavePayment upserts a payment. The WHERE clause keeps the user and tariff
// binding immutable; a mismatched update affects no rows.
func (p *Postgres) SavePayment(ctx context.Context, rec *domain.PaymentRecord) error {
	notification := pqtype.NullRawMessage{
		RawMessage: json.RawMessage(rec.Notification),
		Valid:      len(rec.Notification) > 0,
	}

	res, err := p.db.ExecContext(ctx, `
		INSERT INTO payments (`+paymentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (payment_id) DO UPDATE SET
			status = EXCLUDED.status,
			gateway_status = EXCLUDED.gateway_status,
			amount = EXCLUDED.amount,
			order_id = EXCLUDED.order_id,
			notification = COALESCE(EXCLUDED.notification, payments.notification),
			updated_at = EXCLUDED.updated_at
		WHERE payments.user_id = EXCLUDED.user_id AND payments.tariff = EXCLUDED.tariff`,
		rec.PaymentID, rec.UserID, string(rec.Tariff), rec.Amount, string(rec.Status),
		rec.GatewayStatus, rec.OrderID, notification, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save payment: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.Conflict("store.save_payment", "payment is bound to another user or tariff")
	}
	return nil
}

func (p *Postgres) ListPayments(ctx context.Context, status domain.PaymentStatus) ([]*domain.PaymentRecord, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE status = $1 ORDER BY created_at`, string(status))
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	defer rows.Close()

	var out []*domain.PaymentRecord
	for rows.Next() {
		rec, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("list payments: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (p *Postgres) ClaimPayment(ctx context.Context, paymentID string) (bool, error) {
	res, err := p.db.ExecContext(ctx,
		`INSERT INTO processed_payments (payment_id) VALUES ($1) ON CONFLICT (payment_id) DO NOTHING`, paymentID)
	if err != nil {
		return false, fmt.Errorf("claim payment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim payment: %w", err)
	}
	return n == 1, nil
}

func (p *Postgres) ReleasePayment(ctx context.Context, paymentID string) error {
	if _, err := p.db.ExecContext(ctx, `DELETE FROM processed_payments WHERE payment_id = $1`, paymentID); err != nil {
		return fmt.Errorf("release payment: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPayment(s scanner) (*domain.PaymentRecord, error) {
	var (
		rec          domain.PaymentRecord
		tariff       string
		status       string
		notification pqtype.NullRawMessage
	)
	err := s.Scan(&rec.PaymentID, &rec.UserID, &tariff, &rec.Amount, &status,
		&rec.GatewayStatus, &rec.OrderID, &notification, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	rec.Tariff = domain.TariffCode(tariff)
	rec.Status = domain.PaymentStatus(status)
	if notification.Valid {
		rec.Notification = notification.RawMessage
	}
	return &rec, nil
}
