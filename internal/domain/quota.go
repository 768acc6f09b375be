package domain

import "time"

// QuotaRecord is the per-user ledger row.
type QuotaRecord struct {
	UserID          int64      `json:"user_id"`
	Username        string     `json:"username,omitempty"`
	Tariff          TariffCode `json:"tariff"`
	ChecksRemaining Checks     `json:"checks_remaining"`
	ChecksUsed      int        `json:"checks_used"`
	TariffStartedAt time.Time  `json:"tariff_started_at"`
	TariffExpiresAt *time.Time `json:"tariff_expires_at,omitempty"`
	LastPaymentID   string     `json:"last_payment_id,omitempty"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// NewQuotaRecord returns the trial record a user receives on first contact.
func NewQuotaRecord(userID int64, username string, now time.Time) *QuotaRecord {
	trial, _ := DefaultTariff.Lookup()
	return &QuotaRecord{
		UserID:          userID,
		Username:        username,
		Tariff:          DefaultTariff,
		ChecksRemaining: trial.MaxChecks,
		TariffStartedAt: now,
		UpdatedAt:       now,
	}
}

// IsExpired reports whether the tariff window closed before now.
func (r *QuotaRecord) IsExpired(now time.Time) bool {
	return r.TariffExpiresAt != nil && r.TariffExpiresAt.Before(now)
}

// HasChecks reports whether at least one check can be spent.
func (r *QuotaRecord) HasChecks() bool {
	return r.ChecksRemaining.IsUnlimited() || r.ChecksRemaining > 0
}

// Clone returns a deep copy.
func (r *QuotaRecord) Clone() *QuotaRecord {
	c := *r
	if r.TariffExpiresAt != nil {
		t := *r.TariffExpiresAt
		c.TariffExpiresAt = &t
	}
	return &c
}
