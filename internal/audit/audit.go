// Package audit records analytics events. Recording is best-effort: failures
// are logged and never reach the caller.
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/DukeRupert/reelstat/internal/storage"
)

type EventType string

const (
	EventMessage        EventType = "message"
	EventProfileRequest EventType = "profile_request"
	EventTariffAssigned EventType = "tariff_assigned"
	EventPayment        EventType = "payment"
)

const writeTimeout = 5 * time.Second

// Event is one analytics row.
type Event struct {
	ID       uuid.UUID      `json:"id"`
	Type     EventType      `json:"type"`
	UserID   int64          `json:"user_id"`
	Username string         `json:"username,omitempty"`
	At       time.Time      `json:"at"`
	Data     map[string]any `json:"data,omitempty"`
}

// Recorder accepts events.
type Recorder interface {
	Record(ctx context.Context, e Event)
}

// Nop discards events.
type Nop struct{}

func (Nop) Record(context.Context, Event) {}

// StorageRecorder writes each event as its own JSON object.
type StorageRecorder struct {
	blobs  storage.Storage
	logger *slog.Logger
	now    func() time.Time
}

func NewStorageRecorder(blobs storage.Storage, logger *slog.Logger) *StorageRecorder {
	return &StorageRecorder{
		blobs:  blobs,
		logger: logger.With("component", "audit"),
		now:    time.Now,
	}
}

// Record assigns an ID and timestamp when missing. The write survives
// cancellation of ctx but is bounded by its own timeout.
func (r *StorageRecorder) Record(ctx context.Context, e Event) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.At.IsZero() {
		e.At = r.now().UTC()
	}

	data, err := json.Marshal(e)
	if err != nil {
		r.logger.Warn("Failed to encode audit event", "type", e.Type, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()

	key := storage.AuditKey(string(e.Type), e.At, e.ID)
	if err := r.blobs.Put(ctx, key, bytes.NewReader(data), storage.PutOptions{}); err != nil {
		r.logger.Warn("Failed to record audit event",
			"type", e.Type,
			"user_id", e.UserID,
			"error", err,
		)
	}
}
