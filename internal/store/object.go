package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/DukeRupert/reelstat/internal/domain"
	"github.com/DukeRupert/reelstat/internal/storage"
)

const maxDocumentSize = 1 << 20

// Object stores records as JSON documents in blob storage.
type Object struct {
	blobs storage.Storage
}

func NewObject(blobs storage.Storage) *Object {
	return &Object{blobs: blobs}
}

func (o *Object) GetQuota(ctx context.Context, userID int64) (*domain.QuotaRecord, error) {
	var rec domain.QuotaRecord
	if err := o.read(ctx, storage.QuotaKey(userID), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (o *Object) SaveQuota(ctx context.Context, rec *domain.QuotaRecord) error {
	return o.write(ctx, storage.QuotaKey(rec.UserID), rec)
}

func (o *Object) GetPayment(ctx context.Context, paymentID string) (*domain.PaymentRecord, error) {
	var p domain.PaymentRecord
	if err := o.read(ctx, storage.PaymentKey(paymentID), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// SavePayment checks the binding before writing. Two processes racing to
// rebind the same payment are not detected; the gateway never does that.
func (o *Object) SavePayment(ctx context.Context, p *domain.PaymentRecord) error {
	existing, err := o.GetPayment(ctx, p.PaymentID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if err := bindingConflict(existing, p); err != nil {
		return err
	}
	return o.write(ctx, storage.PaymentKey(p.PaymentID), p)
}

func (o *Object) ListPayments(ctx context.Context, status domain.PaymentStatus) ([]*domain.PaymentRecord, error) {
	keys, err := o.blobs.List(ctx, "payments/")
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}

	var out []*domain.PaymentRecord
	for _, key := range keys {
		id := strings.TrimSuffix(strings.TrimPrefix(key, "payments/"), ".json")
		p, err := o.GetPayment(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		if p.Status == status {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (o *Object) ClaimPayment(ctx context.Context, paymentID string) (bool, error) {
	stamp := []byte(time.Now().UTC().Format(time.RFC3339))
	err := o.blobs.Put(ctx, storage.ProcessedKey(paymentID), bytes.NewReader(stamp), storage.PutOptions{ContentType: "text/plain"})
	if storage.IsKeyExists(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("claim payment: %w", err)
	}
	return true, nil
}

func (o *Object) ReleasePayment(ctx context.Context, paymentID string) error {
	return o.blobs.Delete(ctx, storage.ProcessedKey(paymentID))
}

func (o *Object) read(ctx context.Context, key string, v any) error {
	rc, _, err := o.blobs.Get(ctx, key)
	if storage.IsNotFound(err) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	defer rc.Close()

	if err := json.NewDecoder(io.LimitReader(rc, maxDocumentSize)).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func (o *Object) write(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return o.blobs.Put(ctx, key, bytes.NewReader(data), storage.PutOptions{
		Overwrite: true,
		MaxSize:   maxDocumentSize,
	})
}
