package store

import (
	"context"
	"sort"
	"sync"

	"github.com/DukeRupert/reelstat/internal/domain"
)

// Memory keeps everything in process memory. It backs tests and the
// single-process development setup.
type Memory struct {
	mu        sync.RWMutex
	quotas    map[int64]*domain.QuotaRecord
	payments  map[string]*domain.PaymentRecord
	processed map[string]struct{}
}

func NewMemory() *Memory {
	return &Memory{
		quotas:    make(map[int64]*domain.QuotaRecord),
		payments:  make(map[string]*domain.PaymentRecord),
		processed: make(map[string]struct{}),
	}
}

func (m *Memory) GetQuota(_ context.Context, userID int64) (*domain.QuotaRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.quotas[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

func (m *Memory) SaveQuota(_ context.Context, rec *domain.QuotaRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.quotas[rec.UserID] = rec.Clone()
	return nil
}

func (m *Memory) GetPayment(_ context.Context, paymentID string) (*domain.PaymentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.payments[paymentID]
	if !ok {
		return nil, ErrNotFound
	}
	c := *p
	return &c, nil
}

func (m *Memory) SavePayment(_ context.Context, p *domain.PaymentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := bindingConflict(m.payments[p.PaymentID], p); err != nil {
		return err
	}
	c := *p
	m.payments[p.PaymentID] = &c
	return nil
}

func (m *Memory) ListPayments(_ context.Context, status domain.PaymentStatus) ([]*domain.PaymentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*domain.PaymentRecord
	for _, p := range m.payments {
		if p.Status == status {
			c := *p
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) ClaimPayment(_ context.Context, paymentID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.processed[paymentID]; ok {
		return false, nil
	}
	m.processed[paymentID] = struct{}{}
	return true, nil
}

func (m *Memory) ReleasePayment(_ context.Context, paymentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.processed, paymentID)
	return nil
}
