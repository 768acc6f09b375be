package store

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/DukeRupert/reelstat/internal/domain"
	"github.com/DukeRupert/reelstat/internal/metrics"
)

// CachedQuotaStore is a write-through local cache over an authoritative
// QuotaStore. Writes land in the cache first; a failed authoritative write
// leaves the entry dirty until Reconcile pushes it.
type CachedQuotaStore struct {
	backing QuotaStore
	logger  *slog.Logger

	mu      sync.Mutex
	entries map[int64]*cacheEntry
	loads   singleflight.Group
}

type cacheEntry struct {
	rec     *domain.QuotaRecord
	dirty   bool
	version uint64
}

// ReconcileResult summarizes one reconciliation pass.
type ReconcileResult struct {
	Pushed    int // dirty entries written to the authoritative store
	Refreshed int // entries replaced by a newer authoritative copy
	Failed    int
}

func NewCachedQuotaStore(backing QuotaStore, logger *slog.Logger) *CachedQuotaStore {
	return &CachedQuotaStore{
		backing: backing,
		logger:  logger.With("component", "quota_cache"),
		entries: make(map[int64]*cacheEntry),
	}
}

func (c *CachedQuotaStore) GetQuota(ctx context.Context, userID int64) (*domain.QuotaRecord, error) {
	c.mu.Lock()
	if e, ok := c.entries[userID]; ok {
		rec := e.rec.Clone()
		c.mu.Unlock()
		return rec, nil
	}
	c.mu.Unlock()

	v, err, _ := c.loads.Do(strconv.FormatInt(userID, 10), func() (any, error) {
		rec, err := c.backing.GetQuota(ctx, userID)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		// A write may have raced the load; the cached copy wins.
		if e, ok := c.entries[userID]; ok {
			return e.rec.Clone(), nil
		}
		c.entries[userID] = &cacheEntry{rec: rec.Clone()}
		return rec, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.QuotaRecord).Clone(), nil
}

// SaveQuota updates the cache and then the authoritative store. An
// authoritative failure is logged and left for Reconcile; the caller sees
// success because the cache already serves the new value.
func (c *CachedQuotaStore) SaveQuota(ctx context.Context, rec *domain.QuotaRecord) error {
	c.mu.Lock()
	e, ok := c.entries[rec.UserID]
	if !ok {
		e = &cacheEntry{}
		c.entries[rec.UserID] = e
	}
	e.rec = rec.Clone()
	e.dirty = true
	e.version++
	version := e.version
	c.mu.Unlock()

	if err := c.backing.SaveQuota(ctx, rec); err != nil {
		c.logger.Warn("Authoritative quota write failed; kept in cache",
			"user_id", rec.UserID,
			"error", err,
		)
		c.updateDirtyGauge()
		return nil
	}

	c.markClean(rec.UserID, version)
	return nil
}

// Reconcile pushes dirty entries and refreshes clean ones whose
// authoritative copy is newer. Records missing upstream are re-created.
func (c *CachedQuotaStore) Reconcile(ctx context.Context) (ReconcileResult, error) {
	type snapshot struct {
		rec     *domain.QuotaRecord
		dirty   bool
		version uint64
	}

	c.mu.Lock()
	snaps := make([]snapshot, 0, len(c.entries))
	for _, e := range c.entries {
		snaps = append(snaps, snapshot{rec: e.rec.Clone(), dirty: e.dirty, version: e.version})
	}
	c.mu.Unlock()

	var res ReconcileResult
	for _, s := range snaps {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		if s.dirty {
			if err := c.backing.SaveQuota(ctx, s.rec); err != nil {
				res.Failed++
				continue
			}
			c.markClean(s.rec.UserID, s.version)
			res.Pushed++
			continue
		}

		upstream, err := c.backing.GetQuota(ctx, s.rec.UserID)
		switch {
		case errors.Is(err, ErrNotFound):
			if err := c.backing.SaveQuota(ctx, s.rec); err != nil {
				res.Failed++
				continue
			}
			res.Pushed++
		case err != nil:
			res.Failed++
		case upstream.UpdatedAt.After(s.rec.UpdatedAt):
			if c.replaceIfUnchanged(upstream, s.version) {
				res.Refreshed++
			}
		}
	}

	c.updateDirtyGauge()
	if res.Pushed > 0 || res.Refreshed > 0 || res.Failed > 0 {
		c.logger.Info("Quota cache reconciled",
			"pushed", res.Pushed,
			"refreshed", res.Refreshed,
			"failed", res.Failed,
		)
	}
	return res, nil
}

// Dirty returns the number of entries not yet persisted.
func (c *CachedQuotaStore) Dirty() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, e := range c.entries {
		if e.dirty {
			n++
		}
	}
	return n
}

func (c *CachedQuotaStore) markClean(userID int64, version uint64) {
	c.mu.Lock()
	if e, ok := c.entries[userID]; ok && e.version == version {
		e.dirty = false
	}
	c.mu.Unlock()
	c.updateDirtyGauge()
}

func (c *CachedQuotaStore) replaceIfUnchanged(rec *domain.QuotaRecord, version uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[rec.UserID]
	if !ok || e.version != version || e.dirty {
		return false
	}
	e.rec = rec.Clone()
	return true
}

func (c *CachedQuotaStore) updateDirtyGauge() {
	metrics.CacheDirtyEntries.Set(float64(c.Dirty()))
}
