// Package cache provides the content-addressed analysis cache. Entries are
// keyed by the SHA-256 of the photo bytes, so the same image always maps to
// the same entry regardless of who submitted it.
package cache

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/Mikecranesync/Rivet-PRO-sub004/internal/model"
	"github.com/Mikecranesync/Rivet-PRO-sub004/internal/resilience"
	"github.com/Mikecranesync/Rivet-PRO-sub004/internal/store"
)

// AnalysisCache wraps the store with TTL handling, hit accounting, and
// retries on transient persistence failures.
type AnalysisCache struct {
	store store.Store
	ttl   time.Duration
	retry resilience.RetryConfig
	now   func() time.Time
}

// New creates an AnalysisCache. ttl controls how long stored entries stay
// servable; expired entries are treated as absent and reaped lazily.
func New(st store.Store, ttl time.Duration, retry resilience.RetryConfig) *AnalysisCache {
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &AnalysisCache{
		store: st,
		ttl:   ttl,
		retry: retry,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Lookup returns the cached analysis for hash, or nil on a miss. A hit bumps
// the entry's hit counter; counter failures are logged and swallowed so a
// flaky store cannot turn a hit into a miss.
func (c *AnalysisCache) Lookup(ctx context.Context, hash string) (*model.CacheEntry, error) {
	entry, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) (*model.CacheEntry, error) {
		return c.store.GetCacheEntry(ctx, hash)
	})
	if err != nil {
		return nil, eris.Wrap(err, "cache: lookup")
	}
	if entry == nil {
		return nil, nil
	}

	if err := c.store.RecordCacheHit(ctx, hash); err != nil {
		zap.L().Warn("cache hit count update failed",
			zap.String("hash", hash),
			zap.Error(err))
	}
	return entry, nil
}

// Store persists an analysis under hash. Writes are last-write-wins: a
// concurrent write for the same hash simply replaces the entry, which is
// safe because both were computed from identical image bytes.
func (c *AnalysisCache) Store(ctx context.Context, hash string, analysis model.CachedAnalysis, costUSD float64, latencyMS int64) error {
	now := c.now()
	entry := &model.CacheEntry{
		Hash:      hash,
		Analysis:  analysis,
		CostUSD:   costUSD,
		LatencyMS: latencyMS,
		CreatedAt: now,
		ExpiresAt: now.Add(c.ttl),
	}
	err := resilience.Do(ctx, c.retry, func(ctx context.Context) error {
		return c.store.PutCacheEntry(ctx, entry)
	})
	return eris.Wrap(err, "cache: store")
}

// Purge deletes expired entries and returns how many were removed.
func (c *AnalysisCache) Purge(ctx context.Context) (int, error) {
	n, err := c.store.DeleteExpiredCache(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "cache: purge")
	}
	return n, nil
}

// Stats reports entry and hit totals for live entries.
func (c *AnalysisCache) Stats(ctx context.Context) (*store.CacheStats, error) {
	stats, err := c.store.GetCacheStats(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "cache: stats")
	}
	return stats, nil
}
