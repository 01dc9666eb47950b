package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mikecranesync/Rivet-PRO-sub004/internal/model"
	"github.com/Mikecranesync/Rivet-PRO-sub004/internal/resilience"
	"github.com/Mikecranesync/Rivet-PRO-sub004/internal/store/storetest"
)

func fastRetry() resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
	}
}

func TestStoreThenLookupRoundTrip(t *testing.T) {
	fake := storetest.New()
	c := New(fake, time.Hour, fastRetry())

	analysis := model.CachedAnalysis{Answer: "reset the VFD"}
	require.NoError(t, c.Store(context.Background(), "h1", analysis, 0.25, 4200))

	entry, err := c.Lookup(context.Background(), "h1")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "reset the VFD", entry.Analysis.Answer)
	assert.InDelta(t, 0.25, entry.CostUSD, 1e-9)
}

func TestLookupMissReturnsNil(t *testing.T) {
	c := New(storetest.New(), time.Hour, fastRetry())

	entry, err := c.Lookup(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestLookupBumpsHitCounter(t *testing.T) {
	fake := storetest.New()
	c := New(fake, time.Hour, fastRetry())

	require.NoError(t, c.Store(context.Background(), "h1", model.CachedAnalysis{}, 0, 0))

	_, err := c.Lookup(context.Background(), "h1")
	require.NoError(t, err)
	_, err = c.Lookup(context.Background(), "h1")
	require.NoError(t, err)

	assert.Equal(t, int64(2), fake.CacheEntries["h1"].HitCount)
}

func TestLookupSurvivesHitCounterFailure(t *testing.T) {
	fake := storetest.New()
	c := New(fake, time.Hour, fastRetry())

	require.NoError(t, c.Store(context.Background(), "h1", model.CachedAnalysis{Answer: "x"}, 0, 0))
	fake.FailWith("RecordCacheHit", errors.New("write timeout"))

	entry, err := c.Lookup(context.Background(), "h1")
	require.NoError(t, err, "a failed counter update must not turn a hit into a miss")
	assert.NotNil(t, entry)
}

func TestExpiredEntryIsAMiss(t *testing.T) {
	fake := storetest.New()
	c := New(fake, time.Hour, fastRetry())

	require.NoError(t, c.Store(context.Background(), "h1", model.CachedAnalysis{}, 0, 0))
	fake.NowFunc = func() time.Time { return time.Now().Add(2 * time.Hour) }

	entry, err := c.Lookup(context.Background(), "h1")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestLookupRetriesTransientFailures(t *testing.T) {
	fake := storetest.New()
	c := New(fake, time.Hour, fastRetry())

	fake.FailWith("GetCacheEntry", resilience.NewTransientError(errors.New("conn reset"), 0))

	_, err := c.Lookup(context.Background(), "h1")
	require.Error(t, err)
	assert.Equal(t, 3, fake.Calls["GetCacheEntry"], "transient failures are retried to exhaustion")
}

func TestPurgeRemovesOnlyExpired(t *testing.T) {
	fake := storetest.New()
	c := New(fake, time.Hour, fastRetry())

	require.NoError(t, c.Store(context.Background(), "live", model.CachedAnalysis{}, 0, 0))
	fake.CacheEntries["dead"] = &model.CacheEntry{
		Hash:      "dead",
		ExpiresAt: time.Now().Add(-time.Minute),
	}

	n, err := c.Purge(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Contains(t, fake.CacheEntries, "live")
	assert.NotContains(t, fake.CacheEntries, "dead")
}

func TestStatsPassThrough(t *testing.T) {
	fake := storetest.New()
	c := New(fake, time.Hour, fastRetry())

	require.NoError(t, c.Store(context.Background(), "h1", model.CachedAnalysis{}, 0, 0))
	_, err := c.Lookup(context.Background(), "h1")
	require.NoError(t, err)

	stats, err := c.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Entries)
	assert.Equal(t, int64(1), stats.TotalHits)
}
