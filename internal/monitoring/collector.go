// Package monitoring gathers operational metrics from the store and raises
// webhook alerts when thresholds are breached.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/Mikecranesync/Rivet-PRO-sub004/internal/model"
	"github.com/Mikecranesync/Rivet-PRO-sub004/internal/store"
)

// MetricsSnapshot holds a point-in-time view of system health.
type MetricsSnapshot struct {
	// Run metrics (within lookback window).
	RunsTotal     int     `json:"runs_total"`
	RunsDone      int     `json:"runs_done"`
	RunsFailed    int     `json:"runs_failed"`
	RunsRejected  int     `json:"runs_rejected"`
	RunsUnmatched int     `json:"runs_unmatched"`
	FailRate      float64 `json:"fail_rate"`
	CostUSD       float64 `json:"cost_usd"`
	AvgLatencyMS  int64   `json:"avg_latency_ms"`

	// Cache metrics.
	CacheEntries  int64   `json:"cache_entries"`
	CacheHits     int64   `json:"cache_hits"`
	CacheHitRate  float64 `json:"cache_hit_rate"`
	CacheServedIn int     `json:"cache_served_in_window"`

	// Validation metrics (within lookback window).
	SessionsPresented int `json:"sessions_presented"`
	SessionsConfirmed int `json:"sessions_confirmed"`
	SessionsRejected  int `json:"sessions_rejected"`
	SessionsExpired   int `json:"sessions_expired"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Collector gathers metrics from the store.
type Collector struct {
	store store.Store
}

// NewCollector creates a new metrics collector.
func NewCollector(st store.Store) *Collector {
	return &Collector{store: st}
}

// Collect gathers a snapshot of system metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   time.Now().UTC(),
	}

	cutoff := time.Now().UTC().Add(-time.Duration(lookbackHours) * time.Hour)

	runs, err := c.store.ListRuns(ctx, store.RunFilter{
		CreatedAfter: cutoff,
		Limit:        10000,
	})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	snap.RunsTotal = len(runs)
	var totalCost float64
	var totalLatency int64
	var latencySamples int64

	for _, r := range runs {
		switch r.Status {
		case model.RunStatusDone, model.RunStatusAnalyzed:
			snap.RunsDone++
		case model.RunStatusFailed:
			snap.RunsFailed++
		case model.RunStatusRejected:
			snap.RunsRejected++
		case model.RunStatusUnmatched:
			snap.RunsUnmatched++
		}
		if r.Result != nil {
			totalCost += r.Result.TotalCostUSD
			if r.Result.LatencyMS > 0 {
				totalLatency += r.Result.LatencyMS
				latencySamples++
			}
			if r.Result.FromCache {
				snap.CacheServedIn++
			}
		}
	}

	snap.CostUSD = totalCost
	finished := snap.RunsDone + snap.RunsFailed
	if finished > 0 {
		snap.FailRate = float64(snap.RunsFailed) / float64(finished)
	}
	if latencySamples > 0 {
		snap.AvgLatencyMS = totalLatency / latencySamples
	}

	cacheStats, err := c.store.GetCacheStats(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: cache stats")
	}
	snap.CacheEntries = cacheStats.Entries
	snap.CacheHits = cacheStats.TotalHits
	if snap.RunsTotal > 0 {
		snap.CacheHitRate = float64(snap.CacheServedIn) / float64(snap.RunsTotal)
	}

	counts, err := c.store.CountValidationSessions(ctx, cutoff)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count sessions")
	}
	snap.SessionsPresented = counts[model.SessionPresented]
	snap.SessionsConfirmed = counts[model.SessionConfirmed]
	snap.SessionsRejected = counts[model.SessionRejected]
	snap.SessionsExpired = counts[model.SessionExpired]

	return snap, nil
}
