package model

import "time"

// CachedAnalysis is the value stored per content hash: the stage results
// of a completed pipeline run plus the bits needed to replay the response
// without touching any provider.
type CachedAnalysis struct {
	Screen    *StageResult     `json:"screen,omitempty"`
	Extract   *StageResult     `json:"extract,omitempty"`
	Analyze   *StageResult     `json:"analyze,omitempty"`
	Equipment *EquipmentRecord `json:"equipment,omitempty"`
	Answer    string           `json:"answer,omitempty"`
	Note      string           `json:"note,omitempty"`
}

// CacheEntry is one row of the content-addressed analysis cache. Only the
// hit counters mutate after creation.
type CacheEntry struct {
	Hash      string         `json:"hash"`
	Analysis  CachedAnalysis `json:"analysis"`
	CostUSD   float64        `json:"cost_usd"`
	LatencyMS int64          `json:"latency_ms"`
	CreatedAt time.Time      `json:"created_at"`
	ExpiresAt time.Time      `json:"expires_at"`
	HitCount  int64          `json:"hit_count"`
	LastHitAt *time.Time     `json:"last_hit_at,omitempty"`
}

// Expired reports whether the entry is past its TTL at the given instant.
func (e *CacheEntry) Expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}
