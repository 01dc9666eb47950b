// Package store defines the persistence interface for the analysis
// pipeline and its Postgres and SQLite backends.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/Mikecranesync/Rivet-PRO-sub004/internal/model"
)

// ErrNotFound is returned when a required row does not exist.
var ErrNotFound = eris.New("store: not found")

// ErrTerminalSession is returned when a transition is attempted on a
// validation session that already reached a terminal state.
var ErrTerminalSession = eris.New("store: validation session is terminal")

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status       model.RunStatus `json:"status,omitempty"`
	CreatedAfter time.Time       `json:"created_after,omitempty"`
	Limit        int             `json:"limit,omitempty"`
	Offset       int             `json:"offset,omitempty"`
}

// CacheStats is an aggregate view over the analysis cache.
type CacheStats struct {
	Entries   int64 `json:"entries"`
	TotalHits int64 `json:"total_hits"`
}

// SessionCounts tallies validation sessions by state.
type SessionCounts map[model.SessionState]int

// Store defines the persistence interface for the pipeline.
type Store interface {
	// Analysis cache. Get treats expired rows as absent and returns
	// (nil, nil) for a miss; Put accepts concurrent duplicate writes with
	// last-write-wins semantics.
	GetCacheEntry(ctx context.Context, hash string) (*model.CacheEntry, error)
	PutCacheEntry(ctx context.Context, entry *model.CacheEntry) error
	RecordCacheHit(ctx context.Context, hash string) error
	DeleteExpiredCache(ctx context.Context) (int, error)
	GetCacheStats(ctx context.Context) (*CacheStats, error)

	// Equipment. Find returns (nil, nil) when absent. Create relies on a
	// uniqueness constraint on (manufacturer, model): a concurrent first
	// sighting loses the insert race and receives the existing record
	// with created=false.
	FindEquipment(ctx context.Context, manufacturer, model string) (*model.EquipmentRecord, error)
	CreateEquipment(ctx context.Context, rec *model.EquipmentRecord) (*model.EquipmentRecord, bool, error)
	IncrementEquipmentActivity(ctx context.Context, id string) error

	// Validation sessions and feedback.
	CreateValidationSession(ctx context.Context, s *model.ValidationSession) error
	GetValidationSession(ctx context.Context, id string) (*model.ValidationSession, error)
	FindPresentedSession(ctx context.Context, sessionKey, querySignature string) (*model.ValidationSession, error)
	ResolveValidationSession(ctx context.Context, id string, to model.SessionState, resolvedAt time.Time) error
	ExpireValidationSessions(ctx context.Context, now time.Time) (int, error)
	CountValidationSessions(ctx context.Context, since time.Time) (SessionCounts, error)
	PutFeedback(ctx context.Context, fb *model.ValidationFeedback) error
	ListFeedback(ctx context.Context, querySignature string) ([]model.ValidationFeedback, error)

	// Runs.
	CreateRun(ctx context.Context, req model.PipelineRequest) (*model.Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error
	UpdateRunResult(ctx context.Context, runID string, status model.RunStatus, result *model.PipelineResult) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Lifecycle.
	Migrate(ctx context.Context) error
	Close() error
}
