// Package storetest provides an in-memory store.Store for unit tests.
package storetest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/Mikecranesync/Rivet-PRO-sub004/internal/model"
	"github.com/Mikecranesync/Rivet-PRO-sub004/internal/store"
)

// Fake implements store.Store with in-memory maps. Any operation can be
// forced to fail by name via FailWith; call counts are tracked in Calls.
type Fake struct {
	mu sync.Mutex

	CacheEntries map[string]*model.CacheEntry
	Equipment    []*model.EquipmentRecord
	Sessions     map[string]*model.ValidationSession
	Feedback     map[string][]model.ValidationFeedback
	Runs         map[string]*model.Run

	// Errs forces the named operation to return the given error.
	Errs map[string]error

	// Calls counts invocations per operation name.
	Calls map[string]int

	// NowFunc controls expiry checks. Defaults to time.Now.
	NowFunc func() time.Time
}

// New creates an empty Fake.
func New() *Fake {
	return &Fake{
		CacheEntries: make(map[string]*model.CacheEntry),
		Sessions:     make(map[string]*model.ValidationSession),
		Feedback:     make(map[string][]model.ValidationFeedback),
		Runs:         make(map[string]*model.Run),
		Errs:         make(map[string]error),
		Calls:        make(map[string]int),
		NowFunc:      time.Now,
	}
}

// FailWith makes the named operation fail until cleared.
func (f *Fake) FailWith(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Errs[op] = err
}

func (f *Fake) begin(op string) error {
	f.Calls[op]++
	return f.Errs[op]
}

// --- Analysis cache ---

func (f *Fake) GetCacheEntry(_ context.Context, hash string) (*model.CacheEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("GetCacheEntry"); err != nil {
		return nil, err
	}
	e, ok := f.CacheEntries[hash]
	if !ok || e.Expired(f.NowFunc()) {
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

func (f *Fake) PutCacheEntry(_ context.Context, entry *model.CacheEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("PutCacheEntry"); err != nil {
		return err
	}
	cp := *entry
	f.CacheEntries[entry.Hash] = &cp
	return nil
}

func (f *Fake) RecordCacheHit(_ context.Context, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("RecordCacheHit"); err != nil {
		return err
	}
	if e, ok := f.CacheEntries[hash]; ok {
		e.HitCount++
		now := f.NowFunc()
		e.LastHitAt = &now
	}
	return nil
}

func (f *Fake) DeleteExpiredCache(_ context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("DeleteExpiredCache"); err != nil {
		return 0, err
	}
	n := 0
	for hash, e := range f.CacheEntries {
		if e.Expired(f.NowFunc()) {
			delete(f.CacheEntries, hash)
			n++
		}
	}
	return n, nil
}

func (f *Fake) GetCacheStats(_ context.Context) (*store.CacheStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("GetCacheStats"); err != nil {
		return nil, err
	}
	stats := &store.CacheStats{}
	for _, e := range f.CacheEntries {
		if e.Expired(f.NowFunc()) {
			continue
		}
		stats.Entries++
		stats.TotalHits += e.HitCount
	}
	return stats, nil
}

// --- Equipment ---

func (f *Fake) FindEquipment(_ context.Context, manufacturer, mdl string) (*model.EquipmentRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("FindEquipment"); err != nil {
		return nil, err
	}
	return f.findEquipmentLocked(manufacturer, mdl), nil
}

func (f *Fake) findEquipmentLocked(manufacturer, mdl string) *model.EquipmentRecord {
	for _, r := range f.Equipment {
		if r.Manufacturer == manufacturer && r.Model == mdl {
			cp := *r
			return &cp
		}
	}
	return nil
}

func (f *Fake) CreateEquipment(_ context.Context, rec *model.EquipmentRecord) (*model.EquipmentRecord, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("CreateEquipment"); err != nil {
		return nil, false, err
	}
	if existing := f.findEquipmentLocked(rec.Manufacturer, rec.Model); existing != nil {
		return existing, false, nil
	}
	cp := *rec
	if cp.ID == "" {
		cp.ID = uuid.New().String()
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = f.NowFunc()
	}
	f.Equipment = append(f.Equipment, &cp)
	out := cp
	return &out, true, nil
}

func (f *Fake) IncrementEquipmentActivity(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("IncrementEquipmentActivity"); err != nil {
		return err
	}
	for _, r := range f.Equipment {
		if r.ID == id {
			r.ActivityCount++
		}
	}
	return nil
}

// --- Validation sessions & feedback ---

func (f *Fake) CreateValidationSession(_ context.Context, s *model.ValidationSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("CreateValidationSession"); err != nil {
		return err
	}
	cp := *s
	f.Sessions[s.ID] = &cp
	return nil
}

func (f *Fake) GetValidationSession(_ context.Context, id string) (*model.ValidationSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("GetValidationSession"); err != nil {
		return nil, err
	}
	s, ok := f.Sessions[id]
	if !ok {
		return nil, eris.Wrapf(store.ErrNotFound, "storetest: session %s", id)
	}
	cp := *s
	return &cp, nil
}

func (f *Fake) FindPresentedSession(_ context.Context, sessionKey, querySignature string) (*model.ValidationSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("FindPresentedSession"); err != nil {
		return nil, err
	}
	var newest *model.ValidationSession
	for _, s := range f.Sessions {
		if s.SessionKey != sessionKey || s.QuerySignature != querySignature || s.State != model.SessionPresented {
			continue
		}
		if newest == nil || s.CreatedAt.After(newest.CreatedAt) {
			newest = s
		}
	}
	if newest == nil {
		return nil, nil
	}
	cp := *newest
	return &cp, nil
}

func (f *Fake) ResolveValidationSession(_ context.Context, id string, to model.SessionState, resolvedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("ResolveValidationSession"); err != nil {
		return err
	}
	s, ok := f.Sessions[id]
	if !ok || s.State != model.SessionPresented {
		return eris.Wrapf(store.ErrTerminalSession, "storetest: session %s", id)
	}
	s.State = to
	s.ResolvedAt = &resolvedAt
	return nil
}

func (f *Fake) ExpireValidationSessions(_ context.Context, now time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("ExpireValidationSessions"); err != nil {
		return 0, err
	}
	n := 0
	for _, s := range f.Sessions {
		if s.State == model.SessionPresented && !s.ExpiresAt.After(now) {
			s.State = model.SessionExpired
			resolved := now
			s.ResolvedAt = &resolved
			n++
		}
	}
	return n, nil
}

func (f *Fake) CountValidationSessions(_ context.Context, since time.Time) (store.SessionCounts, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("CountValidationSessions"); err != nil {
		return nil, err
	}
	counts := make(store.SessionCounts)
	for _, s := range f.Sessions {
		if s.CreatedAt.Before(since) {
			continue
		}
		counts[s.State]++
	}
	return counts, nil
}

func (f *Fake) PutFeedback(_ context.Context, fb *model.ValidationFeedback) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("PutFeedback"); err != nil {
		return err
	}
	cp := *fb
	if cp.ID == "" {
		cp.ID = uuid.New().String()
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = f.NowFunc()
	}
	f.Feedback[fb.QuerySignature] = append(f.Feedback[fb.QuerySignature], cp)
	return nil
}

func (f *Fake) ListFeedback(_ context.Context, querySignature string) ([]model.ValidationFeedback, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("ListFeedback"); err != nil {
		return nil, err
	}
	out := append([]model.ValidationFeedback(nil), f.Feedback[querySignature]...)
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// --- Runs ---

func (f *Fake) CreateRun(_ context.Context, req model.PipelineRequest) (*model.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("CreateRun"); err != nil {
		return nil, err
	}
	now := f.NowFunc()
	run := &model.Run{
		ID:        req.ID,
		Request:   req,
		Status:    model.RunStatusReceived,
		CreatedAt: now,
		UpdatedAt: now,
	}
	f.Runs[run.ID] = run
	cp := *run
	return &cp, nil
}

func (f *Fake) UpdateRunStatus(_ context.Context, runID string, status model.RunStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("UpdateRunStatus"); err != nil {
		return err
	}
	if run, ok := f.Runs[runID]; ok {
		run.Status = status
		run.UpdatedAt = f.NowFunc()
	}
	return nil
}

func (f *Fake) UpdateRunResult(_ context.Context, runID string, status model.RunStatus, result *model.PipelineResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("UpdateRunResult"); err != nil {
		return err
	}
	if run, ok := f.Runs[runID]; ok {
		run.Status = status
		run.Result = result
		run.UpdatedAt = f.NowFunc()
	}
	return nil
}

func (f *Fake) GetRun(_ context.Context, runID string) (*model.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("GetRun"); err != nil {
		return nil, err
	}
	run, ok := f.Runs[runID]
	if !ok {
		return nil, eris.Wrapf(store.ErrNotFound, "storetest: run %s", runID)
	}
	cp := *run
	return &cp, nil
}

func (f *Fake) ListRuns(_ context.Context, filter store.RunFilter) ([]model.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("ListRuns"); err != nil {
		return nil, err
	}
	var runs []model.Run
	for _, r := range f.Runs {
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		if !filter.CreatedAfter.IsZero() && r.CreatedAt.Before(filter.CreatedAfter) {
			continue
		}
		runs = append(runs, *r)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].CreatedAt.After(runs[j].CreatedAt) })
	if filter.Offset > 0 {
		if filter.Offset >= len(runs) {
			return nil, nil
		}
		runs = runs[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(runs) {
		runs = runs[:filter.Limit]
	}
	return runs, nil
}

// --- Lifecycle ---

func (f *Fake) Migrate(context.Context) error { return nil }

func (f *Fake) Close() error { return nil }
