package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/Mikecranesync/Rivet-PRO-sub004/internal/model"
)

// SQLiteStore implements Store on a local SQLite file. It is the default
// backend for single-operator deployments where running Postgres is
// overkill.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens (creating if necessary) the database at path.
func NewSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: open %s", path)
	}

	// SQLite handles one writer at a time; a single connection avoids
	// SQLITE_BUSY churn under concurrent pipeline runs.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		`PRAGMA journal_mode = WAL`,
		`PRAGMA busy_timeout = 5000`,
		`PRAGMA synchronous = NORMAL`,
		`PRAGMA foreign_keys = ON`,
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: %s", p)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS analysis_cache (
	hash        TEXT PRIMARY KEY,
	analysis    TEXT NOT NULL,
	cost_usd    REAL NOT NULL DEFAULT 0,
	latency_ms  INTEGER NOT NULL DEFAULT 0,
	created_at  TIMESTAMP NOT NULL,
	expires_at  TIMESTAMP NOT NULL,
	hit_count   INTEGER NOT NULL DEFAULT 0,
	last_hit_at TIMESTAMP
);

CREATE TABLE IF NOT EXISTS equipment (
	id             TEXT PRIMARY KEY,
	manufacturer   TEXT NOT NULL,
	model          TEXT NOT NULL,
	serial         TEXT NOT NULL DEFAULT '',
	location       TEXT NOT NULL DEFAULT '',
	activity_count INTEGER NOT NULL DEFAULT 0,
	created_at     TIMESTAMP NOT NULL,
	UNIQUE (manufacturer, model)
);

CREATE TABLE IF NOT EXISTS validation_sessions (
	id              TEXT PRIMARY KEY,
	session_key     TEXT NOT NULL,
	query_signature TEXT NOT NULL,
	candidate       TEXT NOT NULL,
	state           TEXT NOT NULL DEFAULT 'presented',
	created_at      TIMESTAMP NOT NULL,
	expires_at      TIMESTAMP NOT NULL,
	resolved_at     TIMESTAMP
);

CREATE TABLE IF NOT EXISTS validation_feedback (
	id              TEXT PRIMARY KEY,
	query_signature TEXT NOT NULL,
	candidate       TEXT NOT NULL,
	outcome         INTEGER NOT NULL,
	created_at      TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	request    TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'received',
	result     TEXT,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_cache_expires_at ON analysis_cache(expires_at);
CREATE INDEX IF NOT EXISTS idx_sessions_key_sig ON validation_sessions(session_key, query_signature, state);
CREATE INDEX IF NOT EXISTS idx_sessions_expiry ON validation_sessions(state, expires_at);
CREATE INDEX IF NOT EXISTS idx_feedback_signature ON validation_feedback(query_signature);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Analysis cache ---

func (s *SQLiteStore) GetCacheEntry(ctx context.Context, hash string) (*model.CacheEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT hash, analysis, cost_usd, latency_ms, created_at, expires_at, hit_count, last_hit_at FROM analysis_cache WHERE hash = ? AND expires_at > ?`,
		hash, time.Now().UTC(),
	)

	var e model.CacheEntry
	var analysisJSON string
	var lastHit sql.NullTime
	err := row.Scan(&e.Hash, &analysisJSON, &e.CostUSD, &e.LatencyMS, &e.CreatedAt, &e.ExpiresAt, &e.HitCount, &lastHit)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get cache entry %s", hash)
	}
	if lastHit.Valid {
		e.LastHitAt = &lastHit.Time
	}
	if err := json.Unmarshal([]byte(analysisJSON), &e.Analysis); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal cached analysis")
	}
	return &e, nil
}

func (s *SQLiteStore) PutCacheEntry(ctx context.Context, entry *model.CacheEntry) error {
	analysisJSON, err := json.Marshal(entry.Analysis)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal analysis")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO analysis_cache (hash, analysis, cost_usd, latency_ms, created_at, expires_at) VALUES (?, ?, ?, ?, ?, ?) ON CONFLICT (hash) DO UPDATE SET analysis = excluded.analysis, cost_usd = excluded.cost_usd, latency_ms = excluded.latency_ms, created_at = excluded.created_at, expires_at = excluded.expires_at`,
		entry.Hash, string(analysisJSON), entry.CostUSD, entry.LatencyMS, entry.CreatedAt, entry.ExpiresAt,
	)
	return eris.Wrapf(err, "sqlite: put cache entry %s", entry.Hash)
}

func (s *SQLiteStore) RecordCacheHit(ctx context.Context, hash string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE analysis_cache SET hit_count = hit_count + 1, last_hit_at = ? WHERE hash = ?`,
		time.Now().UTC(), hash,
	)
	return eris.Wrapf(err, "sqlite: record cache hit %s", hash)
}

func (s *SQLiteStore) DeleteExpiredCache(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM analysis_cache WHERE expires_at <= ?`, time.Now().UTC())
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete expired cache")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: rows affected")
	}
	return int(n), nil
}

func (s *SQLiteStore) GetCacheStats(ctx context.Context) (*CacheStats, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT count(*), coalesce(sum(hit_count), 0) FROM analysis_cache WHERE expires_at > ?`,
		time.Now().UTC(),
	)
	var stats CacheStats
	if err := row.Scan(&stats.Entries, &stats.TotalHits); err != nil {
		return nil, eris.Wrap(err, "sqlite: cache stats")
	}
	return &stats, nil
}

// --- Equipment ---

func (s *SQLiteStore) FindEquipment(ctx context.Context, manufacturer, mdl string) (*model.EquipmentRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, manufacturer, model, serial, location, activity_count, created_at FROM equipment WHERE manufacturer = ? AND model = ?`,
		manufacturer, mdl,
	)
	var rec model.EquipmentRecord
	err := row.Scan(&rec.ID, &rec.Manufacturer, &rec.Model, &rec.Serial, &rec.Location, &rec.ActivityCount, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: find equipment %s %s", manufacturer, mdl)
	}
	return &rec, nil
}

func (s *SQLiteStore) CreateEquipment(ctx context.Context, rec *model.EquipmentRecord) (*model.EquipmentRecord, bool, error) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO equipment (id, manufacturer, model, serial, location, activity_count, created_at) VALUES (?, ?, ?, ?, ?, 0, ?) ON CONFLICT (manufacturer, model) DO NOTHING`,
		rec.ID, rec.Manufacturer, rec.Model, rec.Serial, rec.Location, rec.CreatedAt,
	)
	if err != nil {
		return nil, false, eris.Wrapf(err, "sqlite: create equipment %s %s", rec.Manufacturer, rec.Model)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, eris.Wrap(err, "sqlite: rows affected")
	}
	if n > 0 {
		return rec, true, nil
	}

	existing, err := s.FindEquipment(ctx, rec.Manufacturer, rec.Model)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, eris.Wrap(ErrNotFound, "sqlite: equipment vanished after conflict")
	}
	return existing, false, nil
}

func (s *SQLiteStore) IncrementEquipmentActivity(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE equipment SET activity_count = activity_count + 1 WHERE id = ?`, id)
	return eris.Wrapf(err, "sqlite: increment activity %s", id)
}

// --- Validation sessions & feedback ---

func (s *SQLiteStore) CreateValidationSession(ctx context.Context, sess *model.ValidationSession) error {
	candJSON, err := json.Marshal(sess.Candidate)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal candidate")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO validation_sessions (id, session_key, query_signature, candidate, state, created_at, expires_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.SessionKey, sess.QuerySignature, string(candJSON), string(sess.State), sess.CreatedAt, sess.ExpiresAt,
	)
	return eris.Wrapf(err, "sqlite: create validation session %s", sess.ID)
}

func (s *SQLiteStore) GetValidationSession(ctx context.Context, id string) (*model.ValidationSession, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, session_key, query_signature, candidate, state, created_at, expires_at, resolved_at FROM validation_sessions WHERE id = ?`,
		id,
	)
	sess, err := scanSQLiteSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: validation session %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get validation session %s", id)
	}
	return sess, nil
}

func (s *SQLiteStore) FindPresentedSession(ctx context.Context, sessionKey, querySignature string) (*model.ValidationSession, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, session_key, query_signature, candidate, state, created_at, expires_at, resolved_at FROM validation_sessions WHERE session_key = ? AND query_signature = ? AND state = 'presented' ORDER BY created_at DESC LIMIT 1`,
		sessionKey, querySignature,
	)
	sess, err := scanSQLiteSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: find presented session")
	}
	return sess, nil
}

func (s *SQLiteStore) ResolveValidationSession(ctx context.Context, id string, to model.SessionState, resolvedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE validation_sessions SET state = ?, resolved_at = ? WHERE id = ? AND state = 'presented'`,
		string(to), resolvedAt, id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: resolve validation session %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrTerminalSession, "sqlite: session %s", id)
	}
	return nil
}

func (s *SQLiteStore) ExpireValidationSessions(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE validation_sessions SET state = 'expired', resolved_at = ? WHERE state = 'presented' AND expires_at <= ?`,
		now, now,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: expire validation sessions")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: rows affected")
	}
	return int(n), nil
}

func (s *SQLiteStore) CountValidationSessions(ctx context.Context, since time.Time) (SessionCounts, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT state, count(*) FROM validation_sessions WHERE created_at >= ? GROUP BY state`,
		since,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: count validation sessions")
	}
	defer rows.Close()

	counts := make(SessionCounts)
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan session count")
		}
		counts[model.SessionState(state)] = n
	}
	return counts, eris.Wrap(rows.Err(), "sqlite: session count rows")
}

func (s *SQLiteStore) PutFeedback(ctx context.Context, fb *model.ValidationFeedback) error {
	if fb.ID == "" {
		fb.ID = uuid.New().String()
	}
	if fb.CreatedAt.IsZero() {
		fb.CreatedAt = time.Now().UTC()
	}
	candJSON, err := json.Marshal(fb.Candidate)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal feedback candidate")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO validation_feedback (id, query_signature, candidate, outcome, created_at) VALUES (?, ?, ?, ?, ?)`,
		fb.ID, fb.QuerySignature, string(candJSON), fb.Outcome, fb.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: put feedback")
}

func (s *SQLiteStore) ListFeedback(ctx context.Context, querySignature string) ([]model.ValidationFeedback, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, query_signature, candidate, outcome, created_at FROM validation_feedback WHERE query_signature = ? ORDER BY created_at`,
		querySignature,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list feedback")
	}
	defer rows.Close()

	var out []model.ValidationFeedback
	for rows.Next() {
		var fb model.ValidationFeedback
		var candJSON string
		if err := rows.Scan(&fb.ID, &fb.QuerySignature, &candJSON, &fb.Outcome, &fb.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan feedback")
		}
		if err := json.Unmarshal([]byte(candJSON), &fb.Candidate); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal feedback candidate")
		}
		out = append(out, fb)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: feedback rows")
}

// --- Runs ---

func (s *SQLiteStore) CreateRun(ctx context.Context, req model.PipelineRequest) (*model.Run, error) {
	// The request id doubles as the run id, matching the postgres store.
	id := req.ID
	now := time.Now().UTC()

	reqJSON, err := json.Marshal(req)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal request")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, request, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, string(reqJSON), string(model.RunStatusReceived), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}

	return &model.Run{
		ID:        id,
		Request:   req,
		Status:    model.RunStatusReceived,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), runID,
	)
	return eris.Wrapf(err, "sqlite: update run status %s", runID)
}

func (s *SQLiteStore) UpdateRunResult(ctx context.Context, runID string, status model.RunStatus, result *model.PipelineResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal result")
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE runs SET result = ?, status = ?, updated_at = ? WHERE id = ?`,
		string(resultJSON), string(status), time.Now().UTC(), runID,
	)
	return eris.Wrapf(err, "sqlite: update run result %s", runID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, request, status, result, created_at, updated_at FROM runs WHERE id = ?`,
		runID,
	)
	run, err := scanSQLiteRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get run %s", runID)
	}
	return run, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, request, status, result, created_at, updated_at FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if !filter.CreatedAfter.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, filter.CreatedAfter)
	}
	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		run, err := scanSQLiteRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		runs = append(runs, *run)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: run rows")
}

// --- scan helpers ---

func scanSQLiteSession(row rowScanner) (*model.ValidationSession, error) {
	var sess model.ValidationSession
	var candJSON string
	var state string
	var resolved sql.NullTime
	if err := row.Scan(&sess.ID, &sess.SessionKey, &sess.QuerySignature, &candJSON, &state, &sess.CreatedAt, &sess.ExpiresAt, &resolved); err != nil {
		return nil, err
	}
	sess.State = model.SessionState(state)
	if resolved.Valid {
		sess.ResolvedAt = &resolved.Time
	}
	if err := json.Unmarshal([]byte(candJSON), &sess.Candidate); err != nil {
		return nil, err
	}
	return &sess, nil
}

func scanSQLiteRun(row rowScanner) (*model.Run, error) {
	var run model.Run
	var reqJSON string
	var resultJSON sql.NullString
	var status string
	if err := row.Scan(&run.ID, &reqJSON, &status, &resultJSON, &run.CreatedAt, &run.UpdatedAt); err != nil {
		return nil, err
	}
	run.Status = model.RunStatus(status)
	if err := json.Unmarshal([]byte(reqJSON), &run.Request); err != nil {
		return nil, err
	}
	if resultJSON.Valid && resultJSON.String != "" {
		run.Result = &model.PipelineResult{}
		if err := json.Unmarshal([]byte(resultJSON.String), run.Result); err != nil {
			return nil, err
		}
	}
	return &run, nil
}
