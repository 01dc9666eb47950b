package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/Mikecranesync/Rivet-PRO-sub004/internal/model"
)

// Pool is the subset of pgxpool.Pool used by the store. pgxmock satisfies
// it, which keeps the Postgres store unit-testable.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    Pool
	closeFn func()
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"get_cache":   `SELECT hash, analysis, cost_usd, latency_ms, created_at, expires_at, hit_count, last_hit_at FROM analysis_cache WHERE hash = $1 AND expires_at > now()`,
	"put_cache":   `INSERT INTO analysis_cache (hash, analysis, cost_usd, latency_ms, created_at, expires_at) VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT (hash) DO UPDATE SET analysis = excluded.analysis, cost_usd = excluded.cost_usd, latency_ms = excluded.latency_ms, created_at = excluded.created_at, expires_at = excluded.expires_at`,
	"record_hit":  `UPDATE analysis_cache SET hit_count = hit_count + 1, last_hit_at = $1 WHERE hash = $2`,
	"find_equip":  `SELECT id, manufacturer, model, serial, location, activity_count, created_at FROM equipment WHERE manufacturer = $1 AND model = $2`,
	"bump_equip":  `UPDATE equipment SET activity_count = activity_count + 1 WHERE id = $1`,
	"insert_run":  `INSERT INTO runs (id, request, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
	"update_run":  `UPDATE runs SET status = $1, updated_at = $2 WHERE id = $3`,
	"get_session": `SELECT id, session_key, query_signature, candidate, state, created_at, expires_at, resolved_at FROM validation_sessions WHERE id = $1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, maxConns, minConns int32) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	if maxConns <= 0 {
		maxConns = 10
	}
	if minConns <= 0 {
		minConns = 2
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS analysis_cache (
	hash        TEXT PRIMARY KEY,
	analysis    JSONB NOT NULL,
	cost_usd    DOUBLE PRECISION NOT NULL DEFAULT 0,
	latency_ms  BIGINT NOT NULL DEFAULT 0,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	expires_at  TIMESTAMPTZ NOT NULL,
	hit_count   BIGINT NOT NULL DEFAULT 0,
	last_hit_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS equipment (
	id             TEXT PRIMARY KEY,
	manufacturer   TEXT NOT NULL,
	model          TEXT NOT NULL,
	serial         TEXT NOT NULL DEFAULT '',
	location       TEXT NOT NULL DEFAULT '',
	activity_count BIGINT NOT NULL DEFAULT 0,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (manufacturer, model)
);

CREATE TABLE IF NOT EXISTS validation_sessions (
	id              TEXT PRIMARY KEY,
	session_key     TEXT NOT NULL,
	query_signature TEXT NOT NULL,
	candidate       JSONB NOT NULL,
	state           TEXT NOT NULL DEFAULT 'presented',
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	expires_at      TIMESTAMPTZ NOT NULL,
	resolved_at     TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS validation_feedback (
	id              TEXT PRIMARY KEY,
	query_signature TEXT NOT NULL,
	candidate       JSONB NOT NULL,
	outcome         BOOLEAN NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	request    JSONB NOT NULL,
	status     TEXT NOT NULL DEFAULT 'received',
	result     JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_cache_expires_at ON analysis_cache(expires_at);
CREATE INDEX IF NOT EXISTS idx_sessions_key_sig ON validation_sessions(session_key, query_signature, state);
CREATE INDEX IF NOT EXISTS idx_sessions_expiry ON validation_sessions(state, expires_at);
CREATE INDEX IF NOT EXISTS idx_feedback_signature ON validation_feedback(query_signature);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// --- Analysis cache ---

func (s *PostgresStore) GetCacheEntry(ctx context.Context, hash string) (*model.CacheEntry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT hash, analysis, cost_usd, latency_ms, created_at, expires_at, hit_count, last_hit_at FROM analysis_cache WHERE hash = $1 AND expires_at > now()`,
		hash,
	)

	var e model.CacheEntry
	var analysisJSON []byte
	err := row.Scan(&e.Hash, &analysisJSON, &e.CostUSD, &e.LatencyMS, &e.CreatedAt, &e.ExpiresAt, &e.HitCount, &e.LastHitAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get cache entry %s", hash)
	}
	if err := json.Unmarshal(analysisJSON, &e.Analysis); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal cached analysis")
	}
	return &e, nil
}

func (s *PostgresStore) PutCacheEntry(ctx context.Context, entry *model.CacheEntry) error {
	analysisJSON, err := json.Marshal(entry.Analysis)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal analysis")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO analysis_cache (hash, analysis, cost_usd, latency_ms, created_at, expires_at) VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT (hash) DO UPDATE SET analysis = excluded.analysis, cost_usd = excluded.cost_usd, latency_ms = excluded.latency_ms, created_at = excluded.created_at, expires_at = excluded.expires_at`,
		entry.Hash, analysisJSON, entry.CostUSD, entry.LatencyMS, entry.CreatedAt, entry.ExpiresAt,
	)
	return eris.Wrapf(err, "postgres: put cache entry %s", entry.Hash)
}

func (s *PostgresStore) RecordCacheHit(ctx context.Context, hash string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE analysis_cache SET hit_count = hit_count + 1, last_hit_at = $1 WHERE hash = $2`,
		time.Now().UTC(), hash,
	)
	return eris.Wrapf(err, "postgres: record cache hit %s", hash)
}

func (s *PostgresStore) DeleteExpiredCache(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM analysis_cache WHERE expires_at <= now()`)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete expired cache")
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) GetCacheStats(ctx context.Context) (*CacheStats, error) {
	row := s.pool.QueryRow(ctx, `SELECT count(*), coalesce(sum(hit_count), 0) FROM analysis_cache WHERE expires_at > now()`)
	var stats CacheStats
	if err := row.Scan(&stats.Entries, &stats.TotalHits); err != nil {
		return nil, eris.Wrap(err, "postgres: cache stats")
	}
	return &stats, nil
}

// --- Equipment ---

func (s *PostgresStore) FindEquipment(ctx context.Context, manufacturer, mdl string) (*model.EquipmentRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, manufacturer, model, serial, location, activity_count, created_at FROM equipment WHERE manufacturer = $1 AND model = $2`,
		manufacturer, mdl,
	)
	rec, err := scanEquipment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: find equipment %s %s", manufacturer, mdl)
	}
	return rec, nil
}

func (s *PostgresStore) CreateEquipment(ctx context.Context, rec *model.EquipmentRecord) (*model.EquipmentRecord, bool, error) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO equipment (id, manufacturer, model, serial, location, activity_count, created_at) VALUES ($1, $2, $3, $4, $5, 0, $6) ON CONFLICT (manufacturer, model) DO NOTHING`,
		rec.ID, rec.Manufacturer, rec.Model, rec.Serial, rec.Location, rec.CreatedAt,
	)
	if err != nil {
		return nil, false, eris.Wrapf(err, "postgres: create equipment %s %s", rec.Manufacturer, rec.Model)
	}
	if tag.RowsAffected() > 0 {
		return rec, true, nil
	}

	// Lost the insert race: another request created the record first.
	existing, err := s.FindEquipment(ctx, rec.Manufacturer, rec.Model)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, eris.Wrap(ErrNotFound, "postgres: equipment vanished after conflict")
	}
	return existing, false, nil
}

func (s *PostgresStore) IncrementEquipmentActivity(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `UPDATE equipment SET activity_count = activity_count + 1 WHERE id = $1`, id)
	return eris.Wrapf(err, "postgres: increment activity %s", id)
}

// --- Validation sessions & feedback ---

func (s *PostgresStore) CreateValidationSession(ctx context.Context, sess *model.ValidationSession) error {
	candJSON, err := json.Marshal(sess.Candidate)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal candidate")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO validation_sessions (id, session_key, query_signature, candidate, state, created_at, expires_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		sess.ID, sess.SessionKey, sess.QuerySignature, candJSON, string(sess.State), sess.CreatedAt, sess.ExpiresAt,
	)
	return eris.Wrapf(err, "postgres: create validation session %s", sess.ID)
}

func (s *PostgresStore) GetValidationSession(ctx context.Context, id string) (*model.ValidationSession, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, session_key, query_signature, candidate, state, created_at, expires_at, resolved_at FROM validation_sessions WHERE id = $1`,
		id,
	)
	sess, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: validation session %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get validation session %s", id)
	}
	return sess, nil
}

func (s *PostgresStore) FindPresentedSession(ctx context.Context, sessionKey, querySignature string) (*model.ValidationSession, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, session_key, query_signature, candidate, state, created_at, expires_at, resolved_at FROM validation_sessions WHERE session_key = $1 AND query_signature = $2 AND state = 'presented' ORDER BY created_at DESC LIMIT 1`,
		sessionKey, querySignature,
	)
	sess, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: find presented session")
	}
	return sess, nil
}

func (s *PostgresStore) ResolveValidationSession(ctx context.Context, id string, to model.SessionState, resolvedAt time.Time) error {
	// The state guard makes terminal states sticky: resolving an already
	// resolved session affects zero rows.
	tag, err := s.pool.Exec(ctx,
		`UPDATE validation_sessions SET state = $1, resolved_at = $2 WHERE id = $3 AND state = 'presented'`,
		string(to), resolvedAt, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: resolve validation session %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrTerminalSession, "postgres: session %s", id)
	}
	return nil
}

func (s *PostgresStore) ExpireValidationSessions(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE validation_sessions SET state = 'expired', resolved_at = $1 WHERE state = 'presented' AND expires_at <= $1`,
		now,
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: expire validation sessions")
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) CountValidationSessions(ctx context.Context, since time.Time) (SessionCounts, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT state, count(*) FROM validation_sessions WHERE created_at >= $1 GROUP BY state`,
		since,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: count validation sessions")
	}
	defer rows.Close()

	counts := make(SessionCounts)
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan session count")
		}
		counts[model.SessionState(state)] = n
	}
	return counts, eris.Wrap(rows.Err(), "postgres: session count rows")
}

func (s *PostgresStore) PutFeedback(ctx context.Context, fb *model.ValidationFeedback) error {
	if fb.ID == "" {
		fb.ID = uuid.New().String()
	}
	if fb.CreatedAt.IsZero() {
		fb.CreatedAt = time.Now().UTC()
	}
	candJSON, err := json.Marshal(fb.Candidate)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal feedback candidate")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO validation_feedback (id, query_signature, candidate, outcome, created_at) VALUES ($1, $2, $3, $4, $5)`,
		fb.ID, fb.QuerySignature, candJSON, fb.Outcome, fb.CreatedAt,
	)
	return eris.Wrap(err, "postgres: put feedback")
}

func (s *PostgresStore) ListFeedback(ctx context.Context, querySignature string) ([]model.ValidationFeedback, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, query_signature, candidate, outcome, created_at FROM validation_feedback WHERE query_signature = $1 ORDER BY created_at`,
		querySignature,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list feedback")
	}
	defer rows.Close()

	var out []model.ValidationFeedback
	for rows.Next() {
		var fb model.ValidationFeedback
		var candJSON []byte
		if err := rows.Scan(&fb.ID, &fb.QuerySignature, &candJSON, &fb.Outcome, &fb.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan feedback")
		}
		if err := json.Unmarshal(candJSON, &fb.Candidate); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal feedback candidate")
		}
		out = append(out, fb)
	}
	return out, eris.Wrap(rows.Err(), "postgres: feedback rows")
}

// --- Runs ---

func (s *PostgresStore) CreateRun(ctx context.Context, req model.PipelineRequest) (*model.Run, error) {
	// One run per request: the request id doubles as the run id so async
	// callers can hand out a pollable id before processing starts.
	id := req.ID
	now := time.Now().UTC()

	reqJSON, err := json.Marshal(req)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal request")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO runs (id, request, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		id, reqJSON, string(model.RunStatusReceived), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}

	return &model.Run{
		ID:        id,
		Request:   req,
		Status:    model.RunStatusReceived,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *PostgresStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), runID,
	)
	return eris.Wrapf(err, "postgres: update run status %s", runID)
}

func (s *PostgresStore) UpdateRunResult(ctx context.Context, runID string, status model.RunStatus, result *model.PipelineResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal result")
	}
	_, err = s.pool.Exec(ctx,
		`UPDATE runs SET result = $1, status = $2, updated_at = $3 WHERE id = $4`,
		resultJSON, string(status), time.Now().UTC(), runID,
	)
	return eris.Wrapf(err, "postgres: update run result %s", runID)
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, request, status, result, created_at, updated_at FROM runs WHERE id = $1`,
		runID,
	)
	run, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return run, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, request, status, result, created_at, updated_at FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += ` AND status = $1`
	}
	if !filter.CreatedAfter.IsZero() {
		args = append(args, filter.CreatedAfter)
		query += ` AND created_at >= $` + strconv.Itoa(len(args))
	}
	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += ` LIMIT $` + strconv.Itoa(len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += ` OFFSET $` + strconv.Itoa(len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *run)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: run rows")
}

// --- scan helpers ---

// rowScanner covers both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanEquipment(row rowScanner) (*model.EquipmentRecord, error) {
	var rec model.EquipmentRecord
	if err := row.Scan(&rec.ID, &rec.Manufacturer, &rec.Model, &rec.Serial, &rec.Location, &rec.ActivityCount, &rec.CreatedAt); err != nil {
		return nil, err
	}
	return &rec, nil
}

func scanSession(row rowScanner) (*model.ValidationSession, error) {
	var sess model.ValidationSession
	var candJSON []byte
	var state string
	if err := row.Scan(&sess.ID, &sess.SessionKey, &sess.QuerySignature, &candJSON, &state, &sess.CreatedAt, &sess.ExpiresAt, &sess.ResolvedAt); err != nil {
		return nil, err
	}
	sess.State = model.SessionState(state)
	if err := json.Unmarshal(candJSON, &sess.Candidate); err != nil {
		return nil, err
	}
	return &sess, nil
}

func scanRun(row rowScanner) (*model.Run, error) {
	var run model.Run
	var reqJSON []byte
	var resultJSON []byte
	var status string
	if err := row.Scan(&run.ID, &reqJSON, &status, &resultJSON, &run.CreatedAt, &run.UpdatedAt); err != nil {
		return nil, err
	}
	run.Status = model.RunStatus(status)
	if err := json.Unmarshal(reqJSON, &run.Request); err != nil {
		return nil, err
	}
	if len(resultJSON) > 0 {
		run.Result = &model.PipelineResult{}
		if err := json.Unmarshal(resultJSON, run.Result); err != nil {
			return nil, err
		}
	}
	return &run, nil
}

