package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mikecranesync/Rivet-PRO-sub004/internal/model"
)

func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return &PostgresStore{pool: mock}, mock
}

func TestMigrateRunsSchema(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS analysis_cache").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, st.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetCacheEntryHit(t *testing.T) {
	st, mock := newMockStore(t)

	now := time.Now().UTC()
	analysis, _ := json.Marshal(model.CachedAnalysis{Answer: "check the overload relay"})

	mock.ExpectQuery("SELECT hash, analysis, cost_usd").
		WithArgs("abc").
		WillReturnRows(pgxmock.NewRows([]string{
			"hash", "analysis", "cost_usd", "latency_ms", "created_at", "expires_at", "hit_count", "last_hit_at",
		}).AddRow("abc", analysis, 0.42, int64(1200), now, now.Add(time.Hour), int64(3), nil))

	entry, err := st.GetCacheEntry(context.Background(), "abc")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "abc", entry.Hash)
	assert.Equal(t, "check the overload relay", entry.Analysis.Answer)
	assert.Equal(t, int64(3), entry.HitCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetCacheEntryMissReturnsNil(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectQuery("SELECT hash, analysis, cost_usd").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	entry, err := st.GetCacheEntry(context.Background(), "missing")
	require.NoError(t, err, "a miss is not an error")
	assert.Nil(t, entry)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPutCacheEntryUpserts(t *testing.T) {
	st, mock := newMockStore(t)

	now := time.Now().UTC()
	entry := &model.CacheEntry{
		Hash:      "abc",
		Analysis:  model.CachedAnalysis{Answer: "ok"},
		CostUSD:   0.1,
		LatencyMS: 900,
		CreatedAt: now,
		ExpiresAt: now.Add(time.Hour),
	}

	mock.ExpectExec("INSERT INTO analysis_cache").
		WithArgs(entry.Hash, pgxmock.AnyArg(), entry.CostUSD, entry.LatencyMS, entry.CreatedAt, entry.ExpiresAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, st.PutCacheEntry(context.Background(), entry))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindEquipmentAbsentReturnsNil(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectQuery("SELECT id, manufacturer, model").
		WithArgs("siemens", "g120c").
		WillReturnError(pgx.ErrNoRows)

	rec, err := st.FindEquipment(context.Background(), "siemens", "g120c")
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateEquipmentFirstSighting(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO equipment").
		WithArgs(pgxmock.AnyArg(), "siemens", "g120c", "sn-1", "", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	rec, created, err := st.CreateEquipment(context.Background(), &model.EquipmentRecord{
		Manufacturer: "siemens",
		Model:        "g120c",
		Serial:       "sn-1",
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEmpty(t, rec.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateEquipmentLostRaceReturnsExisting(t *testing.T) {
	st, mock := newMockStore(t)

	now := time.Now().UTC()

	mock.ExpectExec("INSERT INTO equipment").
		WithArgs(pgxmock.AnyArg(), "siemens", "g120c", "", "", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	mock.ExpectQuery("SELECT id, manufacturer, model").
		WithArgs("siemens", "g120c").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "manufacturer", "model", "serial", "location", "activity_count", "created_at",
		}).AddRow("existing-id", "siemens", "g120c", "", "", int64(7), now))

	rec, created, err := st.CreateEquipment(context.Background(), &model.EquipmentRecord{
		Manufacturer: "siemens",
		Model:        "g120c",
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "existing-id", rec.ID)
	assert.Equal(t, int64(7), rec.ActivityCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResolveValidationSessionIsSticky(t *testing.T) {
	st, mock := newMockStore(t)

	now := time.Now().UTC()

	mock.ExpectExec("UPDATE validation_sessions SET state").
		WithArgs("confirmed", now, "sess-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, st.ResolveValidationSession(context.Background(), "sess-1", model.SessionConfirmed, now))

	// A second resolution matches zero rows and must surface as terminal.
	mock.ExpectExec("UPDATE validation_sessions SET state").
		WithArgs("rejected", now, "sess-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	err := st.ResolveValidationSession(context.Background(), "sess-1", model.SessionRejected, now)
	assert.ErrorIs(t, err, ErrTerminalSession)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetValidationSessionNotFound(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectQuery("SELECT id, session_key, query_signature").
		WithArgs("ghost").
		WillReturnError(pgx.ErrNoRows)

	_, err := st.GetValidationSession(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExpireValidationSessionsCounts(t *testing.T) {
	st, mock := newMockStore(t)

	now := time.Now().UTC()
	mock.ExpectExec("UPDATE validation_sessions SET state = 'expired'").
		WithArgs(now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 4))

	n, err := st.ExpireValidationSessions(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateRunUsesRequestID(t *testing.T) {
	st, mock := newMockStore(t)

	req := model.PipelineRequest{ID: "run-1", ImageHash: "abc", SessionID: "tg:1"}

	mock.ExpectExec("INSERT INTO runs").
		WithArgs("run-1", pgxmock.AnyArg(), "received", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	run, err := st.CreateRun(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "run-1", run.ID)
	assert.Equal(t, model.RunStatusReceived, run.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListRunsAppliesFilters(t *testing.T) {
	st, mock := newMockStore(t)

	now := time.Now().UTC()
	reqJSON, _ := json.Marshal(model.PipelineRequest{ID: "run-1"})

	mock.ExpectQuery("SELECT id, request, status, result, created_at, updated_at FROM runs").
		WithArgs("done", now.Add(-time.Hour), 10).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "request", "status", "result", "created_at", "updated_at",
		}).AddRow("run-1", reqJSON, "done", nil, now, now))

	runs, err := st.ListRuns(context.Background(), RunFilter{
		Status:       model.RunStatusDone,
		CreatedAfter: now.Add(-time.Hour),
		Limit:        10,
	})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "run-1", runs[0].ID)
	assert.Equal(t, model.RunStatusDone, runs[0].Status)
	assert.Nil(t, runs[0].Result)
	assert.NoError(t, mock.ExpectationsWereMet())
}
