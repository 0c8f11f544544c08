package cache

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/ticket-geocoder/internal/model"
)

var recordColumnNames = []string{
	"ticket_number", "version", "geocode_key",
	"street", "intersection", "city", "county",
	"ticket_type", "duration", "work_type", "excavator",
	"latitude", "longitude", "method", "approach", "confidence",
	"reasoning", "error_message",
	"quality_tier", "review_priority", "validation_flags",
	"supersedes", "is_current", "created_at", "created_by_stage",
	"locked", "lock_reason", "locked_at", "locked_by",
	"metadata", "processing_time_ms",
}

func strPtr(s string) *string { return &s }

// anyArgs returns n wildcard argument matchers, for statements whose bound
// parameter count matters but whose individual values are not under test.
func anyArgs(n int) []any {
	args := make([]any, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func fullRow(ticket string) []any {
	return []any{
		ticket, 1, "abc123",
		strPtr("County Road 120"), strPtr("FM 1788"), strPtr("Midland"), strPtr("Midland"),
		strPtr("Normal"), strPtr("14 days"), strPtr("Fiber"), strPtr("Acme Digging"),
		model.Float64Ptr(31.9973), model.Float64Ptr(-102.0779), strPtr("proximity"),
		strPtr(model.ApproachCorridorMidpoint), model.Float64Ptr(0.85),
		strPtr("nearest road segment"), (*string)(nil),
		model.TierGood, model.PriorityNone, strPtr(`["low_confidence"]`),
		(*int)(nil), true, time.Now().UTC(), "proximity",
		false, (*string)(nil), (*time.Time)(nil), (*string)(nil),
		strPtr(`{"distance_m":42.5}`), 12.5,
	}
}

func TestPostgresCurrentNoRows(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT .* FROM geocode_records WHERE ticket_number").
		WithArgs("TX-1").
		WillReturnError(pgx.ErrNoRows)

	st := NewPostgresWithPool(mock)
	rec, err := st.Current(context.Background(), "TX-1")
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCurrentScansRecord(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT .* FROM geocode_records WHERE ticket_number").
		WithArgs("TX-1").
		WillReturnRows(pgxmock.NewRows(recordColumnNames).AddRow(fullRow("TX-1")...))

	st := NewPostgresWithPool(mock)
	rec, err := st.Current(context.Background(), "TX-1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "TX-1", rec.TicketNumber)
	assert.Equal(t, "County Road 120", rec.Street)
	assert.Equal(t, 31.9973, *rec.Latitude)
	assert.Equal(t, model.TierGood, rec.QualityTier)
	assert.Equal(t, []string{"low_confidence"}, rec.ValidationFlags)
	assert.Equal(t, 42.5, rec.Metadata["distance_m"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresPutFirstVersion(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT version, locked FROM geocode_records").
		WithArgs("TX-1").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec("INSERT INTO geocode_records").
		WithArgs(anyArgs(31)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	st := NewPostgresWithPool(mock)
	saved, err := st.Put(context.Background(), testRecord("TX-1"), "proximity")
	require.NoError(t, err)
	assert.Equal(t, 1, saved.Version)
	assert.Nil(t, saved.Supersedes)
	assert.True(t, saved.IsCurrent)
	assert.NotEmpty(t, saved.GeocodeKey)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresPutSupersedes(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT version, locked FROM geocode_records").
		WithArgs("TX-1").
		WillReturnRows(pgxmock.NewRows([]string{"version", "locked"}).AddRow(1, false))
	mock.ExpectExec("UPDATE geocode_records SET is_current = false").
		WithArgs("TX-1", 1).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("INSERT INTO geocode_records").
		WithArgs(anyArgs(31)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	st := NewPostgresWithPool(mock)
	saved, err := st.Put(context.Background(), testRecord("TX-1"), "validation")
	require.NoError(t, err)
	assert.Equal(t, 2, saved.Version)
	require.NotNil(t, saved.Supersedes)
	assert.Equal(t, 1, *saved.Supersedes)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresPutLockedPrior(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT version, locked FROM geocode_records").
		WithArgs("TX-1").
		WillReturnRows(pgxmock.NewRows([]string{"version", "locked"}).AddRow(3, true))
	mock.ExpectRollback()

	st := NewPostgresWithPool(mock)
	_, err = st.Put(context.Background(), testRecord("TX-1"), "enrichment")
	require.Error(t, err)
	assert.True(t, model.IsKind(err, model.KindLocked))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresPutRejectsInvalidRecord(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	rec := testRecord("TX-1")
	rec.Latitude = model.Float64Ptr(91.0)

	st := NewPostgresWithPool(mock)
	_, err = st.Put(context.Background(), rec, "proximity")
	require.Error(t, err)
	assert.True(t, model.IsKind(err, model.KindStorage))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLock(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("UPDATE geocode_records SET locked = true").
		WithArgs("verified", pgxmock.AnyArg(), "reviewer", "TX-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	st := NewPostgresWithPool(mock)
	require.NoError(t, st.Lock(context.Background(), "TX-1", "verified", "reviewer"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLockNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("UPDATE geocode_records SET locked = true").
		WithArgs("", pgxmock.AnyArg(), "", "NOPE").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	st := NewPostgresWithPool(mock)
	err = st.Lock(context.Background(), "NOPE", "", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUnlock(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("UPDATE geocode_records SET locked = false").
		WithArgs("TX-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	st := NewPostgresWithPool(mock)
	require.NoError(t, st.Unlock(context.Background(), "TX-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresQueryBuildsFilters(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT .* FROM geocode_records WHERE 1=1 AND is_current = true AND quality_tier = ANY").
		WithArgs([]string{"GOOD"}, 10).
		WillReturnRows(pgxmock.NewRows(recordColumnNames).AddRow(fullRow("TX-1")...))

	st := NewPostgresWithPool(mock)
	recs, err := st.Query(context.Background(), Filter{
		CurrentOnly: true,
		Tiers:       []model.QualityTier{model.TierGood},
		Limit:       10,
	})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "TX-1", recs[0].TicketNumber)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStatistics(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT quality_tier, review_priority, method, locked").
		WillReturnRows(pgxmock.NewRows([]string{"quality_tier", "review_priority", "method", "locked", "count"}).
			AddRow("GOOD", "NONE", strPtr("proximity"), false, 5).
			AddRow("FAILED", "CRITICAL", (*string)(nil), false, 2).
			AddRow("ACCEPTABLE", "LOW", strPtr("census_api"), true, 1))

	st := NewPostgresWithPool(mock)
	stats, err := st.Statistics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 8, stats.TotalRecords)
	assert.Equal(t, 5, stats.TierCounts[model.TierGood])
	assert.Equal(t, 2, stats.PriorityCounts[model.PriorityCritical])
	assert.Equal(t, 1, stats.LockedCount)
	assert.Equal(t, 5, stats.MethodCounts["proximity"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRecordRun(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("INSERT INTO pipeline_runs").
		WithArgs("run_1", pgxmock.AnyArg(), pgxmock.AnyArg(), 5, 5, 0, 0, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	st := NewPostgresWithPool(mock)
	run := &PipelineRun{ID: "run_1", StartedAt: time.Now().UTC(), TotalTickets: 5, Succeeded: 5}
	require.NoError(t, st.RecordRun(context.Background(), run))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresMigrate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS geocode_records").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	st := NewPostgresWithPool(mock)
	require.NoError(t, st.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
