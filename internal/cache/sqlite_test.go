package cache

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/ticket-geocoder/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	st, err := NewSQLite(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func testRecord(ticket string) *model.GeocodeRecord {
	return &model.GeocodeRecord{
		TicketNumber: ticket,
		Street:       "County Road 120",
		Intersection: "FM 1788",
		City:         "Midland",
		County:       "Midland",
		Latitude:     model.Float64Ptr(31.9973),
		Longitude:    model.Float64Ptr(-102.0779),
		Confidence:   model.Float64Ptr(0.85),
		Method:       "proximity",
		Approach:     model.ApproachCorridorMidpoint,
		QualityTier:  model.TierGood,
		Metadata:     map[string]any{"distance_m": 42.5},
	}
}

func TestPutFirstVersion(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	saved, err := st.Put(ctx, testRecord("TX-1"), "proximity")
	require.NoError(t, err)
	assert.Equal(t, 1, saved.Version)
	assert.Nil(t, saved.Supersedes)
	assert.True(t, saved.IsCurrent)
	assert.Equal(t, "proximity", saved.CreatedByStage)
	assert.NotEmpty(t, saved.GeocodeKey)
	assert.False(t, saved.CreatedAt.IsZero())
}

func TestPutSupersedes(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, err := st.Put(ctx, testRecord("TX-1"), "proximity")
	require.NoError(t, err)

	second := testRecord("TX-1")
	second.Confidence = model.Float64Ptr(0.92)
	saved, err := st.Put(ctx, second, "validation")
	require.NoError(t, err)
	assert.Equal(t, 2, saved.Version)
	require.NotNil(t, saved.Supersedes)
	assert.Equal(t, 1, *saved.Supersedes)

	cur, err := st.Current(ctx, "TX-1")
	require.NoError(t, err)
	require.NotNil(t, cur)
	assert.Equal(t, 2, cur.Version)
	assert.Equal(t, 0.92, cur.ConfidenceValue())

	history, err := st.History(ctx, "TX-1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 2, history[0].Version)
	assert.True(t, history[0].IsCurrent)
	assert.Equal(t, 1, history[1].Version)
	assert.False(t, history[1].IsCurrent)
}

func TestPutRejectsInvalidCoordinates(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	rec := testRecord("TX-1")
	rec.Latitude = model.Float64Ptr(91.0)
	_, err := st.Put(ctx, rec, "proximity")
	require.Error(t, err)
	assert.True(t, model.IsKind(err, model.KindStorage))

	rec = testRecord("TX-2")
	rec.TicketNumber = ""
	_, err = st.Put(ctx, rec, "proximity")
	require.Error(t, err)
	assert.True(t, model.IsKind(err, model.KindStorage))
}

func TestCurrentMissingTicket(t *testing.T) {
	st := newTestStore(t)

	rec, err := st.Current(context.Background(), "NOPE")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestLockBlocksSupersede(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, err := st.Put(ctx, testRecord("TX-1"), "proximity")
	require.NoError(t, err)
	require.NoError(t, st.Lock(ctx, "TX-1", "verified in field", "reviewer"))

	cur, err := st.Current(ctx, "TX-1")
	require.NoError(t, err)
	assert.True(t, cur.Locked)
	assert.Equal(t, "verified in field", cur.LockReason)
	assert.Equal(t, "reviewer", cur.LockedBy)
	assert.NotNil(t, cur.LockedAt)

	_, err = st.Put(ctx, testRecord("TX-1"), "enrichment")
	require.Error(t, err)
	assert.True(t, model.IsKind(err, model.KindLocked))

	// Human review bypasses the lock.
	saved, err := st.Put(ctx, testRecord("TX-1"), model.StageHumanReview)
	require.NoError(t, err)
	assert.Equal(t, 2, saved.Version)
}

func TestUnlockAllowsSupersede(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, err := st.Put(ctx, testRecord("TX-1"), "proximity")
	require.NoError(t, err)
	require.NoError(t, st.Lock(ctx, "TX-1", "hold", "reviewer"))
	require.NoError(t, st.Unlock(ctx, "TX-1"))

	cur, err := st.Current(ctx, "TX-1")
	require.NoError(t, err)
	assert.False(t, cur.Locked)
	assert.Empty(t, cur.LockReason)

	_, err = st.Put(ctx, testRecord("TX-1"), "enrichment")
	require.NoError(t, err)
}

func TestLockMissingTicket(t *testing.T) {
	st := newTestStore(t)
	err := st.Lock(context.Background(), "NOPE", "", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestMetadataRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	rec := testRecord("TX-1")
	rec.ValidationFlags = []string{"low_confidence"}
	rec.Metadata["confidence_adjustments"] = map[string]float64{"pipeline_proximity": 0.15}
	_, err := st.Put(ctx, rec, "proximity")
	require.NoError(t, err)

	cur, err := st.Current(ctx, "TX-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"low_confidence"}, cur.ValidationFlags)
	assert.Equal(t, 42.5, cur.Metadata["distance_m"])

	// Nested maps come back as map[string]any after the JSON round trip.
	adj, ok := cur.Metadata["confidence_adjustments"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 0.15, adj["pipeline_proximity"])
}

func TestQueryFilters(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	good := testRecord("TX-1")
	good.QualityTier = model.TierGood
	_, err := st.Put(ctx, good, "proximity")
	require.NoError(t, err)

	failed := testRecord("TX-2")
	failed.Latitude = nil
	failed.Longitude = nil
	failed.Confidence = nil
	failed.QualityTier = model.TierFailed
	failed.ReviewPriority = model.PriorityCritical
	failed.Method = ""
	_, err = st.Put(ctx, failed, "proximity")
	require.NoError(t, err)

	recs, err := st.Query(ctx, Filter{Tiers: []model.QualityTier{model.TierFailed}, CurrentOnly: true})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "TX-2", recs[0].TicketNumber)

	recs, err = st.Query(ctx, Filter{Priorities: []model.ReviewPriority{model.PriorityCritical}, CurrentOnly: true})
	require.NoError(t, err)
	require.Len(t, recs, 1)

	minConf := 0.80
	recs, err = st.Query(ctx, Filter{MinConfidence: &minConf, CurrentOnly: true})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "TX-1", recs[0].TicketNumber)

	recs, err = st.Query(ctx, Filter{GeocodeKey: good.GeocodeKey, CurrentOnly: true})
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestQueryCurrentOnlyExcludesSuperseded(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, err := st.Put(ctx, testRecord("TX-1"), "proximity")
	require.NoError(t, err)
	_, err = st.Put(ctx, testRecord("TX-1"), "validation")
	require.NoError(t, err)

	recs, err := st.Query(ctx, Filter{CurrentOnly: true})
	require.NoError(t, err)
	assert.Len(t, recs, 1)

	recs, err = st.Query(ctx, Filter{})
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestStatistics(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, err := st.Put(ctx, testRecord("TX-1"), "proximity")
	require.NoError(t, err)

	second := testRecord("TX-2")
	second.QualityTier = model.TierAcceptable
	second.ReviewPriority = model.PriorityLow
	_, err = st.Put(ctx, second, "proximity")
	require.NoError(t, err)
	require.NoError(t, st.Lock(ctx, "TX-2", "", "reviewer"))

	stats, err := st.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalRecords)
	assert.Equal(t, 1, stats.TierCounts[model.TierGood])
	assert.Equal(t, 1, stats.TierCounts[model.TierAcceptable])
	assert.Equal(t, 1, stats.LockedCount)
	assert.Equal(t, 2, stats.MethodCounts["proximity"])
}

func TestRunHistory(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	run := &PipelineRun{ID: "run_1", TotalTickets: 10, Succeeded: 8, Failed: 1, Skipped: 1}
	require.NoError(t, st.RecordRun(ctx, run))

	// Upsert on the same id updates the totals.
	run.Succeeded = 9
	run.Failed = 0
	require.NoError(t, st.RecordRun(ctx, run))

	runs, err := st.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, 9, runs[0].Succeeded)
	assert.Equal(t, 0, runs[0].Failed)
}

func TestKeyNormalization(t *testing.T) {
	a := Key("County Road 120", "FM 1788", "Midland", "Midland")
	b := Key("  county road 120 ", " fm 1788", "MIDLAND", "midland ")
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)

	c := Key("County Road 121", "FM 1788", "Midland", "Midland")
	assert.NotEqual(t, a, c)
}
