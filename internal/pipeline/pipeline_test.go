package pipeline

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/ticket-geocoder/internal/cache"
	"github.com/sells-group/ticket-geocoder/internal/model"
	"github.com/sells-group/ticket-geocoder/internal/proximity"
	"github.com/sells-group/ticket-geocoder/internal/quality"
	"github.com/sells-group/ticket-geocoder/internal/reprocess"
	"github.com/sells-group/ticket-geocoder/internal/roadnet"
	"github.com/sells-group/ticket-geocoder/internal/stage"
	"github.com/sells-group/ticket-geocoder/internal/validation"
)

func newStore(t *testing.T) *cache.SQLiteStore {
	t.Helper()
	st, err := cache.NewSQLite(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

// proximityRunner wires a real geocoder over a two-road network where
// CR 120 crosses FM 1788 at (-102.05, 32.0).
func proximityRunner(t *testing.T, st cache.Store) *stage.Runner {
	t.Helper()
	mk := func(raw string, coords []float64) *roadnet.RoadSegment {
		return &roadnet.RoadSegment{RawName: raw, Geometry: geom.NewLineStringFlat(geom.XY, coords)}
	}
	network := roadnet.NewNetwork([]*roadnet.RoadSegment{
		mk("CR 120", []float64{-102.1, 32.0, -102.0, 32.0}),
		mk("FM 1788", []float64{-102.05, 31.9, -102.05, 32.1}),
	})
	ref := roadnet.NewCityRef()
	ref.Add("Midland", "Midland", 32.0, -102.05)

	proc := stage.NewProximity(proximity.New(network, ref, nil), reprocess.DefaultSkipRules())
	engine, err := validation.NewEngine(validation.DefaultContext())
	require.NoError(t, err)
	return stage.NewRunner(proc, st, engine, quality.NewAssessor(nil), 2)
}

func ticket(number, street, intersection string) model.Ticket {
	return model.Ticket{
		TicketNumber: number,
		Street:       street,
		Intersection: intersection,
		City:         "Midland",
		County:       "Midland",
	}
}

func TestRunEndToEnd(t *testing.T) {
	st := newStore(t)
	p := New(Config{}, st, proximityRunner(t, st))

	tickets := []model.Ticket{
		ticket("TX-1", "CR 120", "FM 1788"),
		ticket("TX-2", "CR 998", "CR 999"), // fallback to city centroid
		{TicketNumber: ""},                 // rejected before any stage
	}
	outcome, err := p.Run(context.Background(), tickets)
	require.NoError(t, err)

	s := outcome.Summary
	assert.NotEmpty(t, s.PipelineID)
	assert.Equal(t, 3, s.TotalTickets)
	assert.Equal(t, 1, s.Rejected)
	assert.Equal(t, 1, s.TotalSucceeded)
	assert.Equal(t, 1, s.TotalFailed)
	require.Len(t, s.Stages, 1)
	assert.Equal(t, "proximity", s.Stages[0].StageName)

	require.Len(t, outcome.Results, 2)
	assert.Equal(t, 1, s.TierCounts[model.TierGood])
	assert.Equal(t, 1, s.TierCounts[model.TierFailed])

	// The fallback penalty pushes the centroid result below the floor, so it
	// lands in the review queue; the clean intersection does not.
	require.Len(t, outcome.ReviewQueue, 1)
	assert.Equal(t, "TX-2", outcome.ReviewQueue[0].TicketNumber)
	assert.Equal(t, model.ApproachCityCentroidFallback, outcome.ReviewQueue[0].Approach)

	runs, err := st.ListRuns(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, s.PipelineID, runs[0].ID)
	assert.Equal(t, 3, runs[0].TotalTickets)
	assert.Equal(t, 1, runs[0].Succeeded)
	assert.Equal(t, 1, runs[0].Failed)
}

func TestRunFailedTicketProducesRecord(t *testing.T) {
	st := newStore(t)
	p := New(Config{}, st, proximityRunner(t, st))

	tk := ticket("TX-1", "CR 998", "CR 999")
	tk.City = "Nowhere"
	outcome, err := p.Run(context.Background(), []model.Ticket{tk})
	require.NoError(t, err)

	assert.Equal(t, 1, outcome.Summary.TotalFailed)
	require.Len(t, outcome.Results, 1)
	assert.Equal(t, model.TierFailed, outcome.Results[0].QualityTier)
	assert.NotEmpty(t, outcome.Results[0].ErrorMessage)

	require.Len(t, outcome.ReviewQueue, 1)
	assert.Equal(t, model.PriorityCritical, outcome.ReviewQueue[0].ReviewPriority)
}

func TestRunSecondPassSkips(t *testing.T) {
	st := newStore(t)
	p := New(Config{}, st, proximityRunner(t, st))
	tickets := []model.Ticket{ticket("TX-1", "CR 120", "FM 1788")}

	_, err := p.Run(context.Background(), tickets)
	require.NoError(t, err)

	outcome, err := p.Run(context.Background(), tickets)
	require.NoError(t, err)
	assert.Equal(t, 1, outcome.Summary.TotalSkipped)
	assert.Zero(t, outcome.Summary.TotalSucceeded)

	history, err := st.History(context.Background(), "TX-1")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestReviewQueueOrdering(t *testing.T) {
	records := []model.GeocodeRecord{
		{TicketNumber: "low", ReviewPriority: model.PriorityLow, Confidence: model.Float64Ptr(0.70)},
		{TicketNumber: "none", ReviewPriority: model.PriorityNone},
		{TicketNumber: "crit", ReviewPriority: model.PriorityCritical},
		{TicketNumber: "high-b", ReviewPriority: model.PriorityHigh, Confidence: model.Float64Ptr(0.60)},
		{TicketNumber: "high-a", ReviewPriority: model.PriorityHigh, Confidence: model.Float64Ptr(0.40)},
	}

	queue := ReviewQueue(records)
	require.Len(t, queue, 4)
	assert.Equal(t, "crit", queue[0].TicketNumber)
	assert.Equal(t, "high-a", queue[1].TicketNumber)
	assert.Equal(t, "high-b", queue[2].TicketNumber)
	assert.Equal(t, "low", queue[3].TicketNumber)
}

func TestExportWritesAllArtifacts(t *testing.T) {
	dir := t.TempDir()
	rec := model.GeocodeRecord{
		TicketNumber:   "TX-1",
		Version:        1,
		Latitude:       model.Float64Ptr(32.0),
		Longitude:      model.Float64Ptr(-102.05),
		Confidence:     model.Float64Ptr(0.85),
		QualityTier:    model.TierGood,
		ReviewPriority: model.PriorityNone,
		Method:         "proximity",
		Metadata:       map[string]any{"distance_m": 42.5},
	}
	outcome := &Outcome{
		Summary: &Summary{PipelineID: "run_test", TotalTickets: 1},
		Results: []model.GeocodeRecord{rec},
	}

	require.NoError(t, Export(dir, outcome))

	for _, name := range []string{
		"run_test_results.csv",
		"run_test_results.xlsx",
		"run_test_review_queue.csv",
		"run_test_summary.json",
	} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, name)
	}

	f, err := os.Open(filepath.Join(dir, "run_test_results.csv"))
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)

	wantHeader := append(append([]string{}, ResultColumns...), "distance_m")
	assert.Equal(t, wantHeader, rows[0])
	assert.Equal(t, "TX-1", rows[1][0])
	assert.Equal(t, "1", rows[1][1])
	assert.Equal(t, "32", rows[1][2])
	assert.Equal(t, "GOOD", rows[1][5])
	assert.Equal(t, "42.5", rows[1][len(rows[1])-1])
}

func TestMetadataColumnsSortedUnion(t *testing.T) {
	records := []model.GeocodeRecord{
		{Metadata: map[string]any{"b_key": 1, "a_key": 2}},
		{Metadata: map[string]any{"c_key": 3, "a_key": 4}},
	}
	assert.Equal(t, []string{"a_key", "b_key", "c_key"}, metadataColumns(records))
}

func TestMetaCellRendering(t *testing.T) {
	assert.Equal(t, "", metaCell(nil))
	assert.Equal(t, "plain", metaCell("plain"))
	assert.Equal(t, "true", metaCell(true))
	assert.Equal(t, "42.5", metaCell(42.5))
	assert.Equal(t, "7", metaCell(7))
	assert.Equal(t, `{"x":1}`, metaCell(map[string]int{"x": 1}))
}

func TestWriteSummaryJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "summary.json")
	require.NoError(t, WriteSummaryJSON(path, &Summary{PipelineID: "run_x", TotalTickets: 4}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"pipeline_id": "run_x"`)
}
