package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/ticket-geocoder/internal/model"
)

type fixedCorridor struct {
	within bool
	distM  float64
}

func (f fixedCorridor) Check(lat, lng float64) (bool, float64) { return f.within, f.distM }

type fixedPipeline struct {
	distM float64
	ok    bool
}

func (f fixedPipeline) Distance(lat, lng float64) (float64, bool) { return f.distM, f.ok }

func placed(conf float64) *model.GeocodeRecord {
	return &model.GeocodeRecord{
		TicketNumber: "TX-1",
		City:         "Midland",
		County:       "Midland",
		Latitude:     model.Float64Ptr(31.9973),
		Longitude:    model.Float64Ptr(-102.0779),
		Confidence:   model.Float64Ptr(conf),
	}
}

func TestNewEngineUnknownRule(t *testing.T) {
	_, err := NewEngine(DefaultContext(), "no_such_rule")
	require.Error(t, err)
	assert.True(t, model.IsKind(err, model.KindConfiguration))
}

func TestNewEngineDefaultsToAllRules(t *testing.T) {
	e, err := NewEngine(DefaultContext())
	require.NoError(t, err)
	assert.Len(t, e.rules, len(DefaultRuleNames))
}

func TestLowConfidenceRule(t *testing.T) {
	e, err := NewEngine(DefaultContext(), FlagLowConfidence)
	require.NoError(t, err)

	results := e.Validate(placed(0.50))
	require.Len(t, results, 1)
	assert.Equal(t, FlagLowConfidence, results[0].Flag)
	assert.Equal(t, SeverityWarning, results[0].Severity)

	assert.Empty(t, e.Validate(placed(0.65)))
}

func TestEmergencyLowConfidenceRule(t *testing.T) {
	e, err := NewEngine(DefaultContext(), FlagEmergencyLowConfidence)
	require.NoError(t, err)

	rec := placed(0.70)
	rec.TicketType = "Emergency"
	results := e.Validate(rec)
	require.Len(t, results, 1)
	assert.Equal(t, SeverityError, results[0].Severity)

	rec.TicketType = "Normal"
	assert.Empty(t, e.Validate(rec))
}

func TestCityDistanceRule(t *testing.T) {
	vctx := DefaultContext()
	vctx.CityRef = func(city, county string) (float64, float64, bool) {
		return 31.9973, -102.0779, true
	}
	e, err := NewEngine(vctx, FlagCityDistance)
	require.NoError(t, err)

	near := placed(0.80)
	assert.Empty(t, e.Validate(near))

	// Odessa-to-Dallas scale displacement, far over 50km.
	far := placed(0.80)
	far.Latitude = model.Float64Ptr(32.7767)
	far.Longitude = model.Float64Ptr(-96.7970)
	results := e.Validate(far)
	require.Len(t, results, 1)
	assert.Equal(t, FlagCityDistance, results[0].Flag)
}

func TestCityDistanceRuleSkipsUnknownCity(t *testing.T) {
	vctx := DefaultContext()
	vctx.CityRef = func(city, county string) (float64, float64, bool) { return 0, 0, false }
	e, err := NewEngine(vctx, FlagCityDistance)
	require.NoError(t, err)

	assert.Empty(t, e.Validate(placed(0.80)))
}

func TestFallbackAndMissingRoadRules(t *testing.T) {
	e, err := NewEngine(DefaultContext(), FlagFallbackGeocode, FlagMissingRoad)
	require.NoError(t, err)

	rec := placed(0.80)
	rec.Approach = model.ApproachCityCentroidFallback
	results := e.Validate(rec)
	require.Len(t, results, 1)
	assert.Equal(t, FlagFallbackGeocode, results[0].Flag)

	rec.Approach = model.ApproachCityPrimary
	results = e.Validate(rec)
	require.Len(t, results, 1)
	assert.Equal(t, FlagMissingRoad, results[0].Flag)

	rec.Approach = model.ApproachClosestPoint
	assert.Empty(t, e.Validate(rec))
}

func TestOutOfCorridorRule(t *testing.T) {
	vctx := DefaultContext()
	vctx.Corridor = fixedCorridor{within: false, distM: 1200}
	e, err := NewEngine(vctx, FlagOutOfCorridor)
	require.NoError(t, err)

	results := e.Validate(placed(0.80))
	require.Len(t, results, 1)
	assert.Equal(t, FlagOutOfCorridor, results[0].Flag)

	vctx.Corridor = fixedCorridor{within: true}
	e, err = NewEngine(vctx, FlagOutOfCorridor)
	require.NoError(t, err)
	assert.Empty(t, e.Validate(placed(0.80)))
}

func TestPipelineMismatchRule(t *testing.T) {
	vctx := DefaultContext()
	vctx.Pipeline = fixedPipeline{distM: 900, ok: true}
	e, err := NewEngine(vctx, FlagPipelineMismatch)
	require.NoError(t, err)

	results := e.Validate(placed(0.80))
	require.Len(t, results, 1)
	assert.Equal(t, FlagPipelineMismatch, results[0].Flag)

	vctx.Pipeline = fixedPipeline{distM: 100, ok: true}
	e, err = NewEngine(vctx, FlagPipelineMismatch)
	require.NoError(t, err)
	assert.Empty(t, e.Validate(placed(0.80)))
}

func TestSpatialRulesNeverFireWithoutCollaborators(t *testing.T) {
	e, err := NewEngine(DefaultContext(), FlagOutOfCorridor, FlagPipelineMismatch, FlagCityDistance)
	require.NoError(t, err)
	assert.Empty(t, e.Validate(placed(0.80)))
}

func TestFlagsAndMaxSeverity(t *testing.T) {
	results := []Result{
		{Flag: FlagLowConfidence, Severity: SeverityWarning},
		{Flag: FlagEmergencyLowConfidence, Severity: SeverityError},
	}
	assert.Equal(t, []string{FlagLowConfidence, FlagEmergencyLowConfidence}, Flags(results))
	assert.Equal(t, SeverityError, MaxSeverity(results))
	assert.Equal(t, SeverityInfo, MaxSeverity(nil))
}
