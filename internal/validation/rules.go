// Package validation runs independent quality rules over geocode records
// and collects the triggered flags.
package validation

import (
	"fmt"

	"github.com/sells-group/ticket-geocoder/internal/geomutil"
	"github.com/sells-group/ticket-geocoder/internal/model"
)

// Severity levels for triggered rules.
type Severity string

const (
	SeverityInfo    Severity = "INFO"
	SeverityWarning Severity = "WARNING"
	SeverityError   Severity = "ERROR"
)

func (s Severity) rank() int {
	switch s {
	case SeverityError:
		return 2
	case SeverityWarning:
		return 1
	default:
		return 0
	}
}

// Result describes one triggered rule.
type Result struct {
	Flag     string   `json:"flag"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	Action   string   `json:"action"`
}

// Flag names produced by the required rules.
const (
	FlagLowConfidence          = "low_confidence"
	FlagEmergencyLowConfidence = "emergency_low_confidence"
	FlagCityDistance           = "city_distance"
	FlagFallbackGeocode        = "fallback_geocode"
	FlagMissingRoad            = "missing_road"
	FlagOutOfCorridor          = "out_of_corridor"
	FlagPipelineMismatch       = "pipeline_mismatch"
	FlagValidatorError         = "validator_error"
)

// CityRefFunc resolves a (city, county) pair to a reference point.
type CityRefFunc func(city, county string) (lat, lng float64, ok bool)

// CorridorChecker tests a point against the configured route corridor.
type CorridorChecker interface {
	Check(lat, lng float64) (within bool, distanceM float64)
}

// PipelineDistancer measures distance from a point to the known pipeline.
// ok is false when no pipeline geometry is loaded.
type PipelineDistancer interface {
	Distance(lat, lng float64) (distanceM float64, ok bool)
}

// Context carries the batch-level collaborators and thresholds rules may
// consult. Corridor and Pipeline are nil when not configured; their rules
// then never fire.
type Context struct {
	CityRef              CityRefFunc
	Corridor             CorridorChecker
	Pipeline             PipelineDistancer
	LowConfidence        float64
	EmergencyConfidence  float64
	MaxCityDistanceKm    float64
	PipelineMaxDistanceM float64
}

// DefaultContext returns a Context with the standard thresholds and no
// spatial collaborators.
func DefaultContext() Context {
	return Context{
		LowConfidence:        0.65,
		EmergencyConfidence:  0.75,
		MaxCityDistanceKm:    50,
		PipelineMaxDistanceM: 500,
	}
}

// Rule is a pure check over a record. A nil Result means not triggered.
type Rule func(rec *model.GeocodeRecord, vctx *Context) (*Result, error)

func lowConfidenceRule(rec *model.GeocodeRecord, vctx *Context) (*Result, error) {
	if rec.Confidence == nil || *rec.Confidence >= vctx.LowConfidence {
		return nil, nil
	}
	return &Result{
		Flag:     FlagLowConfidence,
		Severity: SeverityWarning,
		Message:  fmt.Sprintf("confidence %.0f%% is below threshold %.0f%%", *rec.Confidence*100, vctx.LowConfidence*100),
		Action:   "review location accuracy or try an alternative geocoding method",
	}, nil
}

func emergencyLowConfidenceRule(rec *model.GeocodeRecord, vctx *Context) (*Result, error) {
	if rec.TicketType != "Emergency" || rec.Confidence == nil || *rec.Confidence >= vctx.EmergencyConfidence {
		return nil, nil
	}
	return &Result{
		Flag:     FlagEmergencyLowConfidence,
		Severity: SeverityError,
		Message:  fmt.Sprintf("emergency ticket has %.0f%% confidence (below %.0f%%)", *rec.Confidence*100, vctx.EmergencyConfidence*100),
		Action:   "high priority review, emergency response location must be accurate",
	}, nil
}

func cityDistanceRule(rec *model.GeocodeRecord, vctx *Context) (*Result, error) {
	if !rec.HasCoordinates() || rec.City == "" || rec.County == "" || vctx.CityRef == nil {
		return nil, nil
	}
	cityLat, cityLng, ok := vctx.CityRef(rec.City, rec.County)
	if !ok {
		return nil, nil
	}
	distKm := geomutil.Haversine(*rec.Latitude, *rec.Longitude, cityLat, cityLng) / 1000
	if distKm <= vctx.MaxCityDistanceKm {
		return nil, nil
	}
	return &Result{
		Flag:     FlagCityDistance,
		Severity: SeverityWarning,
		Message:  fmt.Sprintf("location %.1fkm from %s center (max %.0fkm)", distKm, rec.City, vctx.MaxCityDistanceKm),
		Action:   "verify the location is correct for this city",
	}, nil
}

func fallbackGeocodeRule(rec *model.GeocodeRecord, _ *Context) (*Result, error) {
	if rec.Approach != model.ApproachCityCentroidFallback {
		return nil, nil
	}
	return &Result{
		Flag:     FlagFallbackGeocode,
		Severity: SeverityError,
		Message:  "both roads missing from network, used city centroid approximation",
		Action:   "locate the actual work area, a city centroid is very approximate",
	}, nil
}

func missingRoadRule(rec *model.GeocodeRecord, _ *Context) (*Result, error) {
	if rec.Approach != model.ApproachCityPrimary {
		return nil, nil
	}
	return &Result{
		Flag:     FlagMissingRoad,
		Severity: SeverityWarning,
		Message:  "one road not found in network, used city plus the available road",
		Action:   "finding the missing road would give a more precise location",
	}, nil
}

func outOfCorridorRule(rec *model.GeocodeRecord, vctx *Context) (*Result, error) {
	if vctx.Corridor == nil || !rec.HasCoordinates() {
		return nil, nil
	}
	within, distM := vctx.Corridor.Check(*rec.Latitude, *rec.Longitude)
	if within {
		return nil, nil
	}
	return &Result{
		Flag:     FlagOutOfCorridor,
		Severity: SeverityWarning,
		Message:  fmt.Sprintf("location %.0fm outside the route corridor", distM),
		Action:   "confirm the ticket belongs to this route",
	}, nil
}

func pipelineMismatchRule(rec *model.GeocodeRecord, vctx *Context) (*Result, error) {
	if vctx.Pipeline == nil || !rec.HasCoordinates() {
		return nil, nil
	}
	distM, ok := vctx.Pipeline.Distance(*rec.Latitude, *rec.Longitude)
	if !ok || distM <= vctx.PipelineMaxDistanceM {
		return nil, nil
	}
	return &Result{
		Flag:     FlagPipelineMismatch,
		Severity: SeverityWarning,
		Message:  fmt.Sprintf("location %.0fm from the known pipeline (max %.0fm)", distM, vctx.PipelineMaxDistanceM),
		Action:   "check whether the work site really sits on the pipeline",
	}, nil
}

// registry maps rule names to implementations. Rules are independent, so
// registration order only affects result ordering, never the flag set.
var registry = map[string]Rule{
	FlagLowConfidence:          lowConfidenceRule,
	FlagEmergencyLowConfidence: emergencyLowConfidenceRule,
	FlagCityDistance:           cityDistanceRule,
	FlagFallbackGeocode:        fallbackGeocodeRule,
	FlagMissingRoad:            missingRoadRule,
	FlagOutOfCorridor:          outOfCorridorRule,
	FlagPipelineMismatch:       pipelineMismatchRule,
}

// DefaultRuleNames is the standard rule set in deterministic order.
var DefaultRuleNames = []string{
	FlagLowConfidence,
	FlagEmergencyLowConfidence,
	FlagCityDistance,
	FlagFallbackGeocode,
	FlagMissingRoad,
	FlagOutOfCorridor,
	FlagPipelineMismatch,
}
