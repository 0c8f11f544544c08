package corridor

import (
	"github.com/twpayne/go-geom"

	"github.com/sells-group/ticket-geocoder/internal/geomutil"
)

// Pipeline proximity defaults.
const (
	DefaultBoostRadiusM = 500.0
	BoostAmount         = 0.15
)

// Proximity describes a point's relationship to the pipeline alignment.
type Proximity struct {
	DistanceM       float64 `json:"distance_m"`
	WithinBoostZone bool    `json:"within_boost_zone"`
	ConfidenceBoost float64 `json:"confidence_boost"`
}

// PipelineProximityAnalyzer measures distance to the pipeline alignment and
// awards the confidence boost inside the configured radius.
type PipelineProximityAnalyzer struct {
	lines   []*geom.LineString
	radiusM float64
}

// NewPipelineProximityAnalyzer wraps a pipeline geometry. A non-positive
// radiusM falls back to DefaultBoostRadiusM.
func NewPipelineProximityAnalyzer(lines []*geom.LineString, radiusM float64) *PipelineProximityAnalyzer {
	if radiusM <= 0 {
		radiusM = DefaultBoostRadiusM
	}
	return &PipelineProximityAnalyzer{lines: lines, radiusM: radiusM}
}

// RadiusM returns the configured boost radius in meters.
func (a *PipelineProximityAnalyzer) RadiusM() float64 { return a.radiusM }

// Analyze measures the point against the pipeline. ok is false when no
// pipeline geometry is loaded.
func (a *PipelineProximityAnalyzer) Analyze(lat, lng float64) (Proximity, bool) {
	if len(a.lines) == 0 {
		return Proximity{}, false
	}
	_, distM, ok := geomutil.NearestPointOnLines(a.lines, lat, lng)
	if !ok {
		return Proximity{}, false
	}
	p := Proximity{DistanceM: distM}
	if distM <= a.radiusM {
		p.WithinBoostZone = true
		p.ConfidenceBoost = BoostAmount
	}
	return p, true
}

// Boost returns the confidence boost for a point, and whether the point is
// inside the boost zone.
func (a *PipelineProximityAnalyzer) Boost(lat, lng float64) (boost float64, within bool) {
	p, ok := a.Analyze(lat, lng)
	if !ok || !p.WithinBoostZone {
		return 0, false
	}
	return p.ConfidenceBoost, true
}

// Distance returns the distance in meters from the point to the pipeline.
// ok is false when no pipeline geometry is loaded.
func (a *PipelineProximityAnalyzer) Distance(lat, lng float64) (distanceM float64, ok bool) {
	p, found := a.Analyze(lat, lng)
	if !found {
		return 0, false
	}
	return p.DistanceM, true
}
