package stage

import (
	"context"

	"github.com/sells-group/ticket-geocoder/internal/model"
	"github.com/sells-group/ticket-geocoder/internal/proximity"
	"github.com/sells-group/ticket-geocoder/internal/reprocess"
)

// StageProximity is the stage id of the road-network geocoding stage.
const StageProximity = "proximity"

// MethodProximity tags records produced from road-network geometry.
const MethodProximity = "proximity"

// Proximity geocodes tickets against the loaded road network.
type Proximity struct {
	rules    reprocess.SkipRules
	geocoder *proximity.Geocoder
}

// NewProximity builds the proximity stage.
func NewProximity(g *proximity.Geocoder, rules reprocess.SkipRules) *Proximity {
	return &Proximity{rules: rules, geocoder: g}
}

// ID implements Processor.
func (s *Proximity) ID() string { return StageProximity }

// SkipRules implements Processor.
func (s *Proximity) SkipRules() reprocess.SkipRules { return s.rules }

// Process implements Processor.
func (s *Proximity) Process(_ context.Context, t *model.Ticket) (*model.GeocodeRecord, error) {
	res, err := s.geocoder.Geocode(t)
	if err != nil {
		return nil, err
	}

	rec := NewRecord(t)
	rec.Latitude = model.Float64Ptr(res.Latitude)
	rec.Longitude = model.Float64Ptr(res.Longitude)
	rec.Confidence = model.Float64Ptr(res.Confidence)
	rec.Method = MethodProximity
	rec.Approach = res.Approach
	rec.Reasoning = res.Reasoning
	if res.DistanceM > 0 {
		rec.SetMetadata("distance_m", res.DistanceM)
	}
	if len(res.Adjustments) > 0 {
		rec.SetMetadata("confidence_adjustments", res.Adjustments)
	}
	return rec, nil
}
