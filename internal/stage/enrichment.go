package stage

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/ticket-geocoder/internal/cache"
	"github.com/sells-group/ticket-geocoder/internal/corridor"
	"github.com/sells-group/ticket-geocoder/internal/model"
	"github.com/sells-group/ticket-geocoder/internal/reprocess"
)

// StageEnrichment is the stage id of the corridor/pipeline enrichment stage.
const StageEnrichment = "enrichment"

// Enrichment annotates geocoded records with corridor membership and
// pipeline proximity, applying the proximity confidence boost once.
type Enrichment struct {
	rules    reprocess.SkipRules
	store    cache.Store
	route    *corridor.RouteCorridorValidator
	pipeline *corridor.PipelineProximityAnalyzer
}

// NewEnrichment builds the enrichment stage. Either enricher may be nil.
func NewEnrichment(store cache.Store, route *corridor.RouteCorridorValidator, pipeline *corridor.PipelineProximityAnalyzer, rules reprocess.SkipRules) *Enrichment {
	return &Enrichment{rules: rules, store: store, route: route, pipeline: pipeline}
}

// DefaultEnrichmentRules skip locked and FAILED records; there is nothing
// to enrich without coordinates.
func DefaultEnrichmentRules() reprocess.SkipRules {
	rules := reprocess.DefaultSkipRules()
	rules.SkipIfLocked = true
	rules.SkipIfQuality = []model.QualityTier{model.TierFailed}
	return rules
}

// ID implements Processor.
func (s *Enrichment) ID() string { return StageEnrichment }

// SkipRules implements Processor.
func (s *Enrichment) SkipRules() reprocess.SkipRules { return s.rules }

// Process implements Processor.
func (s *Enrichment) Process(ctx context.Context, t *model.Ticket) (*model.GeocodeRecord, error) {
	cached, err := s.store.Current(ctx, t.TicketNumber)
	if err != nil {
		return nil, err
	}
	if cached == nil || !cached.HasCoordinates() {
		return nil, eris.Errorf("enrichment: no coordinates for ticket %s", t.TicketNumber)
	}

	rec := cloneForSupersede(cached)
	rec.SetMetadata("enriched_from_version", cached.Version)
	lat, lng := *rec.Latitude, *rec.Longitude

	if s.route != nil {
		within, distM := s.route.Check(lat, lng)
		rec.SetMetadata("corridor_within", within)
		rec.SetMetadata("corridor_distance_m", distM)
	}

	if s.pipeline != nil {
		if prox, ok := s.pipeline.Analyze(lat, lng); ok {
			rec.SetMetadata("pipeline_distance_m", prox.DistanceM)
			rec.SetMetadata("pipeline_within_boost_zone", prox.WithinBoostZone)
			if prox.WithinBoostZone && !boostAlreadyApplied(cached) {
				c := rec.ConfidenceValue() + prox.ConfidenceBoost
				if c > 1 {
					c = 1
				}
				rec.Confidence = model.Float64Ptr(c)
				rec.SetMetadata("pipeline_boost_applied", prox.ConfidenceBoost)
			}
		}
	}
	return rec, nil
}

// boostAlreadyApplied prevents the pipeline boost from compounding across
// repeated enrichment runs.
func boostAlreadyApplied(cached *model.GeocodeRecord) bool {
	if cached.Metadata == nil {
		return false
	}
	if _, ok := cached.Metadata["pipeline_boost_applied"]; ok {
		return true
	}
	// adjustments read back from the store arrive as map[string]any
	switch adj := cached.Metadata["confidence_adjustments"].(type) {
	case map[string]float64:
		_, applied := adj["pipeline_proximity"]
		return applied
	case map[string]any:
		_, applied := adj["pipeline_proximity"]
		return applied
	}
	return false
}
