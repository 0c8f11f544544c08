package stage

import (
	"context"
	"fmt"
	"strings"

	"github.com/sells-group/ticket-geocoder/internal/model"
	"github.com/sells-group/ticket-geocoder/internal/reprocess"
	"github.com/sells-group/ticket-geocoder/pkg/censusgeo"
)

// StageAPIFallback is the stage id of the external-geocoder fallback stage.
const StageAPIFallback = "api_fallback"

// MethodAPI tags records produced by the external geocoding API.
const MethodAPI = "census_api"

// APIConfidence is assigned to API matches; the Census one-line endpoint
// reports no graded confidence of its own.
const APIConfidence = 0.60

// APIFallback retries failed tickets against the Census geocoder. Skip
// rules normally restrict it to FAILED records.
type APIFallback struct {
	rules  reprocess.SkipRules
	client censusgeo.Client
	state  string
}

// NewAPIFallback builds the API fallback stage. state scopes the one-line
// query, typically "TX".
func NewAPIFallback(client censusgeo.Client, state string, rules reprocess.SkipRules) *APIFallback {
	return &APIFallback{rules: rules, client: client, state: state}
}

// DefaultAPIFallbackRules restrict the stage to records that every
// geometric strategy failed.
func DefaultAPIFallbackRules() reprocess.SkipRules {
	rules := reprocess.DefaultSkipRules()
	rules.SkipIfLocked = true
	rules.SkipIfQuality = []model.QualityTier{
		model.TierExcellent, model.TierGood, model.TierAcceptable, model.TierReviewNeeded,
	}
	return rules
}

// ID implements Processor.
func (s *APIFallback) ID() string { return StageAPIFallback }

// SkipRules implements Processor.
func (s *APIFallback) SkipRules() reprocess.SkipRules { return s.rules }

// Process implements Processor.
func (s *APIFallback) Process(ctx context.Context, t *model.Ticket) (*model.GeocodeRecord, error) {
	res, err := s.client.Geocode(ctx, censusgeo.AddressInput{
		Street: apiStreet(t),
		City:   t.City,
		State:  s.state,
	})
	if err != nil {
		return nil, err
	}
	if !res.Matched {
		return nil, model.NewStrategyExhausted(
			fmt.Sprintf("external geocoder found no match for %q in %q", t.Street, t.City))
	}

	rec := NewRecord(t)
	rec.Latitude = model.Float64Ptr(res.Latitude)
	rec.Longitude = model.Float64Ptr(res.Longitude)
	rec.Confidence = model.Float64Ptr(APIConfidence)
	rec.Method = MethodAPI
	rec.Reasoning = fmt.Sprintf("external geocoder matched %q", res.MatchedTo)
	return rec, nil
}

// apiStreet folds the two road fields into a one-line street query.
func apiStreet(t *model.Ticket) string {
	street := strings.TrimSpace(t.Street)
	inter := strings.TrimSpace(t.Intersection)
	switch {
	case street != "" && inter != "":
		return street + " & " + inter
	case street != "":
		return street
	default:
		return inter
	}
}
