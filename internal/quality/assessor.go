// Package quality assigns quality tiers and review priorities to geocode
// records from effective confidence, approach, and ticket context.
package quality

import (
	"github.com/sells-group/ticket-geocoder/internal/model"
)

// Tier thresholds on effective confidence.
const (
	ThresholdExcellent    = 0.90
	ThresholdGood         = 0.80
	ThresholdAcceptable   = 0.65
	ThresholdReviewNeeded = 0.40
)

// FallbackPenalty is subtracted from confidence before tier assignment when
// the city-centroid fallback produced the coordinates.
const FallbackPenalty = 0.10

// EmergencyConfidenceFloor is the confidence below which emergency tickets
// escalate to HIGH priority.
const EmergencyConfidenceFloor = 0.75

// Assessor computes tiers and priorities. MethodPenalties maps a method
// name to an additional confidence deduction; empty by default.
type Assessor struct {
	MethodPenalties map[string]float64
}

// NewAssessor returns an Assessor with the given per-method penalties.
func NewAssessor(methodPenalties map[string]float64) *Assessor {
	return &Assessor{MethodPenalties: methodPenalties}
}

// EffectiveConfidence applies the fallback and method penalties, floored
// at zero.
func (a *Assessor) EffectiveConfidence(confidence float64, method, approach string) float64 {
	c := confidence
	if approach == model.ApproachCityCentroidFallback {
		c -= FallbackPenalty
	}
	if a.MethodPenalties != nil {
		c -= a.MethodPenalties[method]
	}
	if c < 0 {
		c = 0
	}
	return c
}

// Tier maps a record to its quality tier. A record with no coordinates or
// no confidence is FAILED regardless of anything else.
func (a *Assessor) Tier(rec *model.GeocodeRecord) model.QualityTier {
	if !rec.HasCoordinates() || rec.Confidence == nil {
		return model.TierFailed
	}
	c := a.EffectiveConfidence(*rec.Confidence, rec.Method, rec.Approach)
	switch {
	case c >= ThresholdExcellent:
		return model.TierExcellent
	case c >= ThresholdGood:
		return model.TierGood
	case c >= ThresholdAcceptable:
		return model.TierAcceptable
	case c >= ThresholdReviewNeeded:
		return model.TierReviewNeeded
	default:
		return model.TierFailed
	}
}

// Priority evaluates the review priority rules top to bottom; the first
// match wins.
func (a *Assessor) Priority(rec *model.GeocodeRecord, tier model.QualityTier) model.ReviewPriority {
	switch {
	case !rec.HasCoordinates() || tier == model.TierFailed:
		return model.PriorityCritical
	case rec.Approach == model.ApproachCityCentroidFallback:
		return model.PriorityHigh
	case rec.TicketType == "Emergency" && rec.ConfidenceValue() < EmergencyConfidenceFloor:
		return model.PriorityHigh
	case len(rec.ValidationFlags) > 0 && tier == model.TierReviewNeeded:
		return model.PriorityMedium
	case len(rec.ValidationFlags) > 0 && tier == model.TierAcceptable:
		return model.PriorityLow
	default:
		return model.PriorityNone
	}
}

// Assess sets QualityTier and ReviewPriority on the record in place and
// returns the assigned tier.
func (a *Assessor) Assess(rec *model.GeocodeRecord) model.QualityTier {
	tier := a.Tier(rec)
	rec.QualityTier = tier
	rec.ReviewPriority = a.Priority(rec, tier)
	return tier
}

// Summary returns a short human-readable description of a tier.
func Summary(tier model.QualityTier) string {
	switch tier {
	case model.TierExcellent:
		return "High confidence, no review needed"
	case model.TierGood:
		return "Reliable, reprocess only with major improvements"
	case model.TierAcceptable:
		return "Usable, reprocess with any improvement"
	case model.TierReviewNeeded:
		return "Low confidence, human review recommended"
	case model.TierFailed:
		return "Geocoding failed, manual intervention required"
	default:
		return "Unknown quality tier"
	}
}
