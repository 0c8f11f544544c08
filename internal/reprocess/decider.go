// Package reprocess decides whether a stage should skip a ticket based on
// its cached record and the stage's skip rules.
package reprocess

import (
	"fmt"

	"github.com/sells-group/ticket-geocoder/internal/model"
)

// SkipRules are per-stage criteria evaluated against the cached current
// record. Any matching rule causes a skip.
type SkipRules struct {
	SkipIfLocked     bool                `yaml:"skip_if_locked" mapstructure:"skip_if_locked"`
	SkipIfQuality    []model.QualityTier `yaml:"skip_if_quality" mapstructure:"skip_if_quality"`
	SkipIfConfidence *float64            `yaml:"skip_if_confidence" mapstructure:"skip_if_confidence"`
	SkipIfMethod     []string            `yaml:"skip_if_method" mapstructure:"skip_if_method"`

	// SkipSameStage prevents a stage from looping on its own output. A
	// failed prior attempt is still retried. Defaults to true; see
	// DefaultSkipRules.
	SkipSameStage *bool `yaml:"skip_same_stage" mapstructure:"skip_same_stage"`
}

// DefaultSkipRules returns rules with only the same-stage guard enabled.
func DefaultSkipRules() SkipRules {
	t := true
	return SkipRules{SkipSameStage: &t}
}

func (r SkipRules) skipSameStage() bool {
	if r.SkipSameStage == nil {
		return true
	}
	return *r.SkipSameStage
}

// Decide returns whether the incoming stage should skip this ticket and a
// human-readable reason. A missing cached record never skips.
func Decide(cached *model.GeocodeRecord, incomingStageID string, rules SkipRules) (bool, string) {
	if cached == nil {
		return false, "no prior record"
	}

	if rules.SkipIfLocked && cached.Locked {
		return true, "locked"
	}

	for _, tier := range rules.SkipIfQuality {
		if cached.QualityTier == tier {
			return true, fmt.Sprintf("quality tier %s in skip set", cached.QualityTier)
		}
	}

	if rules.SkipIfConfidence != nil && cached.Confidence != nil &&
		*cached.Confidence >= *rules.SkipIfConfidence {
		return true, fmt.Sprintf("confidence %.2f at or above %.2f", *cached.Confidence, *rules.SkipIfConfidence)
	}

	for _, method := range rules.SkipIfMethod {
		if cached.Method == method {
			return true, fmt.Sprintf("method %s in skip set", cached.Method)
		}
	}

	if rules.skipSameStage() &&
		cached.CreatedByStage == incomingStageID &&
		cached.QualityTier != model.TierFailed {
		return true, fmt.Sprintf("already processed by %s", incomingStageID)
	}

	return false, "no skip rule matched"
}
