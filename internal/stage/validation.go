package stage

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/ticket-geocoder/internal/cache"
	"github.com/sells-group/ticket-geocoder/internal/model"
	"github.com/sells-group/ticket-geocoder/internal/reprocess"
)

// StageValidation is the stage id of the revalidation stage.
const StageValidation = "validation"

// Revalidate writes a fresh version of the current record so the rule set
// configured for this stage re-evaluates coordinates produced earlier in
// the pipeline.
type Revalidate struct {
	rules reprocess.SkipRules
	store cache.Store
}

// NewRevalidate builds the validation stage.
func NewRevalidate(store cache.Store, rules reprocess.SkipRules) *Revalidate {
	return &Revalidate{rules: rules, store: store}
}

// ID implements Processor.
func (s *Revalidate) ID() string { return StageValidation }

// SkipRules implements Processor.
func (s *Revalidate) SkipRules() reprocess.SkipRules { return s.rules }

// Process implements Processor.
func (s *Revalidate) Process(ctx context.Context, t *model.Ticket) (*model.GeocodeRecord, error) {
	cached, err := s.store.Current(ctx, t.TicketNumber)
	if err != nil {
		return nil, err
	}
	if cached == nil {
		return nil, eris.Errorf("validation: no prior geocode for ticket %s", t.TicketNumber)
	}

	rec := cloneForSupersede(cached)
	rec.SetMetadata("revalidated_from_version", cached.Version)
	return rec, nil
}

// cloneForSupersede copies the result fields of a record into a fresh one,
// dropping version bookkeeping and prior flags so the lifecycle reassesses
// from scratch.
func cloneForSupersede(cached *model.GeocodeRecord) *model.GeocodeRecord {
	rec := &model.GeocodeRecord{
		TicketNumber: cached.TicketNumber,
		GeocodeKey:   cached.GeocodeKey,
		Street:       cached.Street,
		Intersection: cached.Intersection,
		City:         cached.City,
		County:       cached.County,
		TicketType:   cached.TicketType,
		Duration:     cached.Duration,
		WorkType:     cached.WorkType,
		Excavator:    cached.Excavator,
		Method:       cached.Method,
		Approach:     cached.Approach,
		Reasoning:    cached.Reasoning,
		ErrorMessage: cached.ErrorMessage,
	}
	if cached.Latitude != nil {
		rec.Latitude = model.Float64Ptr(*cached.Latitude)
	}
	if cached.Longitude != nil {
		rec.Longitude = model.Float64Ptr(*cached.Longitude)
	}
	if cached.Confidence != nil {
		rec.Confidence = model.Float64Ptr(*cached.Confidence)
	}
	for k, v := range cached.Metadata {
		rec.SetMetadata(k, v)
	}
	return rec
}
