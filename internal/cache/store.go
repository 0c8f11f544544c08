package cache

import (
	"context"
	"time"

	"github.com/sells-group/ticket-geocoder/internal/model"
)

// Filter specifies criteria for querying geocode records. Zero-valued
// fields are ignored; set fields are combined with AND.
type Filter struct {
	Tiers         []model.QualityTier    `json:"tiers,omitempty"`
	Priorities    []model.ReviewPriority `json:"priorities,omitempty"`
	Locked        *bool                  `json:"locked,omitempty"`
	Methods       []string               `json:"methods,omitempty"`
	MinConfidence *float64               `json:"min_confidence,omitempty"`
	GeocodeKey    string                 `json:"geocode_key,omitempty"`
	CurrentOnly   bool                   `json:"current_only,omitempty"`
	Limit         int                    `json:"limit,omitempty"`
	Offset        int                    `json:"offset,omitempty"`
}

// Statistics summarizes the current records in the store.
type Statistics struct {
	TotalRecords   int                            `json:"total_records"`
	TierCounts     map[model.QualityTier]int      `json:"tier_counts"`
	PriorityCounts map[model.ReviewPriority]int   `json:"priority_counts"`
	LockedCount    int                            `json:"locked_count"`
	MethodCounts   map[string]int                 `json:"method_counts"`
}

// PipelineRun is one row of batch-run history.
type PipelineRun struct {
	ID           string     `json:"id"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	TotalTickets int        `json:"total_tickets"`
	Succeeded    int        `json:"succeeded"`
	Failed       int        `json:"failed"`
	Skipped      int        `json:"skipped"`
	Summary      string     `json:"summary,omitempty"`
}

// Store is the persistence interface for versioned geocode records.
type Store interface {
	// Records
	Current(ctx context.Context, ticketNumber string) (*model.GeocodeRecord, error)
	History(ctx context.Context, ticketNumber string) ([]model.GeocodeRecord, error)
	Put(ctx context.Context, rec *model.GeocodeRecord, stageID string) (*model.GeocodeRecord, error)
	Lock(ctx context.Context, ticketNumber, reason, actor string) error
	Unlock(ctx context.Context, ticketNumber string) error
	Query(ctx context.Context, filter Filter) ([]model.GeocodeRecord, error)
	Statistics(ctx context.Context) (*Statistics, error)

	// Run history
	RecordRun(ctx context.Context, run *PipelineRun) error
	ListRuns(ctx context.Context, limit int) ([]PipelineRun, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// validateRecord enforces store invariants before any write.
func validateRecord(rec *model.GeocodeRecord) error {
	if rec.TicketNumber == "" {
		return model.NewStorageError("record missing ticket_number", nil)
	}
	if rec.Latitude != nil && (*rec.Latitude < -90 || *rec.Latitude > 90) {
		return model.NewStorageError("latitude out of bounds", nil)
	}
	if rec.Longitude != nil && (*rec.Longitude < -180 || *rec.Longitude > 180) {
		return model.NewStorageError("longitude out of bounds", nil)
	}
	if rec.Confidence != nil && (*rec.Confidence < 0 || *rec.Confidence > 1) {
		return model.NewStorageError("confidence out of bounds", nil)
	}
	return nil
}
