// Package pipeline orchestrates the geocoding stages over a ticket batch
// and emits results, the review queue, and the run summary.
package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/ticket-geocoder/internal/cache"
	"github.com/sells-group/ticket-geocoder/internal/model"
	"github.com/sells-group/ticket-geocoder/internal/stage"
)

// Config is the orchestrator's configuration.
type Config struct {
	FailFast         bool   `mapstructure:"fail_fast"`
	SaveIntermediate bool   `mapstructure:"save_intermediate"`
	OutputDir        string `mapstructure:"output_dir"`
}

// Summary is the batch-level report.
type Summary struct {
	PipelineID     string                       `json:"pipeline_id"`
	TotalTickets   int                          `json:"total_tickets"`
	Rejected       int                          `json:"rejected"`
	TotalSucceeded int                          `json:"total_succeeded"`
	TotalFailed    int                          `json:"total_failed"`
	TotalSkipped   int                          `json:"total_skipped"`
	TotalTimeMs    float64                      `json:"total_time_ms"`
	Stages         []stage.Stats                `json:"stages"`
	TierCounts     map[model.QualityTier]int    `json:"tier_counts"`
	PriorityCounts map[model.ReviewPriority]int `json:"priority_counts"`
}

// Outcome bundles everything a batch run produces.
type Outcome struct {
	Summary     *Summary
	Results     []model.GeocodeRecord
	ReviewQueue []model.GeocodeRecord
}

// Pipeline runs an ordered list of stages, stage-major: every ticket moves
// through stage k before stage k+1 observes any of its writes.
type Pipeline struct {
	cfg     Config
	store   cache.Store
	runners []*stage.Runner
	log     *zap.Logger
}

// New builds a Pipeline from ordered stage runners.
func New(cfg Config, store cache.Store, runners ...*stage.Runner) *Pipeline {
	return &Pipeline{
		cfg:     cfg,
		store:   store,
		runners: runners,
		log:     zap.L().With(zap.String("component", "pipeline")),
	}
}

// newRunID derives a batch id from the wall clock plus a short random
// suffix to disambiguate runs started in the same second.
func newRunID(now time.Time) string {
	return fmt.Sprintf("run_%s_%s", now.Format("20060102_150405"), uuid.NewString()[:8])
}

// Run executes the batch. A framework error with FailFast set aborts the
// remaining stages; the outcome is still assembled from whatever the cache
// holds so the review queue is always available.
func (p *Pipeline) Run(ctx context.Context, tickets []model.Ticket) (*Outcome, error) {
	start := time.Now()
	runID := newRunID(start)
	log := p.log.With(zap.String("run_id", runID))
	log.Info("batch starting", zap.Int("tickets", len(tickets)), zap.Int("stages", len(p.runners)))

	valid, rejected := partitionValid(tickets, log)

	summary := &Summary{
		PipelineID:   runID,
		TotalTickets: len(tickets),
		Rejected:     rejected,
	}

	var runErr error
	for _, runner := range p.runners {
		stats, err := runner.Run(ctx, valid)
		if err != nil {
			log.Error("stage reported framework error", zap.Error(err))
			runErr = err
			if p.cfg.FailFast {
				break
			}
			continue
		}
		summary.Stages = append(summary.Stages, *stats)
		summary.TotalSucceeded += stats.Succeeded
		summary.TotalFailed += stats.Failed
		summary.TotalSkipped += stats.Skipped

		if p.cfg.SaveIntermediate && p.cfg.OutputDir != "" {
			snapshot, snapErr := p.collectResults(ctx, valid)
			if snapErr != nil {
				log.Warn("intermediate snapshot failed", zap.Error(snapErr))
				continue
			}
			path := filepath.Join(p.cfg.OutputDir, fmt.Sprintf("%s_%s_results.csv", runID, stats.StageName))
			if wErr := WriteResultsCSV(path, snapshot); wErr != nil {
				log.Warn("intermediate export failed", zap.Error(wErr))
			}
		}
	}

	results, err := p.collectResults(ctx, valid)
	if err != nil && runErr == nil {
		runErr = err
	}
	summary.TotalTimeMs = float64(time.Since(start).Microseconds()) / 1000.0
	summary.TierCounts, summary.PriorityCounts = tallyRecords(results)

	outcome := &Outcome{
		Summary:     summary,
		Results:     results,
		ReviewQueue: ReviewQueue(results),
	}

	p.recordRun(ctx, runID, start, summary, log)

	log.Info("batch complete",
		zap.Int("succeeded", summary.TotalSucceeded),
		zap.Int("failed", summary.TotalFailed),
		zap.Int("skipped", summary.TotalSkipped),
		zap.Int("review_queue", len(outcome.ReviewQueue)),
		zap.Float64("total_time_ms", summary.TotalTimeMs))
	return outcome, runErr
}

// partitionValid drops tickets that fail input validation. Rejected tickets
// never reach a stage and leave no cache record.
func partitionValid(tickets []model.Ticket, log *zap.Logger) ([]model.Ticket, int) {
	valid := make([]model.Ticket, 0, len(tickets))
	rejected := 0
	for _, t := range tickets {
		if err := t.Validate(); err != nil {
			rejected++
			log.Warn("ticket rejected", zap.Error(err))
			continue
		}
		valid = append(valid, t)
	}
	return valid, rejected
}

// collectResults reads the current record for every ticket, in batch order.
func (p *Pipeline) collectResults(ctx context.Context, tickets []model.Ticket) ([]model.GeocodeRecord, error) {
	results := make([]model.GeocodeRecord, 0, len(tickets))
	for i := range tickets {
		rec, err := p.store.Current(ctx, tickets[i].TicketNumber)
		if err != nil {
			return results, err
		}
		if rec != nil {
			results = append(results, *rec)
		}
	}
	return results, nil
}

// ReviewQueue filters records needing review and orders them by descending
// priority, then ascending confidence.
func ReviewQueue(results []model.GeocodeRecord) []model.GeocodeRecord {
	var queue []model.GeocodeRecord
	for _, rec := range results {
		if rec.ReviewPriority != model.PriorityNone && rec.ReviewPriority != "" {
			queue = append(queue, rec)
		}
	}
	sort.SliceStable(queue, func(i, j int) bool {
		pi, pj := queue[i].ReviewPriority.Rank(), queue[j].ReviewPriority.Rank()
		if pi != pj {
			return pi > pj
		}
		return queue[i].ConfidenceValue() < queue[j].ConfidenceValue()
	})
	return queue
}

func tallyRecords(results []model.GeocodeRecord) (map[model.QualityTier]int, map[model.ReviewPriority]int) {
	tiers := map[model.QualityTier]int{}
	priorities := map[model.ReviewPriority]int{}
	for _, rec := range results {
		tiers[rec.QualityTier]++
		priorities[rec.ReviewPriority]++
	}
	return tiers, priorities
}

// recordRun persists the run history row; failures are logged, not fatal.
func (p *Pipeline) recordRun(ctx context.Context, runID string, started time.Time, summary *Summary, log *zap.Logger) {
	finished := time.Now()
	run := &cache.PipelineRun{
		ID:           runID,
		StartedAt:    started,
		FinishedAt:   &finished,
		TotalTickets: summary.TotalTickets,
		Succeeded:    summary.TotalSucceeded,
		Failed:       summary.TotalFailed,
		Skipped:      summary.TotalSkipped,
		Summary:      summaryJSON(summary),
	}
	if err := p.store.RecordRun(ctx, run); err != nil {
		log.Warn("failed to record run history", zap.Error(err))
	}
}
