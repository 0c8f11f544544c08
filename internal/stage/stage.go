// Package stage provides the per-ticket lifecycle shared by every pipeline
// stage: consult the cache, apply skip rules, process, validate, assess,
// and write the new version.
package stage

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/ticket-geocoder/internal/cache"
	"github.com/sells-group/ticket-geocoder/internal/model"
	"github.com/sells-group/ticket-geocoder/internal/quality"
	"github.com/sells-group/ticket-geocoder/internal/reprocess"
	"github.com/sells-group/ticket-geocoder/internal/validation"
)

// Processor is what a concrete stage supplies to the framework.
type Processor interface {
	ID() string
	SkipRules() reprocess.SkipRules
	Process(ctx context.Context, t *model.Ticket) (*model.GeocodeRecord, error)
}

// Stats aggregates a stage's counters for one batch. Skipped tickets are
// not counted in Processed.
type Stats struct {
	StageName   string  `json:"stage_name"`
	Processed   int     `json:"processed"`
	Succeeded   int     `json:"succeeded"`
	Failed      int     `json:"failed"`
	Skipped     int     `json:"skipped"`
	Degraded    int     `json:"degraded"`
	Improved    int     `json:"improved"`
	TotalTimeMs float64 `json:"total_time_ms"`
	AvgTimeMs   float64 `json:"avg_time_ms"`
}

// finish computes the derived average once counting is done.
func (s *Stats) finish() {
	if s.Processed > 0 {
		s.AvgTimeMs = s.TotalTimeMs / float64(s.Processed)
	}
}

// Runner drives the lifecycle for one stage over a batch. Per-ticket
// processing errors become FAILED records; only storage and configuration
// errors propagate.
type Runner struct {
	proc     Processor
	store    cache.Store
	engine   *validation.Engine
	assessor *quality.Assessor
	workers  int
	log      *zap.Logger

	mu    sync.Mutex
	stats Stats
}

// NewRunner wires a Processor into the framework. workers <= 1 runs the
// batch sequentially.
func NewRunner(proc Processor, store cache.Store, engine *validation.Engine, assessor *quality.Assessor, workers int) *Runner {
	if workers < 1 {
		workers = 1
	}
	return &Runner{
		proc:     proc,
		store:    store,
		engine:   engine,
		assessor: assessor,
		workers:  workers,
		log:      zap.L().With(zap.String("component", "stage"), zap.String("stage", proc.ID())),
	}
}

// Run feeds every ticket through the stage lifecycle and returns the
// stage's statistics. The first framework-level error aborts the batch.
func (r *Runner) Run(ctx context.Context, tickets []model.Ticket) (*Stats, error) {
	r.mu.Lock()
	r.stats = Stats{StageName: r.proc.ID()}
	r.mu.Unlock()

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for i := range tickets {
		t := tickets[i]
		g.Go(func() error {
			return r.runTicket(gCtx, &t)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats.finish()
	stats := r.stats
	r.log.Info("stage complete",
		zap.Int("processed", stats.Processed),
		zap.Int("succeeded", stats.Succeeded),
		zap.Int("failed", stats.Failed),
		zap.Int("skipped", stats.Skipped),
		zap.Int("degraded", stats.Degraded))
	return &stats, nil
}

func (r *Runner) runTicket(ctx context.Context, t *model.Ticket) error {
	cached, err := r.store.Current(ctx, t.TicketNumber)
	if err != nil {
		return err
	}

	if skip, reason := reprocess.Decide(cached, r.proc.ID(), r.proc.SkipRules()); skip {
		r.count(func(s *Stats) { s.Skipped++ })
		r.log.Debug("ticket skipped",
			zap.String("ticket", t.TicketNumber), zap.String("reason", reason))
		return nil
	}

	start := time.Now()
	rec, procErr := r.proc.Process(ctx, t)
	elapsedMs := float64(time.Since(start).Microseconds()) / 1000.0

	if procErr != nil {
		if model.IsKind(procErr, model.KindStorage) || model.IsKind(procErr, model.KindConfiguration) {
			return procErr
		}
		rec = FailedRecord(t, procErr)
	}
	rec.ProcessingTimeMs = elapsedMs

	results := r.engine.Validate(rec)
	rec.ValidationFlags = validation.Flags(results)

	tier := r.assessor.Assess(rec)

	if _, err := r.store.Put(ctx, rec, r.proc.ID()); err != nil {
		if model.IsKind(err, model.KindLocked) {
			r.count(func(s *Stats) { s.Skipped++ })
			r.log.Debug("ticket locked, put refused", zap.String("ticket", t.TicketNumber))
			return nil
		}
		return err
	}

	r.count(func(s *Stats) {
		s.Processed++
		s.TotalTimeMs += elapsedMs
		if tier == model.TierFailed {
			s.Failed++
		} else {
			s.Succeeded++
		}
		if cached != nil {
			switch {
			case tier.Rank() < cached.QualityTier.Rank():
				s.Degraded++
			case tier.Rank() > cached.QualityTier.Rank():
				s.Improved++
			}
		}
	})
	return nil
}

func (r *Runner) count(fn func(*Stats)) {
	r.mu.Lock()
	fn(&r.stats)
	r.mu.Unlock()
}

// NewRecord seeds a record with the ticket's input snapshot and geocode key.
func NewRecord(t *model.Ticket) *model.GeocodeRecord {
	return &model.GeocodeRecord{
		TicketNumber: t.TicketNumber,
		GeocodeKey:   cache.Key(t.Street, t.Intersection, t.City, t.County),
		Street:       t.Street,
		Intersection: t.Intersection,
		City:         t.City,
		County:       t.County,
		TicketType:   t.TicketType,
		Duration:     t.Duration,
		WorkType:     t.WorkType,
		Excavator:    t.Excavator,
	}
}

// FailedRecord synthesizes the record written when process errors.
func FailedRecord(t *model.Ticket, procErr error) *model.GeocodeRecord {
	rec := NewRecord(t)
	rec.ErrorMessage = procErr.Error()
	return rec
}
