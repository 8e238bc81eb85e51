// Package service hosts the KPI engine: it loads inputs from the store,
// fans per-asset jobs out to the worker pool, caches and publishes
// completed shift reports and applies reviewed repairs.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/savegress/shiftkpi/internal/cache"
	"github.com/savegress/shiftkpi/internal/engine"
	"github.com/savegress/shiftkpi/internal/logging"
	"github.com/savegress/shiftkpi/internal/metrics"
	"github.com/savegress/shiftkpi/internal/publisher"
	"github.com/savegress/shiftkpi/internal/shifts"
	"github.com/savegress/shiftkpi/internal/store"
	"github.com/savegress/shiftkpi/pkg/models"
	"github.com/savegress/shiftkpi/pkg/workerpool"
)

var ErrMissingActor = errors.New("an actor is required to apply corrections")

// Deps are the collaborators of a Service. Cache, Publisher, Metrics and
// Logger may be nil.
type Deps struct {
	Engine        *engine.Engine
	Store         store.Store
	Pool          *workerpool.WorkerPool
	Cache         *cache.Cache
	Publisher     publisher.Publisher
	Metrics       *metrics.Metrics
	Logger        logging.Logger
	RepairOffsets []time.Duration
}

// Service coordinates KPI computations
type Service struct {
	engine        *engine.Engine
	store         store.Store
	pool          *workerpool.WorkerPool
	cache         *cache.Cache
	publisher     publisher.Publisher
	metrics       *metrics.Metrics
	logger        logging.Logger
	repairOffsets []time.Duration
}

// New creates a service
func New(d Deps) *Service {
	s := &Service{
		engine:        d.Engine,
		store:         d.Store,
		pool:          d.Pool,
		cache:         d.Cache,
		publisher:     d.Publisher,
		metrics:       d.Metrics,
		logger:        d.Logger,
		repairOffsets: d.RepairOffsets,
	}
	if s.cache == nil {
		s.cache = cache.Disabled()
	}
	if s.publisher == nil {
		s.publisher = publisher.Nop{}
	}
	if s.metrics == nil {
		s.metrics = metrics.New()
	}
	if s.logger == nil {
		s.logger = logging.NewNop()
	}
	return s
}

// IncludeIntervals is the configured default for attaching intervals to
// asset reports.
func (s *Service) IncludeIntervals() bool {
	return s.engine.Config().IncludeIntervals
}

// Execute runs every job of a plan on the worker pool and assembles the
// report. A job that fails its contract checks is listed in the report's
// failures; the remaining assets are still reported.
func (s *Service) Execute(ctx context.Context, plan *engine.Plan) (*models.Report, error) {
	results := make([]engine.JobResult, len(plan.Jobs))
	batch := s.pool.NewBatch(ctx)
	for i, job := range plan.Jobs {
		if _, err := batch.Go(func() error {
			r, err := s.engine.Run(job)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		}); err != nil {
			break
		}
	}
	errs := batch.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ok := make([]engine.JobResult, 0, len(plan.Jobs))
	var failures []models.Failure
	for i, job := range plan.Jobs {
		if i >= len(errs) {
			return nil, fmt.Errorf("submit job for asset %s: %w", job.Asset.ID, workerpool.ErrPoolClosed)
		}
		err := errs[i]
		if err == nil {
			ok = append(ok, results[i])
			continue
		}
		if errors.Is(err, workerpool.ErrPoolClosed) {
			return nil, err
		}
		s.logger.Error("KPI computation failed",
			"asset_id", job.Asset.ID,
			"shift_id", job.Window.ShiftID,
			"error", err,
		)
		failures = append(failures, models.Failure{
			AssetID: job.Asset.ID,
			ShiftID: job.Window.ShiftID,
			Error:   err.Error(),
		})
	}

	report := s.engine.Assemble(plan, ok, failures)
	report.ID = uuid.NewString()
	return report, nil
}

// ComputeShift computes a shift report from caller-supplied input without
// touching the store.
func (s *Service) ComputeShift(ctx context.Context, in engine.Input, shiftID string, intervals bool) (*models.Report, error) {
	start := time.Now()
	plan, err := s.engine.PlanShift(in, shiftID)
	if err != nil {
		return nil, err
	}
	report, err := s.Execute(ctx, plan.WithIntervals(intervals))
	if err != nil {
		return nil, err
	}
	s.observe(report, "request", start)
	return report, nil
}

// ComputeWindow computes a window report from caller-supplied input
func (s *Service) ComputeWindow(ctx context.Context, in engine.Input, from, to time.Time, intervals bool) (*models.Report, error) {
	start := time.Now()
	plan, err := s.engine.PlanWindow(in, from, to)
	if err != nil {
		return nil, err
	}
	report, err := s.Execute(ctx, plan.WithIntervals(intervals))
	if err != nil {
		return nil, err
	}
	s.observe(report, "request", start)
	return report, nil
}

// ShiftReport computes the report of a stored shift as seen at now.
// Reports of shifts that ended before now do not depend on now; they are
// cached and published.
func (s *Service) ShiftReport(ctx context.Context, shiftID string, now time.Time, intervals bool) (*models.Report, error) {
	start := time.Now()

	shift, err := s.store.GetShift(ctx, shiftID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", engine.ErrShiftNotFound, shiftID)
	}
	if err != nil {
		return nil, err
	}

	final := shift.EndTime != nil && !now.Before(*shift.EndTime)
	if final && s.cache.IsEnabled() {
		cached, hit, err := s.cache.GetReport(ctx, shiftID, intervals)
		switch {
		case err != nil:
			s.metrics.CacheResult("error")
			s.logger.Warn("report cache read failed", "shift_id", shiftID, "error", err)
		case hit:
			s.metrics.CacheResult("hit")
			s.observe(cached, "cache", start)
			return cached, nil
		default:
			s.metrics.CacheResult("miss")
		}
	}

	w := shifts.WindowOf(shift, now)
	in, err := s.loadInput(ctx, w.Start, w.EffectiveEnd, now)
	if err != nil {
		return nil, err
	}

	plan, err := s.engine.PlanShift(in, shiftID)
	if err != nil {
		return nil, err
	}
	report, err := s.Execute(ctx, plan.WithIntervals(intervals))
	if err != nil {
		return nil, err
	}
	s.observe(report, "store", start)

	if final && len(report.Failures) == 0 {
		if err := s.cache.SetReport(ctx, report, intervals); err != nil {
			s.logger.Warn("report cache write failed", "shift_id", shiftID, "error", err)
		}
		if err := s.publisher.Publish(ctx, report); err != nil {
			s.logger.Error("report publish failed", "shift_id", shiftID, "report_id", report.ID, "error", err)
		}
	}
	return report, nil
}

// WindowReport computes the report of [from, min(to, now)) from the store
func (s *Service) WindowReport(ctx context.Context, from, to, now time.Time, intervals bool) (*models.Report, error) {
	start := time.Now()
	if !to.After(from) {
		return nil, engine.ErrInvalidWindow
	}

	w := shifts.Range(from, to, now)
	in, err := s.loadInput(ctx, w.Start, w.EffectiveEnd, now)
	if err != nil {
		return nil, err
	}

	plan, err := s.engine.PlanWindow(in, from, to)
	if err != nil {
		return nil, err
	}
	report, err := s.Execute(ctx, plan.WithIntervals(intervals))
	if err != nil {
		return nil, err
	}
	s.observe(report, "store", start)
	return report, nil
}

func (s *Service) loadInput(ctx context.Context, from, to, now time.Time) (engine.Input, error) {
	shiftList, err := s.store.ListShifts(ctx, from, to)
	if err != nil {
		return engine.Input{}, fmt.Errorf("load shifts: %w", err)
	}
	events, err := s.store.ListEvents(ctx, store.EventQuery{From: from, To: to, IncludeUntimed: true})
	if err != nil {
		return engine.Input{}, fmt.Errorf("load events: %w", err)
	}
	assets, err := s.store.ListAssets(ctx)
	if err != nil {
		return engine.Input{}, fmt.Errorf("load assets: %w", err)
	}
	return engine.Input{Events: events, Shifts: shiftList, Assets: assets, Now: now}, nil
}

func (s *Service) observe(report *models.Report, source string, start time.Time) {
	s.metrics.ObserveReport(report.Scope.Kind, source, time.Since(start), report.Anomalies, len(report.Failures))
	s.logger.Debug("report produced",
		"report_id", report.ID,
		"scope", report.Scope.Kind,
		"shift_id", report.Scope.ShiftID,
		"source", source,
		"assets", len(report.Assets),
		"anomalies", report.Anomalies.Total(),
	)
}

// SaveAssets stores assets and invalidates cached reports
func (s *Service) SaveAssets(ctx context.Context, assets []models.Asset) error {
	if err := s.store.SaveAssets(ctx, assets); err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

// ListAssets returns every stored asset
func (s *Service) ListAssets(ctx context.Context) ([]models.Asset, error) {
	return s.store.ListAssets(ctx)
}

// SaveShifts stores shifts and invalidates cached reports
func (s *Service) SaveShifts(ctx context.Context, shiftList []models.Shift) error {
	if err := s.store.SaveShifts(ctx, shiftList); err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

// SaveEvents stores events as received, including events with unusable
// timestamps, and invalidates cached reports.
func (s *Service) SaveEvents(ctx context.Context, events []models.Event) ([]models.Event, error) {
	saved, err := s.store.SaveEvents(ctx, events)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx)
	return saved, nil
}

func (s *Service) invalidate(ctx context.Context) {
	if err := s.cache.Invalidate(ctx); err != nil {
		s.logger.Warn("report cache invalidation failed", "error", err)
	}
}
