// Package engine orchestrates shift resolution, event assignment, timeline
// reconstruction and KPI aggregation. The engine is pure: it never reads the
// wall clock, performs no I/O and starts no goroutines, so independent
// invocations may run concurrently.
package engine

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/savegress/shiftkpi/internal/anomaly"
	"github.com/savegress/shiftkpi/internal/assignment"
	"github.com/savegress/shiftkpi/internal/kpi"
	"github.com/savegress/shiftkpi/internal/oee"
	"github.com/savegress/shiftkpi/internal/shifts"
	"github.com/savegress/shiftkpi/internal/timeline"
	"github.com/savegress/shiftkpi/pkg/models"
)

var (
	ErrMissingNow       = errors.New("evaluation instant (now) is required")
	ErrShiftNotFound    = errors.New("shift not found")
	ErrInvalidShift     = errors.New("invalid shift")
	ErrWindowNotStarted = errors.New("window has not started at the evaluation instant")
	ErrInvalidWindow    = errors.New("window end must be after its start")
)

// Config holds engine settings
type Config struct {
	DefaultMicrostopThreshold time.Duration
	Targets                   oee.Targets
	IncludeIntervals          bool
}

// Engine computes KPI reports from plain event and shift records
type Engine struct {
	config Config
}

// New creates an engine
func New(cfg Config) *Engine {
	if cfg.DefaultMicrostopThreshold <= 0 {
		cfg.DefaultMicrostopThreshold = models.DefaultMicrostopThreshold
	}
	cfg.Targets = cfg.Targets.WithDefaults()
	return &Engine{config: cfg}
}

// Config returns the effective engine configuration
func (e *Engine) Config() Config {
	return e.config
}

// Input is everything one computation needs
type Input struct {
	Events  []models.Event            `json:"events"`
	Shifts  []models.Shift            `json:"shifts"`
	Assets  []models.Asset            `json:"assets"`
	Factors map[string]models.Factors `json:"factors,omitempty"`
	Now     time.Time                 `json:"now"`
}

// Job is one independent (asset, window) computation
type Job struct {
	Asset            models.Asset
	Window           shifts.Window
	Events           []models.Event
	Factors          models.Factors
	IncludeIntervals bool
}

// JobResult is the outcome of Run
type JobResult struct {
	Asset       models.AssetReport
	Partial     kpi.Partial
	Reliability kpi.ReliabilityResult
	OEE         models.OEE
	Anomalies   *anomaly.Reporter
}

// Plan is a set of jobs sharing a scope
type Plan struct {
	Scope     models.ReportScope
	Now       time.Time
	Jobs      []Job
	Anomalies *anomaly.Reporter
}

// WithIntervals sets whether the job reports carry their intervals
func (p *Plan) WithIntervals(include bool) *Plan {
	for i := range p.Jobs {
		p.Jobs[i].IncludeIntervals = include
	}
	return p
}

// PlanShift assigns the input events to shifts and prepares one job per
// asset for the requested shift.
func (e *Engine) PlanShift(in Input, shiftID string) (*Plan, error) {
	if in.Now.IsZero() {
		return nil, ErrMissingNow
	}
	shift, ok := findShift(in.Shifts, shiftID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrShiftNotFound, shiftID)
	}
	if err := shift.Validate(); err != nil {
		return nil, fmt.Errorf("%w %s: %v", ErrInvalidShift, shiftID, err)
	}
	w := shifts.WindowOf(shift, in.Now)
	if !w.Started() {
		return nil, fmt.Errorf("%w: shift %s starts at %s", ErrWindowNotStarted, shiftID, shift.StartTime.Format(time.RFC3339))
	}

	assigned := assignment.Assign(in.Events, in.Shifts, in.Now)
	rep := anomaly.NewReporter()
	rep.Assignment(assigned)

	plan := &Plan{
		Scope:     scopeOf(models.ScopeShift, w),
		Now:       in.Now,
		Anomalies: rep,
	}
	byAsset := assigned.ForShift(shift.ID)
	for _, asset := range e.assetsFor(in.Assets, byAsset) {
		plan.Jobs = append(plan.Jobs, Job{
			Asset:            asset,
			Window:           w,
			Events:           byAsset[asset.ID],
			Factors:          in.Factors[asset.ID],
			IncludeIntervals: e.config.IncludeIntervals,
		})
	}
	return plan, nil
}

// PlanWindow prepares one job per asset for the arbitrary window
// [from, min(to, now)). Events are selected by timestamp; shift
// assignment does not apply.
func (e *Engine) PlanWindow(in Input, from, to time.Time) (*Plan, error) {
	if in.Now.IsZero() {
		return nil, ErrMissingNow
	}
	if !to.After(from) {
		return nil, ErrInvalidWindow
	}
	w := shifts.Range(from, to, in.Now)
	if !w.Started() {
		return nil, fmt.Errorf("%w: window starts at %s", ErrWindowNotStarted, from.Format(time.RFC3339))
	}

	rep := anomaly.NewReporter()
	byAsset := make(map[string][]models.Event)
	for _, ev := range in.Events {
		if err := ev.Validate(); err != nil {
			ref := ev.Ref()
			ref.Detail = err.Error()
			rep.Malformed(ref)
			continue
		}
		if !ev.HasTimestamp() {
			ref := ev.Ref()
			ref.Detail = "missing or unparseable timestamp"
			rep.InvalidTimestamp(ref)
			rep.Orphan(ref)
			continue
		}
		if w.Contains(ev.At()) {
			byAsset[ev.AssetID] = append(byAsset[ev.AssetID], ev)
		}
	}

	plan := &Plan{
		Scope:     scopeOf(models.ScopeWindow, w),
		Now:       in.Now,
		Anomalies: rep,
	}
	for _, asset := range e.assetsFor(in.Assets, byAsset) {
		plan.Jobs = append(plan.Jobs, Job{
			Asset:            asset,
			Window:           w,
			Events:           byAsset[asset.ID],
			Factors:          in.Factors[asset.ID],
			IncludeIntervals: e.config.IncludeIntervals,
		})
	}
	return plan, nil
}

// Run computes the KPI of a single job. A returned error is a contract
// violation of the timeline and must not be ignored.
func (e *Engine) Run(job Job) (JobResult, error) {
	threshold := job.Asset.Threshold(e.config.DefaultMicrostopThreshold)

	tl, err := timeline.Reconstruct(job.Asset.ID, job.Window, job.Events)
	if err != nil {
		return JobResult{}, fmt.Errorf("asset %s window %s: %w", job.Asset.ID, job.Window.ShiftID, err)
	}

	ref := models.WindowRef{
		AssetID: job.Asset.ID,
		ShiftID: job.Window.ShiftID,
		Start:   job.Window.Start,
		End:     job.Window.EffectiveEnd,
	}
	rep := anomaly.NewReporter()
	rep.Timeline(tl, ref)

	partial := kpi.Aggregate(tl.Intervals, threshold, job.Window.Duration())
	rel := kpi.Reliability(tl.Intervals, threshold)
	o := oee.Calculate(partial.Availability(), job.Factors.Performance, job.Factors.Quality, e.config.Targets)
	if len(o.Clamped) > 0 {
		clamped := ref
		clamped.Reason = "clamped to [0,1]: " + strings.Join(o.Clamped, ", ")
		rep.FactorClamped(clamped)
	}

	report := models.AssetReport{
		AssetID:            job.Asset.ID,
		MicrostopThreshold: threshold.Seconds(),
		EventCount:         tl.EventCount,
		KPI:                buildKPI(partial, rel, o.Block, tl.ZeroEvents),
	}
	if job.IncludeIntervals {
		report.Intervals = tl.Intervals
	}

	return JobResult{
		Asset:       report,
		Partial:     partial,
		Reliability: rel,
		OEE:         o.Block,
		Anomalies:   rep,
	}, nil
}

// Assemble builds the report of a plan from its job results. Failed jobs
// are listed in the report and recorded as anomalies.
func (e *Engine) Assemble(plan *Plan, results []JobResult, failures []models.Failure) *models.Report {
	rep := anomaly.NewReporter()
	rep.Merge(plan.Anomalies)
	for _, r := range results {
		rep.Merge(r.Anomalies)
	}
	for _, f := range failures {
		rep.ComputationFailed(models.WindowRef{
			AssetID: f.AssetID,
			ShiftID: f.ShiftID,
			Start:   plan.Scope.Start,
			End:     plan.Scope.EffectiveEnd,
			Reason:  f.Error,
		})
	}

	sorted := append([]JobResult(nil), results...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Asset.AssetID < sorted[j].Asset.AssetID
	})
	assets := make([]models.AssetReport, 0, len(sorted))
	for _, r := range sorted {
		assets = append(assets, r.Asset)
	}

	fails := append([]models.Failure(nil), failures...)
	sort.SliceStable(fails, func(i, j int) bool { return fails[i].AssetID < fails[j].AssetID })

	return &models.Report{
		Scope:       plan.Scope,
		GeneratedAt: plan.Now,
		Assets:      assets,
		Summary:     rollup(sorted, plan.Scope, e.config.Targets),
		Anomalies:   rep.Report(),
		Failures:    fails,
	}
}

// Execute runs every job of a plan sequentially and fails on the first
// contract violation.
func (e *Engine) Execute(plan *Plan) (*models.Report, error) {
	results := make([]JobResult, 0, len(plan.Jobs))
	for _, job := range plan.Jobs {
		r, err := e.Run(job)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return e.Assemble(plan, results, nil), nil
}

// ComputeShift computes the report of one shift
func (e *Engine) ComputeShift(in Input, shiftID string) (*models.Report, error) {
	plan, err := e.PlanShift(in, shiftID)
	if err != nil {
		return nil, err
	}
	return e.Execute(plan)
}

// ComputeWindow computes the report of an arbitrary window
func (e *Engine) ComputeWindow(in Input, from, to time.Time) (*models.Report, error) {
	plan, err := e.PlanWindow(in, from, to)
	if err != nil {
		return nil, err
	}
	return e.Execute(plan)
}

// ComputeAllShifts computes one report per valid, started shift ordered by
// start time. Invalid shifts only appear as anomalies.
func (e *Engine) ComputeAllShifts(in Input) ([]*models.Report, error) {
	if in.Now.IsZero() {
		return nil, ErrMissingNow
	}
	ordered := append([]models.Shift(nil), in.Shifts...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].StartTime.Before(ordered[j].StartTime)
	})

	var reports []*models.Report
	for _, s := range ordered {
		if s.Validate() != nil || !shifts.WindowOf(s, in.Now).Started() {
			continue
		}
		r, err := e.ComputeShift(in, s.ID)
		if err != nil {
			return nil, err
		}
		reports = append(reports, r)
	}
	return reports, nil
}

func findShift(list []models.Shift, id string) (models.Shift, bool) {
	for _, s := range list {
		if s.ID == id {
			return s, true
		}
	}
	return models.Shift{}, false
}

// assetsFor returns the known assets plus any asset seen only in events,
// ordered by ID.
func (e *Engine) assetsFor(known []models.Asset, events map[string][]models.Event) []models.Asset {
	seen := make(map[string]bool, len(known))
	out := make([]models.Asset, 0, len(known)+len(events))
	for _, a := range known {
		if a.ID == "" || seen[a.ID] {
			continue
		}
		seen[a.ID] = true
		out = append(out, a)
	}
	for id := range events {
		if !seen[id] {
			seen[id] = true
			out = append(out, models.Asset{ID: id})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func scopeOf(kind models.ScopeKind, w shifts.Window) models.ReportScope {
	scope := models.ReportScope{
		Kind:         kind,
		ShiftID:      w.ShiftID,
		Start:        w.Start,
		EffectiveEnd: w.EffectiveEnd,
		Open:         w.Open,
	}
	if w.End != nil {
		scope.End = *w.End
	}
	return scope
}
