// Package anomaly collects diagnostics raised while computing KPIs so that
// they travel next to the figures instead of failing the computation.
package anomaly

import (
	"sort"
	"time"

	"github.com/savegress/shiftkpi/internal/assignment"
	"github.com/savegress/shiftkpi/internal/timeline"
	"github.com/savegress/shiftkpi/pkg/models"
)

// Reporter accumulates anomalies of one invocation. It is not safe for
// concurrent use; give each job its own reporter and Merge them.
type Reporter struct {
	r models.AnomalyReport
}

// NewReporter creates an empty reporter
func NewReporter() *Reporter {
	return &Reporter{r: models.AnomalyReport{Counts: make(map[models.AnomalyKind]int)}}
}

func (rp *Reporter) count(kind models.AnomalyKind, n int) {
	if n > 0 {
		rp.r.Counts[kind] += n
	}
}

// Orphan records an event that no shift window contains
func (rp *Reporter) Orphan(refs ...models.EventRef) {
	rp.r.Orphans = append(rp.r.Orphans, refs...)
	rp.count(models.AnomalyOrphan, len(refs))
}

// InvalidTimestamp records an event with a missing or unparseable timestamp
func (rp *Reporter) InvalidTimestamp(refs ...models.EventRef) {
	rp.r.InvalidTimestamps = append(rp.r.InvalidTimestamps, refs...)
	rp.count(models.AnomalyInvalidTimestamp, len(refs))
}

// Malformed records an event rejected by validation
func (rp *Reporter) Malformed(refs ...models.EventRef) {
	rp.r.MalformedEvents = append(rp.r.MalformedEvents, refs...)
	rp.count(models.AnomalyMalformedEvent, len(refs))
}

// InvalidShift records a shift with unusable bounds
func (rp *Reporter) InvalidShift(refs ...models.ShiftRef) {
	rp.r.InvalidShifts = append(rp.r.InvalidShifts, refs...)
	rp.count(models.AnomalyInvalidShift, len(refs))
}

// StaleShiftID records an explicit shift ID that was not trusted
func (rp *Reporter) StaleShiftID(refs ...models.EventRef) {
	rp.r.StaleShiftIDs = append(rp.r.StaleShiftIDs, refs...)
	rp.count(models.AnomalyStaleShiftID, len(refs))
}

// ZeroEventWindow records a window without any event for an asset
func (rp *Reporter) ZeroEventWindow(ref models.WindowRef) {
	rp.r.ZeroEventWindows = append(rp.r.ZeroEventWindows, ref)
	rp.count(models.AnomalyZeroEventWindow, 1)
}

// FactorClamped records an external factor outside [0,1]
func (rp *Reporter) FactorClamped(ref models.WindowRef) {
	rp.r.ClampedFactors = append(rp.r.ClampedFactors, ref)
	rp.count(models.AnomalyFactorClamped, 1)
}

// ComputationFailed records a computation that failed its contract checks
func (rp *Reporter) ComputationFailed(ref models.WindowRef) {
	rp.r.FailedComputations = append(rp.r.FailedComputations, ref)
	rp.count(models.AnomalyComputationFailed, 1)
}

// Assignment records the diagnostics of an assignment pass
func (rp *Reporter) Assignment(res assignment.Result) {
	rp.InvalidShift(res.InvalidShifts...)
	rp.Malformed(res.Malformed...)
	rp.InvalidTimestamp(res.InvalidTimestamps...)
	rp.Orphan(res.Orphans...)
	rp.StaleShiftID(res.StaleShiftIDs...)
}

// Timeline records the diagnostics of one reconstruction
func (rp *Reporter) Timeline(res timeline.Result, w models.WindowRef) {
	if res.ZeroEvents {
		w.Reason = "no events in window; RUNNING assumed"
		rp.ZeroEventWindow(w)
	}
	if res.InferredStart != nil {
		rp.r.InferredStarts = append(rp.r.InferredStarts, *res.InferredStart)
		rp.count(models.AnomalyInferredStart, 1)
	}
	rp.r.DroppedOutOfWindow = append(rp.r.DroppedOutOfWindow, res.Dropped...)
	rp.count(models.AnomalyOutOfWindow, len(res.Dropped))
	rp.r.ClippedMicroStops = append(rp.r.ClippedMicroStops, res.ClippedMicroStops...)
	rp.count(models.AnomalyMicroStopClipped, len(res.ClippedMicroStops))
	rp.r.InvalidMicroStops = append(rp.r.InvalidMicroStops, res.InvalidMicroStops...)
	rp.count(models.AnomalyMicroStopInvalid, len(res.InvalidMicroStops))
	rp.r.StateMismatches = append(rp.r.StateMismatches, res.StateMismatches...)
	rp.count(models.AnomalyStateMismatch, len(res.StateMismatches))
	rp.r.MissingNewStates = append(rp.r.MissingNewStates, res.MissingNewStates...)
	rp.count(models.AnomalyMissingNewState, len(res.MissingNewStates))
}

// Merge folds another reporter into rp
func (rp *Reporter) Merge(other *Reporter) {
	if other == nil {
		return
	}
	o := other.r
	rp.r.Orphans = append(rp.r.Orphans, o.Orphans...)
	rp.r.InvalidTimestamps = append(rp.r.InvalidTimestamps, o.InvalidTimestamps...)
	rp.r.MalformedEvents = append(rp.r.MalformedEvents, o.MalformedEvents...)
	rp.r.InvalidShifts = append(rp.r.InvalidShifts, o.InvalidShifts...)
	rp.r.InferredStarts = append(rp.r.InferredStarts, o.InferredStarts...)
	rp.r.ZeroEventWindows = append(rp.r.ZeroEventWindows, o.ZeroEventWindows...)
	rp.r.DroppedOutOfWindow = append(rp.r.DroppedOutOfWindow, o.DroppedOutOfWindow...)
	rp.r.ClippedMicroStops = append(rp.r.ClippedMicroStops, o.ClippedMicroStops...)
	rp.r.InvalidMicroStops = append(rp.r.InvalidMicroStops, o.InvalidMicroStops...)
	rp.r.StateMismatches = append(rp.r.StateMismatches, o.StateMismatches...)
	rp.r.MissingNewStates = append(rp.r.MissingNewStates, o.MissingNewStates...)
	rp.r.StaleShiftIDs = append(rp.r.StaleShiftIDs, o.StaleShiftIDs...)
	rp.r.ClampedFactors = append(rp.r.ClampedFactors, o.ClampedFactors...)
	rp.r.FailedComputations = append(rp.r.FailedComputations, o.FailedComputations...)
	for k, v := range o.Counts {
		rp.r.Counts[k] += v
	}
}

// Report returns a sorted copy of the collected anomalies
func (rp *Reporter) Report() models.AnomalyReport {
	out := models.AnomalyReport{Counts: make(map[models.AnomalyKind]int, len(rp.r.Counts))}
	for k, v := range rp.r.Counts {
		out.Counts[k] = v
	}
	out.Orphans = sortedEvents(rp.r.Orphans)
	out.InvalidTimestamps = sortedEvents(rp.r.InvalidTimestamps)
	out.MalformedEvents = sortedEvents(rp.r.MalformedEvents)
	out.DroppedOutOfWindow = sortedEvents(rp.r.DroppedOutOfWindow)
	out.ClippedMicroStops = sortedEvents(rp.r.ClippedMicroStops)
	out.InvalidMicroStops = sortedEvents(rp.r.InvalidMicroStops)
	out.StateMismatches = sortedEvents(rp.r.StateMismatches)
	out.MissingNewStates = sortedEvents(rp.r.MissingNewStates)
	out.StaleShiftIDs = sortedEvents(rp.r.StaleShiftIDs)
	out.ZeroEventWindows = sortedWindows(rp.r.ZeroEventWindows)
	out.ClampedFactors = sortedWindows(rp.r.ClampedFactors)
	out.FailedComputations = sortedWindows(rp.r.FailedComputations)

	out.InvalidShifts = append([]models.ShiftRef(nil), rp.r.InvalidShifts...)
	sort.SliceStable(out.InvalidShifts, func(i, j int) bool {
		return out.InvalidShifts[i].ShiftID < out.InvalidShifts[j].ShiftID
	})
	out.InferredStarts = append([]models.InferredStart(nil), rp.r.InferredStarts...)
	sort.SliceStable(out.InferredStarts, func(i, j int) bool {
		a, b := out.InferredStarts[i], out.InferredStarts[j]
		if a.AssetID != b.AssetID {
			return a.AssetID < b.AssetID
		}
		return a.Start.Before(b.Start)
	})
	return out
}

func sortedEvents(in []models.EventRef) []models.EventRef {
	if len(in) == 0 {
		return nil
	}
	out := append([]models.EventRef(nil), in...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.AssetID != b.AssetID {
			return a.AssetID < b.AssetID
		}
		if ta, tb := refTime(a), refTime(b); !ta.Equal(tb) {
			return ta.Before(tb)
		}
		return a.EventID < b.EventID
	})
	return out
}

func sortedWindows(in []models.WindowRef) []models.WindowRef {
	if len(in) == 0 {
		return nil
	}
	out := append([]models.WindowRef(nil), in...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.AssetID != b.AssetID {
			return a.AssetID < b.AssetID
		}
		if !a.Start.Equal(b.Start) {
			return a.Start.Before(b.Start)
		}
		return a.ShiftID < b.ShiftID
	})
	return out
}

func refTime(r models.EventRef) time.Time {
	if r.Timestamp == nil {
		return time.Time{}
	}
	return *r.Timestamp
}
