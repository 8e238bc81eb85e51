// Package timeline rebuilds a gap-free state timeline of an asset from its
// sparse event stream.
package timeline

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/savegress/shiftkpi/internal/shifts"
	"github.com/savegress/shiftkpi/pkg/models"
)

// ErrContractViolation is returned when the reconstructed sequence does not
// exactly cover its window. It indicates a logic error, never bad input.
var ErrContractViolation = errors.New("timeline contract violation")

const (
	SourcePreviousState = "previous_state"
	SourceDefault       = "default"
)

// Result is the reconstructed timeline of one (asset, window) with the
// diagnostics raised while building it
type Result struct {
	Intervals         []models.StateInterval
	EventCount        int
	ZeroEvents        bool
	InferredStart     *models.InferredStart
	Dropped           []models.EventRef
	ClippedMicroStops []models.EventRef
	InvalidMicroStops []models.EventRef
	StateMismatches   []models.EventRef
	MissingNewStates  []models.EventRef
}

// Reconstruct walks the events of one asset in one window and returns the
// ordered, coalesced interval sequence spanning [w.Start, w.EffectiveEnd).
func Reconstruct(assetID string, w shifts.Window, events []models.Event) (Result, error) {
	var res Result
	start, end := w.Start, w.EffectiveEnd
	if end.Before(start) {
		return res, fmt.Errorf("%w: window %s ends before it starts", ErrContractViolation, w.ShiftID)
	}

	in := make([]models.Event, 0, len(events))
	for _, ev := range events {
		if !ev.HasTimestamp() || ev.At().Before(start) || ev.At().After(end) {
			ref := ev.Ref()
			ref.Detail = "outside window"
			res.Dropped = append(res.Dropped, ref)
			continue
		}
		in = append(in, ev)
	}
	sort.SliceStable(in, func(i, j int) bool {
		return in[i].At().Before(in[j].At())
	})
	res.EventCount = len(in)

	b := &builder{assetID: assetID, shiftID: w.ShiftID}

	if len(in) == 0 {
		res.ZeroEvents = true
		b.add(models.StateRunning, start, end)
		return finish(res, b, start, end)
	}

	current, source := models.StateRunning, SourceDefault
	if first := in[0]; first.PreviousState != "" {
		current, source = first.PreviousState, SourcePreviousState
	}
	if in[0].At().After(start) {
		res.InferredStart = &models.InferredStart{
			AssetID: assetID,
			ShiftID: w.ShiftID,
			State:   current,
			Source:  source,
			Start:   start,
			Until:   in[0].At(),
		}
	}

	cursor := start
	// pending is the end of a carved micro-stop still in progress
	var pending time.Time
	advance := func(to time.Time) {
		if !pending.IsZero() {
			until := pending
			if to.Before(until) {
				until = to
			} else {
				pending = time.Time{}
			}
			b.add(models.StateStopped, cursor, until)
			cursor = until
		}
		b.add(current, cursor, to)
		if to.After(cursor) {
			cursor = to
		}
	}

	for i, ev := range in {
		t := ev.At()
		advance(t)

		switch ev.Type {
		case models.EventStateChange:
			if ev.NewState == "" {
				res.MissingNewStates = append(res.MissingNewStates, ev.Ref())
				continue
			}
			if ev.PreviousState != "" && ev.PreviousState != current {
				ref := ev.Ref()
				ref.Detail = fmt.Sprintf("previous_state %s, reconstructed %s", ev.PreviousState, current)
				res.StateMismatches = append(res.StateMismatches, ref)
			}
			current = ev.NewState
		case models.EventStopStart:
			current = models.StateStopped
		case models.EventMaintenanceStart:
			current = models.StateMaintenance
		case models.EventStopEnd, models.EventMaintenanceEnd:
			current = models.StateRunning
			if ev.NewState != "" {
				current = ev.NewState
			}
		case models.EventError:
			current = models.StateError
		case models.EventMicroStop:
			d, ok := ev.DurationValue()
			if !ok || d <= 0 {
				res.InvalidMicroStops = append(res.InvalidMicroStops, ev.Ref())
				continue
			}
			limit := nextStateChange(in[i+1:], end)
			stopEnd := t.Add(d)
			if stopEnd.After(limit) {
				ref := ev.Ref()
				ref.Detail = fmt.Sprintf("clipped from %s to %s", d, limit.Sub(t))
				res.ClippedMicroStops = append(res.ClippedMicroStops, ref)
				stopEnd = limit
			}
			pending = stopEnd
		default:
			// shift boundaries and heartbeats only split the timeline
		}
	}
	advance(end)

	return finish(res, b, start, end)
}

// nextStateChange returns the time of the first event in rest that changes
// state, or end when none does. Boundary events and heartbeats do not cut a
// micro-stop short.
func nextStateChange(rest []models.Event, end time.Time) time.Time {
	for _, ev := range rest {
		if changesState(ev) {
			return ev.At()
		}
	}
	return end
}

func changesState(ev models.Event) bool {
	switch ev.Type {
	case models.EventStateChange:
		return ev.NewState != ""
	case models.EventStopStart, models.EventStopEnd, models.EventMaintenanceStart,
		models.EventMaintenanceEnd, models.EventError:
		return true
	case models.EventMicroStop:
		d, ok := ev.DurationValue()
		return ok && d > 0
	}
	return false
}

func finish(res Result, b *builder, start, end time.Time) (Result, error) {
	if b.err != nil {
		return res, b.err
	}
	intervals := coalesce(b.out)
	if err := Verify(intervals, start, end); err != nil {
		return res, err
	}
	res.Intervals = intervals
	return res, nil
}

type builder struct {
	assetID string
	shiftID string
	out     []models.StateInterval
	err     error
}

func (b *builder) add(state models.State, from, to time.Time) {
	if to.Before(from) {
		if b.err == nil {
			b.err = fmt.Errorf("%w: %s interval ends at %s before it starts at %s",
				ErrContractViolation, state, to.Format(time.RFC3339), from.Format(time.RFC3339))
		}
		return
	}
	if to.Equal(from) {
		return
	}
	b.out = append(b.out, models.StateInterval{
		AssetID: b.assetID,
		ShiftID: b.shiftID,
		State:   state,
		Start:   from,
		End:     to,
	})
}

// coalesce merges adjacent intervals of the same state
func coalesce(in []models.StateInterval) []models.StateInterval {
	out := make([]models.StateInterval, 0, len(in))
	for _, iv := range in {
		if n := len(out); n > 0 && out[n-1].State == iv.State && out[n-1].End.Equal(iv.Start) {
			out[n-1].End = iv.End
			continue
		}
		out = append(out, iv)
	}
	for i := range out {
		out[i].DurationSeconds = out[i].Duration().Seconds()
	}
	return out
}

// Verify checks that intervals exactly cover [start, end) in order with no
// gaps, no overlaps and no empty spans.
func Verify(intervals []models.StateInterval, start, end time.Time) error {
	if len(intervals) == 0 {
		if start.Equal(end) {
			return nil
		}
		return fmt.Errorf("%w: no intervals for a non-empty window", ErrContractViolation)
	}
	if !intervals[0].Start.Equal(start) {
		return fmt.Errorf("%w: first interval starts at %s, window at %s",
			ErrContractViolation, intervals[0].Start.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	for i, iv := range intervals {
		if !iv.End.After(iv.Start) {
			return fmt.Errorf("%w: interval %d is empty or negative", ErrContractViolation, i)
		}
		if i > 0 && !intervals[i-1].End.Equal(iv.Start) {
			return fmt.Errorf("%w: gap or overlap before interval %d", ErrContractViolation, i)
		}
	}
	if last := intervals[len(intervals)-1]; !last.End.Equal(end) {
		return fmt.Errorf("%w: last interval ends at %s, window at %s",
			ErrContractViolation, last.End.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	return nil
}
