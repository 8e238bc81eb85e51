// Package assignment maps raw events onto the shift windows that contain them.
package assignment

import (
	"time"

	"github.com/savegress/shiftkpi/internal/shifts"
	"github.com/savegress/shiftkpi/pkg/models"
)

// Assigned is an event with its effective shift
type Assigned struct {
	Event      models.Event
	ShiftID    string
	Reassigned bool
	Index      int // position in the input slice
}

// Result is the assignment view of an event set. The input is never mutated.
type Result struct {
	Assigned          []Assigned
	Orphans           []models.EventRef
	InvalidTimestamps []models.EventRef
	Malformed         []models.EventRef
	InvalidShifts     []models.ShiftRef
	StaleShiftIDs     []models.EventRef
}

// Key identifies an (asset, shift) group
type Key struct {
	AssetID string
	ShiftID string
}

// Assign resolves the shift of every event. An explicit shift ID is kept
// only when it names a known valid shift whose window contains the event.
func Assign(events []models.Event, shiftList []models.Shift, now time.Time) Result {
	var res Result

	valid := make([]models.Shift, 0, len(shiftList))
	for _, s := range shiftList {
		if err := s.Validate(); err != nil {
			res.InvalidShifts = append(res.InvalidShifts, models.ShiftRef{ShiftID: s.ID, Reason: err.Error()})
			continue
		}
		valid = append(valid, s)
	}
	index := shifts.NewIndex(valid)

	for i, ev := range events {
		if err := ev.Validate(); err != nil {
			ref := ev.Ref()
			ref.Detail = err.Error()
			res.Malformed = append(res.Malformed, ref)
			continue
		}
		if !ev.HasTimestamp() {
			ref := ev.Ref()
			if ev.RawTimestamp != "" {
				ref.Detail = "unparseable timestamp"
			} else {
				ref.Detail = "missing timestamp"
			}
			res.InvalidTimestamps = append(res.InvalidTimestamps, ref)
			res.Orphans = append(res.Orphans, ref)
			continue
		}

		ts := ev.At()
		if ev.ShiftID != "" {
			if s, ok := index[ev.ShiftID]; ok && shifts.WindowOf(s, now).Contains(ts) {
				res.Assigned = append(res.Assigned, Assigned{Event: ev, ShiftID: s.ID, Index: i})
				continue
			}
		}

		s, ok := shifts.Resolve(valid, ts, now)
		if !ok {
			ref := ev.Ref()
			ref.Detail = "no shift window contains the timestamp"
			res.Orphans = append(res.Orphans, ref)
			continue
		}
		if ev.ShiftID != "" {
			ref := ev.Ref()
			ref.Detail = "reassigned to shift " + s.ID
			res.StaleShiftIDs = append(res.StaleShiftIDs, ref)
		}
		res.Assigned = append(res.Assigned, Assigned{Event: ev, ShiftID: s.ID, Reassigned: true, Index: i})
	}
	return res
}

// ByAssetShift groups assigned events by (asset, shift) preserving input order.
// The returned events carry their effective shift ID.
func (r Result) ByAssetShift() map[Key][]models.Event {
	groups := make(map[Key][]models.Event)
	for _, a := range r.Assigned {
		k := Key{AssetID: a.Event.AssetID, ShiftID: a.ShiftID}
		ev := a.Event
		ev.ShiftID = a.ShiftID
		groups[k] = append(groups[k], ev)
	}
	return groups
}

// ForShift returns the assigned events of one shift grouped by asset
func (r Result) ForShift(shiftID string) map[string][]models.Event {
	out := make(map[string][]models.Event)
	for _, a := range r.Assigned {
		if a.ShiftID != shiftID {
			continue
		}
		ev := a.Event
		ev.ShiftID = a.ShiftID
		out[ev.AssetID] = append(out[ev.AssetID], ev)
	}
	return out
}
