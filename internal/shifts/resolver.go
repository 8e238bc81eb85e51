// Package shifts resolves which shift window contains a point in time.
package shifts

import (
	"time"

	"github.com/savegress/shiftkpi/pkg/models"
)

// Window is the effective time window of a shift or of an ad hoc range
type Window struct {
	ShiftID      string
	Start        time.Time
	End          *time.Time
	EffectiveEnd time.Time
	Open         bool
}

// EffectiveEnd returns min(now, end) for a closed shift and now for an open one
func EffectiveEnd(s models.Shift, now time.Time) time.Time {
	if s.EndTime != nil && s.EndTime.Before(now) {
		return *s.EndTime
	}
	return now
}

// WindowOf builds the effective window of a shift at now
func WindowOf(s models.Shift, now time.Time) Window {
	return Window{
		ShiftID:      s.ID,
		Start:        s.StartTime,
		End:          s.EndTime,
		EffectiveEnd: EffectiveEnd(s, now),
		Open:         s.Open(),
	}
}

// Range builds a window for an arbitrary [from, to) range bounded by now
func Range(from, to, now time.Time) Window {
	end := to
	if now.Before(end) {
		end = now
	}
	return Window{Start: from, End: &to, EffectiveEnd: end}
}

// Contains reports whether ts lies in [Start, EffectiveEnd]
func (w Window) Contains(ts time.Time) bool {
	return !ts.Before(w.Start) && !ts.After(w.EffectiveEnd)
}

// Duration returns the effective length of the window, never negative
func (w Window) Duration() time.Duration {
	if w.EffectiveEnd.Before(w.Start) {
		return 0
	}
	return w.EffectiveEnd.Sub(w.Start)
}

// Started reports whether the window has begun at its effective end
func (w Window) Started() bool {
	return !w.EffectiveEnd.Before(w.Start)
}

// Resolve finds the shift containing ts. Among candidates the latest start
// wins, then an active status, then input order. Invalid shifts are never
// candidates.
func Resolve(shifts []models.Shift, ts, now time.Time) (models.Shift, bool) {
	best := -1
	for i, s := range shifts {
		if s.Validate() != nil {
			continue
		}
		if !WindowOf(s, now).Contains(ts) {
			continue
		}
		if best < 0 || better(s, shifts[best]) {
			best = i
		}
	}
	if best < 0 {
		return models.Shift{}, false
	}
	return shifts[best], true
}

func better(candidate, current models.Shift) bool {
	if !candidate.StartTime.Equal(current.StartTime) {
		return candidate.StartTime.After(current.StartTime)
	}
	return candidate.Status == models.ShiftActive && current.Status != models.ShiftActive
}

// Index maps shift IDs to shifts for explicit lookups
type Index map[string]models.Shift

// NewIndex indexes shifts by ID; later duplicates are ignored
func NewIndex(shifts []models.Shift) Index {
	idx := make(Index, len(shifts))
	for _, s := range shifts {
		if _, ok := idx[s.ID]; !ok {
			idx[s.ID] = s
		}
	}
	return idx
}
