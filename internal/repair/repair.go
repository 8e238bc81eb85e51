// Package repair proposes corrections for events whose shift attribution or
// timestamp looks wrong. Proposals are plain data for a reviewer; nothing
// here writes anywhere.
package repair

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/savegress/shiftkpi/internal/assignment"
	"github.com/savegress/shiftkpi/internal/shifts"
	"github.com/savegress/shiftkpi/pkg/models"
)

// DefaultOffsets are the candidate clock drifts tried by
// ProposeTimestampCorrections when none are configured.
var DefaultOffsets = []time.Duration{time.Hour, -time.Hour, 2 * time.Hour, -2 * time.Hour}

// correctionSpace namespaces correction IDs so identical inputs yield
// identical proposals.
var correctionSpace = uuid.MustParse("5f1c9a52-2b7e-4d1e-9a55-7c1f0e8d2b61")

// Proposal is the outcome of a repair pass. Corrections holds at most one
// correction per event; competing corrections for an event already covered
// are listed under Alternatives and are never meant to be applied together.
type Proposal struct {
	Corrections  []models.Correction `json:"corrections"`
	Alternatives []models.Correction `json:"alternatives,omitempty"`
	Unrepairable []models.EventRef   `json:"unrepairable,omitempty"`
}

// ProposeShiftReassignments proposes a shift for every event whose shift ID
// is missing or stale but whose timestamp resolves to a shift.
func ProposeShiftReassignments(events []models.Event, shiftList []models.Shift, now time.Time) Proposal {
	var p Proposal
	res := assignment.Assign(events, shiftList, now)

	for _, ref := range res.InvalidTimestamps {
		p.Unrepairable = append(p.Unrepairable, ref)
	}
	for _, a := range res.Assigned {
		if !a.Reassigned {
			continue
		}
		ev := a.Event
		if ev.ID == "" {
			ref := ev.Ref()
			ref.Detail = "event has no id"
			p.Unrepairable = append(p.Unrepairable, ref)
			continue
		}
		reason := "event has no shift id"
		if ev.ShiftID != "" {
			reason = fmt.Sprintf("shift %s does not contain the event", ev.ShiftID)
		}
		ts := ev.At()
		p.Corrections = append(p.Corrections, models.Correction{
			ID:               correctionID(models.CorrectionShiftReassignment, ev.ID, a.ShiftID),
			Kind:             models.CorrectionShiftReassignment,
			EventID:          ev.ID,
			AssetID:          ev.AssetID,
			CurrentShiftID:   ev.ShiftID,
			ProposedShiftID:  a.ShiftID,
			CurrentTimestamp: &ts,
			Reason:           reason,
			ProposedAt:       now,
		})
	}
	p.sort()
	return p
}

// ProposeTimestampCorrections looks at events that name a known shift whose
// window does not contain them and tries the candidate offsets in order of
// increasing magnitude. The first offset that lands inside the named shift
// yields a correction. A missing timestamp is never invented.
func ProposeTimestampCorrections(events []models.Event, shiftList []models.Shift, now time.Time, offsets []time.Duration) Proposal {
	var p Proposal
	if len(offsets) == 0 {
		offsets = DefaultOffsets
	}
	ordered := append([]time.Duration(nil), offsets...)
	sort.SliceStable(ordered, func(i, j int) bool { return abs(ordered[i]) < abs(ordered[j]) })

	valid := make([]models.Shift, 0, len(shiftList))
	for _, s := range shiftList {
		if s.Validate() == nil {
			valid = append(valid, s)
		}
	}
	index := shifts.NewIndex(valid)

	for _, ev := range events {
		if ev.Validate() != nil || ev.ShiftID == "" {
			continue
		}
		s, ok := index[ev.ShiftID]
		if !ok {
			continue
		}
		if !ev.HasTimestamp() {
			ref := ev.Ref()
			ref.Detail = "no usable timestamp to correct"
			p.Unrepairable = append(p.Unrepairable, ref)
			continue
		}
		w := shifts.WindowOf(s, now)
		ts := ev.At()
		if w.Contains(ts) {
			continue
		}
		if ev.ID == "" {
			ref := ev.Ref()
			ref.Detail = "event has no id"
			p.Unrepairable = append(p.Unrepairable, ref)
			continue
		}

		found := false
		for _, off := range ordered {
			candidate := ts.Add(off)
			if !w.Contains(candidate) {
				continue
			}
			current := ts
			p.Corrections = append(p.Corrections, models.Correction{
				ID:                correctionID(models.CorrectionTimestampCorrection, ev.ID, candidate.Format(time.RFC3339Nano)),
				Kind:              models.CorrectionTimestampCorrection,
				EventID:           ev.ID,
				AssetID:           ev.AssetID,
				CurrentShiftID:    ev.ShiftID,
				ProposedShiftID:   ev.ShiftID,
				CurrentTimestamp:  &current,
				ProposedTimestamp: &candidate,
				OffsetSeconds:     off.Seconds(),
				Reason:            fmt.Sprintf("shifting by %s places the event inside shift %s", off, ev.ShiftID),
				ProposedAt:        now,
			})
			found = true
			break
		}
		if !found {
			ref := ev.Ref()
			ref.Detail = fmt.Sprintf("no candidate offset places the event inside shift %s", ev.ShiftID)
			p.Unrepairable = append(p.Unrepairable, ref)
		}
	}
	p.sort()
	return p
}

// Merge combines two proposals keeping one correction per event. A shift
// reassignment trusts the recorded timestamp and wins over a timestamp
// correction for the same event; the loser becomes an alternative.
func Merge(a, b Proposal) Proposal {
	all := append(append([]models.Correction(nil), a.Corrections...), b.Corrections...)
	out := Proposal{
		Unrepairable: append(append([]models.EventRef(nil), a.Unrepairable...), b.Unrepairable...),
	}

	seen := make(map[string]bool, len(all))
	for _, c := range append(append([]models.Correction(nil), a.Alternatives...), b.Alternatives...) {
		if !seen[c.ID] {
			seen[c.ID] = true
			out.Alternatives = append(out.Alternatives, c)
		}
	}

	chosen := make(map[string]int, len(all))
	for _, c := range all {
		if seen[c.ID] {
			continue
		}
		seen[c.ID] = true
		i, ok := chosen[c.EventID]
		if !ok {
			chosen[c.EventID] = len(out.Corrections)
			out.Corrections = append(out.Corrections, c)
			continue
		}
		if rank(c.Kind) < rank(out.Corrections[i].Kind) {
			out.Alternatives = append(out.Alternatives, out.Corrections[i])
			out.Corrections[i] = c
			continue
		}
		out.Alternatives = append(out.Alternatives, c)
	}
	out.sort()
	return out
}

func rank(kind models.CorrectionKind) int {
	if kind == models.CorrectionShiftReassignment {
		return 0
	}
	return 1
}

func (p *Proposal) sort() {
	sortCorrections(p.Corrections)
	sortCorrections(p.Alternatives)
	sort.SliceStable(p.Unrepairable, func(i, j int) bool {
		a, b := p.Unrepairable[i], p.Unrepairable[j]
		if a.AssetID != b.AssetID {
			return a.AssetID < b.AssetID
		}
		return a.EventID < b.EventID
	})
}

func sortCorrections(cs []models.Correction) {
	sort.SliceStable(cs, func(i, j int) bool {
		a, b := cs[i], cs[j]
		if a.AssetID != b.AssetID {
			return a.AssetID < b.AssetID
		}
		if a.EventID != b.EventID {
			return a.EventID < b.EventID
		}
		return a.Kind < b.Kind
	})
}

func correctionID(kind models.CorrectionKind, eventID, target string) string {
	return uuid.NewSHA1(correctionSpace, []byte(string(kind)+"/"+eventID+"/"+target)).String()
}

func abs(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
