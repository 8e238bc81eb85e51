package repair

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/savegress/shiftkpi/pkg/models"
)

var day = time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

func at(h float64) *time.Time {
	t := day.Add(time.Duration(h * float64(time.Hour)))
	return &t
}

var now = *at(23)

func testShifts() []models.Shift {
	return []models.Shift{
		{ID: "morning", StartTime: *at(6), EndTime: at(14), Status: models.ShiftCompleted},
		{ID: "evening", StartTime: *at(14), EndTime: at(22), Status: models.ShiftCompleted},
	}
}

func TestProposeShiftReassignments(t *testing.T) {
	events := []models.Event{
		{ID: "keep", AssetID: "m1", Timestamp: at(8), Type: models.EventHeartbeat, ShiftID: "morning"},
		{ID: "missing", AssetID: "m1", Timestamp: at(9), Type: models.EventStopStart},
		{ID: "stale", AssetID: "m1", Timestamp: at(15), Type: models.EventStopEnd, ShiftID: "morning"},
		{ID: "", AssetID: "m2", Timestamp: at(10), Type: models.EventStopStart},
		{ID: "untimed", AssetID: "m2", Type: models.EventHeartbeat},
	}

	p := ProposeShiftReassignments(events, testShifts(), now)

	require.Len(t, p.Corrections, 2)
	missing, stale := p.Corrections[0], p.Corrections[1]
	assert.Equal(t, "missing", missing.EventID)
	assert.Equal(t, "morning", missing.ProposedShiftID)
	assert.Empty(t, missing.CurrentShiftID)
	assert.Equal(t, models.CorrectionShiftReassignment, missing.Kind)
	assert.Equal(t, now, missing.ProposedAt)

	assert.Equal(t, "stale", stale.EventID)
	assert.Equal(t, "morning", stale.CurrentShiftID)
	assert.Equal(t, "evening", stale.ProposedShiftID)

	require.Len(t, p.Unrepairable, 2)
	assert.Equal(t, "untimed", p.Unrepairable[1].EventID)
	assert.Equal(t, "event has no id", p.Unrepairable[0].Detail)

	for i, ev := range events {
		if ev.ID == "stale" {
			assert.Equal(t, "morning", events[i].ShiftID, "input must not be mutated")
		}
	}
}

func TestProposeTimestampCorrections(t *testing.T) {
	events := []models.Event{
		// one hour late for its shift
		{ID: "late", AssetID: "m1", Timestamp: at(14.5), Type: models.EventStopEnd, ShiftID: "morning"},
		// one hour early for its shift
		{ID: "early", AssetID: "m1", Timestamp: at(5.5), Type: models.EventStopStart, ShiftID: "morning"},
		// already inside its shift
		{ID: "fine", AssetID: "m1", Timestamp: at(7), Type: models.EventHeartbeat, ShiftID: "morning"},
		// too far off for any candidate
		{ID: "far", AssetID: "m2", Timestamp: at(1), Type: models.EventHeartbeat, ShiftID: "morning"},
		// no timestamp to shift
		{ID: "blank", AssetID: "m2", Type: models.EventHeartbeat, ShiftID: "morning"},
		// unknown shift is not a timestamp problem
		{ID: "ghost", AssetID: "m2", Timestamp: at(3), Type: models.EventHeartbeat, ShiftID: "night"},
	}

	p := ProposeTimestampCorrections(events, testShifts(), now, nil)

	require.Len(t, p.Corrections, 2)
	early, late := p.Corrections[0], p.Corrections[1]

	assert.Equal(t, "early", early.EventID)
	assert.Equal(t, *at(6.5), *early.ProposedTimestamp)
	assert.Equal(t, 3600.0, early.OffsetSeconds)

	assert.Equal(t, "late", late.EventID)
	assert.Equal(t, *at(13.5), *late.ProposedTimestamp)
	assert.Equal(t, -3600.0, late.OffsetSeconds)
	assert.Equal(t, *at(14.5), *late.CurrentTimestamp)
	assert.Equal(t, "morning", late.ProposedShiftID)

	require.Len(t, p.Unrepairable, 2)
	ids := []string{p.Unrepairable[0].EventID, p.Unrepairable[1].EventID}
	assert.ElementsMatch(t, []string{"far", "blank"}, ids)
}

func TestProposeTimestampCorrections_OffsetOrder(t *testing.T) {
	// both -2h and -1h land inside; the smaller magnitude wins
	events := []models.Event{
		{ID: "e", AssetID: "m1", Timestamp: at(14.5), Type: models.EventHeartbeat, ShiftID: "morning"},
	}

	p := ProposeTimestampCorrections(events, testShifts(), now, []time.Duration{-2 * time.Hour, -time.Hour})

	require.Len(t, p.Corrections, 1)
	assert.Equal(t, -3600.0, p.Corrections[0].OffsetSeconds)
}

func TestProposals_AreDeterministic(t *testing.T) {
	events := []models.Event{
		{ID: "a", AssetID: "m1", Timestamp: at(9), Type: models.EventStopStart},
		{ID: "b", AssetID: "m1", Timestamp: at(14.5), Type: models.EventStopEnd, ShiftID: "morning"},
	}

	first := Merge(
		ProposeShiftReassignments(events, testShifts(), now),
		ProposeTimestampCorrections(events, testShifts(), now, nil),
	)
	second := Merge(
		ProposeShiftReassignments(events, testShifts(), now),
		ProposeTimestampCorrections(events, testShifts(), now, nil),
	)

	assert.Equal(t, first, second)
	require.Len(t, first.Corrections, 2)
	require.Len(t, first.Alternatives, 1)

	seen := map[string]bool{}
	for _, c := range append(first.Corrections, first.Alternatives...) {
		assert.False(t, seen[c.ID], "correction ids must be unique")
		seen[c.ID] = true
	}
	assert.Equal(t, "a", first.Corrections[0].EventID)
	assert.Equal(t, "b", first.Corrections[1].EventID)
}

func TestMerge_OneCorrectionPerEvent(t *testing.T) {
	// stamped after its named shift ended and inside the next one
	events := []models.Event{
		{ID: "ev1", AssetID: "m1", Timestamp: at(15), Type: models.EventStopStart, ShiftID: "morning"},
	}
	reassign := ProposeShiftReassignments(events, testShifts(), now)
	retime := ProposeTimestampCorrections(events, testShifts(), now, nil)
	require.Len(t, reassign.Corrections, 1)
	require.Len(t, retime.Corrections, 1)

	for name, p := range map[string]Proposal{
		"reassignment first": Merge(reassign, retime),
		"timestamp first":    Merge(retime, reassign),
	} {
		t.Run(name, func(t *testing.T) {
			require.Len(t, p.Corrections, 1)
			kept := p.Corrections[0]
			assert.Equal(t, models.CorrectionShiftReassignment, kept.Kind)
			assert.Equal(t, "evening", kept.ProposedShiftID)

			require.Len(t, p.Alternatives, 1)
			alt := p.Alternatives[0]
			assert.Equal(t, models.CorrectionTimestampCorrection, alt.Kind)
			assert.Equal(t, "ev1", alt.EventID)
			assert.Equal(t, -3600.0, alt.OffsetSeconds)
		})
	}

	merged := Merge(reassign, retime)
	for _, again := range []Proposal{Merge(merged, reassign), Merge(merged, retime)} {
		assert.Len(t, again.Corrections, 1)
		assert.Len(t, again.Alternatives, 1)
	}
}
