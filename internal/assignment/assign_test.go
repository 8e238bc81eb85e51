package assignment

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/savegress/shiftkpi/pkg/models"
)

var day = time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

func ts(h float64) *time.Time {
	t := day.Add(time.Duration(h * float64(time.Hour)))
	return &t
}

func testShifts() []models.Shift {
	return []models.Shift{
		{ID: "5", StartTime: *ts(6), EndTime: ts(14), Status: models.ShiftCompleted},
		{ID: "7", StartTime: *ts(14), EndTime: ts(22), Status: models.ShiftCompleted},
	}
}

func TestAssign_StaleShiftIDIsReassigned(t *testing.T) {
	events := []models.Event{
		{ID: "e1", AssetID: "m1", Timestamp: ts(15), Type: models.EventStopStart, ShiftID: "5"},
	}

	res := Assign(events, testShifts(), *ts(23))

	require.Len(t, res.Assigned, 1)
	assert.Equal(t, "7", res.Assigned[0].ShiftID)
	assert.True(t, res.Assigned[0].Reassigned)
	require.Len(t, res.StaleShiftIDs, 1)
	assert.Equal(t, "e1", res.StaleShiftIDs[0].EventID)
	assert.Equal(t, "5", events[0].ShiftID, "input must not be mutated")
}

func TestAssign_TrustedShiftIDIsKept(t *testing.T) {
	// 14:00 lies in both windows; the explicit id wins over resolution
	events := []models.Event{
		{ID: "e1", AssetID: "m1", Timestamp: ts(14), Type: models.EventHeartbeat, ShiftID: "5"},
	}

	res := Assign(events, testShifts(), *ts(23))

	require.Len(t, res.Assigned, 1)
	assert.Equal(t, "5", res.Assigned[0].ShiftID)
	assert.False(t, res.Assigned[0].Reassigned)
	assert.Empty(t, res.StaleShiftIDs)
}

func TestAssign_Diagnostics(t *testing.T) {
	events := []models.Event{
		{ID: "early", AssetID: "m1", Timestamp: ts(5), Type: models.EventHeartbeat},
		{ID: "untimed", AssetID: "m1", Type: models.EventHeartbeat},
		{ID: "garbled", AssetID: "m1", RawTimestamp: "not-a-time", Type: models.EventHeartbeat},
		{ID: "unknown", AssetID: "m1", Timestamp: ts(8), Type: "EXPLODED"},
		{ID: "anon", Timestamp: ts(8), Type: models.EventHeartbeat},
		{ID: "ok", AssetID: "m1", Timestamp: ts(8), Type: models.EventHeartbeat},
	}
	shiftList := append(testShifts(), models.Shift{ID: "bad", StartTime: *ts(10), EndTime: ts(9)})

	res := Assign(events, shiftList, *ts(23))

	require.Len(t, res.Assigned, 1)
	assert.Equal(t, "ok", res.Assigned[0].Event.ID)
	assert.Equal(t, 5, res.Assigned[0].Index)

	assert.Len(t, res.Malformed, 2)
	require.Len(t, res.InvalidTimestamps, 2)
	assert.Equal(t, "missing timestamp", res.InvalidTimestamps[0].Detail)
	assert.Equal(t, "unparseable timestamp", res.InvalidTimestamps[1].Detail)
	assert.Len(t, res.Orphans, 3)
	require.Len(t, res.InvalidShifts, 1)
	assert.Equal(t, "bad", res.InvalidShifts[0].ShiftID)
}

func TestResult_Grouping(t *testing.T) {
	events := []models.Event{
		{ID: "a1", AssetID: "m1", Timestamp: ts(7), Type: models.EventStopStart},
		{ID: "b1", AssetID: "m2", Timestamp: ts(8), Type: models.EventStopStart},
		{ID: "a2", AssetID: "m1", Timestamp: ts(16), Type: models.EventStopEnd},
		{ID: "a3", AssetID: "m1", Timestamp: ts(9), Type: models.EventStopEnd},
	}

	res := Assign(events, testShifts(), *ts(23))

	morning := res.ForShift("5")
	require.Len(t, morning["m1"], 2)
	assert.Equal(t, "a1", morning["m1"][0].ID)
	assert.Equal(t, "a3", morning["m1"][1].ID)
	assert.Equal(t, "5", morning["m1"][0].ShiftID)
	assert.Len(t, morning["m2"], 1)

	groups := res.ByAssetShift()
	assert.Len(t, groups, 3)
	assert.Equal(t, "a2", groups[Key{AssetID: "m1", ShiftID: "7"}][0].ID)
}
