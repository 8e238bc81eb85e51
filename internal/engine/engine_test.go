package engine

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/savegress/shiftkpi/pkg/models"
)

var day = time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

func at(h, m int) *time.Time {
	t := day.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute)
	return &t
}

func ev(id, asset string, ts *time.Time, typ models.EventType) models.Event {
	return models.Event{ID: id, AssetID: asset, Timestamp: ts, Type: typ}
}

func dayShift() models.Shift {
	return models.Shift{ID: "day", StartTime: *at(8, 0), EndTime: at(16, 0), Status: models.ShiftCompleted}
}

func findAsset(t *testing.T, r *models.Report, id string) models.AssetReport {
	t.Helper()
	for _, a := range r.Assets {
		if a.AssetID == id {
			return a
		}
	}
	t.Fatalf("asset %s not in report", id)
	return models.AssetReport{}
}

func TestComputeShift_InferredStoppedStart(t *testing.T) {
	e := New(Config{IncludeIntervals: true})
	change := ev("e1", "m1", at(8, 10), models.EventStateChange)
	change.PreviousState = models.StateStopped
	change.NewState = models.StateRunning

	r, err := e.ComputeShift(Input{
		Events: []models.Event{change},
		Shifts: []models.Shift{dayShift()},
		Now:    *at(17, 0),
	}, "day")
	require.NoError(t, err)

	m1 := findAsset(t, r, "m1")
	require.Len(t, m1.Intervals, 2)
	assert.Equal(t, models.StateStopped, m1.Intervals[0].State)
	assert.Equal(t, 97.92, m1.KPI.OverallAvailability)
	assert.Equal(t, 0.9792, m1.KPI.OEE.Availability)
	assert.Equal(t, 97.92, m1.KPI.OEEPercentage)
	assert.Equal(t, 1, r.Anomalies.Counts[models.AnomalyInferredStart])
	assert.Empty(t, r.ID)
	assert.Equal(t, *at(17, 0), r.GeneratedAt)
}

func TestComputeShift_OpenShiftWithoutEvents(t *testing.T) {
	e := New(Config{})
	open := models.Shift{ID: "now", StartTime: *at(8, 0), Status: models.ShiftActive}

	r, err := e.ComputeShift(Input{
		Shifts: []models.Shift{open},
		Assets: []models.Asset{{ID: "m1"}},
		Now:    *at(12, 0),
	}, "now")
	require.NoError(t, err)

	assert.True(t, r.Scope.Open)
	assert.Equal(t, *at(12, 0), r.Scope.EffectiveEnd)
	m1 := findAsset(t, r, "m1")
	assert.Equal(t, 4.0, m1.KPI.WindowHours)
	assert.Equal(t, 100.0, m1.KPI.OverallAvailability)
	assert.True(t, m1.KPI.NoData)
	assert.True(t, r.Summary.NoData)
	assert.Equal(t, 1, r.Anomalies.Counts[models.AnomalyZeroEventWindow])
}

func TestComputeShift_OrphanNeverCounted(t *testing.T) {
	e := New(Config{})
	in := Input{
		Events: []models.Event{
			ev("early", "m9", at(6, 0), models.EventStopStart),
			ev("ok", "m1", at(9, 0), models.EventHeartbeat),
		},
		Shifts: []models.Shift{dayShift()},
		Now:    *at(17, 0),
	}

	reports, err := e.ComputeAllShifts(in)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	r := reports[0]

	require.Len(t, r.Anomalies.Orphans, 1)
	assert.Equal(t, "early", r.Anomalies.Orphans[0].EventID)
	for _, a := range r.Assets {
		assert.NotEqual(t, "m9", a.AssetID)
	}
	assert.Equal(t, 1, findAsset(t, r, "m1").EventCount)
}

func TestComputeShift_Rollup(t *testing.T) {
	e := New(Config{})
	in := Input{
		Events: []models.Event{
			ev("a1", "m1", at(9, 0), models.EventStopStart),
			ev("a2", "m1", at(9, 10), models.EventStopEnd),
			ev("a3", "m1", at(11, 10), models.EventStopStart),
			ev("a4", "m1", at(11, 30), models.EventStopEnd),
			ev("b1", "m2", at(10, 0), models.EventError),
			ev("b2", "m2", at(11, 0), models.EventStopEnd),
		},
		Shifts: []models.Shift{dayShift()},
		Assets: []models.Asset{{ID: "m2"}, {ID: "m1"}},
		Now:    *at(17, 0),
	}

	r, err := e.ComputeShift(in, "day")
	require.NoError(t, err)
	require.Len(t, r.Assets, 2)
	assert.Equal(t, "m1", r.Assets[0].AssetID)

	m1 := r.Assets[0].KPI
	assert.Equal(t, 93.75, m1.OverallAvailability)
	assert.Equal(t, 2, m1.TotalStops)
	assert.Equal(t, 0.25, m1.StopFrequencyPerHour)
	assert.Equal(t, 2.0, m1.AvgMTBFHours)
	assert.Equal(t, 0.25, m1.AvgMTTRHours)
	assert.False(t, m1.ReliabilityInsufficientData)

	m2 := r.Assets[1].KPI
	assert.Equal(t, 1.0, m2.ErrorTimeHours)
	assert.True(t, m2.ReliabilityInsufficientData)

	s := r.Summary
	assert.Equal(t, 8.0, s.WindowHours)
	assert.Equal(t, 14.5, s.TotalRuntimeHours)
	assert.Equal(t, 1.5, s.TotalDowntimeHours)
	assert.Equal(t, 90.63, s.OverallAvailability)
	assert.Equal(t, 0.25, s.StopFrequencyPerHour)
	assert.Equal(t, 2.0, s.AvgMTBFHours)
	assert.False(t, s.ReliabilityInsufficientData)
	assert.Equal(t, 0.9063, s.OEE.OEE)
	assert.Equal(t, 90.63, s.OEEPercentage)
	assert.Equal(t, 16.0, s.TotalRuntimeHours+s.TotalDowntimeHours+s.MicroStopTimeHours)
}

func TestComputeShift_RollupExcludesSilentAssets(t *testing.T) {
	e := New(Config{})
	in := Input{
		Events: []models.Event{
			ev("a1", "m1", at(9, 0), models.EventStopStart),
			ev("a2", "m1", at(10, 0), models.EventStopEnd),
		},
		Shifts: []models.Shift{dayShift()},
		Assets: []models.Asset{{ID: "m1"}, {ID: "m2"}},
		Now:    *at(17, 0),
	}

	r, err := e.ComputeShift(in, "day")
	require.NoError(t, err)
	assert.True(t, findAsset(t, r, "m2").KPI.NoData)

	s := r.Summary
	assert.Equal(t, 1, s.NoDataAssets)
	assert.False(t, s.NoData)
	assert.Equal(t, 15.0, s.TotalRuntimeHours)
	assert.Equal(t, 87.5, s.OverallAvailability)
	assert.Equal(t, 0.875, s.OEE.OEE)
	assert.Equal(t, 87.5, s.OEEPercentage)
}

func TestComputeShift_Factors(t *testing.T) {
	e := New(Config{})
	in := Input{
		Shifts: []models.Shift{dayShift()},
		Assets: []models.Asset{{ID: "m1"}, {ID: "m2"}},
		Factors: map[string]models.Factors{
			"m1": {Performance: models.Measured(1.5), Quality: models.Measured(0.9)},
			"m2": {Performance: models.Measured(0.8)},
		},
		Now: *at(17, 0),
	}

	r, err := e.ComputeShift(in, "day")
	require.NoError(t, err)

	m1 := findAsset(t, r, "m1").KPI.OEE
	assert.Equal(t, 1.0, m1.Performance)
	assert.Equal(t, 0.9, m1.OEE)
	m2 := findAsset(t, r, "m2").KPI.OEE
	assert.Equal(t, 0.8, m2.OEE)
	assert.True(t, m2.QualityDefaulted)

	require.Len(t, r.Anomalies.ClampedFactors, 1)
	assert.Equal(t, "m1", r.Anomalies.ClampedFactors[0].AssetID)
	assert.Equal(t, 0.85, r.Summary.OEE.OEE)
}

func TestComputeShift_Errors(t *testing.T) {
	e := New(Config{})
	bad := models.Shift{ID: "bad", StartTime: *at(10, 0), EndTime: at(9, 0)}
	shiftList := []models.Shift{dayShift(), bad}

	_, err := e.ComputeShift(Input{Shifts: shiftList}, "day")
	assert.ErrorIs(t, err, ErrMissingNow)

	_, err = e.ComputeShift(Input{Shifts: shiftList, Now: *at(17, 0)}, "night")
	assert.ErrorIs(t, err, ErrShiftNotFound)

	_, err = e.ComputeShift(Input{Shifts: shiftList, Now: *at(17, 0)}, "bad")
	assert.ErrorIs(t, err, ErrInvalidShift)

	_, err = e.ComputeShift(Input{Shifts: shiftList, Now: *at(7, 0)}, "day")
	assert.ErrorIs(t, err, ErrWindowNotStarted)
}

func TestComputeWindow(t *testing.T) {
	e := New(Config{})
	in := Input{
		Events: []models.Event{
			ev("a1", "m1", at(9, 0), models.EventStopStart),
			ev("a2", "m1", at(10, 0), models.EventStopEnd),
			ev("late", "m1", at(13, 0), models.EventError),
			ev("blank", "m1", nil, models.EventHeartbeat),
			{ID: "junk", AssetID: "m1", Timestamp: at(9, 30), Type: "BOGUS"},
		},
		Now: *at(17, 0),
	}

	r, err := e.ComputeWindow(in, *at(8, 0), *at(12, 0))
	require.NoError(t, err)

	assert.Equal(t, models.ScopeWindow, r.Scope.Kind)
	assert.Equal(t, 4.0, r.Summary.WindowHours)
	m1 := findAsset(t, r, "m1")
	assert.Equal(t, 75.0, m1.KPI.OverallAvailability)
	assert.Equal(t, 2, m1.EventCount)
	assert.Equal(t, 1, r.Anomalies.Counts[models.AnomalyInvalidTimestamp])
	assert.Equal(t, 1, r.Anomalies.Counts[models.AnomalyOrphan])
	assert.Equal(t, 1, r.Anomalies.Counts[models.AnomalyMalformedEvent])

	_, err = e.ComputeWindow(in, *at(12, 0), *at(8, 0))
	assert.ErrorIs(t, err, ErrInvalidWindow)
	_, err = e.ComputeWindow(in, *at(18, 0), *at(20, 0))
	assert.ErrorIs(t, err, ErrWindowNotStarted)
}

func TestComputeAllShifts_SkipsFutureAndInvalid(t *testing.T) {
	e := New(Config{})
	in := Input{
		Shifts: []models.Shift{
			{ID: "late", StartTime: *at(16, 0), EndTime: at(23, 0), Status: models.ShiftActive},
			dayShift(),
			{ID: "tomorrow", StartTime: *at(32, 0), EndTime: at(40, 0)},
			{ID: "broken", EndTime: at(5, 0)},
		},
		Assets: []models.Asset{{ID: "m1"}},
		Now:    *at(20, 0),
	}

	reports, err := e.ComputeAllShifts(in)
	require.NoError(t, err)
	require.Len(t, reports, 2)
	assert.Equal(t, "day", reports[0].Scope.ShiftID)
	assert.Equal(t, "late", reports[1].Scope.ShiftID)
	assert.Equal(t, 4.0, reports[1].Summary.WindowHours)
	assert.Equal(t, 1, reports[0].Anomalies.Counts[models.AnomalyInvalidShift])
}

func TestExecute_MatchesRunAndAssemble(t *testing.T) {
	e := New(Config{})
	in := Input{
		Events: []models.Event{ev("a1", "m1", at(9, 0), models.EventStopStart)},
		Shifts: []models.Shift{dayShift()},
		Assets: []models.Asset{{ID: "m2"}},
		Now:    *at(17, 0),
	}

	plan, err := e.PlanShift(in, "day")
	require.NoError(t, err)
	require.Len(t, plan.Jobs, 2)

	results := make([]JobResult, 0, len(plan.Jobs))
	for i := len(plan.Jobs) - 1; i >= 0; i-- {
		r, err := e.Run(plan.Jobs[i])
		require.NoError(t, err)
		results = append(results, r)
	}

	want, err := e.Execute(plan)
	require.NoError(t, err)
	assert.Equal(t, want, e.Assemble(plan, results, nil))
}

func TestRound(t *testing.T) {
	assert.Equal(t, 0.13, round(0.125, 2))
	assert.Equal(t, -0.13, round(-0.125, 2))
	assert.Equal(t, 1.0, round(0.99996, 4))
	assert.Equal(t, 0.0, round(math.NaN(), 2))
	assert.Equal(t, 0.0, round(math.Inf(1), 2))
}
