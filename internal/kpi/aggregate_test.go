package kpi

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/savegress/shiftkpi/pkg/models"
)

var start = time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC)

type step struct {
	state models.State
	d     time.Duration
}

// sequence lays steps end to end from start
func sequence(steps ...step) ([]models.StateInterval, time.Duration) {
	out := make([]models.StateInterval, 0, len(steps))
	cursor := start
	for _, s := range steps {
		out = append(out, models.StateInterval{State: s.state, Start: cursor, End: cursor.Add(s.d)})
		cursor = cursor.Add(s.d)
	}
	return out, cursor.Sub(start)
}

func TestAggregate_Classification(t *testing.T) {
	intervals, window := sequence(
		step{models.StateRunning, 2 * time.Hour},
		step{models.StateStopped, 2 * time.Minute},
		step{models.StateRunning, time.Hour},
		step{models.StateStopped, 3 * time.Minute},
		step{models.StateRunning, time.Hour},
		step{models.StateError, 30 * time.Minute},
		step{models.StateRunning, time.Hour},
		step{models.StateMaintenance, time.Hour},
		step{models.StateRunning, 55 * time.Minute},
	)

	p := Aggregate(intervals, 3*time.Minute, window)

	assert.Equal(t, 1, p.MicroStops)
	assert.Equal(t, 2*time.Minute, p.MicroStopTime)
	assert.Equal(t, 1, p.TotalStops, "a stop of exactly the threshold is a full stop")
	assert.Equal(t, 3*time.Minute, p.FullStopTime)
	assert.Equal(t, 1, p.ErrorCount)
	assert.Equal(t, 1, p.MaintenanceCount)
	assert.Equal(t, 3*time.Minute+30*time.Minute+time.Hour, p.Downtime)
	assert.Equal(t, 5*time.Hour+55*time.Minute, p.Runtime)
	assert.Equal(t, window, p.Accounted())
}

func TestAggregate_RatiosAndIdempotence(t *testing.T) {
	intervals, window := sequence(
		step{models.StateRunning, 6 * time.Hour},
		step{models.StateStopped, 2 * time.Hour},
	)

	p := Aggregate(intervals, 3*time.Minute, window)
	assert.InDelta(t, 0.75, p.Availability(), 1e-12)
	assert.InDelta(t, 0.125, p.StopFrequencyPerHour(), 1e-12)
	assert.Equal(t, 0.0, p.MicroStopPercentage())

	assert.Equal(t, p, Aggregate(intervals, 3*time.Minute, window))
}

func TestAggregate_Empty(t *testing.T) {
	p := Aggregate(nil, 3*time.Minute, 0)
	assert.Equal(t, 0.0, p.Availability())
	assert.Equal(t, 0.0, p.StopFrequencyPerHour())
	assert.Equal(t, 0.0, p.MicroStopPercentage())
}

func TestPartial_Add(t *testing.T) {
	a, wa := sequence(step{models.StateRunning, time.Hour}, step{models.StateStopped, time.Hour})
	b, wb := sequence(step{models.StateError, time.Hour}, step{models.StateRunning, 3 * time.Hour})

	sum := Aggregate(a, time.Minute, wa).Add(Aggregate(b, time.Minute, wb))

	assert.Equal(t, 6*time.Hour, sum.Window)
	assert.Equal(t, 4*time.Hour, sum.Runtime)
	assert.Equal(t, 2*time.Hour, sum.Downtime)
	assert.Equal(t, 1, sum.TotalStops)
	assert.Equal(t, 1, sum.ErrorCount)
	assert.InDelta(t, 4.0/6.0, sum.Availability(), 1e-12)
	assert.Equal(t, sum.Window, sum.Accounted())
}

func TestReliability_TwoFullStops(t *testing.T) {
	intervals, _ := sequence(
		step{models.StateRunning, time.Hour},
		step{models.StateStopped, 10 * time.Minute},
		step{models.StateRunning, 2 * time.Hour},
		step{models.StateStopped, 20 * time.Minute},
		step{models.StateRunning, time.Hour},
	)

	r := Reliability(intervals, 3*time.Minute)

	require.False(t, r.InsufficientData)
	assert.Equal(t, 2, r.FullStops)
	assert.Equal(t, 15*time.Minute, r.MTTR)
	assert.Equal(t, 2*time.Hour, r.MTBF)
}

func TestReliability_IgnoresMicroStopsAndOtherStates(t *testing.T) {
	intervals, _ := sequence(
		step{models.StateStopped, 30 * time.Minute},
		step{models.StateRunning, time.Hour},
		step{models.StateStopped, time.Minute},
		step{models.StateRunning, time.Hour},
		step{models.StateError, time.Hour},
		step{models.StateStopped, 10 * time.Minute},
		step{models.StateRunning, 4 * time.Hour},
		step{models.StateStopped, 20 * time.Minute},
	)

	r := Reliability(intervals, 3*time.Minute)

	require.False(t, r.InsufficientData)
	assert.Equal(t, 3, r.FullStops)
	assert.Equal(t, 20*time.Minute, r.MTTR)
	assert.Equal(t, 3*time.Hour, r.MTBF)
}

func TestReliability_InsufficientData(t *testing.T) {
	intervals, _ := sequence(
		step{models.StateRunning, time.Hour},
		step{models.StateStopped, time.Hour},
		step{models.StateStopped, time.Minute},
	)

	r := Reliability(intervals, 3*time.Minute)

	assert.True(t, r.InsufficientData)
	assert.Equal(t, 1, r.FullStops)
	assert.Zero(t, r.MTBF)
	assert.Zero(t, r.MTTR)
	assert.NotEmpty(t, r.Reason)
}
