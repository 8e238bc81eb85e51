// Package storetest holds behaviour tests shared by every store backend.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/savegress/shiftkpi/internal/store"
	"github.com/savegress/shiftkpi/pkg/models"
)

var base = time.Date(2024, 1, 1, 6, 0, 0, 0, time.UTC)

func at(h, m int) *time.Time {
	t := base.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute)
	return &t
}

// Run exercises a fresh store returned by open
func Run(t *testing.T, open func(t *testing.T) store.Store) {
	t.Run("Assets", func(t *testing.T) { testAssets(t, open(t)) })
	t.Run("Shifts", func(t *testing.T) { testShifts(t, open(t)) })
	t.Run("EventsOrdering", func(t *testing.T) { testEventsOrdering(t, open(t)) })
	t.Run("EventsUntimed", func(t *testing.T) { testEventsUntimed(t, open(t)) })
	t.Run("ApplyCorrections", func(t *testing.T) { testApplyCorrections(t, open(t)) })
	t.Run("ApplyCorrectionsAtomic", func(t *testing.T) { testApplyCorrectionsAtomic(t, open(t)) })
}

func testAssets(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.SaveAssets(ctx, []models.Asset{
		{ID: "press-2", Name: "Press 2", MicrostopThreshold: 60},
		{ID: "press-1", Name: "Press 1"},
	}))
	require.NoError(t, s.SaveAssets(ctx, []models.Asset{{ID: "press-1", Name: "Press One"}}))

	assets, err := s.ListAssets(ctx)
	require.NoError(t, err)
	require.Len(t, assets, 2)
	assert.Equal(t, "press-1", assets[0].ID)
	assert.Equal(t, "Press One", assets[0].Name)
	assert.Equal(t, 60.0, assets[1].MicrostopThreshold)

	assert.Error(t, s.SaveAssets(ctx, []models.Asset{{Name: "nameless"}}))
}

func testShifts(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.SaveShifts(ctx, []models.Shift{
		{ID: "S1", StartTime: *at(0, 0), EndTime: at(8, 0), Status: models.ShiftCompleted},
		{ID: "S2", StartTime: *at(8, 0), EndTime: at(16, 0), Status: models.ShiftCompleted},
		{ID: "S3", StartTime: *at(16, 0), Status: models.ShiftActive},
	}))

	sh, err := s.GetShift(ctx, "S2")
	require.NoError(t, err)
	assert.True(t, sh.StartTime.Equal(*at(8, 0)))
	require.NotNil(t, sh.EndTime)
	assert.True(t, sh.EndTime.Equal(*at(16, 0)))

	open, err := s.GetShift(ctx, "S3")
	require.NoError(t, err)
	assert.Nil(t, open.EndTime)

	_, err = s.GetShift(ctx, "missing")
	assert.True(t, errors.Is(err, store.ErrNotFound))

	overlapping, err := s.ListShifts(ctx, *at(9, 0), *at(17, 0))
	require.NoError(t, err)
	ids := make([]string, 0, len(overlapping))
	for _, o := range overlapping {
		ids = append(ids, o.ID)
	}
	assert.Equal(t, []string{"S2", "S3"}, ids)

	all, err := s.ListShifts(ctx, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func testEventsOrdering(t *testing.T, s store.Store) {
	ctx := context.Background()
	saved, err := s.SaveEvents(ctx, []models.Event{
		{ID: "e3", AssetID: "A", Timestamp: at(2, 0), Type: models.EventStopEnd},
		{ID: "e1", AssetID: "A", Timestamp: at(1, 0), Type: models.EventStopStart},
		{ID: "e2", AssetID: "A", Timestamp: at(1, 0), Type: models.EventStopEnd},
		{AssetID: "B", Timestamp: at(1, 30), Type: models.EventError},
	})
	require.NoError(t, err)
	require.Len(t, saved, 4)
	assert.NotEmpty(t, saved[3].ID)

	events, err := s.ListEvents(ctx, store.EventQuery{AssetID: "A"})
	require.NoError(t, err)
	require.Len(t, events, 3)
	// equal timestamps keep insertion order
	assert.Equal(t, "e1", events[0].ID)
	assert.Equal(t, "e2", events[1].ID)
	assert.Equal(t, "e3", events[2].ID)

	ranged, err := s.ListEvents(ctx, store.EventQuery{From: *at(1, 0), To: *at(1, 30)})
	require.NoError(t, err)
	assert.Len(t, ranged, 3)
}

func testEventsUntimed(t *testing.T, s store.Store) {
	ctx := context.Background()
	dur := 42.0
	_, err := s.SaveEvents(ctx, []models.Event{
		{ID: "good", AssetID: "A", Timestamp: at(1, 0), Type: models.EventMicroStop, Duration: &dur},
		{ID: "bad", AssetID: "A", RawTimestamp: "yesterday-ish", Type: models.EventStopStart},
	})
	require.NoError(t, err)

	timed, err := s.ListEvents(ctx, store.EventQuery{})
	require.NoError(t, err)
	require.Len(t, timed, 1)
	require.NotNil(t, timed[0].Duration)
	assert.Equal(t, 42.0, *timed[0].Duration)

	all, err := s.ListEvents(ctx, store.EventQuery{IncludeUntimed: true})
	require.NoError(t, err)
	require.Len(t, all, 2)

	var untimed models.Event
	for _, ev := range all {
		if ev.ID == "bad" {
			untimed = ev
		}
	}
	assert.False(t, untimed.HasTimestamp())
	assert.Equal(t, "yesterday-ish", untimed.RawTimestamp)
}

func testApplyCorrections(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.SaveShifts(ctx, []models.Shift{
		{ID: "S1", StartTime: *at(0, 0), EndTime: at(8, 0)},
	}))
	_, err := s.SaveEvents(ctx, []models.Event{
		{ID: "e1", AssetID: "A", Timestamp: at(1, 0), Type: models.EventStopStart},
		{ID: "e2", AssetID: "A", Timestamp: at(9, 0), Type: models.EventStopEnd, ShiftID: "S1"},
	})
	require.NoError(t, err)

	appliedAt := *at(10, 0)
	applied, err := s.ApplyCorrections(ctx, []models.Correction{
		{ID: "c1", Kind: models.CorrectionShiftReassignment, EventID: "e1", AssetID: "A", ProposedShiftID: "S1", ProposedAt: appliedAt},
		{ID: "c2", Kind: models.CorrectionTimestampCorrection, EventID: "e2", AssetID: "A", CurrentTimestamp: at(9, 0), ProposedTimestamp: at(7, 0), OffsetSeconds: -7200, ProposedAt: appliedAt},
	}, "alice", appliedAt)
	require.NoError(t, err)
	require.Len(t, applied, 2)
	assert.Equal(t, "alice", applied[0].AppliedBy)

	events, err := s.ListEvents(ctx, store.EventQuery{AssetID: "A"})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "S1", events[0].ShiftID)
	assert.True(t, events[1].At().Equal(*at(7, 0)))

	audit, err := s.ListCorrections(ctx)
	require.NoError(t, err)
	require.Len(t, audit, 2)
	assert.Equal(t, "c1", audit[0].ID)
	assert.Equal(t, models.CorrectionTimestampCorrection, audit[1].Kind)
	require.NotNil(t, audit[1].ProposedTimestamp)
	assert.True(t, audit[1].ProposedTimestamp.Equal(*at(7, 0)))
}

func testApplyCorrectionsAtomic(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.SaveShifts(ctx, []models.Shift{
		{ID: "S1", StartTime: *at(0, 0), EndTime: at(8, 0)},
	}))
	_, err := s.SaveEvents(ctx, []models.Event{
		{ID: "e1", AssetID: "A", Timestamp: at(1, 0), Type: models.EventStopStart},
	})
	require.NoError(t, err)

	_, err = s.ApplyCorrections(ctx, []models.Correction{
		{ID: "c1", Kind: models.CorrectionShiftReassignment, EventID: "e1", ProposedShiftID: "S1"},
		{ID: "c2", Kind: models.CorrectionShiftReassignment, EventID: "missing", ProposedShiftID: "S1"},
	}, "bob", *at(10, 0))
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrNotFound))

	events, err := s.ListEvents(ctx, store.EventQuery{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Empty(t, events[0].ShiftID)

	audit, err := s.ListCorrections(ctx)
	require.NoError(t, err)
	assert.Empty(t, audit)

	_, err = s.ApplyCorrections(ctx, []models.Correction{
		{ID: "c3", Kind: models.CorrectionTimestampCorrection, EventID: "e1"},
	}, "bob", *at(10, 0))
	assert.True(t, errors.Is(err, store.ErrInvalidCorrection))

	_, err = s.ApplyCorrections(ctx, []models.Correction{
		{ID: "c4", Kind: models.CorrectionShiftReassignment, EventID: "e1", ProposedShiftID: "S1"},
		{ID: "c5", Kind: models.CorrectionTimestampCorrection, EventID: "e1", ProposedTimestamp: at(2, 0)},
	}, "bob", *at(10, 0))
	assert.True(t, errors.Is(err, store.ErrInvalidCorrection))

	audit, err = s.ListCorrections(ctx)
	require.NoError(t, err)
	assert.Empty(t, audit)
}
