package shifts

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/savegress/shiftkpi/pkg/models"
)

var day = time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

func hour(h float64) time.Time {
	return day.Add(time.Duration(h * float64(time.Hour)))
}

func shift(id string, start, end float64, status models.ShiftStatus) models.Shift {
	s := models.Shift{ID: id, StartTime: hour(start), Status: status}
	if end >= 0 {
		e := hour(end)
		s.EndTime = &e
	}
	return s
}

func TestEffectiveEnd(t *testing.T) {
	closed := shift("a", 6, 14, models.ShiftCompleted)
	open := shift("b", 6, -1, models.ShiftActive)

	assert.Equal(t, hour(14), EffectiveEnd(closed, hour(20)))
	assert.Equal(t, hour(10), EffectiveEnd(closed, hour(10)))
	assert.Equal(t, hour(12), EffectiveEnd(open, hour(12)))
}

func TestWindowOf(t *testing.T) {
	w := WindowOf(shift("a", 8, -1, models.ShiftActive), hour(12))

	assert.True(t, w.Open)
	assert.True(t, w.Started())
	assert.Equal(t, 4*time.Hour, w.Duration())

	future := WindowOf(shift("b", 14, 22, models.ShiftActive), hour(12))
	assert.False(t, future.Started())
	assert.Equal(t, time.Duration(0), future.Duration())
}

func TestWindow_ContainsIsClosed(t *testing.T) {
	w := WindowOf(shift("a", 6, 14, models.ShiftCompleted), hour(20))

	assert.True(t, w.Contains(hour(6)))
	assert.True(t, w.Contains(hour(14)))
	assert.False(t, w.Contains(hour(5.99)))
	assert.False(t, w.Contains(hour(14.01)))
}

func TestRange(t *testing.T) {
	w := Range(hour(6), hour(18), hour(10))
	assert.Equal(t, hour(10), w.EffectiveEnd)
	assert.Equal(t, hour(18), *w.End)
	assert.Empty(t, w.ShiftID)
}

func TestResolve(t *testing.T) {
	now := hour(23)

	tests := []struct {
		name   string
		shifts []models.Shift
		ts     time.Time
		want   string
		found  bool
	}{
		{
			name:   "single match",
			shifts: []models.Shift{shift("morning", 6, 14, models.ShiftCompleted), shift("evening", 14, 22, models.ShiftCompleted)},
			ts:     hour(10),
			want:   "morning",
			found:  true,
		},
		{
			name:   "boundary prefers the later start",
			shifts: []models.Shift{shift("morning", 6, 14, models.ShiftCompleted), shift("evening", 14, 22, models.ShiftCompleted)},
			ts:     hour(14),
			want:   "evening",
			found:  true,
		},
		{
			name:   "equal start prefers active",
			shifts: []models.Shift{shift("planned", 6, 14, models.ShiftCompleted), shift("override", 6, 12, models.ShiftActive)},
			ts:     hour(8),
			want:   "override",
			found:  true,
		},
		{
			name:   "full tie keeps input order",
			shifts: []models.Shift{shift("first", 6, 14, models.ShiftActive), shift("second", 6, 14, models.ShiftActive)},
			ts:     hour(8),
			want:   "first",
			found:  true,
		},
		{
			name:   "invalid shifts are skipped",
			shifts: []models.Shift{shift("broken", 10, 9, models.ShiftActive), shift("ok", 6, 14, models.ShiftCompleted)},
			ts:     hour(9.5),
			want:   "ok",
			found:  true,
		},
		{
			name:   "before every shift",
			shifts: []models.Shift{shift("morning", 6, 14, models.ShiftCompleted)},
			ts:     hour(5),
			found:  false,
		},
		{
			name:   "open shift bounded by now",
			shifts: []models.Shift{shift("night", 22, -1, models.ShiftActive)},
			ts:     hour(23.5),
			found:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Resolve(tt.shifts, tt.ts, now)
			require.Equal(t, tt.found, ok)
			if tt.found {
				assert.Equal(t, tt.want, got.ID)
			}
		})
	}
}

func TestNewIndex_FirstWins(t *testing.T) {
	idx := NewIndex([]models.Shift{
		shift("a", 6, 14, models.ShiftCompleted),
		shift("a", 14, 22, models.ShiftCompleted),
	})
	require.Len(t, idx, 1)
	assert.Equal(t, hour(6), idx["a"].StartTime)
}
