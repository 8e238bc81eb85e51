package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvent_UnmarshalLenientTimestamp(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		ts      *time.Time
		raw     string
	}{
		{
			name:    "rfc3339",
			payload: `{"asset_id":"m1","event_type":"HEARTBEAT","timestamp":"2024-03-04T08:00:00+02:00"}`,
			ts:      ptr(time.Date(2024, 3, 4, 6, 0, 0, 0, time.UTC)),
		},
		{
			name:    "space separated",
			payload: `{"asset_id":"m1","event_type":"HEARTBEAT","timestamp":"2024-03-04 08:00:00"}`,
			ts:      ptr(time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC)),
		},
		{
			name:    "null",
			payload: `{"asset_id":"m1","event_type":"HEARTBEAT","timestamp":null}`,
		},
		{
			name:    "missing",
			payload: `{"asset_id":"m1","event_type":"HEARTBEAT"}`,
		},
		{
			name:    "garbage text",
			payload: `{"asset_id":"m1","event_type":"HEARTBEAT","timestamp":"soon"}`,
			raw:     "soon",
		},
		{
			name:    "number",
			payload: `{"asset_id":"m1","event_type":"HEARTBEAT","timestamp":12345}`,
			raw:     "12345",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ev Event
			require.NoError(t, json.Unmarshal([]byte(tt.payload), &ev))
			assert.Equal(t, "m1", ev.AssetID)
			assert.Equal(t, EventHeartbeat, ev.Type)
			assert.Equal(t, tt.raw, ev.RawTimestamp)
			if tt.ts == nil {
				assert.False(t, ev.HasTimestamp())
				return
			}
			require.True(t, ev.HasTimestamp())
			assert.True(t, tt.ts.Equal(ev.At()))
		})
	}
}

func TestEvent_Validate(t *testing.T) {
	neg := -1.0
	assert.NoError(t, Event{AssetID: "m1", Type: EventMicroStop}.Validate())
	assert.ErrorIs(t, Event{Type: EventHeartbeat}.Validate(), ErrMissingAssetID)
	assert.ErrorIs(t, Event{AssetID: "m1", Type: "REBOOT"}.Validate(), ErrUnknownEventType)
	assert.ErrorIs(t, Event{AssetID: "m1", Type: EventStateChange, NewState: "IDLE"}.Validate(), ErrUnknownState)
	assert.ErrorIs(t, Event{AssetID: "m1", Type: EventMicroStop, Duration: &neg}.Validate(), ErrNegativeDuration)
}

func TestShift_Validate(t *testing.T) {
	start := time.Date(2024, 3, 4, 6, 0, 0, 0, time.UTC)
	end := start.Add(8 * time.Hour)

	assert.NoError(t, Shift{ID: "s", StartTime: start, EndTime: &end}.Validate())
	assert.NoError(t, Shift{ID: "s", StartTime: start}.Validate())
	assert.ErrorIs(t, Shift{ID: "s"}.Validate(), ErrMissingStart)
	assert.ErrorIs(t, Shift{ID: "s", StartTime: end, EndTime: &start}.Validate(), ErrShiftDuration)
	assert.ErrorIs(t, Shift{ID: "s", StartTime: start, EndTime: &start}.Validate(), ErrShiftDuration)
}

func TestAsset_Threshold(t *testing.T) {
	assert.Equal(t, 90*time.Second, Asset{MicrostopThreshold: 90}.Threshold(time.Minute))
	assert.Equal(t, time.Minute, Asset{}.Threshold(time.Minute))
	assert.Equal(t, DefaultMicrostopThreshold, Asset{}.Threshold(0))
}

func TestFactor_Unmarshal(t *testing.T) {
	var f Factors
	require.NoError(t, json.Unmarshal([]byte(`{"performance":0.9,"quality":{"value":0.95}}`), &f))
	require.NotNil(t, f.Performance.Value)
	require.NotNil(t, f.Quality.Value)
	assert.Equal(t, 0.9, *f.Performance.Value)
	assert.Equal(t, 0.95, *f.Quality.Value)

	var empty Factors
	require.NoError(t, json.Unmarshal([]byte(`{"performance":null}`), &empty))
	assert.Nil(t, empty.Performance.Value)
	assert.Nil(t, empty.Quality.Value)
}

func ptr(t time.Time) *time.Time { return &t }
