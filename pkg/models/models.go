package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// DefaultMicrostopThreshold is used for assets without a configured threshold
const DefaultMicrostopThreshold = 180 * time.Second

// State represents the operational state of an asset
type State string

const (
	StateRunning     State = "RUNNING"
	StateStopped     State = "STOPPED"
	StateError       State = "ERROR"
	StateMaintenance State = "MAINTENANCE"
)

// Valid reports whether s is one of the known states
func (s State) Valid() bool {
	switch s {
	case StateRunning, StateStopped, StateError, StateMaintenance:
		return true
	}
	return false
}

// EventType represents the kind of an asset event
type EventType string

const (
	EventStateChange      EventType = "STATE_CHANGE"
	EventStopStart        EventType = "STOP_START"
	EventStopEnd          EventType = "STOP_END"
	EventMicroStop        EventType = "MICRO_STOP"
	EventShiftStart       EventType = "SHIFT_START"
	EventShiftEnd         EventType = "SHIFT_END"
	EventMaintenanceStart EventType = "MAINTENANCE_START"
	EventMaintenanceEnd   EventType = "MAINTENANCE_END"
	EventError            EventType = "ERROR"
	EventHeartbeat        EventType = "HEARTBEAT"
)

// Valid reports whether t is one of the known event types
func (t EventType) Valid() bool {
	switch t {
	case EventStateChange, EventStopStart, EventStopEnd, EventMicroStop,
		EventShiftStart, EventShiftEnd, EventMaintenanceStart, EventMaintenanceEnd,
		EventError, EventHeartbeat:
		return true
	}
	return false
}

// Malformed input errors returned by Validate
var (
	ErrMissingAssetID   = errors.New("missing asset id")
	ErrUnknownEventType = errors.New("unknown event type")
	ErrUnknownState     = errors.New("unknown state")
	ErrNegativeDuration = errors.New("negative duration")
	ErrMissingStart     = errors.New("shift has no start time")
	ErrShiftDuration    = errors.New("shift end is not after its start")
)

// Event represents a discrete asset event as recorded upstream
type Event struct {
	ID            string     `json:"id"`
	AssetID       string     `json:"asset_id"`
	Timestamp     *time.Time `json:"timestamp"`
	RawTimestamp  string     `json:"raw_timestamp,omitempty"`
	Type          EventType  `json:"event_type"`
	PreviousState State      `json:"previous_state,omitempty"`
	NewState      State      `json:"new_state,omitempty"`
	Duration      *float64   `json:"duration,omitempty"` // seconds
	StopReason    string     `json:"stop_reason,omitempty"`
	ShiftID       string     `json:"shift_id,omitempty"`
}

// HasTimestamp reports whether the event carries a usable timestamp
func (e Event) HasTimestamp() bool {
	return e.Timestamp != nil && !e.Timestamp.IsZero()
}

// At returns the event timestamp or the zero time
func (e Event) At() time.Time {
	if e.Timestamp == nil {
		return time.Time{}
	}
	return *e.Timestamp
}

// DurationValue returns the authoritative duration, if any
func (e Event) DurationValue() (time.Duration, bool) {
	if e.Duration == nil {
		return 0, false
	}
	return time.Duration(*e.Duration * float64(time.Second)), true
}

// Validate checks the event for malformed fields. Timestamps are not
// checked here: a missing timestamp is an orphan, not a malformed event.
func (e Event) Validate() error {
	if strings.TrimSpace(e.AssetID) == "" {
		return ErrMissingAssetID
	}
	if !e.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownEventType, e.Type)
	}
	if e.PreviousState != "" && !e.PreviousState.Valid() {
		return fmt.Errorf("%w: previous_state %q", ErrUnknownState, e.PreviousState)
	}
	if e.NewState != "" && !e.NewState.Valid() {
		return fmt.Errorf("%w: new_state %q", ErrUnknownState, e.NewState)
	}
	if e.Duration != nil && *e.Duration < 0 {
		return ErrNegativeDuration
	}
	return nil
}

// Ref returns a compact reference to the event for diagnostics
func (e Event) Ref() EventRef {
	return EventRef{
		EventID:      e.ID,
		AssetID:      e.AssetID,
		Type:         e.Type,
		Timestamp:    e.Timestamp,
		RawTimestamp: e.RawTimestamp,
		ShiftID:      e.ShiftID,
	}
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05.999999-07",
	"2006-01-02 15:04:05-07:00",
}

// ParseTimestamp parses the timestamp layouts seen in event sources.
// Layouts without a zone are read as UTC.
func ParseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", raw)
}

// UnmarshalJSON decodes an event without failing on a bad timestamp; the
// raw text is kept and Timestamp stays nil.
func (e *Event) UnmarshalJSON(data []byte) error {
	type plain Event
	var aux struct {
		plain
		Timestamp json.RawMessage `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*e = Event(aux.plain)
	e.Timestamp = nil

	raw := strings.TrimSpace(string(aux.Timestamp))
	if raw == "" || raw == "null" {
		return nil
	}
	var text string
	if err := json.Unmarshal(aux.Timestamp, &text); err != nil {
		e.RawTimestamp = raw
		return nil
	}
	ts, err := ParseTimestamp(text)
	if err != nil {
		e.RawTimestamp = text
		return nil
	}
	e.Timestamp = &ts
	e.RawTimestamp = ""
	return nil
}

// EventRef identifies an event in diagnostics and proposals
type EventRef struct {
	EventID      string     `json:"event_id,omitempty"`
	AssetID      string     `json:"asset_id,omitempty"`
	Type         EventType  `json:"event_type,omitempty"`
	Timestamp    *time.Time `json:"timestamp,omitempty"`
	RawTimestamp string     `json:"raw_timestamp,omitempty"`
	ShiftID      string     `json:"shift_id,omitempty"`
	Detail       string     `json:"detail,omitempty"`
}

// ShiftStatus represents the lifecycle status of a shift
type ShiftStatus string

const (
	ShiftActive    ShiftStatus = "active"
	ShiftCompleted ShiftStatus = "completed"
	ShiftCancelled ShiftStatus = "cancelled"
)

// Shift represents a production shift
type Shift struct {
	ID        string      `json:"id"`
	Name      string      `json:"name,omitempty"`
	Line      string      `json:"line,omitempty"`
	StartTime time.Time   `json:"start_time"`
	EndTime   *time.Time  `json:"end_time"`
	Status    ShiftStatus `json:"status"`
}

// Open reports whether the shift has no end yet
func (s Shift) Open() bool {
	return s.EndTime == nil
}

// Validate checks the shift bounds
func (s Shift) Validate() error {
	if s.StartTime.IsZero() {
		return ErrMissingStart
	}
	if s.EndTime != nil && !s.EndTime.After(s.StartTime) {
		return ErrShiftDuration
	}
	return nil
}

// Asset represents a monitored piece of equipment
type Asset struct {
	ID                 string  `json:"id"`
	Name               string  `json:"name,omitempty"`
	Line               string  `json:"line,omitempty"`
	CurrentState       State   `json:"current_state,omitempty"`
	MicrostopThreshold float64 `json:"microstop_threshold"` // seconds
}

// Threshold returns the micro-stop threshold, falling back to def and then
// to DefaultMicrostopThreshold.
func (a Asset) Threshold(def time.Duration) time.Duration {
	if a.MicrostopThreshold > 0 {
		return time.Duration(a.MicrostopThreshold * float64(time.Second))
	}
	if def > 0 {
		return def
	}
	return DefaultMicrostopThreshold
}

// StateInterval is a contiguous span of a single state
type StateInterval struct {
	AssetID         string    `json:"asset_id"`
	ShiftID         string    `json:"shift_id,omitempty"`
	State           State     `json:"state"`
	Start           time.Time `json:"start"`
	End             time.Time `json:"end"`
	DurationSeconds float64   `json:"duration_seconds"`
}

// Duration returns End - Start
func (i StateInterval) Duration() time.Duration {
	return i.End.Sub(i.Start)
}

// Factor is an externally supplied OEE factor. A nil Value means the factor
// was not measured.
type Factor struct {
	Value *float64 `json:"value,omitempty"`
}

// Measured returns a measured factor
func Measured(v float64) Factor {
	return Factor{Value: &v}
}

// Factors holds the externally supplied OEE factors of one asset
type Factors struct {
	Performance Factor `json:"performance"`
	Quality     Factor `json:"quality"`
}

// UnmarshalJSON accepts either a bare number or {"value": n}
func (f *Factor) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" || raw == "" {
		f.Value = nil
		return nil
	}
	if strings.HasPrefix(raw, "{") {
		type plain Factor
		var p plain
		if err := json.Unmarshal(data, &p); err != nil {
			return err
		}
		*f = Factor(p)
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	f.Value = &v
	return nil
}
