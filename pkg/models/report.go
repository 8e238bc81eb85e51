package models

import (
	"time"
)

// ScopeKind distinguishes shift reports from arbitrary window reports
type ScopeKind string

const (
	ScopeShift  ScopeKind = "shift"
	ScopeWindow ScopeKind = "window"
)

// ReportScope describes the time window a report covers
type ReportScope struct {
	Kind         ScopeKind `json:"kind"`
	ShiftID      string    `json:"shift_id,omitempty"`
	Start        time.Time `json:"start"`
	End          time.Time `json:"end,omitempty"`
	EffectiveEnd time.Time `json:"effective_end"`
	Open         bool      `json:"open"`
}

// OEE contains the OEE factors of an asset or a roll-up (0-1 scale)
type OEE struct {
	Availability         float64 `json:"availability"`
	Performance          float64 `json:"performance"`
	Quality              float64 `json:"quality"`
	OEE                  float64 `json:"oee"`
	AvailabilityLoss     float64 `json:"availability_loss"`
	PerformanceLoss      float64 `json:"performance_loss"`
	QualityLoss          float64 `json:"quality_loss"`
	PerformanceDefaulted bool    `json:"performance_defaulted"`
	QualityDefaulted     bool    `json:"quality_defaulted"`

	MeetsOEETarget          bool `json:"meets_oee_target"`
	MeetsAvailabilityTarget bool `json:"meets_availability_target"`
	MeetsPerformanceTarget  bool `json:"meets_performance_target"`
	MeetsQualityTarget      bool `json:"meets_quality_target"`
}

// KPI contains the figures derived for one asset or a roll-up of assets
type KPI struct {
	WindowHours          float64 `json:"window_hours"`
	OverallAvailability  float64 `json:"overall_availability"` // percent
	TotalRuntimeHours    float64 `json:"total_runtime_hours"`
	TotalDowntimeHours   float64 `json:"total_downtime_hours"`
	FullStopTimeHours    float64 `json:"full_stop_time_hours"`
	ErrorTimeHours       float64 `json:"error_time_hours"`
	MaintenanceTimeHours float64 `json:"maintenance_time_hours"`
	TotalStops           int     `json:"total_stops"`
	ErrorCount           int     `json:"error_count"`
	MaintenanceCount     int     `json:"maintenance_count"`
	StopFrequencyPerHour float64 `json:"stop_frequency_per_hour"`
	MicroStops           int     `json:"micro_stops"`
	MicroStopTimeHours   float64 `json:"micro_stop_time_hours"`
	MicroStopPercentage  float64 `json:"micro_stop_percentage"`
	AvgMTBFHours         float64 `json:"avg_mtbf_hours"`
	AvgMTTRHours         float64 `json:"avg_mttr_hours"`

	ReliabilityInsufficientData bool   `json:"reliability_insufficient_data"`
	ReliabilityReason           string `json:"reliability_reason,omitempty"`
	NoData                      bool   `json:"no_data"`
	NoDataReason                string `json:"no_data_reason,omitempty"`
	// NoDataAssets counts assets of a roll-up that had no events in scope
	NoDataAssets int `json:"no_data_assets,omitempty"`

	OEEPercentage float64 `json:"oee_percentage"`
	OEE           OEE     `json:"oee"`
}

// AssetReport holds the KPI of a single asset in a report
type AssetReport struct {
	AssetID            string          `json:"asset_id"`
	MicrostopThreshold float64         `json:"microstop_threshold_seconds"`
	EventCount         int             `json:"event_count"`
	KPI                KPI             `json:"kpi"`
	Intervals          []StateInterval `json:"intervals,omitempty"`
}

// Failure records a per-asset computation that failed loudly
type Failure struct {
	AssetID string `json:"asset_id"`
	ShiftID string `json:"shift_id,omitempty"`
	Error   string `json:"error"`
}

// Report is the KPI report of one shift or window
type Report struct {
	ID          string        `json:"id,omitempty"`
	Scope       ReportScope   `json:"scope"`
	GeneratedAt time.Time     `json:"generated_at"`
	Assets      []AssetReport `json:"assets"`
	Summary     KPI           `json:"summary"`
	Anomalies   AnomalyReport `json:"anomalies"`
	Failures    []Failure     `json:"failures,omitempty"`
}

// AnomalyKind identifies a diagnostic category
type AnomalyKind string

const (
	AnomalyOrphan            AnomalyKind = "orphan_event"
	AnomalyInvalidTimestamp  AnomalyKind = "invalid_timestamp"
	AnomalyMalformedEvent    AnomalyKind = "malformed_event"
	AnomalyInvalidShift      AnomalyKind = "invalid_shift"
	AnomalyInferredStart     AnomalyKind = "inferred_start_state"
	AnomalyZeroEventWindow   AnomalyKind = "zero_event_window"
	AnomalyOutOfWindow       AnomalyKind = "dropped_out_of_window"
	AnomalyMicroStopClipped  AnomalyKind = "micro_stop_clipped"
	AnomalyMicroStopInvalid  AnomalyKind = "micro_stop_without_duration"
	AnomalyStateMismatch     AnomalyKind = "state_mismatch"
	AnomalyMissingNewState   AnomalyKind = "state_change_without_new_state"
	AnomalyFactorClamped     AnomalyKind = "factor_clamped"
	AnomalyStaleShiftID      AnomalyKind = "stale_shift_id"
	AnomalyComputationFailed AnomalyKind = "computation_failed"
)

// InferredStart records a window whose opening state was not observed
type InferredStart struct {
	AssetID string    `json:"asset_id"`
	ShiftID string    `json:"shift_id,omitempty"`
	State   State     `json:"state"`
	Source  string    `json:"source"` // previous_state or default
	Start   time.Time `json:"start"`
	Until   time.Time `json:"until"`
}

// WindowRef identifies an (asset, window) pair
type WindowRef struct {
	AssetID string    `json:"asset_id"`
	ShiftID string    `json:"shift_id,omitempty"`
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
	Reason  string    `json:"reason,omitempty"`
}

// ShiftRef identifies a rejected shift
type ShiftRef struct {
	ShiftID string `json:"shift_id"`
	Reason  string `json:"reason"`
}

// AnomalyReport is the diagnostic sibling of a KPI report
type AnomalyReport struct {
	Counts             map[AnomalyKind]int `json:"counts"`
	Orphans            []EventRef          `json:"orphans,omitempty"`
	InvalidTimestamps  []EventRef          `json:"invalid_timestamps,omitempty"`
	MalformedEvents    []EventRef          `json:"malformed_events,omitempty"`
	InvalidShifts      []ShiftRef          `json:"invalid_shifts,omitempty"`
	InferredStarts     []InferredStart     `json:"inferred_starts,omitempty"`
	ZeroEventWindows   []WindowRef         `json:"zero_event_windows,omitempty"`
	DroppedOutOfWindow []EventRef          `json:"dropped_out_of_window,omitempty"`
	ClippedMicroStops  []EventRef          `json:"clipped_micro_stops,omitempty"`
	InvalidMicroStops  []EventRef          `json:"invalid_micro_stops,omitempty"`
	StateMismatches    []EventRef          `json:"state_mismatches,omitempty"`
	MissingNewStates   []EventRef          `json:"missing_new_states,omitempty"`
	StaleShiftIDs      []EventRef          `json:"stale_shift_ids,omitempty"`
	ClampedFactors     []WindowRef         `json:"clamped_factors,omitempty"`
	FailedComputations []WindowRef         `json:"failed_computations,omitempty"`
}

// Total returns the number of recorded anomalies
func (r AnomalyReport) Total() int {
	n := 0
	for _, c := range r.Counts {
		n += c
	}
	return n
}

// CorrectionKind identifies a repair proposal type
type CorrectionKind string

const (
	CorrectionShiftReassignment   CorrectionKind = "shift_reassignment"
	CorrectionTimestampCorrection CorrectionKind = "timestamp_correction"
)

// Correction is a reviewable proposal to repair a stored event
type Correction struct {
	ID                string         `json:"id"`
	Kind              CorrectionKind `json:"kind"`
	EventID           string         `json:"event_id"`
	AssetID           string         `json:"asset_id"`
	CurrentShiftID    string         `json:"current_shift_id,omitempty"`
	ProposedShiftID   string         `json:"proposed_shift_id,omitempty"`
	CurrentTimestamp  *time.Time     `json:"current_timestamp,omitempty"`
	ProposedTimestamp *time.Time     `json:"proposed_timestamp,omitempty"`
	OffsetSeconds     float64        `json:"offset_seconds,omitempty"`
	Reason            string         `json:"reason"`
	ProposedAt        time.Time      `json:"proposed_at"`
}

// AppliedCorrection is the audit record of an applied correction
type AppliedCorrection struct {
	Correction
	AppliedBy string    `json:"applied_by"`
	AppliedAt time.Time `json:"applied_at"`
}
