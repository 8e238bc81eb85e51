// Package store defines persistence for assets, shifts, events and the
// audit trail of applied corrections.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/savegress/shiftkpi/pkg/models"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidCorrection = errors.New("invalid correction")
)

// EventQuery selects events by timestamp. Both bounds are inclusive; a zero
// bound is open. Untimed events carry no usable timestamp and are only
// returned when IncludeUntimed is set.
type EventQuery struct {
	AssetID        string
	From           time.Time
	To             time.Time
	IncludeUntimed bool
}

// Matches reports whether an event satisfies the query
func (q EventQuery) Matches(ev models.Event) bool {
	if q.AssetID != "" && ev.AssetID != q.AssetID {
		return false
	}
	if !ev.HasTimestamp() {
		return q.IncludeUntimed
	}
	ts := ev.At()
	if !q.From.IsZero() && ts.Before(q.From) {
		return false
	}
	if !q.To.IsZero() && ts.After(q.To) {
		return false
	}
	return true
}

// Store persists the inputs of KPI computations. Events are returned in
// timestamp order; events with equal timestamps keep their insertion order.
type Store interface {
	SaveAssets(ctx context.Context, assets []models.Asset) error
	ListAssets(ctx context.Context) ([]models.Asset, error)

	SaveShifts(ctx context.Context, shifts []models.Shift) error
	GetShift(ctx context.Context, id string) (models.Shift, error)
	// ListShifts returns shifts overlapping [from, to]; zero bounds are open.
	ListShifts(ctx context.Context, from, to time.Time) ([]models.Shift, error)

	// SaveEvents upserts events by ID and assigns IDs to events without one.
	SaveEvents(ctx context.Context, events []models.Event) ([]models.Event, error)
	ListEvents(ctx context.Context, q EventQuery) ([]models.Event, error)

	// ApplyCorrections updates the referenced events and writes one audit
	// record per correction. Either every correction is applied or none is.
	ApplyCorrections(ctx context.Context, corrections []models.Correction, actor string, at time.Time) ([]models.AppliedCorrection, error)
	ListCorrections(ctx context.Context) ([]models.AppliedCorrection, error)

	Close() error
}

// ShiftOverlaps reports whether a shift overlaps [from, to]
func ShiftOverlaps(s models.Shift, from, to time.Time) bool {
	if !to.IsZero() && s.StartTime.After(to) {
		return false
	}
	if !from.IsZero() && s.EndTime != nil && s.EndTime.Before(from) {
		return false
	}
	return true
}

// ValidateCorrection checks that a correction carries what applying it needs
func ValidateCorrection(c models.Correction) error {
	if c.EventID == "" {
		return fmt.Errorf("%w: missing event id", ErrInvalidCorrection)
	}
	switch c.Kind {
	case models.CorrectionShiftReassignment:
		if c.ProposedShiftID == "" {
			return fmt.Errorf("%w: %s without proposed shift", ErrInvalidCorrection, c.EventID)
		}
	case models.CorrectionTimestampCorrection:
		if c.ProposedTimestamp == nil {
			return fmt.Errorf("%w: %s without proposed timestamp", ErrInvalidCorrection, c.EventID)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidCorrection, c.Kind)
	}
	return nil
}

// ValidateCorrections checks every correction of a batch and rejects a batch
// that corrects the same event more than once
func ValidateCorrections(corrections []models.Correction) error {
	seen := make(map[string]string, len(corrections))
	for _, c := range corrections {
		if err := ValidateCorrection(c); err != nil {
			return err
		}
		if kind, ok := seen[c.EventID]; ok {
			return fmt.Errorf("%w: %s corrected twice (%s and %s)", ErrInvalidCorrection, c.EventID, kind, c.Kind)
		}
		seen[c.EventID] = string(c.Kind)
	}
	return nil
}

// Apply returns the event with a correction applied
func Apply(ev models.Event, c models.Correction) models.Event {
	switch c.Kind {
	case models.CorrectionShiftReassignment:
		ev.ShiftID = c.ProposedShiftID
	case models.CorrectionTimestampCorrection:
		ts := c.ProposedTimestamp.UTC()
		ev.Timestamp = &ts
		ev.RawTimestamp = ""
	}
	return ev
}
