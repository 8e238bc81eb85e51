package service

import (
	"context"
	"fmt"
	"time"

	"github.com/savegress/shiftkpi/internal/repair"
	"github.com/savegress/shiftkpi/internal/store"
	"github.com/savegress/shiftkpi/pkg/models"
)

// RepairRequest selects the events to examine
type RepairRequest struct {
	From  time.Time               `json:"from"`
	To    time.Time               `json:"to"`
	Now   time.Time               `json:"now"`
	Kinds []models.CorrectionKind `json:"kinds,omitempty"` // empty = all kinds
}

func (r RepairRequest) wants(kind models.CorrectionKind) bool {
	if len(r.Kinds) == 0 {
		return true
	}
	for _, k := range r.Kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// ProposeRepairs examines stored events in [from, to] and returns reviewable
// corrections. Nothing is written.
func (s *Service) ProposeRepairs(ctx context.Context, req RepairRequest) (repair.Proposal, error) {
	offsets := s.repairOffsets
	if len(offsets) == 0 {
		offsets = repair.DefaultOffsets
	}
	var margin time.Duration
	for _, off := range offsets {
		if off < 0 {
			off = -off
		}
		if off > margin {
			margin = off
		}
	}

	from, to := req.From, req.To
	if !from.IsZero() {
		from = from.Add(-margin)
	}
	if !to.IsZero() {
		to = to.Add(margin)
	}

	shiftList, err := s.store.ListShifts(ctx, from, to)
	if err != nil {
		return repair.Proposal{}, fmt.Errorf("load shifts: %w", err)
	}
	events, err := s.store.ListEvents(ctx, store.EventQuery{From: req.From, To: req.To, IncludeUntimed: true})
	if err != nil {
		return repair.Proposal{}, fmt.Errorf("load events: %w", err)
	}

	var proposal repair.Proposal
	if req.wants(models.CorrectionShiftReassignment) {
		proposal = repair.Merge(proposal, repair.ProposeShiftReassignments(events, shiftList, req.Now))
	}
	if req.wants(models.CorrectionTimestampCorrection) {
		proposal = repair.Merge(proposal, repair.ProposeTimestampCorrections(events, shiftList, req.Now, offsets))
	}

	s.metrics.Corrections(proposal.Corrections, "proposed")
	s.logger.Info("repair proposals generated",
		"corrections", len(proposal.Corrections),
		"unrepairable", len(proposal.Unrepairable),
	)
	return proposal, nil
}

// ApplyRepairs applies reviewed corrections on behalf of actor and records
// the audit trail.
func (s *Service) ApplyRepairs(ctx context.Context, corrections []models.Correction, actor string, at time.Time) ([]models.AppliedCorrection, error) {
	if actor == "" {
		return nil, ErrMissingActor
	}
	applied, err := s.store.ApplyCorrections(ctx, corrections, actor, at)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx)

	s.metrics.Corrections(corrections, "applied")
	s.logger.Info("corrections applied", "actor", actor, "count", len(applied))
	return applied, nil
}

// ListCorrections returns the audit trail of applied corrections
func (s *Service) ListCorrections(ctx context.Context) ([]models.AppliedCorrection, error) {
	return s.store.ListCorrections(ctx)
}
