// Package memory implements an in-process store
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/savegress/shiftkpi/internal/store"
	"github.com/savegress/shiftkpi/pkg/models"
)

type storedEvent struct {
	seq   int64
	event models.Event
}

// Store keeps everything in maps guarded by a mutex
type Store struct {
	mu          sync.RWMutex
	assets      map[string]models.Asset
	shifts      map[string]models.Shift
	events      map[string]*storedEvent
	corrections []models.AppliedCorrection
	seq         int64
}

// New creates an empty in-memory store
func New() *Store {
	return &Store{
		assets: make(map[string]models.Asset),
		shifts: make(map[string]models.Shift),
		events: make(map[string]*storedEvent),
	}
}

var _ store.Store = (*Store)(nil)

func (s *Store) SaveAssets(ctx context.Context, assets []models.Asset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range assets {
		if a.ID == "" {
			return fmt.Errorf("save asset: %w", models.ErrMissingAssetID)
		}
		s.assets[a.ID] = a
	}
	return nil
}

func (s *Store) ListAssets(ctx context.Context) ([]models.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Asset, 0, len(s.assets))
	for _, a := range s.assets {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) SaveShifts(ctx context.Context, shifts []models.Shift) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sh := range shifts {
		if sh.ID == "" {
			return fmt.Errorf("save shift: missing id")
		}
		s.shifts[sh.ID] = sh
	}
	return nil
}

func (s *Store) GetShift(ctx context.Context, id string) (models.Shift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sh, ok := s.shifts[id]
	if !ok {
		return models.Shift{}, fmt.Errorf("shift %s: %w", id, store.ErrNotFound)
	}
	return sh, nil
}

func (s *Store) ListShifts(ctx context.Context, from, to time.Time) ([]models.Shift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Shift, 0, len(s.shifts))
	for _, sh := range s.shifts {
		if store.ShiftOverlaps(sh, from, to) {
			out = append(out, sh)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].StartTime.Before(out[j].StartTime)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) SaveEvents(ctx context.Context, events []models.Event) ([]models.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	saved := make([]models.Event, 0, len(events))
	for _, ev := range events {
		if ev.ID == "" {
			ev.ID = uuid.NewString()
		}
		if existing, ok := s.events[ev.ID]; ok {
			existing.event = ev
		} else {
			s.seq++
			s.events[ev.ID] = &storedEvent{seq: s.seq, event: ev}
		}
		saved = append(saved, ev)
	}
	return saved, nil
}

func (s *Store) ListEvents(ctx context.Context, q store.EventQuery) ([]models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	matched := make([]*storedEvent, 0)
	for _, se := range s.events {
		if q.Matches(se.event) {
			matched = append(matched, se)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		ta, tb := a.event.At(), b.event.At()
		if !ta.Equal(tb) {
			return ta.Before(tb)
		}
		return a.seq < b.seq
	})
	out := make([]models.Event, len(matched))
	for i, se := range matched {
		out[i] = se.event
	}
	return out, nil
}

func (s *Store) ApplyCorrections(ctx context.Context, corrections []models.Correction, actor string, at time.Time) ([]models.AppliedCorrection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Validate everything first so a bad correction leaves no partial writes.
	if err := store.ValidateCorrections(corrections); err != nil {
		return nil, err
	}
	for _, c := range corrections {
		if _, ok := s.events[c.EventID]; !ok {
			return nil, fmt.Errorf("event %s: %w", c.EventID, store.ErrNotFound)
		}
		if c.Kind == models.CorrectionShiftReassignment {
			if _, ok := s.shifts[c.ProposedShiftID]; !ok {
				return nil, fmt.Errorf("shift %s: %w", c.ProposedShiftID, store.ErrNotFound)
			}
		}
	}

	applied := make([]models.AppliedCorrection, 0, len(corrections))
	for _, c := range corrections {
		se := s.events[c.EventID]
		se.event = store.Apply(se.event, c)
		applied = append(applied, models.AppliedCorrection{Correction: c, AppliedBy: actor, AppliedAt: at})
	}
	s.corrections = append(s.corrections, applied...)
	return applied, nil
}

func (s *Store) ListCorrections(ctx context.Context) ([]models.AppliedCorrection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.AppliedCorrection(nil), s.corrections...), nil
}

func (s *Store) Close() error {
	return nil
}
