package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/savegress/shiftkpi/internal/engine"
	"github.com/savegress/shiftkpi/internal/service"
	"github.com/savegress/shiftkpi/internal/store"
	"github.com/savegress/shiftkpi/pkg/models"
	"github.com/savegress/shiftkpi/pkg/workerpool"
)

// Health check
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"service": "shiftkpi",
		"time":    time.Now().UTC(),
	})
}

// Compute handlers

type computeShiftRequest struct {
	engine.Input
	ShiftID   string `json:"shift_id"`
	Intervals *bool  `json:"intervals,omitempty"`
}

type computeWindowRequest struct {
	engine.Input
	From      time.Time `json:"from"`
	To        time.Time `json:"to"`
	Intervals *bool     `json:"intervals,omitempty"`
}

func (s *Server) computeShift(w http.ResponseWriter, r *http.Request) {
	var req computeShiftRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.ShiftID == "" {
		respondError(w, http.StatusBadRequest, "shift_id is required")
		return
	}

	report, err := s.service.ComputeShift(r.Context(), req.Input, req.ShiftID, s.intervals(req.Intervals))
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

func (s *Server) computeWindow(w http.ResponseWriter, r *http.Request) {
	var req computeWindowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	report, err := s.service.ComputeWindow(r.Context(), req.Input, req.From, req.To, s.intervals(req.Intervals))
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

// Report handlers

func (s *Server) shiftReport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	now, err := s.parseNow(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	intervals, err := s.parseIntervals(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	report, err := s.service.ShiftReport(r.Context(), id, now, intervals)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

func (s *Server) windowReport(w http.ResponseWriter, r *http.Request) {
	from, err := parseTime(r, "from")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	to, err := parseTime(r, "to")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if from.IsZero() || to.IsZero() {
		respondError(w, http.StatusBadRequest, "from and to are required")
		return
	}
	now, err := s.parseNow(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	intervals, err := s.parseIntervals(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	report, err := s.service.WindowReport(r.Context(), from, to, now, intervals)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

// Input handlers

func (s *Server) listAssets(w http.ResponseWriter, r *http.Request) {
	assets, err := s.service.ListAssets(r.Context())
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, assets)
}

func (s *Server) saveAssets(w http.ResponseWriter, r *http.Request) {
	var assets []models.Asset
	if err := json.NewDecoder(r.Body).Decode(&assets); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := s.service.SaveAssets(r.Context(), assets); err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, assets)
}

func (s *Server) saveShifts(w http.ResponseWriter, r *http.Request) {
	var shiftList []models.Shift
	if err := json.NewDecoder(r.Body).Decode(&shiftList); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := s.service.SaveShifts(r.Context(), shiftList); err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, shiftList)
}

func (s *Server) saveEvents(w http.ResponseWriter, r *http.Request) {
	var events []models.Event
	if err := json.NewDecoder(r.Body).Decode(&events); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	saved, err := s.service.SaveEvents(r.Context(), events)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"count":  len(saved),
		"events": saved,
	})
}

// Repair handlers

func (s *Server) proposeRepairs(w http.ResponseWriter, r *http.Request) {
	var req service.RepairRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Now.IsZero() {
		req.Now = s.opts.Clock()
	}

	proposal, err := s.service.ProposeRepairs(r.Context(), req)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, proposal)
}

type applyRequest struct {
	Corrections []models.Correction `json:"corrections"`
	Actor       string              `json:"actor,omitempty"`
}

func (s *Server) applyRepairs(w http.ResponseWriter, r *http.Request) {
	var req applyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	// An authenticated subject always wins over a self-declared actor.
	actor := req.Actor
	if sub, ok := ActorFromContext(r.Context()); ok {
		actor = sub
	}

	applied, err := s.service.ApplyRepairs(r.Context(), req.Corrections, actor, s.opts.Clock())
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, applied)
}

func (s *Server) listCorrections(w http.ResponseWriter, r *http.Request) {
	applied, err := s.service.ListCorrections(r.Context())
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, applied)
}

// Helper functions

func (s *Server) intervals(v *bool) bool {
	if v == nil {
		return s.service.IncludeIntervals()
	}
	return *v
}

func (s *Server) parseNow(r *http.Request) (time.Time, error) {
	now, err := parseTime(r, "now")
	if err != nil {
		return time.Time{}, err
	}
	if now.IsZero() {
		return s.opts.Clock(), nil
	}
	return now, nil
}

func (s *Server) parseIntervals(r *http.Request) (bool, error) {
	raw := r.URL.Query().Get("intervals")
	if raw == "" {
		return s.service.IncludeIntervals(), nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid intervals %q", raw)
	}
	return v, nil
}

func parseTime(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := models.ParseTimestamp(raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s %q", name, raw)
	}
	return t, nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrShiftNotFound), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrWindowNotStarted):
		return http.StatusUnprocessableEntity
	case errors.Is(err, engine.ErrMissingNow),
		errors.Is(err, engine.ErrInvalidShift),
		errors.Is(err, engine.ErrInvalidWindow),
		errors.Is(err, store.ErrInvalidCorrection),
		errors.Is(err, service.ErrMissingActor),
		errors.Is(err, models.ErrMissingAssetID),
		errors.Is(err, models.ErrMissingStart),
		errors.Is(err, models.ErrShiftDuration):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, workerpool.ErrPoolClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondServiceError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "status", status, "error", err)
	}
	respondError(w, status, err.Error())
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]interface{}{
		"error":   http.StatusText(status),
		"message": message,
	})
}
