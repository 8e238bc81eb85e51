package kpi

import (
	"fmt"
	"time"

	"github.com/savegress/shiftkpi/pkg/models"
)

// ReliabilityResult holds MTBF and MTTR of one interval sequence
type ReliabilityResult struct {
	MTBF             time.Duration
	MTTR             time.Duration
	FullStops        int
	InsufficientData bool
	Reason           string
}

// Reliability derives MTBF and MTTR from full stops only. MTTR is the mean
// full-stop duration; MTBF is the mean running time between consecutive
// full stops. Fewer than two full stops yields zeros flagged as
// insufficient data.
func Reliability(intervals []models.StateInterval, threshold time.Duration) ReliabilityResult {
	var (
		repair  time.Duration
		between []time.Duration
		stops   int
		running time.Duration
	)
	for _, iv := range intervals {
		d := iv.Duration()
		switch {
		case iv.State == models.StateStopped && d >= threshold:
			if stops > 0 {
				between = append(between, running)
			}
			stops++
			repair += d
			running = 0
		case iv.State == models.StateRunning:
			running += d
		}
	}

	res := ReliabilityResult{FullStops: stops}
	if stops < 2 {
		res.InsufficientData = true
		res.Reason = fmt.Sprintf("%d full stop(s) in window, at least 2 required", stops)
		return res
	}
	res.MTTR = repair / time.Duration(stops)
	var total time.Duration
	for _, b := range between {
		total += b
	}
	res.MTBF = total / time.Duration(len(between))
	return res
}
