// Package kpi aggregates reconstructed state timelines into runtime,
// downtime, stop and reliability figures.
package kpi

import (
	"time"

	"github.com/savegress/shiftkpi/pkg/models"
)

// Partial holds the duration and count figures of one interval sequence
type Partial struct {
	Window          time.Duration
	Runtime         time.Duration
	Downtime        time.Duration // full stops + error + maintenance
	FullStopTime    time.Duration
	MicroStopTime   time.Duration
	ErrorTime       time.Duration
	MaintenanceTime time.Duration

	TotalStops       int
	MicroStops       int
	ErrorCount       int
	MaintenanceCount int
}

// Aggregate classifies every interval. A STOPPED interval strictly shorter
// than threshold is a micro-stop; otherwise it is a full stop.
func Aggregate(intervals []models.StateInterval, threshold, window time.Duration) Partial {
	p := Partial{Window: window}
	for _, iv := range intervals {
		d := iv.Duration()
		switch iv.State {
		case models.StateRunning:
			p.Runtime += d
		case models.StateStopped:
			if d < threshold {
				p.MicroStops++
				p.MicroStopTime += d
			} else {
				p.TotalStops++
				p.FullStopTime += d
				p.Downtime += d
			}
		case models.StateError:
			p.ErrorCount++
			p.ErrorTime += d
			p.Downtime += d
		case models.StateMaintenance:
			p.MaintenanceCount++
			p.MaintenanceTime += d
			p.Downtime += d
		}
	}
	return p
}

// Availability returns runtime / (runtime + downtime), 0 when undefined
func (p Partial) Availability() float64 {
	return ratio(p.Runtime, p.Runtime+p.Downtime)
}

// StopFrequencyPerHour returns full stops per window hour
func (p Partial) StopFrequencyPerHour() float64 {
	hours := p.Window.Hours()
	if hours <= 0 {
		return 0
	}
	return float64(p.TotalStops) / hours
}

// MicroStopPercentage returns micro-stop time as a percent of runtime + downtime
func (p Partial) MicroStopPercentage() float64 {
	return ratio(p.MicroStopTime, p.Runtime+p.Downtime) * 100
}

// Accounted returns the sum of every classified bucket. It equals Window
// for a sequence that covers its window.
func (p Partial) Accounted() time.Duration {
	return p.Runtime + p.FullStopTime + p.MicroStopTime + p.ErrorTime + p.MaintenanceTime
}

// Add sums two partials
func (p Partial) Add(o Partial) Partial {
	return Partial{
		Window:           p.Window + o.Window,
		Runtime:          p.Runtime + o.Runtime,
		Downtime:         p.Downtime + o.Downtime,
		FullStopTime:     p.FullStopTime + o.FullStopTime,
		MicroStopTime:    p.MicroStopTime + o.MicroStopTime,
		ErrorTime:        p.ErrorTime + o.ErrorTime,
		MaintenanceTime:  p.MaintenanceTime + o.MaintenanceTime,
		TotalStops:       p.TotalStops + o.TotalStops,
		MicroStops:       p.MicroStops + o.MicroStops,
		ErrorCount:       p.ErrorCount + o.ErrorCount,
		MaintenanceCount: p.MaintenanceCount + o.MaintenanceCount,
	}
}

func ratio(num, den time.Duration) float64 {
	if den <= 0 {
		return 0
	}
	return float64(num) / float64(den)
}
