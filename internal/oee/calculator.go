package oee

import (
	"math"

	"github.com/savegress/shiftkpi/pkg/models"
)

// Targets holds the OEE target levels (0-1 scale)
type Targets struct {
	OEE          float64 `yaml:"oee" json:"oee"`
	Availability float64 `yaml:"availability" json:"availability"`
	Performance  float64 `yaml:"performance" json:"performance"`
	Quality      float64 `yaml:"quality" json:"quality"`
}

// WithDefaults fills unset targets with world-class defaults
func (t Targets) WithDefaults() Targets {
	if t.OEE == 0 {
		t.OEE = 0.85
	}
	if t.Availability == 0 {
		t.Availability = 0.90
	}
	if t.Performance == 0 {
		t.Performance = 0.95
	}
	if t.Quality == 0 {
		t.Quality = 0.99
	}
	return t
}

// Result is the outcome of an OEE calculation
type Result struct {
	Block models.OEE
	// Clamped lists the factors that were outside [0,1] on input
	Clamped []string
}

// Calculate combines availability with the externally supplied performance
// and quality factors. Unmeasured factors count as 1.0 and are flagged as
// defaulted.
func Calculate(availability float64, performance, quality models.Factor, targets Targets) Result {
	var res Result
	b := &res.Block

	b.Availability = bounded("availability", availability, &res.Clamped)

	b.Performance = 1
	b.PerformanceDefaulted = performance.Value == nil
	if !b.PerformanceDefaulted {
		b.Performance = bounded("performance", *performance.Value, &res.Clamped)
	}

	b.Quality = 1
	b.QualityDefaulted = quality.Value == nil
	if !b.QualityDefaulted {
		b.Quality = bounded("quality", *quality.Value, &res.Clamped)
	}

	// OEE = Availability × Performance × Quality
	b.OEE = clamp(b.Availability*b.Performance*b.Quality, 0, 1)

	b.AvailabilityLoss = 1 - b.Availability
	b.PerformanceLoss = 1 - b.Performance
	b.QualityLoss = 1 - b.Quality

	res.Block = Evaluate(res.Block, targets)
	return res
}

// Evaluate sets the target flags of an OEE block
func Evaluate(o models.OEE, targets Targets) models.OEE {
	targets = targets.WithDefaults()
	o.MeetsOEETarget = o.OEE >= targets.OEE
	o.MeetsAvailabilityTarget = o.Availability >= targets.Availability
	o.MeetsPerformanceTarget = o.Performance >= targets.Performance
	o.MeetsQualityTarget = o.Quality >= targets.Quality
	return o
}

// Average returns the mean OEE block of several assets. A factor counts as
// defaulted in the average only when it is defaulted for every asset.
func Average(blocks []models.OEE, targets Targets) models.OEE {
	var out models.OEE
	if len(blocks) == 0 {
		return out
	}

	out.PerformanceDefaulted = true
	out.QualityDefaulted = true
	var totalOEE, totalAvail, totalPerf, totalQual float64
	for _, b := range blocks {
		totalOEE += b.OEE
		totalAvail += b.Availability
		totalPerf += b.Performance
		totalQual += b.Quality
		out.PerformanceDefaulted = out.PerformanceDefaulted && b.PerformanceDefaulted
		out.QualityDefaulted = out.QualityDefaulted && b.QualityDefaulted
	}

	n := float64(len(blocks))
	out.OEE = totalOEE / n
	out.Availability = totalAvail / n
	out.Performance = totalPerf / n
	out.Quality = totalQual / n
	out.AvailabilityLoss = 1 - out.Availability
	out.PerformanceLoss = 1 - out.Performance
	out.QualityLoss = 1 - out.Quality

	return Evaluate(out, targets)
}

func bounded(name string, v float64, clamped *[]string) float64 {
	if math.IsNaN(v) {
		*clamped = append(*clamped, name)
		return 0
	}
	c := clamp(v, 0, 1)
	if c != v {
		*clamped = append(*clamped, name)
	}
	return c
}

func clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
