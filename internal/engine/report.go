package engine

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/savegress/shiftkpi/internal/kpi"
	"github.com/savegress/shiftkpi/internal/oee"
	"github.com/savegress/shiftkpi/pkg/models"
)

const (
	hourPlaces    = 4
	percentPlaces = 2
	factorPlaces  = 4
)

const noDataReason = "no events recorded in window; asset assumed RUNNING throughout"

func buildKPI(p kpi.Partial, rel kpi.ReliabilityResult, block models.OEE, zeroEvents bool) models.KPI {
	k := durations(p)
	k.StopFrequencyPerHour = round(p.StopFrequencyPerHour(), hourPlaces)
	k.AvgMTBFHours = hours(rel.MTBF)
	k.AvgMTTRHours = hours(rel.MTTR)
	k.ReliabilityInsufficientData = rel.InsufficientData
	k.ReliabilityReason = rel.Reason
	if zeroEvents {
		k.NoData = true
		k.NoDataReason = noDataReason
	}
	k.OEE = roundOEE(block)
	k.OEEPercentage = percent(block.OEE)
	return k
}

func durations(p kpi.Partial) models.KPI {
	return models.KPI{
		WindowHours:          hours(p.Window),
		OverallAvailability:  percent(p.Availability()),
		TotalRuntimeHours:    hours(p.Runtime),
		TotalDowntimeHours:   hours(p.Downtime),
		FullStopTimeHours:    hours(p.FullStopTime),
		ErrorTimeHours:       hours(p.ErrorTime),
		MaintenanceTimeHours: hours(p.MaintenanceTime),
		TotalStops:           p.TotalStops,
		ErrorCount:           p.ErrorCount,
		MaintenanceCount:     p.MaintenanceCount,
		MicroStops:           p.MicroStops,
		MicroStopTimeHours:   hours(p.MicroStopTime),
		MicroStopPercentage:  round(p.MicroStopPercentage(), percentPlaces),
	}
}

// rollup aggregates per-asset results. Durations and counts are summed over
// all assets. Availability and OEE only cover assets with events unless
// every asset is silent; reliability is averaged over assets with
// sufficient data.
func rollup(results []JobResult, scope models.ReportScope, targets oee.Targets) models.KPI {
	window := scope.EffectiveEnd.Sub(scope.Start)
	if window < 0 {
		window = 0
	}
	if len(results) == 0 {
		k := models.KPI{WindowHours: hours(window), NoData: true, NoDataReason: "no assets in scope"}
		k.ReliabilityInsufficientData = true
		k.ReliabilityReason = "no assets in scope"
		return k
	}

	var (
		sum      kpi.Partial
		measured kpi.Partial
		mtbf     time.Duration
		mttr     time.Duration
		reliable int
		silent   int
		all      = make([]models.OEE, 0, len(results))
		blocks   = make([]models.OEE, 0, len(results))
	)
	for _, r := range results {
		sum = sum.Add(r.Partial)
		if !r.Reliability.InsufficientData {
			mtbf += r.Reliability.MTBF
			mttr += r.Reliability.MTTR
			reliable++
		}
		all = append(all, r.OEE)
		if r.Asset.KPI.NoData {
			silent++
			continue
		}
		measured = measured.Add(r.Partial)
		blocks = append(blocks, r.OEE)
	}
	if len(blocks) == 0 {
		measured, blocks = sum, all
	}

	k := durations(sum)
	// The summary window is the scope window, not the sum of asset windows.
	k.WindowHours = hours(window)
	k.OverallAvailability = percent(measured.Availability())
	k.NoDataAssets = silent
	if h := window.Hours(); h > 0 {
		k.StopFrequencyPerHour = round(float64(sum.TotalStops)/h, hourPlaces)
	}
	if reliable > 0 {
		k.AvgMTBFHours = hours(mtbf / time.Duration(reliable))
		k.AvgMTTRHours = hours(mttr / time.Duration(reliable))
	} else {
		k.ReliabilityInsufficientData = true
		k.ReliabilityReason = "no asset has at least 2 full stops"
	}
	if silent == len(results) {
		k.NoData = true
		k.NoDataReason = noDataReason
	}

	avg := oee.Average(blocks, targets)
	k.OEE = roundOEE(avg)
	k.OEEPercentage = percent(avg.OEE)
	return k
}

func roundOEE(o models.OEE) models.OEE {
	o.Availability = round(o.Availability, factorPlaces)
	o.Performance = round(o.Performance, factorPlaces)
	o.Quality = round(o.Quality, factorPlaces)
	o.OEE = round(o.OEE, factorPlaces)
	o.AvailabilityLoss = round(o.AvailabilityLoss, factorPlaces)
	o.PerformanceLoss = round(o.PerformanceLoss, factorPlaces)
	o.QualityLoss = round(o.QualityLoss, factorPlaces)
	return o
}

func hours(d time.Duration) float64 {
	return round(d.Hours(), hourPlaces)
}

func percent(ratio float64) float64 {
	return round(ratio*100, percentPlaces)
}

// round rounds half away from zero
func round(v float64, places int32) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return decimal.NewFromFloat(v).Round(places).InexactFloat64()
}
