package cluster

import (
	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/stat"

	"github.com/sells-group/ridecorr/internal/model"
)

// Band labels, innermost first.
const (
	BandWithin1Sigma  = "within_1_sigma"
	BandWithin2Sigma  = "within_2_sigma"
	BandOutside2Sigma = "outside_2_sigma"
)

// ErrNoDistances is returned when no ride carries a usable driver distance.
var ErrNoDistances = eris.New("cluster: no rides with a driver distance")

// DistanceBands reports driver and passenger cancellations for rides whose
// driver distance lies within one and two sample standard deviations of the
// mean, and outside two. The bands are nested: the 2σ band includes the 1σ
// band. Percentages are over every ride with a driver distance.
func DistanceBands(rides []model.RideEvent) (*model.BandReport, error) {
	var dist []float64
	var classes []model.Status
	for _, r := range rides {
		if r.DriverDistance == nil || !finite(*r.DriverDistance) {
			continue
		}
		dist = append(dist, *r.DriverDistance)
		classes = append(classes, r.Class())
	}
	if len(dist) == 0 {
		return nil, ErrNoDistances
	}

	mean, std := stat.MeanStdDev(dist, nil)
	if len(dist) == 1 {
		std = 0
	}
	report := &model.BandReport{TotalRides: len(dist), Mean: mean, StdDev: std}

	in := func(k float64) func(float64) bool {
		return func(d float64) bool { return d >= mean-k*std && d <= mean+k*std }
	}
	within2 := in(2)
	bands := []struct {
		label string
		match func(float64) bool
	}{
		{BandWithin1Sigma, in(1)},
		{BandWithin2Sigma, within2},
		{BandOutside2Sigma, func(d float64) bool { return !within2(d) }},
	}

	for _, b := range bands {
		row := model.DistanceBand{Label: b.label}
		for i, d := range dist {
			if !b.match(d) {
				continue
			}
			row.Rides++
			switch classes[i] {
			case model.StatusCanceledByDriver:
				row.CanceledByDriver++
			case model.StatusCanceledByPassenger:
				row.CanceledByPassenger++
			}
		}
		row.DriverPercentage = model.Percent(row.CanceledByDriver, report.TotalRides)
		row.PassengerPercentage = model.Percent(row.CanceledByPassenger, report.TotalRides)
		report.Bands = append(report.Bands, row)
	}
	return report, nil
}
