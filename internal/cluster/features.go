// Package cluster profiles rides by standardizing their feature vectors,
// partitioning them with k-means (k chosen by silhouette score) and flagging
// anomalies with an isolation forest.
package cluster

import (
	"math"

	"github.com/sells-group/ridecorr/internal/model"
)

// FeatureNames lists the feature vector components in order.
var FeatureNames = []string{
	"driver_distance",
	"route_distance",
	"canceled_by_driver",
	"canceled_by_passenger",
	"completed",
}

// Features returns the feature vector of r. ok is false when a distance or
// the origin coordinate is missing.
func Features(r model.RideEvent) (vec []float64, ok bool) {
	if r.DriverDistance == nil || r.RouteDistance == nil || !r.Origin.Valid() {
		return nil, false
	}
	dd, rd := *r.DriverDistance, *r.RouteDistance
	if !finite(dd) || !finite(rd) {
		return nil, false
	}

	class := r.Class()
	return []float64{
		dd,
		rd,
		indicator(class == model.StatusCanceledByDriver),
		indicator(class == model.StatusCanceledByPassenger),
		indicator(class == model.StatusCompleted),
	}, true
}

// Matrix builds the feature matrix. kept maps each row back to its ride.
func Matrix(rides []model.RideEvent) (x [][]float64, kept []int) {
	for i, r := range rides {
		vec, ok := Features(r)
		if !ok {
			continue
		}
		x = append(x, vec)
		kept = append(kept, i)
	}
	return x, kept
}

func indicator(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
