// Package geo provides great-circle distance, nearest-neighbour search over
// event coordinates, and point-in-polygon membership for risk areas.
package geo

import (
	"math"

	"github.com/sells-group/ridecorr/internal/model"
)

// EarthRadiusKM is the mean Earth radius used for all distance conversions.
const EarthRadiusKM = 6371.0

// DistanceKM returns the haversine distance between a and b in kilometres.
// NaN components propagate to the result.
func DistanceKM(a, b model.Coordinate) float64 {
	lat1 := radians(a.Lat)
	lat2 := radians(b.Lat)
	sdLat := math.Sin((lat2 - lat1) / 2)
	sdLng := math.Sin(radians(b.Lng-a.Lng) / 2)
	h := sdLat*sdLat + math.Cos(lat1)*math.Cos(lat2)*sdLng*sdLng
	if h > 1 {
		h = 1
	}
	return 2 * EarthRadiusKM * math.Asin(math.Sqrt(h))
}

// DistancesKM computes the distance from origin to every target, writing
// into dst when it has enough capacity. The returned slice has len(targets).
func DistancesKM(origin model.Coordinate, targets []model.Coordinate, dst []float64) []float64 {
	if cap(dst) < len(targets) {
		dst = make([]float64, len(targets))
	}
	dst = dst[:len(targets)]

	lat1 := radians(origin.Lat)
	cosLat1 := math.Cos(lat1)
	for i, t := range targets {
		lat2 := radians(t.Lat)
		sdLat := math.Sin((lat2 - lat1) / 2)
		sdLng := math.Sin(radians(t.Lng-origin.Lng) / 2)
		h := sdLat*sdLat + cosLat1*math.Cos(lat2)*sdLng*sdLng
		if h > 1 {
			h = 1
		}
		dst[i] = 2 * EarthRadiusKM * math.Asin(math.Sqrt(h))
	}
	return dst
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}
