package geo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/ridecorr/internal/model"
)

func TestDistanceKM(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		a, b model.Coordinate
		want float64
		tol  float64
	}{
		{"same point", model.Coordinate{Lat: -22.9, Lng: -43.17}, model.Coordinate{Lat: -22.9, Lng: -43.17}, 0, 1e-9},
		{"rio scenario", model.Coordinate{Lat: -22.90, Lng: -43.17}, model.Coordinate{Lat: -22.905, Lng: -43.175}, 0.756, 0.005},
		{"one degree latitude", model.Coordinate{Lat: 0, Lng: 0}, model.Coordinate{Lat: 1, Lng: 0}, 111.195, 0.01},
		{"antipodal", model.Coordinate{Lat: 0, Lng: 0}, model.Coordinate{Lat: 0, Lng: 180}, math.Pi * EarthRadiusKM, 1e-6},
		{"across antimeridian", model.Coordinate{Lat: 0, Lng: 179.9}, model.Coordinate{Lat: 0, Lng: -179.9}, 22.239, 0.01},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.InDelta(t, tt.want, DistanceKM(tt.a, tt.b), tt.tol)
			assert.InDelta(t, DistanceKM(tt.a, tt.b), DistanceKM(tt.b, tt.a), 1e-9)
		})
	}
}

func TestDistanceKM_NaNPropagates(t *testing.T) {
	t.Parallel()
	d := DistanceKM(model.Coordinate{Lat: math.NaN(), Lng: 0}, model.Coordinate{Lat: 0, Lng: 0})
	assert.True(t, math.IsNaN(d))
}

func TestDistancesKM_MatchesScalar(t *testing.T) {
	t.Parallel()

	origin := model.Coordinate{Lat: -22.90, Lng: -43.17}
	targets := []model.Coordinate{
		{Lat: -22.905, Lng: -43.175},
		{Lat: -22.95, Lng: -43.20},
		{Lat: -23.00, Lng: -43.40},
	}

	got := DistancesKM(origin, targets, nil)
	assert.Len(t, got, len(targets))
	for i, tc := range targets {
		assert.InDelta(t, DistanceKM(origin, tc), got[i], 1e-9)
	}

	buf := make([]float64, 0, 8)
	reused := DistancesKM(origin, targets, buf)
	assert.Equal(t, got, reused)
}
