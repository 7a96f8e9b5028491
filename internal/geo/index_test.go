package geo

import (
	"math/rand/v2"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/ridecorr/internal/model"
)

func TestNewIndex_Empty(t *testing.T) {
	t.Parallel()
	_, err := NewIndex(nil)
	require.ErrorIs(t, err, ErrEmptyIndex)
}

func TestNewIndex_InvalidCoordinate(t *testing.T) {
	t.Parallel()
	_, err := NewIndex([]model.Coordinate{{Lat: 95, Lng: 0}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid coordinate")
}

func TestIndex_Singleton(t *testing.T) {
	t.Parallel()

	ix, err := NewIndex([]model.Coordinate{{Lat: -22.905, Lng: -43.175}})
	require.NoError(t, err)
	assert.Equal(t, 1, ix.Len())

	got := ix.Nearest(model.Coordinate{Lat: -22.90, Lng: -43.17}, 10)
	require.Len(t, got, 1)
	assert.Equal(t, 0, got[0].Index)
	assert.InDelta(t, 0.756, got[0].DistanceKM, 0.005)
}

func TestIndex_NearestOrderAndClamp(t *testing.T) {
	t.Parallel()

	pts := []model.Coordinate{
		{Lat: -22.95, Lng: -43.20}, // ~6.4 km
		{Lat: -22.901, Lng: -43.171},
		{Lat: -23.50, Lng: -43.50},
		{Lat: -22.91, Lng: -43.18},
	}
	ix, err := NewIndex(pts)
	require.NoError(t, err)

	q := model.Coordinate{Lat: -22.90, Lng: -43.17}
	got := ix.Nearest(q, 3)
	require.Len(t, got, 3)
	assert.Equal(t, 1, got[0].Index)
	assert.Equal(t, 3, got[1].Index)
	assert.Equal(t, 0, got[2].Index)
	assert.True(t, sort.SliceIsSorted(got, func(i, j int) bool { return got[i].DistanceKM < got[j].DistanceKM }))

	all := ix.Nearest(q, 50)
	assert.Len(t, all, len(pts))
	assert.Empty(t, ix.Nearest(q, 0))
}

func TestIndex_MatchesBruteForce(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(7, 7))
	pts := make([]model.Coordinate, 500)
	for i := range pts {
		pts[i] = model.Coordinate{Lat: -23.1 + rng.Float64()*0.4, Lng: -43.6 + rng.Float64()*0.5}
	}
	ix, err := NewIndex(pts)
	require.NoError(t, err)

	for range 25 {
		q := model.Coordinate{Lat: -23.1 + rng.Float64()*0.4, Lng: -43.6 + rng.Float64()*0.5}

		dists := DistancesKM(q, pts, nil)
		var want []int
		for i, d := range dists {
			if d <= 3.0 {
				want = append(want, i)
			}
		}

		var got []int
		for _, n := range ix.Within(q, 3.0) {
			got = append(got, n.Index)
		}
		assert.ElementsMatch(t, want, got)

		order := make([]int, len(pts))
		for i := range order {
			order[i] = i
		}
		sort.Slice(order, func(a, b int) bool { return dists[order[a]] < dists[order[b]] })
		nearest := ix.Nearest(q, 10)
		require.Len(t, nearest, 10)
		for i, n := range nearest {
			assert.InDelta(t, dists[order[i]], n.DistanceKM, 1e-9)
		}
	}
}

func TestIndex_WithinInclusiveBoundary(t *testing.T) {
	t.Parallel()

	q := model.Coordinate{Lat: -22.90, Lng: -43.17}
	p := model.Coordinate{Lat: -22.905, Lng: -43.175}
	ix, err := NewIndex([]model.Coordinate{p})
	require.NoError(t, err)

	exact := DistanceKM(q, p)
	assert.Len(t, ix.Within(q, exact), 1)
	assert.Empty(t, ix.Within(q, exact-1e-6))

	inside, _ := ix.NearestWithin(q, 10, exact)
	assert.Len(t, inside, 1)
	outside, _ := ix.NearestWithin(q, 10, exact-1e-6)
	assert.Empty(t, outside)
}

func TestIndex_Antipodal(t *testing.T) {
	t.Parallel()

	ix, err := NewIndex([]model.Coordinate{{Lat: 0, Lng: 180}, {Lat: 0, Lng: 1}})
	require.NoError(t, err)

	q := model.Coordinate{Lat: 0, Lng: 0}
	got := ix.Within(q, 200)
	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].Index)

	far := ix.Nearest(q, 2)
	require.Len(t, far, 2)
	assert.InDelta(t, 20015.09, far[1].DistanceKM, 0.1)
}

func TestIndex_Antimeridian(t *testing.T) {
	t.Parallel()

	ix, err := NewIndex([]model.Coordinate{{Lat: 0, Lng: -179.95}})
	require.NoError(t, err)
	got := ix.Within(model.Coordinate{Lat: 0, Lng: 179.95}, 15)
	require.Len(t, got, 1)
	assert.InDelta(t, 11.12, got[0].DistanceKM, 0.01)
}

func TestIndex_NearestWithinSaturation(t *testing.T) {
	t.Parallel()

	q := model.Coordinate{Lat: -22.90, Lng: -43.17}
	pts := make([]model.Coordinate, 15)
	for i := range pts {
		pts[i] = model.Coordinate{Lat: -22.90 + float64(i)*0.001, Lng: -43.17}
	}
	ix, err := NewIndex(pts)
	require.NoError(t, err)

	got, saturated := ix.NearestWithin(q, 10, 5)
	assert.Len(t, got, 10)
	assert.True(t, saturated)
	assert.Len(t, ix.Within(q, 5), 15)

	got, saturated = ix.NearestWithin(q, 10, 0.6)
	assert.Len(t, got, 6)
	assert.False(t, saturated)

	small, err := NewIndex(pts[:4])
	require.NoError(t, err)
	got, saturated = small.NearestWithin(q, 10, 5)
	assert.Len(t, got, 4)
	assert.False(t, saturated, "clamped to the full set is never saturated")
}
