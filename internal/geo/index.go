package geo

import (
	"math"
	"sort"

	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/spatial/kdtree"

	"github.com/sells-group/ridecorr/internal/model"
)

// ErrEmptyIndex is returned when an index is built over no points. Callers
// are expected to special-case areas or windows without events.
var ErrEmptyIndex = eris.New("geo: cannot build index over an empty point set")

// boundarySlack widens the chord threshold used for radius pruning so that
// points exactly on the radius survive float round-off; the final test is
// always done with DistanceKM.
const boundarySlack = 1e-9

// Neighbor is a reference point returned by an index query.
type Neighbor struct {
	// Index is the position of the point in the slice given to NewIndex.
	Index      int
	DistanceKM float64
}

// Index answers nearest-neighbour and radius queries over a fixed set of
// reference coordinates. Points are embedded as unit vectors so the k-d tree
// works on chord distance, which orders points the same way as great-circle
// distance and has no wrap-around at the antimeridian or poles.
//
// An Index is immutable after construction and safe for concurrent queries.
type Index struct {
	tree   *kdtree.Tree
	coords []model.Coordinate
}

// NewIndex builds an index over points. All points must be valid.
func NewIndex(points []model.Coordinate) (*Index, error) {
	if len(points) == 0 {
		return nil, ErrEmptyIndex
	}

	sp := make(spherePoints, len(points))
	for i, c := range points {
		if !c.Valid() {
			return nil, eris.Errorf("geo: invalid coordinate at position %d (%v, %v)", i, c.Lat, c.Lng)
		}
		sp[i] = spherePoint{v: unitVector(c), idx: i}
	}

	coords := make([]model.Coordinate, len(points))
	copy(coords, points)

	return &Index{tree: kdtree.New(sp, false), coords: coords}, nil
}

// Len returns the number of reference points.
func (ix *Index) Len() int { return len(ix.coords) }

// Nearest returns up to k reference points closest to q, in ascending
// distance order. k is clamped to the size of the reference set.
func (ix *Index) Nearest(q model.Coordinate, k int) []Neighbor {
	if k <= 0 {
		return nil
	}
	if k > len(ix.coords) {
		k = len(ix.coords)
	}

	keep := kdtree.NewNKeeper(k)
	ix.tree.NearestSet(keep, spherePoint{v: unitVector(q), idx: -1})
	return ix.collect(q, keep.Heap, math.Inf(1))
}

// Within returns every reference point whose distance to q is at most
// radiusKM (inclusive), in ascending distance order.
func (ix *Index) Within(q model.Coordinate, radiusKM float64) []Neighbor {
	if radiusKM < 0 || math.IsNaN(radiusKM) {
		return nil
	}

	keep := kdtree.NewDistKeeper(chordSquared(radiusKM) * (1 + boundarySlack))
	ix.tree.NearestSet(keep, spherePoint{v: unitVector(q), idx: -1})
	return ix.collect(q, keep.Heap, radiusKM)
}

// NearestWithin queries the k nearest points and keeps those within radiusKM.
// saturated is true when all k clamped candidates passed the radius filter
// while the reference set holds more points, meaning further matches may
// have been cut off by the cap.
func (ix *Index) NearestWithin(q model.Coordinate, k int, radiusKM float64) (neighbors []Neighbor, saturated bool) {
	if k > len(ix.coords) {
		k = len(ix.coords)
	}
	candidates := ix.Nearest(q, k)

	neighbors = candidates[:0]
	for _, n := range candidates {
		if n.DistanceKM <= radiusKM {
			neighbors = append(neighbors, n)
		}
	}
	saturated = k > 0 && len(neighbors) == k && k < len(ix.coords)
	return neighbors, saturated
}

// collect converts keeper results into neighbours with haversine distances,
// drops anything beyond maxKM, and sorts by distance then index.
func (ix *Index) collect(q model.Coordinate, heap kdtree.Heap, maxKM float64) []Neighbor {
	out := make([]Neighbor, 0, len(heap))
	for _, c := range heap {
		if c.Comparable == nil {
			continue
		}
		p := c.Comparable.(spherePoint)
		d := DistanceKM(q, ix.coords[p.idx])
		if d > maxKM {
			continue
		}
		out = append(out, Neighbor{Index: p.idx, DistanceKM: d})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DistanceKM != out[j].DistanceKM {
			return out[i].DistanceKM < out[j].DistanceKM
		}
		return out[i].Index < out[j].Index
	})
	return out
}

// chordSquared converts a surface distance to the squared chord length on
// the unit sphere.
func chordSquared(km float64) float64 {
	angle := km / EarthRadiusKM
	if angle >= math.Pi {
		return 4
	}
	c := 2 * math.Sin(angle/2)
	return c * c
}

func unitVector(c model.Coordinate) [3]float64 {
	lat := radians(c.Lat)
	lng := radians(c.Lng)
	cosLat := math.Cos(lat)
	return [3]float64{cosLat * math.Cos(lng), cosLat * math.Sin(lng), math.Sin(lat)}
}

// spherePoint is a kdtree.Comparable over unit vectors.
type spherePoint struct {
	v   [3]float64
	idx int
}

// Compare satisfies the axis comparison of kdtree.Comparable.
func (p spherePoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(spherePoint)
	return p.v[d] - q.v[d]
}

// Dims returns the number of dimensions (x, y, z).
func (p spherePoint) Dims() int { return 3 }

// Distance returns the squared chord distance between p and c.
func (p spherePoint) Distance(c kdtree.Comparable) float64 {
	q := c.(spherePoint)
	dx := p.v[0] - q.v[0]
	dy := p.v[1] - q.v[1]
	dz := p.v[2] - q.v[2]
	return dx*dx + dy*dy + dz*dz
}

// spherePoints is a collection of spherePoint satisfying kdtree.Interface.
type spherePoints []spherePoint

func (p spherePoints) Index(i int) kdtree.Comparable         { return p[i] }
func (p spherePoints) Len() int                              { return len(p) }
func (p spherePoints) Pivot(d kdtree.Dim) int                { return spherePlane{spherePoints: p, Dim: d}.Pivot() }
func (p spherePoints) Slice(start, end int) kdtree.Interface { return p[start:end] }

// spherePlane sorts spherePoints along one axis for median partitioning.
type spherePlane struct {
	kdtree.Dim
	spherePoints
}

func (p spherePlane) Less(i, j int) bool {
	return p.spherePoints[i].v[p.Dim] < p.spherePoints[j].v[p.Dim]
}
func (p spherePlane) Pivot() int { return kdtree.Partition(p, kdtree.MedianOfMedians(p)) }
func (p spherePlane) Slice(start, end int) kdtree.SortSlicer {
	p.spherePoints = p.spherePoints[start:end]
	return p
}
func (p spherePlane) Swap(i, j int) {
	p.spherePoints[i], p.spherePoints[j] = p.spherePoints[j], p.spherePoints[i]
}
