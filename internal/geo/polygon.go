package geo

import (
	"math"
	"sort"

	"github.com/dhconnelly/rtreego"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"

	"github.com/sells-group/ridecorr/internal/model"
)

// Rejection records a polygon excluded from a PolygonIndex.
type Rejection struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// IsValidRing reports whether ring describes a simple polygon: at least three
// distinct vertices, valid coordinates, non-zero area and no
// self-intersection. An open ring is closed implicitly.
func IsValidRing(ring []model.Coordinate) error {
	pts := openRing(ring)
	if len(pts) < 3 {
		return eris.Errorf("geo: ring has %d vertices, need at least 3", len(pts))
	}
	for i, c := range pts {
		if !c.Valid() {
			return eris.Errorf("geo: invalid vertex at position %d", i)
		}
	}

	distinct := make(map[model.Coordinate]struct{}, len(pts))
	for i, c := range pts {
		if i > 0 && c == pts[i-1] {
			return eris.Errorf("geo: repeated consecutive vertex at position %d", i)
		}
		distinct[c] = struct{}{}
	}
	if len(distinct) < 3 {
		return eris.New("geo: ring has fewer than 3 distinct vertices")
	}
	if len(distinct) != len(pts) {
		return eris.New("geo: ring revisits a vertex")
	}

	n := len(pts)
	for i := 0; i < n; i++ {
		a1, a2 := pts[i], pts[(i+1)%n]
		for j := i + 1; j < n; j++ {
			// Adjacent edges share exactly one endpoint.
			if j == i+1 || (i == 0 && j == n-1) {
				continue
			}
			b1, b2 := pts[j], pts[(j+1)%n]
			if segmentsIntersect(a1, a2, b1, b2) {
				return eris.Errorf("geo: ring self-intersects between edges %d and %d", i, j)
			}
		}
	}
	if signedArea(pts) == 0 {
		return eris.New("geo: ring has zero area")
	}
	return nil
}

// PolygonIndex answers point-in-polygon queries over a fixed set of risk
// areas. An R-tree over polygon envelopes narrows candidates before the exact
// ring test.
type PolygonIndex struct {
	tree     *rtreego.Rtree
	polygons []*indexedPolygon
	rejected []Rejection
}

type indexedPolygon struct {
	id    string
	name  string
	order int
	poly  *geom.Polygon
	rect  rtreego.Rect
}

// Bounds satisfies rtreego.Spatial.
func (p *indexedPolygon) Bounds() rtreego.Rect { return p.rect }

// NewPolygonIndex indexes every valid polygon. Invalid polygons are skipped
// and reported through Rejected.
func NewPolygonIndex(polys []model.RiskPolygon) *PolygonIndex {
	ix := &PolygonIndex{tree: rtreego.NewTree(2, 25, 50)}
	for _, rp := range polys {
		if err := IsValidRing(rp.Ring); err != nil {
			ix.rejected = append(ix.rejected, Rejection{ID: rp.ID, Name: rp.Name, Reason: err.Error()})
			continue
		}
		ip, err := newIndexedPolygon(rp, len(ix.polygons))
		if err != nil {
			ix.rejected = append(ix.rejected, Rejection{ID: rp.ID, Name: rp.Name, Reason: err.Error()})
			continue
		}
		ix.polygons = append(ix.polygons, ip)
		ix.tree.Insert(ip)
	}
	return ix
}

func newIndexedPolygon(rp model.RiskPolygon, order int) (*indexedPolygon, error) {
	pts := openRing(rp.Ring)
	coords := make([]geom.Coord, 0, len(pts)+1)
	for _, c := range pts {
		coords = append(coords, geom.Coord{c.Lng, c.Lat})
	}
	coords = append(coords, coords[0])

	poly, err := geom.NewPolygon(geom.XY).SetCoords([][]geom.Coord{coords})
	if err != nil {
		return nil, eris.Wrap(err, "geo: build polygon")
	}

	b := poly.Bounds()
	rect, err := rtreego.NewRectFromPoints(
		rtreego.Point{b.Min(0), b.Min(1)},
		rtreego.Point{b.Max(0), b.Max(1)},
	)
	if err != nil {
		return nil, eris.Wrap(err, "geo: polygon envelope")
	}
	return &indexedPolygon{id: rp.ID, name: rp.Name, order: order, poly: poly, rect: rect}, nil
}

// Len returns the number of indexed (valid) polygons.
func (ix *PolygonIndex) Len() int { return len(ix.polygons) }

// Rejected returns the polygons excluded at build time.
func (ix *PolygonIndex) Rejected() []Rejection { return ix.rejected }

// Contains reports whether c lies inside or on the boundary of any polygon.
func (ix *PolygonIndex) Contains(c model.Coordinate) bool {
	return len(ix.containing(c, true)) > 0
}

// Containing returns the IDs of every polygon containing c, in load order.
func (ix *PolygonIndex) Containing(c model.Coordinate) []string {
	hits := ix.containing(c, false)
	ids := make([]string, len(hits))
	for i, p := range hits {
		ids[i] = p.id
	}
	return ids
}

func (ix *PolygonIndex) containing(c model.Coordinate, first bool) []*indexedPolygon {
	if len(ix.polygons) == 0 || !c.Valid() {
		return nil
	}

	pt := geom.Coord{c.Lng, c.Lat}
	var hits []*indexedPolygon
	for _, s := range ix.tree.SearchIntersect(rtreego.Point{c.Lng, c.Lat}.ToRect(1e-12)) {
		p := s.(*indexedPolygon)
		ring := p.poly.LinearRing(0)
		if !xy.IsPointInRing(geom.XY, pt, ring.FlatCoords()) {
			continue
		}
		hits = append(hits, p)
		if first {
			return hits
		}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].order < hits[j].order })
	return hits
}

// openRing strips the closing vertex if the ring repeats its first point.
func openRing(ring []model.Coordinate) []model.Coordinate {
	if len(ring) > 1 && ring[0] == ring[len(ring)-1] {
		return ring[:len(ring)-1]
	}
	return ring
}

// signedArea is the shoelace area in squared degrees.
func signedArea(pts []model.Coordinate) float64 {
	var sum float64
	for i := range pts {
		a, b := pts[i], pts[(i+1)%len(pts)]
		sum += a.Lng*b.Lat - b.Lng*a.Lat
	}
	return sum / 2
}

func orientation(p, q, r model.Coordinate) int {
	v := (q.Lng-p.Lng)*(r.Lat-p.Lat) - (q.Lat-p.Lat)*(r.Lng-p.Lng)
	switch {
	case math.Abs(v) < 1e-15:
		return 0
	case v > 0:
		return 1
	default:
		return -1
	}
}

func onSegment(p, q, r model.Coordinate) bool {
	return math.Min(p.Lng, r.Lng) <= q.Lng && q.Lng <= math.Max(p.Lng, r.Lng) &&
		math.Min(p.Lat, r.Lat) <= q.Lat && q.Lat <= math.Max(p.Lat, r.Lat)
}

// segmentsIntersect includes touching and collinear overlap.
func segmentsIntersect(p1, p2, q1, q2 model.Coordinate) bool {
	o1 := orientation(p1, p2, q1)
	o2 := orientation(p1, p2, q2)
	o3 := orientation(q1, q2, p1)
	o4 := orientation(q1, q2, p2)

	if o1 != o2 && o3 != o4 {
		return true
	}
	return (o1 == 0 && onSegment(p1, q1, p2)) ||
		(o2 == 0 && onSegment(p1, q2, p2)) ||
		(o3 == 0 && onSegment(q1, p1, q2)) ||
		(o4 == 0 && onSegment(q1, p2, q2))
}
