package correlate

import (
	"github.com/sells-group/ridecorr/internal/geo"
	"github.com/sells-group/ridecorr/internal/model"
	"github.com/sells-group/ridecorr/internal/temporal"
)

// MatchParams is the admissibility test shared by every correlation entry
// point.
type MatchParams struct {
	RadiusKM          float64
	EnforceTimeWindow bool
	TimeWindow        float64
	TimeUnit          temporal.Unit

	// CandidateCap bounds the k-nearest query per ride. Zero or negative
	// disables the cap and runs an exhaustive radius query.
	CandidateCap int
	// ExhaustiveOnSaturation re-runs a saturated capped query as an
	// exhaustive radius query so no admissible incident is dropped.
	ExhaustiveOnSaturation bool
}

// candidate is an admissible incident for one ride.
type candidate struct {
	incident   int
	distanceKM float64
	timeDiff   float64
}

// incidentSet is a spatial index over the incidents with valid coordinates.
type incidentSet struct {
	incidents []model.IncidentEvent
	// positions maps index positions back to incidents.
	positions []int
	index     *geo.Index
	skipped   int
}

// newIncidentSet indexes incidents. The index is nil when no incident has
// a valid coordinate.
func newIncidentSet(incidents []model.IncidentEvent) (*incidentSet, error) {
	s := &incidentSet{incidents: incidents}
	coords := make([]model.Coordinate, 0, len(incidents))
	for i, e := range incidents {
		if !e.Location.Valid() {
			s.skipped++
			continue
		}
		coords = append(coords, e.Location)
		s.positions = append(s.positions, i)
	}
	if len(coords) == 0 {
		return s, nil
	}
	ix, err := geo.NewIndex(coords)
	if err != nil {
		return nil, err
	}
	s.index = ix
	return s, nil
}

// match returns the admissible incidents for ride in ascending distance
// order. saturated reports that the candidate cap was hit.
func (s *incidentSet) match(ride model.RideEvent, p MatchParams) (out []candidate, saturated bool) {
	if s.index == nil || !ride.Origin.Valid() {
		return nil, false
	}

	var neighbors []geo.Neighbor
	if p.CandidateCap > 0 {
		neighbors, saturated = s.index.NearestWithin(ride.Origin, p.CandidateCap, p.RadiusKM)
		if saturated && p.ExhaustiveOnSaturation {
			neighbors = s.index.Within(ride.Origin, p.RadiusKM)
		}
	} else {
		neighbors = s.index.Within(ride.Origin, p.RadiusKM)
	}

	for _, n := range neighbors {
		pos := s.positions[n.Index]
		e := s.incidents[pos]
		if p.EnforceTimeWindow && !withinWindow(ride, e, p) {
			continue
		}
		out = append(out, candidate{
			incident:   pos,
			distanceKM: n.DistanceKM,
			timeDiff:   temporal.Elapsed(ride.CreatedAt, e.OccurredAt, p.TimeUnit),
		})
	}
	return out, saturated
}

func newRecord(ride model.RideEvent, e model.IncidentEvent, c candidate, unit temporal.Unit) model.CorrelationRecord {
	return model.CorrelationRecord{
		RideID:           ride.ID,
		RideLocation:     ride.Origin,
		RideAddress:      ride.Address,
		RideArea:         ride.Area,
		IncidentID:       e.ID,
		IncidentLocation: e.Location,
		IncidentName:     e.Name,
		IncidentCategory: e.Category,
		IncidentAddress:  e.Address,
		IncidentArea:     e.Area,
		DistanceKM:       c.distanceKM,
		TimeDiff:         c.timeDiff,
		TimeUnit:         string(unit),
	}
}

func withinWindow(r model.RideEvent, e model.IncidentEvent, p MatchParams) bool {
	return temporal.IsWithinWindow(r.CreatedAt, e.OccurredAt, p.TimeWindow, p.TimeUnit)
}
