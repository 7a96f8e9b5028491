package correlate

import (
	"sort"
	"time"

	"github.com/sells-group/ridecorr/internal/geo"
	"github.com/sells-group/ridecorr/internal/model"
	"github.com/sells-group/ridecorr/internal/temporal"
)

// ImpactParams configures EventImpact.
type ImpactParams struct {
	RadiusKM   float64
	TimeWindow float64
	TimeUnit   temporal.Unit
	// Categories restricts incidents by folded category. Empty means all.
	Categories []string
}

// EventImpact counts, for every incident, the rides created within the
// radius and time window of the incident start and how many of them were
// cancelled by each party. Incidents with no cancellation nearby are
// omitted. Results are ordered by total cancellations, highest first.
func EventImpact(rides []model.RideEvent, incidents []model.IncidentEvent, p ImpactParams) ([]model.IncidentImpact, error) {
	var located []model.RideEvent
	var coords []model.Coordinate
	for _, r := range rides {
		if r.Origin.Valid() {
			located = append(located, r)
			coords = append(coords, r.Origin)
		}
	}
	if len(coords) == 0 {
		return nil, nil
	}
	ix, err := geo.NewIndex(coords)
	if err != nil {
		return nil, err
	}

	filter := Query{Categories: foldAll(p.Categories)}

	var out []model.IncidentImpact
	for _, e := range incidents {
		if !e.Location.Valid() || !filter.matchesCategory(e) {
			continue
		}

		imp := model.IncidentImpact{
			IncidentID:    e.ID,
			Category:      e.Category,
			Area:          e.Area,
			Location:      e.Location,
			OccurredAt:    e.OccurredAt.Format(time.RFC3339),
			DurationHours: e.DurationHours(),
		}
		for _, n := range ix.Within(e.Location, p.RadiusKM) {
			r := located[n.Index]
			if !temporal.IsWithinWindow(r.CreatedAt, e.OccurredAt, p.TimeWindow, p.TimeUnit) {
				continue
			}
			imp.NearbyRides++
			switch r.Class() {
			case model.StatusCanceledByDriver:
				imp.CanceledByDriver++
			case model.StatusCanceledByPassenger:
				imp.CanceledByPassenger++
			}
		}

		imp.TotalCancellations = imp.CanceledByDriver + imp.CanceledByPassenger
		if imp.TotalCancellations == 0 {
			continue
		}
		imp.CancellationPercentage = model.Percent(imp.TotalCancellations, imp.NearbyRides)
		out = append(out, imp)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].TotalCancellations > out[j].TotalCancellations
	})
	return out, nil
}

func foldAll(in []string) []string {
	var out []string
	for _, s := range in {
		if f := model.Fold(s); f != "" {
			out = append(out, f)
		}
	}
	return out
}
