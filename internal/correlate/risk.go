package correlate

import (
	"github.com/sells-group/ridecorr/internal/geo"
	"github.com/sells-group/ridecorr/internal/model"
)

// RiskExposure counts rides whose origin lies inside at least one risk
// polygon, broken down by classified status and by polygon. A ride inside
// overlapping polygons counts once in the totals and once per polygon.
func RiskExposure(rides []model.RideEvent, ix *geo.PolygonIndex) model.RiskExposure {
	out := model.RiskExposure{
		TotalRides: len(rides),
		ByStatus:   map[model.Status]int{},
		ByPolygon:  map[string]int{},
	}
	if ix == nil {
		return out
	}
	out.RejectedPolygons = len(ix.Rejected())

	for _, r := range rides {
		ids := ix.Containing(r.Origin)
		if len(ids) == 0 {
			continue
		}
		out.InsideRides++
		out.ByStatus[r.Class()]++
		for _, id := range ids {
			out.ByPolygon[id]++
		}
	}
	out.Percentage = model.Percent(out.InsideRides, out.TotalRides)
	return out
}
