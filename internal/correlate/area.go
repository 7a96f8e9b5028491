package correlate

import (
	"context"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/ridecorr/internal/geo"
	"github.com/sells-group/ridecorr/internal/model"
)

// UnassignedArea names the row of rides without an area.
const UnassignedArea = "unassigned"

// AreaParams configures AggregateAreas.
type AreaParams struct {
	MatchParams
	InferMissingAreas bool
	Workers           int
}

// Areas reads the query window and aggregates it by area.
func (e *Engine) Areas(ctx context.Context, q Query) ([]model.AreaSummary, error) {
	log := zap.L().With(zap.String("component", "correlate.areas"))

	rides, err := e.rides.QueryRides(ctx, q.Range, q.Status)
	if err != nil {
		log.Error("query rides failed", zap.Error(err))
		return nil, internalErr("query rides", err)
	}
	incidents, err := e.queryIncidents(ctx, q, q.Range)
	if err != nil {
		log.Error("query incidents failed", zap.Error(err))
		return nil, internalErr("query incidents", err)
	}

	summaries, err := AggregateAreas(ctx, rides, incidents, AreaParams{
		MatchParams:       e.cfg.params(q.RadiusKM),
		InferMissingAreas: e.cfg.InferMissingAreas,
		Workers:           e.cfg.Workers,
	})
	if err != nil {
		log.Error("aggregate areas failed", zap.Error(err))
		return nil, internalErr("aggregate areas", err)
	}

	log.Info("area aggregation complete",
		zap.Int("areas", len(summaries)),
		zap.Int("rides", len(rides)),
		zap.Int("incidents", len(incidents)),
	)
	return summaries, nil
}

// areaGroup is the rides and incidents sharing one normalized area key.
type areaGroup struct {
	name       string
	unassigned bool
	rides      []model.RideEvent
	incidents  []model.IncidentEvent
	inferred   int
}

// AggregateAreas summarises matches per ride area. Each area correlates its
// rides only against incidents of the same area. Rides without an area are
// reported in an Unassigned row that never matches. A ride counts once however
// many incidents it matches. Output is sorted by area name.
func AggregateAreas(ctx context.Context, rides []model.RideEvent, incidents []model.IncidentEvent, p AreaParams) ([]model.AreaSummary, error) {
	if p.InferMissingAreas {
		var err error
		if incidents, err = InferAreas(rides, incidents, p.MatchParams); err != nil {
			return nil, err
		}
	}

	groups := make(map[string]*areaGroup)
	var order []string
	for _, r := range rides {
		key := areaKey(r.Area)
		g, ok := groups[key]
		if !ok {
			g = &areaGroup{name: areaName(r.Area), unassigned: key == ""}
			groups[key] = g
			order = append(order, key)
		}
		g.rides = append(g.rides, r)
	}
	for _, e := range incidents {
		key := areaKey(e.Area)
		if key == "" {
			// An unknown area is not an area; such incidents never match.
			continue
		}
		g, ok := groups[key]
		if !ok {
			// No rides in this area; nothing to summarise.
			continue
		}
		g.incidents = append(g.incidents, e)
		if e.AreaInferred {
			g.inferred++
		}
	}

	workers := p.Workers
	if workers <= 0 {
		workers = 1
	}

	out := make([]model.AreaSummary, len(order))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, key := range order {
		group := groups[key]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			s, err := summarizeArea(group, p.MatchParams)
			if err != nil {
				return err
			}
			out[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := model.Fold(out[i].Area), model.Fold(out[j].Area)
		if a != b {
			return a < b
		}
		return out[i].Area < out[j].Area
	})
	return out, nil
}

func summarizeArea(g *areaGroup, p MatchParams) (model.AreaSummary, error) {
	s := model.AreaSummary{
		Area:              g.name,
		TotalRides:        len(g.rides),
		IncidentCount:     len(g.incidents),
		InferredIncidents: g.inferred,
		ByCategory:        map[string]int{},
		Unassigned:        g.unassigned,
	}
	if len(g.incidents) == 0 {
		return s, nil
	}

	set, err := newIncidentSet(g.incidents)
	if err != nil {
		return s, err
	}
	for _, r := range g.rides {
		matches, _ := set.match(r, p)
		if len(matches) == 0 {
			continue
		}
		s.MatchedRides++

		seen := make(map[string]bool, len(matches))
		for _, c := range matches {
			cat := g.incidents[c.incident].Category
			if cat == "" {
				cat = "-"
			}
			if !seen[cat] {
				seen[cat] = true
				s.ByCategory[cat]++
			}
		}
	}
	s.Percentage = model.Percent(s.MatchedRides, s.TotalRides)
	return s, nil
}

// InferAreas returns a copy of incidents where each incident without an area
// takes the area of the nearest admissible ride that has one. This is a
// heuristic: the nearest ride's area is not guaranteed to be the area where
// the incident happened. Inferred incidents are flagged.
func InferAreas(rides []model.RideEvent, incidents []model.IncidentEvent, p MatchParams) ([]model.IncidentEvent, error) {
	out := make([]model.IncidentEvent, len(incidents))
	copy(out, incidents)

	var located []model.RideEvent
	var coords []model.Coordinate
	for _, r := range rides {
		if strings.TrimSpace(r.Area) == "" || !r.Origin.Valid() {
			continue
		}
		located = append(located, r)
		coords = append(coords, r.Origin)
	}
	if len(coords) == 0 {
		return out, nil
	}
	ix, err := geo.NewIndex(coords)
	if err != nil {
		return nil, err
	}

	for i := range out {
		e := &out[i]
		if strings.TrimSpace(e.Area) != "" || !e.Location.Valid() {
			continue
		}
		for _, n := range ix.Within(e.Location, p.RadiusKM) {
			r := located[n.Index]
			if p.EnforceTimeWindow && !withinWindow(r, *e, p) {
				continue
			}
			e.Area = r.Area
			e.AreaInferred = true
			break
		}
	}
	return out, nil
}

func areaKey(area string) string {
	return model.Fold(area)
}

func areaName(area string) string {
	if a := strings.TrimSpace(area); a != "" {
		return a
	}
	return UnassignedArea
}
