package store

import (
	"context"
	"sync"

	"github.com/sells-group/ridecorr/internal/model"
	"github.com/sells-group/ridecorr/internal/temporal"
)

// MemoryStore serves materialized rides, incidents and risk areas. It backs
// tests and file-based runs.
type MemoryStore struct {
	mu        sync.RWMutex
	rides     []model.RideEvent
	incidents []model.IncidentEvent
	polygons  []model.RiskPolygon
}

// NewMemoryStore copies the given records into a new store.
func NewMemoryStore(rides []model.RideEvent, incidents []model.IncidentEvent, polygons []model.RiskPolygon) *MemoryStore {
	return &MemoryStore{
		rides:     append([]model.RideEvent(nil), rides...),
		incidents: append([]model.IncidentEvent(nil), incidents...),
		polygons:  append([]model.RiskPolygon(nil), polygons...),
	}
}

// AddRides appends rides.
func (m *MemoryStore) AddRides(rides ...model.RideEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rides = append(m.rides, rides...)
}

// AddIncidents appends incidents.
func (m *MemoryStore) AddIncidents(incidents ...model.IncidentEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.incidents = append(m.incidents, incidents...)
}

// QueryRides implements RideRepository.
func (m *MemoryStore) QueryRides(ctx context.Context, r temporal.Range, status *model.StatusFilter) ([]model.RideEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []model.RideEvent
	for _, ride := range m.rides {
		if r.Contains(ride.CreatedAt) && status.Match(ride.Status) {
			out = append(out, ride)
		}
	}
	return out, nil
}

// QueryIncidents implements IncidentRepository.
func (m *MemoryStore) QueryIncidents(ctx context.Context, r temporal.Range, area string) ([]model.IncidentEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	want := model.Fold(area)
	var out []model.IncidentEvent
	for _, e := range m.incidents {
		if !r.Contains(e.OccurredAt) {
			continue
		}
		if want != "" && model.Fold(e.Area) != want {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// LoadRiskAreas implements RiskAreaRepository.
func (m *MemoryStore) LoadRiskAreas(ctx context.Context) ([]model.RiskPolygon, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]model.RiskPolygon(nil), m.polygons...), nil
}

// Migrate is a no-op.
func (m *MemoryStore) Migrate(context.Context) error { return nil }

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }
