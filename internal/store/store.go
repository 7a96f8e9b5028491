package store

import (
	"context"

	"github.com/sells-group/ridecorr/internal/model"
	"github.com/sells-group/ridecorr/internal/temporal"
)

// RideRepository reads rides created within a time range.
type RideRepository interface {
	// QueryRides returns rides whose CreatedAt falls in r. A nil filter
	// matches every status.
	QueryRides(ctx context.Context, r temporal.Range, status *model.StatusFilter) ([]model.RideEvent, error)
}

// IncidentRepository reads incidents that occurred within a time range.
type IncidentRepository interface {
	// QueryIncidents returns incidents whose OccurredAt falls in r. An empty
	// area matches every area; otherwise the comparison is case and accent
	// insensitive.
	QueryIncidents(ctx context.Context, r temporal.Range, area string) ([]model.IncidentEvent, error)
}

// RiskAreaRepository loads the risk-area polygons.
type RiskAreaRepository interface {
	LoadRiskAreas(ctx context.Context) ([]model.RiskPolygon, error)
}

// Store combines the read repositories with lifecycle management.
type Store interface {
	RideRepository
	IncidentRepository
	RiskAreaRepository

	Migrate(ctx context.Context) error
	Close() error
}
