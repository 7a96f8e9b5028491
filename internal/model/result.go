package model

// CorrelationRecord pairs one ride with one incident that is both within the
// query radius and, when enforced, within the time window.
type CorrelationRecord struct {
	RideID           string     `json:"cancel_id" yaml:"cancel_id" csv:"cancel_id"`
	RideLocation     Coordinate `json:"cancel_location" yaml:"cancel_location" csv:"-"`
	RideAddress      string     `json:"cancel_address,omitempty" yaml:"cancel_address,omitempty" csv:"cancel_address"`
	RideArea         string     `json:"cancel_area,omitempty" yaml:"cancel_area,omitempty" csv:"cancel_area"`
	IncidentID       string     `json:"event_id" yaml:"event_id" csv:"event_id"`
	IncidentLocation Coordinate `json:"event_location" yaml:"event_location" csv:"-"`
	IncidentName     string     `json:"event_name,omitempty" yaml:"event_name,omitempty" csv:"event_name"`
	IncidentCategory string     `json:"event_category,omitempty" yaml:"event_category,omitempty" csv:"event_category"`
	IncidentAddress  string     `json:"event_address,omitempty" yaml:"event_address,omitempty" csv:"event_address"`
	IncidentArea     string     `json:"event_neighborhood,omitempty" yaml:"event_neighborhood,omitempty" csv:"event_neighborhood"`
	DistanceKM       float64    `json:"distance_km" yaml:"distance_km" csv:"distance_km"`
	TimeDiff         float64    `json:"time_diff" yaml:"time_diff" csv:"time_diff"`
	TimeUnit         string     `json:"time_unit" yaml:"time_unit" csv:"time_unit"`
	RideInRiskArea   bool       `json:"in_risk_area,omitempty" yaml:"in_risk_area,omitempty" csv:"in_risk_area"`
}

// Key identifies the ride/incident pair independently of computed fields.
func (r CorrelationRecord) Key() string {
	return r.RideID + "|" + r.IncidentID
}

// AreaSummary aggregates correlation results for one administrative area.
type AreaSummary struct {
	Area              string         `json:"area" yaml:"area" csv:"area"`
	TotalRides        int            `json:"total_rides" yaml:"total_rides" csv:"total_rides"`
	MatchedRides      int            `json:"matched_rides" yaml:"matched_rides" csv:"matched_rides"`
	Percentage        float64        `json:"percentage" yaml:"percentage" csv:"percentage"`
	IncidentCount     int            `json:"incident_count" yaml:"incident_count" csv:"incident_count"`
	InferredIncidents int            `json:"inferred_incidents,omitempty" yaml:"inferred_incidents,omitempty" csv:"inferred_incidents"`
	ByCategory        map[string]int `json:"by_category" yaml:"by_category" csv:"-"`
	// Unassigned marks the row holding rides with no area.
	Unassigned bool `json:"unassigned,omitempty" yaml:"unassigned,omitempty" csv:"unassigned"`
}

// Percent returns matched/total*100, or 0 when total is 0.
func Percent(matched, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(matched) / float64(total) * 100
}

// Outlier labels follow the isolation forest convention: -1 marks an
// outlier, 1 a normal observation.
const (
	OutlierLabel = -1
	NormalLabel  = 1
)

// ClusterAssignment maps a ride to its cluster and anomaly flag.
type ClusterAssignment struct {
	RideID       string  `json:"ride_id" yaml:"ride_id" csv:"ride_id"`
	Cluster      int     `json:"cluster" yaml:"cluster" csv:"cluster"`
	Outlier      bool    `json:"outlier" yaml:"outlier" csv:"outlier"`
	OutlierLabel int     `json:"outlier_label" yaml:"outlier_label" csv:"outlier_label"`
	AnomalyScore float64 `json:"anomaly_score" yaml:"anomaly_score" csv:"anomaly_score"`
}

// ClusterSummary describes one cluster for presentation.
type ClusterSummary struct {
	Cluster      int                `json:"cluster" yaml:"cluster"`
	Rides        int                `json:"total_rides" yaml:"total_rides"`
	Outliers     int                `json:"outliers" yaml:"outliers"`
	MeanFeatures map[string]float64 `json:"mean_features" yaml:"mean_features"`
	ByStatus     map[Status]int     `json:"by_status" yaml:"by_status"`
}

// IncidentImpact counts cancellations around a single incident.
type IncidentImpact struct {
	IncidentID             string     `json:"event_id" yaml:"event_id" csv:"event_id"`
	Category               string     `json:"event" yaml:"event" csv:"event"`
	Area                   string     `json:"area" yaml:"area" csv:"area"`
	Location               Coordinate `json:"location" yaml:"location" csv:"-"`
	OccurredAt             string     `json:"occurred_at" yaml:"occurred_at" csv:"occurred_at"`
	DurationHours          float64    `json:"duration_hours" yaml:"duration_hours" csv:"duration_hours"`
	NearbyRides            int        `json:"nearby_rides" yaml:"nearby_rides" csv:"nearby_rides"`
	CanceledByDriver       int        `json:"canceled_by_driver" yaml:"canceled_by_driver" csv:"canceled_by_driver"`
	CanceledByPassenger    int        `json:"canceled_by_passenger" yaml:"canceled_by_passenger" csv:"canceled_by_passenger"`
	TotalCancellations     int        `json:"total_cancellations" yaml:"total_cancellations" csv:"total_cancellations"`
	CancellationPercentage float64    `json:"cancellation_percentage" yaml:"cancellation_percentage" csv:"cancellation_percentage"`
}

// DistanceBand is one row of the driver-distance band report.
type DistanceBand struct {
	Label               string  `json:"label" yaml:"label" csv:"label"`
	Rides               int     `json:"rides" yaml:"rides" csv:"rides"`
	CanceledByDriver    int     `json:"canceled_by_driver" yaml:"canceled_by_driver" csv:"canceled_by_driver"`
	DriverPercentage    float64 `json:"driver_percentage" yaml:"driver_percentage" csv:"driver_percentage"`
	CanceledByPassenger int     `json:"canceled_by_passenger" yaml:"canceled_by_passenger" csv:"canceled_by_passenger"`
	PassengerPercentage float64 `json:"passenger_percentage" yaml:"passenger_percentage" csv:"passenger_percentage"`
}

// BandReport summarises cancellations by driver-distance band.
type BandReport struct {
	TotalRides int            `json:"total_rides" yaml:"total_rides"`
	Mean       float64        `json:"mean" yaml:"mean"`
	StdDev     float64        `json:"std_dev" yaml:"std_dev"`
	Bands      []DistanceBand `json:"bands" yaml:"bands"`
}

// RiskExposure counts rides whose origin falls inside a risk polygon.
type RiskExposure struct {
	TotalRides       int            `json:"total_rides" yaml:"total_rides"`
	InsideRides      int            `json:"inside_rides" yaml:"inside_rides"`
	Percentage       float64        `json:"percentage" yaml:"percentage"`
	ByStatus         map[Status]int `json:"by_status" yaml:"by_status"`
	ByPolygon        map[string]int `json:"by_polygon" yaml:"by_polygon"`
	RejectedPolygons int            `json:"rejected_polygons" yaml:"rejected_polygons"`
}
