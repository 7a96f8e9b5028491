// Package model defines the ride, incident, and derived result types shared
// by the correlation and clustering engines.
package model

import (
	"encoding/json"
	"math"
	"time"
)

// Coordinate is a WGS84 latitude/longitude pair in degrees.
type Coordinate struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lng float64 `json:"lng" yaml:"lng"`
}

// Valid reports whether the coordinate has finite components within the
// WGS84 range. Missing coordinates are represented as NaN.
func (c Coordinate) Valid() bool {
	if math.IsNaN(c.Lat) || math.IsNaN(c.Lng) || math.IsInf(c.Lat, 0) || math.IsInf(c.Lng, 0) {
		return false
	}
	return c.Lat >= -90 && c.Lat <= 90 && c.Lng >= -180 && c.Lng <= 180
}

// MarshalJSON encodes a coordinate with a missing or non-finite component as
// null, since JSON has no NaN.
func (c Coordinate) MarshalJSON() ([]byte, error) {
	if math.IsNaN(c.Lat) || math.IsNaN(c.Lng) || math.IsInf(c.Lat, 0) || math.IsInf(c.Lng, 0) {
		return []byte("null"), nil
	}
	type plain Coordinate
	return json.Marshal(plain(c))
}

// UnmarshalJSON decodes null as a missing coordinate.
func (c *Coordinate) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*c = Coordinate{Lat: math.NaN(), Lng: math.NaN()}
		return nil
	}
	type plain Coordinate
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*c = Coordinate(p)
	return nil
}

// RideEvent is a single ride request read from the ride store.
type RideEvent struct {
	ID        string     `json:"id"`
	Origin    Coordinate `json:"origin"`
	CreatedAt time.Time  `json:"created_at"`
	Status    string     `json:"status"`
	Area      string     `json:"area,omitempty"`
	Address   string     `json:"address,omitempty"`

	// DriverDistance is the driver-to-pickup distance; nil when not recorded.
	DriverDistance *float64 `json:"driver_distance,omitempty"`
	// RouteDistance is the estimated route distance; nil when not recorded.
	RouteDistance *float64 `json:"route_distance,omitempty"`
}

// Class returns the classified status of the ride.
func (r RideEvent) Class() Status {
	return ClassifyStatus(r.Status)
}

// IncidentEvent is an incident or crime occurrence read from the incident store.
type IncidentEvent struct {
	ID         string     `json:"id"`
	Location   Coordinate `json:"location"`
	OccurredAt time.Time  `json:"occurred_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	Category   string     `json:"category,omitempty"`
	Name       string     `json:"name,omitempty"`
	Address    string     `json:"address,omitempty"`
	Area       string     `json:"area,omitempty"`

	// AreaInferred is set when Area was assigned from the nearest matched
	// ride rather than recorded at the source.
	AreaInferred bool `json:"area_inferred,omitempty"`
}

// DurationHours returns the incident duration, or 0 for point-in-time events.
func (e IncidentEvent) DurationHours() float64 {
	if e.EndedAt == nil || e.EndedAt.Before(e.OccurredAt) {
		return 0
	}
	return e.EndedAt.Sub(e.OccurredAt).Hours()
}

// RiskPolygon is a closed boundary delimiting a risk area.
type RiskPolygon struct {
	ID   string       `json:"id"`
	Name string       `json:"name"`
	Ring []Coordinate `json:"ring"`
}

// Float returns a pointer to v. Convenient for optional distance fields.
func Float(v float64) *float64 { return &v }
