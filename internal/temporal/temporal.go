// Package temporal implements time-window admissibility between ride and
// incident timestamps and the lookback range used when a query window holds
// no incidents.
package temporal

import (
	"math"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Unit is the unit a time difference or window is expressed in.
type Unit string

// Supported units.
const (
	Minutes Unit = "minutes"
	Hours   Unit = "hours"
)

// LookbackPeriod is how far before the query start the fallback search reaches.
const LookbackPeriod = 7 * 24 * time.Hour

// ParseUnit accepts "minutes"/"hours" and their common short forms.
func ParseUnit(s string) (Unit, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "m", "min", "mins", "minute", "minutes", "minutos":
		return Minutes, nil
	case "h", "hr", "hrs", "hour", "hours", "horas":
		return Hours, nil
	default:
		return "", eris.Errorf("temporal: unknown unit %q", s)
	}
}

// Elapsed returns |t1 - t2| expressed in u.
func Elapsed(t1, t2 time.Time, u Unit) float64 {
	d := t1.Sub(t2)
	if d < 0 {
		d = -d
	}
	if u == Hours {
		return d.Hours()
	}
	return d.Minutes()
}

// ValidWindow reports whether w is a finite, non-negative window.
func ValidWindow(w float64) bool {
	return w >= 0 && !math.IsInf(w, 1)
}

// IsWithinWindow reports whether |t1 - t2| <= window, both in u. The bound
// is inclusive. The comparison stays in u so windows wider than a
// time.Duration can hold still match.
func IsWithinWindow(t1, t2 time.Time, window float64, u Unit) bool {
	if !ValidWindow(window) {
		return false
	}
	return Elapsed(t1, t2, u) <= window
}

// Range is a closed time interval.
type Range struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NewRange validates that end is not before start.
func NewRange(start, end time.Time) (Range, error) {
	if end.Before(start) {
		return Range{}, eris.Errorf("temporal: range end %s before start %s",
			end.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	return Range{Start: start, End: end}, nil
}

// Contains reports whether t falls in [Start, End].
func (r Range) Contains(t time.Time) bool {
	return !t.Before(r.Start) && !t.After(r.End)
}

// Lookback returns the fallback range [start - 7d, start].
func Lookback(start time.Time) Range {
	return Range{Start: start.Add(-LookbackPeriod), End: start}
}
