package correlate

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/sells-group/ridecorr/internal/model"
	"github.com/sells-group/ridecorr/internal/temporal"
)

// Input layouts accepted by ParseQuery.
const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"

	defaultStartTime = "00:00"
	defaultEndTime   = "23:59"
)

// ValidationError reports a malformed query parameter. Callers map it to a
// client error; it is never retried.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("correlate: invalid %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("correlate: invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

// IsValidation reports whether err is (or wraps) a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Query is a validated correlation request.
type Query struct {
	RadiusKM float64
	Range    temporal.Range
	Status   *model.StatusFilter

	// Categories restricts incidents by folded category name. Empty means all.
	Categories []string
}

// QueryInput holds raw request parameters as received from the CLI or API.
type QueryInput struct {
	Radius     string
	Date       string
	EndDate    string
	StartTime  string
	EndTime    string
	Status     string
	Categories []string
	// Location interprets dates and times; nil means UTC.
	Location *time.Location
}

// ParseQuery validates the single-day form of a correlation request.
func ParseQuery(radius, date, startTime, endTime, status string) (Query, error) {
	return QueryInput{
		Radius:    radius,
		Date:      date,
		StartTime: startTime,
		EndTime:   endTime,
		Status:    status,
	}.Parse()
}

// Parse validates the input and builds a Query. The first invalid field is
// reported.
func (in QueryInput) Parse() (Query, error) {
	var q Query

	radius, err := ParseRadius(in.Radius)
	if err != nil {
		return q, err
	}
	q.RadiusKM = radius

	loc := in.Location
	if loc == nil {
		loc = time.UTC
	}

	startDay, err := parseDate("date", in.Date, loc)
	if err != nil {
		return q, err
	}
	endDay := startDay
	if strings.TrimSpace(in.EndDate) != "" {
		if endDay, err = parseDate("end_date", in.EndDate, loc); err != nil {
			return q, err
		}
	}

	startOff, err := parseClock("start_time", in.StartTime, defaultStartTime)
	if err != nil {
		return q, err
	}
	endOff, err := parseClock("end_time", in.EndTime, defaultEndTime)
	if err != nil {
		return q, err
	}

	start := startDay.Add(startOff)
	end := endDay.Add(endOff)
	r, err := temporal.NewRange(start, end)
	if err != nil {
		return q, &ValidationError{Field: "end_time", Value: in.EndTime, Reason: "end must not be before start"}
	}
	q.Range = r

	filter, err := model.NewStatusFilter(in.Status)
	if err != nil {
		return q, &ValidationError{Field: "status", Value: in.Status, Reason: "not a valid regular expression"}
	}
	q.Status = filter

	q.Categories = foldAll(in.Categories)
	return q, nil
}

// ParseRadius parses a strictly positive, finite radius in kilometres.
func ParseRadius(s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, &ValidationError{Field: "radius", Value: s, Reason: "not a number"}
	}
	if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, &ValidationError{Field: "radius", Value: s, Reason: "must be a positive number"}
	}
	return v, nil
}

func parseDate(field, s string, loc *time.Location) (time.Time, error) {
	if strings.TrimSpace(s) == "" {
		return time.Time{}, &ValidationError{Field: field, Reason: "required"}
	}
	d, err := time.ParseInLocation(DateLayout, strings.TrimSpace(s), loc)
	if err != nil {
		return time.Time{}, &ValidationError{Field: field, Value: s, Reason: "expected YYYY-MM-DD"}
	}
	return d, nil
}

// parseClock returns the offset from midnight of an HH:MM value.
func parseClock(field, s, def string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		s = def
	}
	t, err := time.Parse(TimeLayout, s)
	if err != nil {
		return 0, &ValidationError{Field: field, Value: s, Reason: "expected HH:MM"}
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// matchesCategory reports whether the incident passes the query's category
// filter.
func (q Query) matchesCategory(e model.IncidentEvent) bool {
	if len(q.Categories) == 0 {
		return true
	}
	return slices.Contains(q.Categories, model.Fold(e.Category))
}
