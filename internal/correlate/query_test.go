package correlate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseQuery(t *testing.T) {
	t.Parallel()

	q, err := ParseQuery("5", "2024-03-10", "08:00", "12:30", "cancelada")
	require.NoError(t, err)
	assert.InDelta(t, 5.0, q.RadiusKM, 1e-12)
	assert.Equal(t, time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC), q.Range.Start)
	assert.Equal(t, time.Date(2024, 3, 10, 12, 30, 0, 0, time.UTC), q.Range.End)
	require.NotNil(t, q.Status)
	assert.True(t, q.Status.Match("Cancelada pelo Taxista"))
	assert.False(t, q.Status.Match("Finalizada"))
}

func TestParseQuery_Defaults(t *testing.T) {
	t.Parallel()

	q, err := ParseQuery(" 2.5 ", "2024-03-10", "", "", "")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC), q.Range.Start)
	assert.Equal(t, time.Date(2024, 3, 10, 23, 59, 0, 0, time.UTC), q.Range.End)
	assert.Nil(t, q.Status)
}

func TestParseQuery_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		radius    string
		date      string
		start     string
		end       string
		status    string
		wantField string
	}{
		{name: "radius not a number", radius: "abc", date: "2024-03-10", wantField: "radius"},
		{name: "radius zero", radius: "0", date: "2024-03-10", wantField: "radius"},
		{name: "radius negative", radius: "-3", date: "2024-03-10", wantField: "radius"},
		{name: "radius NaN", radius: "NaN", date: "2024-03-10", wantField: "radius"},
		{name: "radius infinite", radius: "+Inf", date: "2024-03-10", wantField: "radius"},
		{name: "missing date", radius: "5", wantField: "date"},
		{name: "bad date", radius: "5", date: "10/03/2024", wantField: "date"},
		{name: "bad start", radius: "5", date: "2024-03-10", start: "8h", wantField: "start_time"},
		{name: "bad end", radius: "5", date: "2024-03-10", end: "25:00", wantField: "end_time"},
		{name: "end before start", radius: "5", date: "2024-03-10", start: "12:00", end: "11:59", wantField: "end_time"},
		{name: "bad regex", radius: "5", date: "2024-03-10", status: "([", wantField: "status"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := ParseQuery(tt.radius, tt.date, tt.start, tt.end, tt.status)
			require.Error(t, err)
			assert.True(t, IsValidation(err))

			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.wantField, ve.Field)
		})
	}
}

func TestQueryInput_MultiDayAndCategories(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("BRT", -3*3600)
	q, err := QueryInput{
		Radius:     "10",
		Date:       "2024-03-01",
		EndDate:    "2024-03-07",
		StartTime:  "06:00",
		EndTime:    "18:00",
		Categories: []string{"Tiroteio", " ", "ALAGAMENTO"},
		Location:   loc,
	}.Parse()
	require.NoError(t, err)

	assert.Equal(t, time.Date(2024, 3, 1, 6, 0, 0, 0, loc).UTC(), q.Range.Start.UTC())
	assert.Equal(t, time.Date(2024, 3, 7, 18, 0, 0, 0, loc).UTC(), q.Range.End.UTC())
	assert.Equal(t, []string{"tiroteio", "alagamento"}, q.Categories)

	_, err = QueryInput{Radius: "1", Date: "2024-03-07", EndDate: "2024-03-01"}.Parse()
	assert.True(t, IsValidation(err))
}

func TestValidationError_Message(t *testing.T) {
	t.Parallel()

	err := &ValidationError{Field: "radius", Value: "x", Reason: "not a number"}
	assert.Equal(t, `correlate: invalid radius "x": not a number`, err.Error())

	err = &ValidationError{Field: "date", Reason: "required"}
	assert.Equal(t, "correlate: invalid date: required", err.Error())
	assert.False(t, IsValidation(assert.AnError))
}
