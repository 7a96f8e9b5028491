package model

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Status is the classified form of a ride's free-text status.
type Status string

const (
	StatusCompleted           Status = "completed"
	StatusCanceledByDriver    Status = "canceled_by_driver"
	StatusCanceledByPassenger Status = "canceled_by_passenger"
	StatusOther               Status = "other"
)

// Canceled reports whether the status is a cancellation by either party.
func (s Status) Canceled() bool {
	return s == StatusCanceledByDriver || s == StatusCanceledByPassenger
}

// Phrases recognised in folded (lowercase, unaccented) status text.
var (
	driverCancelPhrases    = []string{"cancelada pelo taxista", "cancelada pelo motorista", "canceled by driver", "cancelled by driver"}
	passengerCancelPhrases = []string{"cancelada pelo passageiro", "canceled by passenger", "cancelled by passenger"}
	completedPhrases       = []string{"finalizada", "completed"}
)

// ClassifyStatus maps the ride store's free-text status to a Status.
// Matching is case and accent insensitive.
func ClassifyStatus(raw string) Status {
	s := Fold(raw)
	switch {
	case containsAny(s, driverCancelPhrases):
		return StatusCanceledByDriver
	case containsAny(s, passengerCancelPhrases):
		return StatusCanceledByPassenger
	case containsAny(s, completedPhrases):
		return StatusCompleted
	default:
		return StatusOther
	}
}

func containsAny(s string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

// Fold lowercases s, strips diacritics and collapses surrounding whitespace.
// It is used to key area names and match status text so that
// "São Cristóvão" and "sao cristovao" compare equal.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.Join(strings.Fields(cases.Fold().String(out)), " ")
}

// StatusFilter is a case-insensitive regular expression applied to the raw
// ride status. A nil filter matches everything.
type StatusFilter struct {
	raw string
	re  *regexp.Regexp
}

// NewStatusFilter compiles pattern. An empty pattern yields a nil filter.
func NewStatusFilter(pattern string) (*StatusFilter, error) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return nil, nil
	}
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, eris.Wrapf(err, "model: invalid status filter %q", pattern)
	}
	return &StatusFilter{raw: pattern, re: re}, nil
}

// Pattern returns the filter as supplied by the caller.
func (f *StatusFilter) Pattern() string {
	if f == nil {
		return ""
	}
	return f.raw
}

// Match reports whether status satisfies the filter.
func (f *StatusFilter) Match(status string) bool {
	if f == nil {
		return true
	}
	return f.re.MatchString(status)
}
