package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// DateSpec is the start or end of a DetectedEvent. Exactly one of DateTime
// (timed event) or Date (all-day event) is set.
type DateSpec struct {
	// DateTime is an RFC3339 timestamp with offset, e.g. "2024-05-03T19:00:00+09:00".
	DateTime string `json:"dateTime,omitempty" yaml:"dateTime,omitempty"`
	// Date is a calendar date, "2024-05-03".
	Date string `json:"date,omitempty" yaml:"date,omitempty"`
	// TimeZone is an optional IANA zone name.
	TimeZone string `json:"timeZone,omitempty" yaml:"timeZone,omitempty"`
}

// IsZero reports whether neither DateTime nor Date is set.
func (d DateSpec) IsZero() bool {
	return d.DateTime == "" && d.Date == ""
}

// AllDay reports whether d describes a date without time.
func (d DateSpec) AllDay() bool {
	return d.DateTime == "" && d.Date != ""
}

// Value returns whichever of DateTime/Date is set.
func (d DateSpec) Value() string {
	if d.DateTime != "" {
		return d.DateTime
	}
	return d.Date
}

// Validate enforces the timed-vs-all-day invariant.
func (d DateSpec) Validate() error {
	switch {
	case d.DateTime != "" && d.Date != "":
		return errors.New("both dateTime and date are set")
	case d.DateTime != "":
		if _, err := time.Parse(time.RFC3339, d.DateTime); err != nil {
			return fmt.Errorf("invalid dateTime %q: %w", d.DateTime, err)
		}
	case d.Date != "":
		if _, err := time.Parse(time.DateOnly, d.Date); err != nil {
			return fmt.Errorf("invalid date %q: %w", d.Date, err)
		}
	default:
		return errors.New("neither dateTime nor date is set")
	}
	return nil
}

// Time resolves d into a time.Time. All-day values are midnight in loc
// (time.Local when nil).
func (d DateSpec) Time(loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	if d.TimeZone != "" {
		if tz, err := time.LoadLocation(d.TimeZone); err == nil {
			loc = tz
		}
	}
	if d.DateTime != "" {
		return time.Parse(time.RFC3339, d.DateTime)
	}
	if d.Date != "" {
		return time.ParseInLocation(time.DateOnly, d.Date, loc)
	}
	return time.Time{}, errors.New("empty date spec")
}

// DetectedEvent is one event returned by the extraction service.
type DetectedEvent struct {
	Summary     string   `json:"summary" yaml:"summary"`
	Start       DateSpec `json:"start" yaml:"start"`
	End         DateSpec `json:"end" yaml:"end"`
	Location    string   `json:"location,omitempty" yaml:"location,omitempty"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`

	// Recurrence holds optional RRULE lines (without the "RRULE:" prefix)
	// for runs such as "every Saturday until June".
	Recurrence []string `json:"recurrence,omitempty" yaml:"recurrence,omitempty"`
}

// Validate checks that the event is creatable: a summary and a valid start.
// A missing end is allowed; the calendar fills in a default duration.
func (e DetectedEvent) Validate() error {
	if strings.TrimSpace(e.Summary) == "" {
		return errors.New("summary is empty")
	}
	if err := e.Start.Validate(); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	if !e.End.IsZero() {
		if err := e.End.Validate(); err != nil {
			return fmt.Errorf("end: %w", err)
		}
		if e.Start.AllDay() != e.End.AllDay() {
			return errors.New("start and end mix all-day and timed values")
		}
	}
	return nil
}

// ParseResult is the ordered output of one extraction. Index identity is
// stable until the slice is replaced.
type ParseResult []DetectedEvent

// First returns the primary event, if any.
func (p ParseResult) First() (DetectedEvent, bool) {
	if len(p) == 0 {
		return DetectedEvent{}, false
	}
	return p[0], true
}

// PageContext accompanies text sent for extraction.
type PageContext struct {
	Title          string `json:"title"`
	URL            string `json:"url"`
	Domain         string `json:"domain"`
	IsAutoDetected bool   `json:"isAutoDetected"`
}

// ExpectedEvent is a hand-labeled fixture. Dates are plain strings that may
// omit time and offset.
type ExpectedEvent struct {
	Summary  string `json:"summary" yaml:"summary"`
	Start    string `json:"start" yaml:"start"`
	End      string `json:"end" yaml:"end"`
	Location string `json:"location,omitempty" yaml:"location,omitempty"`
}
