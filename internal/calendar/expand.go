package calendar

import (
	"fmt"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	"bookcal/internal/model"
)

const defaultMaxOccurrences = 500

// ValidateRule checks that an RRULE string parses.
func ValidateRule(rule string) error {
	if _, err := rrule.StrToRRule(strings.TrimPrefix(rule, "RRULE:")); err != nil {
		return fmt.Errorf("invalid recurrence %q: %w", rule, err)
	}
	return nil
}

// Occurrences lists the start times of ev inside [from, to]. A non-recurring
// event yields its own start when it falls in range. At most max starts are
// returned (default 500); the bool reports truncation.
func Occurrences(ev model.DetectedEvent, loc *time.Location, from, to time.Time, max int) ([]time.Time, bool, error) {
	if max <= 0 {
		max = defaultMaxOccurrences
	}
	start, err := ev.Start.Time(loc)
	if err != nil {
		return nil, false, err
	}

	if len(ev.Recurrence) == 0 {
		if start.Before(from) || start.After(to) {
			return nil, false, nil
		}
		return []time.Time{start}, false, nil
	}

	var set rrule.Set
	for _, line := range ev.Recurrence {
		r, err := rrule.StrToRRule(strings.TrimPrefix(line, "RRULE:"))
		if err != nil {
			return nil, false, fmt.Errorf("invalid recurrence %q: %w", line, err)
		}
		// Ensure Dtstart is the event's own start.
		r.DTStart(start)
		set.RRule(r)
	}

	// rrule-go compares in the start's location.
	times := set.Between(from.In(start.Location()), to.In(start.Location()), true)
	truncated := false
	if len(times) > max {
		times = times[:max]
		truncated = true
	}
	return times, truncated, nil
}
