package calendar

import (
	"bytes"
	"errors"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "bookcal/internal/log"
	"bookcal/internal/model"
)

// StoredEvent is a VEVENT read back from a calendar file.
type StoredEvent struct {
	UID   string
	Event model.DetectedEvent
}

// ParseICS reads every VEVENT of an iCalendar payload. Timed values are
// rendered as RFC3339 in loc; all-day values as dates, with the exclusive
// DTEND turned back into an inclusive end date. Events that fail to parse are
// logged and skipped.
func ParseICS(body []byte, loc *time.Location) ([]StoredEvent, error) {
	if len(body) == 0 {
		return nil, errors.New("empty ICS body")
	}
	if loc == nil {
		loc = time.Local
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		appLog.Error("ics parse failed", err)
		return nil, err
	}

	out := make([]StoredEvent, 0)
	for _, ve := range cal.Events() {
		ev, perr := parseVEvent(ve, loc)
		if perr != nil {
			// Log and skip this event, but keep parsing others.
			appLog.Error("ics vevent parse failed", perr)
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

func parseVEvent(ve *ical.VEvent, loc *time.Location) (StoredEvent, error) {
	var out StoredEvent

	uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uidProp == nil || uidProp.Value == "" {
		return out, errors.New("missing UID")
	}
	out.UID = uidProp.Value

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Event.Summary = unescapeText(p.Value)
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		out.Event.Description = unescapeText(p.Value)
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		out.Event.Location = unescapeText(p.Value)
	}

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil {
		return out, errors.New("missing DTSTART")
	}

	// VALUE=DATE or no 'T' in the value -> all-day
	allDay := !strings.Contains(dtStart.Value, "T")
	if vs, ok := dtStart.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		allDay = true
	}

	if allDay {
		start, err := ve.GetAllDayStartAt()
		if err != nil {
			return out, err
		}
		out.Event.Start = model.DateSpec{Date: start.Format(time.DateOnly)}
		if end, err := ve.GetAllDayEndAt(); err == nil {
			inclusive := end.AddDate(0, 0, -1)
			if inclusive.Before(start) {
				inclusive = start
			}
			out.Event.End = model.DateSpec{Date: inclusive.Format(time.DateOnly)}
		}
	} else {
		start, err := ve.GetStartAt()
		if err != nil {
			return out, err
		}
		out.Event.Start = model.DateSpec{DateTime: start.In(loc).Format(time.RFC3339)}
		if end, err := ve.GetEndAt(); err == nil {
			out.Event.End = model.DateSpec{DateTime: end.In(loc).Format(time.RFC3339)}
		}
	}

	for _, p := range ve.GetProperties(ical.ComponentPropertyRrule) {
		if p.Value != "" {
			out.Event.Recurrence = append(out.Event.Recurrence, p.Value)
		}
	}

	return out, nil
}

// unescapeText reverses RFC 5545 TEXT escaping.
var textUnescaper = strings.NewReplacer(`\n`, "\n", `\N`, "\n", `\,`, ",", `\;`, ";", `\\`, `\`)

func unescapeText(s string) string {
	return textUnescaper.Replace(s)
}
