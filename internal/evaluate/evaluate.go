// Package evaluate compares an extraction result against a hand-labeled
// expectation with per-field fuzzy rules.
package evaluate

import (
	"strings"

	"bookcal/internal/model"
)

// Verdict is the per-field outcome. AllMatch is derived on demand.
type Verdict struct {
	SummaryMatch  bool `json:"summaryMatch"`
	StartMatch    bool `json:"startMatch"`
	EndMatch      bool `json:"endMatch"`
	LocationMatch bool `json:"locationMatch"`
}

// AllMatch is the AND of the four field verdicts.
func (v Verdict) AllMatch() bool {
	return v.SummaryMatch && v.StartMatch && v.EndMatch && v.LocationMatch
}

// Evaluate compares the first parsed event with expected. Additional parsed
// events are ignored. An empty or nil parse yields an all-false verdict.
func Evaluate(parsed model.ParseResult, expected model.ExpectedEvent) Verdict {
	ev, ok := parsed.First()
	if !ok {
		return Verdict{}
	}
	return Verdict{
		SummaryMatch:  summaryMatches(ev.Summary, expected.Summary),
		StartMatch:    dateMatches(ev.Start.Value(), expected.Start),
		EndMatch:      dateMatches(ev.End.Value(), expected.End),
		LocationMatch: locationMatches(ev.Location, expected.Location),
	}
}

func normalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func summaryMatches(parsed, expected string) bool {
	p, e := normalizeText(parsed), normalizeText(expected)
	if p == "" || e == "" {
		// "" is a substring of everything; only an exact blank pair matches.
		return p == e
	}
	return p == e || strings.Contains(p, e) || strings.Contains(e, p)
}

// datePortion returns the text before the first date/time separator.
func datePortion(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, "T "); i >= 0 {
		return s[:i]
	}
	return s
}

// dateMatches is a prefix test: the parsed value may carry time and offset
// detail the expectation omits. A missing parsed value never matches.
func dateMatches(parsed, expected string) bool {
	if parsed == "" {
		return false
	}
	return strings.HasPrefix(datePortion(parsed), datePortion(expected))
}

func locationMatches(parsed, expected string) bool {
	if strings.TrimSpace(expected) == "" {
		return true
	}
	if strings.TrimSpace(parsed) == "" {
		return false
	}
	p, e := strings.ToLower(parsed), strings.ToLower(expected)
	return strings.Contains(p, e) || strings.Contains(e, p)
}
