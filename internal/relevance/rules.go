// Package relevance scores page text for how much it looks like an
// event/ticket booking, and picks the fragment worth sending for extraction.
package relevance

import "regexp"

// Rule is one weighted signal. Predicate must be pure.
type Rule struct {
	ID        string
	Predicate func(text string) bool
	Weight    int
}

// Rule IDs, in evaluation order.
const (
	RuleFullDate    = "full_date"
	RulePartialDate = "partial_date"
	RuleClockTime   = "clock_time"
	RuleAmPmTime    = "ampm_time"
	RuleCategory    = "category"
	RuleVenue       = "venue"
	RuleRegion      = "region"
	RuleBooking     = "booking"
)

var (
	fullDateRe    = regexp.MustCompile(`\d{4}\s*년\s*\d{1,2}\s*월\s*\d{1,2}\s*일|\b\d{4}[./-]\s?\d{1,2}[./-]\s?\d{1,2}\b`)
	partialDateRe = regexp.MustCompile(`\d{1,2}\s*월\s*\d{1,2}\s*일`)
	clockTimeRe   = regexp.MustCompile(`\d{1,2}:\d{2}`)
	amPmTimeRe    = regexp.MustCompile(`(오전|오후)\s*\d{1,2}(:\d{2})?|(?i)\b\d{1,2}(:\d{2})?\s*[ap]\.?m\b\.?`)
	categoryRe    = regexp.MustCompile(`콘서트|뮤지컬|연극|영화|전시|페스티벌|(?i)\b(concert|musical|play|film|movie|exhibition|festival)s?\b`)
	venueRe       = regexp.MustCompile(`공연장|극장|시네마|홀|아트센터|(?i)\b(venue|theater|theatre|cinema|hall)s?\b`)
	regionRe      = regexp.MustCompile(`서울|부산|대구|인천|광주|대전|울산|세종|경기|강원|충북|충남|전북|전남|경북|경남|제주|(?i)\b(seoul|busan|daegu|incheon|gwangju|daejeon|ulsan|jeju)\b`)
	bookingRe     = regexp.MustCompile(`예매|예약|티켓|좌석|등급|(?i)\b(reservation|booking|tickets?|seats?|grades?|tiers?)\b`)
)

// DefaultRules is the rule table used by NewScorer(nil). The weights are
// uncalibrated defaults; see DESIGN.md.
func DefaultRules() []Rule {
	return []Rule{
		{ID: RuleFullDate, Predicate: fullDateRe.MatchString, Weight: 3},
		{ID: RulePartialDate, Predicate: partialDateRe.MatchString, Weight: 2},
		{ID: RuleClockTime, Predicate: clockTimeRe.MatchString, Weight: 2},
		{ID: RuleAmPmTime, Predicate: amPmTimeRe.MatchString, Weight: 2},
		{ID: RuleCategory, Predicate: categoryRe.MatchString, Weight: 2},
		{ID: RuleVenue, Predicate: venueRe.MatchString, Weight: 1},
		{ID: RuleRegion, Predicate: regionRe.MatchString, Weight: 1},
		{ID: RuleBooking, Predicate: bookingRe.MatchString, Weight: 1},
	}
}

// HasDateOrTime reports whether text carries any date or clock pattern.
// The detector prefilter reuses it.
func HasDateOrTime(text string) bool {
	return fullDateRe.MatchString(text) ||
		partialDateRe.MatchString(text) ||
		clockTimeRe.MatchString(text) ||
		amPmTimeRe.MatchString(text)
}
