package detector

import (
	"strings"

	"github.com/cloudflare/ahocorasick"

	"bookcal/internal/relevance"
	"bookcal/internal/zones"
)

// ConfirmationKeywords mark booking confirmation and ticket pages.
var ConfirmationKeywords = []string{
	"예매완료", "예매 완료", "예매확인", "예매 확인", "예매내역", "예매 내역", "예매번호",
	"예약완료", "예약 완료", "예약확인", "예약 확인", "예약번호", "결제완료", "결제 완료",
	"booking confirmed", "booking confirmation", "reservation", "confirmation",
	"order number", "e-ticket", "ticket",
}

// CategoryKeywords mark event categories.
var CategoryKeywords = []string{
	"콘서트", "뮤지컬", "연극", "영화", "전시", "페스티벌", "공연",
	"concert", "musical", "theater", "theatre", "movie", "cinema", "exhibition", "festival",
}

// Prefilter is the cheap check run before any fragment scoring.
type Prefilter struct {
	matcher *ahocorasick.Matcher
}

// NewPrefilter builds a prefilter over keywords. Nil means the confirmation
// and category keyword lists.
func NewPrefilter(keywords []string) *Prefilter {
	if keywords == nil {
		keywords = append(append([]string{}, ConfirmationKeywords...), CategoryKeywords...)
	}
	lowered := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			lowered = append(lowered, k)
		}
	}
	return &Prefilter{matcher: ahocorasick.NewStringMatcher(lowered)}
}

// Hit reports whether page text, title or URL carries a booking keyword or
// a date/time pattern.
func (p *Prefilter) Hit(page *zones.Page) bool {
	if page == nil {
		return false
	}
	haystack := page.Title + "\n" + page.URL + "\n" + page.Text
	if strings.TrimSpace(haystack) == "" {
		return false
	}
	if p.matcher.Contains([]byte(strings.ToLower(haystack))) {
		return true
	}
	return relevance.HasDateOrTime(haystack)
}
