// Package zones turns a page into candidate text fragments for the relevance
// selector. Structured zones are page regions that usually hold booking
// details (info panels, ticket summaries); everything else is generic.
package zones

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"bookcal/internal/relevance"
)

// maxFragmentChars drops container elements that are effectively the whole
// page; they would always win on rule count.
const maxFragmentChars = 2000

// DefaultStructuredSelectors match common Korean ticketing/reservation
// markup (interpark, yes24, melon ticket, CGV, catchtable style class names).
var DefaultStructuredSelectors = []string{
	`[itemtype*="schema.org/Event"]`,
	`[class*="reserv"]`, `[id*="reserv"]`,
	`[class*="booking"]`, `[id*="booking"]`,
	`[class*="ticket"]`, `[id*="ticket"]`,
	`[class*="confirm"]`, `[id*="confirm"]`,
	`[class*="info"] dl`, `table[class*="info"]`,
	`[class*="detail"]`,
}

// DefaultGenericSelectors are the block elements scanned as plain text.
var DefaultGenericSelectors = []string{"h1", "h2", "h3", "p", "li", "dd", "td", "blockquote"}

// Page is the scan result for one document.
type Page struct {
	URL       string
	Title     string
	Text      string
	Fragments []relevance.CandidateFragment
}

// Scanner extracts fragments by CSS selector.
type Scanner struct {
	Structured []string
	Generic    []string
}

// NewScanner returns a scanner with the default selectors.
func NewScanner() *Scanner {
	return &Scanner{Structured: DefaultStructuredSelectors, Generic: DefaultGenericSelectors}
}

// Scan parses an HTML document. Fragments come out structured zones first,
// then generic, each in document order; duplicates keep their first zone.
func (s *Scanner) Scan(r io.Reader, pageURL string) (*Page, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	doc := goquery.NewDocumentFromNode(root)
	doc.Find("script, style, noscript, template, svg").Remove()

	page := &Page{
		URL:   pageURL,
		Title: collapse(doc.Find("title").First().Text()),
		Text:  collapse(doc.Find("body").Text()),
	}

	seen := make(map[string]bool)
	add := func(sel *goquery.Selection, zone relevance.Zone) {
		text := collapse(blockText(sel))
		if text == "" || seen[text] || utf8.RuneCountInString(text) > maxFragmentChars {
			return
		}
		seen[text] = true
		page.Fragments = append(page.Fragments, relevance.NewFragment(text, zone))
	}

	if len(s.Structured) > 0 {
		doc.Find(strings.Join(s.Structured, ", ")).Each(func(_ int, sel *goquery.Selection) {
			add(sel, relevance.ZoneStructured)
		})
	}
	if len(s.Generic) > 0 {
		doc.Find(strings.Join(s.Generic, ", ")).Each(func(_ int, sel *goquery.Selection) {
			add(sel, relevance.ZoneGeneric)
		})
	}
	return page, nil
}

// FromText splits plain text (e.g. a user selection) into generic fragments
// on blank lines; a single block becomes one fragment.
func FromText(text string) []relevance.CandidateFragment {
	var out []relevance.CandidateFragment
	for _, block := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n") {
		if c := collapse(block); c != "" {
			out = append(out, relevance.NewFragment(c, relevance.ZoneGeneric))
		}
	}
	return out
}

// blockText joins text nodes with spaces so "<dt>일시</dt><dd>5월 3일</dd>"
// does not become "일시5월 3일".
func blockText(sel *goquery.Selection) string {
	var b strings.Builder
	for _, n := range sel.Nodes {
		var walk func(*html.Node)
		walk = func(n *html.Node) {
			if n.Type == html.TextNode {
				b.WriteString(n.Data)
				b.WriteByte(' ')
				return
			}
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				walk(c)
			}
		}
		walk(n)
	}
	return b.String()
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
