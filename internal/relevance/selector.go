package relevance

import (
	"unicode/utf8"

	appLog "bookcal/internal/log"
)

const (
	// DefaultThreshold: the best fragment must score strictly above this.
	DefaultThreshold = 3
	// DefaultMinLength: fragments of this many characters or fewer are ignored.
	DefaultMinLength = 10
)

// Zone is a structural hint about where a fragment came from.
type Zone string

const (
	ZoneStructured Zone = "structured"
	ZoneGeneric    Zone = "generic"
)

// CandidateFragment is one piece of page text considered as a unit.
type CandidateFragment struct {
	Text   string
	Zone   Zone
	Length int // characters, not bytes
}

// NewFragment builds a fragment with Length filled in.
func NewFragment(text string, zone Zone) CandidateFragment {
	return CandidateFragment{Text: text, Zone: zone, Length: utf8.RuneCountInString(text)}
}

// Selection is the winning fragment and its score.
type Selection struct {
	Fragment CandidateFragment
	Score    Score
	Index    int // position in the candidate list
}

// Selector picks the most relevant fragment of a page.
type Selector struct {
	Scorer    *Scorer
	Threshold int
	MinLength int
}

// NewSelector returns a selector with the default threshold and length cut.
func NewSelector(scorer *Scorer) *Selector {
	if scorer == nil {
		scorer = NewScorer(nil)
	}
	return &Selector{Scorer: scorer, Threshold: DefaultThreshold, MinLength: DefaultMinLength}
}

// SelectBestFragment scores every candidate longer than MinLength and returns
// the highest scorer if its score is strictly above Threshold. Ties keep the
// first candidate in input order.
func (s *Selector) SelectBestFragment(pageText string, candidates []CandidateFragment) (Selection, bool) {
	var (
		best  Selection
		found bool
	)
	for i, c := range candidates {
		// Length is recomputed so a caller-supplied value cannot bypass the cut.
		if utf8.RuneCountInString(c.Text) <= s.MinLength {
			continue
		}
		sc := s.Scorer.Evaluate(c.Text)
		if !found || sc.Value > best.Score.Value {
			best = Selection{Fragment: c, Score: sc, Index: i}
			found = true
		}
	}

	if !found || best.Score.Value <= s.Threshold {
		appLog.Debug("no fragment above threshold",
			"candidates", len(candidates),
			"page_chars", utf8.RuneCountInString(pageText),
			"threshold", s.Threshold,
		)
		return Selection{}, false
	}

	appLog.Debug("fragment selected",
		"index", best.Index,
		"zone", best.Fragment.Zone,
		"score", best.Score.Value,
	)
	return best, true
}
