package relevance

import "strings"

// Score is a computed relevance value and the weight each rule contributed.
type Score struct {
	Value     int
	Breakdown map[string]int
}

// Scorer folds a rule table over text. It is stateless and safe for
// concurrent use.
type Scorer struct {
	rules []Rule
}

// NewScorer returns a scorer over rules, or over DefaultRules when rules is nil.
func NewScorer(rules []Rule) *Scorer {
	if rules == nil {
		rules = DefaultRules()
	}
	return &Scorer{rules: rules}
}

// Rules returns a copy of the rule table.
func (s *Scorer) Rules() []Rule {
	out := make([]Rule, len(s.rules))
	copy(out, s.rules)
	return out
}

// Score returns the sum of the weights of every matching rule.
func (s *Scorer) Score(text string) int {
	return s.Evaluate(text).Value
}

// Evaluate is Score with the per-rule breakdown. Rules match independently;
// overlapping matches each contribute. Blank text scores 0.
func (s *Scorer) Evaluate(text string) Score {
	out := Score{Breakdown: make(map[string]int)}
	if strings.TrimSpace(text) == "" {
		return out
	}
	for _, r := range s.rules {
		if r.Weight <= 0 || r.Predicate == nil {
			continue
		}
		if r.Predicate(text) {
			out.Breakdown[r.ID] += r.Weight
			out.Value += r.Weight
		}
	}
	return out
}
