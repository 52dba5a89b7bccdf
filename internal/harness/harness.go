// Package harness runs labeled booking texts through the extraction service
// and scores the results, one case at a time.
package harness

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"bookcal/internal/evaluate"
	"bookcal/internal/extract"
	appLog "bookcal/internal/log"
	"bookcal/internal/model"
)

// ErrRunning is returned when Run is called while another run is active.
var ErrRunning = errors.New("harness: a run is already in progress")

// CategoryAll selects every case.
const CategoryAll = "all"

// Case is one labeled input.
type Case struct {
	ID       string              `yaml:"id" json:"id"`
	Category string              `yaml:"category" json:"category"`
	Input    string              `yaml:"input" json:"input"`
	Expected model.ExpectedEvent `yaml:"expected" json:"expected"`
}

// TestOutcome is the scored result of one case.
type TestOutcome struct {
	ID        string              `json:"id"`
	Category  string              `json:"category"`
	Input     string              `json:"input"`
	Expected  model.ExpectedEvent `json:"expected"`
	Parsed    model.ParseResult   `json:"parsed,omitempty"`
	Verdict   evaluate.Verdict    `json:"verdict"`
	ElapsedMs int64               `json:"elapsedMs"`
	Error     string              `json:"error,omitempty"`
}

// Passed reports whether every field matched and no error occurred.
func (o TestOutcome) Passed() bool {
	return o.Error == "" && o.Verdict.AllMatch()
}

// ParsedSummary is the first parsed event's summary, if any.
func (o TestOutcome) ParsedSummary() string {
	if ev, ok := o.Parsed.First(); ok {
		return ev.Summary
	}
	return ""
}

// Harness owns one session of outcomes.
type Harness struct {
	ext   extract.Service
	every rate.Limit

	runMu sync.Mutex // held for the duration of Run

	mu        sync.Mutex
	sessionID string
	outcomes  []TestOutcome
}

// New returns a harness that waits delay after each extraction call returns
// before starting the next one.
func New(ext extract.Service, delay time.Duration) *Harness {
	every := rate.Inf
	if delay > 0 {
		every = rate.Every(delay)
	}
	return &Harness{
		ext:       ext,
		every:     every,
		sessionID: uuid.NewString(),
	}
}

// cooldown returns a limiter whose next token is one delay from now.
func (h *Harness) cooldown() *rate.Limiter {
	lim := rate.NewLimiter(h.every, 1)
	lim.Allow()
	return lim
}

// SessionID identifies the current session.
func (h *Harness) SessionID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sessionID
}

// Filter returns the cases of category; empty or "all" returns every case.
func Filter(cases []Case, category string) []Case {
	category = strings.TrimSpace(category)
	if category == "" || category == CategoryAll {
		return cases
	}
	out := make([]Case, 0, len(cases))
	for _, c := range cases {
		if c.Category == category {
			out = append(out, c)
		}
	}
	return out
}

// Run extracts and scores the selected cases strictly in order. Extraction
// errors become failed outcomes; only cancellation of ctx stops the run. The
// returned slice holds this run's outcomes.
func (h *Harness) Run(ctx context.Context, cases []Case, category string) ([]TestOutcome, error) {
	if !h.runMu.TryLock() {
		return nil, ErrRunning
	}
	defer h.runMu.Unlock()

	selected := Filter(cases, category)
	session := h.SessionID()
	appLog.Info("harness run started", "session", session, "cases", len(selected), "category", category)

	out := make([]TestOutcome, 0, len(selected))
	var gap *rate.Limiter
	for i, c := range selected {
		if gap != nil {
			if err := gap.Wait(ctx); err != nil {
				appLog.Warn("harness run interrupted", "session", session, "done", i, "err", err)
				return out, err
			}
		}

		o := h.runCase(ctx, c)
		gap = h.cooldown()
		out = append(out, o)

		h.mu.Lock()
		h.outcomes = append(h.outcomes, o)
		h.mu.Unlock()

		appLog.Info("harness case done",
			"session", session,
			"progress", fmt.Sprintf("%d/%d", i+1, len(selected)),
			"id", c.ID,
			"pass", o.Passed(),
			"elapsed_ms", o.ElapsedMs,
		)
	}
	appLog.Info("harness run finished", "session", session, "accuracy", h.Accuracy())
	return out, nil
}

func (h *Harness) runCase(ctx context.Context, c Case) TestOutcome {
	o := TestOutcome{
		ID:       c.ID,
		Category: c.Category,
		Input:    c.Input,
		Expected: c.Expected,
	}
	start := time.Now()
	parsed, err := h.ext.Extract(ctx, c.Input, model.PageContext{Title: "harness:" + c.ID})
	o.ElapsedMs = time.Since(start).Milliseconds()
	if err != nil {
		o.Error = err.Error()
		return o
	}
	o.Parsed = parsed
	o.Verdict = evaluate.Evaluate(parsed, c.Expected)
	return o
}

// Outcomes returns a copy of the session's outcomes in run order.
func (h *Harness) Outcomes() []TestOutcome {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]TestOutcome(nil), h.outcomes...)
}

// Accuracy is passed/total*100 with one decimal place; "0.0" when empty.
func (h *Harness) Accuracy() string {
	return Accuracy(h.Outcomes())
}

// Accuracy computes the pass rate of outcomes.
func Accuracy(outcomes []TestOutcome) string {
	if len(outcomes) == 0 {
		return "0.0"
	}
	passed := 0
	for _, o := range outcomes {
		if o.Passed() {
			passed++
		}
	}
	return fmt.Sprintf("%.1f", float64(passed)/float64(len(outcomes))*100)
}

// Clear drops all outcomes and starts a new session.
func (h *Harness) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.outcomes = nil
	h.sessionID = uuid.NewString()
	appLog.Info("harness session cleared", "session", h.sessionID)
}
