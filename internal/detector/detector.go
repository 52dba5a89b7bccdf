// Package detector watches a page for booking information. After a page
// load or navigation it scans the page, picks the most relevant fragment and
// hands it to the extraction service, keeping only the newest cycle's result.
package detector

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"time"

	"bookcal/internal/extract"
	appLog "bookcal/internal/log"
	"bookcal/internal/model"
	"bookcal/internal/relevance"
	"bookcal/internal/settings"
	"bookcal/internal/zones"
)

// ErrNothingToRetry is returned by Retry before any fragment matched.
var ErrNothingToRetry = errors.New("detector: no matched fragment to retry")

// Phase is the detector's position in a detection cycle.
type Phase int

const (
	Idle Phase = iota
	Scanning
	NoMatch
	Matched
	AwaitingExtraction
	Resolved
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Scanning:
		return "scanning"
	case NoMatch:
		return "no_match"
	case Matched:
		return "matched"
	case AwaitingExtraction:
		return "awaiting_extraction"
	case Resolved:
		return "resolved"
	}
	return "unknown"
}

// PageSource supplies the current page already split into zones.
type PageSource interface {
	Snapshot(ctx context.Context) (*zones.Page, error)
}

// PageFunc adapts a function to PageSource.
type PageFunc func(ctx context.Context) (*zones.Page, error)

func (f PageFunc) Snapshot(ctx context.Context) (*zones.Page, error) { return f(ctx) }

// Options configures a Detector. Zero durations fire immediately.
type Options struct {
	InitialDelay       time.Duration
	NavigationDebounce time.Duration
	DisplayTimeout     time.Duration

	Selector  *relevance.Selector
	Prefilter *Prefilter
}

// State is the per-page detector state.
type State struct {
	Enabled          bool
	LastParsedEvents model.ParseResult
	Phase            Phase
	Page             *model.PageContext
	CycleID          uint64
}

type match struct {
	fragment relevance.CandidateFragment
	page     model.PageContext
}

// Detector runs detection cycles for one page session.
type Detector struct {
	source   PageSource
	ext      extract.Service
	notifier Notifier
	opts     Options

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	ready  chan struct{}

	mu            sync.Mutex
	enabled       bool
	enabledSet    bool
	phase         Phase
	lastParsed    model.ParseResult
	lastMatch     *match
	cycle         uint64 // last issued cycle id
	resolvedCycle uint64 // cycle that last reached Resolved
	navMark       uint64 // cycles up to this id predate the latest navigation
	lastURL       string
	scanTimer     *time.Timer
	displayTimer  *time.Timer
	displayGen    uint64
	closed        bool
}

// New creates an Idle detector. The enabled flag is read from store in the
// background; until then, and if the read fails, detection is enabled.
func New(source PageSource, ext extract.Service, store settings.Store, notifier Notifier, opts Options) *Detector {
	if opts.Selector == nil {
		opts.Selector = relevance.NewSelector(nil)
	}
	if opts.Prefilter == nil {
		opts.Prefilter = NewPrefilter(nil)
	}
	if notifier == nil {
		notifier = NotifierFunc(func(Notification) {})
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Detector{
		source:   source,
		ext:      ext,
		notifier: notifier,
		opts:     opts,
		ctx:      ctx,
		cancel:   cancel,
		ready:    make(chan struct{}),
		enabled:  true,
		phase:    Idle,
	}

	if store == nil {
		close(d.ready)
		return d
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer close(d.ready)
		v, err := store.Get(ctx, settings.KeyAutoDetectEnabled)
		if err != nil {
			appLog.Warn("detector: settings load failed, auto-detect stays enabled", "err", err)
			return
		}
		d.mu.Lock()
		if !d.enabledSet {
			d.enabled = v
		}
		d.mu.Unlock()
		appLog.Debug("detector: settings loaded", "enabled", v)
	}()
	return d
}

// Ready is closed once the enabled flag has been loaded.
func (d *Detector) Ready() <-chan struct{} { return d.ready }

// Start schedules the first scan after the initial delay.
func (d *Detector) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.scheduleLocked(d.opts.InitialDelay)
}

// Navigate reports a URL change. The previous page's results are dropped and
// a scan is scheduled after the debounce; a later call inside the window
// replaces the pending one.
func (d *Detector) Navigate(rawURL string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed || rawURL == d.lastURL {
		return
	}
	d.lastURL = rawURL
	d.navMark = d.cycle
	d.lastParsed = nil
	d.lastMatch = nil
	d.phase = Idle
	d.stopDisplayLocked()
	d.scheduleLocked(d.opts.NavigationDebounce)
	appLog.Debug("detector: navigation", "url", rawURL, "stale_upto", d.navMark)
}

// ScanNow runs a scan immediately and reports whether a fragment matched.
// Extraction of a match continues in the background.
func (d *Detector) ScanNow() bool {
	d.mu.Lock()
	if d.scanTimer != nil {
		d.scanTimer.Stop()
	}
	d.mu.Unlock()
	return d.scan()
}

// SetEnabled turns detection on or off.
func (d *Detector) SetEnabled(v bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enabled = v
	d.enabledSet = true
	appLog.Info("detector: auto-detect toggled", "enabled", v)
}

// Dismiss hides the notification and forgets the parsed events.
func (d *Detector) Dismiss() {
	d.mu.Lock()
	d.lastParsed = nil
	d.phase = Idle
	d.stopDisplayLocked()
	id := d.cycle
	d.mu.Unlock()
	d.notifier.Notify(Notification{Kind: NoticeDismissed, CycleID: id})
}

// Retry re-runs extraction for the last matched fragment as a new cycle.
func (d *Detector) Retry() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return context.Canceled
	}
	if d.lastMatch == nil {
		d.mu.Unlock()
		return ErrNothingToRetry
	}
	m := *d.lastMatch
	d.cycle++
	id := d.cycle
	d.phase = AwaitingExtraction
	d.wg.Add(1)
	d.mu.Unlock()

	d.dispatch(id, m)
	return nil
}

// State returns a copy of the current state.
func (d *Detector) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	st := State{
		Enabled:          d.enabled,
		LastParsedEvents: append(model.ParseResult(nil), d.lastParsed...),
		Phase:            d.phase,
		CycleID:          d.cycle,
	}
	if d.lastMatch != nil {
		pc := d.lastMatch.page
		st.Page = &pc
	}
	return st
}

// Close stops timers and waits for in-flight work.
func (d *Detector) Close() {
	d.mu.Lock()
	d.closed = true
	if d.scanTimer != nil {
		d.scanTimer.Stop()
	}
	d.stopDisplayLocked()
	d.mu.Unlock()
	d.cancel()
	d.wg.Wait()
}

func (d *Detector) scheduleLocked(delay time.Duration) {
	if d.closed {
		return
	}
	if d.scanTimer != nil {
		d.scanTimer.Stop()
	}
	d.scanTimer = time.AfterFunc(delay, func() { d.scan() })
}

func (d *Detector) scan() bool {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return false
	}
	if !d.enabled {
		d.mu.Unlock()
		appLog.Debug("detector: disabled, scan skipped")
		return false
	}
	d.cycle++
	id := d.cycle
	d.phase = Scanning
	d.mu.Unlock()

	page, err := d.source.Snapshot(d.ctx)
	if err != nil {
		appLog.Warn("detector: page snapshot failed", "cycle", id, "err", err)
		d.noMatch(id)
		return false
	}
	if page == nil {
		d.noMatch(id)
		return false
	}
	if !d.opts.Prefilter.Hit(page) {
		appLog.Debug("detector: prefilter miss", "cycle", id, "url", page.URL)
		d.noMatch(id)
		return false
	}
	sel, ok := d.opts.Selector.SelectBestFragment(page.Text, page.Fragments)
	if !ok {
		appLog.Debug("detector: no fragment above threshold", "cycle", id, "url", page.URL)
		d.noMatch(id)
		return false
	}

	m := match{
		fragment: sel.Fragment,
		page: model.PageContext{
			Title:          page.Title,
			URL:            page.URL,
			Domain:         domainOf(page.URL),
			IsAutoDetected: true,
		},
	}

	d.mu.Lock()
	if d.staleLocked(id) {
		d.mu.Unlock()
		appLog.Debug("detector: scan superseded", "cycle", id)
		return false
	}
	// Matched hands straight over to extraction.
	d.lastMatch = &m
	d.phase = AwaitingExtraction
	d.wg.Add(1)
	d.mu.Unlock()

	appLog.Info("detector: booking fragment matched",
		"cycle", id,
		"url", m.page.URL,
		"score", sel.Score.Value,
		"zone", string(sel.Fragment.Zone),
	)
	d.dispatch(id, m)
	return true
}

func (d *Detector) noMatch(id uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	// NoMatch falls back to Idle unless a newer cycle took over.
	if d.cycle == id {
		d.phase = Idle
	}
}

// dispatch announces the analysis and runs extraction in the background.
// The caller has already added to d.wg.
func (d *Detector) dispatch(id uint64, m match) {
	d.notify(Notification{Kind: NoticeAnalyzing, CycleID: id, Page: m.page})

	go func() {
		defer d.wg.Done()
		start := time.Now()
		events, err := d.ext.Extract(d.ctx, m.fragment.Text, m.page)
		appLog.Debug("detector: extraction returned", "cycle", id, "elapsed_ms", time.Since(start).Milliseconds())
		d.complete(id, m, events, err)
	}()
}

func (d *Detector) complete(id uint64, m match, events model.ParseResult, err error) {
	d.mu.Lock()
	if d.staleLocked(id) {
		d.mu.Unlock()
		appLog.Info("detector: stale extraction result discarded", "cycle", id)
		return
	}
	d.resolvedCycle = id
	d.phase = Resolved

	n := Notification{CycleID: id, Page: m.page}
	switch {
	case err != nil:
		n.Kind = NoticeFailed
		n.Err = err
	case len(events) == 0:
		d.lastParsed = model.ParseResult{}
		n.Kind = NoticeNothingFound
	default:
		d.lastParsed = append(model.ParseResult(nil), events...)
		n.Kind = NoticeFound
		n.Events = append(model.ParseResult(nil), events...)
	}
	d.mu.Unlock()

	if err != nil {
		appLog.Error("detector: extraction failed", err, "cycle", id, "retryable", true)
	} else {
		appLog.Info("detector: extraction resolved", "cycle", id, "events", len(events))
	}
	d.notify(n)
}

// staleLocked implements last-cycle-wins: a cycle older than the last
// resolved one, or issued before the latest navigation, is ignored.
func (d *Detector) staleLocked(id uint64) bool {
	return d.closed || id < d.resolvedCycle || id <= d.navMark
}

func (d *Detector) notify(n Notification) {
	d.notifier.Notify(n)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed || d.opts.DisplayTimeout <= 0 {
		return
	}
	d.stopDisplayLocked()
	d.displayGen++
	gen := d.displayGen
	d.displayTimer = time.AfterFunc(d.opts.DisplayTimeout, func() { d.displayExpired(gen, n.CycleID) })
}

func (d *Detector) displayExpired(gen, id uint64) {
	d.mu.Lock()
	if d.closed || gen != d.displayGen {
		d.mu.Unlock()
		return
	}
	d.displayTimer = nil
	d.mu.Unlock()
	d.notifier.Notify(Notification{Kind: NoticeExpired, CycleID: id})
}

func (d *Detector) stopDisplayLocked() {
	d.displayGen++
	if d.displayTimer != nil {
		d.displayTimer.Stop()
		d.displayTimer = nil
	}
}

func domainOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
