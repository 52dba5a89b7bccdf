// Package capture drives a Chromium tab through chromedp. It loads pages,
// snapshots their rendered DOM into scan zones and reports in-page
// navigations so the detector can rescan single-page apps.
package capture

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	appLog "bookcal/internal/log"
	"bookcal/internal/zones"
)

// Default capture parameters.
const (
	DefaultTimeoutSec = 30
	DefaultSettle     = 500 * time.Millisecond
)

// Options configures a Watcher.
type Options struct {
	// Headless=false opens a visible browser window.
	Headless bool

	// Timeout bounds a single Open or Snapshot call. If zero,
	// DefaultTimeoutSec is used.
	Timeout time.Duration

	// Settle is the extra wait after the body is ready, for late scripts.
	// Zero means DefaultSettle; negative disables the wait.
	Settle time.Duration

	// Scanner turns the DOM into fragments. Nil means zones.NewScanner().
	Scanner *zones.Scanner
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = time.Duration(DefaultTimeoutSec) * time.Second
	}
	switch {
	case o.Settle == 0:
		o.Settle = DefaultSettle
	case o.Settle < 0:
		o.Settle = 0
	}
	if o.Scanner == nil {
		o.Scanner = zones.NewScanner()
	}
	return o
}

// Watcher owns one browser tab.
type Watcher struct {
	opts Options

	allocCancel context.CancelFunc
	ctx         context.Context
	cancel      context.CancelFunc

	mu       sync.Mutex
	handlers []func(url string)
	lastURL  string
}

// NewWatcher launches Chromium and opens a blank tab. Close releases it.
func NewWatcher(parent context.Context, opts Options) (*Watcher, error) {
	opts = opts.withDefaults()

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(parent, allocOpts...)
	ctx, cancel := chromedp.NewContext(allocCtx)

	w := &Watcher{opts: opts, allocCancel: allocCancel, ctx: ctx, cancel: cancel}

	// The first Run starts the browser.
	if err := chromedp.Run(ctx); err != nil {
		cancel()
		allocCancel()
		return nil, fmt.Errorf("capture: failed to start browser: %w", err)
	}

	chromedp.ListenTarget(ctx, w.onEvent)
	return w, nil
}

// OnNavigate registers fn for main-frame URL changes, including
// history.pushState navigations inside the same document. fn must not block.
func (w *Watcher) OnNavigate(fn func(url string)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers = append(w.handlers, fn)
}

func (w *Watcher) onEvent(ev interface{}) {
	var url string
	switch e := ev.(type) {
	case *page.EventFrameNavigated:
		if e.Frame == nil || e.Frame.ParentID != "" {
			return
		}
		url = e.Frame.URL
	case *page.EventNavigatedWithinDocument:
		url = e.URL
	default:
		return
	}

	w.mu.Lock()
	if url == w.lastURL {
		w.mu.Unlock()
		return
	}
	w.lastURL = url
	handlers := append([]func(string){}, w.handlers...)
	w.mu.Unlock()

	appLog.Debug("capture: navigation", "url", url)
	for _, fn := range handlers {
		fn(url)
	}
}

// Open navigates the tab to url and waits until the body is ready.
func (w *Watcher) Open(ctx context.Context, url string) error {
	if strings.TrimSpace(url) == "" {
		return fmt.Errorf("capture: URL is required")
	}
	return w.run(ctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
}

// Snapshot reads the current DOM and scans it into zones.
func (w *Watcher) Snapshot(ctx context.Context) (*zones.Page, error) {
	var (
		html, title, location string
	)
	err := w.run(ctx,
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(w.opts.Settle),
		chromedp.Location(&location),
		chromedp.Title(&title),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return nil, err
	}

	p, err := w.opts.Scanner.Scan(strings.NewReader(html), location)
	if err != nil {
		return nil, fmt.Errorf("capture: %w", err)
	}
	if p.Title == "" {
		p.Title = title
	}
	return p, nil
}

// run executes actions on the tab under the per-call timeout. The tab's own
// context carries the browser; ctx only bounds the wait.
func (w *Watcher) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(w.ctx, w.opts.Timeout)
	defer cancel()

	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		return fmt.Errorf("capture: chromedp run failed: %w", err)
	}
	return nil
}

// Close shuts the tab and the browser.
func (w *Watcher) Close() {
	w.cancel()
	w.allocCancel()
}

// CapturePage is a one-shot Open+Snapshot in a fresh browser.
func CapturePage(parent context.Context, url string, opts Options) (*zones.Page, error) {
	w, err := NewWatcher(parent, opts)
	if err != nil {
		return nil, err
	}
	defer w.Close()

	if err := w.Open(parent, url); err != nil {
		return nil, err
	}
	return w.Snapshot(parent)
}
