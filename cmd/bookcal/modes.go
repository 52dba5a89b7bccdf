package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"bookcal/internal/calendar"
	"bookcal/internal/capture"
	"bookcal/internal/config"
	"bookcal/internal/detector"
	"bookcal/internal/extract"
	"bookcal/internal/harness"
	appLog "bookcal/internal/log"
	"bookcal/internal/model"
	"bookcal/internal/relevance"
	"bookcal/internal/settings"
	"bookcal/internal/web"
)

const extractCacheTTL = 7 * 24 * time.Hour

func newExtractor(ctx context.Context, conf *config.Config) (*extract.GeminiExtractor, error) {
	var cache *extract.Cache
	if conf.Gemini.CacheDir != "" {
		cache = extract.NewCache(conf.Gemini.CacheDir, extractCacheTTL)
	}
	return extract.NewGeminiExtractor(ctx, extract.GeminiOptions{
		APIKey:   conf.GeminiAPIKey(),
		Model:    conf.Gemini.Model,
		Location: conf.Location(),
		Timeout:  conf.Gemini.Timeout,
		Cache:    cache,
		Progress: func(p extract.Progress) {
			appLog.Debug("extract progress", "stage", string(p.Stage), "progress", p.Percent)
		},
	})
}

func newCalendar(conf *config.Config) *calendar.FileCalendar {
	return calendar.NewFileCalendar(calendar.Options{
		Path:            conf.Calendar.Path,
		Name:            conf.Calendar.Name,
		Location:        conf.Location(),
		DefaultDuration: conf.Calendar.DefaultDuration,
	})
}

func detectorOptions(conf *config.Config) detector.Options {
	sel := relevance.NewSelector(nil)
	sel.Threshold = conf.Detector.Threshold
	sel.MinLength = conf.Detector.MinFragmentLength
	return detector.Options{
		InitialDelay:       conf.Detector.InitialDelay,
		NavigationDebounce: conf.Detector.NavigationDebounce,
		DisplayTimeout:     conf.Detector.DisplayTimeout,
		Selector:           sel,
	}
}

// logNotifier writes detector notifications to the log.
func logNotifier(n detector.Notification) {
	switch n.Kind {
	case detector.NoticeFound:
		summaries := make([]string, 0, len(n.Events))
		for _, ev := range n.Events {
			summaries = append(summaries, ev.Summary+" @ "+ev.Start.Value())
		}
		appLog.Info("booking events found",
			"cycle", n.CycleID,
			"url", n.Page.URL,
			"count", len(n.Events),
			"events", strings.Join(summaries, "; "),
		)
	case detector.NoticeFailed:
		appLog.Error("booking extraction failed; POST /api/retry to try again", n.Err, "cycle", n.CycleID, "url", n.Page.URL)
	default:
		appLog.Info("detector notice", "kind", string(n.Kind), "cycle", n.CycleID)
	}
}

func runServe(ctx context.Context, conf *config.Config) error {
	ext, err := newExtractor(ctx, conf)
	if err != nil {
		return err
	}
	store := settings.NewFileStore(conf.SettingsPath)
	page := &detector.StaticSource{}
	det := detector.New(page, ext, store, detector.NotifierFunc(logNotifier), detectorOptions(conf))
	defer det.Close()

	srv := web.NewServer(conf, web.Deps{
		Detector:  det,
		Page:      page,
		Extractor: ext,
		Calendar:  newCalendar(conf),
		Settings:  store,
		Harness:   harness.New(ext, conf.Harness.Delay),
	})
	return srv.Run(ctx)
}

func runWatch(ctx context.Context, conf *config.Config) error {
	if len(conf.Watch.URLs) == 0 {
		return errors.New("watch mode needs at least one watch.urls entry")
	}
	ext, err := newExtractor(ctx, conf)
	if err != nil {
		return err
	}

	watcher, err := capture.NewWatcher(ctx, capture.Options{Headless: conf.Watch.Headless})
	if err != nil {
		return err
	}
	defer watcher.Close()

	store := settings.NewFileStore(conf.SettingsPath)
	det := detector.New(watcher, ext, store, detector.NotifierFunc(logNotifier), detectorOptions(conf))
	defer det.Close()
	watcher.OnNavigate(det.Navigate)

	if err := watcher.Open(ctx, conf.Watch.URLs[0]); err != nil {
		appLog.Error("failed to open first watch URL", err, "url", conf.Watch.URLs[0])
	}
	det.Start()

	c := cron.New(cron.WithParser(cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)))
	if _, err := c.AddFunc(conf.Watch.Cron, func() { rescan(ctx, watcher, det, conf.Watch.URLs) }); err != nil {
		return fmt.Errorf("invalid watch.cron %q: %w", conf.Watch.Cron, err)
	}
	c.Start()
	defer func() {
		<-c.Stop().Done()
	}()
	appLog.Info("watch scheduler started", "cron", conf.Watch.Cron, "urls", len(conf.Watch.URLs))

	srv := web.NewServer(conf, web.Deps{
		Detector:  det,
		Extractor: ext,
		Calendar:  newCalendar(conf),
		Settings:  store,
	})
	return srv.Run(ctx)
}

// rescan visits every URL in turn and waits for each detection to settle,
// so a later navigation does not discard an earlier page's result.
func rescan(ctx context.Context, w *capture.Watcher, det *detector.Detector, urls []string) {
	for _, u := range urls {
		if ctx.Err() != nil {
			return
		}
		if err := w.Open(ctx, u); err != nil {
			appLog.Error("watch: open failed", err, "url", u)
			continue
		}
		if det.ScanNow() {
			waitSettled(ctx, det, 2*time.Minute)
		}
	}
}

func waitSettled(ctx context.Context, det *detector.Detector, limit time.Duration) {
	deadline := time.After(limit)
	t := time.NewTicker(500 * time.Millisecond)
	defer t.Stop()
	for det.State().Phase == detector.AwaitingExtraction {
		select {
		case <-ctx.Done():
			return
		case <-deadline:
			appLog.Warn("watch: extraction still pending, moving on")
			return
		case <-t.C:
		}
	}
}

func runHarness(ctx context.Context, conf *config.Config, flags flagConfig) error {
	cases, err := harness.LoadCases(conf.Harness.Dataset)
	if err != nil {
		return err
	}
	ext, err := newExtractor(ctx, conf)
	if err != nil {
		return err
	}

	h := harness.New(ext, conf.Harness.Delay)
	_, runErr := h.Run(ctx, cases, conf.Harness.Category)

	h.Report(os.Stdout)
	fmt.Printf("accuracy: %s%% (session %s)\n", h.Accuracy(), h.SessionID())

	if flags.csvOut != "" {
		if err := writeCSVFile(flags.csvOut, h); err != nil {
			return err
		}
		appLog.Info("harness CSV written", "path", flags.csvOut)
	}
	if flags.xlsxOut != "" {
		if err := h.ExportXLSX(flags.xlsxOut); err != nil {
			return err
		}
		appLog.Info("harness XLSX written", "path", flags.xlsxOut)
	}
	return runErr
}

func writeCSVFile(path string, h *harness.Harness) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := h.ExportCSV(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func runExtract(ctx context.Context, conf *config.Config, flags flagConfig) error {
	text, page, err := extractInput(ctx, conf, flags)
	if err != nil {
		return err
	}

	ext, err := newExtractor(ctx, conf)
	if err != nil {
		return err
	}
	events, err := ext.Extract(ctx, text, page)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		appLog.Info("no events found")
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(events); err != nil {
		return err
	}
	previewRecurrences(events, conf)

	if !flags.add {
		return nil
	}
	cal := newCalendar(conf)
	var failed int
	for i, ev := range events {
		if err := cal.CreateEvent(ctx, ev); err != nil {
			appLog.Error("failed to add event", err, "index", i, "summary", ev.Summary)
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d events not added", failed, len(events))
	}
	appLog.Info("events added", "count", len(events), "path", conf.Calendar.Path)
	return nil
}

// extractInput reads the text to extract from -url, -in or stdin. A captured
// page is narrowed to its best fragment; the whole page text is used when no
// fragment clears the threshold.
func extractInput(ctx context.Context, conf *config.Config, flags flagConfig) (string, model.PageContext, error) {
	if flags.url != "" {
		page, err := capture.CapturePage(ctx, flags.url, capture.Options{Headless: conf.Watch.Headless})
		if err != nil {
			return "", model.PageContext{}, err
		}
		text := page.Text
		if sel, ok := detectorOptions(conf).Selector.SelectBestFragment(page.Text, page.Fragments); ok {
			text = sel.Fragment.Text
			appLog.Info("best fragment selected", "zone", string(sel.Fragment.Zone), "score", sel.Score.Value)
		} else {
			appLog.Warn("no fragment above threshold, using full page text", "url", page.URL)
		}
		return text, model.PageContext{Title: page.Title, URL: page.URL, Domain: hostOf(page.URL)}, nil
	}

	var (
		data []byte
		err  error
	)
	title := "stdin"
	if flags.input == "" || flags.input == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(flags.input)
		title = filepath.Base(flags.input)
	}
	if err != nil {
		return "", model.PageContext{}, fmt.Errorf("failed to read input: %w", err)
	}
	return string(data), model.PageContext{Title: title}, nil
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// previewRecurrences logs the next few dates of recurring events.
func previewRecurrences(events model.ParseResult, conf *config.Config) {
	loc := conf.Location()
	from := time.Now().In(loc)
	for _, ev := range events {
		if len(ev.Recurrence) == 0 {
			continue
		}
		starts, truncated, err := calendar.Occurrences(ev, loc, from, from.AddDate(1, 0, 0), 5)
		if err != nil {
			appLog.Error("recurrence preview failed", err, "summary", ev.Summary)
			continue
		}
		dates := make([]string, 0, len(starts))
		for _, s := range starts {
			dates = append(dates, s.In(loc).Format("2006-01-02 15:04"))
		}
		appLog.Info("recurrence preview", "summary", ev.Summary, "next", strings.Join(dates, ", "), "more", truncated)
	}
}
