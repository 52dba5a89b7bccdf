// Package calendar is the event creation sink: detected events are written
// into an iCalendar file that any calendar app can subscribe to or import.
package calendar

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	ical "github.com/arran4/golang-ical"

	"bookcal/internal/config"
	appLog "bookcal/internal/log"
	"bookcal/internal/model"
)

// ErrInvalidEvent is returned for events that cannot be written.
var ErrInvalidEvent = errors.New("invalid event")

// Creator is the event creation collaborator: one call per event, no
// batching, no retry.
type Creator interface {
	CreateEvent(ctx context.Context, ev model.DetectedEvent) error
}

// Options configures a FileCalendar.
type Options struct {
	Path            string
	Name            string
	Location        *time.Location
	DefaultDuration time.Duration
}

// FileCalendar keeps events in a single .ics file. Adding an event with the
// same summary and start replaces the earlier copy.
type FileCalendar struct {
	opts Options
	mu   sync.Mutex
	now  func() time.Time
}

func NewFileCalendar(opts Options) *FileCalendar {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.DefaultDuration <= 0 {
		opts.DefaultDuration = 2 * time.Hour
	}
	if opts.Name == "" {
		opts.Name = "bookcal"
	}
	return &FileCalendar{opts: opts, now: time.Now}
}

// CreateEvent validates ev, fills in a default end and writes it.
func (c *FileCalendar) CreateEvent(ctx context.Context, ev model.DetectedEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ev.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	for _, rule := range ev.Recurrence {
		if err := ValidateRule(rule); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
		}
	}
	ev = c.withDefaultEnd(ev)

	c.mu.Lock()
	defer c.mu.Unlock()

	stored, err := c.load()
	if err != nil {
		return model.NewServiceError("calendar", "load", err)
	}

	uid := EventUID(ev)
	stored[uid] = ev

	if err := c.save(stored); err != nil {
		return model.NewServiceError("calendar", "save", err)
	}
	appLog.Info("calendar event written", "uid", uid, "summary", ev.Summary, "path", c.opts.Path)
	return nil
}

// Events returns the stored events ordered by start.
func (c *FileCalendar) Events() ([]model.DetectedEvent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stored, err := c.load()
	if err != nil {
		return nil, err
	}
	return sortedEvents(stored), nil
}

// EventUID derives a stable UID so re-adding an event is idempotent.
func EventUID(ev model.DetectedEvent) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(ev.Summary)) + "|" + ev.Start.Value()))
	return hex.EncodeToString(sum[:8]) + "@bookcal"
}

func (c *FileCalendar) withDefaultEnd(ev model.DetectedEvent) model.DetectedEvent {
	if !ev.End.IsZero() {
		return ev
	}
	if ev.Start.AllDay() {
		ev.End = model.DateSpec{Date: ev.Start.Date, TimeZone: ev.Start.TimeZone}
		return ev
	}
	start, err := time.Parse(time.RFC3339, ev.Start.DateTime)
	if err != nil {
		return ev
	}
	ev.End = model.DateSpec{
		DateTime: start.Add(c.opts.DefaultDuration).Format(time.RFC3339),
		TimeZone: ev.Start.TimeZone,
	}
	return ev
}

func (c *FileCalendar) load() (map[string]model.DetectedEvent, error) {
	out := make(map[string]model.DetectedEvent)
	body, err := os.ReadFile(c.opts.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return out, nil
		}
		return nil, err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return out, nil
	}
	parsed, err := ParseICS(body, c.opts.Location)
	if err != nil {
		return nil, err
	}
	for _, p := range parsed {
		out[p.UID] = p.Event
	}
	return out, nil
}

func (c *FileCalendar) save(events map[string]model.DetectedEvent) error {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId("-//bookcal//KO")
	cal.SetXWRCalName(c.opts.Name)
	cal.SetXWRTimezone(c.opts.Location.String())

	stamp := c.now().UTC()
	uids := make([]string, 0, len(events))
	for uid := range events {
		uids = append(uids, uid)
	}
	sort.Strings(uids)

	for _, uid := range uids {
		if err := writeVEvent(cal.AddEvent(uid), events[uid], stamp, c.opts.Location); err != nil {
			return fmt.Errorf("event %s: %w", uid, err)
		}
	}
	return config.WriteFileAtomic(c.opts.Path, []byte(cal.Serialize()))
}

func writeVEvent(ve *ical.VEvent, ev model.DetectedEvent, stamp time.Time, loc *time.Location) error {
	ve.SetDtStampTime(stamp)
	ve.SetSummary(ev.Summary)
	if ev.Location != "" {
		ve.SetLocation(ev.Location)
	}
	if ev.Description != "" {
		ve.SetDescription(ev.Description)
	}

	start, err := ev.Start.Time(loc)
	if err != nil {
		return err
	}
	end, err := ev.End.Time(loc)
	if err != nil {
		return err
	}

	if ev.Start.AllDay() {
		ve.SetAllDayStartAt(start)
		// DTEND is exclusive in iCalendar; the model's end date is inclusive.
		ve.SetAllDayEndAt(end.AddDate(0, 0, 1))
	} else {
		ve.SetStartAt(start)
		ve.SetEndAt(end)
	}

	for _, rule := range ev.Recurrence {
		ve.AddRrule(strings.TrimPrefix(rule, "RRULE:"))
	}
	return nil
}

func sortedEvents(m map[string]model.DetectedEvent) []model.DetectedEvent {
	out := make([]model.DetectedEvent, 0, len(m))
	for _, ev := range m {
		out = append(out, ev)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Start.Value(), out[j].Start.Value()
		if a != b {
			return a < b
		}
		return out[i].Summary < out[j].Summary
	})
	return out
}
