package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	appLog "bookcal/internal/log"
	"bookcal/internal/model"
)

// maxInputChars caps what is sent to the model; booking fragments are short
// and whole pages are not useful past this point.
const maxInputChars = 8000

var systemInstruction = `
You extract calendar events from text a user selected on a web page, usually
a Korean ticket or reservation confirmation (콘서트, 뮤지컬, 연극, 영화, 전시,
페스티벌, 식당/숙소 예약).

Rules:
- Return every distinct event in the order it appears. Multiple showtimes or
  sessions are separate events.
- "summary" is the event title as the user would name it in a calendar. Do not
  include booking numbers or prices.
- Timed events use "start.dateTime"/"end.dateTime" in RFC3339 WITH an offset.
  When the text gives no zone, assume %s.
- Events without a time use "start.date"/"end.date" (YYYY-MM-DD) and no dateTime.
- Resolve relative or year-less dates against today's date: %s.
- If no end is given, omit "end".
- "location" is the venue name and hall/screen if present.
- "description" may hold seat, grade, booking number and other useful details.
- "recurrence" holds RRULE strings (without the "RRULE:" prefix) only when the
  text explicitly describes a repeating schedule.
- If there is no event in the text, return {"events": []}.
`

// generator is the part of genai.Models the extractor needs.
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiOptions configures a GeminiExtractor.
type GeminiOptions struct {
	APIKey   string
	Model    string
	Location *time.Location
	Timeout  time.Duration
	Cache    *Cache
	Progress ProgressFunc
	// Now is injectable for tests.
	Now func() time.Time
}

// GeminiExtractor implements Service on the Gemini API with a JSON response
// schema.
type GeminiExtractor struct {
	gen  generator
	opts GeminiOptions
}

// NewGeminiExtractor creates a client for the Gemini API.
func NewGeminiExtractor(ctx context.Context, opts GeminiOptions) (*GeminiExtractor, error) {
	if opts.APIKey == "" {
		return nil, errors.New("gemini API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  opts.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return newGeminiExtractor(client.Models, opts), nil
}

func newGeminiExtractor(gen generator, opts GeminiOptions) *GeminiExtractor {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &GeminiExtractor{gen: gen, opts: opts}
}

type eventsResponse struct {
	Events []model.DetectedEvent `json:"events"`
}

// Extract sends text to the model and returns the valid events it found.
// Transport and decoding failures come back as *model.ServiceError.
func (g *GeminiExtractor) Extract(ctx context.Context, text string, page model.PageContext) (model.ParseResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyText
	}
	if r := []rune(text); len(r) > maxInputChars {
		text = string(r[:maxInputChars])
	}

	var key string
	if g.opts.Cache != nil {
		g.opts.Progress.report(5, StageCacheCheck)
		key = g.opts.Cache.Key(g.opts.Model, text, page)
		events, ok, err := g.opts.Cache.Get(key)
		if err != nil {
			appLog.Warn("extract cache read failed", "key", key, "err", err)
		}
		if ok {
			appLog.Debug("extract cache hit", "key", key, "events", len(events))
			g.opts.Progress.report(100, StageComplete)
			return events, nil
		}
	}

	if g.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.opts.Timeout)
		defer cancel()
	}

	g.opts.Progress.report(20, StageDownloading)
	resp, err := g.gen.GenerateContent(ctx, g.opts.Model,
		[]*genai.Content{{Role: "user", Parts: []*genai.Part{{Text: buildPrompt(text, page)}}}},
		&genai.GenerateContentConfig{
			SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: g.systemPrompt()}}},
			ResponseMIMEType:  "application/json",
			ResponseSchema:    responseSchema(),
		},
	)
	if err != nil {
		return nil, model.NewServiceError("extraction", "generate", err)
	}

	g.opts.Progress.report(70, StageParsing)
	raw := resp.Text()
	var parsed eventsResponse
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, model.NewServiceError("extraction", "decode",
			fmt.Errorf("failed to unmarshal gemini JSON response: %w. Raw text: %s", err, raw))
	}

	g.opts.Progress.report(90, StageProcessing)
	events := normalizeEvents(parsed.Events, g.opts.Location)

	if g.opts.Cache != nil {
		if err := g.opts.Cache.Put(key, g.opts.Model, events); err != nil {
			appLog.Warn("extract cache write failed", "key", key, "err", err)
		}
	}

	g.opts.Progress.report(100, StageComplete)
	appLog.Info("extraction complete",
		"domain", page.Domain,
		"auto", page.IsAutoDetected,
		"returned", len(parsed.Events),
		"kept", len(events),
	)
	return events, nil
}

func (g *GeminiExtractor) systemPrompt() string {
	today := g.opts.Now().In(g.opts.Location).Format("2006-01-02 (Mon)")
	return fmt.Sprintf(systemInstruction, g.opts.Location.String(), today)
}

func buildPrompt(text string, page model.PageContext) string {
	var b strings.Builder
	if page.Title != "" {
		fmt.Fprintf(&b, "Page title: %s\n", page.Title)
	}
	if page.URL != "" {
		fmt.Fprintf(&b, "Page URL: %s\n", page.URL)
	}
	fmt.Fprintf(&b, "\nExtract the events from the following text:\n\n---\n%s", text)
	return b.String()
}

// normalizeEvents repairs what can be repaired (missing offsets, both date
// forms set) and drops events that still fail validation. Order is kept.
func normalizeEvents(in []model.DetectedEvent, loc *time.Location) model.ParseResult {
	out := make(model.ParseResult, 0, len(in))
	for i, ev := range in {
		ev.Summary = strings.TrimSpace(ev.Summary)
		ev.Location = strings.TrimSpace(ev.Location)
		ev.Start = normalizeDateSpec(ev.Start, loc)
		ev.End = normalizeDateSpec(ev.End, loc)

		if err := ev.Validate(); err != nil {
			appLog.Warn("dropping invalid extracted event", "index", i, "summary", ev.Summary, "err", err)
			continue
		}
		out = append(out, ev)
	}
	return out
}

var localLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

func normalizeDateSpec(d model.DateSpec, loc *time.Location) model.DateSpec {
	if d.DateTime == "" {
		return d
	}
	// A timed value wins over a stray date.
	d.Date = ""
	if _, err := time.Parse(time.RFC3339, d.DateTime); err == nil {
		return d
	}
	zone := loc
	if d.TimeZone != "" {
		if tz, err := time.LoadLocation(d.TimeZone); err == nil {
			zone = tz
		}
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, d.DateTime, zone); err == nil {
			d.DateTime = t.Format(time.RFC3339)
			return d
		}
	}
	return d
}

func responseSchema() *genai.Schema {
	dateSchema := &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"dateTime": {Type: genai.TypeString, Description: "RFC3339 timestamp with offset for timed events."},
			"date":     {Type: genai.TypeString, Description: "YYYY-MM-DD for all-day events."},
			"timeZone": {Type: genai.TypeString, Description: "IANA time zone name, optional."},
		},
	}

	eventSchema := &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"summary":     {Type: genai.TypeString, Description: "Calendar title of the event."},
			"start":       dateSchema,
			"end":         dateSchema,
			"location":    {Type: genai.TypeString, Description: "Venue, hall or address."},
			"description": {Type: genai.TypeString, Description: "Seat, grade, booking number and other details."},
			"recurrence": {
				Type:        genai.TypeArray,
				Items:       &genai.Schema{Type: genai.TypeString},
				Description: "RRULE strings without the RRULE: prefix.",
			},
		},
		Required: []string{"summary", "start"},
	}

	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"events": {Type: genai.TypeArray, Items: eventSchema},
		},
		Required: []string{"events"},
	}
}
