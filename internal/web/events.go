package web

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"bookcal/internal/calendar"
	"bookcal/internal/extract"
	appLog "bookcal/internal/log"
	"bookcal/internal/model"
)

// 사용자에게 보여줄 실패 메시지. 재시도는 사용자가 직접 한다.
const (
	msgExtractFailed = "일정 정보를 분석하지 못했습니다. 잠시 후 다시 시도해 주세요."
	msgNothingFound  = "일정 정보를 찾지 못했습니다."
	msgCreateFailed  = "캘린더에 일정을 추가하지 못했습니다. 다시 시도해 주세요."
)

type extractRequest struct {
	Text  string `json:"text"`
	Title string `json:"title"`
	URL   string `json:"url"`
}

type extractResponse struct {
	Events  model.ParseResult  `json:"events"`
	Message string             `json:"message,omitempty"`
	Source  *model.PageContext `json:"source,omitempty"`
}

// handleExtract runs extraction on text the user selected by hand. The result
// replaces the previous manual result and is addressable by index from
// POST /api/events with source "manual".
func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	if s.deps.Extractor == nil {
		writeError(w, http.StatusServiceUnavailable, "extraction not configured")
		return
	}
	var req extractRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	pc := model.PageContext{
		Title:          trimmed(req.Title),
		URL:            trimmed(req.URL),
		Domain:         hostOf(req.URL),
		IsAutoDetected: false,
	}
	events, err := s.deps.Extractor.Extract(r.Context(), req.Text, pc)
	if err != nil {
		if errors.Is(err, extract.ErrEmptyText) {
			writeError(w, http.StatusBadRequest, "text is required")
			return
		}
		appLog.Error("api extract failed", err, "url", pc.URL)
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"error":     msgExtractFailed,
			"retryable": true,
		})
		return
	}

	s.manualMu.Lock()
	s.manualEvents = append(model.ParseResult(nil), events...)
	s.manualMu.Unlock()

	resp := extractResponse{Events: events}
	if resp.Events == nil {
		resp.Events = model.ParseResult{}
	}
	if len(events) == 0 {
		resp.Message = msgNothingFound
	}
	if s.showSourceInfo(r.Context()) {
		resp.Source = &pc
	}
	writeJSON(w, http.StatusOK, resp)
}

// createItem picks one event by index, optionally replacing it with an
// edited copy.
type createItem struct {
	Index int                  `json:"index"`
	Event *model.DetectedEvent `json:"event,omitempty"`
}

type createRequest struct {
	// Source is "auto" (detector result, default) or "manual".
	Source string       `json:"source"`
	Items  []createItem `json:"items"`
}

type createResult struct {
	Index     int    `json:"index"`
	OK        bool   `json:"ok"`
	UID       string `json:"uid,omitempty"`
	Error     string `json:"error,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

type createResponse struct {
	Created int            `json:"created"`
	Results []createResult `json:"results"`
}

// handleCreateEvents adds the chosen events to the calendar, one call per
// event. An empty item list means every event of the source.
func (s *Server) handleCreateEvents(w http.ResponseWriter, r *http.Request) {
	if s.deps.Calendar == nil {
		writeError(w, http.StatusServiceUnavailable, "calendar not configured")
		return
	}
	var req createRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	list, err := s.eventsFor(req.Source)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	items := req.Items
	if len(items) == 0 {
		for i := range list {
			items = append(items, createItem{Index: i})
		}
	}

	resp := createResponse{Results: make([]createResult, 0, len(items))}
	for _, it := range items {
		res := createResult{Index: it.Index}
		if it.Index < 0 || it.Index >= len(list) {
			res.Error = fmt.Sprintf("index %d out of range", it.Index)
			resp.Results = append(resp.Results, res)
			continue
		}
		ev := list[it.Index]
		if it.Event != nil {
			ev = *it.Event
		}

		if err := s.deps.Calendar.CreateEvent(r.Context(), ev); err != nil {
			appLog.Error("api create event failed", err, "index", it.Index, "summary", ev.Summary)
			if errors.Is(err, calendar.ErrInvalidEvent) {
				res.Error = err.Error()
			} else {
				res.Error = msgCreateFailed
				res.Retryable = true
			}
		} else {
			res.OK = true
			res.UID = calendar.EventUID(ev)
			resp.Created++
		}
		resp.Results = append(resp.Results, res)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) eventsFor(source string) (model.ParseResult, error) {
	switch strings.ToLower(trimmed(source)) {
	case "", "auto":
		if s.deps.Detector == nil {
			return nil, errors.New("detector not running")
		}
		return s.deps.Detector.State().LastParsedEvents, nil
	case "manual":
		s.manualMu.Lock()
		defer s.manualMu.Unlock()
		return append(model.ParseResult(nil), s.manualEvents...), nil
	}
	return nil, fmt.Errorf("unknown source %q", source)
}

func (s *Server) handleListEvents(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Calendar == nil {
		writeError(w, http.StatusServiceUnavailable, "calendar not configured")
		return
	}
	events, err := s.deps.Calendar.Events()
	if err != nil {
		appLog.Error("api events: calendar read failed", err)
		writeError(w, http.StatusInternalServerError, "failed to read calendar")
		return
	}
	if events == nil {
		events = []model.DetectedEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *Server) handleHarnessCSV(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Harness == nil {
		writeError(w, http.StatusNotFound, "harness not configured")
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="bookcal-%s.csv"`, s.deps.Harness.SessionID()))
	if err := s.deps.Harness.ExportCSV(w); err != nil {
		appLog.Error("harness csv export failed", err)
	}
}

func hostOf(raw string) string {
	u, err := url.Parse(trimmed(raw))
	if err != nil {
		return ""
	}
	return u.Hostname()
}
