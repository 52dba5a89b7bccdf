package web

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"bookcal/internal/detector"
	appLog "bookcal/internal/log"
	"bookcal/internal/model"
	"bookcal/internal/settings"
	"bookcal/internal/zones"
)

type detectRequest struct {
	URL   string `json:"url"`
	Title string `json:"title"`
	HTML  string `json:"html"`
	Text  string `json:"text"`
}

type stateResponse struct {
	Enabled bool               `json:"enabled"`
	Phase   string             `json:"phase"`
	CycleID uint64             `json:"cycleId"`
	Events  model.ParseResult  `json:"events"`
	Source  *model.PageContext `json:"source,omitempty"`
}

type detectResponse struct {
	Matched bool          `json:"matched"`
	State   stateResponse `json:"state"`
}

func (s *Server) requireDetector(w http.ResponseWriter) (*detector.Detector, bool) {
	if s.deps.Detector == nil {
		writeError(w, http.StatusServiceUnavailable, "detector not running")
		return nil, false
	}
	return s.deps.Detector, true
}

func (s *Server) stateOf(ctx context.Context, d *detector.Detector) stateResponse {
	st := d.State()
	resp := stateResponse{
		Enabled: st.Enabled,
		Phase:   st.Phase.String(),
		CycleID: st.CycleID,
		Events:  st.LastParsedEvents,
	}
	if resp.Events == nil {
		resp.Events = model.ParseResult{}
	}
	if st.Page != nil && s.showSourceInfo(ctx) {
		resp.Source = st.Page
	}
	return resp
}

// handleDetect accepts page content and scans it immediately.
//
// POST /api/detect {"url": "...", "title": "...", "html": "..."} or {"text": "..."}
//   - html 이 있으면 zone 단위로 분석하고, 없으면 text 를 빈 줄 기준으로 나눈다.
//   - url 이 바뀌면 이전 페이지 결과는 버려진다.
func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	d, ok := s.requireDetector(w)
	if !ok {
		return
	}
	var req detectRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if s.deps.Page != nil {
		page, err := s.pageFromRequest(req)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.deps.Page.Set(page)
	}
	if u := trimmed(req.URL); u != "" {
		d.Navigate(u)
	}

	matched := d.ScanNow()
	appLog.Info("api detect", "url", req.URL, "matched", matched)
	writeJSON(w, http.StatusOK, detectResponse{Matched: matched, State: s.stateOf(r.Context(), d)})
}

func (s *Server) pageFromRequest(req detectRequest) (*zones.Page, error) {
	url := trimmed(req.URL)
	var page *zones.Page
	switch {
	case trimmed(req.HTML) != "":
		p, err := s.deps.Scanner.Scan(strings.NewReader(req.HTML), url)
		if err != nil {
			return nil, err
		}
		page = p
	case trimmed(req.Text) != "":
		page = &zones.Page{URL: url, Text: req.Text, Fragments: zones.FromText(req.Text)}
	default:
		return nil, errors.New("html or text is required")
	}
	if t := trimmed(req.Title); t != "" {
		page.Title = t
	}
	return page, nil
}

func (s *Server) handleNavigate(w http.ResponseWriter, r *http.Request) {
	d, ok := s.requireDetector(w)
	if !ok {
		return
	}
	var req struct {
		URL string `json:"url"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if trimmed(req.URL) == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	d.Navigate(trimmed(req.URL))
	writeJSON(w, http.StatusAccepted, s.stateOf(r.Context(), d))
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	d, ok := s.requireDetector(w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.stateOf(r.Context(), d))
}

func (s *Server) handleDismiss(w http.ResponseWriter, r *http.Request) {
	d, ok := s.requireDetector(w)
	if !ok {
		return
	}
	d.Dismiss()
	writeJSON(w, http.StatusOK, s.stateOf(r.Context(), d))
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	d, ok := s.requireDetector(w)
	if !ok {
		return
	}
	if err := d.Retry(); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, s.stateOf(r.Context(), d))
}

// handleEnabled toggles auto-detection and persists the choice.
func (s *Server) handleEnabled(w http.ResponseWriter, r *http.Request) {
	d, ok := s.requireDetector(w)
	if !ok {
		return
	}
	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Enabled == nil {
		writeError(w, http.StatusBadRequest, "enabled is required")
		return
	}
	d.SetEnabled(*req.Enabled)

	persisted := false
	if s.deps.Settings != nil {
		if err := s.deps.Settings.Set(r.Context(), settings.KeyAutoDetectEnabled, *req.Enabled); err != nil {
			appLog.Error("failed to persist autoDetectEnabled", err)
		} else {
			persisted = true
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"enabled":   *req.Enabled,
		"persisted": persisted,
	})
}
