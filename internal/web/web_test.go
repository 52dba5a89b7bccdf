package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookcal/internal/calendar"
	"bookcal/internal/config"
	"bookcal/internal/detector"
	"bookcal/internal/extract"
	"bookcal/internal/harness"
	"bookcal/internal/model"
	"bookcal/internal/settings"
)

type stubExtractor struct {
	mu     sync.Mutex
	pages  []model.PageContext
	events model.ParseResult
	err    error
}

func (s *stubExtractor) Extract(_ context.Context, text string, page model.PageContext) (model.ParseResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if strings.TrimSpace(text) == "" {
		return nil, extract.ErrEmptyText
	}
	s.pages = append(s.pages, page)
	return s.events, s.err
}

type testEnv struct {
	srv      *Server
	handler  http.Handler
	det      *detector.Detector
	ext      *stubExtractor
	cal      *calendar.FileCalendar
	settings *settings.FileStore
}

func newEnv(t *testing.T, cfg *config.Config) *testEnv {
	t.Helper()
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	dir := t.TempDir()

	ext := &stubExtractor{events: model.ParseResult{
		{Summary: "레미제라블", Start: model.DateSpec{DateTime: "2024-05-03T19:30:00+09:00"}, Location: "블루스퀘어"},
		{Summary: "레미제라블 2회차", Start: model.DateSpec{DateTime: "2024-05-04T14:00:00+09:00"}},
	}}
	store := settings.NewFileStore(filepath.Join(dir, "settings.yaml"))
	page := &detector.StaticSource{}
	det := detector.New(page, ext, store, nil, detector.Options{NavigationDebounce: time.Hour})
	t.Cleanup(det.Close)
	<-det.Ready()

	loc, err := time.LoadLocation("Asia/Seoul")
	require.NoError(t, err)
	cal := calendar.NewFileCalendar(calendar.Options{Path: filepath.Join(dir, "out.ics"), Location: loc})

	srv := NewServer(cfg, Deps{
		Detector:  det,
		Page:      page,
		Extractor: ext,
		Calendar:  cal,
		Settings:  store,
		Harness:   harness.New(ext, 0),
	})
	return &testEnv{srv: srv, handler: srv.Handler(), det: det, ext: ext, cal: cal, settings: store}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

const confirmationHTML = `<html><head><title>예매 완료</title></head><body>
<div class="reserve-info"><dl>
<dt>공연명</dt><dd>뮤지컬 레미제라블</dd>
<dt>일시</dt><dd>2024년 5월 3일 오후 7:30</dd>
<dt>장소</dt><dd>블루스퀘어 신한카드홀</dd>
</dl></div></body></html>`

func TestHealth(t *testing.T) {
	env := newEnv(t, nil)
	rec := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestDetectThenCreateEvents(t *testing.T) {
	env := newEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/api/detect", detectRequest{URL: "https://tickets.example.com/confirm", HTML: confirmationHTML})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, decode[detectResponse](t, rec).Matched)

	require.Eventually(t, func() bool {
		return len(env.det.State().LastParsedEvents) == 2
	}, time.Second, 5*time.Millisecond)

	state := decode[stateResponse](t, env.do(t, http.MethodGet, "/api/state", nil))
	assert.Equal(t, "resolved", state.Phase)
	require.NotNil(t, state.Source)
	assert.Equal(t, "tickets.example.com", state.Source.Domain)
	assert.True(t, state.Source.IsAutoDetected)

	edited := model.DetectedEvent{Summary: "레미제라블 (수정)", Start: model.DateSpec{Date: "2024-05-04"}}
	rec = env.do(t, http.MethodPost, "/api/events", createRequest{Items: []createItem{
		{Index: 0},
		{Index: 1, Event: &edited},
		{Index: 7},
	}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[createResponse](t, rec)
	assert.Equal(t, 2, resp.Created)
	require.Len(t, resp.Results, 3)
	assert.True(t, resp.Results[0].OK)
	assert.NotEmpty(t, resp.Results[0].UID)
	assert.True(t, resp.Results[1].OK)
	assert.False(t, resp.Results[2].OK)
	assert.Contains(t, resp.Results[2].Error, "out of range")

	events, err := env.cal.Events()
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "레미제라블", events[0].Summary)
	assert.Equal(t, "레미제라블 (수정)", events[1].Summary)

	list := decode[map[string][]model.DetectedEvent](t, env.do(t, http.MethodGet, "/api/events", nil))
	assert.Len(t, list["events"], 2)
}

func TestDetectRequiresContent(t *testing.T) {
	env := newEnv(t, nil)
	rec := env.do(t, http.MethodPost, "/api/detect", detectRequest{URL: "https://x.example.com/"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/detect", map[string]string{"bogus": "1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSourceInfoHiddenBySetting(t *testing.T) {
	env := newEnv(t, nil)
	require.NoError(t, env.settings.Set(context.Background(), settings.KeyShowSourceInfo, false))

	env.do(t, http.MethodPost, "/api/detect", detectRequest{URL: "https://tickets.example.com/", HTML: confirmationHTML})
	require.Eventually(t, func() bool { return env.det.State().Phase == detector.Resolved }, time.Second, 5*time.Millisecond)

	state := decode[stateResponse](t, env.do(t, http.MethodGet, "/api/state", nil))
	assert.Nil(t, state.Source)
	assert.Len(t, state.Events, 2)
}

func TestDismissAndNavigateClearEvents(t *testing.T) {
	env := newEnv(t, nil)
	env.do(t, http.MethodPost, "/api/detect", detectRequest{URL: "https://tickets.example.com/", HTML: confirmationHTML})
	require.Eventually(t, func() bool { return len(env.det.State().LastParsedEvents) == 2 }, time.Second, 5*time.Millisecond)

	state := decode[stateResponse](t, env.do(t, http.MethodPost, "/api/dismiss", nil))
	assert.Empty(t, state.Events)
	assert.Equal(t, "idle", state.Phase)

	env.do(t, http.MethodPost, "/api/detect", detectRequest{URL: "https://tickets.example.com/", HTML: confirmationHTML})
	require.Eventually(t, func() bool { return len(env.det.State().LastParsedEvents) == 2 }, time.Second, 5*time.Millisecond)

	rec := env.do(t, http.MethodPost, "/api/navigate", map[string]string{"url": "https://tickets.example.com/other"})
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Empty(t, decode[stateResponse](t, rec).Events)

	rec = env.do(t, http.MethodPost, "/api/navigate", map[string]string{"url": " "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEnabledTogglePersists(t *testing.T) {
	env := newEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/api/enabled", map[string]bool{"enabled": false})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"enabled": false, "persisted": true}, decode[map[string]any](t, rec))
	assert.False(t, env.det.State().Enabled)

	v, err := env.settings.Get(context.Background(), settings.KeyAutoDetectEnabled)
	require.NoError(t, err)
	assert.False(t, v)

	rec = env.do(t, http.MethodPost, "/api/detect", detectRequest{HTML: confirmationHTML})
	assert.False(t, decode[detectResponse](t, rec).Matched)

	rec = env.do(t, http.MethodPost, "/api/enabled", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRetryWithoutMatchConflicts(t *testing.T) {
	env := newEnv(t, nil)
	rec := env.do(t, http.MethodPost, "/api/retry", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestManualExtractFlow(t *testing.T) {
	env := newEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/api/extract", extractRequest{
		Text:  "레미제라블 2024년 5월 3일 오후 7:30",
		Title: "선택한 텍스트",
		URL:   "https://blog.example.com/post/1",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[extractResponse](t, rec)
	assert.Len(t, resp.Events, 2)
	require.NotNil(t, resp.Source)
	assert.False(t, resp.Source.IsAutoDetected)
	assert.Equal(t, "blog.example.com", resp.Source.Domain)

	rec = env.do(t, http.MethodPost, "/api/events", createRequest{Source: "manual"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, decode[createResponse](t, rec).Created)

	rec = env.do(t, http.MethodPost, "/api/events", createRequest{Source: "elsewhere"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestManualExtractErrors(t *testing.T) {
	env := newEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/api/extract", extractRequest{Text: "  "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	env.ext.err = model.NewServiceError("extraction", "generate", errors.New("deadline"))
	rec = env.do(t, http.MethodPost, "/api/extract", extractRequest{Text: "something"})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, true, body["retryable"])
	assert.Equal(t, msgExtractFailed, body["error"])

	env.ext.err = nil
	env.ext.events = nil
	rec = env.do(t, http.MethodPost, "/api/extract", extractRequest{Text: "nothing here"})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[extractResponse](t, rec)
	assert.Empty(t, resp.Events)
	assert.Equal(t, msgNothingFound, resp.Message)
}

func TestCreateInvalidEventNotRetryable(t *testing.T) {
	env := newEnv(t, nil)
	env.do(t, http.MethodPost, "/api/extract", extractRequest{Text: "x"})

	bad := model.DetectedEvent{Summary: ""}
	rec := env.do(t, http.MethodPost, "/api/events", createRequest{Source: "manual", Items: []createItem{{Index: 0, Event: &bad}}})
	resp := decode[createResponse](t, rec)
	require.Len(t, resp.Results, 1)
	assert.False(t, resp.Results[0].OK)
	assert.False(t, resp.Results[0].Retryable)
}

func TestHarnessCSV(t *testing.T) {
	env := newEnv(t, nil)
	_, err := env.srv.deps.Harness.Run(context.Background(), []harness.Case{
		{ID: "c1", Category: "musical", Input: "레미제라블", Expected: model.ExpectedEvent{Summary: "레미제라블", Start: "2024-05-03", End: "2024-05-03"}},
	}, "")
	require.NoError(t, err)

	rec := env.do(t, http.MethodGet, "/api/harness/results.csv", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/csv")

	rows, err := harness.ReadSummaries(rec.Body)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "c1", rows[0].ID)
	assert.True(t, rows[0].SummaryMatch)
}

func TestBasicAuth(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BasicAuth = &config.BasicAuthConfig{Username: "admin", Password: "secret"}
	env := newEnv(t, cfg)

	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/health", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodGet, "/api/state", nil).Code)

	req := httptest.NewRequest(http.MethodGet, "/api/state", nil)
	req.SetBasicAuth("admin", "secret")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSecureCompare(t *testing.T) {
	assert.True(t, secureCompare("abc", "abc"))
	assert.False(t, secureCompare("abc", "abd"))
	assert.False(t, secureCompare("abc", "ab"))
}
