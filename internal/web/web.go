package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"bookcal/internal/config"
	"bookcal/internal/detector"
	"bookcal/internal/extract"
	"bookcal/internal/harness"
	appLog "bookcal/internal/log"
	"bookcal/internal/model"
	"bookcal/internal/settings"
	"bookcal/internal/zones"
)

const maxBodyBytes = 4 << 20

// EventStore is the calendar side of the API.
type EventStore interface {
	CreateEvent(ctx context.Context, ev model.DetectedEvent) error
	Events() ([]model.DetectedEvent, error)
}

// SettingsStore reads and writes boolean settings.
type SettingsStore interface {
	Get(ctx context.Context, key string) (bool, error)
	Set(ctx context.Context, key string, value bool) error
}

// Deps are the collaborators behind the HTTP API. Page is optional: without
// it the detector reads pages from elsewhere (the browser watcher) and
// /api/detect only triggers a rescan.
type Deps struct {
	Detector  *detector.Detector
	Page      *detector.StaticSource
	Scanner   *zones.Scanner
	Extractor extract.Service
	Calendar  EventStore
	Settings  SettingsStore
	Harness   *harness.Harness
}

// Server provides the HTTP API for detection, manual extraction and event
// creation.
type Server struct {
	cfg  *config.Config
	deps Deps
	mux  *http.ServeMux

	// 수동 추출 결과. 인덱스로 일정을 고를 수 있도록 교체될 때까지 유지한다.
	manualMu     sync.Mutex
	manualEvents model.ParseResult
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, deps Deps) *Server {
	if deps.Scanner == nil {
		deps.Scanner = zones.NewScanner()
	}
	s := &Server{
		cfg:  cfg,
		deps: deps,
		mux:  http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// 빈 사용자명 또는 비밀번호가 설정된 경우에는 비활성화로 취급한다.
	if s.cfg.BasicAuth.Username == "" || s.cfg.BasicAuth.Password == "" {
		return false
	}
	return true
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// /health 는 항상 무인증으로 노출한다.
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="bookcal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Run serves on cfg.Listen until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	appLog.Info("HTTP server stopped")
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)

	s.mux.HandleFunc("POST /api/detect", s.handleDetect)
	s.mux.HandleFunc("POST /api/navigate", s.handleNavigate)
	s.mux.HandleFunc("GET /api/state", s.handleState)
	s.mux.HandleFunc("POST /api/dismiss", s.handleDismiss)
	s.mux.HandleFunc("POST /api/retry", s.handleRetry)
	s.mux.HandleFunc("POST /api/enabled", s.handleEnabled)

	s.mux.HandleFunc("POST /api/extract", s.handleExtract)
	s.mux.HandleFunc("GET /api/events", s.handleListEvents)
	s.mux.HandleFunc("POST /api/events", s.handleCreateEvents)

	s.mux.HandleFunc("GET /api/harness/results.csv", s.handleHarnessCSV)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}

// showSourceInfo reads the showSourceInfo setting, defaulting to true.
func (s *Server) showSourceInfo(ctx context.Context) bool {
	if s.deps.Settings == nil {
		return true
	}
	v, err := s.deps.Settings.Get(ctx, settings.KeyShowSourceInfo)
	if err != nil {
		appLog.Warn("settings read failed; showing source info", "err", err)
		return true
	}
	return v
}

func trimmed(s string) string { return strings.TrimSpace(s) }
