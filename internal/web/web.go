package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/martinaparikova/calendar-asistant/internal/config"
	"github.com/martinaparikova/calendar-asistant/internal/history"
	appLog "github.com/martinaparikova/calendar-asistant/internal/log"
	"github.com/martinaparikova/calendar-asistant/internal/metrics"
	"github.com/martinaparikova/calendar-asistant/internal/model"
	"github.com/martinaparikova/calendar-asistant/internal/notify"
	"github.com/martinaparikova/calendar-asistant/internal/pipeline"
	"github.com/martinaparikova/calendar-asistant/internal/window"
)

// summaryCacheTTL bounds how often HTTP traffic re-fetches the calendars.
const summaryCacheTTL = 30 * time.Second

// Backend is what the server needs from the application; *app.App
// implements it.
type Backend interface {
	Summarize(ctx context.Context, mode model.Mode, ref time.Time) (*pipeline.Result, error)
	Message(s model.Summary) (notify.Message, error)
	RecentRuns(ctx context.Context, limit int) ([]history.Run, error)
}

// Server provides the read-only HTTP surface of serve mode.
type Server struct {
	backend Backend
	auth    *config.BasicAuthConfig
	loc     *time.Location
	mux     *http.ServeMux
	now     func() time.Time

	// In-memory cache of pipeline results, keyed by mode and reference date,
	// so that reloading a preview does not hit every calendar again.
	cacheMu sync.Mutex
	cache   map[cacheKey]cachedResult
}

type cacheKey struct {
	mode model.Mode
	date string
}

type cachedResult struct {
	res       *pipeline.Result
	err       error
	updatedAt time.Time
}

// NewServer constructs a new Server.
func NewServer(backend Backend, auth *config.BasicAuthConfig, loc *time.Location) *Server {
	if loc == nil {
		loc = time.UTC
	}
	s := &Server{
		backend: backend,
		auth:    auth,
		loc:     loc,
		mux:     http.NewServeMux(),
		now:     time.Now,
		cache:   make(map[cacheKey]cachedResult),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled")
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured. An empty
// username or password disables it.
func (s *Server) basicAuthEnabled() bool {
	return s.auth != nil && s.auth.Username != "" && s.auth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.auth.Username
	password := s.auth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="calsummary", charset="UTF-8"`)
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

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/summary", s.handleSummary)
	s.mux.HandleFunc("GET /api/runs", s.handleRuns)
	s.mux.HandleFunc("GET /preview", s.handlePreview)
	s.mux.Handle("GET /metrics", metrics.Handler())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// summaryFor parses ?mode= (default daily) and ?date=YYYY-MM-DD (default
// today) and returns the cached or fresh pipeline result.
func (s *Server) summaryFor(r *http.Request) (*pipeline.Result, int, error) {
	q := r.URL.Query()
	modeStr := q.Get("mode")
	if modeStr == "" {
		modeStr = string(model.ModeDaily)
	}
	mode, err := window.ParseMode(modeStr)
	if err != nil {
		return nil, http.StatusBadRequest, err
	}

	ref := s.now().In(s.loc)
	if ds := q.Get("date"); ds != "" {
		var d model.Date
		if err := d.UnmarshalText([]byte(ds)); err != nil {
			return nil, http.StatusBadRequest, errors.New("date must be YYYY-MM-DD")
		}
		ref = d.In(s.loc).Add(12 * time.Hour)
	}
	key := cacheKey{mode: mode, date: model.DateOf(ref).String()}

	s.cacheMu.Lock()
	c, ok := s.cache[key]
	s.cacheMu.Unlock()
	if !ok || s.now().Sub(c.updatedAt) >= summaryCacheTTL {
		appLog.Info("api summary request", "mode", mode, "date", key.date)
		res, err := s.backend.Summarize(r.Context(), mode, ref)
		c = cachedResult{res: res, err: err, updatedAt: s.now()}
		// A cancelled request says nothing about the calendars.
		if r.Context().Err() == nil {
			s.cacheMu.Lock()
			s.cache[key] = c
			s.cacheMu.Unlock()
		}
	}

	switch {
	case c.err == nil:
		return c.res, http.StatusOK, nil
	case errors.Is(c.err, pipeline.ErrNoSources):
		return nil, http.StatusConflict, c.err
	case errors.Is(c.err, pipeline.ErrAllSourcesFailed):
		return c.res, http.StatusBadGateway, c.err
	default:
		return nil, http.StatusInternalServerError, c.err
	}
}

// handleSummary returns the pipeline Result as JSON.
//
// GET /api/summary?mode=weekly&date=2024-03-13
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	res, status, err := s.summaryFor(r)
	if err != nil {
		appLog.Error("api summary failed", err, "status", status)
		if res != nil {
			// All sources failed: the failures are the useful part.
			writeJSON(w, status, summaryError{Error: err.Error(), Failures: res.Failures})
			return
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type summaryError struct {
	Error    string          `json:"error"`
	Failures []model.Failure `json:"failures,omitempty"`
}

// handlePreview renders the same HTML the email would carry.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	res, status, err := s.summaryFor(r)
	if err != nil {
		http.Error(w, err.Error(), status)
		return
	}
	msg, err := s.backend.Message(res.Summary)
	if err != nil {
		appLog.Error("preview render failed", err)
		http.Error(w, "render failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(msg.HTML))
}

// handleRuns lists recent runs from the ledger.
//
// GET /api/runs?limit=20
func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit := parseIntDefault(r.URL.Query().Get("limit"), 20)
	if limit <= 0 || limit > 500 {
		limit = 20
	}
	runs, err := s.backend.RecentRuns(r.Context(), limit)
	if err != nil {
		appLog.Error("api runs failed", err)
		writeError(w, http.StatusInternalServerError, "failed to read run history")
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
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
