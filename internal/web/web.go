package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"calcore/internal/config"
	"calcore/internal/events"
	appLog "calcore/internal/log"
	"calcore/internal/metrics"
	"calcore/internal/model"
	"calcore/internal/query"
	"calcore/internal/schedule"
	"calcore/internal/view"
)

// Deps are the calendar components the HTTP layer translates requests into.
type Deps struct {
	Repo     *events.Repository
	Engine   *query.Engine
	Analyzer *schedule.Analyzer
	Grid     *view.Builder
}

// Server exposes the calendar engine as a JSON API.
type Server struct {
	cfg    *config.Config
	deps   Deps
	loc    *time.Location
	router chi.Router
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, deps Deps) *Server {
	s := &Server{
		cfg:  cfg,
		deps: deps,
		loc:  deps.Repo.Location(),
	}
	s.router = s.routes()
	return s
}

// Handler returns the root http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// StartServer serves the API on cfg.Listen until ctx is canceled, then
// shuts down gracefully.
func StartServer(ctx context.Context, cfg *config.Config, deps Deps) error {
	s := NewServer(cfg, deps)
	srv := &http.Server{
		Addr:         cfg.Listen,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+cfg.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Error("graceful shutdown failed", err)
		return err
	}
	return nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware())
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		r.Use(s.basicAuthMiddleware)
	}

	r.Get("/health", s.handleHealth)
	if s.cfg.MetricsEnabled {
		r.Handle("/metrics", metrics.Handler())
	}

	r.Route("/api/calendar", func(r chi.Router) {
		r.Get("/events", s.handleListEvents)
		r.Post("/events", s.handleCreateEvent)
		r.Get("/events/{id}", s.handleGetEvent)
		r.Patch("/events/{id}", s.handleUpdateEvent)
		r.Delete("/events/{id}", s.handleDeleteEvent)

		r.Get("/summary", s.handleSummary)
		r.Get("/matrix", s.handleMatrix)
		r.Get("/conflicts", s.handleConflicts)
		r.Get("/free-slots", s.handleFreeSlots)
		r.Get("/reminders", s.handleReminders)
		r.Get("/status", s.handleStatus)

		r.Get("/export.ics", s.handleExport)
		r.Post("/import", s.handleImport)
	})

	return r
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty username or password disables auth.
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
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="calcore", charset="UTF-8"`)
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

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
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

// parseYearMonth reads the optional year and month query parameters. Absent
// values are zero; anything present must be an integer.
func parseYearMonth(q url.Values) (year, month int, err error) {
	if year, err = parseIntParam(q, "year"); err != nil {
		return 0, 0, err
	}
	if month, err = parseIntParam(q, "month"); err != nil {
		return 0, 0, err
	}
	return year, month, nil
}

func parseIntParam(q url.Values, name string) (int, error) {
	v := q.Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, &model.ValidationError{Field: name, Reason: "must be an integer"}
	}
	return n, nil
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

// writeFailure maps engine errors onto HTTP statuses: validation problems
// are the caller's fault, everything else is ours.
func writeFailure(w http.ResponseWriter, r *http.Request, err error, msg string) {
	var verr *model.ValidationError
	if errors.As(err, &verr) {
		writeError(w, http.StatusBadRequest, verr.Error())
		return
	}
	appLog.Error(msg, err, "request_id", middleware.GetReqID(r.Context()))
	writeError(w, http.StatusInternalServerError, msg)
}
