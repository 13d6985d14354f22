// Package server is the node's HTTP surface: the captive provisioning portal
// before the node is online and the monitoring API afterwards.
package server

import (
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/afroash/temper-node/internal/metrics"
	"github.com/afroash/temper-node/internal/models"
	"github.com/afroash/temper-node/internal/node"
	"github.com/afroash/temper-node/internal/provisioning"
	"github.com/afroash/temper-node/internal/storage"
)

//go:embed web/*.html
var pageFS embed.FS

// Controller is the node context the handlers read and write.
type Controller interface {
	State() provisioning.State
	Submit(s provisioning.Submission) bool
	Snapshot() []models.Reading
	Latest() (models.Reading, bool)
	Info() node.Info
	UpdateSettings(u node.SettingsUpdate) models.Thresholds
	Status() node.Status
}

// EventSource lists journaled deliveries.
type EventSource interface {
	Recent(limit int) ([]*storage.Event, error)
}

// RetentionReporter exposes journal pruning counters.
type RetentionReporter interface {
	Stats() storage.RetentionCleanerStats
}

// Config for the HTTP surface.
type Config struct {
	Version string
	// SubmitRate limits portal submissions per second; zero disables the limit.
	SubmitRate  float64
	SubmitBurst int
}

// Server wires handlers onto a gorilla/mux router.
type Server struct {
	config    Config
	ctrl      Controller
	events    EventSource
	hub       *Hub
	retention RetentionReporter
	metrics   *metrics.Metrics
	limiter   *rate.Limiter
	pages     *template.Template
	logger    zerolog.Logger
}

// New accepts nil events, hub and metrics.
func New(config Config, ctrl Controller, events EventSource, hub *Hub, m *metrics.Metrics, logger zerolog.Logger) (*Server, error) {
	pages, err := template.ParseFS(pageFS, "web/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse pages: %w", err)
	}

	s := &Server{
		config:  config,
		ctrl:    ctrl,
		events:  events,
		hub:     hub,
		metrics: m,
		pages:   pages,
		logger:  logger,
	}

	if config.SubmitRate > 0 {
		burst := config.SubmitBurst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(config.SubmitRate), burst)
	}

	if hub != nil {
		hub.SetSources(ctrl.Latest, func() string { return ctrl.State().String() })
	}

	return s, nil
}

// SetRetention adds pruning counters to /health.
func (s *Server) SetRetention(r RetentionReporter) {
	s.retention = r
}

// Router builds the routing table. Unknown paths fall back to the portal page
// while provisioning and to 404 afterwards.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()

	r.Handle("/", s.route("/", s.handleIndex)).Methods(http.MethodGet)
	r.Handle("/get", s.route("/get", s.portalOnly(s.limit(s.handleSubmit)))).Methods(http.MethodGet)

	r.Handle("/data", s.route("/data", s.monitorOnly(s.handleData))).Methods(http.MethodGet)
	r.Handle("/info", s.route("/info", s.monitorOnly(s.handleInfo))).Methods(http.MethodGet)
	r.Handle("/updateSettings", s.route("/updateSettings", s.monitorOnly(s.handleUpdateSettings))).Methods(http.MethodGet)
	r.Handle("/events", s.route("/events", s.monitorOnly(s.handleEvents))).Methods(http.MethodGet)

	r.Handle("/health", s.route("/health", s.handleHealth)).Methods(http.MethodGet)
	r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	if s.hub != nil {
		r.Handle("/ws", s.hub)
	}

	r.NotFoundHandler = s.route("fallback", s.handleFallback)
	r.MethodNotAllowedHandler = s.route("fallback", s.handleFallback)

	var h http.Handler = r
	h = s.logRequests(h)
	h = handlers.RecoveryHandler(
		handlers.RecoveryLogger(recoveryLogger{s.logger}),
		handlers.PrintRecoveryStack(false),
	)(h)
	return h
}

func (s *Server) route(name string, fn http.HandlerFunc) http.Handler {
	return s.metrics.WrapHandler(name, fn)
}

func (s *Server) portalOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.ctrl.State().Gathering() {
			http.NotFound(w, r)
			return
		}
		next(w, r)
	}
}

func (s *Server) monitorOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.ctrl.State() != provisioning.StateConnected {
			s.handleFallback(w, r)
			return
		}
		next(w, r)
	}
}

func (s *Server) limit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow() {
			http.Error(w, "Too many requests", http.StatusTooManyRequests)
			return
		}
		next(w, r)
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ws" {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", sw.status).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}

type recoveryLogger struct {
	logger zerolog.Logger
}

func (l recoveryLogger) Println(v ...interface{}) {
	l.logger.Error().Msg(fmt.Sprint(v...))
}

func (s *Server) render(w http.ResponseWriter, name string, data interface{}) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.pages.ExecuteTemplate(w, name, data); err != nil {
		s.logger.Error().Err(err).Str("page", name).Msg("Failed to render page")
	}
}
