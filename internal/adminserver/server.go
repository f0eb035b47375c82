// Package adminserver is the sync engine's operational HTTP surface:
// health, readiness, prometheus metrics and a status endpoint describing
// the engine's current queue/circuit state. It has no authenticated API
// routes — the sync engine is a background client, not a multi-tenant
// API server — so it is a much smaller descendant of the teacher's
// internal/httpserver/server.go: the auth/OIDC/tenant middleware chain
// and API docs mount are dropped, and HandleStatus reports engine health
// instead of DB/Redis/alert freshness.
package adminserver

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aurafall/syncengine/internal/version"
	"github.com/aurafall/syncengine/pkg/syncengine/engine"
	"github.com/aurafall/syncengine/pkg/syncengine/op"
)

// Server holds the admin HTTP server dependencies.
type Server struct {
	Router    *chi.Mux
	Logger    *slog.Logger
	Engine    *engine.Engine
	startedAt time.Time
}

// Config holds NewServer's configuration knobs.
type Config struct {
	CORSAllowedOrigins []string
	MetricsPath        string
}

// NewServer creates the admin HTTP server: health/ready/metrics/status,
// all unauthenticated since nothing here mutates state or exposes
// tenant data.
func NewServer(cfg Config, logger *slog.Logger, eng *engine.Engine, metricsReg *prometheus.Registry) *Server {
	s := &Server{
		Router:    chi.NewRouter(),
		Logger:    logger,
		Engine:    eng,
		startedAt: time.Now(),
	}

	s.Router.Use(RequestID)
	s.Router.Use(Logger(logger))
	s.Router.Use(Metrics)
	s.Router.Use(middleware.Recoverer)
	s.Router.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		AllowedMethods: []string{"GET"},
		AllowedHeaders: []string{"Accept", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	s.Router.Get("/healthz", s.handleHealthz)
	s.Router.Get("/readyz", s.handleReadyz)
	s.Router.Get("/status", s.handleStatus)
	s.Router.Get("/queue", s.handleQueue)

	metricsPath := cfg.MetricsPath
	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	s.Router.Handle(metricsPath, promhttp.HandlerFor(metricsReg, promhttp.HandlerOpts{}))

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	Respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReadyz reports ready as soon as the process can answer an engine
// status query — there is no external dependency ping here since the
// engine's own durable store already backs that query.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if _, err := s.Engine.Status(r.Context()); err != nil {
		s.Logger.Error("readiness check: engine status failed", "error", err)
		RespondError(w, http.StatusServiceUnavailable, "unavailable", "engine not ready")
		return
	}
	Respond(w, http.StatusOK, map[string]string{"status": "ready"})
}

type statusResponse struct {
	Version       string        `json:"version"`
	CommitSHA     string        `json:"commit_sha"`
	Uptime        string        `json:"uptime"`
	UptimeSeconds int64         `json:"uptime_seconds"`
	Engine        engine.Status `json:"engine"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(s.startedAt)

	engineStatus, err := s.Engine.Status(r.Context())
	if err != nil {
		s.Logger.Error("status check: engine status failed", "error", err)
		RespondError(w, http.StatusInternalServerError, "internal", "failed to read engine status")
		return
	}

	Respond(w, http.StatusOK, statusResponse{
		Version:       version.Version,
		CommitSHA:     version.Commit,
		Uptime:        uptime.Truncate(time.Second).String(),
		UptimeSeconds: int64(uptime.Seconds()),
		Engine:        engineStatus,
	})
}

type queueResponse struct {
	Count int            `json:"count"`
	Ops   []op.PendingOp `json:"ops"`
}

// handleQueue is a read-only debug listing of the pending queue, useful
// for inspecting what a runner is stuck on without reaching into the
// store directly.
func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	ops, err := s.Engine.PendingOps(r.Context())
	if err != nil {
		s.Logger.Error("queue listing: engine pending ops failed", "error", err)
		RespondError(w, http.StatusInternalServerError, "internal", "failed to list pending ops")
		return
	}
	Respond(w, http.StatusOK, queueResponse{Count: len(ops), Ops: ops})
}
