// Package api serves the voicegate admin HTTP API: gate state and control,
// enrollment management, the live telemetry websocket, health probes and
// Prometheus metrics.
//
// Routes:
//
//	GET    /healthz                  liveness
//	GET    /readyz                   readiness
//	GET    /metrics                  Prometheus scrape endpoint
//	GET    /v1/state                 gate status
//	POST   /v1/gate/start            start listening
//	POST   /v1/gate/stop             stop and release the device
//	GET    /v1/enrollments           list enrollments (without vectors)
//	POST   /v1/enrollments?label=    enroll a WAV utterance
//	DELETE /v1/enrollments           remove every enrollment
//	DELETE /v1/enrollments/{id}      remove one enrollment
//	GET    /v1/telemetry?kinds=      websocket stream of telemetry events
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/voicegate/internal/gate"
	"github.com/MrWong99/voicegate/internal/health"
	"github.com/MrWong99/voicegate/internal/matcher"
	"github.com/MrWong99/voicegate/internal/observe"
	"github.com/MrWong99/voicegate/internal/telemetry"
	"github.com/MrWong99/voicegate/pkg/enrollment"
)

// DefaultMaxUploadBytes bounds enrollment uploads: 30 s of 48 kHz stereo.
const DefaultMaxUploadBytes = 30 * 48000 * 2 * 2

// Gate is the controller surface used by the API.
type Gate interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Status() gate.Status
}

// Enroller creates operator enrollments from raw utterances.
type Enroller interface {
	Enroll(ctx context.Context, utterance []float32, label string) (enrollment.Record, error)
}

var (
	_ Gate     = (*gate.Controller)(nil)
	_ Enroller = (*matcher.Matcher)(nil)
)

// Deps are the collaborators served by the API. Health, Hub and Enroller
// may be nil, which disables the corresponding routes.
type Deps struct {
	Gate     Gate
	Store    enrollment.Store
	Enroller Enroller
	Hub      *telemetry.Hub
	Health   *health.Handler

	// SampleRate is the pipeline rate enrollment uploads are converted to.
	SampleRate int
}

// Option configures a [Server].
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(s *Server) { s.log = l } }

// WithMetrics sets the metrics used by the request middleware and the
// telemetry subscriber gauge.
func WithMetrics(m *observe.Metrics) Option { return func(s *Server) { s.metrics = m } }

// WithMetricsHandler overrides the handler mounted at /metrics.
func WithMetricsHandler(h http.Handler) Option { return func(s *Server) { s.metricsHandler = h } }

// WithQueueSize sets the per-connection telemetry queue length.
func WithQueueSize(n int) Option { return func(s *Server) { s.queueSize = n } }

// WithOriginPatterns sets the origins allowed to open the telemetry
// websocket from a browser. By default only same-host origins are accepted.
func WithOriginPatterns(p ...string) Option { return func(s *Server) { s.originPatterns = p } }

// WithMaxUploadBytes bounds the size of enrollment uploads.
func WithMaxUploadBytes(n int64) Option { return func(s *Server) { s.maxUpload = n } }

// Server routes admin requests. Create one with [New] and serve [Server.Handler].
type Server struct {
	deps           Deps
	log            *slog.Logger
	metrics        *observe.Metrics
	metricsHandler http.Handler
	queueSize      int
	originPatterns []string
	maxUpload      int64
	writeTimeout   time.Duration
}

// New returns a Server.
func New(deps Deps, opts ...Option) *Server {
	s := &Server{
		deps:           deps,
		log:            slog.Default(),
		metricsHandler: promhttp.Handler(),
		queueSize:      telemetry.DefaultQueueSize,
		maxUpload:      DefaultMaxUploadBytes,
		writeTimeout:   5 * time.Second,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.deps.SampleRate <= 0 {
		s.deps.SampleRate = 16000
	}
	return s
}

// Handler returns the chi router with observability middleware applied.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(observe.Middleware(s.metrics))

	if s.deps.Health != nil {
		s.deps.Health.Register(r)
	}
	r.Method(http.MethodGet, "/metrics", s.metricsHandler)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/state", s.getState)
		r.Post("/gate/start", s.startGate)
		r.Post("/gate/stop", s.stopGate)

		r.Route("/enrollments", func(r chi.Router) {
			r.Get("/", s.listEnrollments)
			r.Delete("/", s.clearEnrollments)
			r.Delete("/{id}", s.deleteEnrollment)
			if s.deps.Enroller != nil {
				r.Post("/", s.createEnrollment)
			}
		})

		if s.deps.Hub != nil {
			r.Get("/telemetry", s.streamTelemetry)
		}
	})
	return r
}

// ── Responses ────────────────────────────────────────────────────────────────

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	if status >= http.StatusInternalServerError {
		observe.Logger(r.Context()).Error("admin request failed", "path", r.URL.Path, "err", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

var errNoBody = errors.New("request body is empty")
