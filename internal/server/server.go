// Package server exposes the coaching engine over HTTP.
//
// Routes:
//
//	GET  /v1/sessions?exercise=<id>   WebSocket coaching session
//	GET  /v1/sessions/{id}            live or stored session summary
//	GET  /v1/summaries                stored summaries (?exercise=, ?limit=)
//	POST /v1/analyze?exercise=<id>    score a single frame
//	GET  /v1/exercises                built-in exercises and their rules
//	GET  /v1/exercises/{id}           one exercise
//	GET  /v1/voices                   voices of the configured TTS provider
//	GET  /healthz, /readyz            probes
//	GET  /metrics                     Prometheus scrape endpoint
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/posecoach/internal/config"
	"github.com/MrWong99/posecoach/internal/health"
	"github.com/MrWong99/posecoach/internal/observe"
	"github.com/MrWong99/posecoach/internal/session"
	"github.com/MrWong99/posecoach/internal/store"
	"github.com/MrWong99/posecoach/internal/voice"
	"github.com/MrWong99/posecoach/pkg/pose"
	"github.com/MrWong99/posecoach/pkg/posture"
	"github.com/MrWong99/posecoach/pkg/provider/tts"
)

// maxBodySize bounds request bodies and WebSocket messages. A full 33-point
// frame encodes to a few kilobytes.
const maxBodySize = 64 << 10

// Config holds the dependencies of a [Server].
type Config struct {
	// Manager owns the live sessions. Required.
	Manager *session.Manager

	// Announcer speaks throttled cues. Nil disables audio output.
	Announcer *voice.Announcer

	// QueueSize bounds the cues waiting for synthesis per session.
	QueueSize int

	// Health serves /healthz and /readyz. Nil serves an always-ready handler.
	Health *health.Handler

	// Metrics records HTTP request durations. Nil uses [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// MetricsHandler serves /metrics. Nil serves the default Prometheus
	// registry.
	MetricsHandler http.Handler

	// AllowedOrigins are extra host patterns accepted for WebSocket upgrades.
	AllowedOrigins []string

	// WriteTimeout bounds a single WebSocket write. Default: 5s.
	WriteTimeout time.Duration

	// Now returns the time stamped on live frames. Nil uses time.Now.
	Now func() time.Time
}

// Server is the HTTP front end. Create it with [New] and mount [Server.Handler].
type Server struct {
	manager        *session.Manager
	announcer      *voice.Announcer
	queueSize      int
	health         *health.Handler
	metrics        *observe.Metrics
	metricsHandler http.Handler
	allowedOrigins []string
	writeTimeout   time.Duration
	now            func() time.Time
}

// New creates a Server.
func New(cfg Config) *Server {
	s := &Server{
		manager:        cfg.Manager,
		announcer:      cfg.Announcer,
		queueSize:      cfg.QueueSize,
		health:         cfg.Health,
		metrics:        cfg.Metrics,
		metricsHandler: cfg.MetricsHandler,
		allowedOrigins: cfg.AllowedOrigins,
		writeTimeout:   cfg.WriteTimeout,
		now:            cfg.Now,
	}
	if s.health == nil {
		s.health = health.New()
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.metricsHandler == nil {
		s.metricsHandler = promhttp.Handler()
	}
	if s.writeTimeout <= 0 {
		s.writeTimeout = 5 * time.Second
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Handler returns the routed handler wrapped in the observability middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/sessions", s.handleSession)
	mux.HandleFunc("GET /v1/sessions/{id}", s.handleLookup)
	mux.HandleFunc("GET /v1/summaries", s.handleSummaries)
	mux.HandleFunc("POST /v1/analyze", s.handleAnalyze)
	mux.HandleFunc("GET /v1/exercises", s.handleExercises)
	mux.HandleFunc("GET /v1/exercises/{id}", s.handleExercise)
	mux.HandleFunc("GET /v1/voices", s.handleVoices)
	mux.Handle("GET /metrics", s.metricsHandler)
	s.health.Register(mux)
	return observe.Middleware(s.metrics)(mux)
}

// analyzeRequest is the body of POST /v1/analyze.
type analyzeRequest struct {
	Landmarks pose.Frame `json:"landmarks"`
}

// analyzeResponse is the reply of POST /v1/analyze.
type analyzeResponse struct {
	posture.Analysis

	Exercise string              `json:"exercise"`
	Angles   posture.JointAngles `json:"angles,omitempty"`
	RepState posture.RepState    `json:"rep_state"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	p := s.manager.Catalog().Resolve(r.URL.Query().Get("exercise"))
	angles := posture.ExtractAngles(req.Landmarks)
	state, _ := p.Phase(angles)
	writeJSON(w, http.StatusOK, analyzeResponse{
		Analysis: posture.AnalyzeAngles(req.Landmarks, angles, p),
		Exercise: p.Exercise.String(),
		Angles:   angles,
		RepState: state,
	})
}

// exerciseView describes one exercise of the catalog.
type exerciseView struct {
	ID     string         `json:"id"`
	Family string         `json:"family"`
	Rules  []posture.Rule `json:"rules"`
}

func viewOf(p posture.Profile) exerciseView {
	rules := p.Rules
	if rules == nil {
		rules = []posture.Rule{}
	}
	return exerciseView{ID: p.Exercise.String(), Family: p.Family().String(), Rules: rules}
}

func (s *Server) handleExercises(w http.ResponseWriter, _ *http.Request) {
	profiles := s.manager.Catalog().Profiles()
	out := make([]exerciseView, 0, len(profiles))
	for _, p := range profiles {
		out = append(out, viewOf(p))
	}
	writeJSON(w, http.StatusOK, out)
}

// notFoundResponse carries an optional suggestion for a mistyped id.
type notFoundResponse struct {
	Error      string `json:"error"`
	Suggestion string `json:"suggestion,omitempty"`
}

func (s *Server) handleExercise(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	e := posture.ParseExercise(id)
	if e == posture.ExerciseUnknown {
		writeJSON(w, http.StatusNotFound, notFoundResponse{
			Error:      "unknown exercise " + strconv.Quote(id),
			Suggestion: config.Suggest(id, posture.IDs()),
		})
		return
	}
	writeJSON(w, http.StatusOK, viewOf(s.manager.Catalog().Profile(e)))
}

// voicesResponse lists the provider's voices and the one cues use.
type voicesResponse struct {
	Enabled bool        `json:"enabled"`
	Active  string      `json:"active,omitempty"`
	Voices  []tts.Voice `json:"voices"`
}

func (s *Server) handleVoices(w http.ResponseWriter, r *http.Request) {
	if s.announcer == nil {
		writeJSON(w, http.StatusOK, voicesResponse{Voices: []tts.Voice{}})
		return
	}
	voices, err := s.announcer.Voices(r.Context())
	if err != nil {
		observe.Logger(r.Context()).Warn("server: list voices failed", "err", err)
		writeError(w, http.StatusBadGateway, "voice provider unavailable")
		return
	}
	if voices == nil {
		voices = []tts.Voice{}
	}
	writeJSON(w, http.StatusOK, voicesResponse{Enabled: true, Active: s.announcer.Voice().ID, Voices: voices})
}

// lookupResponse is a session summary flagged with whether it is still live.
type lookupResponse struct {
	store.Summary

	Live bool `json:"live"`
}

func (s *Server) handleLookup(w http.ResponseWriter, r *http.Request) {
	sum, live, err := s.manager.Lookup(r.Context(), r.PathValue("id"))
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "session not found")
		return
	case err != nil:
		observe.Logger(r.Context()).Error("server: session lookup failed", "err", err)
		writeError(w, http.StatusInternalServerError, "session store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, lookupResponse{Summary: sum, Live: live})
}

// maxListLimit caps ?limit= on summary listings.
const maxListLimit = 500

func (s *Server) handleSummaries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := store.ListOptions{Exercise: q.Get("exercise"), Limit: 50}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		opts.Limit = min(n, maxListLimit)
	}

	list, err := s.manager.History(r.Context(), opts)
	if err != nil {
		observe.Logger(r.Context()).Error("server: list summaries failed", "err", err)
		writeError(w, http.StatusInternalServerError, "session store unavailable")
		return
	}
	if list == nil {
		list = []store.Summary{}
	}
	writeJSON(w, http.StatusOK, list)
}

// writeJSON encodes v as JSON with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
