// Package server exposes the feedback loop over HTTP. Besides the loop
// operations it serves the store endpoints that store.RemoteStore talks to,
// so a gf serve instance can back other gf processes.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/scbrown/genfeedback/internal/bridge"
	"github.com/scbrown/genfeedback/internal/loop"
	"github.com/scbrown/genfeedback/internal/model"
	"github.com/scbrown/genfeedback/internal/notify"
	"github.com/scbrown/genfeedback/internal/store"
)

const (
	maxBodyBytes = 8 << 20
	maxBatch     = 10000
)

// CycleRequest is the body of POST /api/v1/cycle.
type CycleRequest struct {
	Context model.GenContext     `json:"context"`
	Events  []model.FailureEvent `json:"events" validate:"max=10000"`
}

// PromptResponse is the body returned by GET /api/v1/prompt.
type PromptResponse struct {
	Entity   string `json:"entity"`
	Endpoint string `json:"endpoint,omitempty"`
	Prompt   string `json:"prompt"`
}

// Server serves a Loop over HTTP.
type Server struct {
	loop     *loop.Loop
	store    store.Store
	mux      *http.ServeMux
	srv      *http.Server
	gatherer prometheus.Gatherer
	logger   *slog.Logger
	validate *validator.Validate
}

// Option configures a Server.
type Option func(*Server)

// WithGatherer serves g on /metrics. Without it /metrics is not routed.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a Server for l.
func New(l *loop.Loop, opts ...Option) *Server {
	srv := &Server{
		loop:     l,
		store:    l.Store(),
		mux:      http.NewServeMux(),
		logger:   slog.New(slog.DiscardHandler),
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
	for _, o := range opts {
		o(srv)
	}
	srv.routes()
	return srv
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /api/v1/cycle", s.handleCycle)
	s.mux.HandleFunc("POST /api/v1/bridge", s.handleBridge)
	s.mux.HandleFunc("POST /api/v1/bridge/batch", s.handleBridgeBatch)
	s.mux.HandleFunc("POST /api/v1/ingest", s.handleIngest)
	s.mux.HandleFunc("GET /api/v1/advice", s.handleAdvice)
	s.mux.HandleFunc("GET /api/v1/prompt", s.handlePrompt)
	s.mux.HandleFunc("GET /api/v1/adjustments", s.handleAdjustments)
	s.mux.HandleFunc("POST /api/v1/patterns", s.handleUpsertPattern)
	s.mux.HandleFunc("GET /api/v1/patterns", s.handleQueryPatterns)
	s.mux.HandleFunc("GET /api/v1/patterns/{id}", s.handleGetPattern)
	s.mux.HandleFunc("POST /api/v1/repairs", s.handleUpsertRepair)
	s.mux.HandleFunc("GET /api/v1/repairs", s.handleQueryRepairs)
	s.mux.HandleFunc("GET /api/v1/repairs/{id}", s.handleGetRepair)
	s.mux.HandleFunc("GET /api/v1/stats", s.handleStats)
	s.mux.HandleFunc("GET /api/v1/health", s.handleHealth)
	if s.gatherer != nil {
		s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
}

// ListenAndServe starts the HTTP server on the given address.
func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on the given listener.
func (s *Server) Serve(ln net.Listener) error {
	s.srv = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s.srv.Serve(ln)
}

// Handler returns the HTTP handler for use with httptest.Server or custom listeners.
func (s *Server) Handler() http.Handler {
	return s.logRequests(s.mux)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCycle(w http.ResponseWriter, r *http.Request) {
	var req CycleRequest
	if !s.decode(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, s.loop.FeedbackCycleFor(r.Context(), req.Context, req.Events))
}

func (s *Server) handleBridge(w http.ResponseWriter, r *http.Request) {
	var v model.Violation
	if !s.decode(w, r, &v) {
		return
	}
	res, err := s.loop.Bridge().Bridge(r.Context(), v)
	if err != nil {
		writeErr(w, errorStatus(err), "bridge: %v", err)
		return
	}
	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, res)
}

func (s *Server) handleBridgeBatch(w http.ResponseWriter, r *http.Request) {
	var vs []model.Violation
	if !s.decode(w, r, &vs) {
		return
	}
	if len(vs) > maxBatch {
		writeErr(w, http.StatusRequestEntityTooLarge, "batch of %d exceeds %d violations", len(vs), maxBatch)
		return
	}
	writeJSON(w, http.StatusOK, s.loop.Bridge().BridgeBatch(r.Context(), vs))
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	sourceName := r.URL.Query().Get("source")
	if sourceName == "" {
		writeErr(w, http.StatusBadRequest, "source query parameter is required")
		return
	}
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeErr(w, http.StatusBadRequest, "reading request body: %v", err)
		return
	}
	res, err := s.loop.Bridge().Ingest(r.Context(), raw, sourceName)
	if err != nil {
		writeErr(w, errorStatus(err), "ingest: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleAdvice(w http.ResponseWriter, r *http.Request) {
	p, err := parseAdviceParams(r)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, s.loop.Advise(r.Context(), p.Entity, p.Endpoint, p.MinOccurrences))
}

func (s *Server) handlePrompt(w http.ResponseWriter, r *http.Request) {
	p, err := parseAdviceParams(r)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, PromptResponse{
		Entity:   p.Entity,
		Endpoint: p.Endpoint,
		Prompt:   s.loop.PromptFor(r.Context(), p.Entity, p.Endpoint),
	})
}

func (s *Server) handleAdjustments(w http.ResponseWriter, r *http.Request) {
	entity := r.URL.Query().Get("entity")
	if entity == "" {
		writeErr(w, http.StatusBadRequest, "entity query parameter is required")
		return
	}
	writeJSON(w, http.StatusOK, s.loop.AdjustmentsFor(r.Context(), entity))
}

func (s *Server) handleUpsertPattern(w http.ResponseWriter, r *http.Request) {
	var p model.AntiPattern
	if !s.decode(w, r, &p) {
		return
	}
	rec, created, err := s.store.Upsert(r.Context(), p)
	if err != nil {
		writeErr(w, errorStatus(err), "storing pattern: %v", err)
		return
	}
	s.invalidate(r.Context(), rec.EntityPattern)
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, store.UpsertResponse{Pattern: rec, Created: created})
}

// invalidate drops cached advice for entity after a write made by a remote
// store client, which bypasses the loop's own invalidation.
func (s *Server) invalidate(ctx context.Context, entity string) {
	if err := notify.PublishEntities(ctx, s.loop.Bus(), notify.OriginRemote, []string{entity}); err != nil {
		s.logger.Warn("publishing invalidation", "entity", entity, "error", err)
	}
}

func (s *Server) handleQueryPatterns(w http.ResponseWriter, r *http.Request) {
	opts, err := store.ParseQueryOpts(r.URL.Query())
	if err != nil {
		writeErr(w, http.StatusBadRequest, "%v", err)
		return
	}
	patterns, err := s.store.Query(r.Context(), opts)
	if err != nil {
		writeErr(w, errorStatus(err), "querying patterns: %v", err)
		return
	}
	if patterns == nil {
		patterns = []model.AntiPattern{}
	}
	writeJSON(w, http.StatusOK, patterns)
}

func (s *Server) handleGetPattern(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	p, err := s.store.Get(r.Context(), id)
	if err != nil {
		writeErr(w, errorStatus(err), "getting pattern: %v", err)
		return
	}
	if p == nil {
		writeErr(w, http.StatusNotFound, "pattern %q not found", id)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleUpsertRepair(w http.ResponseWriter, r *http.Request) {
	var rp model.RepairPattern
	if !s.decode(w, r, &rp) {
		return
	}
	rec, created, err := s.store.UpsertRepair(r.Context(), rp)
	if err != nil {
		writeErr(w, errorStatus(err), "storing repair: %v", err)
		return
	}
	s.invalidate(r.Context(), rec.EntityPattern)
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, store.RepairUpsertResponse{Repair: rec, Created: created})
}

func (s *Server) handleQueryRepairs(w http.ResponseWriter, r *http.Request) {
	opts, err := store.ParseRepairQueryOpts(r.URL.Query())
	if err != nil {
		writeErr(w, http.StatusBadRequest, "%v", err)
		return
	}
	repairs, err := s.store.QueryRepairs(r.Context(), opts)
	if err != nil {
		writeErr(w, errorStatus(err), "querying repairs: %v", err)
		return
	}
	if repairs == nil {
		repairs = []model.RepairPattern{}
	}
	writeJSON(w, http.StatusOK, repairs)
}

func (s *Server) handleGetRepair(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rp, err := s.store.GetRepair(r.Context(), id)
	if err != nil {
		writeErr(w, errorStatus(err), "getting repair: %v", err)
		return
	}
	if rp == nil {
		writeErr(w, http.StatusNotFound, "repair %q not found", id)
		return
	}
	writeJSON(w, http.StatusOK, rp)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		writeErr(w, errorStatus(err), "getting stats: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// decode reads a JSON body into dst and validates it. On failure it has
// already written the response.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid request body: %v", err)
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		var invalid *validator.InvalidValidationError
		if !errors.As(err, &invalid) {
			writeErr(w, http.StatusUnprocessableEntity, "invalid request body: %v", err)
			return false
		}
	}
	return true
}

// errorStatus maps a loop error to an HTTP status.
func errorStatus(err error) int {
	var unavailable *store.UnavailableError
	switch {
	case errors.Is(err, bridge.ErrInvalidViolation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, bridge.ErrUnknownSource):
		return http.StatusBadRequest
	case errors.As(err, &unavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// writeJSON encodes v as JSON and writes it to w with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}

// writeErr writes a JSON error response.
func writeErr(w http.ResponseWriter, status int, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	writeJSON(w, status, map[string]string{"error": msg})
}
