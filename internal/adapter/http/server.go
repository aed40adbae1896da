// Package http serves the health, readiness, metrics and run status endpoints
// of the long-running serve mode.
package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/couchcryptid/basin-forecast-pipeline/internal/domain"
	"github.com/couchcryptid/basin-forecast-pipeline/internal/pipeline"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ReadinessChecker reports whether the service is ready to serve traffic.
type ReadinessChecker interface {
	CheckReadiness(ctx context.Context) error
}

// SummarySource returns the most recent completed run cycle.
type SummarySource interface {
	Last() (pipeline.Summary, bool)
}

// Server exposes health, readiness, metrics and status HTTP endpoints.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates an HTTP server with /healthz, /readyz, /metrics and
// /status routes. /metrics serves gatherer alongside the Go runtime collectors.
func NewServer(addr string, ready ReadinessChecker, status SummarySource, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", handleReady(ready))
	mux.HandleFunc("GET /status", handleStatus(status))
	mux.Handle("GET /metrics", promhttp.HandlerFor(
		prometheus.Gatherers{gatherer, prometheus.DefaultGatherer},
		promhttp.HandlerOpts{},
	))

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func handleReady(checker ReadinessChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := checker.CheckReadiness(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"error":  err.Error(),
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

// StatusResponse is the /status body.
type StatusResponse struct {
	RunID     string         `json:"run_id"`
	StartedAt time.Time      `json:"started_at"`
	Counts    map[string]int `json:"counts"`
	Results   []StatusResult `json:"results"`
}

// StatusResult is one stage attempt in a StatusResponse.
type StatusResult struct {
	Model   string `json:"model"`
	Stage   string `json:"stage"`
	Date    string `json:"date"`
	Outcome string `json:"outcome"`
	State   string `json:"state"`
	Reason  string `json:"reason,omitempty"`
	Error   string `json:"error,omitempty"`
}

func handleStatus(source SummarySource) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		summary, ok := source.Last()
		if !ok {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "no completed run yet"})
			return
		}
		writeJSON(w, http.StatusOK, newStatusResponse(summary))
	}
}

func newStatusResponse(s pipeline.Summary) StatusResponse {
	resp := StatusResponse{
		RunID:     s.RunID,
		StartedAt: s.Now.UTC(),
		Counts:    make(map[string]int, 4),
		Results:   make([]StatusResult, 0, len(s.Results)),
	}
	for _, o := range []domain.Outcome{domain.OutcomeCompleted, domain.OutcomeWaiting, domain.OutcomeSkipped, domain.OutcomeFailed} {
		resp.Counts[string(o)] = s.Count(o)
	}
	for _, r := range s.Results {
		sr := StatusResult{
			Model:   r.Model,
			Stage:   string(r.Stage),
			Date:    r.Date.String(),
			Outcome: string(r.Outcome),
			State:   string(r.State),
			Reason:  r.Reason,
		}
		if r.Err != nil {
			sr.Error = r.Err.Error()
		}
		resp.Results = append(resp.Results, sr)
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort response
}
