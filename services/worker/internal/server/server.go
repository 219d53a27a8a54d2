package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"pdfchat/internal/metrics"
	"pdfchat/internal/util"
	"pdfchat/pkg/queue"
)

// JobLookup reads the status hash of a queued job.
type JobLookup interface {
	GetJob(ctx context.Context, id string) (queue.JobStatus, bool, error)
}

// Config wires required dependencies for the HTTP server.
type Config struct {
	// Queues maps a job kind ("parse", "reply") to its queue.
	Queues  map[string]JobLookup
	Metrics *metrics.Metrics
	// Ready reports backing store health for /healthz. Optional.
	Ready func(context.Context) error
}

// Server exposes the worker's internal endpoints.
type Server struct {
	queues  map[string]JobLookup
	metrics *metrics.Metrics
	ready   func(context.Context) error
	mux     *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if len(cfg.Queues) == 0 {
		return nil, errors.New("at least one queue is required")
	}
	m := cfg.Metrics
	if m == nil {
		m = metrics.New()
	}
	s := &Server{
		queues:  cfg.Queues,
		metrics: m,
		ready:   cfg.Ready,
		mux:     http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("worker", s.metrics.WithHTTPMetrics("worker", s.mux)))
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.Handle("GET /metrics", metrics.Handler())
	s.mux.HandleFunc("GET /jobs/{kind}/{id}", s.handleJob)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.ready(ctx); err != nil {
			util.LoggerFromContext(r.Context()).Warn("health check failed", "error", err)
			writeError(w, http.StatusServiceUnavailable, "SYSTEM_UNAVAILABLE", "not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	q, ok := s.queues[strings.ToLower(r.PathValue("kind"))]
	if !ok {
		writeError(w, http.StatusNotFound, "JOB_KIND_NOT_FOUND", "unknown job kind")
		return
	}
	job, found, err := q.GetJob(r.Context(), r.PathValue("id"))
	if err != nil {
		util.LoggerFromContext(r.Context()).Error("job lookup failed", "error", err)
		writeError(w, http.StatusInternalServerError, "SYSTEM_INTERNAL_ERROR", "internal server error")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "JOB_NOT_FOUND", "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		Code:      code,
		RequestID: w.Header().Get("X-Request-Id"),
	})
}
