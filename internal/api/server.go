// Package api exposes the queue over HTTP: enqueue, cancel, resend,
// status, stats, health, and Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hallmarket/courier/internal/queue"
)

// Server is the HTTP front end for a running queue
type Server struct {
	queue      *queue.Queue
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates an API server bound to the given address
func NewServer(q *queue.Queue, listenAddr string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		queue:  q,
		logger: logger.With("component", "api"),
	}

	router := mux.NewRouter()
	v1 := router.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/messages", s.handleEnqueue).Methods(http.MethodPost)
	v1.HandleFunc("/messages/{id}", s.handleStatus).Methods(http.MethodGet)
	v1.HandleFunc("/messages/{id}", s.handleCancel).Methods(http.MethodDelete)
	v1.HandleFunc("/messages/{id}/resend", s.handleResend).Methods(http.MethodPost)
	v1.HandleFunc("/queue/stats", s.handleStats).Methods(http.MethodGet)
	v1.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	s.httpServer = &http.Server{
		Addr:         listenAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start runs the HTTP server until Shutdown is called
func (s *Server) Start() error {
	s.logger.Info("API server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the HTTP server gracefully
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// enqueueRequest is the JSON body accepted by POST /api/v1/messages
type enqueueRequest struct {
	Kind           string             `json:"kind"` // raw | templated
	Raw            *queue.RawContent  `json:"raw,omitempty"`
	Template       *queue.TemplateRef `json:"template,omitempty"`
	Priority       string             `json:"priority,omitempty"`
	MaxAttempts    int                `json:"max_attempts,omitempty"`
	ScheduledFor   *time.Time         `json:"scheduled_for,omitempty"`
	IdempotencyKey string             `json:"idempotency_key,omitempty"`
	Tags           []string           `json:"tags,omitempty"`
}

type resendRequest struct {
	To []string `json:"to,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed JSON body"})
		return
	}

	payload := queue.Payload{
		Kind:     queue.PayloadKind(req.Kind),
		Raw:      req.Raw,
		Template: req.Template,
	}
	enq := queue.EnqueueRequest{
		Priority:       queue.Priority(req.Priority),
		MaxAttempts:    req.MaxAttempts,
		IdempotencyKey: req.IdempotencyKey,
		Tags:           req.Tags,
	}
	if req.ScheduledFor != nil {
		enq.ScheduledFor = *req.ScheduledFor
	}

	receipt, err := s.queue.Enqueue(payload, enq)
	if err != nil {
		s.writeQueueError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, receipt)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	info, err := s.queue.Status(id)
	if err != nil {
		s.writeQueueError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.queue.Cancel(id); err != nil {
		s.writeQueueError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": string(queue.ExternalCancelled)})
}

func (s *Server) handleResend(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req resendRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed JSON body"})
			return
		}
	}

	receipt, err := s.queue.Resend(id, req.To)
	if err != nil {
		s.writeQueueError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, receipt)
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.queue.Stats())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := s.queue.CheckHealth(r.Context())
	status := http.StatusOK
	if !health.Healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}

// writeQueueError maps the queue error taxonomy onto HTTP status codes
func (s *Server) writeQueueError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, queue.ErrInvalidPayload):
		status = http.StatusBadRequest
	case errors.Is(err, queue.ErrDuplicate):
		status = http.StatusConflict
	case errors.Is(err, queue.ErrQueueFull):
		status = http.StatusTooManyRequests
	case errors.Is(err, queue.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, queue.ErrInvalidTransition):
		status = http.StatusConflict
	case errors.Is(err, queue.ErrStopped):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
