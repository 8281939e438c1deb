// Package server exposes the verification pipeline over HTTP: task
// submission, status polling, artifact download and a WebSocket progress
// stream.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/book-expert/logger"
	"github.com/scriptcast/voiceproof/internal/core"
	"github.com/scriptcast/voiceproof/internal/progress"
	"github.com/scriptcast/voiceproof/internal/registry"
)

const contentTypeJSON = "application/json"

// Server handles the HTTP API.
type Server struct {
	registry *registry.Registry
	hub      *progress.Hub
	store    core.ObjectStore
	log      *logger.Logger
}

// New wires the HTTP layer from its collaborators.
func New(
	reg *registry.Registry,
	hub *progress.Hub,
	store core.ObjectStore,
	log *logger.Logger,
) *Server {
	return &Server{
		registry: reg,
		hub:      hub,
		store:    store,
		log:      log,
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/audio/tasks", s.handleSubmit)
	mux.HandleFunc("GET /v1/audio/tasks/{id}", s.handleStatus)
	mux.HandleFunc("DELETE /v1/audio/tasks/{id}", s.handleCancel)
	mux.HandleFunc("GET /v1/audio/tasks/{id}/download", s.handleDownload)
	mux.HandleFunc("GET /v1/audio/tasks/{id}/events", s.handleEvents)
	mux.HandleFunc("GET /health", s.handleHealth)

	return mux
}

// submitRequest is the JSON payload for task submission.
type submitRequest struct {
	Text              string  `json:"text"`
	VoiceID           string  `json:"voice_id"`
	Language          string  `json:"language"`
	AccuracyThreshold float64 `json:"accuracy_threshold,omitempty"`
	MaxAttempts       int     `json:"max_attempts,omitempty"`
}

// submitResponse acknowledges an accepted submission. The status field is
// the literal "processing"; the task's real state is served by the status
// endpoint.
type submitResponse struct {
	Status  string `json:"status"`
	TaskID  string `json:"task_id"`
	Message string `json:"message"`
}

type errorBody struct {
	Error string `json:"error"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest

	err := json.NewDecoder(r.Body).Decode(&req)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))

		return
	}

	taskID, err := s.registry.Submit(registry.SubmitRequest{
		Text:              req.Text,
		VoiceID:           req.VoiceID,
		Language:          req.Language,
		AccuracyThreshold: req.AccuracyThreshold,
		MaxAttempts:       req.MaxAttempts,
	})
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, registry.ErrQueueFull) {
			status = http.StatusServiceUnavailable
		}

		s.writeError(w, status, err)

		return
	}

	s.writeJSON(w, http.StatusAccepted, submitResponse{
		Status:  "processing",
		TaskID:  taskID,
		Message: "task accepted for verification",
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	view, err := s.registry.Status(r.PathValue("id"))
	if err != nil {
		s.writeError(w, http.StatusNotFound, err)

		return
	}

	s.writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	err := s.registry.Cancel(r.PathValue("id"))
	if err != nil {
		status := http.StatusNotFound
		if errors.Is(err, registry.ErrAlreadyCanceled) {
			status = http.StatusConflict
		}

		s.writeError(w, status, err)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleDownload serves the accepted audio artifact. Tasks that have not
// reached SUCCESS yet answer 409 so clients can distinguish "not ready"
// from "unknown task".
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("id")

	task, err := s.registry.Snapshot(taskID)
	if err != nil {
		s.writeError(w, http.StatusNotFound, err)

		return
	}

	if task.Status() != core.StatusSuccess {
		s.writeError(w, http.StatusConflict, fmt.Errorf(
			"task %s is %s; no accepted audio to download", taskID, task.Status(),
		))

		return
	}

	audio, err := s.store.Download(r.Context(), task.FinalAudioKey)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Errorf(
			"failed to fetch artifact %s: %w", task.FinalAudioKey, err,
		))

		return
	}

	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", taskID+".wav"))
	w.WriteHeader(http.StatusOK)

	_, err = w.Write(audio)
	if err != nil {
		s.log.Warn("Failed to stream artifact for task %s: %v", taskID, err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)

	err := json.NewEncoder(w).Encode(payload)
	if err != nil {
		s.log.Warn("Failed to encode response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, errorBody{Error: err.Error()})
}

// ListenAndServe runs the HTTP server until ctx is canceled, then shuts
// down gracefully.
func (s *Server) ListenAndServe(
	ctx context.Context,
	addr string,
	readTimeout, writeTimeout time.Duration,
) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadTimeout:       readTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      writeTimeout,
	}

	errCh := make(chan error, 1)

	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := srv.Shutdown(shutdownCtx)
	if err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}

	return nil
}
