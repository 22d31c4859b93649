// ABOUTME: HTTP server for managing pathway runs via REST API with SSE streaming.
// ABOUTME: Endpoints for starting, querying, resuming, and cancelling runs behind a chi router.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/lessonforge/pathrun/engine"
)

// Server exposes the run lifecycle over HTTP.
type Server struct {
	runner *engine.Runner
	router chi.Router
	cfg    *Config
}

// startRunRequest is the body of POST /runs.
type startRunRequest struct {
	Graph    json.RawMessage `json:"graph"`
	Bindings map[string]any  `json:"bindings,omitempty"`
}

// resumeRequest is the body of POST /runs/{id}/input.
type resumeRequest struct {
	NodeID string `json:"node_id"`
	Value  any    `json:"value"`
}

// runStatusResponse is the JSON shape for run status queries.
type runStatusResponse struct {
	ID      string         `json:"id"`
	Status  string         `json:"status"`
	Pending []pendingInput `json:"pending,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// pendingInput is the JSON shape for a suspended node awaiting input.
type pendingInput struct {
	NodeID   string    `json:"node_id"`
	TicketID string    `json:"ticket_id"`
	Reason   string    `json:"reason,omitempty"`
	Deadline time.Time `json:"deadline"`
}

// NewServer creates a Server around the given runner and sets up routing.
func NewServer(runner *engine.Runner, cfg *Config) *Server {
	s := &Server{runner: runner, cfg: cfg}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	if cfg != nil && cfg.AuthToken != "" {
		r.Use(s.requireAuth)
	}

	r.Post("/runs", s.handleStartRun)
	r.Get("/runs/{runID}", s.handleGetRun)
	r.Get("/runs/{runID}/events", s.handleEvents)
	r.Post("/runs/{runID}/input", s.handleInput)
	r.Post("/runs/{runID}/cancel", s.handleCancel)

	s.router = r
	return s
}

// ServeHTTP delegates to the chi router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe starts the HTTP server on the configured bind address.
func (s *Server) ListenAndServe() error {
	addr := "127.0.0.1:8140"
	if s.cfg != nil && s.cfg.Bind != "" {
		addr = s.cfg.Bind
	}
	log.Printf("pathrun server listening on %s", addr)
	return http.ListenAndServe(addr, s)
}

// requireAuth rejects requests without the configured bearer token.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		token := strings.TrimPrefix(auth, "Bearer ")
		if token == "" || token == auth || token != s.cfg.AuthToken {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing or invalid bearer token"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleStartRun handles POST /runs: validate the graph document, start the
// run, and reply 202 with the run id.
func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var req startRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
		return
	}
	if len(req.Graph) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing graph document"})
		return
	}

	graph, err := engine.LoadGraph(req.Graph)
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
		return
	}

	runID, err := s.runner.StartRun(graph, req.Bindings)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"id":     runID,
		"status": string(engine.StatusRunning),
	})
}

// handleGetRun handles GET /runs/{runID}.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	status, err := s.runner.Status(runID)
	if err != nil {
		writeRunError(w, err)
		return
	}

	resp := runStatusResponse{ID: runID, Status: string(status)}

	if pending, err := s.runner.Pending(runID); err == nil {
		for _, p := range pending {
			resp.Pending = append(resp.Pending, pendingInput{
				NodeID:   p.NodeID,
				TicketID: p.TicketID,
				Reason:   p.Reason,
				Deadline: p.Deadline,
			})
		}
	}
	if rc, err := s.runner.Result(runID); err == nil {
		if _, reason := rc.Failure(); reason != "" {
			resp.Error = reason
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleEvents handles GET /runs/{runID}/events as an SSE stream: replay the
// history, then forward live events until the run reaches a terminal state or
// the client disconnects.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	live, cancel, err := s.runner.Subscribe(runID)
	if err != nil {
		writeRunError(w, err)
		return
	}
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	// Replay the history first; the live channel was subscribed before the
	// replay so the seq watermark closes the gap without losing events.
	var lastSeq uint64
	history, _ := s.runner.Events(runID)
	for _, evt := range history {
		writeSSE(w, evt)
		lastSeq = evt.Seq
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case evt, open := <-live:
			if !open {
				// emitter closed: the run is terminal and the history holds
				// everything
				return
			}
			if evt.Seq <= lastSeq {
				continue
			}
			writeSSE(w, evt)
			lastSeq = evt.Seq
			flusher.Flush()
		}
	}
}

// handleInput handles POST /runs/{runID}/input: deliver a value to a
// suspended node.
func (s *Server) handleInput(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	var req resumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
		return
	}
	if req.NodeID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing node_id"})
		return
	}

	if err := s.runner.ResumeHumanInput(runID, req.NodeID, req.Value); err != nil {
		writeRunError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "resumed"})
}

// handleCancel handles POST /runs/{runID}/cancel.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	if err := s.runner.CancelRun(runID); err != nil {
		writeRunError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
}

// writeSSE writes one event in SSE framing.
func writeSSE(w http.ResponseWriter, evt engine.Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
}

// writeRunError maps runner errors onto HTTP status codes.
func writeRunError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrRunNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "run not found"})
	case errors.Is(err, engine.ErrNotSuspended):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
