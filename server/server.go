// Package server exposes the workflow over HTTP: an SSE search endpoint,
// out-of-band stop, and a liveness echo.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/wsdl-king/DataAgent/event"
	"github.com/wsdl-king/DataAgent/log"
	"github.com/wsdl-king/DataAgent/runner"
)

// RunService starts, resumes and cancels workflow runs.
type RunService interface {
	Submit(ctx context.Context, req runner.Request) (string, <-chan *event.Event, error)
	Cancel(runID string) error
}

// Server routes HTTP requests to a RunService.
type Server struct {
	svc    RunService
	router *mux.Router
}

// New creates a Server around the given run service.
func New(svc RunService) *Server {
	s := &Server{
		svc:    svc,
		router: mux.NewRouter(),
	}
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	})
	s.router.Use(c.Handler)
	s.registerRoutes()
	return s
}

// Handler returns the http.Handler for the server.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves on addr until the listener fails.
func (s *Server) ListenAndServe(addr string) error {
	log.Infof("http server listening on %s", addr)
	return http.ListenAndServe(addr, s.router)
}

func (s *Server) registerRoutes() {
	s.router.HandleFunc("/api/stream/search", s.handleSearch).Methods(http.MethodGet)
	s.router.HandleFunc("/api/stream/stop", s.handleStop).Methods(http.MethodPost)
	s.router.HandleFunc("/api/echo", s.handleEcho).Methods(http.MethodGet)
}

// handleSearch runs a query and streams run events over SSE. The same
// endpoint resumes a suspended run when threadId plus a feedback decision
// are supplied.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	req, err := requestFromQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	runID, ch, err := s.svc.Submit(r.Context(), req)
	switch {
	case errors.Is(err, runner.ErrRunNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	case errors.Is(err, runner.ErrRunConflict), errors.Is(err, runner.ErrFeedbackRequired):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Thread-Id", runID)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			// Client went away; stop the run so it does not burn model
			// calls into a closed stream.
			if err := s.svc.Cancel(runID); err != nil && !errors.Is(err, runner.ErrRunNotFound) {
				log.Warnf("cancel run %s after disconnect: %v", runID, err)
			}
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(e)
			if err != nil {
				log.Errorf("marshal event %s: %v", e.ID, err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Kind, data)
			flusher.Flush()
		}
	}
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	runID := r.URL.Query().Get("threadId")
	if runID == "" {
		http.Error(w, "threadId is required", http.StatusBadRequest)
		return
	}
	if err := s.svc.Cancel(runID); err != nil {
		if errors.Is(err, runner.ErrRunNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "stopped")
}

func (s *Server) handleEcho(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// requestFromQuery maps the search endpoint's query parameters onto a run
// request. threadId resumes; humanFeedback/rejectedPlan carry the review
// decision.
func requestFromQuery(r *http.Request) (runner.Request, error) {
	q := r.URL.Query()
	req := runner.Request{
		AgentID:         q.Get("agentId"),
		RunID:           q.Get("threadId"),
		Query:           q.Get("query"),
		FeedbackContent: q.Get("humanFeedbackContent"),
		ReviewEnabled:   q.Get("humanFeedback") == "true",
		AnalysisOnly:    q.Get("nl2sqlOnly") == "true",
		PlainReport:     q.Get("plainReport") == "true",
	}
	if req.AgentID == "" {
		return runner.Request{}, fmt.Errorf("agentId is required")
	}
	if req.RunID == "" && req.Query == "" {
		return runner.Request{}, fmt.Errorf("query is required")
	}
	if req.RunID != "" {
		switch {
		case q.Get("rejectedPlan") == "true":
			approved := false
			req.FeedbackApproved = &approved
		case q.Has("humanFeedbackContent") || q.Get("humanFeedback") == "true":
			approved := true
			req.FeedbackApproved = &approved
		}
	}
	return req, nil
}
