// Package api exposes the orchestrator over HTTP: status and task inspection,
// operator controls, and a websocket event stream.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/driftworks/cycle-orchestrator/internal/orchestrator"
	"github.com/driftworks/cycle-orchestrator/internal/statestore"
)

// Controller is the slice of the orchestrator the API needs
type Controller interface {
	Status(recentCycles int) ([]orchestrator.ProjectStatus, error)
	Store(project string) (*statestore.Store, error)
	PauseProject(project string) error
	ResumeProject(project string) error
	TriggerNow(ctx context.Context, project string) error
	Subscribe() chan orchestrator.Event
	Unsubscribe(ch chan orchestrator.Event)
}

// Server is the HTTP API server
type Server struct {
	ctrl Controller
	addr string
	mux  *http.ServeMux
}

// NewServer creates an API server bound to addr
func NewServer(ctrl Controller, addr string) *Server {
	s := &Server{
		ctrl: ctrl,
		addr: addr,
		mux:  http.NewServeMux(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/status", s.statusHandler())
	s.mux.HandleFunc("/api/projects/", s.projectHandler())
	s.mux.HandleFunc("/api/events", s.eventsHandler())
}

// Handler returns the routing handler, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start serves until the listener fails
func (s *Server) Start() error {
	return http.ListenAndServe(s.addr, s.mux)
}

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
