// Package handlers exposes the control plane over REST plus a server-sent
// event stream for lifecycle notifications.
package handlers

import (
	"net/http"

	"github.com/williamzujkowski/puppeteer-mcp-go/internal/config"
	"github.com/williamzujkowski/puppeteer-mcp-go/internal/core"
	"github.com/williamzujkowski/puppeteer-mcp-go/internal/security"
	"github.com/williamzujkowski/puppeteer-mcp-go/pkg/version"
)

// Server adapts the core service to HTTP.
type Server struct {
	svc *core.Service
	cfg *config.Config
}

// New creates the HTTP adapter over the control plane.
func New(svc *core.Service, cfg *config.Config) *Server {
	return &Server{svc: svc, cfg: cfg}
}

// Routes builds the request mux. Method and path-parameter dispatch is left
// to the standard mux patterns.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("POST /v1/sessions", s.handleCreateSession)
	mux.HandleFunc("GET /v1/sessions", s.handleListSessions)
	mux.HandleFunc("GET /v1/sessions/{sessionID}", s.handleGetSession)
	mux.HandleFunc("DELETE /v1/sessions/{sessionID}", s.handleDeleteSession)

	mux.HandleFunc("POST /v1/sessions/{sessionID}/contexts", s.handleCreateContext)
	mux.HandleFunc("GET /v1/sessions/{sessionID}/contexts", s.handleListContexts)
	mux.HandleFunc("GET /v1/sessions/{sessionID}/contexts/{contextID}", s.handleGetContext)
	mux.HandleFunc("PATCH /v1/sessions/{sessionID}/contexts/{contextID}", s.handleUpdateContext)
	mux.HandleFunc("DELETE /v1/sessions/{sessionID}/contexts/{contextID}", s.handleDeleteContext)

	mux.HandleFunc("POST /v1/sessions/{sessionID}/contexts/{contextID}/pages", s.handleCreatePage)
	mux.HandleFunc("GET /v1/sessions/{sessionID}/contexts/{contextID}/pages", s.handleListPages)
	mux.HandleFunc("GET /v1/sessions/{sessionID}/pages/{pageID}", s.handleGetPage)
	mux.HandleFunc("DELETE /v1/sessions/{sessionID}/pages/{pageID}", s.handleClosePage)

	mux.HandleFunc("POST /v1/sessions/{sessionID}/contexts/{contextID}/pages/{pageID}/actions", s.handleExecute)

	mux.HandleFunc("GET /v1/events", s.handleEvents)

	return mux
}

// pathID extracts and validates a path parameter. The empty string signals a
// validation failure already written to w.
func pathID(w http.ResponseWriter, r *http.Request, name string) string {
	id := r.PathValue(name)
	if msg := security.ValidateEntityID(id); msg != "" {
		writeBadRequest(w, name+": "+msg)
		return ""
	}
	return id
}

type healthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version"`
	Report  core.HealthReport `json:"report"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.svc.Health(r.Context())
	status := "ok"
	code := http.StatusOK
	if !report.BackendHealthy {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, healthResponse{
		Status:  status,
		Version: version.Version,
		Report:  report,
	})
}
