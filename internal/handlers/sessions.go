package handlers

import (
	"net/http"

	"github.com/williamzujkowski/puppeteer-mcp-go/internal/security"
	"github.com/williamzujkowski/puppeteer-mcp-go/internal/store"
	"github.com/williamzujkowski/puppeteer-mcp-go/internal/types"
)

type createSessionRequest struct {
	UserID string   `json:"userId"`
	Roles  []string `json:"roles,omitempty"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid request body: "+err.Error())
		return
	}
	if msg := security.ValidateEntityID(req.UserID); msg != "" {
		writeBadRequest(w, "userId: "+msg)
		return
	}

	sess, err := s.svc.CreateSession(r.Context(), req.UserID, req.Roles)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if msg := security.ValidateEntityID(userID); msg != "" {
		writeBadRequest(w, "userId: "+msg)
		return
	}

	sessions, err := s.svc.ListSessions(r.Context(), userID)
	if err != nil {
		writeErr(w, err)
		return
	}
	if sessions == nil {
		sessions = []*store.Session{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := pathID(w, r, "sessionID")
	if sessionID == "" {
		return
	}

	sess, err := s.svc.GetSession(r.Context(), sessionID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := pathID(w, r, "sessionID")
	if sessionID == "" {
		return
	}

	if err := s.svc.DeleteSession(r.Context(), sessionID); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type createContextRequest struct {
	Name   string              `json:"name,omitempty"`
	Config types.ContextConfig `json:"config"`
}

func (s *Server) handleCreateContext(w http.ResponseWriter, r *http.Request) {
	sessionID := pathID(w, r, "sessionID")
	if sessionID == "" {
		return
	}
	var req createContextRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid request body: "+err.Error())
		return
	}

	bctx, err := s.svc.CreateContext(r.Context(), sessionID, req.Name, req.Config)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, bctx)
}

func (s *Server) handleListContexts(w http.ResponseWriter, r *http.Request) {
	sessionID := pathID(w, r, "sessionID")
	if sessionID == "" {
		return
	}

	contexts, err := s.svc.ListContexts(r.Context(), sessionID)
	if err != nil {
		writeErr(w, err)
		return
	}
	if contexts == nil {
		contexts = []*store.Context{}
	}
	writeJSON(w, http.StatusOK, contexts)
}

func (s *Server) handleGetContext(w http.ResponseWriter, r *http.Request) {
	sessionID := pathID(w, r, "sessionID")
	if sessionID == "" {
		return
	}
	contextID := pathID(w, r, "contextID")
	if contextID == "" {
		return
	}

	bctx, err := s.svc.GetContext(r.Context(), sessionID, contextID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bctx)
}

type updateContextRequest struct {
	Config types.ContextConfig `json:"config"`
}

func (s *Server) handleUpdateContext(w http.ResponseWriter, r *http.Request) {
	sessionID := pathID(w, r, "sessionID")
	if sessionID == "" {
		return
	}
	contextID := pathID(w, r, "contextID")
	if contextID == "" {
		return
	}
	var req updateContextRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid request body: "+err.Error())
		return
	}

	bctx, err := s.svc.UpdateContext(r.Context(), sessionID, contextID, req.Config)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bctx)
}

func (s *Server) handleDeleteContext(w http.ResponseWriter, r *http.Request) {
	sessionID := pathID(w, r, "sessionID")
	if sessionID == "" {
		return
	}
	contextID := pathID(w, r, "contextID")
	if contextID == "" {
		return
	}

	if err := s.svc.DeleteContext(r.Context(), sessionID, contextID); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type createPageRequest struct {
	URL string `json:"url,omitempty"`
}

func (s *Server) handleCreatePage(w http.ResponseWriter, r *http.Request) {
	sessionID := pathID(w, r, "sessionID")
	if sessionID == "" {
		return
	}
	contextID := pathID(w, r, "contextID")
	if contextID == "" {
		return
	}
	// Body is optional: an empty body creates a blank page.
	var req createPageRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeBadRequest(w, "invalid request body: "+err.Error())
			return
		}
	}

	page, err := s.svc.CreatePage(r.Context(), sessionID, contextID, req.URL)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, page)
}

func (s *Server) handleListPages(w http.ResponseWriter, r *http.Request) {
	sessionID := pathID(w, r, "sessionID")
	if sessionID == "" {
		return
	}
	contextID := pathID(w, r, "contextID")
	if contextID == "" {
		return
	}

	pages, err := s.svc.ListPages(r.Context(), sessionID, contextID)
	if err != nil {
		writeErr(w, err)
		return
	}
	if pages == nil {
		pages = []*store.Page{}
	}
	writeJSON(w, http.StatusOK, pages)
}

func (s *Server) handleGetPage(w http.ResponseWriter, r *http.Request) {
	sessionID := pathID(w, r, "sessionID")
	if sessionID == "" {
		return
	}
	pageID := pathID(w, r, "pageID")
	if pageID == "" {
		return
	}

	page, err := s.svc.GetPage(r.Context(), sessionID, pageID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleClosePage(w http.ResponseWriter, r *http.Request) {
	sessionID := pathID(w, r, "sessionID")
	if sessionID == "" {
		return
	}
	pageID := pathID(w, r, "pageID")
	if pageID == "" {
		return
	}

	if err := s.svc.ClosePage(r.Context(), sessionID, pageID); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
