package action

import (
	"sync"

	"github.com/williamzujkowski/puppeteer-mcp-go/internal/types"
)

// HandleRegistry tracks evaluation handles per session so they can be
// released when the session ends. Handles are opaque remote-object ids owned
// by the page they were created on.
type HandleRegistry struct {
	mu sync.Mutex
	// sessionID → handleID → pageID
	sessions map[string]map[string]string
}

func NewHandleRegistry() *HandleRegistry {
	return &HandleRegistry{sessions: make(map[string]map[string]string)}
}

// Track records a handle created for the session on the page.
func (r *HandleRegistry) Track(sessionID, handleID, pageID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	byHandle, ok := r.sessions[sessionID]
	if !ok {
		byHandle = make(map[string]string)
		r.sessions[sessionID] = byHandle
	}
	byHandle[handleID] = pageID
}

// Release forgets one handle. The caller releases the remote object.
func (r *HandleRegistry) Release(sessionID, handleID string) (pageID string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	byHandle, ok := r.sessions[sessionID]
	if !ok {
		return "", types.ErrHandleNotFound
	}
	pageID, ok = byHandle[handleID]
	if !ok {
		return "", types.ErrHandleNotFound
	}
	delete(byHandle, handleID)
	if len(byHandle) == 0 {
		delete(r.sessions, sessionID)
	}
	return pageID, nil
}

// Drain removes and returns every handle the session holds, keyed
// handleID → pageID. The caller walks the map and releases each remote
// object.
func (r *HandleRegistry) Drain(sessionID string) map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	byHandle := r.sessions[sessionID]
	delete(r.sessions, sessionID)
	return byHandle
}

// Count returns how many handles the session holds.
func (r *HandleRegistry) Count(sessionID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions[sessionID])
}
