// Package store persists sessions, browser contexts, and page records behind
// one interface with memory and redis backends.
package store

import (
	"context"
	"time"

	"github.com/williamzujkowski/puppeteer-mcp-go/internal/types"
)

// Context lifecycle states.
const (
	ContextActive  = "active"
	ContextClosing = "closing"
	ContextClosed  = "closed"
)

// Session is an authenticated principal's workspace. Sessions own contexts
// and expire on a TTL refreshed by activity.
type Session struct {
	ID             string    `json:"id"`
	UserID         string    `json:"userId"`
	Roles          []string  `json:"roles,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	ExpiresAt      time.Time `json:"expiresAt"`
	LastAccessedAt time.Time `json:"lastAccessedAt"`
}

// Expired reports whether the session is past its expiry at the given time.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// Context is one isolated browser context owned by a session.
type Context struct {
	ID         string              `json:"id"`
	SessionID  string              `json:"sessionId"`
	Name       string              `json:"name,omitempty"`
	Config     types.ContextConfig `json:"config"`
	Status     string              `json:"status"`
	CreatedAt  time.Time           `json:"createdAt"`
	LastUsedAt time.Time           `json:"lastUsedAt"`
}

// Page records one open page within a context.
type Page struct {
	ID        string    `json:"id"`
	ContextID string    `json:"contextId"`
	URL       string    `json:"url,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store is the persistence boundary. Deleting a session cascades to its
// contexts and their pages; deleting a context cascades to its pages.
//
// Only sessions and API key hashes survive a restart on persistent backends.
// Contexts and pages describe live browser state and are always in-memory.
type Store interface {
	CreateSession(ctx context.Context, s *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	TouchSession(ctx context.Context, id string) error
	DeleteSession(ctx context.Context, id string) error
	SessionsByUser(ctx context.Context, userID string) ([]*Session, error)
	// ExpireSessions removes sessions past expiry, cascading, and returns
	// the ids removed.
	ExpireSessions(ctx context.Context, now time.Time) ([]string, error)

	CreateContext(ctx context.Context, c *Context) error
	GetContext(ctx context.Context, id string) (*Context, error)
	UpdateContext(ctx context.Context, c *Context) error
	TouchContext(ctx context.Context, id string) error
	DeleteContext(ctx context.Context, id string) error
	ContextsBySession(ctx context.Context, sessionID string) ([]*Context, error)

	CreatePage(ctx context.Context, p *Page) error
	GetPage(ctx context.Context, id string) (*Page, error)
	UpdatePage(ctx context.Context, p *Page) error
	DeletePage(ctx context.Context, id string) error
	PagesByContext(ctx context.Context, contextID string) ([]*Page, error)

	// API key hashes, keyed by key id. Values are hex SHA-256 digests.
	PutKeyHash(ctx context.Context, keyID, hash string) error
	GetKeyHash(ctx context.Context, keyID string) (string, error)
	DeleteKeyHash(ctx context.Context, keyID string) error

	Ping(ctx context.Context) error
	Close() error
}
