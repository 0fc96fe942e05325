package store

import (
	"context"
	"sync"
	"time"

	"github.com/williamzujkowski/puppeteer-mcp-go/internal/types"
)

// Memory is the default in-process backend. All maps are guarded by one
// mutex; operations are cheap enough that finer locking buys nothing.
type Memory struct {
	mu       sync.Mutex
	ttl      time.Duration
	sessions map[string]*Session
	contexts map[string]*Context
	pages    map[string]*Page
	keys     map[string]string

	// secondary indexes
	byUser    map[string]map[string]struct{} // userID -> session ids
	bySession map[string]map[string]struct{} // sessionID -> context ids
	byContext map[string]map[string]struct{} // contextID -> page ids
}

// NewMemory creates a memory store. ttl, when positive, is applied to session
// expiry on Touch.
func NewMemory(ttl time.Duration) *Memory {
	return &Memory{
		ttl:       ttl,
		sessions:  make(map[string]*Session),
		contexts:  make(map[string]*Context),
		pages:     make(map[string]*Page),
		keys:      make(map[string]string),
		byUser:    make(map[string]map[string]struct{}),
		bySession: make(map[string]map[string]struct{}),
		byContext: make(map[string]map[string]struct{}),
	}
}

func (m *Memory) CreateSession(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.sessions[s.ID] = &cp
	idx, ok := m.byUser[s.UserID]
	if !ok {
		idx = make(map[string]struct{})
		m.byUser[s.UserID] = idx
	}
	idx[s.ID] = struct{}{}
	return nil
}

func (m *Memory) GetSession(_ context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, types.ErrSessionNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *Memory) TouchSession(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return types.ErrSessionNotFound
	}
	now := time.Now()
	s.LastAccessedAt = now
	if m.ttl > 0 {
		s.ExpiresAt = now.Add(m.ttl)
	}
	return nil
}

func (m *Memory) DeleteSession(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return types.ErrSessionNotFound
	}
	m.deleteSessionLocked(s)
	return nil
}

func (m *Memory) deleteSessionLocked(s *Session) {
	for ctxID := range m.bySession[s.ID] {
		m.deleteContextLocked(ctxID)
	}
	delete(m.bySession, s.ID)
	if idx, ok := m.byUser[s.UserID]; ok {
		delete(idx, s.ID)
		if len(idx) == 0 {
			delete(m.byUser, s.UserID)
		}
	}
	delete(m.sessions, s.ID)
}

func (m *Memory) SessionsByUser(_ context.Context, userID string) ([]*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Session, 0, len(m.byUser[userID]))
	for id := range m.byUser[userID] {
		if s, ok := m.sessions[id]; ok {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *Memory) ExpireSessions(_ context.Context, now time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var expired []string
	for id, s := range m.sessions {
		if s.Expired(now) {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		m.deleteSessionLocked(m.sessions[id])
	}
	return expired, nil
}

func (m *Memory) CreateContext(_ context.Context, c *Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[c.SessionID]; !ok {
		return types.ErrSessionNotFound
	}
	cp := *c
	m.contexts[c.ID] = &cp
	idx, ok := m.bySession[c.SessionID]
	if !ok {
		idx = make(map[string]struct{})
		m.bySession[c.SessionID] = idx
	}
	idx[c.ID] = struct{}{}
	return nil
}

func (m *Memory) GetContext(_ context.Context, id string) (*Context, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contexts[id]
	if !ok {
		return nil, types.ErrContextNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *Memory) UpdateContext(_ context.Context, c *Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.contexts[c.ID]; !ok {
		return types.ErrContextNotFound
	}
	cp := *c
	m.contexts[c.ID] = &cp
	return nil
}

func (m *Memory) TouchContext(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contexts[id]
	if !ok {
		return types.ErrContextNotFound
	}
	c.LastUsedAt = time.Now()
	return nil
}

func (m *Memory) DeleteContext(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contexts[id]
	if !ok {
		return types.ErrContextNotFound
	}
	if idx, ok := m.bySession[c.SessionID]; ok {
		delete(idx, id)
	}
	m.deleteContextLocked(id)
	return nil
}

func (m *Memory) deleteContextLocked(id string) {
	for pageID := range m.byContext[id] {
		delete(m.pages, pageID)
	}
	delete(m.byContext, id)
	delete(m.contexts, id)
}

func (m *Memory) ContextsBySession(_ context.Context, sessionID string) ([]*Context, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Context, 0, len(m.bySession[sessionID]))
	for id := range m.bySession[sessionID] {
		if c, ok := m.contexts[id]; ok {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *Memory) CreatePage(_ context.Context, p *Page) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.contexts[p.ContextID]; !ok {
		return types.ErrContextNotFound
	}
	cp := *p
	m.pages[p.ID] = &cp
	idx, ok := m.byContext[p.ContextID]
	if !ok {
		idx = make(map[string]struct{})
		m.byContext[p.ContextID] = idx
	}
	idx[p.ID] = struct{}{}
	return nil
}

func (m *Memory) GetPage(_ context.Context, id string) (*Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pages[id]
	if !ok {
		return nil, types.ErrPageNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *Memory) UpdatePage(_ context.Context, p *Page) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pages[p.ID]; !ok {
		return types.ErrPageNotFound
	}
	cp := *p
	m.pages[p.ID] = &cp
	return nil
}

func (m *Memory) DeletePage(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pages[id]
	if !ok {
		return types.ErrPageNotFound
	}
	if idx, ok := m.byContext[p.ContextID]; ok {
		delete(idx, id)
	}
	delete(m.pages, id)
	return nil
}

func (m *Memory) PagesByContext(_ context.Context, contextID string) ([]*Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Page, 0, len(m.byContext[contextID]))
	for id := range m.byContext[contextID] {
		if p, ok := m.pages[id]; ok {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *Memory) PutKeyHash(_ context.Context, keyID, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[keyID] = hash
	return nil
}

func (m *Memory) GetKeyHash(_ context.Context, keyID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.keys[keyID]
	if !ok {
		return "", types.ErrKeyNotFound
	}
	return h, nil
}

func (m *Memory) DeleteKeyHash(_ context.Context, keyID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.keys[keyID]; !ok {
		return types.ErrKeyNotFound
	}
	delete(m.keys, keyID)
	return nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }
