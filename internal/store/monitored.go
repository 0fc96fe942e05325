package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/williamzujkowski/puppeteer-mcp-go/internal/types"
)

// BackendHealth is a snapshot of the monitored backend's condition.
type BackendHealth struct {
	Healthy   bool    `json:"healthy"`
	LatencyMs float64 `json:"latencyMs"`
	LastError string  `json:"lastError,omitempty"`
	Fallbacks int64   `json:"fallbacks"`
}

// Monitored wraps a Store, recording per-operation latency and backend
// health. When the primary reports ErrBackendUnavailable, session reads and
// writes fall back to an in-memory mirror so the control plane degrades
// instead of failing. Writes served by the mirror are lost when the process
// exits; that beats refusing all work while redis restarts.
type Monitored struct {
	primary  Store
	fallback *Memory

	mu        sync.Mutex
	healthy   bool
	ewmaMs    float64
	lastError string
	fallbacks int64
}

// NewMonitored wraps primary. ttl seeds the fallback mirror's touch behavior.
func NewMonitored(primary Store, ttl time.Duration) *Monitored {
	return &Monitored{
		primary:  primary,
		fallback: NewMemory(ttl),
		healthy:  true,
	}
}

// Health returns the current backend health snapshot.
func (m *Monitored) Health() BackendHealth {
	m.mu.Lock()
	defer m.mu.Unlock()
	return BackendHealth{
		Healthy:   m.healthy,
		LatencyMs: m.ewmaMs,
		LastError: m.lastError,
		Fallbacks: m.fallbacks,
	}
}

// observe records latency and health for one primary call and reports whether
// the fallback should serve it.
func (m *Monitored) observe(start time.Time, err error) bool {
	ms := float64(time.Since(start).Microseconds()) / 1000

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ewmaMs == 0 {
		m.ewmaMs = ms
	} else {
		m.ewmaMs = 0.8*m.ewmaMs + 0.2*ms
	}

	down := errors.Is(err, types.ErrBackendUnavailable)
	if down {
		m.lastError = err.Error()
		m.fallbacks++
		if m.healthy {
			m.healthy = false
			log.Warn().Err(err).Msg("Store backend unavailable, serving from memory fallback")
		}
	} else if err == nil && !m.healthy {
		m.healthy = true
		log.Info().Msg("Store backend recovered")
	}
	return down
}

func (m *Monitored) CreateSession(ctx context.Context, s *Session) error {
	start := time.Now()
	err := m.primary.CreateSession(ctx, s)
	if m.observe(start, err) {
		return m.fallback.CreateSession(ctx, s)
	}
	if err == nil {
		// Mirror so a later outage can still resolve this session.
		_ = m.fallback.CreateSession(ctx, s)
	}
	return err
}

func (m *Monitored) GetSession(ctx context.Context, id string) (*Session, error) {
	start := time.Now()
	s, err := m.primary.GetSession(ctx, id)
	if m.observe(start, err) {
		return m.fallback.GetSession(ctx, id)
	}
	return s, err
}

func (m *Monitored) TouchSession(ctx context.Context, id string) error {
	start := time.Now()
	err := m.primary.TouchSession(ctx, id)
	if m.observe(start, err) {
		return m.fallback.TouchSession(ctx, id)
	}
	if err == nil {
		_ = m.fallback.TouchSession(ctx, id)
	}
	return err
}

func (m *Monitored) DeleteSession(ctx context.Context, id string) error {
	start := time.Now()
	err := m.primary.DeleteSession(ctx, id)
	if m.observe(start, err) {
		return m.fallback.DeleteSession(ctx, id)
	}
	if err == nil {
		_ = m.fallback.DeleteSession(ctx, id)
	}
	return err
}

func (m *Monitored) SessionsByUser(ctx context.Context, userID string) ([]*Session, error) {
	start := time.Now()
	out, err := m.primary.SessionsByUser(ctx, userID)
	if m.observe(start, err) {
		return m.fallback.SessionsByUser(ctx, userID)
	}
	return out, err
}

func (m *Monitored) ExpireSessions(ctx context.Context, now time.Time) ([]string, error) {
	start := time.Now()
	out, err := m.primary.ExpireSessions(ctx, now)
	if m.observe(start, err) {
		return m.fallback.ExpireSessions(ctx, now)
	}
	if err == nil {
		_, _ = m.fallback.ExpireSessions(ctx, now)
	}
	return out, err
}

// Context and page records live in process memory on every backend, so these
// delegate without fallback handling.

func (m *Monitored) CreateContext(ctx context.Context, c *Context) error {
	return m.primary.CreateContext(ctx, c)
}

func (m *Monitored) GetContext(ctx context.Context, id string) (*Context, error) {
	return m.primary.GetContext(ctx, id)
}

func (m *Monitored) UpdateContext(ctx context.Context, c *Context) error {
	return m.primary.UpdateContext(ctx, c)
}

func (m *Monitored) TouchContext(ctx context.Context, id string) error {
	return m.primary.TouchContext(ctx, id)
}

func (m *Monitored) DeleteContext(ctx context.Context, id string) error {
	return m.primary.DeleteContext(ctx, id)
}

func (m *Monitored) ContextsBySession(ctx context.Context, sessionID string) ([]*Context, error) {
	return m.primary.ContextsBySession(ctx, sessionID)
}

func (m *Monitored) CreatePage(ctx context.Context, p *Page) error {
	return m.primary.CreatePage(ctx, p)
}

func (m *Monitored) GetPage(ctx context.Context, id string) (*Page, error) {
	return m.primary.GetPage(ctx, id)
}

func (m *Monitored) UpdatePage(ctx context.Context, p *Page) error {
	return m.primary.UpdatePage(ctx, p)
}

func (m *Monitored) DeletePage(ctx context.Context, id string) error {
	return m.primary.DeletePage(ctx, id)
}

func (m *Monitored) PagesByContext(ctx context.Context, contextID string) ([]*Page, error) {
	return m.primary.PagesByContext(ctx, contextID)
}

func (m *Monitored) PutKeyHash(ctx context.Context, keyID, hash string) error {
	start := time.Now()
	err := m.primary.PutKeyHash(ctx, keyID, hash)
	if m.observe(start, err) {
		return m.fallback.PutKeyHash(ctx, keyID, hash)
	}
	if err == nil {
		_ = m.fallback.PutKeyHash(ctx, keyID, hash)
	}
	return err
}

func (m *Monitored) GetKeyHash(ctx context.Context, keyID string) (string, error) {
	start := time.Now()
	h, err := m.primary.GetKeyHash(ctx, keyID)
	if m.observe(start, err) {
		return m.fallback.GetKeyHash(ctx, keyID)
	}
	return h, err
}

func (m *Monitored) DeleteKeyHash(ctx context.Context, keyID string) error {
	start := time.Now()
	err := m.primary.DeleteKeyHash(ctx, keyID)
	if m.observe(start, err) {
		return m.fallback.DeleteKeyHash(ctx, keyID)
	}
	if err == nil {
		_ = m.fallback.DeleteKeyHash(ctx, keyID)
	}
	return err
}

func (m *Monitored) Ping(ctx context.Context) error {
	start := time.Now()
	err := m.primary.Ping(ctx)
	m.observe(start, err)
	return err
}

func (m *Monitored) Close() error {
	return m.primary.Close()
}
