package core

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/williamzujkowski/puppeteer-mcp-go/internal/browser"
	"github.com/williamzujkowski/puppeteer-mcp-go/internal/security"
	"github.com/williamzujkowski/puppeteer-mcp-go/internal/store"
	"github.com/williamzujkowski/puppeteer-mcp-go/internal/types"
)

// CreateSession registers a session for the user. The per-user session cap
// applies before anything is written.
func (s *Service) CreateSession(ctx context.Context, userID string, roles []string) (*store.Session, error) {
	existing, err := s.store.SessionsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if s.cfg.MaxSessions > 0 && len(existing) >= s.cfg.MaxSessions {
		return nil, types.ErrTooManySessions
	}

	now := time.Now()
	sess := &store.Session{
		ID:             uuid.NewString(),
		UserID:         userID,
		Roles:          roles,
		CreatedAt:      now,
		ExpiresAt:      now.Add(s.cfg.SessionTTL),
		LastAccessedAt: now,
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return nil, err
	}

	s.bus.Publish(BusEvent{Topic: TopicSession, Type: "session_created", Subject: sess.ID,
		Fields: map[string]any{"userId": userID}})
	log.Info().Str("session_id", sess.ID).Str("user_id", userID).Msg("Session created")
	return sess, nil
}

// GetSession fetches a session by id.
func (s *Service) GetSession(ctx context.Context, id string) (*store.Session, error) {
	return s.store.GetSession(ctx, id)
}

// ListSessions returns the user's sessions.
func (s *Service) ListSessions(ctx context.Context, userID string) ([]*store.Session, error) {
	return s.store.SessionsByUser(ctx, userID)
}

// TouchSession extends the session's expiry.
func (s *Service) TouchSession(ctx context.Context, id string) error {
	return s.store.TouchSession(ctx, id)
}

// DeleteSession tears the session down: live pages, browser leases, proxy
// bindings, evaluation handles, then the stored entities via cascade.
func (s *Service) DeleteSession(ctx context.Context, id string) error {
	if _, err := s.store.GetSession(ctx, id); err != nil {
		return err
	}
	s.releaseSessionResources(ctx, id)
	if err := s.store.DeleteSession(ctx, id); err != nil {
		return err
	}
	s.bus.Publish(BusEvent{Topic: TopicSession, Type: "session_deleted", Subject: id})
	log.Info().Str("session_id", id).Msg("Session deleted")
	return nil
}

type browserLease struct {
	browserID string
	sessionID string
}

// releaseSessionResources frees everything live the session holds. Safe to
// call when the stored entities are already gone.
func (s *Service) releaseSessionResources(ctx context.Context, sessionID string) {
	// Release remote evaluation handles while their pages still exist.
	for handleID, pageID := range s.handles.Drain(sessionID) {
		hid := handleID
		err := s.pages.Do(ctx, pageID, func(p browser.Page) error {
			return p.ReleaseHandle(ctx, hid)
		})
		if err != nil {
			log.Debug().Err(err).Str("handle_id", hid).Msg("Handle release skipped")
		}
	}

	s.mu.Lock()
	var contexts []string
	for contextID, lease := range s.browsers {
		if lease.sessionID == sessionID {
			contexts = append(contexts, contextID)
		}
	}
	s.mu.Unlock()

	for _, contextID := range contexts {
		s.teardownContext(ctx, sessionID, contextID)
	}
}

// CreateContext creates a logical browser context inside the session.
func (s *Service) CreateContext(ctx context.Context, sessionID, name string, cfg types.ContextConfig) (*store.Context, error) {
	if _, err := s.store.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	if err := security.ValidateHeaders(cfg.ExtraHeaders); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrValidationFailed, err)
	}

	now := time.Now()
	bc := &store.Context{
		ID:         uuid.NewString(),
		SessionID:  sessionID,
		Name:       name,
		Config:     cfg,
		Status:     store.ContextActive,
		CreatedAt:  now,
		LastUsedAt: now,
	}
	if err := s.store.CreateContext(ctx, bc); err != nil {
		return nil, err
	}

	s.bus.Publish(BusEvent{Topic: TopicContext, Type: "context_created", Subject: bc.ID,
		Fields: map[string]any{"sessionId": sessionID, "name": name}})
	return bc, nil
}

// GetContext fetches a context and enforces session ownership.
func (s *Service) GetContext(ctx context.Context, sessionID, contextID string) (*store.Context, error) {
	bc, err := s.store.GetContext(ctx, contextID)
	if err != nil {
		return nil, err
	}
	if bc.SessionID != sessionID {
		return nil, types.ErrNotOwner
	}
	return bc, nil
}

// UpdateContext replaces the context configuration. Pages already open keep
// their applied settings; new pages pick up the new configuration.
func (s *Service) UpdateContext(ctx context.Context, sessionID, contextID string, cfg types.ContextConfig) (*store.Context, error) {
	bc, err := s.GetContext(ctx, sessionID, contextID)
	if err != nil {
		return nil, err
	}
	if bc.Status != store.ContextActive {
		return nil, types.ErrContextClosed
	}
	if err := security.ValidateHeaders(cfg.ExtraHeaders); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrValidationFailed, err)
	}
	bc.Config = cfg
	bc.LastUsedAt = time.Now()
	if err := s.store.UpdateContext(ctx, bc); err != nil {
		return nil, err
	}
	return bc, nil
}

// ListContexts returns the session's contexts.
func (s *Service) ListContexts(ctx context.Context, sessionID string) ([]*store.Context, error) {
	if _, err := s.store.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.store.ContextsBySession(ctx, sessionID)
}

// DeleteContext closes the context's pages, returns its browser lease and
// proxy binding, and removes the stored entity with its pages.
func (s *Service) DeleteContext(ctx context.Context, sessionID, contextID string) error {
	bc, err := s.GetContext(ctx, sessionID, contextID)
	if err != nil {
		return err
	}

	bc.Status = store.ContextClosing
	_ = s.store.UpdateContext(ctx, bc)

	s.teardownContext(ctx, sessionID, contextID)

	if err := s.store.DeleteContext(ctx, contextID); err != nil {
		return err
	}
	s.bus.Publish(BusEvent{Topic: TopicContext, Type: "context_deleted", Subject: contextID,
		Fields: map[string]any{"sessionId": sessionID}})
	return nil
}

// teardownContext frees the live resources behind a context.
func (s *Service) teardownContext(ctx context.Context, sessionID, contextID string) {
	s.pages.CloseContext(ctx, contextID)

	s.mu.Lock()
	lease, leased := s.browsers[contextID]
	delete(s.browsers, contextID)
	s.mu.Unlock()

	if leased {
		if err := s.pool.Release(lease.browserID, sessionID); err != nil {
			log.Warn().Err(err).
				Str("browser_id", lease.browserID).
				Str("context_id", contextID).
				Msg("Browser release failed during context teardown")
		}
	}
	if s.proxies != nil {
		s.proxies.Release(contextID)
	}
}

// CreatePage opens a page in the context, leasing a browser for the context
// on first use and binding the context's proxy.
func (s *Service) CreatePage(ctx context.Context, sessionID, contextID, initialURL string) (*store.Page, error) {
	bc, err := s.GetContext(ctx, sessionID, contextID)
	if err != nil {
		return nil, err
	}
	if bc.Status != store.ContextActive {
		return nil, types.ErrContextClosed
	}

	browserID, err := s.browserFor(ctx, sessionID, contextID)
	if err != nil {
		return nil, err
	}

	proxyURL := ""
	if s.proxies != nil && s.proxies.Enabled() {
		inst, perr := s.proxies.ProxyFor(contextID)
		if perr != nil {
			return nil, fmt.Errorf("proxy binding: %w", perr)
		}
		proxyURL = inst.URL()
	}

	pageID := uuid.NewString()
	page, err := s.pages.Create(ctx, pageID, browserID, contextID, bc.Config, proxyURL)
	if err != nil {
		return nil, err
	}

	rec := &store.Page{ID: pageID, ContextID: contextID, URL: "about:blank", CreatedAt: time.Now()}
	if initialURL != "" {
		nav, navErr := page.Navigate(ctx, initialURL, types.WaitUntilLoad)
		if navErr != nil {
			_ = s.pages.Close(ctx, pageID)
			return nil, navErr
		}
		rec.URL = nav.URL
	}
	if err := s.store.CreatePage(ctx, rec); err != nil {
		_ = s.pages.Close(ctx, pageID)
		return nil, err
	}

	_ = s.store.TouchContext(ctx, contextID)
	s.bus.Publish(BusEvent{Topic: TopicPage, Type: "page_created", Subject: pageID,
		Fields: map[string]any{"contextId": contextID}})
	return rec, nil
}

// browserFor returns the context's leased browser, acquiring one on first
// use.
func (s *Service) browserFor(ctx context.Context, sessionID, contextID string) (string, error) {
	s.mu.Lock()
	if lease, ok := s.browsers[contextID]; ok {
		s.mu.Unlock()
		return lease.browserID, nil
	}
	s.mu.Unlock()

	inst, err := s.pool.Acquire(ctx, sessionID)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	if lease, ok := s.browsers[contextID]; ok {
		// Lost the race; return the extra lease.
		s.mu.Unlock()
		_ = s.pool.Release(inst.ID, sessionID)
		return lease.browserID, nil
	}
	s.browsers[contextID] = browserLease{browserID: inst.ID, sessionID: sessionID}
	s.mu.Unlock()
	return inst.ID, nil
}

// GetPage fetches a page record and enforces ownership through its context.
func (s *Service) GetPage(ctx context.Context, sessionID, pageID string) (*store.Page, error) {
	rec, err := s.store.GetPage(ctx, pageID)
	if err != nil {
		return nil, err
	}
	if _, err := s.GetContext(ctx, sessionID, rec.ContextID); err != nil {
		return nil, err
	}
	return rec, nil
}

// ListPages returns the context's pages.
func (s *Service) ListPages(ctx context.Context, sessionID, contextID string) ([]*store.Page, error) {
	if _, err := s.GetContext(ctx, sessionID, contextID); err != nil {
		return nil, err
	}
	return s.store.PagesByContext(ctx, contextID)
}

// ClosePage closes the live page and removes its record.
func (s *Service) ClosePage(ctx context.Context, sessionID, pageID string) error {
	rec, err := s.GetPage(ctx, sessionID, pageID)
	if err != nil {
		return err
	}
	if err := s.pages.Close(ctx, pageID); err != nil {
		log.Warn().Err(err).Str("page_id", pageID).Msg("Live page close failed")
	}
	if err := s.store.DeletePage(ctx, rec.ID); err != nil {
		return err
	}
	s.bus.Publish(BusEvent{Topic: TopicPage, Type: "page_closed", Subject: pageID,
		Fields: map[string]any{"contextId": rec.ContextID}})
	return nil
}
