package browser

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/williamzujkowski/puppeteer-mcp-go/internal/types"
)

// PageManager caches live pages by page id and serializes action dispatch per
// page. A background sweep closes pages idle past the stale window.
type PageManager struct {
	pool       *Pool
	staleAfter time.Duration

	mu    sync.Mutex
	pages map[string]*pageEntry

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

type pageEntry struct {
	page      Page
	browserID string
	contextID string

	// dispatch serializes actions against one page; concurrent actions on
	// different pages proceed independently.
	dispatch sync.Mutex

	mu       sync.Mutex
	lastUsed time.Time
}

// NewPageManager creates the manager and starts the stale sweep.
func NewPageManager(pool *Pool, staleAfter, sweepInterval time.Duration) *PageManager {
	pm := &PageManager{
		pool:       pool,
		staleAfter: staleAfter,
		pages:      make(map[string]*pageEntry),
		stopCh:     make(chan struct{}),
	}
	if staleAfter > 0 && sweepInterval > 0 {
		pm.wg.Add(1)
		go func() {
			defer pm.wg.Done()
			pm.sweepLoop(sweepInterval)
		}()
	}
	return pm
}

// Create opens a page on the leased browser with the context configuration
// and proxy binding applied, and caches it under pageID.
func (pm *PageManager) Create(ctx context.Context, pageID, browserID, contextID string, cfg types.ContextConfig, proxyURL string) (Page, error) {
	page, err := pm.pool.CreatePage(ctx, browserID, cfg, proxyURL)
	if err != nil {
		return nil, err
	}

	entry := &pageEntry{
		page:      page,
		browserID: browserID,
		contextID: contextID,
		lastUsed:  time.Now(),
	}
	pm.mu.Lock()
	pm.pages[pageID] = entry
	pm.mu.Unlock()

	log.Debug().
		Str("page_id", pageID).
		Str("browser_id", browserID).
		Str("context_id", contextID).
		Msg("Page created")
	return page, nil
}

// Do runs fn against the page, holding its dispatch lock so actions on the
// same page execute in order.
func (pm *PageManager) Do(ctx context.Context, pageID string, fn func(Page) error) error {
	pm.mu.Lock()
	entry, ok := pm.pages[pageID]
	pm.mu.Unlock()
	if !ok {
		return types.ErrPageNotFound
	}

	entry.dispatch.Lock()
	defer entry.dispatch.Unlock()

	entry.mu.Lock()
	entry.lastUsed = time.Now()
	entry.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	return fn(entry.page)
}

// Lookup returns the cached page.
func (pm *PageManager) Lookup(pageID string) (Page, bool) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	entry, ok := pm.pages[pageID]
	if !ok {
		return nil, false
	}
	return entry.page, true
}

// Close closes one page. Idempotent: a missing page is not an error.
func (pm *PageManager) Close(ctx context.Context, pageID string) error {
	pm.mu.Lock()
	entry, ok := pm.pages[pageID]
	delete(pm.pages, pageID)
	pm.mu.Unlock()
	if !ok {
		return nil
	}
	return pm.pool.ClosePage(ctx, entry.browserID, entry.page)
}

// CloseContext closes every page bound to the context.
func (pm *PageManager) CloseContext(ctx context.Context, contextID string) {
	pm.mu.Lock()
	var victims []string
	for id, entry := range pm.pages {
		if entry.contextID == contextID {
			victims = append(victims, id)
		}
	}
	pm.mu.Unlock()

	for _, id := range victims {
		if err := pm.Close(ctx, id); err != nil {
			log.Warn().Err(err).Str("page_id", id).Msg("Error closing page for context")
		}
	}
}

// Count returns the number of cached pages.
func (pm *PageManager) Count() int {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return len(pm.pages)
}

func (pm *PageManager) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-pm.stopCh:
			return
		case <-ticker.C:
			pm.sweep()
		}
	}
}

// sweep closes pages idle past the stale window. Collection happens under the
// lock; closing happens outside it.
func (pm *PageManager) sweep() {
	cutoff := time.Now().Add(-pm.staleAfter)

	pm.mu.Lock()
	var stale []string
	for id, entry := range pm.pages {
		entry.mu.Lock()
		old := entry.lastUsed.Before(cutoff)
		entry.mu.Unlock()
		if old {
			stale = append(stale, id)
		}
	}
	pm.mu.Unlock()

	if len(stale) == 0 {
		return
	}
	log.Info().Int("count", len(stale)).Msg("Sweeping stale pages")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, id := range stale {
		if err := pm.Close(ctx, id); err != nil {
			log.Warn().Err(err).Str("page_id", id).Msg("Error closing stale page")
		}
	}
}

// Stop halts the sweep and closes every cached page.
func (pm *PageManager) Stop() {
	pm.stopOnce.Do(func() {
		close(pm.stopCh)
	})
	pm.wg.Wait()

	pm.mu.Lock()
	ids := make([]string, 0, len(pm.pages))
	for id := range pm.pages {
		ids = append(ids, id)
	}
	pm.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, id := range ids {
		_ = pm.Close(ctx, id)
	}
}
