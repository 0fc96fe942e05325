package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/williamzujkowski/puppeteer-mcp-go/internal/action"
	"github.com/williamzujkowski/puppeteer-mcp-go/internal/audit"
	"github.com/williamzujkowski/puppeteer-mcp-go/internal/browser"
	"github.com/williamzujkowski/puppeteer-mcp-go/internal/circuit"
	"github.com/williamzujkowski/puppeteer-mcp-go/internal/config"
	"github.com/williamzujkowski/puppeteer-mcp-go/internal/proxy"
	"github.com/williamzujkowski/puppeteer-mcp-go/internal/store"
	"github.com/williamzujkowski/puppeteer-mcp-go/internal/types"
)

type fixture struct {
	svc     *Service
	engine  *browser.FakeEngine
	store   *store.Memory
	rec     *audit.Recorder
	proxies *proxy.Manager
}

type okChecker struct{}

func (okChecker) Check(context.Context, *config.ProxyEntry) error { return nil }

func coreConfig(t *testing.T) *config.Config {
	return &config.Config{
		PoolMinSize:            1,
		PoolMaxSize:            2,
		PoolAcquireTimeout:     time.Second,
		PoolShutdownGrace:      time.Second,
		MaxPagesPerBrowser:     10,
		BrowserMaxLifetime:     time.Hour,
		BrowserMaxIdle:         time.Hour,
		BrowserMaxUses:         1000,
		RecyclingThreshold:     0.95,
		HealthCheckInterval:    time.Hour,
		OptimizationInterval:   time.Hour,
		ScaleUpThreshold:       0.95,
		ScaleDownThreshold:     0.05,
		HealthScoreFloor:       0.1,
		SessionTTL:             time.Hour,
		SessionCleanupInterval: time.Hour,
		MaxSessions:            10,
		DefaultTimeout:         5 * time.Second,
		MaxTimeout:             30 * time.Second,
		DownloadDir:            t.TempDir(),
	}
}

func breakerConfig() circuit.Config {
	return circuit.Config{
		FailureThreshold:  5,
		SuccessThreshold:  1,
		Window:            time.Minute,
		Timeout:           time.Second,
		MaxTimeout:        time.Minute,
		MinimumThroughput: 1,
		Backoff:           "fixed",
		Detector:          "threshold",
		Enabled:           true,
	}
}

func newFixture(t *testing.T, cfg *config.Config, proxies *proxy.Manager) *fixture {
	t.Helper()
	if cfg == nil {
		cfg = coreConfig(t)
	}
	engine := browser.NewFakeEngine()
	breakers := circuit.NewRegistry(16, breakerConfig())
	pool, err := browser.NewPool(cfg, engine, breakers)
	if err != nil {
		t.Fatal(err)
	}
	pages := browser.NewPageManager(pool, time.Hour, time.Hour)
	mem := store.NewMemory(cfg.SessionTTL)
	rec := audit.NewRecorder()

	svc := NewService(cfg, Deps{
		Store:    mem,
		Pool:     pool,
		Pages:    pages,
		Proxies:  proxies,
		Breakers: breakers,
		Sink:     rec,
		Retry:    &action.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Sink: rec},
	})
	t.Cleanup(func() {
		svc.Close()
		pages.Stop()
		_ = pool.Shutdown(time.Second)
	})
	return &fixture{svc: svc, engine: engine, store: mem, rec: rec, proxies: proxies}
}

// seed creates session → context → page and returns their ids.
func (f *fixture) seed(t *testing.T) (sessionID, contextID, pageID string) {
	t.Helper()
	ctx := context.Background()
	sess, err := f.svc.CreateSession(ctx, "user-1", []string{"admin"})
	if err != nil {
		t.Fatal(err)
	}
	bc, err := f.svc.CreateContext(ctx, sess.ID, "default", types.ContextConfig{ViewportWidth: 1024, ViewportHeight: 768})
	if err != nil {
		t.Fatal(err)
	}
	page, err := f.svc.CreatePage(ctx, sess.ID, bc.ID, "")
	if err != nil {
		t.Fatal(err)
	}
	return sess.ID, bc.ID, page.ID
}

func (f *fixture) lastPage(t *testing.T) *browser.FakePage {
	t.Helper()
	browsers := f.engine.Browsers()
	if len(browsers) == 0 {
		t.Fatal("no browsers launched")
	}
	var last *browser.FakePage
	for _, b := range browsers {
		for _, p := range b.Pages() {
			last = p
		}
	}
	if last == nil {
		t.Fatal("no pages created")
	}
	return last
}

func TestSessionLifecycleAndCascade(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()
	sessionID, contextID, pageID := f.seed(t)

	if _, err := f.svc.GetSession(ctx, sessionID); err != nil {
		t.Fatal(err)
	}
	if err := f.svc.DeleteSession(ctx, sessionID); err != nil {
		t.Fatal(err)
	}

	if _, err := f.svc.GetSession(ctx, sessionID); !errors.Is(err, types.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if _, err := f.store.GetContext(ctx, contextID); !errors.Is(err, types.ErrContextNotFound) {
		t.Fatalf("context must cascade, got %v", err)
	}
	if _, err := f.store.GetPage(ctx, pageID); !errors.Is(err, types.ErrPageNotFound) {
		t.Fatalf("page must cascade, got %v", err)
	}
	// The browser lease went back to the pool.
	if inUse := f.svc.pool.Stats().InUse; inUse != 0 {
		t.Fatalf("in-use after delete: %d", inUse)
	}
}

func TestSessionCapPerUser(t *testing.T) {
	cfg := coreConfig(t)
	cfg.MaxSessions = 2
	f := newFixture(t, cfg, nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := f.svc.CreateSession(ctx, "bulk", nil); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := f.svc.CreateSession(ctx, "bulk", nil); !errors.Is(err, types.ErrTooManySessions) {
		t.Fatalf("expected ErrTooManySessions, got %v", err)
	}
	// Another user is unaffected.
	if _, err := f.svc.CreateSession(ctx, "other", nil); err != nil {
		t.Fatal(err)
	}
}

func TestContextOwnershipEnforced(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()
	_, contextID, pageID := f.seed(t)

	intruder, err := f.svc.CreateSession(ctx, "intruder", nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.GetContext(ctx, intruder.ID, contextID); !errors.Is(err, types.ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
	if _, err := f.svc.GetPage(ctx, intruder.ID, pageID); !errors.Is(err, types.ErrNotOwner) {
		t.Fatalf("page access must check ownership, got %v", err)
	}
	if err := f.svc.DeleteContext(ctx, intruder.ID, contextID); !errors.Is(err, types.ErrNotOwner) {
		t.Fatalf("delete must check ownership, got %v", err)
	}
}

func TestContextConfigAppliedToPage(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.seed(t)

	page := f.lastPage(t)
	if page.Config.ViewportWidth != 1024 || page.Config.ViewportHeight != 768 {
		t.Fatalf("config: %+v", page.Config)
	}
}

func TestDeleteContextReleasesLease(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()
	sessionID, contextID, _ := f.seed(t)

	if inUse := f.svc.pool.Stats().InUse; inUse != 1 {
		t.Fatalf("in-use: %d", inUse)
	}
	if err := f.svc.DeleteContext(ctx, sessionID, contextID); err != nil {
		t.Fatal(err)
	}
	if inUse := f.svc.pool.Stats().InUse; inUse != 0 {
		t.Fatalf("in-use after context delete: %d", inUse)
	}
	if !f.lastPage(t).IsClosed() {
		t.Fatal("live page must be closed with its context")
	}
}

func TestPagesShareContextBrowser(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()
	sessionID, contextID, _ := f.seed(t)

	if _, err := f.svc.CreatePage(ctx, sessionID, contextID, ""); err != nil {
		t.Fatal(err)
	}
	if launched := f.engine.Launched(); launched != 1 {
		t.Fatalf("pages in one context must share a browser, launched=%d", launched)
	}
	if inUse := f.svc.pool.Stats().InUse; inUse != 1 {
		t.Fatalf("in-use: %d", inUse)
	}
}

func TestSubscribeReceivesLifecycleEvents(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	events, cancel := f.svc.Subscribe([]string{TopicSession}, 8)
	defer cancel()

	sess, err := f.svc.CreateSession(ctx, "user-1", nil)
	if err != nil {
		t.Fatal(err)
	}

	select {
	case ev := <-events:
		if ev.Type != "session_created" || ev.Subject != sess.ID {
			t.Fatalf("event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}
}

func TestBusTopicFilterAndFIFO(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch, cancel := bus.Subscribe([]string{TopicPool}, 8)
	defer cancel()

	bus.Publish(BusEvent{Topic: TopicSession, Type: "ignored"})
	bus.Publish(BusEvent{Topic: TopicPool, Type: "first"})
	bus.Publish(BusEvent{Topic: TopicPool, Type: "second"})

	if ev := <-ch; ev.Type != "first" {
		t.Fatalf("order violated: %+v", ev)
	}
	if ev := <-ch; ev.Type != "second" {
		t.Fatalf("order violated: %+v", ev)
	}
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event: %+v", ev)
	default:
	}
}

func TestHealthReport(t *testing.T) {
	f := newFixture(t, nil, nil)
	sessionID, contextID, _ := f.seed(t)
	_ = sessionID
	_ = contextID

	report := f.svc.Health(context.Background())
	if report.PoolSize < 1 || report.InUse != 1 {
		t.Fatalf("report: %+v", report)
	}
	if !report.BackendHealthy {
		t.Fatal("memory backend must be healthy")
	}
	if len(report.OpenBreakers) != 0 {
		t.Fatalf("open breakers: %v", report.OpenBreakers)
	}
}

func TestExpireOnceCleansResources(t *testing.T) {
	cfg := coreConfig(t)
	cfg.SessionTTL = 20 * time.Millisecond
	f := newFixture(t, cfg, nil)
	ctx := context.Background()
	sessionID, _, _ := f.seed(t)

	time.Sleep(50 * time.Millisecond)
	f.svc.expireOnce()

	if _, err := f.store.GetSession(ctx, sessionID); !errors.Is(err, types.ErrSessionNotFound) {
		t.Fatalf("expected session gone, got %v", err)
	}
	if inUse := f.svc.pool.Stats().InUse; inUse != 0 {
		t.Fatalf("lease must be released on expiry, in-use: %d", inUse)
	}
}
