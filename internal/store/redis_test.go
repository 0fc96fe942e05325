package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/williamzujkowski/puppeteer-mcp-go/internal/types"
)

func newRedisStore(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	r, err := NewRedis(context.Background(), RedisOptions{
		Addr: mr.Addr(),
		TTL:  time.Hour,
	})
	if err != nil {
		t.Fatalf("NewRedis: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r, mr
}

func TestRedisSessionRoundTrip(t *testing.T) {
	ctx := context.Background()
	r, _ := newRedisStore(t)

	s := newSession("s1", "alice", time.Hour)
	if err := r.CreateSession(ctx, s); err != nil {
		t.Fatal(err)
	}

	got, err := r.GetSession(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if got.UserID != "alice" || len(got.Roles) != 1 {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestRedisSessionTTLExpiry(t *testing.T) {
	ctx := context.Background()
	r, mr := newRedisStore(t)

	if err := r.CreateSession(ctx, newSession("s1", "alice", time.Minute)); err != nil {
		t.Fatal(err)
	}

	mr.FastForward(2 * time.Minute)

	if _, err := r.GetSession(ctx, "s1"); !errors.Is(err, types.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound after TTL, got %v", err)
	}
}

func TestRedisExpireSessionsCleansIndexes(t *testing.T) {
	ctx := context.Background()
	r, mr := newRedisStore(t)

	if err := r.CreateSession(ctx, newSession("s1", "alice", time.Minute)); err != nil {
		t.Fatal(err)
	}
	seedContext(t, r, "c1", "s1")
	mr.FastForward(2 * time.Minute)

	expired, err := r.ExpireSessions(ctx, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if len(expired) != 1 || expired[0] != "s1" {
		t.Fatalf("expected [s1], got %v", expired)
	}
	if _, err := r.GetContext(ctx, "c1"); !errors.Is(err, types.ErrContextNotFound) {
		t.Fatal("expiry must cascade to the context mirror")
	}

	sessions, err := r.SessionsByUser(ctx, "alice")
	if err != nil || len(sessions) != 0 {
		t.Fatalf("user index must be clean, got %v, %v", sessions, err)
	}
}

func TestRedisCreateExpiredSessionRejected(t *testing.T) {
	r, _ := newRedisStore(t)
	err := r.CreateSession(context.Background(), newSession("s1", "alice", -time.Minute))
	if !errors.Is(err, types.ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}
}

func TestRedisDeleteCascades(t *testing.T) {
	ctx := context.Background()
	r, _ := newRedisStore(t)

	if err := r.CreateSession(ctx, newSession("s1", "alice", time.Hour)); err != nil {
		t.Fatal(err)
	}
	seedContext(t, r, "c1", "s1")
	seedPage(t, r, "p1", "c1")

	if err := r.DeleteSession(ctx, "s1"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.GetSession(ctx, "s1"); !errors.Is(err, types.ErrSessionNotFound) {
		t.Fatal("session must be gone")
	}
	if _, err := r.GetPage(ctx, "p1"); !errors.Is(err, types.ErrPageNotFound) {
		t.Fatal("pages must be cascade-deleted")
	}
}

func TestRedisTouchRefreshesTTL(t *testing.T) {
	ctx := context.Background()
	r, mr := newRedisStore(t)

	if err := r.CreateSession(ctx, newSession("s1", "alice", time.Minute)); err != nil {
		t.Fatal(err)
	}
	if err := r.TouchSession(ctx, "s1"); err != nil {
		t.Fatal(err)
	}

	// Touch extended expiry to the configured hour; 2 minutes must not kill it.
	mr.FastForward(2 * time.Minute)
	if _, err := r.GetSession(ctx, "s1"); err != nil {
		t.Fatalf("touched session must survive, got %v", err)
	}
}

func TestRedisKeyHashes(t *testing.T) {
	ctx := context.Background()
	r, _ := newRedisStore(t)

	if err := r.PutKeyHash(ctx, "ops", "deadbeef"); err != nil {
		t.Fatal(err)
	}
	h, err := r.GetKeyHash(ctx, "ops")
	if err != nil || h != "deadbeef" {
		t.Fatalf("got %q, %v", h, err)
	}
	if err := r.DeleteKeyHash(ctx, "ops"); err != nil {
		t.Fatal(err)
	}
	if err := r.DeleteKeyHash(ctx, "ops"); !errors.Is(err, types.ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
}

func TestMonitoredFallsBackWhenRedisDown(t *testing.T) {
	ctx := context.Background()
	r, mr := newRedisStore(t)
	m := NewMonitored(r, time.Hour)

	if err := m.CreateSession(ctx, newSession("s1", "alice", time.Hour)); err != nil {
		t.Fatal(err)
	}

	mr.Close()

	// Primary is down; the mirror must serve the session.
	got, err := m.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("fallback read failed: %v", err)
	}
	if got.UserID != "alice" {
		t.Fatalf("fallback returned %+v", got)
	}

	h := m.Health()
	if h.Healthy {
		t.Fatal("health must report unhealthy after a backend failure")
	}
	if h.Fallbacks == 0 {
		t.Fatal("fallback counter must advance")
	}

	// Writes degrade to the mirror too.
	if err := m.CreateSession(ctx, newSession("s2", "bob", time.Hour)); err != nil {
		t.Fatalf("fallback write failed: %v", err)
	}
	if _, err := m.GetSession(ctx, "s2"); err != nil {
		t.Fatalf("fallback must serve degraded writes, got %v", err)
	}
}

func TestMonitoredTracksLatency(t *testing.T) {
	m := NewMonitored(NewMemory(time.Hour), time.Hour)
	if err := m.Ping(context.Background()); err != nil {
		t.Fatal(err)
	}
	if h := m.Health(); !h.Healthy {
		t.Fatal("memory primary must be healthy")
	}
}

func TestMonitoredNotFoundIsNotFallback(t *testing.T) {
	m := NewMonitored(NewMemory(time.Hour), time.Hour)
	if _, err := m.GetSession(context.Background(), "ghost"); !errors.Is(err, types.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if h := m.Health(); !h.Healthy {
		t.Fatal("not-found must not mark the backend unhealthy")
	}
}
