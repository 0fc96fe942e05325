package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/williamzujkowski/puppeteer-mcp-go/internal/types"
)

func newSession(id, user string, ttl time.Duration) *Session {
	now := time.Now()
	return &Session{
		ID:             id,
		UserID:         user,
		Roles:          []string{"user"},
		CreatedAt:      now,
		ExpiresAt:      now.Add(ttl),
		LastAccessedAt: now,
	}
}

func seedSession(t *testing.T, s Store, id, user string) {
	t.Helper()
	if err := s.CreateSession(context.Background(), newSession(id, user, time.Hour)); err != nil {
		t.Fatalf("seed session %s: %v", id, err)
	}
}

func seedContext(t *testing.T, s Store, id, sessionID string) {
	t.Helper()
	err := s.CreateContext(context.Background(), &Context{
		ID:        id,
		SessionID: sessionID,
		Status:    ContextActive,
		CreatedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("seed context %s: %v", id, err)
	}
}

func seedPage(t *testing.T, s Store, id, contextID string) {
	t.Helper()
	err := s.CreatePage(context.Background(), &Page{
		ID:        id,
		ContextID: contextID,
		CreatedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("seed page %s: %v", id, err)
	}
}

func TestMemorySessionLifecycle(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(time.Hour)

	seedSession(t, m, "s1", "alice")

	got, err := m.GetSession(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if got.UserID != "alice" {
		t.Fatalf("user: got %s", got.UserID)
	}

	if err := m.DeleteSession(ctx, "s1"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.GetSession(ctx, "s1"); !errors.Is(err, types.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if err := m.DeleteSession(ctx, "s1"); !errors.Is(err, types.ErrSessionNotFound) {
		t.Fatalf("double delete: expected ErrSessionNotFound, got %v", err)
	}
}

func TestMemoryTouchExtendsExpiry(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(time.Hour)

	s := newSession("s1", "alice", time.Minute)
	if err := m.CreateSession(ctx, s); err != nil {
		t.Fatal(err)
	}
	if err := m.TouchSession(ctx, "s1"); err != nil {
		t.Fatal(err)
	}

	got, _ := m.GetSession(ctx, "s1")
	if !got.ExpiresAt.After(s.ExpiresAt) {
		t.Fatal("touch must extend expiry by the configured ttl")
	}
	if got.LastAccessedAt.Before(s.LastAccessedAt) {
		t.Fatal("touch must advance lastAccessedAt")
	}
}

func TestMemoryCascadeDelete(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(time.Hour)

	seedSession(t, m, "s1", "alice")
	seedContext(t, m, "c1", "s1")
	seedContext(t, m, "c2", "s1")
	seedPage(t, m, "p1", "c1")
	seedPage(t, m, "p2", "c1")
	seedPage(t, m, "p3", "c2")

	if err := m.DeleteSession(ctx, "s1"); err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{"c1", "c2"} {
		if _, err := m.GetContext(ctx, id); !errors.Is(err, types.ErrContextNotFound) {
			t.Fatalf("context %s must be cascade-deleted, got %v", id, err)
		}
	}
	for _, id := range []string{"p1", "p2", "p3"} {
		if _, err := m.GetPage(ctx, id); !errors.Is(err, types.ErrPageNotFound) {
			t.Fatalf("page %s must be cascade-deleted, got %v", id, err)
		}
	}
}

func TestMemoryContextCascadeDeletesPages(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(time.Hour)

	seedSession(t, m, "s1", "alice")
	seedContext(t, m, "c1", "s1")
	seedPage(t, m, "p1", "c1")

	if err := m.DeleteContext(ctx, "c1"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.GetPage(ctx, "p1"); !errors.Is(err, types.ErrPageNotFound) {
		t.Fatalf("expected page gone, got %v", err)
	}

	// Session remains with no contexts.
	cs, err := m.ContextsBySession(ctx, "s1")
	if err != nil || len(cs) != 0 {
		t.Fatalf("expected empty contexts, got %v, %v", cs, err)
	}
}

func TestMemoryContextRequiresSession(t *testing.T) {
	m := NewMemory(time.Hour)
	err := m.CreateContext(context.Background(), &Context{ID: "c1", SessionID: "ghost"})
	if !errors.Is(err, types.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestMemoryPageRequiresContext(t *testing.T) {
	m := NewMemory(time.Hour)
	err := m.CreatePage(context.Background(), &Page{ID: "p1", ContextID: "ghost"})
	if !errors.Is(err, types.ErrContextNotFound) {
		t.Fatalf("expected ErrContextNotFound, got %v", err)
	}
}

func TestMemorySessionsByUser(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(time.Hour)

	seedSession(t, m, "s1", "alice")
	seedSession(t, m, "s2", "alice")
	seedSession(t, m, "s3", "bob")

	got, err := m.SessionsByUser(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 sessions for alice, got %d", len(got))
	}
}

func TestMemoryExpireSessions(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(time.Hour)

	if err := m.CreateSession(ctx, newSession("live", "alice", time.Hour)); err != nil {
		t.Fatal(err)
	}
	if err := m.CreateSession(ctx, newSession("dead", "alice", -time.Minute)); err != nil {
		t.Fatal(err)
	}
	seedContext(t, m, "c1", "dead")

	expired, err := m.ExpireSessions(ctx, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if len(expired) != 1 || expired[0] != "dead" {
		t.Fatalf("expected [dead], got %v", expired)
	}
	if _, err := m.GetContext(ctx, "c1"); !errors.Is(err, types.ErrContextNotFound) {
		t.Fatal("expiry must cascade to contexts")
	}
	if _, err := m.GetSession(ctx, "live"); err != nil {
		t.Fatalf("live session must survive, got %v", err)
	}
}

func TestMemoryReturnsCopies(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(time.Hour)
	seedSession(t, m, "s1", "alice")

	got, _ := m.GetSession(ctx, "s1")
	got.UserID = "mallory"

	again, _ := m.GetSession(ctx, "s1")
	if again.UserID != "alice" {
		t.Fatal("mutating a returned session must not affect the store")
	}
}

func TestMemoryKeyHashes(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(time.Hour)

	if err := m.PutKeyHash(ctx, "ops", "abc123"); err != nil {
		t.Fatal(err)
	}
	h, err := m.GetKeyHash(ctx, "ops")
	if err != nil || h != "abc123" {
		t.Fatalf("got %q, %v", h, err)
	}
	if err := m.DeleteKeyHash(ctx, "ops"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.GetKeyHash(ctx, "ops"); !errors.Is(err, types.ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
}
