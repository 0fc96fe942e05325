package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/williamzujkowski/puppeteer-mcp-go/internal/config"
	"github.com/williamzujkowski/puppeteer-mcp-go/internal/security"
	"github.com/williamzujkowski/puppeteer-mcp-go/internal/store"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}

func TestChainOrder(t *testing.T) {
	var order []string
	mw := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := Chain(mw("a"), mw("b"), mw("c"))(okHandler())
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if len(order) != 3 || order[0] != "a" || order[1] != "b" || order[2] != "c" {
		t.Fatalf("order: %v", order)
	}
}

func TestAPIKeyDisabledPassesThrough(t *testing.T) {
	cfg := &config.Config{APIKeyEnabled: false}
	h := APIKey(cfg, nil)(okHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/sessions", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}
}

func TestAPIKeyStaticKey(t *testing.T) {
	cfg := &config.Config{APIKeyEnabled: true, APIKey: "super-secret-static-key"}
	var principal string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal = Principal(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	h := APIKey(cfg, nil)(inner)

	req := httptest.NewRequest(http.MethodGet, "/v1/sessions", nil)
	req.Header.Set("X-API-Key", "super-secret-static-key")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}
	if principal != "operator" {
		t.Fatalf("principal: %q", principal)
	}
}

func TestAPIKeyStoreBacked(t *testing.T) {
	mem := store.NewMemory(time.Hour)
	apiKey, hash, err := security.MintAPIKey("svc-crawler")
	if err != nil {
		t.Fatal(err)
	}
	if err := mem.PutKeyHash(context.Background(), "svc-crawler", hash); err != nil {
		t.Fatal(err)
	}

	cfg := &config.Config{APIKeyEnabled: true}
	var principal string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal = Principal(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	h := APIKey(cfg, mem)(inner)

	req := httptest.NewRequest(http.MethodGet, "/v1/sessions", nil)
	req.Header.Set("X-API-Key", apiKey)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}
	if principal != "svc-crawler" {
		t.Fatalf("principal: %q", principal)
	}
}

func TestAPIKeyRejectsBadKey(t *testing.T) {
	mem := store.NewMemory(time.Hour)
	cfg := &config.Config{APIKeyEnabled: true, APIKey: "super-secret-static-key"}
	h := APIKey(cfg, mem)(okHandler())

	for _, key := range []string{"", "wrong", "unknown.deadbeef"} {
		req := httptest.NewRequest(http.MethodGet, "/v1/sessions", nil)
		if key != "" {
			req.Header.Set("X-API-Key", key)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("key %q: status %d", key, rec.Code)
		}
		var body errorResponse
		if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
			t.Fatal(err)
		}
		if body.Kind != "UNAUTHENTICATED" {
			t.Errorf("key %q: kind %q", key, body.Kind)
		}
	}
}

func TestAPIKeyHealthBypass(t *testing.T) {
	cfg := &config.Config{APIKeyEnabled: true, APIKey: "super-secret-static-key"}
	h := APIKey(cfg, nil)(okHandler())

	for _, path := range []string{"/health", "/metrics"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("path %s: status %d", path, rec.Code)
		}
	}
}

func TestRateLimiterExhaustion(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute, false)
	defer rl.Close()
	h := rl.Handler()(okHandler())

	statuses := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/v1/sessions", nil)
		req.RemoteAddr = "10.1.2.3:5000"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		statuses = append(statuses, rec.Code)
	}

	if statuses[0] != http.StatusOK || statuses[1] != http.StatusOK {
		t.Fatalf("first two must pass: %v", statuses)
	}
	if statuses[2] != http.StatusTooManyRequests {
		t.Fatalf("third must be limited: %v", statuses)
	}
}

func TestRateLimiterKeysByPrincipal(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute, false)
	defer rl.Close()
	h := rl.Handler()(okHandler())

	send := func(principal string) int {
		req := httptest.NewRequest(http.MethodGet, "/v1/sessions", nil)
		req.RemoteAddr = "10.1.2.3:5000"
		req = req.WithContext(WithPrincipal(req.Context(), principal))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	if send("alpha") != http.StatusOK {
		t.Fatal("alpha first request must pass")
	}
	if send("alpha") != http.StatusTooManyRequests {
		t.Fatal("alpha second request must be limited")
	}
	// Same IP, different principal: separate budget.
	if send("beta") != http.StatusOK {
		t.Fatal("beta must not share alpha's bucket")
	}
}

func TestCORSRejectsWithoutConfig(t *testing.T) {
	h := CORS(nil)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("allow-origin: %q", got)
	}
}

func TestCORSEchoesAllowedOrigin(t *testing.T) {
	h := CORS([]string{"https://app.example"})(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://app.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example" {
		t.Fatalf("allow-origin: %q", got)
	}
	if rec.Header().Get("Vary") != "Origin" {
		t.Fatal("Vary header missing")
	}
}

func TestCORSPreflight(t *testing.T) {
	h := CORS([]string{"https://app.example"})(okHandler())

	req := httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", "https://app.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}
	if rec.Body.String() == "ok" {
		t.Fatal("preflight must not reach the handler")
	}
}

func TestRecovery(t *testing.T) {
	h := Recovery(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status: %d", rec.Code)
	}
	var body errorResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Kind != "INTERNAL" {
		t.Fatalf("kind: %q", body.Kind)
	}
}

func TestTimeoutSends504(t *testing.T) {
	h := Timeout(20 * time.Millisecond)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("status: %d", rec.Code)
	}
}

func TestTimeoutFastHandlerUnaffected(t *testing.T) {
	h := Timeout(time.Second)(okHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("status %d body %q", rec.Code, rec.Body.String())
	}
}

func TestSanitizeURLForLogging(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"/v1/sessions", "/v1/sessions"},
		{"/v1/sessions?api_key=secret123", "/v1/sessions?api_key=%5BREDACTED%5D"},
		{"/path?Token=abc&x=1", "/path?Token=%5BREDACTED%5D&x=1"},
	}
	for _, tt := range tests {
		if got := sanitizeURLForLogging(tt.in); got != tt.want {
			t.Errorf("sanitizeURLForLogging(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMaskIP(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"192.168.1.57:8080", "192.168.1.0/24"},
		{"192.168.1.57", "192.168.1.0/24"},
		{"[2001:db8:abcd:1234::1]:443", "2001:db8:abcd::/48"},
		{"not-an-ip", "[redacted]"},
	}
	for _, tt := range tests {
		if got := maskIP(tt.in); got != tt.want {
			t.Errorf("maskIP(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
