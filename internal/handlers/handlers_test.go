package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/williamzujkowski/puppeteer-mcp-go/internal/browser"
	"github.com/williamzujkowski/puppeteer-mcp-go/internal/circuit"
	"github.com/williamzujkowski/puppeteer-mcp-go/internal/config"
	"github.com/williamzujkowski/puppeteer-mcp-go/internal/core"
	"github.com/williamzujkowski/puppeteer-mcp-go/internal/store"
	"github.com/williamzujkowski/puppeteer-mcp-go/internal/types"
)

func testConfig(t *testing.T) *config.Config {
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

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	cfg := testConfig(t)
	engine := browser.NewFakeEngine()
	breakers := circuit.NewRegistry(16, circuit.Config{
		FailureThreshold:  5,
		SuccessThreshold:  1,
		Window:            time.Minute,
		Timeout:           time.Second,
		MaxTimeout:        time.Minute,
		MinimumThroughput: 1,
		Backoff:           "fixed",
		Detector:          "threshold",
		Enabled:           true,
	})
	pool, err := browser.NewPool(cfg, engine, breakers)
	if err != nil {
		t.Fatal(err)
	}
	pages := browser.NewPageManager(pool, time.Hour, time.Hour)
	mem := store.NewMemory(cfg.SessionTTL)

	svc := core.NewService(cfg, core.Deps{
		Store:    mem,
		Pool:     pool,
		Pages:    pages,
		Breakers: breakers,
	})
	srv := httptest.NewServer(New(svc, cfg).Routes())
	t.Cleanup(func() {
		srv.Close()
		svc.Close()
		pages.Stop()
		_ = pool.Shutdown(time.Second)
	})
	return srv
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, []byte) {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(raw)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, rd)
	if err != nil {
		t.Fatal(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		t.Fatal(err)
	}
	return resp, buf.Bytes()
}

func decodeInto(t *testing.T, raw []byte, dst any) {
	t.Helper()
	if err := json.Unmarshal(raw, dst); err != nil {
		t.Fatalf("decode %q: %v", raw, err)
	}
}

// seedSession walks the full resource chain over HTTP.
func seedSession(t *testing.T, base string) (sessionID, contextID, pageID string) {
	t.Helper()
	resp, raw := doJSON(t, http.MethodPost, base+"/v1/sessions",
		map[string]any{"userId": "user-0001", "roles": []string{"admin"}})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create session: %d %s", resp.StatusCode, raw)
	}
	var sess store.Session
	decodeInto(t, raw, &sess)

	resp, raw = doJSON(t, http.MethodPost, base+"/v1/sessions/"+sess.ID+"/contexts",
		map[string]any{"name": "default", "config": map[string]any{"viewportWidth": 1024, "viewportHeight": 768}})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create context: %d %s", resp.StatusCode, raw)
	}
	var bctx store.Context
	decodeInto(t, raw, &bctx)

	resp, raw = doJSON(t, http.MethodPost,
		base+"/v1/sessions/"+sess.ID+"/contexts/"+bctx.ID+"/pages", map[string]any{})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create page: %d %s", resp.StatusCode, raw)
	}
	var page store.Page
	decodeInto(t, raw, &page)

	return sess.ID, bctx.ID, page.ID
}

func TestSessionCRUDOverHTTP(t *testing.T) {
	srv := newTestServer(t)

	sessionID, _, _ := seedSession(t, srv.URL)

	resp, raw := doJSON(t, http.MethodGet, srv.URL+"/v1/sessions/"+sessionID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get session: %d %s", resp.StatusCode, raw)
	}
	var sess store.Session
	decodeInto(t, raw, &sess)
	if sess.UserID != "user-0001" {
		t.Fatalf("userId: %q", sess.UserID)
	}

	resp, raw = doJSON(t, http.MethodGet, srv.URL+"/v1/sessions?userId=user-0001", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list sessions: %d %s", resp.StatusCode, raw)
	}
	var sessions []store.Session
	decodeInto(t, raw, &sessions)
	if len(sessions) != 1 {
		t.Fatalf("sessions: %d", len(sessions))
	}

	resp, _ = doJSON(t, http.MethodDelete, srv.URL+"/v1/sessions/"+sessionID, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete session: %d", resp.StatusCode)
	}

	resp, raw = doJSON(t, http.MethodGet, srv.URL+"/v1/sessions/"+sessionID, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("deleted session must 404: %d %s", resp.StatusCode, raw)
	}
	var body errorBody
	decodeInto(t, raw, &body)
	if body.Kind != "NOT_FOUND" {
		t.Fatalf("kind: %q", body.Kind)
	}
}

func TestCreateSessionRejectsBadUserID(t *testing.T) {
	srv := newTestServer(t)

	resp, raw := doJSON(t, http.MethodPost, srv.URL+"/v1/sessions",
		map[string]any{"userId": "../etc/passwd"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status: %d %s", resp.StatusCode, raw)
	}
	var body errorBody
	decodeInto(t, raw, &body)
	if body.Kind != "INVALID_INPUT" {
		t.Fatalf("kind: %q", body.Kind)
	}
}

func TestContextUpdateAndList(t *testing.T) {
	srv := newTestServer(t)
	sessionID, contextID, _ := seedSession(t, srv.URL)

	resp, raw := doJSON(t, http.MethodPatch,
		srv.URL+"/v1/sessions/"+sessionID+"/contexts/"+contextID,
		map[string]any{"config": map[string]any{"viewportWidth": 800, "viewportHeight": 600}})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update context: %d %s", resp.StatusCode, raw)
	}
	var bctx store.Context
	decodeInto(t, raw, &bctx)
	if bctx.Config.ViewportWidth != 800 {
		t.Fatalf("viewportWidth: %d", bctx.Config.ViewportWidth)
	}

	resp, raw = doJSON(t, http.MethodGet, srv.URL+"/v1/sessions/"+sessionID+"/contexts", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list contexts: %d %s", resp.StatusCode, raw)
	}
	var contexts []store.Context
	decodeInto(t, raw, &contexts)
	if len(contexts) != 1 {
		t.Fatalf("contexts: %d", len(contexts))
	}
}

func TestForeignSessionGets403(t *testing.T) {
	srv := newTestServer(t)
	_, contextID, _ := seedSession(t, srv.URL)

	resp, raw := doJSON(t, http.MethodPost, srv.URL+"/v1/sessions",
		map[string]any{"userId": "user-0002"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create session: %d %s", resp.StatusCode, raw)
	}
	var intruder store.Session
	decodeInto(t, raw, &intruder)

	resp, raw = doJSON(t, http.MethodGet,
		srv.URL+"/v1/sessions/"+intruder.ID+"/contexts/"+contextID, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status: %d %s", resp.StatusCode, raw)
	}
	var body errorBody
	decodeInto(t, raw, &body)
	if body.Kind != "FORBIDDEN" {
		t.Fatalf("kind: %q", body.Kind)
	}
}

func TestExecuteActionOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	sessionID, contextID, pageID := seedSession(t, srv.URL)

	resp, raw := doJSON(t, http.MethodPost,
		srv.URL+"/v1/sessions/"+sessionID+"/contexts/"+contextID+"/pages/"+pageID+"/actions",
		map[string]any{"type": types.ActionNavigate, "url": "https://example.com/start"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("execute: %d %s", resp.StatusCode, raw)
	}
	var res types.ActionResult
	decodeInto(t, raw, &res)
	if !res.Success {
		t.Fatalf("result: %+v", res)
	}
	if res.ActionType != types.ActionNavigate {
		t.Fatalf("actionType: %q", res.ActionType)
	}
}

func TestExecuteValidationFailureReturns200WithResult(t *testing.T) {
	srv := newTestServer(t)
	sessionID, contextID, pageID := seedSession(t, srv.URL)

	resp, raw := doJSON(t, http.MethodPost,
		srv.URL+"/v1/sessions/"+sessionID+"/contexts/"+contextID+"/pages/"+pageID+"/actions",
		map[string]any{"type": types.ActionNavigate, "url": "ftp://example.com"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("action failures ride inside the result: %d %s", resp.StatusCode, raw)
	}
	var res types.ActionResult
	decodeInto(t, raw, &res)
	if res.Success {
		t.Fatal("ftp url must fail validation")
	}
	if res.ErrorKind != types.KindInvalidInput {
		t.Fatalf("errorKind: %q", res.ErrorKind)
	}
}

func TestExecuteUnknownPageReturns404(t *testing.T) {
	srv := newTestServer(t)
	sessionID, contextID, _ := seedSession(t, srv.URL)

	resp, raw := doJSON(t, http.MethodPost,
		srv.URL+"/v1/sessions/"+sessionID+"/contexts/"+contextID+"/pages/11111111-2222-3333-4444-555555555555/actions",
		map[string]any{"type": types.ActionNavigate, "url": "https://example.com"})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status: %d %s", resp.StatusCode, raw)
	}
	var body errorBody
	decodeInto(t, raw, &body)
	if body.Kind != "NOT_FOUND" {
		t.Fatalf("kind: %q", body.Kind)
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t)

	resp, raw := doJSON(t, http.MethodGet, srv.URL+"/health", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: %d %s", resp.StatusCode, raw)
	}
	var health healthResponse
	decodeInto(t, raw, &health)
	if health.Status != "ok" {
		t.Fatalf("status: %q", health.Status)
	}
	if health.Report.PoolSize < 1 {
		t.Fatalf("poolSize: %d", health.Report.PoolSize)
	}
}

func TestEventsStreamDeliversSessionEvents(t *testing.T) {
	srv := newTestServer(t)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/v1/events?topics=session", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content-type: %q", ct)
	}

	// Trigger a session_created event while the stream is open.
	doJSON(t, http.MethodPost, srv.URL+"/v1/sessions", map[string]any{"userId": "user-0001"})

	lineCh := make(chan string, 1)
	go func() {
		buf := make([]byte, 4096)
		var acc []byte
		for {
			n, err := resp.Body.Read(buf)
			acc = append(acc, buf[:n]...)
			if bytes.Contains(acc, []byte("session_created")) {
				lineCh <- string(acc)
				return
			}
			if err != nil {
				lineCh <- string(acc)
				return
			}
		}
	}()

	select {
	case got := <-lineCh:
		if !bytes.Contains([]byte(got), []byte("event: session")) {
			t.Fatalf("stream: %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}
}

func TestStatusForKindTable(t *testing.T) {
	tests := []struct {
		kind types.ErrorKind
		want int
	}{
		{types.KindInvalidInput, http.StatusBadRequest},
		{types.KindUnauthenticated, http.StatusUnauthorized},
		{types.KindForbidden, http.StatusForbidden},
		{types.KindNotFound, http.StatusNotFound},
		{types.KindConflict, http.StatusConflict},
		{types.KindResourceExhausted, http.StatusTooManyRequests},
		{types.KindCircuitOpen, http.StatusServiceUnavailable},
		{types.KindUpstreamUnavailable, http.StatusServiceUnavailable},
		{types.KindTimeout, http.StatusGatewayTimeout},
		{types.KindInternal, http.StatusInternalServerError},
		{types.KindExecutionFailed, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			if got := statusForKind(tt.kind); got != tt.want {
				t.Errorf("statusForKind(%s) = %d, want %d", tt.kind, got, tt.want)
			}
		})
	}
}

func TestPageLifecycleOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	sessionID, contextID, pageID := seedSession(t, srv.URL)

	resp, raw := doJSON(t, http.MethodGet,
		srv.URL+"/v1/sessions/"+sessionID+"/pages/"+pageID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get page: %d %s", resp.StatusCode, raw)
	}

	resp, raw = doJSON(t, http.MethodGet,
		srv.URL+"/v1/sessions/"+sessionID+"/contexts/"+contextID+"/pages", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list pages: %d %s", resp.StatusCode, raw)
	}
	var pages []store.Page
	decodeInto(t, raw, &pages)
	if len(pages) != 1 {
		t.Fatalf("pages: %d", len(pages))
	}

	resp, _ = doJSON(t, http.MethodDelete,
		srv.URL+"/v1/sessions/"+sessionID+"/pages/"+pageID, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("close page: %d", resp.StatusCode)
	}

	resp, raw = doJSON(t, http.MethodGet,
		srv.URL+"/v1/sessions/"+sessionID+"/pages/"+pageID, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("closed page must 404: %d %s", resp.StatusCode, raw)
	}
}

func TestRoutesRejectOversizedBody(t *testing.T) {
	srv := newTestServer(t)

	big := fmt.Sprintf(`{"userId":"user-0001","roles":["%s"]}`, bytes.Repeat([]byte("a"), maxBodySize))
	resp, err := http.Post(srv.URL+"/v1/sessions", "application/json", bytes.NewReader([]byte(big)))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status: %d", resp.StatusCode)
	}
}
