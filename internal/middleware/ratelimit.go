package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/williamzujkowski/puppeteer-mcp-go/internal/types"
)

// maxPrincipals bounds the tracked principal map so an attacker rotating
// identities cannot exhaust memory.
const maxPrincipals = 10000

// RateLimiter is a token-bucket limiter keyed by principal (authenticated
// key id) with client IP as the fallback key.
type RateLimiter struct {
	mu         sync.Mutex
	buckets    map[string]*bucket
	rate       int
	window     time.Duration
	cleanup    time.Duration
	trustProxy bool
	stopCh     chan struct{}
	wg         sync.WaitGroup
	closeOnce  sync.Once
}

type bucket struct {
	tokens    int
	lastReset time.Time
}

// NewRateLimiter creates a limiter allowing rate requests per window.
func NewRateLimiter(rate int, window time.Duration, trustProxy bool) *RateLimiter {
	rl := &RateLimiter{
		buckets:    make(map[string]*bucket),
		rate:       rate,
		window:     window,
		cleanup:    5 * time.Minute,
		trustProxy: trustProxy,
		stopCh:     make(chan struct{}),
	}
	rl.wg.Add(1)
	go func() {
		defer rl.wg.Done()
		rl.cleanupLoop()
	}()
	return rl
}

// Allow reports whether the key has budget left in the current window.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	b, exists := rl.buckets[key]
	if !exists {
		if len(rl.buckets) >= maxPrincipals {
			rl.evictOldest()
		}
		rl.buckets[key] = &bucket{tokens: rl.rate - 1, lastReset: now}
		return true
	}
	if now.Sub(b.lastReset) >= rl.window {
		b.tokens = rl.rate - 1
		b.lastReset = now
		return true
	}
	if b.tokens > 0 {
		b.tokens--
		return true
	}
	return false
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.cleanup)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.cleanupStale()
		case <-rl.stopCh:
			return
		}
	}
}

func (rl *RateLimiter) cleanupStale() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := time.Now()
	stale := 2 * rl.window
	for key, b := range rl.buckets {
		if now.Sub(b.lastReset) > stale {
			delete(rl.buckets, key)
		}
	}
}

// evictOldest removes the longest-idle bucket. Caller holds rl.mu.
func (rl *RateLimiter) evictOldest() {
	var oldestKey string
	var oldestTime time.Time
	first := true
	for key, b := range rl.buckets {
		if first || b.lastReset.Before(oldestTime) {
			oldestKey = key
			oldestTime = b.lastReset
			first = false
		}
	}
	if oldestKey != "" {
		delete(rl.buckets, oldestKey)
	}
}

// Close stops the cleanup goroutine. Idempotent.
func (rl *RateLimiter) Close() {
	rl.closeOnce.Do(func() {
		close(rl.stopCh)
		rl.wg.Wait()
	})
}

// Key picks the rate-limit key for a request: the authenticated principal
// when present, the client IP otherwise.
func (rl *RateLimiter) Key(r *http.Request) string {
	if p := Principal(r.Context()); p != "" {
		return "principal:" + p
	}
	return "ip:" + clientIP(r, rl.trustProxy)
}

// Handler returns the middleware function for this limiter.
func (rl *RateLimiter) Handler() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !rl.Allow(rl.Key(r)) {
				w.Header().Set("Retry-After", "60")
				writeError(w, http.StatusTooManyRequests, types.KindResourceExhausted,
					"Rate limit exceeded. Please try again later.")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// normalizeIP canonicalizes an IP string so IPv6 variants of one address
// share a bucket.
func normalizeIP(ipStr string) string {
	ipStr = strings.TrimSpace(ipStr)
	if ipStr == "" {
		return ""
	}
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return ipStr
	}
	if ip4 := ip.To4(); ip4 != nil {
		return ip4.String()
	}
	return ip.String()
}

// clientIP extracts the client IP. Forwarding headers are only honored when
// trustProxy is set; otherwise they are spoofable.
func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			ipStr := xff
			if idx := strings.Index(xff, ","); idx > 0 {
				ipStr = xff[:idx]
			}
			if normalized := normalizeIP(ipStr); normalized != "" {
				return normalized
			}
		}
		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			if normalized := normalizeIP(xri); normalized != "" {
				return normalized
			}
		}
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return normalizeIP(ip)
}
