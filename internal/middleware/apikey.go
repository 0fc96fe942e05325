// Package middleware provides the HTTP middleware stack: recovery, logging,
// CORS, API-key authentication, per-principal rate limiting, and timeouts.
package middleware

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/williamzujkowski/puppeteer-mcp-go/internal/config"
	"github.com/williamzujkowski/puppeteer-mcp-go/internal/security"
	"github.com/williamzujkowski/puppeteer-mcp-go/internal/types"
)

type principalCtxKey struct{}

// Principal returns the authenticated principal stored by the APIKey
// middleware, or "" when the request was not authenticated.
func Principal(ctx context.Context) string {
	p, _ := ctx.Value(principalCtxKey{}).(string)
	return p
}

// WithPrincipal stamps a principal onto the context. Exposed for tests and
// for adapters that authenticate out of band.
func WithPrincipal(ctx context.Context, principal string) context.Context {
	return context.WithValue(ctx, principalCtxKey{}, principal)
}

// KeyStore resolves API key ids to their stored secret hashes.
type KeyStore interface {
	GetKeyHash(ctx context.Context, keyID string) (string, error)
}

// APIKey returns middleware that authenticates requests. Two key forms are
// accepted: the static operator key from config, and minted "<id>.<secret>"
// keys whose SHA-256 secret hash lives in the store. Health and metrics
// endpoints stay open for load balancers and scrapers.
func APIKey(cfg *config.Config, keys KeyStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.APIKeyEnabled {
				next.ServeHTTP(w, r)
				return
			}
			if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
				next.ServeHTTP(w, r)
				return
			}

			apiKey := r.Header.Get("X-API-Key")
			if apiKey == "" {
				apiKey = r.URL.Query().Get("api_key")
			}

			principal, ok := authenticate(r.Context(), cfg, keys, apiKey)
			if !ok {
				writeError(w, http.StatusUnauthorized, types.KindUnauthenticated, "Invalid or missing API key")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
		})
	}
}

func authenticate(ctx context.Context, cfg *config.Config, keys KeyStore, apiKey string) (string, bool) {
	if apiKey == "" {
		return "", false
	}

	// Static key, constant-time to avoid timing probes.
	if cfg.APIKey != "" && subtle.ConstantTimeCompare([]byte(apiKey), []byte(cfg.APIKey)) == 1 {
		return "operator", true
	}

	keyID, secret, ok := security.SplitAPIKey(apiKey)
	if !ok || keys == nil {
		return "", false
	}
	hash, err := keys.GetKeyHash(ctx, keyID)
	if err != nil {
		if !errors.Is(err, types.ErrKeyNotFound) {
			log.Warn().Err(err).Str("key_id", keyID).Msg("API key lookup failed")
		}
		return "", false
	}
	if !security.VerifyAPIKeySecret(secret, hash) {
		return "", false
	}
	return keyID, true
}
