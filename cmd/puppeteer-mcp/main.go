// Package main is the entry point for the browser automation control plane.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/williamzujkowski/puppeteer-mcp-go/internal/browser"
	"github.com/williamzujkowski/puppeteer-mcp-go/internal/circuit"
	"github.com/williamzujkowski/puppeteer-mcp-go/internal/config"
	"github.com/williamzujkowski/puppeteer-mcp-go/internal/core"
	"github.com/williamzujkowski/puppeteer-mcp-go/internal/handlers"
	"github.com/williamzujkowski/puppeteer-mcp-go/internal/metrics"
	"github.com/williamzujkowski/puppeteer-mcp-go/internal/middleware"
	"github.com/williamzujkowski/puppeteer-mcp-go/internal/proxy"
	"github.com/williamzujkowski/puppeteer-mcp-go/internal/security"
	"github.com/williamzujkowski/puppeteer-mcp-go/internal/store"
	"github.com/williamzujkowski/puppeteer-mcp-go/pkg/version"
)

func main() {
	cfg := config.Load()

	// Logging first so validation warnings are visible.
	setupLogging(cfg.LogLevel)
	cfg.Validate()
	printBanner()

	st, err := buildStore(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize session store")
	}

	proxies, stopWatch, err := buildProxies(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize proxy manager")
	}

	breakers := circuit.NewRegistry(64, circuit.Config{
		FailureThreshold:  cfg.BreakerFailureThreshold,
		SuccessThreshold:  cfg.BreakerSuccessThreshold,
		Window:            cfg.BreakerWindow,
		Timeout:           cfg.BreakerTimeout,
		MaxTimeout:        cfg.BreakerMaxTimeout,
		MinimumThroughput: cfg.BreakerMinThroughput,
		Backoff:           cfg.BreakerBackoff,
		Detector:          "threshold",
		Enabled:           cfg.BreakerEnabled,
	})

	log.Info().Msg("Initializing browser pool...")
	engine := browser.NewRodEngine(cfg)
	pool, err := browser.NewPool(cfg, engine, breakers)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize browser pool")
	}
	pages := browser.NewPageManager(pool, cfg.BrowserMaxIdle, time.Minute)

	svc := core.NewService(cfg, core.Deps{
		Store:    st,
		Pool:     pool,
		Pages:    pages,
		Proxies:  proxies,
		Breakers: breakers,
	})

	mux := handlers.New(svc, cfg).Routes()

	var rl *middleware.RateLimiter
	chain := []func(http.Handler) http.Handler{
		middleware.Recovery,
		middleware.Logging,
	}
	if cfg.RateLimitEnabled {
		log.Info().
			Int("requests_per_minute", cfg.RateLimitRPM).
			Bool("trust_proxy", cfg.TrustProxy).
			Msg("Rate limiting enabled")
		rl = middleware.NewRateLimiter(cfg.RateLimitRPM, time.Minute, cfg.TrustProxy)
		chain = append(chain, rl.Handler())
	}
	chain = append(chain,
		middleware.CORS(cfg.CORSAllowedOrigins),
		middleware.SecurityHeaders,
		middleware.APIKey(cfg, st),
	)

	// The event stream is long-lived, so the request timeout wraps everything
	// except it.
	timed := middleware.Timeout(cfg.MaxTimeout + 10*time.Second)(mux)
	root := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/events" {
			mux.ServeHTTP(w, r)
			return
		}
		timed.ServeHTTP(w, r)
	})

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           middleware.Chain(chain...)(root),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	stopCh := make(chan struct{})

	var metricsServer *http.Server
	if cfg.PrometheusEnabled {
		metrics.SetBuildInfo(version.Full(), version.GoVersion())
		go metrics.StartMemoryCollector(10*time.Second, stopCh)
		go collectServiceMetrics(svc, pool, proxies, stopCh)

		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", metrics.Handler())
		metricsServer = &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.PrometheusPort),
			Handler:      metricsMux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		}
		go func() {
			log.Info().Int("port", cfg.PrometheusPort).Msg("Prometheus metrics server started")
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("Metrics server failed")
			}
		}()
	}

	go func() {
		log.Info().
			Str("address", addr).
			Str("store", cfg.StoreBackend).
			Int("pool_max", cfg.PoolMaxSize).
			Bool("metrics_enabled", cfg.PrometheusEnabled).
			Bool("api_key_enabled", cfg.APIKeyEnabled).
			Msg("Control plane is ready to accept requests")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")
	close(stopCh)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("Metrics server shutdown error")
		}
	}
	if rl != nil {
		rl.Close()
	}

	svc.Close()
	pages.Stop()
	if err := pool.Shutdown(cfg.PoolShutdownGrace); err != nil {
		log.Error().Err(err).Msg("Browser pool shutdown error")
	}
	if stopWatch != nil {
		stopWatch()
	}
	if proxies != nil {
		proxies.Close()
	}
	if err := st.Close(); err != nil {
		log.Error().Err(err).Msg("Store close error")
	}

	log.Info().Msg("Shutdown complete")
}

// buildStore selects the session store backend. Redis is wrapped with latency
// monitoring so /health can report backend state.
func buildStore(cfg *config.Config) (store.Store, error) {
	switch cfg.StoreBackend {
	case "redis":
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		primary, err := store.NewRedis(ctx, store.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			TTL:      cfg.SessionTTL,
		})
		if err != nil {
			return nil, err
		}
		return store.NewMonitored(primary, cfg.SessionTTL), nil
	default:
		return store.NewMemory(cfg.SessionTTL), nil
	}
}

// buildProxies loads the proxy pool from the configured file, optionally with
// hot reload. Returns nil when no proxy file is configured.
func buildProxies(cfg *config.Config) (*proxy.Manager, func(), error) {
	if cfg.ProxyFile == "" {
		return nil, nil, nil
	}
	entries, err := config.LoadProxyFile(cfg.ProxyFile)
	if err != nil {
		return nil, nil, err
	}
	for i := range entries {
		u := fmt.Sprintf("%s://%s:%d", entries[i].Protocol, entries[i].Host, entries[i].Port)
		if err := security.ValidateProxyURL(u, cfg.AllowLocalProxies); err != nil {
			return nil, nil, fmt.Errorf("proxy %q: %w", entries[i].ID, err)
		}
	}
	m, err := proxy.NewManager(entries, proxy.Options{
		Strategy:          cfg.ProxyStrategy,
		RotationInterval:  cfg.ProxyRotationInterval,
		FailoverEnabled:   cfg.ProxyFailoverEnabled,
		FailoverThreshold: cfg.ProxyFailoverThreshold,
		HealthInterval:    cfg.ProxyHealthInterval,
	})
	if err != nil {
		return nil, nil, err
	}
	if !cfg.ProxyHotReload {
		return m, nil, nil
	}
	stop, err := m.Watch(cfg.ProxyFile)
	if err != nil {
		m.Close()
		return nil, nil, err
	}
	return m, stop, nil
}

// collectServiceMetrics feeds bus events and pool stats into the Prometheus
// gauges until stopCh closes.
func collectServiceMetrics(svc *core.Service, pool *browser.Pool, proxies *proxy.Manager, stopCh <-chan struct{}) {
	events, cancel := svc.Subscribe([]string{
		core.TopicSession, core.TopicCircuit, core.TopicProxy, core.TopicPool,
	}, 256)
	defer cancel()

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			stats := pool.Stats()
			metrics.PoolSize.Set(float64(stats.Size))
			metrics.PoolInUse.Set(float64(stats.InUse))
			metrics.PoolHealthy.Set(float64(stats.Healthy))
			if proxies != nil {
				metrics.ProxiesConfigured.Set(float64(proxies.Count()))
			}
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Topic {
			case core.TopicSession:
				switch ev.Type {
				case "session_created":
					metrics.ActiveSessions.Inc()
				case "session_deleted", "session_expired":
					metrics.ActiveSessions.Dec()
				}
			case core.TopicCircuit:
				if to, ok := ev.Fields["to"].(string); ok {
					metrics.BreakerTransitions.WithLabelValues(ev.Subject, to).Inc()
					metrics.SetBreakerState(ev.Subject, to)
				}
			case core.TopicProxy:
				if reason, ok := ev.Fields["reason"].(string); ok {
					metrics.ProxyRotations.WithLabelValues(reason).Inc()
				}
			case core.TopicPool:
				if ev.Type == browser.EventBrowserRecycled {
					if reason, ok := ev.Fields["reason"].(string); ok {
						metrics.BrowsersRecycled.WithLabelValues(reason).Inc()
					}
				}
			}
		}
	}
}

// setupLogging configures zerolog based on the log level.
func setupLogging(level string) {
	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	})

	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

func printBanner() {
	log.Info().
		Str("version", version.Full()).
		Str("go_version", version.GoVersion()).
		Msg("Starting puppeteer-mcp")
}
