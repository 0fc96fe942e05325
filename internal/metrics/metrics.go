// Package metrics provides Prometheus metrics for the automation control
// plane.
package metrics

import (
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ActionsTotal counts executed actions by family and outcome.
	ActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "puppeteer_actions_total",
			Help: "Total actions executed",
		},
		[]string{"family", "status"},
	)

	// ActionDuration tracks action execution time by family.
	ActionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "puppeteer_action_duration_seconds",
			Help:    "Action execution duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~200s
		},
		[]string{"family"},
	)

	// ActionFailures counts failed actions by error kind.
	ActionFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "puppeteer_action_failures_total",
			Help: "Failed actions by error kind",
		},
		[]string{"kind"},
	)

	// SecurityViolations counts actions rejected by the security screen.
	SecurityViolations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "puppeteer_security_violations_total",
			Help: "Actions rejected for dangerous code patterns",
		},
	)

	// PoolSize shows the current browser pool size.
	PoolSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "puppeteer_browser_pool_size",
			Help: "Current browser pool size",
		},
	)

	// PoolInUse shows leased browsers.
	PoolInUse = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "puppeteer_browser_pool_in_use",
			Help: "Browsers currently leased",
		},
	)

	// PoolHealthy shows browsers passing health checks.
	PoolHealthy = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "puppeteer_browser_pool_healthy",
			Help: "Browsers currently healthy",
		},
	)

	// BrowsersRecycled counts browser recycles by reason.
	BrowsersRecycled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "puppeteer_browsers_recycled_total",
			Help: "Browsers recycled by reason",
		},
		[]string{"reason"},
	)

	// ActiveSessions shows current sessions in the store.
	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "puppeteer_active_sessions",
			Help: "Number of active sessions",
		},
	)

	// BreakerState exposes circuit state per breaker: 0 closed, 1 half-open,
	// 2 open.
	BreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "puppeteer_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	// BreakerTransitions counts circuit state changes.
	BreakerTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "puppeteer_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "to"},
	)

	// ProxyRotations counts proxy rotations by reason.
	ProxyRotations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "puppeteer_proxy_rotations_total",
			Help: "Proxy rotations by reason",
		},
		[]string{"reason"},
	)

	// ProxiesConfigured shows the proxy pool size.
	ProxiesConfigured = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "puppeteer_proxies_configured",
			Help: "Configured proxies in the pool",
		},
	)

	// MemoryUsageBytes shows current allocated memory.
	MemoryUsageBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "puppeteer_memory_usage_bytes",
			Help: "Current memory usage in bytes (alloc)",
		},
	)

	// GoroutineCount shows current goroutine count.
	GoroutineCount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "puppeteer_goroutines",
			Help: "Current number of goroutines",
		},
	)

	// BuildInfo provides build information as labels.
	BuildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "puppeteer_build_info",
			Help: "Build information",
		},
		[]string{"version", "go_version"},
	)
)

func init() {
	prometheus.MustRegister(
		ActionsTotal,
		ActionDuration,
		ActionFailures,
		SecurityViolations,
		PoolSize,
		PoolInUse,
		PoolHealthy,
		BrowsersRecycled,
		ActiveSessions,
		BreakerState,
		BreakerTransitions,
		ProxyRotations,
		ProxiesConfigured,
		MemoryUsageBytes,
		GoroutineCount,
		BuildInfo,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetBuildInfo sets the build info metric.
func SetBuildInfo(version, goVersion string) {
	BuildInfo.WithLabelValues(version, goVersion).Set(1)
}

// RecordAction updates the action counters and histogram for one result.
func RecordAction(family string, success bool, kind string, duration time.Duration) {
	status := "success"
	if !success {
		status = "failure"
		if kind != "" {
			ActionFailures.WithLabelValues(kind).Inc()
		}
	}
	ActionsTotal.WithLabelValues(family, status).Inc()
	ActionDuration.WithLabelValues(family).Observe(duration.Seconds())
}

// SetBreakerState maps a state name onto the breaker gauge.
func SetBreakerState(name, state string) {
	var v float64
	switch state {
	case "half-open":
		v = 1
	case "open":
		v = 2
	}
	BreakerState.WithLabelValues(name).Set(v)
}

// StartMemoryCollector periodically samples runtime memory and goroutine
// stats until stopCh closes.
func StartMemoryCollector(interval time.Duration, stopCh <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			var m runtime.MemStats
			runtime.ReadMemStats(&m)
			MemoryUsageBytes.Set(float64(m.Alloc))
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		case <-stopCh:
			return
		}
	}
}
