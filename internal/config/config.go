// Package config provides application configuration management.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Configuration upper bounds to prevent resource exhaustion.
const (
	maxPoolSize           = 50
	maxMaxSessions        = 10000
	maxTimeout            = 10 * time.Minute
	maxRateLimitRPM       = 10000
	minAPIKeyLength       = 16
	maxPagesPerBrowserCap = 100
)

// Config holds all application configuration.
// Configuration is loaded from environment variables at startup.
type Config struct {
	// Server settings
	Host string
	Port int

	// Browser settings
	Headless    bool
	BrowserPath string
	Stealth     bool

	// Pool settings
	PoolMinSize        int
	PoolMaxSize        int
	PoolAcquireTimeout time.Duration
	PoolShutdownGrace  time.Duration
	MaxPagesPerBrowser int

	// Recycling thresholds
	BrowserMaxLifetime  time.Duration
	BrowserMaxIdle      time.Duration
	BrowserMaxUses      int
	RecyclingThreshold  float64
	RecyclingCooldown   time.Duration
	HealthCheckInterval time.Duration
	HealthScoreFloor    float64

	// Adaptive scaling
	ScaleUpThreshold     float64
	ScaleDownThreshold   float64
	OptimizationInterval time.Duration
	ScaleCooldown        time.Duration

	// Circuit breaker defaults
	BreakerEnabled          bool
	BreakerFailureThreshold int
	BreakerSuccessThreshold int
	BreakerWindow           time.Duration
	BreakerTimeout          time.Duration
	BreakerMaxTimeout       time.Duration
	BreakerBackoff          string
	BreakerMinThroughput    int

	// Session settings
	SessionTTL             time.Duration
	SessionCleanupInterval time.Duration
	MaxSessions            int

	// Store backend
	StoreBackend  string // "memory" or "redis"
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Timeouts
	DefaultTimeout time.Duration
	MaxTimeout     time.Duration

	// Proxy settings
	ProxyFile              string
	ProxyStrategy          string
	ProxyRotationInterval  time.Duration
	ProxyFailoverEnabled   bool
	ProxyFailoverThreshold int
	ProxyHealthInterval    time.Duration
	ProxyHotReload         bool
	AllowLocalProxies      bool

	// File sandbox
	DownloadDir string

	// Logging
	LogLevel string

	// Metrics
	PrometheusEnabled bool
	PrometheusPort    int

	// Security
	RateLimitEnabled   bool
	RateLimitRPM       int
	TrustProxy         bool
	IgnoreCertErrors   bool
	AllowFileURLs      bool
	CORSAllowedOrigins []string
	BlockedHosts       []string

	// API Key Authentication
	APIKeyEnabled bool
	APIKey        string
}

// Load loads configuration from environment variables.
// Returns a Config with values from environment or sensible defaults.
func Load() *Config {
	return &Config{
		// Server - default to localhost for security
		Host: getEnvString("HOST", "127.0.0.1"),
		Port: getEnvInt("PORT", 8443),

		// Browser
		Headless:    getEnvBool("HEADLESS", true),
		BrowserPath: getEnvString("BROWSER_PATH", ""),
		Stealth:     getEnvBool("STEALTH", false),

		// Pool
		PoolMinSize:        getEnvInt("POOL_MIN_SIZE", 1),
		PoolMaxSize:        getEnvInt("POOL_MAX_SIZE", 5),
		PoolAcquireTimeout: getEnvDuration("POOL_ACQUIRE_TIMEOUT", 30*time.Second),
		PoolShutdownGrace:  getEnvDuration("POOL_SHUTDOWN_GRACE", 30*time.Second),
		MaxPagesPerBrowser: getEnvInt("MAX_PAGES_PER_BROWSER", 10),

		// Recycling
		BrowserMaxLifetime:  getEnvDuration("BROWSER_MAX_LIFETIME", 30*time.Minute),
		BrowserMaxIdle:      getEnvDuration("BROWSER_MAX_IDLE", 10*time.Minute),
		BrowserMaxUses:      getEnvInt("BROWSER_MAX_USES", 100),
		RecyclingThreshold:  getEnvFloat("RECYCLING_THRESHOLD", 0.7),
		RecyclingCooldown:   getEnvDuration("RECYCLING_COOLDOWN", 30*time.Second),
		HealthCheckInterval: getEnvDuration("HEALTH_CHECK_INTERVAL", 1*time.Minute),
		HealthScoreFloor:    getEnvFloat("HEALTH_SCORE_FLOOR", 0.3),

		// Scaling
		ScaleUpThreshold:     getEnvFloat("SCALE_UP_THRESHOLD", 0.8),
		ScaleDownThreshold:   getEnvFloat("SCALE_DOWN_THRESHOLD", 0.3),
		OptimizationInterval: getEnvDuration("OPTIMIZATION_INTERVAL", 30*time.Second),
		ScaleCooldown:        getEnvDuration("SCALE_COOLDOWN", 1*time.Minute),

		// Circuit breaker
		BreakerEnabled:          getEnvBool("BREAKER_ENABLED", true),
		BreakerFailureThreshold: getEnvInt("BREAKER_FAILURE_THRESHOLD", 5),
		BreakerSuccessThreshold: getEnvInt("BREAKER_SUCCESS_THRESHOLD", 2),
		BreakerWindow:           getEnvDuration("BREAKER_WINDOW", 60*time.Second),
		BreakerTimeout:          getEnvDuration("BREAKER_TIMEOUT", 30*time.Second),
		BreakerMaxTimeout:       getEnvDuration("BREAKER_MAX_TIMEOUT", 5*time.Minute),
		BreakerBackoff:          getEnvString("BREAKER_BACKOFF", "exponential"),
		BreakerMinThroughput:    getEnvInt("BREAKER_MIN_THROUGHPUT", 3),

		// Sessions
		SessionTTL:             getEnvDuration("SESSION_TTL", 30*time.Minute),
		SessionCleanupInterval: getEnvDuration("SESSION_CLEANUP_INTERVAL", 1*time.Minute),
		MaxSessions:            getEnvInt("MAX_SESSIONS", 100),

		// Store
		StoreBackend:  getEnvString("STORE_BACKEND", "memory"),
		RedisAddr:     getEnvString("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword: getEnvString("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		// Timeouts
		DefaultTimeout: getEnvDuration("DEFAULT_TIMEOUT", 30*time.Second),
		MaxTimeout:     getEnvDuration("MAX_TIMEOUT", 300*time.Second),

		// Proxy
		ProxyFile:              getEnvString("PROXY_FILE", ""),
		ProxyStrategy:          getEnvString("PROXY_STRATEGY", "round-robin"),
		ProxyRotationInterval:  getEnvDuration("PROXY_ROTATION_INTERVAL", 0),
		ProxyFailoverEnabled:   getEnvBool("PROXY_FAILOVER_ENABLED", true),
		ProxyFailoverThreshold: getEnvInt("PROXY_FAILOVER_THRESHOLD", 3),
		ProxyHealthInterval:    getEnvDuration("PROXY_HEALTH_INTERVAL", 1*time.Minute),
		ProxyHotReload:         getEnvBool("PROXY_HOT_RELOAD", false),
		AllowLocalProxies:      getEnvBool("ALLOW_LOCAL_PROXIES", false),

		// File sandbox
		DownloadDir: getEnvString("DOWNLOAD_DIR", os.TempDir()),

		// Logging
		LogLevel: getEnvString("LOG_LEVEL", "info"),

		// Metrics
		PrometheusEnabled: getEnvBool("PROMETHEUS_ENABLED", false),
		PrometheusPort:    getEnvInt("PROMETHEUS_PORT", 9464),

		// Security
		RateLimitEnabled:   getEnvBool("RATE_LIMIT_ENABLED", true),
		RateLimitRPM:       getEnvInt("RATE_LIMIT_RPM", 60),
		TrustProxy:         getEnvBool("TRUST_PROXY", false),
		IgnoreCertErrors:   getEnvBool("IGNORE_CERT_ERRORS", false),
		AllowFileURLs:      getEnvBool("ALLOW_FILE_URLS", false),
		CORSAllowedOrigins: getEnvStringSlice("CORS_ALLOWED_ORIGINS", nil),
		BlockedHosts:       getEnvStringSlice("BLOCKED_HOSTS", nil),

		// API Key Authentication
		APIKeyEnabled: getEnvBool("API_KEY_ENABLED", false),
		APIKey:        getEnvString("API_KEY", ""),
	}
}

// Validate checks configuration values and logs warnings for invalid values.
// Invalid values are corrected to sensible defaults.
func (c *Config) Validate() {
	if c.Port < 0 || c.Port > 65535 {
		log.Warn().Int("port", c.Port).Msg("Invalid port, using default 8443")
		c.Port = 8443
	}

	if c.BrowserPath != "" && strings.Contains(c.BrowserPath, "..") {
		log.Error().Str("path", c.BrowserPath).Msg("BrowserPath contains path traversal sequence (..), ignoring")
		c.BrowserPath = ""
	}

	// Pool bounds
	if c.PoolMinSize < 0 {
		log.Warn().Int("min", c.PoolMinSize).Msg("Invalid pool min size, using 1")
		c.PoolMinSize = 1
	}
	if c.PoolMaxSize < 1 {
		log.Warn().Int("max", c.PoolMaxSize).Msg("Invalid pool max size, using 5")
		c.PoolMaxSize = 5
	} else if c.PoolMaxSize > maxPoolSize {
		log.Warn().Int("max", c.PoolMaxSize).Int("cap", maxPoolSize).Msg("Pool max size too large, capping")
		c.PoolMaxSize = maxPoolSize
	}
	if c.PoolMinSize > c.PoolMaxSize {
		log.Warn().Int("min", c.PoolMinSize).Int("max", c.PoolMaxSize).Msg("Pool min exceeds max, clamping min to max")
		c.PoolMinSize = c.PoolMaxSize
	}
	if c.MaxPagesPerBrowser < 1 {
		log.Warn().Int("pages", c.MaxPagesPerBrowser).Msg("Invalid page limit, using 10")
		c.MaxPagesPerBrowser = 10
	} else if c.MaxPagesPerBrowser > maxPagesPerBrowserCap {
		c.MaxPagesPerBrowser = maxPagesPerBrowserCap
	}

	// Recycling thresholds
	if c.RecyclingThreshold <= 0 || c.RecyclingThreshold > 1 {
		log.Warn().Float64("threshold", c.RecyclingThreshold).Msg("Invalid recycling threshold, using 0.7")
		c.RecyclingThreshold = 0.7
	}
	if c.HealthScoreFloor < 0 || c.HealthScoreFloor >= 1 {
		log.Warn().Float64("floor", c.HealthScoreFloor).Msg("Invalid health score floor, using 0.3")
		c.HealthScoreFloor = 0.3
	}

	// Scaling thresholds: down < up, both in (0,1]
	if c.ScaleUpThreshold <= 0 || c.ScaleUpThreshold > 1 {
		log.Warn().Float64("threshold", c.ScaleUpThreshold).Msg("Invalid scale-up threshold, using 0.8")
		c.ScaleUpThreshold = 0.8
	}
	if c.ScaleDownThreshold < 0 || c.ScaleDownThreshold >= c.ScaleUpThreshold {
		log.Warn().
			Float64("down", c.ScaleDownThreshold).
			Float64("up", c.ScaleUpThreshold).
			Msg("Scale-down threshold must be below scale-up, using 0.3")
		c.ScaleDownThreshold = 0.3
	}

	// Timeout ordering: validate MaxTimeout first, then DefaultTimeout
	if c.MaxTimeout < time.Second {
		log.Warn().Dur("timeout", c.MaxTimeout).Msg("Max timeout too short, using 300s")
		c.MaxTimeout = 300 * time.Second
	}
	if c.MaxTimeout > maxTimeout {
		log.Warn().Dur("timeout", c.MaxTimeout).Dur("cap", maxTimeout).Msg("Max timeout too high, capping")
		c.MaxTimeout = maxTimeout
	}
	if c.DefaultTimeout < time.Second {
		log.Warn().Dur("timeout", c.DefaultTimeout).Msg("Default timeout too short, using 30s")
		c.DefaultTimeout = 30 * time.Second
	}
	if c.DefaultTimeout > c.MaxTimeout {
		log.Warn().Dur("default", c.DefaultTimeout).Dur("max", c.MaxTimeout).Msg("Default timeout exceeds max, adjusting")
		c.DefaultTimeout = c.MaxTimeout
	}

	// Sessions
	if c.MaxSessions < 1 {
		log.Warn().Int("max", c.MaxSessions).Msg("Invalid max sessions, using 100")
		c.MaxSessions = 100
	} else if c.MaxSessions > maxMaxSessions {
		log.Warn().Int("sessions", c.MaxSessions).Int("cap", maxMaxSessions).Msg("Max sessions too high, capping")
		c.MaxSessions = maxMaxSessions
	}
	const minSessionTTL = 1 * time.Minute
	const maxSessionTTL = 24 * time.Hour
	if c.SessionTTL < minSessionTTL {
		log.Warn().Dur("ttl", c.SessionTTL).Dur("min", minSessionTTL).Msg("Session TTL too short, using minimum")
		c.SessionTTL = minSessionTTL
	} else if c.SessionTTL > maxSessionTTL {
		log.Warn().Dur("ttl", c.SessionTTL).Dur("max", maxSessionTTL).Msg("Session TTL too long, using maximum")
		c.SessionTTL = maxSessionTTL
	}
	if c.SessionCleanupInterval >= c.SessionTTL {
		log.Warn().
			Dur("cleanup_interval", c.SessionCleanupInterval).
			Dur("ttl", c.SessionTTL).
			Msg("SESSION_CLEANUP_INTERVAL should be less than SESSION_TTL for timely cleanup")
	}

	// Store backend
	switch strings.ToLower(c.StoreBackend) {
	case "memory", "redis":
		c.StoreBackend = strings.ToLower(c.StoreBackend)
	default:
		log.Warn().Str("backend", c.StoreBackend).Msg("Unknown store backend, using memory")
		c.StoreBackend = "memory"
	}

	// Breaker
	if c.BreakerFailureThreshold < 1 {
		log.Warn().Int("threshold", c.BreakerFailureThreshold).Msg("Invalid breaker failure threshold, using 5")
		c.BreakerFailureThreshold = 5
	}
	if c.BreakerSuccessThreshold < 1 {
		c.BreakerSuccessThreshold = 2
	}
	if c.BreakerTimeout > c.BreakerMaxTimeout {
		log.Warn().
			Dur("timeout", c.BreakerTimeout).
			Dur("max", c.BreakerMaxTimeout).
			Msg("Breaker timeout exceeds max, adjusting")
		c.BreakerTimeout = c.BreakerMaxTimeout
	}

	// Proxy
	validStrategies := map[string]bool{
		"round-robin": true, "least-used": true, "best-health": true, "random": true,
	}
	if !validStrategies[c.ProxyStrategy] {
		log.Warn().Str("strategy", c.ProxyStrategy).Msg("Unknown proxy strategy, using round-robin")
		c.ProxyStrategy = "round-robin"
	}
	if c.ProxyFailoverThreshold < 1 {
		c.ProxyFailoverThreshold = 3
	}
	if c.ProxyHotReload && c.ProxyFile == "" {
		log.Warn().Msg("PROXY_HOT_RELOAD enabled but PROXY_FILE not set - hot-reload disabled")
		c.ProxyHotReload = false
	}

	// Rate limit
	if c.RateLimitEnabled {
		if c.RateLimitRPM < 1 {
			log.Warn().Int("rpm", c.RateLimitRPM).Msg("Invalid rate limit, using 60 RPM")
			c.RateLimitRPM = 60
		} else if c.RateLimitRPM > maxRateLimitRPM {
			log.Warn().Int("rpm", c.RateLimitRPM).Int("cap", maxRateLimitRPM).Msg("Rate limit too high, capping")
			c.RateLimitRPM = maxRateLimitRPM
		}
	}

	// Log level
	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true,
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		log.Warn().Str("level", c.LogLevel).Msg("Invalid log level, using 'info'")
		c.LogLevel = "info"
	}

	if len(c.CORSAllowedOrigins) == 0 {
		log.Warn().Msg("CORS_ALLOWED_ORIGINS not set - allowing all origins (potential CSRF risk)")
	}

	if c.IgnoreCertErrors {
		log.Warn().Msg("IGNORE_CERT_ERRORS enabled - TLS validation disabled for browser traffic")
	}

	// API key validation with minimum length enforcement
	if c.APIKeyEnabled {
		switch {
		case c.APIKey == "":
			log.Error().Msg("API_KEY_ENABLED is true but API_KEY is empty - authentication will always fail")
		case len(c.APIKey) < minAPIKeyLength:
			log.Error().
				Int("length", len(c.APIKey)).
				Int("min_required", minAPIKeyLength).
				Msg("API_KEY is too short for secure authentication - consider using a longer key")
		}
	}
}

// ProxyEntry is one proxy definition loaded from the proxy file.
type ProxyEntry struct {
	ID       string   `yaml:"id"`
	Protocol string   `yaml:"protocol"`
	Host     string   `yaml:"host"`
	Port     int      `yaml:"port"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	Bypass   []string `yaml:"bypass"`
}

// URL renders the proxy entry as a URL without credentials.
func (p *ProxyEntry) URL() string {
	return fmt.Sprintf("%s://%s:%d", p.Protocol, p.Host, p.Port)
}

type proxyFile struct {
	Proxies []ProxyEntry `yaml:"proxies"`
}

// LoadProxyFile parses a YAML proxy pool definition. Entries without an id get
/// one derived from host:port. Unknown protocols are rejected.
func LoadProxyFile(path string) ([]ProxyEntry, error) {
	data, err := os.ReadFile(path) // #nosec G304 - operator-supplied config path
	if err != nil {
		return nil, fmt.Errorf("proxy file: %w", err)
	}

	var pf proxyFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("proxy file %s: %w", path, err)
	}

	valid := map[string]bool{"http": true, "https": true, "socks4": true, "socks5": true}
	for i := range pf.Proxies {
		p := &pf.Proxies[i]
		if p.Protocol == "" {
			p.Protocol = "http"
		}
		p.Protocol = strings.ToLower(p.Protocol)
		if !valid[p.Protocol] {
			return nil, fmt.Errorf("proxy file %s: entry %d: unsupported protocol %q", path, i, p.Protocol)
		}
		if p.Host == "" || p.Port <= 0 || p.Port > 65535 {
			return nil, fmt.Errorf("proxy file %s: entry %d: invalid host/port", path, i)
		}
		if p.ID == "" {
			p.ID = fmt.Sprintf("%s:%d", p.Host, p.Port)
		}
	}
	return pf.Proxies, nil
}

// Helper functions for environment variable parsing

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		intValue, err := strconv.ParseInt(value, 10, 32)
		if err == nil {
			return int(intValue)
		}
		log.Warn().
			Str("key", key).
			Str("value", value).
			Err(err).
			Int("default", defaultValue).
			Msg("Invalid integer in environment variable, using default")
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		f, err := strconv.ParseFloat(value, 64)
		if err == nil {
			return f
		}
		log.Warn().
			Str("key", key).
			Str("value", value).
			Err(err).
			Float64("default", defaultValue).
			Msg("Invalid float in environment variable, using default")
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		boolValue, err := strconv.ParseBool(value)
		if err == nil {
			return boolValue
		}
		log.Warn().
			Str("key", key).
			Str("value", value).
			Err(err).
			Bool("default", defaultValue).
			Msg("Invalid boolean in environment variable, using default")
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		duration, err := time.ParseDuration(value)
		if err == nil {
			if duration >= 0 {
				return duration
			}
			log.Warn().
				Str("key", key).
				Str("value", value).
				Dur("default", defaultValue).
				Msg("Duration must not be negative, using default")
			return defaultValue
		}
		log.Warn().
			Str("key", key).
			Str("value", value).
			Err(err).
			Dur("default", defaultValue).
			Msg("Invalid duration in environment variable, using default")
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, part := range parts {
			trimmed := strings.TrimSpace(part)
			if trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}
