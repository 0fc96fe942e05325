package core

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/williamzujkowski/puppeteer-mcp-go/internal/action"
	"github.com/williamzujkowski/puppeteer-mcp-go/internal/audit"
	"github.com/williamzujkowski/puppeteer-mcp-go/internal/browser"
	"github.com/williamzujkowski/puppeteer-mcp-go/internal/circuit"
	"github.com/williamzujkowski/puppeteer-mcp-go/internal/config"
	"github.com/williamzujkowski/puppeteer-mcp-go/internal/proxy"
	"github.com/williamzujkowski/puppeteer-mcp-go/internal/store"
)

// Service is the control plane: session/context/page CRUD plus action
// execution, independent of any transport.
type Service struct {
	cfg      *config.Config
	store    store.Store
	pool     *browser.Pool
	pages    *browser.PageManager
	proxies  *proxy.Manager
	breakers *circuit.Registry
	bus      *Bus

	pipeline *action.Pipeline
	registry *action.Registry
	retry    *action.RetryPolicy
	handles  *action.HandleRegistry
	sink     audit.Sink

	// contextID → browser lease. The lease is taken at first page
	// creation and returned when the context closes.
	mu       sync.Mutex
	browsers map[string]browserLease

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Deps are the collaborators the service orchestrates. Proxies may be nil
// when no proxy pool is configured.
type Deps struct {
	Store    store.Store
	Pool     *browser.Pool
	Pages    *browser.PageManager
	Proxies  *proxy.Manager
	Breakers *circuit.Registry
	Sink     audit.Sink
	// Retry overrides the default retry policy when set.
	Retry *action.RetryPolicy
}

// NewService wires the control plane and starts the session expiry loop.
func NewService(cfg *config.Config, deps Deps) *Service {
	sink := deps.Sink
	if sink == nil {
		sink = audit.NewLogger()
	}
	retry := deps.Retry
	if retry == nil {
		retry = action.DefaultRetryPolicy(sink)
	}

	s := &Service{
		cfg:      cfg,
		store:    deps.Store,
		pool:     deps.Pool,
		pages:    deps.Pages,
		proxies:  deps.Proxies,
		breakers: deps.Breakers,
		bus:      NewBus(),
		pipeline: action.NewPipeline(action.ValidatorConfig{
			AllowFileURLs: cfg.AllowFileURLs,
			BlockedHosts:  cfg.BlockedHosts,
		}),
		registry: action.NewRegistry(),
		retry:    retry,
		handles:  action.NewHandleRegistry(),
		sink:     sink,
		browsers: make(map[string]browserLease),
		stopCh:   make(chan struct{}),
	}

	deps.Pool.OnEvent(func(ev browser.Event) {
		s.bus.Publish(BusEvent{
			Topic:   TopicPool,
			Type:    ev.Type,
			Subject: ev.BrowserID,
			Fields:  map[string]any{"reason": ev.Reason},
			At:      ev.At,
		})
	})
	deps.Breakers.OnStateChange(func(ch circuit.StateChange) {
		s.bus.Publish(BusEvent{
			Topic:   TopicCircuit,
			Type:    "state_change",
			Subject: ch.Name,
			Fields:  map[string]any{"from": string(ch.From), "to": string(ch.To)},
		})
	})
	if deps.Proxies != nil {
		deps.Proxies.OnRotation(func(ev proxy.RotationEvent) {
			s.bus.Publish(BusEvent{
				Topic:   TopicProxy,
				Type:    "rotation",
				Subject: ev.ContextID,
				Fields: map[string]any{
					"from": ev.From, "to": ev.To,
					"reason": ev.Reason, "sameProxy": ev.SameProxy,
				},
				At: ev.At,
			})
		})
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.expiryLoop()
	}()
	return s
}

// Subscribe returns a topic-filtered event stream; empty topics means all.
func (s *Service) Subscribe(topics []string, buffer int) (<-chan BusEvent, func()) {
	return s.bus.Subscribe(topics, buffer)
}

func (s *Service) expiryLoop() {
	interval := s.cfg.SessionCleanupInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.expireOnce()
		}
	}
}

// expireOnce removes expired sessions and tears down the resources they
// held. Store cascade already dropped their contexts and pages; what remains
// is live state: cached pages, leases, proxy bindings, and handles.
func (s *Service) expireOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	expired, err := s.store.ExpireSessions(ctx, time.Now())
	if err != nil {
		log.Warn().Err(err).Msg("Session expiry sweep failed")
		return
	}
	for _, id := range expired {
		s.releaseSessionResources(ctx, id)
		s.bus.Publish(BusEvent{Topic: TopicSession, Type: "session_expired", Subject: id})
	}
	if len(expired) > 0 {
		log.Info().Int("count", len(expired)).Msg("Expired sessions cleaned up")
	}
}

// Close stops background loops and drops the bus. Pool and store shutdown
// belong to the composition root.
func (s *Service) Close() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	s.wg.Wait()
	s.bus.Close()
}

// BackendHealth mirrors the monitored store health when available.
type backendHealthProvider interface {
	Health() store.BackendHealth
}

// HealthReport is the operator-facing summary.
type HealthReport struct {
	PoolSize         int      `json:"poolSize"`
	InUse            int      `json:"inUse"`
	HealthyCount     int      `json:"healthyCount"`
	OpenBreakers     []string `json:"openBreakers"`
	BackendLatencyMs float64  `json:"backendLatencyMs"`
	BackendHealthy   bool     `json:"backendHealthy"`
	Proxies          int      `json:"proxies,omitempty"`
}

// Health reports pool, breaker, and backend state.
func (s *Service) Health(ctx context.Context) HealthReport {
	stats := s.pool.Stats()
	report := HealthReport{
		PoolSize:       stats.Size,
		InUse:          stats.InUse,
		HealthyCount:   stats.Healthy,
		OpenBreakers:   s.breakers.Open(),
		BackendHealthy: true,
	}
	if hp, ok := s.store.(backendHealthProvider); ok {
		h := hp.Health()
		report.BackendLatencyMs = h.LatencyMs
		report.BackendHealthy = h.Healthy
	} else if err := s.store.Ping(ctx); err != nil {
		report.BackendHealthy = false
	}
	if s.proxies != nil {
		report.Proxies = s.proxies.Count()
	}
	return report
}
