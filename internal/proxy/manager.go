// Package proxy provides the proxy manager: per-context proxy selection,
// rotation, health checking, and failover.
package proxy

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/williamzujkowski/puppeteer-mcp-go/internal/config"
	"github.com/williamzujkowski/puppeteer-mcp-go/internal/security"
	"github.com/williamzujkowski/puppeteer-mcp-go/internal/types"
)

// Rotation reasons.
const (
	ReasonScheduled = "scheduled"
	ReasonError     = "error"
	ReasonHealth    = "health"
	ReasonManual    = "manual"
)

// Health tracks liveness signals for one proxy.
type Health struct {
	Healthy             bool      `json:"healthy"`
	ConsecutiveFailures int       `json:"consecutiveFailures"`
	LastError           string    `json:"lastError,omitempty"`
	LastChecked         time.Time `json:"lastChecked"`
}

// Metrics tracks usage counters for one proxy. AvgResponseMs is an
// exponentially weighted moving average.
type Metrics struct {
	Requests      int64     `json:"requests"`
	Successes     int64     `json:"successes"`
	Failures      int64     `json:"failures"`
	AvgResponseMs float64   `json:"avgResponseMs"`
	LastUsed      time.Time `json:"lastUsed"`
}

// SuccessRate returns successes/requests, 1.0 for an unused proxy so fresh
// proxies are not penalized by best-health selection.
func (m *Metrics) SuccessRate() float64 {
	if m.Requests == 0 {
		return 1.0
	}
	return float64(m.Successes) / float64(m.Requests)
}

// Instance is one proxy in the pool.
type Instance struct {
	ID      string             `json:"id"`
	Config  config.ProxyEntry  `json:"config"`
	Health  Health             `json:"health"`
	Metrics Metrics            `json:"metrics"`
}

// URL renders the proxy as a URL including credentials when present.
func (p *Instance) URL() string {
	u := &url.URL{
		Scheme: p.Config.Protocol,
		Host:   fmt.Sprintf("%s:%d", p.Config.Host, p.Config.Port),
	}
	if p.Config.Username != "" {
		u.User = url.UserPassword(p.Config.Username, p.Config.Password)
	}
	return u.String()
}

// RotationEvent describes one rotation outcome. SameProxy is the warning flag
// set when the pool had no alternative healthy proxy.
type RotationEvent struct {
	ContextID string    `json:"contextId"`
	From      string    `json:"from,omitempty"`
	To        string    `json:"to"`
	Reason    string    `json:"reason"`
	SameProxy bool      `json:"sameProxy,omitempty"`
	At        time.Time `json:"at"`
}

// Options configure the manager.
type Options struct {
	Strategy          string
	RotationInterval  time.Duration
	FailoverEnabled   bool
	FailoverThreshold int
	HealthInterval    time.Duration
	CheckTimeout      time.Duration
}

// Manager owns the proxy pool and the context→proxy bindings.
//
// Lock ordering: mu guards everything; slow I/O (health dials) happens on
// snapshots collected under the lock, never while holding it.
type Manager struct {
	mu       sync.Mutex
	proxies  map[string]*Instance
	order    []string // stable iteration order for round-robin
	rrIndex  int
	bindings map[string]string // contextID -> proxyID
	rotating map[string]bool   // one rotation in flight per context
	timers   map[string]*time.Timer

	opts     Options
	strategy Strategy
	checker  Checker
	onRotate func(RotationEvent)

	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// NewManager creates a proxy manager over the given pool entries. With an
// empty entry list the manager is a no-op: Assign returns ErrNoProxies and
// contexts run without a proxy.
func NewManager(entries []config.ProxyEntry, opts Options) (*Manager, error) {
	strategy, err := NewStrategy(opts.Strategy)
	if err != nil {
		return nil, err
	}
	if opts.FailoverThreshold <= 0 {
		opts.FailoverThreshold = 3
	}
	if opts.CheckTimeout <= 0 {
		opts.CheckTimeout = 10 * time.Second
	}

	m := &Manager{
		proxies:  make(map[string]*Instance, len(entries)),
		bindings: make(map[string]string),
		rotating: make(map[string]bool),
		timers:   make(map[string]*time.Timer),
		opts:     opts,
		strategy: strategy,
		checker:  &dialChecker{timeout: opts.CheckTimeout},
		stopCh:   make(chan struct{}),
	}
	m.Reload(entries)

	if opts.HealthInterval > 0 && len(entries) > 0 {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.healthLoop()
		}()
	}

	log.Info().
		Int("proxies", len(entries)).
		Str("strategy", opts.Strategy).
		Dur("rotation_interval", opts.RotationInterval).
		Bool("failover", opts.FailoverEnabled).
		Msg("Proxy manager initialized")

	return m, nil
}

// SetChecker substitutes the health checker. Test hook.
func (m *Manager) SetChecker(c Checker) {
	m.mu.Lock()
	m.checker = c
	m.mu.Unlock()
}

// OnRotation registers a listener for rotation events, invoked outside the
// lock.
func (m *Manager) OnRotation(fn func(RotationEvent)) {
	m.mu.Lock()
	m.onRotate = fn
	m.mu.Unlock()
}

// Count returns the number of configured proxies.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.proxies)
}

// Enabled reports whether any proxies are configured.
func (m *Manager) Enabled() bool { return m.Count() > 0 }

// Reload replaces the proxy pool, keeping health and metrics for proxies
// whose id survives the reload. Bindings to removed proxies are dropped and
// re-bound on next use.
func (m *Manager) Reload(entries []config.ProxyEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := make(map[string]*Instance, len(entries))
	order := make([]string, 0, len(entries))
	for _, e := range entries {
		if old, ok := m.proxies[e.ID]; ok {
			old.Config = e
			next[e.ID] = old
		} else {
			next[e.ID] = &Instance{
				ID:     e.ID,
				Config: e,
				Health: Health{Healthy: true},
			}
		}
		order = append(order, e.ID)
	}
	m.proxies = next
	m.order = order
	if m.rrIndex >= len(order) {
		m.rrIndex = 0
	}
	for ctxID, proxyID := range m.bindings {
		if _, ok := next[proxyID]; !ok {
			delete(m.bindings, ctxID)
		}
	}
}

// Assign binds a proxy to the context using the configured (or requested)
// selection strategy and schedules rotation when a rotation interval is set.
func (m *Manager) Assign(contextID string, strategyName string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.proxies) == 0 {
		return "", types.ErrNoProxies
	}

	strategy := m.strategy
	if strategyName != "" {
		s, err := NewStrategy(strategyName)
		if err != nil {
			return "", err
		}
		strategy = s
	}

	p, err := m.selectLocked(strategy, "")
	if err != nil {
		return "", err
	}
	m.bindLocked(contextID, p)
	m.scheduleRotationLocked(contextID)

	log.Debug().
		Str("context_id", contextID).
		Str("proxy_id", p.ID).
		Msg("Proxy assigned to context")

	return p.ID, nil
}

// ProxyFor returns the proxy bound to the context, failing over to a healthy
// one when the binding is unhealthy and failover is enabled. Contexts without
// a binding get one assigned on first use.
func (m *Manager) ProxyFor(contextID string) (*Instance, error) {
	m.mu.Lock()
	id, bound := m.bindings[contextID]
	var p *Instance
	healthy := false
	if bound {
		p = m.proxies[id]
		if p != nil {
			healthy = p.Health.Healthy
		}
	}
	m.mu.Unlock()

	if !bound || p == nil {
		if _, err := m.Assign(contextID, ""); err != nil {
			return nil, err
		}
		m.mu.Lock()
		p = m.proxies[m.bindings[contextID]]
		m.mu.Unlock()
		return p, nil
	}

	if !healthy {
		if !m.opts.FailoverEnabled {
			return nil, fmt.Errorf("%w: %s", types.ErrProxyUnhealthy, p.ID)
		}
		ev, err := m.Rotate(contextID, ReasonHealth)
		if err != nil {
			return nil, err
		}
		m.mu.Lock()
		p = m.proxies[ev.To]
		m.mu.Unlock()
	}
	return p, nil
}

// Rotate rebinds the context to a different healthy proxy when one exists.
// With fewer than two healthy proxies the same id is returned with the
// SameProxy warning flag. At most one rotation is in flight per context.
func (m *Manager) Rotate(contextID, reason string) (RotationEvent, error) {
	m.mu.Lock()
	if len(m.proxies) == 0 {
		m.mu.Unlock()
		return RotationEvent{}, types.ErrNoProxies
	}
	if m.rotating[contextID] {
		m.mu.Unlock()
		return RotationEvent{}, types.ErrRotationInFlight
	}
	m.rotating[contextID] = true
	defer func() {
		m.mu.Lock()
		delete(m.rotating, contextID)
		m.mu.Unlock()
	}()

	current := m.bindings[contextID]
	p, err := m.selectLocked(m.strategy, current)
	if err != nil {
		// No healthy alternative; keep the current binding if it exists.
		if current != "" {
			p = m.proxies[current]
			err = nil
		} else {
			m.mu.Unlock()
			return RotationEvent{}, err
		}
	}

	ev := RotationEvent{
		ContextID: contextID,
		From:      current,
		To:        p.ID,
		Reason:    reason,
		SameProxy: current == p.ID,
		At:        time.Now(),
	}
	m.bindLocked(contextID, p)
	m.scheduleRotationLocked(contextID)
	onRotate := m.onRotate
	m.mu.Unlock()

	log.Info().
		Str("context_id", contextID).
		Str("from", ev.From).
		Str("to", ev.To).
		Str("reason", reason).
		Bool("same_proxy", ev.SameProxy).
		Msg("Proxy rotated")

	if onRotate != nil {
		onRotate(ev)
	}
	return ev, nil
}

// Release drops the context binding and cancels any scheduled rotation.
func (m *Manager) Release(contextID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.bindings, contextID)
	if t, ok := m.timers[contextID]; ok {
		t.Stop()
		delete(m.timers, contextID)
	}
}

// ReportError records a failed request through the proxy. Reaching the
// failover threshold marks the proxy unhealthy and, when failover is enabled,
// rotates the context off it.
func (m *Manager) ReportError(contextID, proxyID string, reqErr error) {
	m.mu.Lock()
	p, ok := m.proxies[proxyID]
	if !ok {
		m.mu.Unlock()
		return
	}
	p.Metrics.Requests++
	p.Metrics.Failures++
	p.Metrics.LastUsed = time.Now()
	p.Health.ConsecutiveFailures++
	if reqErr != nil {
		p.Health.LastError = reqErr.Error()
	}
	tripped := p.Health.ConsecutiveFailures >= m.opts.FailoverThreshold
	if tripped {
		p.Health.Healthy = false
	}
	failover := tripped && m.opts.FailoverEnabled && m.bindings[contextID] == proxyID
	m.mu.Unlock()

	if tripped {
		log.Warn().
			Str("proxy_id", proxyID).
			Int("consecutive_failures", m.opts.FailoverThreshold).
			Msg("Proxy marked unhealthy after repeated errors")
	}
	if failover {
		if _, err := m.Rotate(contextID, ReasonError); err != nil {
			log.Warn().Err(err).Str("context_id", contextID).Msg("Failover rotation failed")
		}
	}
}

// ReportSuccess records a successful request and its latency.
func (m *Manager) ReportSuccess(contextID, proxyID string, latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.proxies[proxyID]
	if !ok {
		return
	}
	p.Metrics.Requests++
	p.Metrics.Successes++
	p.Metrics.LastUsed = time.Now()
	p.Health.ConsecutiveFailures = 0
	p.Health.Healthy = true

	ms := float64(latency.Milliseconds())
	if p.Metrics.AvgResponseMs == 0 {
		p.Metrics.AvgResponseMs = ms
	} else {
		// EWMA with alpha 0.2 smooths spikes without hiding drift.
		p.Metrics.AvgResponseMs = 0.8*p.Metrics.AvgResponseMs + 0.2*ms
	}
}

// HealthCheck probes every proxy once and updates health flags. Returns the
// per-proxy result.
func (m *Manager) HealthCheck(ctx context.Context) map[string]bool {
	m.mu.Lock()
	snapshot := make([]*Instance, 0, len(m.proxies))
	for _, p := range m.proxies {
		snapshot = append(snapshot, p)
	}
	checker := m.checker
	m.mu.Unlock()

	results := make(map[string]bool, len(snapshot))
	for _, p := range snapshot {
		err := checker.Check(ctx, &p.Config)

		m.mu.Lock()
		p.Health.LastChecked = time.Now()
		if err != nil {
			p.Health.Healthy = false
			p.Health.LastError = err.Error()
			log.Debug().
				Str("proxy_id", p.ID).
				Str("proxy", security.RedactProxyURL(p.URL())).
				Err(err).
				Msg("Proxy health check failed")
		} else {
			p.Health.Healthy = true
			p.Health.ConsecutiveFailures = 0
		}
		results[p.ID] = p.Health.Healthy
		m.mu.Unlock()
	}
	return results
}

// Snapshot returns copies of all proxy instances for reporting.
func (m *Manager) Snapshot() []Instance {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Instance, 0, len(m.order))
	for _, id := range m.order {
		if p, ok := m.proxies[id]; ok {
			out = append(out, *p)
		}
	}
	return out
}

// Close stops background routines and cancels scheduled rotations.
func (m *Manager) Close() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
	})
	m.wg.Wait()

	m.mu.Lock()
	for id, t := range m.timers {
		t.Stop()
		delete(m.timers, id)
	}
	m.mu.Unlock()
}

// selectLocked picks a healthy proxy, excluding excludeID when another
// healthy proxy exists.
func (m *Manager) selectLocked(strategy Strategy, excludeID string) (*Instance, error) {
	healthy := make([]*Instance, 0, len(m.order))
	for _, id := range m.order {
		p := m.proxies[id]
		if p.Health.Healthy && p.ID != excludeID {
			healthy = append(healthy, p)
		}
	}
	if len(healthy) == 0 && excludeID != "" {
		// Only the excluded proxy is healthy (or none): allow re-selection.
		if p, ok := m.proxies[excludeID]; ok && p.Health.Healthy {
			return p, nil
		}
	}
	if len(healthy) == 0 {
		return nil, types.ErrNoHealthyProxies
	}
	return strategy.Select(healthy, &m.rrIndex), nil
}

func (m *Manager) bindLocked(contextID string, p *Instance) {
	m.bindings[contextID] = p.ID
	p.Metrics.LastUsed = time.Now()
}

// scheduleRotationLocked (re)arms the scheduled rotation timer for a context.
func (m *Manager) scheduleRotationLocked(contextID string) {
	if m.opts.RotationInterval <= 0 {
		return
	}
	if t, ok := m.timers[contextID]; ok {
		t.Stop()
	}
	m.timers[contextID] = time.AfterFunc(m.opts.RotationInterval, func() {
		select {
		case <-m.stopCh:
			return
		default:
		}
		if _, err := m.Rotate(contextID, ReasonScheduled); err != nil {
			log.Debug().Err(err).Str("context_id", contextID).Msg("Scheduled rotation skipped")
		}
	})
}

// healthLoop periodically re-checks all proxies.
func (m *Manager) healthLoop() {
	ticker := time.NewTicker(m.opts.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), m.opts.CheckTimeout*2)
			m.HealthCheck(ctx)
			cancel()
		case <-m.stopCh:
			return
		}
	}
}
