package browser

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/williamzujkowski/puppeteer-mcp-go/internal/circuit"
	"github.com/williamzujkowski/puppeteer-mcp-go/internal/config"
	"github.com/williamzujkowski/puppeteer-mcp-go/internal/types"
)

// Pool event types published to the event listener.
const (
	EventBrowserCreated  = "browser_created"
	EventBrowserRecycled = "browser_recycled"
	EventPoolScaledUp    = "pool_scaled_up"
	EventPoolScaledDown  = "pool_scaled_down"
)

// Event is a pool lifecycle notification.
type Event struct {
	Type      string    `json:"type"`
	BrowserID string    `json:"browserId,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	At        time.Time `json:"at"`
}

// PoolStats is a counters snapshot.
type PoolStats struct {
	Size     int   `json:"size"`
	InUse    int   `json:"inUse"`
	Healthy  int   `json:"healthy"`
	Created  int64 `json:"created"`
	Acquired int64 `json:"acquired"`
	Released int64 `json:"released"`
	Recycled int64 `json:"recycled"`
	Failures int64 `json:"failures"`
}

// Pool maintains a bounded population of browser instances and leases them
// with at most one active lease per instance.
//
// Lock ordering: p.mu before any instance mutex. Never hold p.mu across
// browser I/O; collect under the lock, operate outside it.
type Pool struct {
	cfg     *config.Config
	engine  Engine
	breaker *circuit.Breaker
	policy  RecyclePolicy

	mu        sync.Mutex
	instances map[string]*Instance
	available chan *Instance
	closed    atomic.Bool
	inUse     atomic.Int32

	// consecutive creation failures drive the spawn backoff
	createFailures int
	lastScaleAt    time.Time
	// in-flight on-demand launches, counted so concurrent acquirers cannot
	// overshoot max size
	growing int

	onEvent func(Event)

	stopCh chan struct{}
	wg     sync.WaitGroup

	created  atomic.Int64
	acquired atomic.Int64
	released atomic.Int64
	recycled atomic.Int64
	failures atomic.Int64
}

// NewPool pre-warms PoolMinSize browsers and starts the maintainer and
// scaling loops. Browser creation goes through the named breaker so repeated
// launch failures open it.
func NewPool(cfg *config.Config, engine Engine, breakers *circuit.Registry) (*Pool, error) {
	p := &Pool{
		cfg:       cfg,
		engine:    engine,
		breaker:   breakers.Get("browser-pool"),
		instances: make(map[string]*Instance, cfg.PoolMaxSize),
		available: make(chan *Instance, cfg.PoolMaxSize),
		stopCh:    make(chan struct{}),
		policy: RecyclePolicy{
			MaxLifetime: cfg.BrowserMaxLifetime,
			MaxIdle:     cfg.BrowserMaxIdle,
			MaxUses:     cfg.BrowserMaxUses,
			MaxPages:    cfg.MaxPagesPerBrowser,
			ScoreFloor:  cfg.HealthScoreFloor,
			Threshold:   cfg.RecyclingThreshold,
			Cooldown:    cfg.RecyclingCooldown,
		},
	}

	log.Info().
		Int("min_size", cfg.PoolMinSize).
		Int("max_size", cfg.PoolMaxSize).
		Bool("headless", cfg.Headless).
		Msg("Initializing browser pool")

	for i := 0; i < cfg.PoolMinSize; i++ {
		if _, err := p.addInstance(context.Background()); err != nil {
			_ = p.Shutdown(5 * time.Second)
			return nil, fmt.Errorf("pre-warm browser %d: %w", i, err)
		}
	}

	p.wg.Add(2)
	go func() {
		defer p.wg.Done()
		p.maintainerLoop()
	}()
	go func() {
		defer p.wg.Done()
		p.scalingLoop()
	}()

	log.Info().Int("pool_size", cfg.PoolMinSize).Msg("Browser pool initialized")
	return p, nil
}

// OnEvent registers a lifecycle listener, invoked outside pool locks.
func (p *Pool) OnEvent(fn func(Event)) {
	p.mu.Lock()
	p.onEvent = fn
	p.mu.Unlock()
}

func (p *Pool) emit(ev Event) {
	p.mu.Lock()
	fn := p.onEvent
	p.mu.Unlock()
	if fn != nil {
		ev.At = time.Now()
		fn(ev)
	}
}

// addInstance launches one browser and adds it to the pool. Creation records
// on the breaker; consecutive failures back off exponentially.
func (p *Pool) addInstance(ctx context.Context) (*Instance, error) {
	if p.closed.Load() {
		return nil, types.ErrPoolClosed
	}
	if !p.breaker.Allow() {
		return nil, types.ErrCircuitOpen
	}

	p.mu.Lock()
	failures := p.createFailures
	p.mu.Unlock()
	if failures > 0 {
		delay := time.Second << uint(failures-1)
		if delay > 30*time.Second {
			delay = 30 * time.Second
		}
		log.Debug().Dur("backoff", delay).Int("failures", failures).Msg("Backing off browser creation")
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-p.stopCh:
			return nil, types.ErrPoolClosed
		}
	}

	b, err := p.engine.NewBrowser(ctx, BrowserOptions{})
	if err != nil {
		p.failures.Add(1)
		p.mu.Lock()
		p.createFailures++
		trips := p.createFailures
		p.mu.Unlock()
		if trips >= 3 {
			p.breaker.RecordFailure()
		}
		return nil, err
	}

	p.mu.Lock()
	p.createFailures = 0
	p.mu.Unlock()
	p.breaker.RecordSuccess()

	inst := newInstance(uuid.NewString(), b)
	p.mu.Lock()
	if p.closed.Load() {
		p.mu.Unlock()
		_ = b.Close()
		return nil, types.ErrPoolClosed
	}
	p.instances[inst.ID] = inst
	p.mu.Unlock()

	select {
	case p.available <- inst:
	default:
		// Channel capacity equals max size, so this cannot happen unless the
		// pool over-provisioned; close the extra browser rather than block.
		log.Warn().Str("browser_id", inst.ID).Msg("Available channel full, dropping new browser")
		p.removeInstance(inst)
		_ = b.Close()
		return nil, types.ErrPoolExhausted
	}

	p.created.Add(1)
	log.Debug().Str("browser_id", inst.ID).Int("pid", inst.pid).Msg("Browser added to pool")
	p.emit(Event{Type: EventBrowserCreated, BrowserID: inst.ID})
	return inst, nil
}

func (p *Pool) removeInstance(inst *Instance) {
	p.mu.Lock()
	delete(p.instances, inst.ID)
	p.mu.Unlock()
}

// tryGrow launches one browser when the pool is below max size, reserving the
// slot first so concurrent acquirers cannot overshoot. Returns true when a
// browser was added to the available queue.
func (p *Pool) tryGrow(ctx context.Context) bool {
	p.mu.Lock()
	if len(p.instances)+p.growing >= p.cfg.PoolMaxSize {
		p.mu.Unlock()
		return false
	}
	p.growing++
	p.mu.Unlock()

	_, err := p.addInstance(ctx)

	p.mu.Lock()
	p.growing--
	p.mu.Unlock()

	if err != nil {
		log.Warn().Err(err).Msg("On-demand browser creation failed")
		return false
	}
	return true
}

// Acquire leases a browser for sessionID. It blocks until an instance is
// available, ctx is done, or the acquire timeout elapses, whichever is first.
func (p *Pool) Acquire(ctx context.Context, sessionID string) (*Instance, error) {
	if p.closed.Load() {
		return nil, types.ErrPoolClosed
	}
	if !p.breaker.Allow() {
		return nil, types.ErrCircuitOpen
	}

	deadline := time.NewTimer(p.cfg.PoolAcquireTimeout)
	defer deadline.Stop()

	for {
		// All instances leased but the pool is under max: grow instead of
		// waiting for a release. The new browser lands on the available
		// queue; whoever is first in the select below takes it.
		if len(p.available) == 0 {
			p.tryGrow(ctx)
		}

		select {
		case inst, ok := <-p.available:
			if !ok || p.closed.Load() {
				return nil, types.ErrPoolClosed
			}
			switch inst.State() {
			case StateIdle:
			case StateUnhealthy:
				go p.recycle(inst, "unhealthy_in_queue")
				continue
			default:
				// Drained or closed while queued.
				continue
			}

			probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			healthy := inst.Browser.Healthy(probeCtx)
			cancel()
			inst.recordHealth(healthy)
			if !healthy {
				log.Warn().Str("browser_id", inst.ID).Msg("Unhealthy browser at acquire, recycling")
				go p.recycle(inst, "acquire_probe_failed")
				continue
			}

			if !inst.lease(sessionID) {
				continue
			}
			p.inUse.Add(1)
			p.acquired.Add(1)
			log.Debug().
				Str("browser_id", inst.ID).
				Str("session_id", sessionID).
				Msg("Browser acquired")
			return inst, nil

		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", types.ErrContextCanceled, ctx.Err())

		case <-deadline.C:
			p.failures.Add(1)
			return nil, types.ErrPoolExhausted

		case <-p.stopCh:
			return nil, types.ErrPoolClosed
		}
	}
}

// Release returns a lease. Releasing an already idle instance is a no-op;
// releasing with the wrong session is rejected. An instance past a recycling
// threshold is replaced instead of returning to the pool.
func (p *Pool) Release(browserID, sessionID string) error {
	p.mu.Lock()
	inst, ok := p.instances[browserID]
	p.mu.Unlock()
	if !ok {
		return types.ErrBrowserGone
	}

	matched, alreadyIdle := inst.unlease(sessionID)
	if alreadyIdle {
		return nil
	}
	if !matched {
		return types.ErrLeaseMismatch
	}

	p.inUse.Add(-1)
	p.released.Add(1)

	if reason, recycleIt := p.policy.Evaluate(inst, time.Now()); recycleIt {
		log.Info().Str("browser_id", browserID).Str("reason", reason).Msg("Recycling browser on release")
		go p.recycle(inst, reason)
		return nil
	}

	if p.closed.Load() {
		return nil
	}
	select {
	case p.available <- inst:
	default:
		log.Warn().Str("browser_id", browserID).Msg("Available channel full on release")
	}
	return nil
}

// CreatePage opens a page on the leased browser, enforcing the per-browser
// page cap.
func (p *Pool) CreatePage(ctx context.Context, browserID string, cfg types.ContextConfig, proxyURL string) (Page, error) {
	p.mu.Lock()
	inst, ok := p.instances[browserID]
	p.mu.Unlock()
	if !ok {
		return nil, types.ErrBrowserGone
	}

	inst.mu.Lock()
	if inst.state == StateClosed || inst.state == StateDraining {
		inst.mu.Unlock()
		return nil, types.ErrBrowserGone
	}
	if p.cfg.MaxPagesPerBrowser > 0 && inst.pageCount >= p.cfg.MaxPagesPerBrowser {
		inst.mu.Unlock()
		return nil, types.ErrTooManyPages
	}
	inst.pageCount++
	inst.mu.Unlock()

	page, err := inst.Browser.NewPage(ctx, cfg, proxyURL)
	if err != nil {
		inst.addPages(-1)
		inst.recordFailure()
		return nil, err
	}
	return page, nil
}

// ClosePage closes a page and releases its slot. Closing is idempotent at
// the page level; the slot is released once.
func (p *Pool) ClosePage(ctx context.Context, browserID string, page Page) error {
	err := page.Close(ctx)
	p.mu.Lock()
	inst, ok := p.instances[browserID]
	p.mu.Unlock()
	if ok {
		inst.addPages(-1)
	}
	return err
}

// HealthCheck probes every instance without touching leases and returns the
// per-browser result.
func (p *Pool) HealthCheck(ctx context.Context) map[string]bool {
	p.mu.Lock()
	snapshot := make([]*Instance, 0, len(p.instances))
	for _, inst := range p.instances {
		snapshot = append(snapshot, inst)
	}
	p.mu.Unlock()

	results := make(map[string]bool, len(snapshot))
	for _, inst := range snapshot {
		if inst.State() == StateClosed || inst.State() == StateDraining {
			continue
		}
		probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		ok := inst.Browser.Healthy(probeCtx)
		cancel()
		inst.recordHealth(ok)
		// Leases stay untouched; only idle instances change state here.
		if !ok && inst.State() == StateIdle {
			inst.setState(StateUnhealthy)
		} else if ok && inst.State() == StateUnhealthy {
			inst.setState(StateIdle)
		}
		results[inst.ID] = ok
	}
	return results
}

// recycle drains an instance and replaces it. The replacement is pre-warmed
// before the old browser terminates so pool capacity does not dip.
func (p *Pool) recycle(inst *Instance, reason string) {
	if p.closed.Load() {
		return
	}
	inst.setState(StateDraining)
	p.recycled.Add(1)

	if _, err := p.addInstance(context.Background()); err != nil {
		log.Error().Err(err).Msg("Failed to pre-warm replacement browser")
	}

	p.removeInstance(inst)
	p.closeBrowser(inst, 10*time.Second)
	inst.setState(StateClosed)

	log.Info().Str("browser_id", inst.ID).Str("reason", reason).Msg("Browser recycled")
	p.emit(Event{Type: EventBrowserRecycled, BrowserID: inst.ID, Reason: reason})
}

// closeBrowser closes with a timeout so a wedged process cannot stall
// maintenance.
func (p *Pool) closeBrowser(inst *Instance, timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := inst.Browser.Close(); err != nil {
			log.Warn().Err(err).Str("browser_id", inst.ID).Msg("Error closing browser")
		}
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		log.Warn().Str("browser_id", inst.ID).Msg("Browser close timed out")
	}
}

// maintainerLoop periodically health-checks and applies the recycle policy to
// idle instances.
func (p *Pool) maintainerLoop() {
	interval := p.cfg.HealthCheckInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			if p.closed.Load() {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			p.HealthCheck(ctx)
			cancel()

			p.mu.Lock()
			candidates := make([]*Instance, 0, len(p.instances))
			for _, inst := range p.instances {
				candidates = append(candidates, inst)
			}
			p.mu.Unlock()

			now := time.Now()
			for _, inst := range candidates {
				if inst.State() != StateIdle && inst.State() != StateUnhealthy {
					continue
				}
				if reason, ok := p.policy.Evaluate(inst, now); ok {
					p.recycle(inst, reason)
				}
			}
		}
	}
}

// scalingLoop grows or shrinks the pool by one based on utilization, bounded
// by min/max size, with a cooldown between moves.
func (p *Pool) scalingLoop() {
	interval := p.cfg.OptimizationInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			if p.closed.Load() {
				return
			}
			p.optimize()
		}
	}
}

func (p *Pool) optimize() {
	p.mu.Lock()
	size := len(p.instances)
	last := p.lastScaleAt
	p.mu.Unlock()
	if size == 0 {
		return
	}

	if p.cfg.ScaleCooldown > 0 && time.Since(last) < p.cfg.ScaleCooldown {
		return
	}

	utilization := float64(p.inUse.Load()) / float64(size)

	switch {
	case utilization > p.cfg.ScaleUpThreshold && size < p.cfg.PoolMaxSize:
		if !p.tryGrow(context.Background()) {
			return
		}
		p.mu.Lock()
		p.lastScaleAt = time.Now()
		newSize := len(p.instances)
		p.mu.Unlock()
		log.Info().Float64("utilization", utilization).Int("size", newSize).Msg("Pool scaled up")
		p.emit(Event{Type: EventPoolScaledUp, Reason: fmt.Sprintf("utilization_%.2f", utilization)})

	case utilization < p.cfg.ScaleDownThreshold && size > p.cfg.PoolMinSize:
		inst := p.lruIdle()
		if inst == nil {
			return
		}
		inst.setState(StateDraining)
		p.removeInstance(inst)
		p.closeBrowser(inst, 10*time.Second)
		inst.setState(StateClosed)
		p.mu.Lock()
		p.lastScaleAt = time.Now()
		newSize := len(p.instances)
		p.mu.Unlock()
		log.Info().Float64("utilization", utilization).Int("size", newSize).Msg("Pool scaled down")
		p.emit(Event{Type: EventPoolScaledDown, BrowserID: inst.ID, Reason: fmt.Sprintf("utilization_%.2f", utilization)})
	}
}

// lruIdle returns the least-recently-used idle instance.
func (p *Pool) lruIdle() *Instance {
	p.mu.Lock()
	defer p.mu.Unlock()
	var oldest *Instance
	for _, inst := range p.instances {
		inst.mu.Lock()
		idle := inst.state == StateIdle
		lastUsed := inst.lastUsedAt
		inst.mu.Unlock()
		if !idle {
			continue
		}
		if oldest == nil || lastUsed.Before(oldestLastUsed(oldest)) {
			oldest = inst
		}
	}
	return oldest
}

func oldestLastUsed(i *Instance) time.Time {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.lastUsedAt
}

// Stats returns a counters snapshot.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	size := len(p.instances)
	healthy := 0
	for _, inst := range p.instances {
		inst.mu.Lock()
		if inst.state == StateIdle || inst.state == StateInUse {
			healthy++
		}
		inst.mu.Unlock()
	}
	p.mu.Unlock()

	return PoolStats{
		Size:     size,
		InUse:    int(p.inUse.Load()),
		Healthy:  healthy,
		Created:  p.created.Load(),
		Acquired: p.acquired.Load(),
		Released: p.released.Load(),
		Recycled: p.recycled.Load(),
		Failures: p.failures.Load(),
	}
}

// Snapshots returns per-instance state for reporting.
func (p *Pool) Snapshots() []InstanceSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]InstanceSnapshot, 0, len(p.instances))
	for _, inst := range p.instances {
		out = append(out, inst.Snapshot())
	}
	return out
}

// Shutdown drains leases within the grace window, then terminates every
// browser in parallel. Safe to call more than once.
func (p *Pool) Shutdown(grace time.Duration) error {
	if p.closed.Swap(true) {
		return nil
	}
	log.Info().Dur("grace", grace).Msg("Shutting down browser pool")
	close(p.stopCh)
	p.wg.Wait()

	// Drain: wait for in-flight leases up to the grace window.
	drainDeadline := time.Now().Add(grace)
	for p.inUse.Load() > 0 && time.Now().Before(drainDeadline) {
		time.Sleep(50 * time.Millisecond)
	}
	if n := p.inUse.Load(); n > 0 {
		log.Warn().Int32("in_use", n).Msg("Grace expired with leases outstanding, terminating")
	}

	p.mu.Lock()
	instances := make([]*Instance, 0, len(p.instances))
	for _, inst := range p.instances {
		instances = append(instances, inst)
	}
	p.instances = make(map[string]*Instance)
	p.mu.Unlock()

	eg := new(errgroup.Group)
	eg.SetLimit(4)
	for _, inst := range instances {
		inst := inst
		eg.Go(func() error {
			inst.setState(StateClosed)
			return inst.Browser.Close()
		})
	}
	err := eg.Wait()

	// Drain queued references.
	for {
		select {
		case <-p.available:
		default:
			log.Info().Msg("Browser pool closed")
			return err
		}
	}
}
