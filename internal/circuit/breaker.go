// Package circuit provides a named circuit breaker guarding pool and browser
// operations against cascading failure.
package circuit

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/williamzujkowski/puppeteer-mcp-go/internal/types"
)

// State of a breaker.
type State string

const (
	Closed   State = "closed"
	Open     State = "open"
	HalfOpen State = "half-open"
)

// Config holds thresholds for one breaker.
type Config struct {
	FailureThreshold  int
	SuccessThreshold  int
	Window            time.Duration
	Timeout           time.Duration
	MaxTimeout        time.Duration
	MinimumThroughput int
	Backoff           string // backoff strategy name, see backoff.go
	Detector          string // detection strategy name, see detector.go
	Enabled           bool
}

// DefaultConfig returns conservative defaults: 5 failures in a 60s window with
// at least 3 requests opens the breaker for 30s, doubling up to 5m.
func DefaultConfig() Config {
	return Config{
		FailureThreshold:  5,
		SuccessThreshold:  2,
		Window:            60 * time.Second,
		Timeout:           30 * time.Second,
		MaxTimeout:        5 * time.Minute,
		MinimumThroughput: 3,
		Backoff:           "exponential",
		Detector:          "threshold",
		Enabled:           true,
	}
}

// StateChange describes one breaker transition, published to listeners.
type StateChange struct {
	Name string
	From State
	To   State
	At   time.Time
}

// Breaker is a single named circuit breaker. All mutation happens under mu;
// the hot path is one lock acquisition per call.
type Breaker struct {
	name   string
	config Config

	mu              sync.Mutex
	state           State
	failures        []time.Time
	successes       []time.Time
	requests        []time.Time
	lastStateChange time.Time
	openedAt        time.Time
	openCount       int // consecutive opens, drives backoff
	halfOpenSuccess int

	detector detector
	backoff  Backoff
	now      func() time.Time
	onChange func(StateChange)
}

// New creates a breaker with the given name and config.
func New(name string, cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg = DefaultConfig()
	}
	b := &Breaker{
		name:     name,
		config:   cfg,
		state:    Closed,
		detector: newDetector(cfg),
		backoff:  NewBackoff(cfg.Backoff, cfg.Timeout, cfg.MaxTimeout),
		now:      time.Now,
	}
	b.lastStateChange = b.now()
	return b
}

// OnStateChange registers a listener invoked (outside the lock) on every
// transition. Only one listener is supported; later calls replace it.
func (b *Breaker) OnStateChange(fn func(StateChange)) {
	b.mu.Lock()
	b.onChange = fn
	b.mu.Unlock()
}

// SetClock substitutes the time source. Test hook.
func (b *Breaker) SetClock(now func() time.Time) {
	b.mu.Lock()
	b.now = now
	b.mu.Unlock()
}

// Name returns the breaker name.
func (b *Breaker) Name() string { return b.name }

// State returns the current state, applying the open→half-open timer.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked()
}

func (b *Breaker) stateLocked() State {
	if b.state == Open && b.now().Sub(b.openedAt) >= b.backoff.Delay(b.openCount) {
		b.transitionLocked(HalfOpen)
	}
	return b.state
}

// Execute runs op if the breaker admits it, recording the outcome.
// When the breaker is open it fails fast with ErrCircuitOpen without
// invoking op.
func (b *Breaker) Execute(ctx context.Context, op func(context.Context) error) error {
	if !b.config.Enabled {
		return op(ctx)
	}
	if !b.Allow() {
		return types.ErrCircuitOpen
	}
	err := op(ctx)
	if err != nil {
		b.RecordFailure()
		return err
	}
	b.RecordSuccess()
	return nil
}

// Allow reports whether a call may proceed right now.
func (b *Breaker) Allow() bool {
	if !b.config.Enabled {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked() != Open
}

// RecordSuccess feeds a success signal into the breaker.
func (b *Breaker) RecordSuccess() {
	if !b.config.Enabled {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.pruneLocked(now)
	b.successes = append(b.successes, now)
	b.requests = append(b.requests, now)

	if b.stateLocked() == HalfOpen {
		b.halfOpenSuccess++
		if b.halfOpenSuccess >= b.config.SuccessThreshold {
			b.openCount = 0
			b.transitionLocked(Closed)
		}
	}
}

// RecordFailure feeds a failure signal into the breaker. In half-open state a
// single failure reopens the circuit.
func (b *Breaker) RecordFailure() {
	if !b.config.Enabled {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.pruneLocked(now)
	b.failures = append(b.failures, now)
	b.requests = append(b.requests, now)

	switch b.stateLocked() {
	case HalfOpen:
		b.openCount++
		b.transitionLocked(Open)
	case Closed:
		if len(b.requests) >= b.config.MinimumThroughput &&
			b.detector.shouldTrip(b.failures, b.requests, now) {
			b.openCount++
			b.transitionLocked(Open)
		}
	}
}

// Reset forces the breaker closed and clears its windows. Admin operation.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = nil
	b.successes = nil
	b.requests = nil
	b.openCount = 0
	if b.state != Closed {
		b.transitionLocked(Closed)
	}
}

// Snapshot is a point-in-time view of breaker state for health reporting.
type Snapshot struct {
	Name            string    `json:"name"`
	State           State     `json:"state"`
	Failures        int       `json:"failures"`
	Successes       int       `json:"successes"`
	Requests        int       `json:"requests"`
	LastStateChange time.Time `json:"lastStateChange"`
}

// Stats returns a snapshot of the breaker.
func (b *Breaker) Stats() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pruneLocked(b.now())
	return Snapshot{
		Name:            b.name,
		State:           b.stateLocked(),
		Failures:        len(b.failures),
		Successes:       len(b.successes),
		Requests:        len(b.requests),
		LastStateChange: b.lastStateChange,
	}
}

// pruneLocked drops events outside the active window. Every detector decides
// on window-filtered events only.
func (b *Breaker) pruneLocked(now time.Time) {
	cutoff := now.Add(-b.config.Window)
	b.failures = pruneBefore(b.failures, cutoff)
	b.successes = pruneBefore(b.successes, cutoff)
	b.requests = pruneBefore(b.requests, cutoff)
}

func pruneBefore(events []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(events) && events[i].Before(cutoff) {
		i++
	}
	if i == 0 {
		return events
	}
	return append(events[:0], events[i:]...)
}

func (b *Breaker) transitionLocked(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	b.lastStateChange = b.now()
	if to == Open {
		b.openedAt = b.lastStateChange
	}
	if to == HalfOpen {
		b.halfOpenSuccess = 0
	}

	log.Warn().
		Str("breaker", b.name).
		Str("from", string(from)).
		Str("to", string(to)).
		Msg("Circuit breaker state change")

	if b.onChange != nil {
		change := StateChange{Name: b.name, From: from, To: to, At: b.lastStateChange}
		fn := b.onChange
		go fn(change)
	}
}
