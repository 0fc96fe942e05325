package circuit

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"
)

// Registry owns breakers by name with a bounded population. When the bound is
// reached the least-recently-used breaker is evicted.
type Registry struct {
	mu       sync.Mutex
	cache    *lru.Cache[string, *Breaker]
	defaults Config
	onChange func(StateChange)
}

// NewRegistry creates a registry bounded to capacity breakers using cfg as the
// default configuration for breakers created on demand.
func NewRegistry(capacity int, cfg Config) *Registry {
	if capacity <= 0 {
		capacity = 64
	}
	cache, err := lru.NewWithEvict(capacity, func(name string, _ *Breaker) {
		log.Debug().Str("breaker", name).Msg("Circuit breaker evicted from registry")
	})
	if err != nil {
		// lru.NewWithEvict only errors on capacity <= 0, which is guarded above.
		panic(err)
	}
	return &Registry{cache: cache, defaults: cfg}
}

// OnStateChange sets a listener attached to every breaker the registry
// creates from now on.
func (r *Registry) OnStateChange(fn func(StateChange)) {
	r.mu.Lock()
	r.onChange = fn
	r.mu.Unlock()
}

// Get returns the named breaker, creating it with the default config if
// needed.
func (r *Registry) Get(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.cache.Get(name); ok {
		return b
	}
	b := New(name, r.defaults)
	if r.onChange != nil {
		b.OnStateChange(r.onChange)
	}
	r.cache.Add(name, b)
	return b
}

// GetWith returns the named breaker, creating it with cfg if absent. An
// existing breaker keeps its original config.
func (r *Registry) GetWith(name string, cfg Config) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.cache.Get(name); ok {
		return b
	}
	b := New(name, cfg)
	if r.onChange != nil {
		b.OnStateChange(r.onChange)
	}
	r.cache.Add(name, b)
	return b
}

// Open returns the names of breakers currently in the open state.
func (r *Registry) Open() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var open []string
	for _, name := range r.cache.Keys() {
		if b, ok := r.cache.Peek(name); ok && b.State() == Open {
			open = append(open, name)
		}
	}
	return open
}

// Snapshots returns stats for every registered breaker.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Snapshot, 0, r.cache.Len())
	for _, name := range r.cache.Keys() {
		if b, ok := r.cache.Peek(name); ok {
			out = append(out, b.Stats())
		}
	}
	return out
}

// ResetAll force-closes every breaker. Admin operation.
func (r *Registry) ResetAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, name := range r.cache.Keys() {
		if b, ok := r.cache.Peek(name); ok {
			b.Reset()
		}
	}
}
