package circuit

import (
	"math/rand"
	"strings"
	"sync"
	"time"
)

// Backoff computes how long an open breaker stays open before probing.
// attempt is the count of consecutive opens (1 for the first open).
type Backoff interface {
	Delay(attempt int) time.Duration
}

// NewBackoff builds a backoff strategy by name. Unknown names fall back to
// fixed. Every strategy is bounded by maxDelay.
func NewBackoff(name string, base, maxDelay time.Duration) Backoff {
	if base <= 0 {
		base = 30 * time.Second
	}
	if maxDelay <= 0 {
		maxDelay = 5 * time.Minute
	}
	switch strings.ToLower(name) {
	case "exponential":
		return &exponentialBackoff{base: base, max: maxDelay, factor: 2}
	case "linear":
		return &linearBackoff{base: base, max: maxDelay}
	case "jittered-exponential":
		return &jitteredBackoff{inner: &exponentialBackoff{base: base, max: maxDelay, factor: 2}, max: maxDelay}
	case "fibonacci":
		return &fibonacciBackoff{base: base, max: maxDelay}
	case "decorrelated-jitter":
		return newDecorrelated(base, maxDelay)
	default:
		return fixedBackoff{delay: base, max: maxDelay}
	}
}

type fixedBackoff struct {
	delay time.Duration
	max   time.Duration
}

func (b fixedBackoff) Delay(int) time.Duration {
	return capDelay(b.delay, b.max)
}

type exponentialBackoff struct {
	base   time.Duration
	max    time.Duration
	factor float64
}

func (b *exponentialBackoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(b.base)
	for i := 1; i < attempt; i++ {
		d *= b.factor
		if time.Duration(d) >= b.max {
			return b.max
		}
	}
	return capDelay(time.Duration(d), b.max)
}

type linearBackoff struct {
	base time.Duration
	max  time.Duration
}

func (b *linearBackoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return capDelay(time.Duration(attempt)*b.base, b.max)
}

type jitteredBackoff struct {
	inner Backoff
	max   time.Duration
	mu    sync.Mutex
	rng   *rand.Rand
}

func (b *jitteredBackoff) Delay(attempt int) time.Duration {
	d := b.inner.Delay(attempt)
	b.mu.Lock()
	if b.rng == nil {
		b.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	// Full jitter: uniform in [d/2, d].
	half := d / 2
	d = half + time.Duration(b.rng.Int63n(int64(half)+1))
	b.mu.Unlock()
	return capDelay(d, b.max)
}

type fibonacciBackoff struct {
	base time.Duration
	max  time.Duration
}

func (b *fibonacciBackoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	a, c := 1, 1
	for i := 3; i <= attempt; i++ {
		a, c = c, a+c
		if time.Duration(c)*b.base >= b.max {
			return b.max
		}
	}
	return capDelay(time.Duration(c)*b.base, b.max)
}

// decorrelatedBackoff implements the AWS "decorrelated jitter" strategy:
// sleep = min(max, rand(base, prev*3)).
type decorrelatedBackoff struct {
	base time.Duration
	max  time.Duration
	mu   sync.Mutex
	prev time.Duration
	rng  *rand.Rand
}

func newDecorrelated(base, maxDelay time.Duration) *decorrelatedBackoff {
	return &decorrelatedBackoff{
		base: base,
		max:  maxDelay,
		prev: base,
		rng:  rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (b *decorrelatedBackoff) Delay(attempt int) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if attempt <= 1 {
		b.prev = b.base
		return capDelay(b.base, b.max)
	}
	upper := int64(b.prev) * 3
	lower := int64(b.base)
	if upper <= lower {
		upper = lower + 1
	}
	d := time.Duration(lower + b.rng.Int63n(upper-lower))
	d = capDelay(d, b.max)
	b.prev = d
	return d
}

func capDelay(d, max time.Duration) time.Duration {
	if d > max {
		return max
	}
	return d
}
