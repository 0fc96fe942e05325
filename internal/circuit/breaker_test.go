package circuit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/williamzujkowski/puppeteer-mcp-go/internal/types"
)

// fakeClock provides a controllable time source for breaker tests.
type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time             { return c.t }
func (c *fakeClock) Advance(d time.Duration)    { c.t = c.t.Add(d) }

func testConfig() Config {
	return Config{
		FailureThreshold:  5,
		SuccessThreshold:  2,
		Window:            60 * time.Second,
		Timeout:           30 * time.Second,
		MaxTimeout:        5 * time.Minute,
		MinimumThroughput: 3,
		Backoff:           "fixed",
		Detector:          "threshold",
		Enabled:           true,
	}
}

func TestBreakerStartsClosed(t *testing.T) {
	b := New("test", testConfig())
	if got := b.State(); got != Closed {
		t.Fatalf("expected closed, got %s", got)
	}
}

func TestBreakerOpensOnThreshold(t *testing.T) {
	clock := newFakeClock()
	b := New("test", testConfig())
	b.SetClock(clock.Now)

	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}
	if got := b.State(); got != Open {
		t.Fatalf("expected open after 5 failures, got %s", got)
	}
}

func TestBreakerRespectsMinimumThroughput(t *testing.T) {
	cfg := testConfig()
	cfg.FailureThreshold = 2
	cfg.MinimumThroughput = 5
	b := New("test", cfg)

	b.RecordFailure()
	b.RecordFailure()

	// Two requests in window, below the minimum throughput of 5.
	if got := b.State(); got != Closed {
		t.Fatalf("expected closed below minimum throughput, got %s", got)
	}
}

func TestBreakerFailsFastWhenOpen(t *testing.T) {
	clock := newFakeClock()
	b := New("test", testConfig())
	b.SetClock(clock.Now)

	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}

	invoked := false
	err := b.Execute(context.Background(), func(context.Context) error {
		invoked = true
		return nil
	})
	if !errors.Is(err, types.ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if invoked {
		t.Fatal("operation must not be invoked while open")
	}
}

func TestBreakerHalfOpenAfterTimeout(t *testing.T) {
	clock := newFakeClock()
	b := New("test", testConfig())
	b.SetClock(clock.Now)

	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}
	if b.State() != Open {
		t.Fatal("expected open")
	}

	clock.Advance(31 * time.Second)
	if got := b.State(); got != HalfOpen {
		t.Fatalf("expected half-open after timeout, got %s", got)
	}
}

func TestBreakerClosesAfterHalfOpenSuccesses(t *testing.T) {
	clock := newFakeClock()
	b := New("test", testConfig())
	b.SetClock(clock.Now)

	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}
	clock.Advance(31 * time.Second)
	if b.State() != HalfOpen {
		t.Fatal("expected half-open")
	}

	b.RecordSuccess()
	b.RecordSuccess()
	if got := b.State(); got != Closed {
		t.Fatalf("expected closed after success threshold, got %s", got)
	}
}

func TestBreakerReopensOnHalfOpenFailure(t *testing.T) {
	clock := newFakeClock()
	b := New("test", testConfig())
	b.SetClock(clock.Now)

	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}
	clock.Advance(31 * time.Second)
	if b.State() != HalfOpen {
		t.Fatal("expected half-open")
	}

	b.RecordFailure()
	if got := b.State(); got != Open {
		t.Fatalf("expected open after half-open failure, got %s", got)
	}
}

func TestBreakerWindowExpiry(t *testing.T) {
	clock := newFakeClock()
	b := New("test", testConfig())
	b.SetClock(clock.Now)

	// Four failures, then wait out the window before the fifth.
	for i := 0; i < 4; i++ {
		b.RecordFailure()
	}
	clock.Advance(61 * time.Second)
	b.RecordFailure()

	if got := b.State(); got != Closed {
		t.Fatalf("expected closed, stale failures must not count, got %s", got)
	}
}

func TestBreakerReset(t *testing.T) {
	clock := newFakeClock()
	b := New("test", testConfig())
	b.SetClock(clock.Now)

	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}
	if b.State() != Open {
		t.Fatal("expected open")
	}

	b.Reset()
	if got := b.State(); got != Closed {
		t.Fatalf("expected closed after reset, got %s", got)
	}
	if s := b.Stats(); s.Failures != 0 || s.Requests != 0 {
		t.Fatalf("expected cleared windows, got %+v", s)
	}
}

func TestBreakerDisabledPassesThrough(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false
	b := New("test", cfg)

	for i := 0; i < 10; i++ {
		b.RecordFailure()
	}
	err := b.Execute(context.Background(), func(context.Context) error { return nil })
	if err != nil {
		t.Fatalf("disabled breaker must pass through, got %v", err)
	}
}

func TestPercentageDetector(t *testing.T) {
	cfg := testConfig()
	cfg.Detector = "percentage"
	cfg.FailureThreshold = 50 // 50%
	cfg.MinimumThroughput = 4
	b := New("test", cfg)

	b.RecordSuccess()
	b.RecordSuccess()
	b.RecordFailure()
	if b.State() != Closed {
		t.Fatal("25% failure rate must not trip a 50% detector")
	}
	b.RecordFailure()
	b.RecordFailure()
	if got := b.State(); got != Open {
		t.Fatalf("expected open at >=50%% failures, got %s", got)
	}
}

func TestConsecutiveDetector(t *testing.T) {
	cfg := testConfig()
	cfg.Detector = "consecutive"
	cfg.FailureThreshold = 3
	cfg.MinimumThroughput = 1
	clock := newFakeClock()
	b := New("test", cfg)
	b.SetClock(clock.Now)

	b.RecordFailure()
	clock.Advance(time.Second)
	b.RecordFailure()
	clock.Advance(time.Second)
	b.RecordSuccess()
	clock.Advance(time.Second)
	b.RecordFailure()
	if b.State() != Closed {
		t.Fatal("success must break the failure streak")
	}

	clock.Advance(time.Second)
	b.RecordFailure()
	clock.Advance(time.Second)
	b.RecordFailure()
	if got := b.State(); got != Open {
		t.Fatalf("expected open after 3 consecutive failures, got %s", got)
	}
}

func TestBackoffStrategies(t *testing.T) {
	base := 10 * time.Second
	max := 2 * time.Minute

	tests := []struct {
		name    string
		attempt int
		want    time.Duration
	}{
		{"fixed", 3, 10 * time.Second},
		{"exponential", 1, 10 * time.Second},
		{"exponential", 3, 40 * time.Second},
		{"exponential", 10, 2 * time.Minute}, // capped
		{"linear", 3, 30 * time.Second},
		{"fibonacci", 1, 10 * time.Second},
		{"fibonacci", 5, 50 * time.Second},
	}
	for _, tt := range tests {
		b := NewBackoff(tt.name, base, max)
		if got := b.Delay(tt.attempt); got != tt.want {
			t.Errorf("%s attempt %d: got %v, want %v", tt.name, tt.attempt, got, tt.want)
		}
	}
}

func TestJitteredBackoffBounds(t *testing.T) {
	b := NewBackoff("jittered-exponential", 10*time.Second, 2*time.Minute)
	for i := 0; i < 50; i++ {
		d := b.Delay(2)
		if d < 10*time.Second || d > 20*time.Second {
			t.Fatalf("jittered delay %v out of [10s, 20s]", d)
		}
	}
}

func TestDecorrelatedJitterBounds(t *testing.T) {
	b := NewBackoff("decorrelated-jitter", time.Second, 10*time.Second)
	for attempt := 1; attempt < 20; attempt++ {
		d := b.Delay(attempt)
		if d < time.Second || d > 10*time.Second {
			t.Fatalf("decorrelated delay %v out of [1s, 10s]", d)
		}
	}
}

func TestRegistryCreatesAndReuses(t *testing.T) {
	r := NewRegistry(8, testConfig())
	a := r.Get("pool")
	b := r.Get("pool")
	if a != b {
		t.Fatal("registry must return the same breaker for the same name")
	}
}

func TestRegistryEvictsLRU(t *testing.T) {
	r := NewRegistry(2, testConfig())
	first := r.Get("a")
	r.Get("b")
	r.Get("c") // evicts "a"

	if again := r.Get("a"); again == first {
		t.Fatal("evicted breaker must be recreated, not reused")
	}
}

func TestRegistryOpenNames(t *testing.T) {
	r := NewRegistry(8, testConfig())
	b := r.Get("pool")
	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}
	open := r.Open()
	if len(open) != 1 || open[0] != "pool" {
		t.Fatalf("expected [pool], got %v", open)
	}
}
