package browser

import (
	"sync"
	"time"
)

// Instance states.
const (
	StateIdle      = "idle"
	StateInUse     = "in-use"
	StateUnhealthy = "unhealthy"
	StateDraining  = "draining"
	StateClosed    = "closed"
)

// Instance tracks one pooled browser process and its lease.
//
// The pool's mutex orders access across instances; the instance mutex guards
// only its own fields so health checks can update scores without holding the
// pool lock.
type Instance struct {
	ID      string
	Browser Browser

	mu                  sync.Mutex
	state               string
	acquiredBy          string
	pid                 int
	createdAt           time.Time
	lastUsedAt          time.Time
	useCount            int64
	pageCount           int
	healthScore         float64
	consecutiveFailures int
	recycleMark         string // non-empty when marked for recycling
	lastRecycleAt       time.Time
}

func newInstance(id string, b Browser) *Instance {
	now := time.Now()
	return &Instance{
		ID:          id,
		Browser:     b,
		state:       StateIdle,
		pid:         b.PID(),
		createdAt:   now,
		lastUsedAt:  now,
		healthScore: 1.0,
	}
}

// InstanceSnapshot is a point-in-time copy for reporting.
type InstanceSnapshot struct {
	ID                  string    `json:"id"`
	PID                 int       `json:"pid"`
	State               string    `json:"state"`
	AcquiredBy          string    `json:"acquiredBy,omitempty"`
	CreatedAt           time.Time `json:"createdAt"`
	LastUsedAt          time.Time `json:"lastUsedAt"`
	UseCount            int64     `json:"useCount"`
	PageCount           int       `json:"pageCount"`
	HealthScore         float64   `json:"healthScore"`
	ConsecutiveFailures int       `json:"consecutiveFailures"`
	RecycleMark         string    `json:"recycleMark,omitempty"`
}

func (i *Instance) Snapshot() InstanceSnapshot {
	i.mu.Lock()
	defer i.mu.Unlock()
	return InstanceSnapshot{
		ID:                  i.ID,
		PID:                 i.pid,
		State:               i.state,
		AcquiredBy:          i.acquiredBy,
		CreatedAt:           i.createdAt,
		LastUsedAt:          i.lastUsedAt,
		UseCount:            i.useCount,
		PageCount:           i.pageCount,
		HealthScore:         i.healthScore,
		ConsecutiveFailures: i.consecutiveFailures,
		RecycleMark:         i.recycleMark,
	}
}

func (i *Instance) State() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state
}

// lease marks the instance in-use by sessionID. Returns false when the
// instance is not leasable.
func (i *Instance) lease(sessionID string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.state != StateIdle {
		return false
	}
	i.state = StateInUse
	i.acquiredBy = sessionID
	i.useCount++
	i.lastUsedAt = time.Now()
	return true
}

// unlease returns the instance to idle. Reports whether the release matched
// the active lease; a released or idle instance reports matched=false with
// alreadyIdle=true for idempotent releases.
func (i *Instance) unlease(sessionID string) (matched, alreadyIdle bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.state != StateInUse {
		return false, true
	}
	if i.acquiredBy != sessionID {
		return false, false
	}
	i.state = StateIdle
	i.acquiredBy = ""
	i.lastUsedAt = time.Now()
	return true, false
}

// recordHealth folds one health probe into the score. The score is an EWMA so
// one flaky probe does not condemn a browser.
func (i *Instance) recordHealth(ok bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	sample := 0.0
	if ok {
		sample = 1.0
		i.consecutiveFailures = 0
	} else {
		i.consecutiveFailures++
	}
	i.healthScore = 0.7*i.healthScore + 0.3*sample
}

func (i *Instance) recordFailure() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.consecutiveFailures++
	i.healthScore *= 0.7
}

func (i *Instance) setState(s string) {
	i.mu.Lock()
	i.state = s
	i.mu.Unlock()
}

func (i *Instance) addPages(delta int) {
	i.mu.Lock()
	i.pageCount += delta
	if i.pageCount < 0 {
		i.pageCount = 0
	}
	i.mu.Unlock()
}
