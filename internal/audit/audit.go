// Package audit emits structured security events. The core raises events for
// action failures, retries, and security violations; deployments wire the sink
// into their log pipeline.
package audit

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Event types emitted by the action subsystem.
const (
	EventActionFailed      = "action_failed"
	EventActionRetry       = "action_retry"
	EventRetrySuccess      = "_retry_success"
	EventSecurityViolation = "security_violation"
	EventValidationFailed  = "validation_failed"
)

// Sink receives structured audit events.
type Sink interface {
	Emit(eventType string, fields map[string]any)
}

// Logger writes audit events through zerolog at warn level so they survive
// production log filtering.
type Logger struct {
	log zerolog.Logger
}

// NewLogger returns a sink writing to the global zerolog logger.
func NewLogger() *Logger {
	return &Logger{log: log.With().Str("component", "audit").Logger()}
}

func (l *Logger) Emit(eventType string, fields map[string]any) {
	ev := l.log.Warn().Str("event", eventType).Time("at", time.Now())
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	ev.Msg("Security audit event")
}

// Recorded is one captured event.
type Recorded struct {
	Type   string
	Fields map[string]any
	At     time.Time
}

// Recorder is an in-memory sink for tests.
type Recorder struct {
	mu     sync.Mutex
	events []Recorded
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Emit(eventType string, fields map[string]any) {
	copied := make(map[string]any, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	r.mu.Lock()
	r.events = append(r.events, Recorded{Type: eventType, Fields: copied, At: time.Now()})
	r.mu.Unlock()
}

// Events returns the captured events in emission order.
func (r *Recorder) Events() []Recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Recorded, len(r.events))
	copy(out, r.events)
	return out
}

// ByType returns captured events matching the type.
func (r *Recorder) ByType(eventType string) []Recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Recorded
	for _, ev := range r.events {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

// Fanout forwards each event to every sink.
type Fanout []Sink

func (f Fanout) Emit(eventType string, fields map[string]any) {
	for _, s := range f {
		s.Emit(eventType, fields)
	}
}
