// Package core wires the browser pool, stores, proxies, and the action
// subsystem into the transport-agnostic control API.
package core

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Event topics published on the bus.
const (
	TopicSession = "session"
	TopicContext = "context"
	TopicPage    = "page"
	TopicPool    = "pool"
	TopicCircuit = "circuit"
	TopicProxy   = "proxy"
)

// BusEvent is one notification on a topic.
type BusEvent struct {
	Topic   string         `json:"topic"`
	Type    string         `json:"type"`
	Subject string         `json:"subject,omitempty"`
	Fields  map[string]any `json:"fields,omitempty"`
	At      time.Time      `json:"at"`
}

type subscriber struct {
	id     int
	topics map[string]bool
	ch     chan BusEvent
}

// Bus fans events out to topic subscribers. Delivery per subscriber is FIFO;
// a subscriber that falls behind loses the newest events rather than
// blocking publishers.
type Bus struct {
	mu      sync.Mutex
	nextID  int
	subs    map[int]*subscriber
	dropped int64
	closed  bool
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]*subscriber)}
}

// Subscribe registers for the topics (empty means all) and returns the event
// channel plus a cancel function.
func (b *Bus) Subscribe(topics []string, buffer int) (<-chan BusEvent, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	topicSet := make(map[string]bool, len(topics))
	for _, t := range topics {
		topicSet[t] = true
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		ch := make(chan BusEvent)
		close(ch)
		return ch, func() {}
	}
	b.nextID++
	sub := &subscriber{id: b.nextID, topics: topicSet, ch: make(chan BusEvent, buffer)}
	b.subs[sub.id] = sub

	return sub.ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if s, ok := b.subs[sub.id]; ok {
			delete(b.subs, sub.id)
			close(s.ch)
		}
	}
}

// Publish delivers the event to every matching subscriber.
func (b *Bus) Publish(ev BusEvent) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, sub := range b.subs {
		if len(sub.topics) > 0 && !sub.topics[ev.Topic] {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			b.dropped++
			if b.dropped%100 == 1 {
				log.Warn().
					Str("topic", ev.Topic).
					Int64("dropped", b.dropped).
					Msg("Slow event subscriber, dropping events")
			}
		}
	}
}

// Dropped returns how many events were discarded for slow subscribers.
func (b *Bus) Dropped() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Close tears down every subscription.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.ch)
	}
}
