// Package eventbus is the suite's in-process pub/sub: a ring buffer of
// recent events, glob-pattern subscriber channels, and a bounded HTTP
// webhook forwarder.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/modsuite/runtime/pkg/models"
)

// Subscription is a live glob-pattern subscriber. Delivery is unbounded: a
// slow consumer accumulates a growing in-memory backlog rather than losing
// events. Bounded, observable dropping is the forwarder's job alone
// (see drainSubscription in forwarder.go), not the bus's.
type Subscription struct {
	pattern string

	mu     sync.Mutex
	queue  []models.Event
	notify chan struct{}
	closed bool

	ch chan models.Event
}

func newSubscription(pattern string) *Subscription {
	sub := &Subscription{
		pattern: pattern,
		notify:  make(chan struct{}, 1),
		ch:      make(chan models.Event),
	}
	go sub.pump()
	return sub
}

// enqueue appends evt to the backlog and wakes the pump goroutine. Never
// blocks and never drops.
func (s *Subscription) enqueue(evt models.Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, evt)
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// pump drains the backlog into ch one event at a time, blocking on send
// only when the backlog is empty it waits on notify instead of spinning.
func (s *Subscription) pump() {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			if s.closed {
				s.mu.Unlock()
				close(s.ch)
				return
			}
			s.mu.Unlock()
			<-s.notify
			continue
		}
		evt := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()
		s.ch <- evt
	}
}

func (s *Subscription) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Chan returns the channel to receive matching events on.
func (s *Subscription) Chan() <-chan models.Event { return s.ch }

// Bus is the suite's event bus: a bounded ring buffer of recent events plus
// fan-out to pattern-matched subscribers.
type Bus struct {
	mu          sync.RWMutex
	recent      []models.Event
	maxRecent   int
	subscribers map[*Subscription]struct{}
	nextID      uint64
	log         zerolog.Logger
}

// New creates an event bus retaining up to maxRecent events for replay via
// Recent and context-graph assembly.
func New(maxRecent int, log zerolog.Logger) *Bus {
	return &Bus{
		recent:      make([]models.Event, 0, maxRecent),
		maxRecent:   maxRecent,
		subscribers: make(map[*Subscription]struct{}),
		log:         log,
	}
}

// Publish appends event to the ring buffer (assigning it an ID and
// timestamp if unset) and broadcasts it to every matching subscriber.
func (b *Bus) Publish(evt models.Event) models.Event {
	evt.ID = atomic.AddUint64(&b.nextID, 1)
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}

	b.mu.Lock()
	if len(b.recent) >= b.maxRecent {
		b.recent = b.recent[1:]
	}
	b.recent = append(b.recent, evt)

	for sub := range b.subscribers {
		if !matchGlob(sub.pattern, evt.Type) {
			continue
		}
		sub.enqueue(evt)
	}
	b.mu.Unlock()

	b.log.Debug().Str("type", evt.Type).Str("source", evt.Source).Uint64("id", evt.ID).Msg("event published")
	return evt
}

// Recent returns up to n of the most recently published events, oldest first.
func (b *Bus) Recent(n int) []models.Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	total := len(b.recent)
	if n <= 0 || n > total {
		n = total
	}
	start := total - n
	out := make([]models.Event, n)
	copy(out, b.recent[start:])
	return out
}

// Subscribe registers a glob pattern subscription (e.g. "module.*",
// "trouble.alert", "*"). Call Unsubscribe to release it.
func (b *Bus) Subscribe(pattern string) *Subscription {
	sub := newSubscription(pattern)
	b.mu.Lock()
	b.subscribers[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

// Unsubscribe removes a subscription and closes its channel once its
// backlog, if any, has drained.
func (b *Bus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	if _, ok := b.subscribers[sub]; ok {
		delete(b.subscribers, sub)
		sub.close()
	}
	b.mu.Unlock()
}

// matchGlob supports exactly one trailing "*" wildcard, so a subscription
// to "prefix.*" matches any event whose type starts with "prefix."
// (e.g. "module.*" matches "module.state_changed").
func matchGlob(pattern, typ string) bool {
	if pattern == "*" || pattern == typ {
		return true
	}
	if len(pattern) > 0 && pattern[len(pattern)-1] == '*' {
		prefix := pattern[:len(pattern)-1]
		return len(typ) >= len(prefix) && typ[:len(prefix)] == prefix
	}
	return false
}
