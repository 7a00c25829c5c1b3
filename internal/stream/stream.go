// Package stream fans registry lifecycle events out to subscribers
// (the SSE endpoint of the introspection API).
package stream

import (
	"context"
	"sync"
	"time"
)

// Event describes a policy or resource-type lifecycle transition.
type Event struct {
	Kind         string    `json:"kind"`
	PolicyID     string    `json:"policy_id,omitempty"`
	ResourceType string    `json:"resource_type,omitempty"`
	Priority     int       `json:"priority,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// Stream fan-outs events to all active subscribers. Slow subscribers drop
// events rather than block publishers.
type Stream struct {
	mu   sync.RWMutex
	subs map[int]chan Event
	next int
}

// New initialises an empty stream.
func New() *Stream {
	return &Stream{subs: make(map[int]chan Event)}
}

// Subscribe registers a subscriber and returns a channel which will receive
// events. The channel is closed when the provided context ends.
func (s *Stream) Subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event, 16)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Publish fan-outs the event to all subscribers, stamping the time when the
// caller left it zero.
func (s *Stream) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- evt:
		default:
		}
	}
}

// Subscribers returns the current subscriber count.
func (s *Stream) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}
