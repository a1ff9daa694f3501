// Package pubsub holds weakly referenced subscriber sets. A subscriber that is
// no longer referenced elsewhere is dropped on the next notification.
package pubsub

import (
	"sync"
	"weak"
)

// Subscriber receives messages from a publisher.
type Subscriber interface {
	Notify(publisher any, message any)
}

// Set is a weakly referenced set of subscribers. The zero value is ready to use.
type Set struct {
	mu      sync.Mutex
	entries map[any]func() Subscriber
}

// Add subscribes sub. Adding the same subscriber twice is a no-op.
func Add[T any, P interface {
	*T
	Subscriber
}](s *Set, sub P) {
	ref := weak.Make((*T)(sub))
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entries == nil {
		s.entries = make(map[any]func() Subscriber)
	}
	if _, ok := s.entries[ref]; ok {
		return
	}
	s.entries[ref] = func() Subscriber {
		if v := ref.Value(); v != nil {
			return P(v)
		}
		return nil
	}
}

// Remove unsubscribes sub.
func Remove[T any, P interface {
	*T
	Subscriber
}](s *Set, sub P) {
	ref := weak.Make((*T)(sub))
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, ref)
}

// Notify delivers message to every live subscriber. Delivery happens outside
// the set's lock, so subscribers may add or remove themselves.
func (s *Set) Notify(publisher any, message any) {
	for _, sub := range s.live() {
		sub.Notify(publisher, message)
	}
}

// Len returns the number of live subscribers.
func (s *Set) Len() int {
	return len(s.live())
}

func (s *Set) live() []Subscriber {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Subscriber, 0, len(s.entries))
	for ref, get := range s.entries {
		sub := get()
		if sub == nil {
			delete(s.entries, ref)
			continue
		}
		out = append(out, sub)
	}
	return out
}
