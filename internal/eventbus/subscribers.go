package eventbus

import "sync"

// subscription is one registered transport handler, keyed by a unique id so
// removal always drops exactly the handler it was issued for, no matter how
// many earlier subscribers for the same event were removed first.
type subscription struct {
	id      uint64
	handler func(payload []byte)
}

// subscriberSet is the per-transport registry of event handlers, shared by
// the Redis and SocketIO backends. Handlers for one event are kept in
// registration order.
type subscriberSet struct {
	mu   sync.Mutex
	next uint64
	subs map[string][]subscription
}

func newSubscriberSet() *subscriberSet {
	return &subscriberSet{subs: make(map[string][]subscription)}
}

// add registers handler under event and returns its remove function.
func (s *subscriberSet) add(event string, handler func(payload []byte)) (remove func()) {
	s.mu.Lock()
	s.next++
	id := s.next
	s.subs[event] = append(s.subs[event], subscription{id: id, handler: handler})
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		entries := s.subs[event]
		for i, entry := range entries {
			if entry.id == id {
				s.subs[event] = append(entries[:i], entries[i+1:]...)
				return
			}
		}
	}
}

// handlers returns a snapshot of event's handlers in registration order.
func (s *subscriberSet) handlers(event string) []func(payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.subs[event]
	out := make([]func([]byte), len(entries))
	for i, entry := range entries {
		out[i] = entry.handler
	}
	return out
}
