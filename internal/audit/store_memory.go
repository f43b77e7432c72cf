package audit

import (
	"context"
	"sync"
)

// InMemoryStore keeps events in append order. The primary use is tests, where
// "assert exactly one entry of type X" is the common assertion.
type InMemoryStore struct {
	mu       sync.RWMutex
	events   []Event
	mirrored map[string]bool
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{mirrored: make(map[string]bool)}
}

func (s *InMemoryStore) Append(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *InMemoryStore) ListByActor(_ context.Context, actorID string, limit int) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Event
	for _, e := range s.events {
		if e.ActorID == actorID {
			out = append(out, e)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *InMemoryStore) ListRecent(_ context.Context, limit int) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	start := 0
	if limit > 0 && len(s.events) > limit {
		start = len(s.events) - limit
	}
	return append([]Event{}, s.events[start:]...), nil
}

// ByAction returns every appended event with the given action, for tests.
func (s *InMemoryStore) ByAction(action Action) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Event
	for _, e := range s.events {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

func (s *InMemoryStore) NextUnmirrored(_ context.Context, limit int) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Event
	for _, e := range s.events {
		if !s.mirrored[e.ID] {
			out = append(out, e)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *InMemoryStore) MarkMirrored(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		s.mirrored[id] = true
	}
	return nil
}
