package roles

import (
	"context"
	"sync"

	"github.com/google/uuid"

	emailpkg "vouch/pkg/email"
	"vouch/pkg/platform/sentinel"
)

type InMemoryStore struct {
	mu      sync.RWMutex
	byID    map[uuid.UUID]Principal
	byEmail map[string]uuid.UUID

	// failing simulates an unavailable backing store so fail-closed behavior
	// is testable.
	failing bool
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byID:    make(map[uuid.UUID]Principal),
		byEmail: make(map[string]uuid.UUID),
	}
}

// SetFailing toggles simulated store unavailability.
func (s *InMemoryStore) SetFailing(failing bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing = failing
}

func (s *InMemoryStore) FindByID(_ context.Context, id uuid.UUID) (Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.failing {
		return Principal{}, sentinel.ErrUnavailable
	}
	p, ok := s.byID[id]
	if !ok {
		return Principal{}, sentinel.ErrNotFound
	}
	return p, nil
}

func (s *InMemoryStore) FindByEmail(_ context.Context, email string) (Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.failing {
		return Principal{}, sentinel.ErrUnavailable
	}
	id, ok := s.byEmail[emailpkg.Normalize(email)]
	if !ok {
		return Principal{}, sentinel.ErrNotFound
	}
	return s.byID[id], nil
}

func (s *InMemoryStore) Save(_ context.Context, principal Principal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return sentinel.ErrUnavailable
	}
	principal.Email = emailpkg.Normalize(principal.Email)
	s.byID[principal.ID] = principal
	s.byEmail[principal.Email] = principal.ID
	return nil
}

func (s *InMemoryStore) UpdateRole(_ context.Context, id uuid.UUID, role Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return sentinel.ErrUnavailable
	}
	p, ok := s.byID[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	p.Role = role
	s.byID[id] = p
	return nil
}
